package cellz

import (
	"context"
	"time"

	"github.com/zoobzio/capitan"
)

// subscription is the sending half of one subscriber's delivery
// channel. The receiving half is owned by the subscriber; done is how
// the subscriber signals it has gone away.
type subscription[T any] struct {
	ch      chan Change[T]
	done    <-chan struct{}
	policy  DeliveryPolicy
	timeout time.Duration
}

// subscribeConfig holds per-subscription options.
type subscribeConfig struct {
	policy  DeliveryPolicy
	timeout time.Duration
}

// SubscribeOption configures a single subscription.
type SubscribeOption func(*subscribeConfig)

// WithPolicy sets the subscription's delivery policy. The default,
// DeliverBlock, suspends the mutator when the channel is full and
// guarantees no event is dropped. DeliverDropNewest and
// DeliverDropOldest trade that guarantee for a mutator that never
// blocks on this subscriber.
func WithPolicy(p DeliveryPolicy) SubscribeOption {
	return func(c *subscribeConfig) {
		c.policy = p
	}
}

// WithSendTimeout bounds how long a blocking delivery may suspend the
// mutator on this subscription. When the timeout elapses the event is
// dropped for this subscriber only; the subscription stays registered.
// Only meaningful with DeliverBlock.
func WithSendTimeout(d time.Duration) SubscribeOption {
	return func(c *subscribeConfig) {
		c.timeout = d
	}
}

// publish fans one change out to every live subscription, pruning those
// whose subscriber has gone away. Pruning on a failed delivery is the
// sole removal path; there is no explicit unsubscribe. Caller holds
// c.mu.
func (c *Cell[T]) publish(ev Change[T]) {
	kept := c.subs[:0]
	for _, s := range c.subs {
		if c.deliver(s, ev) {
			kept = append(kept, s)
			continue
		}
		close(s.ch)
		capitan.Emit(context.Background(), CellSubscriberDropped,
			KeyCapacity.Field(cap(s.ch)),
		)
		if c.metrics != nil {
			c.metrics.OnSubscriberDropped()
		}
	}
	// Clear the tail so pruned subscriptions can be collected.
	for i := len(kept); i < len(c.subs); i++ {
		c.subs[i] = nil
	}
	c.subs = kept
}

// deliver attempts to enqueue ev for one subscriber. It reports false
// when the subscriber has gone away, which tells publish to prune the
// subscription.
func (c *Cell[T]) deliver(s *subscription[T], ev Change[T]) bool {
	// A subscriber that already left must be pruned, not delivered to,
	// even when its queue has room.
	select {
	case <-s.done:
		return false
	default:
	}

	// Fast path: room in the queue, or a receiver already waiting at
	// the rendezvous for capacity-zero channels.
	select {
	case s.ch <- ev:
		return true
	case <-s.done:
		return false
	default:
	}

	switch s.policy {
	case DeliverDropNewest:
		c.eventDropped(s)
		return true

	case DeliverDropOldest:
		// A zero-capacity channel has no head to evict; with no receiver
		// at the rendezvous the only non-blocking outcome is a drop.
		if cap(s.ch) == 0 {
			c.eventDropped(s)
			return true
		}
		for {
			select {
			case s.ch <- ev:
				return true
			case <-s.done:
				return false
			default:
			}
			// Evict the head to make room. The subscriber may race us
			// and drain it first; the outer loop retries either way.
			select {
			case <-s.ch:
				c.eventDropped(s)
			default:
			}
		}
	}

	// Backpressure: suspend the mutator until the subscriber drains,
	// leaves, or the optional send timeout fires.
	blockedAt := c.clock.Now()
	capitan.Emit(context.Background(), CellDeliveryBlocked,
		KeyCapacity.Field(cap(s.ch)),
	)

	if s.timeout > 0 {
		timer := c.clock.NewTimer(s.timeout)
		defer timer.Stop()
		select {
		case s.ch <- ev:
			if c.metrics != nil {
				c.metrics.OnDeliveryBlocked(c.clock.Since(blockedAt))
			}
			return true
		case <-timer.C():
			c.eventDropped(s)
			return true
		case <-s.done:
			return false
		}
	}

	select {
	case s.ch <- ev:
		if c.metrics != nil {
			c.metrics.OnDeliveryBlocked(c.clock.Since(blockedAt))
		}
		return true
	case <-s.done:
		return false
	}
}

// eventDropped records a best-effort drop for one subscriber.
func (c *Cell[T]) eventDropped(s *subscription[T]) {
	capitan.Emit(context.Background(), CellEventDropped,
		KeyPolicy.Field(s.policy.String()),
	)
	if c.metrics != nil {
		c.metrics.OnEventDropped()
	}
}
