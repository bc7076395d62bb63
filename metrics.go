package cellz

import "time"

// MetricsProvider allows integration with metrics systems like Prometheus, StatsD, etc.
// Implement this interface to receive callbacks on key cell and charger events.
type MetricsProvider interface {
	// OnModify is called when a mutation commits.
	// Duration covers the transform plus the fan-out, including any
	// time spent suspended on full subscriber channels.
	OnModify(duration time.Duration)

	// OnSubscribe is called when a subscription is registered.
	OnSubscribe()

	// OnSubscriberDropped is called when a subscription is pruned
	// because its subscriber went away.
	OnSubscriberDropped()

	// OnDeliveryBlocked is called when a blocked delivery eventually
	// completes. Duration is the time the mutator spent suspended.
	OnDeliveryBlocked(duration time.Duration)

	// OnEventDropped is called when a best-effort subscription
	// discards an event.
	OnEventDropped()

	// OnStateChange is called when a charger transitions between states.
	OnStateChange(from, to State)

	// OnApplySuccess is called when a charger applies a source change
	// to its cell. Duration is the time taken to decode, validate, and
	// apply.
	OnApplySuccess(duration time.Duration)

	// OnApplyFailure is called when charger processing fails.
	// Stage indicates where: "decode", "validate", or "apply".
	OnApplyFailure(stage string, duration time.Duration)

	// OnChangeReceived is called when raw data arrives from a watcher.
	OnChangeReceived()
}

// NoOpMetricsProvider is a no-op implementation of MetricsProvider.
// Use this as an embedded type to implement only the methods you need.
type NoOpMetricsProvider struct{}

func (NoOpMetricsProvider) OnModify(_ time.Duration)                 {}
func (NoOpMetricsProvider) OnSubscribe()                             {}
func (NoOpMetricsProvider) OnSubscriberDropped()                     {}
func (NoOpMetricsProvider) OnDeliveryBlocked(_ time.Duration)        {}
func (NoOpMetricsProvider) OnEventDropped()                          {}
func (NoOpMetricsProvider) OnStateChange(_, _ State)                 {}
func (NoOpMetricsProvider) OnApplySuccess(_ time.Duration)           {}
func (NoOpMetricsProvider) OnApplyFailure(_ string, _ time.Duration) {}
func (NoOpMetricsProvider) OnChangeReceived()                        {}
