package cellz

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// ErrCellClosed is returned by Modify after the cell has been closed.
var ErrCellClosed = errors.New("cell is closed")

// ErrReentrantModify is returned when Modify is invoked from within a
// transform already running on the same cell. Allowing the call to
// proceed would deadlock on the cell's lock.
var ErrReentrantModify = errors.New("reentrant Modify on the same cell")

// Cell owns a single value and broadcasts every committed mutation to
// its subscribers as a Change. Reads return snapshots, mutation goes
// through Modify, and subscription channels apply per-subscriber
// backpressure to the mutator.
//
// A single exclusive lock covers the value and the subscriber set, so
// the event emitted by a mutation reflects the exact value transition
// and reaches exactly the subscribers live at that instant. A
// subscription added after Modify returns never receives that
// mutation's event.
type Cell[T any] struct {
	mu     sync.Mutex
	value  T
	subs   []*subscription[T]
	closed bool

	clone   func(T) T
	clock   clockz.Clock
	metrics MetricsProvider

	// owner is the id of the goroutine currently inside Modify,
	// zero when no mutation is in flight.
	owner atomic.Int64
}

// cellConfig holds construction options for a Cell.
type cellConfig[T any] struct {
	clone   func(T) T
	clock   clockz.Clock
	metrics MetricsProvider
}

// CellOption configures a Cell at construction.
type CellOption[T any] func(*cellConfig[T])

// WithClone sets the clone function used to snapshot the value for
// reads and change events. Without it, snapshots are plain value
// copies, which is correct for value types but shares underlying
// storage for types holding pointers, slices, or maps. Supply a deep
// clone for those.
func WithClone[T any](fn func(T) T) CellOption[T] {
	return func(c *cellConfig[T]) {
		c.clone = fn
	}
}

// WithClock sets a custom clock for time operations.
// Use this with clockz.FakeClock for deterministic send-timeout testing.
func WithClock[T any](clock clockz.Clock) CellOption[T] {
	return func(c *cellConfig[T]) {
		c.clock = clock
	}
}

// WithMetrics sets a metrics provider for observability integration.
// The provider receives callbacks on mutations, subscriptions, and
// delivery events.
func WithMetrics[T any](provider MetricsProvider) CellOption[T] {
	return func(c *cellConfig[T]) {
		c.metrics = provider
	}
}

// New creates a Cell owning the given initial value.
//
// Example:
//
//	cell := cellz.New(Config{Port: 8080})
//	ch := cell.Changes(ctx, 4)
//	_ = cell.Modify(func(c *Config) { c.Port = 9090 })
func New[T any](initial T, opts ...CellOption[T]) *Cell[T] {
	cfg := &cellConfig[T]{
		clock: clockz.RealClock,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Cell[T]{
		value:   initial,
		clone:   cfg.clone,
		clock:   cfg.clock,
		metrics: cfg.metrics,
	}
}

// Value returns a snapshot of the current value. Two calls with no
// intervening Modify return equal values.
//
// Value must not be called from within a transform on the same cell;
// doing so panics instead of deadlocking.
func (c *Cell[T]) Value() T {
	if c.owner.Load() == goroutineID() {
		panic("cellz: Value called from within Modify on the same cell")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// Modify applies transform to the value under the cell's lock, then
// broadcasts the (old, new) snapshot pair to every live subscriber.
// The transform runs synchronously to completion before Modify returns.
//
// Modify blocks while any blocking-policy subscriber's channel is full,
// resuming once that subscriber drains or leaves.
//
// If the transform panics, the panic propagates to the caller, no event
// is emitted, and the value is left as the transform left it. Callers
// needing atomicity should build the replacement value first and assign
// it as the final statement of the transform.
//
// Modify returns ErrReentrantModify when called from within a transform
// already running on the same cell, and ErrCellClosed after Close.
func (c *Cell[T]) Modify(transform func(*T)) error {
	gid := goroutineID()
	if c.owner.Load() == gid {
		return ErrReentrantModify
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrCellClosed
	}
	c.owner.Store(gid)
	defer func() {
		c.owner.Store(0)
		c.mu.Unlock()
	}()

	start := c.clock.Now()
	old := c.snapshot()
	transform(&c.value)
	c.publish(Change[T]{Old: old, New: c.snapshot()})

	capitan.Emit(context.Background(), CellModified,
		KeySubscribers.Field(len(c.subs)),
	)
	if c.metrics != nil {
		c.metrics.OnModify(c.clock.Since(start))
	}
	return nil
}

// Changes registers a new subscription and returns its receive channel.
// The channel emits one Change per mutation committed after
// registration, in mutation order, with no gaps and no duplicates.
//
// capacity is the channel's buffer size. Zero is legal and means every
// delivery must rendezvous with a pending receive. Negative values are
// treated as zero.
//
// The subscriber leaves by canceling ctx. Cancellation unblocks a
// mutator suspended on this subscription; the cell closes the channel
// and removes the subscription on the next delivery attempt. The
// channel is also closed, cleanly terminating the sequence, when the
// cell itself is closed.
//
// On an already-closed cell, Changes returns a closed channel.
func (c *Cell[T]) Changes(ctx context.Context, capacity int, opts ...SubscribeOption) <-chan Change[T] {
	if c.owner.Load() == goroutineID() {
		panic("cellz: Changes called from within Modify on the same cell")
	}
	if capacity < 0 {
		capacity = 0
	}

	cfg := subscribeConfig{policy: DeliverBlock}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &subscription[T]{
		ch:      make(chan Change[T], capacity),
		done:    ctx.Done(),
		policy:  cfg.policy,
		timeout: cfg.timeout,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		close(s.ch)
		return s.ch
	}
	c.subs = append(c.subs, s)

	capitan.Emit(ctx, CellSubscribed,
		KeyCapacity.Field(capacity),
		KeyPolicy.Field(cfg.policy.String()),
		KeySubscribers.Field(len(c.subs)),
	)
	if c.metrics != nil {
		c.metrics.OnSubscribe()
	}
	return s.ch
}

// Subscribers returns the number of live subscriptions. Subscriptions
// whose context was canceled still count until the next delivery
// attempt prunes them.
//
// Subscribers must not be called from within a transform on the same
// cell; doing so panics instead of deadlocking.
func (c *Cell[T]) Subscribers() int {
	if c.owner.Load() == goroutineID() {
		panic("cellz: Subscribers called from within Modify on the same cell")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Closed reports whether the cell has been closed.
//
// Closed must not be called from within a transform on the same cell;
// doing so panics instead of deadlocking.
func (c *Cell[T]) Closed() bool {
	if c.owner.Load() == goroutineID() {
		panic("cellz: Closed called from within Modify on the same cell")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close tears the cell down: every subscription channel is closed so
// subscriber ranges terminate after draining anything still queued, and
// subsequent Modify calls return ErrCellClosed. The last value remains
// readable through Value. Close is idempotent.
func (c *Cell[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	for _, s := range c.subs {
		close(s.ch)
	}
	c.subs = nil

	capitan.Emit(context.Background(), CellClosed)
}

// snapshot copies the current value. Caller holds c.mu.
func (c *Cell[T]) snapshot() T {
	if c.clone != nil {
		return c.clone(c.value)
	}
	return c.value
}
