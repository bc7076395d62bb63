package cellz

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/pipz"
)

// DefaultDebounce is the default debounce duration for charger change
// processing.
const DefaultDebounce = 100 * time.Millisecond

// applyID names the terminal pipeline stage that writes into the cell.
const applyID = pipz.Name("apply")

// Validator is implemented by value types that validate themselves.
type Validator interface {
	Validate() error
}

// validate is the shared struct-tag validator instance.
var validate = validator.New()

// validateValue checks a decoded value before it reaches the cell.
// Types implementing Validator are asked directly; plain structs fall
// back to go-playground/validator tags; anything else passes.
func validateValue(v any) error {
	if vv, ok := v.(Validator); ok {
		return vv.Validate()
	}
	if reflect.ValueOf(v).Kind() == reflect.Struct {
		return validate.Struct(v)
	}
	return nil
}

// Charger binds a Cell to an external source. It watches the source
// for raw bytes, decodes and validates each change, and applies it into
// the cell, where subscribers observe it as an ordinary (old, new)
// change event. On failure the cell keeps its previous value and the
// Charger degrades while continuing to watch.
type Charger[T any] struct {
	watcher        Watcher
	cell           *Cell[T]
	pipeline       pipz.Chainable[*Update[T]]
	debounce       time.Duration
	startupTimeout time.Duration
	syncMode       bool
	clock          clockz.Clock
	codec          Codec
	metrics        MetricsProvider
	onStop         func(State)

	state        atomic.Int32
	lastError    atomic.Pointer[error]
	errorHistory *errorRing

	mu      sync.Mutex
	started bool

	// For sync mode: channel to receive changes
	changes <-chan []byte
}

// NewCharger creates a Charger that feeds source changes into cell.
//
// The watcher emits raw bytes when the source changes. Bytes are
// decoded to type T using the configured codec and validated (via T's
// Validate method if implemented, otherwise struct tags). On success
// the value is applied into the cell with Modify, so every subscriber
// of the cell receives the transition as a Change.
//
// Pipeline options (With*) wrap the apply step. Instance configuration
// uses chainable methods before calling Start().
//
// Example:
//
//	charger := cellz.NewCharger(
//	    cellz.NewFileWatcher("config.json"),
//	    cell,
//	    cellz.WithRetry[Config](3),
//	).Debounce(200 * time.Millisecond)
func NewCharger[T any](watcher Watcher, cell *Cell[T], opts ...Option[T]) *Charger[T] {
	terminal := pipz.Effect(applyID, func(_ context.Context, u *Update[T]) error {
		return cell.Modify(func(v *T) {
			*v = u.Current
		})
	})
	pipeline := buildPipeline(terminal, opts)

	c := &Charger[T]{
		watcher:      watcher,
		cell:         cell,
		pipeline:     pipeline,
		debounce:     DefaultDebounce,
		clock:        clockz.RealClock,
		codec:        JSONCodec{},
		errorHistory: newErrorRing(0),
	}
	c.state.Store(int32(StateLoading))

	return c
}

// Debounce sets the debounce duration for change processing.
// Changes arriving within this duration are coalesced into a single
// update. Default: 100ms. Must be called before Start().
func (c *Charger[T]) Debounce(d time.Duration) *Charger[T] {
	c.debounce = d
	return c
}

// SyncMode enables synchronous processing for testing.
// In sync mode, changes are processed immediately without debouncing
// or async goroutines, making tests deterministic. Must be called
// before Start().
func (c *Charger[T]) SyncMode() *Charger[T] {
	c.syncMode = true
	return c
}

// Clock sets a custom clock for time operations.
// Use this with clockz.FakeClock for deterministic debounce testing.
// Must be called before Start().
func (c *Charger[T]) Clock(clock clockz.Clock) *Charger[T] {
	c.clock = clock
	return c
}

// WithCodec sets the codec for deserializing source data.
// Default: JSONCodec. Must be called before Start().
func (c *Charger[T]) WithCodec(codec Codec) *Charger[T] {
	c.codec = codec
	return c
}

// StartupTimeout sets the maximum duration to wait for the initial
// value from the watcher. If the watcher fails to emit within this
// duration, Start() returns an error.
// Default: no timeout (wait indefinitely). Must be called before Start().
func (c *Charger[T]) StartupTimeout(d time.Duration) *Charger[T] {
	c.startupTimeout = d
	return c
}

// Metrics sets a metrics provider for observability integration.
// Must be called before Start().
func (c *Charger[T]) Metrics(provider MetricsProvider) *Charger[T] {
	c.metrics = provider
	return c
}

// OnStop sets a callback invoked when the charger stops watching. The
// callback receives the final state. Must be called before Start().
func (c *Charger[T]) OnStop(fn func(State)) *Charger[T] {
	c.onStop = fn
	return c
}

// ErrorHistorySize sets the number of recent errors to retain.
// When set, ErrorHistory() returns up to this many recent errors.
// Use 0 (default) to only retain the most recent error via LastError().
// Must be called before Start().
func (c *Charger[T]) ErrorHistorySize(n int) *Charger[T] {
	c.errorHistory = newErrorRing(n)
	return c
}

// State returns the current state of the Charger.
func (c *Charger[T]) State() State {
	return State(c.state.Load())
}

// LastError returns the last error encountered, or nil if no error occurred.
func (c *Charger[T]) LastError() error {
	ptr := c.lastError.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

// ErrorHistory returns the recent error history, oldest first.
// Returns nil if error history is not enabled (see ErrorHistorySize).
func (c *Charger[T]) ErrorHistory() []error {
	return c.errorHistory.all()
}

// Start begins watching for changes. It blocks until the first source
// value is processed (success or failure), then continues watching
// asynchronously.
//
// If the initial value fails, Start returns the error but continues
// watching in the background for valid updates.
//
// In sync mode, Start only processes the initial value. Use Process()
// to manually trigger processing of subsequent values.
//
// Start can only be called once. Subsequent calls return an error.
func (c *Charger[T]) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("charger already started")
	}
	c.started = true
	c.mu.Unlock()

	capitan.Emit(ctx, ChargerStarted,
		KeyDebounce.Field(c.debounce),
	)

	changes, err := c.watcher.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	// Wait for first value and process synchronously
	var initialErr error

	// Wrap context with startup timeout if configured
	startupCtx := ctx
	if c.startupTimeout > 0 {
		var cancel context.CancelFunc
		startupCtx, cancel = c.clock.WithTimeout(ctx, c.startupTimeout)
		defer cancel()
	}

	select {
	case <-startupCtx.Done():
		if c.startupTimeout > 0 && startupCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("startup timeout: watcher did not emit initial value within %v", c.startupTimeout)
		}
		return startupCtx.Err()
	case raw, ok := <-changes:
		if !ok {
			return fmt.Errorf("watcher closed before emitting initial value")
		}
		capitan.Emit(ctx, ChargerChangeReceived)
		if c.metrics != nil {
			c.metrics.OnChangeReceived()
		}
		initialErr = c.process(ctx, raw)
	}

	if c.syncMode {
		// In sync mode, store channel for manual processing
		c.changes = changes
		return initialErr
	}

	// Continue watching asynchronously
	go c.watch(ctx, changes)

	return initialErr
}

// Process reads and processes the next value from the watcher.
// This is only available in sync mode and is used for deterministic
// testing. Returns false if no value is available or the channel is
// closed.
func (c *Charger[T]) Process(ctx context.Context) bool {
	if !c.syncMode {
		return false
	}

	select {
	case raw, ok := <-c.changes:
		if !ok {
			return false
		}
		capitan.Emit(ctx, ChargerChangeReceived)
		if c.metrics != nil {
			c.metrics.OnChangeReceived()
		}
		_ = c.process(ctx, raw) //nolint:errcheck // Errors stored via setError
		return true
	default:
		return false
	}
}

// process decodes, validates, and applies a single source change.
func (c *Charger[T]) process(ctx context.Context, raw []byte) error {
	start := c.clock.Now()
	oldState := c.State()

	// Decode
	var result T
	if err := c.codec.Unmarshal(raw, &result); err != nil {
		c.setError(err)
		c.transitionState(ctx, oldState, c.failureState())
		capitan.Emit(ctx, ChargerDecodeFailed,
			KeyError.Field(err.Error()),
		)
		if c.metrics != nil {
			c.metrics.OnApplyFailure("decode", c.clock.Since(start))
		}
		return fmt.Errorf("decode failed: %w", err)
	}

	// Validate
	if err := validateValue(result); err != nil {
		c.setError(err)
		c.transitionState(ctx, oldState, c.failureState())
		capitan.Emit(ctx, ChargerValidationFailed,
			KeyError.Field(err.Error()),
		)
		if c.metrics != nil {
			c.metrics.OnApplyFailure("validate", c.clock.Since(start))
		}
		return fmt.Errorf("validation failed: %w", err)
	}

	// Build update and run it through the pipeline; the terminal stage
	// applies Current into the cell.
	u := &Update[T]{Previous: c.cell.Value(), Current: result, Raw: raw}
	if _, err := c.pipeline.Process(ctx, u); err != nil {
		c.setError(err)
		c.transitionState(ctx, oldState, c.failureState())
		capitan.Emit(ctx, ChargerApplyFailed,
			KeyError.Field(err.Error()),
		)
		if c.metrics != nil {
			c.metrics.OnApplyFailure("apply", c.clock.Since(start))
		}
		return fmt.Errorf("apply failed: %w", err)
	}

	// Success - clear error state
	c.lastError.Store(nil)
	c.errorHistory.clear()
	c.transitionState(ctx, oldState, StateHealthy)
	capitan.Emit(ctx, ChargerApplySucceeded)
	if c.metrics != nil {
		c.metrics.OnApplySuccess(c.clock.Since(start))
	}

	return nil
}

// failureState returns the appropriate failure state based on whether
// a source change has ever been applied.
func (c *Charger[T]) failureState() State {
	if c.State() == StateLoading || c.State() == StateEmpty {
		return StateEmpty
	}
	return StateDegraded
}

// transitionState updates the state and emits a state change event if changed.
func (c *Charger[T]) transitionState(ctx context.Context, oldState, newState State) {
	if oldState == newState {
		return
	}
	c.state.Store(int32(newState))
	capitan.Emit(ctx, ChargerStateChanged,
		KeyOldState.Field(oldState.String()),
		KeyNewState.Field(newState.String()),
	)
	if c.metrics != nil {
		c.metrics.OnStateChange(oldState, newState)
	}
}

// setError stores an error atomically and adds it to the error history.
func (c *Charger[T]) setError(err error) {
	e := err
	c.lastError.Store(&e)
	c.errorHistory.push(err)
}

// watch processes changes from the watcher channel with debouncing.
func (c *Charger[T]) watch(ctx context.Context, changes <-chan []byte) {
	defer func() {
		finalState := c.State()
		capitan.Emit(ctx, ChargerStopped,
			KeyState.Field(finalState.String()),
		)
		if c.onStop != nil {
			c.onStop(finalState)
		}
	}()

	var (
		timer      clockz.Timer
		pending    []byte
		hasPending bool
	)

	for {
		// Get timer channel or nil if no timer
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case raw, ok := <-changes:
			if !ok {
				// Channel closed, process any pending change
				if hasPending {
					_ = c.process(ctx, pending) //nolint:errcheck // Errors stored via setError
				}
				return
			}

			capitan.Emit(ctx, ChargerChangeReceived)
			if c.metrics != nil {
				c.metrics.OnChangeReceived()
			}
			pending = raw
			hasPending = true

			// Reset or start debounce timer
			if timer == nil {
				timer = c.clock.NewTimer(c.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C():
					default:
					}
				}
				timer.Reset(c.debounce)
			}

		case <-timerC:
			if hasPending {
				_ = c.process(ctx, pending) //nolint:errcheck // Errors stored via setError
				hasPending = false
			}
		}
	}
}
