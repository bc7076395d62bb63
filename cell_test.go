package cellz

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

// recv reads one change or fails the test after a timeout.
func recv[T any](t *testing.T, ch <-chan Change[T]) Change[T] {
	t.Helper()
	select {
	case c, ok := <-ch:
		if !ok {
			t.Fatal("channel closed while expecting a change")
		}
		return c
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for change")
	}
	panic("unreachable")
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestCell_Value_Idempotent(t *testing.T) {
	cell := New(42)

	first := cell.Value()
	second := cell.Value()

	if first != 42 || second != 42 {
		t.Errorf("expected 42 twice, got %d then %d", first, second)
	}
}

func TestCell_Modify_DeliversOldAndNew(t *testing.T) {
	cell := New(123)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := cell.Changes(ctx, 1)

	if err := cell.Modify(func(v *int) { *v++ }); err != nil {
		t.Fatalf("Modify() error = %v", err)
	}

	change := recv(t, ch)
	if change.Old != 123 {
		t.Errorf("expected old 123, got %d", change.Old)
	}
	if change.New != 124 {
		t.Errorf("expected new 124, got %d", change.New)
	}
	if got := cell.Value(); got != 124 {
		t.Errorf("expected value 124, got %d", got)
	}
}

func TestCell_Modify_OrderedExactlyOnce(t *testing.T) {
	cell := New(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := cell.Changes(ctx, 10)

	for i := 0; i < 5; i++ {
		if err := cell.Modify(func(v *int) { *v++ }); err != nil {
			t.Fatalf("Modify() error = %v", err)
		}
	}

	for i := 0; i < 5; i++ {
		change := recv(t, ch)
		if change.Old != i || change.New != i+1 {
			t.Errorf("event %d: expected (%d,%d), got (%d,%d)", i, i, i+1, change.Old, change.New)
		}
	}

	select {
	case extra := <-ch:
		t.Errorf("unexpected extra event (%d,%d)", extra.Old, extra.New)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCell_NoOpMutation_StillEmits(t *testing.T) {
	cell := New(7)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := cell.Changes(ctx, 1)

	if err := cell.Modify(func(*int) {}); err != nil {
		t.Fatalf("Modify() error = %v", err)
	}

	change := recv(t, ch)
	if change.Old != 7 || change.New != 7 {
		t.Errorf("expected (7,7), got (%d,%d)", change.Old, change.New)
	}
}

func TestCell_LateSubscriber_MissesEarlierMutations(t *testing.T) {
	cell := New(0)

	if err := cell.Modify(func(v *int) { *v = 1 }); err != nil {
		t.Fatalf("Modify() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := cell.Changes(ctx, 4)

	if err := cell.Modify(func(v *int) { *v = 2 }); err != nil {
		t.Fatalf("Modify() error = %v", err)
	}

	change := recv(t, ch)
	if change.Old != 1 || change.New != 2 {
		t.Errorf("expected (1,2), got (%d,%d)", change.Old, change.New)
	}
}

func TestCell_ZeroCapacity_Rendezvous(t *testing.T) {
	cell := New(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := cell.Changes(ctx, 0)

	var committed atomic.Bool
	go func() {
		_ = cell.Modify(func(v *int) { *v = 1 })
		committed.Store(true)
	}()

	// The mutator must rendezvous with a receive before completing.
	time.Sleep(20 * time.Millisecond)
	if committed.Load() {
		t.Fatal("Modify completed without a receiver on a zero-capacity subscription")
	}

	change := recv(t, ch)
	if change.Old != 0 || change.New != 1 {
		t.Errorf("expected (0,1), got (%d,%d)", change.Old, change.New)
	}
	eventually(t, committed.Load, "Modify did not complete after rendezvous")
}

func TestCell_Backpressure_CapacityOne(t *testing.T) {
	cell := New(10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := cell.Changes(ctx, 1)

	if err := cell.Modify(func(v *int) { *v++ }); err != nil {
		t.Fatalf("Modify() error = %v", err)
	}
	if got := cell.Value(); got != 11 {
		t.Errorf("expected 11, got %d", got)
	}

	// A's queue now holds (10,11); the next mutation must suspend.
	var committed atomic.Bool
	go func() {
		_ = cell.Modify(func(v *int) { *v *= 2 })
		committed.Store(true)
	}()

	time.Sleep(20 * time.Millisecond)
	if committed.Load() {
		t.Fatal("mutator did not suspend on a full subscriber queue")
	}

	first := recv(t, a)
	if first.Old != 10 || first.New != 11 {
		t.Errorf("expected (10,11), got (%d,%d)", first.Old, first.New)
	}

	eventually(t, committed.Load, "mutator did not resume after drain")

	second := recv(t, a)
	if second.Old != 11 || second.New != 22 {
		t.Errorf("expected (11,22), got (%d,%d)", second.Old, second.New)
	}
	if got := cell.Value(); got != 22 {
		t.Errorf("expected 22, got %d", got)
	}
}

func TestCell_TwoSubscribers_IndependentPacing(t *testing.T) {
	cell := New(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := cell.Changes(ctx, 2) // never drained until the end
	b := cell.Changes(ctx, 0) // actively drained

	var got []Change[int]
	var mu sync.Mutex
	go func() {
		for change := range b {
			mu.Lock()
			got = append(got, change)
			mu.Unlock()
		}
	}()

	var committed atomic.Int32
	go func() {
		for i := 0; i < 3; i++ {
			_ = cell.Modify(func(v *int) { *v++ })
			committed.Add(1)
		}
	}()

	// The third mutation suspends on A's full queue.
	eventually(t, func() bool { return committed.Load() == 2 }, "first two mutations did not commit")
	time.Sleep(20 * time.Millisecond)
	if committed.Load() != 2 {
		t.Fatalf("expected third mutation suspended, committed=%d", committed.Load())
	}
	if len(a) != 2 {
		t.Fatalf("expected 2 events queued for A, got %d", len(a))
	}

	// Drain A; the suspended mutation completes and B sees all three
	// events with no loss.
	first := recv(t, a)
	if first.Old != 0 || first.New != 1 {
		t.Errorf("expected (0,1), got (%d,%d)", first.Old, first.New)
	}
	eventually(t, func() bool { return committed.Load() == 3 }, "third mutation did not commit after drain")

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, "B did not receive all three events")

	mu.Lock()
	defer mu.Unlock()
	for i, change := range got {
		if change.Old != i || change.New != i+1 {
			t.Errorf("B event %d: expected (%d,%d), got (%d,%d)", i, i, i+1, change.Old, change.New)
		}
	}
}

func TestCell_CanceledSubscriber_PrunedOnNextPublish(t *testing.T) {
	cell := New(0)

	ctx, cancel := context.WithCancel(context.Background())
	ch := cell.Changes(ctx, 1)
	cancel()

	if got := cell.Subscribers(); got != 1 {
		t.Fatalf("expected 1 subscription before publish, got %d", got)
	}

	// First publish after cancellation prunes the subscription.
	if err := cell.Modify(func(v *int) { *v = 1 }); err != nil {
		t.Fatalf("Modify() error = %v", err)
	}
	if got := cell.Subscribers(); got != 0 {
		t.Errorf("expected 0 subscriptions after publish, got %d", got)
	}

	// The channel is closed, terminating the sequence.
	eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, "subscriber channel was not closed after pruning")

	// No further attempts: later mutations don't touch it.
	if err := cell.Modify(func(v *int) { *v = 2 }); err != nil {
		t.Fatalf("Modify() error = %v", err)
	}
}

func TestCell_CancelUnblocksSuspendedMutator(t *testing.T) {
	cell := New(0)

	ctx, cancel := context.WithCancel(context.Background())
	_ = cell.Changes(ctx, 0) // never received from

	var committed atomic.Bool
	go func() {
		_ = cell.Modify(func(v *int) { *v = 1 })
		committed.Store(true)
	}()

	time.Sleep(20 * time.Millisecond)
	if committed.Load() {
		t.Fatal("expected mutator suspended on unconsumed zero-capacity subscription")
	}

	// Dropping the receiving half while the send is suspended must
	// unblock the mutator as a failed delivery.
	cancel()

	eventually(t, committed.Load, "mutator did not resume after subscriber cancellation")
	if got := cell.Subscribers(); got != 0 {
		t.Errorf("expected 0 subscriptions, got %d", got)
	}
	if got := cell.Value(); got != 1 {
		t.Errorf("expected value 1, got %d", got)
	}
}

func TestCell_ReentrantModify_Rejected(t *testing.T) {
	cell := New(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := cell.Changes(ctx, 1)

	var inner error
	if err := cell.Modify(func(v *int) {
		*v = 1
		inner = cell.Modify(func(v *int) { *v = 99 })
	}); err != nil {
		t.Fatalf("outer Modify() error = %v", err)
	}

	if !errors.Is(inner, ErrReentrantModify) {
		t.Errorf("expected ErrReentrantModify, got %v", inner)
	}

	// The outer mutation still commits and broadcasts normally.
	change := recv(t, ch)
	if change.Old != 0 || change.New != 1 {
		t.Errorf("expected (0,1), got (%d,%d)", change.Old, change.New)
	}
	if got := cell.Value(); got != 1 {
		t.Errorf("expected value 1, got %d", got)
	}
}

func TestCell_ConcurrentModify_Serialized(t *testing.T) {
	cell := New(0)

	// A second goroutine's Modify is a legitimate concurrent mutation
	// and must block, not be rejected as reentrant.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			if err := cell.Modify(func(v *int) { *v++ }); err != nil {
				t.Errorf("Modify() error = %v", err)
				return
			}
		}
	}()

	for i := 0; i < 50; i++ {
		if err := cell.Modify(func(v *int) { *v++ }); err != nil {
			t.Fatalf("Modify() error = %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for concurrent mutator")
	}

	if got := cell.Value(); got != 100 {
		t.Errorf("expected 100, got %d", got)
	}
}

func TestCell_ReentrantValue_Panics(t *testing.T) {
	cell := New(0)

	var recovered any
	_ = cell.Modify(func(v *int) {
		func() {
			defer func() { recovered = recover() }()
			_ = cell.Value()
		}()
	})

	if recovered == nil {
		t.Fatal("expected Value inside Modify to panic")
	}
}

func TestCell_ReentrantSubscribers_Panics(t *testing.T) {
	cell := New(0)

	var recovered any
	_ = cell.Modify(func(v *int) {
		func() {
			defer func() { recovered = recover() }()
			_ = cell.Subscribers()
		}()
	})

	if recovered == nil {
		t.Fatal("expected Subscribers inside Modify to panic")
	}
}

func TestCell_ReentrantClosed_Panics(t *testing.T) {
	cell := New(0)

	var recovered any
	_ = cell.Modify(func(v *int) {
		func() {
			defer func() { recovered = recover() }()
			_ = cell.Closed()
		}()
	})

	if recovered == nil {
		t.Fatal("expected Closed inside Modify to panic")
	}
}

func TestCell_TransformPanic_SuppressesEvent(t *testing.T) {
	cell := New(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := cell.Changes(ctx, 1)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected transform panic to propagate")
			}
		}()
		_ = cell.Modify(func(v *int) {
			*v = 2
			panic("boom")
		})
	}()

	// No event for the aborted mutation.
	select {
	case change := <-ch:
		t.Errorf("unexpected event (%d,%d) after aborted transform", change.Old, change.New)
	case <-time.After(20 * time.Millisecond):
	}

	// The value stays as the transform left it, and the cell keeps working.
	if got := cell.Value(); got != 2 {
		t.Errorf("expected value 2 after abort, got %d", got)
	}
	if err := cell.Modify(func(v *int) { *v = 3 }); err != nil {
		t.Fatalf("Modify() after abort error = %v", err)
	}
	change := recv(t, ch)
	if change.Old != 2 || change.New != 3 {
		t.Errorf("expected (2,3), got (%d,%d)", change.Old, change.New)
	}
}

func TestCell_Close_TerminatesSubscribers(t *testing.T) {
	cell := New(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := cell.Changes(ctx, 4)

	if err := cell.Modify(func(v *int) { *v = 1 }); err != nil {
		t.Fatalf("Modify() error = %v", err)
	}

	cell.Close()

	// Queued events are still readable, then the sequence terminates.
	change := recv(t, ch)
	if change.Old != 0 || change.New != 1 {
		t.Errorf("expected (0,1), got (%d,%d)", change.Old, change.New)
	}
	if _, ok := <-ch; ok {
		t.Error("expected channel closed after Close")
	}

	if err := cell.Modify(func(v *int) { *v = 2 }); !errors.Is(err, ErrCellClosed) {
		t.Errorf("expected ErrCellClosed, got %v", err)
	}
	if got := cell.Value(); got != 1 {
		t.Errorf("expected last value 1 readable after Close, got %d", got)
	}
	if !cell.Closed() {
		t.Error("expected Closed() true")
	}

	// Close is idempotent; late subscriptions get a closed channel.
	cell.Close()
	late := cell.Changes(ctx, 1)
	if _, ok := <-late; ok {
		t.Error("expected closed channel from Changes on a closed cell")
	}
}

func TestCell_DropNewest_NeverBlocksMutator(t *testing.T) {
	cell := New(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := cell.Changes(ctx, 1, WithPolicy(DeliverDropNewest))

	for i := 0; i < 3; i++ {
		if err := cell.Modify(func(v *int) { *v++ }); err != nil {
			t.Fatalf("Modify() error = %v", err)
		}
	}

	// Only the first event fit; the rest were dropped.
	change := recv(t, ch)
	if change.Old != 0 || change.New != 1 {
		t.Errorf("expected (0,1), got (%d,%d)", change.Old, change.New)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected extra event (%d,%d)", extra.Old, extra.New)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCell_DropOldest_KeepsLatest(t *testing.T) {
	cell := New(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := cell.Changes(ctx, 1, WithPolicy(DeliverDropOldest))

	for i := 0; i < 3; i++ {
		if err := cell.Modify(func(v *int) { *v++ }); err != nil {
			t.Fatalf("Modify() error = %v", err)
		}
	}

	// The queue holds only the most recent event.
	change := recv(t, ch)
	if change.Old != 2 || change.New != 3 {
		t.Errorf("expected (2,3), got (%d,%d)", change.Old, change.New)
	}
}

func TestCell_SendTimeout_DropsEventKeepsSubscriber(t *testing.T) {
	clock := clockz.NewFakeClock()
	cell := New(0, WithClock[int](clock))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := cell.Changes(ctx, 1, WithSendTimeout(100*time.Millisecond))

	if err := cell.Modify(func(v *int) { *v = 1 }); err != nil {
		t.Fatalf("Modify() error = %v", err)
	}

	// The queue is full; this mutation blocks until the timeout fires.
	var committed atomic.Bool
	go func() {
		_ = cell.Modify(func(v *int) { *v = 2 })
		committed.Store(true)
	}()

	time.Sleep(20 * time.Millisecond)
	if committed.Load() {
		t.Fatal("expected mutator suspended before timeout")
	}

	clock.Advance(150 * time.Millisecond)
	clock.BlockUntilReady()

	eventually(t, committed.Load, "mutator did not resume after send timeout")

	// The subscription survives; the timed-out event is simply gone.
	if got := cell.Subscribers(); got != 1 {
		t.Fatalf("expected subscriber retained, got %d", got)
	}
	first := recv(t, ch)
	if first.Old != 0 || first.New != 1 {
		t.Errorf("expected (0,1), got (%d,%d)", first.Old, first.New)
	}
	if err := cell.Modify(func(v *int) { *v = 3 }); err != nil {
		t.Fatalf("Modify() error = %v", err)
	}
	next := recv(t, ch)
	if next.Old != 2 || next.New != 3 {
		t.Errorf("expected (2,3), got (%d,%d)", next.Old, next.New)
	}
}

func TestCell_WithClone_SnapshotsAreIndependent(t *testing.T) {
	clone := func(v []int) []int {
		out := make([]int, len(v))
		copy(out, v)
		return out
	}
	cell := New([]int{1}, WithClone(clone))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := cell.Changes(ctx, 1)

	if err := cell.Modify(func(v *[]int) { *v = append(*v, 2) }); err != nil {
		t.Fatalf("Modify() error = %v", err)
	}

	change := recv(t, ch)
	if len(change.Old) != 1 || change.Old[0] != 1 {
		t.Errorf("expected old [1], got %v", change.Old)
	}
	if len(change.New) != 2 || change.New[1] != 2 {
		t.Errorf("expected new [1 2], got %v", change.New)
	}

	// Mutating a snapshot must not reach the cell.
	snapshot := cell.Value()
	snapshot[0] = 99
	if got := cell.Value(); got[0] != 1 {
		t.Errorf("snapshot mutation leaked into the cell: %v", got)
	}
}

func TestCell_Metrics_Callbacks(t *testing.T) {
	m := &countingMetrics{}
	cell := New(0, WithMetrics[int](m))

	ctx, cancel := context.WithCancel(context.Background())
	ch := cell.Changes(ctx, 1)

	_ = cell.Modify(func(v *int) { *v = 1 })
	recv(t, ch)

	cancel()
	_ = cell.Modify(func(v *int) { *v = 2 })

	if m.modifies.Load() != 2 {
		t.Errorf("expected 2 OnModify calls, got %d", m.modifies.Load())
	}
	if m.subscribes.Load() != 1 {
		t.Errorf("expected 1 OnSubscribe call, got %d", m.subscribes.Load())
	}
	if m.dropped.Load() != 1 {
		t.Errorf("expected 1 OnSubscriberDropped call, got %d", m.dropped.Load())
	}
}

// countingMetrics counts cell callbacks for assertions.
type countingMetrics struct {
	NoOpMetricsProvider
	modifies   atomic.Int32
	subscribes atomic.Int32
	dropped    atomic.Int32
}

func (m *countingMetrics) OnModify(time.Duration) { m.modifies.Add(1) }
func (m *countingMetrics) OnSubscribe()           { m.subscribes.Add(1) }
func (m *countingMetrics) OnSubscriberDropped()   { m.dropped.Add(1) }
