package cellz

import "sync"

// errorRing retains the most recent charger processing errors, oldest
// first. One decode, validation, or apply failure pushes one entry; a
// successful apply clears the ring. A nil ring (history disabled, see
// Charger.ErrorHistorySize) accepts every operation as a no-op.
type errorRing struct {
	mu   sync.Mutex
	max  int
	errs []error
}

// newErrorRing creates a ring retaining up to max errors. Size 0
// disables history and returns nil.
func newErrorRing(max int) *errorRing {
	if max <= 0 {
		return nil
	}
	return &errorRing{max: max}
}

// push records an error, evicting the oldest entry once the ring is
// full.
func (r *errorRing) push(err error) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errs = append(r.errs, err)
	if len(r.errs) > r.max {
		copy(r.errs, r.errs[1:])
		r.errs[len(r.errs)-1] = nil
		r.errs = r.errs[:r.max]
	}
}

// clear empties the ring.
func (r *errorRing) clear() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = nil
}

// all returns the retained errors, oldest first, or nil when the ring
// is empty or disabled.
func (r *errorRing) all() []error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.errs) == 0 {
		return nil
	}
	out := make([]error, len(r.errs))
	copy(out, r.errs)
	return out
}
