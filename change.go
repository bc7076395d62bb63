package cellz

// Change is the snapshot pair produced by one committed mutation.
// Old is the value as it existed immediately before the transform ran,
// New as it existed immediately after. Both are independent copies; a
// subscriber may retain them without racing the cell.
//
// A Change is emitted for every mutation that completes, even when the
// transform left the value equal to what it was — mutation occurrence,
// not value inequality, triggers emission.
type Change[T any] struct {
	// Old is the value before the mutation.
	Old T

	// New is the value after the mutation.
	New T
}
