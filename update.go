package cellz

// Update carries a decoded source change through a Charger's
// processing pipeline. It exposes both the cell's current value and the
// incoming one, so pipeline stages can make decisions based on what
// changed.
type Update[T any] struct {
	// Previous is the cell's value at the time the change arrived.
	Previous T

	// Current is the newly decoded and validated value. Pipeline
	// stages may modify it before it is applied to the cell.
	Current T

	// Raw contains the original bytes received from the watcher,
	// useful for debugging or logging.
	Raw []byte
}
