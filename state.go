package cellz

// State represents the current state of a Charger.
type State int32

const (
	// StateLoading indicates the Charger is initializing and has not
	// yet applied anything to its cell.
	StateLoading State = iota

	// StateHealthy indicates the last source change was applied to the cell.
	StateHealthy

	// StateDegraded indicates the last source change failed decoding,
	// validation, or apply. The cell keeps its previous value.
	StateDegraded

	// StateEmpty indicates the initial source load failed and the cell
	// still holds only its construction-time value. The Charger
	// continues watching for valid updates.
	StateEmpty
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateEmpty:
		return "empty"
	default:
		return "unknown"
	}
}
