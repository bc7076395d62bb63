package cellz

// DeliveryPolicy controls what a publish does when a subscriber's
// channel is full.
type DeliveryPolicy int32

const (
	// DeliverBlock suspends the mutator until the subscriber drains or
	// leaves. This is the default and the only policy under which no
	// event is ever dropped for a live subscriber.
	DeliverBlock DeliveryPolicy = iota

	// DeliverDropNewest discards the incoming event when the channel is
	// full, keeping the events already queued.
	DeliverDropNewest

	// DeliverDropOldest discards the oldest queued event to make room
	// for the incoming one.
	DeliverDropOldest
)

// String returns the string representation of the policy.
func (p DeliveryPolicy) String() string {
	switch p {
	case DeliverBlock:
		return "block"
	case DeliverDropNewest:
		return "drop-newest"
	case DeliverDropOldest:
		return "drop-oldest"
	default:
		return "unknown"
	}
}
