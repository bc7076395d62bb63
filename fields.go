package cellz

import "github.com/zoobzio/capitan"

// Field keys for cell and charger events.
var (
	// KeySubscribers is the number of live subscriptions.
	KeySubscribers = capitan.NewIntKey("subscribers")

	// KeyCapacity is a subscription channel's buffer capacity.
	KeyCapacity = capitan.NewIntKey("capacity")

	// KeyPolicy is a subscription's delivery policy.
	KeyPolicy = capitan.NewStringKey("policy")

	// KeyState is the current state of a Charger.
	KeyState = capitan.NewStringKey("state")

	// KeyOldState is the previous state before a transition.
	KeyOldState = capitan.NewStringKey("old_state")

	// KeyNewState is the new state after a transition.
	KeyNewState = capitan.NewStringKey("new_state")

	// KeyError is the error message when an operation fails.
	KeyError = capitan.NewStringKey("error")

	// KeyDebounce is the configured debounce duration.
	KeyDebounce = capitan.NewDurationKey("debounce")
)
