package cellz

import "github.com/zoobzio/capitan"

// Cell lifecycle and delivery signals.
var (
	// CellModified is emitted when a mutation commits and its change
	// has been handed to every live subscriber.
	CellModified = capitan.NewSignal(
		"cellz.cell.modified",
		"Mutation committed and broadcast",
	)

	// CellSubscribed is emitted when a new subscription is registered.
	CellSubscribed = capitan.NewSignal(
		"cellz.cell.subscribed",
		"Subscription registered",
	)

	// CellSubscriberDropped is emitted when a subscription is pruned
	// because its subscriber went away.
	CellSubscriberDropped = capitan.NewSignal(
		"cellz.cell.subscriber.dropped",
		"Subscription pruned after subscriber left",
	)

	// CellDeliveryBlocked is emitted when a delivery finds a
	// subscriber's channel full and suspends the mutator.
	CellDeliveryBlocked = capitan.NewSignal(
		"cellz.cell.delivery.blocked",
		"Delivery suspended on full subscriber channel",
	)

	// CellEventDropped is emitted when a best-effort subscription
	// discards an event.
	CellEventDropped = capitan.NewSignal(
		"cellz.cell.event.dropped",
		"Event dropped for best-effort subscriber",
	)

	// CellClosed is emitted when a cell is torn down.
	CellClosed = capitan.NewSignal(
		"cellz.cell.closed",
		"Cell closed",
	)
)

// Charger lifecycle signals.
var (
	// ChargerStarted is emitted when a Charger begins watching.
	ChargerStarted = capitan.NewSignal(
		"cellz.charger.started",
		"Charger watching started",
	)

	// ChargerStopped is emitted when a Charger stops watching.
	ChargerStopped = capitan.NewSignal(
		"cellz.charger.stopped",
		"Charger watching stopped",
	)

	// ChargerStateChanged is emitted when a Charger transitions between states.
	ChargerStateChanged = capitan.NewSignal(
		"cellz.charger.state.changed",
		"Charger state transition",
	)
)

// Charger processing signals.
var (
	// ChargerChangeReceived is emitted when raw data arrives from the watcher.
	ChargerChangeReceived = capitan.NewSignal(
		"cellz.charger.change.received",
		"Raw change received from watcher",
	)

	// ChargerDecodeFailed is emitted when the codec rejects the data.
	ChargerDecodeFailed = capitan.NewSignal(
		"cellz.charger.decode.failed",
		"Decode failed",
	)

	// ChargerValidationFailed is emitted when validation fails.
	ChargerValidationFailed = capitan.NewSignal(
		"cellz.charger.validation.failed",
		"Validation failed",
	)

	// ChargerApplyFailed is emitted when the pipeline or cell apply fails.
	ChargerApplyFailed = capitan.NewSignal(
		"cellz.charger.apply.failed",
		"Apply failed",
	)

	// ChargerApplySucceeded is emitted when a source change reaches the cell.
	ChargerApplySucceeded = capitan.NewSignal(
		"cellz.charger.apply.succeeded",
		"Change applied to cell",
	)
)
