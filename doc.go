/*
Package cellz provides a reactive value container with backpressured
change fan-out.

The core type is Cell, which owns a single value of any type. The value
is read through snapshots and mutated only through a transactional
Modify call. Every committed mutation is broadcast to subscribers as a
Change carrying the value before and after the mutation.

# Cell

A Cell processes mutations through a fixed sequence:

	Modify → snapshot old → transform → snapshot new → fan out (old, new)

Subscribers register with Changes, choosing a channel capacity. Each
subscriber consumes its own bounded channel at its own pace. When a
subscriber's channel is full, the default policy blocks the mutator
until the subscriber drains — freshness is enforced ahead of producer
throughput. No event is dropped for a live subscriber unless it opted
into a best-effort delivery policy.

	cell := cellz.New(10)
	ch := cell.Changes(ctx, 1)

	go func() {
	    for change := range ch {
	        log.Printf("%d -> %d", change.Old, change.New)
	    }
	}()

	if err := cell.Modify(func(v *int) { *v++ }); err != nil {
	    log.Fatal(err)
	}

A subscriber leaves by canceling the context it subscribed with. The
cell prunes the subscription on the next delivery attempt; there is no
explicit unsubscribe.

# Charger

A Charger binds a Cell to an external source. It watches the source for
raw bytes, decodes them with a Codec, validates the result, and applies
it into the cell, where subscribers observe it as an ordinary (old, new)
change:

	Source → Decode → Validate → Pipeline → Cell

If any step fails, the cell keeps its previous value and the Charger
enters a degraded state while continuing to watch for valid updates.

Pipeline options (With*) wrap the apply step with retry, timeout,
circuit breaking, and other reliability patterns.

# Watchers

The Watcher interface abstracts change sources. The package provides
ChannelWatcher for in-process sources and testing, and FileWatcher for
files (using fsnotify).

# Example

	type AppConfig struct {
	    Port int    `json:"port" validate:"min=1,max=65535"`
	    Host string `json:"host" validate:"required"`
	}

	cell := cellz.New(AppConfig{Port: 8080, Host: "localhost"})

	charger := cellz.NewCharger(
	    cellz.NewFileWatcher("/etc/myapp/config.json"),
	    cell,
	    cellz.WithRetry[AppConfig](3),
	)

	if err := charger.Start(ctx); err != nil {
	    log.Printf("initial config failed: %v", err)
	}

	for change := range cell.Changes(ctx, 8) {
	    log.Printf("port %d -> %d", change.Old.Port, change.New.Port)
	}
*/
package cellz
