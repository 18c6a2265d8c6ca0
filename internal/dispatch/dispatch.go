// Package dispatch defines the contract by which a Source Poller hands
// newly discovered plays to the (externally owned) multi-client scrobble
// fan-out, and a concrete FanOut implementation of that contract.
package dispatch

import (
	"context"

	"scrobblerd/internal/play"
)

// Options accompanies a Dispatch call.
type Options struct {
	// ForceRefresh is set when the Poller detected a close-to-interval
	// race and wants the dispatcher to reconcile with peer clients before
	// accepting, so the same play isn't scrobbled twice across sources.
	ForceRefresh bool
	// ScrobbleFrom identifies the source that discovered these plays.
	ScrobbleFrom string
	// ScrobbleTo lists the downstream client identifiers to scrobble to.
	ScrobbleTo []string
}

// Dispatcher is the contract consumed by Pollers. An
// implementation must be idempotent per play.SameAs, must reconcile with
// peers before accepting when ForceRefresh is set, must preserve ordering
// of plays per client, and must never let a single client's failure stop
// dispatch to other clients or propagate to the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, plays []play.Record, opts Options) []play.Record
}
