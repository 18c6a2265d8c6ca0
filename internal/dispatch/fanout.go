package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"scrobblerd/internal/filterrules"
	"scrobblerd/internal/play"
)

// ScrobbleClient is one downstream target a FanOut dispatcher can scrobble
// to (e.g. a Last.fm or ListenBrainz credential pairing). Implementations
// must be safe for concurrent use by multiple FanOut.Dispatch calls.
type ScrobbleClient interface {
	// ID identifies the client for logging and per-client ordering.
	ID() string
	// Scrobble submits one play. Implementations should treat "already
	// scrobbled" upstream responses as success, since FanOut's own
	// idempotence window is a best-effort memory, not a guarantee.
	Scrobble(ctx context.Context, p play.Record) error
}

// window is the shared, source-crossing memory of recently-accepted plays
// that lets FanOut avoid double-scrobbling the same play when two different
// Pollers (e.g. two media-server sources) both discover it independently.
type window struct {
	mu      sync.Mutex
	recent  []play.Record
	maxSize int
}

func newWindow(maxSize int) *window {
	return &window{maxSize: maxSize}
}

// acceptIfNew reports whether p is new with respect to the shared window,
// and if so records it. Acceptance and recording happen under the same
// lock so two concurrent dispatches racing on the same play cannot both
// see "new".
func (w *window) acceptIfNew(p play.Record) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, seen := range w.recent {
		if play.SameAs(seen, p) {
			return false
		}
	}
	w.recent = append(w.recent, p)
	if len(w.recent) > w.maxSize {
		w.recent = w.recent[len(w.recent)-w.maxSize:]
	}
	return true
}

// FanOut is the production Dispatcher: it reconciles incoming plays against
// a cross-source recently-accepted window, then scrobbles the accepted set
// to every named client concurrently, isolating each client's failures from
// the others and from the caller.
type FanOut struct {
	clients map[string]ScrobbleClient
	window  *window
	filters *filterrules.Engine
	logger  *slog.Logger
}

// FanOutOption customizes a FanOut at construction.
type FanOutOption func(*FanOut)

// WithWindowSize overrides the number of recently-accepted plays FanOut
// remembers for cross-source dedup. Default is 200.
func WithWindowSize(n int) FanOutOption {
	return func(f *FanOut) { f.window = newWindow(n) }
}

// WithLogger attaches a structured logger. Default is slog.Default().
func WithLogger(l *slog.Logger) FanOutOption {
	return func(f *FanOut) { f.logger = l }
}

// WithFilterEngine attaches the pre-dispatch policy layer: the cross-source
// idempotence window is still applied first, but a play that passes it can
// still be suppressed by a filter rule, e.g. a too-short listen or a
// blocked artist. Without this option FanOut accepts everything the
// window lets through, unfiltered.
func WithFilterEngine(e *filterrules.Engine) FanOutOption {
	return func(f *FanOut) { f.filters = e }
}

// NewFanOut builds a FanOut over the given clients, keyed by ScrobbleClient.ID().
func NewFanOut(clients []ScrobbleClient, opts ...FanOutOption) *FanOut {
	byID := make(map[string]ScrobbleClient, len(clients))
	for _, c := range clients {
		byID[c.ID()] = c
	}
	f := &FanOut{
		clients: byID,
		window:  newWindow(200),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Dispatch implements Dispatcher. It returns the subset of plays that were
// accepted as new by the cross-source window, regardless of whether any
// individual client scrobble ultimately failed — a client error never
// rolls back acceptance, since the play genuinely is new; it only fails
// that one client's delivery.
func (f *FanOut) Dispatch(ctx context.Context, plays []play.Record, opts Options) []play.Record {
	if len(plays) == 0 {
		return nil
	}

	// The shared window is consulted unconditionally: that consultation
	// *is* the peer-reconciliation ForceRefresh asks for. Without
	// ForceRefresh a Poller still benefits from it; ForceRefresh exists so
	// callers can signal "I know I might be racing another source" in
	// logs, not to change the acceptance check itself.
	accepted := make([]play.Record, 0, len(plays))
	for _, p := range plays {
		if !f.window.acceptIfNew(p) {
			if opts.ForceRefresh {
				f.logger.Debug("dispatch: peer already claimed play", "track", p.Data.Track, "source", opts.ScrobbleFrom)
			}
			continue
		}
		if f.filters != nil {
			if v := f.filters.Evaluate(ctx, p); v.Suppress {
				continue
			}
		}
		accepted = append(accepted, p)
	}
	if len(accepted) == 0 {
		return nil
	}

	targets := opts.ScrobbleTo
	if len(targets) == 0 {
		targets = make([]string, 0, len(f.clients))
		for id := range f.clients {
			targets = append(targets, id)
		}
	}

	var wg sync.WaitGroup
	for _, id := range targets {
		client, ok := f.clients[id]
		if !ok {
			f.logger.Warn("dispatch: unknown scrobble client", "client", id, "source", opts.ScrobbleFrom)
			continue
		}
		wg.Add(1)
		go func(client ScrobbleClient) {
			defer wg.Done()
			f.deliverInOrder(ctx, client, accepted, opts.ScrobbleFrom)
		}(client)
	}
	wg.Wait()

	return accepted
}

// deliverInOrder scrobbles plays to one client sequentially, oldest-first,
// stopping early only on context cancellation: a mid-client failure is
// logged and skipped so later plays from the same cycle still land, rather
// than blocking the whole client on one bad item.
func (f *FanOut) deliverInOrder(ctx context.Context, client ScrobbleClient, plays []play.Record, source string) {
	for _, p := range plays {
		if ctx.Err() != nil {
			return
		}
		if err := client.Scrobble(ctx, p); err != nil {
			f.logger.Error("dispatch: scrobble failed",
				"client", client.ID(), "source", source, "track", p.Data.Track, "error", err)
		}
	}
}
