package filterrules

import (
	"sync"
	"time"

	"scrobblerd/internal/play"
)

// DuplicateWindow suppresses a play already accepted for the same key
// (source+trackID, or track/album/artist-set) within a short trailing
// window. This reinforces the dispatcher's own idempotence guarantee one
// layer earlier, catching duplicates the dispatcher's cross-source window
// wouldn't (e.g. the same adapter re-reporting a play after a restart).
type DuplicateWindow struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[play.Key]time.Time
}

func NewDuplicateWindow(window time.Duration) *DuplicateWindow {
	return &DuplicateWindow{
		window: window,
		now:    time.Now,
		seen:   make(map[play.Key]time.Time),
	}
}

func (r *DuplicateWindow) Name() string { return "duplicate_window" }

func (r *DuplicateWindow) Evaluate(p play.Record) Verdict {
	if r.window <= 0 {
		return Verdict{}
	}
	key := play.KeyOf(p)
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictLocked(now)

	if last, ok := r.seen[key]; ok && now.Sub(last) < r.window {
		return Verdict{Suppress: true, Reason: "duplicate of a play accepted within " + r.window.String()}
	}
	r.seen[key] = now
	return Verdict{}
}

func (r *DuplicateWindow) evictLocked(now time.Time) {
	for k, t := range r.seen {
		if now.Sub(t) >= r.window {
			delete(r.seen, k)
		}
	}
}
