// Package poller runs the long-lived per-source control loop: it polls an
// upstream adapter, reconciles raw results into genuinely new plays, applies
// the close-to-interval cooperative delay, hands new plays to a Dispatcher,
// and self-throttles via adaptive backoff during quiet periods.
package poller

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scrobblerd/internal/clock"
	"scrobblerd/internal/dispatch"
	"scrobblerd/internal/play"
	"scrobblerd/internal/reconcile"
)

// State is one node of the Poller's state machine.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateStopping
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateStopping:
		return "stopping"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// quietThresholdCap is the hard ceiling, independent of Config.MaxInterval,
// on the "how long quiet triggers backoff" window.
const quietThresholdCap = 600 * time.Second

// Config holds the tunables recognized by the core, all with the
// documented defaults.
type Config struct {
	Interval             time.Duration
	MaxInterval          time.Duration
	WindowSize           int
	CloseThreshold       time.Duration
	CloseDelay           time.Duration
	QuietCycleThreshold  int
	BackoffFactor        int
	BackoffCap           time.Duration
	BackoffTriggerFactor int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Interval:             30 * time.Second,
		MaxInterval:          600 * time.Second,
		WindowSize:           20,
		CloseThreshold:       5 * time.Second,
		CloseDelay:           10 * time.Second,
		QuietCycleThreshold:  5,
		BackoffFactor:        5,
		BackoffCap:           300 * time.Second,
		BackoffTriggerFactor: 10,
	}
}

// Adapter is the per-source capability a Poller is parameterized by
// (composition in place of the deep inheritance the original source used).
type Adapter interface {
	// Fetch returns the upstream's current view, already formatted to §3.
	// Timestamp-bearing sources return oldest-first by playDate; windowed
	// sources return whatever order the upstream reports (typically
	// newest-first).
	Fetch(ctx context.Context) ([]play.Record, error)
	// Windowed reports whether this source lacks reliable per-item
	// timestamps and must be classified via the recent-window reconciler
	// instead of by comparing playDate to lastTrackPlayedAt.
	Windowed() bool
}

// CycleObserver is an optional Adapter capability invoked once per
// completed cycle, win or lose; useful for adapters that persist a cursor.
type CycleObserver interface {
	OnCycle(ctx context.Context)
}

// FaultNotifier is told when a Poller transitions to Faulted, so operators
// learn about it without having to watch logs.
type FaultNotifier interface {
	NotifyFault(ctx context.Context, source string, cause error, occurredAt time.Time) error
}

// CursorStore persists a best-effort resume point across restarts: the
// watermark classifyTimestamped should pick up from instead of process
// start, plus a checksum of the last recent-window snapshot for
// diagnostics. Without one, every process start behaves as a cold start
// (lastTrackPlayedAt initialized to the moment New is called).
type CursorStore interface {
	LoadCursor(ctx context.Context, source string) (lastTrackPlayedAt time.Time, windowChecksum string, found bool, err error)
	SaveCursor(ctx context.Context, source string, lastTrackPlayedAt time.Time, windowChecksum string) error
}

// PollerOption customizes a Poller at construction.
type PollerOption func(*Poller)

func WithConfig(c Config) PollerOption {
	return func(p *Poller) { p.config = c }
}

func WithLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

func WithClock(c clock.Clock, s clock.Sleeper) PollerOption {
	return func(p *Poller) {
		p.clock = c
		p.sleeper = s
	}
}

func WithScrobbleTo(clients []string) PollerOption {
	return func(p *Poller) { p.scrobbleTo = clients }
}

func WithFaultNotifier(n FaultNotifier) PollerOption {
	return func(p *Poller) { p.faultNotifier = n }
}

// WithCursorStore attaches a resume point: Start loads the last persisted
// watermark for this source before entering the polling loop, and every
// cycle (plus Stop) persists the current one back.
func WithCursorStore(cs CursorStore) PollerOption {
	return func(p *Poller) { p.cursorStore = cs }
}

// Status is the read-only control-surface query.
type Status struct {
	Type             string    `json:"type"`
	Name             string    `json:"name"`
	Polling          bool      `json:"polling"`
	TracksDiscovered int       `json:"tracksDiscovered"`
	LastActivityAt   time.Time `json:"lastActivityAt"`
}

// Poller owns and runs the polling loop for one upstream source.
type Poller struct {
	identifier    string
	sourceType    string
	adapter       Adapter
	dispatcher    dispatch.Dispatcher
	config        Config
	logger        *slog.Logger
	clock         clock.Clock
	sleeper       clock.Sleeper
	scrobbleTo    []string
	faultNotifier FaultNotifier
	cursorStore   CursorStore

	mu                sync.RWMutex
	state             State
	lastTrackPlayedAt time.Time
	checkCount        int
	recentlyPlayed    []play.Record
	tracksDiscovered  int
	lastActivityAt    time.Time

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	pollNotify chan struct{}
}

// New builds a Poller for one source. identifier names the source for
// logging, dispatch attribution, and status; sourceType is a short tag
// (e.g. "lastfm") surfaced in Status.Type.
func New(identifier, sourceType string, adapter Adapter, dispatcher dispatch.Dispatcher, opts ...PollerOption) *Poller {
	p := &Poller{
		identifier: identifier,
		sourceType: sourceType,
		adapter:    adapter,
		dispatcher: dispatcher,
		config:     DefaultConfig(),
		logger:     slog.Default(),
		clock:      clock.Real{},
		sleeper:    clock.Real{},
		pollNotify: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	// Initialized to process start; Start overrides this from a CursorStore,
	// when one is configured and a prior watermark exists, before the
	// polling loop begins.
	p.lastTrackPlayedAt = p.clock.Now()
	p.lastActivityAt = p.lastTrackPlayedAt
	return p
}

// Start launches the polling loop. Safe to call multiple times; only the
// first call takes effect (Idle -> Polling). If a CursorStore is
// configured, it is consulted first so a restart resumes from the last
// persisted watermark instead of the process-start default set by New.
func (p *Poller) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.resumeCursor(ctx)
		ctx, p.cancel = context.WithCancel(ctx)
		p.done = make(chan struct{})
		go p.run(ctx)
	})
}

// Stop signals the loop to exit and blocks until it has (Polling ->
// Stopping -> Idle), then makes a final best-effort cursor save so a
// graceful restart resumes from exactly where this process left off.
func (p *Poller) Stop() {
	if p.cancel != nil && p.done != nil {
		p.mu.Lock()
		if p.state == StatePolling {
			p.state = StateStopping
		}
		p.mu.Unlock()
		p.cancel()
		<-p.done
	}
	p.saveCursor(context.Background())
}

func (p *Poller) resumeCursor(ctx context.Context) {
	if p.cursorStore == nil {
		return
	}
	resumeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	watermark, checksum, found, err := p.cursorStore.LoadCursor(resumeCtx, p.identifier)
	if err != nil {
		p.logger.Warn("cursor: resume failed, starting from process start", "source", p.identifier, "error", err)
		return
	}
	if !found {
		return
	}
	p.mu.Lock()
	p.lastTrackPlayedAt = watermark
	p.lastActivityAt = watermark
	p.mu.Unlock()
	p.logger.Info("cursor: resumed watermark", "source", p.identifier, "lastTrackPlayedAt", watermark, "windowChecksum", checksum)
}

func (p *Poller) saveCursor(ctx context.Context) {
	if p.cursorStore == nil {
		return
	}
	p.mu.RLock()
	watermark := p.lastTrackPlayedAt
	checksum := windowChecksum(p.recentlyPlayed)
	p.mu.RUnlock()

	saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.cursorStore.SaveCursor(saveCtx, p.identifier, watermark, checksum); err != nil {
		p.logger.Warn("cursor: save failed", "source", p.identifier, "error", err)
	}
}

// windowChecksum hashes a recent-window snapshot's identity keys, in
// order, so a resumed source can tell at a glance whether the upstream's
// window moved on while the process was down.
func windowChecksum(records []play.Record) string {
	if len(records) == 0 {
		return ""
	}
	h := sha256.New()
	for _, r := range records {
		k := play.KeyOf(r)
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x01", k.Source, k.TrackID, k.Track, k.Album, k.Artists)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Status reports the current observability snapshot.
func (p *Poller) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Status{
		Type:             p.sourceType,
		Name:             p.identifier,
		Polling:          p.state == StatePolling,
		TracksDiscovered: p.tracksDiscovered,
		LastActivityAt:   p.lastActivityAt,
	}
}

// State returns the current node of the state machine, for callers that
// need more than Status's boolean Polling flag (e.g. to detect Faulted).
func (p *Poller) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	p.setState(StatePolling)
	p.logger.Info("polling started", "source", p.identifier)

	for {
		err := p.cycle(ctx)
		if ob, ok := p.adapter.(CycleObserver); ok {
			ob.OnCycle(ctx)
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				p.logger.Info("polling stopped", "source", p.identifier)
				p.setState(StateIdle)
				return
			}
			p.logger.Error("poller faulted", "source", p.identifier, "error", err)
			p.setState(StateFaulted)
			if p.faultNotifier != nil {
				faultedAt := p.clock.Now()
				go func() {
					notifyCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					defer cancel()
					if nerr := p.faultNotifier.NotifyFault(notifyCtx, p.identifier, err, faultedAt); nerr != nil {
						p.logger.Warn("fault notify failed", "source", p.identifier, "error", nerr)
					}
				}()
			}
			return
		}
		p.notifyPoll()
		if ctx.Err() != nil {
			p.logger.Info("polling stopped", "source", p.identifier)
			p.setState(StateIdle)
			return
		}
	}
}

func (p *Poller) notifyPoll() {
	select {
	case p.pollNotify <- struct{}{}:
	default:
	}
}

// PollNotify exposes a channel that receives a signal after every completed
// cycle, for tests that need to synchronize with a fake clock instead of
// waiting on real sleeps.
func (p *Poller) PollNotify() <-chan struct{} {
	return p.pollNotify
}

// cycle executes one full iteration of the Polling-state loop: fetch,
// classify, close-check, dispatch, sleep. Returns only once its adaptive
// sleep has elapsed or the context has been cancelled.
func (p *Poller) cycle(ctx context.Context) error {
	records, err := p.adapter.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	now := p.clock.Now()

	var newPlays []play.Record
	if p.adapter.Windowed() {
		newPlays = p.classifyWindowed(records, now)
	} else {
		newPlays = p.classifyTimestamped(records, now)
	}

	closeToInterval := false
	for _, r := range newPlays {
		if r.Data.HasPlayDate && absDuration(now.Sub(r.Data.PlayDate)) < p.config.CloseThreshold {
			closeToInterval = true
			break
		}
	}
	if closeToInterval {
		p.logger.Debug("close-to-interval detected, delaying dispatch", "source", p.identifier)
		if err := p.sleeper.Sleep(ctx, p.config.CloseDelay); err != nil {
			return err
		}
	}

	accepted := p.dispatcher.Dispatch(ctx, newPlays, dispatch.Options{
		ForceRefresh: closeToInterval,
		ScrobbleFrom: p.identifier,
		ScrobbleTo:   p.scrobbleTo,
	})

	p.mu.Lock()
	p.tracksDiscovered += len(accepted)
	if len(newPlays) == 0 {
		p.checkCount++
	} else if len(accepted) > 0 {
		p.checkCount = 0
		p.lastActivityAt = now
	}
	sleepFor := p.adaptiveSleepLocked(now)
	p.mu.Unlock()

	if len(accepted) > 0 {
		p.logger.Info("dispatched new plays", "source", p.identifier, "count", len(accepted))
	}

	p.saveCursor(ctx)

	return p.sleeper.Sleep(ctx, sleepFor)
}

// classifyTimestamped handles sources with reliable
// playDates: a record is newly discovered iff its playDate exceeds the
// high-water mark, which then advances monotonically.
func (p *Poller) classifyTimestamped(records []play.Record, now time.Time) []play.Record {
	p.mu.RLock()
	last := p.lastTrackPlayedAt
	p.mu.RUnlock()

	maxSeen := last
	var newPlays []play.Record
	for _, r := range records {
		if play.Invalid(r) {
			p.logger.Warn("dropping invalid play record", "source", p.identifier, "track", r.Data.Track)
			continue
		}
		if !play.Valid(r) {
			continue
		}
		if r.Data.PlayDate.After(last) {
			r.Meta.NewFromSource = true
			newPlays = append(newPlays, r)
			if r.Data.PlayDate.After(maxSeen) {
				maxSeen = r.Data.PlayDate
			}
		}
	}

	p.mu.Lock()
	if maxSeen.After(p.lastTrackPlayedAt) {
		p.lastTrackPlayedAt = maxSeen
	}
	p.mu.Unlock()

	return newPlays
}

// classifyWindowed implements the §4.2 recent-window reconciler path for
// sources without reliable per-item timestamps.
func (p *Poller) classifyWindowed(records []play.Record, now time.Time) []play.Record {
	p.mu.RLock()
	previous := p.recentlyPlayed
	p.mu.RUnlock()

	result := reconcile.Reconcile(previous, records, now)
	if !result.Consistent {
		p.logger.Warn("inconsistent reorder from source, discarding diff", "source", p.identifier, "diff", result.Diff.Summary())
	} else if len(result.Diff.Entries) > 0 {
		p.logger.Debug("recent window changed", "source", p.identifier, "diff", result.Diff.Summary())
	}

	current := append([]play.Record(nil), records...)
	if len(current) > p.config.WindowSize {
		current = current[:p.config.WindowSize]
	}

	p.mu.Lock()
	p.recentlyPlayed = current
	p.mu.Unlock()

	return result.New
}

// adaptiveSleepLocked computes the next poll interval. Callers must hold p.mu.
func (p *Poller) adaptiveSleepLocked(now time.Time) time.Duration {
	sleepTime := p.config.Interval
	quietFor := absDuration(now.Sub(p.lastTrackPlayedAt))
	triggerThreshold := minDuration(p.config.Interval*time.Duration(p.config.BackoffTriggerFactor), quietThresholdCap)

	if p.checkCount > p.config.QuietCycleThreshold &&
		sleepTime < p.config.MaxInterval &&
		quietFor >= triggerThreshold {
		sleepTime = minDuration(p.config.Interval*time.Duration(p.config.BackoffFactor), p.config.BackoffCap)
	}
	return sleepTime
}

// absDuration is the resolved form of the source's defensive Math.abs: since
// lastTrackPlayedAt never exceeds now in correct operation, this is never
// actually negative, but callers keep the guard rather than assume it.
func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
