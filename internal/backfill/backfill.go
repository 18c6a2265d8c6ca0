// Package backfill runs a daily sweep over configured sources whose
// adapter can return history older than the regular polling window
// covers, following an immediate-then-daily-3AM pattern with a DST-safe
// recompute on every fire.
package backfill

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"scrobblerd/internal/adapter"
	"scrobblerd/internal/clock"
	"scrobblerd/internal/dispatch"
)

// Source is one configured source the scheduler sweeps. Adapter is
// expected to optionally implement adapter.Backfiller; sources whose
// adapter doesn't are silently skipped.
type Source struct {
	Name     string
	Adapter  any
	Lookback time.Duration
}

// Scheduler runs Source.Adapter.Backfill once at startup and then daily,
// dispatching whatever it returns directly — it never touches the
// Reconciler or a Poller's lastTrackPlayedAt.
type Scheduler struct {
	sources    []Source
	dispatcher dispatch.Dispatcher
	clock      clock.Clock
	logger     *slog.Logger

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func New(sources []Source, dispatcher dispatch.Dispatcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		sources:    sources,
		dispatcher: dispatcher,
		clock:      clock.Real{},
		logger:     slog.Default(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the scheduler: immediate sweep on startup, then daily at
// 3 AM local time. Safe to call multiple times; only the first takes effect.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		go s.run(ctx)
	})
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	s.RunOnce(ctx)

	timer := time.NewTimer(durationUntil3AM(s.clock.Now().Local()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.RunOnce(ctx)
			timer.Reset(durationUntil3AM(s.clock.Now().Local()))
		}
	}
}

// RunOnce sweeps every Backfiller-capable source a single time.
func (s *Scheduler) RunOnce(ctx context.Context) {
	for _, src := range s.sources {
		if ctx.Err() != nil {
			return
		}
		bf, ok := src.Adapter.(adapter.Backfiller)
		if !ok {
			continue
		}

		since := s.clock.Now().Add(-src.Lookback)
		records, err := bf.Backfill(ctx, since)
		if err != nil {
			s.logger.Error("backfill: fetch failed", "source", src.Name, "error", err)
			continue
		}
		if len(records) == 0 {
			continue
		}

		for i := range records {
			records[i].Meta.Source = src.Name
			records[i].Meta.Historical = true
		}

		accepted := s.dispatcher.Dispatch(ctx, records, dispatch.Options{ScrobbleFrom: src.Name})
		s.logger.Info("backfill: swept source", "source", src.Name, "fetched", len(records), "accepted", len(accepted))
	}
}

// durationUntil3AM uses local time so backfill runs at 3 AM in the host's timezone.
func durationUntil3AM(now time.Time) time.Duration {
	next3AM := time.Date(now.Year(), now.Month(), now.Day(), 3, 0, 0, 0, now.Location())
	if !now.Before(next3AM) {
		next3AM = time.Date(now.Year(), now.Month(), now.Day()+1, 3, 0, 0, 0, now.Location())
	}
	return next3AM.Sub(now)
}
