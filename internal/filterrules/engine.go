package filterrules

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"scrobblerd/internal/play"
)

// Engine evaluates registered rules against a play, in registration
// order, stopping at the first suppression.
type Engine struct {
	mu       sync.RWMutex
	rules    []Rule
	notifier Notifier
	logger   *slog.Logger

	notifyWg sync.WaitGroup
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a rule to the end of the evaluation order.
func (e *Engine) Register(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, r)
}

// Evaluate runs every registered rule against p and returns the first
// suppressing verdict, or a pass-through verdict if none suppress it.
// A suppression fires an asynchronous notification and never blocks the
// caller on it.
func (e *Engine) Evaluate(ctx context.Context, p play.Record) Verdict {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for _, rule := range rules {
		v := rule.Evaluate(p)
		if !v.Suppress {
			continue
		}
		v.RuleName = rule.Name()
		e.logger.Debug("filterrules: suppressed play", "rule", rule.Name(), "reason", v.Reason, "track", p.Data.Track, "source", p.Meta.Source)
		e.notify(rule.Name(), v.Reason, p)
		return v
	}
	return Verdict{}
}

func (e *Engine) notify(ruleName, reason string, p play.Record) {
	if e.notifier == nil {
		return
	}
	e.notifyWg.Add(1)
	go func() {
		defer e.notifyWg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		event := FilterEvent{
			Source:     p.Meta.Source,
			Track:      p.Data.Track,
			Album:      p.Data.Album,
			Artists:    p.Data.Artists,
			Rule:       ruleName,
			Reason:     reason,
			OccurredAt: time.Now().UTC(),
		}
		if err := e.notifier.NotifyFilter(ctx, event); err != nil {
			e.logger.Warn("filterrules: notify failed", "error", err)
		}
	}()
}

// WaitForNotifications waits for in-flight suppression notifications to
// complete. Call during graceful shutdown.
func (e *Engine) WaitForNotifications() {
	e.notifyWg.Wait()
}
