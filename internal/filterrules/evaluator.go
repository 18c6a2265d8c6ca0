// Package filterrules implements the pre-dispatch policy layer the
// Dispatcher consults before accepting a play. Each rule independently
// decides whether a play should be suppressed; the Engine evaluates them
// in registration order and stops at the first suppression.
package filterrules

import (
	"context"
	"time"

	"scrobblerd/internal/play"
)

// Verdict is a single rule's judgment on a play. RuleName is filled in by
// the Engine, not by the rule itself.
type Verdict struct {
	Suppress bool
	Reason   string
	RuleName string
}

// Rule is a pluggable pre-dispatch policy.
type Rule interface {
	Name() string
	Evaluate(p play.Record) Verdict
}

// FilterEvent describes a play a rule suppressed, for the notifier.
type FilterEvent struct {
	Source     string
	Track      string
	Album      string
	Artists    []string
	Rule       string
	Reason     string
	OccurredAt time.Time
}

// Notifier is told about suppressions so operators can see what the
// filter layer is doing without digging through logs.
type Notifier interface {
	NotifyFilter(ctx context.Context, event FilterEvent) error
}
