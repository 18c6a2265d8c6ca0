package filterrules

import (
	"fmt"
	"time"

	"scrobblerd/internal/play"
)

// MinDuration suppresses plays shorter than a configured threshold —
// skips and previews, as distinct from a genuinely completed listen.
// It prefers the vendor-reported listenedFor (actual time spent playing)
// over the track's nominal duration, since a skip can be shorter than
// the track itself reports.
type MinDuration struct {
	threshold time.Duration
}

func NewMinDuration(threshold time.Duration) *MinDuration {
	return &MinDuration{threshold: threshold}
}

func (r *MinDuration) Name() string { return "min_duration" }

func (r *MinDuration) Evaluate(p play.Record) Verdict {
	if r.threshold <= 0 {
		return Verdict{}
	}

	var observed time.Duration
	switch {
	case p.Data.HasListenedFor:
		observed = time.Duration(p.Data.ListenedForSec * float64(time.Second))
	case p.Data.HasDuration:
		observed = time.Duration(p.Data.DurationSec * float64(time.Second))
	default:
		// No duration signal at all; nothing to suppress on.
		return Verdict{}
	}

	if observed >= r.threshold {
		return Verdict{}
	}
	return Verdict{
		Suppress: true,
		Reason:   fmt.Sprintf("listened %s, below the %s minimum", observed, r.threshold),
	}
}
