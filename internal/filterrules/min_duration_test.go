package filterrules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"scrobblerd/internal/play"
)

func TestMinDurationSuppressesShortListen(t *testing.T) {
	r := NewMinDuration(30 * time.Second)
	p := play.Record{Data: play.Data{Track: "Intro", ListenedForSec: 5, HasListenedFor: true}}

	v := r.Evaluate(p)

	assert.True(t, v.Suppress)
	assert.NotEmpty(t, v.Reason)
}

func TestMinDurationAllowsFullListen(t *testing.T) {
	r := NewMinDuration(30 * time.Second)
	p := play.Record{Data: play.Data{Track: "Song", ListenedForSec: 210, HasListenedFor: true}}

	assert.False(t, r.Evaluate(p).Suppress)
}

func TestMinDurationFallsBackToTrackDuration(t *testing.T) {
	r := NewMinDuration(30 * time.Second)
	p := play.Record{Data: play.Data{Track: "Song", DurationSec: 20, HasDuration: true}}

	assert.True(t, r.Evaluate(p).Suppress)
}

func TestMinDurationPassesWithNoDurationSignal(t *testing.T) {
	r := NewMinDuration(30 * time.Second)
	p := play.Record{Data: play.Data{Track: "Song"}}

	assert.False(t, r.Evaluate(p).Suppress)
}

func TestMinDurationDisabledAtZeroThreshold(t *testing.T) {
	r := NewMinDuration(0)
	p := play.Record{Data: play.Data{Track: "Song", ListenedForSec: 1, HasListenedFor: true}}

	assert.False(t, r.Evaluate(p).Suppress)
}
