package filterrules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrobblerd/internal/play"
)

func TestDuplicateWindowSuppressesWithinWindow(t *testing.T) {
	r := NewDuplicateWindow(5 * time.Minute)
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	p := play.Record{Data: play.Data{Track: "Song", Album: "Album", Artists: []string{"Artist"}}}

	require.False(t, r.Evaluate(p).Suppress)

	clock = clock.Add(time.Minute)
	v := r.Evaluate(p)
	assert.True(t, v.Suppress)
}

func TestDuplicateWindowAllowsAfterWindowExpires(t *testing.T) {
	r := NewDuplicateWindow(time.Minute)
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	p := play.Record{Data: play.Data{Track: "Song", Album: "Album", Artists: []string{"Artist"}}}
	require.False(t, r.Evaluate(p).Suppress)

	clock = clock.Add(2 * time.Minute)
	assert.False(t, r.Evaluate(p).Suppress)
}

func TestDuplicateWindowDistinguishesDifferentPlays(t *testing.T) {
	r := NewDuplicateWindow(5 * time.Minute)
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	a := play.Record{Data: play.Data{Track: "Song A", Album: "Album", Artists: []string{"Artist"}}}
	b := play.Record{Data: play.Data{Track: "Song B", Album: "Album", Artists: []string{"Artist"}}}

	require.False(t, r.Evaluate(a).Suppress)
	assert.False(t, r.Evaluate(b).Suppress)
}

func TestDuplicateWindowUsesSourceTrackIDWhenPresent(t *testing.T) {
	r := NewDuplicateWindow(5 * time.Minute)
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	p1 := play.Record{Data: play.Data{Track: "Song"}, Meta: play.Meta{Source: "lastfm", TrackID: "abc"}}
	p2 := play.Record{Data: play.Data{Track: "Different title tagged wrong"}, Meta: play.Meta{Source: "lastfm", TrackID: "abc"}}

	require.False(t, r.Evaluate(p1).Suppress)
	assert.True(t, r.Evaluate(p2).Suppress)
}

func TestDuplicateWindowDisabledAtZeroWindow(t *testing.T) {
	r := NewDuplicateWindow(0)
	p := play.Record{Data: play.Data{Track: "Song"}}

	require.False(t, r.Evaluate(p).Suppress)
	assert.False(t, r.Evaluate(p).Suppress)
}
