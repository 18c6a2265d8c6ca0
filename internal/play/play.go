// Package play holds the canonical in-memory representation of one play
// event, shared by the reconciler, poller, and dispatcher.
package play

import (
	"sort"
	"time"
)

// Data is the musical content of a play: what was listened to.
type Data struct {
	Artists        []string
	AlbumArtists   []string
	Album          string
	Track          string
	DurationSec    float64
	HasDuration    bool
	PlayDate       time.Time
	HasPlayDate    bool
	ListenedForSec float64
	HasListenedFor bool
}

// Meta is how and where a play was observed.
type Meta struct {
	Source        string
	TrackID       string
	NewFromSource bool
	NowPlaying    bool
	Historical    bool
}

// Record is one play event, passed by value through reconciliation and
// dispatch.
type Record struct {
	Data Data
	Meta Meta
}

// Key identifies a play for newness/dedup comparisons. Prefer the
// source-scoped track ID when present; fall back to the content triple.
type Key struct {
	Source  string
	TrackID string

	Track   string
	Album   string
	Artists string
}

// KeyOf returns the stable identity key used by the reconciler to track
// plays across polling cycles.
func KeyOf(r Record) Key {
	if r.Meta.TrackID != "" {
		return Key{Source: r.Meta.Source, TrackID: r.Meta.TrackID}
	}
	return Key{Track: r.Data.Track, Album: r.Data.Album, Artists: artistSetKey(r.Data.Artists)}
}

func artistSetKey(artists []string) string {
	sorted := append([]string(nil), artists...)
	sort.Strings(sorted)
	key := ""
	for i, a := range sorted {
		if i > 0 {
			key += "\x00"
		}
		key += a
	}
	return key
}

// SameAs reports whether a and b are the same play under the identity
// rule: (source, trackID) match, or (track, album, artist-set) match
// exactly.
func SameAs(a, b Record) bool {
	if a.Meta.TrackID != "" && b.Meta.TrackID != "" {
		return a.Meta.Source == b.Meta.Source && a.Meta.TrackID == b.Meta.TrackID
	}
	return a.Data.Track == b.Data.Track &&
		a.Data.Album == b.Data.Album &&
		artistSetKey(a.Data.Artists) == artistSetKey(b.Data.Artists)
}

// Valid applies the default validity policy: a record is valid iff it
// carries a play date. Timestamp-lacking adapters (window-driven sources)
// use ValidNewFromSource instead.
func Valid(r Record) bool {
	return r.Data.HasPlayDate
}

// ValidNewFromSource is the validity policy for adapters whose upstream API
// does not timestamp items: valid iff the reconciler already promoted the
// record to new.
func ValidNewFromSource(r Record) bool {
	return r.Meta.NewFromSource
}

// Invalid reports the §3 invariant violation: missing playDate and not
// now-playing.
func Invalid(r Record) bool {
	return !r.Data.HasPlayDate && !r.Meta.NowPlaying
}

// SortOldestFirst sorts records with a play date into oldest-first order,
// per the formatter contract in §4.4. Records without a play date are left
// in place relative to each other, after the dated ones.
func SortOldestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		ri, rj := records[i], records[j]
		if !ri.Data.HasPlayDate {
			return false
		}
		if !rj.Data.HasPlayDate {
			return true
		}
		return ri.Data.PlayDate.Before(rj.Data.PlayDate)
	})
}
