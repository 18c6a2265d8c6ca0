// Package adapter holds the per-vendor upstream clients that implement
// poller.Adapter: each knows how to authenticate to and fetch recent plays
// from one music service, and normalizes the response to play.Record.
package adapter

import (
	"context"
	"time"

	"scrobblerd/internal/play"
)

// sortHistoryOldestFirst applies the §4.4 formatter contract: only history
// items (not now-playing) may carry timestamps, and those are returned
// oldest-first.
func sortHistoryOldestFirst(records []play.Record) {
	play.SortOldestFirst(records)
}

// Backfiller is an optional Adapter capability for sources whose upstream
// API can return history older than what the regular polling window
// covers. The backfill scheduler calls this once at startup and daily,
// independently of the regular polling cycle.
type Backfiller interface {
	Backfill(ctx context.Context, since time.Time) ([]play.Record, error)
}
