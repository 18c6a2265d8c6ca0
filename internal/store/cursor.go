package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveCursor upserts the resume point for sourceName: the watermark a
// restarted Poller should pick up classifyTimestamped from, and a
// checksum of its last recent-window snapshot. Unlike credentials this is
// plaintext and best-effort; losing it only costs a cold start, not a
// security property.
func (s *Store) SaveCursor(ctx context.Context, sourceName string, lastTrackPlayedAt time.Time, windowChecksum string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (source_name, last_track_played_at, window_checksum, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source_name) DO UPDATE SET
			last_track_played_at = excluded.last_track_played_at,
			window_checksum = excluded.window_checksum,
			updated_at = excluded.updated_at`,
		sourceName,
		lastTrackPlayedAt.UTC().Format(time.RFC3339Nano),
		windowChecksum,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store: saving cursor for %s: %w", sourceName, err)
	}
	return nil
}

// LoadCursor retrieves the resume point for sourceName, if one was ever
// saved. found is false (with a nil error) when no row exists yet, which
// is the normal case for a source's very first run.
func (s *Store) LoadCursor(ctx context.Context, sourceName string) (lastTrackPlayedAt time.Time, windowChecksum string, found bool, err error) {
	var playedAt string
	row := s.db.QueryRowContext(ctx,
		`SELECT last_track_played_at, window_checksum FROM cursors WHERE source_name = ?`,
		sourceName,
	)
	if err := row.Scan(&playedAt, &windowChecksum); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, "", false, nil
		}
		return time.Time{}, "", false, fmt.Errorf("store: loading cursor for %s: %w", sourceName, err)
	}

	parsed, err := parseSQLiteTime(playedAt)
	if err != nil {
		return time.Time{}, "", false, fmt.Errorf("store: parsing cursor timestamp for %s: %w", sourceName, err)
	}
	return parsed, windowChecksum, true, nil
}
