package backfill

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrobblerd/internal/clock"
	"scrobblerd/internal/dispatch"
	"scrobblerd/internal/play"
)

type fakeBackfiller struct {
	mu      sync.Mutex
	since   []time.Time
	records []play.Record
	err     error
}

func (f *fakeBackfiller) Backfill(ctx context.Context, since time.Time) ([]play.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = append(f.since, since)
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

type notBackfiller struct{}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatch.Options
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, plays []play.Record, opts dispatch.Options) []play.Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, opts)
	return plays
}

func rec(track string) play.Record {
	return play.Record{Data: play.Data{Track: track}}
}

func TestRunOnceSkipsNonBackfillerSources(t *testing.T) {
	d := &fakeDispatcher{}
	s := New([]Source{{Name: "plain", Adapter: notBackfiller{}}}, d)

	s.RunOnce(context.Background())

	assert.Empty(t, d.calls)
}

func TestRunOnceDispatchesBackfilledRecordsTaggedHistorical(t *testing.T) {
	bf := &fakeBackfiller{records: []play.Record{rec("A"), rec("B")}}
	d := &fakeDispatcher{}
	s := New([]Source{{Name: "lastfm:alice", Adapter: bf, Lookback: 24 * time.Hour}}, d)

	s.RunOnce(context.Background())

	require.Len(t, d.calls, 1)
	assert.Equal(t, "lastfm:alice", d.calls[0].ScrobbleFrom)
	for _, r := range bf.records {
		assert.True(t, r.Meta.Historical)
	}
}

func TestRunOnceUsesLookbackToComputeSince(t *testing.T) {
	bf := &fakeBackfiller{}
	fc := clock.NewFake(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	s := New([]Source{{Name: "src", Adapter: bf, Lookback: 48 * time.Hour}}, &fakeDispatcher{}, WithClock(fc))

	s.RunOnce(context.Background())

	require.Len(t, bf.since, 1)
	assert.Equal(t, fc.Now().Add(-48*time.Hour), bf.since[0])
}

func TestRunOnceContinuesPastOneSourcesError(t *testing.T) {
	failing := &fakeBackfiller{err: errors.New("upstream down")}
	ok := &fakeBackfiller{records: []play.Record{rec("A")}}
	d := &fakeDispatcher{}
	s := New([]Source{
		{Name: "failing", Adapter: failing},
		{Name: "ok", Adapter: ok},
	}, d)

	s.RunOnce(context.Background())

	require.Len(t, d.calls, 1)
	assert.Equal(t, "ok", d.calls[0].ScrobbleFrom)
}

func TestRunOnceSkipsEmptyResults(t *testing.T) {
	bf := &fakeBackfiller{}
	d := &fakeDispatcher{}
	s := New([]Source{{Name: "src", Adapter: bf}}, d)

	s.RunOnce(context.Background())

	assert.Empty(t, d.calls)
}

func TestStartRunsImmediatelyThenStopStopsCleanly(t *testing.T) {
	bf := &fakeBackfiller{records: []play.Record{rec("A")}}
	d := &fakeDispatcher{}
	s := New([]Source{{Name: "src", Adapter: bf}}, d)

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.calls) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDurationUntil3AMBeforeCutoff(t *testing.T) {
	now := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	got := durationUntil3AM(now)
	assert.Equal(t, 2*time.Hour, got)
}

func TestDurationUntil3AMAfterCutoffWrapsToNextDay(t *testing.T) {
	now := time.Date(2026, 1, 1, 5, 0, 0, 0, time.UTC)
	got := durationUntil3AM(now)
	assert.Equal(t, 22*time.Hour, got)
}
