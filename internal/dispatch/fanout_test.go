package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"scrobblerd/internal/filterrules"
	"scrobblerd/internal/play"
)

type fakeClient struct {
	id       string
	mu       sync.Mutex
	received []play.Record
	failOn   string
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Scrobble(ctx context.Context, p play.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failOn != "" && p.Data.Track == c.failOn {
		return errors.New("upstream rejected")
	}
	c.received = append(c.received, p)
	return nil
}

func rec(track string) play.Record {
	return play.Record{Data: play.Data{Track: track, Album: "A", Artists: []string{"X"}}}
}

func TestDispatchIsIdempotentAcrossCalls(t *testing.T) {
	c := &fakeClient{id: "lastfm"}
	d := NewFanOut([]ScrobbleClient{c})

	first := d.Dispatch(context.Background(), []play.Record{rec("Song")}, Options{})
	second := d.Dispatch(context.Background(), []play.Record{rec("Song")}, Options{})

	if len(first) != 1 {
		t.Fatalf("expected first dispatch to accept 1 play, got %d", len(first))
	}
	if len(second) != 0 {
		t.Fatalf("expected second dispatch of the same play to accept 0, got %d", len(second))
	}
}

func TestDispatchSkipsCrossSourceDuplicate(t *testing.T) {
	c := &fakeClient{id: "listenbrainz"}
	d := NewFanOut([]ScrobbleClient{c})

	d.Dispatch(context.Background(), []play.Record{rec("Song")}, Options{ScrobbleFrom: "plex"})
	accepted := d.Dispatch(context.Background(), []play.Record{rec("Song")}, Options{ScrobbleFrom: "jellyfin", ForceRefresh: true})

	if len(accepted) != 0 {
		t.Fatalf("expected duplicate from a second source to be rejected, got %d", len(accepted))
	}
}

func TestDispatchIsolatesPerClientFailure(t *testing.T) {
	good := &fakeClient{id: "good"}
	bad := &fakeClient{id: "bad", failOn: "Song"}
	d := NewFanOut([]ScrobbleClient{good, bad})

	accepted := d.Dispatch(context.Background(), []play.Record{rec("Song")}, Options{})

	if len(accepted) != 1 {
		t.Fatalf("a failing client must not prevent acceptance, got %d accepted", len(accepted))
	}
	if len(good.received) != 1 {
		t.Fatalf("expected good client to receive the play despite bad client's failure, got %d", len(good.received))
	}
}

func TestDispatchPreservesPerClientOrder(t *testing.T) {
	c := &fakeClient{id: "lastfm"}
	d := NewFanOut([]ScrobbleClient{c})

	plays := []play.Record{rec("One"), rec("Two"), rec("Three")}
	d.Dispatch(context.Background(), plays, Options{})

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.received) != 3 {
		t.Fatalf("expected 3 scrobbles, got %d", len(c.received))
	}
	want := []string{"One", "Two", "Three"}
	for i, w := range want {
		if c.received[i].Data.Track != w {
			t.Fatalf("scrobble order = %v, want %v", c.received, want)
		}
	}
}

func TestDispatchOnlySendsToNamedTargets(t *testing.T) {
	a := &fakeClient{id: "a"}
	b := &fakeClient{id: "b"}
	d := NewFanOut([]ScrobbleClient{a, b})

	d.Dispatch(context.Background(), []play.Record{rec("Song")}, Options{ScrobbleTo: []string{"a"}})

	if len(a.received) != 1 {
		t.Fatalf("expected target client a to receive the play")
	}
	if len(b.received) != 0 {
		t.Fatalf("expected non-targeted client b to receive nothing, got %d", len(b.received))
	}
}

func TestDispatchSuppressesFilteredPlay(t *testing.T) {
	c := &fakeClient{id: "lastfm"}
	engine := filterrules.NewEngine()
	engine.Register(filterrules.NewBlockedArtist([]string{"X"}))
	d := NewFanOut([]ScrobbleClient{c}, WithFilterEngine(engine))

	accepted := d.Dispatch(context.Background(), []play.Record{rec("Song")}, Options{})

	if len(accepted) != 0 {
		t.Fatalf("expected blocked-artist play to be suppressed, got %d accepted", len(accepted))
	}
	if len(c.received) != 0 {
		t.Fatalf("expected client to receive nothing, got %d", len(c.received))
	}
}

func TestDispatchEmptyInputReturnsNil(t *testing.T) {
	d := NewFanOut(nil)
	if got := d.Dispatch(context.Background(), nil, Options{}); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}
