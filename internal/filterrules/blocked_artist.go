package filterrules

import (
	"fmt"
	"strings"

	"scrobblerd/internal/play"
)

// BlockedArtist suppresses plays by any artist on a configured blocklist,
// matched case-insensitively against both track and album artists.
type BlockedArtist struct {
	blocked map[string]struct{}
}

func NewBlockedArtist(artists []string) *BlockedArtist {
	blocked := make(map[string]struct{}, len(artists))
	for _, a := range artists {
		blocked[strings.ToLower(a)] = struct{}{}
	}
	return &BlockedArtist{blocked: blocked}
}

func (r *BlockedArtist) Name() string { return "blocked_artist" }

func (r *BlockedArtist) Evaluate(p play.Record) Verdict {
	if len(r.blocked) == 0 {
		return Verdict{}
	}
	for _, a := range append(append([]string{}, p.Data.Artists...), p.Data.AlbumArtists...) {
		if _, ok := r.blocked[strings.ToLower(a)]; ok {
			return Verdict{Suppress: true, Reason: fmt.Sprintf("artist %q is blocked", a)}
		}
	}
	return Verdict{}
}
