package filterrules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"scrobblerd/internal/play"
)

func TestBlockedArtistSuppressesExactMatch(t *testing.T) {
	r := NewBlockedArtist([]string{"Nickelback"})
	p := play.Record{Data: play.Data{Track: "Photograph", Artists: []string{"Nickelback"}}}

	v := r.Evaluate(p)

	assert.True(t, v.Suppress)
}

func TestBlockedArtistMatchIsCaseInsensitive(t *testing.T) {
	r := NewBlockedArtist([]string{"nickelback"})
	p := play.Record{Data: play.Data{Track: "Photograph", Artists: []string{"NICKELBACK"}}}

	assert.True(t, r.Evaluate(p).Suppress)
}

func TestBlockedArtistChecksAlbumArtistsToo(t *testing.T) {
	r := NewBlockedArtist([]string{"various artists"})
	p := play.Record{Data: play.Data{Track: "Track 3", Artists: []string{"Someone"}, AlbumArtists: []string{"Various Artists"}}}

	assert.True(t, r.Evaluate(p).Suppress)
}

func TestBlockedArtistAllowsUnlisted(t *testing.T) {
	r := NewBlockedArtist([]string{"Nickelback"})
	p := play.Record{Data: play.Data{Track: "Song", Artists: []string{"Radiohead"}}}

	assert.False(t, r.Evaluate(p).Suppress)
}

func TestBlockedArtistEmptyListAllowsEverything(t *testing.T) {
	r := NewBlockedArtist(nil)
	p := play.Record{Data: play.Data{Track: "Song", Artists: []string{"Anyone"}}}

	assert.False(t, r.Evaluate(p).Suppress)
}
