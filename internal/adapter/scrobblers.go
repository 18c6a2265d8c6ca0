package adapter

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"scrobblerd/internal/httputil"
	"scrobblerd/internal/play"
)

// LastFMScrobbler implements dispatch.ScrobbleClient against Last.fm's
// track.scrobble method, signed the same way creds.LastFMHandshake signs
// auth.getSession: sorted param concatenation plus the shared secret, MD5'd.
type LastFMScrobbler struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	sharedSecret string
	sessionKey   string
	username     string
}

func NewLastFMScrobbler(apiKey, sharedSecret, sessionKey, username string) *LastFMScrobbler {
	return &LastFMScrobbler{
		httpClient:   httputil.NewClientWithTimeout(httputil.DefaultTimeout),
		baseURL:      defaultLastFMBaseURL,
		apiKey:       apiKey,
		sharedSecret: sharedSecret,
		sessionKey:   sessionKey,
		username:     username,
	}
}

func (c *LastFMScrobbler) ID() string { return "lastfm:" + c.username }

// Scrobble submits one play via track.scrobble. now-playing items carry no
// reliable playDate (§3 invariant), so those are sent to track.updateNowPlaying
// instead; only completed plays are scrobbled.
func (c *LastFMScrobbler) Scrobble(ctx context.Context, p play.Record) error {
	artist := ""
	if len(p.Data.Artists) > 0 {
		artist = p.Data.Artists[0]
	}
	params := map[string]string{
		"api_key": c.apiKey,
		"sk":      c.sessionKey,
		"artist":  artist,
		"track":   p.Data.Track,
		"album":   p.Data.Album,
	}
	if p.Meta.NowPlaying {
		params["method"] = "track.updateNowPlaying"
	} else {
		params["method"] = "track.scrobble"
		params["timestamp"] = strconv.FormatInt(p.Data.PlayDate.Unix(), 10)
	}
	params["api_sig"] = signLastFM(params, c.sharedSecret)

	form := url.Values{}
	for k, v := range params {
		if v != "" {
			form.Set(k, v)
		}
	}
	form.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, nil)
	if err != nil {
		return fmt.Errorf("lastfm scrobbler: building request: %w", err)
	}
	req.URL.RawQuery = form.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("lastfm scrobbler: submitting %q: %w", p.Data.Track, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxResponseBody))
		httputil.DrainBody(resp)
		return fmt.Errorf("lastfm scrobbler: status %d: %s", resp.StatusCode, body)
	}
	return nil
}

func signLastFM(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "format" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf []byte
	for _, k := range keys {
		if params[k] == "" {
			continue
		}
		buf = append(buf, k...)
		buf = append(buf, params[k]...)
	}
	buf = append(buf, secret...)

	sum := md5.Sum(buf)
	return hex.EncodeToString(sum[:])
}

// ListenBrainzScrobbler implements dispatch.ScrobbleClient against
// ListenBrainz's submit-listens endpoint.
type ListenBrainzScrobbler struct {
	httpClient *http.Client
	baseURL    string
	token      string
	username   string
}

func NewListenBrainzScrobbler(token, username string) *ListenBrainzScrobbler {
	return &ListenBrainzScrobbler{
		httpClient: httputil.NewClientWithTimeout(httputil.DefaultTimeout),
		baseURL:    defaultListenBrainzBaseURL,
		token:      token,
		username:   username,
	}
}

func (c *ListenBrainzScrobbler) ID() string { return "listenbrainz:" + c.username }

type listenbrainzSubmission struct {
	ListenType string               `json:"listen_type"`
	Payload    []listenbrainzPayload `json:"payload"`
}

type listenbrainzPayload struct {
	ListenedAt    int64                  `json:"listened_at,omitempty"`
	TrackMetadata listenbrainzTrackMeta  `json:"track_metadata"`
}

type listenbrainzTrackMeta struct {
	ArtistName  string `json:"artist_name"`
	ReleaseName string `json:"release_name,omitempty"`
	TrackName   string `json:"track_name"`
}

func (c *ListenBrainzScrobbler) Scrobble(ctx context.Context, p play.Record) error {
	artist := ""
	if len(p.Data.Artists) > 0 {
		artist = p.Data.Artists[0]
	}

	listenType := "single"
	var listenedAt int64
	if p.Meta.NowPlaying {
		listenType = "playing_now"
	} else {
		listenedAt = p.Data.PlayDate.Unix()
	}

	submission := listenbrainzSubmission{
		ListenType: listenType,
		Payload: []listenbrainzPayload{{
			ListenedAt: listenedAt,
			TrackMetadata: listenbrainzTrackMeta{
				ArtistName:  artist,
				ReleaseName: p.Data.Album,
				TrackName:   p.Data.Track,
			},
		}},
	}

	body, err := json.Marshal(submission)
	if err != nil {
		return fmt.Errorf("listenbrainz scrobbler: encoding submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/submit-listens", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("listenbrainz scrobbler: building request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("listenbrainz scrobbler: submitting %q: %w", p.Data.Track, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxResponseBody))
		httputil.DrainBody(resp)
		return fmt.Errorf("listenbrainz scrobbler: status %d: %s", resp.StatusCode, respBody)
	}
	return nil
}
