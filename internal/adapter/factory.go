package adapter

import (
	"fmt"

	"scrobblerd/internal/creds"
	"scrobblerd/internal/httputil"
	"scrobblerd/internal/poller"
)

// SourceType names one supported upstream kind.
type SourceType string

const (
	SourceLastFM       SourceType = "lastfm"
	SourceListenBrainz SourceType = "listenbrainz"
)

// New builds the poller.Adapter for one configured source, wiring whichever
// credential the source needs out of the credential manager.
func New(sourceType SourceType, sourceName string, cm *creds.Manager) (poller.Adapter, error) {
	switch sourceType {
	case SourceLastFM:
		if err := httputil.ValidateIntegrationURL(defaultLastFMBaseURL); err != nil {
			return nil, fmt.Errorf("adapter: lastfm base URL: %w", err)
		}
		cred, err := cm.SessionKey(sourceName)
		if err != nil {
			return nil, fmt.Errorf("adapter: loading lastfm credential for %s: %w", sourceName, err)
		}
		return NewLastFM(cred.APIKey, cred.Username), nil
	case SourceListenBrainz:
		if err := httputil.ValidateIntegrationURL(defaultListenBrainzBaseURL); err != nil {
			return nil, fmt.Errorf("adapter: listenbrainz base URL: %w", err)
		}
		cred, err := cm.Token(sourceName)
		if err != nil {
			return nil, fmt.Errorf("adapter: loading listenbrainz credential for %s: %w", sourceName, err)
		}
		return NewListenBrainz(cred.Token, cred.Username), nil
	default:
		return nil, fmt.Errorf("adapter: unsupported source type %q", sourceType)
	}
}
