// Package notifier fans a notifiable Event out to a set of configured
// channels (Discord, generic webhook, Pushover, ntfy), carried over from
// Channel delivery is near-identical regardless of what it notifies about: here that
// is a suppressed play (FilterEvent) or a Poller fault (FaultEvent)
// instead of a rule violation.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"scrobblerd/internal/filterrules"
)

// ChannelType names a notification transport.
type ChannelType string

const (
	ChannelTypeDiscord  ChannelType = "discord"
	ChannelTypeWebhook  ChannelType = "webhook"
	ChannelTypePushover ChannelType = "pushover"
	ChannelTypeNtfy     ChannelType = "ntfy"
)

func (t ChannelType) Valid() bool {
	switch t {
	case ChannelTypeDiscord, ChannelTypeWebhook, ChannelTypePushover, ChannelTypeNtfy:
		return true
	default:
		return false
	}
}

// Channel is one configured notification destination.
type Channel struct {
	Name        string
	ChannelType ChannelType
	Config      json.RawMessage
	Enabled     bool
}

func (c *Channel) Validate() error {
	if c.Name == "" {
		return errors.New("notifier: channel name is required")
	}
	if !c.ChannelType.Valid() {
		return errors.New("notifier: invalid channel type")
	}
	if len(c.Config) == 0 {
		return errors.New("notifier: channel config is required")
	}
	return nil
}

// Kind distinguishes the two event types a channel might be told about.
type Kind string

const (
	KindFilter Kind = "filter"
	KindFault  Kind = "fault"
)

// Event is the generic notifiable occurrence every channel renders.
type Event struct {
	Kind       Kind
	Source     string
	Title      string
	Message    string
	OccurredAt time.Time
	Details    map[string]string
}

// FilterEvent adapts a filterrules suppression into a generic Event.
func FilterEvent(e filterrules.FilterEvent) Event {
	return Event{
		Kind:       KindFilter,
		Source:     e.Source,
		Title:      fmt.Sprintf("play suppressed: %s", e.Rule),
		Message:    fmt.Sprintf("%s — %s", e.Track, e.Reason),
		OccurredAt: e.OccurredAt,
		Details: map[string]string{
			"rule":    e.Rule,
			"track":   e.Track,
			"album":   e.Album,
			"artists": strings.Join(e.Artists, ", "),
		},
	}
}

// NewFaultEvent adapts a Poller fault into a generic Event.
func NewFaultEvent(source string, cause error, occurredAt time.Time) Event {
	return Event{
		Kind:       KindFault,
		Source:     source,
		Title:      fmt.Sprintf("source faulted: %s", source),
		Message:    cause.Error(),
		OccurredAt: occurredAt,
		Details:    map[string]string{"source": source},
	}
}

type Notifier struct {
	client   *http.Client
	channels []Channel
}

func New() *Notifier {
	return &Notifier{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// NotifyFilter satisfies filterrules.Notifier.
func (n *Notifier) NotifyFilter(ctx context.Context, e filterrules.FilterEvent) error {
	return n.Notify(ctx, FilterEvent(e), n.channels)
}

// NotifyFault satisfies poller.FaultNotifier.
func (n *Notifier) NotifyFault(ctx context.Context, source string, cause error, occurredAt time.Time) error {
	return n.Notify(ctx, NewFaultEvent(source, cause, occurredAt), n.channels)
}

// SetChannels replaces the channel set NotifyFilter/NotifyFault fan out to.
func (n *Notifier) SetChannels(channels []Channel) {
	n.channels = channels
}

func (n *Notifier) Notify(ctx context.Context, event Event, channels []Channel) error {
	if len(channels) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []string

	for _, ch := range channels {
		if !ch.Enabled {
			continue
		}
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()

			var err error
			switch ch.ChannelType {
			case ChannelTypeDiscord:
				err = n.sendDiscord(ctx, ch, event)
			case ChannelTypeWebhook:
				err = n.sendWebhook(ctx, ch, event)
			case ChannelTypePushover:
				err = n.sendPushover(ctx, ch, event)
			case ChannelTypeNtfy:
				err = n.sendNtfy(ctx, ch, event)
			default:
				err = fmt.Errorf("unknown channel type: %s", ch.ChannelType)
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name, err))
				mu.Unlock()
			}
		}(ch)
	}

	wg.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

type discordConfig struct {
	WebhookURL string `json:"webhook_url"`
}

func (c *discordConfig) Validate() error {
	if c.WebhookURL == "" {
		return errors.New("webhook_url is required")
	}
	return nil
}

func (n *Notifier) sendDiscord(ctx context.Context, ch Channel, e Event) error {
	var config discordConfig
	if err := json.Unmarshal(ch.Config, &config); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	color := 0x808080
	if e.Kind == KindFault {
		color = 0xFF0000
	}

	fields := make([]map[string]interface{}, 0, len(e.Details))
	for k, v := range e.Details {
		fields = append(fields, map[string]interface{}{"name": k, "value": v, "inline": true})
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       e.Title,
				"description": e.Message,
				"color":       color,
				"fields":      fields,
				"timestamp":   e.OccurredAt.Format(time.RFC3339),
				"footer": map[string]string{
					"text": "scrobblerd",
				},
			},
		},
	}

	return n.postJSON(ctx, config.WebhookURL, payload)
}

type webhookConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (c *webhookConfig) Validate() error {
	if c.URL == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return errors.New("invalid url format")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("url must use http or https scheme")
	}
	if c.Method == "" {
		c.Method = "POST"
	}
	return nil
}

func (n *Notifier) sendWebhook(ctx context.Context, ch Channel, e Event) error {
	var config webhookConfig
	if err := json.Unmarshal(ch.Config, &config); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	payload := map[string]interface{}{
		"event":       string(e.Kind),
		"source":      e.Source,
		"title":       e.Title,
		"message":     e.Message,
		"details":     e.Details,
		"occurred_at": e.OccurredAt.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, config.Method, config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, val := range config.Headers {
		req.Header.Set(k, val)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

type pushoverConfig struct {
	UserKey  string `json:"user_key"`
	APIToken string `json:"api_token"`
}

func (c *pushoverConfig) Validate() error {
	if c.UserKey == "" {
		return errors.New("user_key is required")
	}
	if c.APIToken == "" {
		return errors.New("api_token is required")
	}
	return nil
}

func (n *Notifier) sendPushover(ctx context.Context, ch Channel, e Event) error {
	var config pushoverConfig
	if err := json.Unmarshal(ch.Config, &config); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	priority := "0"
	if e.Kind == KindFault {
		priority = "1"
	}

	form := url.Values{}
	form.Set("token", config.APIToken)
	form.Set("user", config.UserKey)
	form.Set("title", e.Title)
	form.Set("message", e.Message)
	form.Set("priority", priority)
	form.Set("timestamp", fmt.Sprintf("%d", e.OccurredAt.Unix()))

	req, err := http.NewRequestWithContext(ctx, "POST", "https://api.pushover.net/1/messages.json",
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("pushover returned status %d", resp.StatusCode)
	}
	return nil
}

type ntfyConfig struct {
	ServerURL string `json:"server_url"`
	Topic     string `json:"topic"`
	Token     string `json:"token,omitempty"`
}

func (c *ntfyConfig) Validate() error {
	if c.ServerURL == "" {
		c.ServerURL = "https://ntfy.sh"
	}
	if c.Topic == "" {
		return errors.New("topic is required")
	}
	return nil
}

func (n *Notifier) sendNtfy(ctx context.Context, ch Channel, e Event) error {
	var config ntfyConfig
	if err := json.Unmarshal(ch.Config, &config); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	ntfyURL := strings.TrimRight(config.ServerURL, "/") + "/" + config.Topic

	priority := "default"
	if e.Kind == KindFault {
		priority = "urgent"
	}

	req, err := http.NewRequestWithContext(ctx, "POST", ntfyURL, strings.NewReader(e.Message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Title", e.Title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", string(e.Kind))

	if config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+config.Token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("ntfy returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) postJSON(ctx context.Context, dest string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", dest, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}

// TestChannel sends a synthetic fault event to verify channel configuration.
func (n *Notifier) TestChannel(ctx context.Context, ch *Channel) error {
	testEvent := Event{
		Kind:       KindFault,
		Source:     "test",
		Title:      "Test notification from scrobblerd",
		Message:    "This is a test notification.",
		OccurredAt: time.Now().UTC(),
	}
	return n.Notify(ctx, testEvent, []Channel{*ch})
}
