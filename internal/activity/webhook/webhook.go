package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"apphub.local/matrix-bots/internal/activity"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxErrorBodyBytes  = 1 << 20
)

type Option func(*Subscriber)

// Subscriber POSTs each event as JSON to a fixed URL.
type Subscriber struct {
	name       string
	URL        string
	httpClient *http.Client
	filter     func(activity.Type) bool
}

func New(name string, url string, opts ...Option) *Subscriber {
	sub := &Subscriber{
		name:       strings.TrimSpace(name),
		URL:        strings.TrimSpace(url),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	if sub.name == "" {
		sub.name = "webhook"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sub)
		}
	}
	return sub
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *Subscriber) {
		if client != nil {
			s.httpClient = client
		}
	}
}

func WithEventFilter(filter func(activity.Type) bool) Option {
	return func(s *Subscriber) {
		s.filter = filter
	}
}

func (s *Subscriber) Name() string {
	return s.name
}

// Handle delivers one event. The event type travels in the X-Hub-Event
// header so receivers can route without decoding the body.
func (s *Subscriber) Handle(ctx context.Context, event activity.Event) error {
	if s.filter != nil && !s.filter(event.Type) {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal activity event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hub-Event", string(event.Type))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	return statusError(resp)
}

// statusError is nil for 2xx answers and otherwise quotes at most
// maxErrorBodyBytes of the receiver's body.
func statusError(resp *http.Response) error {
	if resp.StatusCode/100 == 2 {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes+1))
	if err != nil {
		return fmt.Errorf("webhook status=%d read body: %w", resp.StatusCode, err)
	}
	suffix := ""
	if len(body) > maxErrorBodyBytes {
		body, suffix = body[:maxErrorBodyBytes], " (truncated)"
	}
	return fmt.Errorf("webhook status=%d body=%q%s", resp.StatusCode, body, suffix)
}
