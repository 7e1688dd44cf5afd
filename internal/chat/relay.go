package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultRelayTimeout = 90 * time.Second
	maxRelayBodyBytes   = 1 << 20
)

// RelayClient delegates turns to the hub's chat endpoint.
type RelayClient struct {
	url        string
	token      string
	httpClient *http.Client
}

type RelayOption func(*RelayClient)

func WithRelayHTTPClient(client *http.Client) RelayOption {
	return func(c *RelayClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithRelayToken(token string) RelayOption {
	return func(c *RelayClient) {
		c.token = strings.TrimSpace(token)
	}
}

func NewRelayClient(url string, opts ...RelayOption) *RelayClient {
	c := &RelayClient{
		url:        strings.TrimSpace(url),
		httpClient: &http.Client{Timeout: defaultRelayTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *RelayClient) Respond(ctx context.Context, req Request) Reply {
	reply, err := c.post(ctx, req)
	if err != nil {
		return Reply{Error: err.Error()}
	}
	return reply
}

func (c *RelayClient) post(ctx context.Context, req Request) (Reply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("marshal relay request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("build relay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Reply{}, fmt.Errorf("post relay request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRelayBodyBytes))
	if err != nil {
		return Reply{}, fmt.Errorf("read relay response: %w", err)
	}

	var reply Reply
	decodeErr := json.Unmarshal(raw, &reply)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		if decodeErr == nil && reply.Error != "" {
			return Reply{}, fmt.Errorf("relay status=%d: %s", resp.StatusCode, reply.Error)
		}
		return Reply{}, fmt.Errorf("relay status=%d body=%q", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if decodeErr != nil {
		return Reply{}, fmt.Errorf("decode relay response: %w", decodeErr)
	}
	if !reply.Success && reply.Error == "" {
		reply.Error = "relay reported failure"
	}
	return reply, nil
}
