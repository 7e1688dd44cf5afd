package model

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

const maxResponseBytes = 1 << 20

// endpoint is the HTTP target shared by every backend: one URL, one client
// and a hard per-call deadline.
type endpoint struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// Option configures a provider's endpoint.
type Option func(*endpoint)

func WithEndpoint(url string) Option {
	return func(e *endpoint) {
		if trimmed := strings.TrimSpace(url); trimmed != "" {
			e.url = trimmed
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(e *endpoint) {
		if client != nil {
			e.client = client
		}
	}
}

// WithTimeout overrides the per-call deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(e *endpoint) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

func newEndpoint(defaultURL string, timeout time.Duration, opts []Option) endpoint {
	e := endpoint{url: defaultURL, client: &http.Client{}, timeout: timeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&e)
		}
	}
	return e
}

// errorMessageFunc pulls the human readable message out of a backend error
// body. An empty result falls back to the raw body.
type errorMessageFunc func(body []byte) string

// post sends payload as JSON and decodes a 2xx answer into out. Non-2xx
// answers come back as *APIError.
func (e endpoint) post(ctx context.Context, kind Kind, header http.Header, payload any, out any, extract errorMessageFunc) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", kind, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", kind, err)
	}
	for key, values := range header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	httpReq.Header.Set("content-type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call %s api: %w", kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		return newAPIError(kind, resp.StatusCode, raw, extract)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", kind, err)
	}
	return nil
}

func newAPIError(kind Kind, status int, raw []byte, extract errorMessageFunc) *APIError {
	body := strings.TrimSpace(string(raw))
	message := body
	if len(raw) > 0 && extract != nil {
		if extracted := strings.TrimSpace(extract(raw)); extracted != "" {
			message = extracted
		}
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &APIError{Provider: kind, StatusCode: status, Body: body, Message: message}
}

// nestedErrorMessage reads the {"error":{"message":...}} envelope shared by
// the hosted backends.
func nestedErrorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	return envelope.Error.Message
}

func pickModel(reported, requested string) string {
	if reported != "" {
		return reported
	}
	return requested
}

func normalizedRole(role Role) Role {
	return Role(strings.ToLower(strings.TrimSpace(string(role))))
}
