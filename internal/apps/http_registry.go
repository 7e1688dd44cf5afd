package apps

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

type HTTPOption func(*HTTPRegistry)

// HTTPRegistry fetches apps from the hub's GET /api/apps endpoint.
type HTTPRegistry struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewHTTPRegistry(baseURL, token string, opts ...HTTPOption) *HTTPRegistry {
	registry := &HTTPRegistry{
		endpoint: strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/api/apps",
		token:    strings.TrimSpace(token),
		client:   &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(registry)
		}
	}
	return registry
}

func WithHTTPClient(client *http.Client) HTTPOption {
	return func(r *HTTPRegistry) {
		if client != nil {
			r.client = client
		}
	}
}

var _ Registry = (*HTTPRegistry)(nil)

type wireApp struct {
	ID           json.RawMessage `json:"id"`
	Name         string          `json:"name"`
	Domain       string          `json:"domain"`
	MatrixUserID string          `json:"matrix_user_id"`
	Status       string          `json:"status"`
	Capabilities []string        `json:"capabilities"`
	APIConfig    *APIConfig      `json:"api_config"`
}

func (r *HTTPRegistry) List(ctx context.Context) ([]AppInstance, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build app list request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch app list: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read app list: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch app list: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	wire, err := decodeAppList(body)
	if err != nil {
		return nil, fmt.Errorf("decode app list: %w", err)
	}

	out := make([]AppInstance, 0, len(wire))
	for _, item := range wire {
		app := normalize(AppInstance{
			ID:           rawID(item.ID),
			Name:         item.Name,
			Domain:       item.Domain,
			MatrixUserID: item.MatrixUserID,
			Status:       Status(item.Status),
			Capabilities: item.Capabilities,
			APIConfig:    item.APIConfig,
		})
		if app.ID == "" {
			continue
		}
		out = append(out, app)
	}
	return out, nil
}

// decodeAppList accepts a bare array or a {"data": [...]} envelope.
func decodeAppList(body []byte) ([]wireApp, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []wireApp
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var envelope struct {
		Data []wireApp `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// rawID renders a JSON string or number id as a plain string.
func rawID(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		return text
	}
	return string(trimmed)
}
