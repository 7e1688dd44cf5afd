package model

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAICompleteSuccess(t *testing.T) {
	var seen struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("expected /v1/chat/completions, got %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("expected bearer auth, got %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&seen); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","model":"gpt-test","choices":[{"index":0,"message":{"role":"assistant","content":"Sure thing"},"finish_reason":"stop"}],"usage":{"prompt_tokens":40,"completion_tokens":5,"total_tokens":45}}`))
	}))
	defer server.Close()

	provider := NewOpenAIProvider("test-key", WithEndpoint(server.URL+"/v1/chat/completions"), WithHTTPClient(server.Client()))
	resp, err := provider.Complete(context.Background(), CompletionRequest{
		Model:        "gpt-test",
		MaxTokens:    4096,
		SystemPrompt: "system prompt",
		Messages: []Message{
			{Role: RoleUser, Content: "earlier"},
			{Role: RoleAssistant, Content: "reply"},
			{Role: RoleUser, Content: "now"},
		},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Content != "Sure thing" || resp.StopReason != "stop" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Usage.InputTokens != 40 || resp.Usage.OutputTokens != 5 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}

	if seen.MaxTokens != 4096 || seen.Model != "gpt-test" {
		t.Fatalf("unexpected request %+v", seen)
	}
	if len(seen.Messages) != 4 || seen.Messages[0].Role != "system" || seen.Messages[0].Content != "system prompt" {
		t.Fatalf("expected system prompt first, got %+v", seen.Messages)
	}
	if seen.Messages[3].Role != "user" || seen.Messages[3].Content != "now" {
		t.Fatalf("expected new message last, got %+v", seen.Messages[3])
	}
}

func TestOpenAICompleteMissingFieldsDefaultToZero(t *testing.T) {
	cases := map[string]string{
		"no choices":   `{"id":"x"}`,
		"null content": `{"choices":[{"message":{"role":"assistant","content":null}}]}`,
		"no message":   `{"choices":[{"finish_reason":"stop"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer server.Close()

			provider := NewOpenAIProvider("k", WithEndpoint(server.URL), WithHTTPClient(server.Client()))
			resp, err := provider.Complete(context.Background(), CompletionRequest{Model: "m", MaxTokens: 1, Messages: []Message{{Role: RoleUser, Content: "hi"}}})
			if err != nil {
				t.Fatalf("complete: %v", err)
			}
			if resp.Content != "" || resp.Usage != (Usage{}) {
				t.Fatalf("expected zero values, got %+v", resp)
			}
		})
	}
}

func TestOpenAICompleteServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`upstream exploded`))
	}))
	defer server.Close()

	provider := NewOpenAIProvider("k", WithEndpoint(server.URL), WithHTTPClient(server.Client()))
	_, err := provider.Complete(context.Background(), CompletionRequest{Model: "m", MaxTokens: 1, Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError || apiErr.Message != "upstream exploded" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestOpenAICompleteInvalidRoleFailsBeforeRequest(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer server.Close()

	provider := NewOpenAIProvider("k", WithEndpoint(server.URL))
	_, err := provider.Complete(context.Background(), CompletionRequest{Model: "m", MaxTokens: 1, Messages: []Message{{Role: Role("tool"), Content: "x"}}})
	if err == nil {
		t.Fatalf("expected role error")
	}
	if called {
		t.Fatalf("expected request to fail before network call")
	}
}
