package model

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestOllamaCompleteSuccess(t *testing.T) {
	var seen ollamaRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/chat" {
			t.Errorf("expected /api/chat, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&seen); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("content-type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3.2","message":{"role":"assistant","content":"Hi there"},"done":true,"done_reason":"stop","prompt_eval_count":21,"eval_count":7}`))
	}))
	defer server.Close()

	provider := NewOllamaProvider(WithEndpoint(server.URL+"/api/chat"), WithHTTPClient(server.Client()))
	resp, err := provider.Complete(context.Background(), CompletionRequest{
		Model:        "llama3.2",
		SystemPrompt: "be brief",
		Messages: []Message{
			{Role: RoleUser, Content: "first"},
			{Role: RoleAssistant, Content: "answer"},
			{Role: Role("tool"), Content: "odd role"},
			{Role: RoleUser, Content: "hello"},
		},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Content != "Hi there" {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if resp.Usage.InputTokens != 21 || resp.Usage.OutputTokens != 7 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}
	if resp.StopReason != "stop" {
		t.Fatalf("unexpected stop reason %q", resp.StopReason)
	}

	if seen.Stream {
		t.Fatalf("expected stream=false")
	}
	wantRoles := []string{"system", "user", "assistant", "user", "user"}
	if len(seen.Messages) != len(wantRoles) {
		t.Fatalf("expected %d messages, got %d", len(wantRoles), len(seen.Messages))
	}
	for i, role := range wantRoles {
		if seen.Messages[i].Role != role {
			t.Fatalf("message %d: expected role %s, got %s", i, role, seen.Messages[i].Role)
		}
	}
	if seen.Messages[0].Content != "be brief" || seen.Messages[4].Content != "hello" {
		t.Fatalf("unexpected message contents %+v", seen.Messages)
	}
}

func TestOllamaCompleteMissingFieldsDefaultToZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"done":true}`))
	}))
	defer server.Close()

	provider := NewOllamaProvider(WithEndpoint(server.URL), WithHTTPClient(server.Client()))
	resp, err := provider.Complete(context.Background(), CompletionRequest{Model: "llama3.2", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Content != "" || resp.Usage != (Usage{}) {
		t.Fatalf("expected empty content and zero usage, got %+v", resp)
	}
	if resp.Model != "llama3.2" {
		t.Fatalf("expected request model fallback, got %q", resp.Model)
	}
}

func TestOllamaCompleteErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"nope\" not found"}`))
	}))
	defer server.Close()

	provider := NewOllamaProvider(WithEndpoint(server.URL), WithHTTPClient(server.Client()))
	_, err := provider.Complete(context.Background(), CompletionRequest{Model: "nope", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || !strings.Contains(apiErr.Message, "not found") {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
	if !strings.Contains(apiErr.Body, "error") {
		t.Fatalf("expected raw body to be kept, got %q", apiErr.Body)
	}
}

func TestOllamaCompleteTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	provider := NewOllamaProvider(
		WithEndpoint(server.URL),
		WithHTTPClient(server.Client()),
		WithTimeout(50*time.Millisecond),
	)
	_, err := provider.Complete(context.Background(), CompletionRequest{Model: "llama3.2", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err == nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestOllamaCompleteRequiresModel(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer server.Close()

	provider := NewOllamaProvider(WithEndpoint(server.URL))
	if _, err := provider.Complete(context.Background(), CompletionRequest{}); err == nil {
		t.Fatalf("expected model error")
	}
	if called {
		t.Fatalf("expected no request without a model")
	}
}
