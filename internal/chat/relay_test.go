package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRelayClientPostsRequest(t *testing.T) {
	var got Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("unexpected authorization %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"success":true,"response":"hello back","usage":{"inputTokens":3,"outputTokens":2}}`))
	}))
	defer server.Close()

	client := NewRelayClient(server.URL, WithRelayToken("secret"), WithRelayHTTPClient(server.Client()))
	reply := client.Respond(context.Background(), Request{AppID: "app_acme", Message: "hello", UserID: "@user:x"})

	if !reply.Success || reply.Response != "hello back" || reply.Usage == nil || reply.Usage.OutputTokens != 2 {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if got.AppID != "app_acme" || got.Message != "hello" || got.UserID != "@user:x" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestRelayClientErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"error":"app not found: x"}`))
	}))
	defer server.Close()

	reply := NewRelayClient(server.URL).Respond(context.Background(), Request{AppID: "x", Message: "hi", UserID: "u"})
	if reply.Success || !strings.Contains(reply.Error, "status=404") || !strings.Contains(reply.Error, "app not found") {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestRelayClientUnsuccessfulBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false}`))
	}))
	defer server.Close()

	reply := NewRelayClient(server.URL).Respond(context.Background(), Request{AppID: "x", Message: "hi", UserID: "u"})
	if reply.Success || reply.Error == "" {
		t.Fatalf("expected failure with description, got %+v", reply)
	}
}

func TestRelayClientTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	reply := NewRelayClient(url).Respond(context.Background(), Request{AppID: "x", Message: "hi", UserID: "u"})
	if reply.Success || !strings.Contains(reply.Error, "post relay request") {
		t.Fatalf("unexpected reply %+v", reply)
	}
}
