package apps

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestHTTPRegistryList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/apps" {
			t.Errorf("expected /api/apps, got %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer hub-token" {
			t.Errorf("expected bearer token, got %q", got)
		}
		_, _ = w.Write([]byte(`[
			{"id": 7, "name": "Acme Travel", "domain": "EchoTravels.app", "matrix_user_id": "@acme:hub.example.org", "status": "online",
			 "capabilities": ["bookings", " ", "itineraries"],
			 "api_config": {"access_token": "syt_token", "device_id": "DEV1"}},
			{"id": "beat-1", "name": "Beat", "domain": "beatsync.app", "matrix_user_id": "@beat:hub.example.org", "status": "OFFLINE"},
			{"name": "no id"}
		]`))
	}))
	defer server.Close()

	registry := NewHTTPRegistry(server.URL+"/", "hub-token", WithHTTPClient(server.Client()))
	list, err := registry.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 apps, got %d", len(list))
	}

	acme := list[0]
	if acme.ID != "7" || acme.Domain != "echotravels.app" || acme.Status != StatusOnline {
		t.Fatalf("unexpected first app %+v", acme)
	}
	if len(acme.Capabilities) != 2 || acme.Capabilities[1] != "itineraries" {
		t.Fatalf("unexpected capabilities %v", acme.Capabilities)
	}
	if acme.Credentials().AccessToken != "syt_token" || acme.Credentials().DeviceID != "DEV1" {
		t.Fatalf("unexpected credentials %+v", acme.Credentials())
	}
	if list[1].Status != StatusOffline {
		t.Fatalf("expected status to be normalized, got %q", list[1].Status)
	}
	if list[1].Credentials() != (APIConfig{}) {
		t.Fatalf("expected empty credentials for app without api_config")
	}
}

func TestHTTPRegistryListDataEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"a1","name":"Shop","domain":"shopmate.app","matrix_user_id":"@shop:hub"}]}`))
	}))
	defer server.Close()

	list, err := NewHTTPRegistry(server.URL, "").List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "a1" {
		t.Fatalf("unexpected list %+v", list)
	}
	if list[0].Status != StatusOnline {
		t.Fatalf("expected missing status to default to online, got %q", list[0].Status)
	}
}

func TestHTTPRegistryListErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Unauthenticated."}`))
	}))
	defer server.Close()

	_, err := NewHTTPRegistry(server.URL, "bad").List(context.Background())
	if err == nil || !strings.Contains(err.Error(), "status 401") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestFileRegistryList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apps.yaml")
	content := `
apps:
  - id: fit-1
    name: FitPulse
    domain: fitpulse.app
    matrix_user_id: "@fit:hub.example.org"
    status: degraded
    capabilities: [workouts, nutrition]
    api_config:
      username: fitbot
      password: hunter2
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write apps file: %v", err)
	}

	list, err := NewFileRegistry(path).List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 app, got %d", len(list))
	}
	app := list[0]
	if app.Status != StatusDegraded || app.Credentials().Username != "fitbot" || app.Credentials().Password != "hunter2" {
		t.Fatalf("unexpected app %+v", app)
	}
}

func TestFileRegistryRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apps.yaml")
	content := "apps:\n  - id: a\n  - id: a\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write apps file: %v", err)
	}
	if _, err := NewFileRegistry(path).List(context.Background()); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestFileRegistryMissingFile(t *testing.T) {
	if _, err := NewFileRegistry(filepath.Join(t.TempDir(), "missing.yaml")).List(context.Background()); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestFind(t *testing.T) {
	registry := NewStaticRegistry(AppInstance{ID: "a"}, AppInstance{ID: "b", Name: "Bee"})

	app, err := Find(context.Background(), registry, " b ")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if app.Name != "Bee" {
		t.Fatalf("unexpected app %+v", app)
	}

	if _, err := Find(context.Background(), registry, "zzz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := Find(context.Background(), registry, ""); err == nil {
		t.Fatalf("expected empty id error")
	}
}

type countingRegistry struct {
	calls int
	list  []AppInstance
}

func (c *countingRegistry) List(context.Context) ([]AppInstance, error) {
	c.calls++
	return c.list, nil
}

func TestCachedRegistry(t *testing.T) {
	inner := &countingRegistry{list: []AppInstance{{ID: "a"}}}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	registry := NewCachedRegistry(inner, time.Minute)
	registry.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := registry.List(context.Background()); err != nil {
			t.Fatalf("list: %v", err)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("expected one upstream call, got %d", inner.calls)
	}

	now = now.Add(2 * time.Minute)
	if _, err := registry.List(context.Background()); err != nil {
		t.Fatalf("list: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected refresh after ttl, got %d calls", inner.calls)
	}

	registry.Invalidate()
	if _, err := registry.List(context.Background()); err != nil {
		t.Fatalf("list: %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected refresh after invalidate, got %d calls", inner.calls)
	}
}
