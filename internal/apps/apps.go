package apps

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("app not found")

type Status string

const (
	StatusOnline   Status = "online"
	StatusOffline  Status = "offline"
	StatusDegraded Status = "degraded"
)

// APIConfig holds the Matrix credentials registered for an app's bot user.
type APIConfig struct {
	HomeserverURL string `json:"homeserver_url,omitempty" yaml:"homeserver_url"`
	AccessToken   string `json:"access_token,omitempty" yaml:"access_token"`
	Username      string `json:"username,omitempty" yaml:"username"`
	Password      string `json:"password,omitempty" yaml:"password"`
	DeviceID      string `json:"device_id,omitempty" yaml:"device_id"`
}

type AppInstance struct {
	ID           string     `json:"id" yaml:"id"`
	Name         string     `json:"name" yaml:"name"`
	Domain       string     `json:"domain" yaml:"domain"`
	MatrixUserID string     `json:"matrix_user_id" yaml:"matrix_user_id"`
	Status       Status     `json:"status" yaml:"status"`
	Capabilities []string   `json:"capabilities" yaml:"capabilities"`
	APIConfig    *APIConfig `json:"api_config,omitempty" yaml:"api_config"`
}

// Credentials returns the app's API config, or an empty one.
func (a AppInstance) Credentials() APIConfig {
	if a.APIConfig == nil {
		return APIConfig{}
	}
	return *a.APIConfig
}

// Registry lists the apps known to the hub.
type Registry interface {
	List(ctx context.Context) ([]AppInstance, error)
}

func Find(ctx context.Context, registry Registry, id string) (AppInstance, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return AppInstance{}, fmt.Errorf("app id is required")
	}
	list, err := registry.List(ctx)
	if err != nil {
		return AppInstance{}, err
	}
	for _, app := range list {
		if app.ID == id {
			return app, nil
		}
	}
	return AppInstance{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func normalize(app AppInstance) AppInstance {
	app.ID = strings.TrimSpace(app.ID)
	app.Name = strings.TrimSpace(app.Name)
	app.Domain = strings.ToLower(strings.TrimSpace(app.Domain))
	app.MatrixUserID = strings.TrimSpace(app.MatrixUserID)
	app.Status = Status(strings.ToLower(strings.TrimSpace(string(app.Status))))
	if app.Status == "" {
		app.Status = StatusOnline
	}
	caps := make([]string, 0, len(app.Capabilities))
	for _, capability := range app.Capabilities {
		if trimmed := strings.TrimSpace(capability); trimmed != "" {
			caps = append(caps, trimmed)
		}
	}
	app.Capabilities = caps
	return app
}
