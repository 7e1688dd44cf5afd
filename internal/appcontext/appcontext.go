// Package appcontext assembles the per-app data injected into assistant
// system prompts.
package appcontext

import (
	"apphub.local/matrix-bots/internal/apps"
)

type Data struct {
	AppName      string         `json:"appName"`
	AppDomain    string         `json:"appDomain"`
	Capabilities []string       `json:"capabilities"`
	CurrentData  map[string]any `json:"currentData"`
}

// Source produces domain data for one app. Sources must not mutate shared
// state; Build calls them on every turn.
type Source func(app apps.AppInstance) map[string]any

type Builder struct {
	sources map[string]Source
}

func NewBuilder() *Builder {
	return &Builder{sources: defaultSources()}
}

// Register installs or replaces the source for a domain.
func (b *Builder) Register(domain string, source Source) {
	if source == nil {
		return
	}
	b.sources[domain] = source
}

// Build merges the domain data for app with additional. Keys in additional
// win. Unknown domains contribute nothing.
func (b *Builder) Build(app apps.AppInstance, additional map[string]any) Data {
	current := map[string]any{}
	if source, ok := b.sources[app.Domain]; ok {
		for k, v := range source(app) {
			current[k] = v
		}
	}
	for k, v := range additional {
		current[k] = v
	}

	caps := make([]string, len(app.Capabilities))
	copy(caps, app.Capabilities)
	return Data{
		AppName:      app.Name,
		AppDomain:    app.Domain,
		Capabilities: caps,
		CurrentData:  current,
	}
}
