package model

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// ProviderConfig carries the connection settings a factory needs.
type ProviderConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

type ProviderFactory func(cfg ProviderConfig) Provider

type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[Kind]ProviderFactory)}
}

// DefaultRegistry returns a registry with the built-in backends registered.
func DefaultRegistry() *Registry {
	registry := NewRegistry()
	registry.RegisterFactory(KindOllama, func(cfg ProviderConfig) Provider {
		opts := []Option{WithHTTPClient(cfg.HTTPClient)}
		if base := strings.TrimSpace(cfg.BaseURL); base != "" {
			opts = append(opts, WithEndpoint(joinEndpoint(base, "/api/chat")))
		}
		return NewOllamaProvider(opts...)
	})
	registry.RegisterFactory(KindAnthropic, func(cfg ProviderConfig) Provider {
		opts := []Option{WithHTTPClient(cfg.HTTPClient)}
		if base := strings.TrimSpace(cfg.BaseURL); base != "" {
			opts = append(opts, WithEndpoint(joinEndpoint(base, "/v1/messages")))
		}
		return NewAnthropicProvider(cfg.APIKey, opts...)
	})
	registry.RegisterFactory(KindOpenAI, func(cfg ProviderConfig) Provider {
		opts := []Option{WithHTTPClient(cfg.HTTPClient)}
		if base := strings.TrimSpace(cfg.BaseURL); base != "" {
			opts = append(opts, WithEndpoint(joinEndpoint(base, "/v1/chat/completions")))
		}
		return NewOpenAIProvider(cfg.APIKey, opts...)
	})
	return registry
}

func (r *Registry) RegisterFactory(kind Kind, factory ProviderFactory) {
	if r == nil || factory == nil {
		return
	}
	key := Kind(normalizeProviderName(string(kind)))
	if key == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[key] = factory
}

// New builds the provider registered for kind. Unknown kinds and factories
// that return nil both report ErrUnsupportedProvider.
func (r *Registry) New(kind Kind, cfg ProviderConfig) (Provider, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: no registry", ErrUnsupportedProvider)
	}
	key := Kind(normalizeProviderName(string(kind)))

	r.mu.RLock()
	factory, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, string(kind))
	}

	provider := factory(cfg)
	if provider == nil {
		return nil, fmt.Errorf("%w: factory for %q returned nil", ErrUnsupportedProvider, string(kind))
	}
	return provider, nil
}

func (r *Registry) Kinds() []Kind {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	return kinds
}

func normalizeProviderName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// joinEndpoint appends path to base unless base already ends with it.
func joinEndpoint(base, path string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(base), "/")
	if strings.HasSuffix(trimmed, path) {
		return trimmed
	}
	return trimmed + path
}
