// Package assistant runs one chat turn against the configured model backend
// and folds every outcome into a Result value.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"apphub.local/matrix-bots/internal/appcontext"
	"apphub.local/matrix-bots/internal/conversation"
	"apphub.local/matrix-bots/internal/model"
)

const DefaultMaxTokens = 4096

// ErrUnsupportedProvider is returned by New for unknown provider names.
var ErrUnsupportedProvider = model.ErrUnsupportedProvider

type Config struct {
	Provider   string
	BaseURL    string
	APIKey     string
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
	// Registry overrides the built-in provider registry.
	Registry *model.Registry
}

type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// Result is the outcome of one turn. Success implies Text holds the reply;
// failure implies Error holds a readable description.
type Result struct {
	Success bool   `json:"success"`
	Text    string `json:"response,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Assistant struct {
	kind      model.Kind
	provider  model.Provider
	model     string
	maxTokens int
	log       zerolog.Logger
}

// New selects the provider once. An unknown provider fails here, before any
// network traffic.
func New(cfg Config, log zerolog.Logger) (*Assistant, error) {
	kind, err := model.ParseKind(cfg.Provider)
	if err != nil {
		return nil, err
	}
	registry := cfg.Registry
	if registry == nil {
		registry = model.DefaultRegistry()
	}
	provider, err := registry.New(kind, model.ProviderConfig{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}

	modelName := strings.TrimSpace(cfg.Model)
	if modelName == "" {
		modelName = kind.DefaultModel()
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return &Assistant{
		kind:      kind,
		provider:  provider,
		model:     modelName,
		maxTokens: maxTokens,
		log:       log.With().Str("component", "assistant").Str("provider", string(kind)).Logger(),
	}, nil
}

func (a *Assistant) Kind() model.Kind {
	if a == nil {
		return ""
	}
	return a.kind
}

func (a *Assistant) Model() string {
	if a == nil {
		return ""
	}
	return a.model
}

// Chat sends history plus message to the provider. It never returns an error
// and never panics; failures come back as Result{Success: false}.
func (a *Assistant) Chat(ctx context.Context, message string, data appcontext.Data, instanceID string, history []conversation.Turn) (result Result) {
	if a == nil || a.provider == nil {
		return Result{Error: "assistant is not configured"}
	}

	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Str("instance_id", instanceID).Interface("panic", r).Msg("provider panicked")
			result = Result{Error: fmt.Sprintf("%s provider failed unexpectedly", a.kind)}
		}
	}()

	req := model.CompletionRequest{
		Model:        a.model,
		MaxTokens:    a.maxTokens,
		SystemPrompt: BuildSystemPrompt(data, instanceID),
		Messages:     buildMessages(history, message),
	}

	resp, err := a.provider.Complete(ctx, req)
	if err != nil {
		a.logFailure(instanceID, err)
		return Result{Error: err.Error()}
	}

	return Result{
		Success: true,
		Text:    resp.Content,
		Usage: &Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
}

func (a *Assistant) logFailure(instanceID string, err error) {
	event := a.log.Error().Err(err).Str("instance_id", instanceID).Str("model", a.model)
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		event = event.Int("status", apiErr.StatusCode).Str("body", truncate(apiErr.Body, 2048))
	}
	event.Msg("ai request failed")
}

func buildMessages(history []conversation.Turn, message string) []model.Message {
	messages := make([]model.Message, 0, len(history)+1)
	for _, turn := range history {
		messages = append(messages, model.Message{Role: model.Role(turn.Role), Content: turn.Content})
	}
	return append(messages, model.Message{Role: model.RoleUser, Content: message})
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
