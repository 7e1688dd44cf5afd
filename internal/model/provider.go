package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Kind names one of the supported completion backends.
type Kind string

const (
	KindOllama    Kind = "ollama"
	KindAnthropic Kind = "anthropic"
	KindOpenAI    Kind = "openai"
)

var ErrUnsupportedProvider = errors.New("unsupported ai provider")

// ParseKind maps a configured provider name onto a Kind. Aliases used by
// deployments ("local", "claude") are accepted.
func ParseKind(name string) (Kind, error) {
	switch normalizeProviderName(name) {
	case "ollama", "local":
		return KindOllama, nil
	case "anthropic", "claude":
		return KindAnthropic, nil
	case "openai":
		return KindOpenAI, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, strings.TrimSpace(name))
	}
}

func (k Kind) DefaultModel() string {
	switch k {
	case KindOllama:
		return "llama3.2"
	case KindAnthropic:
		return "claude-3-5-sonnet-20241022"
	case KindOpenAI:
		return "gpt-4o-mini"
	default:
		return ""
	}
}

type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

type CompletionRequest struct {
	Model        string
	Messages     []Message
	MaxTokens    int
	SystemPrompt string
}

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type CompletionResponse struct {
	Content    string
	Usage      Usage
	Model      string
	StopReason string
}

type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// APIError is returned when a backend answers with a non-2xx status.
type APIError struct {
	Provider   Kind
	StatusCode int
	Body       string
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == http.StatusTooManyRequests {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s api status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func stringPtr(value string) *string {
	v := value
	return &v
}
