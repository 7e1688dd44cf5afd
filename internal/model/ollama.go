package model

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

const (
	defaultOllamaEndpoint = "http://localhost:11434/api/chat"
	ollamaTimeout         = 60 * time.Second
)

// OllamaProvider talks to a local model server speaking the Ollama chat API.
type OllamaProvider struct {
	endpoint
}

func NewOllamaProvider(opts ...Option) *OllamaProvider {
	return &OllamaProvider{endpoint: newEndpoint(defaultOllamaEndpoint, ollamaTimeout, opts)}
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaResponse struct {
	Model           string         `json:"model"`
	Message         *ollamaMessage `json:"message"`
	DoneReason      string         `json:"done_reason"`
	PromptEvalCount int64          `json:"prompt_eval_count"`
	EvalCount       int64          `json:"eval_count"`
}

var _ Provider = (*OllamaProvider)(nil)

func (p *OllamaProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if strings.TrimSpace(req.Model) == "" {
		return CompletionResponse{}, errors.New("model is required")
	}

	var parsed ollamaResponse
	err := p.post(ctx, KindOllama, nil, ollamaRequest{
		Model:    req.Model,
		Messages: buildOllamaMessages(req),
		Stream:   false,
	}, &parsed, ollamaErrorMessage)
	if err != nil {
		return CompletionResponse{}, err
	}

	content := ""
	if parsed.Message != nil {
		content = parsed.Message.Content
	}

	return CompletionResponse{
		Content: content,
		Usage: Usage{
			InputTokens:  parsed.PromptEvalCount,
			OutputTokens: parsed.EvalCount,
		},
		Model:      pickModel(parsed.Model, req.Model),
		StopReason: parsed.DoneReason,
	}, nil
}

// buildOllamaMessages keeps assistant turns and folds every other role into
// user, after a leading system message.
func buildOllamaMessages(req CompletionRequest) []ollamaMessage {
	messages := make([]ollamaMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, ollamaMessage{Role: string(RoleSystem), Content: req.SystemPrompt})
	}
	for _, message := range req.Messages {
		role := string(RoleUser)
		if normalizedRole(message.Role) == RoleAssistant {
			role = string(RoleAssistant)
		}
		messages = append(messages, ollamaMessage{Role: role, Content: message.Content})
	}
	return messages
}

func ollamaErrorMessage(body []byte) string {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return parsed.Error
}
