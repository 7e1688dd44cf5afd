package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAnthropicEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicVersion         = "2023-06-01"
	anthropicTimeout         = 300 * time.Second
)

type AnthropicProvider struct {
	apiKey string
	endpoint
}

func NewAnthropicProvider(apiKey string, opts ...Option) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey:   strings.TrimSpace(apiKey),
		endpoint: newEndpoint(defaultAnthropicEndpoint, anthropicTimeout, opts),
	}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      *anthropicUsage         `json:"usage"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

var _ Provider = (*AnthropicProvider)(nil)

func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if strings.TrimSpace(p.apiKey) == "" {
		return CompletionResponse{}, errors.New("anthropic api key is required")
	}
	if strings.TrimSpace(req.Model) == "" {
		return CompletionResponse{}, errors.New("model is required")
	}
	if req.MaxTokens <= 0 {
		return CompletionResponse{}, errors.New("max tokens must be greater than zero")
	}

	messages, system, err := buildAnthropicMessages(req)
	if err != nil {
		return CompletionResponse{}, err
	}
	if len(messages) == 0 {
		return CompletionResponse{}, errors.New("at least one non-system message is required")
	}

	header := http.Header{}
	header.Set("x-api-key", p.apiKey)
	header.Set("anthropic-version", anthropicVersion)

	var parsed anthropicResponse
	err = p.post(ctx, KindAnthropic, header, anthropicRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Messages:  messages,
		System:    system,
	}, &parsed, nestedErrorMessage)
	if err != nil {
		return CompletionResponse{}, err
	}

	var usage Usage
	if parsed.Usage != nil {
		usage = Usage{InputTokens: parsed.Usage.InputTokens, OutputTokens: parsed.Usage.OutputTokens}
	}
	return CompletionResponse{
		Content:    anthropicText(parsed.Content),
		Usage:      usage,
		Model:      pickModel(parsed.Model, req.Model),
		StopReason: parsed.StopReason,
	}, nil
}

func buildAnthropicMessages(req CompletionRequest) ([]anthropicMessage, string, error) {
	systemParts := make([]string, 0, 2)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		systemParts = append(systemParts, req.SystemPrompt)
	}

	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, message := range req.Messages {
		switch role := normalizedRole(message.Role); role {
		case RoleSystem:
			if strings.TrimSpace(message.Content) != "" {
				systemParts = append(systemParts, message.Content)
			}
		case RoleUser, RoleAssistant:
			messages = append(messages, anthropicMessage{Role: string(role), Content: message.Content})
		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", message.Role)
		}
	}

	// The messages API requires the first message to come from the user.
	for len(messages) > 0 && messages[0].Role == string(RoleAssistant) {
		messages = messages[1:]
	}
	return messages, strings.Join(systemParts, "\n\n"), nil
}

func anthropicText(blocks []anthropicContentBlock) string {
	var builder strings.Builder
	for _, block := range blocks {
		if block.Type != "text" {
			continue
		}
		builder.WriteString(block.Text)
	}
	return builder.String()
}
