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
	defaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"
	openAITimeout         = 120 * time.Second
)

type OpenAIProvider struct {
	apiKey string
	endpoint
}

func NewOpenAIProvider(apiKey string, opts ...Option) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:   strings.TrimSpace(apiKey),
		endpoint: newEndpoint(defaultOpenAIEndpoint, openAITimeout, opts),
	}
}

type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
}

type openAIMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   *openAIUsage   `json:"usage"`
}

type openAIChoice struct {
	Message      *openAIMessage `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

var _ Provider = (*OpenAIProvider)(nil)

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if strings.TrimSpace(p.apiKey) == "" {
		return CompletionResponse{}, errors.New("openai api key is required")
	}
	if strings.TrimSpace(req.Model) == "" {
		return CompletionResponse{}, errors.New("model is required")
	}
	if req.MaxTokens <= 0 {
		return CompletionResponse{}, errors.New("max tokens must be greater than zero")
	}

	messages, err := buildOpenAIMessages(req)
	if err != nil {
		return CompletionResponse{}, err
	}
	if len(messages) == 0 {
		return CompletionResponse{}, errors.New("at least one message is required")
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.apiKey)

	var parsed openAIResponse
	err = p.post(ctx, KindOpenAI, header, openAIRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}, &parsed, nestedErrorMessage)
	if err != nil {
		return CompletionResponse{}, err
	}

	content := ""
	finishReason := ""
	if len(parsed.Choices) > 0 {
		choice := parsed.Choices[0]
		finishReason = choice.FinishReason
		if choice.Message != nil && choice.Message.Content != nil {
			content = *choice.Message.Content
		}
	}
	var usage Usage
	if parsed.Usage != nil {
		usage = Usage{InputTokens: parsed.Usage.PromptTokens, OutputTokens: parsed.Usage.CompletionTokens}
	}

	return CompletionResponse{
		Content:    content,
		Usage:      usage,
		Model:      pickModel(parsed.Model, req.Model),
		StopReason: finishReason,
	}, nil
}

func buildOpenAIMessages(req CompletionRequest) ([]openAIMessage, error) {
	messages := make([]openAIMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, openAIMessage{Role: string(RoleSystem), Content: stringPtr(req.SystemPrompt)})
	}

	for _, message := range req.Messages {
		switch role := normalizedRole(message.Role); role {
		case RoleUser, RoleAssistant, RoleSystem:
			messages = append(messages, openAIMessage{Role: string(role), Content: stringPtr(message.Content)})
		default:
			return nil, fmt.Errorf("unsupported message role: %s", message.Role)
		}
	}
	return messages, nil
}
