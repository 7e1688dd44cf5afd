// Package chat answers one user message for an app instance, either in
// process or by relaying to the hub endpoint.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"apphub.local/matrix-bots/internal/appcontext"
	"apphub.local/matrix-bots/internal/apps"
	"apphub.local/matrix-bots/internal/assistant"
	"apphub.local/matrix-bots/internal/conversation"
)

var ErrInvalidRequest = errors.New("invalid chat request")

// Request is the relay wire shape as well as the in-process input.
type Request struct {
	AppID   string `json:"appId"`
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

type Reply struct {
	Success  bool             `json:"success"`
	Response string           `json:"response,omitempty"`
	Error    string           `json:"error,omitempty"`
	Usage    *assistant.Usage `json:"usage,omitempty"`
}

func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.AppID) == "":
		return fmt.Errorf("%w: appId is required", ErrInvalidRequest)
	case strings.TrimSpace(r.UserID) == "":
		return fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	case strings.TrimSpace(r.Message) == "":
		return fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	return nil
}

type Service struct {
	registry  apps.Registry
	builder   *appcontext.Builder
	store     conversation.Store
	assistant *assistant.Assistant
	log       zerolog.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) {
		s.log = log.With().Str("component", "chat").Logger()
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(registry apps.Registry, builder *appcontext.Builder, store conversation.Store, asst *assistant.Assistant, opts ...Option) *Service {
	if builder == nil {
		builder = appcontext.NewBuilder()
	}
	s := &Service{
		registry:  registry,
		builder:   builder,
		store:     store,
		assistant: asst,
		log:       zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Chat runs one turn. Request and lookup problems are returned as errors;
// model failures come back as an unsuccessful Reply.
func (s *Service) Chat(ctx context.Context, req Request) (Reply, error) {
	if err := req.Validate(); err != nil {
		return Reply{}, err
	}
	app, err := apps.Find(ctx, s.registry, req.AppID)
	if err != nil {
		return Reply{}, err
	}

	history, err := s.store.Read(ctx, app.ID, req.UserID)
	if err != nil {
		return Reply{}, fmt.Errorf("read conversation: %w", err)
	}

	data := s.builder.Build(app, nil)
	result := s.assistant.Chat(ctx, req.Message, data, app.ID, history)
	if !result.Success {
		return Reply{Error: result.Error}, nil
	}
	if strings.TrimSpace(result.Text) == "" {
		return Reply{Error: "model returned an empty response"}, nil
	}

	if _, err := s.store.AppendExchange(ctx, app.ID, req.UserID, req.Message, result.Text, s.now()); err != nil {
		s.log.Error().Err(err).Str("instance_id", app.ID).Str("user_id", req.UserID).Msg("persist conversation failed")
	}
	return Reply{Success: true, Response: result.Text, Usage: result.Usage}, nil
}

// Respond is Chat with errors folded into the reply.
func (s *Service) Respond(ctx context.Context, req Request) Reply {
	reply, err := s.Chat(ctx, req)
	if err != nil {
		s.log.Warn().Err(err).Str("app_id", req.AppID).Msg("chat request rejected")
		return Reply{Error: err.Error()}
	}
	return reply
}

// Prompt renders the system prompt the assistant would use for appID.
func (s *Service) Prompt(ctx context.Context, appID string) (string, error) {
	app, err := apps.Find(ctx, s.registry, appID)
	if err != nil {
		return "", err
	}
	return assistant.BuildSystemPrompt(s.builder.Build(app, nil), app.ID), nil
}
