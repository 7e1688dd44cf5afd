package logging

import (
	"context"

	"github.com/rs/zerolog"

	"apphub.local/matrix-bots/internal/activity"
)

type Subscriber struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Subscriber {
	return &Subscriber{log: log.With().Str("subscriber", "logging").Logger()}
}

func (s *Subscriber) Name() string {
	return "logging"
}

func (s *Subscriber) Handle(_ context.Context, event activity.Event) error {
	level := zerolog.InfoLevel
	switch event.Type {
	case activity.TypeMessageIgnored:
		level = zerolog.DebugLevel
	case activity.TypeBotStartFailed, activity.TypeTurnFailed:
		level = zerolog.WarnLevel
	}

	entry := s.log.WithLevel(level).
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Str("instance_id", event.InstanceID)
	if event.RoomID != "" {
		entry = entry.Str("room_id", event.RoomID)
	}
	if event.UserID != "" {
		entry = entry.Str("user_id", event.UserID)
	}
	if event.Detail != "" {
		entry = entry.Str("detail", event.Detail)
	}
	if len(event.Attributes) > 0 {
		entry = entry.Interface("attributes", event.Attributes)
	}
	entry.Msg("activity")
	return nil
}
