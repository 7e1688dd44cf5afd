// Package activity carries bot lifecycle and turn events to subscribers.
package activity

import (
	"context"
	"time"

	"apphub.local/matrix-bots/internal/ids"
)

type Type string

const (
	TypeBotStarted     Type = "bot.started"
	TypeBotStopped     Type = "bot.stopped"
	TypeBotStartFailed Type = "bot.start_failed"
	TypeMessageIgnored Type = "message.ignored"
	TypeTurnCompleted  Type = "turn.completed"
	TypeTurnFailed     Type = "turn.failed"
)

type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	InstanceID string         `json:"instance_id,omitempty"`
	RoomID     string         `json:"room_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	EventID    string         `json:"event_id,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func NewEvent(eventType Type, instanceID string) Event {
	return Event{
		ID:         ids.New(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		InstanceID: instanceID,
	}
}

// Publisher accepts events without blocking the caller on delivery.
type Publisher interface {
	Publish(Event)
}

type Subscriber interface {
	Name() string
	Handle(context.Context, Event) error
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
