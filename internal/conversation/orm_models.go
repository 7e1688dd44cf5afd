package conversation

import (
	"encoding/json"
	"fmt"
	"time"
)

type contextRow struct {
	ID           string    `gorm:"primaryKey;size:64"`
	InstanceID   string    `gorm:"size:191;not null;uniqueIndex:idx_conversation_key,priority:1"`
	UserID       string    `gorm:"size:191;not null;uniqueIndex:idx_conversation_key,priority:2"`
	TurnsJSON    string    `gorm:"type:text;not null"`
	AppStateJSON string    `gorm:"type:text;not null"`
	Version      int64     `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (contextRow) TableName() string {
	return "conversation_contexts"
}

func (r contextRow) toContext() (Context, error) {
	rec := Context{
		InstanceID: r.InstanceID,
		UserID:     r.UserID,
		Turns:      []Turn{},
		AppState:   map[string]any{},
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
	if r.TurnsJSON != "" {
		if err := json.Unmarshal([]byte(r.TurnsJSON), &rec.Turns); err != nil {
			return Context{}, fmt.Errorf("decode turns for %s/%s: %w", r.InstanceID, r.UserID, err)
		}
	}
	if r.AppStateJSON != "" {
		if err := json.Unmarshal([]byte(r.AppStateJSON), &rec.AppState); err != nil {
			return Context{}, fmt.Errorf("decode app state for %s/%s: %w", r.InstanceID, r.UserID, err)
		}
	}
	if rec.Turns == nil {
		rec.Turns = []Turn{}
	}
	if rec.AppState == nil {
		rec.AppState = map[string]any{}
	}
	return rec, nil
}
