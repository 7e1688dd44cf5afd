package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const DefaultMaxTurns = 40

var (
	ErrStoreClosed = errors.New("conversation store is closed")
	ErrConflict    = errors.New("conversation update conflict")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Context is the rolling history for one (instance, user) pair.
type Context struct {
	InstanceID string         `json:"instance_id"`
	UserID     string         `json:"user_id"`
	Turns      []Turn         `json:"turns"`
	AppState   map[string]any `json:"app_state"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Store persists conversation contexts. Read never fails for a missing
// record; it returns an empty slice. AppendExchange creates the record on
// demand and prunes it to the store's turn limit. Clear empties the turns in
// place and reports whether a record existed.
type Store interface {
	GetOrCreate(ctx context.Context, instanceID, userID string) (Context, error)
	Read(ctx context.Context, instanceID, userID string) ([]Turn, error)
	AppendExchange(ctx context.Context, instanceID, userID, userMessage, reply string, at time.Time) (Context, error)
	Clear(ctx context.Context, instanceID, userID string) (bool, error)
	Close() error
}

type Option func(*settings)

type settings struct {
	maxTurns int
	now      func() time.Time
}

// WithMaxTurns sets the retained history length. Values below 2 are ignored
// so that one exchange always fits.
// WithMaxTurns bounds the stored history. Odd limits are rounded down so the
// kept history always starts with a user turn; limits below 2 are ignored.
func WithMaxTurns(n int) Option {
	return func(s *settings) {
		if n >= 2 {
			s.maxTurns = n - n%2
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		maxTurns: DefaultMaxTurns,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

// Prune keeps the newest max turns in their original order.
func Prune(turns []Turn, max int) []Turn {
	if max <= 0 || len(turns) <= max {
		return turns
	}
	kept := make([]Turn, max)
	copy(kept, turns[len(turns)-max:])
	return kept
}

func exchange(userMessage, reply string, at time.Time) []Turn {
	at = at.UTC()
	return []Turn{
		{Role: RoleUser, Content: userMessage, Timestamp: at},
		{Role: RoleAssistant, Content: reply, Timestamp: at},
	}
}

func newContext(instanceID, userID string, now time.Time) Context {
	return Context{
		InstanceID: instanceID,
		UserID:     userID,
		Turns:      []Turn{},
		AppState:   map[string]any{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (c Context) clone() Context {
	out := c
	out.Turns = make([]Turn, len(c.Turns))
	copy(out.Turns, c.Turns)
	out.AppState = make(map[string]any, len(c.AppState))
	for k, v := range c.AppState {
		out.AppState[k] = v
	}
	return out
}

func validateKey(instanceID, userID string) error {
	if strings.TrimSpace(instanceID) == "" {
		return fmt.Errorf("instance id is required")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	return nil
}

func storeKey(instanceID, userID string) string {
	return instanceID + "\x00" + userID
}
