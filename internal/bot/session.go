package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"apphub.local/matrix-bots/internal/activity"
	"apphub.local/matrix-bots/internal/chat"
)

const (
	DefaultTypingTimeout = 30 * time.Second
	DefaultFallbackText  = "Sorry, I couldn't generate a response right now. Please try again in a moment."
)

// Transport is the outbound half of a room connection.
type Transport interface {
	SendNotice(ctx context.Context, roomID, text string) error
	SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error
}

type Responder interface {
	Respond(ctx context.Context, req chat.Request) chat.Reply
}

type ResponderFunc func(ctx context.Context, req chat.Request) chat.Reply

func (f ResponderFunc) Respond(ctx context.Context, req chat.Request) chat.Reply {
	return f(ctx, req)
}

type Option func(*Session)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Session) {
		s.log = log
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

func WithActivity(publisher activity.Publisher) Option {
	return func(s *Session) {
		if publisher != nil {
			s.activity = publisher
		}
	}
}

func WithTypingTimeout(timeout time.Duration) Option {
	return func(s *Session) {
		if timeout > 0 {
			s.typingTimeout = timeout
		}
	}
}

func WithFallbackText(text string) Option {
	return func(s *Session) {
		if strings.TrimSpace(text) != "" {
			s.fallbackText = text
		}
	}
}

// Session is the runtime state of one app's bot.
type Session struct {
	instanceID    string
	ownUserID     string
	startTime     time.Time
	transport     Transport
	responder     Responder
	activity      activity.Publisher
	log           zerolog.Logger
	now           func() time.Time
	typingTimeout time.Duration
	fallbackText  string

	mu    sync.Mutex
	rooms map[string]struct{}
}

// NewSession stamps the start time. Build it before the sync loop starts so
// that initial sync backfill is classified as history.
func NewSession(instanceID, ownUserID string, transport Transport, responder Responder, opts ...Option) *Session {
	s := &Session{
		instanceID:    instanceID,
		ownUserID:     ownUserID,
		transport:     transport,
		responder:     responder,
		activity:      activity.Discard,
		log:           zerolog.Nop(),
		now:           time.Now,
		typingTimeout: DefaultTypingTimeout,
		fallbackText:  DefaultFallbackText,
		rooms:         make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.log = s.log.With().Str("component", "bot").Str("instance_id", instanceID).Logger()
	s.startTime = s.now()
	return s
}

func (s *Session) InstanceID() string   { return s.instanceID }
func (s *Session) UserID() string       { return s.ownUserID }
func (s *Session) StartTime() time.Time { return s.startTime }

// Rooms lists rooms that produced at least one admitted message.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// HandleEvent filters evt and, when admitted, runs one reply turn. It never
// returns an error; the verdict is reported for callers that want it.
func (s *Session) HandleEvent(ctx context.Context, evt InboundEvent) Verdict {
	verdict := Admit(evt, s.startTime, s.ownUserID)
	if !verdict.Accept {
		s.log.Debug().
			Str("event_id", evt.EventID).
			Str("room_id", evt.RoomID).
			Str("sender", evt.Sender).
			Str("reason", string(verdict.Reason)).
			Msg("ignoring event")
		ignored := s.newEvent(activity.TypeMessageIgnored, evt)
		ignored.Detail = string(verdict.Reason)
		s.activity.Publish(ignored)
		return verdict
	}

	s.mu.Lock()
	s.rooms[evt.RoomID] = struct{}{}
	s.mu.Unlock()

	s.turn(ctx, evt)
	return verdict
}

func (s *Session) turn(ctx context.Context, evt InboundEvent) {
	started := s.now()
	reply := s.generate(ctx, evt)

	if !reply.Success || strings.TrimSpace(reply.Response) == "" {
		reason := reply.Error
		if reply.Success {
			reason = "empty response"
		}
		s.log.Warn().Str("event_id", evt.EventID).Str("room_id", evt.RoomID).Str("error", reason).Msg("reply failed, sending fallback")
		failed := s.newEvent(activity.TypeTurnFailed, evt)
		failed.Detail = reason
		s.activity.Publish(failed)
		s.send(ctx, evt.RoomID, s.fallbackText)
		return
	}

	completed := s.newEvent(activity.TypeTurnCompleted, evt)
	completed.Attributes = map[string]any{"duration_ms": s.now().Sub(started).Milliseconds()}
	if reply.Usage != nil {
		completed.Attributes["input_tokens"] = reply.Usage.InputTokens
		completed.Attributes["output_tokens"] = reply.Usage.OutputTokens
	}
	s.activity.Publish(completed)
	s.send(ctx, evt.RoomID, reply.Response)
}

// generate holds the typing indicator for the duration of the responder call.
func (s *Session) generate(ctx context.Context, evt InboundEvent) (reply chat.Reply) {
	if err := s.transport.SetTyping(ctx, evt.RoomID, true, s.typingTimeout); err != nil {
		s.log.Warn().Err(err).Str("room_id", evt.RoomID).Msg("set typing failed")
	}
	defer func() {
		if err := s.transport.SetTyping(ctx, evt.RoomID, false, 0); err != nil {
			s.log.Warn().Err(err).Str("room_id", evt.RoomID).Msg("clear typing failed")
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("event_id", evt.EventID).Msg("responder panicked")
			reply = chat.Reply{Error: fmt.Sprintf("responder panicked: %v", r)}
		}
	}()

	if s.responder == nil {
		return chat.Reply{Error: "no responder configured"}
	}
	return s.responder.Respond(ctx, chat.Request{
		AppID:   s.instanceID,
		UserID:  evt.Sender,
		Message: evt.Body,
	})
}

func (s *Session) send(ctx context.Context, roomID, text string) {
	if err := s.transport.SendNotice(ctx, roomID, text); err != nil {
		s.log.Error().Err(err).Str("room_id", roomID).Msg("send notice failed")
	}
}

func (s *Session) newEvent(eventType activity.Type, evt InboundEvent) activity.Event {
	out := activity.NewEvent(eventType, s.instanceID)
	out.RoomID = evt.RoomID
	out.UserID = evt.Sender
	out.EventID = evt.EventID
	return out
}
