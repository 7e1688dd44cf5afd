package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"apphub.local/matrix-bots/internal/activity"
	"apphub.local/matrix-bots/internal/assistant"
	"apphub.local/matrix-bots/internal/chat"
)

type transportCall struct {
	kind   string
	roomID string
	text   string
	typing bool
}

type fakeTransport struct {
	mu      sync.Mutex
	calls   []transportCall
	sendErr error
}

func (f *fakeTransport) SendNotice(_ context.Context, roomID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, transportCall{kind: "notice", roomID: roomID, text: text})
	return f.sendErr
}

func (f *fakeTransport) SetTyping(_ context.Context, roomID string, typing bool, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, transportCall{kind: "typing", roomID: roomID, typing: typing})
	return nil
}

func (f *fakeTransport) notices() []transportCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []transportCall
	for _, call := range f.calls {
		if call.kind == "notice" {
			out = append(out, call)
		}
	}
	return out
}

type recordingResponder struct {
	reply    chat.Reply
	requests []chat.Request
}

func (r *recordingResponder) Respond(_ context.Context, req chat.Request) chat.Reply {
	r.requests = append(r.requests, req)
	return r.reply
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []activity.Event
}

func (p *recordingPublisher) Publish(event activity.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []activity.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]activity.Type, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

var sessionStart = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestSession(transport Transport, responder Responder, opts ...Option) *Session {
	opts = append([]Option{WithClock(func() time.Time { return sessionStart }), WithLogger(zerolog.Nop())}, opts...)
	return NewSession("app_acme", "@acme:hub", transport, responder, opts...)
}

func textEvent(sender, body string, at time.Time) InboundEvent {
	return InboundEvent{EventID: "$e", RoomID: "!room:hub", Sender: sender, ContentType: ContentText, Body: body, OriginTimestamp: at}
}

func TestSessionStaleThenLiveMessage(t *testing.T) {
	transport := &fakeTransport{}
	responder := &recordingResponder{reply: chat.Reply{Success: true, Response: "Hello!"}}
	session := newTestSession(transport, responder)

	if session.StartTime() != sessionStart {
		t.Fatalf("expected start time to be stamped at construction")
	}

	verdict := session.HandleEvent(context.Background(), textEvent("@user:x", "hi", sessionStart.Add(-time.Second)))
	if verdict.Accept || verdict.Reason != ReasonBackfill {
		t.Fatalf("expected backfill rejection, got %+v", verdict)
	}
	if len(responder.requests) != 0 || len(transport.calls) != 0 {
		t.Fatalf("expected no side effects for stale event")
	}

	verdict = session.HandleEvent(context.Background(), textEvent("@user:x", "hi", sessionStart.Add(time.Second)))
	if !verdict.Accept {
		t.Fatalf("expected live event to be accepted, got %+v", verdict)
	}
	if len(responder.requests) != 1 {
		t.Fatalf("expected one responder call, got %d", len(responder.requests))
	}
	want := chat.Request{AppID: "app_acme", UserID: "@user:x", Message: "hi"}
	if responder.requests[0] != want {
		t.Fatalf("expected %+v, got %+v", want, responder.requests[0])
	}

	wantCalls := []transportCall{
		{kind: "typing", roomID: "!room:hub", typing: true},
		{kind: "typing", roomID: "!room:hub", typing: false},
		{kind: "notice", roomID: "!room:hub", text: "Hello!"},
	}
	if len(transport.calls) != len(wantCalls) {
		t.Fatalf("expected %d transport calls, got %+v", len(wantCalls), transport.calls)
	}
	for i, call := range wantCalls {
		if transport.calls[i] != call {
			t.Fatalf("call %d: expected %+v, got %+v", i, call, transport.calls[i])
		}
	}
	if rooms := session.Rooms(); len(rooms) != 1 || rooms[0] != "!room:hub" {
		t.Fatalf("expected active room recorded, got %v", rooms)
	}
}

func TestSessionRejectionsNeverCallResponder(t *testing.T) {
	transport := &fakeTransport{}
	responder := &recordingResponder{reply: chat.Reply{Success: true, Response: "x"}}
	publisher := &recordingPublisher{}
	session := newTestSession(transport, responder, WithActivity(publisher))

	live := sessionStart.Add(time.Minute)
	events := []InboundEvent{
		textEvent("@acme:hub", "echo", live),
		{RoomID: "!room:hub", Sender: "@user:x", ContentType: ContentEncrypted, OriginTimestamp: live},
		{RoomID: "!room:hub", Sender: "@user:x", ContentType: "image", OriginTimestamp: live},
		textEvent("@user:x", "old", sessionStart.Add(-time.Hour)),
		textEvent("@user:x", "no timestamp", time.Time{}),
	}
	for _, evt := range events {
		if verdict := session.HandleEvent(context.Background(), evt); verdict.Accept {
			t.Fatalf("expected rejection for %+v", evt)
		}
	}
	if len(responder.requests) != 0 {
		t.Fatalf("expected no responder calls, got %d", len(responder.requests))
	}
	if len(transport.calls) != 0 {
		t.Fatalf("expected no transport calls, got %+v", transport.calls)
	}
	if len(session.Rooms()) != 0 {
		t.Fatalf("expected no active rooms")
	}
	for _, got := range publisher.types() {
		if got != activity.TypeMessageIgnored {
			t.Fatalf("expected only ignored events, got %s", got)
		}
	}
}

func TestSessionFailureSendsOneFallback(t *testing.T) {
	transport := &fakeTransport{}
	responder := &recordingResponder{reply: chat.Reply{Error: "anthropic api status 500: internal failure"}}
	publisher := &recordingPublisher{}
	session := newTestSession(transport, responder, WithActivity(publisher), WithFallbackText("try later"))

	session.HandleEvent(context.Background(), textEvent("@user:x", "hi", sessionStart.Add(time.Second)))

	notices := transport.notices()
	if len(notices) != 1 || notices[0].text != "try later" {
		t.Fatalf("expected exactly one fallback notice, got %+v", notices)
	}
	if last := transport.calls[len(transport.calls)-1]; last.kind != "notice" {
		t.Fatalf("expected typing cleared before fallback, got %+v", transport.calls)
	}
	types := publisher.types()
	if len(types) != 1 || types[0] != activity.TypeTurnFailed {
		t.Fatalf("expected turn.failed, got %v", types)
	}
}

func TestSessionEmptySuccessSendsFallback(t *testing.T) {
	transport := &fakeTransport{}
	responder := &recordingResponder{reply: chat.Reply{Success: true, Response: "   "}}
	session := newTestSession(transport, responder)

	session.HandleEvent(context.Background(), textEvent("@user:x", "hi", sessionStart.Add(time.Second)))

	notices := transport.notices()
	if len(notices) != 1 || notices[0].text != DefaultFallbackText {
		t.Fatalf("expected default fallback, got %+v", notices)
	}
}

func TestSessionRecoversResponderPanic(t *testing.T) {
	transport := &fakeTransport{}
	responder := ResponderFunc(func(context.Context, chat.Request) chat.Reply { panic("boom") })
	session := newTestSession(transport, responder)

	session.HandleEvent(context.Background(), textEvent("@user:x", "hi", sessionStart.Add(time.Second)))

	var typingOff bool
	for _, call := range transport.calls {
		if call.kind == "typing" && !call.typing {
			typingOff = true
		}
	}
	if !typingOff {
		t.Fatalf("expected typing to be cleared after panic, got %+v", transport.calls)
	}
	if notices := transport.notices(); len(notices) != 1 || notices[0].text != DefaultFallbackText {
		t.Fatalf("expected fallback after panic, got %+v", notices)
	}
}

func TestSessionSendFailureIsNotRetried(t *testing.T) {
	transport := &fakeTransport{sendErr: errors.New("rate limited")}
	responder := &recordingResponder{reply: chat.Reply{Error: "down"}}
	session := newTestSession(transport, responder)

	session.HandleEvent(context.Background(), textEvent("@user:x", "hi", sessionStart.Add(time.Second)))

	if notices := transport.notices(); len(notices) != 1 {
		t.Fatalf("expected a single send attempt, got %d", len(notices))
	}
}

func TestSessionPublishesUsage(t *testing.T) {
	transport := &fakeTransport{}
	responder := &recordingResponder{reply: chat.Reply{Success: true, Response: "ok", Usage: &assistant.Usage{InputTokens: 7, OutputTokens: 2}}}
	publisher := &recordingPublisher{}
	session := newTestSession(transport, responder, WithActivity(publisher))

	session.HandleEvent(context.Background(), textEvent("@user:x", "hi", sessionStart.Add(time.Second)))

	if len(publisher.events) != 1 || publisher.events[0].Type != activity.TypeTurnCompleted {
		t.Fatalf("expected turn.completed, got %+v", publisher.events)
	}
	attrs := publisher.events[0].Attributes
	if attrs["input_tokens"] != int64(7) || attrs["output_tokens"] != int64(2) {
		t.Fatalf("unexpected attributes %+v", attrs)
	}
}
