// Package bot decides which room events reach the assistant and carries
// admitted ones through one reply turn.
package bot

import "time"

const (
	ContentText      = "text"
	ContentEncrypted = "encrypted"
)

// InboundEvent is a room message as seen by a session. A zero
// OriginTimestamp means the server did not report one.
type InboundEvent struct {
	EventID         string
	RoomID          string
	Sender          string
	ContentType     string
	Body            string
	OriginTimestamp time.Time
}

type RejectReason string

const (
	ReasonSelfEcho           RejectReason = "self_echo"
	ReasonUnsupportedContent RejectReason = "unsupported_content"
	ReasonBackfill           RejectReason = "backfill"
	ReasonMissingTimestamp   RejectReason = "missing_timestamp"
)

type Verdict struct {
	Accept bool
	Reason RejectReason
}

// Admit applies the ingestion rules in order; the first rejection wins.
func Admit(evt InboundEvent, startTime time.Time, ownUserID string) Verdict {
	if evt.Sender == ownUserID {
		return Verdict{Reason: ReasonSelfEcho}
	}
	if evt.ContentType != ContentText {
		return Verdict{Reason: ReasonUnsupportedContent}
	}
	if !evt.OriginTimestamp.IsZero() && evt.OriginTimestamp.Before(startTime) {
		return Verdict{Reason: ReasonBackfill}
	}
	if evt.OriginTimestamp.IsZero() {
		return Verdict{Reason: ReasonMissingTimestamp}
	}
	return Verdict{Accept: true}
}
