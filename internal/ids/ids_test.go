package ids

import (
	"testing"

	"github.com/google/uuid"
)

func TestNew(t *testing.T) {
	a := New()
	b := New()

	if len(a) != 32 {
		t.Fatalf("expected 32-char id, got %d", len(a))
	}
	if len(b) != 32 {
		t.Fatalf("expected 32-char id, got %d", len(b))
	}
	if a == b {
		t.Fatalf("expected distinct ids, got duplicates")
	}
}

func TestNewParsesAsUUID(t *testing.T) {
	parsed, err := uuid.Parse(New())
	if err != nil {
		t.Fatalf("parse id: %v", err)
	}
	if parsed.Version() != 4 {
		t.Fatalf("expected v4 id, got v%d", parsed.Version())
	}
}
