package ids

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// New returns a random (v4) identifier as 32 lowercase hex characters.
func New() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
