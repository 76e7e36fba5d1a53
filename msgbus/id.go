package msgbus

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// IDGenerator produces correlation identifiers for outbound control frames.
// Identifiers must be unique for the lifetime of a Bus.
type IDGenerator func() string

// DefaultIDGenerator returns 16 lowercase hex characters taken from a random
// v4 UUID.
func DefaultIDGenerator() string {
	id := uuid.New()
	return hex.EncodeToString(id[:8])
}
