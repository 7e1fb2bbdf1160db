package utils

import "github.com/google/uuid"

// NewID returns a time-ordered unique identifier (UUIDv7).
// Rows created later sort after earlier ones, which keeps message ids in
// persist order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to a random id if the clock source fails.
		return uuid.NewString()
	}
	return id.String()
}
