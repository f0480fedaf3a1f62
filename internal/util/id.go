package util

import (
	"strings"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// NewKey returns a fresh idempotency key. Keys are opaque to the server.
func NewKey() string {
	return uuid.NewString()
}
