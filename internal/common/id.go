package common

import (
	"github.com/google/uuid"
)

// NewID generates a unique identifier with the given entity prefix, e.g.
// NewID("src") -> "src_<uuid>".
func NewID(prefix string) string {
	return prefix + "_" + uuid.New().String()
}
