package helpers

import (
	"math/rand"
	"time"
)

// RandUnix is for tests, seeded with current time. Not for security.
func RandUnix() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
