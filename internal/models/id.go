package models

import (
	"fmt"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mrand.New(mrand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns "<prefix>_<ulid>". IDs generated in the same process sort by
// creation time.
func NewID(prefix string) string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyMu.Unlock()
	return fmt.Sprintf("%s_%s", prefix, id.String())
}

// NewSessionID names a socket session after its user.
func NewSessionID(userID int64) string {
	return NewID(fmt.Sprintf("user_%d", userID))
}
