package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewEnvelopeID returns a time-sortable ULID for the current instant.
func NewEnvelopeID() string {
	return NewEnvelopeIDAt(time.Now())
}

// NewEnvelopeIDAt returns a ULID whose timestamp component is t. IDs minted in
// the same millisecond stay strictly increasing.
func NewEnvelopeIDAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Time extracts the millisecond timestamp encoded in a ULID string.
func Time(id string) (time.Time, bool) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()).UTC(), true
}
