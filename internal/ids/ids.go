package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Refresh token ids are drawn from here, so entropy comes from crypto/rand
// rather than a time-seeded PRNG.
var (
	mu     sync.Mutex
	source = ulid.Monotonic(rand.Reader, 0)
)

// New returns a ULID. Ids minted by one process sort in creation order; the
// client uses them as X-Request-ID and the dev API as entity and token ids.
func New() string {
	mu.Lock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), source)
	mu.Unlock()
	if err != nil {
		// Monotonic overflow within one millisecond; a fresh reader resets it.
		return ulid.Make().String()
	}
	return id.String()
}

// Valid reports whether s parses as a ULID.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
