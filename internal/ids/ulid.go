// Package ids provides the ID primitives the hub uses when it mints its
// own envelope and session identifiers.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars), lexicographically
// sortable by the supplied timestamp. Hub-originated envelope ids and
// session tokens are ULIDs rather than random hex so that logs and audit
// records sort naturally by creation time.
func NewULID(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		// crypto/rand failing is not recoverable; the empty string is
		// returned instead of a weaker id, and callers use it as-is.
		return ""
	}
	return id.String()
}
