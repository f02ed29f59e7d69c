package stream

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// newConnID returns a ULID used to correlate the log lines of one connection attempt.
func newConnID() string {
	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), rand.Reader)
	if err != nil {
		return ""
	}
	return id.String()
}
