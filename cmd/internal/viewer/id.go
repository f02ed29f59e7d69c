package viewer

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

func newID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
