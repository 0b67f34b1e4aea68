package realtime

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewClientMsgID returns a ULID string used as the identifier of a pending
// placeholder message. ULIDs are lexicographically sortable and can never
// collide with the server's integer message ids.
func NewClientMsgID(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to a
		// timestamp-only ULID so the placeholder still gets a unique-ish key.
		return ulid.MustNew(ulid.Timestamp(now), zeroReader{}).String()
	}
	return id.String()
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
