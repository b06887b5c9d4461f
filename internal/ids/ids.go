package ids

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/jxskiss/base62"
)

// New returns a short, URL-safe random identifier. The leading bytes carry the
// creation time in milliseconds so identifiers sort roughly by age.
func New() string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(time.Now().UnixMilli()))
	if _, err := rand.Read(buf[8:]); err != nil {
		panic(err)
	}
	// the top two bytes of a millisecond timestamp are zero
	return base62.EncodeToString(buf[2:])
}
