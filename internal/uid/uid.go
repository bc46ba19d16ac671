// Package uid generates unique, lexicographically sortable identifiers.
package uid

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	"io"
	"time"
)

// encoding is base32-hex without padding: its alphabet preserves byte order,
// so encoded ids sort the same way as the raw bytes.
var encoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// New returns a unique id whose first component is the current unix-milli
// timestamp, so ids generated later sort lexicographically after ids
// generated earlier. The remaining 10 bytes come from a cryptographically
// strong pseudo-random generator.
func New() string {
	return NewAt(time.Now())
}

// NewAt is New with an explicit timestamp. Used by tests to verify ordering.
func NewAt(t time.Time) string {
	raw := make([]byte, 18)
	binary.BigEndian.PutUint64(raw[:8], uint64(t.UnixMilli()))
	if _, err := io.ReadFull(rand.Reader, raw[8:]); err != nil {
		panic(err)
	}
	return encoding.EncodeToString(raw)
}
