package idgen

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Size is the byte length of a site id.
const Size = 16

// ID is a 128-bit site identifier: bytes 0-5 are a big-endian millisecond
// Unix timestamp, byte 6's high nibble is the version (7), byte 8's top
// two bits are the variant (10b), and the rest is cryptographic random
// data. The zero value is not a valid id.
type ID [Size]byte

// Nil is the zero-value id, returned by New callers never observe in
// practice but useful as a sentinel for "unset".
var Nil ID

// New generates a fresh site id: 16 bytes of cryptographic randomness with
// the timestamp prefix and version/variant nibbles overwritten per v7,
// delegated entirely to uuid.NewV7 so the timestamp source and random
// pool are shared with the rest of the ecosystem using this module.
func New() (ID, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return Nil, fmt.Errorf("idgen: generate v7 uuid: %w", err)
	}
	var id ID
	copy(id[:], u[:])
	return id, nil
}

// MustNew is like New but panics on failure (random source exhaustion),
// intended for call sites during process startup where a failure is
// already fatal.
func MustNew() ID {
	id, err := New()
	if err != nil {
		panic(err)
	}
	return id
}

// Bytes returns the id's raw 16 bytes.
func (id ID) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, id[:])
	return b
}

// FromBytes reconstructs an ID from a 16-byte slice, as received from the
// change log's site_id column or over the wire.
func FromBytes(b []byte) (ID, error) {
	if len(b) != Size {
		return Nil, fmt.Errorf("idgen: site id must be %d bytes, got %d", Size, len(b))
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// Hex returns the id as 32 lowercase hex characters with no separators.
func (id ID) Hex() string {
	return hex.EncodeToString(id[:])
}

// Grouped returns the id in canonical 8-4-4-4-12 grouped hex form.
func (id ID) Grouped() string {
	h := id.Hex()
	return fmt.Sprintf("%s-%s-%s-%s-%s", h[0:8], h[8:12], h[12:16], h[16:20], h[20:32])
}

// String implements fmt.Stringer using the grouped form.
func (id ID) String() string {
	return id.Grouped()
}

// Parse accepts either the bare 32-hex form or the grouped 8-4-4-4-12
// form and returns the decoded ID.
func Parse(s string) (ID, error) {
	clean := make([]byte, 0, 32)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '-' {
			continue
		}
		clean = append(clean, c)
	}
	if len(clean) != 32 {
		return Nil, fmt.Errorf("idgen: invalid site id string %q", s)
	}
	b, err := hex.DecodeString(string(clean))
	if err != nil {
		return Nil, fmt.Errorf("idgen: invalid site id string %q: %w", s, err)
	}
	return FromBytes(b)
}

// Compare returns a negative number if a sorts before b, zero if equal,
// and a positive number if a sorts after b. Because the timestamp prefix
// occupies the most significant bytes, a plain lexicographic byte compare
// already yields the required timestamp-major ordering.
func Compare(a, b ID) int {
	return bytes.Compare(a[:], b[:])
}

// Less reports whether a sorts strictly before b.
func Less(a, b ID) bool {
	return Compare(a, b) < 0
}
