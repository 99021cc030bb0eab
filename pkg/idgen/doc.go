// Package idgen generates and compares the 128-bit site identifiers that
// tag every locally captured change. Site ids follow UUID v7 semantics: a
// 48-bit millisecond timestamp prefix for sortability, followed by random
// bits with the version/variant nibbles fixed per RFC 9562. Generation is
// built on github.com/google/uuid's v7 support; stringification and
// ordering are hand-rolled because the wire format requires a bare
// 32-character hex form that uuid.UUID.String() does not produce.
package idgen
