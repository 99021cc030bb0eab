// Package codec implements the tag-byte value encoding used to serialize
// primary keys and column values for cloudsync's change log and wire
// protocol. The format is deliberately bespoke (not protobuf/msgpack/json):
// it must byte-match the reference C implementation so peers written in
// either language can exchange change batches.
//
// Layout, one value at a time:
//
//	[tag:u8] [payload: variable]
//
// tag packs (nbytes<<3 | type). A primary-key encoding prefixes a u8 count
// of values (<=255); a value-row encoding omits the count and encodes a
// fixed, protocol-known number of values.
package codec
