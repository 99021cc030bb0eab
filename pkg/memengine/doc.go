// Package memengine is a complete, bbolt-backed implementation of
// dbengine.Host, used by every other package's tests and by embeddable
// callers that want cloudsync without linking a real SQL engine. It
// stores one bucket per tracked table, keyed by the table's encoded
// primary key, mirroring the bucket-per-entity layout of a reference
// key/value store.
package memengine
