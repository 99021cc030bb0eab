// Package changelog implements the cloudsync_changes store: one row per
// (table, pk, column) change, keyed and ordered by the packed
// (database_version, sequence) row id the rest of cloudsync relies on.
package changelog
