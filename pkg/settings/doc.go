// Package settings implements the cloudsync_settings / cloudsync_table_settings
// key/value stores: per-database configuration (site id cursors, schema
// hash, sync algorithm default) plus per-(table,column) overrides, backed
// by a dbengine.Host.
package settings
