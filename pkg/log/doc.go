// Package log provides the structured logger shared by cloudsync's
// components: a single zerolog.Logger configured once via Init, with
// WithComponent child loggers for merge/syncer/trigger/etc.
package log
