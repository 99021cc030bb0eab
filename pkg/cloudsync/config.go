package cloudsync

import (
	"time"

	"github.com/sqliteai/sqlite-sync/pkg/merge"
	"github.com/sqliteai/sqlite-sync/pkg/syncer"
)

// Version is the library version string cloudsync_version() reports.
const Version = "0.1.0"

// Config constructs an Engine directly in Go (no file format): the
// settings store (pkg/settings) is the durable configuration surface
// spec.md already names, so a file-based config loader would duplicate
// state cloudsync itself owns (see DESIGN.md).
type Config struct {
	// DefaultAlgo is the merge algorithm cloudsync_init assigns a table
	// that has no per-table override already recorded in settings.
	// Defaults to merge.AlgoCLS.
	DefaultAlgo merge.Algo

	// Debug, when true, is recorded under settings.KeyDebug and raises
	// the package logger's component loggers to debug level at the
	// caller's discretion (pkg/log.Init is a separate, process-wide
	// call; Engine only persists the flag).
	Debug bool

	// Transport is the host binding's HTTPS collaborator (§6). It is
	// optional at Open time — NetworkInit requires it to have been set
	// before any network_* call succeeds, since this module never
	// constructs a concrete HTTP client itself.
	Transport syncer.Transport

	// RetrySleep and RetryAttempts are NetworkCheckChangesSync's
	// defaults when a caller invokes cloudsync_network_check_changes_sync
	// with a zero duration / attempt count.
	RetrySleep    time.Duration
	RetryAttempts int
}

func (c Config) withDefaults() Config {
	if c.DefaultAlgo == "" {
		c.DefaultAlgo = merge.AlgoCLS
	}
	if c.RetrySleep <= 0 {
		c.RetrySleep = 200 * time.Millisecond
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 5
	}
	return c
}
