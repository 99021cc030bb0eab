package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/sqliteai/sqlite-sync/pkg/changelog"
	"github.com/sqliteai/sqlite-sync/pkg/idgen"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

func init() {
	// Safe default so packages that log before an explicit Init (tests,
	// library callers that never configure logging) don't write to a nil
	// writer.
	Init(Config{Level: InfoLevel})
}

// Init initializes the global logger
func Init(cfg Config) {
	// Set log level
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Use JSON or console output
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTable creates a child logger with a table field, for tagging
// per-table activity. No cloudsync package calls it; the trigger
// installer and merge engine add the table field to each line directly.
func WithTable(table string) zerolog.Logger {
	return Logger.With().Str("table", table).Logger()
}

// WithSite creates a child logger with a site_id field, hex-encoded the
// same way the change log and wire format carry it — the database's own
// site id for a connection-scoped logger, or a peer's for one logging a
// foreign change's provenance.
func WithSite(siteID idgen.ID) zerolog.Logger {
	return Logger.With().Str("site_id", siteID.Hex()).Logger()
}

// WithPolicy creates a child logger tagged with a table's configured
// CRDT algorithm and the outcome a policy decision reached
// (applied/skipped/rejected, or install/uninstall for lifecycle
// events), used by the trigger installer wherever a log line's meaning
// depends on which algorithm was in play.
func WithPolicy(algo, outcome string) zerolog.Logger {
	return Logger.With().Str("algo", algo).Str("outcome", outcome).Logger()
}

// WithChange creates a child logger carrying one change log entry's
// full coordinate — table, column (empty for a row-level change),
// col_version, db_version, seq, cl and site_id — the shape spec.md §3
// defines for a single tracked change, so a merge decision or sync
// upload/check line can be traced back to the exact row and claim it
// concerns without formatting the entry by hand at every call site.
func WithChange(entry changelog.Entry) zerolog.Logger {
	return Logger.With().
		Str("table", entry.Table).
		Str("column", entry.Column).
		Uint64("col_version", entry.ColVersion).
		Uint64("db_version", entry.DBVersion).
		Uint32("seq", entry.Seq).
		Uint64("cl", entry.CL).
		Str("site_id", entry.SiteID.Hex()).
		Logger()
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
