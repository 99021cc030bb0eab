package dbengine

import (
	"context"
	"errors"

	"github.com/sqliteai/sqlite-sync/pkg/codec"
)

// ErrRowNotFound is returned by Tx.GetRow when no row matches the given
// primary key.
var ErrRowNotFound = errors.New("dbengine: row not found")

// ErrTableNotFound is returned when the host engine has no table by the
// requested name.
var ErrTableNotFound = errors.New("dbengine: table not found")

// ColumnInfo describes one column of a user table.
type ColumnInfo struct {
	Name       string
	PrimaryKey bool
	// Position is the column's ordinal within the primary key (0-based),
	// meaningful only when PrimaryKey is true. It is informational:
	// PKColumns returns key columns in their order within All, not
	// sorted by Position.
	Position int
	// RowIDAlias reports whether this column is a single-column INTEGER
	// PRIMARY KEY that aliases the host engine's internal rowid. A table
	// whose only primary key column has this set carries no stable
	// caller-assigned identity across a delete/reinsert cycle, which the
	// schema inspector rejects by default (spec.md §4.4).
	RowIDAlias bool
}

// Columns is the ordered column list of a user table, split into primary
// key and non-key columns, as returned by Host.TableInfo.
type Columns struct {
	Table string
	All   []ColumnInfo
}

// PKColumns returns the table's primary-key columns in declared order.
func (c Columns) PKColumns() []ColumnInfo {
	out := make([]ColumnInfo, 0, len(c.All))
	for _, col := range c.All {
		if col.PrimaryKey {
			out = append(out, col)
		}
	}
	return out
}

// NonPKColumns returns the table's non-primary-key columns in declared
// order.
func (c Columns) NonPKColumns() []ColumnInfo {
	out := make([]ColumnInfo, 0, len(c.All))
	for _, col := range c.All {
		if !col.PrimaryKey {
			out = append(out, col)
		}
	}
	return out
}

// Row is a generic user-table row: column name to typed value. It
// generalizes the row objects the host engine would otherwise hand the
// core as bound statement parameters.
type Row map[string]codec.Value

// Clone returns a shallow copy of r (column values are themselves
// immutable, so this is a safe independent copy).
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Operation identifies the kind of mutation a capture hook observed.
type Operation int

const (
	OpInsert Operation = iota
	OpUpdate
	OpDelete
)

func (o Operation) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// CaptureEvent is delivered to a CaptureHook for every row mutation on a
// tracked table, within the same transaction as the mutation itself.
type CaptureEvent struct {
	Table  string
	Op     Operation
	PK     []codec.Value
	OldRow Row // populated for OpUpdate/OpDelete
	NewRow Row // populated for OpInsert/OpUpdate
}

// CaptureHook is invoked synchronously by the host engine on every row
// mutation of a tracked table, standing in for the reference
// implementation's AFTER INSERT/UPDATE/DELETE triggers (spec §4.5).
type CaptureHook func(ctx context.Context, tx Tx, event CaptureEvent) error

// Host is the set of host-database-engine services cloudsync's core
// consumes: schema introspection, transactions, and mutation capture
// hook registration. It never exposes SQL text; callers that need a real
// SQL surface build one on top of Host (out of scope for this module).
type Host interface {
	// TableInfo introspects a table's columns. It returns ErrTableNotFound
	// if no such table exists.
	TableInfo(ctx context.Context, table string) (Columns, error)

	// Tables lists every table the host knows about, used to expand the
	// "*" (all tables) argument accepted by cloudsync_init/cleanup.
	Tables(ctx context.Context) ([]string, error)

	// EnsureTable idempotently declares a table's column shape and
	// creates its backing storage if absent. cloudsync's own packages
	// call this for their meta tables (pkg/settings for
	// cloudsync_settings, pkg/changelog for cloudsync_changes, the
	// trigger installer via merge.EnsureMeta for cloudsync_<table>_meta,
	// ...); test and
	// embeddable callers also use it to stand in for a pre-existing
	// user table the real host engine would otherwise introspect.
	EnsureTable(ctx context.Context, table string, columns []ColumnInfo) error

	// Begin starts a transaction scoped to the caller; the returned Tx
	// must be committed or rolled back by the same caller and is never
	// retained past that call (spec §3 Ownership summary).
	Begin(ctx context.Context) (Tx, error)

	// RegisterCaptureHook installs hook to run on every mutation of
	// table, replacing any previously registered hook for that table.
	RegisterCaptureHook(table string, hook CaptureHook) error

	// UnregisterCaptureHook removes table's capture hook, if any.
	UnregisterCaptureHook(table string) error
}

// Tx is one logical database transaction. Implementations must make all
// operations within one Tx atomic: either every write commits or none
// does.
type Tx interface {
	// GetRow fetches the current row at pk, or ErrRowNotFound.
	GetRow(ctx context.Context, table string, pk []codec.Value) (Row, error)

	// PutRow inserts or replaces the row at pk.
	PutRow(ctx context.Context, table string, pk []codec.Value, row Row) error

	// DeleteRow removes the row at pk. It is not an error to delete a
	// nonexistent row.
	DeleteRow(ctx context.Context, table string, pk []codec.Value) error

	// ScanTable iterates every row of table in primary-key order,
	// invoking fn with the row's PK and contents until fn returns false
	// or a final row is seen.
	ScanTable(ctx context.Context, table string, fn func(pk []codec.Value, row Row) (bool, error)) error

	Commit() error
	Rollback() error
}
