// Package vtab implements the two sides of spec.md §4.7's virtual
// cloudsync_changes table as plain Go methods: a read-side Cursor that
// iterates the local change log, and a write side that feeds an
// inserted change to the merge engine, collapsing the affected-row
// count spec.md describes (1 applied, 0 skipped) to a bool. The real
// SQL virtual-table shim that would register this as a SELECT/INSERT
// surface is out of this module's scope (spec.md §1).
package vtab

import (
	"context"
	"fmt"

	"github.com/sqliteai/sqlite-sync/pkg/changelog"
	"github.com/sqliteai/sqlite-sync/pkg/dbengine"
	"github.com/sqliteai/sqlite-sync/pkg/merge"
)

// Cursor is the read side: it iterates the change log strictly after a
// given (db_version, seq) cursor, in ascending order.
type Cursor struct {
	host      dbengine.Host
	changelog *changelog.Store
}

// NewCursor builds a Cursor reading from cl via host's transactions.
func NewCursor(host dbengine.Host, cl *changelog.Store) *Cursor {
	return &Cursor{host: host, changelog: cl}
}

// Scan calls fn with every change log entry strictly after since, in
// ascending (db_version, seq) order, stopping early if fn returns
// false. It opens and rolls back its own read-only transaction.
func (c *Cursor) Scan(ctx context.Context, since changelog.Cursor, fn func(changelog.Entry) (bool, error)) error {
	tx, err := c.host.Begin(ctx)
	if err != nil {
		return fmt.Errorf("vtab: begin: %w", err)
	}
	defer tx.Rollback()

	return c.changelog.ScanSince(ctx, tx, since, nil, fn)
}

// Writer is the write side: Insert(entry) interprets an inserted change
// row as "a peer sent us this change" and forwards it to the merge
// engine, per spec.md §4.7.
type Writer struct {
	engine   *merge.Engine
	settings AlgoSource
}

// AlgoSource resolves a table's configured CRDT algorithm; pkg/settings
// satisfies this via Store.Algo.
type AlgoSource interface {
	Algo(ctx context.Context, table string) (string, error)
}

// NewWriter builds a Writer applying accepted changes through engine,
// resolving each table's algorithm from settings.
func NewWriter(engine *merge.Engine, settings AlgoSource) *Writer {
	return &Writer{engine: engine, settings: settings}
}

// Insert feeds foreign to the merge engine under its table's configured
// algorithm, returning (applied, nil) on any policy-level skip — per
// spec.md §4.7, a rejected foreign change is "0 rows affected", never an
// error. Only storage or schema errors propagate.
func (w *Writer) Insert(ctx context.Context, foreign changelog.Entry, observer merge.Observer) (applied bool, err error) {
	raw, err := w.settings.Algo(ctx, foreign.Table)
	if err != nil {
		return false, fmt.Errorf("vtab: resolve algo for %s: %w", foreign.Table, err)
	}
	if raw == "" {
		return false, fmt.Errorf("vtab: table %s has no configured algorithm", foreign.Table)
	}
	return w.engine.Apply(ctx, foreign, merge.Algo(raw), observer)
}
