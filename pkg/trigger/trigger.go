package trigger

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sqliteai/sqlite-sync/pkg/changelog"
	"github.com/sqliteai/sqlite-sync/pkg/codec"
	"github.com/sqliteai/sqlite-sync/pkg/dbengine"
	"github.com/sqliteai/sqlite-sync/pkg/idgen"
	"github.com/sqliteai/sqlite-sync/pkg/log"
	"github.com/sqliteai/sqlite-sync/pkg/merge"
	"github.com/sqliteai/sqlite-sync/pkg/metrics"
)

// scopeKey is the context key BeginCapture/scopeFrom use to thread a
// *scopeState through a logical transaction's capture calls.
type scopeKey struct{}

// scopeState is the per-transaction allocation state spec.md §3
// requires: one database version shared by every change captured
// within the transaction, and a sequence number that increments by one
// per captured change starting at 0.
type scopeState struct {
	mu        sync.Mutex
	allocated bool
	dbVersion uint64
	seq       uint32
}

// BeginCapture returns a context carrying a fresh transaction scope.
// Callers that perform several row mutations under one logical
// transaction should derive ctx once via BeginCapture and pass the
// result to every Host.Begin/Tx call in that transaction, so all of
// the capture hook invocations they trigger share one db_version and
// consume consecutive sequence numbers. A capture invoked without a
// BeginCapture scope on its context still works correctly — it simply
// gets a private, single-entry scope of its own.
func BeginCapture(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, &scopeState{})
}

func scopeFrom(ctx context.Context) *scopeState {
	if s, ok := ctx.Value(scopeKey{}).(*scopeState); ok {
		return s
	}
	return &scopeState{}
}

// nextVersion allocates this capture's (db_version, seq) pair, pulling
// a fresh db_version from the shared counter on the scope's first use
// and incrementing seq on every call after that.
func (s *scopeState) nextVersion(ctx context.Context, tx dbengine.Tx) (uint64, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.allocated {
		dbv, err := merge.AllocateLocalDBVersion(ctx, tx)
		if err != nil {
			return 0, 0, err
		}
		s.dbVersion = dbv
		s.allocated = true
	}
	seq := s.seq
	s.seq++
	return s.dbVersion, seq, nil
}

// Installer wires dbengine.CaptureHook callbacks for tracked tables
// into pkg/changelog and pkg/merge's row/column meta objects, the Go
// stand-in for spec.md §4.5's synthesized AFTER INSERT/UPDATE/DELETE
// triggers.
type Installer struct {
	host      dbengine.Host
	changelog *changelog.Store
	localSite idgen.ID
	logger    zerolog.Logger

	mu     sync.RWMutex
	algos  map[string]merge.Algo
	pkCols map[string]map[string]bool
}

// NewInstaller builds an Installer over host, appending captured
// changes to cl and stamping them with localSite.
func NewInstaller(host dbengine.Host, cl *changelog.Store, localSite idgen.ID) *Installer {
	return &Installer{
		host:      host,
		changelog: cl,
		localSite: localSite,
		logger:    log.WithComponent("trigger"),
		algos:     make(map[string]merge.Algo),
		pkCols:    make(map[string]map[string]bool),
	}
}

// Install declares table tracked under algo: it ensures table's meta
// objects exist and registers the capture hook that will fire on every
// subsequent mutation. Calling Install again for a table already
// tracked replaces its algorithm and meta declaration.
func (in *Installer) Install(ctx context.Context, table string, algo merge.Algo) error {
	if _, err := merge.PolicyFor(algo); err != nil {
		return err
	}
	cols, err := in.host.TableInfo(ctx, table)
	if err != nil {
		return fmt.Errorf("trigger: table info %s: %w", table, err)
	}
	pkWidth := len(cols.PKColumns())
	if err := merge.EnsureMeta(ctx, in.host, table, pkWidth); err != nil {
		return fmt.Errorf("trigger: ensure meta %s: %w", table, err)
	}

	pk := make(map[string]bool, pkWidth)
	for _, c := range cols.PKColumns() {
		pk[c.Name] = true
	}
	in.mu.Lock()
	in.pkCols[table] = pk
	in.mu.Unlock()

	in.mu.Lock()
	in.algos[table] = algo
	in.mu.Unlock()

	if err := in.host.RegisterCaptureHook(table, in.capture); err != nil {
		return fmt.Errorf("trigger: register hook %s: %w", table, err)
	}
	log.WithPolicy(string(algo), "installed").Info().Str("table", table).Msg("trigger: installed")
	return nil
}

// Uninstall removes table's capture hook and forgets its algorithm.
// The table's meta objects and change log history are left in place;
// spec.md §3 scopes dropping them to cleanup(table), not uninstall.
func (in *Installer) Uninstall(table string) error {
	in.mu.Lock()
	delete(in.algos, table)
	delete(in.pkCols, table)
	in.mu.Unlock()
	return in.host.UnregisterCaptureHook(table)
}

func (in *Installer) algoFor(table string) (merge.Algo, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	algo, ok := in.algos[table]
	return algo, ok
}

// isPK reports whether column is one of table's primary-key columns.
// Primary-key columns carry the row's identity, not tracked content, so
// captureInsert/captureUpdate never emit a per-column change log entry
// for them — only the row-level CL and the non-key columns' values are
// CRDT-tracked state (spec.md §3's column version is defined per
// tracked, non-key column).
func (in *Installer) isPK(table, column string) bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.pkCols[table][column]
}

// Enabled reports whether table currently has an installed capture hook
// and configured algorithm, backing cloudsync_is_enabled(t).
func (in *Installer) Enabled(table string) bool {
	_, ok := in.algoFor(table)
	return ok
}

// Algo returns table's configured algorithm, if tracked.
func (in *Installer) Algo(table string) (merge.Algo, bool) {
	return in.algoFor(table)
}

// capture is the dbengine.CaptureHook registered for every tracked
// table; it dispatches on the mutation kind the way
// pkg/manager.WarrenFSM.Apply dispatches on cmd.Op, but keyed on
// (operation, table) instead of a JSON command.
func (in *Installer) capture(ctx context.Context, tx dbengine.Tx, event dbengine.CaptureEvent) error {
	if merge.CaptureSuppressed(ctx) {
		// This write is merge.Engine.Apply physically writing an already
		// accepted foreign change to the user table; it must not be
		// recaptured as a new local change (spec.md's data-flow keeps
		// "trigger captures" and "merge engine" as distinct stages).
		return nil
	}
	algo, ok := in.algoFor(event.Table)
	if !ok {
		return nil // table was uninstalled concurrently with an in-flight mutation
	}
	scope := scopeFrom(ctx)

	switch event.Op {
	case dbengine.OpInsert:
		return in.captureInsert(ctx, tx, scope, event)
	case dbengine.OpUpdate:
		return in.captureUpdate(ctx, tx, scope, event)
	case dbengine.OpDelete:
		return in.captureDelete(ctx, tx, scope, event, algo)
	default:
		return fmt.Errorf("trigger: unknown operation %v", event.Op)
	}
}

// captureInsert implements spec.md §4.5's AFTER INSERT trigger: the
// new row's causal length starts at 1, and every non-NULL column gets
// its own col_version-1 change log entry. No row-level change log
// entry is written for an insert — a peer applying these per-column
// entries establishes row presence implicitly (pkg/merge.Engine treats
// an unseen row as freely writable), matching the reference triggers,
// which never emit a standalone "row created" change.
func (in *Installer) captureInsert(ctx context.Context, tx dbengine.Tx, scope *scopeState, event dbengine.CaptureEvent) error {
	claim := merge.VersionKey{ColVersion: 1, SiteID: in.localSite}
	if err := merge.PutRowMeta(ctx, tx, event.Table, event.PK, merge.RowMeta{CL: 1, LastClaim: claim}); err != nil {
		return fmt.Errorf("trigger: write row meta: %w", err)
	}

	appended := 0
	for column, value := range event.NewRow {
		if in.isPK(event.Table, column) || value.Kind() == codec.KindNull {
			continue
		}
		if err := in.appendColumn(ctx, tx, scope, event.Table, event.PK, column, value, 1, 1); err != nil {
			return err
		}
		appended++
	}
	if appended > 0 {
		metrics.ChangesCapturedTotal.WithLabelValues(event.Table, "insert").Inc()
	}
	return nil
}

// captureUpdate implements spec.md §4.5's AFTER UPDATE trigger: every
// column whose new value differs from its old one gets its column
// version bumped and a fresh change log entry. A primary-key-changing
// UPDATE, which the reference triggers model as a delete-then-insert
// on the two primary keys, is not handled here — the CaptureEvent the
// host delivers carries only the row's current (post-update) primary
// key, so a pk-changing update is indistinguishable from an in-place
// one at this layer without further host cooperation (see DESIGN.md).
func (in *Installer) captureUpdate(ctx context.Context, tx dbengine.Tx, scope *scopeState, event dbengine.CaptureEvent) error {
	rowMeta, ok, err := merge.GetRowMeta(ctx, tx, event.Table, event.PK)
	if err != nil {
		return fmt.Errorf("trigger: read row meta: %w", err)
	}
	if !ok {
		rowMeta = merge.RowMeta{CL: 1, LastClaim: merge.VersionKey{ColVersion: 1, SiteID: in.localSite}}
	}

	changed := 0
	for column, value := range event.NewRow {
		if in.isPK(event.Table, column) {
			continue
		}
		old, hadOld := event.OldRow[column]
		if hadOld && old.Equal(value) {
			continue
		}
		colMeta, _, err := merge.GetColMeta(ctx, tx, event.Table, column, event.PK)
		if err != nil {
			return fmt.Errorf("trigger: read col meta: %w", err)
		}
		nextVersion := colMeta.Version.ColVersion + 1
		if err := in.appendColumn(ctx, tx, scope, event.Table, event.PK, column, value, nextVersion, rowMeta.CL); err != nil {
			return err
		}
		changed++
	}
	if changed > 0 {
		metrics.ChangesCapturedTotal.WithLabelValues(event.Table, "update").Inc()
	}
	return nil
}

// captureDelete implements spec.md §4.5's AFTER DELETE trigger: the
// causal length is bumped to the next even (tombstoned) value and a
// row-level change log entry carries the tombstone sentinel. Under GOS
// this is a no-op: a grow-only set never tracks or transmits deletes
// (spec.md §4.6's CL policy table — GOS "rejects" deletes outright),
// so the local physical delete proceeds at the host level but cloudsync
// does not record or propagate it.
func (in *Installer) captureDelete(ctx context.Context, tx dbengine.Tx, scope *scopeState, event dbengine.CaptureEvent, algo merge.Algo) error {
	if algo == merge.AlgoGOS {
		log.WithPolicy(string(algo), "skipped").Debug().Str("table", event.Table).Msg("trigger: delete not tracked under gos")
		return nil
	}

	rowMeta, ok, err := merge.GetRowMeta(ctx, tx, event.Table, event.PK)
	if err != nil {
		return fmt.Errorf("trigger: read row meta: %w", err)
	}
	if !ok {
		rowMeta = merge.RowMeta{CL: 1}
	}
	newCL := rowMeta.CL + 1
	claim := merge.VersionKey{ColVersion: newCL, SiteID: in.localSite}
	if err := merge.PutRowMeta(ctx, tx, event.Table, event.PK, merge.RowMeta{CL: newCL, LastClaim: claim}); err != nil {
		return fmt.Errorf("trigger: write row meta: %w", err)
	}

	dbVersion, seq, err := scope.nextVersion(ctx, tx)
	if err != nil {
		return fmt.Errorf("trigger: allocate version: %w", err)
	}
	if err := in.changelog.Append(ctx, tx, changelog.Entry{
		Table:      event.Table,
		PK:         event.PK,
		Column:     changelog.RowLevelColumn,
		Value:      codec.Tombstone(),
		ColVersion: newCL,
		DBVersion:  dbVersion,
		Seq:        seq,
		SiteID:     in.localSite,
		CL:         newCL,
	}); err != nil {
		return err
	}
	metrics.ChangesCapturedTotal.WithLabelValues(event.Table, "delete").Inc()
	return nil
}

// appendColumn writes column's new version to column meta and appends
// the corresponding change log entry.
func (in *Installer) appendColumn(ctx context.Context, tx dbengine.Tx, scope *scopeState, table string, pk []codec.Value, column string, value codec.Value, colVersion, cl uint64) error {
	claim := merge.VersionKey{ColVersion: colVersion, SiteID: in.localSite}
	if err := merge.PutColMeta(ctx, tx, table, column, pk, merge.ColMeta{Version: claim}); err != nil {
		return fmt.Errorf("trigger: write col meta: %w", err)
	}
	dbVersion, seq, err := scope.nextVersion(ctx, tx)
	if err != nil {
		return fmt.Errorf("trigger: allocate version: %w", err)
	}
	return in.changelog.Append(ctx, tx, changelog.Entry{
		Table:      table,
		PK:         pk,
		Column:     column,
		Value:      value,
		ColVersion: colVersion,
		DBVersion:  dbVersion,
		Seq:        seq,
		SiteID:     in.localSite,
		CL:         cl,
	})
}
