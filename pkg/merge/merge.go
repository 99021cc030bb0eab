package merge

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/sqliteai/sqlite-sync/pkg/changelog"
	"github.com/sqliteai/sqlite-sync/pkg/codec"
	"github.com/sqliteai/sqlite-sync/pkg/dbengine"
	"github.com/sqliteai/sqlite-sync/pkg/log"
	"github.com/sqliteai/sqlite-sync/pkg/metrics"
	"github.com/sqliteai/sqlite-sync/pkg/settings"
)

// suppressKey marks a context as carrying a foreign change through
// Engine.Apply. pkg/trigger's capture hook checks CaptureSuppressed and
// no-ops when set, so the physical row write applyColumn/applyRowLevel
// make on the user's own table does not loop back through the local
// capture path and re-append a second, locally-stamped change log
// entry for the same mutation — spec.md's data-flow diagram keeps
// "trigger captures" and "merge engine" as distinct pipeline stages,
// never both firing for one written row.
type suppressKey struct{}

// SuppressCapture returns a context that CaptureSuppressed reports true
// for.
func SuppressCapture(ctx context.Context) context.Context {
	return context.WithValue(ctx, suppressKey{}, true)
}

// CaptureSuppressed reports whether ctx was derived from
// SuppressCapture.
func CaptureSuppressed(ctx context.Context) bool {
	v, _ := ctx.Value(suppressKey{}).(bool)
	return v
}

// localDBVersionKey is an internal counter, not one of the spec's named
// settings keys, tracking the next local database version this site
// will stamp on a captured or re-appended change. pkg/trigger shares
// this counter for locally captured mutations, and Engine.reappend
// shares it for foreign changes accepted during an Apply, so the two
// capture paths spec.md §3 describes ("captures or applies at least
// one change") advance one unified per-database version.
const localDBVersionKey = "__local_dbversion"

// AllocateLocalDBVersion increments and returns this site's local
// database version counter, within tx so the allocation is atomic with
// whatever change it will stamp.
func AllocateLocalDBVersion(ctx context.Context, tx dbengine.Tx) (uint64, error) {
	key := []codec.Value{codec.Text(localDBVersionKey)}
	row, err := tx.GetRow(ctx, settings.TableSettings, key)
	var current int64
	if err == nil {
		if raw, ok := row["value"].Text(); ok {
			current, _ = strconv.ParseInt(raw, 10, 64)
		}
	} else if err != dbengine.ErrRowNotFound {
		return 0, err
	}
	next := current + 1
	if err := tx.PutRow(ctx, settings.TableSettings, key, dbengine.Row{
		"key":   codec.Text(localDBVersionKey),
		"value": codec.Text(strconv.FormatInt(next, 10)),
	}); err != nil {
		return 0, err
	}
	return uint64(next), nil
}

// CurrentLocalDBVersion reads this site's local database version counter
// without advancing it, backing cloudsync_db_version(). A database that
// has never captured or applied a change reads as 0.
func CurrentLocalDBVersion(ctx context.Context, host dbengine.Host) (uint64, error) {
	tx, err := host.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	row, err := tx.GetRow(ctx, settings.TableSettings, []codec.Value{codec.Text(localDBVersionKey)})
	if err == dbengine.ErrRowNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	raw, _ := row["value"].Text()
	current, _ := strconv.ParseInt(raw, 10, 64)
	return uint64(current), nil
}

// NextLocalDBVersion allocates and returns the next local database
// version in its own transaction, backing cloudsync_db_version_next().
func NextLocalDBVersion(ctx context.Context, host dbengine.Host) (uint64, error) {
	tx, err := host.Begin(ctx)
	if err != nil {
		return 0, err
	}
	next, err := AllocateLocalDBVersion(ctx, tx)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

// Observer lets callers (pkg/vtab, pkg/syncer) react to an apply
// decision without the merge engine needing to know about rls columns,
// virtual table row counts, or transport acknowledgements. Mirrors the
// teacher's CaptureHook shape: small, synchronous, transaction-scoped.
type Observer interface {
	// WillApply is called after the engine has decided foreign should
	// be applied, before the write. Returning an error aborts the
	// apply and rolls back the transaction.
	WillApply(ctx context.Context, foreign changelog.Entry) error
	// DidApply is called after a successful, committed apply.
	DidApply(ctx context.Context, foreign changelog.Entry)
	// Cleanup is called once per Apply call regardless of outcome.
	Cleanup(ctx context.Context)
}

// NopObserver implements Observer with no-ops, for callers that only
// care about the applied/error return values.
type NopObserver struct{}

func (NopObserver) WillApply(context.Context, changelog.Entry) error { return nil }
func (NopObserver) DidApply(context.Context, changelog.Entry)        {}
func (NopObserver) Cleanup(context.Context)                          {}

// Engine applies foreign change log entries to a host database under a
// table's configured CRDT policy, maintaining the row and column meta
// objects pkg/trigger's local capture path also writes.
type Engine struct {
	host      dbengine.Host
	changelog *changelog.Store
	logger    zerolog.Logger
}

// NewEngine builds an Engine over host's change log, logging under the
// "merge" component.
func NewEngine(host dbengine.Host, cl *changelog.Store) *Engine {
	return &Engine{host: host, changelog: cl, logger: log.WithComponent("merge")}
}

// WithLogger returns a copy of e logging through logger instead of the
// default "merge" component logger.
func (e *Engine) WithLogger(logger zerolog.Logger) *Engine {
	clone := *e
	clone.logger = logger
	return &clone
}

// Apply decides, under algo's policy, whether foreign should be applied
// to the local database, applies it if so, and re-appends it to the
// local change log under a freshly allocated local (db_version, seq) so
// it shows up in this site's change log read side — while keeping
// foreign's original site id, col_version and causal length intact,
// since those describe provenance and conflict state. Because the entry
// keeps the foreign site id, the sync orchestrator's Upload (which sends
// only entries carrying the local site id) does not relay it.
func (e *Engine) Apply(ctx context.Context, foreign changelog.Entry, algo Algo, observer Observer) (applied bool, err error) {
	if observer == nil {
		observer = NopObserver{}
	}
	defer observer.Cleanup(ctx)
	ctx = SuppressCapture(ctx)

	timer := metrics.NewTimer()
	defer func() {
		outcome := "skipped"
		switch {
		case err != nil:
			outcome = "rejected"
		case applied:
			outcome = "applied"
		}
		metrics.MergeDecisionsTotal.WithLabelValues(foreign.Table, string(algo), outcome).Inc()
		timer.ObserveDuration(metrics.MergeApplyDuration)

		ev := log.WithChange(foreign)
		policyLog := ev.With().Str("algo", string(algo)).Str("outcome", outcome).Logger()
		if err != nil {
			policyLog.Debug().Err(err).Msg("merge: apply failed")
		} else {
			policyLog.Debug().Dur("took", timer.Duration()).Msg("merge: apply decided")
		}
	}()

	policy, err := PolicyFor(algo)
	if err != nil {
		return false, err
	}

	tx, err := e.host.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("merge: begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	applied, err = e.applyLocked(ctx, tx, foreign, policy, observer)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, tx.Rollback()
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("merge: commit: %w", err)
	}
	committed = true
	observer.DidApply(ctx, foreign)
	return true, nil
}

func (e *Engine) applyLocked(ctx context.Context, tx dbengine.Tx, foreign changelog.Entry, policy Policy, observer Observer) (bool, error) {
	rowMeta, _, err := GetRowMeta(ctx, tx, foreign.Table, foreign.PK)
	if err != nil {
		return false, fmt.Errorf("merge: read row meta: %w", err)
	}
	foreignVersion := VersionKey{ColVersion: foreign.ColVersion, SiteID: foreign.SiteID}

	if foreign.Column == changelog.RowLevelColumn {
		return e.applyRowLevel(ctx, tx, foreign, policy, rowMeta, foreignVersion, observer)
	}
	return e.applyColumn(ctx, tx, foreign, rowMeta, foreignVersion, observer)
}

// applyRowLevel handles a presence claim: an insert (CL goes live) or a
// delete (CL goes tombstoned), per spec.md §4.5's causal-length bump.
func (e *Engine) applyRowLevel(ctx context.Context, tx dbengine.Tx, foreign changelog.Entry, policy Policy, rowMeta RowMeta, foreignVersion VersionKey, observer Observer) (bool, error) {
	if !isLive(foreign.CL) && !policy.AllowDelete() {
		e.logger.Debug().Str("table", foreign.Table).Str("algo", string(policy.Algo())).Msg("merge: delete rejected by policy")
		return false, nil
	}
	if !policy.AcceptPresence(rowMeta, foreign.CL, foreignVersion) {
		return false, nil
	}
	if err := observer.WillApply(ctx, foreign); err != nil {
		return false, err
	}

	if !isLive(foreign.CL) {
		if err := tx.DeleteRow(ctx, foreign.Table, foreign.PK); err != nil && err != dbengine.ErrRowNotFound {
			return false, fmt.Errorf("merge: delete row: %w", err)
		}
	}

	newMeta := RowMeta{CL: foreign.CL, LastClaim: foreignVersion}
	if err := PutRowMeta(ctx, tx, foreign.Table, foreign.PK, newMeta); err != nil {
		return false, fmt.Errorf("merge: write row meta: %w", err)
	}
	if err := e.reappend(ctx, tx, foreign); err != nil {
		return false, err
	}
	return true, nil
}

// applyColumn handles a single column's value, accepted when foreign's
// (col_version, site_id) beats whatever this site last recorded for
// that column, per spec.md §4.6. The write only touches the physical
// row when the row is currently live; a column update against a
// tombstoned row is still recorded in column meta so a later AWS
// revival sees the right value. A value carrying the RLS sentinel is never applied: it
// leaves the row and column meta untouched and reports not-applied.
func (e *Engine) applyColumn(ctx context.Context, tx dbengine.Tx, foreign changelog.Entry, rowMeta RowMeta, foreignVersion VersionKey, observer Observer) (bool, error) {
	if foreign.Value.IsRLS() {
		e.logger.Debug().Str("table", foreign.Table).Str("column", foreign.Column).Msg("merge: rls-restricted value not applied")
		return false, nil
	}
	colMeta, _, err := GetColMeta(ctx, tx, foreign.Table, foreign.Column, foreign.PK)
	if err != nil {
		return false, fmt.Errorf("merge: read col meta: %w", err)
	}
	if colMeta.Version.ColVersion != 0 && !foreignVersion.Beats(colMeta.Version) {
		return false, nil
	}

	if err := observer.WillApply(ctx, foreign); err != nil {
		return false, err
	}

	if rowMeta.CL == 0 || isLive(rowMeta.CL) {
		row, err := tx.GetRow(ctx, foreign.Table, foreign.PK)
		if err == dbengine.ErrRowNotFound {
			row = dbengine.Row{}
		} else if err != nil {
			return false, fmt.Errorf("merge: read row: %w", err)
		}
		row[foreign.Column] = foreign.Value
		if err := tx.PutRow(ctx, foreign.Table, foreign.PK, row); err != nil {
			return false, fmt.Errorf("merge: write row: %w", err)
		}
	}

	if err := PutColMeta(ctx, tx, foreign.Table, foreign.Column, foreign.PK, ColMeta{Version: foreignVersion}); err != nil {
		return false, fmt.Errorf("merge: write col meta: %w", err)
	}
	if err := e.reappend(ctx, tx, foreign); err != nil {
		return false, err
	}
	return true, nil
}

// reappend writes foreign into the local change log under a freshly
// allocated local (db_version, seq), preserving its site id, column
// version and causal length so the entry still carries the provenance
// a further hop's merge decision needs.
func (e *Engine) reappend(ctx context.Context, tx dbengine.Tx, foreign changelog.Entry) error {
	dbVersion, err := AllocateLocalDBVersion(ctx, tx)
	if err != nil {
		return fmt.Errorf("merge: allocate local version: %w", err)
	}
	local := foreign
	local.DBVersion = dbVersion
	local.Seq = 0
	return e.changelog.Append(ctx, tx, local)
}
