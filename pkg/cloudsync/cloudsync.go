// Package cloudsync is the top-level facade wiring pkg/dbengine,
// pkg/settings, pkg/schema, pkg/trigger, pkg/merge, pkg/vtab and
// pkg/syncer into the single Engine type a thin host-binding layer
// (out of scope, per spec.md §1) would register as the cloudsync_*
// SQL functions and the cloudsync_changes virtual table (spec.md §6).
// It plays the role pkg/manager.Manager plays for the teacher: the one
// type that owns every subsystem's lifetime and exposes it as a small
// set of named operations instead of each subsystem's own constructor.
package cloudsync

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sqliteai/sqlite-sync/pkg/changelog"
	"github.com/sqliteai/sqlite-sync/pkg/codec"
	"github.com/sqliteai/sqlite-sync/pkg/conn"
	"github.com/sqliteai/sqlite-sync/pkg/dbengine"
	"github.com/sqliteai/sqlite-sync/pkg/idgen"
	"github.com/sqliteai/sqlite-sync/pkg/log"
	"github.com/sqliteai/sqlite-sync/pkg/merge"
	"github.com/sqliteai/sqlite-sync/pkg/schema"
	"github.com/sqliteai/sqlite-sync/pkg/settings"
	"github.com/sqliteai/sqlite-sync/pkg/syncer"
	"github.com/sqliteai/sqlite-sync/pkg/trigger"
	"github.com/sqliteai/sqlite-sync/pkg/vtab"
)

// tableSiteID is cloudsync's own single-row site-id object
// (cloudsync_site_id, spec.md §3).
const tableSiteID = "cloudsync_site_id"

// Engine is one database's cloudsync state: its site id, its tracked
// tables' capture hooks, and (once NetworkInit has run) its sync
// endpoint and credential. Callers embedding cloudsync directly hold
// one Engine per database; a host binding juggling several open
// connections keys them by an opaque token through pkg/conn.Registry
// instead (see pkg/conn's doc comment).
type Engine struct {
	host      dbengine.Host
	changelog *changelog.Store
	settings  *settings.Store
	installer *trigger.Installer
	merge     *merge.Engine
	cursor    *vtab.Cursor
	writer    *vtab.Writer

	siteID idgen.ID
	conn   *conn.State
	cfg    Config
	logger zerolog.Logger

	orchestrator *syncer.Orchestrator
	endpoint     syncer.Endpoint
}

// Open wires an Engine over host, loading or minting this database's
// site id, recording the library version setting on first use and the
// debug flag on every call. No schema version setting is written here.
func Open(ctx context.Context, host dbengine.Host, cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	siteID, err := loadOrCreateSiteID(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("%w: load site id: %v", ErrStorage, err)
	}

	st, err := settings.Open(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("%w: open settings: %v", ErrStorage, err)
	}
	if _, ok, err := st.Get(ctx, settings.KeyVersion); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	} else if !ok {
		if err := st.Set(ctx, settings.KeyVersion, Version); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
	}
	debug := 0
	if cfg.Debug {
		debug = 1
	}
	if err := st.SetInt(ctx, settings.KeyDebug, int64(debug)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	cl, err := changelog.Open(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("%w: open changelog: %v", ErrStorage, err)
	}

	installer := trigger.NewInstaller(host, cl, siteID)
	mergeEngine := merge.NewEngine(host, cl)
	connState := conn.NewState()
	connState.SetSiteID(siteID)

	logger := log.WithSite(siteID).With().Str("component", "cloudsync").Logger()

	return &Engine{
		host:      host,
		changelog: cl,
		settings:  st,
		installer: installer,
		merge:     mergeEngine.WithLogger(logger),
		cursor:    vtab.NewCursor(host, cl),
		writer:    vtab.NewWriter(mergeEngine, st),
		siteID:    siteID,
		conn:      connState,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

func loadOrCreateSiteID(ctx context.Context, host dbengine.Host) (idgen.ID, error) {
	if err := host.EnsureTable(ctx, tableSiteID, []dbengine.ColumnInfo{
		{Name: "singleton", PrimaryKey: true},
		{Name: "site_id"},
	}); err != nil {
		return idgen.Nil, err
	}

	tx, err := host.Begin(ctx)
	if err != nil {
		return idgen.Nil, err
	}
	pk := []codec.Value{codec.Int64(0)}
	row, err := tx.GetRow(ctx, tableSiteID, pk)
	if err == nil {
		tx.Rollback()
		blob, _ := row["site_id"].Blob()
		return idgen.FromBytes(blob)
	}
	if err != dbengine.ErrRowNotFound {
		tx.Rollback()
		return idgen.Nil, err
	}

	id, err := idgen.New()
	if err != nil {
		tx.Rollback()
		return idgen.Nil, err
	}
	if err := tx.PutRow(ctx, tableSiteID, pk, dbengine.Row{
		"singleton": codec.Int64(0),
		"site_id":   codec.Blob(id.Bytes()),
	}); err != nil {
		tx.Rollback()
		return idgen.Nil, err
	}
	return id, tx.Commit()
}

// SiteID returns this database's 16-byte site id (cloudsync_siteid).
func (e *Engine) SiteID() idgen.ID { return e.siteID }

// Version returns the library version string (cloudsync_version).
func (e *Engine) Version() string { return Version }

// DBVersion returns the current local database version without
// advancing it (cloudsync_db_version).
func (e *Engine) DBVersion(ctx context.Context) (uint64, error) {
	v, err := merge.CurrentLocalDBVersion(ctx, e.host)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return v, nil
}

// DBVersionNext allocates and returns the next local database version
// (cloudsync_db_version_next).
func (e *Engine) DBVersionNext(ctx context.Context) (uint64, error) {
	v, err := merge.NextLocalDBVersion(ctx, e.host)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return v, nil
}

// Init installs meta objects and a capture hook for table (or, for the
// "*" wildcard, every non-reserved table the host knows about),
// choosing the table's already-configured algorithm if one exists in
// settings and cfg.DefaultAlgo otherwise (cloudsync_init).
func (e *Engine) Init(ctx context.Context, table string) error {
	tables, err := schema.ExpandTables(ctx, e.host, table)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	for _, t := range tables {
		if _, err := schema.Inspect(ctx, e.host, t, schema.Options{}); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrSchema, t, err)
		}
		algo := e.cfg.DefaultAlgo
		if override, ok, err := e.settings.TableGet(ctx, t, "", settings.KeyAlgo); err != nil {
			return fmt.Errorf("%w: %v", ErrStorage, err)
		} else if ok && override != "" {
			algo = merge.Algo(override)
		}
		if err := e.installer.Install(ctx, t, algo); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrStorage, t, err)
		}
		if err := e.settings.TableSet(ctx, t, "", settings.KeyAlgo, string(algo)); err != nil {
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
	}
	return nil
}

// Cleanup removes table's (or every table's, for "*") capture hook and
// forgets its algorithm. The host interface (pkg/dbengine.Host) has no
// table-drop primitive, so unlike the reference implementation's DROP
// TABLE on its shadow objects, the meta tables and change log rows are
// left physically in place — a subsequent Init re-tracking the same
// table will see stale meta rows as if the table had never stopped
// being tracked, which is a conservative (never-corrupting) difference
// from the reference behavior (recorded in DESIGN.md).
func (e *Engine) Cleanup(ctx context.Context, table string) error {
	tables, err := schema.ExpandTables(ctx, e.host, table)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	for _, t := range tables {
		if err := e.installer.Uninstall(t); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrStorage, t, err)
		}
	}
	return nil
}

// Enable reinstalls table's capture hook using its previously configured
// algorithm, without touching its meta objects (cloudsync_enable).
func (e *Engine) Enable(ctx context.Context, table string) error {
	raw, err := e.settings.Algo(ctx, table)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if raw == "" {
		raw = string(e.cfg.DefaultAlgo)
	}
	if err := e.installer.Install(ctx, table, merge.Algo(raw)); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// Disable drops table's capture hook without touching its meta objects
// (cloudsync_disable).
func (e *Engine) Disable(table string) error {
	if err := e.installer.Uninstall(table); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// IsEnabled reports whether table currently has an installed capture
// hook (cloudsync_is_enabled).
func (e *Engine) IsEnabled(table string) bool {
	return e.installer.Enabled(table)
}

// Changes iterates this database's local change log strictly after
// since, the read side of cloudsync_changes.
func (e *Engine) Changes(ctx context.Context, since changelog.Cursor, fn func(changelog.Entry) (bool, error)) error {
	return e.cursor.Scan(ctx, since, fn)
}

// InsertChange feeds a foreign change into the merge engine under its
// table's configured algorithm, the write side of cloudsync_changes.
// The returned bool is the row's own affected-row-count contract
// (§4.7); a false, nil-error result means the change was skipped by
// policy, not that anything failed.
func (e *Engine) InsertChange(ctx context.Context, foreign changelog.Entry) (bool, error) {
	applied, err := e.writer.Insert(ctx, foreign, merge.NopObserver{})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return applied, nil
}
