package settings

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"

	"github.com/sqliteai/sqlite-sync/pkg/codec"
	"github.com/sqliteai/sqlite-sync/pkg/dbengine"
)

// Table names of the two meta objects this package owns.
const (
	TableSettings      = "cloudsync_settings"
	TableTableSettings = "cloudsync_table_settings"
)

// Well-known keys read and written by the rest of cloudsync.
const (
	KeyVersion        = "version"
	KeySchemaVersion  = "schemaversion"
	KeyCheckDBVersion = "check_dbversion"
	KeyCheckSeq       = "check_seq"
	KeySendDBVersion  = "send_dbversion"
	KeySendSeq        = "send_seq"
	KeyDebug          = "debug"
	KeyAlgo           = "algo"
)

// Store is the cloudsync_settings / cloudsync_table_settings key/value
// store. All values are persisted as TEXT; integer keys that have never
// been set read back as 0, matching spec behavior for a fresh database.
type Store struct {
	host dbengine.Host
}

// Open ensures the backing meta tables exist and returns a Store over
// them.
func Open(ctx context.Context, host dbengine.Host) (*Store, error) {
	if err := host.EnsureTable(ctx, TableSettings, []dbengine.ColumnInfo{
		{Name: "key", PrimaryKey: true},
		{Name: "value"},
	}); err != nil {
		return nil, fmt.Errorf("settings: ensure %s: %w", TableSettings, err)
	}
	if err := host.EnsureTable(ctx, TableTableSettings, []dbengine.ColumnInfo{
		{Name: "table", PrimaryKey: true, Position: 0},
		{Name: "column", PrimaryKey: true, Position: 1},
		{Name: "key", PrimaryKey: true, Position: 2},
		{Name: "value"},
	}); err != nil {
		return nil, fmt.Errorf("settings: ensure %s: %w", TableTableSettings, err)
	}
	return &Store{host: host}, nil
}

// Get returns the raw string value stored under key, or ("", false) if
// unset.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	tx, err := s.host.Begin(ctx)
	if err != nil {
		return "", false, err
	}
	defer tx.Rollback()

	row, err := tx.GetRow(ctx, TableSettings, []codec.Value{codec.Text(key)})
	if err == dbengine.ErrRowNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	v, _ := row["value"].Text()
	return v, true, nil
}

// GetInt returns the integer value stored under key, or 0 if unset or not
// a valid integer. This matches the spec's "missing integer keys read as
// 0" behavior.
func (s *Store) GetInt(ctx context.Context, key string) (int64, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Set stores value under key, overwriting any previous value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	tx, err := s.host.Begin(ctx)
	if err != nil {
		return err
	}
	if err := tx.PutRow(ctx, TableSettings, []codec.Value{codec.Text(key)}, dbengine.Row{
		"key":   codec.Text(key),
		"value": codec.Text(value),
	}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// SetInt stores the decimal string form of value under key.
func (s *Store) SetInt(ctx context.Context, key string, value int64) error {
	return s.Set(ctx, key, strconv.FormatInt(value, 10))
}

// TableGet reads a per-(table,column) override. An empty column means a
// per-table (not per-column) setting, such as the table's chosen
// algorithm.
func (s *Store) TableGet(ctx context.Context, table, column, key string) (string, bool, error) {
	tx, err := s.host.Begin(ctx)
	if err != nil {
		return "", false, err
	}
	defer tx.Rollback()

	pk := []codec.Value{codec.Text(table), codec.Text(column), codec.Text(key)}
	row, err := tx.GetRow(ctx, TableTableSettings, pk)
	if err == dbengine.ErrRowNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	v, _ := row["value"].Text()
	return v, true, nil
}

// TableSet stores a per-(table,column) override.
func (s *Store) TableSet(ctx context.Context, table, column, key, value string) error {
	tx, err := s.host.Begin(ctx)
	if err != nil {
		return err
	}
	pk := []codec.Value{codec.Text(table), codec.Text(column), codec.Text(key)}
	if err := tx.PutRow(ctx, TableTableSettings, pk, dbengine.Row{
		"table":  codec.Text(table),
		"column": codec.Text(column),
		"key":    codec.Text(key),
		"value":  codec.Text(value),
	}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Algo returns the sync algorithm configured for table, falling back to
// the database-wide default stored under KeyAlgo when no per-table
// override exists.
func (s *Store) Algo(ctx context.Context, table string) (string, error) {
	if v, ok, err := s.TableGet(ctx, table, "", KeyAlgo); err != nil {
		return "", err
	} else if ok {
		return v, nil
	}
	v, _, err := s.Get(ctx, KeyAlgo)
	return v, err
}

// SchemaHash computes the FNV-1a-64 hash of the concatenated CREATE-TABLE
// definitions of the given tables. It sorts a copy of the statements
// before hashing, so the hash does not depend on the order the caller
// supplies them in.
// There is no third-party hash library in the dependency pack that
// improves on the standard library's FNV-1a implementation for this use,
// so hash/fnv is used directly (see DESIGN.md).
func SchemaHash(createStatements []string) uint64 {
	sorted := append([]string(nil), createStatements...)
	sort.Strings(sorted)

	h := fnv.New64a()
	for _, stmt := range sorted {
		_, _ = h.Write([]byte(stmt))
	}
	return h.Sum64()
}

// CheckSchemaDrift compares a freshly computed schema hash against the one
// recorded in settings, returning false if they differ (meaning the local
// schema has drifted since tracking began) and true if they match or no
// hash has been recorded yet.
func (s *Store) CheckSchemaDrift(ctx context.Context, createStatements []string) (bool, error) {
	raw, ok, err := s.Get(ctx, KeySchemaVersion)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	recorded, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return false, nil
	}
	return SchemaHash(createStatements) == recorded, nil
}

// RecordSchemaHash persists the schema hash of the given CREATE-TABLE
// statements as the current schemaversion.
func (s *Store) RecordSchemaHash(ctx context.Context, createStatements []string) error {
	return s.Set(ctx, KeySchemaVersion, strconv.FormatUint(SchemaHash(createStatements), 10))
}
