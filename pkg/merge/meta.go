package merge

import (
	"context"
	"fmt"

	"github.com/sqliteai/sqlite-sync/pkg/codec"
	"github.com/sqliteai/sqlite-sync/pkg/dbengine"
	"github.com/sqliteai/sqlite-sync/pkg/idgen"
)

// VersionKey is the (col_version, site_id) pair spec.md §4.6 compares to
// decide whether one change beats another. It governs both per-column
// merges and, generalized to the row's presence state, the causal-length
// based policies below.
type VersionKey struct {
	ColVersion uint64
	SiteID     idgen.ID
}

// Beats reports whether a strictly dominates b under spec.md §4.6's rule:
// a strictly greater col_version wins outright; on a tie, the strictly
// greater site id wins.
func (a VersionKey) Beats(b VersionKey) bool {
	if a.ColVersion != b.ColVersion {
		return a.ColVersion > b.ColVersion
	}
	return idgen.Less(b.SiteID, a.SiteID)
}

// RowMeta is the per-(table,pk) bookkeeping row the trigger installer and
// merge engine share: the row's causal length, and the (col_version,
// site_id) of whichever event most recently flipped it live (CL odd).
// That pair stands in for "the current claim on this row's existence"
// used by the AWS and DWS policies' tombstone-vs-insert arbitration.
type RowMeta struct {
	CL        uint64
	LastClaim VersionKey
}

// ColMeta is the per-(table,pk,column) bookkeeping row recording the last
// applied (col_version, site_id) for that column.
type ColMeta struct {
	Version VersionKey
}

// MetaTable returns the name of table's per-row meta object
// (cloudsync_<table>_meta, per spec.md §3).
func MetaTable(table string) string {
	return "cloudsync_" + table + "_meta"
}

// ColMetaTable returns the name of table's per-column meta object. The
// reference schema folds this into the same physical shadow table as
// MetaTable; this module keeps it separate so memengine does not need
// dynamic per-table column sets.
func ColMetaTable(table string) string {
	return "cloudsync_" + table + "_colmeta"
}

// pkColumns returns n synthetic primary-key ColumnInfo entries
// (__pk0..__pk{n-1}), used for both meta objects' own pk in place of the
// tracked user table's real column names: the meta objects are
// cloudsync-internal and never introspected by application code, so a
// positional naming scheme avoids threading the user table's actual
// column names through every meta accessor call.
func pkColumns(n int) []dbengine.ColumnInfo {
	cols := make([]dbengine.ColumnInfo, n)
	for i := range cols {
		cols[i] = dbengine.ColumnInfo{Name: fmt.Sprintf("__pk%d", i), PrimaryKey: true, Position: i}
	}
	return cols
}

// EnsureMeta creates table's two meta objects if absent. pkWidth is the
// number of primary-key components the tracked user table has.
func EnsureMeta(ctx context.Context, host dbengine.Host, table string, pkWidth int) error {
	rowCols := append(pkColumns(pkWidth),
		dbengine.ColumnInfo{Name: "cl"},
		dbengine.ColumnInfo{Name: "claim_version"},
		dbengine.ColumnInfo{Name: "claim_site"},
	)
	if err := host.EnsureTable(ctx, MetaTable(table), rowCols); err != nil {
		return fmt.Errorf("merge: ensure %s: %w", MetaTable(table), err)
	}

	colCols := append(pkColumns(pkWidth),
		dbengine.ColumnInfo{Name: "column", PrimaryKey: true, Position: pkWidth},
		dbengine.ColumnInfo{Name: "col_version"},
		dbengine.ColumnInfo{Name: "site_id"},
	)
	if err := host.EnsureTable(ctx, ColMetaTable(table), colCols); err != nil {
		return fmt.Errorf("merge: ensure %s: %w", ColMetaTable(table), err)
	}
	return nil
}

// GetRowMeta reads table's row meta for pk.
func GetRowMeta(ctx context.Context, tx dbengine.Tx, table string, pk []codec.Value) (RowMeta, bool, error) {
	row, err := tx.GetRow(ctx, MetaTable(table), pk)
	if err == dbengine.ErrRowNotFound {
		return RowMeta{}, false, nil
	}
	if err != nil {
		return RowMeta{}, false, err
	}
	cl, _ := row["cl"].Int64()
	claimVer, _ := row["claim_version"].Int64()
	siteBytes, _ := row["claim_site"].Blob()
	site, err := idgen.FromBytes(siteBytes)
	if err != nil {
		return RowMeta{}, false, fmt.Errorf("merge: decode claim site: %w", err)
	}
	return RowMeta{CL: uint64(cl), LastClaim: VersionKey{ColVersion: uint64(claimVer), SiteID: site}}, true, nil
}

// PutRowMeta writes table's row meta for pk.
func PutRowMeta(ctx context.Context, tx dbengine.Tx, table string, pk []codec.Value, meta RowMeta) error {
	row := dbengine.Row{
		"cl":            codec.Int64(int64(meta.CL)),
		"claim_version": codec.Int64(int64(meta.LastClaim.ColVersion)),
		"claim_site":    codec.Blob(meta.LastClaim.SiteID.Bytes()),
	}
	return tx.PutRow(ctx, MetaTable(table), pk, mergePKIntoRow(pk, row))
}

// GetColMeta reads table's column meta for (pk, column).
func GetColMeta(ctx context.Context, tx dbengine.Tx, table, column string, pk []codec.Value) (ColMeta, bool, error) {
	key := append(append([]codec.Value{}, pk...), codec.Text(column))
	row, err := tx.GetRow(ctx, ColMetaTable(table), key)
	if err == dbengine.ErrRowNotFound {
		return ColMeta{}, false, nil
	}
	if err != nil {
		return ColMeta{}, false, err
	}
	ver, _ := row["col_version"].Int64()
	siteBytes, _ := row["site_id"].Blob()
	site, err := idgen.FromBytes(siteBytes)
	if err != nil {
		return ColMeta{}, false, fmt.Errorf("merge: decode col site: %w", err)
	}
	return ColMeta{Version: VersionKey{ColVersion: uint64(ver), SiteID: site}}, true, nil
}

// PutColMeta writes table's column meta for (pk, column).
func PutColMeta(ctx context.Context, tx dbengine.Tx, table, column string, pk []codec.Value, meta ColMeta) error {
	key := append(append([]codec.Value{}, pk...), codec.Text(column))
	row := dbengine.Row{
		"column":      codec.Text(column),
		"col_version": codec.Int64(int64(meta.Version.ColVersion)),
		"site_id":     codec.Blob(meta.Version.SiteID.Bytes()),
	}
	return tx.PutRow(ctx, ColMetaTable(table), key, mergePKIntoRow(key, row))
}

// mergePKIntoRow names the pk components __pk0, __pk1, ... in row so
// they round-trip through Row's column-name map even though callers
// otherwise address them positionally via the pk slice.
func mergePKIntoRow(pk []codec.Value, row dbengine.Row) dbengine.Row {
	for i, v := range pk {
		row[fmt.Sprintf("__pk%d", i)] = v
	}
	return row
}
