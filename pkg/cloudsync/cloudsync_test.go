package cloudsync_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqliteai/sqlite-sync/pkg/changelog"
	"github.com/sqliteai/sqlite-sync/pkg/cloudsync"
	"github.com/sqliteai/sqlite-sync/pkg/codec"
	"github.com/sqliteai/sqlite-sync/pkg/dbengine"
	"github.com/sqliteai/sqlite-sync/pkg/memengine"
	"github.com/sqliteai/sqlite-sync/pkg/merge"
)

func newEngine(t *testing.T, algo merge.Algo) (*memengine.Engine, *cloudsync.Engine) {
	t.Helper()
	host, err := memengine.Open(filepath.Join(t.TempDir(), "db.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { host.Close() })

	ctx := context.Background()
	require.NoError(t, host.EnsureTable(ctx, "t", []dbengine.ColumnInfo{
		{Name: "id", PrimaryKey: true},
		{Name: "v"},
	}))

	e, err := cloudsync.Open(ctx, host, cloudsync.Config{DefaultAlgo: algo})
	require.NoError(t, err)
	require.NoError(t, e.Init(ctx, "t"))
	return host, e
}

func allChanges(t *testing.T, e *cloudsync.Engine) []changelog.Entry {
	t.Helper()
	var out []changelog.Entry
	require.NoError(t, e.Changes(context.Background(), changelog.Cursor{}, func(entry changelog.Entry) (bool, error) {
		out = append(out, entry)
		return true, nil
	}))
	return out
}

// S1 Insert+capture (spec.md §8).
func TestScenarioS1InsertCapture(t *testing.T) {
	host, e := newEngine(t, merge.AlgoCLS)
	ctx := context.Background()

	tx, err := host.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.PutRow(ctx, "t", []codec.Value{codec.Int64(1)}, dbengine.Row{
		"id": codec.Int64(1),
		"v":  codec.Text("a"),
	}))
	require.NoError(t, tx.Commit())

	entries := allChanges(t, e)
	require.Len(t, entries, 1)
	require.Equal(t, "v", entries[0].Column)
	require.Equal(t, "a", mustText(t, entries[0].Value))
	require.Equal(t, uint64(1), entries[0].CL)
	require.Equal(t, uint64(1), entries[0].ColVersion)
	require.Equal(t, uint32(0), entries[0].Seq)
}

// S2 Delete under CLS (spec.md §8).
func TestScenarioS2DeleteUnderCLS(t *testing.T) {
	host, e := newEngine(t, merge.AlgoCLS)
	ctx := context.Background()

	tx, err := host.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.PutRow(ctx, "t", []codec.Value{codec.Int64(1)}, dbengine.Row{
		"id": codec.Int64(1),
		"v":  codec.Text("a"),
	}))
	require.NoError(t, tx.Commit())
	insertDBVersion := allChanges(t, e)[0].DBVersion

	tx, err = host.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.DeleteRow(ctx, "t", []codec.Value{codec.Int64(1)}))
	require.NoError(t, tx.Commit())

	entries := allChanges(t, e)
	require.Len(t, entries, 2)
	del := entries[1]
	require.Equal(t, changelog.RowLevelColumn, del.Column)
	require.True(t, del.Value.IsTombstone())
	require.Equal(t, uint64(2), del.CL)
	require.Equal(t, uint32(1), del.Seq)
	require.Equal(t, insertDBVersion+1, del.DBVersion)
}

func mustText(t *testing.T, v codec.Value) string {
	t.Helper()
	s, ok := v.Text()
	require.True(t, ok)
	return s
}

func TestInitRejectsTableWithoutPrimaryKey(t *testing.T) {
	host, err := memengine.Open(filepath.Join(t.TempDir(), "db.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { host.Close() })
	ctx := context.Background()
	require.NoError(t, host.EnsureTable(ctx, "nopk", []dbengine.ColumnInfo{{Name: "v"}}))

	e, err := cloudsync.Open(ctx, host, cloudsync.Config{})
	require.NoError(t, err)
	require.ErrorIs(t, e.Init(ctx, "nopk"), cloudsync.ErrSchema)
}

func TestEnableDisableIsEnabled(t *testing.T) {
	_, e := newEngine(t, merge.AlgoCLS)
	require.True(t, e.IsEnabled("t"))

	require.NoError(t, e.Disable("t"))
	require.False(t, e.IsEnabled("t"))

	require.NoError(t, e.Enable(context.Background(), "t"))
	require.True(t, e.IsEnabled("t"))
}

func TestDBVersionAdvancesAndDBVersionNextAllocates(t *testing.T) {
	host, e := newEngine(t, merge.AlgoCLS)
	ctx := context.Background()

	v0, err := e.DBVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(0), v0)

	tx, err := host.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.PutRow(ctx, "t", []codec.Value{codec.Int64(1)}, dbengine.Row{
		"id": codec.Int64(1),
		"v":  codec.Text("a"),
	}))
	require.NoError(t, tx.Commit())

	v1, err := e.DBVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), v1)

	v2, err := e.DBVersionNext(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), v2)
}

func TestSiteIDPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	host, err := memengine.Open(filepath.Join(dir, "db.bolt"))
	require.NoError(t, err)
	e, err := cloudsync.Open(ctx, host, cloudsync.Config{})
	require.NoError(t, err)
	site := e.SiteID()
	require.NoError(t, host.Close())

	host2, err := memengine.Open(filepath.Join(dir, "db.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { host2.Close() })
	e2, err := cloudsync.Open(ctx, host2, cloudsync.Config{})
	require.NoError(t, err)
	require.Equal(t, site, e2.SiteID())
}
