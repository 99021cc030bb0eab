package memengine_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqliteai/sqlite-sync/pkg/codec"
	"github.com/sqliteai/sqlite-sync/pkg/dbengine"
	"github.com/sqliteai/sqlite-sync/pkg/memengine"
)

func openTestEngine(t *testing.T) *memengine.Engine {
	t.Helper()
	eng, err := memengine.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestCreateTableAndTableInfo(t *testing.T) {
	eng := openTestEngine(t)
	ctx := context.Background()

	cols := []dbengine.ColumnInfo{
		{Name: "id", PrimaryKey: true, Position: 0},
		{Name: "value", PrimaryKey: false},
	}
	require.NoError(t, eng.EnsureTable(ctx, "widgets", cols))

	got, err := eng.TableInfo(ctx, "widgets")
	require.NoError(t, err)
	require.Equal(t, "widgets", got.Table)
	require.Len(t, got.PKColumns(), 1)
	require.Len(t, got.NonPKColumns(), 1)

	tables, err := eng.Tables(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"widgets"}, tables)

	_, err = eng.TableInfo(ctx, "missing")
	require.ErrorIs(t, err, dbengine.ErrTableNotFound)
}

func TestPutGetDeleteRoundTrip(t *testing.T) {
	eng := openTestEngine(t)
	ctx := context.Background()
	require.NoError(t, eng.EnsureTable(ctx, "widgets", []dbengine.ColumnInfo{
		{Name: "id", PrimaryKey: true},
		{Name: "name"},
	}))

	tx, err := eng.Begin(ctx)
	require.NoError(t, err)

	pk := []codec.Value{codec.Int64(1)}
	row := dbengine.Row{"id": codec.Int64(1), "name": codec.Text("widget")}
	require.NoError(t, tx.PutRow(ctx, "widgets", pk, row))

	got, err := tx.GetRow(ctx, "widgets", pk)
	require.NoError(t, err)
	name, ok := got["name"].Text()
	require.True(t, ok)
	require.Equal(t, "widget", name)

	require.NoError(t, tx.DeleteRow(ctx, "widgets", pk))
	_, err = tx.GetRow(ctx, "widgets", pk)
	require.ErrorIs(t, err, dbengine.ErrRowNotFound)

	require.NoError(t, tx.Commit())
}

func TestDeleteNonexistentRowIsNoop(t *testing.T) {
	eng := openTestEngine(t)
	ctx := context.Background()
	require.NoError(t, eng.EnsureTable(ctx, "widgets", []dbengine.ColumnInfo{{Name: "id", PrimaryKey: true}}))

	tx, err := eng.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.DeleteRow(ctx, "widgets", []codec.Value{codec.Int64(99)}))
	require.NoError(t, tx.Commit())
}

func TestCaptureHookFiresOnInsertUpdateDelete(t *testing.T) {
	eng := openTestEngine(t)
	ctx := context.Background()
	require.NoError(t, eng.EnsureTable(ctx, "widgets", []dbengine.ColumnInfo{
		{Name: "id", PrimaryKey: true},
		{Name: "name"},
	}))

	var events []dbengine.CaptureEvent
	require.NoError(t, eng.RegisterCaptureHook("widgets", func(ctx context.Context, tx dbengine.Tx, ev dbengine.CaptureEvent) error {
		events = append(events, ev)
		return nil
	}))

	tx, err := eng.Begin(ctx)
	require.NoError(t, err)
	pk := []codec.Value{codec.Int64(1)}

	require.NoError(t, tx.PutRow(ctx, "widgets", pk, dbengine.Row{"id": codec.Int64(1), "name": codec.Text("a")}))
	require.NoError(t, tx.PutRow(ctx, "widgets", pk, dbengine.Row{"id": codec.Int64(1), "name": codec.Text("b")}))
	require.NoError(t, tx.DeleteRow(ctx, "widgets", pk))
	require.NoError(t, tx.Commit())

	require.Len(t, events, 3)
	require.Equal(t, dbengine.OpInsert, events[0].Op)
	require.Nil(t, events[0].OldRow)

	require.Equal(t, dbengine.OpUpdate, events[1].Op)
	oldName, _ := events[1].OldRow["name"].Text()
	require.Equal(t, "a", oldName)
	newName, _ := events[1].NewRow["name"].Text()
	require.Equal(t, "b", newName)

	require.Equal(t, dbengine.OpDelete, events[2].Op)
	delName, _ := events[2].OldRow["name"].Text()
	require.Equal(t, "b", delName)

	require.NoError(t, eng.UnregisterCaptureHook("widgets"))
	tx2, err := eng.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx2.PutRow(ctx, "widgets", pk, dbengine.Row{"id": codec.Int64(1), "name": codec.Text("c")}))
	require.NoError(t, tx2.Commit())
	require.Len(t, events, 3, "hook should not fire after unregister")
}

func TestRegisterCaptureHookRejectsUnknownTable(t *testing.T) {
	eng := openTestEngine(t)
	err := eng.RegisterCaptureHook("ghost", func(context.Context, dbengine.Tx, dbengine.CaptureEvent) error { return nil })
	require.ErrorIs(t, err, dbengine.ErrTableNotFound)
}

func TestScanTableVisitsAllRowsInPKOrder(t *testing.T) {
	eng := openTestEngine(t)
	ctx := context.Background()
	require.NoError(t, eng.EnsureTable(ctx, "widgets", []dbengine.ColumnInfo{{Name: "id", PrimaryKey: true}}))

	tx, err := eng.Begin(ctx)
	require.NoError(t, err)
	for _, id := range []int64{3, 1, 2} {
		pk := []codec.Value{codec.Int64(id)}
		require.NoError(t, tx.PutRow(ctx, "widgets", pk, dbengine.Row{"id": codec.Int64(id)}))
	}

	var seen []int64
	require.NoError(t, tx.ScanTable(ctx, "widgets", func(pk []codec.Value, row dbengine.Row) (bool, error) {
		v, _ := pk[0].Int64()
		seen = append(seen, v)
		return true, nil
	}))
	require.Equal(t, []int64{1, 2, 3}, seen)
	require.NoError(t, tx.Commit())
}

func TestScanTableStopsEarly(t *testing.T) {
	eng := openTestEngine(t)
	ctx := context.Background()
	require.NoError(t, eng.EnsureTable(ctx, "widgets", []dbengine.ColumnInfo{{Name: "id", PrimaryKey: true}}))

	tx, err := eng.Begin(ctx)
	require.NoError(t, err)
	for _, id := range []int64{1, 2, 3} {
		pk := []codec.Value{codec.Int64(id)}
		require.NoError(t, tx.PutRow(ctx, "widgets", pk, dbengine.Row{"id": codec.Int64(id)}))
	}

	count := 0
	require.NoError(t, tx.ScanTable(ctx, "widgets", func(pk []codec.Value, row dbengine.Row) (bool, error) {
		count++
		return count < 2, nil
	}))
	require.Equal(t, 2, count)
	require.NoError(t, tx.Commit())
}

func TestRollbackDiscardsWrites(t *testing.T) {
	eng := openTestEngine(t)
	ctx := context.Background()
	require.NoError(t, eng.EnsureTable(ctx, "widgets", []dbengine.ColumnInfo{{Name: "id", PrimaryKey: true}}))

	tx, err := eng.Begin(ctx)
	require.NoError(t, err)
	pk := []codec.Value{codec.Int64(1)}
	require.NoError(t, tx.PutRow(ctx, "widgets", pk, dbengine.Row{"id": codec.Int64(1)}))
	require.NoError(t, tx.Rollback())

	tx2, err := eng.Begin(ctx)
	require.NoError(t, err)
	_, err = tx2.GetRow(ctx, "widgets", pk)
	require.ErrorIs(t, err, dbengine.ErrRowNotFound)
	require.NoError(t, tx2.Commit())
}
