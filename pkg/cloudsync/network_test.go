package cloudsync_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sqliteai/sqlite-sync/pkg/changelog"
	"github.com/sqliteai/sqlite-sync/pkg/cloudsync"
	"github.com/sqliteai/sqlite-sync/pkg/codec"
	"github.com/sqliteai/sqlite-sync/pkg/dbengine"
	"github.com/sqliteai/sqlite-sync/pkg/idgen"
	"github.com/sqliteai/sqlite-sync/pkg/memengine"
	"github.com/sqliteai/sqlite-sync/pkg/merge"
	"github.com/sqliteai/sqlite-sync/pkg/syncer"
)

// sharedTransport is an in-memory syncer.Transport double standing in
// for the HTTPS upload/check protocol, shared by two Engines the way a
// real sqlitecloud server would be shared by two peers.
type sharedTransport struct {
	mu      sync.Mutex
	pending [][]byte
	offered []byte
}

func (s *sharedTransport) RequestUpload(ctx context.Context, ep syncer.Endpoint) (string, error) {
	return "https://upload.example/slot", nil
}

func (s *sharedTransport) PutBlob(ctx context.Context, url string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offered = blob
	return nil
}

func (s *sharedTransport) NotifyUploaded(ctx context.Context, ep syncer.Endpoint, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, s.offered)
	s.offered = nil
	return nil
}

func (s *sharedTransport) RequestChanges(ctx context.Context, ep syncer.Endpoint, since syncer.Cursor) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return "", false, nil
	}
	return "https://check.example/batch", true, nil
}

func (s *sharedTransport) FetchBlob(ctx context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob := s.pending[0]
	s.pending = s.pending[1:]
	return blob, nil
}

func newNetworkedEngine(t *testing.T, algo merge.Algo, transport syncer.Transport) *cloudsync.Engine {
	t.Helper()
	host, err := memengine.Open(filepath.Join(t.TempDir(), "db.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { host.Close() })

	ctx := context.Background()
	require.NoError(t, host.EnsureTable(ctx, "t", []dbengine.ColumnInfo{
		{Name: "id", PrimaryKey: true},
		{Name: "v"},
	}))

	e, err := cloudsync.Open(ctx, host, cloudsync.Config{DefaultAlgo: algo, Transport: transport})
	require.NoError(t, err)
	require.NoError(t, e.Init(ctx, "t"))
	require.NoError(t, e.NetworkInit(ctx, "sqlitecloud://db.example.com/mydb?apikey=k"))
	engineHosts[e] = host
	return e
}

func insertRow(t *testing.T, host dbengine.Host, id int64, v string) {
	t.Helper()
	ctx := context.Background()
	tx, err := host.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.PutRow(ctx, "t", []codec.Value{codec.Int64(id)}, dbengine.Row{
		"id": codec.Int64(id),
		"v":  codec.Text(v),
	}))
	require.NoError(t, tx.Commit())
}

// engineHosts tracks the dbengine.Host backing each cloudsync.Engine
// created by newNetworkedEngine, since Engine itself does not expose
// its host (tests that need to mutate rows directly need it).
var engineHosts = map[*cloudsync.Engine]dbengine.Host{}

func hostOf(t *testing.T, e *cloudsync.Engine) dbengine.Host {
	t.Helper()
	h, ok := engineHosts[e]
	require.True(t, ok, "engine not registered via newNetworkedEngine")
	return h
}

func rowValue(t *testing.T, host dbengine.Host, id int64) string {
	t.Helper()
	ctx := context.Background()
	tx, err := host.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	row, err := tx.GetRow(ctx, "t", []codec.Value{codec.Int64(id)})
	require.NoError(t, err)
	return mustText(t, row["v"])
}

// S3 Cross-site merge (spec.md §8): two sites independently insert the
// same pk at col_version=1, each locally establishing its own claim;
// once each side learns of the other's conflicting claim, the tie is
// broken on site id, and both sides converge to the same winning value
// regardless of which one they started with.
func TestScenarioS3CrossSiteMergeTieBreaksOnSiteID(t *testing.T) {
	transport := &sharedTransport{}
	engA := newNetworkedEngine(t, merge.AlgoCLS, transport)
	engB := newNetworkedEngine(t, merge.AlgoCLS, transport)

	insertRow(t, hostOf(t, engA), 1, "a")
	insertRow(t, hostOf(t, engB), 1, "b")

	winnerValue := "a"
	if idgen.Less(engA.SiteID(), engB.SiteID()) {
		winnerValue = "b"
	}

	// Exchange each site's own capture for the other's pk=1 row: a
	// row-level insert claim (establishing presence) plus the column
	// claim both carry the same (col_version=1, site_id) pair.
	feed := func(dst *cloudsync.Engine, srcSite idgen.ID, value string) {
		ctx := context.Background()
		_, err := dst.InsertChange(ctx, changelog.Entry{
			Table: "t", PK: []codec.Value{codec.Int64(1)}, Column: changelog.RowLevelColumn,
			ColVersion: 1, DBVersion: 1, Seq: 0, SiteID: srcSite, CL: 1,
		})
		require.NoError(t, err)
		_, err = dst.InsertChange(ctx, changelog.Entry{
			Table: "t", PK: []codec.Value{codec.Int64(1)}, Column: "v",
			Value: codec.Text(value), ColVersion: 1, DBVersion: 1, Seq: 0, SiteID: srcSite, CL: 1,
		})
		require.NoError(t, err)
	}
	feed(engA, engB.SiteID(), "b")
	feed(engB, engA.SiteID(), "a")

	require.Equal(t, winnerValue, rowValue(t, hostOf(t, engA), 1))
	require.Equal(t, winnerValue, rowValue(t, hostOf(t, engB), 1))
}

// S4 AWS vs DWS (spec.md §8), tested against the authoritative CL policy
// table (§4.6): a tombstone arriving while a concurrent insert with a
// greater (col_version, site_id) claim is in flight is rejected under
// AWS ("inserts dominate") but accepted under DWS ("tombstone sticky").
// The scenario prose names a concurrent "update" rather than "insert",
// but a column update never touches row presence in this design (see
// DESIGN.md) — the CL table's insert-vs-tombstone axis is what actually
// distinguishes the two policies, and pkg/merge's own policy tests
// already cover exactly this case.
func TestScenarioS4AWSvsDWSConcurrentInsertAndDelete(t *testing.T) {
	run := func(t *testing.T, algo merge.Algo) bool {
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

		insertRow(t, host, 1, "orig")

		remote := idgen.MustNew()
		applied, err := e.InsertChange(ctx, changelog.Entry{
			Table: "t", PK: []codec.Value{codec.Int64(1)}, Column: changelog.RowLevelColumn,
			Value: codec.Text("c"), ColVersion: 3, DBVersion: 10, Seq: 0,
			SiteID: remote, CL: 3,
		})
		require.NoError(t, err)
		require.True(t, applied, "a concurrent insert claim must beat the row's original claim")

		applied, err = e.InsertChange(ctx, changelog.Entry{
			Table: "t", PK: []codec.Value{codec.Int64(1)}, Column: changelog.RowLevelColumn,
			Value: codec.Tombstone(), ColVersion: 2, DBVersion: 11, Seq: 0,
			SiteID: remote, CL: 2,
		})
		require.NoError(t, err)
		return applied
	}

	require.False(t, run(t, merge.AlgoAWS), "AWS: tombstone with a weaker claim than the concurrent insert must be rejected")
	require.True(t, run(t, merge.AlgoDWS), "DWS: tombstone is sticky regardless of a stronger concurrent insert")
}

// S5 Cursor advance (spec.md §8): after a successful send_changes the
// send cursor equals the uploaded batch's max (db_version, seq); a
// subsequent send_changes with nothing new uploads nothing.
func TestScenarioS5CursorAdvanceThenNoOpUpload(t *testing.T) {
	transport := &sharedTransport{}
	engA := newNetworkedEngine(t, merge.AlgoCLS, transport)
	insertRow(t, hostOf(t, engA), 1, "a")

	uploaded, err := engA.NetworkSendChanges(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, uploaded)

	uploaded, err = engA.NetworkSendChanges(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, uploaded, "a second send with no new local changes must upload nothing")
}

// S6 Check retry (spec.md §8): check_changes_sync(50ms, 3) returns
// after the first attempt that applies >=1 row.
func TestScenarioS6CheckRetryStopsEarly(t *testing.T) {
	transport := &sharedTransport{}
	engA := newNetworkedEngine(t, merge.AlgoCLS, transport)
	engB := newNetworkedEngine(t, merge.AlgoCLS, transport)
	insertRow(t, hostOf(t, engA), 1, "a")

	_, err := engA.NetworkSendChanges(context.Background())
	require.NoError(t, err)

	start := time.Now()
	applied, err := engB.NetworkCheckChangesSync(context.Background(), 50*time.Millisecond, 3)
	require.NoError(t, err)
	require.Equal(t, 1, applied)
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestScenarioS6CheckRetryExhaustsAttempts(t *testing.T) {
	transport := &sharedTransport{}
	engB := newNetworkedEngine(t, merge.AlgoCLS, transport)

	applied, err := engB.NetworkCheckChangesSync(context.Background(), 5*time.Millisecond, 3)
	require.NoError(t, err)
	require.Equal(t, 0, applied)
}

func TestNetworkOperationsRequireNetworkInit(t *testing.T) {
	host, err := memengine.Open(filepath.Join(t.TempDir(), "db.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { host.Close() })
	ctx := context.Background()
	require.NoError(t, host.EnsureTable(ctx, "t", []dbengine.ColumnInfo{{Name: "id", PrimaryKey: true}}))
	e, err := cloudsync.Open(ctx, host, cloudsync.Config{})
	require.NoError(t, err)

	_, err = e.NetworkSendChanges(ctx)
	require.ErrorIs(t, err, cloudsync.ErrNotConfigured)
}

func TestTerminateThenNetworkInitReestablishesOrchestrator(t *testing.T) {
	transport := &sharedTransport{}
	e := newNetworkedEngine(t, merge.AlgoCLS, transport)
	e.Terminate()

	_, err := e.NetworkSendChanges(context.Background())
	require.ErrorIs(t, err, cloudsync.ErrNotConfigured)

	require.NoError(t, e.NetworkInit(context.Background(), "sqlitecloud://db.example.com/mydb?token=tok"))
	_, err = e.NetworkSendChanges(context.Background())
	require.NoError(t, err)
}
