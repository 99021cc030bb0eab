package conn_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqliteai/sqlite-sync/pkg/conn"
	"github.com/sqliteai/sqlite-sync/pkg/idgen"
)

func TestStateCredentialPrefersAPIKeyThenToken(t *testing.T) {
	st := conn.NewState()
	require.Equal(t, "", st.Credential())

	st.SetToken("tok-1")
	require.Equal(t, "tok-1", st.Credential())

	st.SetAPIKey("key-1")
	require.Equal(t, "key-1", st.Credential())

	st.SetToken("tok-2")
	require.Equal(t, "tok-2", st.Credential(), "setting a token clears the previously set api key")
}

func TestStateSiteIDAndEndpointsRoundTrip(t *testing.T) {
	st := conn.NewState()
	id := idgen.MustNew()
	st.SetSiteID(id)
	require.Equal(t, id, st.SiteID())

	st.SetEndpoints("https://host/check", "https://host/upload")
	check, upload := st.Endpoints()
	require.Equal(t, "https://host/check", check)
	require.Equal(t, "https://host/upload", upload)
}

func TestRegistryOpenGetClose(t *testing.T) {
	r := conn.NewRegistry()
	st := r.Open("conn-1")
	st.SetAPIKey("abc")

	got, err := r.Get("conn-1")
	require.NoError(t, err)
	require.Same(t, st, got)
	require.Equal(t, "abc", got.Credential())

	r.Close("conn-1")
	_, err = r.Get("conn-1")
	require.ErrorIs(t, err, conn.ErrUnknownConn)
}

func TestRegistryOpenReplacesExistingState(t *testing.T) {
	r := conn.NewRegistry()
	first := r.Open("conn-1")
	first.SetAPIKey("old")

	second := r.Open("conn-1")
	require.NotSame(t, first, second)
	require.Equal(t, "", second.Credential())
}
