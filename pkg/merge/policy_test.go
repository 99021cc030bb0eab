package merge_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqliteai/sqlite-sync/pkg/idgen"
	"github.com/sqliteai/sqlite-sync/pkg/merge"
)

func vk(colVersion uint64, site idgen.ID) merge.VersionKey {
	return merge.VersionKey{ColVersion: colVersion, SiteID: site}
}

func TestVersionKeyBeatsHigherColVersionWins(t *testing.T) {
	a, b := idgen.MustNew(), idgen.MustNew()
	require.True(t, vk(2, a).Beats(vk(1, b)))
	require.False(t, vk(1, a).Beats(vk(2, b)))
}

func TestVersionKeyBeatsTieBrokenBySite(t *testing.T) {
	a, b := idgen.MustNew(), idgen.MustNew()
	lo, hi := a, b
	if idgen.Less(hi, lo) {
		lo, hi = hi, lo
	}
	require.True(t, vk(5, hi).Beats(vk(5, lo)))
	require.False(t, vk(5, lo).Beats(vk(5, hi)))
}

func TestPolicyForUnknownAlgoErrors(t *testing.T) {
	_, err := merge.PolicyFor("bogus")
	require.Error(t, err)
}

func TestGOSRejectsAnyDelete(t *testing.T) {
	p, err := merge.PolicyFor(merge.AlgoGOS)
	require.NoError(t, err)
	require.False(t, p.AllowDelete())

	site := idgen.MustNew()
	// Even a fresh row facing a tombstone claim (CL even) is rejected.
	require.False(t, p.AcceptPresence(merge.RowMeta{}, 2, vk(1, site)))
}

func TestGOSAcceptsInsertOnce(t *testing.T) {
	p, _ := merge.PolicyFor(merge.AlgoGOS)
	site := idgen.MustNew()
	require.True(t, p.AcceptPresence(merge.RowMeta{}, 1, vk(1, site)))
}

func TestCLSPresenceFollowsHigherCausalLength(t *testing.T) {
	p, _ := merge.PolicyFor(merge.AlgoCLS)
	require.True(t, p.AllowDelete())
	site := idgen.MustNew()

	local := merge.RowMeta{CL: 1, LastClaim: vk(1, site)}
	// Foreign has a strictly greater CL (a delete bump): accepted
	// regardless of version, since CLS arbitrates on CL first.
	require.True(t, p.AcceptPresence(local, 2, vk(1, site)))
	// Foreign has a strictly lower CL: rejected.
	require.False(t, p.AcceptPresence(merge.RowMeta{CL: 3, LastClaim: vk(9, site)}, 1, vk(1, site)))
}

func TestCLSEqualCausalLengthIsNoop(t *testing.T) {
	p, _ := merge.PolicyFor(merge.AlgoCLS)
	a, b := idgen.MustNew(), idgen.MustNew()
	local := merge.RowMeta{CL: 1, LastClaim: vk(1, a)}
	// A foreign claim at the same causal length is rejected regardless
	// of its (col_version, site_id) — CLS only compares CL.
	require.False(t, p.AcceptPresence(local, 1, vk(99, b)))
}

func TestDWSTombstoneIsSticky(t *testing.T) {
	p, _ := merge.PolicyFor(merge.AlgoDWS)
	site, other := idgen.MustNew(), idgen.MustNew()

	local := merge.RowMeta{CL: 2, LastClaim: vk(5, site)} // already tombstoned
	// A later insert claim must not revive the row under DWS.
	require.False(t, p.AcceptPresence(local, 7, vk(7, other)))
}

func TestDWSAcceptsFirstTombstone(t *testing.T) {
	p, _ := merge.PolicyFor(merge.AlgoDWS)
	site := idgen.MustNew()
	local := merge.RowMeta{CL: 1, LastClaim: vk(1, site)} // live insert
	require.True(t, p.AcceptPresence(local, 2, vk(2, site)))
}

func TestAWSInsertAlwaysDominatesOverTombstonedRow(t *testing.T) {
	p, _ := merge.PolicyFor(merge.AlgoAWS)
	site, other := idgen.MustNew(), idgen.MustNew()

	local := merge.RowMeta{CL: 2, LastClaim: vk(99, site)} // tombstoned
	// An insert claim revives the row unconditionally, even with a
	// lower (col_version, site_id) than the tombstone that killed it.
	require.True(t, p.AcceptPresence(local, 1, vk(1, other)))
}

func TestAWSTombstoneRejectedByGreaterConcurrentInsert(t *testing.T) {
	p, _ := merge.PolicyFor(merge.AlgoAWS)
	site, other := idgen.MustNew(), idgen.MustNew()

	local := merge.RowMeta{CL: 1, LastClaim: vk(9, site)} // live, strong claim
	// A tombstone with a weaker claim than the current live insert is
	// rejected: the insert dominates.
	require.False(t, p.AcceptPresence(local, 2, vk(1, other)))
}

func TestAWSTombstoneAcceptedWhenItBeatsCurrentClaim(t *testing.T) {
	p, _ := merge.PolicyFor(merge.AlgoAWS)
	site, other := idgen.MustNew(), idgen.MustNew()

	local := merge.RowMeta{CL: 1, LastClaim: vk(1, site)} // live, weak claim
	require.True(t, p.AcceptPresence(local, 2, vk(9, other)))
}

func TestAWSAgreementOnLivenessFallsBackToVersionKey(t *testing.T) {
	p, _ := merge.PolicyFor(merge.AlgoAWS)
	a, b := idgen.MustNew(), idgen.MustNew()
	local := merge.RowMeta{CL: 1, LastClaim: vk(1, a)}
	require.Equal(t, vk(2, b).Beats(vk(1, a)), p.AcceptPresence(local, 1, vk(2, b)))
}
