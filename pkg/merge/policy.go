package merge

import "fmt"

// Algo names one of the four CRDT set policies spec.md §4 defines.
type Algo string

const (
	AlgoGOS Algo = "gos" // grow-only set: inserts only, deletes rejected
	AlgoCLS Algo = "cls" // causal-length set: strict CL comparison decides presence
	AlgoDWS Algo = "dws" // delete-wins set: a tombstone is sticky once applied
	AlgoAWS Algo = "aws" // add-wins set: a later insert revives a tombstoned row
)

// Policy decides, for one table, whether a foreign row-presence claim
// (an insert or delete recorded as a causal-length bump) should be
// accepted over the row's current local state. Per-column value merges
// are policy-independent and always follow VersionKey.Beats; Policy
// governs only the row-existence axis spec.md §4 splits out per
// algorithm.
type Policy interface {
	Algo() Algo

	// AllowDelete reports whether this policy ever accepts a delete
	// (an even, tombstoning causal length) at all. GOS is the one
	// policy that rejects every delete outright.
	AllowDelete() bool

	// AcceptPresence reports whether a foreign claim on the row's
	// existence (foreignCL, foreignVersion) should replace local's
	// current claim. local.CL == 0 means the row does not yet exist
	// locally.
	AcceptPresence(local RowMeta, foreignCL uint64, foreignVersion VersionKey) bool
}

// PolicyFor resolves algo to its Policy implementation.
func PolicyFor(algo Algo) (Policy, error) {
	switch algo {
	case AlgoGOS:
		return gosPolicy{}, nil
	case AlgoCLS:
		return clsPolicy{}, nil
	case AlgoDWS:
		return dwsPolicy{}, nil
	case AlgoAWS:
		return awsPolicy{}, nil
	default:
		return nil, fmt.Errorf("merge: unknown algorithm %q", algo)
	}
}

// isLive reports whether a causal length is in the "live" (odd) parity
// spec.md §4 uses to encode insert-vs-tombstone state.
func isLive(cl uint64) bool {
	return cl%2 == 1
}

// gosPolicy: grow-only set. Rows are never removed once inserted; any
// delete claim is rejected outright, and presence is decided purely by
// whichever claim has the higher (col_version, site_id) among inserts.
type gosPolicy struct{}

func (gosPolicy) Algo() Algo         { return AlgoGOS }
func (gosPolicy) AllowDelete() bool  { return false }
func (gosPolicy) AcceptPresence(local RowMeta, foreignCL uint64, foreignVersion VersionKey) bool {
	if !isLive(foreignCL) {
		return false
	}
	if local.CL == 0 {
		return true
	}
	return foreignVersion.Beats(local.LastClaim)
}

// clsPolicy: causal-length set, per spec.md §4.6's "strict-greater" CL
// compare. A foreign claim is accepted only when its causal length is
// strictly greater than what this site has recorded, whether the claim
// is an insert or a delete; an equal causal length is a no-op (the
// change is already reflected locally).
type clsPolicy struct{}

func (clsPolicy) Algo() Algo        { return AlgoCLS }
func (clsPolicy) AllowDelete() bool { return true }
func (clsPolicy) AcceptPresence(local RowMeta, foreignCL uint64, _ VersionKey) bool {
	return foreignCL > local.CL
}

// dwsPolicy: delete-wins set. Once any side has recorded a tombstone
// for the row, the row stays deleted regardless of any later insert
// claim; among claims of the same liveness, VersionKey.Beats arbitrates.
type dwsPolicy struct{}

func (dwsPolicy) Algo() Algo        { return AlgoDWS }
func (dwsPolicy) AllowDelete() bool { return true }
func (dwsPolicy) AcceptPresence(local RowMeta, foreignCL uint64, foreignVersion VersionKey) bool {
	localLive := local.CL > 0 && isLive(local.CL)
	foreignLive := isLive(foreignCL)
	if !foreignLive {
		// A tombstone always wins: accept it if we have not already
		// recorded one, or if this one has a stronger claim.
		if !localLive && local.CL > 0 {
			return foreignVersion.Beats(local.LastClaim)
		}
		return true
	}
	// foreign claims live. Accept only if local has never seen a
	// tombstone and this claim beats the current one.
	if local.CL == 0 {
		return true
	}
	if !localLive {
		return false
	}
	return foreignVersion.Beats(local.LastClaim)
}

// awsPolicy: add-wins set, per spec.md §4.6's CL policy table: an
// insert arriving against a tombstoned row always wins outright
// ("inserts dominate"); a tombstone is accepted only when it is not
// beaten by a concurrent insert holding a greater (col_version,
// site_id) claim.
type awsPolicy struct{}

func (awsPolicy) Algo() Algo        { return AlgoAWS }
func (awsPolicy) AllowDelete() bool { return true }
func (awsPolicy) AcceptPresence(local RowMeta, foreignCL uint64, foreignVersion VersionKey) bool {
	if local.CL == 0 {
		return true
	}
	if isLive(foreignCL) && !isLive(local.CL) {
		return true
	}
	return foreignVersion.Beats(local.LastClaim)
}
