package cloudsync

import "errors"

// Error kinds, unchanged from spec.md §7: each cloudsync operation fails
// with one of these wrapped sentinels so a caller can branch with
// errors.Is without parsing a message string, matching teacher's
// fmt.Errorf("...: %w", err) idiom throughout pkg/manager and pkg/client.
var (
	// ErrSchema is returned when a table fails schema inspection (no
	// primary key, reserved name, rowid-only without the opt-in).
	ErrSchema = errors.New("cloudsync: schema error")

	// ErrIntegrity names the integrity error kind (a change log or meta
	// row that decodes to a value this package does not recognize). No
	// Engine method returns it; such a decode failure surfaces as an
	// ordinary error from the read that hit it.
	ErrIntegrity = errors.New("cloudsync: integrity error")

	// ErrStorage is returned when the host engine itself fails a
	// transaction, read, or write.
	ErrStorage = errors.New("cloudsync: storage error")

	// ErrNetwork is returned when the configured Transport fails an
	// upload or check round trip.
	ErrNetwork = errors.New("cloudsync: network error")

	// ErrNotConfigured is returned by a network operation attempted
	// before NetworkInit has parsed a connection string.
	ErrNotConfigured = errors.New("cloudsync: network not initialized")
)

// ErrPolicySkip is a value, not an error raised at call sites that only
// need the affected-row-count contract (§4.7): a merge policy declining
// to apply a stale or rejected change is an ordinary outcome, not a
// failure, so InsertChange returns it embedded in a bool rather than as
// this sentinel — it exists for callers that want to log or count
// skips distinctly from genuine failures.
var ErrPolicySkip = errors.New("cloudsync: change skipped by merge policy")
