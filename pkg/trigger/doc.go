// Package trigger installs cloudsync's row-mutation capture on a
// dbengine.Host table, standing in for the reference implementation's
// AFTER INSERT/UPDATE/DELETE triggers (spec.md §4.5). Because the host
// engine — not this module — executes real SQL triggers, installation
// here means registering a dbengine.CaptureHook that the host invokes
// synchronously on every row mutation within the user's own
// transaction.
package trigger
