// Package dbengine names the interfaces cloudsync's core consumes from the
// host database engine. The real host (SQLite, via its C API, triggers
// and virtual-table hooks) is an external collaborator outside this
// module's scope; this package only describes the shape cloudsync needs
// so the rest of the module has no compile-time dependency on any
// particular driver. See pkg/memengine for a complete in-process
// implementation used by tests and embeddable callers.
package dbengine
