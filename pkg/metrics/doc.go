// Package metrics exposes the prometheus counters and histograms
// cloudsync's merge engine and sync orchestrator update as they run, plus
// a small Timer helper for the operation-duration histograms.
package metrics
