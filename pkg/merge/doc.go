// Package merge implements the CRDT merge engine: given a foreign change
// entry, decide whether to apply it to a user table under the table's
// configured policy (GOS/CLS/DWS/AWS), maintaining the causal-length and
// column-version invariants described in spec.md §4.6.
package merge
