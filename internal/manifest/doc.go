// Package manifest defines the YAML documents a promotion writes and the
// object key layout they live under: the staged release descriptor, the
// deterministic per-channel release manifest, and the channel pointer that
// makes a version live. Encoding any of them is byte-stable for a given
// release, which is what lets re-runs detect already-published state.
package manifest
