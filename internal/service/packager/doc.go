// Package packager stages synthetic toolchain releases for local pipeline
// runs: it builds deterministic tar archives for a component and target
// matrix, uploads them with checksum companions, and drops the release
// descriptor last so the staged release only becomes discoverable once it
// is whole.
package packager
