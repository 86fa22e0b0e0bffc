package release

import (
	"strings"
)

// Artifact describes a single staged toolchain file: its logical name, the
// component and target triple parsed from that name, the byte size reported
// by the staging store, and the SHA-256 checksum declared alongside it.
type Artifact struct {
	// Name is the object base name, e.g. "rustc-x86_64-unknown-linux-gnu.tar.gz".
	Name string
	// Component is the toolchain component part of the name, e.g. "rustc".
	Component string
	// Target is the platform triple, or "any" for platform-independent files.
	Target string
	// Size is the byte size advertised by the staging store.
	Size int64
	// Checksum is the declared hex SHA-256 of the artifact bytes.
	Checksum string
}

// Clone returns a copy of the artifact.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}

// Release is one promotable build for a channel: a version tag, the date the
// build was cut, and the ordered artifact set found in staging.
type Release struct {
	// Version is the release tag, e.g. "1.74.0" or "2026-08-25" for nightlies.
	Version string
	// Date is the build date declared by CI (YYYY-MM-DD).
	Date string
	// Artifacts is ordered by artifact name. Immutable once published.
	Artifacts []Artifact
}

// Clone returns a deep copy of the release.
func (r *Release) Clone() *Release {
	if r == nil {
		return nil
	}

	cloned := &Release{
		Version:   r.Version,
		Date:      r.Date,
		Artifacts: make([]Artifact, len(r.Artifacts)),
	}
	copy(cloned.Artifacts, r.Artifacts)

	return cloned
}

// Well-known channel names. Channels are configuration, but nightly gets
// special treatment: its version tag is the build date.
const (
	ChannelStable  = "stable"
	ChannelBeta    = "beta"
	ChannelNightly = "nightly"
)

// TargetAny marks artifacts that are not tied to one platform
// (source archives, documentation bundles).
const TargetAny = "any"

// archTokens are the leading tokens of recognized target triples. Triples
// are arch-first ("x86_64-unknown-linux-gnu"), so the component/target split
// point is the first token from this set. Longer names sort before their
// prefixes so "mips64el" wins over "mips".
//
//nolint:gochecknoglobals // Shared immutable token table.
var archTokens = map[string]struct{}{
	"x86_64":      {},
	"i686":        {},
	"aarch64":     {},
	"arm64":       {},
	"armv7":       {},
	"arm":         {},
	"riscv64gc":   {},
	"riscv64":     {},
	"powerpc64le": {},
	"powerpc64":   {},
	"powerpc":     {},
	"s390x":       {},
	"loongarch64": {},
	"mips64el":    {},
	"mips64":      {},
	"mipsel":      {},
	"mips":        {},
	"wasm32":      {},
}

// archiveSuffixes are the artifact name extensions stripped before parsing.
//
//nolint:gochecknoglobals // Shared immutable suffix table.
var archiveSuffixes = []string{
	".tar.gz", ".tar.xz", ".tar.zst", ".tar.bz2", ".tgz", ".zip", ".msi", ".pkg",
}

// ParseArtifactName splits an artifact file name into its component and
// target triple. The triple starts at the first recognized architecture
// token; names without one are platform-independent and map to TargetAny.
func ParseArtifactName(name string) (component, target string) {
	stem := name

	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(stem, suffix) {
			stem = strings.TrimSuffix(stem, suffix)
			break
		}
	}

	parts := strings.Split(stem, "-")
	for i, part := range parts {
		if _, ok := archTokens[part]; !ok {
			continue
		}

		if i == 0 {
			// A bare triple with no component prefix.
			return "", stem
		}

		return strings.Join(parts[:i], "-"), strings.Join(parts[i:], "-")
	}

	return stem, TargetAny
}

// NewArtifact builds an Artifact from staging metadata, deriving the
// component and target from the name.
func NewArtifact(name string, size int64, checksum string) Artifact {
	component, target := ParseArtifactName(name)

	return Artifact{
		Name:      name,
		Component: component,
		Target:    target,
		Size:      size,
		Checksum:  checksum,
	}
}
