package manifest

import (
	"path"
	"strings"
)

// Companion and well-known object names shared by the staging and
// production layouts.
const (
	// ChecksumSuffix marks the sha256sum companion of an artifact.
	ChecksumSuffix = ".sha256"
	// SignatureSuffix marks the detached signature companion.
	SignatureSuffix = ".sig"
	// DescriptorName is the staged release descriptor at a channel root.
	DescriptorName = "release.yaml"

	distSegment     = "dist"
	channelsSegment = "channels"
	historySegment  = "history"
)

// Layout builds object keys for both stores from the configured prefixes.
// Staging holds what CI uploaded; production holds what was promoted.
type Layout struct {
	// StagingPrefix roots the per-channel staging areas, e.g. "builds".
	StagingPrefix string
	// ProductionPrefix roots the published tree. Usually empty.
	ProductionPrefix string
}

// StagingDescriptor is the key of a channel's release descriptor.
func (l Layout) StagingDescriptor(channel string) string {
	return path.Join(l.StagingPrefix, channel, DescriptorName)
}

// StagingVersionRoot is the key prefix under which a staged version's
// artifacts live, with a trailing slash for listing.
func (l Layout) StagingVersionRoot(channel, version string) string {
	return path.Join(l.StagingPrefix, channel, version) + "/"
}

// StagingArtifact is the key of a staged artifact or companion.
func (l Layout) StagingArtifact(channel, version, name string) string {
	return path.Join(l.StagingPrefix, channel, version, name)
}

// ProductionArtifact is the key of a published artifact or companion.
func (l Layout) ProductionArtifact(version, name string) string {
	return path.Join(l.ProductionPrefix, distSegment, version, name)
}

// ManifestName is the base name of a channel's release manifest.
func ManifestName(channel string) string {
	return "channel-" + channel + ".yaml"
}

// Manifest is the key of the published release manifest for a channel
// and version.
func (l Layout) Manifest(version, channel string) string {
	return path.Join(l.ProductionPrefix, distSegment, version, ManifestName(channel))
}

// Pointer is the key of the mutable channel head document.
func (l Layout) Pointer(channel string) string {
	return path.Join(l.ProductionPrefix, channelsSegment, channel+".yaml")
}

// History is the key of the immutable promotion record for a version.
func (l Layout) History(channel, version string) string {
	return path.Join(l.ProductionPrefix, channelsSegment, channel, historySegment, version+".yaml")
}

// IsCompanion reports whether name is a checksum or signature companion
// rather than an artifact proper.
func IsCompanion(name string) bool {
	return strings.HasSuffix(name, ChecksumSuffix) || strings.HasSuffix(name, SignatureSuffix)
}
