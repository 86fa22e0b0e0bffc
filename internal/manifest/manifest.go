package manifest

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/forgedist/forgedist/internal/domain/release"
)

// DocumentVersion is the manifest schema version this build writes and the
// only one it accepts back.
const DocumentVersion = 1

// Validation errors.
var (
	ErrUnknownVersion    = errors.New("unknown manifest version")
	ErrEmptyChannel      = errors.New("manifest channel is empty")
	ErrEmptyVersion      = errors.New("manifest release version is empty")
	ErrEmptyDate         = errors.New("manifest release date is empty")
	ErrNoArtifacts       = errors.New("manifest has no artifacts")
	ErrUnsortedArtifacts = errors.New("manifest artifacts are not sorted by name")
	ErrDuplicateArtifact = errors.New("manifest lists an artifact twice")
)

var hexDigestPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Entry is one artifact row in a release manifest.
type Entry struct {
	Name      string `yaml:"name"`
	Component string `yaml:"component"`
	Target    string `yaml:"target"`
	Size      int64  `yaml:"size"`
	SHA256    string `yaml:"sha256"`
	Signature string `yaml:"signature"`
}

// Document is the per-channel release manifest published next to the
// artifacts. Field order and artifact order are fixed, so encoding the
// same release always yields the same bytes.
type Document struct {
	ManifestVersion int     `yaml:"manifest_version"`
	Channel         string  `yaml:"channel"`
	Version         string  `yaml:"version"`
	Date            string  `yaml:"date"`
	Artifacts       []Entry `yaml:"artifacts"`
}

// Build assembles the manifest for a verified release. Artifacts are
// sorted by name; the date comes from the staged descriptor, never from
// the clock.
func Build(channel string, rel *release.Release) *Document {
	entries := make([]Entry, 0, len(rel.Artifacts))
	for _, artifact := range rel.Artifacts {
		entries = append(entries, Entry{
			Name:      artifact.Name,
			Component: artifact.Component,
			Target:    artifact.Target,
			Size:      artifact.Size,
			SHA256:    artifact.Checksum,
			Signature: artifact.Name + SignatureSuffix,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})

	return &Document{
		ManifestVersion: DocumentVersion,
		Channel:         channel,
		Version:         rel.Version,
		Date:            rel.Date,
		Artifacts:       entries,
	}
}

// Encode renders the manifest as YAML.
func (d *Document) Encode() ([]byte, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}

	return data, nil
}

// Decode parses and validates a manifest fetched from the store.
func Decode(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}

	return &doc, nil
}

// Validate checks the structural invariants every published manifest holds.
func (d *Document) Validate() error {
	if d.ManifestVersion != DocumentVersion {
		return fmt.Errorf("%w: %d", ErrUnknownVersion, d.ManifestVersion)
	}

	if d.Channel == "" {
		return ErrEmptyChannel
	}

	if d.Version == "" {
		return ErrEmptyVersion
	}

	if d.Date == "" {
		return ErrEmptyDate
	}

	if len(d.Artifacts) == 0 {
		return ErrNoArtifacts
	}

	for i, entry := range d.Artifacts {
		if entry.Name == "" {
			return fmt.Errorf("artifact %d has no name", i)
		}

		if !hexDigestPattern.MatchString(entry.SHA256) {
			return fmt.Errorf("artifact %q has a malformed sha256 digest", entry.Name)
		}

		if entry.Size < 0 {
			return fmt.Errorf("artifact %q has a negative size", entry.Name)
		}

		if i == 0 {
			continue
		}

		switch {
		case entry.Name == d.Artifacts[i-1].Name:
			return fmt.Errorf("%w: %q", ErrDuplicateArtifact, entry.Name)
		case entry.Name < d.Artifacts[i-1].Name:
			return fmt.Errorf("%w: %q after %q", ErrUnsortedArtifacts, entry.Name, d.Artifacts[i-1].Name)
		}
	}

	return nil
}

// Release converts the manifest back into the domain model,
// as the verifier sees it.
func (d *Document) Release() *release.Release {
	artifacts := make([]release.Artifact, 0, len(d.Artifacts))
	for _, entry := range d.Artifacts {
		artifacts = append(artifacts, release.Artifact{
			Name:      entry.Name,
			Component: entry.Component,
			Target:    entry.Target,
			Size:      entry.Size,
			Checksum:  entry.SHA256,
		})
	}

	return &release.Release{
		Version:   d.Version,
		Date:      d.Date,
		Artifacts: artifacts,
	}
}
