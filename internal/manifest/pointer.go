package manifest

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Pointer errors.
var (
	ErrEmptyPointerChannel  = errors.New("pointer channel is empty")
	ErrEmptyPointerVersion  = errors.New("pointer version is empty")
	ErrEmptyPointerManifest = errors.New("pointer manifest path is empty")
)

// Pointer is the channel head document. It names the live version and the
// manifest that describes it, carrying the manifest's digest so a reader
// can verify the chain without trusting the store.
//
// The pointer is the only mutable object in the production layout and the
// last object a promotion writes.
type Pointer struct {
	Channel        string `yaml:"channel"`
	Version        string `yaml:"version"`
	Date           string `yaml:"date"`
	ManifestPath   string `yaml:"manifest"`
	ManifestSHA256 string `yaml:"sha256"`
}

// NewPointer builds the head document for an encoded manifest.
func NewPointer(doc *Document, manifestPath, manifestDigest string) *Pointer {
	return &Pointer{
		Channel:        doc.Channel,
		Version:        doc.Version,
		Date:           doc.Date,
		ManifestPath:   manifestPath,
		ManifestSHA256: manifestDigest,
	}
}

// Encode renders the pointer as YAML. Encoding is deterministic for a
// given release, so a re-run can compare bytes to detect a completed
// cutover.
func (p *Pointer) Encode() ([]byte, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode channel pointer: %w", err)
	}

	return data, nil
}

// DecodePointer parses and validates a channel pointer.
func DecodePointer(data []byte) (*Pointer, error) {
	var pointer Pointer
	if err := yaml.Unmarshal(data, &pointer); err != nil {
		return nil, fmt.Errorf("failed to decode channel pointer: %w", err)
	}

	if err := pointer.Validate(); err != nil {
		return nil, err
	}

	return &pointer, nil
}

// Validate checks the pointer's structural invariants.
func (p *Pointer) Validate() error {
	if p.Channel == "" {
		return ErrEmptyPointerChannel
	}

	if p.Version == "" {
		return ErrEmptyPointerVersion
	}

	if p.ManifestPath == "" {
		return ErrEmptyPointerManifest
	}

	if !hexDigestPattern.MatchString(p.ManifestSHA256) {
		return fmt.Errorf("pointer for channel %q has a malformed manifest digest", p.Channel)
	}

	return nil
}
