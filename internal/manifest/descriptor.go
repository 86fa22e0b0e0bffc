package manifest

import (
	"errors"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Descriptor errors.
var (
	ErrEmptyDescriptorVersion = errors.New("release descriptor version is empty")
	ErrBadDescriptorDate      = errors.New("release descriptor date is not YYYY-MM-DD")
)

var descriptorDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Descriptor is the small document CI drops at the root of a channel's
// staging area to declare which version is ready for promotion and when
// it was built. The promoter trusts it for the version and the release
// date; everything else it re-derives from the staged objects.
type Descriptor struct {
	Version string `yaml:"version"`
	Date    string `yaml:"date"`
}

// Encode renders the descriptor as YAML.
func (d *Descriptor) Encode() ([]byte, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode release descriptor: %w", err)
	}

	return data, nil
}

// DecodeDescriptor parses and validates a staged release descriptor.
func DecodeDescriptor(data []byte) (*Descriptor, error) {
	var descriptor Descriptor
	if err := yaml.Unmarshal(data, &descriptor); err != nil {
		return nil, fmt.Errorf("failed to decode release descriptor: %w", err)
	}

	if err := descriptor.Validate(); err != nil {
		return nil, err
	}

	return &descriptor, nil
}

// IsDate reports whether s is a YYYY-MM-DD date, the form nightly
// version tags take.
func IsDate(s string) bool {
	return descriptorDatePattern.MatchString(s)
}

// Validate checks the descriptor's fields.
func (d *Descriptor) Validate() error {
	if d.Version == "" {
		return ErrEmptyDescriptorVersion
	}

	if !descriptorDatePattern.MatchString(d.Date) {
		return fmt.Errorf("%w: %q", ErrBadDescriptorDate, d.Date)
	}

	return nil
}
