package manifest_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgedist/forgedist/internal/manifest"
)

func TestPointerRoundtrip(t *testing.T) {
	doc := manifest.Build("stable", sampleRelease())
	pointer := manifest.NewPointer(doc, "dist/2026-08-25/channel-stable.yaml", strings.Repeat("d", 64))

	data, err := pointer.Encode()
	require.NoError(t, err)

	decoded, err := manifest.DecodePointer(data)
	require.NoError(t, err)
	require.Equal(t, pointer, decoded)
	require.Equal(t, "stable", decoded.Channel)
	require.Equal(t, "2026-08-25", decoded.Version)
}

func TestPointerEncodeIsDeterministic(t *testing.T) {
	doc := manifest.Build("stable", sampleRelease())

	first, err := manifest.NewPointer(doc, "dist/2026-08-25/channel-stable.yaml", strings.Repeat("d", 64)).Encode()
	require.NoError(t, err)

	second, err := manifest.NewPointer(doc, "dist/2026-08-25/channel-stable.yaml", strings.Repeat("d", 64)).Encode()
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestPointerValidate(t *testing.T) {
	valid := func() *manifest.Pointer {
		return &manifest.Pointer{
			Channel:        "beta",
			Version:        "1.75.0-beta.2",
			Date:           "2026-08-20",
			ManifestPath:   "dist/1.75.0-beta.2/channel-beta.yaml",
			ManifestSHA256: strings.Repeat("e", 64),
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name    string
		mutate  func(*manifest.Pointer)
		wantErr error
	}{
		{
			name:    "empty channel",
			mutate:  func(p *manifest.Pointer) { p.Channel = "" },
			wantErr: manifest.ErrEmptyPointerChannel,
		},
		{
			name:    "empty version",
			mutate:  func(p *manifest.Pointer) { p.Version = "" },
			wantErr: manifest.ErrEmptyPointerVersion,
		},
		{
			name:    "empty manifest path",
			mutate:  func(p *manifest.Pointer) { p.ManifestPath = "" },
			wantErr: manifest.ErrEmptyPointerManifest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pointer := valid()
			tt.mutate(pointer)
			require.ErrorIs(t, pointer.Validate(), tt.wantErr)
		})
	}

	truncated := valid()
	truncated.ManifestSHA256 = "abc"
	require.ErrorContains(t, truncated.Validate(), "malformed manifest digest")
}

func TestDescriptorRoundtrip(t *testing.T) {
	descriptor := &manifest.Descriptor{Version: "1.74.0", Date: "2026-08-19"}

	data, err := descriptor.Encode()
	require.NoError(t, err)

	decoded, err := manifest.DecodeDescriptor(data)
	require.NoError(t, err)
	require.Equal(t, descriptor, decoded)
}

func TestDescriptorValidate(t *testing.T) {
	require.ErrorIs(t,
		(&manifest.Descriptor{Date: "2026-08-19"}).Validate(),
		manifest.ErrEmptyDescriptorVersion)

	require.ErrorIs(t,
		(&manifest.Descriptor{Version: "1.74.0", Date: "August 19"}).Validate(),
		manifest.ErrBadDescriptorDate)

	require.ErrorIs(t,
		(&manifest.Descriptor{Version: "1.74.0"}).Validate(),
		manifest.ErrBadDescriptorDate)
}
