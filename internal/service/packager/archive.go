package packager

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Archive formats the harness can stage.
const (
	FormatGzip = "gz"
	FormatZstd = "zst"
)

// extensionFor maps a format to the artifact name extension.
func extensionFor(format string) (string, error) {
	switch format {
	case FormatGzip:
		return ".tar.gz", nil
	case FormatZstd:
		return ".tar.zst", nil
	default:
		return "", fmt.Errorf("unknown archive format %q", format)
	}
}

// buildArchive produces a toolchain-shaped tar archive for one component.
// Contents derive only from the inputs, so re-running the harness stages
// byte-identical artifacts.
func buildArchive(component, target, version string, modTime time.Time, payloadSize int, format string) ([]byte, error) {
	var buf bytes.Buffer

	compressor, err := newCompressor(&buf, format)
	if err != nil {
		return nil, err
	}

	tw := tar.NewWriter(compressor)

	files := []struct {
		name string
		mode int64
		data []byte
	}{
		{
			name: component + "/version",
			mode: 0o644,
			data: []byte(version + "\n"),
		},
		{
			name: component + "/target",
			mode: 0o644,
			data: []byte(target + "\n"),
		},
		{
			name: component + "/bin/" + component,
			mode: 0o755,
			data: syntheticPayload(component+"/"+target+"/"+version, payloadSize),
		},
	}

	for _, file := range files {
		header := &tar.Header{
			Name:    file.name,
			Mode:    file.mode,
			Size:    int64(len(file.data)),
			ModTime: modTime,
			Uname:   "root",
			Gname:   "root",
		}

		if err := tw.WriteHeader(header); err != nil {
			return nil, fmt.Errorf("failed to write tar header for %q: %w", file.name, err)
		}

		if _, err := tw.Write(file.data); err != nil {
			return nil, fmt.Errorf("failed to write tar entry %q: %w", file.name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish tar stream: %w", err)
	}

	if err := compressor.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish %s stream: %w", format, err)
	}

	return buf.Bytes(), nil
}

func newCompressor(w io.Writer, format string) (io.WriteCloser, error) {
	switch format {
	case FormatGzip:
		return gzip.NewWriter(w), nil
	case FormatZstd:
		// Single-goroutine encoding keeps the output stable across runs.
		encoder, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}

		return encoder, nil
	default:
		return nil, fmt.Errorf("unknown archive format %q", format)
	}
}

// syntheticPayload derives size bytes from seed by hash chaining.
func syntheticPayload(seed string, size int) []byte {
	out := make([]byte, 0, size+sha256.Size)

	for counter := 0; len(out) < size; counter++ {
		block := sha256.Sum256(fmt.Appendf(nil, "%s/%d", seed, counter))
		out = append(out, block[:]...)
	}

	return out[:size]
}
