package release

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Checksum companion errors.
var (
	ErrEmptyChecksumFile = errors.New("checksum file is empty")
	ErrChecksumNameMatch = errors.New("checksum file names a different artifact")
)

// SumBytes returns the lowercase hex SHA-256 of data.
func SumBytes(data []byte) string {
	digest := sha256.Sum256(data)

	return hex.EncodeToString(digest[:])
}

// SumReader consumes r and returns its lowercase hex SHA-256 and length.
func SumReader(r io.Reader) (string, int64, error) {
	hasher := sha256.New()

	size, err := io.Copy(hasher, r)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash stream: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}

// FormatChecksumFile renders the sha256sum-style companion for an artifact.
func FormatChecksumFile(digest, name string) []byte {
	return []byte(digest + "  " + name + "\n")
}

// ParseChecksumFile extracts the declared digest from a checksum companion.
// Both the bare-digest form and the sha256sum "<digest>  <name>" form are
// accepted; when a name is present it must match the artifact.
func ParseChecksumFile(data []byte, name string) (string, error) {
	line := strings.TrimSpace(string(data))
	if line == "" {
		return "", ErrEmptyChecksumFile
	}

	fields := strings.Fields(line)
	digest := strings.ToLower(fields[0])

	if len(digest) != sha256.Size*2 {
		return "", fmt.Errorf("digest %q has length %d, want %d", digest, len(digest), sha256.Size*2)
	}

	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("digest %q is not hex: %w", digest, err)
	}

	if len(fields) > 1 {
		// sha256sum marks binary mode with a leading asterisk.
		named := strings.TrimPrefix(fields[1], "*")
		if named != name {
			return "", fmt.Errorf("%w: %q", ErrChecksumNameMatch, named)
		}
	}

	return digest, nil
}
