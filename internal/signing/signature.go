package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Detached signature parsing errors.
var (
	ErrMalformedSignature = errors.New("malformed signature file")
	ErrBadSignatureSize   = errors.New("signature has the wrong size")
)

const (
	commentPrefix  = "untrusted comment: "
	commentPattern = "signature from key "
)

// EncodeSignature renders a raw Ed25519 signature as a two-line detached
// signature file: an untrusted comment naming the key, then the signature
// in base64.
func EncodeSignature(keyID string, signature []byte) []byte {
	var b strings.Builder

	b.WriteString(commentPrefix)
	b.WriteString(commentPattern)
	b.WriteString(keyID)
	b.WriteString("\n")
	b.WriteString(base64.StdEncoding.EncodeToString(signature))
	b.WriteString("\n")

	return []byte(b.String())
}

// DecodeSignature parses a detached signature file back into the signing
// key ID and the raw signature bytes.
func DecodeSignature(data []byte) (keyID string, signature []byte, err error) {
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		return "", nil, fmt.Errorf("%w: want 2 lines, got %d", ErrMalformedSignature, len(lines))
	}

	comment, found := strings.CutPrefix(lines[0], commentPrefix)
	if !found {
		return "", nil, fmt.Errorf("%w: missing untrusted comment", ErrMalformedSignature)
	}

	if idx := strings.LastIndex(comment, commentPattern); idx >= 0 {
		keyID = comment[idx+len(commentPattern):]
	}

	signature, err = base64.StdEncoding.DecodeString(lines[1])
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}

	if len(signature) != ed25519.SignatureSize {
		return "", nil, fmt.Errorf("%w: %d bytes", ErrBadSignatureSize, len(signature))
	}

	return keyID, signature, nil
}
