package signing

import (
	"context"
	"crypto/ed25519"

	"github.com/forgedist/forgedist/internal/domain/release"
)

// Signer produces raw Ed25519 signatures over artifact and manifest
// bytes. Implementations must be deterministic: signing the same payload
// twice yields the same signature, which is what keeps re-runs from
// churning already-published companions.
type Signer interface {
	// Sign returns the raw signature over payload.
	Sign(ctx context.Context, payload []byte) ([]byte, error)
	// KeyID identifies the signing key.
	KeyID() string
}

// LocalSigner signs with a private key held on disk.
type LocalSigner struct {
	keypair *Keypair
}

// NewLocalSigner wraps a loaded keypair.
func NewLocalSigner(keypair *Keypair) *LocalSigner {
	return &LocalSigner{keypair: keypair}
}

// NewLocalSignerFromFile loads the private key at path. A missing or
// unreadable key means signing is unavailable, not that the release is
// bad.
func NewLocalSignerFromFile(path string) (*LocalSigner, error) {
	keypair, err := LoadKeypair(path)
	if err != nil {
		return nil, release.Errorf(release.ClassSigningUnavailable, "failed to load signing key: %w", err)
	}

	return NewLocalSigner(keypair), nil
}

// Sign signs payload with the local key.
func (s *LocalSigner) Sign(_ context.Context, payload []byte) ([]byte, error) {
	return ed25519.Sign(s.keypair.Private, payload), nil
}

// KeyID identifies the local key.
func (s *LocalSigner) KeyID() string {
	return s.keypair.KeyID()
}

// Verifier returns a verifier for the signer's public key.
func (s *LocalSigner) Verifier() *Verifier {
	return NewVerifier(s.keypair.Public)
}
