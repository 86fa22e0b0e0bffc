package signing

import (
	"crypto/ed25519"
	"errors"
	"fmt"
)

// Verification errors.
var (
	ErrWrongKey     = errors.New("signature was made by a different key")
	ErrBadSignature = errors.New("signature does not verify")
)

// Verifier checks detached signatures against one trusted public key.
type Verifier struct {
	public ed25519.PublicKey
	keyID  string
}

// NewVerifier wraps a trusted public key.
func NewVerifier(public ed25519.PublicKey) *Verifier {
	return &Verifier{
		public: public,
		keyID:  KeyIDFor(public),
	}
}

// NewVerifierFromFile loads the trusted public key at path.
func NewVerifierFromFile(path string) (*Verifier, error) {
	public, err := LoadPublicKey(path)
	if err != nil {
		return nil, err
	}

	return NewVerifier(public), nil
}

// KeyID identifies the trusted key.
func (v *Verifier) KeyID() string {
	return v.keyID
}

// Verify checks a detached signature file against payload. The comment
// line must name the trusted key and the signature must verify under it.
func (v *Verifier) Verify(payload, signatureFile []byte) error {
	keyID, signature, err := DecodeSignature(signatureFile)
	if err != nil {
		return err
	}

	if keyID != v.keyID {
		return fmt.Errorf("%w: signed by %q, trusted key is %q", ErrWrongKey, keyID, v.keyID)
	}

	if !ed25519.Verify(v.public, payload, signature) {
		return ErrBadSignature
	}

	return nil
}
