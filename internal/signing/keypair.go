package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Key file permissions. The private key is operator-readable only.
const (
	PrivateKeyPermissions = 0o600
	PublicKeyPermissions  = 0o644

	keyDirPermissions = 0o755
)

// Key material errors.
var (
	ErrBadPrivateKeySize = errors.New("private key has the wrong size")
	ErrBadPublicKeySize  = errors.New("public key has the wrong size")
)

// Keypair is an Ed25519 release-signing key.
type Keypair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// Generate creates a fresh keypair.
func Generate() (*Keypair, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}

	return &Keypair{Public: public, Private: private}, nil
}

// KeyID returns the short identifier embedded in signature comments:
// the first eight bytes of the public key's SHA-256, in hex.
func (k *Keypair) KeyID() string {
	return KeyIDFor(k.Public)
}

// KeyIDFor derives the short key identifier for a public key.
func KeyIDFor(public ed25519.PublicKey) string {
	digest := sha256.Sum256(public)

	return hex.EncodeToString(digest[:8])
}

// Save writes both halves of the keypair as single-line hex files.
func (k *Keypair) Save(privatePath, publicPath string) error {
	for _, path := range []string{privatePath, publicPath} {
		if err := os.MkdirAll(filepath.Dir(path), keyDirPermissions); err != nil {
			return fmt.Errorf("failed to create key directory: %w", err)
		}
	}

	private := hex.EncodeToString(k.Private) + "\n"
	if err := os.WriteFile(privatePath, []byte(private), PrivateKeyPermissions); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	public := hex.EncodeToString(k.Public) + "\n"
	if err := os.WriteFile(publicPath, []byte(public), PublicKeyPermissions); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}

	return nil
}

// LoadKeypair reads a private key file and rederives the public half.
func LoadKeypair(privatePath string) (*Keypair, error) {
	data, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	raw, err := decodeKeyHex(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadPrivateKeySize, len(raw))
	}

	private := ed25519.PrivateKey(raw)

	public, ok := private.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("private key does not carry an ed25519 public key")
	}

	return &Keypair{Public: public, Private: private}, nil
}

// LoadPublicKey reads a public key file.
func LoadPublicKey(publicPath string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}

	raw, err := decodeKeyHex(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadPublicKeySize, len(raw))
	}

	return ed25519.PublicKey(raw), nil
}

func decodeKeyHex(data []byte) ([]byte, error) {
	return hex.DecodeString(strings.TrimSpace(string(data)))
}
