package promoter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgedist/forgedist/internal/domain/release"
	"github.com/forgedist/forgedist/internal/logger"
	"github.com/forgedist/forgedist/internal/manifest"
	"github.com/forgedist/forgedist/internal/repository/blob"
	"github.com/forgedist/forgedist/internal/signing"
)

// sign attaches a detached signature to every artifact. Staged
// signatures made with the current key are reused so a re-run does not
// depend on the signing backend being reachable again.
func (p *promoter) sign(ctx context.Context) error {
	logger.InfoKV(ctx, "Signing artifacts",
		"artifacts", len(p.rel.Artifacts),
		"key_id", p.signer.KeyID())

	reused := 0

	for i, artifact := range p.rel.Artifacts {
		data, err := os.ReadFile(filepath.Clean(p.downloads[i].path))
		if err != nil {
			return fmt.Errorf("read verified artifact %s: %w", artifact.Name, err)
		}

		signature, fresh, err := p.ensureSignature(ctx, artifact.Name, data)
		if err != nil {
			return err
		}

		if !fresh {
			reused++
		}

		p.signatures[artifact.Name] = signature
	}

	logger.InfoKV(ctx, "All artifacts signed",
		"signed", len(p.rel.Artifacts)-reused,
		"reused", reused)

	return nil
}

// ensureSignature returns a signature file for payload, reusing the
// staged one when it was made with the current key and still verifies.
func (p *promoter) ensureSignature(ctx context.Context, name string, payload []byte) (signature []byte, fresh bool, err error) {
	staged, err := p.stagedSignature(ctx, name)
	if err != nil {
		return nil, false, err
	}

	if staged != nil {
		keyID, _, decodeErr := signing.DecodeSignature(staged)
		if decodeErr == nil && keyID == p.signer.KeyID() {
			if p.verifier == nil || p.verifier.Verify(payload, staged) == nil {
				return staged, false, nil
			}

			logger.WarnKV(ctx, "Staged signature does not verify, re-signing",
				"name", name,
				"key_id", keyID)
		}
	}

	raw, err := p.signer.Sign(ctx, payload)
	if err != nil {
		return nil, false, fmt.Errorf("sign %s: %w", name, err)
	}

	return signing.EncodeSignature(p.signer.KeyID(), raw), true, nil
}

// stagedSignature fetches the staged signature companion for an
// artifact, or nil when none was uploaded.
func (p *promoter) stagedSignature(ctx context.Context, name string) ([]byte, error) {
	key := p.layout.StagingArtifact(p.run.Channel, p.rel.Version, name+manifest.SignatureSuffix)

	data, _, err := blob.GetBytes(ctx, p.staging, key)
	if blob.IsNotFound(err) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read staged signature for %s: %w", name, err)
	}

	return data, nil
}

// buildManifest renders the channel manifest from the verified release
// and signs it. The manifest digest feeds the channel pointer.
func (p *promoter) buildManifest(ctx context.Context) error {
	logger.InfoKV(ctx, "Building channel manifest",
		"channel", p.run.Channel,
		"version", p.rel.Version)

	p.doc = manifest.Build(p.run.Channel, p.rel)

	data, err := p.doc.Encode()
	if err != nil {
		return fmt.Errorf("encode channel manifest: %w", err)
	}

	raw, err := p.signer.Sign(ctx, data)
	if err != nil {
		return fmt.Errorf("sign channel manifest: %w", err)
	}

	p.manifestBytes = data
	p.manifestDigest = release.SumBytes(data)
	p.manifestSig = signing.EncodeSignature(p.signer.KeyID(), raw)

	logger.InfoKV(ctx, "Channel manifest built",
		"entries", len(p.doc.Artifacts),
		"sha256", p.manifestDigest)

	return nil
}
