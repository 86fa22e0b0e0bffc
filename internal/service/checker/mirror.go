package checker

import (
	"bytes"
	"context"
	"crypto"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/forgedist/forgedist/internal/domain/release"
	"github.com/forgedist/forgedist/internal/logger"
	"github.com/forgedist/forgedist/internal/manifest"
	"github.com/forgedist/forgedist/internal/repository/blob"
)

// Mirror tree permissions.
const (
	mirrorFileMode os.FileMode = 0o644
	mirrorDirMode  os.FileMode = 0o755
)

// mirror downloads the verified release into the local mirror
// directory, one subdirectory per version. Files are replaced
// atomically with their checksum enforced once more during the write,
// so a torn download never leaves a half-written artifact behind.
func (c *checker) mirror(ctx context.Context) error {
	dir := filepath.Join(c.opts.MirrorDir, c.doc.Version)

	if err := os.MkdirAll(dir, mirrorDirMode); err != nil {
		return fmt.Errorf("create mirror directory: %w", err)
	}

	logger.InfoKV(ctx, "Mirroring release",
		"dir", dir,
		"artifacts", len(c.doc.Artifacts))

	for _, entry := range c.doc.Artifacts {
		if err := c.mirrorArtifact(ctx, dir, entry); err != nil {
			return err
		}
	}

	manifestName := manifest.ManifestName(c.doc.Channel)

	if err := os.WriteFile(filepath.Join(dir, manifestName), c.manifestRaw, mirrorFileMode); err != nil {
		return fmt.Errorf("write mirrored manifest: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, manifestName+manifest.SignatureSuffix), c.manifestSig, mirrorFileMode); err != nil {
		return fmt.Errorf("write mirrored manifest signature: %w", err)
	}

	logger.InfoKV(ctx, "Release mirrored", "dir", dir)

	return nil
}

// mirrorArtifact fetches one artifact and applies it to the mirror
// together with its companions.
func (c *checker) mirrorArtifact(ctx context.Context, dir string, entry manifest.Entry) error {
	key := c.layout.ProductionArtifact(c.doc.Version, entry.Name)

	data, _, err := blob.GetBytes(ctx, c.production, key)
	if err != nil {
		return fmt.Errorf("download %s: %w", entry.Name, err)
	}

	checksum, err := hex.DecodeString(entry.SHA256)
	if err != nil {
		return fmt.Errorf("decode digest for %s: %w", entry.Name, err)
	}

	target := filepath.Join(dir, entry.Name)

	// Apply patches an existing file, so make sure one is there.
	if _, err := os.Stat(target); err != nil && os.IsNotExist(err) {
		if err := os.WriteFile(target, nil, mirrorFileMode); err != nil {
			return fmt.Errorf("create mirror target for %s: %w", entry.Name, err)
		}
	}

	if err := goupdate.Apply(bytes.NewReader(data), goupdate.Options{
		TargetPath: target,
		TargetMode: mirrorFileMode,
		Checksum:   checksum,
		Hash:       crypto.SHA256,
	}); err != nil {
		return fmt.Errorf("apply %s to mirror: %w", entry.Name, err)
	}

	// Apply keeps the previous file around as .old; the mirror has no
	// use for it.
	oldName := target + ".old"
	if _, err := os.Stat(oldName); err == nil {
		_ = os.Remove(oldName)
	}

	signature, _, err := blob.GetBytes(ctx, c.production, key+manifest.SignatureSuffix)
	if err != nil {
		return fmt.Errorf("download signature for %s: %w", entry.Name, err)
	}

	if err := os.WriteFile(target+manifest.SignatureSuffix, signature, mirrorFileMode); err != nil {
		return fmt.Errorf("write mirrored signature for %s: %w", entry.Name, err)
	}

	checksumFile := release.FormatChecksumFile(entry.SHA256, entry.Name)
	if err := os.WriteFile(target+manifest.ChecksumSuffix, checksumFile, mirrorFileMode); err != nil {
		return fmt.Errorf("write mirrored checksum for %s: %w", entry.Name, err)
	}

	logger.DebugKV(ctx, "Artifact mirrored", "name", entry.Name)

	return nil
}
