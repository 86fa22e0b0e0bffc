package promoter

import (
	"context"
	"crypto/md5" //nolint:gosec // Transport checksum for uploads, not an integrity primitive.
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/forgedist/forgedist/internal/domain/release"
	"github.com/forgedist/forgedist/internal/logger"
)

// verify downloads every staged artifact into the work directory and
// recomputes its digest. A mismatch against the declared checksum stops
// the run here, before anything touches production.
func (p *promoter) verify(ctx context.Context) error {
	logger.InfoKV(ctx, "Verifying staged artifacts",
		"artifacts", len(p.rel.Artifacts),
		"concurrency", p.cfg.CopyConcurrency)

	p.downloads = make([]downloadedArtifact, len(p.rel.Artifacts))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.cfg.CopyConcurrency)

	for i := range p.rel.Artifacts {
		i := i

		group.Go(func() error {
			return p.verifyArtifact(groupCtx, i)
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}

	logger.Info(ctx, "All staged artifacts verified")

	return nil
}

// verifyArtifact streams one staged artifact to disk while hashing it.
// The transport checksum for the later production upload is computed in
// the same pass.
func (p *promoter) verifyArtifact(ctx context.Context, index int) error {
	artifact := p.rel.Artifacts[index]

	key := p.layout.StagingArtifact(p.run.Channel, p.rel.Version, artifact.Name)

	body, _, err := p.staging.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("download %s: %w", artifact.Name, err)
	}
	defer body.Close()

	path := filepath.Join(p.workDir, artifact.Name)

	file, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("create work file for %s: %w", artifact.Name, err)
	}

	sum := sha256.New()
	transport := md5.New() //nolint:gosec // Transport checksum only.

	written, err := io.Copy(io.MultiWriter(file, sum, transport), body)

	closeErr := file.Close()

	if err != nil {
		return fmt.Errorf("download %s: %w", artifact.Name, err)
	}

	if closeErr != nil {
		return fmt.Errorf("flush work file for %s: %w", artifact.Name, closeErr)
	}

	if written != artifact.Size {
		return release.FatalErrorf(release.ClassIntegrityViolation,
			"artifact %s: downloaded %d bytes, listing said %d", artifact.Name, written, artifact.Size)
	}

	digest := hex.EncodeToString(sum.Sum(nil))
	if digest != artifact.Checksum {
		return release.FatalErrorf(release.ClassIntegrityViolation,
			"artifact %s: staged digest %s does not match declared %s", artifact.Name, digest, artifact.Checksum)
	}

	p.downloads[index] = downloadedArtifact{
		path:       path,
		contentMD5: base64.StdEncoding.EncodeToString(transport.Sum(nil)),
	}

	logger.DebugKV(ctx, "Artifact verified",
		"name", artifact.Name,
		"size", humanize.IBytes(uint64(written)))

	return nil
}
