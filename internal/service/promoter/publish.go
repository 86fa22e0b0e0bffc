package promoter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/forgedist/forgedist/internal/domain/release"
	"github.com/forgedist/forgedist/internal/logger"
	"github.com/forgedist/forgedist/internal/manifest"
	"github.com/forgedist/forgedist/internal/repository/blob"
)

// publish copies verified artifacts, their companions and the channel
// manifest into production. Artifacts already present with a matching
// digest are skipped, so an interrupted run resumes instead of
// re-copying, and a finished run re-executes without a single write.
func (p *promoter) publish(ctx context.Context) error {
	logger.InfoKV(ctx, "Publishing to production",
		"bucket", p.cfg.Production.Bucket,
		"version", p.rel.Version,
		"artifacts", len(p.rel.Artifacts),
		"concurrency", p.cfg.CopyConcurrency)

	copied := make([]bool, len(p.rel.Artifacts))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.cfg.CopyConcurrency)

	for i := range p.rel.Artifacts {
		i := i

		group.Go(func() error {
			wrote, err := p.publishArtifact(groupCtx, i)
			if err != nil {
				return err
			}

			copied[i] = wrote

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}

	for i, wrote := range copied {
		if wrote {
			p.copied++
			p.copiedBytes += p.rel.Artifacts[i].Size
		} else {
			p.skipped++
		}
	}

	if err := p.publishManifest(ctx); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Publish finished",
		"copied", p.copied,
		"skipped", p.skipped,
		"copied_bytes", humanize.IBytes(uint64(p.copiedBytes)))

	return nil
}

// publishArtifact copies one artifact and its companions. It reports
// whether the artifact body itself was written.
func (p *promoter) publishArtifact(ctx context.Context, index int) (bool, error) {
	artifact := p.rel.Artifacts[index]
	key := p.layout.ProductionArtifact(p.rel.Version, artifact.Name)

	present, err := p.productionMatches(ctx, key, artifact)
	if err != nil {
		return false, err
	}

	wrote := false

	if present {
		logger.DebugKV(ctx, "Artifact already published, skipping",
			"name", artifact.Name)
	} else {
		if err := p.uploadArtifact(ctx, key, artifact, index); err != nil {
			return false, err
		}

		if err := p.recheckPublished(ctx, key, artifact); err != nil {
			return false, err
		}

		wrote = true
	}

	checksum := release.FormatChecksumFile(artifact.Checksum, artifact.Name)
	if _, err := p.putDocument(ctx, key+manifest.ChecksumSuffix, checksum, false); err != nil {
		return false, fmt.Errorf("publish checksum companion for %s: %w", artifact.Name, err)
	}

	if _, err := p.putDocument(ctx, key+manifest.SignatureSuffix, p.signatures[artifact.Name], false); err != nil {
		return false, fmt.Errorf("publish signature for %s: %w", artifact.Name, err)
	}

	return wrote, nil
}

// productionMatches reports whether the production object already holds
// the artifact's exact bytes. An existing object with different content
// is an integrity violation: published artifacts are immutable.
func (p *promoter) productionMatches(ctx context.Context, key string, artifact release.Artifact) (bool, error) {
	info, err := p.production.Head(ctx, key)
	if blob.IsNotFound(err) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("inspect production object %s: %w", key, err)
	}

	if digest := info.Metadata[blob.MetadataSHA256]; digest == artifact.Checksum && info.Size == artifact.Size {
		return true, nil
	}

	// No trusted digest in metadata, so hash the published bytes.
	digest, size, err := p.hashProduction(ctx, key)
	if err != nil {
		return false, err
	}

	if digest == artifact.Checksum && size == artifact.Size {
		return true, nil
	}

	return false, release.FatalErrorf(release.ClassIntegrityViolation,
		"production object %s exists with digest %s, refusing to overwrite (want %s)", key, digest, artifact.Checksum)
}

// uploadArtifact streams the verified work-directory copy to production.
func (p *promoter) uploadArtifact(ctx context.Context, key string, artifact release.Artifact, index int) error {
	file, err := os.Open(filepath.Clean(p.downloads[index].path))
	if err != nil {
		return fmt.Errorf("open verified artifact %s: %w", artifact.Name, err)
	}

	defer func() {
		_ = file.Close()
	}()

	if _, err := p.production.Put(ctx, key, file, blob.PutOptions{
		ContentType: "application/octet-stream",
		ContentMD5:  p.downloads[index].contentMD5,
		Metadata:    map[string]string{blob.MetadataSHA256: artifact.Checksum},
	}); err != nil {
		return fmt.Errorf("upload %s: %w", artifact.Name, err)
	}

	logger.DebugKV(ctx, "Artifact uploaded",
		"name", artifact.Name,
		"size", humanize.IBytes(uint64(artifact.Size)))

	return nil
}

// recheckPublished re-reads the freshly copied object and re-hashes it.
// A copy the store corrupted in flight fails the run before cutover.
func (p *promoter) recheckPublished(ctx context.Context, key string, artifact release.Artifact) error {
	digest, size, err := p.hashProduction(ctx, key)
	if err != nil {
		return err
	}

	if size != artifact.Size || digest != artifact.Checksum {
		return release.FatalErrorf(release.ClassIntegrityViolation,
			"post-copy check failed for %s: production digest %s, want %s", artifact.Name, digest, artifact.Checksum)
	}

	return nil
}

// hashProduction downloads a production object and returns its digest
// and size.
func (p *promoter) hashProduction(ctx context.Context, key string) (string, int64, error) {
	body, _, err := p.production.Get(ctx, key)
	if err != nil {
		return "", 0, fmt.Errorf("read back production object %s: %w", key, err)
	}

	defer func() {
		_ = body.Close()
	}()

	digest, size, err := release.SumReader(body)
	if err != nil {
		return "", 0, fmt.Errorf("read back production object %s: %w", key, err)
	}

	return digest, size, nil
}

// publishManifest writes the channel manifest and its signature. A
// manifest already published for this version and channel must carry
// the same bytes; anything else means the staged release changed after
// it went live.
func (p *promoter) publishManifest(ctx context.Context) error {
	key := p.layout.Manifest(p.rel.Version, p.run.Channel)

	wrote, err := p.putDocument(ctx, key, p.manifestBytes, true)
	if err != nil {
		return fmt.Errorf("publish channel manifest: %w", err)
	}

	if _, err := p.putDocument(ctx, key+manifest.SignatureSuffix, p.manifestSig, false); err != nil {
		return fmt.Errorf("publish channel manifest signature: %w", err)
	}

	if wrote {
		logger.InfoKV(ctx, "Channel manifest published",
			"key", key,
			"sha256", p.manifestDigest)
	} else {
		logger.DebugKV(ctx, "Channel manifest already published", "key", key)
	}

	return nil
}

// putDocument writes a small document unless production already holds
// the same bytes. With immutable set, differing existing content fails
// the run instead of being overwritten.
func (p *promoter) putDocument(ctx context.Context, key string, data []byte, immutable bool) (bool, error) {
	info, err := p.production.Head(ctx, key)

	switch {
	case err == nil:
		if blob.SameETag(info.ETag, blob.ETagFor(data)) {
			return false, nil
		}

		if immutable {
			return false, release.FatalErrorf(release.ClassIntegrityViolation,
				"production object %s exists with different content", key)
		}
	case blob.IsNotFound(err):
	default:
		return false, fmt.Errorf("inspect %s: %w", key, err)
	}

	if _, err := blob.PutBytes(ctx, p.production, key, data, blob.PutOptions{
		ContentType: contentTypeFor(key),
		ContentMD5:  blob.ContentMD5(data),
	}); err != nil {
		return false, err
	}

	return true, nil
}

// contentTypeFor picks the media type for published companion and
// metadata documents.
func contentTypeFor(key string) string {
	switch {
	case strings.HasSuffix(key, manifest.ChecksumSuffix), strings.HasSuffix(key, manifest.SignatureSuffix):
		return "text/plain"
	case strings.HasSuffix(key, ".yaml"):
		return "application/yaml"
	default:
		return "application/octet-stream"
	}
}
