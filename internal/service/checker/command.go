package checker

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/forgedist/forgedist/internal/config"
	"github.com/forgedist/forgedist/internal/domain/release"
	"github.com/forgedist/forgedist/internal/logger"
	"github.com/forgedist/forgedist/internal/manifest"
	"github.com/forgedist/forgedist/internal/repository/blob"
	"github.com/forgedist/forgedist/internal/signing"
)

// Options contains inputs for the checker entry point.
type Options struct {
	// ConfigPath is an optional path to the settings file.
	ConfigPath string
	// Channel is the channel to check.
	Channel string
	// ExpectedVersion, when set, additionally asserts which version the
	// channel pointer must name. CI smoke checks use it after a promotion.
	ExpectedVersion string
	// MirrorDir, when set, downloads the verified artifacts into a local
	// directory after the checks pass.
	MirrorDir string
}

var (
	errChannelRequired   = errors.New("a channel is required")
	errPublicKeyRequired = errors.New("a public key is required to verify signatures")
)

// checker walks the live release of one channel and verifies every
// link of the chain: pointer, manifest, artifact bytes, signatures.
type checker struct {
	cfg  *config.Config
	opts *Options

	production blob.Store
	layout     manifest.Layout
	verifier   *signing.Verifier

	pointer       *manifest.Pointer
	doc           *manifest.Document
	manifestRaw   []byte
	manifestSig   []byte
	verifiedBytes int64
}

// Run verifies that the live release of a channel is complete and
// internally consistent.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "forgedist-checker")

	if opts.Channel == "" {
		return errChannelRequired
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	if !cfg.HasChannel(opts.Channel) {
		return release.ChannelUnknownf(opts.Channel)
	}

	c, err := newChecker(ctx, cfg, opts)
	if err != nil {
		return fmt.Errorf("initialize checker: %w", err)
	}

	if err := c.run(ctx); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Channel check passed",
		"channel", opts.Channel,
		"version", c.pointer.Version,
		"artifacts", len(c.doc.Artifacts),
		"verified_bytes", humanize.IBytes(uint64(c.verifiedBytes)))

	return nil
}

// newChecker wires the production store and the signature verifier.
func newChecker(ctx context.Context, cfg *config.Config, opts *Options) (*checker, error) {
	client, err := blob.NewS3Client(ctx, blob.ClientParams{
		Endpoint:  cfg.Endpoint,
		Region:    cfg.Region,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
	})
	if err != nil {
		return nil, err
	}

	verifier, err := loadVerifier(cfg)
	if err != nil {
		return nil, err
	}

	return &checker{
		cfg:  cfg,
		opts: opts,
		production: blob.NewS3Store(client, cfg.Production.Bucket, blob.RetrySpec{
			Attempts: cfg.Retry.Attempts,
			Delay:    cfg.Retry.Delay,
			MaxDelay: cfg.Retry.MaxDelay,
		}),
		layout: manifest.Layout{
			StagingPrefix:    cfg.Staging.Prefix,
			ProductionPrefix: cfg.Production.Prefix,
		},
		verifier: verifier,
	}, nil
}

// loadVerifier prefers the configured public key and falls back to
// deriving one from a local signing key.
func loadVerifier(cfg *config.Config) (*signing.Verifier, error) {
	if cfg.Signing.PublicKeyPath != "" {
		return signing.NewVerifierFromFile(cfg.Signing.PublicKeyPath)
	}

	if cfg.Signing.Mode == config.SigningModeLocal && cfg.Signing.KeyPath != "" {
		keypair, err := signing.LoadKeypair(cfg.Signing.KeyPath)
		if err != nil {
			return nil, err
		}

		return signing.NewVerifier(keypair.Public), nil
	}

	return nil, errPublicKeyRequired
}

// run executes the verification chain in trust order: the pointer names
// the manifest, the manifest names the artifacts, and every hop is
// checked before the next one is followed.
func (c *checker) run(ctx context.Context) error {
	if err := c.fetchPointer(ctx); err != nil {
		return err
	}

	if err := c.fetchManifest(ctx); err != nil {
		return err
	}

	if err := c.verifyArtifacts(ctx); err != nil {
		return err
	}

	if c.opts.MirrorDir != "" {
		return c.mirror(ctx)
	}

	return nil
}

// fetchPointer loads and validates the channel pointer.
func (c *checker) fetchPointer(ctx context.Context) error {
	key := c.layout.Pointer(c.opts.Channel)

	data, _, err := blob.GetBytes(ctx, c.production, key)
	if blob.IsNotFound(err) {
		return release.Errorf(release.ClassNotFound,
			"channel %s has no published release", c.opts.Channel)
	}

	if err != nil {
		return fmt.Errorf("read channel pointer: %w", err)
	}

	pointer, err := manifest.DecodePointer(data)
	if err != nil {
		return release.FatalErrorf(release.ClassIntegrityViolation,
			"channel pointer %s: %v", key, err)
	}

	if pointer.Channel != c.opts.Channel {
		return release.FatalErrorf(release.ClassIntegrityViolation,
			"channel pointer %s names channel %s", key, pointer.Channel)
	}

	if c.opts.ExpectedVersion != "" && pointer.Version != c.opts.ExpectedVersion {
		return release.FatalErrorf(release.ClassIntegrityViolation,
			"channel %s points at version %s, expected %s", c.opts.Channel, pointer.Version, c.opts.ExpectedVersion)
	}

	c.pointer = pointer

	logger.InfoKV(ctx, "Channel pointer loaded",
		"channel", pointer.Channel,
		"version", pointer.Version,
		"manifest", pointer.ManifestPath)

	return nil
}

// fetchManifest loads the manifest the pointer names, and checks its
// digest against the pointer and its signature against the trusted key.
func (c *checker) fetchManifest(ctx context.Context) error {
	data, _, err := blob.GetBytes(ctx, c.production, c.pointer.ManifestPath)
	if blob.IsNotFound(err) {
		return release.FatalErrorf(release.ClassIncompleteRelease,
			"channel pointer names missing manifest %s", c.pointer.ManifestPath)
	}

	if err != nil {
		return fmt.Errorf("read channel manifest: %w", err)
	}

	if digest := release.SumBytes(data); digest != c.pointer.ManifestSHA256 {
		return release.FatalErrorf(release.ClassIntegrityViolation,
			"manifest %s has digest %s, pointer says %s", c.pointer.ManifestPath, digest, c.pointer.ManifestSHA256)
	}

	signature, _, err := blob.GetBytes(ctx, c.production, c.pointer.ManifestPath+manifest.SignatureSuffix)
	if blob.IsNotFound(err) {
		return release.FatalErrorf(release.ClassIncompleteRelease,
			"manifest %s has no signature", c.pointer.ManifestPath)
	}

	if err != nil {
		return fmt.Errorf("read manifest signature: %w", err)
	}

	if err := c.verifier.Verify(data, signature); err != nil {
		return release.FatalErrorf(release.ClassIntegrityViolation,
			"manifest %s signature: %v", c.pointer.ManifestPath, err)
	}

	doc, err := manifest.Decode(data)
	if err != nil {
		return release.FatalErrorf(release.ClassIntegrityViolation,
			"manifest %s: %v", c.pointer.ManifestPath, err)
	}

	if doc.Channel != c.pointer.Channel || doc.Version != c.pointer.Version {
		return release.FatalErrorf(release.ClassIntegrityViolation,
			"manifest %s is for %s/%s, pointer says %s/%s",
			c.pointer.ManifestPath, doc.Channel, doc.Version, c.pointer.Channel, c.pointer.Version)
	}

	c.doc = doc
	c.manifestRaw = data
	c.manifestSig = signature

	logger.InfoKV(ctx, "Channel manifest verified",
		"version", doc.Version,
		"artifacts", len(doc.Artifacts))

	return nil
}

// verifyArtifacts re-downloads every artifact the manifest names and
// checks size, digest and detached signature.
func (c *checker) verifyArtifacts(ctx context.Context) error {
	sizes := make([]int64, len(c.doc.Artifacts))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.concurrency())

	for i := range c.doc.Artifacts {
		i := i

		group.Go(func() error {
			size, err := c.verifyArtifact(groupCtx, c.doc.Artifacts[i])
			if err != nil {
				return err
			}

			sizes[i] = size

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}

	for _, size := range sizes {
		c.verifiedBytes += size
	}

	logger.InfoKV(ctx, "All artifacts verified", "artifacts", len(c.doc.Artifacts))

	return nil
}

// verifyArtifact checks one manifest entry against the published bytes.
func (c *checker) verifyArtifact(ctx context.Context, entry manifest.Entry) (int64, error) {
	key := c.layout.ProductionArtifact(c.doc.Version, entry.Name)

	data, _, err := blob.GetBytes(ctx, c.production, key)
	if blob.IsNotFound(err) {
		return 0, release.FatalErrorf(release.ClassIncompleteRelease,
			"manifest references missing artifact %s", entry.Name)
	}

	if err != nil {
		return 0, fmt.Errorf("read artifact %s: %w", entry.Name, err)
	}

	if size := int64(len(data)); size != entry.Size {
		return 0, release.FatalErrorf(release.ClassIntegrityViolation,
			"artifact %s is %d bytes, manifest says %d", entry.Name, size, entry.Size)
	}

	if digest := release.SumBytes(data); digest != entry.SHA256 {
		return 0, release.FatalErrorf(release.ClassIntegrityViolation,
			"artifact %s has digest %s, manifest says %s", entry.Name, digest, entry.SHA256)
	}

	signature, _, err := blob.GetBytes(ctx, c.production, key+manifest.SignatureSuffix)
	if blob.IsNotFound(err) {
		return 0, release.FatalErrorf(release.ClassIncompleteRelease,
			"artifact %s has no signature", entry.Name)
	}

	if err != nil {
		return 0, fmt.Errorf("read signature for %s: %w", entry.Name, err)
	}

	if err := c.verifier.Verify(data, signature); err != nil {
		return 0, release.FatalErrorf(release.ClassIntegrityViolation,
			"artifact %s signature: %v", entry.Name, err)
	}

	logger.DebugKV(ctx, "Artifact verified",
		"name", entry.Name,
		"size", humanize.IBytes(uint64(len(data))))

	return int64(len(data)), nil
}

// concurrency caps the artifact fan-out.
func (c *checker) concurrency() int {
	if c.cfg.CopyConcurrency > 0 {
		return c.cfg.CopyConcurrency
	}

	return config.DefaultCopyConcurrency
}
