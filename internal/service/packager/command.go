package packager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/forgedist/forgedist/internal/config"
	"github.com/forgedist/forgedist/internal/domain/release"
	"github.com/forgedist/forgedist/internal/logger"
	"github.com/forgedist/forgedist/internal/manifest"
	"github.com/forgedist/forgedist/internal/repository/blob"
	"github.com/forgedist/forgedist/internal/signing"
)

// Options contains inputs for the packager entry point.
type Options struct {
	// ConfigPath is an optional path to the settings file.
	ConfigPath string
	// Channel receives the staged release.
	Channel string
	// Version tags the release. Defaults to Date on the nightly channel.
	Version string
	// Date is the build date (YYYY-MM-DD). Defaults to today.
	Date string
	// Components are staged once per target.
	Components []string
	// Targets are the platform triples to stage.
	Targets []string
	// Format selects the archive compression, "gz" or "zst".
	Format string
	// PayloadSize is the synthetic binary size per artifact, in bytes.
	PayloadSize int
	// SignKeyPath, when set, also stages detached signatures made with
	// the private key at this path.
	SignKeyPath string
	// SkipSource drops the platform-independent source archive.
	SkipSource bool
}

// Defaults for the staged component matrix.
var (
	DefaultComponents = []string{"rustc", "rust-std", "cargo"}
	DefaultTargets    = []string{"x86_64-unknown-linux-gnu", "aarch64-unknown-linux-gnu"}
)

// DefaultPayloadSize is the synthetic binary size when none is given.
const DefaultPayloadSize = 64 * 1024

const sourceComponent = "rust-src"

var errVersionRequired = errors.New("a version is required outside the nightly channel")

// packager stages one synthetic release into the staging store.
// It is unexported; callers go through Run.
type packager struct {
	cfg    *config.Config
	opts   *Options
	store  blob.Store
	signer signing.Signer
	layout manifest.Layout

	stagedCount int
	stagedBytes int64
}

// Run executes the staging workflow.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "forgedist-packager")

	applyDefaults(opts)

	if opts.Version == "" {
		return errVersionRequired
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	if !cfg.HasChannel(opts.Channel) {
		return release.ChannelUnknownf(opts.Channel)
	}

	pkg, err := newPackager(ctx, cfg, opts)
	if err != nil {
		return fmt.Errorf("initialize packager: %w", err)
	}

	if err := pkg.run(ctx); err != nil {
		return fmt.Errorf("packager failed: %w", err)
	}

	logger.InfoKV(ctx, "Packager completed successfully",
		"channel", opts.Channel,
		"version", opts.Version,
		"artifacts", pkg.stagedCount,
		"total_size", humanize.IBytes(uint64(pkg.stagedBytes)))

	return nil
}

func applyDefaults(opts *Options) {
	if opts.Format == "" {
		opts.Format = FormatGzip
	}

	if opts.PayloadSize <= 0 {
		opts.PayloadSize = DefaultPayloadSize
	}

	if len(opts.Components) == 0 {
		opts.Components = DefaultComponents
	}

	if len(opts.Targets) == 0 {
		opts.Targets = DefaultTargets
	}

	if opts.Date == "" {
		opts.Date = time.Now().UTC().Format(time.DateOnly)
	}

	if opts.Version == "" && opts.Channel == release.ChannelNightly {
		opts.Version = opts.Date
	}
}

// newPackager wires the staging store and the optional signer.
func newPackager(ctx context.Context, cfg *config.Config, opts *Options) (*packager, error) {
	client, err := blob.NewS3Client(ctx, blob.ClientParams{
		Endpoint:  cfg.Endpoint,
		Region:    cfg.Region,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
	})
	if err != nil {
		return nil, err
	}

	pkg := &packager{
		cfg:  cfg,
		opts: opts,
		store: blob.NewS3Store(client, cfg.Staging.Bucket, blob.RetrySpec{
			Attempts: cfg.Retry.Attempts,
			Delay:    cfg.Retry.Delay,
			MaxDelay: cfg.Retry.MaxDelay,
		}),
		layout: manifest.Layout{
			StagingPrefix:    cfg.Staging.Prefix,
			ProductionPrefix: cfg.Production.Prefix,
		},
	}

	if opts.SignKeyPath != "" {
		signer, err := signing.NewLocalSignerFromFile(opts.SignKeyPath)
		if err != nil {
			return nil, err
		}

		pkg.signer = signer
	}

	return pkg, nil
}

// run stages every artifact and then publishes the release descriptor.
// The descriptor goes last so a promoter never discovers a half-staged
// release.
func (p *packager) run(ctx context.Context) error {
	modTime, err := time.Parse(time.DateOnly, p.opts.Date)
	if err != nil {
		return fmt.Errorf("parse date: %w", err)
	}

	extension, err := extensionFor(p.opts.Format)
	if err != nil {
		return err
	}

	for _, component := range p.opts.Components {
		for _, target := range p.opts.Targets {
			name := component + "-" + target + extension
			if err := p.stageArtifact(ctx, name, component, target, modTime); err != nil {
				return err
			}
		}
	}

	if !p.opts.SkipSource {
		name := sourceComponent + extension
		if err := p.stageArtifact(ctx, name, sourceComponent, release.TargetAny, modTime); err != nil {
			return err
		}
	}

	return p.stageDescriptor(ctx)
}

// stageArtifact uploads one archive with its checksum companion and,
// when a signing key was given, a signature companion.
func (p *packager) stageArtifact(ctx context.Context, name, component, target string, modTime time.Time) error {
	data, err := buildArchive(component, target, p.opts.Version, modTime, p.opts.PayloadSize, p.opts.Format)
	if err != nil {
		return fmt.Errorf("build %s: %w", name, err)
	}

	digest := release.SumBytes(data)
	key := p.layout.StagingArtifact(p.opts.Channel, p.opts.Version, name)

	if _, err := blob.PutBytes(ctx, p.store, key, data, blob.PutOptions{
		ContentType: "application/octet-stream",
		ContentMD5:  blob.ContentMD5(data),
		Metadata:    map[string]string{blob.MetadataSHA256: digest},
	}); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}

	checksum := release.FormatChecksumFile(digest, name)
	if _, err := blob.PutBytes(ctx, p.store, key+manifest.ChecksumSuffix, checksum, blob.PutOptions{
		ContentType: "text/plain",
		ContentMD5:  blob.ContentMD5(checksum),
	}); err != nil {
		return fmt.Errorf("upload %s checksum: %w", name, err)
	}

	if p.signer != nil {
		raw, err := p.signer.Sign(ctx, data)
		if err != nil {
			return fmt.Errorf("sign %s: %w", name, err)
		}

		signature := signing.EncodeSignature(p.signer.KeyID(), raw)
		if _, err := blob.PutBytes(ctx, p.store, key+manifest.SignatureSuffix, signature, blob.PutOptions{
			ContentType: "text/plain",
			ContentMD5:  blob.ContentMD5(signature),
		}); err != nil {
			return fmt.Errorf("upload %s signature: %w", name, err)
		}
	}

	p.stagedCount++
	p.stagedBytes += int64(len(data))

	logger.InfoKV(ctx, "Staged artifact",
		"name", name,
		"target", target,
		"size", humanize.IBytes(uint64(len(data))))

	return nil
}

// stageDescriptor marks the release ready for promotion.
func (p *packager) stageDescriptor(ctx context.Context) error {
	descriptor := &manifest.Descriptor{
		Version: p.opts.Version,
		Date:    p.opts.Date,
	}

	data, err := descriptor.Encode()
	if err != nil {
		return err
	}

	key := p.layout.StagingDescriptor(p.opts.Channel)

	if _, err := blob.PutBytes(ctx, p.store, key, data, blob.PutOptions{
		ContentType: "application/yaml",
		ContentMD5:  blob.ContentMD5(data),
	}); err != nil {
		return fmt.Errorf("upload release descriptor: %w", err)
	}

	logger.InfoKV(ctx, "Staged release descriptor",
		"bucket", p.cfg.Staging.Bucket,
		"key", key)

	return nil
}
