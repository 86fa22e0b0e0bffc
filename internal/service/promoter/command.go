package promoter

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/forgedist/forgedist/internal/config"
	"github.com/forgedist/forgedist/internal/domain/release"
	"github.com/forgedist/forgedist/internal/logger"
	"github.com/forgedist/forgedist/internal/manifest"
	"github.com/forgedist/forgedist/internal/repository/blob"
	"github.com/forgedist/forgedist/internal/signing"
)

// Options contains inputs for the promoter entry point.
type Options struct {
	// ConfigPath is an optional path to the settings file.
	ConfigPath string
	// Channel is the channel to promote.
	Channel string
	// OverrideVersion promotes this staged version instead of the one the
	// release descriptor names.
	OverrideVersion string
	// ReportPath, when set, receives a YAML run report.
	ReportPath string
	// LockPath overrides the single-flight marker location.
	LockPath string
	// DryRun stops after manifest building: everything is discovered,
	// verified and signed, but nothing is written to production.
	DryRun bool
}

var errChannelRequired = errors.New("a channel is required")

// promoter walks one release through the pipeline. It is unexported;
// callers go through Run.
type promoter struct {
	cfg  *config.Config
	opts *Options
	run  *release.Run

	staging    blob.Store
	production blob.Store
	layout     manifest.Layout
	signer     signing.Signer
	verifier   *signing.Verifier

	workDir string

	rel            *release.Release
	pointerExisted bool
	pointerETag    string
	alreadyLive    bool
	downloads      []downloadedArtifact
	signatures     map[string][]byte
	doc            *manifest.Document
	manifestBytes  []byte
	manifestDigest string
	manifestSig    []byte

	copied      int
	skipped     int
	copiedBytes int64
}

// downloadedArtifact is a staged artifact verified into the work
// directory, with the transport checksum for the production upload.
type downloadedArtifact struct {
	path       string
	contentMD5 string
}

// Run promotes the staged release of a channel into production.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "forgedist-promoter")

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

	lock, err := acquireLock(ctx, lockPath(opts))
	if err != nil {
		return err
	}
	defer lock.unlock(ctx)

	p, err := newPromoter(ctx, cfg, opts)
	if err != nil {
		return fmt.Errorf("initialize promoter: %w", err)
	}
	defer p.cleanup(ctx)

	err = p.execute(ctx)

	p.writeReport(ctx)

	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Promotion completed successfully",
		"run_id", p.run.ID,
		"channel", p.run.Channel,
		"version", p.rel.Version,
		"artifacts", len(p.rel.Artifacts),
		"copied", p.copied,
		"skipped", p.skipped,
		"copied_bytes", humanize.IBytes(uint64(p.copiedBytes)),
		"duration", p.run.Duration().Round(durationPrecision).String())

	return nil
}

// newPromoter wires stores, signer and verifier from the configuration.
func newPromoter(ctx context.Context, cfg *config.Config, opts *Options) (*promoter, error) {
	client, err := blob.NewS3Client(ctx, blob.ClientParams{
		Endpoint:  cfg.Endpoint,
		Region:    cfg.Region,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
	})
	if err != nil {
		return nil, err
	}

	spec := blob.RetrySpec{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		MaxDelay: cfg.Retry.MaxDelay,
	}

	workDir, err := os.MkdirTemp("", "forgedist-promote-*")
	if err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}

	p := &promoter{
		cfg:        cfg,
		opts:       opts,
		run:        release.NewRun(opts.Channel),
		staging:    blob.NewS3Store(client, cfg.Staging.Bucket, spec),
		production: blob.NewS3Store(client, cfg.Production.Bucket, spec),
		layout: manifest.Layout{
			StagingPrefix:    cfg.Staging.Prefix,
			ProductionPrefix: cfg.Production.Prefix,
		},
		workDir:    workDir,
		signatures: make(map[string][]byte),
	}

	if err := p.initSigning(ctx); err != nil {
		_ = os.RemoveAll(workDir)
		return nil, err
	}

	return p, nil
}

// initSigning builds the signer for the configured mode and the verifier
// when a trusted public key is available.
func (p *promoter) initSigning(ctx context.Context) error {
	switch p.cfg.Signing.Mode {
	case config.SigningModeLocal:
		signer, err := signing.NewLocalSignerFromFile(p.cfg.Signing.KeyPath)
		if err != nil {
			return err
		}

		p.signer = signer
		p.verifier = signer.Verifier()
	case config.SigningModeRemote:
		signer, err := signing.NewRemoteSigner(ctx, signing.RemoteSignerParams{
			URL:           p.cfg.Signing.RemoteURL,
			Timeout:       p.cfg.Timeout,
			RetryAttempts: p.cfg.Retry.Attempts,
			RetryDelay:    p.cfg.Retry.Delay,
			RetryMaxDelay: p.cfg.Retry.MaxDelay,
		})
		if err != nil {
			return err
		}

		p.signer = signer
	default:
		return fmt.Errorf("unknown signing mode %q", p.cfg.Signing.Mode)
	}

	if p.cfg.Signing.PublicKeyPath != "" {
		verifier, err := signing.NewVerifierFromFile(p.cfg.Signing.PublicKeyPath)
		if err != nil {
			return err
		}

		if verifier.KeyID() != p.signer.KeyID() {
			return release.FatalErrorf(release.ClassSigningUnavailable,
				"trusted public key %s does not match signing key %s", verifier.KeyID(), p.signer.KeyID())
		}

		p.verifier = verifier
	}

	return nil
}

// execute walks the run through its states. The first failing step moves
// the run to failed and nothing after it executes.
func (p *promoter) execute(ctx context.Context) error {
	logger.InfoKV(ctx, "Starting promotion",
		"run_id", p.run.ID,
		"channel", p.run.Channel)

	if err := p.discover(ctx); err != nil {
		p.run.Fail(err)
		return err
	}

	if p.alreadyLive {
		logger.InfoKV(ctx, "Channel pointer already names the staged version, nothing to promote",
			"channel", p.run.Channel,
			"version", p.rel.Version)

		for _, state := range []release.State{
			release.StateVerifying,
			release.StateSigning,
			release.StateManifestBuild,
			release.StatePublishing,
			release.StateCutover,
			release.StateComplete,
		} {
			p.run.Advance(state)
		}

		return nil
	}

	steps := []struct {
		state release.State
		fn    func(context.Context) error
	}{
		{release.StateVerifying, p.verify},
		{release.StateSigning, p.sign},
		{release.StateManifestBuild, p.buildManifest},
		{release.StatePublishing, p.publish},
		{release.StateCutover, p.cutover},
	}

	for _, step := range steps {
		if p.opts.DryRun && step.state == release.StatePublishing {
			logger.InfoKV(ctx, "Dry run: skipping publish and cutover",
				"channel", p.run.Channel,
				"version", p.rel.Version,
				"artifacts", len(p.rel.Artifacts))

			return nil
		}

		p.run.Advance(step.state)

		if err := step.fn(ctx); err != nil {
			p.run.Fail(err)
			return err
		}
	}

	p.run.Advance(release.StateComplete)

	return nil
}

// cleanup removes the work directory.
func (p *promoter) cleanup(ctx context.Context) {
	if p.workDir == "" {
		return
	}

	if err := os.RemoveAll(p.workDir); err != nil {
		logger.WarnKV(ctx, "Failed to remove work directory",
			"path", p.workDir,
			"error", err)
	}
}
