package promoter

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgedist/forgedist/internal/config"
	"github.com/forgedist/forgedist/internal/domain/release"
	"github.com/forgedist/forgedist/internal/manifest"
	"github.com/forgedist/forgedist/internal/repository/blob"
	"github.com/forgedist/forgedist/internal/signing"
)

// harness is a promoter wired to in-memory stores and a throwaway key.
type harness struct {
	p          *promoter
	staging    *blob.MemoryStore
	production *blob.MemoryStore
	signer     *signing.LocalSigner
}

func newHarness(t *testing.T, channel string) *harness {
	t.Helper()

	keypair, err := signing.Generate()
	require.NoError(t, err)

	signer := signing.NewLocalSigner(keypair)

	cfg := &config.Config{
		Staging:         config.StoreConfig{Bucket: "forgedist-staging", Prefix: config.DefaultStagingPrefix},
		Production:      config.StoreConfig{Bucket: "forgedist-production"},
		Channels:        config.DefaultChannels,
		CopyConcurrency: 2,
	}

	h := &harness{
		staging:    blob.NewMemoryStore(),
		production: blob.NewMemoryStore(),
		signer:     signer,
	}

	h.p = &promoter{
		cfg:  cfg,
		opts: &Options{Channel: channel},
		run:  release.NewRun(channel),
		layout: manifest.Layout{
			StagingPrefix: cfg.Staging.Prefix,
		},
		staging:    h.staging,
		production: h.production,
		signer:     signer,
		verifier:   signer.Verifier(),
		workDir:    t.TempDir(),
		signatures: make(map[string][]byte),
	}

	return h
}

// reset returns a fresh promoter over the same stores and key, as a
// separate process re-running the promotion would see them.
func (h *harness) reset(t *testing.T) {
	t.Helper()

	previous := h.p
	h.p = &promoter{
		cfg:        previous.cfg,
		opts:       &Options{Channel: previous.opts.Channel},
		run:        release.NewRun(previous.opts.Channel),
		layout:     previous.layout,
		staging:    h.staging,
		production: h.production,
		signer:     h.signer,
		verifier:   previous.verifier,
		workDir:    t.TempDir(),
		signatures: make(map[string][]byte),
	}
}

// stage uploads artifacts with checksum companions and a release
// descriptor, the way CI leaves a channel ready for promotion.
func (h *harness) stage(t *testing.T, version, date string, names ...string) map[string][]byte {
	t.Helper()

	ctx := context.Background()
	payloads := make(map[string][]byte, len(names))

	for i, name := range names {
		payload := []byte(fmt.Sprintf("payload of %s build %d for %s", name, i, version))
		payloads[name] = payload

		key := h.p.layout.StagingArtifact(h.p.opts.Channel, version, name)

		_, err := blob.PutBytes(ctx, h.staging, key, payload, blob.PutOptions{})
		require.NoError(t, err)

		checksum := release.FormatChecksumFile(release.SumBytes(payload), name)
		_, err = blob.PutBytes(ctx, h.staging, key+manifest.ChecksumSuffix, checksum, blob.PutOptions{})
		require.NoError(t, err)
	}

	descriptor := manifest.Descriptor{Version: version, Date: date}
	data, err := descriptor.Encode()
	require.NoError(t, err)

	_, err = blob.PutBytes(ctx, h.staging, h.p.layout.StagingDescriptor(h.p.opts.Channel), data, blob.PutOptions{})
	require.NoError(t, err)

	return payloads
}

func TestExecutePromotesStagedRelease(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, release.ChannelNightly)
	payloads := h.stage(t, "2026-01-02", "2026-01-02",
		"rustc-2026-01-02-x86_64-unknown-linux-gnu.tar.gz",
		"cargo-2026-01-02-aarch64-apple-darwin.tar.gz")

	require.NoError(t, h.p.execute(ctx))
	require.Equal(t, release.StateComplete, h.p.run.State)
	require.Equal(t, 2, h.p.copied)
	require.Zero(t, h.p.skipped)

	for name, payload := range payloads {
		key := h.p.layout.ProductionArtifact("2026-01-02", name)

		data, info, err := blob.GetBytes(ctx, h.production, key)
		require.NoError(t, err)
		require.Equal(t, payload, data)
		require.Equal(t, release.SumBytes(payload), info.Metadata[blob.MetadataSHA256])

		checksum, _, err := blob.GetBytes(ctx, h.production, key+manifest.ChecksumSuffix)
		require.NoError(t, err)

		digest, err := release.ParseChecksumFile(checksum, name)
		require.NoError(t, err)
		require.Equal(t, release.SumBytes(payload), digest)

		signature, _, err := blob.GetBytes(ctx, h.production, key+manifest.SignatureSuffix)
		require.NoError(t, err)
		require.NoError(t, h.p.verifier.Verify(payload, signature))
	}

	manifestKey := h.p.layout.Manifest("2026-01-02", release.ChannelNightly)

	manifestData, _, err := blob.GetBytes(ctx, h.production, manifestKey)
	require.NoError(t, err)

	doc, err := manifest.Decode(manifestData)
	require.NoError(t, err)
	require.Equal(t, "2026-01-02", doc.Version)
	require.Len(t, doc.Artifacts, 2)

	manifestSig, _, err := blob.GetBytes(ctx, h.production, manifestKey+manifest.SignatureSuffix)
	require.NoError(t, err)
	require.NoError(t, h.p.verifier.Verify(manifestData, manifestSig))

	pointerData, _, err := blob.GetBytes(ctx, h.production, h.p.layout.Pointer(release.ChannelNightly))
	require.NoError(t, err)

	pointer, err := manifest.DecodePointer(pointerData)
	require.NoError(t, err)
	require.Equal(t, "2026-01-02", pointer.Version)
	require.Equal(t, manifestKey, pointer.ManifestPath)
	require.Equal(t, release.SumBytes(manifestData), pointer.ManifestSHA256)

	history, _, err := blob.GetBytes(ctx, h.production, h.p.layout.History(release.ChannelNightly, "2026-01-02"))
	require.NoError(t, err)
	require.Equal(t, pointerData, history)
}

func TestExecuteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, release.ChannelNightly)
	h.stage(t, "2026-01-02", "2026-01-02",
		"rustc-2026-01-02-x86_64-unknown-linux-gnu.tar.gz",
		"rust-std-2026-01-02-wasm32-unknown-unknown.tar.gz")

	require.NoError(t, h.p.execute(ctx))

	writes := h.production.PutCount()
	require.Positive(t, writes)

	// The pointer already names the staged version, so the re-run ends
	// at discovery without copying or signing anything.
	h.reset(t)
	require.NoError(t, h.p.execute(ctx))
	require.Equal(t, release.StateComplete, h.p.run.State)
	require.True(t, h.p.alreadyLive)
	require.Zero(t, h.p.copied)
	require.Zero(t, h.p.skipped)
	require.Equal(t, writes, h.production.PutCount(), "re-run must not write anything")
}

func TestExecuteReRunSurvivesStagingCleanup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, release.ChannelNightly)
	h.stage(t, "2026-01-02", "2026-01-02", "rustc-2026-01-02-x86_64-unknown-linux-gnu.tar.gz")

	require.NoError(t, h.p.execute(ctx))

	// CI wipes the staged artifact tree after a successful promotion,
	// leaving only the descriptor. A re-run still reports success.
	root := h.p.layout.StagingVersionRoot(release.ChannelNightly, "2026-01-02")
	infos, err := h.staging.List(ctx, root)
	require.NoError(t, err)
	require.NotEmpty(t, infos)

	for _, info := range infos {
		require.NoError(t, h.staging.Delete(ctx, info.Key))
	}

	h.reset(t)
	require.NoError(t, h.p.execute(ctx))
	require.Equal(t, release.StateComplete, h.p.run.State)
	require.Equal(t, "2026-01-02", h.p.rel.Version)
}

func TestExecuteResumesInterruptedPublish(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, release.ChannelNightly)
	h.stage(t, "2026-01-02", "2026-01-02",
		"rustc-2026-01-02-x86_64-unknown-linux-gnu.tar.gz",
		"cargo-2026-01-02-x86_64-unknown-linux-gnu.tar.gz")

	require.NoError(t, h.p.execute(ctx))

	// Interruption modeled after the fact: one artifact and the pointer
	// never made it.
	lost := h.p.layout.ProductionArtifact("2026-01-02", "cargo-2026-01-02-x86_64-unknown-linux-gnu.tar.gz")
	require.NoError(t, h.production.Delete(ctx, lost))
	require.NoError(t, h.production.Delete(ctx, h.p.layout.Pointer(release.ChannelNightly)))

	h.reset(t)
	require.NoError(t, h.p.execute(ctx))
	require.Equal(t, 1, h.p.copied)
	require.Equal(t, 1, h.p.skipped)

	_, _, err := blob.GetBytes(ctx, h.production, lost)
	require.NoError(t, err)

	pointerData, _, err := blob.GetBytes(ctx, h.production, h.p.layout.Pointer(release.ChannelNightly))
	require.NoError(t, err)

	pointer, err := manifest.DecodePointer(pointerData)
	require.NoError(t, err)
	require.Equal(t, "2026-01-02", pointer.Version)
}

func TestExecuteFailsOnCorruptedStagedArtifact(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, release.ChannelNightly)
	h.stage(t, "2026-01-02", "2026-01-02", "rustc-2026-01-02-x86_64-unknown-linux-gnu.tar.gz")

	key := h.p.layout.StagingArtifact(release.ChannelNightly, "2026-01-02",
		"rustc-2026-01-02-x86_64-unknown-linux-gnu.tar.gz")
	_, err := blob.PutBytes(ctx, h.staging, key, []byte("tampered bytes of the same length??"), blob.PutOptions{})
	require.NoError(t, err)

	err = h.p.execute(ctx)
	require.Error(t, err)
	require.Equal(t, release.ClassIntegrityViolation, release.ClassOf(err))
	require.Equal(t, release.StateFailed, h.p.run.State)

	// Nothing may reach production when verification fails.
	require.Zero(t, h.production.PutCount())
}

func TestExecuteFailsWithoutChecksumCompanion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, release.ChannelNightly)
	h.stage(t, "2026-01-02", "2026-01-02", "rustc-2026-01-02-x86_64-unknown-linux-gnu.tar.gz")

	key := h.p.layout.StagingArtifact(release.ChannelNightly, "2026-01-02",
		"rustc-2026-01-02-x86_64-unknown-linux-gnu.tar.gz")
	require.NoError(t, h.staging.Delete(ctx, key+manifest.ChecksumSuffix))

	err := h.p.execute(ctx)
	require.Error(t, err)
	require.Equal(t, release.ClassIncompleteRelease, release.ClassOf(err))
	require.False(t, release.IsTransient(err))
}

func TestExecuteFailsWithoutDescriptor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, release.ChannelNightly)

	err := h.p.execute(ctx)
	require.Error(t, err)
	require.Equal(t, release.ClassNotFound, release.ClassOf(err))
	require.True(t, release.IsTransient(err), "CI may simply not have staged yet")
}

func TestExecuteRefusesToOverwritePublishedArtifact(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, release.ChannelNightly)
	h.stage(t, "2026-01-02", "2026-01-02", "rustc-2026-01-02-x86_64-unknown-linux-gnu.tar.gz")

	key := h.p.layout.ProductionArtifact("2026-01-02", "rustc-2026-01-02-x86_64-unknown-linux-gnu.tar.gz")
	_, err := blob.PutBytes(ctx, h.production, key, []byte("somebody else's bytes"), blob.PutOptions{})
	require.NoError(t, err)

	err = h.p.execute(ctx)
	require.Error(t, err)
	require.Equal(t, release.ClassIntegrityViolation, release.ClassOf(err))

	_, err = h.production.Head(ctx, h.p.layout.Pointer(release.ChannelNightly))
	require.True(t, blob.IsNotFound(err), "failed promotion must not move the pointer")
}

func TestExecuteDetectsConcurrentCutover(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, release.ChannelNightly)
	h.stage(t, "2026-01-02", "2026-01-02", "rustc-2026-01-02-x86_64-unknown-linux-gnu.tar.gz")

	require.NoError(t, h.p.execute(ctx))

	h.stage(t, "2026-01-03", "2026-01-03", "rustc-2026-01-03-x86_64-unknown-linux-gnu.tar.gz")
	h.reset(t)

	require.NoError(t, h.p.discover(ctx))
	require.NoError(t, h.p.verify(ctx))
	require.NoError(t, h.p.sign(ctx))
	require.NoError(t, h.p.buildManifest(ctx))
	require.NoError(t, h.p.publish(ctx))

	// Another promotion flips the pointer between our discovery and
	// cutover.
	_, err := blob.PutBytes(ctx, h.production, h.p.layout.Pointer(release.ChannelNightly),
		[]byte("channel: nightly\nversion: 2026-01-02.1\n"), blob.PutOptions{})
	require.NoError(t, err)

	err = h.p.cutover(ctx)
	require.Error(t, err)
	require.Equal(t, release.ClassCutoverConflict, release.ClassOf(err))
	require.False(t, release.IsTransient(err))
}

func TestExecuteDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, release.ChannelNightly)
	h.stage(t, "2026-01-02", "2026-01-02", "rustc-2026-01-02-x86_64-unknown-linux-gnu.tar.gz")

	h.p.opts.DryRun = true

	require.NoError(t, h.p.execute(ctx))
	require.Equal(t, release.StateManifestBuild, h.p.run.State)
	require.NotEmpty(t, h.p.manifestBytes)
	require.Zero(t, h.production.PutCount())
}

func TestExecuteHonorsVersionOverride(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, release.ChannelNightly)
	h.stage(t, "2026-01-01", "2026-01-01", "rustc-2026-01-01-x86_64-unknown-linux-gnu.tar.gz")
	h.stage(t, "2026-01-02", "2026-01-02", "rustc-2026-01-02-x86_64-unknown-linux-gnu.tar.gz")

	h.p.opts.OverrideVersion = "2026-01-01"

	require.NoError(t, h.p.execute(ctx))

	pointerData, _, err := blob.GetBytes(ctx, h.production, h.p.layout.Pointer(release.ChannelNightly))
	require.NoError(t, err)

	pointer, err := manifest.DecodePointer(pointerData)
	require.NoError(t, err)
	require.Equal(t, "2026-01-01", pointer.Version)
	require.Equal(t, "2026-01-01", pointer.Date)
}

func TestEnsureSignature(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, release.ChannelNightly)
	h.p.rel = &release.Release{Version: "2026-01-02"}

	payload := []byte("artifact payload")
	name := "rustc-2026-01-02-x86_64-unknown-linux-gnu.tar.gz"
	sigKey := h.p.layout.StagingArtifact(release.ChannelNightly, "2026-01-02", name+manifest.SignatureSuffix)

	t.Run("signs when staging has no signature", func(t *testing.T) {
		signature, fresh, err := h.p.ensureSignature(ctx, name, payload)
		require.NoError(t, err)
		require.True(t, fresh)
		require.NoError(t, h.p.verifier.Verify(payload, signature))
	})

	t.Run("reuses valid staged signature", func(t *testing.T) {
		raw, err := h.signer.Sign(ctx, payload)
		require.NoError(t, err)

		staged := signing.EncodeSignature(h.signer.KeyID(), raw)
		_, err = blob.PutBytes(ctx, h.staging, sigKey, staged, blob.PutOptions{})
		require.NoError(t, err)

		signature, fresh, err := h.p.ensureSignature(ctx, name, payload)
		require.NoError(t, err)
		require.False(t, fresh)
		require.True(t, bytes.Equal(staged, signature))
	})

	t.Run("re-signs when staged signature is from another key", func(t *testing.T) {
		foreign, err := signing.Generate()
		require.NoError(t, err)

		raw, err := signing.NewLocalSigner(foreign).Sign(ctx, payload)
		require.NoError(t, err)

		_, err = blob.PutBytes(ctx, h.staging, sigKey,
			signing.EncodeSignature(foreign.KeyID(), raw), blob.PutOptions{})
		require.NoError(t, err)

		signature, fresh, err := h.p.ensureSignature(ctx, name, payload)
		require.NoError(t, err)
		require.True(t, fresh)
		require.NoError(t, h.p.verifier.Verify(payload, signature))
	})

	t.Run("re-signs when staged signature does not verify", func(t *testing.T) {
		bogus := signing.EncodeSignature(h.signer.KeyID(), make([]byte, 64))
		_, err := blob.PutBytes(ctx, h.staging, sigKey, bogus, blob.PutOptions{})
		require.NoError(t, err)

		signature, fresh, err := h.p.ensureSignature(ctx, name, payload)
		require.NoError(t, err)
		require.True(t, fresh)
		require.NoError(t, h.p.verifier.Verify(payload, signature))
	})
}

func TestBuildReportAfterFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, release.ChannelNightly)
	h.stage(t, "2026-01-02", "2026-01-02", "rustc-2026-01-02-x86_64-unknown-linux-gnu.tar.gz")

	key := h.p.layout.StagingArtifact(release.ChannelNightly, "2026-01-02",
		"rustc-2026-01-02-x86_64-unknown-linux-gnu.tar.gz")
	_, err := blob.PutBytes(ctx, h.staging, key, []byte("tampered"), blob.PutOptions{})
	require.NoError(t, err)

	require.Error(t, h.p.execute(ctx))

	report := h.p.buildReport()
	require.Equal(t, h.p.run.ID, report.RunID)
	require.Equal(t, string(release.StateFailed), report.State)
	require.Equal(t, string(release.ClassIntegrityViolation), report.ErrorClass)
	require.NotEmpty(t, report.Error)
	require.NotEmpty(t, report.FinishedAt)
}
