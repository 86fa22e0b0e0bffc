package promoter

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/forgedist/forgedist/internal/domain/release"
	"github.com/forgedist/forgedist/internal/logger"
	"github.com/forgedist/forgedist/internal/manifest"
	"github.com/forgedist/forgedist/internal/repository/blob"
)

// discover resolves which version is staged for the channel, records the
// production pointer state the cutover will later compare against, and
// collects the staged artifacts with their declared checksums. When the
// pointer already names the staged version the walk ends here: the
// release is live and there is nothing left to copy or sign.
func (p *promoter) discover(ctx context.Context) error {
	logger.InfoKV(ctx, "Discovering staged release", "channel", p.run.Channel)

	version, date, err := p.resolveVersion(ctx)
	if err != nil {
		return err
	}

	if err := p.observePointer(ctx, version); err != nil {
		return err
	}

	if p.alreadyLive {
		p.rel = &release.Release{Version: version, Date: date}
		p.run.Release = p.rel

		return nil
	}

	artifacts, err := p.collectArtifacts(ctx, version)
	if err != nil {
		return err
	}

	p.rel = &release.Release{
		Version:   version,
		Date:      date,
		Artifacts: artifacts,
	}
	p.run.Release = p.rel

	logger.InfoKV(ctx, "Staged release discovered",
		"channel", p.run.Channel,
		"version", version,
		"date", date,
		"artifacts", len(artifacts),
		"pointer_exists", p.pointerExisted)

	return nil
}

// resolveVersion reads the staging descriptor and applies the version
// override, when one is given.
func (p *promoter) resolveVersion(ctx context.Context) (version, date string, err error) {
	key := p.layout.StagingDescriptor(p.run.Channel)

	data, _, err := blob.GetBytes(ctx, p.staging, key)
	if blob.IsNotFound(err) {
		if p.opts.OverrideVersion == "" {
			return "", "", release.Errorf(release.ClassNotFound,
				"channel %s has no staged release descriptor at %s", p.run.Channel, key)
		}

		// No descriptor, but an explicit version. Nightly versions double
		// as release dates; anything else leaves the date unknowable.
		version = p.opts.OverrideVersion
		if !manifest.IsDate(version) {
			return "", "", release.FatalErrorf(release.ClassIncompleteRelease,
				"cannot derive a release date for overridden version %s without a staged descriptor", version)
		}

		logger.WarnKV(ctx, "No release descriptor, promoting overridden version",
			"channel", p.run.Channel,
			"version", version)

		return version, version, nil
	}

	if err != nil {
		return "", "", fmt.Errorf("read release descriptor: %w", err)
	}

	descriptor, err := manifest.DecodeDescriptor(data)
	if err != nil {
		return "", "", release.FatalErrorf(release.ClassIncompleteRelease,
			"malformed release descriptor %s: %v", key, err)
	}

	version, date = descriptor.Version, descriptor.Date

	if p.opts.OverrideVersion != "" && p.opts.OverrideVersion != version {
		logger.WarnKV(ctx, "Promoting overridden version instead of descriptor version",
			"channel", p.run.Channel,
			"descriptor_version", version,
			"override_version", p.opts.OverrideVersion)

		version = p.opts.OverrideVersion
		if manifest.IsDate(version) {
			date = version
		}
	}

	return version, date, nil
}

// collectArtifacts lists the staged version tree and pairs every
// artifact with the digest its checksum companion declares.
func (p *promoter) collectArtifacts(ctx context.Context, version string) ([]release.Artifact, error) {
	root := p.layout.StagingVersionRoot(p.run.Channel, version)

	infos, err := p.staging.List(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("list staged artifacts: %w", err)
	}

	objects := make(map[string]blob.ObjectInfo, len(infos))

	for _, info := range infos {
		name := strings.TrimPrefix(info.Key, root)
		if name == "" || strings.Contains(name, "/") {
			continue
		}

		objects[name] = info
	}

	names := make([]string, 0, len(objects))

	for name := range objects {
		if manifest.IsCompanion(name) {
			continue
		}

		names = append(names, name)
	}

	sort.Strings(names)

	if len(names) == 0 {
		return nil, release.Errorf(release.ClassNotFound,
			"no artifacts staged for channel %s version %s", p.run.Channel, version)
	}

	artifacts := make([]release.Artifact, 0, len(names))

	for _, name := range names {
		info := objects[name]

		checksumName := name + manifest.ChecksumSuffix
		if _, ok := objects[checksumName]; !ok {
			return nil, release.FatalErrorf(release.ClassIncompleteRelease,
				"staged artifact %s has no %s companion", name, manifest.ChecksumSuffix)
		}

		data, _, err := blob.GetBytes(ctx, p.staging, root+checksumName)
		if err != nil {
			return nil, fmt.Errorf("read checksum companion for %s: %w", name, err)
		}

		digest, err := release.ParseChecksumFile(data, name)
		if err != nil {
			return nil, release.FatalErrorf(release.ClassIncompleteRelease,
				"checksum companion for %s: %v", name, err)
		}

		artifacts = append(artifacts, release.NewArtifact(name, info.Size, digest))
	}

	return artifacts, nil
}

// observePointer reads the channel pointer before any work happens. The
// entity tag feeds the conditional cutover, so a promotion racing us
// surfaces as a conflict instead of a silent overwrite. A pointer that
// already names the staged version marks the run as a no-op.
func (p *promoter) observePointer(ctx context.Context, version string) error {
	data, info, err := blob.GetBytes(ctx, p.production, p.layout.Pointer(p.run.Channel))

	switch {
	case blob.IsNotFound(err):
		return nil
	case err != nil:
		return fmt.Errorf("inspect channel pointer: %w", err)
	}

	p.pointerExisted = true
	p.pointerETag = info.ETag

	pointer, err := manifest.DecodePointer(data)
	if err != nil {
		// An unreadable pointer does not block promotion. The conditional
		// cutover still guards the replacement.
		logger.WarnKV(ctx, "Channel pointer is unreadable, promotion will replace it",
			"channel", p.run.Channel,
			"error", err)

		return nil
	}

	p.alreadyLive = pointer.Version == version

	return nil
}
