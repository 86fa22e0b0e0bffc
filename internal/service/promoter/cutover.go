package promoter

import (
	"bytes"
	"context"
	"fmt"

	"github.com/forgedist/forgedist/internal/domain/release"
	"github.com/forgedist/forgedist/internal/logger"
	"github.com/forgedist/forgedist/internal/manifest"
	"github.com/forgedist/forgedist/internal/repository/blob"
)

// cutover records the promotion in the channel history and then flips
// the channel pointer. The pointer is the last write of the pipeline:
// until it lands, installers keep resolving the previous release.
func (p *promoter) cutover(ctx context.Context) error {
	pointer := manifest.NewPointer(p.doc, p.layout.Manifest(p.rel.Version, p.run.Channel), p.manifestDigest)

	data, err := pointer.Encode()
	if err != nil {
		return fmt.Errorf("encode channel pointer: %w", err)
	}

	if err := p.recordHistory(ctx, data); err != nil {
		return err
	}

	return p.flipPointer(ctx, data)
}

// recordHistory keeps a per-version trail of what went live on the
// channel. It is written before the pointer so the history never lags
// the live state.
func (p *promoter) recordHistory(ctx context.Context, data []byte) error {
	key := p.layout.History(p.run.Channel, p.rel.Version)

	wrote, err := p.putDocument(ctx, key, data, false)
	if err != nil {
		return fmt.Errorf("record channel history: %w", err)
	}

	if wrote {
		logger.InfoKV(ctx, "Channel history recorded", "key", key)
	}

	return nil
}

// flipPointer replaces the channel pointer with a write conditional on
// the state observed at discovery. Losing that race surfaces as a
// cutover conflict, never as a silent overwrite.
func (p *promoter) flipPointer(ctx context.Context, data []byte) error {
	key := p.layout.Pointer(p.run.Channel)

	current, _, err := blob.GetBytes(ctx, p.production, key)

	switch {
	case err == nil:
		if bytes.Equal(current, data) {
			logger.InfoKV(ctx, "Channel pointer already current",
				"key", key,
				"version", p.rel.Version)

			return nil
		}
	case blob.IsNotFound(err):
	default:
		return fmt.Errorf("read channel pointer: %w", err)
	}

	opts := blob.PutOptions{
		ContentType: "application/yaml",
		ContentMD5:  blob.ContentMD5(data),
	}

	if p.pointerExisted {
		opts.IfMatch = p.pointerETag
	} else {
		opts.IfNoneMatch = "*"
	}

	if _, err := blob.PutBytes(ctx, p.production, key, data, opts); err != nil {
		if blob.IsPreconditionFailed(err) {
			return release.FatalErrorf(release.ClassCutoverConflict,
				"channel pointer for %s changed since discovery, another promotion ran: %w", p.run.Channel, err)
		}

		return fmt.Errorf("write channel pointer: %w", err)
	}

	logger.InfoKV(ctx, "Channel pointer updated",
		"key", key,
		"channel", p.run.Channel,
		"version", p.rel.Version)

	return nil
}
