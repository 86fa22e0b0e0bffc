package blob

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // Transport checksum required by the S3 API.
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Sentinel errors surfaced by every Store implementation. They travel
// inside classified errors, so callers match them with errors.Is.
var (
	// ErrNotFound marks a missing object or bucket.
	ErrNotFound = errors.New("object not found")
	// ErrPreconditionFailed marks a conditional write losing its race.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrBadDigest marks a transport-integrity failure on upload.
	ErrBadDigest = errors.New("content md5 mismatch")
)

// MetadataSHA256 keys the artifact digest kept as user metadata on
// published objects. Re-runs read it back to skip byte-identical copies.
const MetadataSHA256 = "sha256"

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	// Key is the full object key.
	Key string
	// Size is the object length in bytes.
	Size int64
	// ETag is the store's entity tag, quotes included.
	ETag string
	// Metadata holds user metadata with lowercase keys. List omits it.
	Metadata map[string]string
}

// PutOptions control a single write.
type PutOptions struct {
	// ContentType sets the object's media type.
	ContentType string
	// ContentMD5 is the base64 MD5 of the body. The store rejects the
	// write with ErrBadDigest when the received bytes disagree.
	ContentMD5 string
	// Metadata is stored with the object under user metadata keys.
	Metadata map[string]string
	// IfMatch makes the write conditional on the current ETag.
	IfMatch string
	// IfNoneMatch set to "*" makes the write conditional on absence.
	IfNoneMatch string
}

// Store is the object storage surface the pipeline runs against. The S3
// implementation is the production path; the memory implementation backs
// unit tests.
type Store interface {
	// List returns the objects under prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// Head returns metadata for one object.
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	// Get opens an object for reading. The caller closes the body.
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)
	// Put writes an object from a rewindable body.
	Put(ctx context.Context, key string, body io.ReadSeeker, opts PutOptions) (*ObjectInfo, error)
	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
}

// IsNotFound reports whether err is a missing-object failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPreconditionFailed reports whether err is a lost conditional write.
func IsPreconditionFailed(err error) bool {
	return errors.Is(err, ErrPreconditionFailed)
}

// GetBytes reads a whole object into memory.
func GetBytes(ctx context.Context, store Store, key string) ([]byte, *ObjectInfo, error) {
	body, info, err := store.Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}

	defer func() {
		_ = body.Close()
	}()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read object %q: %w", key, err)
	}

	return data, info, nil
}

// PutBytes writes an in-memory payload.
func PutBytes(ctx context.Context, store Store, key string, data []byte, opts PutOptions) (*ObjectInfo, error) {
	return store.Put(ctx, key, bytes.NewReader(data), opts)
}

// ContentMD5 computes the base64 MD5 of data for PutOptions.ContentMD5.
func ContentMD5(data []byte) string {
	digest := md5.Sum(data) //nolint:gosec // Transport checksum, not a security boundary.

	return base64.StdEncoding.EncodeToString(digest[:])
}

// ETagFor computes the entity tag S3 assigns a single-part upload of
// data, quotes included. Comparing it against a stored object's ETag
// detects byte-identical content without a download.
func ETagFor(data []byte) string {
	digest := md5.Sum(data) //nolint:gosec // S3 entity tags are MD5 by definition.

	return `"` + hex.EncodeToString(digest[:]) + `"`
}

// SameETag compares two entity tags ignoring surrounding quotes.
func SameETag(a, b string) bool {
	return strings.Trim(a, `"`) == strings.Trim(b, `"`)
}

// RetrySpec bounds the retry loop wrapped around transient store failures.
type RetrySpec struct {
	// Attempts is the total number of tries, first call included.
	Attempts int
	// Delay seeds the backoff; it doubles per attempt up to MaxDelay.
	Delay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
}

// Retry defaults, used when a RetrySpec field is zero.
const (
	DefaultRetryAttempts = 4
	DefaultRetryDelay    = 500 * time.Millisecond
	DefaultRetryMaxDelay = 8 * time.Second
)

func (r RetrySpec) normalized() RetrySpec {
	if r.Attempts <= 0 {
		r.Attempts = DefaultRetryAttempts
	}

	if r.Delay <= 0 {
		r.Delay = DefaultRetryDelay
	}

	if r.MaxDelay <= 0 {
		r.MaxDelay = DefaultRetryMaxDelay
	}

	return r
}
