package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/forgedist/forgedist/internal/domain/release"
	"github.com/forgedist/forgedist/internal/logger"
)

// ClientParams configure the S3 client. An empty Endpoint targets AWS
// proper; a non-empty one (the local emulator, a MinIO) switches the
// client to path-style addressing against that URL.
type ClientParams struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// NewS3Client builds an S3 client for params.
func NewS3Client(ctx context.Context, params ClientParams) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(params.Region),
	}

	if params.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(params.AccessKey, params.SecretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if params.Endpoint != "" {
			o.BaseEndpoint = aws.String(params.Endpoint)
			o.UsePathStyle = true
		}

		// Plain Content-MD5 instead of flexible-checksum trailers keeps
		// uploads verifiable by any S3-compatible store.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return client, nil
}

// S3Store is the Store implementation over a single S3 bucket. Transient
// failures are retried with doubling backoff before they surface.
type S3Store struct {
	client *s3.Client
	bucket string
	retry  RetrySpec
	clock  clock.Clock
}

// NewS3Store wraps an S3 client and bucket as a Store.
func NewS3Store(client *s3.Client, bucket string, spec RetrySpec) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		retry:  spec.normalized(),
		clock:  clock.WallClock,
	}
}

// Bucket returns the bucket this store writes to.
func (s *S3Store) Bucket() string {
	return s.bucket
}

// List returns the objects under prefix in key order, walking every page.
func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	err := s.call(ctx, "list", prefix, func() error {
		objects = objects[:0]

		paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(prefix),
		})

		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return s.classify("list", prefix, err)
			}

			for _, object := range page.Contents {
				objects = append(objects, ObjectInfo{
					Key:  aws.ToString(object.Key),
					Size: aws.ToInt64(object.Size),
					ETag: aws.ToString(object.ETag),
				})
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return objects, nil
}

// Head returns metadata for one object.
func (s *S3Store) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	var info *ObjectInfo

	err := s.call(ctx, "head", key, func() error {
		out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return s.classify("head", key, err)
		}

		info = &ObjectInfo{
			Key:      key,
			Size:     aws.ToInt64(out.ContentLength),
			ETag:     aws.ToString(out.ETag),
			Metadata: lowercaseKeys(out.Metadata),
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return info, nil
}

// Get opens an object for reading. Only the open is retried; the caller
// owns the returned body.
func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	var (
		body io.ReadCloser
		info *ObjectInfo
	)

	err := s.call(ctx, "get", key, func() error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return s.classify("get", key, err)
		}

		body = out.Body
		info = &ObjectInfo{
			Key:      key,
			Size:     aws.ToInt64(out.ContentLength),
			ETag:     aws.ToString(out.ETag),
			Metadata: lowercaseKeys(out.Metadata),
		}

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return body, info, nil
}

// Put writes an object, rewinding the body before each attempt.
func (s *S3Store) Put(ctx context.Context, key string, body io.ReadSeeker, opts PutOptions) (*ObjectInfo, error) {
	size, err := body.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to size body for %q: %w", key, err)
	}

	var info *ObjectInfo

	err = s.call(ctx, "put", key, func() error {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return release.FatalErrorf(release.ClassInternal, "failed to rewind body for %q: %w", key, err)
		}

		input := &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          body,
			ContentLength: aws.Int64(size),
		}

		if opts.ContentType != "" {
			input.ContentType = aws.String(opts.ContentType)
		}

		if opts.ContentMD5 != "" {
			input.ContentMD5 = aws.String(opts.ContentMD5)
		}

		if len(opts.Metadata) > 0 {
			input.Metadata = opts.Metadata
		}

		if opts.IfMatch != "" {
			input.IfMatch = aws.String(opts.IfMatch)
		}

		if opts.IfNoneMatch != "" {
			input.IfNoneMatch = aws.String(opts.IfNoneMatch)
		}

		out, err := s.client.PutObject(ctx, input)
		if err != nil {
			return s.classify("put", key, err)
		}

		info = &ObjectInfo{
			Key:      key,
			Size:     size,
			ETag:     aws.ToString(out.ETag),
			Metadata: lowercaseKeys(opts.Metadata),
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return info, nil
}

// Delete removes an object. A missing object is not an error.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	err := s.call(ctx, "delete", key, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return s.classify("delete", key, err)
		}

		return nil
	})
	if err != nil && !IsNotFound(err) {
		return err
	}

	return nil
}

// call runs fn under the store's retry policy. Only errors classified as
// transient are retried; everything else stops the loop at once.
func (s *S3Store) call(ctx context.Context, op, key string, fn func() error) error {
	err := retry.Call(retry.CallArgs{
		Func: fn,
		IsFatalError: func(err error) bool {
			return release.ClassOf(err) != release.ClassStoreTransient
		},
		NotifyFunc: func(err error, attempt int) {
			logger.WarnKV(ctx, "Store operation failed, retrying",
				"op", op,
				"bucket", s.bucket,
				"key", key,
				"attempt", attempt,
				"error", err)
		},
		Attempts:    s.retry.Attempts,
		Delay:       s.retry.Delay,
		MaxDelay:    s.retry.MaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       s.clock,
		Stop:        ctx.Done(),
	})
	if err == nil {
		return nil
	}

	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		return retry.LastError(err)
	}

	return err
}

// classify maps an SDK error onto the failure taxonomy. Unrecognized
// transport errors count as transient; the retry loop bounds the damage
// when they are not.
func (s *S3Store) classify(op, key string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var (
		noSuchKey    *types.NoSuchKey
		noSuchBucket *types.NoSuchBucket
		headMissing  *types.NotFound
	)

	if errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) || errors.As(err, &headMissing) {
		return release.Errorf(release.ClassNotFound, "%s %s/%s: %w", op, s.bucket, key, ErrNotFound)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return release.Errorf(release.ClassNotFound, "%s %s/%s: %w", op, s.bucket, key, ErrNotFound)
		case "PreconditionFailed", "ConditionalRequestConflict":
			return fmt.Errorf("%s %s/%s: %w", op, s.bucket, key, ErrPreconditionFailed)
		case "BadDigest":
			return release.Errorf(release.ClassStoreTransient, "%s %s/%s: %w", op, s.bucket, key, ErrBadDigest)
		case "SlowDown", "Throttling", "ThrottlingException", "RequestThrottled",
			"RequestTimeout", "InternalError", "ServiceUnavailable":
			return release.Errorf(release.ClassStoreTransient, "%s %s/%s: %w", op, s.bucket, key, err)
		}

		if apiErr.ErrorFault() == smithy.FaultServer {
			return release.Errorf(release.ClassStoreTransient, "%s %s/%s: %w", op, s.bucket, key, err)
		}

		return release.FatalErrorf(release.ClassInternal, "%s %s/%s: %w", op, s.bucket, key, err)
	}

	// Refused connections, resets and timeouts never reach the API error
	// layer.
	return release.Errorf(release.ClassStoreTransient, "%s %s/%s: %w", op, s.bucket, key, err)
}

func lowercaseKeys(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}

	out := make(map[string]string, len(metadata))
	for key, value := range metadata {
		out[strings.ToLower(key)] = value
	}

	return out
}
