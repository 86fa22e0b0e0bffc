// Package blob abstracts the object stores the pipeline reads staged
// artifacts from and publishes releases to. The S3 implementation retries
// transient failures with doubling backoff and maps store errors onto the
// promotion failure taxonomy; the memory implementation reproduces the
// same semantics in-process for tests.
package blob
