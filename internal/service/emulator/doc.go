// Package emulator serves an in-memory S3-compatible object store for
// local promotion runs and the integration tests. It speaks the subset of
// the protocol the pipeline exercises: object get, put, head, delete and
// V2 listings, with MD5 ETags, Content-MD5 validation, user metadata and
// conditional writes. Buckets appear on first use and nothing persists.
package emulator
