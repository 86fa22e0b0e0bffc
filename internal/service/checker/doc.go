// Package checker verifies a channel's live release from the consumer
// side: the pointer must name a manifest whose digest and signature
// check out, and every artifact the manifest lists must exist with the
// declared size, digest and a valid detached signature. With a mirror
// directory set it additionally materializes the verified release on
// local disk.
package checker
