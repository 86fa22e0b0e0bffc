// Package signing attaches and verifies the detached Ed25519 signatures
// that travel next to published artifacts and manifests. Signatures are
// two-line files in the signify style: an untrusted comment naming the
// key, then the raw signature in base64. Signing is deterministic, so
// re-signing published bytes never changes them.
package signing
