package emulator

import (
	"crypto/md5" //nolint:gosec // ETag computation mirrors S3.
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
)

// object is one stored blob with the headers S3 would replay.
type object struct {
	data        []byte
	etag        string
	contentType string
	metadata    map[string]string
	modified    time.Time
}

// bucket holds a flat keyspace.
type bucket struct {
	objects map[string]object
}

// Backend is the in-memory object store behind the emulator. Buckets
// spring into existence on first use; nothing survives a restart.
type Backend struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewBackend returns an empty store.
func NewBackend() *Backend {
	return &Backend{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (b *Backend) bucket(name string) *bucket {
	bkt, ok := b.buckets[name]
	if !ok {
		bkt = &bucket{objects: make(map[string]object)}
		b.buckets[name] = bkt
	}

	return bkt
}

type putConditions struct {
	ifMatch     string
	ifNoneMatch string
}

type putResult int

const (
	putOK putResult = iota
	putPreconditionFailed
)

// put stores an object, enforcing conditional-write semantics.
func (b *Backend) put(bucketName, key string, data []byte, contentType string,
	metadata map[string]string, cond putConditions,
) (string, putResult) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bkt := b.bucket(bucketName)
	existing, exists := bkt.objects[key]

	if cond.ifNoneMatch == "*" && exists {
		return "", putPreconditionFailed
	}

	if cond.ifMatch != "" {
		if !exists || trimQuotes(existing.etag) != trimQuotes(cond.ifMatch) {
			return "", putPreconditionFailed
		}
	}

	stored := object{
		data:        data,
		etag:        etagFor(data),
		contentType: contentType,
		metadata:    metadata,
		modified:    b.now().UTC(),
	}
	bkt.objects[key] = stored

	return stored.etag, putOK
}

// get returns a copy of an object.
func (b *Backend) get(bucketName, key string) (object, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bkt, ok := b.buckets[bucketName]
	if !ok {
		return object{}, false
	}

	obj, ok := bkt.objects[key]
	if !ok {
		return object{}, false
	}

	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	obj.data = data

	return obj, true
}

// delete removes an object if present.
func (b *Backend) delete(bucketName, key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bkt, ok := b.buckets[bucketName]; ok {
		delete(bkt.objects, key)
	}
}

// listEntry is one row of a listing.
type listEntry struct {
	key      string
	size     int64
	etag     string
	modified time.Time
}

// list returns up to maxKeys entries under prefix, in key order, starting
// after the key encoded by the continuation token. The second return is
// the next continuation token, empty when the listing is complete.
func (b *Backend) list(bucketName, prefix, startAfter string, maxKeys int) ([]listEntry, string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bkt, ok := b.buckets[bucketName]
	if !ok {
		return nil, ""
	}

	keys := make([]string, 0, len(bkt.objects))

	for key := range bkt.objects {
		if strings.HasPrefix(key, prefix) && key > startAfter {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)

	truncated := len(keys) > maxKeys
	if truncated {
		keys = keys[:maxKeys]
	}

	entries := make([]listEntry, 0, len(keys))

	for _, key := range keys {
		obj := bkt.objects[key]
		entries = append(entries, listEntry{
			key:      key,
			size:     int64(len(obj.data)),
			etag:     obj.etag,
			modified: obj.modified,
		})
	}

	if truncated {
		return entries, keys[len(keys)-1]
	}

	return entries, ""
}

func etagFor(data []byte) string {
	digest := md5.Sum(data) //nolint:gosec // ETag computation mirrors S3.

	return `"` + hex.EncodeToString(digest[:]) + `"`
}

func trimQuotes(etag string) string {
	return strings.Trim(etag, `"`)
}
