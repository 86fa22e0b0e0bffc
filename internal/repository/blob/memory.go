package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/forgedist/forgedist/internal/domain/release"
)

type memoryObject struct {
	data     []byte
	etag     string
	metadata map[string]string
}

// MemoryStore is an in-process Store with S3 semantics: MD5 ETags,
// Content-MD5 validation and conditional writes. It backs unit tests that
// do not want a network emulator.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	puts    int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memoryObject),
	}
}

// List returns the objects under prefix in key order.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var objects []ObjectInfo

	for key, object := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		objects = append(objects, ObjectInfo{
			Key:  key,
			Size: int64(len(object.data)),
			ETag: object.etag,
		})
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Key < objects[j].Key
	})

	return objects, nil
}

// Head returns metadata for one object.
func (m *MemoryStore) Head(_ context.Context, key string) (*ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	object, ok := m.objects[key]
	if !ok {
		return nil, release.Errorf(release.ClassNotFound, "head %s: %w", key, ErrNotFound)
	}

	return object.info(key), nil
}

// Get opens an object for reading.
func (m *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	object, ok := m.objects[key]
	if !ok {
		return nil, nil, release.Errorf(release.ClassNotFound, "get %s: %w", key, ErrNotFound)
	}

	data := make([]byte, len(object.data))
	copy(data, object.data)

	return io.NopCloser(bytes.NewReader(data)), object.info(key), nil
}

// Put writes an object, honoring conditional and transport checks.
func (m *MemoryStore) Put(_ context.Context, key string, body io.ReadSeeker, opts PutOptions) (*ObjectInfo, error) {
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind body for %q: %w", key, err)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body for %q: %w", key, err)
	}

	if opts.ContentMD5 != "" && opts.ContentMD5 != ContentMD5(data) {
		return nil, release.Errorf(release.ClassStoreTransient, "put %s: %w", key, ErrBadDigest)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.objects[key]

	if opts.IfNoneMatch == "*" && exists {
		return nil, fmt.Errorf("put %s: %w", key, ErrPreconditionFailed)
	}

	if opts.IfMatch != "" {
		if !exists || !SameETag(existing.etag, opts.IfMatch) {
			return nil, fmt.Errorf("put %s: %w", key, ErrPreconditionFailed)
		}
	}

	object := memoryObject{
		data:     data,
		etag:     ETagFor(data),
		metadata: lowercaseKeys(opts.Metadata),
	}
	m.objects[key] = object
	m.puts++

	return object.info(key), nil
}

// Delete removes an object. Deleting a missing object is not an error.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)

	return nil
}

// Keys returns every stored key in order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

// PutCount reports the number of successful writes since creation.
// Idempotence tests use it to prove a re-run wrote nothing.
func (m *MemoryStore) PutCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.puts
}

func (o memoryObject) info(key string) *ObjectInfo {
	var metadata map[string]string

	if len(o.metadata) > 0 {
		metadata = make(map[string]string, len(o.metadata))
		for k, v := range o.metadata {
			metadata[k] = v
		}
	}

	return &ObjectInfo{
		Key:      key,
		Size:     int64(len(o.data)),
		ETag:     o.etag,
		Metadata: metadata,
	}
}

