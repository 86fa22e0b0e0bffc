package blob_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgedist/forgedist/internal/repository/blob"
)

func TestMemoryStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()

	payload := []byte("artifact bytes")
	put, err := blob.PutBytes(ctx, store, "dist/1.0/a.tar.gz", payload, blob.PutOptions{
		ContentMD5: blob.ContentMD5(payload),
		Metadata:   map[string]string{"sha256": "abc"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, put.ETag)
	require.EqualValues(t, len(payload), put.Size)

	head, err := store.Head(ctx, "dist/1.0/a.tar.gz")
	require.NoError(t, err)
	require.Equal(t, put.ETag, head.ETag)
	require.Equal(t, "abc", head.Metadata["sha256"])

	data, info, err := blob.GetBytes(ctx, store, "dist/1.0/a.tar.gz")
	require.NoError(t, err)
	require.Equal(t, payload, data)
	require.Equal(t, put.ETag, info.ETag)
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()

	_, err := store.Head(ctx, "missing")
	require.True(t, blob.IsNotFound(err))

	_, _, err = store.Get(ctx, "missing")
	require.True(t, blob.IsNotFound(err))
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()

	for _, key := range []string{"builds/nightly/b", "builds/nightly/a", "builds/stable/c"} {
		_, err := blob.PutBytes(ctx, store, key, []byte(key), blob.PutOptions{})
		require.NoError(t, err)
	}

	objects, err := store.List(ctx, "builds/nightly/")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	require.Equal(t, "builds/nightly/a", objects[0].Key)
	require.Equal(t, "builds/nightly/b", objects[1].Key)
}

func TestMemoryStoreConditionalWrites(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()

	first, err := blob.PutBytes(ctx, store, "channels/stable.yaml", []byte("v1"), blob.PutOptions{
		IfNoneMatch: "*",
	})
	require.NoError(t, err)

	// A second create-if-absent write must lose.
	_, err = blob.PutBytes(ctx, store, "channels/stable.yaml", []byte("v2"), blob.PutOptions{
		IfNoneMatch: "*",
	})
	require.True(t, blob.IsPreconditionFailed(err))

	// Replace conditioned on the observed ETag succeeds once.
	second, err := blob.PutBytes(ctx, store, "channels/stable.yaml", []byte("v2"), blob.PutOptions{
		IfMatch: first.ETag,
	})
	require.NoError(t, err)
	require.NotEqual(t, first.ETag, second.ETag)

	// The stale ETag now loses.
	_, err = blob.PutBytes(ctx, store, "channels/stable.yaml", []byte("v3"), blob.PutOptions{
		IfMatch: first.ETag,
	})
	require.True(t, blob.IsPreconditionFailed(err))

	data, _, err := blob.GetBytes(ctx, store, "channels/stable.yaml")
	require.NoError(t, err)
	require.Equal(t, "v2", string(data))
}

func TestMemoryStoreContentMD5(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()

	_, err := blob.PutBytes(ctx, store, "k", []byte("body"), blob.PutOptions{
		ContentMD5: blob.ContentMD5([]byte("different body")),
	})
	require.ErrorIs(t, err, blob.ErrBadDigest)
}

func TestMemoryStoreDeleteMissing(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()

	require.NoError(t, store.Delete(ctx, "missing"))
}

func TestMemoryStorePutCount(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()

	_, err := blob.PutBytes(ctx, store, "a", []byte("1"), blob.PutOptions{})
	require.NoError(t, err)
	_, err = blob.PutBytes(ctx, store, "b", []byte("2"), blob.PutOptions{})
	require.NoError(t, err)

	_, err = blob.PutBytes(ctx, store, "b", []byte("3"), blob.PutOptions{IfNoneMatch: "*"})
	require.Error(t, err)

	require.Equal(t, 2, store.PutCount())
	require.Equal(t, []string{"a", "b"}, store.Keys())
}

func TestMemoryStoreGetIsIsolated(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()

	_, err := blob.PutBytes(ctx, store, "k", []byte("stable"), blob.PutOptions{})
	require.NoError(t, err)

	body, _, err := store.Get(ctx, "k")
	require.NoError(t, err)

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())

	// Mutating the returned slice must not corrupt the stored object.
	data[0] = 'X'

	fresh, _, err := blob.GetBytes(ctx, store, "k")
	require.NoError(t, err)
	require.Equal(t, "stable", string(fresh))
}
