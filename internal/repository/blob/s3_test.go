package blob_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgedist/forgedist/internal/domain/release"
	"github.com/forgedist/forgedist/internal/repository/blob"
)

func newS3Store(t *testing.T, handler http.Handler) blob.Store {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := blob.NewS3Client(context.Background(), blob.ClientParams{
		Endpoint:  server.URL,
		Region:    "us-east-1",
		AccessKey: "test",
		SecretKey: "test",
	})
	require.NoError(t, err)

	return blob.NewS3Store(client, "bucket", blob.RetrySpec{
		Attempts: 3,
		Delay:    time.Millisecond,
		MaxDelay: 2 * time.Millisecond,
	})
}

func writeS3Error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, code)
}

func TestS3StoreNotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int32

	store := newS3Store(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeS3Error(w, http.StatusNotFound, "NoSuchKey")
	}))

	_, _, err := store.Get(context.Background(), "missing")
	require.True(t, blob.IsNotFound(err))
	require.Equal(t, release.ClassNotFound, release.ClassOf(err))
	require.EqualValues(t, 1, hits.Load())
}

func TestS3StoreHeadMissing(t *testing.T) {
	store := newS3Store(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// HEAD errors carry no body; the status code alone must classify.
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := store.Head(context.Background(), "missing")
	require.True(t, blob.IsNotFound(err))
}

func TestS3StoreRetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32

	store := newS3Store(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			writeS3Error(w, http.StatusServiceUnavailable, "SlowDown")
			return
		}

		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))

	info, err := store.Put(context.Background(), "k", strings.NewReader("body"), blob.PutOptions{})
	require.NoError(t, err)
	require.Equal(t, `"d41d8cd98f00b204e9800998ecf8427e"`, info.ETag)
	require.EqualValues(t, 3, hits.Load())
}

func TestS3StoreExhaustsAttempts(t *testing.T) {
	var hits atomic.Int32

	store := newS3Store(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeS3Error(w, http.StatusInternalServerError, "InternalError")
	}))

	_, err := store.Head(context.Background(), "k")
	require.Error(t, err)
	require.Equal(t, release.ClassStoreTransient, release.ClassOf(err))
	require.True(t, release.IsTransient(err))
	require.EqualValues(t, 3, hits.Load())
}

func TestS3StorePreconditionFailedIsFatal(t *testing.T) {
	var hits atomic.Int32

	store := newS3Store(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeS3Error(w, http.StatusPreconditionFailed, "PreconditionFailed")
	}))

	_, err := store.Put(context.Background(), "channels/stable.yaml",
		strings.NewReader("pointer"), blob.PutOptions{IfNoneMatch: "*"})
	require.True(t, blob.IsPreconditionFailed(err))
	require.EqualValues(t, 1, hits.Load())
}

func TestS3StoreGetBody(t *testing.T) {
	store := newS3Store(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"abc"`)
		w.Header().Set("x-amz-meta-sha256", "deadbeef")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("object body"))
	}))

	data, info, err := blob.GetBytes(context.Background(), store, "k")
	require.NoError(t, err)
	require.Equal(t, "object body", string(data))
	require.Equal(t, `"abc"`, info.ETag)
	require.Equal(t, "deadbeef", info.Metadata["sha256"])
}

func TestS3StoreListPaginates(t *testing.T) {
	store := newS3Store(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")

		if r.URL.Query().Get("continuation-token") == "next" {
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>bucket</Name><Prefix>builds/</Prefix><KeyCount>1</KeyCount><MaxKeys>1</MaxKeys>
  <IsTruncated>false</IsTruncated>
  <Contents><Key>builds/b</Key><Size>2</Size><ETag>&quot;bb&quot;</ETag></Contents>
</ListBucketResult>`)
			return
		}

		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>bucket</Name><Prefix>builds/</Prefix><KeyCount>1</KeyCount><MaxKeys>1</MaxKeys>
  <IsTruncated>true</IsTruncated>
  <NextContinuationToken>next</NextContinuationToken>
  <Contents><Key>builds/a</Key><Size>1</Size><ETag>&quot;aa&quot;</ETag></Contents>
</ListBucketResult>`)
	}))

	objects, err := store.List(context.Background(), "builds/")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	require.Equal(t, "builds/a", objects[0].Key)
	require.Equal(t, "builds/b", objects[1].Key)
	require.Equal(t, `"bb"`, objects[1].ETag)
}
