package blob_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/forgedist/forgedist/internal/repository/blob"
)

func TestZZDebugErrors(t *testing.T) {
	store := newS3Store(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeS3Error(w, http.StatusNotFound, "NoSuchKey")
	}))

	_, _, err := store.Get(context.Background(), "missing")
	t.Logf("GET 404 err: %#v", err)
	t.Logf("GET 404 err string: %v", err)

	store2 := newS3Store(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err = store2.Head(context.Background(), "missing")
	t.Logf("HEAD 404 err: %#v", err)
	t.Logf("HEAD 404 err string: %v", err)

	store3 := newS3Store(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeS3Error(w, http.StatusPreconditionFailed, "PreconditionFailed")
	}))

	_, err = store3.Put(context.Background(), "channels/stable.yaml",
		strings.NewReader("pointer"), blob.PutOptions{IfNoneMatch: "*"})
	t.Logf("PUT 412 err: %#v", err)
	t.Logf("PUT 412 err string: %v", err)

	_ = time.Millisecond
}
