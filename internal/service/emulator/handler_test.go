package emulator_test

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgedist/forgedist/internal/repository/blob"
	"github.com/forgedist/forgedist/internal/service/emulator"
)

func newEmulatorServer(t *testing.T) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(emulator.NewHandler(emulator.NewBackend()))
	t.Cleanup(server.Close)

	return server
}

func doRequest(t *testing.T, method, url string, body []byte, headers map[string]string) *http.Response {
	t.Helper()

	request, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)

	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	t.Cleanup(func() { _ = response.Body.Close() })

	return response
}

func errorCode(t *testing.T, body io.Reader) string {
	t.Helper()

	var parsed struct {
		Code string `xml:"Code"`
	}
	require.NoError(t, xml.NewDecoder(body).Decode(&parsed))

	return parsed.Code
}

func TestPutGetRoundtrip(t *testing.T) {
	server := newEmulatorServer(t)
	payload := []byte("artifact bytes")

	put := doRequest(t, http.MethodPut, server.URL+"/staging/builds/nightly/a.tar.gz", payload, map[string]string{
		"Content-MD5":       blob.ContentMD5(payload),
		"Content-Type":      "application/gzip",
		"x-amz-meta-sha256": "cafe",
	})
	require.Equal(t, http.StatusOK, put.StatusCode)
	require.NotEmpty(t, put.Header.Get("ETag"))

	get := doRequest(t, http.MethodGet, server.URL+"/staging/builds/nightly/a.tar.gz", nil, nil)
	require.Equal(t, http.StatusOK, get.StatusCode)
	require.Equal(t, put.Header.Get("ETag"), get.Header.Get("ETag"))
	require.Equal(t, "application/gzip", get.Header.Get("Content-Type"))
	require.Equal(t, "cafe", get.Header.Get("x-amz-meta-sha256"))

	body, err := io.ReadAll(get.Body)
	require.NoError(t, err)
	require.Equal(t, payload, body)
}

func TestGetMissingObject(t *testing.T) {
	server := newEmulatorServer(t)

	response := doRequest(t, http.MethodGet, server.URL+"/staging/missing", nil, nil)
	require.Equal(t, http.StatusNotFound, response.StatusCode)
	require.Equal(t, "NoSuchKey", errorCode(t, response.Body))
}

func TestHeadObject(t *testing.T) {
	server := newEmulatorServer(t)

	missing := doRequest(t, http.MethodHead, server.URL+"/staging/missing", nil, nil)
	require.Equal(t, http.StatusNotFound, missing.StatusCode)

	payload := []byte("12345")
	doRequest(t, http.MethodPut, server.URL+"/staging/k", payload, nil)

	head := doRequest(t, http.MethodHead, server.URL+"/staging/k", nil, nil)
	require.Equal(t, http.StatusOK, head.StatusCode)
	require.EqualValues(t, 5, head.ContentLength)
	require.NotEmpty(t, head.Header.Get("ETag"))
}

func TestPutBadDigest(t *testing.T) {
	server := newEmulatorServer(t)

	response := doRequest(t, http.MethodPut, server.URL+"/staging/k", []byte("actual body"), map[string]string{
		"Content-MD5": base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0}, 16)),
	})
	require.Equal(t, http.StatusBadRequest, response.StatusCode)
	require.Equal(t, "BadDigest", errorCode(t, response.Body))

	// The rejected write must not have stored anything.
	get := doRequest(t, http.MethodGet, server.URL+"/staging/k", nil, nil)
	require.Equal(t, http.StatusNotFound, get.StatusCode)
}

func TestConditionalPut(t *testing.T) {
	server := newEmulatorServer(t)
	url := server.URL + "/prod/channels/stable.yaml"

	first := doRequest(t, http.MethodPut, url, []byte("v1"), map[string]string{"If-None-Match": "*"})
	require.Equal(t, http.StatusOK, first.StatusCode)

	conflict := doRequest(t, http.MethodPut, url, []byte("v2"), map[string]string{"If-None-Match": "*"})
	require.Equal(t, http.StatusPreconditionFailed, conflict.StatusCode)
	require.Equal(t, "PreconditionFailed", errorCode(t, conflict.Body))

	replace := doRequest(t, http.MethodPut, url, []byte("v2"), map[string]string{
		"If-Match": first.Header.Get("ETag"),
	})
	require.Equal(t, http.StatusOK, replace.StatusCode)

	stale := doRequest(t, http.MethodPut, url, []byte("v3"), map[string]string{
		"If-Match": first.Header.Get("ETag"),
	})
	require.Equal(t, http.StatusPreconditionFailed, stale.StatusCode)

	get := doRequest(t, http.MethodGet, url, nil, nil)
	body, err := io.ReadAll(get.Body)
	require.NoError(t, err)
	require.Equal(t, "v2", string(body))
}

func TestDeleteObject(t *testing.T) {
	server := newEmulatorServer(t)

	doRequest(t, http.MethodPut, server.URL+"/staging/k", []byte("x"), nil)

	deleted := doRequest(t, http.MethodDelete, server.URL+"/staging/k", nil, nil)
	require.Equal(t, http.StatusNoContent, deleted.StatusCode)

	get := doRequest(t, http.MethodGet, server.URL+"/staging/k", nil, nil)
	require.Equal(t, http.StatusNotFound, get.StatusCode)

	// Deleting a missing key is still a 204.
	again := doRequest(t, http.MethodDelete, server.URL+"/staging/k", nil, nil)
	require.Equal(t, http.StatusNoContent, again.StatusCode)
}

type listResult struct {
	KeyCount              int    `xml:"KeyCount"`
	IsTruncated           bool   `xml:"IsTruncated"`
	NextContinuationToken string `xml:"NextContinuationToken"`
	Contents              []struct {
		Key  string `xml:"Key"`
		Size int64  `xml:"Size"`
	} `xml:"Contents"`
}

func TestListObjectsPaginates(t *testing.T) {
	server := newEmulatorServer(t)

	for _, key := range []string{"builds/a", "builds/c", "builds/b", "other/z"} {
		doRequest(t, http.MethodPut, server.URL+"/staging/"+key, []byte(key), nil)
	}

	var keys []string
	token := ""

	for {
		url := server.URL + "/staging?list-type=2&prefix=builds%2F&max-keys=2"
		if token != "" {
			url += "&continuation-token=" + token
		}

		response := doRequest(t, http.MethodGet, url, nil, nil)
		require.Equal(t, http.StatusOK, response.StatusCode)

		var page listResult
		require.NoError(t, xml.NewDecoder(response.Body).Decode(&page))
		require.Equal(t, len(page.Contents), page.KeyCount)

		for _, entry := range page.Contents {
			keys = append(keys, entry.Key)
		}

		if !page.IsTruncated {
			break
		}

		token = page.NextContinuationToken
	}

	require.Equal(t, []string{"builds/a", "builds/b", "builds/c"}, keys)
}
