package emulator

import (
	"crypto/md5" //nolint:gosec // Content-MD5 validation mirrors S3.
	"encoding/base64"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"

	"github.com/forgedist/forgedist/internal/logger"
)

const (
	maxListKeys    = 1000
	metadataPrefix = "x-amz-meta-"

	lastModifiedFormat = "2006-01-02T15:04:05.000Z"
)

type handler struct {
	backend *Backend
}

// NewHandler builds the S3-compatible HTTP handler over backend. Tests
// wrap it to count requests or inject faults.
func NewHandler(backend *Backend) http.Handler {
	h := &handler{backend: backend}

	router := mux.NewRouter()
	router.HandleFunc("/{bucket}", h.listObjects).Methods(http.MethodGet)
	router.HandleFunc("/{bucket}/", h.listObjects).Methods(http.MethodGet)
	router.HandleFunc("/{bucket}/{key:.+}", h.getObject).Methods(http.MethodGet)
	router.HandleFunc("/{bucket}/{key:.+}", h.headObject).Methods(http.MethodHead)
	router.HandleFunc("/{bucket}/{key:.+}", h.putObject).Methods(http.MethodPut)
	router.HandleFunc("/{bucket}/{key:.+}", h.deleteObject).Methods(http.MethodDelete)

	return router
}

func (h *handler) listObjects(w http.ResponseWriter, r *http.Request) {
	bucketName := mux.Vars(r)["bucket"]
	query := r.URL.Query()

	prefix := query.Get("prefix")

	maxKeys := maxListKeys
	if raw := query.Get("max-keys"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err == nil && parsed > 0 && parsed < maxListKeys {
			maxKeys = parsed
		}
	}

	token := query.Get("continuation-token")

	startAfter, err := decodeToken(token)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidArgument", r.URL.Path)
		return
	}

	entries, nextAfter := h.backend.list(bucketName, prefix, startAfter, maxKeys)

	result := listBucketResult{
		Xmlns:             "http://s3.amazonaws.com/doc/2006-03-01/",
		Name:              bucketName,
		Prefix:            prefix,
		KeyCount:          len(entries),
		MaxKeys:           maxKeys,
		IsTruncated:       nextAfter != "",
		ContinuationToken: token,
	}

	if nextAfter != "" {
		result.NextContinuationToken = encodeToken(nextAfter)
	}

	for _, entry := range entries {
		result.Contents = append(result.Contents, listedObject{
			Key:          entry.key,
			LastModified: entry.modified.UTC().Format(lastModifiedFormat),
			ETag:         entry.etag,
			Size:         entry.size,
			StorageClass: "STANDARD",
		})
	}

	writeXML(w, http.StatusOK, result)
}

func (h *handler) putObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	bucketName, key := vars["bucket"], vars["key"]

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "IncompleteBody", r.URL.Path)
		return
	}

	if declared := r.Header.Get("Content-MD5"); declared != "" {
		digest := md5.Sum(data) //nolint:gosec // Content-MD5 validation mirrors S3.
		if base64.StdEncoding.EncodeToString(digest[:]) != declared {
			writeError(w, http.StatusBadRequest, "BadDigest", r.URL.Path)
			return
		}
	}

	etag, result := h.backend.put(bucketName, key, data, r.Header.Get("Content-Type"),
		collectMetadata(r.Header), putConditions{
			ifMatch:     r.Header.Get("If-Match"),
			ifNoneMatch: r.Header.Get("If-None-Match"),
		})
	if result == putPreconditionFailed {
		writeError(w, http.StatusPreconditionFailed, "PreconditionFailed", r.URL.Path)
		return
	}

	logger.DebugKV(r.Context(), "Stored object",
		"bucket", bucketName,
		"key", key,
		"size", humanize.IBytes(uint64(len(data))))

	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)
}

func (h *handler) getObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	obj, ok := h.backend.get(vars["bucket"], vars["key"])
	if !ok {
		writeError(w, http.StatusNotFound, "NoSuchKey", r.URL.Path)
		return
	}

	writeObjectHeaders(w, obj)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.data)
}

func (h *handler) headObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	obj, ok := h.backend.get(vars["bucket"], vars["key"])
	if !ok {
		// HEAD responses carry no error body.
		w.WriteHeader(http.StatusNotFound)
		return
	}

	writeObjectHeaders(w, obj)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
	w.WriteHeader(http.StatusOK)
}

func (h *handler) deleteObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	h.backend.delete(vars["bucket"], vars["key"])

	w.WriteHeader(http.StatusNoContent)
}

func writeObjectHeaders(w http.ResponseWriter, obj object) {
	w.Header().Set("ETag", obj.etag)
	w.Header().Set("Last-Modified", obj.modified.UTC().Format(http.TimeFormat))

	if obj.contentType != "" {
		w.Header().Set("Content-Type", obj.contentType)
	}

	for key, value := range obj.metadata {
		w.Header().Set(metadataPrefix+key, value)
	}
}

func collectMetadata(headers http.Header) map[string]string {
	var metadata map[string]string

	for key, values := range headers {
		lower := strings.ToLower(key)
		if !strings.HasPrefix(lower, metadataPrefix) || len(values) == 0 {
			continue
		}

		if metadata == nil {
			metadata = make(map[string]string)
		}

		metadata[strings.TrimPrefix(lower, metadataPrefix)] = values[0]
	}

	return metadata
}

func encodeToken(key string) string {
	return base64.URLEncoding.EncodeToString([]byte(key))
}

func decodeToken(token string) (string, error) {
	if token == "" {
		return "", nil
	}

	decoded, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", err
	}

	return string(decoded), nil
}
