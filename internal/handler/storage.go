package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/captured-thinkings/internal/apperror"
	"github.com/sakif/captured-thinkings/internal/storage"
)

// StorageHandler serves /storage/v1: authenticated uploads and public reads.
type StorageHandler struct {
	store    storage.ObjectStore
	buckets  map[string]bool
	maxBytes int64
	logger   *slog.Logger
}

func NewStorageHandler(store storage.ObjectStore, buckets []string, maxBytes int64, logger *slog.Logger) *StorageHandler {
	allowed := make(map[string]bool, len(buckets))
	for _, b := range buckets {
		allowed[b] = true
	}
	return &StorageHandler{store: store, buckets: allowed, maxBytes: maxBytes, logger: logger}
}

// UploadResponse is returned by a successful upload.
type UploadResponse struct {
	Key       string `json:"key"`
	PublicURL string `json:"public_url"`
}

func (h *StorageHandler) target(r *http.Request) (bucket, key string, err error) {
	bucket = chi.URLParam(r, "bucket")
	key = chi.URLParam(r, "*")
	if !h.buckets[bucket] {
		return "", "", apperror.NotFound("bucket", bucket)
	}
	if err := storage.ValidateKey(bucket, key); err != nil {
		return "", "", err
	}
	return bucket, key, nil
}

// HandleUpload stores the raw request body as an object.
//
// HTTP: POST /storage/v1/object/{bucket}/{path...}  (authenticated)
// The Content-Type header becomes the object's content type.
func (h *StorageHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	bucket, key, err := h.target(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		writeError(w, h.logger, apperror.ValidationFailed("content_type", "only images can be uploaded"))
		return
	}
	if r.ContentLength > h.maxBytes {
		writeError(w, h.logger, apperror.ValidationFailed("body", "file is too large"))
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := h.store.Put(r.Context(), bucket, key, body, r.ContentLength, contentType); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = apperror.ValidationFailed("body", "file is too large")
		}
		writeError(w, h.logger, err)
		return
	}

	h.logger.Info("object uploaded", "bucket", bucket, "key", key)
	writeJSON(w, http.StatusCreated, UploadResponse{
		Key:       bucket + "/" + key,
		PublicURL: h.store.PublicURL(bucket, key),
	})
}

// HandleServe streams an object to anyone.
//
// HTTP: GET /storage/v1/object/public/{bucket}/{path...}
func (h *StorageHandler) HandleServe(w http.ResponseWriter, r *http.Request) {
	bucket, key, err := h.target(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	rc, info, err := h.store.Open(r.Context(), bucket, key)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", info.ContentType)
	if info.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("streaming object", "bucket", bucket, "key", key, "error", err)
	}
}
