package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gcc-cricket/clubserver/internal/services"
	"github.com/gcc-cricket/clubserver/internal/storage"
	"github.com/go-chi/chi/v5"
)

var mediaDirs = []string{"receipts/", "profile_photos/", "qr_codes/"}

// MediaHandler streams stored objects to authenticated callers.
type MediaHandler struct {
	objects services.ObjectStore
	logger  *slog.Logger
}

// NewMediaHandler constructs a MediaHandler over objects.
func NewMediaHandler(objects services.ObjectStore, logger *slog.Logger) *MediaHandler {
	return &MediaHandler{objects: objects, logger: logger}
}

// MediaRouter mounts GET /media/* behind authMiddleware.
func MediaRouter(r chi.Router, h *MediaHandler, authMiddleware func(http.Handler) http.Handler) {
	r.With(authMiddleware).Get(services.MediaPrefix+"*", h.Serve)
}

func (h *MediaHandler) Serve(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if !validMediaKey(key) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	info, err := h.objects.Stat(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeServiceError(w, r, h.logger, err)
		return
	}
	body, err := h.objects.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeServiceError(w, r, h.logger, err)
		return
	}
	defer body.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "media stream interrupted", "key", key, "error", err)
	}
}

func validMediaKey(key string) bool {
	if key == "" || strings.Contains(key, "..") || strings.Contains(key, "//") {
		return false
	}
	for _, dir := range mediaDirs {
		if strings.HasPrefix(key, dir) && len(key) > len(dir) {
			return true
		}
	}
	return false
}
