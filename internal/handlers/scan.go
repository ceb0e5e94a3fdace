package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gcc-cricket/clubserver/internal/services"
	"github.com/go-chi/chi/v5"
)

const maxScanImage = 8 << 20

// ScanHandler decodes photographed credentials at the gate.
type ScanHandler struct {
	scanner *services.ScanService
	logger  *slog.Logger
}

// NewScanHandler constructs a ScanHandler.
func NewScanHandler(scanner *services.ScanService, logger *slog.Logger) *ScanHandler {
	return &ScanHandler{scanner: scanner, logger: logger}
}

// ScanRouter mounts POST /scan-qr behind authMiddleware.
func ScanRouter(r chi.Router, h *ScanHandler, authMiddleware func(http.Handler) http.Handler) {
	r.With(authMiddleware).Post("/scan-qr", h.Scan)
}

// Scan expects the image in the multipart field qr_code.
func (h *ScanHandler) Scan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxScanImage+(1<<20))
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, _, err := r.FormFile("qr_code")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "validation failed",
			Fields: map[string]string{"qr_code": "required"},
		})
		return
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, maxScanImage+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read qr_code")
		return
	}
	if len(image) > maxScanImage {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "validation failed",
			Fields: map[string]string{"qr_code": "image too large"},
		})
		return
	}

	result, err := h.scanner.Scan(r.Context(), image)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
