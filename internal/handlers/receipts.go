package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gcc-cricket/clubserver/internal/services"
	"github.com/gcc-cricket/clubserver/types"
	"github.com/go-chi/chi/v5"
)

// ReceiptHandler serves the receipt review workflow and credential lookups.
type ReceiptHandler struct {
	receipts *services.ReceiptService
	logger   *slog.Logger
}

// NewReceiptHandler constructs a ReceiptHandler.
func NewReceiptHandler(receipts *services.ReceiptService, logger *slog.Logger) *ReceiptHandler {
	return &ReceiptHandler{receipts: receipts, logger: logger}
}

// QRCodeResponse carries the URL of the caller's credential, or null.
type QRCodeResponse struct {
	QRCode *string `json:"qr_code"`
}

type rejectRequest struct {
	Note string `json:"note"`
}

type reissueRequest struct {
	Role string `json:"role"`
}

// ReceiptRouter registers receipt and credential routes behind authMiddleware.
func ReceiptRouter(r chi.Router, h *ReceiptHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Route("/receipts", func(r chi.Router) {
			r.Post("/upload", h.Upload)
			r.Get("/unverified", h.ListUnverified)
			r.Get("/all", h.List)
			r.Post("/verify/{id}", h.Verify)
			r.Post("/reject/{id}", h.Reject)
			r.Post("/reissue/{id}", h.Reissue)
		})
		r.Get("/player/qr-code", h.PlayerQR)
		r.Get("/team-admin/qr-code", h.TeamAdminQR)
	})
}

// Upload accepts a multipart receipt file for a player on the caller's team.
func (h *ReceiptHandler) Upload(w http.ResponseWriter, r *http.Request) {
	actorID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, services.MaxReceiptSize+(1<<20))
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	fields := map[string]string{}
	playerID, err := strconv.Atoi(strings.TrimSpace(r.FormValue("player")))
	if err != nil || playerID < 1 {
		fields["player"] = "must be an account id"
	}
	file, closeFn, err := formUpload(r, "file")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer closeFn()
	if file == nil {
		fields["file"] = "required"
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Fields: fields})
		return
	}

	receipt, err := h.receipts.Upload(r.Context(), actorID, playerID, file, r.FormValue("note"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (h *ReceiptHandler) ListUnverified(w http.ResponseWriter, r *http.Request) {
	actorID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	receipts, err := h.receipts.ListUnverified(r.Context(), actorID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

func (h *ReceiptHandler) List(w http.ResponseWriter, r *http.Request) {
	actorID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	receipts, err := h.receipts.List(r.Context(), actorID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

func (h *ReceiptHandler) Verify(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := h.actorAndReceipt(w, r)
	if !ok {
		return
	}
	receipt, err := h.receipts.Verify(r.Context(), actorID, id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// Reject accepts an optional JSON body with a review note.
func (h *ReceiptHandler) Reject(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := h.actorAndReceipt(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request")
			return
		}
	}
	receipt, err := h.receipts.Reject(r.Context(), actorID, id, strings.TrimSpace(req.Note))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *ReceiptHandler) Reissue(w http.ResponseWriter, r *http.Request) {
	actorID, id, ok := h.actorAndReceipt(w, r)
	if !ok {
		return
	}
	var req reissueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	receipt, err := h.receipts.Reissue(r.Context(), actorID, id, types.ParseRole(req.Role))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *ReceiptHandler) PlayerQR(w http.ResponseWriter, r *http.Request) {
	actorID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	url, err := h.receipts.PlayerQR(r.Context(), actorID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, QRCodeResponse{QRCode: url})
}

func (h *ReceiptHandler) TeamAdminQR(w http.ResponseWriter, r *http.Request) {
	actorID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	url, err := h.receipts.TeamAdminQR(r.Context(), actorID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, QRCodeResponse{QRCode: url})
}

func (h *ReceiptHandler) actorAndReceipt(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	actorID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return 0, 0, false
	}
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, 0, false
	}
	return actorID, id, true
}
