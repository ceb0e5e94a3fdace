package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gcc-cricket/clubserver/internal/services"
	"github.com/go-chi/chi/v5"
)

// UserHandler exposes club administration of accounts.
type UserHandler struct {
	users  *services.UserService
	logger *slog.Logger
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(users *services.UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// UserRouter registers account routes. All of them require authentication.
func UserRouter(r chi.Router, h *UserHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/all-users", h.ListUsers)
		r.Get("/team-players", h.TeamPlayers)
		r.Delete("/users/{id}", h.DeleteUser)
		r.Put("/users/{id}/player-profile", h.UpdatePlayerProfile)
	})
}

type playerProfileRequest struct {
	TeamName    *string `json:"team_name"`
	Group       *string `json:"group"`
	IsTeamAdmin *bool   `json:"is_team_admin"`
}

func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	actorID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	users, err := h.users.ListUsers(r.Context(), actorID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *UserHandler) TeamPlayers(w http.ResponseWriter, r *http.Request) {
	actorID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	players, err := h.users.TeamPlayers(r.Context(), actorID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, players)
}

// DeleteUser removes an account with its profiles, receipts and stored files.
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actorID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.users.DeleteUser(r.Context(), actorID, id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) UpdatePlayerProfile(w http.ResponseWriter, r *http.Request) {
	actorID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req playerProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.TeamName != nil {
		team := strings.TrimSpace(*req.TeamName)
		req.TeamName = &team
	}
	if req.Group != nil {
		group := strings.ToUpper(strings.TrimSpace(*req.Group))
		req.Group = &group
	}

	profile, err := h.users.UpdatePlayerProfile(r.Context(), actorID, id, services.PlayerUpdate{
		TeamName:    req.TeamName,
		Group:       req.Group,
		IsTeamAdmin: req.IsTeamAdmin,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
