package handlers

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gcc-cricket/clubserver/internal/services"
	"github.com/gcc-cricket/clubserver/internal/session"
	"github.com/gcc-cricket/clubserver/types"
	"github.com/go-chi/chi/v5"
)

const (
	maxMultipartMemory = 32 << 20
	dateLayout         = "2006-01-02"
	formFieldPhoto     = "profile_photo"

	// maxProfileFormSize bounds forms that carry a profile photo.
	maxProfileFormSize = services.MaxPhotoSize + 1<<20
)

// AuthOptions configures token lifetimes and login throttling.
type AuthOptions struct {
	JWTSecret          string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	LoginRatePerMinute int
	LoginBurst         int
}

// AuthHandler provides registration and JWT authentication endpoints.
type AuthHandler struct {
	users        *services.UserService
	registration *services.RegistrationService
	tokens       *tokenIssuer
	limiter      *ipLimiter
	logger       *slog.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(users *services.UserService, registration *services.RegistrationService, sessions session.Store, opts AuthOptions, logger *slog.Logger) *AuthHandler {
	if opts.AccessTokenTTL <= 0 {
		opts.AccessTokenTTL = 15 * time.Minute
	}
	if opts.RefreshTokenTTL <= 0 {
		opts.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	return &AuthHandler{
		users:        users,
		registration: registration,
		tokens: &tokenIssuer{
			secret:     []byte(opts.JWTSecret),
			accessTTL:  opts.AccessTokenTTL,
			refreshTTL: opts.RefreshTokenTTL,
			sessions:   sessions,
		},
		limiter: newIPLimiter(opts.LoginRatePerMinute, opts.LoginBurst),
		logger:  logger,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, h *AuthHandler) {
	auth := requireAuth(h.tokens.secret)

	r.Post("/register/{role}", h.Register)
	r.With(h.limiter.middleware).Post("/login", h.Login)
	r.Post("/token/refresh", h.Refresh)
	r.Post("/logout", h.Logout)
	r.With(auth).Get("/me", h.Me)
	r.With(auth).Post("/become-player", h.BecomePlayer)
}

type registerRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	FName           string `json:"fname"`
	SName           string `json:"sname"`
	IDNum           string `json:"id_num"`
	Contact         string `json:"contact"`
	DOB             string `json:"dob"`
	PostalAdd       string `json:"postal_add"`
	ResidentialAdd  string `json:"residential_add"`
	Nationality     string `json:"nationality"`
	TeamName        string `json:"team_name"`
	Group           string `json:"group"`
	AdminLevel      string `json:"admin_level"`
	InviteCode      string `json:"invite_code"`
	CertificationID string `json:"umpire_certification_id"`
}

// LoginRequest carries login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	TokenPair
	User types.AccountSummary `json:"user"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

// Register creates an account for the role named in the path. The body is
// JSON or, when a profile photo is needed, multipart form data.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	role := types.ParseRole(chi.URLParam(r, "role"))
	if role == types.RoleUnknown {
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}

	var (
		req   registerRequest
		photo *services.Upload
	)
	if isMultipart(r) {
		r.Body = http.MaxBytesReader(w, r.Body, maxProfileFormSize)
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		req = registerRequestFromForm(r)
		upload, closeFn, err := formUpload(r, formFieldPhoto)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		defer closeFn()
		photo = upload
	} else if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	dob, err := parseDate(req.DOB)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "validation failed",
			Fields: map[string]string{"dob": "must be YYYY-MM-DD"},
		})
		return
	}

	summary, err := h.registration.Register(r.Context(), role, services.RegistrationInput{
		Email:           req.Email,
		Password:        req.Password,
		FName:           req.FName,
		SName:           req.SName,
		IDNum:           req.IDNum,
		Contact:         req.Contact,
		DOB:             dob,
		PostalAdd:       req.PostalAdd,
		ResidentialAdd:  req.ResidentialAdd,
		Nationality:     req.Nationality,
		TeamName:        strings.TrimSpace(req.TeamName),
		Group:           strings.ToUpper(strings.TrimSpace(req.Group)),
		Photo:           photo,
		AdminLevel:      req.AdminLevel,
		InviteCode:      req.InviteCode,
		CertificationID: req.CertificationID,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, summary)
}

// Login verifies credentials and returns an access and refresh token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing credentials")
		return
	}

	summary, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	pair, err := h.tokens.issuePair(r.Context(), summary.ID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{TokenPair: pair, User: summary})
}

// Refresh exchanges a refresh token for a new pair. The old refresh token
// stops working.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Refresh == "" {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	accountID, err := h.tokens.rotate(r.Context(), req.Refresh)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	if _, err := h.users.Summary(r.Context(), accountID); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid refresh token")
			return
		}
		writeServiceError(w, r, h.logger, err)
		return
	}

	pair, err := h.tokens.issuePair(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// Logout revokes a refresh token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Refresh == "" {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := h.tokens.revoke(r.Context(), req.Refresh); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the current authenticated account with its role.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	detail, err := h.users.Me(r.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// BecomePlayer attaches a player profile to the caller's account.
func (h *AuthHandler) BecomePlayer(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxProfileFormSize)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	photo, closeFn, err := formUpload(r, formFieldPhoto)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer closeFn()

	isTeamAdmin, _ := strconv.ParseBool(r.FormValue("is_team_admin"))
	profile, err := h.registration.UpgradeToPlayer(r.Context(), userID, services.PlayerInput{
		TeamName:    strings.TrimSpace(r.FormValue("team_name")),
		Group:       strings.ToUpper(strings.TrimSpace(r.FormValue("group"))),
		Photo:       photo,
		IsTeamAdmin: isTeamAdmin,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func registerRequestFromForm(r *http.Request) registerRequest {
	return registerRequest{
		Email:           r.FormValue("email"),
		Password:        r.FormValue("password"),
		FName:           r.FormValue("fname"),
		SName:           r.FormValue("sname"),
		IDNum:           r.FormValue("id_num"),
		Contact:         r.FormValue("contact"),
		DOB:             r.FormValue("dob"),
		PostalAdd:       r.FormValue("postal_add"),
		ResidentialAdd:  r.FormValue("residential_add"),
		Nationality:     r.FormValue("nationality"),
		TeamName:        r.FormValue("team_name"),
		Group:           r.FormValue("group"),
		AdminLevel:      r.FormValue("admin_level"),
		InviteCode:      r.FormValue("invite_code"),
		CertificationID: r.FormValue("umpire_certification_id"),
	}
}

// formUpload opens the named file of a parsed multipart form. A missing
// file yields a nil upload; the caller must call the returned close func.
func formUpload(r *http.Request, field string) (*services.Upload, func(), error) {
	if r.MultipartForm == nil || len(r.MultipartForm.File[field]) == 0 {
		return nil, func() {}, nil
	}
	if len(r.MultipartForm.File[field]) > 1 {
		return nil, nil, errors.New("only one " + field + " file is allowed")
	}
	header := r.MultipartForm.File[field][0]
	file, err := header.Open()
	if err != nil {
		return nil, nil, errors.New("failed to read " + field)
	}
	return uploadFromHeader(header, file), func() { _ = file.Close() }, nil
}

func uploadFromHeader(header *multipart.FileHeader, file multipart.File) *services.Upload {
	return &services.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}
}

func parseDate(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
