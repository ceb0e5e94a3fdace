package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gcc-cricket/clubserver/internal/services"
	"github.com/gcc-cricket/clubserver/internal/session"
	"github.com/gcc-cricket/clubserver/internal/store"
	"github.com/go-chi/chi/v5"
)

func newIssuer() *tokenIssuer {
	return &tokenIssuer{
		secret:     []byte("secret"),
		accessTTL:  time.Minute,
		refreshTTL: time.Hour,
		sessions:   session.NewMemoryStore(),
	}
}

func TestTokenPairRotation(t *testing.T) {
	ctx := context.Background()
	issuer := newIssuer()

	pair, err := issuer.issuePair(ctx, 42)
	require.NoError(t, err)

	claims, err := parseToken(pair.Access, issuer.secret, tokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.Subject)

	_, err = parseToken(pair.Access, issuer.secret, tokenTypeRefresh)
	assert.Error(t, err)
	_, err = parseToken(pair.Refresh, []byte("other"), tokenTypeRefresh)
	assert.Error(t, err)

	id, err := issuer.rotate(ctx, pair.Refresh)
	require.NoError(t, err)
	assert.Equal(t, 42, id)

	_, err = issuer.rotate(ctx, pair.Refresh)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestTokenRevoke(t *testing.T) {
	ctx := context.Background()
	issuer := newIssuer()

	pair, err := issuer.issuePair(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, issuer.revoke(ctx, pair.Refresh))

	_, err = issuer.rotate(ctx, pair.Refresh)
	assert.Error(t, err)
	assert.Error(t, issuer.revoke(ctx, "not-a-token"))
}

func TestExpiredTokenRejected(t *testing.T) {
	token, err := issueToken(1, []byte("secret"), -time.Minute, tokenTypeAccess, "")
	require.NoError(t, err)
	_, err = parseToken(token, []byte("secret"), tokenTypeAccess)
	assert.Error(t, err)
}

func TestRequireAuth(t *testing.T) {
	secret := "secret"
	var seen int
	handler := RequireAuth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := userIDFromContext(r.Context())
		require.NoError(t, err)
		seen = id
		w.WriteHeader(http.StatusOK)
	}))

	access, err := issueToken(9, []byte(secret), time.Minute, tokenTypeAccess, "")
	require.NoError(t, err)
	refresh, err := issueToken(9, []byte(secret), time.Minute, tokenTypeRefresh, "jti")
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + access, http.StatusUnauthorized},
		{"refresh token", "Bearer " + refresh, http.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized},
		{"access token", "bearer " + access, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
	assert.Equal(t, 9, seen)
}

func TestIPLimiter(t *testing.T) {
	limiter := newIPLimiter(60, 2)
	handler := limiter.middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	hit := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, hit("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, hit("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, hit("10.0.0.1:1002"))
	assert.Equal(t, http.StatusOK, hit("10.0.0.2:1000"))
}

func TestWriteServiceError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cases := []struct {
		err  error
		want int
	}{
		{&services.ValidationError{Fields: map[string]string{"email": "required"}}, http.StatusBadRequest},
		{services.ErrNotAuthorized, http.StatusForbidden},
		{fmt.Errorf("load: %w", store.ErrNotFound), http.StatusNotFound},
		{services.ErrSubjectNotFound, http.StatusNotFound},
		{services.ErrInvalidCredentials, http.StatusUnauthorized},
		{services.ErrAlreadyPlayer, http.StatusBadRequest},
		{services.ErrAlreadyVerified, http.StatusConflict},
		{services.ErrInvalidTransition, http.StatusConflict},
		{services.ErrInvalidRole, http.StatusBadRequest},
		{fmt.Errorf("%w: no finder pattern", services.ErrDecode), http.StatusBadRequest},
		{services.ErrMalformedPayload, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			writeServiceError(rec, req, logger, tc.err)
			assert.Equal(t, tc.want, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestValidationErrorBody(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	writeServiceError(rec, req, slog.Default(), &services.ValidationError{Fields: map[string]string{"group": "must be one of A, B, C, D"}})

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "must be one of A, B, C, D", body.Fields["group"])
}

func TestValidMediaKey(t *testing.T) {
	assert.True(t, validMediaKey("receipts/abc.pdf"))
	assert.True(t, validMediaKey("qr_codes/qr_1_2.png"))
	assert.True(t, validMediaKey("profile_photos/x.jpg"))
	assert.False(t, validMediaKey(""))
	assert.False(t, validMediaKey("receipts/"))
	assert.False(t, validMediaKey("receipts/../secret"))
	assert.False(t, validMediaKey("other/file"))
	assert.False(t, validMediaKey("receipts//x"))
}

func TestParseDate(t *testing.T) {
	d, err := parseDate(" 2001-02-03 ")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 2001, d.Year())

	d, err = parseDate("")
	require.NoError(t, err)
	assert.Nil(t, d)

	_, err = parseDate("03/02/2001")
	assert.Error(t, err)
}

func oversizedPhotoForm(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("team_name", "Phoenix"))
	part, err := mw.CreateFormFile(formFieldPhoto, "huge.png")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte{0x89}, services.MaxPhotoSize+2<<20))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestProfileFormsAreSizeCapped(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewAuthHandler(nil, nil, session.NewMemoryStore(), AuthOptions{
		JWTSecret:          "secret",
		LoginRatePerMinute: 60,
		LoginBurst:         5,
	}, logger)
	router := chi.NewRouter()
	AuthRouter(router, h)

	access, err := issueToken(3, []byte("secret"), time.Minute, tokenTypeAccess, "")
	require.NoError(t, err)

	cases := []struct {
		name  string
		path  string
		token string
	}{
		{"register", "/register/player", ""},
		{"become player", "/become-player", access},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, contentType := oversizedPhotoForm(t)
			req := httptest.NewRequest(http.MethodPost, tc.path, body)
			req.Header.Set("Content-Type", contentType)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var out ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
			assert.Equal(t, "invalid multipart form", out.Error)
		})
	}
}
