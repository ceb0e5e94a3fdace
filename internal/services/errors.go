package services

import (
	"errors"
	"maps"
	"slices"
	"strings"

	"github.com/gcc-cricket/clubserver/internal/store"
)

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = store.ErrNotFound

	ErrNotAuthorized      = errors.New("not authorized")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAlreadyPlayer      = errors.New("account already has a player profile")
	ErrAlreadyVerified    = errors.New("receipt already verified")
	ErrInvalidTransition  = errors.New("invalid receipt transition")
	ErrInvalidRole        = errors.New("invalid role")
	ErrDecode             = errors.New("could not decode qr code")
	ErrMalformedPayload   = errors.New("malformed qr payload")
	ErrSubjectNotFound    = errors.New("qr subject not found")
)

// ValidationError reports invalid input per field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := slices.Sorted(maps.Keys(e.Fields))
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+e.Fields[key])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// fieldErrors collects per-field problems while validating input.
type fieldErrors map[string]string

func (f fieldErrors) add(field, msg string) {
	if _, ok := f[field]; !ok {
		f[field] = msg
	}
}

// err returns a *ValidationError, or nil when nothing was added.
func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Fields: map[string]string(f)}
}

func invalidField(field, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}
