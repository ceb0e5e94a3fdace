package store

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a uniqueness rule.
var ErrConflict = errors.New("conflict")

// Conflicting fields reported by ConflictError.
const (
	FieldEmail         = "email"
	FieldIDNum         = "id_num"
	FieldPlayerProfile = "player_profile"
	FieldProfile       = "profile"
)

// ConflictError names the field whose uniqueness was violated.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already exists", e.Field)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

const pqUniqueViolation = "23505"

var constraintFields = map[string]string{
	"accounts_email_key":             FieldEmail,
	"accounts_id_num_key":            FieldIDNum,
	"player_profiles_account_id_key": FieldPlayerProfile,
	"club_admin_profiles_pkey":       FieldProfile,
	"umpire_profiles_pkey":           FieldProfile,
	"member_profiles_pkey":           FieldProfile,
}

// mapConstraintError turns unique violations into ConflictError and passes
// anything else through.
func mapConstraintError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != pqUniqueViolation {
		return err
	}
	field, ok := constraintFields[pqErr.Constraint]
	if !ok {
		field = pqErr.Constraint
	}
	return &ConflictError{Field: field}
}

const pqForeignKeyViolation = "23503"

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation
}
