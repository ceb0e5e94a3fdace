package types

import "time"

// Account represents a registered person in the club system.
// It carries login identity and personal details; everything role specific
// lives in the profiles attached to it.
type Account struct {
	// ID is the unique identifier of the account.
	ID int `json:"id" db:"id"`

	// Email is the login identity. It is stored trimmed and lower-cased
	// and is unique across all accounts.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the bcrypt hash of the account password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// FName is the first name.
	FName string `json:"fname" db:"fname"`

	// SName is the surname.
	SName string `json:"sname" db:"sname"`

	// IDNum is the national identity or passport number. Unique.
	IDNum string `json:"id_num" db:"id_num"`

	// Contact is an optional phone number.
	Contact string `json:"contact" db:"contact"`

	// DOB is the optional date of birth.
	DOB *time.Time `json:"dob" db:"dob"`

	// PostalAdd is the optional postal address.
	PostalAdd string `json:"postal_add" db:"postal_add"`

	// ResidentialAdd is the optional residential address.
	ResidentialAdd string `json:"residential_add" db:"residential_add"`

	// Nationality is optional.
	Nationality string `json:"nationality" db:"nationality"`

	// CreatedAt is the timestamp when the account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FullName joins first name and surname for display.
func (a Account) FullName() string {
	switch {
	case a.FName == "":
		return a.SName
	case a.SName == "":
		return a.FName
	default:
		return a.FName + " " + a.SName
	}
}

// AccountSummary is the subset of an account returned after registration
// and login.
type AccountSummary struct {
	ID    int    `json:"id"`
	Email string `json:"email"`
	FName string `json:"fname"`
	SName string `json:"sname"`
	Role  Role   `json:"role"`
}

// UserListing is a row of the club admin's user directory.
type UserListing struct {
	ID             int        `json:"id"`
	FName          string     `json:"fname"`
	SName          string     `json:"sname"`
	IDNum          string     `json:"id_num"`
	Contact        string     `json:"contact"`
	DOB            *time.Time `json:"dob"`
	PostalAdd      string     `json:"postal_add"`
	ResidentialAdd string     `json:"residential_add"`
	Nationality    string     `json:"nationality"`
	Role           Role       `json:"role"`
	TeamName       *string    `json:"team_name"`
}

// TeamPlayer joins an account with its player profile.
type TeamPlayer struct {
	Account Account
	Profile PlayerProfile
}

// AccountDetail is an account with its derived role and player details, as
// returned by /me.
type AccountDetail struct {
	Account
	Role            Role    `json:"role"`
	TeamName        *string `json:"team_name"`
	Group           *string `json:"group"`
	IsTeamAdmin     bool    `json:"is_team_admin"`
	ProfilePhotoURL *string `json:"profile_photo_url"`
}

// TeamMember is a row of a team admin's roster.
type TeamMember struct {
	ID              int    `json:"id"`
	Email           string `json:"email"`
	FName           string `json:"fname"`
	SName           string `json:"sname"`
	Contact         string `json:"contact"`
	TeamName        string `json:"team_name"`
	Group           string `json:"group"`
	IsTeamAdmin     bool   `json:"is_team_admin"`
	ProfilePhotoURL string `json:"profile_photo_url"`
}
