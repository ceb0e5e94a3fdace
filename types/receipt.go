package types

import (
	"encoding/json"
	"time"
)

// ReceiptStatus is the review state of a payment receipt.
type ReceiptStatus string

// Receipt states. Unverified is the initial state.
const (
	ReceiptUnverified ReceiptStatus = "unverified"
	ReceiptVerified   ReceiptStatus = "verified"
	ReceiptRejected   ReceiptStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s ReceiptStatus) Valid() bool {
	switch s {
	case ReceiptUnverified, ReceiptVerified, ReceiptRejected:
		return true
	}
	return false
}

// Receipt is a claimed payment uploaded by a team admin on behalf of a
// player and reviewed by a club admin.
type Receipt struct {
	// ID is the unique identifier of the receipt.
	ID int `json:"id" db:"id"`

	// PlayerID is the account the payment is for.
	PlayerID int `json:"player" db:"player_id"`

	// UploadedBy is the team admin account that uploaded the receipt.
	UploadedBy int `json:"uploaded_by" db:"uploaded_by"`

	// FileKey is the object storage key of the uploaded receipt file.
	FileKey string `json:"-" db:"file_key"`

	// Note is free text supplied by the uploader.
	Note string `json:"note" db:"note"`

	// Status is the review state.
	Status ReceiptStatus `json:"status" db:"status"`

	// UploadedAt is the upload timestamp.
	UploadedAt time.Time `json:"uploaded_at" db:"uploaded_at"`

	// ReviewedAt is set by the most recent verify or reject.
	ReviewedAt *time.Time `json:"reviewed_at" db:"reviewed_at"`

	// ReviewedBy is the club admin that last reviewed the receipt.
	ReviewedBy *int `json:"reviewed_by" db:"reviewed_by"`

	// ReviewNote is the club admin's comment, typically a rejection reason.
	ReviewNote string `json:"review_note" db:"review_note"`

	// QRKey is the object storage key of the issued credential image.
	// Empty until the receipt is verified.
	QRKey string `json:"-" db:"qr_key"`

	// QRSubjectID is the account the credential was issued to.
	QRSubjectID *int `json:"qr_subject_id" db:"qr_subject_id"`
}

// Verified reports whether the receipt is in the verified state.
func (r Receipt) Verified() bool {
	return r.Status == ReceiptVerified
}

// ReceiptFilter narrows receipt listings. Zero values do not filter.
type ReceiptFilter struct {
	Status      ReceiptStatus
	PlayerID    int
	UploadedBy  int
	QRSubjectID int
	// Involving matches receipts where the account is the player or the
	// uploader.
	Involving int
	// Limit caps the number of rows; 0 means no limit.
	Limit int
}

// ReceiptView is the API representation of a receipt with names and links
// resolved.
type ReceiptView struct {
	Receipt
	PlayerName     string  `json:"player_name"`
	UploadedByName string  `json:"uploaded_by_name"`
	TeamName       *string `json:"team_name"`
	Group          *string `json:"group"`
	FileURL        string  `json:"file"`
	QRCodeURL      *string `json:"qr_code_url"`
}

// MarshalJSON adds the legacy is_verified flag next to status.
func (v ReceiptView) MarshalJSON() ([]byte, error) {
	type view ReceiptView
	return json.Marshal(struct {
		view
		IsVerified bool `json:"is_verified"`
	}{view(v), v.Verified()})
}

// ReceiptEvent is published when a receipt changes state.
type ReceiptEvent struct {
	Type       string        `json:"type"`
	ReceiptID  int           `json:"receipt_id"`
	PlayerID   int           `json:"player_id"`
	UploadedBy int           `json:"uploaded_by"`
	Status     ReceiptStatus `json:"status"`
	ActorID    int           `json:"actor_id"`
	SubjectID  *int          `json:"subject_id,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// Receipt event types.
const (
	EventReceiptVerified = "receipt.verified"
	EventReceiptRejected = "receipt.rejected"
)

// QRPayload is the record embedded in a credential image. It is a snapshot
// taken at issuance and is only trusted for its ID.
type QRPayload struct {
	ID              int    `json:"id"`
	Name            string `json:"name"`
	TeamName        string `json:"team_name"`
	ProfilePhotoURL string `json:"profile_photo_url"`
}

// Payment status labels returned by a scan.
const (
	PaymentVerified    = "Verified"
	PaymentNotVerified = "Not Verified"
)

// ScanResult is the gate decision for a scanned credential. All fields are
// read from live data at scan time.
type ScanResult struct {
	AccountID       int    `json:"id"`
	FName           string `json:"fname"`
	SName           string `json:"sname"`
	TeamName        string `json:"team_name"`
	Group           string `json:"group"`
	ProfilePhotoURL string `json:"profile_photo_url"`
	PaymentStatus   string `json:"payment_status"`
}
