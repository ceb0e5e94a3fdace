package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/gcc-cricket/clubserver/internal/qr"
	"github.com/gcc-cricket/clubserver/types"
)

const qrDir = "qr_codes"

// qrKey is the object key of the credential issued to subject for receipt.
func qrKey(subjectID, receiptID int) string {
	return fmt.Sprintf("%s/qr_%d_%d.png", qrDir, subjectID, receiptID)
}

// Subject is the account a credential is rendered for.
type Subject struct {
	Account  types.Account
	Profiles types.ProfileSet
}

// CredentialIssuer renders and stores QR credentials.
type CredentialIssuer struct {
	accounts AccountRepository
	objects  ObjectStore
	urls     MediaURLs
}

func NewCredentialIssuer(accounts AccountRepository, objects ObjectStore, urls MediaURLs) *CredentialIssuer {
	return &CredentialIssuer{accounts: accounts, objects: objects, urls: urls}
}

// LoadSubject reads the receipt's player (RolePlayer) or uploader
// (RoleTeamAdmin). It queries the account repository and must not run while
// the receipt row is locked.
func (c *CredentialIssuer) LoadSubject(ctx context.Context, receipt types.Receipt, role types.Role) (Subject, error) {
	var subjectID int
	switch role {
	case types.RolePlayer:
		subjectID = receipt.PlayerID
	case types.RoleTeamAdmin:
		subjectID = receipt.UploadedBy
	default:
		return Subject{}, ErrInvalidRole
	}

	account, err := c.accounts.GetByID(ctx, subjectID)
	if err != nil {
		return Subject{}, fmt.Errorf("load qr subject %d: %w", subjectID, err)
	}
	profiles, err := c.accounts.Profiles(ctx, subjectID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Subject{}, err
	}
	return Subject{Account: account, Profiles: profiles}, nil
}

// Issue renders subject's credential, stores the image and returns the
// receipt with QRKey and QRSubjectID set. It only touches object storage.
// The caller persists the receipt and removes any previous image.
func (c *CredentialIssuer) Issue(ctx context.Context, receipt types.Receipt, subject Subject) (types.Receipt, error) {
	payload := types.QRPayload{ID: subject.Account.ID, Name: subject.Account.FullName()}
	if p := subject.Profiles.Player; p != nil {
		payload.TeamName = p.TeamName
		payload.ProfilePhotoURL = c.urls.URL(p.PhotoKey)
	}

	png, err := qr.Encode(payload)
	if err != nil {
		return types.Receipt{}, err
	}
	subjectID := subject.Account.ID
	key := qrKey(subjectID, receipt.ID)
	if err := putUpload(ctx, c.objects, key, png, "image/png"); err != nil {
		return types.Receipt{}, err
	}

	receipt.QRKey = key
	receipt.QRSubjectID = &subjectID
	return receipt, nil
}
