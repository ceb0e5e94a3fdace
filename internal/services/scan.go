package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gcc-cricket/clubserver/internal/qr"
	"github.com/gcc-cricket/clubserver/types"
)

// ScanService turns a photographed credential into a gate decision.
type ScanService struct {
	accounts AccountRepository
	receipts ReceiptRepository
	urls     MediaURLs
	logger   *slog.Logger
}

func NewScanService(accounts AccountRepository, receipts ReceiptRepository, urls MediaURLs, logger *slog.Logger) *ScanService {
	return &ScanService{accounts: accounts, receipts: receipts, urls: urls, logger: logger}
}

// Scan decodes the credential in image and reports the subject's current
// details and payment status. Only the payload's id is trusted; everything
// else is read live.
func (s *ScanService) Scan(ctx context.Context, image []byte) (types.ScanResult, error) {
	text, err := qr.Decode(ctx, image)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.ScanResult{}, ctxErr
		}
		return types.ScanResult{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	payload, err := qr.ParsePayload(text)
	if err != nil {
		return types.ScanResult{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	account, err := s.accounts.GetByID(ctx, payload.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return types.ScanResult{}, ErrSubjectNotFound
		}
		return types.ScanResult{}, err
	}
	profiles, err := s.accounts.Profiles(ctx, payload.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return types.ScanResult{}, ErrSubjectNotFound
		}
		return types.ScanResult{}, err
	}
	if profiles.Player == nil {
		return types.ScanResult{}, ErrSubjectNotFound
	}

	verified, err := s.receipts.List(ctx, types.ReceiptFilter{
		Status:      types.ReceiptVerified,
		QRSubjectID: account.ID,
		Limit:       1,
	})
	if err != nil {
		return types.ScanResult{}, err
	}
	status := types.PaymentNotVerified
	if len(verified) > 0 {
		status = types.PaymentVerified
	}

	s.logger.InfoContext(ctx, "credential scanned", "account_id", account.ID, "payment_status", status)
	return types.ScanResult{
		AccountID:       account.ID,
		FName:           account.FName,
		SName:           account.SName,
		TeamName:        profiles.Player.TeamName,
		Group:           profiles.Player.Group,
		ProfilePhotoURL: s.urls.URL(profiles.Player.PhotoKey),
		PaymentStatus:   status,
	}, nil
}
