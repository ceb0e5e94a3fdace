package services

import (
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/skip2/go-qrcode"

	"github.com/gcc-cricket/clubserver/internal/qr"
	"github.com/gcc-cricket/clubserver/types"
)

func (s *ServiceSuite) storedImage(key string) []byte {
	rc, err := s.objects.Get(s.ctx, key)
	s.Require().NoError(err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	s.Require().NoError(err)
	return data
}

func (s *ServiceSuite) TestScanVerifiedCredential() {
	a := s.actors()
	uploaded := s.mustUpload(a.teamAdmin.ID, a.player.ID)
	verified, err := s.receipts.Verify(s.ctx, a.clubAdmin.ID, uploaded.ID)
	s.Require().NoError(err)

	result, err := s.scans.Scan(s.ctx, s.storedImage(verified.QRKey))
	s.Require().NoError(err)
	s.Equal(a.player.ID, result.AccountID)
	s.Equal(a.player.FName, result.FName)
	s.Equal("Last", result.SName)
	s.Equal("Thunder Cats", result.TeamName)
	s.Equal("A", result.Group)
	s.Contains(result.ProfilePhotoURL, testBaseURL+"/media/profile_photos/")
	s.Equal(types.PaymentVerified, result.PaymentStatus)
}

func (s *ServiceSuite) TestScanReadsLiveData() {
	a := s.actors()
	uploaded := s.mustUpload(a.teamAdmin.ID, a.player.ID)
	verified, err := s.receipts.Verify(s.ctx, a.clubAdmin.ID, uploaded.ID)
	s.Require().NoError(err)
	image := s.storedImage(verified.QRKey)

	team := "Pioneers"
	_, err = s.users.UpdatePlayerProfile(s.ctx, a.clubAdmin.ID, a.player.ID, PlayerUpdate{TeamName: &team})
	s.Require().NoError(err)

	result, err := s.scans.Scan(s.ctx, image)
	s.Require().NoError(err)
	s.Equal("Pioneers", result.TeamName)
	s.Equal(types.PaymentVerified, result.PaymentStatus)

	_, err = s.receipts.Reject(s.ctx, a.clubAdmin.ID, uploaded.ID, "chargeback")
	s.Require().NoError(err)

	result, err = s.scans.Scan(s.ctx, image)
	s.Require().NoError(err)
	s.Equal(types.PaymentNotVerified, result.PaymentStatus)
}

func (s *ServiceSuite) TestScanPlayerWithoutReceipt() {
	player := s.mustRegister(types.RolePlayer, "Phoenix")
	png, err := qr.Encode(types.QRPayload{ID: player.ID, Name: "forged", TeamName: "Elsewhere"})
	s.Require().NoError(err)

	result, err := s.scans.Scan(s.ctx, png)
	s.Require().NoError(err)
	s.Equal("Phoenix", result.TeamName)
	s.Equal(types.PaymentNotVerified, result.PaymentStatus)
}

func (s *ServiceSuite) TestScanDeletedSubject() {
	a := s.actors()
	uploaded := s.mustUpload(a.teamAdmin.ID, a.player.ID)
	verified, err := s.receipts.Verify(s.ctx, a.clubAdmin.ID, uploaded.ID)
	s.Require().NoError(err)
	image := s.storedImage(verified.QRKey)

	s.Require().NoError(s.users.DeleteUser(s.ctx, a.clubAdmin.ID, a.player.ID))

	_, err = s.scans.Scan(s.ctx, image)
	s.ErrorIs(err, ErrSubjectNotFound)
}

func (s *ServiceSuite) TestScanSubjectWithoutPlayerProfile() {
	member := s.mustRegister(types.RoleMember, "")
	png, err := qr.Encode(types.QRPayload{ID: member.ID})
	s.Require().NoError(err)

	_, err = s.scans.Scan(s.ctx, png)
	s.ErrorIs(err, ErrSubjectNotFound)
}

func (s *ServiceSuite) TestScanUndecodableImage() {
	_, err := s.scans.Scan(s.ctx, testPNG())
	s.ErrorIs(err, ErrDecode)

	_, err = s.scans.Scan(s.ctx, []byte("garbage"))
	s.ErrorIs(err, ErrDecode)
}

func (s *ServiceSuite) TestScanMalformedPayload() {
	for _, text := range []string{"hello gate", `{"name": "no id"}`} {
		png, err := qrcode.Encode(text, qrcode.Medium, qr.Size)
		s.Require().NoError(err)

		_, err = s.scans.Scan(s.ctx, png)
		s.ErrorIs(err, ErrMalformedPayload, text)
	}
}

func (s *ServiceSuite) TestScanSingleQuotedPayload() {
	player := s.mustRegister(types.RolePlayer, "Phoenix")
	text := "{'id': " + strconv.Itoa(player.ID) + ", 'name': 'x'}"
	png, err := qrcode.Encode(text, qrcode.Medium, qr.Size)
	s.Require().NoError(err)

	result, err := s.scans.Scan(s.ctx, png)
	s.Require().NoError(err)
	s.Equal(player.ID, result.AccountID)
}

func (s *ServiceSuite) TestScanCancelled() {
	png, err := qr.Encode(types.QRPayload{ID: 1})
	s.Require().NoError(err)
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err = s.scans.Scan(ctx, png)
	// Decoding may finish before the cancellation is observed, in which
	// case the unknown subject is reported instead.
	if !errors.Is(err, context.Canceled) {
		s.ErrorIs(err, ErrSubjectNotFound)
	}
}
