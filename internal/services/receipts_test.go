package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gcc-cricket/clubserver/types"
)

type receiptActors struct {
	clubAdmin types.AccountSummary
	teamAdmin types.AccountSummary
	player    types.AccountSummary
}

func (s *ServiceSuite) actors() receiptActors {
	return receiptActors{
		clubAdmin: s.mustRegister(types.RoleClubAdmin, ""),
		teamAdmin: s.mustRegister(types.RoleTeamAdmin, "Thunder Cats"),
		player:    s.mustRegister(types.RolePlayer, "Thunder Cats"),
	}
}

func (s *ServiceSuite) TestUploadReceipt() {
	a := s.actors()

	view := s.mustUpload(a.teamAdmin.ID, a.player.ID)

	s.Equal(types.ReceiptUnverified, view.Status)
	s.False(view.Verified())
	s.Equal(a.player.ID, view.PlayerID)
	s.Equal(a.teamAdmin.ID, view.UploadedBy)
	s.Equal("season fee", view.Note)
	s.Equal(a.player.FName+" Last", view.PlayerName)
	s.Require().NotNil(view.TeamName)
	s.Equal("Thunder Cats", *view.TeamName)
	s.Contains(view.FileURL, testBaseURL+"/media/receipts/")
	s.Nil(view.QRCodeURL)
	s.True(s.objects.has(view.FileKey))
}

func (s *ServiceSuite) TestUploadRequiresTeamAdmin() {
	a := s.actors()
	other := s.mustRegister(types.RolePlayer, "Thunder Cats")

	_, err := s.receipts.Upload(s.ctx, a.player.ID, other.ID, receiptUpload(), "")
	s.ErrorIs(err, ErrNotAuthorized)

	_, err = s.receipts.Upload(s.ctx, a.clubAdmin.ID, a.player.ID, receiptUpload(), "")
	s.ErrorIs(err, ErrNotAuthorized)
}

func (s *ServiceSuite) TestUploadRequiresSameTeam() {
	a := s.actors()
	outsider := s.mustRegister(types.RolePlayer, "Pioneers")

	_, err := s.receipts.Upload(s.ctx, a.teamAdmin.ID, outsider.ID, receiptUpload(), "")
	s.ErrorIs(err, ErrNotAuthorized)

	member := s.mustRegister(types.RoleMember, "")
	_, err = s.receipts.Upload(s.ctx, a.teamAdmin.ID, member.ID, receiptUpload(), "")
	s.requireFieldError(err, "player")

	_, err = s.receipts.Upload(s.ctx, a.teamAdmin.ID, 999, receiptUpload(), "")
	s.requireFieldError(err, "player")
	s.Zero(s.objects.putCount(receiptDir))
}

func (s *ServiceSuite) TestUploadTooLarge() {
	a := s.actors()
	big := bytes.Repeat([]byte("x"), MaxReceiptSize+1)

	_, err := s.receipts.Upload(s.ctx, a.teamAdmin.ID, a.player.ID, &Upload{Filename: "big.pdf", Body: bytes.NewReader(big)}, "")
	s.requireFieldError(err, "file")

	_, err = s.receipts.Upload(s.ctx, a.teamAdmin.ID, a.player.ID, nil, "")
	s.requireFieldError(err, "file")
}

func (s *ServiceSuite) TestVerifyIssuesCredential() {
	a := s.actors()
	uploaded := s.mustUpload(a.teamAdmin.ID, a.player.ID)

	view, err := s.receipts.Verify(s.ctx, a.clubAdmin.ID, uploaded.ID)
	s.Require().NoError(err)

	s.Equal(types.ReceiptVerified, view.Status)
	s.True(view.Verified())
	s.Require().NotNil(view.ReviewedBy)
	s.Equal(a.clubAdmin.ID, *view.ReviewedBy)
	s.NotNil(view.ReviewedAt)
	s.Equal(fmt.Sprintf("qr_codes/qr_%d_%d.png", a.player.ID, uploaded.ID), view.QRKey)
	s.Require().NotNil(view.QRSubjectID)
	s.Equal(a.player.ID, *view.QRSubjectID)
	s.Require().NotNil(view.QRCodeURL)
	s.Equal(testBaseURL+"/media/"+view.QRKey, *view.QRCodeURL)
	s.True(s.objects.has(view.QRKey))

	data, err := json.Marshal(view)
	s.Require().NoError(err)
	s.Contains(string(data), `"is_verified":true`)

	url, err := s.receipts.PlayerQR(s.ctx, a.player.ID)
	s.Require().NoError(err)
	s.Require().NotNil(url)
	s.Equal(*view.QRCodeURL, *url)

	s.Equal([]string{types.EventReceiptVerified}, s.events.eventTypes())
	var event types.ReceiptEvent
	s.Require().NoError(json.Unmarshal(s.events.events[0].data, &event))
	s.Equal(uploaded.ID, event.ReceiptID)
	s.Equal(a.clubAdmin.ID, event.ActorID)
	s.Equal("club.receipts", s.events.events[0].channel)
}

func (s *ServiceSuite) TestVerifyRequiresClubAdmin() {
	a := s.actors()
	uploaded := s.mustUpload(a.teamAdmin.ID, a.player.ID)

	for _, actor := range []int{a.teamAdmin.ID, a.player.ID, 999} {
		_, err := s.receipts.Verify(s.ctx, actor, uploaded.ID)
		s.ErrorIs(err, ErrNotAuthorized)
	}
	got, err := s.store.Receipts().Get(s.ctx, uploaded.ID)
	s.Require().NoError(err)
	s.Equal(types.ReceiptUnverified, got.Status)
	s.Zero(s.objects.putCount(qrDir))
}

func (s *ServiceSuite) TestVerifyUnknownReceipt() {
	a := s.actors()
	_, err := s.receipts.Verify(s.ctx, a.clubAdmin.ID, 404)
	s.ErrorIs(err, ErrNotFound)
}

func (s *ServiceSuite) TestVerifyTwice() {
	a := s.actors()
	uploaded := s.mustUpload(a.teamAdmin.ID, a.player.ID)

	_, err := s.receipts.Verify(s.ctx, a.clubAdmin.ID, uploaded.ID)
	s.Require().NoError(err)
	_, err = s.receipts.Verify(s.ctx, a.clubAdmin.ID, uploaded.ID)
	s.ErrorIs(err, ErrAlreadyVerified)
	s.Equal(1, s.objects.putCount(qrDir))
}

func (s *ServiceSuite) TestConcurrentVerifyIssuesOnce() {
	a := s.actors()
	uploaded := s.mustUpload(a.teamAdmin.ID, a.player.ID)

	const callers = 12
	results := make(chan error, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.receipts.Verify(s.ctx, a.clubAdmin.ID, uploaded.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, already int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyVerified):
			already++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, ok)
	s.Equal(callers-1, already)
	s.Equal(1, s.objects.putCount(qrDir))
	s.Len(s.events.eventTypes(), 1)
}

func (s *ServiceSuite) TestRejectRevokesCredential() {
	a := s.actors()
	uploaded := s.mustUpload(a.teamAdmin.ID, a.player.ID)
	verified, err := s.receipts.Verify(s.ctx, a.clubAdmin.ID, uploaded.ID)
	s.Require().NoError(err)

	rejected, err := s.receipts.Reject(s.ctx, a.clubAdmin.ID, uploaded.ID, " wrong amount ")
	s.Require().NoError(err)
	s.Equal(types.ReceiptRejected, rejected.Status)
	s.Equal("wrong amount", rejected.ReviewNote)
	s.Empty(rejected.QRKey)
	s.Nil(rejected.QRSubjectID)
	s.Nil(rejected.QRCodeURL)
	s.False(s.objects.has(verified.QRKey))

	url, err := s.receipts.PlayerQR(s.ctx, a.player.ID)
	s.Require().NoError(err)
	s.Nil(url)

	_, err = s.receipts.Reject(s.ctx, a.clubAdmin.ID, uploaded.ID, "again")
	s.ErrorIs(err, ErrInvalidTransition)

	// A rejected receipt can be verified after review.
	again, err := s.receipts.Verify(s.ctx, a.clubAdmin.ID, uploaded.ID)
	s.Require().NoError(err)
	s.Equal(types.ReceiptVerified, again.Status)
	s.Empty(again.ReviewNote)
	s.True(s.objects.has(again.QRKey))

	s.Equal([]string{types.EventReceiptVerified, types.EventReceiptRejected, types.EventReceiptVerified}, s.events.eventTypes())
}

func (s *ServiceSuite) TestRejectUnverified() {
	a := s.actors()
	uploaded := s.mustUpload(a.teamAdmin.ID, a.player.ID)

	_, err := s.receipts.Reject(s.ctx, a.teamAdmin.ID, uploaded.ID, "")
	s.ErrorIs(err, ErrNotAuthorized)

	rejected, err := s.receipts.Reject(s.ctx, a.clubAdmin.ID, uploaded.ID, "blurry")
	s.Require().NoError(err)
	s.Equal(types.ReceiptRejected, rejected.Status)
	s.Zero(s.objects.putCount(qrDir))
}

func (s *ServiceSuite) TestReissueForTeamAdmin() {
	a := s.actors()
	uploaded := s.mustUpload(a.teamAdmin.ID, a.player.ID)

	_, err := s.receipts.Reissue(s.ctx, a.clubAdmin.ID, uploaded.ID, types.RoleTeamAdmin)
	s.ErrorIs(err, ErrInvalidTransition)

	verified, err := s.receipts.Verify(s.ctx, a.clubAdmin.ID, uploaded.ID)
	s.Require().NoError(err)

	_, err = s.receipts.Reissue(s.ctx, a.clubAdmin.ID, uploaded.ID, types.RoleUmpire)
	s.ErrorIs(err, ErrInvalidRole)

	reissued, err := s.receipts.Reissue(s.ctx, a.clubAdmin.ID, uploaded.ID, types.RoleTeamAdmin)
	s.Require().NoError(err)
	s.Equal(fmt.Sprintf("qr_codes/qr_%d_%d.png", a.teamAdmin.ID, uploaded.ID), reissued.QRKey)
	s.Require().NotNil(reissued.QRSubjectID)
	s.Equal(a.teamAdmin.ID, *reissued.QRSubjectID)
	s.False(s.objects.has(verified.QRKey))
	s.True(s.objects.has(reissued.QRKey))

	url, err := s.receipts.TeamAdminQR(s.ctx, a.teamAdmin.ID)
	s.Require().NoError(err)
	s.Require().NotNil(url)
	s.Equal(*reissued.QRCodeURL, *url)

	_, err = s.receipts.TeamAdminQR(s.ctx, a.player.ID)
	s.ErrorIs(err, ErrNotAuthorized)
}

func (s *ServiceSuite) TestListScoping() {
	a := s.actors()
	otherAdmin := s.mustRegister(types.RoleTeamAdmin, "Pioneers")
	otherPlayer := s.mustRegister(types.RolePlayer, "Pioneers")

	mine := s.mustUpload(a.teamAdmin.ID, a.player.ID)
	theirs := s.mustUpload(otherAdmin.ID, otherPlayer.ID)
	_, err := s.receipts.Verify(s.ctx, a.clubAdmin.ID, theirs.ID)
	s.Require().NoError(err)

	all, err := s.receipts.List(s.ctx, a.clubAdmin.ID)
	s.Require().NoError(err)
	s.Len(all, 2)

	forPlayer, err := s.receipts.List(s.ctx, a.player.ID)
	s.Require().NoError(err)
	s.Require().Len(forPlayer, 1)
	s.Equal(mine.ID, forPlayer[0].ID)

	forUploader, err := s.receipts.List(s.ctx, otherAdmin.ID)
	s.Require().NoError(err)
	s.Require().Len(forUploader, 1)
	s.Equal(theirs.ID, forUploader[0].ID)

	unverified, err := s.receipts.ListUnverified(s.ctx, a.clubAdmin.ID)
	s.Require().NoError(err)
	s.Require().Len(unverified, 1)
	s.Equal(mine.ID, unverified[0].ID)

	_, err = s.receipts.ListUnverified(s.ctx, a.teamAdmin.ID)
	s.ErrorIs(err, ErrNotAuthorized)
}

func (s *ServiceSuite) TestPublishFailureDoesNotFailVerify() {
	a := s.actors()
	uploaded := s.mustUpload(a.teamAdmin.ID, a.player.ID)
	s.events.err = errors.New("broker down")

	view, err := s.receipts.Verify(s.ctx, a.clubAdmin.ID, uploaded.ID)
	s.Require().NoError(err)
	s.True(view.Verified())
}

// connPool models a database pool with a single connection shared by the
// account and receipt repositories.
type connPool chan struct{}

func (p connPool) acquire(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	select {
	case p <- struct{}{}:
		return func() { <-p }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type pooledAccounts struct {
	AccountRepository
	pool connPool
}

func (a pooledAccounts) GetByID(ctx context.Context, id int) (types.Account, error) {
	release, err := a.pool.acquire(ctx)
	if err != nil {
		return types.Account{}, err
	}
	defer release()
	return a.AccountRepository.GetByID(ctx, id)
}

func (a pooledAccounts) Profiles(ctx context.Context, accountID int) (types.ProfileSet, error) {
	release, err := a.pool.acquire(ctx)
	if err != nil {
		return types.ProfileSet{}, err
	}
	defer release()
	return a.AccountRepository.Profiles(ctx, accountID)
}

type pooledReceipts struct {
	ReceiptRepository
	pool connPool
}

func (r pooledReceipts) Get(ctx context.Context, id int) (types.Receipt, error) {
	release, err := r.pool.acquire(ctx)
	if err != nil {
		return types.Receipt{}, err
	}
	defer release()
	return r.ReceiptRepository.Get(ctx, id)
}

// Transition keeps its connection until fn returns, like a row lock held
// inside a transaction.
func (r pooledReceipts) Transition(ctx context.Context, id int, fn func(types.Receipt) (types.Receipt, error)) (types.Receipt, error) {
	release, err := r.pool.acquire(ctx)
	if err != nil {
		return types.Receipt{}, err
	}
	defer release()
	return r.ReceiptRepository.Transition(ctx, id, fn)
}

func (s *ServiceSuite) TestTransitionsFitSingleConnection() {
	a := s.actors()
	uploaded := s.mustUpload(a.teamAdmin.ID, a.player.ID)

	pool := make(connPool, 1)
	accounts := pooledAccounts{AccountRepository: s.store.Accounts(), pool: pool}
	receipts := pooledReceipts{ReceiptRepository: s.store.Receipts(), pool: pool}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	issuer := NewCredentialIssuer(accounts, s.objects, s.urls)
	service := NewReceiptService(receipts, accounts, NewRoleResolver(accounts), issuer, s.objects, s.urls, nil, "club.receipts", logger)

	verified, err := service.Verify(s.ctx, a.clubAdmin.ID, uploaded.ID)
	s.Require().NoError(err)
	s.Equal(types.ReceiptVerified, verified.Status)
	s.True(s.objects.has(verified.QRKey))

	reissued, err := service.Reissue(s.ctx, a.clubAdmin.ID, uploaded.ID, types.RoleTeamAdmin)
	s.Require().NoError(err)
	s.Require().NotNil(reissued.QRSubjectID)
	s.Equal(a.teamAdmin.ID, *reissued.QRSubjectID)

	_, err = service.Reject(s.ctx, a.clubAdmin.ID, uploaded.ID, "duplicate")
	s.Require().NoError(err)
}
