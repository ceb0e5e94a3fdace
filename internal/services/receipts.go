package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gcc-cricket/clubserver/internal/mq"
	"github.com/gcc-cricket/clubserver/types"
)

const (
	// MaxReceiptSize caps uploaded receipt files.
	MaxReceiptSize = 10 << 20
	receiptDir     = "receipts"
)

// ReceiptService runs the receipt review workflow: upload by a team admin,
// then verify or reject by a club admin.
type ReceiptService struct {
	receipts ReceiptRepository
	accounts AccountRepository
	roles    *RoleResolver
	issuer   *CredentialIssuer
	objects  ObjectStore
	urls     MediaURLs
	events   EventPublisher
	topic    string
	logger   *slog.Logger
	now      func() time.Time
}

// NewReceiptService wires the workflow. events may be nil, in which case no
// domain events are published.
func NewReceiptService(
	receipts ReceiptRepository,
	accounts AccountRepository,
	roles *RoleResolver,
	issuer *CredentialIssuer,
	objects ObjectStore,
	urls MediaURLs,
	events EventPublisher,
	topic string,
	logger *slog.Logger,
) *ReceiptService {
	return &ReceiptService{
		receipts: receipts,
		accounts: accounts,
		roles:    roles,
		issuer:   issuer,
		objects:  objects,
		urls:     urls,
		events:   events,
		topic:    topic,
		logger:   logger,
		now:      time.Now,
	}
}

// Upload stores a receipt file for playerID. The uploader must be a team
// admin and the player must be on the uploader's team.
func (s *ReceiptService) Upload(ctx context.Context, uploaderID, playerID int, file *Upload, note string) (types.ReceiptView, error) {
	errs := fieldErrors{}
	if playerID <= 0 {
		errs.add("player", "required")
	}
	if file == nil || file.Body == nil {
		errs.add("file", "required")
	}
	if err := errs.err(); err != nil {
		return types.ReceiptView{}, err
	}

	uploader, err := s.accounts.Profiles(ctx, uploaderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return types.ReceiptView{}, ErrNotAuthorized
		}
		return types.ReceiptView{}, err
	}
	if uploader.Player == nil || !uploader.Player.IsTeamAdmin {
		return types.ReceiptView{}, ErrNotAuthorized
	}
	player, err := s.accounts.Profiles(ctx, playerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return types.ReceiptView{}, invalidField("player", "unknown player")
		}
		return types.ReceiptView{}, err
	}
	if player.Player == nil {
		return types.ReceiptView{}, invalidField("player", "account is not a player")
	}
	if player.Player.TeamName != uploader.Player.TeamName {
		return types.ReceiptView{}, ErrNotAuthorized
	}

	data, contentType, err := file.read(MaxReceiptSize)
	if err != nil {
		if errors.Is(err, errTooLarge) {
			return types.ReceiptView{}, invalidField("file", "file exceeds 10 MiB")
		}
		return types.ReceiptView{}, fmt.Errorf("read receipt: %w", err)
	}
	key := objectKey(receiptDir, file.Filename)
	if err := putUpload(ctx, s.objects, key, data, contentType); err != nil {
		return types.ReceiptView{}, err
	}

	receipt, err := s.receipts.Create(ctx, types.Receipt{
		PlayerID:   playerID,
		UploadedBy: uploaderID,
		FileKey:    key,
		Note:       strings.TrimSpace(note),
		Status:     types.ReceiptUnverified,
	})
	if err != nil {
		deleteObjects(ctx, s.objects, s.logger, key)
		return types.ReceiptView{}, err
	}

	s.logger.InfoContext(ctx, "receipt uploaded", "receipt_id", receipt.ID, "player_id", playerID, "uploaded_by", uploaderID)
	return s.view(ctx, receipt, newNameCache(s.accounts))
}

// Verify marks a receipt verified and issues the player's credential in the
// same locked transition. The player is loaded before the lock is taken so
// the transition holds a single database connection. A receipt is verified
// at most once; later calls fail with ErrAlreadyVerified.
func (s *ReceiptService) Verify(ctx context.Context, actorID, receiptID int) (types.ReceiptView, error) {
	if _, err := s.roles.Require(ctx, actorID, types.RoleClubAdmin); err != nil {
		return types.ReceiptView{}, err
	}

	current, err := s.receipts.Get(ctx, receiptID)
	if err != nil {
		return types.ReceiptView{}, err
	}
	if current.Status == types.ReceiptVerified {
		return types.ReceiptView{}, ErrAlreadyVerified
	}
	subject, err := s.issuer.LoadSubject(ctx, current, types.RolePlayer)
	if err != nil {
		return types.ReceiptView{}, err
	}

	var issued, previous string
	receipt, err := s.receipts.Transition(ctx, receiptID, func(r types.Receipt) (types.Receipt, error) {
		if r.Status == types.ReceiptVerified {
			return r, ErrAlreadyVerified
		}
		previous = r.QRKey
		r.Status = types.ReceiptVerified
		s.markReviewed(&r, actorID, "")

		r, err := s.issuer.Issue(ctx, r, subject)
		if err != nil {
			return r, err
		}
		issued = r.QRKey
		return r, nil
	})
	if err != nil {
		if issued != "" && issued != previous {
			deleteObjects(ctx, s.objects, s.logger, issued)
		}
		return types.ReceiptView{}, err
	}
	if previous != "" && previous != issued {
		deleteObjects(ctx, s.objects, s.logger, previous)
	}

	s.logger.InfoContext(ctx, "receipt verified", "receipt_id", receipt.ID, "actor_id", actorID)
	s.publish(ctx, types.EventReceiptVerified, receipt, actorID)
	return s.view(ctx, receipt, newNameCache(s.accounts))
}

// Reject marks a receipt rejected and revokes any credential issued for
// it. Unverified and verified receipts can be rejected.
func (s *ReceiptService) Reject(ctx context.Context, actorID, receiptID int, note string) (types.ReceiptView, error) {
	if _, err := s.roles.Require(ctx, actorID, types.RoleClubAdmin); err != nil {
		return types.ReceiptView{}, err
	}

	var revoked string
	receipt, err := s.receipts.Transition(ctx, receiptID, func(r types.Receipt) (types.Receipt, error) {
		if r.Status == types.ReceiptRejected {
			return r, ErrInvalidTransition
		}
		revoked = r.QRKey
		r.Status = types.ReceiptRejected
		s.markReviewed(&r, actorID, strings.TrimSpace(note))
		r.QRKey = ""
		r.QRSubjectID = nil
		return r, nil
	})
	if err != nil {
		return types.ReceiptView{}, err
	}
	deleteObjects(ctx, s.objects, s.logger, revoked)

	s.logger.InfoContext(ctx, "receipt rejected", "receipt_id", receipt.ID, "actor_id", actorID)
	s.publish(ctx, types.EventReceiptRejected, receipt, actorID)
	return s.view(ctx, receipt, newNameCache(s.accounts))
}

// Reissue renders the credential of a verified receipt again, for the
// player or for the uploading team admin.
func (s *ReceiptService) Reissue(ctx context.Context, actorID, receiptID int, role types.Role) (types.ReceiptView, error) {
	if _, err := s.roles.Require(ctx, actorID, types.RoleClubAdmin); err != nil {
		return types.ReceiptView{}, err
	}
	if role != types.RolePlayer && role != types.RoleTeamAdmin {
		return types.ReceiptView{}, ErrInvalidRole
	}

	current, err := s.receipts.Get(ctx, receiptID)
	if err != nil {
		return types.ReceiptView{}, err
	}
	if current.Status != types.ReceiptVerified {
		return types.ReceiptView{}, ErrInvalidTransition
	}
	subject, err := s.issuer.LoadSubject(ctx, current, role)
	if err != nil {
		return types.ReceiptView{}, err
	}

	var issued, previous string
	receipt, err := s.receipts.Transition(ctx, receiptID, func(r types.Receipt) (types.Receipt, error) {
		if r.Status != types.ReceiptVerified {
			return r, ErrInvalidTransition
		}
		previous = r.QRKey
		r, err := s.issuer.Issue(ctx, r, subject)
		if err != nil {
			return r, err
		}
		issued = r.QRKey
		return r, nil
	})
	if err != nil {
		if issued != "" && issued != previous {
			deleteObjects(ctx, s.objects, s.logger, issued)
		}
		return types.ReceiptView{}, err
	}
	if previous != "" && previous != issued {
		deleteObjects(ctx, s.objects, s.logger, previous)
	}

	s.logger.InfoContext(ctx, "credential reissued", "receipt_id", receipt.ID, "role", role.String(), "actor_id", actorID)
	return s.view(ctx, receipt, newNameCache(s.accounts))
}

// ListUnverified returns receipts awaiting review. Club admins only.
func (s *ReceiptService) ListUnverified(ctx context.Context, actorID int) ([]types.ReceiptView, error) {
	if _, err := s.roles.Require(ctx, actorID, types.RoleClubAdmin); err != nil {
		return nil, err
	}
	receipts, err := s.receipts.List(ctx, types.ReceiptFilter{Status: types.ReceiptUnverified})
	if err != nil {
		return nil, err
	}
	return s.views(ctx, receipts)
}

// List returns every receipt to club admins and, to anyone else, the
// receipts they uploaded or that are about them.
func (s *ReceiptService) List(ctx context.Context, actorID int) ([]types.ReceiptView, error) {
	role, _, err := s.roles.Resolve(ctx, actorID)
	if err != nil {
		return nil, err
	}
	filter := types.ReceiptFilter{Involving: actorID}
	if role == types.RoleClubAdmin {
		filter = types.ReceiptFilter{}
	}
	receipts, err := s.receipts.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, receipts)
}

// PlayerQR returns the URL of the newest credential issued to the caller,
// or nil when there is none. The caller must hold a player profile.
func (s *ReceiptService) PlayerQR(ctx context.Context, accountID int) (*string, error) {
	profiles, err := s.accounts.Profiles(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if profiles.Player == nil {
		return nil, ErrNotAuthorized
	}
	return s.latestQR(ctx, types.ReceiptFilter{
		Status:      types.ReceiptVerified,
		QRSubjectID: accountID,
	})
}

// TeamAdminQR returns the URL of the newest credential issued to the
// caller on a receipt the caller uploaded, or nil when there is none.
func (s *ReceiptService) TeamAdminQR(ctx context.Context, accountID int) (*string, error) {
	profiles, err := s.accounts.Profiles(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if profiles.Player == nil || !profiles.Player.IsTeamAdmin {
		return nil, ErrNotAuthorized
	}
	return s.latestQR(ctx, types.ReceiptFilter{
		Status:      types.ReceiptVerified,
		UploadedBy:  accountID,
		QRSubjectID: accountID,
	})
}

func (s *ReceiptService) latestQR(ctx context.Context, filter types.ReceiptFilter) (*string, error) {
	receipts, err := s.receipts.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	for _, receipt := range receipts {
		if receipt.QRKey != "" {
			return s.urls.Ptr(receipt.QRKey), nil
		}
	}
	return nil, nil
}

func (s *ReceiptService) markReviewed(r *types.Receipt, actorID int, note string) {
	now := s.now()
	r.ReviewedAt = &now
	r.ReviewedBy = &actorID
	r.ReviewNote = note
}

// publish emits a receipt event after commit. Failures are logged and do not
// affect the caller.
func (s *ReceiptService) publish(ctx context.Context, eventType string, receipt types.Receipt, actorID int) {
	if s.events == nil {
		return
	}
	event := types.ReceiptEvent{
		Type:       eventType,
		ReceiptID:  receipt.ID,
		PlayerID:   receipt.PlayerID,
		UploadedBy: receipt.UploadedBy,
		Status:     receipt.Status,
		ActorID:    actorID,
		SubjectID:  receipt.QRSubjectID,
		OccurredAt: s.now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal receipt event failed", "error", err)
		return
	}
	attrs := map[string]string{
		mq.AttrEventType:   eventType,
		mq.AttrContentType: "application/json",
	}
	if _, err := s.events.Publish(ctx, s.topic, data, attrs); err != nil {
		s.logger.WarnContext(ctx, "publish receipt event failed", "event", eventType, "receipt_id", receipt.ID, "error", err)
	}
}

func (s *ReceiptService) views(ctx context.Context, receipts []types.Receipt) ([]types.ReceiptView, error) {
	names := newNameCache(s.accounts)
	views := make([]types.ReceiptView, 0, len(receipts))
	for _, receipt := range receipts {
		view, err := s.view(ctx, receipt, names)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *ReceiptService) view(ctx context.Context, receipt types.Receipt, names *nameCache) (types.ReceiptView, error) {
	player, err := names.get(ctx, receipt.PlayerID)
	if err != nil {
		return types.ReceiptView{}, err
	}
	uploader, err := names.get(ctx, receipt.UploadedBy)
	if err != nil {
		return types.ReceiptView{}, err
	}
	view := types.ReceiptView{
		Receipt:        receipt,
		PlayerName:     player.name,
		UploadedByName: uploader.name,
		FileURL:        s.urls.URL(receipt.FileKey),
		QRCodeURL:      s.urls.Ptr(receipt.QRKey),
	}
	if p := player.profiles.Player; p != nil {
		view.TeamName = &p.TeamName
		view.Group = &p.Group
	}
	return view, nil
}

type cachedAccount struct {
	name     string
	profiles types.ProfileSet
}

// nameCache memoizes account lookups while building a batch of views.
type nameCache struct {
	accounts AccountRepository
	entries  map[int]cachedAccount
}

func newNameCache(accounts AccountRepository) *nameCache {
	return &nameCache{accounts: accounts, entries: make(map[int]cachedAccount)}
}

func (c *nameCache) get(ctx context.Context, id int) (cachedAccount, error) {
	if entry, ok := c.entries[id]; ok {
		return entry, nil
	}
	account, err := c.accounts.GetByID(ctx, id)
	if err != nil {
		return cachedAccount{}, fmt.Errorf("load account %d: %w", id, err)
	}
	profiles, err := c.accounts.Profiles(ctx, id)
	if err != nil {
		return cachedAccount{}, err
	}
	entry := cachedAccount{name: account.FullName(), profiles: profiles}
	c.entries[id] = entry
	return entry, nil
}
