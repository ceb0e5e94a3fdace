package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gcc-cricket/clubserver/internal/store"
	"github.com/gcc-cricket/clubserver/types"
	"golang.org/x/crypto/bcrypt"
)

// PlayerUpdate holds the player profile fields a club admin may change. Nil
// fields are left as they are.
type PlayerUpdate struct {
	TeamName    *string
	Group       *string
	IsTeamAdmin *bool
}

// UserService encapsulates account use-cases outside registration.
type UserService struct {
	accounts AccountRepository
	receipts ReceiptRepository
	roles    *RoleResolver
	objects  ObjectStore
	sessions SessionRevoker
	urls     MediaURLs
	logger   *slog.Logger
}

func NewUserService(accounts AccountRepository, receipts ReceiptRepository, roles *RoleResolver, objects ObjectStore, sessions SessionRevoker, urls MediaURLs, logger *slog.Logger) *UserService {
	return &UserService{
		accounts: accounts,
		receipts: receipts,
		roles:    roles,
		objects:  objects,
		sessions: sessions,
		urls:     urls,
		logger:   logger,
	}
}

// Authenticate checks credentials and returns the account summary. Unknown
// emails and wrong passwords both yield ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (types.AccountSummary, error) {
	account, err := s.accounts.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.AccountSummary{}, ErrInvalidCredentials
		}
		return types.AccountSummary{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return types.AccountSummary{}, ErrInvalidCredentials
	}
	role, _, err := s.roles.Resolve(ctx, account.ID)
	if err != nil {
		return types.AccountSummary{}, err
	}
	return summarize(account, role), nil
}

// Summary returns the account summary with its current role.
func (s *UserService) Summary(ctx context.Context, accountID int) (types.AccountSummary, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return types.AccountSummary{}, err
	}
	role, _, err := s.roles.Resolve(ctx, accountID)
	if err != nil {
		return types.AccountSummary{}, err
	}
	return summarize(account, role), nil
}

// Me returns the caller's account with its role and player details.
func (s *UserService) Me(ctx context.Context, accountID int) (types.AccountDetail, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return types.AccountDetail{}, err
	}
	role, profiles, err := s.roles.Resolve(ctx, accountID)
	if err != nil {
		return types.AccountDetail{}, err
	}
	detail := types.AccountDetail{Account: account, Role: role}
	if p := profiles.Player; p != nil {
		detail.TeamName = &p.TeamName
		detail.Group = &p.Group
		detail.IsTeamAdmin = p.IsTeamAdmin
		detail.ProfilePhotoURL = s.urls.Ptr(p.PhotoKey)
	}
	return detail, nil
}

// ListUsers returns every account except the caller's. Club admins only.
func (s *UserService) ListUsers(ctx context.Context, actorID int) ([]types.UserListing, error) {
	if _, err := s.roles.Require(ctx, actorID, types.RoleClubAdmin); err != nil {
		return nil, err
	}
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, err
	}

	users := make([]types.UserListing, 0, len(accounts))
	for _, account := range accounts {
		if account.ID == actorID {
			continue
		}
		profiles, err := s.accounts.Profiles(ctx, account.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		users = append(users, types.UserListing{
			ID:             account.ID,
			FName:          account.FName,
			SName:          account.SName,
			IDNum:          account.IDNum,
			Contact:        account.Contact,
			DOB:            account.DOB,
			PostalAdd:      account.PostalAdd,
			ResidentialAdd: account.ResidentialAdd,
			Nationality:    account.Nationality,
			Role:           types.ResolveRole(profiles),
			TeamName:       profiles.TeamName(),
		})
	}
	return users, nil
}

// TeamPlayers lists the players on the caller's team. Like receipt upload it
// checks the team admin flag on the caller's player profile, so a club admin
// who is also a team admin can list the team.
func (s *UserService) TeamPlayers(ctx context.Context, actorID int) ([]types.TeamMember, error) {
	profiles, err := s.accounts.Profiles(ctx, actorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotAuthorized
		}
		return nil, err
	}
	if profiles.Player == nil || !profiles.Player.IsTeamAdmin {
		return nil, ErrNotAuthorized
	}
	players, err := s.accounts.ListPlayersByTeam(ctx, profiles.Player.TeamName)
	if err != nil {
		return nil, err
	}
	members := make([]types.TeamMember, 0, len(players))
	for _, p := range players {
		members = append(members, types.TeamMember{
			ID:              p.Account.ID,
			Email:           p.Account.Email,
			FName:           p.Account.FName,
			SName:           p.Account.SName,
			Contact:         p.Account.Contact,
			TeamName:        p.Profile.TeamName,
			Group:           p.Profile.Group,
			IsTeamAdmin:     p.Profile.IsTeamAdmin,
			ProfilePhotoURL: s.urls.URL(p.Profile.PhotoKey),
		})
	}
	return members, nil
}

// DeleteUser removes an account with its profiles and receipts, then drops
// the stored files and sessions that belonged to it. Club admins only.
func (s *UserService) DeleteUser(ctx context.Context, actorID, accountID int) error {
	if _, err := s.roles.Require(ctx, actorID, types.RoleClubAdmin); err != nil {
		return err
	}
	if actorID == accountID {
		return invalidField("id", "cannot delete your own account")
	}

	profiles, err := s.accounts.Profiles(ctx, accountID)
	if err != nil {
		return err
	}
	receipts, err := s.receipts.List(ctx, types.ReceiptFilter{Involving: accountID})
	if err != nil {
		return err
	}
	var keys []string
	if profiles.Player != nil {
		keys = append(keys, profiles.Player.PhotoKey)
	}
	for _, receipt := range receipts {
		keys = append(keys, receipt.FileKey, receipt.QRKey)
	}

	if err := s.accounts.Delete(ctx, accountID); err != nil {
		return err
	}
	deleteObjects(ctx, s.objects, s.logger, keys...)
	if err := s.sessions.RevokeAccount(ctx, accountID); err != nil {
		s.logger.WarnContext(ctx, "revoke sessions failed", "account_id", accountID, "error", err)
	}
	s.logger.InfoContext(ctx, "account deleted", "account_id", accountID, "actor_id", actorID)
	return nil
}

// UpdatePlayerProfile changes another account's player profile. Club admins
// only.
func (s *UserService) UpdatePlayerProfile(ctx context.Context, actorID, accountID int, update PlayerUpdate) (types.PlayerProfile, error) {
	if _, err := s.roles.Require(ctx, actorID, types.RoleClubAdmin); err != nil {
		return types.PlayerProfile{}, err
	}
	profiles, err := s.accounts.Profiles(ctx, accountID)
	if err != nil {
		return types.PlayerProfile{}, err
	}
	if profiles.Player == nil {
		return types.PlayerProfile{}, ErrNotFound
	}

	profile := *profiles.Player
	errs := fieldErrors{}
	if update.TeamName != nil {
		if !types.IsValidTeam(*update.TeamName) {
			errs.add("team_name", "unknown team")
		}
		profile.TeamName = *update.TeamName
	}
	if update.Group != nil {
		if !types.IsValidGroup(*update.Group) {
			errs.add("group", "must be one of A, B, C, D")
		}
		profile.Group = *update.Group
	}
	if update.IsTeamAdmin != nil {
		profile.IsTeamAdmin = *update.IsTeamAdmin
	}
	if err := errs.err(); err != nil {
		return types.PlayerProfile{}, err
	}
	return s.accounts.UpdatePlayerProfile(ctx, profile)
}

func summarize(account types.Account, role types.Role) types.AccountSummary {
	return types.AccountSummary{
		ID:    account.ID,
		Email: account.Email,
		FName: account.FName,
		SName: account.SName,
		Role:  role,
	}
}
