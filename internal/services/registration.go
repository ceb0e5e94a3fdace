package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/gcc-cricket/clubserver/internal/store"
	"github.com/gcc-cricket/clubserver/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	MaxPhotoSize      = 5 << 20
	photoDir          = "profile_photos"
)

// RegistrationInput carries the fields accepted by Register. Player fields
// are read for the player and team admin roles, AdminLevel and InviteCode
// for club admins and CertificationID for umpires.
type RegistrationInput struct {
	Email          string
	Password       string
	FName          string
	SName          string
	IDNum          string
	Contact        string
	DOB            *time.Time
	PostalAdd      string
	ResidentialAdd string
	Nationality    string

	TeamName string
	Group    string
	Photo    *Upload

	AdminLevel      string
	InviteCode      string
	CertificationID string
}

// PlayerInput carries the fields accepted by UpgradeToPlayer.
type PlayerInput struct {
	TeamName    string
	Group       string
	Photo       *Upload
	IsTeamAdmin bool
}

// RegistrationService creates accounts and attaches player profiles.
type RegistrationService struct {
	accounts   AccountRepository
	objects    ObjectStore
	inviteCode string
	logger     *slog.Logger
}

func NewRegistrationService(accounts AccountRepository, objects ObjectStore, inviteCode string, logger *slog.Logger) *RegistrationService {
	return &RegistrationService{
		accounts:   accounts,
		objects:    objects,
		inviteCode: inviteCode,
		logger:     logger,
	}
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account holding the profile for role. The account and
// its profile are written in one transaction; the photo, if any, is removed
// again when that transaction fails.
func (s *RegistrationService) Register(ctx context.Context, role types.Role, in RegistrationInput) (types.AccountSummary, error) {
	if role == types.RoleUnknown {
		return types.AccountSummary{}, ErrInvalidRole
	}

	in.Email = NormalizeEmail(in.Email)
	in.FName = strings.TrimSpace(in.FName)
	in.SName = strings.TrimSpace(in.SName)
	in.IDNum = strings.TrimSpace(in.IDNum)

	errs := fieldErrors{}
	validateAccount(errs, in)
	isPlayer := role == types.RolePlayer || role == types.RoleTeamAdmin
	if isPlayer {
		validatePlayer(errs, in.TeamName, in.Group, in.Photo)
	}
	if role == types.RoleClubAdmin && s.inviteCode != "" &&
		subtle.ConstantTimeCompare([]byte(in.InviteCode), []byte(s.inviteCode)) != 1 {
		errs.add("invite_code", "invalid invite code")
	}
	if err := s.checkUnique(ctx, errs, in); err != nil {
		return types.AccountSummary{}, err
	}
	if err := errs.err(); err != nil {
		return types.AccountSummary{}, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return types.AccountSummary{}, fmt.Errorf("hash password: %w", err)
	}

	var profiles types.ProfileSet
	switch role {
	case types.RoleClubAdmin:
		profiles.ClubAdmin = &types.ClubAdminProfile{AdminLevel: strings.TrimSpace(in.AdminLevel)}
	case types.RoleUmpire:
		profiles.Umpire = &types.UmpireProfile{CertificationID: strings.TrimSpace(in.CertificationID)}
	case types.RoleMember:
		profiles.Member = &types.MemberProfile{}
	case types.RolePlayer, types.RoleTeamAdmin:
		profiles.Player = &types.PlayerProfile{
			TeamName:    in.TeamName,
			Group:       in.Group,
			IsTeamAdmin: role == types.RoleTeamAdmin,
		}
	}

	var photoKey string
	if isPlayer {
		photoKey, err = s.storePhoto(ctx, *in.Photo)
		if err != nil {
			return types.AccountSummary{}, err
		}
		profiles.Player.PhotoKey = photoKey
	}

	account, err := s.accounts.CreateWithProfiles(ctx, types.Account{
		Email:          in.Email,
		PasswordHash:   string(hashed),
		FName:          in.FName,
		SName:          in.SName,
		IDNum:          in.IDNum,
		Contact:        strings.TrimSpace(in.Contact),
		DOB:            in.DOB,
		PostalAdd:      strings.TrimSpace(in.PostalAdd),
		ResidentialAdd: strings.TrimSpace(in.ResidentialAdd),
		Nationality:    strings.TrimSpace(in.Nationality),
	}, profiles)
	if err != nil {
		deleteObjects(ctx, s.objects, s.logger, photoKey)
		return types.AccountSummary{}, conflictToValidation(err)
	}

	s.logger.InfoContext(ctx, "account registered", "account_id", account.ID, "role", role.String())
	return types.AccountSummary{
		ID:    account.ID,
		Email: account.Email,
		FName: account.FName,
		SName: account.SName,
		Role:  types.ResolveRole(profiles),
	}, nil
}

// UpgradeToPlayer attaches a player profile to an existing account. It fails
// with ErrAlreadyPlayer when the account already has one, including when a
// concurrent call won the race. Only club admins may mark themselves team
// admin; anyone else gets ErrNotAuthorized.
func (s *RegistrationService) UpgradeToPlayer(ctx context.Context, accountID int, in PlayerInput) (types.PlayerProfile, error) {
	profiles, err := s.accounts.Profiles(ctx, accountID)
	if err != nil {
		return types.PlayerProfile{}, err
	}
	if profiles.Player != nil {
		return types.PlayerProfile{}, ErrAlreadyPlayer
	}
	if in.IsTeamAdmin && profiles.ClubAdmin == nil {
		return types.PlayerProfile{}, ErrNotAuthorized
	}

	errs := fieldErrors{}
	validatePlayer(errs, in.TeamName, in.Group, in.Photo)
	if err := errs.err(); err != nil {
		return types.PlayerProfile{}, err
	}

	photoKey, err := s.storePhoto(ctx, *in.Photo)
	if err != nil {
		return types.PlayerProfile{}, err
	}

	profile, err := s.accounts.AddPlayerProfile(ctx, accountID, types.PlayerProfile{
		TeamName:    in.TeamName,
		Group:       in.Group,
		IsTeamAdmin: in.IsTeamAdmin,
		PhotoKey:    photoKey,
	})
	if err != nil {
		deleteObjects(ctx, s.objects, s.logger, photoKey)
		var conflict *store.ConflictError
		if errors.As(err, &conflict) && conflict.Field == store.FieldPlayerProfile {
			return types.PlayerProfile{}, ErrAlreadyPlayer
		}
		return types.PlayerProfile{}, err
	}

	s.logger.InfoContext(ctx, "player profile added", "account_id", accountID, "team", profile.TeamName)
	return profile, nil
}

func (s *RegistrationService) checkUnique(ctx context.Context, errs fieldErrors, in RegistrationInput) error {
	if _, ok := errs[store.FieldEmail]; !ok {
		_, err := s.accounts.GetByEmail(ctx, in.Email)
		switch {
		case err == nil:
			errs.add(store.FieldEmail, "an account with this email already exists")
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
	}
	if _, ok := errs[store.FieldIDNum]; !ok {
		exists, err := s.accounts.ExistsByIDNum(ctx, in.IDNum)
		if err != nil {
			return err
		}
		if exists {
			errs.add(store.FieldIDNum, "an account with this ID number already exists")
		}
	}
	return nil
}

func (s *RegistrationService) storePhoto(ctx context.Context, photo Upload) (string, error) {
	data, contentType, err := photo.read(MaxPhotoSize)
	if err != nil {
		if errors.Is(err, errTooLarge) {
			return "", invalidField("profile_photo", "file exceeds 5 MiB")
		}
		return "", fmt.Errorf("read profile photo: %w", err)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", invalidField("profile_photo", "must be an image")
	}
	key := objectKey(photoDir, photo.Filename)
	if err := putUpload(ctx, s.objects, key, data, contentType); err != nil {
		return "", err
	}
	return key, nil
}

func validateAccount(errs fieldErrors, in RegistrationInput) {
	if in.Email == "" {
		errs.add("email", "required")
	} else if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		errs.add("email", "invalid email address")
	}
	if in.Password == "" {
		errs.add("password", "required")
	} else if len(in.Password) < minPasswordLength {
		errs.add("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}
	if in.FName == "" {
		errs.add("fname", "required")
	}
	if in.SName == "" {
		errs.add("sname", "required")
	}
	if in.IDNum == "" {
		errs.add("id_num", "required")
	}
}

func validatePlayer(errs fieldErrors, team, group string, photo *Upload) {
	if team == "" {
		errs.add("team_name", "required")
	} else if !types.IsValidTeam(team) {
		errs.add("team_name", "unknown team")
	}
	if group == "" {
		errs.add("group", "required")
	} else if !types.IsValidGroup(group) {
		errs.add("group", "must be one of A, B, C, D")
	}
	if photo == nil || photo.Body == nil {
		errs.add("profile_photo", "required")
	}
}

// conflictToValidation reports unique violations as field errors.
func conflictToValidation(err error) error {
	var conflict *store.ConflictError
	if !errors.As(err, &conflict) {
		return err
	}
	return invalidField(conflict.Field, "already exists")
}
