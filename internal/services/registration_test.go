package services

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/gcc-cricket/clubserver/internal/store"
	"github.com/gcc-cricket/clubserver/types"
)

func (s *ServiceSuite) TestRegisterPlayer() {
	summary := s.mustRegister(types.RolePlayer, "Phoenix")

	s.Equal(types.RolePlayer, summary.Role)
	s.Equal("user1@example.com", summary.Email)

	profiles, err := s.store.Accounts().Profiles(s.ctx, summary.ID)
	s.Require().NoError(err)
	s.Require().NotNil(profiles.Player)
	s.Equal("Phoenix", profiles.Player.TeamName)
	s.False(profiles.Player.IsTeamAdmin)
	s.True(strings.HasPrefix(profiles.Player.PhotoKey, "profile_photos/"))
	s.True(strings.HasSuffix(profiles.Player.PhotoKey, ".png"))
	s.True(s.objects.has(profiles.Player.PhotoKey))
}

func (s *ServiceSuite) TestRegisterEachRole() {
	cases := map[types.Role]func(types.ProfileSet) bool{
		types.RoleClubAdmin: func(p types.ProfileSet) bool { return p.ClubAdmin != nil },
		types.RoleUmpire:    func(p types.ProfileSet) bool { return p.Umpire != nil },
		types.RoleMember:    func(p types.ProfileSet) bool { return p.Member != nil },
		types.RoleTeamAdmin: func(p types.ProfileSet) bool { return p.Player != nil && p.Player.IsTeamAdmin },
	}
	for role, has := range cases {
		summary := s.mustRegister(role, "Motozone")
		s.Equal(role, summary.Role, role.String())

		got, profiles, err := s.roles.Resolve(s.ctx, summary.ID)
		s.Require().NoError(err)
		s.Equal(role, got)
		s.True(has(profiles), role.String())
	}
}

func (s *ServiceSuite) TestRegisterUnknownRole() {
	_, err := s.registration.Register(s.ctx, types.RoleUnknown, s.input("Phoenix"))
	s.ErrorIs(err, ErrInvalidRole)
}

func (s *ServiceSuite) TestRegisterDuplicateEmail() {
	first := s.input("Phoenix")
	_, err := s.registration.Register(s.ctx, types.RolePlayer, first)
	s.Require().NoError(err)

	second := s.input("Phoenix")
	second.Email = strings.ToUpper(first.Email)
	_, err = s.registration.Register(s.ctx, types.RolePlayer, second)
	s.requireFieldError(err, store.FieldEmail)
}

func (s *ServiceSuite) TestRegisterDuplicateIDNum() {
	first := s.input("")
	_, err := s.registration.Register(s.ctx, types.RoleMember, first)
	s.Require().NoError(err)

	second := s.input("")
	second.IDNum = first.IDNum
	_, err = s.registration.Register(s.ctx, types.RoleUmpire, second)
	s.requireFieldError(err, store.FieldIDNum)
}

func (s *ServiceSuite) TestRegisterValidation() {
	in := s.input("Nowhere United")
	in.Email = "not-an-email"
	in.Password = "short"
	in.FName = "  "
	in.Group = "E"
	in.Photo = nil

	_, err := s.registration.Register(s.ctx, types.RolePlayer, in)
	var verr *ValidationError
	s.Require().ErrorAs(err, &verr)
	for _, field := range []string{"email", "password", "fname", "team_name", "group", "profile_photo"} {
		s.Contains(verr.Fields, field)
	}
	s.Empty(s.objects.Keys())
}

func (s *ServiceSuite) TestRegisterRejectsNonImagePhoto() {
	in := s.input("Phoenix")
	in.Photo = &Upload{Filename: "me.png", Body: strings.NewReader("plain text, not a picture")}

	_, err := s.registration.Register(s.ctx, types.RolePlayer, in)
	s.requireFieldError(err, "profile_photo")
	s.Empty(s.objects.Keys())
}

func (s *ServiceSuite) TestRegisterMemberIgnoresPlayerFields() {
	in := s.input("")
	in.Group = ""
	in.Photo = nil
	summary, err := s.registration.Register(s.ctx, types.RoleMember, in)
	s.Require().NoError(err)
	s.Equal(types.RoleMember, summary.Role)
	s.Empty(s.objects.Keys())
}

func (s *ServiceSuite) TestRegisterClubAdminInviteCode() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewRegistrationService(s.store.Accounts(), s.objects, "let-me-in", logger)

	in := s.input("")
	in.InviteCode = "wrong"
	_, err := svc.Register(s.ctx, types.RoleClubAdmin, in)
	s.requireFieldError(err, "invite_code")

	in = s.input("")
	in.InviteCode = "let-me-in"
	summary, err := svc.Register(s.ctx, types.RoleClubAdmin, in)
	s.Require().NoError(err)
	s.Equal(types.RoleClubAdmin, summary.Role)
}

func (s *ServiceSuite) TestUpgradeToPlayer() {
	member := s.mustRegister(types.RoleMember, "")

	profile, err := s.registration.UpgradeToPlayer(s.ctx, member.ID, PlayerInput{
		TeamName: "Sefalana",
		Group:    "C",
		Photo:    photoUpload(),
	})
	s.Require().NoError(err)
	s.Equal("Sefalana", profile.TeamName)

	role, _, err := s.roles.Resolve(s.ctx, member.ID)
	s.Require().NoError(err)
	s.Equal(types.RolePlayer, role)

	_, err = s.registration.UpgradeToPlayer(s.ctx, member.ID, PlayerInput{
		TeamName: "Sefalana",
		Group:    "C",
		Photo:    photoUpload(),
	})
	s.ErrorIs(err, ErrAlreadyPlayer)
}

func (s *ServiceSuite) TestUpgradeToPlayerUnknownAccount() {
	_, err := s.registration.UpgradeToPlayer(s.ctx, 999, PlayerInput{TeamName: "Sefalana", Group: "C", Photo: photoUpload()})
	s.ErrorIs(err, ErrNotFound)
}

func (s *ServiceSuite) TestConcurrentUpgradeCreatesOneProfile() {
	member := s.mustRegister(types.RoleMember, "")
	data := testPNG()

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		already   int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.registration.UpgradeToPlayer(s.ctx, member.ID, PlayerInput{
				TeamName: "Friends",
				Group:    "B",
				Photo:    &Upload{Filename: "p.png", Body: bytes.NewReader(data)},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyPlayer):
				already++
			}
		}()
	}
	wg.Wait()

	s.Equal(1, successes)
	s.Equal(callers-1, already)
	// Photos of losing callers are removed again.
	s.Len(s.objects.Keys(), 1)
}

func (s *ServiceSuite) TestUpgradeToPlayerTeamAdminFlagNeedsClubAdmin() {
	member := s.mustRegister(types.RoleMember, "")
	before := s.objects.putCount(photoDir)

	_, err := s.registration.UpgradeToPlayer(s.ctx, member.ID, PlayerInput{
		TeamName:    "Thunder Cats",
		Group:       "B",
		Photo:       photoUpload(),
		IsTeamAdmin: true,
	})
	s.ErrorIs(err, ErrNotAuthorized)
	s.Equal(before, s.objects.putCount(photoDir))

	profiles, err := s.store.Accounts().Profiles(s.ctx, member.ID)
	s.Require().NoError(err)
	s.Nil(profiles.Player)
}

func (s *ServiceSuite) TestClubAdminBecomingPlayerStaysClubAdmin() {
	admin := s.mustRegister(types.RoleClubAdmin, "")

	_, err := s.registration.UpgradeToPlayer(s.ctx, admin.ID, PlayerInput{
		TeamName:    "Phoenix",
		Group:       "A",
		Photo:       photoUpload(),
		IsTeamAdmin: true,
	})
	s.Require().NoError(err)

	role, profiles, err := s.roles.Resolve(s.ctx, admin.ID)
	s.Require().NoError(err)
	s.Equal(types.RoleClubAdmin, role)
	s.NotNil(profiles.Player)

	// Player-only endpoints key off the profile, not the role.
	qr, err := s.receipts.PlayerQR(s.ctx, admin.ID)
	s.Require().NoError(err)
	s.Nil(qr)
}
