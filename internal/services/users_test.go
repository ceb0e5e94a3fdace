package services

import (
	"time"

	"github.com/gcc-cricket/clubserver/internal/session"
	"github.com/gcc-cricket/clubserver/types"
)

func (s *ServiceSuite) TestAuthenticate() {
	in := s.input("Phoenix")
	registered, err := s.registration.Register(s.ctx, types.RoleTeamAdmin, in)
	s.Require().NoError(err)

	summary, err := s.users.Authenticate(s.ctx, "  USER1@example.COM", in.Password)
	s.Require().NoError(err)
	s.Equal(registered.ID, summary.ID)
	s.Equal(types.RoleTeamAdmin, summary.Role)

	_, err = s.users.Authenticate(s.ctx, in.Email, "wrong-password")
	s.ErrorIs(err, ErrInvalidCredentials)

	_, err = s.users.Authenticate(s.ctx, "nobody@example.com", in.Password)
	s.ErrorIs(err, ErrInvalidCredentials)
}

func (s *ServiceSuite) TestMe() {
	player := s.mustRegister(types.RolePlayer, "Cubs XI")

	me, err := s.users.Me(s.ctx, player.ID)
	s.Require().NoError(err)
	s.Equal(types.RolePlayer, me.Role)
	s.Require().NotNil(me.TeamName)
	s.Equal("Cubs XI", *me.TeamName)
	s.Require().NotNil(me.ProfilePhotoURL)
	s.Contains(*me.ProfilePhotoURL, "/media/profile_photos/")

	member := s.mustRegister(types.RoleMember, "")
	me, err = s.users.Me(s.ctx, member.ID)
	s.Require().NoError(err)
	s.Equal(types.RoleMember, me.Role)
	s.Nil(me.TeamName)
	s.Nil(me.ProfilePhotoURL)
}

func (s *ServiceSuite) TestListUsers() {
	admin := s.mustRegister(types.RoleClubAdmin, "")
	player := s.mustRegister(types.RolePlayer, "Phoenix")
	umpire := s.mustRegister(types.RoleUmpire, "")

	users, err := s.users.ListUsers(s.ctx, admin.ID)
	s.Require().NoError(err)
	s.Require().Len(users, 2)

	byID := map[int]types.UserListing{}
	for _, u := range users {
		byID[u.ID] = u
	}
	s.NotContains(byID, admin.ID)
	s.Equal(types.RolePlayer, byID[player.ID].Role)
	s.Require().NotNil(byID[player.ID].TeamName)
	s.Equal("Phoenix", *byID[player.ID].TeamName)
	s.Equal(types.RoleUmpire, byID[umpire.ID].Role)
	s.Nil(byID[umpire.ID].TeamName)

	_, err = s.users.ListUsers(s.ctx, player.ID)
	s.ErrorIs(err, ErrNotAuthorized)
}

func (s *ServiceSuite) TestTeamPlayers() {
	a := s.actors()
	s.mustRegister(types.RolePlayer, "Pioneers")

	players, err := s.users.TeamPlayers(s.ctx, a.teamAdmin.ID)
	s.Require().NoError(err)
	s.Require().Len(players, 2)
	for _, p := range players {
		s.Equal("Thunder Cats", p.TeamName)
		s.NotEmpty(p.ProfilePhotoURL)
	}

	_, err = s.users.TeamPlayers(s.ctx, a.player.ID)
	s.ErrorIs(err, ErrNotAuthorized)
}

func (s *ServiceSuite) TestTeamPlayersForClubAdminTeamAdmin() {
	a := s.actors()
	_, err := s.registration.UpgradeToPlayer(s.ctx, a.clubAdmin.ID, PlayerInput{
		TeamName:    "Thunder Cats",
		Group:       "A",
		Photo:       photoUpload(),
		IsTeamAdmin: true,
	})
	s.Require().NoError(err)

	players, err := s.users.TeamPlayers(s.ctx, a.clubAdmin.ID)
	s.Require().NoError(err)
	s.Len(players, 3)

	// Upload applies the same rule.
	s.mustUpload(a.clubAdmin.ID, a.player.ID)

	_, err = s.users.TeamPlayers(s.ctx, 999)
	s.ErrorIs(err, ErrNotAuthorized)
}

func (s *ServiceSuite) TestDeleteUser() {
	a := s.actors()
	uploaded := s.mustUpload(a.teamAdmin.ID, a.player.ID)
	verified, err := s.receipts.Verify(s.ctx, a.clubAdmin.ID, uploaded.ID)
	s.Require().NoError(err)
	profiles, err := s.store.Accounts().Profiles(s.ctx, a.player.ID)
	s.Require().NoError(err)
	s.Require().NoError(s.sessions.Save(s.ctx, "jti-player", a.player.ID, time.Hour))

	err = s.users.DeleteUser(s.ctx, a.teamAdmin.ID, a.player.ID)
	s.ErrorIs(err, ErrNotAuthorized)

	err = s.users.DeleteUser(s.ctx, a.clubAdmin.ID, a.clubAdmin.ID)
	s.requireFieldError(err, "id")

	s.Require().NoError(s.users.DeleteUser(s.ctx, a.clubAdmin.ID, a.player.ID))

	_, err = s.store.Accounts().GetByID(s.ctx, a.player.ID)
	s.ErrorIs(err, ErrNotFound)
	_, err = s.store.Receipts().Get(s.ctx, uploaded.ID)
	s.ErrorIs(err, ErrNotFound)
	s.False(s.objects.has(profiles.Player.PhotoKey))
	s.False(s.objects.has(verified.FileKey))
	s.False(s.objects.has(verified.QRKey))
	_, err = s.sessions.Consume(s.ctx, "jti-player")
	s.ErrorIs(err, session.ErrNotFound)

	err = s.users.DeleteUser(s.ctx, a.clubAdmin.ID, a.player.ID)
	s.ErrorIs(err, ErrNotFound)
}

func (s *ServiceSuite) TestUpdatePlayerProfile() {
	a := s.actors()

	group := "D"
	promote := true
	profile, err := s.users.UpdatePlayerProfile(s.ctx, a.clubAdmin.ID, a.player.ID, PlayerUpdate{Group: &group, IsTeamAdmin: &promote})
	s.Require().NoError(err)
	s.Equal("D", profile.Group)
	s.Equal("Thunder Cats", profile.TeamName)

	role, _, err := s.roles.Resolve(s.ctx, a.player.ID)
	s.Require().NoError(err)
	s.Equal(types.RoleTeamAdmin, role)

	bad := "Z"
	_, err = s.users.UpdatePlayerProfile(s.ctx, a.clubAdmin.ID, a.player.ID, PlayerUpdate{Group: &bad})
	s.requireFieldError(err, "group")

	_, err = s.users.UpdatePlayerProfile(s.ctx, a.teamAdmin.ID, a.player.ID, PlayerUpdate{Group: &group})
	s.ErrorIs(err, ErrNotAuthorized)

	member := s.mustRegister(types.RoleMember, "")
	_, err = s.users.UpdatePlayerProfile(s.ctx, a.clubAdmin.ID, member.ID, PlayerUpdate{Group: &group})
	s.ErrorIs(err, ErrNotFound)
}
