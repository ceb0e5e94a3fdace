package types

import (
	"slices"
	"time"
)

// Teams lists the clubs entered in the league. A player profile must name
// one of them.
var Teams = []string{
	"Thunder Cats",
	"Black Mambas 1",
	"Forvis Mazars A",
	"Motozone",
	"Lobatse Cricket Club",
	"Pioneers",
	"United Gymkhana",
	"All Stars",
	"SH Tyre City",
	"Gujarat Strikers B",
	"Phoenix",
	"Ceylon Cricket Club",
	"DJ Devils",
	"BD Cricket Club",
	"SKY XI",
	"Cubs XI",
	"Nawabz Boys",
	"Auto World",
	"FD Titans",
	"Pulse Cricket Stallion",
	"Elite Sports",
	"Excel Strikers",
	"PWC",
	"Black Mambas 2",
	"Moremi Kings (Chennai)",
	"Forvis Mazars Juniors",
	"Sefalana",
	"Friends",
	"A-One",
	"Cheetas",
}

// Groups lists the league groups.
var Groups = []string{"A", "B", "C", "D"}

// IsValidTeam reports whether name is one of Teams.
func IsValidTeam(name string) bool {
	return slices.Contains(Teams, name)
}

// IsValidGroup reports whether g is one of Groups.
func IsValidGroup(g string) bool {
	return slices.Contains(Groups, g)
}

// PlayerProfile is attached to accounts that play. Team admins are players
// with IsTeamAdmin set.
type PlayerProfile struct {
	// ID is the unique identifier of the profile.
	ID int `json:"id" db:"id"`

	// AccountID is the owning account. An account holds at most one
	// player profile.
	AccountID int `json:"account_id" db:"account_id"`

	// TeamName is one of Teams.
	TeamName string `json:"team_name" db:"team_name"`

	// Group is one of Groups.
	Group string `json:"group" db:"group_name"`

	// IsTeamAdmin marks the player allowed to upload receipts for the team.
	IsTeamAdmin bool `json:"is_team_admin" db:"is_team_admin"`

	// PhotoKey is the object storage key of the profile photo.
	PhotoKey string `json:"-" db:"photo_key"`

	// CreatedAt is the timestamp when the profile was attached.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type ClubAdminProfile struct {
	AccountID  int    `json:"account_id" db:"account_id"`
	AdminLevel string `json:"admin_level" db:"admin_level"`
}

type UmpireProfile struct {
	AccountID       int    `json:"account_id" db:"account_id"`
	CertificationID string `json:"umpire_certification_id" db:"certification_id"`
}

type MemberProfile struct {
	AccountID int `json:"account_id" db:"account_id"`
}

// ProfileSet holds every profile an account currently has. Nil means the
// profile kind is absent. Nothing prevents several kinds from coexisting.
type ProfileSet struct {
	ClubAdmin *ClubAdminProfile
	Umpire    *UmpireProfile
	Player    *PlayerProfile
	Member    *MemberProfile
}

// Empty reports whether no profile is present.
func (p ProfileSet) Empty() bool {
	return p.ClubAdmin == nil && p.Umpire == nil && p.Player == nil && p.Member == nil
}

// TeamName returns the player's team, or nil when there is no player profile.
func (p ProfileSet) TeamName() *string {
	if p.Player == nil {
		return nil
	}
	name := p.Player.TeamName
	return &name
}
