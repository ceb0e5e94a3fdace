package types

import (
	"encoding/json"
	"strings"
)

// Role is the functional category derived for an account. It is never
// stored; ResolveRole computes it from the account's profiles.
type Role int

// Supported roles, ordered by resolution precedence.
const (
	RoleUnknown Role = iota
	RoleClubAdmin
	RoleUmpire
	RoleTeamAdmin
	RolePlayer
	RoleMember
)

// String returns the wire name of the role.
func (r Role) String() string {
	switch r {
	case RoleClubAdmin:
		return "club_admin"
	case RoleUmpire:
		return "umpire"
	case RoleTeamAdmin:
		return "team_admin"
	case RolePlayer:
		return "player"
	case RoleMember:
		return "member"
	default:
		return "unknown"
	}
}

func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*r = ParseRole(s)
	return nil
}

// ParseRole accepts wire names as well as the hyphenated forms used in
// registration URLs. Unrecognised input yields RoleUnknown.
func ParseRole(s string) Role {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "club_admin":
		return RoleClubAdmin
	case "umpire":
		return RoleUmpire
	case "team_admin":
		return RoleTeamAdmin
	case "player":
		return RolePlayer
	case "member":
		return RoleMember
	default:
		return RoleUnknown
	}
}

// ResolveRole derives the role from profile existence. First match wins:
// club admin, umpire, team admin or player, member, unknown.
func ResolveRole(p ProfileSet) Role {
	switch {
	case p.ClubAdmin != nil:
		return RoleClubAdmin
	case p.Umpire != nil:
		return RoleUmpire
	case p.Player != nil && p.Player.IsTeamAdmin:
		return RoleTeamAdmin
	case p.Player != nil:
		return RolePlayer
	case p.Member != nil:
		return RoleMember
	default:
		return RoleUnknown
	}
}
