package services

import (
	"context"
	"errors"
	"slices"

	"github.com/gcc-cricket/clubserver/types"
)

// RoleResolver derives an account's role from the profiles it holds. Roles
// are resolved on every call and never cached.
type RoleResolver struct {
	accounts AccountRepository
}

func NewRoleResolver(accounts AccountRepository) *RoleResolver {
	return &RoleResolver{accounts: accounts}
}

// Resolve returns the role together with the profiles it was derived from.
func (r *RoleResolver) Resolve(ctx context.Context, accountID int) (types.Role, types.ProfileSet, error) {
	profiles, err := r.accounts.Profiles(ctx, accountID)
	if err != nil {
		return types.RoleUnknown, types.ProfileSet{}, err
	}
	return types.ResolveRole(profiles), profiles, nil
}

// Require fails with ErrNotAuthorized unless the account resolves to one of
// roles. A missing account is also ErrNotAuthorized.
func (r *RoleResolver) Require(ctx context.Context, accountID int, roles ...types.Role) (types.ProfileSet, error) {
	role, profiles, err := r.Resolve(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return types.ProfileSet{}, ErrNotAuthorized
		}
		return types.ProfileSet{}, err
	}
	if !slices.Contains(roles, role) {
		return types.ProfileSet{}, ErrNotAuthorized
	}
	return profiles, nil
}
