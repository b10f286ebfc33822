package guard

import (
	"github.com/nexus-stack/nexus-core/internal/store"
)

// CheckPermissions decides whether the user may perform an operation that
// accepts any of the required permission slugs. The check is scoped to one
// team: teamID when given, otherwise the user's current team.
//
// The user must hold an active membership in that team whose role is active
// and carries at least one of the required slugs. Role hierarchies do not
// grant through parents; only the role's own permission list counts. An
// empty requirement admits any authenticated user.
func CheckPermissions(user *store.User, teamID string, required []string) error {
	if len(required) == 0 {
		return nil
	}

	if teamID == "" {
		teamID = user.CurrentTeamID
	}

	membership := findMembership(user, teamID)
	if membership == nil || membership.Role == nil || membership.Role.Status != store.RoleActive {
		return ErrNoRole()
	}

	held := make(map[string]bool, len(membership.Role.Permissions))
	for _, p := range membership.Role.Permissions {
		held[p.Slug] = true
	}

	for _, slug := range required {
		if held[slug] {
			return nil
		}
	}

	return ErrMissingPermissions(required)
}

// findMembership returns the user's active membership in the team, or nil.
func findMembership(user *store.User, teamID string) *store.Membership {
	if teamID == "" {
		return nil
	}
	for i := range user.Memberships {
		m := &user.Memberships[i]
		if m.TeamID == teamID && m.Status == store.MembershipActive {
			return m
		}
	}
	return nil
}
