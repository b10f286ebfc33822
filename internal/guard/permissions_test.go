package guard

import (
	"errors"
	"strings"
	"testing"

	"github.com/nexus-stack/nexus-core/internal/store"
)

func userWithRole(teamID string, status store.MembershipStatus, roleStatus store.RoleStatus, slugs ...string) *store.User {
	perms := make([]store.Permission, len(slugs))
	for i, s := range slugs {
		perms[i] = store.Permission{ID: "perm-" + s, Slug: s}
	}
	return &store.User{
		ID:            "usr-1",
		CurrentTeamID: teamID,
		Memberships: []store.Membership{{
			TeamID: teamID,
			Status: status,
			Role: &store.Role{
				ID:          "role-1",
				Status:      roleStatus,
				Permissions: perms,
			},
		}},
	}
}

func TestCheckPermissions(t *testing.T) {
	tests := []struct {
		name     string
		user     *store.User
		teamID   string
		required []string
		wantMsg  string // empty means allowed
	}{
		{
			name:     "no requirement admits anyone",
			user:     &store.User{ID: "usr-1"},
			required: nil,
		},
		{
			name:     "holding one of several suffices",
			user:     userWithRole("team-1", store.MembershipActive, store.RoleActive, "view_reports"),
			teamID:   "team-1",
			required: []string{"manage_team", "view_reports"},
		},
		{
			name:     "missing all required",
			user:     userWithRole("team-1", store.MembershipActive, store.RoleActive, "view_reports"),
			teamID:   "team-1",
			required: []string{"manage_team", "manage_members"},
			wantMsg:  "Access Denied: You need one of the following permissions: manage_team, manage_members",
		},
		{
			name:     "no membership in team",
			user:     userWithRole("team-1", store.MembershipActive, store.RoleActive, "manage_team"),
			teamID:   "team-2",
			required: []string{"manage_team"},
			wantMsg:  MsgNoRolePermissions,
		},
		{
			name:     "inactive membership is ignored",
			user:     userWithRole("team-1", store.MembershipInactive, store.RoleActive, "manage_team"),
			teamID:   "team-1",
			required: []string{"manage_team"},
			wantMsg:  MsgNoRolePermissions,
		},
		{
			name:     "inactive role is ignored",
			user:     userWithRole("team-1", store.MembershipActive, store.RoleInactive, "manage_team"),
			teamID:   "team-1",
			required: []string{"manage_team"},
			wantMsg:  MsgNoRolePermissions,
		},
		{
			name:     "falls back to current team",
			user:     userWithRole("team-1", store.MembershipActive, store.RoleActive, "manage_team"),
			teamID:   "",
			required: []string{"manage_team"},
		},
		{
			name:     "no team scope at all",
			user:     &store.User{ID: "usr-1"},
			required: []string{"manage_team"},
			wantMsg:  MsgNoRolePermissions,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPermissions(tt.user, tt.teamID, tt.required)
			if tt.wantMsg == "" {
				if err != nil {
					t.Fatalf("expected allow, got %v", err)
				}
				return
			}
			assertGuardError(t, err, tt.wantMsg)

			var gerr *Error
			if errors.As(err, &gerr) && gerr.Kind != KindAuthorization {
				t.Errorf("kind = %s, want authorization", gerr.Kind)
			}
		})
	}
}

func TestCheckPermissions_ParentRoleDoesNotGrant(t *testing.T) {
	// The role hierarchy is stored but never consulted; only the role's
	// own permission list grants access.
	user := userWithRole("team-1", store.MembershipActive, store.RoleActive)
	user.Memberships[0].Role.ParentID = "role-parent"

	err := CheckPermissions(user, "team-1", []string{"manage_team"})
	if err == nil {
		t.Fatal("expected denial for empty own permission list")
	}
	if !strings.Contains(err.Error(), "manage_team") {
		t.Errorf("expected denial to name acceptable permissions: %v", err)
	}
}
