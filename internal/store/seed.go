package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// seedPasswordBytes is the number of random bytes for the seed owner password.
const seedPasswordBytes = 16

// defaultPermissions is the capability set granted to the seed admin role.
var defaultPermissions = []Permission{
	{Name: "Manage Team", Slug: "manage_team", Description: "Rename the team and change team settings"},
	{Name: "Manage Members", Slug: "manage_members", Description: "Invite, remove and change members"},
	{Name: "Manage Roles", Slug: "manage_roles", Description: "Create roles and assign permissions"},
	{Name: "Manage Devices", Slug: "manage_devices", Description: "View and revoke registered devices"},
	{Name: "View Reports", Slug: "view_reports", Description: "Read team activity reports"},
}

// Repositories bundles the store's repository implementations behind a
// single constructor so callers wire one value instead of five.
type Repositories struct {
	Users       UserRepository
	Devices     DeviceRepository
	Teams       TeamRepository
	Roles       RoleRepository
	Memberships MembershipRepository
}

// NewRepositories constructs all SQLite repositories over a shared handle.
func NewRepositories(db *sql.DB) *Repositories {
	roles := NewRoleRepository(db)
	teams := NewTeamRepository(db)
	memberships := NewMembershipRepository(db, roles, teams)

	return &Repositories{
		Users:       NewUserRepository(db, memberships),
		Devices:     NewDeviceRepository(db),
		Teams:       teams,
		Roles:       roles,
		Memberships: memberships,
	}
}

// SeedOwner creates the initial team, permission set, admin role and owner
// account on first boot if no users exist. The generated password is logged
// and must be changed immediately. The hash function is supplied by the
// caller so the store stays free of credential-hashing concerns.
// Returns the generated password (empty string if seeding was skipped).
func SeedOwner(ctx context.Context, repos *Repositories, hash func(string) (string, error), logger *slog.Logger) (string, error) {
	count, err := repos.Users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}

	if count > 0 {
		logger.Info("users exist, skipping owner seed")
		return "", nil
	}

	team := &Team{Name: "Nexus", Slug: "nexus"}
	if err := repos.Teams.Create(ctx, team); err != nil {
		return "", fmt.Errorf("creating seed team: %w", err)
	}

	role := &Role{
		TeamID:      team.ID,
		Name:        "Admin",
		Slug:        "admin",
		Description: "Full access to the team",
		Status:      RoleActive,
	}
	if err := repos.Roles.Create(ctx, role); err != nil {
		return "", fmt.Errorf("creating seed role: %w", err)
	}

	for _, p := range defaultPermissions {
		perm := p
		if err := repos.Roles.CreatePermission(ctx, &perm); err != nil {
			return "", fmt.Errorf("creating seed permission %s: %w", perm.Slug, err)
		}
		if err := repos.Roles.AttachPermission(ctx, role.ID, perm.ID); err != nil {
			return "", fmt.Errorf("attaching seed permission %s: %w", perm.Slug, err)
		}
	}

	// Generate a random password
	passwordBytes := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(passwordBytes); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password := hex.EncodeToString(passwordBytes)

	passwordHash, err := hash(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	owner := &User{
		Username:      "owner",
		Email:         "owner@localhost",
		FirstName:     "System",
		LastName:      "Owner",
		PasswordHash:  passwordHash,
		CurrentTeamID: team.ID,
	}
	if err := repos.Users.Create(ctx, owner); err != nil {
		return "", fmt.Errorf("creating seed owner: %w", err)
	}

	membership := &Membership{
		UserID: owner.ID,
		TeamID: team.ID,
		RoleID: role.ID,
		Status: MembershipActive,
	}
	if err := repos.Memberships.Create(ctx, membership); err != nil {
		return "", fmt.Errorf("creating seed membership: %w", err)
	}

	logger.Warn("seed owner account created",
		"username", "owner",
		"password", password,
		"team", team.Slug,
		"action_required", "change this password immediately",
	)

	return password, nil
}
