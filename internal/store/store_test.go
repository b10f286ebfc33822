package store

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/nexus-stack/nexus-core/internal/infrastructure/database"
	_ "github.com/nexus-stack/nexus-core/migrations"
)

// testLogger returns a logger that discards output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testDB opens a fresh migrated database in a temp directory.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		BusyTimeout: 5000,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}

	return db.DB
}

// testRepos builds the full repository set over a fresh database.
func testRepos(t *testing.T) *Repositories {
	t.Helper()
	return NewRepositories(testDB(t))
}

// createTestUser inserts a user with sensible defaults.
func createTestUser(t *testing.T, repos *Repositories, username string) *User {
	t.Helper()

	u := &User{
		Username:     username,
		Email:        username + "@example.com",
		FirstName:    "Test",
		LastName:     "User",
		PasswordHash: "$argon2id$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA",
	}
	if err := repos.Users.Create(context.Background(), u); err != nil {
		t.Fatalf("creating test user %s: %v", username, err)
	}
	return u
}

// createTestTeam inserts a team with a role carrying the given permission slugs.
func createTestTeam(t *testing.T, repos *Repositories, slug string, permSlugs ...string) (*Team, *Role) {
	t.Helper()
	ctx := context.Background()

	team := &Team{Name: slug, Slug: slug}
	if err := repos.Teams.Create(ctx, team); err != nil {
		t.Fatalf("creating test team %s: %v", slug, err)
	}

	role := &Role{TeamID: team.ID, Name: slug + " role", Slug: slug + "-role", Status: RoleActive}
	if err := repos.Roles.Create(ctx, role); err != nil {
		t.Fatalf("creating test role: %v", err)
	}

	for _, ps := range permSlugs {
		perm, err := repos.Roles.GetPermissionBySlug(ctx, ps)
		if err != nil {
			perm = &Permission{Name: ps, Slug: ps}
			if err := repos.Roles.CreatePermission(ctx, perm); err != nil {
				t.Fatalf("creating test permission %s: %v", ps, err)
			}
		}
		if err := repos.Roles.AttachPermission(ctx, role.ID, perm.ID); err != nil {
			t.Fatalf("attaching test permission %s: %v", ps, err)
		}
	}

	role, err := repos.Roles.GetByID(ctx, role.ID)
	if err != nil {
		t.Fatalf("reloading test role: %v", err)
	}
	return team, role
}

// joinTeam creates an active membership for the user.
func joinTeam(t *testing.T, repos *Repositories, userID, teamID, roleID string) *Membership {
	t.Helper()

	m := &Membership{UserID: userID, TeamID: teamID, RoleID: roleID, Status: MembershipActive}
	if err := repos.Memberships.Create(context.Background(), m); err != nil {
		t.Fatalf("creating test membership: %v", err)
	}
	return m
}
