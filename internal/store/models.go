package store

import (
	"database/sql"
	"errors"
	"strings"
	"time"
)

// MembershipStatus is the lifecycle state of a user-team association.
type MembershipStatus string

// Membership statuses.
const (
	MembershipActive   MembershipStatus = "active"
	MembershipInactive MembershipStatus = "inactive"
	MembershipPending  MembershipStatus = "pending"
)

// RoleStatus is the lifecycle state of a role.
type RoleStatus string

// Role statuses.
const (
	RoleActive   RoleStatus = "active"
	RoleInactive RoleStatus = "inactive"
)

// User represents an account in the credential store.
//
// Users are soft-deleted: DeletedAt is set instead of removing the row, and
// all lookups exclude tombstoned rows.
type User struct {
	ID               string     `json:"id"`
	Username         string     `json:"username"`
	Email            string     `json:"email,omitempty"`
	FirstName        string     `json:"first_name,omitempty"`
	LastName         string     `json:"last_name,omitempty"`
	PasswordHash     string     `json:"-"` // never serialised
	CurrentTeamID    string     `json:"current_team_id,omitempty"`
	TwoFactorSecret  string     `json:"-"` // never serialised
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	BackupCodes      []string   `json:"-"` // never serialised
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DeletedAt        *time.Time `json:"-"`

	// Memberships is populated by lookups that eagerly load the user's
	// team associations, each with its role, the role's permissions,
	// and the team record.
	Memberships []Membership `json:"memberships,omitempty"`
}

// Team represents a tenant grouping.
type Team struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role is a named capability bundle scoped to a team. Roles may reference a
// parent role; the hierarchy is stored but effective permissions consult
// only the role's own permission list.
type Role struct {
	ID          string     `json:"id"`
	TeamID      string     `json:"team_id,omitempty"`
	ParentID    string     `json:"parent_id,omitempty"`
	Name        string     `json:"name"`
	Slug        string     `json:"slug"`
	Description string     `json:"description,omitempty"`
	Status      RoleStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// Permissions is populated by lookups that eagerly load the
	// role_permissions association.
	Permissions []Permission `json:"permissions,omitempty"`
}

// Permission is an atomic capability identified by slug.
type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Membership links a user to a team with a role.
type Membership struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	TeamID    string           `json:"team_id"`
	RoleID    string           `json:"role_id"`
	Status    MembershipStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`

	Role *Role `json:"role,omitempty"`
	Team *Team `json:"team,omitempty"`
}

// Device is an immutable snapshot of the fingerprint seen at first login.
// A changed OS version on the same physical device produces a new record.
type Device struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	OS                string    `json:"os,omitempty"`
	OSVersion         string    `json:"os_version,omitempty"`
	Model             string    `json:"model,omitempty"`
	UserAgent         string    `json:"user_agent,omitempty"`
	NotificationToken string    `json:"-"` // never serialised
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Sentinel errors for store operations.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrDeviceNotFound     = errors.New("device not found")
	ErrTeamNotFound       = errors.New("team not found")
	ErrRoleNotFound       = errors.New("role not found")
	ErrPermissionNotFound = errors.New("permission not found")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrUsernameExists     = errors.New("username already exists")
	ErrSlugExists         = errors.New("slug already exists")
)

// Helper functions shared across repositories.

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nowRFC3339 returns the current UTC time truncated to RFC3339 precision,
// with its string form for storage. Truncation keeps the in-memory value
// equal to what a later scan will produce.
func nowRFC3339() (time.Time, string) {
	s := time.Now().UTC().Format(time.RFC3339)
	ts, _ := time.Parse(time.RFC3339, s) //nolint:errcheck // format is controlled
	return ts, s
}

// parseTime parses a stored RFC3339 timestamp.
func parseTime(s string) time.Time {
	ts, _ := time.Parse(time.RFC3339, s) //nolint:errcheck // format is controlled
	return ts
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "unique constraint")
}
