package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// MembershipRepository defines the interface for user-team association
// persistence.
type MembershipRepository interface {
	Create(ctx context.Context, m *Membership) error
	GetByUserAndTeam(ctx context.Context, userID, teamID string) (*Membership, error)
	ListByUser(ctx context.Context, userID string) ([]Membership, error)
	UpdateStatus(ctx context.Context, id string, status MembershipStatus) error
	Delete(ctx context.Context, id string) error
}

// SQLiteMembershipRepository implements MembershipRepository using SQLite.
type SQLiteMembershipRepository struct {
	db    *sql.DB
	roles *SQLiteRoleRepository
	teams *SQLiteTeamRepository
}

// NewMembershipRepository creates a new SQLite-backed membership repository.
// Role and team repositories are used for eager loading on reads.
func NewMembershipRepository(db *sql.DB, roles *SQLiteRoleRepository, teams *SQLiteTeamRepository) *SQLiteMembershipRepository {
	return &SQLiteMembershipRepository{db: db, roles: roles, teams: teams}
}

const membershipColumns = `id, user_id, team_id, role_id, status, created_at, updated_at`

// Create inserts a new membership. The ID is generated if empty and the
// status defaults to pending. A user can hold at most one membership per
// team.
func (r *SQLiteMembershipRepository) Create(ctx context.Context, m *Membership) error {
	if m.ID == "" {
		m.ID = "mem-" + uuid.NewString()[:8]
	}
	if m.Status == "" {
		m.Status = MembershipPending
	}

	var now string
	m.CreatedAt, now = nowRFC3339()
	m.UpdatedAt = m.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_teams (id, user_id, team_id, role_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.TeamID, m.RoleID, string(m.Status), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user already belongs to team %s", m.TeamID)
		}
		return fmt.Errorf("creating membership: %w", err)
	}

	return nil
}

// GetByUserAndTeam retrieves the user's membership in a team, with role,
// permissions and team eagerly loaded.
func (r *SQLiteMembershipRepository) GetByUserAndTeam(ctx context.Context, userID, teamID string) (*Membership, error) {
	m, err := scanMembershipFrom(r.db.QueryRowContext(ctx,
		"SELECT "+membershipColumns+" FROM user_teams WHERE user_id = ? AND team_id = ?",
		userID, teamID))
	if err != nil {
		return nil, err
	}

	if err := r.hydrate(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListByUser returns the user's memberships ordered by creation date, each
// with its role, the role's permissions, and the team eagerly loaded.
func (r *SQLiteMembershipRepository) ListByUser(ctx context.Context, userID string) ([]Membership, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+membershipColumns+" FROM user_teams WHERE user_id = ? ORDER BY created_at ASC", userID)
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}
	defer rows.Close()

	var memberships []Membership
	for rows.Next() {
		m, err := scanMembershipFrom(rows)
		if err != nil {
			return nil, err
		}
		memberships = append(memberships, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memberships: %w", err)
	}

	for i := range memberships {
		if err := r.hydrate(ctx, &memberships[i]); err != nil {
			return nil, err
		}
	}

	if memberships == nil {
		memberships = []Membership{}
	}
	return memberships, nil
}

// UpdateStatus changes a membership's lifecycle status.
func (r *SQLiteMembershipRepository) UpdateStatus(ctx context.Context, id string, status MembershipStatus) error {
	_, now := nowRFC3339()

	result, err := r.db.ExecContext(ctx,
		`UPDATE user_teams SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), now, id,
	)
	if err != nil {
		return fmt.Errorf("updating membership status: %w", err)
	}

	return checkAffected(result, ErrMembershipNotFound)
}

// Delete removes a membership by ID.
func (r *SQLiteMembershipRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM user_teams WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting membership: %w", err)
	}

	return checkAffected(result, ErrMembershipNotFound)
}

// hydrate attaches the role (with permissions) and team records.
func (r *SQLiteMembershipRepository) hydrate(ctx context.Context, m *Membership) error {
	role, err := r.roles.GetByID(ctx, m.RoleID)
	if err != nil {
		return fmt.Errorf("loading membership role: %w", err)
	}
	m.Role = role

	team, err := r.teams.GetByID(ctx, m.TeamID)
	if err != nil {
		return fmt.Errorf("loading membership team: %w", err)
	}
	m.Team = team

	return nil
}

// scanMembershipFrom scans a membership from any scanner (Row or Rows).
func scanMembershipFrom(s scanner) (*Membership, error) {
	var m Membership
	var status string
	var createdAt, updatedAt string

	err := s.Scan(&m.ID, &m.UserID, &m.TeamID, &m.RoleID, &status, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, fmt.Errorf("scanning membership: %w", err)
	}

	m.Status = MembershipStatus(status)
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)

	return &m, nil
}
