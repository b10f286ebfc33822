package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// TeamRepository defines the interface for team persistence.
type TeamRepository interface {
	Create(ctx context.Context, team *Team) error
	GetByID(ctx context.Context, id string) (*Team, error)
	GetBySlug(ctx context.Context, slug string) (*Team, error)
	List(ctx context.Context) ([]Team, error)
	Count(ctx context.Context) (int, error)
}

// SQLiteTeamRepository implements TeamRepository using SQLite.
type SQLiteTeamRepository struct {
	db *sql.DB
}

// NewTeamRepository creates a new SQLite-backed team repository.
func NewTeamRepository(db *sql.DB) *SQLiteTeamRepository {
	return &SQLiteTeamRepository{db: db}
}

// Create inserts a new team. The ID is generated if empty.
func (r *SQLiteTeamRepository) Create(ctx context.Context, team *Team) error {
	if team.ID == "" {
		team.ID = "team-" + uuid.NewString()[:8]
	}

	var now string
	team.CreatedAt, now = nowRFC3339()
	team.UpdatedAt = team.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO teams (id, name, slug, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		team.ID, team.Name, team.Slug, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlugExists
		}
		return fmt.Errorf("creating team: %w", err)
	}

	return nil
}

// GetByID retrieves a team by its unique ID.
func (r *SQLiteTeamRepository) GetByID(ctx context.Context, id string) (*Team, error) {
	return scanTeamFrom(r.db.QueryRowContext(ctx,
		"SELECT id, name, slug, created_at, updated_at FROM teams WHERE id = ?", id))
}

// GetBySlug retrieves a team by its slug.
func (r *SQLiteTeamRepository) GetBySlug(ctx context.Context, slug string) (*Team, error) {
	return scanTeamFrom(r.db.QueryRowContext(ctx,
		"SELECT id, name, slug, created_at, updated_at FROM teams WHERE slug = ?", slug))
}

// List returns all teams ordered by creation date.
func (r *SQLiteTeamRepository) List(ctx context.Context) ([]Team, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, slug, created_at, updated_at FROM teams ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}
	defer rows.Close()

	var teams []Team
	for rows.Next() {
		t, err := scanTeamFrom(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating teams: %w", err)
	}

	if teams == nil {
		teams = []Team{}
	}
	return teams, nil
}

// Count returns the total number of teams.
func (r *SQLiteTeamRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM teams").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting teams: %w", err)
	}
	return count, nil
}

// scanTeamFrom scans a team from any scanner (Row or Rows).
func scanTeamFrom(s scanner) (*Team, error) {
	var t Team
	var createdAt, updatedAt string

	err := s.Scan(&t.ID, &t.Name, &t.Slug, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("scanning team: %w", err)
	}

	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)

	return &t, nil
}
