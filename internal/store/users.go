package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UserRepository defines the interface for user account persistence.
//
// Lookups return only live accounts: soft-deleted rows are invisible to
// every method except Restore.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, user *User) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	SetCurrentTeam(ctx context.Context, id, teamID string) error
	SetTwoFactor(ctx context.Context, id, secret string, enabled bool, backupCodes []string) error
	SoftDelete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// SQLiteUserRepository implements UserRepository using SQLite.
type SQLiteUserRepository struct {
	db          *sql.DB
	memberships *SQLiteMembershipRepository
}

// NewUserRepository creates a new SQLite-backed user repository. The
// membership repository is used to eagerly load team associations on
// single-user lookups.
func NewUserRepository(db *sql.DB, memberships *SQLiteMembershipRepository) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db, memberships: memberships}
}

const userColumns = `id, username, email, first_name, last_name, password_hash,
	current_team_id, two_factor_secret, two_factor_enabled, backup_codes,
	last_login_at, created_at, updated_at, deleted_at`

// Create inserts a new user account. The ID is generated if empty.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = "usr-" + uuid.NewString()[:8]
	}

	var now string
	user.CreatedAt, now = nowRFC3339()
	user.UpdatedAt = user.CreatedAt

	codes, err := encodeBackupCodes(user.BackupCodes)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, first_name, last_name, password_hash,
		 current_team_id, two_factor_secret, two_factor_enabled, backup_codes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, nullString(user.Email), nullString(user.FirstName),
		nullString(user.LastName), user.PasswordHash, nullString(user.CurrentTeamID),
		nullString(user.TwoFactorSecret), boolToInt(user.TwoFactorEnabled), codes,
		now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("creating user: %w", err)
	}

	return nil
}

// GetByID retrieves a live user by ID, with memberships eagerly loaded.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.getUser(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ? AND deleted_at IS NULL", id)
}

// GetByUsername retrieves a live user by username, with memberships eagerly loaded.
func (r *SQLiteUserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.getUser(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = ? AND deleted_at IS NULL", username)
}

// GetByEmail retrieves a live user by email, with memberships eagerly loaded.
func (r *SQLiteUserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getUser(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = ? AND deleted_at IS NULL", email)
}

// Update modifies a user's mutable profile fields (email, first_name, last_name).
func (r *SQLiteUserRepository) Update(ctx context.Context, user *User) error {
	var now string
	user.UpdatedAt, now = nowRFC3339()

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET email = ?, first_name = ?, last_name = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		nullString(user.Email), nullString(user.FirstName), nullString(user.LastName),
		now, user.ID,
	)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}

	return checkAffected(result, ErrUserNotFound)
}

// UpdatePassword changes a user's password hash.
func (r *SQLiteUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	_, now := nowRFC3339()

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		passwordHash, now, id,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}

	return checkAffected(result, ErrUserNotFound)
}

// UpdateLastLogin records the time of a successful login.
func (r *SQLiteUserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	_, now := nowRFC3339()

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		at.UTC().Format(time.RFC3339), now, id,
	)
	if err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}

	return checkAffected(result, ErrUserNotFound)
}

// SetCurrentTeam changes the user's active team context.
func (r *SQLiteUserRepository) SetCurrentTeam(ctx context.Context, id, teamID string) error {
	_, now := nowRFC3339()

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET current_team_id = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		nullString(teamID), now, id,
	)
	if err != nil {
		return fmt.Errorf("setting current team: %w", err)
	}

	return checkAffected(result, ErrUserNotFound)
}

// SetTwoFactor stores the TOTP secret, enabled flag and backup codes.
// Enrolment writes the secret with enabled=false; confirmation flips the flag.
func (r *SQLiteUserRepository) SetTwoFactor(ctx context.Context, id, secret string, enabled bool, backupCodes []string) error {
	_, now := nowRFC3339()

	codes, err := encodeBackupCodes(backupCodes)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET two_factor_secret = ?, two_factor_enabled = ?, backup_codes = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		nullString(secret), boolToInt(enabled), codes, now, id,
	)
	if err != nil {
		return fmt.Errorf("setting two factor: %w", err)
	}

	return checkAffected(result, ErrUserNotFound)
}

// SoftDelete tombstones a user account. The row remains for audit but is
// excluded from all lookups.
func (r *SQLiteUserRepository) SoftDelete(ctx context.Context, id string) error {
	_, now := nowRFC3339()

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}

	return checkAffected(result, ErrUserNotFound)
}

// Count returns the number of live user accounts.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE deleted_at IS NULL").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// getUser executes a query, scans a single user and attaches memberships.
func (r *SQLiteUserRepository) getUser(ctx context.Context, query string, args ...any) (*User, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	u, err := scanUserFrom(row)
	if err != nil {
		return nil, err
	}

	if r.memberships != nil {
		u.Memberships, err = r.memberships.ListByUser(ctx, u.ID)
		if err != nil {
			return nil, err
		}
	}
	return u, nil
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

// scanUserFrom scans a user from any scanner (Row or Rows).
func scanUserFrom(s scanner) (*User, error) {
	var u User
	var email, firstName, lastName, currentTeamID, twoFactorSecret, backupCodes sql.NullString
	var lastLoginAt, deletedAt sql.NullString
	var twoFactorEnabled int
	var createdAt, updatedAt string

	err := s.Scan(&u.ID, &u.Username, &email, &firstName, &lastName, &u.PasswordHash,
		&currentTeamID, &twoFactorSecret, &twoFactorEnabled, &backupCodes,
		&lastLoginAt, &createdAt, &updatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Email = email.String
	u.FirstName = firstName.String
	u.LastName = lastName.String
	u.CurrentTeamID = currentTeamID.String
	u.TwoFactorSecret = twoFactorSecret.String
	u.TwoFactorEnabled = twoFactorEnabled != 0

	if backupCodes.Valid && backupCodes.String != "" {
		if err := json.Unmarshal([]byte(backupCodes.String), &u.BackupCodes); err != nil {
			return nil, fmt.Errorf("decoding backup codes: %w", err)
		}
	}
	if lastLoginAt.Valid {
		ts := parseTime(lastLoginAt.String)
		u.LastLoginAt = &ts
	}
	if deletedAt.Valid {
		ts := parseTime(deletedAt.String)
		u.DeletedAt = &ts
	}

	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)

	return &u, nil
}

// encodeBackupCodes serialises backup codes as JSON, or NULL when empty.
func encodeBackupCodes(codes []string) (sql.NullString, error) {
	if len(codes) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(codes)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding backup codes: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// checkAffected converts a zero-row update into the given sentinel error.
func checkAffected(result sql.Result, notFound error) error {
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return notFound
	}
	return nil
}
