package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// DeviceRepository defines the interface for device record persistence.
// Device rows are immutable once created apart from the notification token.
type DeviceRepository interface {
	Create(ctx context.Context, device *Device) error
	GetByID(ctx context.Context, id string) (*Device, error)
	FindByOS(ctx context.Context, userID, os, osVersion string) (*Device, error)
	FindByUserAgent(ctx context.Context, userID, userAgent string) (*Device, error)
	ListByUser(ctx context.Context, userID string) ([]Device, error)
	UpdateNotificationToken(ctx context.Context, id, token string) error
}

// SQLiteDeviceRepository implements DeviceRepository using SQLite.
type SQLiteDeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository creates a new SQLite-backed device repository.
func NewDeviceRepository(db *sql.DB) *SQLiteDeviceRepository {
	return &SQLiteDeviceRepository{db: db}
}

const deviceColumns = `id, user_id, os, os_version, model, user_agent, notification_token, created_at, updated_at`

// Create inserts a new device record. The ID is generated if empty.
func (r *SQLiteDeviceRepository) Create(ctx context.Context, device *Device) error {
	if device.ID == "" {
		device.ID = "dev-" + uuid.NewString()[:8]
	}

	var now string
	device.CreatedAt, now = nowRFC3339()
	device.UpdatedAt = device.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO devices (id, user_id, os, os_version, model, user_agent, notification_token, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		device.ID, device.UserID, nullString(device.OS), nullString(device.OSVersion),
		nullString(device.Model), nullString(device.UserAgent),
		nullString(device.NotificationToken), now, now,
	)
	if err != nil {
		return fmt.Errorf("creating device: %w", err)
	}

	return nil
}

// GetByID retrieves a device by its unique ID.
func (r *SQLiteDeviceRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	return r.getDevice(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE id = ?", id)
}

// FindByOS retrieves the user's device matching the given OS name and
// version exactly. The oldest match wins when duplicates exist.
func (r *SQLiteDeviceRepository) FindByOS(ctx context.Context, userID, os, osVersion string) (*Device, error) {
	return r.getDevice(ctx,
		"SELECT "+deviceColumns+` FROM devices
		 WHERE user_id = ? AND os = ? AND os_version = ?
		 ORDER BY created_at ASC LIMIT 1`,
		userID, os, osVersion)
}

// FindByUserAgent retrieves the user's device matching the raw user agent
// string. The oldest match wins when duplicates exist.
func (r *SQLiteDeviceRepository) FindByUserAgent(ctx context.Context, userID, userAgent string) (*Device, error) {
	return r.getDevice(ctx,
		"SELECT "+deviceColumns+` FROM devices
		 WHERE user_id = ? AND user_agent = ?
		 ORDER BY created_at ASC LIMIT 1`,
		userID, userAgent)
}

// ListByUser returns all devices registered to a user, oldest first.
func (r *SQLiteDeviceRepository) ListByUser(ctx context.Context, userID string) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE user_id = ? ORDER BY created_at ASC", userID)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDeviceFrom(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	if devices == nil {
		devices = []Device{}
	}
	return devices, nil
}

// UpdateNotificationToken replaces the push notification token for a device.
func (r *SQLiteDeviceRepository) UpdateNotificationToken(ctx context.Context, id, token string) error {
	_, now := nowRFC3339()

	result, err := r.db.ExecContext(ctx,
		`UPDATE devices SET notification_token = ?, updated_at = ? WHERE id = ?`,
		nullString(token), now, id,
	)
	if err != nil {
		return fmt.Errorf("updating notification token: %w", err)
	}

	return checkAffected(result, ErrDeviceNotFound)
}

// getDevice executes a query and scans a single device result.
func (r *SQLiteDeviceRepository) getDevice(ctx context.Context, query string, args ...any) (*Device, error) {
	return scanDeviceFrom(r.db.QueryRowContext(ctx, query, args...))
}

// scanDeviceFrom scans a device from any scanner (Row or Rows).
func scanDeviceFrom(s scanner) (*Device, error) {
	var d Device
	var os, osVersion, model, userAgent, notificationToken sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&d.ID, &d.UserID, &os, &osVersion, &model, &userAgent,
		&notificationToken, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("scanning device: %w", err)
	}

	d.OS = os.String
	d.OSVersion = osVersion.String
	d.Model = model.String
	d.UserAgent = userAgent.String
	d.NotificationToken = notificationToken.String
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)

	return &d, nil
}
