package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nexus-stack/nexus-core/internal/fingerprint"
	"github.com/nexus-stack/nexus-core/internal/store"
)

// DeviceRegistry resolves request fingerprints against a user's registered
// devices and registers new devices at login.
type DeviceRegistry struct {
	devices store.DeviceRepository
	logger  *slog.Logger
}

// NewDeviceRegistry creates a device registry over the device repository.
func NewDeviceRegistry(devices store.DeviceRepository, logger *slog.Logger) *DeviceRegistry {
	return &DeviceRegistry{devices: devices, logger: logger}
}

// Resolve finds the user's device matching the fingerprint. When the
// fingerprint carries an OS name and version the exact pair is matched;
// otherwise the raw user agent string is used. Returns
// store.ErrDeviceNotFound when nothing matches.
func (r *DeviceRegistry) Resolve(ctx context.Context, userID string, fp fingerprint.Fingerprint) (*store.Device, error) {
	if fp.HasOS() {
		return r.devices.FindByOS(ctx, userID, fp.OS, fp.OSVersion)
	}
	if fp.UserAgent != "" {
		return r.devices.FindByUserAgent(ctx, userID, fp.UserAgent)
	}
	return nil, store.ErrDeviceNotFound
}

// Register creates a new device record from the fingerprint. Records are
// immutable: a changed OS version on the same hardware registers as a new
// device.
func (r *DeviceRegistry) Register(ctx context.Context, userID string, fp fingerprint.Fingerprint) (*store.Device, error) {
	device := &store.Device{
		UserID:    userID,
		OS:        fp.OS,
		OSVersion: fp.OSVersion,
		Model:     fp.Model,
		UserAgent: fp.UserAgent,
	}
	if err := r.devices.Create(ctx, device); err != nil {
		return nil, fmt.Errorf("registering device: %w", err)
	}

	r.logger.Info("device registered",
		"user_id", userID,
		"device_id", device.ID,
		"os", device.OS,
		"os_version", device.OSVersion,
	)
	return device, nil
}

// ResolveOrRegister returns the matching device, registering one when the
// fingerprint is unknown. Login uses this path; the request guard uses
// Resolve alone and denies on a miss.
func (r *DeviceRegistry) ResolveOrRegister(ctx context.Context, userID string, fp fingerprint.Fingerprint) (*store.Device, error) {
	device, err := r.Resolve(ctx, userID, fp)
	if err == nil {
		return device, nil
	}
	if !errors.Is(err, store.ErrDeviceNotFound) {
		return nil, err
	}
	return r.Register(ctx, userID, fp)
}
