package session

import (
	"context"
	"log/slog"

	"github.com/nexus-stack/nexus-core/internal/store"
)

// LogNotifier writes notifications to the log instead of delivering them.
// It is the default wiring for deployments without a mail transport; the
// reset code appears in the server log for the operator to relay.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// SendPasswordResetCode logs the reset code.
func (n *LogNotifier) SendPasswordResetCode(_ context.Context, email, code string) error {
	n.logger.Warn("password reset code issued",
		"email", email,
		"code", code,
	)
	return nil
}

// SendNewDeviceAlert logs the first login from a device.
func (n *LogNotifier) SendNewDeviceAlert(_ context.Context, email string, device *store.Device) error {
	n.logger.Info("new device login",
		"email", email,
		"device_id", device.ID,
		"os", device.OS,
		"os_version", device.OSVersion,
	)
	return nil
}
