package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/nexus-stack/nexus-core/internal/fingerprint"
	"github.com/nexus-stack/nexus-core/internal/guard"
	"github.com/nexus-stack/nexus-core/internal/infrastructure/cache"
	"github.com/nexus-stack/nexus-core/internal/infrastructure/database"
	"github.com/nexus-stack/nexus-core/internal/store"
	_ "github.com/nexus-stack/nexus-core/migrations"
)

const (
	testPassword = "original passphrase 1"
	testUA       = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"
	otherUA      = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1"
)

// captureNotifier records notifications for assertions.
type captureNotifier struct {
	mu         sync.Mutex
	resetCodes map[string]string
	alerts     int
}

func (n *captureNotifier) SendPasswordResetCode(_ context.Context, email, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.resetCodes == nil {
		n.resetCodes = make(map[string]string)
	}
	n.resetCodes[email] = code
	return nil
}

func (n *captureNotifier) SendNewDeviceAlert(_ context.Context, _ string, _ *store.Device) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts++
	return nil
}

func (n *captureNotifier) lastCode(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.resetCodes[email]
}

func (n *captureNotifier) alertCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.alerts
}

type sessionHarness struct {
	svc      *Service
	repos    *store.Repositories
	tokens   *guard.TokenService
	notifier *captureNotifier
	user     *store.User
}

func newSessionHarness(t *testing.T) *sessionHarness {
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

	repos := store.NewRepositories(db.DB)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := cache.NewMemoryStore()
	keys := cache.NewKeyer("test")

	tokens := guard.NewTokenService(mem, keys, guard.TokenOptions{
		AccessSecret:  "access-secret-for-tests-0123456789ab",
		RefreshSecret: "refresh-secret-for-tests-0123456789",
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	})
	devices := guard.NewDeviceRegistry(repos.Devices, logger)
	twofa := guard.NewTwoFactor(mem, keys)
	notifier := &captureNotifier{}

	svc := NewService(repos, tokens, devices, twofa, mem, keys, notifier, Options{
		MinPasswordLength: 12,
	}, logger)

	hash, err := guard.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	user := &store.User{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: hash,
	}
	if err := repos.Users.Create(ctx, user); err != nil {
		t.Fatalf("creating user: %v", err)
	}

	return &sessionHarness{svc: svc, repos: repos, tokens: tokens, notifier: notifier, user: user}
}

func TestService_Login(t *testing.T) {
	h := newSessionHarness(t)
	ctx := context.Background()

	res, err := h.svc.Login(ctx, LoginInput{
		Username:    "alice",
		Password:    testPassword,
		Fingerprint: fingerprint.Parse(testUA),
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if res.Tokens == nil || res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
		t.Fatal("expected token pair")
	}
	if res.Device == nil || res.Device.OS != "Android" {
		t.Errorf("unexpected device: %+v", res.Device)
	}
	if res.User.LastLoginAt == nil {
		t.Error("expected last login to be recorded")
	}
	if h.notifier.alertCount() != 1 {
		t.Errorf("expected 1 new-device alert, got %d", h.notifier.alertCount())
	}

	t.Run("known fingerprint reuses the device", func(t *testing.T) {
		again, err := h.svc.Login(ctx, LoginInput{
			Username:    "alice",
			Password:    testPassword,
			Fingerprint: fingerprint.Parse(testUA),
		})
		if err != nil {
			t.Fatalf("Login: %v", err)
		}
		if again.Device.ID != res.Device.ID {
			t.Errorf("expected device %s, got %s", res.Device.ID, again.Device.ID)
		}
		if h.notifier.alertCount() != 1 {
			t.Errorf("expected no second alert, got %d", h.notifier.alertCount())
		}
	})

	t.Run("new fingerprint registers a new device", func(t *testing.T) {
		other, err := h.svc.Login(ctx, LoginInput{
			Username:    "alice",
			Password:    testPassword,
			Fingerprint: fingerprint.Parse(otherUA),
		})
		if err != nil {
			t.Fatalf("Login: %v", err)
		}
		if other.Device.ID == res.Device.ID {
			t.Error("expected a distinct device record")
		}
	})
}

func TestService_LoginRejections(t *testing.T) {
	h := newSessionHarness(t)
	ctx := context.Background()
	fp := fingerprint.Parse(testUA)

	t.Run("wrong password", func(t *testing.T) {
		_, err := h.svc.Login(ctx, LoginInput{Username: "alice", Password: "wrong password 123", Fingerprint: fp})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("unknown user reads the same", func(t *testing.T) {
		_, err := h.svc.Login(ctx, LoginInput{Username: "nobody", Password: testPassword, Fingerprint: fp})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})
}

func TestService_LogoutRevokesDeviceOnly(t *testing.T) {
	h := newSessionHarness(t)
	ctx := context.Background()

	first, err := h.svc.Login(ctx, LoginInput{Username: "alice", Password: testPassword, Fingerprint: fingerprint.Parse(testUA)})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	second, err := h.svc.Login(ctx, LoginInput{Username: "alice", Password: testPassword, Fingerprint: fingerprint.Parse(otherUA)})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := h.svc.Logout(ctx, h.user.ID, first.Device.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	active, err := h.tokens.AccessActive(ctx, h.user.ID, first.Device.ID, first.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("AccessActive: %v", err)
	}
	if active {
		t.Error("expected logged-out device's token to be revoked")
	}

	active, err = h.tokens.AccessActive(ctx, h.user.ID, second.Device.ID, second.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("AccessActive: %v", err)
	}
	if !active {
		t.Error("expected other device's token to stay active")
	}
}

func TestService_Refresh(t *testing.T) {
	h := newSessionHarness(t)
	ctx := context.Background()
	fp := fingerprint.Parse(testUA)

	res, err := h.svc.Login(ctx, LoginInput{Username: "alice", Password: testPassword, Fingerprint: fp})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	pair, err := h.svc.Refresh(ctx, res.Tokens.RefreshToken, fp)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if pair.AccessToken == res.Tokens.AccessToken {
		t.Error("expected a fresh access token")
	}

	t.Run("old refresh token is displaced", func(t *testing.T) {
		if _, err := h.svc.Refresh(ctx, res.Tokens.RefreshToken, fp); err == nil {
			t.Error("expected displaced refresh token to be rejected")
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		if _, err := h.svc.Refresh(ctx, "garbage", fp); err == nil {
			t.Error("expected rejection")
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		if _, err := h.svc.Refresh(ctx, pair.RefreshToken, fingerprint.Parse(otherUA)); err == nil {
			t.Error("expected rejection for unregistered device")
		}
	})
}

func TestService_PasswordResetFlow(t *testing.T) {
	h := newSessionHarness(t)
	ctx := context.Background()
	fp := fingerprint.Parse(testUA)

	// Establish a session that the reset must kill.
	res, err := h.svc.Login(ctx, LoginInput{Username: "alice", Password: testPassword, Fingerprint: fp})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := h.svc.InitiateResetPassword(ctx, "alice@example.com"); err != nil {
		t.Fatalf("InitiateResetPassword: %v", err)
	}
	code := h.notifier.lastCode("alice@example.com")
	if len(code) != resetCodeDigits {
		t.Fatalf("expected %d-digit code, got %q", resetCodeDigits, code)
	}

	t.Run("wrong code rejected", func(t *testing.T) {
		if _, err := h.svc.VerifyResetPasswordOTP(ctx, "alice@example.com", "000000"); !errors.Is(err, ErrInvalidResetCode) {
			t.Errorf("expected ErrInvalidResetCode, got %v", err)
		}
	})

	token, err := h.svc.VerifyResetPasswordOTP(ctx, "alice@example.com", code)
	if err != nil {
		t.Fatalf("VerifyResetPasswordOTP: %v", err)
	}

	t.Run("code is single use", func(t *testing.T) {
		if _, err := h.svc.VerifyResetPasswordOTP(ctx, "alice@example.com", code); !errors.Is(err, ErrInvalidResetCode) {
			t.Errorf("expected ErrInvalidResetCode, got %v", err)
		}
	})

	t.Run("weak replacement rejected", func(t *testing.T) {
		if err := h.svc.ResetPassword(ctx, "alice@example.com", token, "short"); err == nil {
			t.Error("expected rejection of a short password")
		}
	})

	if err := h.svc.ResetPassword(ctx, "alice@example.com", token, "replacement passphrase 2"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	t.Run("token is single use", func(t *testing.T) {
		if err := h.svc.ResetPassword(ctx, "alice@example.com", token, "replacement passphrase 3"); !errors.Is(err, ErrInvalidResetToken) {
			t.Errorf("expected ErrInvalidResetToken, got %v", err)
		}
	})

	t.Run("existing sessions are revoked", func(t *testing.T) {
		active, err := h.tokens.AccessActive(ctx, h.user.ID, res.Device.ID, res.Tokens.AccessToken)
		if err != nil {
			t.Fatalf("AccessActive: %v", err)
		}
		if active {
			t.Error("expected reset to revoke existing sessions")
		}
	})

	t.Run("new password works", func(t *testing.T) {
		if _, err := h.svc.Login(ctx, LoginInput{Username: "alice", Password: "replacement passphrase 2", Fingerprint: fp}); err != nil {
			t.Errorf("Login with new password: %v", err)
		}
	})

	t.Run("old password does not", func(t *testing.T) {
		if _, err := h.svc.Login(ctx, LoginInput{Username: "alice", Password: testPassword, Fingerprint: fp}); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})
}

func TestService_ResetUnknownEmailIsSilent(t *testing.T) {
	h := newSessionHarness(t)

	if err := h.svc.InitiateResetPassword(context.Background(), "nobody@example.com"); err != nil {
		t.Fatalf("expected silent success, got %v", err)
	}
	if h.notifier.lastCode("nobody@example.com") != "" {
		t.Error("expected no code to be sent")
	}
}

func TestService_TwoFactorEnrolment(t *testing.T) {
	h := newSessionHarness(t)
	ctx := context.Background()
	fp := fingerprint.Parse(testUA)

	enrolment, err := h.svc.EnrollTwoFactor(ctx, h.user.ID)
	if err != nil {
		t.Fatalf("EnrollTwoFactor: %v", err)
	}
	if enrolment.Secret == "" || enrolment.URL == "" {
		t.Fatal("expected secret and provisioning URL")
	}

	t.Run("not enabled until confirmed", func(t *testing.T) {
		if _, err := h.svc.Login(ctx, LoginInput{Username: "alice", Password: testPassword, Fingerprint: fp}); err != nil {
			t.Errorf("expected login without code during enrolment: %v", err)
		}
	})

	t.Run("wrong confirmation code", func(t *testing.T) {
		if _, err := h.svc.ConfirmTwoFactor(ctx, h.user.ID, "000000"); !errors.Is(err, ErrTwoFactorCode) {
			t.Errorf("expected ErrTwoFactorCode, got %v", err)
		}
	})

	code, err := totp.GenerateCode(enrolment.Secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	backupCodes, err := h.svc.ConfirmTwoFactor(ctx, h.user.ID, code)
	if err != nil {
		t.Fatalf("ConfirmTwoFactor: %v", err)
	}
	if len(backupCodes) != backupCodeCount {
		t.Errorf("expected %d backup codes, got %d", backupCodeCount, len(backupCodes))
	}

	t.Run("login now demands a code", func(t *testing.T) {
		_, err := h.svc.Login(ctx, LoginInput{Username: "alice", Password: testPassword, Fingerprint: fp})
		if !errors.Is(err, ErrTwoFactorCode) {
			t.Errorf("expected ErrTwoFactorCode, got %v", err)
		}

		code, err := totp.GenerateCode(enrolment.Secret, time.Now())
		if err != nil {
			t.Fatalf("GenerateCode: %v", err)
		}
		if _, err := h.svc.Login(ctx, LoginInput{Username: "alice", Password: testPassword, TwoFactorCode: code, Fingerprint: fp}); err != nil {
			t.Errorf("Login with code: %v", err)
		}
	})

	t.Run("re-enrolment rejected while enabled", func(t *testing.T) {
		if _, err := h.svc.EnrollTwoFactor(ctx, h.user.ID); !errors.Is(err, ErrTwoFactorEnrolled) {
			t.Errorf("expected ErrTwoFactorEnrolled, got %v", err)
		}
	})

	t.Run("disable", func(t *testing.T) {
		code, err := totp.GenerateCode(enrolment.Secret, time.Now())
		if err != nil {
			t.Fatalf("GenerateCode: %v", err)
		}
		if err := h.svc.DisableTwoFactor(ctx, h.user.ID, code); err != nil {
			t.Fatalf("DisableTwoFactor: %v", err)
		}
		if _, err := h.svc.Login(ctx, LoginInput{Username: "alice", Password: testPassword, Fingerprint: fp}); err != nil {
			t.Errorf("expected login without code after disable: %v", err)
		}
	})
}
