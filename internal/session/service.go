package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/nexus-stack/nexus-core/internal/fingerprint"
	"github.com/nexus-stack/nexus-core/internal/guard"
	"github.com/nexus-stack/nexus-core/internal/infrastructure/cache"
	"github.com/nexus-stack/nexus-core/internal/store"
)

// Sentinel errors for session operations.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidResetCode   = errors.New("invalid or expired reset code")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
	ErrTwoFactorEnrolled  = errors.New("two factor authentication already enabled")
	ErrTwoFactorCode      = errors.New("invalid authentication code")
)

// resetCodeDigits is the length of the emailed reset code.
const resetCodeDigits = 6

// backupCodeCount is how many single-use backup codes enrolment produces.
const backupCodeCount = 8

// Notifier delivers out-of-band messages to users. Delivery transports
// (mail, push) live behind this interface; the service never blocks a
// login on notification failure.
type Notifier interface {
	SendPasswordResetCode(ctx context.Context, email, code string) error
	SendNewDeviceAlert(ctx context.Context, email string, device *store.Device) error
}

// Options carries the session service's tunables.
type Options struct {
	MinPasswordLength int
	ResetOTPTTL       time.Duration
	ResetTokenTTL     time.Duration
}

// Service implements the session lifecycle: login, logout, token refresh,
// password reset and two-factor enrolment.
type Service struct {
	repos    *store.Repositories
	tokens   *guard.TokenService
	devices  *guard.DeviceRegistry
	twofa    *guard.TwoFactor
	cache    cache.Store
	keys     cache.Keyer
	notifier Notifier
	opts     Options
	logger   *slog.Logger
}

// NewService creates a session service.
func NewService(repos *store.Repositories, tokens *guard.TokenService, devices *guard.DeviceRegistry, twofa *guard.TwoFactor, cacheStore cache.Store, keys cache.Keyer, notifier Notifier, opts Options, logger *slog.Logger) *Service {
	if opts.MinPasswordLength <= 0 {
		opts.MinPasswordLength = 12
	}
	if opts.ResetOTPTTL <= 0 {
		opts.ResetOTPTTL = 10 * time.Minute
	}
	if opts.ResetTokenTTL <= 0 {
		opts.ResetTokenTTL = 15 * time.Minute
	}
	return &Service{
		repos:    repos,
		tokens:   tokens,
		devices:  devices,
		twofa:    twofa,
		cache:    cacheStore,
		keys:     keys,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
	}
}

// LoginInput carries the credentials and client identity for a login.
type LoginInput struct {
	Username      string
	Password      string
	TwoFactorCode string
	Fingerprint   fingerprint.Fingerprint
}

// LoginResult is a successful login.
type LoginResult struct {
	User   *store.User      `json:"user"`
	Device *store.Device    `json:"device"`
	Tokens *guard.TokenPair `json:"tokens"`
}

// Login authenticates credentials, resolves or registers the device, and
// issues a fresh token pair. Users with TOTP enrolled must supply a valid
// code. Unknown usernames and wrong passwords are indistinguishable to the
// caller.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	user, err := s.repos.Users.GetByUsername(ctx, in.Username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}

	ok, err := guard.VerifyPassword(in.Password, user.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}

	if user.TwoFactorEnabled && user.TwoFactorSecret != "" {
		if in.TwoFactorCode == "" || !guard.ValidateTOTP(in.TwoFactorCode, user.TwoFactorSecret) {
			return nil, ErrTwoFactorCode
		}
	}

	device, err := s.devices.Resolve(ctx, user.ID, in.Fingerprint)
	if errors.Is(err, store.ErrDeviceNotFound) {
		device, err = s.devices.Register(ctx, user.ID, in.Fingerprint)
		if err == nil && s.notifier != nil && user.Email != "" {
			if nerr := s.notifier.SendNewDeviceAlert(ctx, user.Email, device); nerr != nil {
				s.logger.Warn("new device alert failed", "user_id", user.ID, "error", nerr)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("resolving device: %w", err)
	}

	pair, err := s.tokens.IssuePair(ctx, user.ID, user.CurrentTeamID, device.ID)
	if err != nil {
		return nil, fmt.Errorf("issuing tokens: %w", err)
	}

	now := time.Now().UTC()
	if err := s.repos.Users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("recording login: %w", err)
	}
	user.LastLoginAt = &now

	s.logger.Info("login", "user_id", user.ID, "device_id", device.ID)

	return &LoginResult{User: user, Device: device, Tokens: pair}, nil
}

// Logout revokes the active tokens for the calling device. Other devices'
// sessions are untouched.
func (s *Service) Logout(ctx context.Context, userID, deviceID string) error {
	if err := s.tokens.Revoke(ctx, userID, deviceID); err != nil {
		return err
	}
	s.logger.Info("logout", "user_id", userID, "device_id", deviceID)
	return nil
}

// Refresh exchanges a live refresh token for a fresh pair. The refresh
// token must verify, belong to a live user, match a registered device, and
// be the cached active refresh token for that device.
func (s *Service) Refresh(ctx context.Context, refreshToken string, fp fingerprint.Fingerprint) (*guard.TokenPair, error) {
	claims, ok := s.tokens.VerifyRefresh(refreshToken)
	if !ok {
		return nil, guard.ErrSessionExpired()
	}

	user, err := s.repos.Users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, guard.ErrSessionExpired()
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}

	device, err := s.devices.Resolve(ctx, user.ID, fp)
	if err != nil {
		if errors.Is(err, store.ErrDeviceNotFound) {
			return nil, guard.ErrUnauthorizedDevice()
		}
		return nil, fmt.Errorf("resolving device: %w", err)
	}

	active, err := s.tokens.RefreshActive(ctx, user.ID, device.ID, refreshToken)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, guard.ErrSessionExpired()
	}

	pair, err := s.tokens.IssuePair(ctx, user.ID, user.CurrentTeamID, device.ID)
	if err != nil {
		return nil, fmt.Errorf("issuing tokens: %w", err)
	}
	return pair, nil
}

// InitiateResetPassword emails a short-lived numeric code to the account's
// address. The cache holds only a digest of the code. Unknown emails
// succeed silently so the endpoint does not leak which addresses exist.
func (s *Service) InitiateResetPassword(ctx context.Context, email string) error {
	user, err := s.repos.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			s.logger.Info("reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("loading user: %w", err)
	}

	code, err := generateNumericCode(resetCodeDigits)
	if err != nil {
		return err
	}

	key := s.keys.Key("reset", "otp", user.Email)
	if err := s.cache.Set(ctx, key, digest(code), s.opts.ResetOTPTTL); err != nil {
		return fmt.Errorf("caching reset code: %w", err)
	}

	if err := s.notifier.SendPasswordResetCode(ctx, user.Email, code); err != nil {
		return fmt.Errorf("sending reset code: %w", err)
	}

	s.logger.Info("password reset initiated", "user_id", user.ID)
	return nil
}

// VerifyResetPasswordOTP redeems an emailed code for a reset token. The
// code is single-use: redemption deletes its cache entry.
func (s *Service) VerifyResetPasswordOTP(ctx context.Context, email, code string) (string, error) {
	key := s.keys.Key("reset", "otp", email)

	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("reading reset code: %w", err)
	}
	if !ok || subtle.ConstantTimeCompare([]byte(cached), []byte(digest(code))) != 1 {
		return "", ErrInvalidResetCode
	}

	if err := s.cache.Delete(ctx, key); err != nil {
		return "", fmt.Errorf("consuming reset code: %w", err)
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("generating reset token: %w", err)
	}
	token := hex.EncodeToString(tokenBytes)

	tokenKey := s.keys.Key("reset", "token", email)
	if err := s.cache.Set(ctx, tokenKey, digest(token), s.opts.ResetTokenTTL); err != nil {
		return "", fmt.Errorf("caching reset token: %w", err)
	}

	return token, nil
}

// ResetPassword sets a new password after token verification and revokes
// every device's active tokens, forcing a fresh login everywhere.
func (s *Service) ResetPassword(ctx context.Context, email, token, newPassword string) error {
	tokenKey := s.keys.Key("reset", "token", email)

	cached, ok, err := s.cache.Get(ctx, tokenKey)
	if err != nil {
		return fmt.Errorf("reading reset token: %w", err)
	}
	if !ok || subtle.ConstantTimeCompare([]byte(cached), []byte(digest(token))) != 1 {
		return ErrInvalidResetToken
	}

	if err := guard.ValidatePasswordStrength(newPassword, s.opts.MinPasswordLength); err != nil {
		return err
	}

	user, err := s.repos.Users.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("loading user: %w", err)
	}

	hash, err := guard.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.repos.Users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("storing password: %w", err)
	}

	if err := s.cache.Delete(ctx, tokenKey); err != nil {
		return fmt.Errorf("consuming reset token: %w", err)
	}

	devices, err := s.repos.Devices.ListByUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	ids := make([]string, len(devices))
	for i, d := range devices {
		ids[i] = d.ID
	}
	if err := s.tokens.RevokeDevices(ctx, user.ID, ids); err != nil {
		return fmt.Errorf("revoking sessions: %w", err)
	}

	s.logger.Info("password reset completed", "user_id", user.ID, "devices_revoked", len(ids))
	return nil
}

// Enrolment is the result of starting two-factor enrolment.
type Enrolment struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// EnrollTwoFactor generates and stores a TOTP secret for the user with the
// enabled flag off. The account is not protected until ConfirmTwoFactor
// proves the authenticator works.
func (s *Service) EnrollTwoFactor(ctx context.Context, userID string) (*Enrolment, error) {
	user, err := s.repos.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if user.TwoFactorEnabled {
		return nil, ErrTwoFactorEnrolled
	}

	account := user.Email
	if account == "" {
		account = user.Username
	}
	key, err := guard.GenerateSecret(account)
	if err != nil {
		return nil, err
	}

	if err := s.repos.Users.SetTwoFactor(ctx, user.ID, key.Secret(), false, nil); err != nil {
		return nil, fmt.Errorf("storing secret: %w", err)
	}

	return &Enrolment{Secret: key.Secret(), URL: key.URL()}, nil
}

// ConfirmTwoFactor verifies a code against the enrolled secret, enables
// the second factor and returns freshly generated backup codes.
func (s *Service) ConfirmTwoFactor(ctx context.Context, userID, code string) ([]string, error) {
	user, err := s.repos.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if user.TwoFactorSecret == "" {
		return nil, ErrTwoFactorCode
	}
	if !guard.ValidateTOTP(code, user.TwoFactorSecret) {
		return nil, ErrTwoFactorCode
	}

	codes := make([]string, backupCodeCount)
	for i := range codes {
		c, err := generateNumericCode(8)
		if err != nil {
			return nil, err
		}
		codes[i] = c
	}

	if err := s.repos.Users.SetTwoFactor(ctx, user.ID, user.TwoFactorSecret, true, codes); err != nil {
		return nil, fmt.Errorf("enabling two factor: %w", err)
	}

	s.logger.Info("two factor enabled", "user_id", user.ID)
	return codes, nil
}

// DisableTwoFactor clears the secret and backup codes after a final code
// check.
func (s *Service) DisableTwoFactor(ctx context.Context, userID, code string) error {
	user, err := s.repos.Users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading user: %w", err)
	}
	if !user.TwoFactorEnabled || !guard.ValidateTOTP(code, user.TwoFactorSecret) {
		return ErrTwoFactorCode
	}

	if err := s.repos.Users.SetTwoFactor(ctx, user.ID, "", false, nil); err != nil {
		return fmt.Errorf("disabling two factor: %w", err)
	}

	s.logger.Info("two factor disabled", "user_id", user.ID)
	return nil
}

// digest hashes cache-bound secrets so a cache dump exposes nothing
// redeemable.
func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// generateNumericCode produces a uniformly random decimal code of the
// given length, left-padded with zeros.
func generateNumericCode(digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
