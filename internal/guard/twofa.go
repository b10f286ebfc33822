package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/nexus-stack/nexus-core/internal/infrastructure/cache"
	"github.com/nexus-stack/nexus-core/internal/store"
)

// totpIssuer is the issuer name shown in authenticator apps.
const totpIssuer = "Nexus"

// fallbackOTPTTL bounds how long a cached one-time code stays redeemable.
const fallbackOTPTTL = 10 * time.Minute

// TwoFactor verifies second-factor codes. Users with TOTP enrolled are
// checked against their secret; everyone else falls back to a single-use
// code cached against their email.
type TwoFactor struct {
	cache cache.Store
	keys  cache.Keyer
}

// NewTwoFactor creates a two-factor verifier over the given cache.
func NewTwoFactor(store cache.Store, keys cache.Keyer) *TwoFactor {
	return &TwoFactor{cache: store, keys: keys}
}

// Verify checks the authentication code for a user. A missing code and a
// wrong code produce distinct denials so clients can prompt correctly.
func (t *TwoFactor) Verify(ctx context.Context, user *store.User, code string) error {
	if code == "" {
		return ErrTwoFactorRequired()
	}

	if user.TwoFactorEnabled && user.TwoFactorSecret != "" {
		if !totp.Validate(code, user.TwoFactorSecret) {
			return ErrInvalidAuthCode()
		}
		return nil
	}

	return t.redeemFallback(ctx, user.Email, code)
}

// redeemFallback checks the code against the cached one-time code for the
// email and consumes it on success. The same code cannot be redeemed twice.
func (t *TwoFactor) redeemFallback(ctx context.Context, email, code string) error {
	key := t.keys.Key("admin", "otp", email)

	cached, ok, err := t.cache.Get(ctx, key)
	if err != nil {
		return ErrInternal(fmt.Errorf("reading one-time code: %w", err))
	}
	if !ok || cached != code {
		return ErrInvalidAuthCode()
	}

	if err := t.cache.Delete(ctx, key); err != nil {
		return ErrInternal(fmt.Errorf("consuming one-time code: %w", err))
	}
	return nil
}

// IssueFallback caches a single-use code for users without TOTP enrolled.
// The previous code for the email, if any, is replaced.
func (t *TwoFactor) IssueFallback(ctx context.Context, email, code string) error {
	key := t.keys.Key("admin", "otp", email)
	if err := t.cache.Set(ctx, key, code, fallbackOTPTTL); err != nil {
		return fmt.Errorf("caching one-time code: %w", err)
	}
	return nil
}

// GenerateSecret creates a new TOTP secret for enrolment. The returned key
// exposes the shared secret and the otpauth:// provisioning URL.
func GenerateSecret(accountName string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: accountName,
	})
	if err != nil {
		return nil, fmt.Errorf("generating totp secret: %w", err)
	}
	return key, nil
}

// ValidateTOTP checks a code against a secret outside the request guard,
// used when confirming enrolment before the enabled flag is set.
func ValidateTOTP(code, secret string) bool {
	return totp.Validate(code, secret)
}
