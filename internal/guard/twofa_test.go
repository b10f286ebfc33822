package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/nexus-stack/nexus-core/internal/infrastructure/cache"
	"github.com/nexus-stack/nexus-core/internal/store"
)

func testTwoFactor() *TwoFactor {
	return NewTwoFactor(cache.NewMemoryStore(), cache.NewKeyer("test"))
}

func assertGuardError(t *testing.T, err error, wantMsg string) {
	t.Helper()
	var gerr *Error
	if !errors.As(err, &gerr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if gerr.Message != wantMsg {
		t.Errorf("message = %q, want %q", gerr.Message, wantMsg)
	}
}

func TestTwoFactor_MissingCode(t *testing.T) {
	tf := testTwoFactor()
	user := &store.User{Email: "alice@example.com"}

	err := tf.Verify(context.Background(), user, "")
	assertGuardError(t, err, MsgTwoFactorRequired)
}

func TestTwoFactor_TOTP(t *testing.T) {
	tf := testTwoFactor()
	ctx := context.Background()

	key, err := GenerateSecret("alice@example.com")
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	user := &store.User{
		Email:            "alice@example.com",
		TwoFactorEnabled: true,
		TwoFactorSecret:  key.Secret(),
	}

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	if err := tf.Verify(ctx, user, code); err != nil {
		t.Errorf("expected valid code to pass: %v", err)
	}

	err = tf.Verify(ctx, user, "000000")
	assertGuardError(t, err, MsgInvalidAuthCode)
}

func TestTwoFactor_FallbackSingleUse(t *testing.T) {
	tf := testTwoFactor()
	ctx := context.Background()
	user := &store.User{Email: "bob@example.com"}

	if err := tf.IssueFallback(ctx, user.Email, "482913"); err != nil {
		t.Fatalf("IssueFallback: %v", err)
	}

	t.Run("wrong code rejected", func(t *testing.T) {
		err := tf.Verify(ctx, user, "111111")
		assertGuardError(t, err, MsgInvalidAuthCode)
	})

	t.Run("correct code accepted once", func(t *testing.T) {
		if err := tf.Verify(ctx, user, "482913"); err != nil {
			t.Fatalf("expected issued code to pass: %v", err)
		}

		// Consumed on first use.
		err := tf.Verify(ctx, user, "482913")
		assertGuardError(t, err, MsgInvalidAuthCode)
	})
}

func TestTwoFactor_FallbackScopedToEmail(t *testing.T) {
	tf := testTwoFactor()
	ctx := context.Background()

	if err := tf.IssueFallback(ctx, "carol@example.com", "777777"); err != nil {
		t.Fatalf("IssueFallback: %v", err)
	}

	other := &store.User{Email: "mallory@example.com"}
	err := tf.Verify(ctx, other, "777777")
	assertGuardError(t, err, MsgInvalidAuthCode)
}

func TestValidateTOTP(t *testing.T) {
	key, err := GenerateSecret("dave@example.com")
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	if !ValidateTOTP(code, key.Secret()) {
		t.Error("expected current code to validate")
	}
	if ValidateTOTP("000000", key.Secret()) {
		t.Error("expected wrong code to fail")
	}
}
