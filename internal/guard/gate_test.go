package guard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/nexus-stack/nexus-core/internal/fingerprint"
	"github.com/nexus-stack/nexus-core/internal/infrastructure/cache"
	"github.com/nexus-stack/nexus-core/internal/infrastructure/database"
	"github.com/nexus-stack/nexus-core/internal/store"
	_ "github.com/nexus-stack/nexus-core/migrations"
)

const testUA = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"

type gateHarness struct {
	repos   *store.Repositories
	tokens  *TokenService
	twofa   *TwoFactor
	devices *DeviceRegistry
	gate    *Gate

	user   *store.User
	team   *store.Team
	device *store.Device
	pair   *TokenPair
}

// newGateHarness builds a gate over a migrated database and memory cache,
// with one user holding manage_team in one team and a device registered
// from testUA.
func newGateHarness(t *testing.T) *gateHarness {
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
	tokens := NewTokenService(mem, keys, TokenOptions{
		AccessSecret:  "access-secret-for-tests-0123456789ab",
		RefreshSecret: "refresh-secret-for-tests-0123456789",
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	})
	twofa := NewTwoFactor(mem, keys)
	devices := NewDeviceRegistry(repos.Devices, logger)

	h := &gateHarness{
		repos:   repos,
		tokens:  tokens,
		twofa:   twofa,
		devices: devices,
		gate:    NewGate(tokens, repos.Users, devices, twofa, logger),
	}

	h.team = &store.Team{Name: "Acme", Slug: "acme"}
	if err := repos.Teams.Create(ctx, h.team); err != nil {
		t.Fatalf("creating team: %v", err)
	}

	role := &store.Role{TeamID: h.team.ID, Name: "Manager", Slug: "manager", Status: store.RoleActive}
	if err := repos.Roles.Create(ctx, role); err != nil {
		t.Fatalf("creating role: %v", err)
	}
	perm := &store.Permission{Name: "Manage Team", Slug: "manage_team"}
	if err := repos.Roles.CreatePermission(ctx, perm); err != nil {
		t.Fatalf("creating permission: %v", err)
	}
	if err := repos.Roles.AttachPermission(ctx, role.ID, perm.ID); err != nil {
		t.Fatalf("attaching permission: %v", err)
	}

	h.user = &store.User{
		Username:      "alice",
		Email:         "alice@example.com",
		PasswordHash:  "unused",
		CurrentTeamID: h.team.ID,
	}
	if err := repos.Users.Create(ctx, h.user); err != nil {
		t.Fatalf("creating user: %v", err)
	}
	m := &store.Membership{UserID: h.user.ID, TeamID: h.team.ID, RoleID: role.ID, Status: store.MembershipActive}
	if err := repos.Memberships.Create(ctx, m); err != nil {
		t.Fatalf("creating membership: %v", err)
	}

	h.device, err = devices.Register(ctx, h.user.ID, fingerprint.Parse(testUA))
	if err != nil {
		t.Fatalf("registering device: %v", err)
	}

	h.pair, err = tokens.IssuePair(ctx, h.user.ID, h.team.ID, h.device.ID)
	if err != nil {
		t.Fatalf("issuing tokens: %v", err)
	}

	return h
}

func (h *gateHarness) request() Request {
	return Request{Token: h.pair.AccessToken, Fingerprint: fingerprint.Parse(testUA)}
}

func assertDenied(t *testing.T, err error, wantMsg string, wantStatus int) {
	t.Helper()
	var gerr *Error
	if !errors.As(err, &gerr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if gerr.Message != wantMsg {
		t.Errorf("message = %q, want %q", gerr.Message, wantMsg)
	}
	if got := gerr.Kind.HTTPStatus(); got != wantStatus {
		t.Errorf("status = %d, want %d", got, wantStatus)
	}
}

func TestGate_AdmitsValidRequest(t *testing.T) {
	h := newGateHarness(t)

	res, err := h.gate.Check(context.Background(), h.request(), Authenticated())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.State != StateAdmitted || res.Anonymous {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.User == nil || res.User.ID != h.user.ID {
		t.Error("expected user on result")
	}
	if res.Device == nil || res.Device.ID != h.device.ID {
		t.Error("expected device on result")
	}
	if res.Membership == nil || res.Membership.TeamID != h.team.ID || res.Membership.Role == nil {
		t.Errorf("Membership = %+v", res.Membership)
	}
	if res.Claims == nil || res.Claims.CurrentTeamID != h.team.ID {
		t.Error("expected claims on result")
	}
}

func TestGate_SkipAuth(t *testing.T) {
	h := newGateHarness(t)

	// No token, no fingerprint; still admitted.
	res, err := h.gate.Check(context.Background(), Request{}, Public())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.Anonymous {
		t.Error("expected anonymous admission")
	}
}

func TestGate_TokenDenials(t *testing.T) {
	h := newGateHarness(t)
	ctx := context.Background()

	t.Run("missing token", func(t *testing.T) {
		req := h.request()
		req.Token = ""
		_, err := h.gate.Check(ctx, req, Authenticated())
		assertDenied(t, err, MsgSessionExpired, http.StatusUnauthorized)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := h.request()
		req.Token = "not.a.jwt"
		_, err := h.gate.Check(ctx, req, Authenticated())
		assertDenied(t, err, MsgSessionExpired, http.StatusUnauthorized)
	})

	t.Run("refresh token is not an access token", func(t *testing.T) {
		req := h.request()
		req.Token = h.pair.RefreshToken
		_, err := h.gate.Check(ctx, req, Authenticated())
		assertDenied(t, err, MsgSessionExpired, http.StatusUnauthorized)
	})

	t.Run("displaced by newer login", func(t *testing.T) {
		old := h.pair.AccessToken
		var err error
		h.pair, err = h.tokens.IssuePair(ctx, h.user.ID, h.team.ID, h.device.ID)
		if err != nil {
			t.Fatalf("IssuePair: %v", err)
		}

		req := h.request()
		req.Token = old
		_, err = h.gate.Check(ctx, req, Authenticated())
		assertDenied(t, err, MsgSessionExpired, http.StatusUnauthorized)
	})

	t.Run("revoked", func(t *testing.T) {
		if err := h.tokens.Revoke(ctx, h.user.ID, h.device.ID); err != nil {
			t.Fatalf("Revoke: %v", err)
		}
		_, err := h.gate.Check(ctx, h.request(), Authenticated())
		assertDenied(t, err, MsgSessionExpired, http.StatusUnauthorized)
	})
}

func TestGate_DeletedUserDenied(t *testing.T) {
	h := newGateHarness(t)
	ctx := context.Background()

	if err := h.repos.Users.SoftDelete(ctx, h.user.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	_, err := h.gate.Check(ctx, h.request(), Authenticated())
	assertDenied(t, err, MsgSessionExpired, http.StatusUnauthorized)
}

func TestGate_TeamlessUserDenied(t *testing.T) {
	h := newGateHarness(t)
	ctx := context.Background()

	drifter := &store.User{
		Username:     "drifter",
		Email:        "drifter@example.com",
		PasswordHash: "unused",
	}
	if err := h.repos.Users.Create(ctx, drifter); err != nil {
		t.Fatalf("creating user: %v", err)
	}
	dev, err := h.devices.Register(ctx, drifter.ID, fingerprint.Parse(testUA))
	if err != nil {
		t.Fatalf("registering device: %v", err)
	}
	pair, err := h.tokens.IssuePair(ctx, drifter.ID, "", dev.ID)
	if err != nil {
		t.Fatalf("issuing tokens: %v", err)
	}

	// No team on the token and none on the record: the session has no
	// scope and must not pass, even without explicit permissions.
	req := Request{Token: pair.AccessToken, Fingerprint: fingerprint.Parse(testUA)}
	_, err = h.gate.Check(ctx, req, Authenticated())
	assertDenied(t, err, MsgSessionExpired, http.StatusUnauthorized)
}

func TestGate_UnknownDeviceDenied(t *testing.T) {
	h := newGateHarness(t)

	req := h.request()
	req.Fingerprint = fingerprint.Parse("Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1")

	_, err := h.gate.Check(context.Background(), req, Authenticated())
	assertDenied(t, err, MsgUnauthorizedDevice, http.StatusUnauthorized)
}

func TestGate_Permissions(t *testing.T) {
	h := newGateHarness(t)
	ctx := context.Background()

	t.Run("held permission admits", func(t *testing.T) {
		res, err := h.gate.Check(ctx, h.request(), RequirePermissions("manage_team"))
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if res.User == nil {
			t.Error("expected user on result")
		}
	})

	t.Run("missing permission denies with acceptable list", func(t *testing.T) {
		_, err := h.gate.Check(ctx, h.request(), RequirePermissions("manage_billing", "manage_members"))
		assertDenied(t, err,
			"Access Denied: You need one of the following permissions: manage_billing, manage_members",
			http.StatusForbidden)
	})
}

func TestGate_TwoFactorPolicy(t *testing.T) {
	h := newGateHarness(t)
	ctx := context.Background()
	pol := Policy{RequireTwoFactor: true}

	t.Run("missing code", func(t *testing.T) {
		_, err := h.gate.Check(ctx, h.request(), pol)
		assertDenied(t, err, MsgTwoFactorRequired, http.StatusUnauthorized)
	})

	t.Run("wrong code", func(t *testing.T) {
		req := h.request()
		req.TwoFactorCode = "000000"
		_, err := h.gate.Check(ctx, req, pol)
		assertDenied(t, err, MsgInvalidAuthCode, http.StatusUnauthorized)
	})

	t.Run("issued fallback code admits", func(t *testing.T) {
		if err := h.twofa.IssueFallback(ctx, h.user.Email, "482913"); err != nil {
			t.Fatalf("IssueFallback: %v", err)
		}
		req := h.request()
		req.TwoFactorCode = "482913"
		res, err := h.gate.Check(ctx, req, pol)
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if res.User == nil {
			t.Error("expected user on result")
		}
	})
}

func TestGate_LooseAuth(t *testing.T) {
	h := newGateHarness(t)
	ctx := context.Background()

	t.Run("dead token admits anonymously", func(t *testing.T) {
		req := Request{Token: "garbage"}
		res, err := h.gate.Check(ctx, req, Optional())
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if !res.Anonymous || res.User != nil {
			t.Errorf("expected anonymous result, got %+v", res)
		}
	})

	t.Run("live token is fully checked", func(t *testing.T) {
		res, err := h.gate.Check(ctx, h.request(), Optional())
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if res.Anonymous || res.User == nil {
			t.Errorf("expected identified result, got %+v", res)
		}
	})

	t.Run("authorization failures are not forgiven", func(t *testing.T) {
		pol := Optional()
		pol.Permissions = []string{"manage_billing"}
		_, err := h.gate.Check(ctx, h.request(), pol)
		assertDenied(t, err,
			"Access Denied: You need one of the following permissions: manage_billing",
			http.StatusForbidden)
	})

	t.Run("second factor failures are not forgiven", func(t *testing.T) {
		pol := Optional()
		pol.RequireTwoFactor = true
		_, err := h.gate.Check(ctx, h.request(), pol)
		assertDenied(t, err, MsgTwoFactorRequired, http.StatusUnauthorized)

		req := h.request()
		req.TwoFactorCode = "000000"
		_, err = h.gate.Check(ctx, req, pol)
		assertDenied(t, err, MsgInvalidAuthCode, http.StatusUnauthorized)
	})

	t.Run("displaced session admits anonymously", func(t *testing.T) {
		old := h.pair.AccessToken
		var err error
		h.pair, err = h.tokens.IssuePair(ctx, h.user.ID, h.team.ID, h.device.ID)
		if err != nil {
			t.Fatalf("IssuePair: %v", err)
		}

		req := h.request()
		req.Token = old
		res, err := h.gate.Check(ctx, req, Optional())
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if !res.Anonymous || res.User != nil {
			t.Errorf("expected anonymous result, got %+v", res)
		}
	})
}
