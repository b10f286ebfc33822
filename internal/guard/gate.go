package guard

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nexus-stack/nexus-core/internal/fingerprint"
	"github.com/nexus-stack/nexus-core/internal/store"
)

// State tracks how far a request progressed through the admission chain.
type State int

// Admission states, in check order.
const (
	StateUnchecked State = iota
	StateTokenVerified
	StateUserLoaded
	StateDeviceVerified
	StateTwoFactorVerified
	StatePermissionChecked
	StateAdmitted
	StateDenied
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateUnchecked:
		return "unchecked"
	case StateTokenVerified:
		return "token_verified"
	case StateUserLoaded:
		return "user_loaded"
	case StateDeviceVerified:
		return "device_verified"
	case StateTwoFactorVerified:
		return "two_factor_verified"
	case StatePermissionChecked:
		return "permission_checked"
	case StateAdmitted:
		return "admitted"
	case StateDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Request carries everything the gate inspects about an incoming request.
type Request struct {
	Token         string
	Fingerprint   fingerprint.Fingerprint
	TwoFactorCode string
}

// Result is a successful admission. Anonymous results carry no user,
// device or claims. Membership is the user's active membership in the
// token's current team, nil when the user holds none.
type Result struct {
	State      State
	Anonymous  bool
	User       *store.User
	Device     *store.Device
	Claims     *Claims
	Membership *store.Membership
}

// Gate evaluates requests against a policy. Checks run in a fixed order
// and the first failure denies: token signature and expiry, user load,
// device match, active-token cache presence, optional second factor,
// permissions.
type Gate struct {
	tokens  *TokenService
	users   store.UserRepository
	devices *DeviceRegistry
	twofa   *TwoFactor
	logger  *slog.Logger
}

// NewGate creates a request gate.
func NewGate(tokens *TokenService, users store.UserRepository, devices *DeviceRegistry, twofa *TwoFactor, logger *slog.Logger) *Gate {
	return &Gate{tokens: tokens, users: users, devices: devices, twofa: twofa, logger: logger}
}

// Check runs the admission chain for a request under the given policy.
// The returned error, when non-nil, is always a *Error carrying the
// client-safe denial.
func (g *Gate) Check(ctx context.Context, req Request, pol Policy) (*Result, error) {
	if pol.SkipAuth {
		return &Result{State: StateAdmitted, Anonymous: true}, nil
	}

	result, reached, gerr := g.admit(ctx, req, pol)
	if gerr != nil {
		// Loose routes tolerate a failure to establish identity but
		// never a refusal of an established one. Second-factor
		// denials refuse an identity the chain already holds, so
		// they deny even here.
		if pol.LooseAuth && looseForgivable(gerr) {
			return &Result{State: StateAdmitted, Anonymous: true}, nil
		}
		g.logger.Info("request denied",
			"kind", gerr.Kind.String(),
			"reached", reached.String(),
			"reason", gerr.Message,
		)
		return nil, gerr
	}

	return result, nil
}

// admit runs the strict chain, reporting the first failure and the last
// state the request reached before it.
func (g *Gate) admit(ctx context.Context, req Request, pol Policy) (*Result, State, *Error) {
	state := StateUnchecked

	claims, ok := g.tokens.VerifyAccess(req.Token)
	if !ok {
		return nil, state, ErrSessionExpired()
	}
	state = StateTokenVerified

	user, err := g.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, state, ErrSessionExpired()
		}
		return nil, state, ErrInternal(err)
	}
	// A session must be scoped to a team, on the token or on the record.
	if claims.CurrentTeamID == "" && user.CurrentTeamID == "" {
		return nil, state, ErrSessionExpired()
	}
	state = StateUserLoaded

	device, err := g.devices.Resolve(ctx, user.ID, req.Fingerprint)
	if err != nil {
		if errors.Is(err, store.ErrDeviceNotFound) {
			return nil, state, ErrUnauthorizedDevice()
		}
		return nil, state, ErrInternal(err)
	}
	state = StateDeviceVerified

	active, err := g.tokens.AccessActive(ctx, user.ID, device.ID, req.Token)
	if err != nil {
		return nil, state, ErrInternal(err)
	}
	if !active {
		return nil, state, ErrSessionExpired()
	}

	if pol.RequireTwoFactor {
		if err := g.twofa.Verify(ctx, user, req.TwoFactorCode); err != nil {
			return nil, state, asGuardError(err)
		}
		state = StateTwoFactorVerified
	}

	if err := CheckPermissions(user, claims.CurrentTeamID, pol.Permissions); err != nil {
		return nil, state, asGuardError(err)
	}
	if len(pol.Permissions) > 0 {
		state = StatePermissionChecked
	}

	teamID := claims.CurrentTeamID
	if teamID == "" {
		teamID = user.CurrentTeamID
	}

	return &Result{
		State:      StateAdmitted,
		User:       user,
		Device:     device,
		Claims:     claims,
		Membership: findMembership(user, teamID),
	}, state, nil
}

// looseForgivable reports whether a denial failed to establish who is
// calling, as opposed to refusing a caller the chain already identified.
// Dead tokens, unknown users, unmatched devices and displaced sessions all
// surface as one of these two denials.
func looseForgivable(gerr *Error) bool {
	if gerr.Kind != KindAuthentication {
		return false
	}
	return gerr.Message == MsgSessionExpired || gerr.Message == MsgUnauthorizedDevice
}

// asGuardError coerces an error into a *Error, wrapping unknown errors as
// infrastructure failures.
func asGuardError(err error) *Error {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr
	}
	return ErrInternal(err)
}
