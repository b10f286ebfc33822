package guard

// Policy declares what a route demands from the request guard. The zero
// value requires a fully authenticated request with no particular
// permissions.
type Policy struct {
	// SkipAuth admits the request without any checks. The result carries
	// no user.
	SkipAuth bool

	// LooseAuth admits requests whose token is missing or dead as
	// anonymous instead of denying them. Requests with a live token
	// still pass the full check chain and fail loudly.
	LooseAuth bool

	// RequireTwoFactor demands a valid authentication code on every
	// request, not just at login.
	RequireTwoFactor bool

	// Permissions lists slugs of which the caller must hold at least
	// one in the token's team scope. Empty means any authenticated
	// user.
	Permissions []string
}

// Public is the policy for routes open to everyone.
func Public() Policy {
	return Policy{SkipAuth: true}
}

// Authenticated is the policy for routes that need a logged-in user.
func Authenticated() Policy {
	return Policy{}
}

// Optional is the policy for routes that personalise when a session is
// present but work without one.
func Optional() Policy {
	return Policy{LooseAuth: true}
}

// RequirePermissions is the policy for routes gated on team permissions.
func RequirePermissions(slugs ...string) Policy {
	return Policy{Permissions: slugs}
}
