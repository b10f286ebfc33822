// Package guard decides whether a request may proceed.
//
// The central type is Gate, which runs each request through a fixed chain
// of checks under a route Policy: access token signature and expiry, user
// load, device fingerprint match, active-token cache presence, an optional
// second factor, and team-scoped permissions. The first failure denies the
// request with a classified Error whose message is safe to send to the
// client.
//
// Token liveness is tracked by cache presence: issuing a token replaces
// the cached entry for its (user, device) pair, so at most one access and
// one refresh token per pair are ever live, and deleting the entry revokes
// them without a denylist.
package guard
