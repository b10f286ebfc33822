// Package session implements the account session lifecycle around the
// request guard: login with device registration, logout, refresh token
// exchange, the emailed password reset flow, and TOTP enrolment.
//
// Reset codes and tokens live in the cache as SHA-256 digests with short
// TTLs and are consumed on first use. Completing a reset revokes the
// active tokens on every registered device.
package session
