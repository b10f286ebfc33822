// Package store provides the SQLite-backed credential store: users,
// devices, teams, roles, permissions and team memberships.
//
// Repositories follow a consistent pattern: an interface describing the
// operations, a SQLite implementation, sentinel errors for not-found and
// uniqueness cases, and RFC3339 TEXT timestamps. User and membership reads
// eagerly load the association graph (membership -> role -> permissions,
// membership -> team) because the request guard evaluates permissions from
// a single user lookup.
//
// Users are soft-deleted; devices are immutable snapshots of the client
// fingerprint seen at first login.
package store
