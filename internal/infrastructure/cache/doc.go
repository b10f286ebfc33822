// Package cache provides the token cache backing the guard's
// single-active-token-per-device invariant.
//
// The Store interface exposes Get/Set/Delete with per-entry TTLs. Two
// implementations are provided:
//
//   - RedisStore for multi-instance deployments (revocation must be
//     visible across instances)
//   - MemoryStore for tests and single-instance deployments
//
// All keys are namespaced {env}:{service}:... via Keyer, so separate
// environments can share a cache instance.
package cache
