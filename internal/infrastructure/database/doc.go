// Package database provides SQLite connection management and schema
// migrations for Nexus Core.
//
// It wraps database/sql with:
//   - WAL-mode SQLite configuration tuned for a single-writer workload
//   - Embedded SQL migrations applied transactionally, one per version
//   - Health checks for readiness probes
//
// Migration files live in the top-level migrations/ package and are
// compiled into the binary via go:embed. Filenames follow
// YYYYMMDD_HHMMSS_description.up.sql / .down.sql.
package database
