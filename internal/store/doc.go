// Package store provides the decision ledger for the gateway using SQLite.
//
// # Architecture
//
// Two interfaces split the ledger:
//
//   - AuditStore: decision audit entries (agent_selection, tool_call,
//     stage_transition, response_generation, error)
//   - UsageStore: per-turn token usage and aggregate statistics
//
// SQLiteStore implements both. DispatchAuditor adapts an AuditStore to the
// dispatcher's observer hook so every tool call is recorded.
//
// # SQLite Configuration
//
// The default path is ":memory:", which keeps the ledger for the lifetime
// of the process and pins the pool to one connection. File-backed ledgers
// run with WAL:
//
//	PRAGMA journal_mode=WAL;
//
// Timestamps are stored as fixed-width UTC strings so they sort lexically.
//
// # Testing
//
// Use NewSQLiteStore(":memory:", nil) or a path under t.TempDir().
package store
