// Package store provides persistent storage for fraudgate using SQLite.
//
// # Data Models
//
//   - Case: Transaction under review, mutated only by the escalation orchestrator
//   - AgentStep: Append-only audit record, strictly increasing step numbers per case
//   - Signal: Purchased risk feature bundle, unique per (case, signal type)
//   - Payment: Settled purchase behind a proof token, amount and proof immutable
//   - Decision: One opinion per (case, agent); at most one final decision per case
//
// # Idempotency
//
// Uniqueness constraints carry the correctness invariants rather than locks:
//
//   - UNIQUE(case_id, signal_type) on signals collapses concurrent purchase
//     races to a single record; losers receive ErrDuplicateSignal and must
//     read the winner's row.
//   - UNIQUE(case_id, agent_name) on decisions makes decision writes at-most-once.
//   - A partial unique index on decisions(case_id) WHERE is_final guarantees
//     exactly one final verdict per case.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Use NewSQLiteStore(":memory:") for tests.
//
// # Error Handling
//
// Sentinel errors (ErrNotFound, ErrDuplicateSignal, ErrDuplicateDecision,
// ErrDuplicateFinal, ErrDuplicateStep, ErrDuplicatePayment) are returned for
// expected conditions; all methods accept context.Context.
package store
