// Package store provides durable SQLite storage for execution histories
// and checkpoints.
//
// The store is strictly append-only for history events: writes use
// ON CONFLICT DO NOTHING so a crash-restart that re-issues the same
// (execution, seq) event is a no-op, and reads order by seq so replay
// observes events in exactly the order they were recorded.
//
// SQLite runs in WAL mode with a single writer connection. The engine's
// scheduler is the only writer; queries may read concurrently.
package store
