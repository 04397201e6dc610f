// Package activity provides the activity handlers the process
// definitions call through the gateway, backed by injectable service
// interfaces with in-memory implementations.
//
// Handlers are the only place side effects happen. They must be safe to
// retry: every external operation is keyed by a caller-supplied
// idempotency key (execution key, reservation id, checkpoint ref) so a
// redelivered attempt converges instead of duplicating.
package activity
