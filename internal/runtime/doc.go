// Package runtime is the in-process durable-execution substrate behind
// the exec.Context contract. It hosts process executions, records every
// observed effect into the history store, and replays recorded outcomes
// when an execution is restarted over existing history.
//
// ARCHITECTURE:
//
// Single-Writer Scheduler:
// All state mutation happens in one scheduler goroutine. Each execution's
// logic runs on its own goroutine, but in strict hand-off with the
// scheduler: the logic runs only between the scheduler's resume and its
// next suspension command (activity call, signal wait, timer, child
// await). The scheduler never runs concurrently with any execution, so
// queries of in-process state are race-free by construction.
//
// External callers (HTTP handlers, CLI, tests) submit start/signal/
// cancel/query requests through a FIFO queue and block until the
// scheduler has fully processed the request, including every execution
// step it unblocks. That makes test scripts sequential and deterministic
// with no sleeps.
//
// Structural Idempotency:
// Replay is not a mode. Every suspension command consults the execution's
// history cursor first: if an event is recorded at that position with a
// matching kind and name, its outcome is returned without re-invoking the
// side effect; otherwise the effect runs and the outcome is appended
// (idempotently, keyed by seq) before the logic observes it. Restarting
// an execution over a partial history therefore re-derives identical
// decisions and only performs the effects the previous run never reached.
// A kind/name mismatch at the cursor surfaces exec.NondeterminismError.
//
// Time:
// The scheduler owns a clock. The virtual clock never advances on its
// own; tests and the harness advance it explicitly, which fires due
// timers in deadline order. The wall clock arms real timers for the
// earliest deadline. Orchestration logic never sees either directly.
//
// The scheduler is designed for correctness and determinism, not
// throughput: activities execute inline in the scheduler loop.
package runtime
