// Package exec defines the contract between orchestration logic and the
// durable-execution substrate.
//
// Orchestration code (sagas, checkpoint loops, approval gates, task
// coordinators) is written against the Context interface and never touches
// wall clocks, real randomness, or the network directly. Every side effect
// flows through Context.Execute, every delay through Context.Sleep, every
// random draw through the deterministic RNG. This capability boundary is
// what makes replay-from-history produce byte-identical decisions.
//
// The substrate behind Context guarantees:
//   - an activity result, once observed by the logic, is recorded and will
//     be reproduced on replay without re-invoking the side effect
//   - signals destined for one execution are delivered in FIFO order
//   - between suspension points logic runs without preemption, so there is
//     no data race within one execution
//
// Payloads crossing the boundary are restricted to canonical-JSON-safe
// values (strings, int64, bool, arrays, objects). Floats are forbidden;
// money is integer cents and metrics/costs are integer milliunits.
package exec
