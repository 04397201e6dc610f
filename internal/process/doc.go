// Package process holds the three process definitions: order fulfillment
// (a saga with an approval gate), training supervision (a checkpointed
// loop with review gates), and codebase analysis (budget-gated scanning
// with child fan-out and an adaptive strategy loop).
//
// Definitions are pure orchestration over exec.Context. Each maintains a
// queryable state record registered under the "state" query; the record
// is plain in-process state rebuilt identically on replay.
package process
