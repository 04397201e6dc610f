package runtime

import (
	"time"

	"github.com/roach88/helmsman/internal/exec"
)

// cmdKind identifies a suspension command issued by execution logic.
type cmdKind int

const (
	cmdActivity cmdKind = iota + 1
	cmdDetached
	cmdSignalWait
	cmdSleep
	cmdStartChild
	cmdAwaitChild
	cmdMarker
)

func (k cmdKind) String() string {
	switch k {
	case cmdActivity:
		return "activity"
	case cmdDetached:
		return "detached"
	case cmdSignalWait:
		return "signal"
	case cmdSleep:
		return "timer"
	case cmdStartChild:
		return "child-start"
	case cmdAwaitChild:
		return "child"
	case cmdMarker:
		return "marker"
	default:
		return "unknown"
	}
}

// command carries one suspension request from an execution goroutine to
// the scheduler. The shielded flag is sampled at issue time so a wait
// inside a compensation scope cannot be cancelled mid-flight.
type command struct {
	kind     cmdKind
	name     string // activity name, slot name, marker name, child workflow
	suffix   string // child key suffix
	childKey string // for cmdAwaitChild
	input    exec.Payload
	policy   exec.RetryPolicy
	timeout  time.Duration
	shielded bool
}

// cmdResult is the scheduler's reply to a command.
type cmdResult struct {
	payload exec.Payload
	err     error
	wait    exec.WaitResult
	child   exec.Child
}

// History event kinds and outcomes. These strings are persisted; changing
// them invalidates existing histories.
const (
	kindActivity = "activity"
	kindDetached = "detached"
	kindSignal   = "signal"
	kindTimer    = "timer"
	kindChild    = "child"
	kindMarker   = "marker"
	kindCancel   = "cancel"

	outcomeOK        = "ok"
	outcomeError     = "error"
	outcomeSignal    = "signal"
	outcomeTimeout   = "timeout"
	outcomeCancelled = "cancelled"
	outcomeFired     = "fired"
	outcomeRecorded  = "recorded"
	outcomeRequested = "requested"
)

// checkpointMarker is the marker name that additionally projects into
// the checkpoints table.
const checkpointMarker = "checkpoint"

// historyKind maps a command to the event kind it records.
func (c *command) historyKind() string {
	switch c.kind {
	case cmdActivity:
		return kindActivity
	case cmdDetached:
		return kindDetached
	case cmdSignalWait:
		return kindSignal
	case cmdSleep:
		return kindTimer
	case cmdAwaitChild:
		return kindChild
	case cmdMarker:
		return kindMarker
	default:
		return "unknown"
	}
}
