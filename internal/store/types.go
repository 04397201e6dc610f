package store

import "github.com/roach88/helmsman/internal/exec"

// Execution is one row of the executions table.
type Execution struct {
	Key      string
	Workflow string
	Status   exec.Status
	Reason   string
	Seed     int64
	Input    exec.Payload
}

// Event is one recorded history event. The seq is assigned in command
// order by the execution's own logic, so (Execution, Seq) uniquely and
// deterministically identifies the event across replays.
type Event struct {
	Execution string
	Seq       int64
	Kind      string // activity | detached | signal | timer | child | marker
	Name      string // activity name, slot name, child suffix, marker name
	Outcome   string // ok | error | signal | timeout | cancelled | fired
	Payload   exec.Payload
	ErrClass  string
	ErrMsg    string
	Attempts  int
	Hash      string
}

// Checkpoint is one recorded progress snapshot of a checkpointed loop.
// Indices within one execution are strictly increasing.
type Checkpoint struct {
	Execution   string
	Index       int64
	MetricMilli int64
	Ref         string
	BatchHash   string
	Seq         int64
}
