package activity

import (
	"context"

	"github.com/roach88/helmsman/internal/exec"
)

// Func is one activity handler.
type Func func(ctx context.Context, input exec.Payload) (exec.Payload, error)

// Registry maps activity names to handlers.
type Registry map[string]Func

// Merge folds other into r and returns r. Later registrations win, which
// lets tests override individual handlers.
func (r Registry) Merge(other Registry) Registry {
	for name, fn := range other {
		r[name] = fn
	}
	return r
}

// Backends bundles the service implementations the full activity set
// needs. The zero value is unusable; NewMemBackends builds a complete
// in-memory set for tests, the harness, and the dev server.
type Backends struct {
	Inventory Inventory
	Payments  Payments
	Shipping  Shipping
	Trainer   Trainer
	Scanner   Scanner
	Notifier  Notifier
}

// NewMemBackends returns fully wired in-memory backends.
func NewMemBackends() *Backends {
	return &Backends{
		Inventory: NewMemInventory(),
		Payments:  NewMemPayments(),
		Shipping:  NewMemShipping(),
		Trainer:   NewMemTrainer(),
		Scanner:   NewMemScanner(),
		Notifier:  NewMemNotifier(),
	}
}

// All returns the complete registry over the given backends.
func All(b *Backends) Registry {
	reg := Registry{}
	reg.Merge(OrderActivities(b.Inventory, b.Payments, b.Shipping))
	reg.Merge(TrainingActivities(b.Trainer))
	reg.Merge(AnalysisActivities(b.Scanner))
	reg.Merge(NotifyActivities(b.Notifier))
	return reg
}
