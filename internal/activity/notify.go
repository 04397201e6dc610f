package activity

import (
	"context"
	"sync"

	"github.com/roach88/helmsman/internal/exec"
)

// Notification is one delivered message.
type Notification struct {
	To      string
	Subject string
	Body    string
}

// Notifier delivers best-effort notifications. Processes call it
// detached, so failures never reach orchestration logic.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NotifyActivities builds the shared notification activity.
func NotifyActivities(nt Notifier) Registry {
	return Registry{
		"notify": func(ctx context.Context, in exec.Payload) (exec.Payload, error) {
			to, err := in.String("to")
			if err != nil {
				return nil, exec.NewAppError("validation", "%v", err)
			}
			return nil, nt.Send(ctx, Notification{
				To:      to,
				Subject: in.StringOr("subject", ""),
				Body:    in.StringOr("body", ""),
			})
		},
	}
}

// MemNotifier records sent notifications.
type MemNotifier struct {
	mu       sync.Mutex
	sent     []Notification
	failures int
}

func NewMemNotifier() *MemNotifier {
	return &MemNotifier{}
}

// FailNext makes the next n sends fail with a retryable error.
func (m *MemNotifier) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
}

func (m *MemNotifier) Send(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return exec.NewAppError("unavailable", "notification channel unavailable")
	}
	m.sent = append(m.sent, n)
	return nil
}

// Sent returns a copy of the delivered notifications.
func (m *MemNotifier) Sent() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, len(m.sent))
	copy(out, m.sent)
	return out
}
