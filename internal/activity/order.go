package activity

import (
	"context"
	"sync"

	"github.com/roach88/helmsman/internal/exec"
)

// Inventory reserves and releases stock. Reserve is idempotent on the
// reservation key; Release is idempotent on the reservation id.
type Inventory interface {
	Reserve(ctx context.Context, key, sku string, qty int64) (string, error)
	Release(ctx context.Context, reservationID string) error
}

// Payments charges and refunds. Charge is idempotent on the charge key.
type Payments interface {
	Charge(ctx context.Context, key string, amountCents int64) (string, error)
	Refund(ctx context.Context, chargeID string) error
}

// Shipping creates and cancels shipments, idempotent on the order key
// and shipment id respectively.
type Shipping interface {
	Create(ctx context.Context, key, address string) (string, error)
	Cancel(ctx context.Context, shipmentID string) error
}

// OrderActivities builds the order process's activity set.
func OrderActivities(inv Inventory, pay Payments, ship Shipping) Registry {
	return Registry{
		"reserve-inventory": func(ctx context.Context, in exec.Payload) (exec.Payload, error) {
			key, err := in.String("order_key")
			if err != nil {
				return nil, exec.NewAppError("validation", "%v", err)
			}
			sku, err := in.String("sku")
			if err != nil {
				return nil, exec.NewAppError("validation", "%v", err)
			}
			qty := in.IntOr("quantity", 1)
			if qty <= 0 {
				return nil, exec.NewAppError("validation", "quantity must be positive, got %d", qty)
			}
			id, err := inv.Reserve(ctx, key, sku, qty)
			if err != nil {
				return nil, err
			}
			return exec.Payload{"reservation_id": id}, nil
		},
		"release-inventory": func(ctx context.Context, in exec.Payload) (exec.Payload, error) {
			id, err := in.String("reservation_id")
			if err != nil {
				return nil, exec.NewAppError("validation", "%v", err)
			}
			return nil, inv.Release(ctx, id)
		},
		"charge-payment": func(ctx context.Context, in exec.Payload) (exec.Payload, error) {
			key, err := in.String("order_key")
			if err != nil {
				return nil, exec.NewAppError("validation", "%v", err)
			}
			amount, err := in.Int("amount_cents")
			if err != nil {
				return nil, exec.NewAppError("validation", "%v", err)
			}
			if amount <= 0 {
				return nil, exec.NewAppError("validation", "amount must be positive, got %d", amount)
			}
			id, err := pay.Charge(ctx, key, amount)
			if err != nil {
				return nil, err
			}
			return exec.Payload{"charge_id": id}, nil
		},
		"refund-payment": func(ctx context.Context, in exec.Payload) (exec.Payload, error) {
			id, err := in.String("charge_id")
			if err != nil {
				return nil, exec.NewAppError("validation", "%v", err)
			}
			return nil, pay.Refund(ctx, id)
		},
		"create-shipment": func(ctx context.Context, in exec.Payload) (exec.Payload, error) {
			key, err := in.String("order_key")
			if err != nil {
				return nil, exec.NewAppError("validation", "%v", err)
			}
			id, err := ship.Create(ctx, key, in.StringOr("address", ""))
			if err != nil {
				return nil, err
			}
			return exec.Payload{"shipment_id": id}, nil
		},
		"cancel-shipment": func(ctx context.Context, in exec.Payload) (exec.Payload, error) {
			id, err := in.String("shipment_id")
			if err != nil {
				return nil, exec.NewAppError("validation", "%v", err)
			}
			return nil, ship.Cancel(ctx, id)
		},
	}
}

type reservation struct {
	sku string
	qty int64
}

// MemInventory is an in-memory Inventory with per-SKU stock levels.
type MemInventory struct {
	mu           sync.Mutex
	stock        map[string]int64
	reservations map[string]reservation
	failures     int
}

// NewMemInventory starts with generous default stock for every SKU.
func NewMemInventory() *MemInventory {
	return &MemInventory{
		stock:        make(map[string]int64),
		reservations: make(map[string]reservation),
	}
}

// SetStock sets the available quantity for a SKU. SKUs never set are
// treated as having 1000 units.
func (m *MemInventory) SetStock(sku string, qty int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[sku] = qty
}

// FailNext makes the next n calls fail with a retryable error.
func (m *MemInventory) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
}

func (m *MemInventory) Reserve(_ context.Context, key, sku string, qty int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures > 0 {
		m.failures--
		return "", exec.NewAppError("unavailable", "inventory service unavailable")
	}
	id := "rsv-" + key
	if _, ok := m.reservations[id]; ok {
		return id, nil
	}
	avail, ok := m.stock[sku]
	if !ok {
		avail = 1000
	}
	if avail < qty {
		return "", exec.NewAppError("out-of-stock", "sku %s: %d available, %d requested", sku, avail, qty)
	}
	m.stock[sku] = avail - qty
	m.reservations[id] = reservation{sku: sku, qty: qty}
	return id, nil
}

func (m *MemInventory) Release(_ context.Context, reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[reservationID]
	if !ok {
		// Already released, or never reserved. Converge.
		return nil
	}
	delete(m.reservations, reservationID)
	m.stock[r.sku] += r.qty
	return nil
}

// Reserved reports whether a reservation is currently held.
func (m *MemInventory) Reserved(reservationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.reservations[reservationID]
	return ok
}

// MemPayments is an in-memory Payments with a configurable decline
// threshold.
type MemPayments struct {
	mu          sync.Mutex
	charges     map[string]int64 // charge id -> amount, 0 after refund
	declineOver int64
	failures    int
}

func NewMemPayments() *MemPayments {
	return &MemPayments{charges: make(map[string]int64)}
}

// DeclineOver makes charges above the threshold fail with class
// payment-declined. Zero disables declining.
func (m *MemPayments) DeclineOver(amountCents int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.declineOver = amountCents
}

// FailNext makes the next n calls fail with a retryable error.
func (m *MemPayments) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
}

func (m *MemPayments) Charge(_ context.Context, key string, amountCents int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures > 0 {
		m.failures--
		return "", exec.NewAppError("unavailable", "payment gateway unavailable")
	}
	id := "chg-" + key
	if _, ok := m.charges[id]; ok {
		return id, nil
	}
	if m.declineOver > 0 && amountCents > m.declineOver {
		return "", exec.NewAppError("payment-declined", "charge of %d cents declined", amountCents)
	}
	m.charges[id] = amountCents
	return id, nil
}

func (m *MemPayments) Refund(_ context.Context, chargeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.charges[chargeID] = 0
	return nil
}

// Charged returns the outstanding amount on a charge.
func (m *MemPayments) Charged(chargeID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.charges[chargeID]
}

// MemShipping is an in-memory Shipping.
type MemShipping struct {
	mu        sync.Mutex
	shipments map[string]bool // shipment id -> active
}

func NewMemShipping() *MemShipping {
	return &MemShipping{shipments: make(map[string]bool)}
}

func (m *MemShipping) Create(_ context.Context, key, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := "shp-" + key
	if _, ok := m.shipments[id]; !ok {
		m.shipments[id] = true
	}
	return id, nil
}

func (m *MemShipping) Cancel(_ context.Context, shipmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shipments[shipmentID] = false
	return nil
}

// Active reports whether a shipment exists and has not been cancelled.
func (m *MemShipping) Active(shipmentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shipments[shipmentID]
}
