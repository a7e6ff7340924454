// Package settlementtest provides an in-memory order store for tests.
package settlementtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ManuelReschke/paysettle/app/models"
	"github.com/ManuelReschke/paysettle/internal/pkg/entitlements"
	"github.com/ManuelReschke/paysettle/internal/pkg/settlement"
)

// Callback is a logged delivery as the memory store keeps it.
type Callback struct {
	settlement.CallbackRecord
	Outcome       settlement.Outcome
	GatewayStatus string
	Note          string
	Processed     bool
}

// MemoryStore implements settlement.OrderStore with the same compare-and-set
// semantics as the SQL store.
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	state

	applyErr error
}

type state struct {
	orders       map[settlement.OrderRef]*settlement.Order
	expiry       map[settlement.OrderRef]time.Time
	applications map[settlement.OrderRef]int
	history      map[settlement.OrderRef][]models.PaymentStatus
	callbacks    map[string]*Callback
}

func newState() state {
	return state{
		orders:       map[settlement.OrderRef]*settlement.Order{},
		expiry:       map[settlement.OrderRef]time.Time{},
		applications: map[settlement.OrderRef]int{},
		history:      map[settlement.OrderRef][]models.PaymentStatus{},
		callbacks:    map[string]*Callback{},
	}
}

// clone copies the order state; callbacks are left to the caller.
func (s state) clone() state {
	out := newState()
	for k, v := range s.orders {
		cp := *v
		out.orders[k] = &cp
	}
	for k, v := range s.expiry {
		out.expiry[k] = v
	}
	for k, v := range s.applications {
		out.applications[k] = v
	}
	for k, v := range s.history {
		out.history[k] = append([]models.PaymentStatus(nil), v...)
	}
	return out
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newState()}
}

// FailApplyEntitlement makes every following ApplyEntitlement return err.
func (m *MemoryStore) FailApplyEntitlement(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyErr = err
}

// History lists the statuses ref went through, starting with the one it was Put with.
func (m *MemoryStore) History(ref settlement.OrderRef) []models.PaymentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PaymentStatus(nil), m.history[ref]...)
}

// Put inserts or replaces an order. Status defaults to none.
func (m *MemoryStore) Put(o settlement.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.Status == "" {
		o.Status = models.PaymentStatusNone
	}
	cp := o
	m.orders[o.Ref] = &cp
	m.history[o.Ref] = []models.PaymentStatus{o.Status}
}

// Listing is a shorthand for a listing order.
func Listing(id uint, status models.PaymentStatus, amount int64, token string, tier entitlements.Tier, days int) settlement.Order {
	return settlement.Order{
		Ref:         settlement.OrderRef{Kind: entitlements.KindListing, ID: id},
		Status:      status,
		Method:      models.PaymentMethodCard,
		Amount:      amount,
		Token:       token,
		Entitlement: settlement.Entitlement{Tier: tier, Days: days},
	}
}

// Get returns a copy of the stored order.
func (m *MemoryStore) Get(ref settlement.OrderRef) (settlement.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[ref]
	if !ok {
		return settlement.Order{}, false
	}
	return *o, true
}

// Applications counts how often an entitlement was applied to ref.
func (m *MemoryStore) Applications(ref settlement.OrderRef) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applications[ref]
}

// Expiry returns the entitlement expiry computed for ref.
func (m *MemoryStore) Expiry(ref settlement.OrderRef) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.expiry[ref]
	return t, ok
}

// Callbacks returns the logged deliveries.
func (m *MemoryStore) Callbacks() []Callback {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Callback, 0, len(m.callbacks))
	for _, c := range m.callbacks {
		out = append(out, *c)
	}
	return out
}

func (m *MemoryStore) FindOrderByToken(_ context.Context, token string) (*settlement.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *settlement.Order
	for _, o := range m.orders {
		if token != "" && o.Token == token {
			if found != nil {
				return nil, settlement.ErrAmbiguousToken
			}
			cp := *o
			found = &cp
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: token %s", settlement.ErrOrderNotFound, token)
	}
	return found, nil
}

func (m *MemoryStore) FindOrderByCorrelationID(_ context.Context, id string) (*settlement.Order, error) {
	ref, err := settlement.ParseCorrelationID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", settlement.ErrOrderNotFound, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", settlement.ErrOrderNotFound, id)
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, ref settlement.OrderRef, from []models.PaymentStatus, to models.PaymentStatus, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[ref]
	if !ok || !contains(from, o.Status) || (token != "" && o.Token != "" && o.Token != token) {
		return fmt.Errorf("%w: %s -> %s", settlement.ErrStatusConflict, ref, to)
	}
	now := time.Now().UTC()
	o.Status = to
	o.UpdatedAt = &now
	m.history[ref] = append(m.history[ref], to)
	if token != "" {
		o.Token = token
	}
	return nil
}

func (m *MemoryStore) ApplyEntitlement(_ context.Context, ref settlement.OrderRef, ent settlement.Entitlement, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return false, m.applyErr
	}
	o, ok := m.orders[ref]
	if !ok {
		return false, fmt.Errorf("%w: %s", settlement.ErrOrderNotFound, ref)
	}
	if o.Status != models.PaymentStatusPaid || o.EntitlementAppliedAt != nil {
		return false, nil
	}
	at := now.UTC()
	o.EntitlementAppliedAt = &at
	o.Entitlement = ent
	if ent.Tier != "" && ent.Days > 0 {
		m.expiry[ref] = entitlements.Expiry(at, "", nil, ent.Tier, ent.Days)
	}
	m.applications[ref]++
	return true, nil
}

func (m *MemoryStore) RecordCheckout(_ context.Context, ref settlement.OrderRef, rec settlement.CheckoutRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[ref]
	if !ok {
		return fmt.Errorf("%w: %s", settlement.ErrOrderNotFound, ref)
	}
	if !(o.Status == models.PaymentStatusNone || (o.Status == models.PaymentStatusPending && o.Token == "")) {
		return fmt.Errorf("%w: checkout on %s", settlement.ErrStatusConflict, ref)
	}
	now := time.Now().UTC()
	if o.Status != models.PaymentStatusPending {
		m.history[ref] = append(m.history[ref], models.PaymentStatusPending)
	}
	o.Status = models.PaymentStatusPending
	o.Method = rec.Method
	o.Amount = rec.Amount
	o.Link = rec.Link
	o.Entitlement = rec.Entitlement
	o.UpdatedAt = &now
	if rec.Token != "" {
		o.Token = rec.Token
	}
	return nil
}

func (m *MemoryStore) ListPending(_ context.Context, limit int) ([]settlement.Order, error) {
	return m.list(func(o *settlement.Order) bool { return true }, limit), nil
}

func (m *MemoryStore) ListStalePending(_ context.Context, before time.Time, limit int) ([]settlement.Order, error) {
	return m.list(func(o *settlement.Order) bool {
		return o.Token != "" && o.UpdatedAt != nil && o.UpdatedAt.Before(before)
	}, limit), nil
}

func (m *MemoryStore) list(match func(*settlement.Order) bool, limit int) []settlement.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []settlement.Order
	for _, o := range m.orders {
		if o.Status == models.PaymentStatusPending && match(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ref.Kind != out[j].Ref.Kind {
			return out[i].Ref.Kind > out[j].Ref.Kind
		}
		return out[i].Ref.ID < out[j].Ref.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MemoryStore) RecordCallback(_ context.Context, rec settlement.CallbackRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.callbacks[rec.DeliveryID]; ok {
		return false, nil
	}
	m.callbacks[rec.DeliveryID] = &Callback{CallbackRecord: rec}
	return true, nil
}

func (m *MemoryStore) MarkCallbackProcessed(_ context.Context, deliveryID string, outcome settlement.Outcome, gatewayStatus, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.callbacks[deliveryID]
	if !ok {
		return nil
	}
	c.Outcome = outcome
	c.GatewayStatus = gatewayStatus
	c.Note = note
	c.Processed = true
	return nil
}

// Transaction runs fn against the store and restores the previous state when
// fn fails. Transactions are serialized.
func (m *MemoryStore) Transaction(_ context.Context, fn func(store settlement.OrderStore) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.state.clone()
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		// The callback log is written outside transactions and survives.
		snapshot.callbacks = m.callbacks
		m.state = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

// Backdate moves an order's last update into the past so sweeps pick it up.
func (m *MemoryStore) Backdate(ref settlement.OrderRef, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[ref]; ok {
		t := time.Now().UTC().Add(-d)
		o.UpdatedAt = &t
	}
}

func contains(list []models.PaymentStatus, s models.PaymentStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
