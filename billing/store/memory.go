// Package store provides an in-memory billing.Store implementation.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/cantina/billing-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements billing.TxStore with plain maps. WithTx snapshots the
// entity maps and restores them on error, which is enough rollback for the
// engine's single-writer transactions.
type Memory struct {
	mu        sync.RWMutex
	txMu      sync.Mutex
	groups    map[billing.GroupID]billing.BillingGroup
	members   map[billing.MemberID]billing.Member
	purchases map[billing.PurchaseID]billing.Purchase
	invoices  map[billing.InvoiceID]billing.Invoice
	payments  map[billing.PaymentID]billing.Payment
	credits   map[billing.CreditID]billing.Credit
	debits    map[billing.DebitID]billing.Debit
}

func NewMemory() *Memory {
	return &Memory{
		groups:    make(map[billing.GroupID]billing.BillingGroup),
		members:   make(map[billing.MemberID]billing.Member),
		purchases: make(map[billing.PurchaseID]billing.Purchase),
		invoices:  make(map[billing.InvoiceID]billing.Invoice),
		payments:  make(map[billing.PaymentID]billing.Payment),
		credits:   make(map[billing.CreditID]billing.Credit),
		debits:    make(map[billing.DebitID]billing.Debit),
	}
}

// =============================================================================
// GROUPS
// =============================================================================

func (m *Memory) SaveGroup(_ context.Context, g billing.BillingGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[g.ID] = g
	return nil
}

func (m *Memory) GetGroup(_ context.Context, id billing.GroupID) (*billing.BillingGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (m *Memory) ListGroups(_ context.Context) ([]billing.BillingGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]billing.BillingGroup, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeleteGroup(_ context.Context, id billing.GroupID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groups, id)
	return nil
}

// =============================================================================
// MEMBERS
// =============================================================================

func (m *Memory) SaveMember(_ context.Context, mem billing.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[mem.ID] = mem
	return nil
}

func (m *Memory) GetMember(_ context.Context, id billing.MemberID) (*billing.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.members[id]
	if !ok {
		return nil, nil
	}
	return &mem, nil
}

func (m *Memory) ListMembers(_ context.Context) ([]billing.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]billing.Member, 0, len(m.members))
	for _, mem := range m.members {
		out = append(out, mem)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// PURCHASES
// =============================================================================

func (m *Memory) SavePurchase(_ context.Context, p billing.Purchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purchases[p.ID] = p
	return nil
}

func (m *Memory) GetPurchase(_ context.Context, id billing.PurchaseID) (*billing.Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.purchases[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) ListPurchases(_ context.Context, f billing.PurchaseFilter) ([]billing.Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.Purchase
	for _, p := range m.purchases {
		if f.GroupID != "" && p.GroupID != f.GroupID {
			continue
		}
		if f.BuyerID != "" && p.BuyerID != f.BuyerID {
			continue
		}
		if f.InvoiceID != "" && p.InvoiceID != f.InvoiceID {
			continue
		}
		if f.OnlyUninvoiced && p.Invoiced() {
			continue
		}
		if f.From != nil && p.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && p.CreatedAt.After(*f.To) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) LinkPurchases(_ context.Context, ids []billing.PurchaseID, invoiceID billing.InvoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate before mutating so a conflict leaves nothing half-linked.
	for _, id := range ids {
		p, ok := m.purchases[id]
		if !ok {
			return billing.ErrPurchaseNotFound
		}
		if p.Invoiced() && p.InvoiceID != invoiceID {
			return billing.ErrPurchaseRelinked
		}
	}
	for _, id := range ids {
		p := m.purchases[id]
		p.InvoiceID = invoiceID
		m.purchases[id] = p
	}
	return nil
}

func (m *Memory) DetachPurchases(_ context.Context, invoiceID billing.InvoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.purchases {
		if p.InvoiceID == invoiceID {
			p.InvoiceID = ""
			m.purchases[id] = p
		}
	}
	return nil
}

func (m *Memory) DeletePurchase(_ context.Context, id billing.PurchaseID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.purchases, id)
	return nil
}

// =============================================================================
// INVOICES
// =============================================================================

func (m *Memory) SaveInvoice(_ context.Context, inv billing.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Mirror the SQLite partial unique index: one non-terminal invoice per group.
	if inv.Status.NonTerminal() {
		for id, other := range m.invoices {
			if id != inv.ID && other.GroupID == inv.GroupID && other.Status.NonTerminal() {
				return billing.ErrOpenInvoiceExists
			}
		}
	}
	m.invoices[inv.ID] = inv
	return nil
}

func (m *Memory) GetInvoice(_ context.Context, id billing.InvoiceID) (*billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (m *Memory) FindOpenInvoice(_ context.Context, groupID billing.GroupID) (*billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inv := range m.invoices {
		if inv.GroupID == groupID && inv.Status.NonTerminal() {
			inv := inv
			return &inv, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListInvoices(_ context.Context, f billing.InvoiceFilter) ([]billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idSet := make(map[billing.InvoiceID]bool, len(f.IDs))
	for _, id := range f.IDs {
		idSet[id] = true
	}

	var out []billing.Invoice
	for _, inv := range m.invoices {
		if len(f.IDs) > 0 && !idSet[inv.ID] {
			continue
		}
		if f.GroupID != "" && inv.GroupID != f.GroupID {
			continue
		}
		if f.BuyerID != "" && !inv.HasBuyer(f.BuyerID) {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, inv.Status) {
			continue
		}
		if f.From != nil && inv.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && inv.CreatedAt.After(*f.To) {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func containsStatus(statuses []billing.InvoiceStatus, s billing.InvoiceStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func (m *Memory) DeleteInvoice(_ context.Context, id billing.InvoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.invoices, id)
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (m *Memory) SavePayment(_ context.Context, p billing.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = p
	return nil
}

func (m *Memory) GetPayment(_ context.Context, id billing.PaymentID) (*billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) ListPayments(_ context.Context, f billing.PaymentFilter) ([]billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idSet := make(map[billing.InvoiceID]bool, len(f.InvoiceIDs))
	for _, id := range f.InvoiceIDs {
		idSet[id] = true
	}

	var out []billing.Payment
	for _, p := range m.payments {
		if f.InvoiceID != "" && p.InvoiceID != f.InvoiceID {
			continue
		}
		if len(f.InvoiceIDs) > 0 && !idSet[p.InvoiceID] {
			continue
		}
		if f.From != nil && p.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && p.CreatedAt.After(*f.To) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeletePayment(_ context.Context, id billing.PaymentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.payments, id)
	return nil
}

// =============================================================================
// CREDITS
// =============================================================================

func (m *Memory) SaveCredit(_ context.Context, c billing.Credit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credits[c.ID] = c
	return nil
}

func (m *Memory) GetCredit(_ context.Context, id billing.CreditID) (*billing.Credit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.credits[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) FindActiveCredit(_ context.Context, groupID billing.GroupID) (*billing.Credit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.credits {
		if c.GroupID == groupID && !c.Archived && c.Amount.IsPositive() {
			c := c
			return &c, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListCredits(_ context.Context, f billing.CreditFilter) ([]billing.Credit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.Credit
	for _, c := range m.credits {
		if f.GroupID != "" && c.GroupID != f.GroupID {
			continue
		}
		if f.Archived != nil && c.Archived != *f.Archived {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// DEBITS
// =============================================================================

func (m *Memory) SaveDebit(_ context.Context, d billing.Debit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debits[d.ID] = d
	return nil
}

func (m *Memory) GetDebit(_ context.Context, id billing.DebitID) (*billing.Debit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.debits[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *Memory) ListDebits(_ context.Context, f billing.DebitFilter) ([]billing.Debit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.Debit
	for _, d := range m.debits {
		if f.GroupID != "" && d.GroupID != f.GroupID {
			continue
		}
		if f.OnlyPending && d.IncludedInInvoice {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx serializes transactional sections and restores the entity maps when
// fn fails, so a failed multi-entity mutation leaves no partial state.
func (m *Memory) WithTx(_ context.Context, fn func(billing.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snapshot := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	groups    map[billing.GroupID]billing.BillingGroup
	members   map[billing.MemberID]billing.Member
	purchases map[billing.PurchaseID]billing.Purchase
	invoices  map[billing.InvoiceID]billing.Invoice
	payments  map[billing.PaymentID]billing.Payment
	credits   map[billing.CreditID]billing.Credit
	debits    map[billing.DebitID]billing.Debit
}

func (m *Memory) snapshot() memorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memorySnapshot{
		groups:    copyMap(m.groups),
		members:   copyMap(m.members),
		purchases: copyMap(m.purchases),
		invoices:  copyMap(m.invoices),
		payments:  copyMap(m.payments),
		credits:   copyMap(m.credits),
		debits:    copyMap(m.debits),
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups = s.groups
	m.members = s.members
	m.purchases = s.purchases
	m.invoices = s.invoices
	m.payments = s.payments
	m.credits = s.credits
	m.debits = s.debits
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
