/*
consolidator.go - Invoice consolidation (the core algorithm)

PURPOSE:
  Turns un-invoiced purchases into invoices. Given a billing group and a date
  range, gathers the group's un-invoiced purchases in the period, folds in
  pending debits, applies the active credit balance, and produces or updates
  an invoice.

THE TWO BRANCHES:
  A) The group already has an open invoice (OPEN or PARTIALLY_PAID):
     the new gross total is added to it, the buyer set is unioned in, and
     sentByWhatsapp resets to false because the content changed. Credits and
     debits are NOT re-applied; they were settled when the invoice was born.
  B) No open invoice: a new one is created with
       originalAmount = gross + pending debits
       appliedCredit  = min(active credit, gross)
       totalAmount    = gross + debits - appliedCredit
     consumed debits flip includedInInvoice, the credit balance is decremented
     (and archived at zero). A fully-covered invoice is born PAID.

CONCURRENCY:
  Two concurrent consolidations for the same group would both see "no open
  invoice" and both create one. Creation is therefore serialized per billing
  group with an in-process lock registry, and the whole branch runs inside a
  store transaction. The SQLite store additionally enforces the invariant
  with a partial unique index, so even a second process cannot create a
  duplicate open invoice.

NUMERIC POLICY:
  Monetary sums are rounded to 2 decimal places after each compounding
  addition. Negative intermediate debit/credit amounts are clamped to zero
  and logged, never propagated and never raised.

BATCH:
  ConsolidateBatch applies the single-group algorithm per id, records skipped
  groups (logged, not aborted), and fails only when every group produced
  nothing. This best-effort policy is deliberate.

SEE ALSO:
  - invoices.go: Read-side composition and invoice deletion
  - credit.go / debit.go: The ledgers consumed here
*/
package billing

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// GROUP LOCKS - Per-group serialization of invoice creation
// =============================================================================

type groupLocks struct {
	mu    sync.Mutex
	locks map[GroupID]*sync.Mutex
}

func newGroupLocks() *groupLocks {
	return &groupLocks{locks: make(map[GroupID]*sync.Mutex)}
}

func (g *groupLocks) lock(id GroupID) *sync.Mutex {
	g.mu.Lock()
	m, ok := g.locks[id]
	if !ok {
		m = &sync.Mutex{}
		g.locks[id] = m
	}
	g.mu.Unlock()
	m.Lock()
	return m
}

// =============================================================================
// CONSOLIDATOR
// =============================================================================

// Consolidator folds purchases, debits, and credit into invoices.
type Consolidator struct {
	store Store
	log   zerolog.Logger
	locks *groupLocks
}

func NewConsolidator(store Store, log zerolog.Logger) *Consolidator {
	return &Consolidator{
		store: store,
		log:   log.With().Str("component", "consolidator").Logger(),
		locks: newGroupLocks(),
	}
}

// Consolidate creates or updates the invoice for one billing group over the
// given period. Dates are normalized to full calendar days.
func (c *Consolidator) Consolidate(ctx context.Context, groupID GroupID, startDate, endDate time.Time) (*ConsolidationResult, error) {
	period, err := NewPeriod(startDate, endDate)
	if err != nil {
		return nil, err
	}

	lock := c.locks.lock(groupID)
	defer lock.Unlock()

	var result *ConsolidationResult
	err = inTx(ctx, c.store, func(s Store) error {
		var err error
		result, err = c.consolidateLocked(ctx, s, groupID, period)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ConsolidateBatch runs the single-group algorithm per id. Groups that fail
// are skipped with their reason; the batch errors only if all groups failed.
func (c *Consolidator) ConsolidateBatch(ctx context.Context, groupIDs []GroupID, startDate, endDate time.Time) ([]GroupResult, error) {
	if len(groupIDs) == 0 {
		return nil, ErrNoGroups
	}

	results := make([]GroupResult, 0, len(groupIDs))
	succeeded := 0
	for _, groupID := range groupIDs {
		res, err := c.Consolidate(ctx, groupID, startDate, endDate)
		if err != nil {
			c.log.Info().
				Str("group_id", string(groupID)).
				Err(err).
				Msg("skipping group in batch consolidation")
			results = append(results, GroupResult{GroupID: groupID, Skipped: true, Reason: err.Error()})
			continue
		}
		results = append(results, GroupResult{GroupID: groupID, Result: res})
		succeeded++
	}

	if succeeded == 0 {
		return results, ErrAllGroupsFailed
	}
	return results, nil
}

func (c *Consolidator) consolidateLocked(ctx context.Context, s Store, groupID GroupID, period Period) (*ConsolidationResult, error) {
	purchases, err := s.ListPurchases(ctx, PurchaseFilter{
		GroupID:        groupID,
		OnlyUninvoiced: true,
		From:           &period.Start,
		To:             &period.End,
	})
	if err != nil {
		return nil, err
	}
	if len(purchases) == 0 {
		return nil, &NoPurchasesError{GroupID: groupID, Period: period}
	}

	gross := ZeroMoney()
	buyerSet := make(map[MemberID]bool)
	var buyerIDs []MemberID
	consumption := make(ConsumptionByBuyer)
	purchaseIDs := make([]PurchaseID, len(purchases))
	for i, p := range purchases {
		gross = gross.Add(p.Total).Round2()
		if !buyerSet[p.BuyerID] {
			buyerSet[p.BuyerID] = true
			buyerIDs = append(buyerIDs, p.BuyerID)
		}
		consumption[p.BuyerID] = append(consumption[p.BuyerID], ConsumptionEntry{
			Date:  p.CreatedAt,
			Items: p.Items,
			Total: p.Total,
		})
		purchaseIDs[i] = p.ID
	}

	open, err := s.FindOpenInvoice(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return c.growOpenInvoice(ctx, s, open, gross, buyerIDs, purchaseIDs, consumption)
	}
	return c.createInvoice(ctx, s, groupID, period, gross, buyerIDs, purchaseIDs, consumption)
}

// growOpenInvoice is branch A: the new purchases accumulate onto the
// existing open invoice.
func (c *Consolidator) growOpenInvoice(ctx context.Context, s Store, open *Invoice, gross Money, buyerIDs []MemberID, purchaseIDs []PurchaseID, consumption ConsumptionByBuyer) (*ConsolidationResult, error) {
	// Re-derive the paid amount from the payment records rather than trusting
	// the cached field.
	payments, err := s.ListPayments(ctx, PaymentFilter{InvoiceID: open.ID})
	if err != nil {
		return nil, err
	}
	paid := ZeroMoney()
	for _, p := range payments {
		paid = paid.Add(p.AmountPaid).Round2()
	}

	open.TotalAmount = open.TotalAmount.Add(gross).Round2()
	open.PaidAmount = paid
	open.SentByWhatsapp = false // content changed
	for _, b := range buyerIDs {
		if !open.HasBuyer(b) {
			open.BuyerIDs = append(open.BuyerIDs, b)
		}
	}

	if err := s.SaveInvoice(ctx, *open); err != nil {
		return nil, err
	}
	if err := s.LinkPurchases(ctx, purchaseIDs, open.ID); err != nil {
		return nil, err
	}

	c.log.Info().
		Str("invoice_id", string(open.ID)).
		Str("group_id", string(open.GroupID)).
		Str("added", gross.String()).
		Str("total", open.TotalAmount.String()).
		Msg("open invoice updated")

	return &ConsolidationResult{Updated: true, Invoice: *open, Consumption: consumption}, nil
}

// createInvoice is branch B: a fresh invoice folding in pending debits and
// the active credit balance.
func (c *Consolidator) createInvoice(ctx context.Context, s Store, groupID GroupID, period Period, gross Money, buyerIDs []MemberID, purchaseIDs []PurchaseID, consumption ConsumptionByBuyer) (*ConsolidationResult, error) {
	pendingDebits, err := s.ListDebits(ctx, DebitFilter{GroupID: groupID, OnlyPending: true})
	if err != nil {
		return nil, err
	}
	debitAmount := ZeroMoney()
	for _, d := range pendingDebits {
		debitAmount = debitAmount.Add(d.Amount).Round2()
	}
	debitAmount = c.clampWarn(debitAmount, groupID, "debit_amount")

	credit, err := s.FindActiveCredit(ctx, groupID)
	if err != nil {
		return nil, err
	}
	appliedCredit := ZeroMoney()
	var creditID CreditID
	if credit != nil {
		appliedCredit = credit.Amount.Min(gross)
		appliedCredit = c.clampWarn(appliedCredit, groupID, "applied_credit")
		creditID = credit.ID
	}

	originalAmount := gross.Add(debitAmount).Round2()
	totalAmount := originalAmount.Sub(appliedCredit).Round2()

	status := StatusOpen
	if totalAmount.IsZero() {
		// Credit covered everything; no payment will ever arrive.
		status = StatusPaid
	}

	invoice := Invoice{
		ID:             InvoiceID(NewID()),
		GroupID:        groupID,
		BuyerIDs:       buyerIDs,
		PeriodStart:    period.Start,
		PeriodEnd:      period.End,
		TotalAmount:    totalAmount,
		OriginalAmount: originalAmount,
		AppliedCredit:  appliedCredit,
		DebitAmount:    debitAmount,
		CreditID:       creditID,
		PaidAmount:     ZeroMoney(),
		Status:         status,
		CreatedAt:      time.Now(),
	}
	if err := s.SaveInvoice(ctx, invoice); err != nil {
		return nil, err
	}
	if err := s.LinkPurchases(ctx, purchaseIDs, invoice.ID); err != nil {
		return nil, err
	}

	for _, d := range pendingDebits {
		d.IncludedInInvoice = true
		d.InvoiceID = invoice.ID
		if err := s.SaveDebit(ctx, d); err != nil {
			return nil, err
		}
	}

	if credit != nil && appliedCredit.IsPositive() {
		credit.Amount = credit.Amount.Sub(appliedCredit).Round2()
		credit.Archived = credit.Amount.IsZero()
		credit.UpdatedAt = time.Now()
		if err := s.SaveCredit(ctx, *credit); err != nil {
			return nil, err
		}
	}

	c.log.Info().
		Str("invoice_id", string(invoice.ID)).
		Str("group_id", string(groupID)).
		Str("original", originalAmount.String()).
		Str("applied_credit", appliedCredit.String()).
		Str("debits", debitAmount.String()).
		Str("total", totalAmount.String()).
		Str("status", string(status)).
		Msg("invoice created")

	return &ConsolidationResult{Created: true, Invoice: invoice, Consumption: consumption}, nil
}

// clampWarn floors a monetary intermediate at zero and logs when it fires.
// Billing never hard-fails on an internal rounding artifact, but the clamp
// must not be silent.
func (c *Consolidator) clampWarn(m Money, groupID GroupID, field string) Money {
	clamped, wasNegative := m.ClampNonNegative()
	if wasNegative {
		c.log.Warn().
			Str("group_id", string(groupID)).
			Str("field", field).
			Str("value", m.String()).
			Msg("negative monetary intermediate clamped to zero")
	}
	return clamped
}
