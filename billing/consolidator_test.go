/*
consolidator_test.go - Tests for invoice consolidation

Covers:
- New invoice creation: gross totals, buyer union, purchase linking
- Growing an existing open invoice (no credit/debit re-application)
- Debit folding and credit application on creation
- Batch semantics: skip failures, fail only when all fail
- Concurrency: one open invoice per group under parallel consolidation
*/
package billing_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cantina/billing-engine/billing"
	"github.com/cantina/billing-engine/billing/store"
)

// =============================================================================
// TEST HARNESS
// =============================================================================

type engine struct {
	store        *store.Memory
	purchases    *billing.PurchaseLedger
	consolidator *billing.Consolidator
	payments     *billing.PaymentRecorder
	credits      *billing.CreditLedger
	debits       *billing.DebitLedger
	invoices     *billing.Invoices
	statements   *billing.StatementReader
}

func newEngine() *engine {
	mem := store.NewMemory()
	log := zerolog.Nop()
	return &engine{
		store:        mem,
		purchases:    billing.NewPurchaseLedger(mem, log),
		consolidator: billing.NewConsolidator(mem, log),
		payments:     billing.NewPaymentRecorder(mem, log),
		credits:      billing.NewCreditLedger(mem, log),
		debits:       billing.NewDebitLedger(mem, log),
		invoices:     billing.NewInvoices(mem, billing.NewStoreDirectory(mem), nil, log),
		statements:   billing.NewStatementReader(mem, log),
	}
}

var billingMonth = time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)

func day(d int) time.Time { return billingMonth.AddDate(0, 0, d-1) }

func (e *engine) seedGroup(t *testing.T, name string, memberNames ...string) (billing.GroupID, []billing.MemberID) {
	t.Helper()
	ctx := context.Background()
	groupID := billing.GroupID(billing.NewID())

	memberIDs := make([]billing.MemberID, len(memberNames))
	for i, n := range memberNames {
		m := billing.Member{
			ID:        billing.MemberID(billing.NewID()),
			Name:      n,
			Phone:     fmt.Sprintf("1199999%04d", i),
			GroupID:   groupID,
			CreatedAt: day(1),
		}
		require.NoError(t, e.store.SaveMember(ctx, m))
		memberIDs[i] = m.ID
	}

	g := billing.BillingGroup{
		ID:        groupID,
		Name:      name,
		Kind:      billing.KindFamily,
		OwnerID:   memberIDs[0],
		MemberIDs: memberIDs,
		CreatedAt: day(1),
		UpdatedAt: day(1),
	}
	require.NoError(t, e.store.SaveGroup(ctx, g))
	return groupID, memberIDs
}

func (e *engine) seedPurchase(t *testing.T, buyer billing.MemberID, group billing.GroupID, at time.Time, amount float64) billing.PurchaseID {
	t.Helper()
	p, err := e.purchases.Record(context.Background(), billing.RecordPurchaseInput{
		BuyerID:   buyer,
		GroupID:   group,
		Items:     []billing.LineItem{{Name: "Lunch", UnitPrice: billing.NewMoney(amount), Quantity: 1}},
		CreatedAt: at,
	})
	require.NoError(t, err)
	return p.ID
}

// =============================================================================
// NEW INVOICE CREATION
// =============================================================================

func TestConsolidate_CreatesInvoiceFromPurchases(t *testing.T) {
	// GIVEN: Two buyers with three purchases in the period
	e := newEngine()
	ctx := context.Background()
	groupID, members := e.seedGroup(t, "Silva", "Ana", "Bruno")

	e.seedPurchase(t, members[0], groupID, day(2), 18.00)
	e.seedPurchase(t, members[0], groupID, day(5), 6.50)
	e.seedPurchase(t, members[1], groupID, day(9), 12.00)

	// WHEN: Consolidating the month
	result, err := e.consolidator.Consolidate(ctx, groupID, day(1), day(30))

	// THEN: A new invoice sums them all and carries both buyers
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.False(t, result.Updated)
	assert.Equal(t, "36.50", result.Invoice.TotalAmount.String())
	assert.Equal(t, "36.50", result.Invoice.OriginalAmount.String())
	assert.Equal(t, billing.StatusOpen, result.Invoice.Status)
	assert.ElementsMatch(t, members, result.Invoice.BuyerIDs)

	// AND: All purchases are linked to the invoice
	linked, err := e.store.ListPurchases(ctx, billing.PurchaseFilter{InvoiceID: result.Invoice.ID})
	require.NoError(t, err)
	assert.Len(t, linked, 3)

	// AND: The consumption breakdown groups purchases per buyer
	assert.Len(t, result.Consumption[members[0]], 2)
	assert.Len(t, result.Consumption[members[1]], 1)
}

func TestConsolidate_IgnoresPurchasesOutsidePeriod(t *testing.T) {
	// GIVEN: One purchase inside the window, one after it
	e := newEngine()
	ctx := context.Background()
	groupID, members := e.seedGroup(t, "Silva", "Ana")

	e.seedPurchase(t, members[0], groupID, day(3), 10.00)
	e.seedPurchase(t, members[0], groupID, day(20), 99.00)

	// WHEN: Consolidating only the first half of the month
	result, err := e.consolidator.Consolidate(ctx, groupID, day(1), day(15))

	// THEN: Only the in-window purchase is billed
	require.NoError(t, err)
	assert.Equal(t, "10.00", result.Invoice.TotalAmount.String())

	// AND: The other purchase is still un-invoiced
	open, err := e.store.ListPurchases(ctx, billing.PurchaseFilter{GroupID: groupID, OnlyUninvoiced: true})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "99.00", open[0].Total.String())
}

func TestConsolidate_NoPurchasesFails(t *testing.T) {
	// GIVEN: A group with no purchases
	e := newEngine()
	groupID, _ := e.seedGroup(t, "Silva", "Ana")

	// WHEN: Consolidating
	_, err := e.consolidator.Consolidate(context.Background(), groupID, day(1), day(30))

	// THEN: The typed no-purchases error is returned
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrNoNewPurchases)
}

func TestConsolidate_InvalidPeriodFails(t *testing.T) {
	e := newEngine()
	groupID, _ := e.seedGroup(t, "Silva", "Ana")

	_, err := e.consolidator.Consolidate(context.Background(), groupID, day(10), day(5))
	assert.ErrorIs(t, err, billing.ErrInvalidPeriod)
}

func TestConsolidate_PeriodCoversWholeDays(t *testing.T) {
	// GIVEN: A purchase late on the end date
	e := newEngine()
	groupID, members := e.seedGroup(t, "Silva", "Ana")
	e.seedPurchase(t, members[0], groupID, day(10).Add(21*time.Hour), 9.00)

	// WHEN: Consolidating with a mid-day end timestamp on that date
	result, err := e.consolidator.Consolidate(context.Background(), groupID, day(1).Add(13*time.Hour), day(10).Add(9*time.Hour))

	// THEN: The end date is widened to the end of the day, so it's included
	require.NoError(t, err)
	assert.Equal(t, "9.00", result.Invoice.TotalAmount.String())
}

// =============================================================================
// GROWING AN OPEN INVOICE
// =============================================================================

func TestConsolidate_GrowsOpenInvoice(t *testing.T) {
	// GIVEN: An open invoice from an earlier consolidation, partly paid
	e := newEngine()
	ctx := context.Background()
	groupID, members := e.seedGroup(t, "Silva", "Ana", "Bruno")

	e.seedPurchase(t, members[0], groupID, day(2), 20.00)
	first, err := e.consolidator.Consolidate(ctx, groupID, day(1), day(10))
	require.NoError(t, err)

	_, err = e.payments.Record(ctx, billing.RecordPaymentInput{
		InvoiceID:  first.Invoice.ID,
		AmountPaid: billing.NewMoney(5.00),
		IsPartial:  true,
	})
	require.NoError(t, err)

	// AND: New purchases by a second buyer
	e.seedPurchase(t, members[1], groupID, day(12), 15.00)

	// WHEN: Consolidating again
	second, err := e.consolidator.Consolidate(ctx, groupID, day(11), day(20))

	// THEN: The same invoice grows instead of a new one appearing
	require.NoError(t, err)
	assert.True(t, second.Updated)
	assert.Equal(t, first.Invoice.ID, second.Invoice.ID)
	assert.Equal(t, "35.00", second.Invoice.TotalAmount.String())

	// AND: The paid amount was re-derived from the payment records
	assert.Equal(t, "5.00", second.Invoice.PaidAmount.String())

	// AND: The buyer set is the union
	assert.ElementsMatch(t, members, second.Invoice.BuyerIDs)
}

func TestConsolidate_GrowResetsSentFlag(t *testing.T) {
	// GIVEN: An open invoice already flagged as sent
	e := newEngine()
	ctx := context.Background()
	groupID, members := e.seedGroup(t, "Silva", "Ana")

	e.seedPurchase(t, members[0], groupID, day(2), 20.00)
	first, err := e.consolidator.Consolidate(ctx, groupID, day(1), day(10))
	require.NoError(t, err)

	inv := first.Invoice
	inv.SentByWhatsapp = true
	require.NoError(t, e.store.SaveInvoice(ctx, inv))

	// WHEN: More purchases land on the invoice
	e.seedPurchase(t, members[0], groupID, day(12), 8.00)
	second, err := e.consolidator.Consolidate(ctx, groupID, day(11), day(20))

	// THEN: The content changed, so the sent flag resets
	require.NoError(t, err)
	assert.False(t, second.Invoice.SentByWhatsapp)
}

func TestConsolidate_GrowDoesNotReapplyCreditOrDebits(t *testing.T) {
	// GIVEN: An open invoice, then a credit and a debit arriving afterwards
	e := newEngine()
	ctx := context.Background()
	groupID, members := e.seedGroup(t, "Silva", "Ana")

	e.seedPurchase(t, members[0], groupID, day(2), 20.00)
	first, err := e.consolidator.Consolidate(ctx, groupID, day(1), day(10))
	require.NoError(t, err)

	_, err = e.credits.Grant(ctx, groupID, billing.NewMoney(50.00))
	require.NoError(t, err)
	_, err = e.debits.Create(ctx, groupID, billing.NewMoney(7.00), "carried")
	require.NoError(t, err)

	// WHEN: The open invoice grows
	e.seedPurchase(t, members[0], groupID, day(12), 10.00)
	second, err := e.consolidator.Consolidate(ctx, groupID, day(11), day(20))

	// THEN: Neither the credit nor the debit touched the invoice
	require.NoError(t, err)
	assert.Equal(t, first.Invoice.ID, second.Invoice.ID)
	assert.Equal(t, "30.00", second.Invoice.TotalAmount.String())
	assert.Equal(t, "0.00", second.Invoice.AppliedCredit.String())
	assert.Equal(t, "0.00", second.Invoice.DebitAmount.String())

	// AND: Both wait for the next fresh invoice
	credit, err := e.credits.FindActive(ctx, groupID)
	require.NoError(t, err)
	assert.Equal(t, "50.00", credit.Amount.String())

	pending, err := e.debits.PendingForGroup(ctx, groupID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

// =============================================================================
// CREDIT AND DEBIT FOLDING
// =============================================================================

func TestConsolidate_FoldsDebitsAndAppliesCredit(t *testing.T) {
	// GIVEN: Purchases of 40, pending debits of 15, active credit of 30
	e := newEngine()
	ctx := context.Background()
	groupID, members := e.seedGroup(t, "Silva", "Ana")

	e.seedPurchase(t, members[0], groupID, day(2), 40.00)
	_, err := e.debits.Create(ctx, groupID, billing.NewMoney(10.00), "March balance")
	require.NoError(t, err)
	_, err = e.debits.Create(ctx, groupID, billing.NewMoney(5.00), "Event share")
	require.NoError(t, err)
	_, err = e.credits.Grant(ctx, groupID, billing.NewMoney(30.00))
	require.NoError(t, err)

	// WHEN: Consolidating
	result, err := e.consolidator.Consolidate(ctx, groupID, day(1), day(30))

	// THEN: original = 40 + 15, applied = min(30, 40), total = 55 - 30
	require.NoError(t, err)
	assert.Equal(t, "55.00", result.Invoice.OriginalAmount.String())
	assert.Equal(t, "30.00", result.Invoice.AppliedCredit.String())
	assert.Equal(t, "15.00", result.Invoice.DebitAmount.String())
	assert.Equal(t, "25.00", result.Invoice.TotalAmount.String())

	// AND: The debits are marked consumed by this invoice
	pending, err := e.debits.PendingForGroup(ctx, groupID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// AND: The credit is exhausted and archived
	active, err := e.credits.FindActive(ctx, groupID)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestConsolidate_CreditCappedAtGross(t *testing.T) {
	// GIVEN: Credit larger than the purchase gross, plus a debit
	e := newEngine()
	ctx := context.Background()
	groupID, members := e.seedGroup(t, "Silva", "Ana")

	e.seedPurchase(t, members[0], groupID, day(2), 20.00)
	_, err := e.debits.Create(ctx, groupID, billing.NewMoney(12.00), "carried")
	require.NoError(t, err)
	_, err = e.credits.Grant(ctx, groupID, billing.NewMoney(100.00))
	require.NoError(t, err)

	// WHEN: Consolidating
	result, err := e.consolidator.Consolidate(ctx, groupID, day(1), day(30))

	// THEN: Applied credit caps at the gross, never covering the debit
	require.NoError(t, err)
	assert.Equal(t, "20.00", result.Invoice.AppliedCredit.String())
	assert.Equal(t, "12.00", result.Invoice.TotalAmount.String())

	// AND: The leftover credit stays usable
	active, err := e.credits.FindActive(ctx, groupID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "80.00", active.Amount.String())
}

func TestConsolidate_FullyCoveredInvoiceBornPaid(t *testing.T) {
	// GIVEN: Credit exactly covering the purchases, no debits
	e := newEngine()
	ctx := context.Background()
	groupID, members := e.seedGroup(t, "Silva", "Ana")

	e.seedPurchase(t, members[0], groupID, day(2), 25.00)
	_, err := e.credits.Grant(ctx, groupID, billing.NewMoney(25.00))
	require.NoError(t, err)

	// WHEN: Consolidating
	result, err := e.consolidator.Consolidate(ctx, groupID, day(1), day(30))

	// THEN: The invoice is born PAID with a zero total
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, result.Invoice.Status)
	assert.Equal(t, "0.00", result.Invoice.TotalAmount.String())

	// AND: Being terminal, it does not absorb later purchases
	e.seedPurchase(t, members[0], groupID, day(12), 10.00)
	next, err := e.consolidator.Consolidate(ctx, groupID, day(11), day(20))
	require.NoError(t, err)
	assert.True(t, next.Created)
	assert.NotEqual(t, result.Invoice.ID, next.Invoice.ID)
}

func TestConsolidate_DebitsFoldExactlyOnce(t *testing.T) {
	// GIVEN: A debit folded into a first invoice
	e := newEngine()
	ctx := context.Background()
	groupID, members := e.seedGroup(t, "Silva", "Ana")

	e.seedPurchase(t, members[0], groupID, day(2), 10.00)
	_, err := e.debits.Create(ctx, groupID, billing.NewMoney(5.00), "carried")
	require.NoError(t, err)

	first, err := e.consolidator.Consolidate(ctx, groupID, day(1), day(10))
	require.NoError(t, err)
	assert.Equal(t, "15.00", first.Invoice.TotalAmount.String())

	// AND: The first invoice settled so a new one can be created
	_, err = e.payments.Record(ctx, billing.RecordPaymentInput{
		InvoiceID:  first.Invoice.ID,
		AmountPaid: billing.NewMoney(15.00),
	})
	require.NoError(t, err)

	// WHEN: A second consolidation runs
	e.seedPurchase(t, members[0], groupID, day(12), 10.00)
	second, err := e.consolidator.Consolidate(ctx, groupID, day(11), day(20))

	// THEN: The debit does not appear again
	require.NoError(t, err)
	assert.Equal(t, "10.00", second.Invoice.TotalAmount.String())
	assert.Equal(t, "0.00", second.Invoice.DebitAmount.String())
}

// =============================================================================
// BATCH CONSOLIDATION
// =============================================================================

func TestConsolidateBatch_SkipsFailedGroups(t *testing.T) {
	// GIVEN: One group with purchases, one without
	e := newEngine()
	ctx := context.Background()
	withPurchases, members := e.seedGroup(t, "Silva", "Ana")
	without, _ := e.seedGroup(t, "Souza", "Rui")

	e.seedPurchase(t, members[0], withPurchases, day(2), 10.00)

	// WHEN: Batch consolidating both
	results, err := e.consolidator.ConsolidateBatch(ctx, []billing.GroupID{withPurchases, without}, day(1), day(30))

	// THEN: The batch succeeds with the empty group recorded as skipped
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.False(t, results[0].Skipped)
	assert.True(t, results[1].Skipped)
	assert.NotEmpty(t, results[1].Reason)
}

func TestConsolidateBatch_AllFailedErrors(t *testing.T) {
	// GIVEN: Two groups with nothing to bill
	e := newEngine()
	g1, _ := e.seedGroup(t, "Silva", "Ana")
	g2, _ := e.seedGroup(t, "Souza", "Rui")

	// WHEN: Batch consolidating
	results, err := e.consolidator.ConsolidateBatch(context.Background(), []billing.GroupID{g1, g2}, day(1), day(30))

	// THEN: Every group is skipped and the batch reports failure
	assert.ErrorIs(t, err, billing.ErrAllGroupsFailed)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Skipped)
	}
}

func TestConsolidateBatch_EmptyInputErrors(t *testing.T) {
	e := newEngine()
	_, err := e.consolidator.ConsolidateBatch(context.Background(), nil, day(1), day(30))
	assert.ErrorIs(t, err, billing.ErrNoGroups)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestConsolidate_ConcurrentRunsCreateOneInvoice(t *testing.T) {
	// GIVEN: A group with purchases and no open invoice
	e := newEngine()
	ctx := context.Background()
	groupID, members := e.seedGroup(t, "Silva", "Ana")
	e.seedPurchase(t, members[0], groupID, day(2), 10.00)
	e.seedPurchase(t, members[0], groupID, day(3), 10.00)

	// WHEN: Many consolidations race for the same group
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.consolidator.Consolidate(ctx, groupID, day(1), day(30))
		}(i)
	}
	wg.Wait()

	// THEN: Exactly one run created the invoice; the rest either grew it
	// (nothing left to bill → no-purchases) or saw it already open
	invoices, err := e.store.ListInvoices(ctx, billing.InvoiceFilter{GroupID: groupID})
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, "20.00", invoices[0].TotalAmount.String())

	succeeded := 0
	for _, runErr := range errs {
		if runErr == nil {
			succeeded++
			continue
		}
		assert.True(t,
			errors.Is(runErr, billing.ErrNoNewPurchases) || errors.Is(runErr, billing.ErrOpenInvoiceExists),
			"unexpected error: %v", runErr)
	}
	assert.GreaterOrEqual(t, succeeded, 1)
}
