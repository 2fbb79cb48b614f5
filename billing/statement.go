/*
statement.go - Per-buyer statement and dashboard rollups (pure reads)

PURPOSE:
  Computes a buyer's consolidated financial position across all invoices and
  payments, and the dashboard-style totals. Nothing here mutates; calling any
  of these twice with no intervening writes yields identical results.

CREDIT POOL:
  Payments flagged isCredit count toward a buyer-level credit pool, not
  toward the invoice they were recorded against. Per-invoice paid amounts
  therefore sum only the non-credit payments.

REMAINING:
  Per-invoice remaining is NOT clamped here: an overpaid invoice contributes
  a negative remainder, which reduces total debt. The clamped view belongs to
  the payment recorder's response, not to the statement.
*/
package billing

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// StatementReader composes read-only financial views.
type StatementReader struct {
	store Store
	log   zerolog.Logger
}

func NewStatementReader(store Store, log zerolog.Logger) *StatementReader {
	return &StatementReader{store: store, log: log.With().Str("component", "statement").Logger()}
}

// Statement returns the buyer's position across all their invoices.
func (r *StatementReader) Statement(ctx context.Context, buyerID MemberID) (*Statement, error) {
	invoices, err := r.store.ListInvoices(ctx, InvoiceFilter{BuyerID: buyerID})
	if err != nil {
		return nil, err
	}

	invoiceIDs := make([]InvoiceID, len(invoices))
	for i, inv := range invoices {
		invoiceIDs[i] = inv.ID
	}

	var payments []Payment
	if len(invoiceIDs) > 0 {
		payments, err = r.store.ListPayments(ctx, PaymentFilter{InvoiceIDs: invoiceIDs})
		if err != nil {
			return nil, err
		}
	}

	// Split credit-pool payments from invoice-targeted ones.
	paidByInvoice := make(map[InvoiceID]Money)
	totalPaid := ZeroMoney()
	totalCredit := ZeroMoney()
	for _, p := range payments {
		totalPaid = totalPaid.Add(p.AmountPaid).Round2()
		if p.IsCredit {
			totalCredit = totalCredit.Add(p.AmountPaid).Round2()
			continue
		}
		sum, ok := paidByInvoice[p.InvoiceID]
		if !ok {
			sum = ZeroMoney()
		}
		paidByInvoice[p.InvoiceID] = sum.Add(p.AmountPaid).Round2()
	}

	totalDebt := ZeroMoney()
	details := make([]StatementInvoice, 0, len(invoices))
	for _, inv := range invoices {
		purchases, err := r.store.ListPurchases(ctx, PurchaseFilter{InvoiceID: inv.ID})
		if err != nil {
			return nil, err
		}
		paid, ok := paidByInvoice[inv.ID]
		if !ok {
			paid = ZeroMoney()
		}
		remaining := inv.TotalAmount.Sub(paid).Round2()
		totalDebt = totalDebt.Add(remaining).Round2()

		details = append(details, StatementInvoice{
			Invoice:    inv,
			Purchases:  purchases,
			PaidAmount: paid,
			Remaining:  remaining,
		})
	}

	return &Statement{
		BuyerID:  buyerID,
		Invoices: details,
		Payments: payments,
		Summary: StatementSummary{
			TotalDebt:        totalDebt,
			TotalPaid:        totalPaid,
			Credit:           totalCredit,
			AvailableBalance: totalCredit.Sub(totalDebt).Round2(),
		},
	}, nil
}

// =============================================================================
// DASHBOARD ROLLUPS
// =============================================================================

// OpenInvoiceTotal sums totalAmount over non-terminal invoices created in
// the range. An invalid range yields zero rather than an error.
func (r *StatementReader) OpenInvoiceTotal(ctx context.Context, from, to time.Time) (Money, error) {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return ZeroMoney(), nil
	}

	invoices, err := r.store.ListInvoices(ctx, InvoiceFilter{
		Statuses: []InvoiceStatus{StatusOpen, StatusPartiallyPaid},
		From:     &from,
		To:       &to,
	})
	if err != nil {
		return ZeroMoney(), err
	}

	total := ZeroMoney()
	for _, inv := range invoices {
		total = total.Add(inv.TotalAmount).Round2()
	}
	return total, nil
}

// PaymentTotal sums all payments recorded in the range. An invalid range
// yields zero rather than an error.
func (r *StatementReader) PaymentTotal(ctx context.Context, from, to time.Time) (Money, error) {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return ZeroMoney(), nil
	}

	payments, err := r.store.ListPayments(ctx, PaymentFilter{From: &from, To: &to})
	if err != nil {
		return ZeroMoney(), err
	}

	total := ZeroMoney()
	for _, p := range payments {
		total = total.Add(p.AmountPaid).Round2()
	}
	return total, nil
}
