/*
payments.go - Payment recorder and the invoice status machine

PURPOSE:
  Applies payments to invoices and keeps the invoice's cached paid/status
  pair consistent with the append-only payment records.

STATUS MACHINE:
  OPEN → PARTIALLY_PAID → PAID, driven by recording payments. Recording
  never regresses status. The ONE backward path is payment removal (an
  administrative correction): PAID/PARTIALLY_PAID may fall back to
  PARTIALLY_PAID or OPEN as the paid amount drops.

RE-SUMMING:
  Recording a payment recomputes totalPaid from ALL payments for the
  invoice, not incrementally. Any drift the cached field picked up is
  corrected on the next payment.

OVERPAYMENT:
  No upper bound on amountPaid; overpaying is an expected path. Credit is
  generated ONLY when the caller explicitly flags isCredit and supplies a
  baseAmount: overpaid = max(0, amountPaid - baseAmount) feeds the credit
  ledger's merge-or-create rule. This is the recorder's single write outside
  the invoice/payment entities.
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// PaymentRecorder applies and reverses payments.
type PaymentRecorder struct {
	store Store
	log   zerolog.Logger
}

func NewPaymentRecorder(store Store, log zerolog.Logger) *PaymentRecorder {
	return &PaymentRecorder{store: store, log: log.With().Str("component", "payment_recorder").Logger()}
}

// RecordPaymentInput describes one payment event.
type RecordPaymentInput struct {
	InvoiceID   InvoiceID
	AmountPaid  Money
	BaseAmount  *Money // required for the overpayment-to-credit path
	PaymentDate time.Time
	IsPartial   bool
	IsCredit    bool
}

// PaymentResult is the recorded payment plus the recomputed invoice totals.
type PaymentResult struct {
	Payment       Payment
	InvoiceStatus InvoiceStatus
	TotalPaid     Money
	TotalAmount   Money
	Remaining     Money
	CreditGranted *Credit // non-nil when overpayment generated credit
}

// Record appends a payment and recomputes the invoice's paid amount and
// status from all its payments.
func (r *PaymentRecorder) Record(ctx context.Context, in RecordPaymentInput) (*PaymentResult, error) {
	if !in.AmountPaid.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidAmount, in.AmountPaid)
	}
	var result *PaymentResult
	err := inTx(ctx, r.store, func(s Store) error {
		invoice, err := s.GetInvoice(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return ErrInvoiceNotFound
		}

		paymentDate := in.PaymentDate
		if paymentDate.IsZero() {
			paymentDate = time.Now()
		}
		payment := Payment{
			ID:          PaymentID(NewID()),
			InvoiceID:   in.InvoiceID,
			AmountPaid:  in.AmountPaid.Round2(),
			BaseAmount:  in.BaseAmount,
			PaymentDate: paymentDate,
			IsPartial:   in.IsPartial,
			IsCredit:    in.IsCredit,
			CreatedAt:   time.Now(),
		}
		if err := s.SavePayment(ctx, payment); err != nil {
			return err
		}

		payments, err := s.ListPayments(ctx, PaymentFilter{InvoiceID: in.InvoiceID})
		if err != nil {
			return err
		}
		totalPaid := ZeroMoney()
		for _, p := range payments {
			totalPaid = totalPaid.Add(p.AmountPaid).Round2()
		}

		status := StatusPartiallyPaid
		if totalPaid.GreaterThanOrEqual(invoice.TotalAmount) {
			status = StatusPaid
		}
		invoice.PaidAmount = totalPaid
		invoice.Status = status
		if err := s.SaveInvoice(ctx, *invoice); err != nil {
			return err
		}

		remaining, _ := invoice.TotalAmount.Sub(totalPaid).ClampNonNegative()
		result = &PaymentResult{
			Payment:       payment,
			InvoiceStatus: status,
			TotalPaid:     totalPaid,
			TotalAmount:   invoice.TotalAmount,
			Remaining:     remaining,
		}

		// Explicit overpayment-to-credit path.
		if in.IsCredit && in.BaseAmount != nil {
			overpaid, _ := in.AmountPaid.Sub(*in.BaseAmount).ClampNonNegative()
			if overpaid.IsPositive() {
				credit, err := grantCredit(ctx, s, invoice.GroupID, overpaid, time.Now())
				if err != nil {
					return err
				}
				result.CreditGranted = credit
				r.log.Info().
					Str("invoice_id", string(invoice.ID)).
					Str("group_id", string(invoice.GroupID)).
					Str("overpaid", overpaid.String()).
					Msg("overpayment converted to credit")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Info().
		Str("payment_id", string(result.Payment.ID)).
		Str("invoice_id", string(in.InvoiceID)).
		Str("amount", in.AmountPaid.String()).
		Str("status", string(result.InvoiceStatus)).
		Msg("payment recorded")
	return result, nil
}

// Remove reverses a payment's effect on its invoice and deletes the record.
// This is the one path where invoice status can regress.
func (r *PaymentRecorder) Remove(ctx context.Context, paymentID PaymentID) error {
	return inTx(ctx, r.store, func(s Store) error {
		payment, err := s.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return ErrPaymentNotFound
		}

		invoice, err := s.GetInvoice(ctx, payment.InvoiceID)
		if err != nil {
			return err
		}
		if invoice != nil {
			newPaid, _ := invoice.PaidAmount.Sub(payment.AmountPaid).ClampNonNegative()
			switch {
			case newPaid.GreaterThanOrEqual(invoice.TotalAmount) && !invoice.TotalAmount.IsZero():
				invoice.Status = StatusPaid
			case newPaid.IsPositive():
				invoice.Status = StatusPartiallyPaid
			default:
				invoice.Status = StatusOpen
			}
			invoice.PaidAmount = newPaid
			if err := s.SaveInvoice(ctx, *invoice); err != nil {
				return err
			}
			r.log.Info().
				Str("payment_id", string(paymentID)).
				Str("invoice_id", string(invoice.ID)).
				Str("new_paid", newPaid.String()).
				Str("status", string(invoice.Status)).
				Msg("payment removed, invoice reversed")
		}

		return s.DeletePayment(ctx, paymentID)
	})
}

// ListByInvoice returns all payments for one invoice.
func (r *PaymentRecorder) ListByInvoice(ctx context.Context, invoiceID InvoiceID) ([]Payment, error) {
	return r.store.ListPayments(ctx, PaymentFilter{InvoiceID: invoiceID})
}
