/*
payments_test.go - Tests for payment recording and reversal

Covers:
- Status transitions OPEN → PARTIALLY_PAID → PAID driven by the payment sum
- Paid amount re-derived from all payments, not incremented
- Overpayment-to-credit only on the explicit flag with a base amount
- Non-positive amounts rejected up front
- Payment removal regressing invoice status
*/
package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cantina/billing-engine/billing"
)

func (e *engine) invoiceFor(t *testing.T, group billing.GroupID, buyer billing.MemberID, amount float64) billing.Invoice {
	t.Helper()
	e.seedPurchase(t, buyer, group, day(2), amount)
	result, err := e.consolidator.Consolidate(context.Background(), group, day(1), day(30))
	require.NoError(t, err)
	return result.Invoice
}

func TestRecordPayment_PartialThenSettled(t *testing.T) {
	// GIVEN: An open invoice of 30.00
	e := newEngine()
	ctx := context.Background()
	groupID, members := e.seedGroup(t, "Costa", "Ana")
	inv := e.invoiceFor(t, groupID, members[0], 30.00)

	// WHEN: Paying 12.50
	first, err := e.payments.Record(ctx, billing.RecordPaymentInput{
		InvoiceID:  inv.ID,
		AmountPaid: billing.NewMoney(12.50),
		IsPartial:  true,
	})

	// THEN: The invoice is partially paid with the remainder tracked
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPartiallyPaid, first.InvoiceStatus)
	assert.Equal(t, "12.50", first.TotalPaid.String())
	assert.Equal(t, "17.50", first.Remaining.String())

	// WHEN: Paying the rest
	second, err := e.payments.Record(ctx, billing.RecordPaymentInput{
		InvoiceID:  inv.ID,
		AmountPaid: billing.NewMoney(17.50),
	})

	// THEN: The invoice settles; paid is the sum of both payments
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, second.InvoiceStatus)
	assert.Equal(t, "30.00", second.TotalPaid.String())
	assert.Equal(t, "0.00", second.Remaining.String())

	stored, err := e.store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, stored.Status)
	assert.Equal(t, "30.00", stored.PaidAmount.String())
}

func TestRecordPayment_OverpayWithoutFlagGrantsNoCredit(t *testing.T) {
	// GIVEN: An open invoice of 20.00
	e := newEngine()
	ctx := context.Background()
	groupID, members := e.seedGroup(t, "Costa", "Ana")
	inv := e.invoiceFor(t, groupID, members[0], 20.00)

	// WHEN: Paying 25.00 with no credit flag
	result, err := e.payments.Record(ctx, billing.RecordPaymentInput{
		InvoiceID:  inv.ID,
		AmountPaid: billing.NewMoney(25.00),
	})

	// THEN: The invoice is paid, remaining clamps at zero, no credit appears
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, result.InvoiceStatus)
	assert.Equal(t, "0.00", result.Remaining.String())
	assert.Nil(t, result.CreditGranted)

	active, err := e.credits.FindActive(ctx, groupID)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestRecordPayment_OverpayToCredit(t *testing.T) {
	// GIVEN: An invoice of 40.00 with 15.00 already paid
	e := newEngine()
	ctx := context.Background()
	groupID, members := e.seedGroup(t, "Costa", "Ana")
	inv := e.invoiceFor(t, groupID, members[0], 40.00)

	_, err := e.payments.Record(ctx, billing.RecordPaymentInput{
		InvoiceID:  inv.ID,
		AmountPaid: billing.NewMoney(15.00),
		IsPartial:  true,
	})
	require.NoError(t, err)

	// WHEN: Paying 35.00 against the 25.00 remaining, flagged as credit
	base := billing.NewMoney(25.00)
	result, err := e.payments.Record(ctx, billing.RecordPaymentInput{
		InvoiceID:  inv.ID,
		AmountPaid: billing.NewMoney(35.00),
		BaseAmount: &base,
		IsCredit:   true,
	})

	// THEN: The invoice settles and the 10.00 overpayment becomes group credit
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, result.InvoiceStatus)
	require.NotNil(t, result.CreditGranted)
	assert.Equal(t, "10.00", result.CreditGranted.Amount.String())
	assert.Equal(t, groupID, result.CreditGranted.GroupID)

	active, err := e.credits.FindActive(ctx, groupID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "10.00", active.Amount.String())
}

func TestRecordPayment_CreditFlagWithoutOverpayment(t *testing.T) {
	// GIVEN: An invoice of 20.00
	e := newEngine()
	ctx := context.Background()
	groupID, members := e.seedGroup(t, "Costa", "Ana")
	inv := e.invoiceFor(t, groupID, members[0], 20.00)

	// WHEN: Paying exactly the base with the credit flag set
	base := billing.NewMoney(20.00)
	result, err := e.payments.Record(ctx, billing.RecordPaymentInput{
		InvoiceID:  inv.ID,
		AmountPaid: billing.NewMoney(20.00),
		BaseAmount: &base,
		IsCredit:   true,
	})

	// THEN: No credit is generated for a zero overpayment
	require.NoError(t, err)
	assert.Nil(t, result.CreditGranted)
}

func TestRecordPayment_UnknownInvoice(t *testing.T) {
	e := newEngine()
	_, err := e.payments.Record(context.Background(), billing.RecordPaymentInput{
		InvoiceID:  billing.InvoiceID(billing.NewID()),
		AmountPaid: billing.NewMoney(5.00),
	})
	assert.ErrorIs(t, err, billing.ErrInvoiceNotFound)
}

func TestRecordPayment_RejectsNonPositiveAmount(t *testing.T) {
	// GIVEN: An open invoice
	e := newEngine()
	ctx := context.Background()
	groupID, members := e.seedGroup(t, "Costa", "Ana")
	inv := e.invoiceFor(t, groupID, members[0], 30.00)

	// WHEN/THEN: Negative and zero amounts are rejected before anything is
	// written, same as credit grants and debits
	for _, amount := range []float64{-10.00, 0} {
		_, err := e.payments.Record(ctx, billing.RecordPaymentInput{
			InvoiceID:  inv.ID,
			AmountPaid: billing.NewMoney(amount),
		})
		assert.ErrorIs(t, err, billing.ErrInvalidAmount)
	}

	payments, err := e.payments.ListByInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestRemovePayment_RegressesStatus(t *testing.T) {
	// GIVEN: An invoice of 30.00 settled in two payments
	e := newEngine()
	ctx := context.Background()
	groupID, members := e.seedGroup(t, "Costa", "Ana")
	inv := e.invoiceFor(t, groupID, members[0], 30.00)

	first, err := e.payments.Record(ctx, billing.RecordPaymentInput{
		InvoiceID:  inv.ID,
		AmountPaid: billing.NewMoney(10.00),
		IsPartial:  true,
	})
	require.NoError(t, err)
	second, err := e.payments.Record(ctx, billing.RecordPaymentInput{
		InvoiceID:  inv.ID,
		AmountPaid: billing.NewMoney(20.00),
	})
	require.NoError(t, err)
	require.Equal(t, billing.StatusPaid, second.InvoiceStatus)

	// WHEN: Removing the second payment
	require.NoError(t, e.payments.Remove(ctx, second.Payment.ID))

	// THEN: The invoice drops back to partially paid
	stored, err := e.store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPartiallyPaid, stored.Status)
	assert.Equal(t, "10.00", stored.PaidAmount.String())

	// WHEN: Removing the first payment too
	require.NoError(t, e.payments.Remove(ctx, first.Payment.ID))

	// THEN: The invoice reopens with nothing paid
	stored, err = e.store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusOpen, stored.Status)
	assert.Equal(t, "0.00", stored.PaidAmount.String())

	payments, err := e.payments.ListByInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestRemovePayment_UnknownPayment(t *testing.T) {
	e := newEngine()
	err := e.payments.Remove(context.Background(), billing.PaymentID(billing.NewID()))
	assert.ErrorIs(t, err, billing.ErrPaymentNotFound)
}
