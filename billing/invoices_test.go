/*
invoices_test.go - Tests for invoice reads, deletion, and notification

Covers:
- Full invoice composition: consumption, names, re-derived paid amount
- Deletion detaching purchases for re-consolidation
- Send marking the invoice only on delivery success
*/
package billing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cantina/billing-engine/billing"
)

type captureNotifier struct {
	sent []billing.InvoiceConfirmation
	err  error
}

func (n *captureNotifier) SendInvoiceConfirmation(_ context.Context, c billing.InvoiceConfirmation) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, c)
	return nil
}

func TestFullInvoices_ComposesBreakdown(t *testing.T) {
	// GIVEN: A consolidated invoice with a partial payment
	e := newEngine()
	ctx := context.Background()
	groupID, members := e.seedGroup(t, "Rocha", "Ana", "Bruno")
	e.seedPurchase(t, members[0], groupID, day(2), 18.00)
	e.seedPurchase(t, members[1], groupID, day(3), 7.00)

	result, err := e.consolidator.Consolidate(ctx, groupID, day(1), day(30))
	require.NoError(t, err)
	_, err = e.payments.Record(ctx, billing.RecordPaymentInput{
		InvoiceID:  result.Invoice.ID,
		AmountPaid: billing.NewMoney(10.00),
		IsPartial:  true,
	})
	require.NoError(t, err)

	// WHEN: Composing the full view
	full, err := e.invoices.FullInvoices(ctx, []billing.InvoiceID{result.Invoice.ID})

	// THEN: Purchases, payments, names, and derived totals line up
	require.NoError(t, err)
	require.Len(t, full, 1)
	assert.Len(t, full[0].Purchases, 2)
	assert.Len(t, full[0].Payments, 1)
	assert.Equal(t, "10.00", full[0].PaidAmount.String())
	assert.Equal(t, "15.00", full[0].Remaining.String())
	assert.Equal(t, "Ana", full[0].OwnerName)
	assert.Equal(t, "Ana", full[0].BuyerNames[members[0]])
	assert.Equal(t, "Bruno", full[0].BuyerNames[members[1]])
	assert.Len(t, full[0].Consumption[members[0]], 1)
}

func TestFullInvoices_MixedKnownAndUnknownIDs(t *testing.T) {
	// GIVEN: One real invoice
	e := newEngine()
	ctx := context.Background()
	groupID, members := e.seedGroup(t, "Rocha", "Ana")
	e.seedPurchase(t, members[0], groupID, day(2), 18.00)
	result, err := e.consolidator.Consolidate(ctx, groupID, day(1), day(30))
	require.NoError(t, err)

	// WHEN: Requesting it together with an unknown id
	full, err := e.invoices.FullInvoices(ctx, []billing.InvoiceID{
		result.Invoice.ID, billing.InvoiceID(billing.NewID()),
	})

	// THEN: The known one is returned; only an all-unknown request fails
	require.NoError(t, err)
	assert.Len(t, full, 1)

	_, err = e.invoices.FullInvoices(ctx, []billing.InvoiceID{billing.InvoiceID(billing.NewID())})
	assert.ErrorIs(t, err, billing.ErrInvoiceNotFound)
}

func TestDeleteInvoice_DetachesPurchases(t *testing.T) {
	// GIVEN: A consolidated invoice
	e := newEngine()
	ctx := context.Background()
	groupID, members := e.seedGroup(t, "Rocha", "Ana")
	id := e.seedPurchase(t, members[0], groupID, day(2), 18.00)
	result, err := e.consolidator.Consolidate(ctx, groupID, day(1), day(30))
	require.NoError(t, err)

	// WHEN: Deleting the invoice
	require.NoError(t, e.invoices.Delete(ctx, result.Invoice.ID))

	// THEN: The purchase survives un-invoiced
	p, err := e.purchases.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, p.Invoiced())

	_, err = e.invoices.Get(ctx, result.Invoice.ID)
	assert.ErrorIs(t, err, billing.ErrInvoiceNotFound)

	// AND: The same purchases can be billed again
	again, err := e.consolidator.Consolidate(ctx, groupID, day(1), day(30))
	require.NoError(t, err)
	assert.Equal(t, "18.00", again.Invoice.TotalAmount.String())
}

func TestSendInvoice_MarksSentOnSuccess(t *testing.T) {
	// GIVEN: An invoice and a notifier that accepts delivery
	e := newEngine()
	ctx := context.Background()
	notifier := &captureNotifier{}
	invoices := billing.NewInvoices(e.store, billing.NewStoreDirectory(e.store), notifier, zerolog.Nop())

	groupID, members := e.seedGroup(t, "Rocha", "Ana")
	e.seedPurchase(t, members[0], groupID, day(2), 18.00)
	result, err := e.consolidator.Consolidate(ctx, groupID, day(1), day(30))
	require.NoError(t, err)

	// WHEN: Sending
	sendResult, err := invoices.Send(ctx, result.Invoice.ID)

	// THEN: The confirmation went to the owner and the invoice is flagged
	require.NoError(t, err)
	assert.True(t, sendResult.Sent)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "Ana", notifier.sent[0].OwnerName)
	assert.Equal(t, "18.00", notifier.sent[0].TotalAmount.String())

	stored, err := e.store.GetInvoice(ctx, result.Invoice.ID)
	require.NoError(t, err)
	assert.True(t, stored.SentByWhatsapp)
}

func TestSendInvoice_DeliveryFailureIsNotAnError(t *testing.T) {
	// GIVEN: A notifier whose gateway is down
	e := newEngine()
	ctx := context.Background()
	notifier := &captureNotifier{err: errors.New("gateway timeout")}
	invoices := billing.NewInvoices(e.store, billing.NewStoreDirectory(e.store), notifier, zerolog.Nop())

	groupID, members := e.seedGroup(t, "Rocha", "Ana")
	e.seedPurchase(t, members[0], groupID, day(2), 18.00)
	result, err := e.consolidator.Consolidate(ctx, groupID, day(1), day(30))
	require.NoError(t, err)

	// WHEN: Sending
	sendResult, err := invoices.Send(ctx, result.Invoice.ID)

	// THEN: The attempt is reported, not raised, and the flag stays off
	require.NoError(t, err)
	assert.False(t, sendResult.Sent)
	assert.Contains(t, sendResult.Message, "gateway timeout")

	stored, err := e.store.GetInvoice(ctx, result.Invoice.ID)
	require.NoError(t, err)
	assert.False(t, stored.SentByWhatsapp)
}

func TestSendInvoice_OwnerWithoutPhone(t *testing.T) {
	// GIVEN: A group whose owner has no phone on record
	e := newEngine()
	ctx := context.Background()
	notifier := &captureNotifier{}
	invoices := billing.NewInvoices(e.store, billing.NewStoreDirectory(e.store), notifier, zerolog.Nop())

	groupID, members := e.seedGroup(t, "Rocha", "Ana")
	owner, err := e.store.GetMember(ctx, members[0])
	require.NoError(t, err)
	owner.Phone = ""
	require.NoError(t, e.store.SaveMember(ctx, *owner))

	e.seedPurchase(t, members[0], groupID, day(2), 18.00)
	result, err := e.consolidator.Consolidate(ctx, groupID, day(1), day(30))
	require.NoError(t, err)

	// WHEN: Sending
	sendResult, err := invoices.Send(ctx, result.Invoice.ID)

	// THEN: Nothing is delivered and the invoice stays unflagged
	require.NoError(t, err)
	assert.False(t, sendResult.Sent)
	assert.Empty(t, notifier.sent)
}
