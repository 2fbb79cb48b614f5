/*
purchases_test.go - Tests for the purchase ledger

Covers:
- Totals computed from line items with per-item rounding
- Filtered listing (buyer, un-invoiced, date window)
- Removal rules: free for un-invoiced, blocked once linked
*/
package billing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cantina/billing-engine/billing"
)

func TestRecordPurchase_TotalsFromItems(t *testing.T) {
	// GIVEN: A cart with quantities and cent-level prices
	e := newEngine()
	ctx := context.Background()
	groupID, members := e.seedGroup(t, "Alves", "Ana")

	// WHEN: Recording the purchase
	p, err := e.purchases.Record(ctx, billing.RecordPurchaseInput{
		BuyerID: members[0],
		GroupID: groupID,
		Items: []billing.LineItem{
			{Name: "Coffee", UnitPrice: billing.NewMoney(3.75), Quantity: 2},
			{Name: "Cheese bread", UnitPrice: billing.NewMoney(4.10), Quantity: 3},
		},
		CreatedAt: day(4),
	})

	// THEN: The total is the sum of item totals (7.50 + 12.30)
	require.NoError(t, err)
	assert.Equal(t, "19.80", p.Total.String())
	assert.False(t, p.Invoiced())

	stored, err := e.purchases.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "19.80", stored.Total.String())
	require.Len(t, stored.Items, 2)
	assert.Equal(t, "7.50", stored.Items[0].Total().String())
}

func TestRecordPurchase_RejectsEmptyCart(t *testing.T) {
	e := newEngine()
	groupID, members := e.seedGroup(t, "Alves", "Ana")

	_, err := e.purchases.Record(context.Background(), billing.RecordPurchaseInput{
		BuyerID: members[0],
		GroupID: groupID,
	})
	assert.ErrorIs(t, err, billing.ErrInvalidAmount)
}

func TestListPurchases_Filters(t *testing.T) {
	// GIVEN: Purchases by two buyers across the month
	e := newEngine()
	ctx := context.Background()
	groupID, members := e.seedGroup(t, "Alves", "Ana", "Bruno")

	e.seedPurchase(t, members[0], groupID, day(2), 10.00)
	e.seedPurchase(t, members[0], groupID, day(20), 11.00)
	e.seedPurchase(t, members[1], groupID, day(5), 12.00)

	// THEN: Buyer filter narrows to one member's purchases
	mine, err := e.purchases.List(ctx, billing.PurchaseFilter{BuyerID: members[0]})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	// AND: Date window filters on creation time
	from, to := day(1), day(10)
	early, err := e.purchases.List(ctx, billing.PurchaseFilter{GroupID: groupID, From: &from, To: &to})
	require.NoError(t, err)
	assert.Len(t, early, 2)

	// AND: After consolidating the window, only the late purchase is un-invoiced
	_, err = e.consolidator.Consolidate(ctx, groupID, day(1), day(10))
	require.NoError(t, err)
	open, err := e.purchases.List(ctx, billing.PurchaseFilter{GroupID: groupID, OnlyUninvoiced: true})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "11.00", open[0].Total.String())
}

func TestRemovePurchase_UninvoicedDeletes(t *testing.T) {
	// GIVEN: A recorded purchase not yet billed
	e := newEngine()
	ctx := context.Background()
	groupID, members := e.seedGroup(t, "Alves", "Ana")
	id := e.seedPurchase(t, members[0], groupID, day(2), 10.00)

	// WHEN: Removing it
	require.NoError(t, e.purchases.Remove(ctx, id))

	// THEN: It is gone
	_, err := e.purchases.Get(ctx, id)
	assert.ErrorIs(t, err, billing.ErrPurchaseNotFound)
}

func TestRemovePurchase_InvoicedBlocked(t *testing.T) {
	// GIVEN: A purchase linked to an invoice by consolidation
	e := newEngine()
	ctx := context.Background()
	groupID, members := e.seedGroup(t, "Alves", "Ana")
	id := e.seedPurchase(t, members[0], groupID, day(2), 10.00)

	result, err := e.consolidator.Consolidate(ctx, groupID, day(1), day(30))
	require.NoError(t, err)

	// WHEN: Trying to remove it
	err = e.purchases.Remove(ctx, id)

	// THEN: The typed error names the blocking invoice
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrPurchaseInvoiced)
	var pie *billing.PurchaseInvoicedError
	require.True(t, errors.As(err, &pie))
	assert.Equal(t, result.Invoice.ID, pie.InvoiceID)
}

func TestRemovePurchase_Unknown(t *testing.T) {
	e := newEngine()
	err := e.purchases.Remove(context.Background(), billing.PurchaseID(billing.NewID()))
	assert.ErrorIs(t, err, billing.ErrPurchaseNotFound)
}
