/*
purchases.go - Purchase ledger

PURPOSE:
  Records individual purchase transactions. Every other component reads this
  ledger: the consolidator pulls un-invoiced purchases, the statement reader
  groups them per invoice.

INVARIANT:
  A purchase with a set invoice reference is immutable history. It cannot be
  deleted and its reference never changes to a different invoice. The only
  way to clear the reference is deleting the owning invoice, which detaches
  (not deletes) its purchases.
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// PurchaseLedger appends and queries purchase records.
type PurchaseLedger struct {
	store Store
	log   zerolog.Logger
}

func NewPurchaseLedger(store Store, log zerolog.Logger) *PurchaseLedger {
	return &PurchaseLedger{store: store, log: log.With().Str("component", "purchase_ledger").Logger()}
}

// RecordPurchaseInput describes one purchase event.
type RecordPurchaseInput struct {
	BuyerID   MemberID
	GroupID   GroupID
	Items     []LineItem
	CreatedAt time.Time // zero = now
}

// Record appends a purchase, computing its total from the line items.
func (l *PurchaseLedger) Record(ctx context.Context, in RecordPurchaseInput) (*Purchase, error) {
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: purchase has no line items", ErrInvalidAmount)
	}

	total := ZeroMoney()
	for _, item := range in.Items {
		total = total.Add(item.Total()).Round2()
	}

	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	purchase := Purchase{
		ID:        PurchaseID(NewID()),
		BuyerID:   in.BuyerID,
		GroupID:   in.GroupID,
		Items:     in.Items,
		Total:     total,
		CreatedAt: createdAt,
	}
	if err := l.store.SavePurchase(ctx, purchase); err != nil {
		return nil, err
	}
	return &purchase, nil
}

// List returns purchases matching the filter, chronologically.
func (l *PurchaseLedger) List(ctx context.Context, f PurchaseFilter) ([]Purchase, error) {
	return l.store.ListPurchases(ctx, f)
}

// Get returns a purchase or ErrPurchaseNotFound.
func (l *PurchaseLedger) Get(ctx context.Context, id PurchaseID) (*Purchase, error) {
	p, err := l.store.GetPurchase(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPurchaseNotFound
	}
	return p, nil
}

// Remove deletes an un-invoiced purchase. Invoiced purchases fail with
// PurchaseInvoicedError: they may only be detached by deleting the invoice.
func (l *PurchaseLedger) Remove(ctx context.Context, id PurchaseID) error {
	return inTx(ctx, l.store, func(s Store) error {
		p, err := s.GetPurchase(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrPurchaseNotFound
		}
		if p.Invoiced() {
			return &PurchaseInvoicedError{PurchaseID: id, InvoiceID: p.InvoiceID}
		}
		return s.DeletePurchase(ctx, id)
	})
}
