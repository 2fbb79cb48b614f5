package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// DEBIT LEDGER - Pending charges awaiting the next invoice
// =============================================================================

// DebitLedger tracks ad-hoc charges against a billing group not yet folded
// into an invoice. A debit is folded into at most one invoice, exactly once;
// after that it stays editable for correction but can never be billed again.
type DebitLedger struct {
	store Store
	log   zerolog.Logger
}

func NewDebitLedger(store Store, log zerolog.Logger) *DebitLedger {
	return &DebitLedger{store: store, log: log.With().Str("component", "debit_ledger").Logger()}
}

// Create records a new pending debit for the group.
func (l *DebitLedger) Create(ctx context.Context, groupID GroupID, amount Money, description string) (*Debit, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidAmount, amount)
	}

	debit := Debit{
		ID:          DebitID(NewID()),
		GroupID:     groupID,
		Amount:      amount.Round2(),
		Description: description,
		CreatedAt:   time.Now(),
	}
	if err := l.store.SaveDebit(ctx, debit); err != nil {
		return nil, err
	}
	return &debit, nil
}

// PendingForGroup returns the group's debits not yet folded into an invoice.
func (l *DebitLedger) PendingForGroup(ctx context.Context, groupID GroupID) ([]Debit, error) {
	return l.store.ListDebits(ctx, DebitFilter{GroupID: groupID, OnlyPending: true})
}

// ByGroup returns every debit for the group, folded or not.
func (l *DebitLedger) ByGroup(ctx context.Context, groupID GroupID) ([]Debit, error) {
	return l.store.ListDebits(ctx, DebitFilter{GroupID: groupID})
}

// MarkIncluded folds a debit into an invoice. The flip is final: a second
// fold attempt fails with ErrDebitIncluded.
func (l *DebitLedger) MarkIncluded(ctx context.Context, debitID DebitID, invoiceID InvoiceID) (*Debit, error) {
	var debit *Debit
	err := inTx(ctx, l.store, func(s Store) error {
		var err error
		debit, err = s.GetDebit(ctx, debitID)
		if err != nil {
			return err
		}
		if debit == nil {
			return ErrDebitNotFound
		}
		if debit.IncludedInInvoice {
			return fmt.Errorf("%w: debit %s already in invoice %s", ErrDebitIncluded, debitID, debit.InvoiceID)
		}

		debit.IncludedInInvoice = true
		debit.InvoiceID = invoiceID
		return s.SaveDebit(ctx, *debit)
	})
	if err != nil {
		return nil, err
	}
	return debit, nil
}

// Update corrects a debit's amount or description. Allowed even after the
// debit was folded; the fold itself is immutable.
func (l *DebitLedger) Update(ctx context.Context, debitID DebitID, amount Money, description string) (*Debit, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidAmount, amount)
	}

	var debit *Debit
	err := inTx(ctx, l.store, func(s Store) error {
		var err error
		debit, err = s.GetDebit(ctx, debitID)
		if err != nil {
			return err
		}
		if debit == nil {
			return ErrDebitNotFound
		}

		debit.Amount = amount.Round2()
		debit.Description = description
		return s.SaveDebit(ctx, *debit)
	})
	if err != nil {
		return nil, err
	}
	return debit, nil
}
