/*
credit.go - Credit ledger with the single-active-balance invariant

PURPOSE:
  Tracks reusable credit balances per billing group. A group holds ONE
  running credit balance, never several partially-consumed ones.

INVARIANT:
  At most one unarchived credit with Amount > 0 per billing group.

  Enforced by merge-on-create: granting credit while an active credit exists
  archives the old record and creates a single new credit with the summed
  amount. The merge runs inside one store transaction so concurrent granters
  cannot leave two active balances behind.

WHY MERGE INSTEAD OF MULTIPLE BALANCES?
  Tracking several partially-consumed credits forces every consumer to pick
  an application order and reconcile across records. A single running balance
  matches the domain's expectation ("your account has one credit") and keeps
  consolidation a min() instead of a knapsack.

SEE ALSO:
  - consolidator.go: Consumes the active credit when creating an invoice
  - payments.go: Feeds this ledger on explicit overpayment-to-credit
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// CreditLedger manages credit balances for billing groups.
type CreditLedger struct {
	store Store
	log   zerolog.Logger
}

func NewCreditLedger(store Store, log zerolog.Logger) *CreditLedger {
	return &CreditLedger{store: store, log: log.With().Str("component", "credit_ledger").Logger()}
}

// Grant adds credit to a group, merging with the active credit if one exists.
// Returns the resulting (single) active credit.
func (l *CreditLedger) Grant(ctx context.Context, groupID GroupID, amount Money) (*Credit, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidAmount, amount)
	}

	var credit *Credit
	err := inTx(ctx, l.store, func(s Store) error {
		var err error
		credit, err = grantCredit(ctx, s, groupID, amount, time.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return credit, nil
}

// grantCredit is the merge-or-create rule, shared with the payment recorder
// so overpayment-to-credit can run inside the recorder's own transaction.
func grantCredit(ctx context.Context, s Store, groupID GroupID, amount Money, now time.Time) (*Credit, error) {
	active, err := s.FindActiveCredit(ctx, groupID)
	if err != nil {
		return nil, err
	}

	combined := amount.Round2()
	if active != nil {
		combined = active.Amount.Add(amount).Round2()

		// Archive the old balance; the new record carries the sum.
		active.Amount = ZeroMoney()
		active.Archived = true
		active.UpdatedAt = now
		if err := s.SaveCredit(ctx, *active); err != nil {
			return nil, err
		}
	}

	credit := Credit{
		ID:             CreditID(NewID()),
		GroupID:        groupID,
		CreditedAmount: combined,
		Amount:         combined,
		Archived:       false,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.SaveCredit(ctx, credit); err != nil {
		return nil, err
	}
	return &credit, nil
}

// Consume decrements a credit's balance, archiving it when fully used.
// Fails with InsufficientCreditError when applied exceeds the balance.
func (l *CreditLedger) Consume(ctx context.Context, creditID CreditID, applied Money) (*Credit, error) {
	if applied.IsNegative() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidAmount, applied)
	}

	var credit *Credit
	err := inTx(ctx, l.store, func(s Store) error {
		var err error
		credit, err = s.GetCredit(ctx, creditID)
		if err != nil {
			return err
		}
		if credit == nil {
			return ErrCreditNotFound
		}
		if applied.GreaterThan(credit.Amount) {
			return &InsufficientCreditError{
				CreditID:  creditID,
				Available: credit.Amount,
				Requested: applied,
			}
		}

		credit.Amount = credit.Amount.Sub(applied).Round2()
		credit.Archived = credit.Amount.IsZero()
		credit.UpdatedAt = time.Now()
		return s.SaveCredit(ctx, *credit)
	})
	if err != nil {
		return nil, err
	}
	return credit, nil
}

// FindActive returns the group's active credit, or nil when none exists.
func (l *CreditLedger) FindActive(ctx context.Context, groupID GroupID) (*Credit, error) {
	return l.store.FindActiveCredit(ctx, groupID)
}

// List returns credits filtered by archived state (nil = all).
func (l *CreditLedger) List(ctx context.Context, archived *bool) ([]Credit, error) {
	return l.store.ListCredits(ctx, CreditFilter{Archived: archived})
}
