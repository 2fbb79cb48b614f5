/*
store.go - Persistence interfaces for the billing entities

PURPOSE:
  Defines the interface between the engine and the database. Each entity
  (group, member, purchase, invoice, payment, credit, debit) is a durable
  record keyed by a stable id; the store must support per-entity atomic
  updates and range queries on (group id, timestamp).

KEY INTERFACES:
  Store:   Composite of the per-entity stores. What the engine components take.
  TxStore: Store with WithTx for atomic multi-entity mutations.

MISSING ENTITIES:
  Get* methods return (nil, nil) when the entity does not exist. The engine
  translates that into the NotFound sentinel for its operation; stores never
  invent domain errors beyond the uniqueness mappings documented below.

UNIQUENESS MAPPINGS:
  A store that enforces "at most one non-terminal invoice per group" at the
  schema level maps its constraint violation onto ErrOpenInvoiceExists.

IMPLEMENTATIONS:
  - store/sqlite:        Production SQLite (WAL, partial unique indexes)
  - billing/store:       In-memory, for tests and development

SEE ALSO:
  - consolidator.go: The heaviest Store consumer
  - store/sqlite/sqlite.go: Concrete implementation
*/
package billing

import (
	"context"
	"time"
)

// =============================================================================
// FILTERS
// =============================================================================

// PurchaseFilter narrows ListPurchases. Zero values mean "no constraint".
type PurchaseFilter struct {
	GroupID        GroupID
	BuyerID        MemberID
	InvoiceID      InvoiceID
	OnlyUninvoiced bool
	From, To       *time.Time // on CreatedAt, inclusive
}

type InvoiceFilter struct {
	IDs      []InvoiceID
	GroupID  GroupID
	BuyerID  MemberID // matches invoices whose BuyerIDs contain this member
	Statuses []InvoiceStatus
	From, To *time.Time // on CreatedAt, inclusive
}

type PaymentFilter struct {
	InvoiceID  InvoiceID
	InvoiceIDs []InvoiceID
	From, To   *time.Time // on CreatedAt, inclusive
}

type CreditFilter struct {
	GroupID  GroupID
	Archived *bool
}

type DebitFilter struct {
	GroupID     GroupID
	OnlyPending bool // IncludedInInvoice == false
}

// =============================================================================
// PER-ENTITY STORES
// =============================================================================

type GroupStore interface {
	// SaveGroup inserts or replaces a billing group.
	SaveGroup(ctx context.Context, g BillingGroup) error
	// GetGroup returns nil when the group does not exist.
	GetGroup(ctx context.Context, id GroupID) (*BillingGroup, error)
	ListGroups(ctx context.Context) ([]BillingGroup, error)
	// DeleteGroup removes the group record. Member records survive detached.
	DeleteGroup(ctx context.Context, id GroupID) error
}

type MemberStore interface {
	SaveMember(ctx context.Context, m Member) error
	GetMember(ctx context.Context, id MemberID) (*Member, error)
	ListMembers(ctx context.Context) ([]Member, error)
}

type PurchaseStore interface {
	SavePurchase(ctx context.Context, p Purchase) error
	GetPurchase(ctx context.Context, id PurchaseID) (*Purchase, error)
	// ListPurchases returns purchases ordered by CreatedAt ascending.
	ListPurchases(ctx context.Context, f PurchaseFilter) ([]Purchase, error)
	// LinkPurchases sets the invoice reference on every listed purchase.
	// Fails with ErrPurchaseRelinked if any purchase already belongs to a
	// different invoice.
	LinkPurchases(ctx context.Context, ids []PurchaseID, invoiceID InvoiceID) error
	// DetachPurchases clears the invoice reference of every purchase linked
	// to the invoice. Used only by invoice deletion.
	DetachPurchases(ctx context.Context, invoiceID InvoiceID) error
	DeletePurchase(ctx context.Context, id PurchaseID) error
}

type InvoiceStore interface {
	SaveInvoice(ctx context.Context, inv Invoice) error
	GetInvoice(ctx context.Context, id InvoiceID) (*Invoice, error)
	// FindOpenInvoice returns the group's single non-terminal invoice, or nil.
	FindOpenInvoice(ctx context.Context, groupID GroupID) (*Invoice, error)
	// ListInvoices returns invoices ordered by CreatedAt ascending.
	ListInvoices(ctx context.Context, f InvoiceFilter) ([]Invoice, error)
	DeleteInvoice(ctx context.Context, id InvoiceID) error
}

type PaymentStore interface {
	SavePayment(ctx context.Context, p Payment) error
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)
	ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, error)
	DeletePayment(ctx context.Context, id PaymentID) error
}

type CreditStore interface {
	SaveCredit(ctx context.Context, c Credit) error
	GetCredit(ctx context.Context, id CreditID) (*Credit, error)
	// FindActiveCredit returns the unarchived credit with Amount > 0 for the
	// group, or nil. With merge-on-create there is at most one.
	FindActiveCredit(ctx context.Context, groupID GroupID) (*Credit, error)
	ListCredits(ctx context.Context, f CreditFilter) ([]Credit, error)
}

type DebitStore interface {
	SaveDebit(ctx context.Context, d Debit) error
	GetDebit(ctx context.Context, id DebitID) (*Debit, error)
	ListDebits(ctx context.Context, f DebitFilter) ([]Debit, error)
}

// =============================================================================
// COMPOSITE STORE
// =============================================================================

// Store is what the engine components depend on.
type Store interface {
	GroupStore
	MemberStore
	PurchaseStore
	InvoiceStore
	PaymentStore
	CreditStore
	DebitStore
}

// TxStore wraps Store with transaction support. Mutating engine operations
// that touch more than one entity run inside WithTx when the store provides
// it, so no partial commit survives a failed sub-step.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// inTx runs fn transactionally when the store supports it, directly otherwise.
func inTx(ctx context.Context, s Store, fn func(Store) error) error {
	if ts, ok := s.(TxStore); ok {
		return ts.WithTx(ctx, fn)
	}
	return fn(s)
}
