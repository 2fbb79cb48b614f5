/*
Package billing provides the billing consolidation and ledger reconciliation engine.

PURPOSE:
  This package contains the domain types and algorithms that turn a stream of
  purchase records into invoices and keep every monetary figure (owed, paid,
  remaining, available credit) consistent. Four mutually-referencing entities
  are reconciled here: Purchase, Invoice, Payment, and Credit/Debit.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A monetary amount backed by decimal.Decimal (never float64)
  - BillingGroup: A set of members billed together under one invoice stream
  - Purchase: One transaction with line items, appended to the purchase ledger
  - Invoice: A billing-period rollup for one group, with a cached paid/status pair
  - Payment: An append-only payment event against exactly one invoice
  - Credit/Debit: A reusable positive balance / a pending ad-hoc charge

DESIGN PRINCIPLES:
  1. Payments are the source of truth: Invoice.PaidAmount and Invoice.Status
     are caches that must always be re-derivable by summing payments.
  2. Precision: All monetary math uses decimal.Decimal, rounded to 2 decimal
     places after every compounding addition.
  3. Type Safety: Strong typing for IDs prevents mixing group/member/invoice IDs.
  4. Invoiced purchases are immutable history: once linked to an invoice, a
     purchase can only be detached by deleting the owning invoice.

SEE ALSO:
  - consolidator.go: Folds purchases + debits - credit into invoices
  - payments.go: Records and removes payments, maintains the status machine
  - statement.go: Read-only per-buyer financial position
*/
package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Monetary amount (2 decimal places, decimal arithmetic)
// =============================================================================

type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value).Round(2)}
}

func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money{Value: d}
}

// MustParseMoney parses a decimal string, returning zero on malformed input.
func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{Value: decimal.Zero}
	}
	return Money{Value: d}
}

func ZeroMoney() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(o Money) Money          { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money          { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Neg() Money                 { return Money{Value: m.Value.Neg()} }
func (m Money) Round2() Money              { return Money{Value: m.Value.Round(2)} }
func (m Money) IsZero() bool               { return m.Value.IsZero() }
func (m Money) IsNegative() bool           { return m.Value.IsNegative() }
func (m Money) IsPositive() bool           { return m.Value.IsPositive() }
func (m Money) Equal(o Money) bool         { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool   { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool      { return m.Value.LessThan(o.Value) }
func (m Money) GreaterThanOrEqual(o Money) bool { return m.Value.GreaterThanOrEqual(o.Value) }
func (m Money) Min(o Money) Money          { if m.LessThan(o) { return m }; return o }
func (m Money) String() string             { return m.Value.StringFixed(2) }

func (m Money) Float64() float64 {
	f, _ := m.Value.Float64()
	return f
}

// ClampNonNegative returns the amount floored at zero, and whether clamping
// occurred. Callers must log when clamped is true so silent data issues stay
// observable.
func (m Money) ClampNonNegative() (Money, bool) {
	if m.IsNegative() {
		return ZeroMoney(), true
	}
	return m, false
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type GroupID string
type MemberID string
type PurchaseID string
type InvoiceID string
type PaymentID string
type CreditID string
type DebitID string

// NewID generates a new unique identifier for any billing entity.
func NewID() string { return uuid.NewString() }

// =============================================================================
// BILLING GROUP - Members billed together under one invoice stream
// =============================================================================

// GroupKind distinguishes how a payer is billed. The consolidation algorithm
// is identical for both kinds; only display-name resolution differs.
type GroupKind string

const (
	// KindFamily is a named collection of members with a designated owner.
	KindFamily GroupKind = "family"
	// KindVisitor is a single-member group for a walk-in payer.
	KindVisitor GroupKind = "visitor"
)

type BillingGroup struct {
	ID        GroupID
	Name      string
	Kind      GroupKind
	OwnerID   MemberID   // notification routing target
	MemberIDs []MemberID // ordered; deleting the group detaches these, never cascades
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Member is a directory record used to resolve buyer/owner display names.
type Member struct {
	ID        MemberID
	Name      string
	Phone     string
	GroupID   GroupID // empty for detached members
	CreatedAt time.Time
}

// =============================================================================
// PURCHASE - One transaction in the purchase ledger
// =============================================================================

type LineItem struct {
	ProductID string
	Name      string
	UnitPrice Money
	Quantity  int
}

func (li LineItem) Total() Money {
	return Money{Value: li.UnitPrice.Value.Mul(decimal.NewFromInt(int64(li.Quantity)))}.Round2()
}

type Purchase struct {
	ID        PurchaseID
	BuyerID   MemberID
	GroupID   GroupID
	Items     []LineItem
	Total     Money
	InvoiceID InvoiceID // empty = un-invoiced; set exactly once, never reassigned
	CreatedAt time.Time
}

func (p Purchase) Invoiced() bool { return p.InvoiceID != "" }

// =============================================================================
// INVOICE - Billing-period rollup and its status machine
// =============================================================================

// InvoiceStatus transitions forward via the payment recorder
// (OPEN → PARTIALLY_PAID → PAID) and backward only via payment removal.
// A new invoice may start directly as PAID when applied credit fully covers it.
type InvoiceStatus string

const (
	StatusOpen          InvoiceStatus = "OPEN"
	StatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	StatusPaid          InvoiceStatus = "PAID"
)

// NonTerminal reports whether the invoice still accumulates purchases.
// At most one non-terminal invoice exists per billing group.
func (s InvoiceStatus) NonTerminal() bool {
	return s == StatusOpen || s == StatusPartiallyPaid
}

type Invoice struct {
	ID             InvoiceID
	GroupID        GroupID
	BuyerIDs       []MemberID
	PeriodStart    time.Time
	PeriodEnd      time.Time
	TotalAmount    Money // amount owed after credit/debit adjustment
	OriginalAmount Money // pre-adjustment gross (purchases + folded debits)
	AppliedCredit  Money
	DebitAmount    Money    // carried-forward debits folded in
	CreditID       CreditID // credit record consumed, if any
	PaidAmount     Money    // cache; re-derivable from payments
	Status         InvoiceStatus
	SentByWhatsapp bool
	CreatedAt      time.Time
}

// Remaining is the amount still owed, floored at zero for overpaid invoices.
func (inv Invoice) Remaining() Money {
	r, _ := inv.TotalAmount.Sub(inv.PaidAmount).ClampNonNegative()
	return r
}

func (inv Invoice) HasBuyer(id MemberID) bool {
	for _, b := range inv.BuyerIDs {
		if b == id {
			return true
		}
	}
	return false
}

// =============================================================================
// PAYMENT - Append-only payment event
// =============================================================================

type Payment struct {
	ID          PaymentID
	InvoiceID   InvoiceID
	AmountPaid  Money
	BaseAmount  *Money // pre-overpayment reference; only meaningful when IsCredit
	PaymentDate time.Time
	IsPartial   bool
	IsCredit    bool
	CreatedAt   time.Time
}

// =============================================================================
// CREDIT / DEBIT - Prior balances folded into future invoices
// =============================================================================

// Credit is a reusable balance for a billing group. At most one unarchived
// credit with Amount > 0 exists per group: creating a new credit while one is
// active merges the two (archive old, create one summed credit).
type Credit struct {
	ID             CreditID
	GroupID        GroupID
	CreditedAmount Money // original granted amount, kept for audit
	Amount         Money // remaining usable balance, monotonically non-increasing
	Archived       bool  // true once Amount reaches 0 or the credit is merged away
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Debit is an ad-hoc charge awaiting inclusion in the next invoice.
// It is folded into at most one invoice, exactly once.
type Debit struct {
	ID                DebitID
	GroupID           GroupID
	Amount            Money
	Description       string
	IncludedInInvoice bool
	InvoiceID         InvoiceID // set atomically with the fold
	CreatedAt         time.Time
}

// =============================================================================
// RESULT TYPES - Returned by the engine operations
// =============================================================================

// ConsumptionEntry is one purchase in a per-buyer breakdown, used for
// receipt rendering.
type ConsumptionEntry struct {
	Date  time.Time
	Items []LineItem
	Total Money
}

// ConsumptionByBuyer maps buyer → chronological purchases in the period.
type ConsumptionByBuyer map[MemberID][]ConsumptionEntry

// ConsolidationResult is the outcome of consolidating one billing group.
// Exactly one of Created/Updated is true.
type ConsolidationResult struct {
	Created     bool
	Updated     bool
	Invoice     Invoice
	Consumption ConsumptionByBuyer
}

// GroupResult is one entry of a batch consolidation. Skipped groups carry
// the reason instead of a result.
type GroupResult struct {
	GroupID GroupID
	Result  *ConsolidationResult
	Skipped bool
	Reason  string
}

// FullInvoice is the read-side composition of an invoice with its purchases,
// payments, and leniently-resolved display names.
type FullInvoice struct {
	Invoice     Invoice
	Purchases   []Purchase
	Payments    []Payment
	Consumption ConsumptionByBuyer
	BuyerNames  map[MemberID]string
	OwnerName   string
	PaidAmount  Money // re-derived from payments, not the cached field
	Remaining   Money
}

// Statement is the consolidated financial position of one buyer.
type Statement struct {
	BuyerID  MemberID
	Invoices []StatementInvoice
	Payments []Payment
	Summary  StatementSummary
}

type StatementInvoice struct {
	Invoice    Invoice
	Purchases  []Purchase
	PaidAmount Money
	Remaining  Money // unclamped: negative on overpaid invoices
}

type StatementSummary struct {
	TotalDebt        Money
	TotalPaid        Money
	Credit           Money // sum of credit-type payments (buyer-level pool)
	AvailableBalance Money // Credit - TotalDebt
}
