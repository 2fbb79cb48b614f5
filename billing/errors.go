/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The HTTP layer maps these onto status codes via the classifier helpers.

ERROR CATEGORIES:
  1. NotFound   - A referenced entity does not exist. Surfaced verbatim.
  2. Conflict   - The operation would violate an invariant (deleting an
                  invoiced purchase, folding a debit twice, over-consuming
                  a credit). Caller must correct input; no retry.
  3. Client     - Bad input (zero eligible purchases, inverted period,
                  non-positive amount).

  External-collaborator failures (directory lookups, notification delivery)
  never surface as errors from the engine: they degrade to placeholders or
  skipped side effects, always logged.

USAGE:
  if errors.Is(err, billing.ErrNoNewPurchases) { ... }

  var ice *billing.InsufficientCreditError
  if errors.As(err, &ice) { ... ice.Available ... }
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrGroupNotFound    = errors.New("billing group not found")
	ErrMemberNotFound   = errors.New("member not found")
	ErrPurchaseNotFound = errors.New("purchase not found")
	ErrInvoiceNotFound  = errors.New("invoice not found")
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrCreditNotFound   = errors.New("credit not found")
	ErrDebitNotFound    = errors.New("debit not found")

	// ErrNoNewPurchases is returned when a consolidation finds no un-invoiced
	// purchases for the group in the requested period.
	ErrNoNewPurchases = errors.New("no new purchases in period")

	// ErrAllGroupsFailed is returned by batch consolidation when every group
	// in the batch produced nothing. Individual failures are skipped and logged.
	ErrAllGroupsFailed = errors.New("no new purchases in period for any selected group")

	// ErrNoGroups is returned when a consolidation request names no groups.
	ErrNoGroups = errors.New("at least one billing group id must be provided")

	// ErrPurchaseInvoiced is returned when deleting a purchase that already
	// carries an invoice reference. Invoiced purchases are immutable history.
	ErrPurchaseInvoiced = errors.New("purchase is linked to an invoice")

	// ErrPurchaseRelinked is returned when linking a purchase that already
	// belongs to a different invoice.
	ErrPurchaseRelinked = errors.New("purchase already linked to another invoice")

	// ErrInsufficientCredit is returned when consuming more credit than the
	// remaining balance.
	ErrInsufficientCredit = errors.New("applied amount exceeds available credit")

	// ErrDebitIncluded is returned when folding a debit into a second invoice.
	ErrDebitIncluded = errors.New("debit already included in an invoice")

	// ErrOpenInvoiceExists is returned when a second non-terminal invoice
	// would be created for a billing group. Stores with a uniqueness
	// constraint map their violation onto this error.
	ErrOpenInvoiceExists = errors.New("group already has an open invoice")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrInvalidAmount is returned for zero or negative monetary input where
	// a positive amount is required.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NoPurchasesError identifies which group had nothing to consolidate.
type NoPurchasesError struct {
	GroupID GroupID
	Period  Period
}

func (e *NoPurchasesError) Error() string {
	return fmt.Sprintf("no new purchases for group %s in %s", e.GroupID, e.Period)
}

func (e *NoPurchasesError) Unwrap() error { return ErrNoNewPurchases }

// InsufficientCreditError provides details about a credit over-consumption.
type InsufficientCreditError struct {
	CreditID  CreditID
	Available Money
	Requested Money
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit %s: available %s, requested %s",
		e.CreditID, e.Available, e.Requested)
}

func (e *InsufficientCreditError) Unwrap() error { return ErrInsufficientCredit }

// PurchaseInvoicedError identifies the invoice blocking a purchase deletion.
type PurchaseInvoicedError struct {
	PurchaseID PurchaseID
	InvoiceID  InvoiceID
}

func (e *PurchaseInvoicedError) Error() string {
	return fmt.Sprintf("purchase %s cannot be deleted: linked to invoice %s",
		e.PurchaseID, e.InvoiceID)
}

func (e *PurchaseInvoicedError) Unwrap() error { return ErrPurchaseInvoiced }

// =============================================================================
// ERROR CLASSIFIERS - HTTP layer maps these to status codes
// =============================================================================

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrGroupNotFound) ||
		errors.Is(err, ErrMemberNotFound) ||
		errors.Is(err, ErrPurchaseNotFound) ||
		errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrCreditNotFound) ||
		errors.Is(err, ErrDebitNotFound)
}

// IsConflict returns true if the operation would violate a billing invariant.
func IsConflict(err error) bool {
	return errors.Is(err, ErrPurchaseInvoiced) ||
		errors.Is(err, ErrPurchaseRelinked) ||
		errors.Is(err, ErrDebitIncluded) ||
		errors.Is(err, ErrInsufficientCredit) ||
		errors.Is(err, ErrOpenInvoiceExists)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNoNewPurchases) ||
		errors.Is(err, ErrAllGroupsFailed) ||
		errors.Is(err, ErrNoGroups) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidAmount)
}
