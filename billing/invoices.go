/*
invoices.go - Invoice read-side composition, deletion, and the send path

PURPOSE:
  Everything invoice-shaped that is not consolidation: fetching full
  invoices (with purchases, payments, and leniently-resolved names),
  deleting an invoice (which detaches - never deletes - its purchases),
  and handing a finished invoice to the notifier.

FAILURE TOLERANCE:
  Directory lookups degrade to placeholder names; notification failure is
  logged and reported in the send result, never as an operation error.
*/
package billing

import (
	"context"

	"github.com/rs/zerolog"
)

// Invoices provides invoice reads and administrative operations.
type Invoices struct {
	store     Store
	directory Directory
	notifier  Notifier
	log       zerolog.Logger
}

func NewInvoices(store Store, directory Directory, notifier Notifier, log zerolog.Logger) *Invoices {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Invoices{
		store:     store,
		directory: directory,
		notifier:  notifier,
		log:       log.With().Str("component", "invoices").Logger(),
	}
}

// Get returns one invoice or ErrInvoiceNotFound.
func (iv *Invoices) Get(ctx context.Context, id InvoiceID) (*Invoice, error) {
	inv, err := iv.store.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, ErrInvoiceNotFound
	}
	return inv, nil
}

// List returns invoices matching the filter.
func (iv *Invoices) List(ctx context.Context, f InvoiceFilter) ([]Invoice, error) {
	return iv.store.ListInvoices(ctx, f)
}

// FullInvoices composes each requested invoice with its purchases, payments,
// per-buyer consumption, and display names. Fails only when none of the
// requested invoices exist.
func (iv *Invoices) FullInvoices(ctx context.Context, ids []InvoiceID) ([]FullInvoice, error) {
	invoices, err := iv.store.ListInvoices(ctx, InvoiceFilter{IDs: ids})
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, ErrInvoiceNotFound
	}

	results := make([]FullInvoice, 0, len(invoices))
	for _, inv := range invoices {
		full, err := iv.composeFull(ctx, inv)
		if err != nil {
			return nil, err
		}
		results = append(results, *full)
	}
	return results, nil
}

func (iv *Invoices) composeFull(ctx context.Context, inv Invoice) (*FullInvoice, error) {
	purchases, err := iv.store.ListPurchases(ctx, PurchaseFilter{InvoiceID: inv.ID})
	if err != nil {
		return nil, err
	}
	payments, err := iv.store.ListPayments(ctx, PaymentFilter{InvoiceID: inv.ID})
	if err != nil {
		return nil, err
	}

	consumption := make(ConsumptionByBuyer)
	for _, p := range purchases {
		consumption[p.BuyerID] = append(consumption[p.BuyerID], ConsumptionEntry{
			Date:  p.CreatedAt,
			Items: p.Items,
			Total: p.Total,
		})
	}

	// Paid amount re-derived from the payment records.
	totalPaid := ZeroMoney()
	for _, p := range payments {
		totalPaid = totalPaid.Add(p.AmountPaid).Round2()
	}

	ownerName := PlaceholderOwnerName
	if group, err := iv.directory.GroupInfo(ctx, inv.GroupID); err == nil {
		ownerName = resolveMemberName(ctx, iv.directory, group.OwnerID, PlaceholderOwnerName)
	} else {
		iv.log.Warn().
			Str("invoice_id", string(inv.ID)).
			Str("group_id", string(inv.GroupID)).
			Err(err).
			Msg("group lookup failed, using placeholder owner name")
	}

	buyerNames := make(map[MemberID]string, len(consumption))
	for buyerID := range consumption {
		buyerNames[buyerID] = resolveMemberName(ctx, iv.directory, buyerID, PlaceholderMemberName)
	}

	return &FullInvoice{
		Invoice:     inv,
		Purchases:   purchases,
		Payments:    payments,
		Consumption: consumption,
		BuyerNames:  buyerNames,
		OwnerName:   ownerName,
		PaidAmount:  totalPaid,
		Remaining:   inv.TotalAmount.Sub(totalPaid).Round2(),
	}, nil
}

// Delete removes an invoice after detaching its purchases. The purchases
// survive, un-invoiced again; this is the only way an invoice reference is
// ever cleared.
func (iv *Invoices) Delete(ctx context.Context, id InvoiceID) error {
	return inTx(ctx, iv.store, func(s Store) error {
		inv, err := s.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv == nil {
			return ErrInvoiceNotFound
		}
		if err := s.DetachPurchases(ctx, id); err != nil {
			return err
		}
		return s.DeleteInvoice(ctx, id)
	})
}

// SendResult reports a notification attempt. Delivery failure is carried
// here, never as an error return.
type SendResult struct {
	Sent    bool
	Message string
}

// Send delivers the invoice confirmation to the group owner and, on success,
// marks the invoice as sent.
func (iv *Invoices) Send(ctx context.Context, id InvoiceID) (*SendResult, error) {
	full, err := iv.FullInvoices(ctx, []InvoiceID{id})
	if err != nil {
		return nil, err
	}
	invoice := full[0]

	group, err := iv.directory.GroupInfo(ctx, invoice.Invoice.GroupID)
	if err != nil {
		return nil, ErrGroupNotFound
	}
	owner, err := iv.directory.MemberInfo(ctx, group.OwnerID)
	if err != nil {
		return nil, ErrMemberNotFound
	}
	if owner.Phone == "" {
		return &SendResult{Sent: false, Message: "group owner has no phone on record"}, nil
	}

	confirmation := InvoiceConfirmation{
		InvoiceID:      invoice.Invoice.ID,
		OwnerName:      owner.Name,
		Phone:          owner.Phone,
		PeriodStart:    invoice.Invoice.PeriodStart,
		PeriodEnd:      invoice.Invoice.PeriodEnd,
		TotalAmount:    invoice.Invoice.TotalAmount,
		PaidAmount:     invoice.PaidAmount,
		Remaining:      invoice.Remaining,
		AppliedCredit:  invoice.Invoice.AppliedCredit,
		OriginalAmount: invoice.Invoice.OriginalAmount,
		DebitAmount:    invoice.Invoice.DebitAmount,
	}
	if err := iv.notifier.SendInvoiceConfirmation(ctx, confirmation); err != nil {
		iv.log.Warn().
			Str("invoice_id", string(id)).
			Err(err).
			Msg("invoice notification failed")
		return &SendResult{Sent: false, Message: "notification failed: " + err.Error()}, nil
	}

	inv := invoice.Invoice
	inv.SentByWhatsapp = true
	if err := iv.store.SaveInvoice(ctx, inv); err != nil {
		return nil, err
	}

	return &SendResult{Sent: true, Message: "invoice sent to " + owner.Name}, nil
}
