/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY REPRESENTATION:
  All monetary values cross the wire as decimal strings ("42.50"), never as
  JSON numbers, so clients cannot silently lose precision.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - billing/types.go: Domain model these types project
*/
package api

import (
	"time"

	"github.com/cantina/billing-engine/billing"
)

// =============================================================================
// DIRECTORY TYPES
// =============================================================================

// GroupDTO represents a billing group in API responses.
type GroupDTO struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Kind      string   `json:"kind"`
	OwnerID   string   `json:"owner_id,omitempty"`
	MemberIDs []string `json:"member_ids"`
	CreatedAt string   `json:"created_at,omitempty"`
}

// CreateGroupRequest is the request to create a billing group.
type CreateGroupRequest struct {
	Name      string   `json:"name"`
	Kind      string   `json:"kind,omitempty"` // "family" (default) or "visitor"
	OwnerID   string   `json:"owner_id,omitempty"`
	MemberIDs []string `json:"member_ids,omitempty"`
}

// MemberDTO represents a member in API responses.
type MemberDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	GroupID   string `json:"group_id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateMemberRequest is the request to create a member.
type CreateMemberRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	GroupID string `json:"group_id,omitempty"`
}

// =============================================================================
// PURCHASE TYPES
// =============================================================================

type LineItemDTO struct {
	ProductID string `json:"product_id,omitempty"`
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

type PurchaseDTO struct {
	ID        string        `json:"id"`
	BuyerID   string        `json:"buyer_id"`
	GroupID   string        `json:"group_id"`
	Items     []LineItemDTO `json:"items"`
	Total     string        `json:"total"`
	InvoiceID string        `json:"invoice_id,omitempty"`
	CreatedAt string        `json:"created_at"`
}

// RecordPurchaseRequest is the request to append a purchase to the ledger.
type RecordPurchaseRequest struct {
	BuyerID   string        `json:"buyer_id"`
	GroupID   string        `json:"group_id"`
	Items     []LineItemDTO `json:"items"`
	CreatedAt string        `json:"created_at,omitempty"` // RFC3339; empty = now
}

// =============================================================================
// INVOICE TYPES
// =============================================================================

type InvoiceDTO struct {
	ID             string   `json:"id"`
	GroupID        string   `json:"group_id"`
	BuyerIDs       []string `json:"buyer_ids"`
	PeriodStart    string   `json:"period_start"`
	PeriodEnd      string   `json:"period_end"`
	TotalAmount    string   `json:"total_amount"`
	OriginalAmount string   `json:"original_amount"`
	AppliedCredit  string   `json:"applied_credit"`
	DebitAmount    string   `json:"debit_amount"`
	PaidAmount     string   `json:"paid_amount"`
	Remaining      string   `json:"remaining"`
	Status         string   `json:"status"`
	SentByWhatsapp bool     `json:"sent_by_whatsapp"`
	CreatedAt      string   `json:"created_at"`
}

// ConsolidateRequest triggers invoice consolidation. With one entry in
// group_ids the single-group semantics apply; with several, the batch
// semantics (skip failures, fail only if all failed).
type ConsolidateRequest struct {
	GroupIDs  []string `json:"group_ids"`
	StartDate string   `json:"start_date"` // YYYY-MM-DD
	EndDate   string   `json:"end_date"`   // YYYY-MM-DD
}

type ConsolidationResultDTO struct {
	Created bool       `json:"created"`
	Updated bool       `json:"updated"`
	Invoice InvoiceDTO `json:"invoice"`
}

type GroupResultDTO struct {
	GroupID string                  `json:"group_id"`
	Skipped bool                    `json:"skipped"`
	Reason  string                  `json:"reason,omitempty"`
	Result  *ConsolidationResultDTO `json:"result,omitempty"`
}

type ConsumptionEntryDTO struct {
	Date  string        `json:"date"`
	Items []LineItemDTO `json:"items"`
	Total string        `json:"total"`
}

// FullInvoiceDTO is the receipt-rendering composition: invoice plus its
// purchases, payments, and resolved display names.
type FullInvoiceDTO struct {
	Invoice     InvoiceDTO                       `json:"invoice"`
	OwnerName   string                           `json:"owner_name"`
	BuyerNames  map[string]string                `json:"buyer_names"`
	Purchases   []PurchaseDTO                    `json:"purchases"`
	Payments    []PaymentDTO                     `json:"payments"`
	Consumption map[string][]ConsumptionEntryDTO `json:"consumption"`
	PaidAmount  string                           `json:"paid_amount"`
	Remaining   string                           `json:"remaining"`
}

type SendResultDTO struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message,omitempty"`
}

// =============================================================================
// PAYMENT TYPES
// =============================================================================

type PaymentDTO struct {
	ID          string `json:"id"`
	InvoiceID   string `json:"invoice_id"`
	AmountPaid  string `json:"amount_paid"`
	BaseAmount  string `json:"base_amount,omitempty"`
	PaymentDate string `json:"payment_date"`
	IsPartial   bool   `json:"is_partial"`
	IsCredit    bool   `json:"is_credit"`
	CreatedAt   string `json:"created_at"`
}

// RecordPaymentRequest is the request to record a payment against an invoice.
type RecordPaymentRequest struct {
	InvoiceID   string `json:"invoice_id"`
	AmountPaid  string `json:"amount_paid"`
	BaseAmount  string `json:"base_amount,omitempty"` // enables overpayment-to-credit
	PaymentDate string `json:"payment_date,omitempty"`
	IsPartial   bool   `json:"is_partial"`
	IsCredit    bool   `json:"is_credit"`
}

type PaymentResultDTO struct {
	Payment       PaymentDTO `json:"payment"`
	InvoiceStatus string     `json:"invoice_status"`
	TotalPaid     string     `json:"total_paid"`
	TotalAmount   string     `json:"total_amount"`
	Remaining     string     `json:"remaining"`
	CreditGranted *CreditDTO `json:"credit_granted,omitempty"`
}

// =============================================================================
// CREDIT/DEBIT TYPES
// =============================================================================

type CreditDTO struct {
	ID             string `json:"id"`
	GroupID        string `json:"group_id"`
	CreditedAmount string `json:"credited_amount"`
	Amount         string `json:"amount"`
	Archived       bool   `json:"archived"`
	CreatedAt      string `json:"created_at"`
}

type GrantCreditRequest struct {
	GroupID string `json:"group_id"`
	Amount  string `json:"amount"`
}

type DebitDTO struct {
	ID                string `json:"id"`
	GroupID           string `json:"group_id"`
	Amount            string `json:"amount"`
	Description       string `json:"description,omitempty"`
	IncludedInInvoice bool   `json:"included_in_invoice"`
	InvoiceID         string `json:"invoice_id,omitempty"`
	CreatedAt         string `json:"created_at"`
}

type CreateDebitRequest struct {
	GroupID     string `json:"group_id"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

type UpdateDebitRequest struct {
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

// =============================================================================
// STATEMENT AND DASHBOARD TYPES
// =============================================================================

type StatementInvoiceDTO struct {
	Invoice    InvoiceDTO    `json:"invoice"`
	Purchases  []PurchaseDTO `json:"purchases"`
	PaidAmount string        `json:"paid_amount"`
	Remaining  string        `json:"remaining"` // negative on overpaid invoices
}

type StatementSummaryDTO struct {
	TotalDebt        string `json:"total_debt"`
	TotalPaid        string `json:"total_paid"`
	Credit           string `json:"credit"`
	AvailableBalance string `json:"available_balance"`
}

type StatementDTO struct {
	BuyerID  string                `json:"buyer_id"`
	Invoices []StatementInvoiceDTO `json:"invoices"`
	Payments []PaymentDTO          `json:"payments"`
	Summary  StatementSummaryDTO   `json:"summary"`
}

type DashboardSummaryDTO struct {
	From             string `json:"from"`
	To               string `json:"to"`
	OpenInvoiceTotal string `json:"open_invoice_total"`
	PaymentTotal     string `json:"payment_total"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toGroupDTO(g billing.BillingGroup) GroupDTO {
	members := make([]string, len(g.MemberIDs))
	for i, m := range g.MemberIDs {
		members[i] = string(m)
	}
	return GroupDTO{
		ID:        string(g.ID),
		Name:      g.Name,
		Kind:      string(g.Kind),
		OwnerID:   string(g.OwnerID),
		MemberIDs: members,
		CreatedAt: g.CreatedAt.Format(time.RFC3339),
	}
}

func toMemberDTO(m billing.Member) MemberDTO {
	return MemberDTO{
		ID:        string(m.ID),
		Name:      m.Name,
		Phone:     m.Phone,
		GroupID:   string(m.GroupID),
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
	}
}

func toLineItemDTOs(items []billing.LineItem) []LineItemDTO {
	out := make([]LineItemDTO, len(items))
	for i, item := range items {
		out[i] = LineItemDTO{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice.String(),
			Quantity:  item.Quantity,
		}
	}
	return out
}

func toPurchaseDTO(p billing.Purchase) PurchaseDTO {
	return PurchaseDTO{
		ID:        string(p.ID),
		BuyerID:   string(p.BuyerID),
		GroupID:   string(p.GroupID),
		Items:     toLineItemDTOs(p.Items),
		Total:     p.Total.String(),
		InvoiceID: string(p.InvoiceID),
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
}

func toPurchaseDTOs(ps []billing.Purchase) []PurchaseDTO {
	out := make([]PurchaseDTO, len(ps))
	for i, p := range ps {
		out[i] = toPurchaseDTO(p)
	}
	return out
}

func toInvoiceDTO(inv billing.Invoice) InvoiceDTO {
	buyers := make([]string, len(inv.BuyerIDs))
	for i, b := range inv.BuyerIDs {
		buyers[i] = string(b)
	}
	return InvoiceDTO{
		ID:             string(inv.ID),
		GroupID:        string(inv.GroupID),
		BuyerIDs:       buyers,
		PeriodStart:    inv.PeriodStart.Format(time.RFC3339),
		PeriodEnd:      inv.PeriodEnd.Format(time.RFC3339),
		TotalAmount:    inv.TotalAmount.String(),
		OriginalAmount: inv.OriginalAmount.String(),
		AppliedCredit:  inv.AppliedCredit.String(),
		DebitAmount:    inv.DebitAmount.String(),
		PaidAmount:     inv.PaidAmount.String(),
		Remaining:      inv.Remaining().String(),
		Status:         string(inv.Status),
		SentByWhatsapp: inv.SentByWhatsapp,
		CreatedAt:      inv.CreatedAt.Format(time.RFC3339),
	}
}

func toPaymentDTO(p billing.Payment) PaymentDTO {
	dto := PaymentDTO{
		ID:          string(p.ID),
		InvoiceID:   string(p.InvoiceID),
		AmountPaid:  p.AmountPaid.String(),
		PaymentDate: p.PaymentDate.Format(time.RFC3339),
		IsPartial:   p.IsPartial,
		IsCredit:    p.IsCredit,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
	}
	if p.BaseAmount != nil {
		dto.BaseAmount = p.BaseAmount.String()
	}
	return dto
}

func toPaymentDTOs(ps []billing.Payment) []PaymentDTO {
	out := make([]PaymentDTO, len(ps))
	for i, p := range ps {
		out[i] = toPaymentDTO(p)
	}
	return out
}

func toCreditDTO(c billing.Credit) CreditDTO {
	return CreditDTO{
		ID:             string(c.ID),
		GroupID:        string(c.GroupID),
		CreditedAmount: c.CreditedAmount.String(),
		Amount:         c.Amount.String(),
		Archived:       c.Archived,
		CreatedAt:      c.CreatedAt.Format(time.RFC3339),
	}
}

func toDebitDTO(d billing.Debit) DebitDTO {
	return DebitDTO{
		ID:                string(d.ID),
		GroupID:           string(d.GroupID),
		Amount:            d.Amount.String(),
		Description:       d.Description,
		IncludedInInvoice: d.IncludedInInvoice,
		InvoiceID:         string(d.InvoiceID),
		CreatedAt:         d.CreatedAt.Format(time.RFC3339),
	}
}

func toConsumptionDTO(c billing.ConsumptionByBuyer) map[string][]ConsumptionEntryDTO {
	out := make(map[string][]ConsumptionEntryDTO, len(c))
	for buyer, entries := range c {
		dtos := make([]ConsumptionEntryDTO, len(entries))
		for i, e := range entries {
			dtos[i] = ConsumptionEntryDTO{
				Date:  e.Date.Format(time.RFC3339),
				Items: toLineItemDTOs(e.Items),
				Total: e.Total.String(),
			}
		}
		out[string(buyer)] = dtos
	}
	return out
}

func toConsolidationResultDTO(r billing.ConsolidationResult) ConsolidationResultDTO {
	return ConsolidationResultDTO{
		Created: r.Created,
		Updated: r.Updated,
		Invoice: toInvoiceDTO(r.Invoice),
	}
}

func toFullInvoiceDTO(f billing.FullInvoice) FullInvoiceDTO {
	names := make(map[string]string, len(f.BuyerNames))
	for id, name := range f.BuyerNames {
		names[string(id)] = name
	}
	return FullInvoiceDTO{
		Invoice:     toInvoiceDTO(f.Invoice),
		OwnerName:   f.OwnerName,
		BuyerNames:  names,
		Purchases:   toPurchaseDTOs(f.Purchases),
		Payments:    toPaymentDTOs(f.Payments),
		Consumption: toConsumptionDTO(f.Consumption),
		PaidAmount:  f.PaidAmount.String(),
		Remaining:   f.Remaining.String(),
	}
}

func toStatementDTO(st billing.Statement) StatementDTO {
	invoices := make([]StatementInvoiceDTO, len(st.Invoices))
	for i, si := range st.Invoices {
		invoices[i] = StatementInvoiceDTO{
			Invoice:    toInvoiceDTO(si.Invoice),
			Purchases:  toPurchaseDTOs(si.Purchases),
			PaidAmount: si.PaidAmount.String(),
			Remaining:  si.Remaining.String(),
		}
	}
	return StatementDTO{
		BuyerID:  string(st.BuyerID),
		Invoices: invoices,
		Payments: toPaymentDTOs(st.Payments),
		Summary: StatementSummaryDTO{
			TotalDebt:        st.Summary.TotalDebt.String(),
			TotalPaid:        st.Summary.TotalPaid.String(),
			Credit:           st.Summary.Credit.String(),
			AvailableBalance: st.Summary.AvailableBalance.String(),
		},
	}
}
