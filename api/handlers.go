/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Groups:
    GET    /api/groups                 List billing groups
    POST   /api/groups                 Create billing group
    GET    /api/groups/{id}            Get group
    PUT    /api/groups/{id}            Update group
    DELETE /api/groups/{id}            Delete group (members survive detached)

  Members:
    GET    /api/members                List members
    POST   /api/members                Create member
    GET    /api/members/{id}           Get member

  Purchases:
    GET    /api/purchases              List (group_id, buyer_id, uninvoiced, from, to)
    POST   /api/purchases              Append purchase to the ledger
    DELETE /api/purchases/{id}         Remove un-invoiced purchase

  Invoices:
    GET    /api/invoices               List (group_id, buyer_id, status, from, to)
    POST   /api/invoices/consolidate   Consolidate one or many groups
    GET    /api/invoices/full          Full invoices by ids query param
    GET    /api/invoices/{id}          Get invoice
    POST   /api/invoices/{id}/send     Send WhatsApp confirmation
    DELETE /api/invoices/{id}          Delete invoice, detaching purchases

  Payments:
    GET    /api/payments               List (invoice_id, from, to)
    POST   /api/payments               Record payment
    DELETE /api/payments/{id}          Remove payment (reverses its effect)

  Credits / Debits:
    GET    /api/credits                List (group_id, archived)
    POST   /api/credits                Grant credit (merge-on-create)
    GET    /api/debits                 List (group_id, pending)
    POST   /api/debits                 Create debit
    PUT    /api/debits/{id}            Update debit

  Statements / Dashboard:
    GET    /api/statements/{buyerId}   Buyer financial position
    GET    /api/dashboard/summary      Open invoice and payment totals

  Scenarios:
    GET    /api/scenarios              List demo scenarios
    POST   /api/scenarios/load         Load a demo scenario
    POST   /api/scenarios/reset        Clear all data (dev only)

ARCHITECTURE:
  Handler struct holds the store plus one engine component per concern.
  Handlers parse, validate, delegate, serialize. No billing logic lives here.

ERROR HANDLING:
  Domain errors map to HTTP status via the billing classifiers:
  - 400: Validation errors, invalid input
  - 404: Entity not found
  - 409: Conflict (invoiced purchase, duplicate open invoice, spent debit)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cantina/billing-engine/billing"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store billing.TxStore

	Purchases    *billing.PurchaseLedger
	Consolidator *billing.Consolidator
	Payments     *billing.PaymentRecorder
	Credits      *billing.CreditLedger
	Debits       *billing.DebitLedger
	Invoices     *billing.Invoices
	Statements   *billing.StatementReader

	log zerolog.Logger

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler wires the engine components around the given store.
func NewHandler(store billing.TxStore, notifier billing.Notifier, log zerolog.Logger) *Handler {
	directory := billing.NewStoreDirectory(store)
	return &Handler{
		Store:        store,
		Purchases:    billing.NewPurchaseLedger(store, log),
		Consolidator: billing.NewConsolidator(store, log),
		Payments:     billing.NewPaymentRecorder(store, log),
		Credits:      billing.NewCreditLedger(store, log),
		Debits:       billing.NewDebitLedger(store, log),
		Invoices:     billing.NewInvoices(store, directory, notifier, log),
		Statements:   billing.NewStatementReader(store, log),
		log:          log.With().Str("component", "api").Logger(),
	}
}

// =============================================================================
// GROUP HANDLERS
// =============================================================================

// ListGroups returns all billing groups.
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Store.ListGroups(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list groups", err)
		return
	}

	dtos := make([]GroupDTO, len(groups))
	for i, g := range groups {
		dtos[i] = toGroupDTO(g)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetGroup returns a single billing group.
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	id := billing.GroupID(chi.URLParam(r, "id"))

	g, err := h.Store.GetGroup(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get group", err)
		return
	}
	if g == nil {
		writeError(w, http.StatusNotFound, "Group not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toGroupDTO(*g))
}

// CreateGroup creates a new billing group.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required", nil)
		return
	}

	kind := billing.KindFamily
	if req.Kind != "" {
		kind = billing.GroupKind(req.Kind)
		if kind != billing.KindFamily && kind != billing.KindVisitor {
			writeError(w, http.StatusBadRequest, "Kind must be family or visitor", nil)
			return
		}
	}

	memberIDs := make([]billing.MemberID, len(req.MemberIDs))
	for i, m := range req.MemberIDs {
		memberIDs[i] = billing.MemberID(m)
	}

	now := time.Now()
	g := billing.BillingGroup{
		ID:        billing.GroupID(billing.NewID()),
		Name:      req.Name,
		Kind:      kind,
		OwnerID:   billing.MemberID(req.OwnerID),
		MemberIDs: memberIDs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.Store.SaveGroup(r.Context(), g); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create group", err)
		return
	}
	writeJSON(w, http.StatusCreated, toGroupDTO(g))
}

// UpdateGroup replaces a group's name, owner, and member list.
func (h *Handler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	id := billing.GroupID(chi.URLParam(r, "id"))

	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	g, err := h.Store.GetGroup(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get group", err)
		return
	}
	if g == nil {
		writeError(w, http.StatusNotFound, "Group not found", nil)
		return
	}

	if req.Name != "" {
		g.Name = req.Name
	}
	if req.OwnerID != "" {
		g.OwnerID = billing.MemberID(req.OwnerID)
	}
	if req.MemberIDs != nil {
		g.MemberIDs = make([]billing.MemberID, len(req.MemberIDs))
		for i, m := range req.MemberIDs {
			g.MemberIDs[i] = billing.MemberID(m)
		}
	}
	g.UpdatedAt = time.Now()

	if err := h.Store.SaveGroup(r.Context(), *g); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update group", err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupDTO(*g))
}

// DeleteGroup removes a group. Member records survive detached; purchase and
// invoice history is never cascaded.
func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	id := billing.GroupID(chi.URLParam(r, "id"))

	if err := h.Store.DeleteGroup(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete group", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// ListMembers returns all members.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.Store.ListMembers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list members", err)
		return
	}

	dtos := make([]MemberDTO, len(members))
	for i, m := range members {
		dtos[i] = toMemberDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetMember returns a single member.
func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	id := billing.MemberID(chi.URLParam(r, "id"))

	m, err := h.Store.GetMember(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get member", err)
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "Member not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(*m))
}

// CreateMember creates a new member record.
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var req CreateMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required", nil)
		return
	}

	m := billing.Member{
		ID:        billing.MemberID(billing.NewID()),
		Name:      req.Name,
		Phone:     req.Phone,
		GroupID:   billing.GroupID(req.GroupID),
		CreatedAt: time.Now(),
	}
	if err := h.Store.SaveMember(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create member", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberDTO(m))
}

// =============================================================================
// PURCHASE HANDLERS
// =============================================================================

// ListPurchases returns purchases matching the query filters.
func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	f := billing.PurchaseFilter{
		GroupID:        billing.GroupID(r.URL.Query().Get("group_id")),
		BuyerID:        billing.MemberID(r.URL.Query().Get("buyer_id")),
		OnlyUninvoiced: r.URL.Query().Get("uninvoiced") == "true",
	}
	var ok bool
	if f.From, f.To, ok = parseDateRange(w, r); !ok {
		return
	}

	purchases, err := h.Purchases.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list purchases", err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseDTOs(purchases))
}

// RecordPurchase appends a purchase to the ledger.
func (h *Handler) RecordPurchase(w http.ResponseWriter, r *http.Request) {
	var req RecordPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.BuyerID == "" || req.GroupID == "" {
		writeError(w, http.StatusBadRequest, "buyer_id and group_id are required", nil)
		return
	}

	items := make([]billing.LineItem, len(req.Items))
	for i, item := range req.Items {
		price, ok := parseMoney(item.UnitPrice)
		if !ok {
			writeError(w, http.StatusBadRequest, "Invalid unit_price: "+item.UnitPrice, nil)
			return
		}
		items[i] = billing.LineItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: price,
			Quantity:  item.Quantity,
		}
	}

	var createdAt time.Time
	if req.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339, req.CreatedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid created_at (use RFC3339)", err)
			return
		}
		createdAt = t
	}

	p, err := h.Purchases.Record(r.Context(), billing.RecordPurchaseInput{
		BuyerID:   billing.MemberID(req.BuyerID),
		GroupID:   billing.GroupID(req.GroupID),
		Items:     items,
		CreatedAt: createdAt,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to record purchase", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPurchaseDTO(*p))
}

// RemovePurchase deletes an un-invoiced purchase.
func (h *Handler) RemovePurchase(w http.ResponseWriter, r *http.Request) {
	id := billing.PurchaseID(chi.URLParam(r, "id"))

	if err := h.Purchases.Remove(r.Context(), id); err != nil {
		h.writeDomainError(w, "Failed to remove purchase", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// ListInvoices returns invoices matching the query filters.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	f := billing.InvoiceFilter{
		GroupID: billing.GroupID(r.URL.Query().Get("group_id")),
		BuyerID: billing.MemberID(r.URL.Query().Get("buyer_id")),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		for _, s := range strings.Split(status, ",") {
			f.Statuses = append(f.Statuses, billing.InvoiceStatus(s))
		}
	}
	var ok bool
	if f.From, f.To, ok = parseDateRange(w, r); !ok {
		return
	}

	invoices, err := h.Invoices.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list invoices", err)
		return
	}

	dtos := make([]InvoiceDTO, len(invoices))
	for i, inv := range invoices {
		dtos[i] = toInvoiceDTO(inv)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetInvoice returns a single invoice.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	inv, err := h.Invoices.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

// Consolidate runs invoice consolidation for one or many billing groups.
// Single-group requests return the consolidation result directly; multi-group
// requests return per-group results including skips.
func (h *Handler) Consolidate(w http.ResponseWriter, r *http.Request) {
	var req ConsolidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	startDate, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date (use YYYY-MM-DD)", err)
		return
	}
	endDate, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date (use YYYY-MM-DD)", err)
		return
	}

	if len(req.GroupIDs) == 0 {
		writeError(w, http.StatusBadRequest, "At least one group id is required", nil)
		return
	}

	if len(req.GroupIDs) == 1 {
		result, err := h.Consolidator.Consolidate(r.Context(), billing.GroupID(req.GroupIDs[0]), startDate, endDate)
		if err != nil {
			h.writeDomainError(w, "Consolidation failed", err)
			return
		}
		dto := toConsolidationResultDTO(*result)
		status := http.StatusOK
		if result.Created {
			status = http.StatusCreated
		}
		writeJSON(w, status, dto)
		return
	}

	groupIDs := make([]billing.GroupID, len(req.GroupIDs))
	for i, id := range req.GroupIDs {
		groupIDs[i] = billing.GroupID(id)
	}
	results, err := h.Consolidator.ConsolidateBatch(r.Context(), groupIDs, startDate, endDate)
	if err != nil && !errors.Is(err, billing.ErrAllGroupsFailed) {
		h.writeDomainError(w, "Batch consolidation failed", err)
		return
	}

	dtos := make([]GroupResultDTO, len(results))
	for i, gr := range results {
		dto := GroupResultDTO{GroupID: string(gr.GroupID), Skipped: gr.Skipped, Reason: gr.Reason}
		if gr.Result != nil {
			r := toConsolidationResultDTO(*gr.Result)
			dto.Result = &r
		}
		dtos[i] = dto
	}

	status := http.StatusOK
	if errors.Is(err, billing.ErrAllGroupsFailed) {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, dtos)
}

// FullInvoices returns invoices composed with purchases, payments, and
// resolved names. Invoice ids come comma-separated in the ids query param.
func (h *Handler) FullInvoices(w http.ResponseWriter, r *http.Request) {
	idsParam := r.URL.Query().Get("ids")
	if idsParam == "" {
		writeError(w, http.StatusBadRequest, "ids query parameter is required", nil)
		return
	}

	var ids []billing.InvoiceID
	for _, id := range strings.Split(idsParam, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, billing.InvoiceID(id))
		}
	}

	full, err := h.Invoices.FullInvoices(r.Context(), ids)
	if err != nil {
		h.writeDomainError(w, "Failed to compose invoices", err)
		return
	}

	dtos := make([]FullInvoiceDTO, len(full))
	for i, f := range full {
		dtos[i] = toFullInvoiceDTO(f)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SendInvoice delivers the invoice confirmation over WhatsApp. A gateway
// failure reports sent=false, never an error status.
func (h *Handler) SendInvoice(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	result, err := h.Invoices.Send(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to send invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, SendResultDTO{Sent: result.Sent, Message: result.Message})
}

// DeleteInvoice removes an invoice, returning its purchases to the
// un-invoiced pool.
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	if err := h.Invoices.Delete(r.Context(), id); err != nil {
		h.writeDomainError(w, "Failed to delete invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ListPayments returns payments matching the query filters.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	f := billing.PaymentFilter{
		InvoiceID: billing.InvoiceID(r.URL.Query().Get("invoice_id")),
	}
	var ok bool
	if f.From, f.To, ok = parseDateRange(w, r); !ok {
		return
	}

	payments, err := h.Store.ListPayments(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

// RecordPayment records a payment against an invoice and returns the
// recomputed invoice totals.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, ok := parseMoney(req.AmountPaid)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid amount_paid: "+req.AmountPaid, nil)
		return
	}

	in := billing.RecordPaymentInput{
		InvoiceID:  billing.InvoiceID(req.InvoiceID),
		AmountPaid: amount,
		IsPartial:  req.IsPartial,
		IsCredit:   req.IsCredit,
	}
	if req.BaseAmount != "" {
		base, ok := parseMoney(req.BaseAmount)
		if !ok {
			writeError(w, http.StatusBadRequest, "Invalid base_amount: "+req.BaseAmount, nil)
			return
		}
		in.BaseAmount = &base
	}
	if req.PaymentDate != "" {
		t, err := time.Parse(time.RFC3339, req.PaymentDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid payment_date (use RFC3339)", err)
			return
		}
		in.PaymentDate = t
	}

	result, err := h.Payments.Record(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, "Failed to record payment", err)
		return
	}

	dto := PaymentResultDTO{
		Payment:       toPaymentDTO(result.Payment),
		InvoiceStatus: string(result.InvoiceStatus),
		TotalPaid:     result.TotalPaid.String(),
		TotalAmount:   result.TotalAmount.String(),
		Remaining:     result.Remaining.String(),
	}
	if result.CreditGranted != nil {
		c := toCreditDTO(*result.CreditGranted)
		dto.CreditGranted = &c
	}
	writeJSON(w, http.StatusCreated, dto)
}

// RemovePayment deletes a payment, reversing its effect on the invoice's
// paid amount and status.
func (h *Handler) RemovePayment(w http.ResponseWriter, r *http.Request) {
	id := billing.PaymentID(chi.URLParam(r, "id"))

	if err := h.Payments.Remove(r.Context(), id); err != nil {
		h.writeDomainError(w, "Failed to remove payment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// =============================================================================
// CREDIT / DEBIT HANDLERS
// =============================================================================

// ListCredits returns credits, optionally filtered by group and archive flag.
func (h *Handler) ListCredits(w http.ResponseWriter, r *http.Request) {
	var archived *bool
	if v := r.URL.Query().Get("archived"); v != "" {
		b := v == "true"
		archived = &b
	}

	credits, err := h.Credits.List(r.Context(), archived)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list credits", err)
		return
	}

	groupID := billing.GroupID(r.URL.Query().Get("group_id"))
	dtos := make([]CreditDTO, 0, len(credits))
	for _, c := range credits {
		if groupID != "" && c.GroupID != groupID {
			continue
		}
		dtos = append(dtos, toCreditDTO(c))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GrantCredit grants a credit balance to a group, merging with any active one.
func (h *Handler) GrantCredit(w http.ResponseWriter, r *http.Request) {
	var req GrantCreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, ok := parseMoney(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid amount: "+req.Amount, nil)
		return
	}

	credit, err := h.Credits.Grant(r.Context(), billing.GroupID(req.GroupID), amount)
	if err != nil {
		h.writeDomainError(w, "Failed to grant credit", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCreditDTO(*credit))
}

// ListDebits returns debits, optionally only those awaiting consolidation.
func (h *Handler) ListDebits(w http.ResponseWriter, r *http.Request) {
	groupID := billing.GroupID(r.URL.Query().Get("group_id"))
	onlyPending := r.URL.Query().Get("pending") == "true"

	debits, err := h.Store.ListDebits(r.Context(), billing.DebitFilter{
		GroupID:     groupID,
		OnlyPending: onlyPending,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list debits", err)
		return
	}

	dtos := make([]DebitDTO, len(debits))
	for i, d := range debits {
		dtos[i] = toDebitDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateDebit records an ad-hoc charge awaiting the next consolidation.
func (h *Handler) CreateDebit(w http.ResponseWriter, r *http.Request) {
	var req CreateDebitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, ok := parseMoney(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid amount: "+req.Amount, nil)
		return
	}

	debit, err := h.Debits.Create(r.Context(), billing.GroupID(req.GroupID), amount, req.Description)
	if err != nil {
		h.writeDomainError(w, "Failed to create debit", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDebitDTO(*debit))
}

// UpdateDebit edits a debit's amount and description.
func (h *Handler) UpdateDebit(w http.ResponseWriter, r *http.Request) {
	id := billing.DebitID(chi.URLParam(r, "id"))

	var req UpdateDebitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, ok := parseMoney(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid amount: "+req.Amount, nil)
		return
	}

	debit, err := h.Debits.Update(r.Context(), id, amount, req.Description)
	if err != nil {
		h.writeDomainError(w, "Failed to update debit", err)
		return
	}
	writeJSON(w, http.StatusOK, toDebitDTO(*debit))
}

// =============================================================================
// STATEMENT AND DASHBOARD HANDLERS
// =============================================================================

// GetStatement returns the consolidated financial position of one buyer.
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	buyerID := billing.MemberID(chi.URLParam(r, "buyerId"))

	st, err := h.Statements.Statement(r.Context(), buyerID)
	if err != nil {
		h.writeDomainError(w, "Failed to build statement", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementDTO(*st))
}

// DashboardSummary returns open invoice and payment totals for a date range.
// Defaults to the current calendar month.
func (h *Handler) DashboardSummary(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	to := from.AddDate(0, 1, -1)

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
			return
		}
		to = t
	}
	// Ranges cover whole calendar days, same as parseDateRange.
	to = to.Add(24*time.Hour - time.Nanosecond)

	ctx := r.Context()
	openTotal, err := h.Statements.OpenInvoiceTotal(ctx, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute open invoice total", err)
		return
	}
	paymentTotal, err := h.Statements.PaymentTotal(ctx, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute payment total", err)
		return
	}

	writeJSON(w, http.StatusOK, DashboardSummaryDTO{
		From:             from.Format("2006-01-02"),
		To:               to.Format("2006-01-02"),
		OpenInvoiceTotal: openTotal.String(),
		PaymentTotal:     paymentTotal.String(),
	})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// resetter is implemented by stores that can drop all data (dev/demo).
type resetter interface {
	Reset(ctx context.Context) error
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	rs, ok := h.Store.(resetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Store does not support reset", nil)
		return
	}
	if err := rs.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a billing error onto the appropriate HTTP status.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case billing.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case billing.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case billing.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.log.Error().Err(err).Msg(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

// parseMoney parses a decimal string into Money, rejecting malformed and
// negative input.
func parseMoney(s string) (billing.Money, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return billing.ZeroMoney(), false
	}
	return billing.MoneyFromDecimal(d), true
}

// parseDateRange reads optional from/to YYYY-MM-DD query params. Writes the
// error response itself and reports ok=false on malformed input.
func parseDateRange(w http.ResponseWriter, r *http.Request) (from, to *time.Time, ok bool) {
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
			return nil, nil, false
		}
		from = &t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
			return nil, nil, false
		}
		end := t.Add(24*time.Hour - time.Nanosecond)
		to = &end
	}
	return from, to, true
}
