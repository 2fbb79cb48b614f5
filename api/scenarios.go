/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates groups, members,
	purchases, and billing records that demonstrate specific features.

AVAILABLE SCENARIOS:

	family-month:     One family, a month of purchases, one consolidated invoice
	credit-debit:     Prior credit and pending debits folded into a new invoice
	partial-payments: Invoice paid in installments, last one overpaying to credit
	visitor:          Walk-in payer billed through a single-member visitor group

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create members and billing groups
 3. Record purchases across the billing period
 4. Optionally grant credit / create debits
 5. Consolidate and, for some scenarios, record payments

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "partial-payments"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase handler, engine wiring
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cantina/billing-engine/billing"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "family-month",
		Name:        "Family Month",
		Description: "One family with a month of canteen purchases and a consolidated invoice",
	},
	{
		ID:          "credit-debit",
		Name:        "Credit & Debit",
		Description: "Prior credit balance and pending debits folded into a new invoice",
	},
	{
		ID:          "partial-payments",
		Name:        "Partial Payments",
		Description: "Invoice paid in installments, the last one overpaying into credit",
	},
	{
		ID:          "visitor",
		Name:        "Visitor",
		Description: "Walk-in payer billed through a single-member visitor group",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:   h.currentScenario,
		Name: h.currentScenario,
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()

	rs, ok := h.Store.(resetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Store does not support reset", nil)
		return
	}
	if err := rs.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	var err error
	switch req.ScenarioID {
	case "family-month":
		err = h.loadFamilyMonthScenario(ctx)
	case "credit-debit":
		err = h.loadCreditDebitScenario(ctx)
	case "partial-payments":
		err = h.loadPartialPaymentsScenario(ctx)
	case "visitor":
		err = h.loadVisitorScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}

// =============================================================================
// SEED HELPERS
// =============================================================================

// seedGroup creates a group with its members, returning the group and the
// member ids in input order.
func (h *Handler) seedGroup(ctx context.Context, name string, kind billing.GroupKind, memberNames []string, phones []string) (*billing.BillingGroup, []billing.MemberID, error) {
	now := time.Now()
	groupID := billing.GroupID(billing.NewID())

	memberIDs := make([]billing.MemberID, len(memberNames))
	for i, n := range memberNames {
		m := billing.Member{
			ID:        billing.MemberID(billing.NewID()),
			Name:      n,
			GroupID:   groupID,
			CreatedAt: now,
		}
		if i < len(phones) {
			m.Phone = phones[i]
		}
		if err := h.Store.SaveMember(ctx, m); err != nil {
			return nil, nil, err
		}
		memberIDs[i] = m.ID
	}

	g := billing.BillingGroup{
		ID:        groupID,
		Name:      name,
		Kind:      kind,
		OwnerID:   memberIDs[0],
		MemberIDs: memberIDs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.Store.SaveGroup(ctx, g); err != nil {
		return nil, nil, err
	}
	return &g, memberIDs, nil
}

// seedPurchase records one purchase of the given items on a specific day.
func (h *Handler) seedPurchase(ctx context.Context, buyerID billing.MemberID, groupID billing.GroupID, day time.Time, items ...billing.LineItem) error {
	_, err := h.Purchases.Record(ctx, billing.RecordPurchaseInput{
		BuyerID:   buyerID,
		GroupID:   groupID,
		Items:     items,
		CreatedAt: day,
	})
	return err
}

func item(name string, price float64, qty int) billing.LineItem {
	return billing.LineItem{Name: name, UnitPrice: billing.NewMoney(price), Quantity: qty}
}

// monthBounds returns the first and last day of the current month. Scenarios
// seed purchases across the month, so the consolidation window must cover
// days that are still ahead of the wall clock.
func monthBounds() (time.Time, time.Time) {
	now := time.Now()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return first, first.AddDate(0, 1, -1)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadFamilyMonthScenario(ctx context.Context) error {
	start, end := monthBounds()

	g, members, err := h.seedGroup(ctx, "Silva Family", billing.KindFamily,
		[]string{"Ana Silva", "Bruno Silva", "Clara Silva"},
		[]string{"11999990001"})
	if err != nil {
		return err
	}

	purchases := []struct {
		buyer billing.MemberID
		day   time.Time
		items []billing.LineItem
	}{
		{members[0], start.AddDate(0, 0, 1), []billing.LineItem{item("Coffee", 3.50, 2), item("Cheese Bread", 4.00, 1)}},
		{members[1], start.AddDate(0, 0, 3), []billing.LineItem{item("Lunch Plate", 18.00, 1), item("Juice", 6.00, 1)}},
		{members[2], start.AddDate(0, 0, 5), []billing.LineItem{item("Snack Combo", 12.50, 1)}},
		{members[0], start.AddDate(0, 0, 8), []billing.LineItem{item("Lunch Plate", 18.00, 1)}},
		{members[1], start.AddDate(0, 0, 10), []billing.LineItem{item("Soda", 5.00, 2), item("Pastry", 7.50, 1)}},
	}
	for _, p := range purchases {
		if err := h.seedPurchase(ctx, p.buyer, g.ID, p.day, p.items...); err != nil {
			return err
		}
	}

	_, err = h.Consolidator.Consolidate(ctx, g.ID, start, end)
	return err
}

func (h *Handler) loadCreditDebitScenario(ctx context.Context) error {
	start, end := monthBounds()

	g, members, err := h.seedGroup(ctx, "Oliveira Family", billing.KindFamily,
		[]string{"Diego Oliveira", "Elisa Oliveira"},
		[]string{"11999990002"})
	if err != nil {
		return err
	}

	// Credit left over from a previous overpayment.
	if _, err := h.Credits.Grant(ctx, g.ID, billing.NewMoney(25.00)); err != nil {
		return err
	}
	// Unpaid charges carried from before the system cut-over.
	if _, err := h.Debits.Create(ctx, g.ID, billing.NewMoney(14.00), "Carried balance from March"); err != nil {
		return err
	}
	if _, err := h.Debits.Create(ctx, g.ID, billing.NewMoney(6.50), "Event catering share"); err != nil {
		return err
	}

	if err := h.seedPurchase(ctx, members[0], g.ID, start.AddDate(0, 0, 2),
		item("Lunch Plate", 18.00, 2)); err != nil {
		return err
	}
	if err := h.seedPurchase(ctx, members[1], g.ID, start.AddDate(0, 0, 4),
		item("Coffee", 3.50, 1), item("Cake Slice", 8.00, 1)); err != nil {
		return err
	}

	_, err = h.Consolidator.Consolidate(ctx, g.ID, start, end)
	return err
}

func (h *Handler) loadPartialPaymentsScenario(ctx context.Context) error {
	start, end := monthBounds()

	g, members, err := h.seedGroup(ctx, "Costa Family", billing.KindFamily,
		[]string{"Fernanda Costa", "Gabriel Costa"},
		[]string{"11999990003"})
	if err != nil {
		return err
	}

	for day := 1; day <= 4; day++ {
		if err := h.seedPurchase(ctx, members[day%2], g.ID, start.AddDate(0, 0, day),
			item("Lunch Plate", 18.00, 1), item("Juice", 6.00, 1)); err != nil {
			return err
		}
	}

	result, err := h.Consolidator.Consolidate(ctx, g.ID, start, end)
	if err != nil {
		return err
	}

	// Two installments; the second overpays and the surplus becomes credit.
	invoiceID := result.Invoice.ID
	if _, err := h.Payments.Record(ctx, billing.RecordPaymentInput{
		InvoiceID:  invoiceID,
		AmountPaid: billing.NewMoney(50.00),
		IsPartial:  true,
	}); err != nil {
		return err
	}
	remaining := result.Invoice.TotalAmount.Sub(billing.NewMoney(50.00))
	overpaid := remaining.Add(billing.NewMoney(10.00))
	_, err = h.Payments.Record(ctx, billing.RecordPaymentInput{
		InvoiceID:  invoiceID,
		AmountPaid: overpaid,
		BaseAmount: &remaining,
		IsCredit:   true,
	})
	return err
}

func (h *Handler) loadVisitorScenario(ctx context.Context) error {
	start, end := monthBounds()

	g, members, err := h.seedGroup(ctx, "Visitor: Helena Ramos", billing.KindVisitor,
		[]string{"Helena Ramos"},
		[]string{"11999990004"})
	if err != nil {
		return err
	}

	if err := h.seedPurchase(ctx, members[0], g.ID, start.AddDate(0, 0, 6),
		item("Lunch Plate", 18.00, 1), item("Dessert", 9.00, 1)); err != nil {
		return err
	}

	_, err = h.Consolidator.Consolidate(ctx, g.ID, start, end)
	return err
}
