/*
scenarios_test.go - Tests for the demo scenario loaders

Each scenario is loaded through the API and checked against the state it
promises: groups, invoices, balances, and payment history.
*/
package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadScenario(ts *testServer, id string) {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	require.Equal(ts.t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestListScenarios(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]ScenarioDTO](t, rec)

	ids := make([]string, len(list))
	for i, s := range list {
		ids[i] = s.ID
	}
	assert.ElementsMatch(t, []string{"family-month", "credit-debit", "partial-payments", "visitor"}, ids)
}

func TestLoadScenario_FamilyMonth(t *testing.T) {
	ts := newTestServer(t)
	loadScenario(ts, "family-month")

	// THEN: One family group with three members exists
	rec := ts.do(http.MethodGet, "/api/groups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	groups := decode[[]GroupDTO](t, rec)
	require.Len(t, groups, 1)
	assert.Equal(t, "Silva Family", groups[0].Name)
	assert.Len(t, groups[0].MemberIDs, 3)

	// AND: One open invoice covers all five purchases
	rec = ts.do(http.MethodGet, "/api/invoices?group_id="+groups[0].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	invoices := decode[[]InvoiceDTO](t, rec)
	require.Len(t, invoices, 1)
	assert.Equal(t, "OPEN", invoices[0].Status)
	// 11.00 + 24.00 + 12.50 + 18.00 + 17.50
	assert.Equal(t, "83.00", invoices[0].TotalAmount)

	rec = ts.do(http.MethodGet, "/api/purchases?uninvoiced=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]PurchaseDTO](t, rec))

	// AND: The current scenario endpoint reflects the load
	rec = ts.do(http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "family-month", decode[ScenarioDTO](t, rec).ID)
}

func TestLoadScenario_CreditDebit(t *testing.T) {
	ts := newTestServer(t)
	loadScenario(ts, "credit-debit")

	rec := ts.do(http.MethodGet, "/api/groups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	groups := decode[[]GroupDTO](t, rec)
	require.Len(t, groups, 1)

	rec = ts.do(http.MethodGet, "/api/invoices?group_id="+groups[0].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	invoices := decode[[]InvoiceDTO](t, rec)
	require.Len(t, invoices, 1)

	// Purchases 36.00 + 11.50, debits 14.00 + 6.50, credit capped at 25.00:
	// original = 68.00, total = 43.00.
	assert.Equal(t, "68.00", invoices[0].OriginalAmount)
	assert.Equal(t, "25.00", invoices[0].AppliedCredit)
	assert.Equal(t, "20.50", invoices[0].DebitAmount)
	assert.Equal(t, "43.00", invoices[0].TotalAmount)

	// The credit is spent and the debits folded.
	rec = ts.do(http.MethodGet, "/api/credits?archived=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]CreditDTO](t, rec))

	rec = ts.do(http.MethodGet, "/api/debits?pending=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]DebitDTO](t, rec))
}

func TestLoadScenario_PartialPayments(t *testing.T) {
	ts := newTestServer(t)
	loadScenario(ts, "partial-payments")

	rec := ts.do(http.MethodGet, "/api/groups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	groups := decode[[]GroupDTO](t, rec)
	require.Len(t, groups, 1)

	// Four purchases of 24.00 each → invoice of 96.00, settled in two
	// installments with a 10.00 overpayment.
	rec = ts.do(http.MethodGet, "/api/invoices?group_id="+groups[0].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	invoices := decode[[]InvoiceDTO](t, rec)
	require.Len(t, invoices, 1)
	assert.Equal(t, "96.00", invoices[0].TotalAmount)
	assert.Equal(t, "PAID", invoices[0].Status)
	assert.Equal(t, "106.00", invoices[0].PaidAmount)

	rec = ts.do(http.MethodGet, "/api/payments?invoice_id="+invoices[0].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]PaymentDTO](t, rec), 2)

	// The overpayment became an active 10.00 credit.
	rec = ts.do(http.MethodGet, "/api/credits?archived=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	credits := decode[[]CreditDTO](t, rec)
	require.Len(t, credits, 1)
	assert.Equal(t, "10.00", credits[0].Amount)
}

func TestLoadScenario_Visitor(t *testing.T) {
	ts := newTestServer(t)
	loadScenario(ts, "visitor")

	rec := ts.do(http.MethodGet, "/api/groups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	groups := decode[[]GroupDTO](t, rec)
	require.Len(t, groups, 1)
	assert.Equal(t, "visitor", groups[0].Kind)
	assert.Len(t, groups[0].MemberIDs, 1)

	rec = ts.do(http.MethodGet, "/api/invoices?group_id="+groups[0].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	invoices := decode[[]InvoiceDTO](t, rec)
	require.Len(t, invoices, 1)
	assert.Equal(t, "27.00", invoices[0].TotalAmount)
}

func TestLoadScenario_ReplacesPreviousData(t *testing.T) {
	ts := newTestServer(t)
	loadScenario(ts, "family-month")
	loadScenario(ts, "visitor")

	// Only the second scenario's group remains.
	rec := ts.do(http.MethodGet, "/api/groups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	groups := decode[[]GroupDTO](t, rec)
	require.Len(t, groups, 1)
	assert.Equal(t, "visitor", groups[0].Kind)
}

func TestLoadScenario_Unknown(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetScenarioState(t *testing.T) {
	ts := newTestServer(t)
	loadScenario(ts, "visitor")

	rec := ts.do(http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/api/groups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]GroupDTO](t, rec))

	// Current scenario cleared.
	rec = ts.do(http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[*ScenarioDTO](t, rec))
}
