/*
Package sqlite provides the SQLite-backed implementation of billing.TxStore.

PURPOSE:
  Implements persistence for every billing entity (groups, members,
  purchases, invoices, payments, credits, debits) using SQLite. The same
  schema and queries port to PostgreSQL with minor dialect changes.

KEY TABLES:
  groups, members:  Directory records
  purchases:        The purchase ledger; invoice_id NULL = un-invoiced
  invoices:         Billing-period rollups with cached paid/status
  payments:         Append-mostly payment events
  credits, debits:  Prior balances awaiting consolidation

INVARIANT ENFORCEMENT AT THE SCHEMA LEVEL:
  idx_invoices_one_open:  UNIQUE partial index - at most one invoice per
                          billing group in a non-terminal status. A violation
                          maps onto billing.ErrOpenInvoiceExists, so even two
                          processes racing on "find open invoice" cannot
                          create duplicates.
  idx_credits_one_active: UNIQUE partial index - at most one unarchived
                          credit with a positive balance per group, backing
                          the merge-on-create rule.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): multiple readers don't
  block and a single writer at a time is exactly the engine's write model.

TRANSACTIONS:
  WithTx hands the callback a Store bound to the open *sql.Tx; every query
  method runs against whichever queryer (db or tx) the Store carries.

MONEY AND TIME:
  Monetary values are stored as decimal strings (never REAL), timestamps as
  RFC3339Nano strings.

USAGE:
  st, err := sqlite.New("./data/billing.db")   // ":memory:" for tests
  defer st.Close()

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for engine tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/cantina/billing-engine/billing"
)

// queryer abstracts *sql.DB and *sql.Tx so one set of methods serves both.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements billing.TxStore using SQLite.
type Store struct {
	db *sql.DB
	q  queryer // s.db normally, the open *sql.Tx inside WithTx
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// from getting a fresh empty copy per pooled connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'family',
		owner_id TEXT,
		member_ids_json TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT,
		group_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS purchases (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		items_json TEXT NOT NULL,
		total TEXT NOT NULL,
		invoice_id TEXT,
		created_at TEXT NOT NULL
	);

	-- Consolidation hot path: un-invoiced purchases per group and period
	CREATE INDEX IF NOT EXISTS idx_purchases_group_created
		ON purchases(group_id, created_at) WHERE invoice_id IS NULL;
	CREATE INDEX IF NOT EXISTS idx_purchases_invoice
		ON purchases(invoice_id) WHERE invoice_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_purchases_buyer
		ON purchases(buyer_id);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		buyer_ids_json TEXT NOT NULL DEFAULT '[]',
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		original_amount TEXT NOT NULL,
		applied_credit TEXT NOT NULL,
		debit_amount TEXT NOT NULL,
		credit_id TEXT,
		paid_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		sent_by_whatsapp INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: at most one non-terminal invoice per billing group.
	-- Violations map onto billing.ErrOpenInvoiceExists.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_one_open
		ON invoices(group_id) WHERE status IN ('OPEN', 'PARTIALLY_PAID');
	CREATE INDEX IF NOT EXISTS idx_invoices_group
		ON invoices(group_id);
	CREATE INDEX IF NOT EXISTS idx_invoices_status_created
		ON invoices(status, created_at);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		base_amount TEXT,
		payment_date TEXT NOT NULL,
		is_partial INTEGER NOT NULL DEFAULT 0,
		is_credit INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_invoice
		ON payments(invoice_id);
	CREATE INDEX IF NOT EXISTS idx_payments_created
		ON payments(created_at);

	CREATE TABLE IF NOT EXISTS credits (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		credited_amount TEXT NOT NULL,
		amount TEXT NOT NULL,
		archived INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Backs the merge-on-create rule: one active balance per group.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_credits_one_active
		ON credits(group_id) WHERE archived = 0 AND CAST(amount AS REAL) > 0;

	CREATE TABLE IF NOT EXISTS debits (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT,
		included_in_invoice INTEGER NOT NULL DEFAULT 0,
		invoice_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_debits_group_pending
		ON debits(group_id) WHERE included_in_invoice = 0;
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset drops all rows from every table. Dev/demo use only.
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{"groups", "members", "purchases", "invoices", "payments", "credits", "debits"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure on a
// column of the given table.
func isUniqueViolation(err error, table string) bool {
	var sqliteErr sqlite3.Error
	if !asSqliteError(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique &&
		strings.Contains(sqliteErr.Error(), table)
}

func asSqliteError(err error, target *sqlite3.Error) bool {
	for err != nil {
		if e, ok := err.(sqlite3.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// =============================================================================
// GROUPS
// =============================================================================

func (s *Store) SaveGroup(ctx context.Context, g billing.BillingGroup) error {
	memberIDs, err := json.Marshal(g.MemberIDs)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO groups (id, name, kind, owner_id, member_ids_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			owner_id = excluded.owner_id,
			member_ids_json = excluded.member_ids_json,
			updated_at = excluded.updated_at
	`, string(g.ID), g.Name, string(g.Kind), string(g.OwnerID), string(memberIDs),
		formatTime(g.CreatedAt), formatTime(g.UpdatedAt))
	return err
}

func (s *Store) GetGroup(ctx context.Context, id billing.GroupID) (*billing.BillingGroup, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, name, kind, owner_id, member_ids_json, created_at, updated_at
		FROM groups WHERE id = ?
	`, string(id))
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Store) ListGroups(ctx context.Context) ([]billing.BillingGroup, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, kind, owner_id, member_ids_json, created_at, updated_at
		FROM groups ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.BillingGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func (s *Store) DeleteGroup(ctx context.Context, id billing.GroupID) error {
	// Detach member references; member records survive.
	if _, err := s.q.ExecContext(ctx, `UPDATE members SET group_id = NULL WHERE group_id = ?`, string(id)); err != nil {
		return err
	}
	_, err := s.q.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, string(id))
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(r rowScanner) (*billing.BillingGroup, error) {
	var g billing.BillingGroup
	var id, name, kind string
	var ownerID, memberIDsJSON sql.NullString
	var createdAt, updatedAt string

	if err := r.Scan(&id, &name, &kind, &ownerID, &memberIDsJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	g.ID = billing.GroupID(id)
	g.Name = name
	g.Kind = billing.GroupKind(kind)
	g.OwnerID = billing.MemberID(ownerID.String)
	if memberIDsJSON.Valid && memberIDsJSON.String != "" {
		if err := json.Unmarshal([]byte(memberIDsJSON.String), &g.MemberIDs); err != nil {
			return nil, err
		}
	}
	g.CreatedAt = parseTime(createdAt)
	g.UpdatedAt = parseTime(updatedAt)
	return &g, nil
}

// =============================================================================
// MEMBERS
// =============================================================================

func (s *Store) SaveMember(ctx context.Context, m billing.Member) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO members (id, name, phone, group_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			group_id = excluded.group_id
	`, string(m.ID), m.Name, m.Phone, nullable(string(m.GroupID)), formatTime(m.CreatedAt))
	return err
}

func (s *Store) GetMember(ctx context.Context, id billing.MemberID) (*billing.Member, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, name, phone, group_id, created_at FROM members WHERE id = ?
	`, string(id))
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) ListMembers(ctx context.Context) ([]billing.Member, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, phone, group_id, created_at FROM members ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanMember(r rowScanner) (*billing.Member, error) {
	var m billing.Member
	var id, name string
	var phone, groupID sql.NullString
	var createdAt string

	if err := r.Scan(&id, &name, &phone, &groupID, &createdAt); err != nil {
		return nil, err
	}
	m.ID = billing.MemberID(id)
	m.Name = name
	m.Phone = phone.String
	m.GroupID = billing.GroupID(groupID.String)
	m.CreatedAt = parseTime(createdAt)
	return &m, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// =============================================================================
// PURCHASES
// =============================================================================

func (s *Store) SavePurchase(ctx context.Context, p billing.Purchase) error {
	items, err := json.Marshal(itemsToJSON(p.Items))
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO purchases (id, buyer_id, group_id, items_json, total, invoice_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			buyer_id = excluded.buyer_id,
			group_id = excluded.group_id,
			items_json = excluded.items_json,
			total = excluded.total,
			invoice_id = excluded.invoice_id
	`, string(p.ID), string(p.BuyerID), string(p.GroupID), string(items),
		p.Total.Value.String(), nullable(string(p.InvoiceID)), formatTime(p.CreatedAt))
	return err
}

func (s *Store) GetPurchase(ctx context.Context, id billing.PurchaseID) (*billing.Purchase, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, buyer_id, group_id, items_json, total, invoice_id, created_at
		FROM purchases WHERE id = ?
	`, string(id))
	p, err := scanPurchase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) ListPurchases(ctx context.Context, f billing.PurchaseFilter) ([]billing.Purchase, error) {
	query := `
		SELECT id, buyer_id, group_id, items_json, total, invoice_id, created_at
		FROM purchases WHERE 1=1`
	var args []any

	if f.GroupID != "" {
		query += " AND group_id = ?"
		args = append(args, string(f.GroupID))
	}
	if f.BuyerID != "" {
		query += " AND buyer_id = ?"
		args = append(args, string(f.BuyerID))
	}
	if f.InvoiceID != "" {
		query += " AND invoice_id = ?"
		args = append(args, string(f.InvoiceID))
	}
	if f.OnlyUninvoiced {
		query += " AND invoice_id IS NULL"
	}
	if f.From != nil {
		query += " AND created_at >= ?"
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		query += " AND created_at <= ?"
		args = append(args, formatTime(*f.To))
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) LinkPurchases(ctx context.Context, ids []billing.PurchaseID, invoiceID billing.InvoiceID) error {
	for _, id := range ids {
		var current sql.NullString
		err := s.q.QueryRowContext(ctx,
			`SELECT invoice_id FROM purchases WHERE id = ?`, string(id)).Scan(&current)
		if err == sql.ErrNoRows {
			return billing.ErrPurchaseNotFound
		}
		if err != nil {
			return err
		}
		if current.Valid && current.String != string(invoiceID) {
			return billing.ErrPurchaseRelinked
		}
	}
	for _, id := range ids {
		if _, err := s.q.ExecContext(ctx,
			`UPDATE purchases SET invoice_id = ? WHERE id = ?`, string(invoiceID), string(id)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DetachPurchases(ctx context.Context, invoiceID billing.InvoiceID) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE purchases SET invoice_id = NULL WHERE invoice_id = ?`, string(invoiceID))
	return err
}

func (s *Store) DeletePurchase(ctx context.Context, id billing.PurchaseID) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM purchases WHERE id = ?`, string(id))
	return err
}

// lineItemJSON keeps the stored representation stable regardless of how the
// domain type evolves.
type lineItemJSON struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

func itemsToJSON(items []billing.LineItem) []lineItemJSON {
	out := make([]lineItemJSON, len(items))
	for i, item := range items {
		out[i] = lineItemJSON{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice.Value.String(),
			Quantity:  item.Quantity,
		}
	}
	return out
}

func itemsFromJSON(raw []lineItemJSON) []billing.LineItem {
	out := make([]billing.LineItem, len(raw))
	for i, item := range raw {
		out[i] = billing.LineItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: billing.MustParseMoney(item.UnitPrice),
			Quantity:  item.Quantity,
		}
	}
	return out
}

func scanPurchase(r rowScanner) (*billing.Purchase, error) {
	var p billing.Purchase
	var id, buyerID, groupID, itemsJSON, total string
	var invoiceID sql.NullString
	var createdAt string

	if err := r.Scan(&id, &buyerID, &groupID, &itemsJSON, &total, &invoiceID, &createdAt); err != nil {
		return nil, err
	}
	var rawItems []lineItemJSON
	if err := json.Unmarshal([]byte(itemsJSON), &rawItems); err != nil {
		return nil, err
	}
	p.ID = billing.PurchaseID(id)
	p.BuyerID = billing.MemberID(buyerID)
	p.GroupID = billing.GroupID(groupID)
	p.Items = itemsFromJSON(rawItems)
	p.Total = billing.MustParseMoney(total)
	p.InvoiceID = billing.InvoiceID(invoiceID.String)
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// =============================================================================
// INVOICES
// =============================================================================

func (s *Store) SaveInvoice(ctx context.Context, inv billing.Invoice) error {
	buyerIDs, err := json.Marshal(inv.BuyerIDs)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO invoices (id, group_id, buyer_ids_json, period_start, period_end,
			total_amount, original_amount, applied_credit, debit_amount, credit_id,
			paid_amount, status, sent_by_whatsapp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			buyer_ids_json = excluded.buyer_ids_json,
			total_amount = excluded.total_amount,
			original_amount = excluded.original_amount,
			applied_credit = excluded.applied_credit,
			debit_amount = excluded.debit_amount,
			credit_id = excluded.credit_id,
			paid_amount = excluded.paid_amount,
			status = excluded.status,
			sent_by_whatsapp = excluded.sent_by_whatsapp
	`, string(inv.ID), string(inv.GroupID), string(buyerIDs),
		formatTime(inv.PeriodStart), formatTime(inv.PeriodEnd),
		inv.TotalAmount.Value.String(), inv.OriginalAmount.Value.String(),
		inv.AppliedCredit.Value.String(), inv.DebitAmount.Value.String(),
		nullable(string(inv.CreditID)), inv.PaidAmount.Value.String(),
		string(inv.Status), boolToInt(inv.SentByWhatsapp), formatTime(inv.CreatedAt))
	if isUniqueViolation(err, "invoices") {
		return billing.ErrOpenInvoiceExists
	}
	return err
}

func (s *Store) GetInvoice(ctx context.Context, id billing.InvoiceID) (*billing.Invoice, error) {
	row := s.q.QueryRowContext(ctx, invoiceSelect+` WHERE id = ?`, string(id))
	inv, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Store) FindOpenInvoice(ctx context.Context, groupID billing.GroupID) (*billing.Invoice, error) {
	row := s.q.QueryRowContext(ctx,
		invoiceSelect+` WHERE group_id = ? AND status IN ('OPEN', 'PARTIALLY_PAID')`,
		string(groupID))
	inv, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Store) ListInvoices(ctx context.Context, f billing.InvoiceFilter) ([]billing.Invoice, error) {
	query := invoiceSelect + ` WHERE 1=1`
	var args []any

	if len(f.IDs) > 0 {
		query += " AND id IN (" + placeholders(len(f.IDs)) + ")"
		for _, id := range f.IDs {
			args = append(args, string(id))
		}
	}
	if f.GroupID != "" {
		query += " AND group_id = ?"
		args = append(args, string(f.GroupID))
	}
	if len(f.Statuses) > 0 {
		query += " AND status IN (" + placeholders(len(f.Statuses)) + ")"
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if f.From != nil {
		query += " AND created_at >= ?"
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		query += " AND created_at <= ?"
		args = append(args, formatTime(*f.To))
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		// Buyer membership lives in a JSON column; filter after scan.
		if f.BuyerID != "" && !inv.HasBuyer(f.BuyerID) {
			continue
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

func (s *Store) DeleteInvoice(ctx context.Context, id billing.InvoiceID) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM invoices WHERE id = ?`, string(id))
	return err
}

const invoiceSelect = `
	SELECT id, group_id, buyer_ids_json, period_start, period_end,
		total_amount, original_amount, applied_credit, debit_amount, credit_id,
		paid_amount, status, sent_by_whatsapp, created_at
	FROM invoices`

func scanInvoice(r rowScanner) (*billing.Invoice, error) {
	var inv billing.Invoice
	var id, groupID, buyerIDsJSON, periodStart, periodEnd string
	var totalAmount, originalAmount, appliedCredit, debitAmount string
	var creditID sql.NullString
	var paidAmount, status string
	var sentByWhatsapp int
	var createdAt string

	if err := r.Scan(&id, &groupID, &buyerIDsJSON, &periodStart, &periodEnd,
		&totalAmount, &originalAmount, &appliedCredit, &debitAmount, &creditID,
		&paidAmount, &status, &sentByWhatsapp, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(buyerIDsJSON), &inv.BuyerIDs); err != nil {
		return nil, err
	}
	inv.ID = billing.InvoiceID(id)
	inv.GroupID = billing.GroupID(groupID)
	inv.PeriodStart = parseTime(periodStart)
	inv.PeriodEnd = parseTime(periodEnd)
	inv.TotalAmount = billing.MustParseMoney(totalAmount)
	inv.OriginalAmount = billing.MustParseMoney(originalAmount)
	inv.AppliedCredit = billing.MustParseMoney(appliedCredit)
	inv.DebitAmount = billing.MustParseMoney(debitAmount)
	inv.CreditID = billing.CreditID(creditID.String)
	inv.PaidAmount = billing.MustParseMoney(paidAmount)
	inv.Status = billing.InvoiceStatus(status)
	inv.SentByWhatsapp = sentByWhatsapp != 0
	inv.CreatedAt = parseTime(createdAt)
	return &inv, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (s *Store) SavePayment(ctx context.Context, p billing.Payment) error {
	var baseAmount any
	if p.BaseAmount != nil {
		baseAmount = p.BaseAmount.Value.String()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO payments (id, invoice_id, amount_paid, base_amount, payment_date,
			is_partial, is_credit, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount_paid = excluded.amount_paid,
			base_amount = excluded.base_amount,
			payment_date = excluded.payment_date,
			is_partial = excluded.is_partial,
			is_credit = excluded.is_credit
	`, string(p.ID), string(p.InvoiceID), p.AmountPaid.Value.String(), baseAmount,
		formatTime(p.PaymentDate), boolToInt(p.IsPartial), boolToInt(p.IsCredit),
		formatTime(p.CreatedAt))
	return err
}

func (s *Store) GetPayment(ctx context.Context, id billing.PaymentID) (*billing.Payment, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, invoice_id, amount_paid, base_amount, payment_date, is_partial, is_credit, created_at
		FROM payments WHERE id = ?
	`, string(id))
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) ListPayments(ctx context.Context, f billing.PaymentFilter) ([]billing.Payment, error) {
	query := `
		SELECT id, invoice_id, amount_paid, base_amount, payment_date, is_partial, is_credit, created_at
		FROM payments WHERE 1=1`
	var args []any

	if f.InvoiceID != "" {
		query += " AND invoice_id = ?"
		args = append(args, string(f.InvoiceID))
	}
	if len(f.InvoiceIDs) > 0 {
		query += " AND invoice_id IN (" + placeholders(len(f.InvoiceIDs)) + ")"
		for _, id := range f.InvoiceIDs {
			args = append(args, string(id))
		}
	}
	if f.From != nil {
		query += " AND created_at >= ?"
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		query += " AND created_at <= ?"
		args = append(args, formatTime(*f.To))
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) DeletePayment(ctx context.Context, id billing.PaymentID) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM payments WHERE id = ?`, string(id))
	return err
}

func scanPayment(r rowScanner) (*billing.Payment, error) {
	var p billing.Payment
	var id, invoiceID, amountPaid string
	var baseAmount sql.NullString
	var paymentDate string
	var isPartial, isCredit int
	var createdAt string

	if err := r.Scan(&id, &invoiceID, &amountPaid, &baseAmount, &paymentDate,
		&isPartial, &isCredit, &createdAt); err != nil {
		return nil, err
	}
	p.ID = billing.PaymentID(id)
	p.InvoiceID = billing.InvoiceID(invoiceID)
	p.AmountPaid = billing.MustParseMoney(amountPaid)
	if baseAmount.Valid {
		base := billing.MustParseMoney(baseAmount.String)
		p.BaseAmount = &base
	}
	p.PaymentDate = parseTime(paymentDate)
	p.IsPartial = isPartial != 0
	p.IsCredit = isCredit != 0
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// =============================================================================
// CREDITS
// =============================================================================

func (s *Store) SaveCredit(ctx context.Context, c billing.Credit) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO credits (id, group_id, credited_amount, amount, archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			credited_amount = excluded.credited_amount,
			amount = excluded.amount,
			archived = excluded.archived,
			updated_at = excluded.updated_at
	`, string(c.ID), string(c.GroupID), c.CreditedAmount.Value.String(),
		c.Amount.Value.String(), boolToInt(c.Archived),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	return err
}

func (s *Store) GetCredit(ctx context.Context, id billing.CreditID) (*billing.Credit, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, group_id, credited_amount, amount, archived, created_at, updated_at
		FROM credits WHERE id = ?
	`, string(id))
	c, err := scanCredit(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) FindActiveCredit(ctx context.Context, groupID billing.GroupID) (*billing.Credit, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, group_id, credited_amount, amount, archived, created_at, updated_at
		FROM credits
		WHERE group_id = ? AND archived = 0 AND CAST(amount AS REAL) > 0
		ORDER BY created_at DESC
		LIMIT 1
	`, string(groupID))
	c, err := scanCredit(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) ListCredits(ctx context.Context, f billing.CreditFilter) ([]billing.Credit, error) {
	query := `
		SELECT id, group_id, credited_amount, amount, archived, created_at, updated_at
		FROM credits WHERE 1=1`
	var args []any

	if f.GroupID != "" {
		query += " AND group_id = ?"
		args = append(args, string(f.GroupID))
	}
	if f.Archived != nil {
		query += " AND archived = ?"
		args = append(args, boolToInt(*f.Archived))
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Credit
	for rows.Next() {
		c, err := scanCredit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanCredit(r rowScanner) (*billing.Credit, error) {
	var c billing.Credit
	var id, groupID, creditedAmount, amount string
	var archived int
	var createdAt, updatedAt string

	if err := r.Scan(&id, &groupID, &creditedAmount, &amount, &archived, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.ID = billing.CreditID(id)
	c.GroupID = billing.GroupID(groupID)
	c.CreditedAmount = billing.MustParseMoney(creditedAmount)
	c.Amount = billing.MustParseMoney(amount)
	c.Archived = archived != 0
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// =============================================================================
// DEBITS
// =============================================================================

func (s *Store) SaveDebit(ctx context.Context, d billing.Debit) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO debits (id, group_id, amount, description, included_in_invoice, invoice_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			description = excluded.description,
			included_in_invoice = excluded.included_in_invoice,
			invoice_id = excluded.invoice_id
	`, string(d.ID), string(d.GroupID), d.Amount.Value.String(), d.Description,
		boolToInt(d.IncludedInInvoice), nullable(string(d.InvoiceID)), formatTime(d.CreatedAt))
	return err
}

func (s *Store) GetDebit(ctx context.Context, id billing.DebitID) (*billing.Debit, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, group_id, amount, description, included_in_invoice, invoice_id, created_at
		FROM debits WHERE id = ?
	`, string(id))
	d, err := scanDebit(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) ListDebits(ctx context.Context, f billing.DebitFilter) ([]billing.Debit, error) {
	query := `
		SELECT id, group_id, amount, description, included_in_invoice, invoice_id, created_at
		FROM debits WHERE 1=1`
	var args []any

	if f.GroupID != "" {
		query += " AND group_id = ?"
		args = append(args, string(f.GroupID))
	}
	if f.OnlyPending {
		query += " AND included_in_invoice = 0"
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Debit
	for rows.Next() {
		d, err := scanDebit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func scanDebit(r rowScanner) (*billing.Debit, error) {
	var d billing.Debit
	var id, groupID, amount string
	var description, invoiceID sql.NullString
	var included int
	var createdAt string

	if err := r.Scan(&id, &groupID, &amount, &description, &included, &invoiceID, &createdAt); err != nil {
		return nil, err
	}
	d.ID = billing.DebitID(id)
	d.GroupID = billing.GroupID(groupID)
	d.Amount = billing.MustParseMoney(amount)
	d.Description = description.String
	d.IncludedInInvoice = included != 0
	d.InvoiceID = billing.InvoiceID(invoiceID.String)
	d.CreatedAt = parseTime(createdAt)
	return &d, nil
}

// =============================================================================
// TRANSACTIONS (billing.TxStore interface)
// =============================================================================

// WithTx executes fn against a Store bound to a single database transaction.
// Calling WithTx on a Store that is already transaction-bound joins the open
// transaction instead of nesting.
func (s *Store) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	if _, inTx := s.q.(*sql.Tx); inTx {
		return fn(s)
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &Store{db: s.db, q: sqlTx}
	if err := fn(txStore); err != nil {
		return err
	}
	return sqlTx.Commit()
}
