/*
Package notify delivers invoice confirmations over WhatsApp.

PURPOSE:
  Implements billing.Notifier against an Evolution-API-compatible WhatsApp
  gateway: a plain HTTP service that takes an instance name, an apikey header
  and a JSON body with the destination number and message text.

FAILURE MODEL:
  Delivery is best-effort. The caller (billing.Invoices.Send) treats a
  returned error as a logged skip, so this package never retries; it reports
  the first failure and moves on.

SEE ALSO:
  - billing/directory.go: The Notifier contract
  - billing/invoices.go: The only caller
*/
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cantina/billing-engine/billing"
)

// Config carries the gateway connection settings.
type Config struct {
	BaseURL  string // e.g. http://localhost:8080
	APIKey   string
	Instance string // gateway session name, e.g. "cantina-rd"

	// CountryCode is prepended when the stored phone has no country prefix.
	CountryCode string
}

// WhatsappGateway implements billing.Notifier over the HTTP gateway.
type WhatsappGateway struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger
}

func NewWhatsappGateway(cfg Config, log zerolog.Logger) *WhatsappGateway {
	if cfg.CountryCode == "" {
		cfg.CountryCode = "55"
	}
	return &WhatsappGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		log:    log.With().Str("component", "whatsapp").Logger(),
	}
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// SendInvoiceConfirmation renders and delivers the invoice summary to the
// group owner's phone.
func (g *WhatsappGateway) SendInvoiceConfirmation(ctx context.Context, c billing.InvoiceConfirmation) error {
	if c.Phone == "" {
		return fmt.Errorf("no phone on file for %s", c.OwnerName)
	}

	body, err := json.Marshal(sendTextRequest{
		Number: g.formatNumber(c.Phone),
		Text:   renderInvoiceMessage(c),
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/message/sendText/%s", strings.TrimSuffix(g.cfg.BaseURL, "/"), g.cfg.Instance)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		g.log.Warn().
			Int("status", resp.StatusCode).
			Str("invoice_id", string(c.InvoiceID)).
			Str("detail", string(detail)).
			Msg("gateway rejected message")
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}

	g.log.Info().
		Str("invoice_id", string(c.InvoiceID)).
		Str("owner", c.OwnerName).
		Msg("invoice confirmation sent")
	return nil
}

// formatNumber normalizes a stored phone to the gateway's international
// digits-only form, prefixing the country code when absent.
func (g *WhatsappGateway) formatNumber(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	n := digits.String()
	if !strings.HasPrefix(n, g.cfg.CountryCode) {
		n = g.cfg.CountryCode + n
	}
	return n
}

func renderInvoiceMessage(c billing.InvoiceConfirmation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Canteen Invoice*\n\n")
	fmt.Fprintf(&b, "Hello, %s!\n", c.OwnerName)
	fmt.Fprintf(&b, "Billing period: %s - %s\n\n",
		c.PeriodStart.Format("02/01/2006"), c.PeriodEnd.Format("02/01/2006"))
	if c.DebitAmount.IsPositive() {
		fmt.Fprintf(&b, "Previous balance: %s\n", c.DebitAmount)
	}
	if c.AppliedCredit.IsPositive() {
		fmt.Fprintf(&b, "Credit applied: -%s\n", c.AppliedCredit)
	}
	fmt.Fprintf(&b, "Invoice total: %s\n", c.TotalAmount)
	if c.PaidAmount.IsPositive() {
		fmt.Fprintf(&b, "Paid so far: %s\n", c.PaidAmount)
	}
	fmt.Fprintf(&b, "Amount due: %s\n\n", c.Remaining)
	b.WriteString("Thank you!")
	return b.String()
}
