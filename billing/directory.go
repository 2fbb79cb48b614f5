/*
directory.go - External collaborator interfaces

PURPOSE:
  The engine consumes two narrow collaborators: a directory that resolves
  display names/phones, and a notifier that delivers invoice confirmations.
  Both are failure-tolerant by contract: a directory miss degrades to a
  placeholder name, a notification failure is logged and never fails the
  billing operation that triggered it.
*/
package billing

import (
	"context"
	"time"
)

// =============================================================================
// DIRECTORY - Name/phone resolution, lenient by contract
// =============================================================================

// Placeholders substituted when a directory lookup fails. Billing never
// aborts on a missing name.
const (
	PlaceholderMemberName = "member not found"
	PlaceholderOwnerName  = "owner not found"
	PlaceholderGroupName  = "group not found"
)

type MemberInfo struct {
	Name  string
	Phone string
}

type GroupInfo struct {
	Name    string
	OwnerID MemberID
}

// Directory resolves member and group display data.
type Directory interface {
	MemberInfo(ctx context.Context, id MemberID) (MemberInfo, error)
	GroupInfo(ctx context.Context, id GroupID) (GroupInfo, error)
}

// resolveMemberName looks up a member name, substituting the placeholder on
// any failure.
func resolveMemberName(ctx context.Context, d Directory, id MemberID, placeholder string) string {
	info, err := d.MemberInfo(ctx, id)
	if err != nil || info.Name == "" {
		return placeholder
	}
	return info.Name
}

// =============================================================================
// STORE-BACKED DIRECTORY
// =============================================================================

// StoreDirectory implements Directory on top of the billing store's member
// and group records.
type StoreDirectory struct {
	Store Store
}

func NewStoreDirectory(s Store) *StoreDirectory {
	return &StoreDirectory{Store: s}
}

func (d *StoreDirectory) MemberInfo(ctx context.Context, id MemberID) (MemberInfo, error) {
	m, err := d.Store.GetMember(ctx, id)
	if err != nil {
		return MemberInfo{}, err
	}
	if m == nil {
		return MemberInfo{}, ErrMemberNotFound
	}
	return MemberInfo{Name: m.Name, Phone: m.Phone}, nil
}

func (d *StoreDirectory) GroupInfo(ctx context.Context, id GroupID) (GroupInfo, error) {
	g, err := d.Store.GetGroup(ctx, id)
	if err != nil {
		return GroupInfo{}, err
	}
	if g == nil {
		return GroupInfo{}, ErrGroupNotFound
	}
	return GroupInfo{Name: g.Name, OwnerID: g.OwnerID}, nil
}

// =============================================================================
// NOTIFIER - Invoice confirmation delivery (fire-and-forget)
// =============================================================================

// InvoiceConfirmation is everything a delivery channel needs to render an
// invoice notification for the group owner.
type InvoiceConfirmation struct {
	InvoiceID      InvoiceID
	OwnerName      string
	Phone          string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	TotalAmount    Money
	PaidAmount     Money
	Remaining      Money
	AppliedCredit  Money
	OriginalAmount Money
	DebitAmount    Money
}

// Notifier delivers invoice confirmations. Implementations must be safe to
// call from request scope; the engine treats any error as a logged skip.
type Notifier interface {
	SendInvoiceConfirmation(ctx context.Context, c InvoiceConfirmation) error
}

// NopNotifier discards every notification. Used when no gateway is configured.
type NopNotifier struct{}

func (NopNotifier) SendInvoiceConfirmation(context.Context, InvoiceConfirmation) error {
	return nil
}
