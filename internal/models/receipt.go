package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ReceiptStatus is the settlement state of a receipt.
type ReceiptStatus string

const (
	ReceiptPending ReceiptStatus = "pending"
	ReceiptSettled ReceiptStatus = "settled"
)

// ParseReceiptStatus converts a wire value into a ReceiptStatus.
// An empty string maps to ReceiptPending.
func ParseReceiptStatus(s string) (ReceiptStatus, error) {
	switch ReceiptStatus(s) {
	case "", ReceiptPending:
		return ReceiptPending, nil
	case ReceiptSettled:
		return ReceiptSettled, nil
	}
	return "", fmt.Errorf("unknown receipt status %q", s)
}

// Receipt represents one purchase event whose items are divided among group members.
type Receipt struct {
	// ID is the unique identifier for the receipt (UUID format).
	ID string

	// GroupID is the group this receipt belongs to.
	GroupID string

	// StoreName is the merchant name, "Unknown Store" when the scan had none.
	StoreName string

	// Date is the purchase date (day precision, UTC).
	Date time.Time

	// Items are the line items in receipt order.
	Items []Item

	// Assignments maps Item.ID to the assignment for that item.
	// Items without an entry are unassigned.
	Assignments map[string]Assignment

	// Status is Pending until the group marks the receipt settled.
	Status ReceiptStatus

	// PaidByMemberID names the member who fronted the money for this receipt.
	// When empty the group's designated payer member is assumed.
	PaidByMemberID string

	// ImageURL points at the stored receipt image, if one was uploaded.
	ImageURL string

	// Subtotal, Tax and Total are the printed receipt figures, informational only.
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal

	// UploadedBy is the user ID who created the receipt.
	UploadedBy string

	// CreatedAt is the Unix timestamp when the receipt was created.
	CreatedAt int64
}

// ItemByID returns the item with the given ID.
func (r *Receipt) ItemByID(itemID string) (Item, bool) {
	for _, item := range r.Items {
		if item.ID == itemID {
			return item, true
		}
	}
	return Item{}, false
}

// ItemsTotal sums Price() over all items.
func (r *Receipt) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range r.Items {
		total = total.Add(item.Price())
	}
	return total
}

// Item represents a single line item on a receipt.
type Item struct {
	// ID is the unique identifier for the item.
	ID string

	// Name is the item label as printed or typed (e.g., "Oat Milk").
	Name string

	// UnitPrice is the price of one unit.
	UnitPrice decimal.Decimal

	// Quantity is the number of units, at least 1.
	Quantity int

	// Category is a coarse label from the scanner: food, drink or other.
	Category string
}

// Price is the full cost of the line: UnitPrice × Quantity.
func (i Item) Price() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// AssignmentKind tags the variant held by an Assignment.
type AssignmentKind string

const (
	// AssignSelf: cost borne entirely by the payer, no transfer.
	AssignSelf AssignmentKind = "self"
	// AssignMember: cost borne entirely by one non-payer member.
	AssignMember AssignmentKind = "member"
	// AssignSplit: cost divided evenly across all members.
	AssignSplit AssignmentKind = "split"
	// AssignCustom: explicit per-member amounts.
	AssignCustom AssignmentKind = "custom"
)

// ParseAssignmentKind converts a wire value into an AssignmentKind.
func ParseAssignmentKind(s string) (AssignmentKind, error) {
	switch k := AssignmentKind(s); k {
	case AssignSelf, AssignMember, AssignSplit, AssignCustom:
		return k, nil
	}
	return "", fmt.Errorf("unknown assignment type %q", s)
}

// Share is one member's explicit portion of a custom split.
type Share struct {
	MemberID string
	Amount   decimal.Decimal
}

// Assignment is a tagged union over the four ways an item's cost is attributed.
// TargetMemberID is only meaningful for AssignMember and Shares only for AssignCustom.
type Assignment struct {
	Kind           AssignmentKind
	TargetMemberID string
	Shares         []Share
}

// SelfAssignment returns an assignment of the item to the payer.
func SelfAssignment() Assignment {
	return Assignment{Kind: AssignSelf}
}

// MemberAssignment returns an assignment of the whole item to one member.
func MemberAssignment(memberID string) Assignment {
	return Assignment{Kind: AssignMember, TargetMemberID: memberID}
}

// SplitAssignment returns an even split across the whole group.
func SplitAssignment() Assignment {
	return Assignment{Kind: AssignSplit}
}

// CustomAssignment returns an explicit per-member split.
func CustomAssignment(shares []Share) Assignment {
	return Assignment{Kind: AssignCustom, Shares: shares}
}

// Validate checks the structural shape of the assignment.
// It does not check member existence or amounts against an item price;
// that needs the roster and is done by the balance engine.
func (a Assignment) Validate() error {
	switch a.Kind {
	case AssignSelf, AssignSplit:
		return nil
	case AssignMember:
		if a.TargetMemberID == "" {
			return fmt.Errorf("member assignment requires a target member")
		}
		return nil
	case AssignCustom:
		if len(a.Shares) == 0 {
			return fmt.Errorf("custom assignment requires at least one share")
		}
		for _, s := range a.Shares {
			if s.MemberID == "" {
				return fmt.Errorf("custom share requires a member")
			}
			if s.Amount.IsNegative() {
				return fmt.Errorf("custom share for %s is negative", s.MemberID)
			}
		}
		return nil
	}
	return fmt.Errorf("unknown assignment type %q", a.Kind)
}

// SharesTotal sums the custom share amounts.
func (a Assignment) SharesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, s := range a.Shares {
		total = total.Add(s.Amount)
	}
	return total
}
