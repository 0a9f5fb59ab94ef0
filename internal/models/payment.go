package models

import "github.com/shopspring/decimal"

// Payment represents money handed from one group member to another to settle debts.
type Payment struct {
	// ID is the unique identifier for the payment (UUID format).
	ID string

	// GroupID is the group this payment belongs to.
	GroupID string

	// FromMemberID is the member who paid (debtor settling up).
	FromMemberID string

	// ToMemberID is the member who received payment (creditor being paid).
	ToMemberID string

	// Amount is the payment amount.
	Amount decimal.Decimal

	// Note is an optional description for the payment.
	Note string

	// CreatedBy is the user ID who recorded this payment.
	CreatedBy string

	// CreatedAt is the Unix timestamp when the payment was recorded.
	CreatedAt int64
}
