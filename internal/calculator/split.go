package calculator

import (
	"github.com/shopspring/decimal"

	"github.com/davidrmellors/receipt-splitter/internal/models"
)

// ShareLine is one item's contribution to a member's share of a receipt.
type ShareLine struct {
	ItemID string
	Name   string
	Amount decimal.Decimal
}

// MemberShare is what one member consumed on a single receipt.
type MemberShare struct {
	MemberID string
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
	Items    []ShareLine
}

// ReceiptBreakdown itemizes a receipt per member, including the payer's own items.
// Tax is spread proportionally: member_tax = member_subtotal × (receipt_tax / assigned_subtotal).
//
// Assignments the balance engine would skip are left out here too; the
// anomalies themselves are reported by ComputeBalances.
func ReceiptBreakdown(roster []models.Member, receipt models.Receipt) ([]MemberShare, error) {
	groupPayerID, err := groupPayer(roster)
	if err != nil {
		return nil, err
	}
	payerID, ok := receiptPayer(&receipt, roster, groupPayerID)
	if !ok {
		return nil, nil
	}

	shares := make(map[string]*MemberShare, len(roster))
	for _, m := range roster {
		shares[m.ID] = &MemberShare{MemberID: m.ID}
	}
	add := func(memberID string, item models.Item, amount decimal.Decimal) {
		s, ok := shares[memberID]
		if !ok {
			return
		}
		s.Subtotal = s.Subtotal.Add(amount)
		s.Items = append(s.Items, ShareLine{ItemID: item.ID, Name: item.Name, Amount: amount})
	}

	// Items are walked in receipt order so each member's lines read like the receipt.
	for _, item := range receipt.Items {
		assignment, ok := receipt.Assignments[item.ID]
		if !ok || item.Quantity < 1 || assignment.Validate() != nil {
			continue
		}
		price := item.Price()

		switch assignment.Kind {
		case models.AssignSelf:
			add(payerID, item, price)
		case models.AssignMember:
			add(assignment.TargetMemberID, item, price)
		case models.AssignSplit:
			share := SplitShare(price, len(shares))
			for id := range shares {
				add(id, item, share)
			}
		case models.AssignCustom:
			if assignment.SharesTotal().Sub(price).Abs().GreaterThanOrEqual(ShareTolerance) {
				continue
			}
			for _, s := range assignment.Shares {
				add(s.MemberID, item, s.Amount)
			}
		}
	}

	assigned := decimal.Zero
	for _, s := range shares {
		assigned = assigned.Add(s.Subtotal)
	}

	var out []MemberShare
	seen := make(map[string]bool, len(roster))
	for _, m := range roster {
		s := shares[m.ID]
		if seen[m.ID] || len(s.Items) == 0 {
			continue
		}
		seen[m.ID] = true

		if !assigned.IsZero() && !receipt.Tax.IsZero() {
			s.Tax = s.Subtotal.Mul(receipt.Tax).Div(assigned)
		}
		s.Total = s.Subtotal.Add(s.Tax).Round(2)
		s.Subtotal = s.Subtotal.Round(2)
		s.Tax = s.Tax.Round(2)
		out = append(out, *s)
	}
	return out, nil
}
