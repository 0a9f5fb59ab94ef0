package gesture

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/davidrmellors/receipt-splitter/internal/calculator"
	"github.com/davidrmellors/receipt-splitter/internal/models"
)

var (
	// ErrSelectionRequired is returned when a member pick or custom split
	// intent arrives without the data its secondary step produces.
	ErrSelectionRequired = errors.New("intent requires a selection")
	ErrUnknownMember     = errors.New("member is not in the group")
	ErrPayerSelected     = errors.New("payer cannot be picked; swipe left to keep the item")
	ErrInvalidShares     = errors.New("invalid custom split")
)

// Selection carries the result of a secondary step.
type Selection struct {
	MemberID string
	Shares   []models.Share
}

// ResolveMemberPick turns a chosen member into a Member assignment.
func ResolveMemberPick(roster []models.Member, memberID string) (models.Assignment, error) {
	if memberID == "" {
		return models.Assignment{}, ErrSelectionRequired
	}
	m, ok := models.FindMember(roster, memberID)
	if !ok {
		return models.Assignment{}, fmt.Errorf("%w: %s", ErrUnknownMember, memberID)
	}
	if m.IsPayer {
		return models.Assignment{}, ErrPayerSelected
	}
	return models.MemberAssignment(memberID), nil
}

// ResolveCustomSplit validates entered amounts against an item price and
// turns them into a Custom assignment. Shares must name distinct roster
// members, be non-negative, and sum to within one cent of the price.
func ResolveCustomSplit(price decimal.Decimal, roster []models.Member, shares []models.Share) (models.Assignment, error) {
	if len(shares) == 0 {
		return models.Assignment{}, ErrSelectionRequired
	}

	seen := make(map[string]bool, len(shares))
	kept := make([]models.Share, 0, len(shares))
	total := decimal.Zero
	for _, s := range shares {
		if _, ok := models.FindMember(roster, s.MemberID); !ok {
			return models.Assignment{}, fmt.Errorf("%w: %s", ErrUnknownMember, s.MemberID)
		}
		if seen[s.MemberID] {
			return models.Assignment{}, fmt.Errorf("%w: %s appears twice", ErrInvalidShares, s.MemberID)
		}
		seen[s.MemberID] = true
		if s.Amount.IsNegative() {
			return models.Assignment{}, fmt.Errorf("%w: negative amount for %s", ErrInvalidShares, s.MemberID)
		}
		total = total.Add(s.Amount)
		// Zero shares carry no cost.
		if s.Amount.IsPositive() {
			kept = append(kept, s)
		}
	}

	if total.Sub(price).Abs().GreaterThanOrEqual(calculator.ShareTolerance) {
		return models.Assignment{}, fmt.Errorf("%w: shares total %s, item costs %s",
			ErrInvalidShares, total.StringFixed(2), price.StringFixed(2))
	}
	if len(kept) == 0 {
		return models.Assignment{}, fmt.Errorf("%w: all shares are zero", ErrInvalidShares)
	}
	return models.CustomAssignment(kept), nil
}

// Apply combines a classified intent with the item's current assignment.
//
// None leaves current untouched, including a nil current (unassigned).
// Terminal intents replace it. Member pick and custom split intents are
// resolved from sel; an empty selection is ErrSelectionRequired and the
// current assignment is returned unchanged alongside the error.
func Apply(current *models.Assignment, intent Intent, item models.Item, roster []models.Member, sel Selection) (*models.Assignment, error) {
	var (
		next models.Assignment
		err  error
	)
	switch intent {
	case AssignSelf:
		next = models.SelfAssignment()
	case AssignSplitEven:
		next = models.SplitAssignment()
	case RequestMemberPick:
		next, err = ResolveMemberPick(roster, sel.MemberID)
	case RequestCustomSplit:
		next, err = ResolveCustomSplit(item.Price(), roster, sel.Shares)
	default:
		return current, nil
	}
	if err != nil {
		return current, err
	}
	return &next, nil
}
