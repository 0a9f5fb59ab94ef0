package calculator

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/davidrmellors/receipt-splitter/internal/models"
)

// ErrConfiguration is wrapped by every ConfigurationError.
var ErrConfiguration = errors.New("invalid roster configuration")

// ConfigurationError reports a roster that does not name exactly one payer.
// It is fatal to a single computation and should surface as "balances unavailable".
type ConfigurationError struct {
	PayerCount int
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("roster must have exactly one payer, found %d", e.PayerCount)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// ShareTolerance is how far custom shares may drift from the item price.
// A difference of exactly one cent is already a mismatch.
var ShareTolerance = decimal.New(1, -2)

// Balance represents the settlement position of one group member.
type Balance struct {
	MemberID  string
	TotalOwed decimal.Decimal // Money others owe this member
	TotalOwes decimal.Decimal // Money this member owes others
	Net       decimal.Decimal // TotalOwed - TotalOwes; positive = owed money
}

// Result is the output of a balance computation.
// Warnings lists the records that were skipped or ignored.
type Result struct {
	Balances []Balance
	Warnings []DataAnomaly
}

type accumulator struct {
	owed decimal.Decimal
	owes decimal.Decimal
}

// ComputeBalances computes settlement balances for a group from its receipts.
//
// Algorithm:
//   - Member{target}: target owes the payer the item price
//   - Split: every non-payer owes price/N rounded to the cent, the payer is owed the rest
//   - Custom: every non-payer share is owed to the payer, payer shares are ignored
//   - Self: nothing moves
//
// Accumulators round to cents once, after all receipts are applied. Members
// with nothing owed and nothing owing are omitted. Output follows roster order.
func ComputeBalances(roster []models.Member, receipts []models.Receipt) (Result, error) {
	return ComputeBalancesWithPayments(roster, receipts, nil)
}

// ComputeBalancesWithPayments is ComputeBalances followed by recorded payments.
// A payment from X to Y adds the amount to X's owed and to Y's owes.
func ComputeBalancesWithPayments(roster []models.Member, receipts []models.Receipt, payments []models.Payment) (Result, error) {
	payerID, err := groupPayer(roster)
	if err != nil {
		return Result{}, err
	}

	acc := make(map[string]*accumulator, len(roster))
	for _, m := range roster {
		acc[m.ID] = &accumulator{}
	}

	var warnings []DataAnomaly
	report := func(a DataAnomaly) {
		warnings = append(warnings, a)
	}

	for i := range receipts {
		applyReceipt(&receipts[i], roster, payerID, acc, report)
	}
	for _, p := range payments {
		applyPayment(p, acc, report)
	}

	balances := make([]Balance, 0, len(roster))
	seen := make(map[string]bool, len(roster))
	for _, m := range roster {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true

		a := acc[m.ID]
		owed := a.owed.Round(2)
		owes := a.owes.Round(2)
		if !owed.IsPositive() && !owes.IsPositive() {
			continue
		}
		balances = append(balances, Balance{
			MemberID:  m.ID,
			TotalOwed: owed,
			TotalOwes: owes,
			Net:       owed.Sub(owes),
		})
	}

	return Result{Balances: balances, Warnings: warnings}, nil
}

// groupPayer returns the ID of the single roster member flagged IsPayer.
func groupPayer(roster []models.Member) (string, error) {
	var payerID string
	count := 0
	for _, m := range roster {
		if m.IsPayer {
			payerID = m.ID
			count++
		}
	}
	if count != 1 {
		return "", &ConfigurationError{PayerCount: count}
	}
	return payerID, nil
}

// receiptPayer resolves who fronted the money for one receipt.
func receiptPayer(r *models.Receipt, roster []models.Member, groupPayerID string) (string, bool) {
	if r.PaidByMemberID == "" {
		return groupPayerID, true
	}
	if _, ok := models.FindMember(roster, r.PaidByMemberID); !ok {
		return "", false
	}
	return r.PaidByMemberID, true
}

func applyReceipt(r *models.Receipt, roster []models.Member, groupPayerID string, acc map[string]*accumulator, report func(DataAnomaly)) {
	payerID, ok := receiptPayer(r, roster, groupPayerID)
	if !ok {
		report(DataAnomaly{
			Kind:      AnomalyUnknownPayer,
			ReceiptID: r.ID,
			MemberID:  r.PaidByMemberID,
			Detail:    "receipt payer is not a group member; receipt skipped",
		})
		return
	}

	// Sorted keys keep the warnings list stable across calls.
	itemIDs := make([]string, 0, len(r.Assignments))
	for id := range r.Assignments {
		itemIDs = append(itemIDs, id)
	}
	sort.Strings(itemIDs)

	for _, itemID := range itemIDs {
		assignment := r.Assignments[itemID]
		anomaly := func(kind AnomalyKind, memberID, detail string) {
			report(DataAnomaly{Kind: kind, ReceiptID: r.ID, ItemID: itemID, MemberID: memberID, Detail: detail})
		}

		item, ok := r.ItemByID(itemID)
		if !ok {
			anomaly(AnomalyDanglingItem, "", "assignment references an item that is not on the receipt")
			continue
		}
		if item.Quantity < 1 {
			anomaly(AnomalyInvalidQuantity, "", fmt.Sprintf("quantity %d is below 1", item.Quantity))
			continue
		}
		if err := assignment.Validate(); err != nil {
			anomaly(AnomalyInvalidAssignment, "", err.Error())
			continue
		}

		price := item.Price()

		switch assignment.Kind {
		case models.AssignSelf:
			// Payer keeps the cost.

		case models.AssignMember:
			target := assignment.TargetMemberID
			if target == payerID {
				anomaly(AnomalySelfTarget, target, "member assignment targets the payer; use self instead")
				continue
			}
			a, ok := acc[target]
			if !ok {
				anomaly(AnomalyUnknownMember, target, "assigned member is not in the group")
				continue
			}
			a.owes = a.owes.Add(price)
			acc[payerID].owed = acc[payerID].owed.Add(price)

		case models.AssignSplit:
			share := SplitShare(price, len(acc))
			for id, a := range acc {
				if id != payerID {
					a.owes = a.owes.Add(share)
				}
			}
			others := decimal.NewFromInt(int64(len(acc) - 1))
			acc[payerID].owed = acc[payerID].owed.Add(share.Mul(others))

		case models.AssignCustom:
			total := assignment.SharesTotal()
			if total.Sub(price).Abs().GreaterThanOrEqual(ShareTolerance) {
				anomaly(AnomalyCustomSumMismatch, "",
					fmt.Sprintf("shares total %s but item price is %s", total.StringFixed(2), price.StringFixed(2)))
				continue
			}
			for _, s := range assignment.Shares {
				if s.MemberID == payerID {
					continue
				}
				a, ok := acc[s.MemberID]
				if !ok {
					anomaly(AnomalyUnknownMember, s.MemberID, "custom share names a member who is not in the group")
					continue
				}
				a.owes = a.owes.Add(s.Amount)
				acc[payerID].owed = acc[payerID].owed.Add(s.Amount)
			}
		}
	}
}

func applyPayment(p models.Payment, acc map[string]*accumulator, report func(DataAnomaly)) {
	invalid := func(detail string) {
		report(DataAnomaly{Kind: AnomalyInvalidPayment, PaymentID: p.ID, MemberID: p.FromMemberID, Detail: detail})
	}
	if !p.Amount.IsPositive() {
		invalid("payment amount must be positive")
		return
	}
	if p.FromMemberID == p.ToMemberID {
		invalid("payment sender and recipient are the same member")
		return
	}
	from, ok := acc[p.FromMemberID]
	if !ok {
		invalid("payment sender is not in the group")
		return
	}
	to, ok := acc[p.ToMemberID]
	if !ok {
		invalid("payment recipient is not in the group")
		return
	}
	from.owed = from.owed.Add(p.Amount)
	to.owes = to.owes.Add(p.Amount)
}

// SplitShare is one member's portion of an even split, rounded half away
// from zero to the cent. Shares may not re-sum exactly to the price.
func SplitShare(price decimal.Decimal, memberCount int) decimal.Decimal {
	if memberCount <= 0 {
		return decimal.Zero
	}
	return price.Div(decimal.NewFromInt(int64(memberCount))).Round(2)
}

// DebtEdge represents a transfer that settles part of the group's balances.
type DebtEdge struct {
	From   string // Member who owes
	To     string // Member who is owed
	Amount decimal.Decimal
}

// SimplifyDebts turns net balances into a short list of transfers.
// Debtors and creditors are matched greedily, largest amounts first.
func SimplifyDebts(balances []Balance) []DebtEdge {
	type position struct {
		memberID string
		amount   decimal.Decimal
	}

	var creditors, debtors []position
	for _, b := range balances {
		if b.Net.IsPositive() {
			creditors = append(creditors, position{b.MemberID, b.Net})
		} else if b.Net.IsNegative() {
			debtors = append(debtors, position{b.MemberID, b.Net.Neg()})
		}
	}

	byAmount := func(ps []position) func(i, j int) bool {
		return func(i, j int) bool {
			if !ps[i].amount.Equal(ps[j].amount) {
				return ps[i].amount.GreaterThan(ps[j].amount)
			}
			return ps[i].memberID < ps[j].memberID
		}
	}
	sort.SliceStable(creditors, byAmount(creditors))
	sort.SliceStable(debtors, byAmount(debtors))

	var edges []DebtEdge
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		amount := decimal.Min(debtors[i].amount, creditors[j].amount)
		if amount.IsPositive() {
			edges = append(edges, DebtEdge{
				From:   debtors[i].memberID,
				To:     creditors[j].memberID,
				Amount: amount,
			})
		}

		debtors[i].amount = debtors[i].amount.Sub(amount)
		creditors[j].amount = creditors[j].amount.Sub(amount)

		if !debtors[i].amount.IsPositive() {
			i++
		}
		if !creditors[j].amount.IsPositive() {
			j++
		}
	}

	return edges
}
