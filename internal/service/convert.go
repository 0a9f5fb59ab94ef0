package service

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidrmellors/receipt-splitter/internal/calculator"
	"github.com/davidrmellors/receipt-splitter/internal/models"
	"github.com/davidrmellors/receipt-splitter/pkg/api"
)

const dateLayout = "2006-01-02"

func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// parseMoney reads a decimal amount. An empty string is zero.
func parseMoney(field, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, invalidArgument("%s: %q is not an amount", field, s)
	}
	return d, nil
}

// parseDate reads a YYYY-MM-DD date. An empty string is today (UTC).
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC().Truncate(24 * time.Hour), nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, invalidArgument("date: %q is not YYYY-MM-DD", s)
	}
	return t, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func toAPIUser(u *models.User) *api.User {
	return &api.User{
		Id:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt,
	}
}

func toAPIMember(m models.Member) *api.Member {
	return &api.Member{
		Id:          m.ID,
		UserId:      m.UserID,
		DisplayName: m.DisplayName,
		IsPayer:     m.IsPayer,
		JoinedAt:    m.JoinedAt,
	}
}

func toAPIGroup(g *models.Group, roster []models.Member) *api.Group {
	members := make([]*api.Member, len(roster))
	for i, m := range roster {
		members[i] = toAPIMember(m)
	}
	return &api.Group{
		Id:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		CreatedBy:   g.CreatedBy,
		CreatedAt:   g.CreatedAt,
		Members:     members,
	}
}

func toAPIItem(item models.Item) *api.Item {
	return &api.Item{
		Id:        item.ID,
		Name:      item.Name,
		UnitPrice: formatMoney(item.UnitPrice),
		Quantity:  int32(item.Quantity),
		Category:  item.Category,
	}
}

// fromAPIItems validates an item list. Quantity defaults to 1.
func fromAPIItems(in []*api.Item) ([]models.Item, error) {
	if len(in) == 0 {
		return nil, invalidArgument("at least one item required")
	}
	items := make([]models.Item, 0, len(in))
	seen := make(map[string]bool, len(in))
	for i, it := range in {
		if it == nil || strings.TrimSpace(it.Name) == "" {
			return nil, invalidArgument("item %d: name required", i+1)
		}
		price, err := parseMoney("unit_price", it.UnitPrice)
		if err != nil {
			return nil, err
		}
		if price.IsNegative() {
			return nil, invalidArgument("item %d: unit price cannot be negative", i+1)
		}
		quantity := int(it.Quantity)
		if quantity == 0 {
			quantity = 1
		}
		if quantity < 1 {
			return nil, invalidArgument("item %d: quantity must be at least 1", i+1)
		}
		if it.Id != "" {
			if seen[it.Id] {
				return nil, invalidArgument("item %d: duplicate id %s", i+1, it.Id)
			}
			seen[it.Id] = true
		}
		items = append(items, models.Item{
			ID:        it.Id,
			Name:      strings.TrimSpace(it.Name),
			UnitPrice: price,
			Quantity:  quantity,
			Category:  it.Category,
		})
	}
	return items, nil
}

func toAPIAssignment(a models.Assignment) *api.Assignment {
	out := &api.Assignment{Type: string(a.Kind), MemberId: a.TargetMemberID}
	for _, s := range a.Shares {
		out.Shares = append(out.Shares, &api.Share{MemberId: s.MemberID, Amount: formatMoney(s.Amount)})
	}
	return out
}

func fromAPIShares(in []*api.Share) ([]models.Share, error) {
	shares := make([]models.Share, 0, len(in))
	for _, s := range in {
		if s == nil {
			continue
		}
		amount, err := parseMoney("share amount", s.Amount)
		if err != nil {
			return nil, err
		}
		shares = append(shares, models.Share{MemberID: s.MemberId, Amount: amount})
	}
	return shares, nil
}

func fromAPIAssignment(in *api.Assignment) (models.Assignment, error) {
	if in == nil {
		return models.Assignment{}, invalidArgument("assignment required")
	}
	kind, err := models.ParseAssignmentKind(in.Type)
	if err != nil {
		return models.Assignment{}, invalidArgument("%v", err)
	}
	shares, err := fromAPIShares(in.Shares)
	if err != nil {
		return models.Assignment{}, err
	}
	a := models.Assignment{Kind: kind}
	switch kind {
	case models.AssignMember:
		a.TargetMemberID = in.MemberId
	case models.AssignCustom:
		a.Shares = shares
	}
	if err := a.Validate(); err != nil {
		return models.Assignment{}, invalidArgument("%v", err)
	}
	return a, nil
}

func toAPIReceipt(r *models.Receipt) *api.Receipt {
	items := make([]*api.Item, len(r.Items))
	for i, item := range r.Items {
		items[i] = toAPIItem(item)
	}
	var assignments map[string]*api.Assignment
	if len(r.Assignments) > 0 {
		assignments = make(map[string]*api.Assignment, len(r.Assignments))
		for itemID, a := range r.Assignments {
			assignments[itemID] = toAPIAssignment(a)
		}
	}
	return &api.Receipt{
		Id:             r.ID,
		GroupId:        r.GroupID,
		StoreName:      r.StoreName,
		Date:           formatDate(r.Date),
		Items:          items,
		Assignments:    assignments,
		Status:         string(r.Status),
		PaidByMemberId: r.PaidByMemberID,
		ImageUrl:       r.ImageURL,
		Subtotal:       formatMoney(r.Subtotal),
		Tax:            formatMoney(r.Tax),
		Total:          formatMoney(r.Total),
		UploadedBy:     r.UploadedBy,
		CreatedAt:      r.CreatedAt,
	}
}

func toAPIPayment(p models.Payment) *api.Payment {
	return &api.Payment{
		Id:           p.ID,
		GroupId:      p.GroupID,
		FromMemberId: p.FromMemberID,
		ToMemberId:   p.ToMemberID,
		Amount:       formatMoney(p.Amount),
		Note:         p.Note,
		CreatedBy:    p.CreatedBy,
		CreatedAt:    p.CreatedAt,
	}
}

func toAPIBalances(balances []calculator.Balance, roster []models.Member) []*api.Balance {
	out := make([]*api.Balance, len(balances))
	for i, b := range balances {
		m, _ := models.FindMember(roster, b.MemberID)
		out[i] = &api.Balance{
			MemberId:    b.MemberID,
			DisplayName: m.DisplayName,
			TotalOwed:   formatMoney(b.TotalOwed),
			TotalOwes:   formatMoney(b.TotalOwes),
			Net:         formatMoney(b.Net),
		}
	}
	return out
}

func toAPIDebts(edges []calculator.DebtEdge) []*api.Debt {
	out := make([]*api.Debt, len(edges))
	for i, e := range edges {
		out[i] = &api.Debt{FromMemberId: e.From, ToMemberId: e.To, Amount: formatMoney(e.Amount)}
	}
	return out
}

func toAPIWarnings(anomalies []calculator.DataAnomaly) []*api.Warning {
	out := make([]*api.Warning, len(anomalies))
	for i, a := range anomalies {
		out[i] = &api.Warning{
			Kind:      string(a.Kind),
			ReceiptId: a.ReceiptID,
			ItemId:    a.ItemID,
			PaymentId: a.PaymentID,
			MemberId:  a.MemberID,
			Detail:    a.Detail,
		}
	}
	return out
}

func toAPIBreakdown(shares []calculator.MemberShare) []*api.MemberShare {
	out := make([]*api.MemberShare, 0, len(shares))
	for _, s := range shares {
		lines := make([]*api.ShareLine, len(s.Items))
		for i, l := range s.Items {
			lines[i] = &api.ShareLine{ItemId: l.ItemID, Name: l.Name, Amount: formatMoney(l.Amount)}
		}
		out = append(out, &api.MemberShare{
			MemberId: s.MemberID,
			Subtotal: formatMoney(s.Subtotal),
			Tax:      formatMoney(s.Tax),
			Total:    formatMoney(s.Total),
			Items:    lines,
		})
	}
	return out
}
