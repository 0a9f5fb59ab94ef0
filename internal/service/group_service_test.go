package service

import (
	"context"
	"slices"
	"strings"
	"testing"

	"connectrpc.com/connect"

	"github.com/davidrmellors/receipt-splitter/internal/events"
	"github.com/davidrmellors/receipt-splitter/internal/models"
	"github.com/davidrmellors/receipt-splitter/internal/storage"
	"github.com/davidrmellors/receipt-splitter/pkg/api"
)

func TestAuthService(t *testing.T) {
	env := setupTestServer(t, ReceiptOptions{}, nil)
	ctx := context.Background()

	token := env.register(t, "Alice", "alice@example.com")

	t.Run("duplicate email", func(t *testing.T) {
		_, err := env.auth.Register(ctx, connect.NewRequest(&api.RegisterRequest{
			Email: "alice@example.com", DisplayName: "Alice 2", Password: "password123",
		}))
		assertCode(t, err, connect.CodeAlreadyExists)
	})

	t.Run("weak password", func(t *testing.T) {
		_, err := env.auth.Register(ctx, connect.NewRequest(&api.RegisterRequest{
			Email: "short@example.com", DisplayName: "Short", Password: "short",
		}))
		assertCode(t, err, connect.CodeInvalidArgument)
	})

	t.Run("login", func(t *testing.T) {
		resp, err := env.auth.Login(ctx, connect.NewRequest(&api.LoginRequest{
			Email: "alice@example.com", Password: "password123",
		}))
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		if resp.Msg.Token == "" || resp.Msg.User.DisplayName != "Alice" {
			t.Errorf("unexpected login response: %+v", resp.Msg)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := env.auth.Login(ctx, connect.NewRequest(&api.LoginRequest{
			Email: "alice@example.com", Password: "wrong-password",
		}))
		assertCode(t, err, connect.CodeUnauthenticated)
	})

	t.Run("current user", func(t *testing.T) {
		resp, err := env.auth.GetCurrentUser(ctx, as(token, &api.GetCurrentUserRequest{}))
		if err != nil {
			t.Fatalf("GetCurrentUser failed: %v", err)
		}
		if resp.Msg.User.Email != "alice@example.com" {
			t.Errorf("expected alice, got %q", resp.Msg.User.Email)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		_, err := env.groups.ListGroups(ctx, connect.NewRequest(&api.ListGroupsRequest{}))
		assertCode(t, err, connect.CodeUnauthenticated)
	})
}

func TestCreateGroup(t *testing.T) {
	env := setupTestServer(t, ReceiptOptions{}, nil)
	ctx := context.Background()
	token := env.register(t, "Alice", "alice@example.com")

	t.Run("creator joins as payer", func(t *testing.T) {
		resp, err := env.groups.CreateGroup(ctx, as(token, &api.CreateGroupRequest{
			Name:        "  Trip  ",
			Description: "Lake house",
		}))
		if err != nil {
			t.Fatalf("CreateGroup failed: %v", err)
		}
		g := resp.Msg.Group
		if g.Name != "Trip" {
			t.Errorf("expected trimmed name, got %q", g.Name)
		}
		if len(g.Members) != 1 {
			t.Fatalf("expected 1 member, got %d", len(g.Members))
		}
		if !g.Members[0].IsPayer || g.Members[0].DisplayName != "Alice" {
			t.Errorf("unexpected creator member: %+v", g.Members[0])
		}
	})

	t.Run("explicit display name", func(t *testing.T) {
		resp, err := env.groups.CreateGroup(ctx, as(token, &api.CreateGroupRequest{
			Name:        "Office",
			DisplayName: "Al",
		}))
		if err != nil {
			t.Fatalf("CreateGroup failed: %v", err)
		}
		if got := resp.Msg.Group.Members[0].DisplayName; got != "Al" {
			t.Errorf("expected Al, got %q", got)
		}
	})

	t.Run("name required", func(t *testing.T) {
		_, err := env.groups.CreateGroup(ctx, as(token, &api.CreateGroupRequest{Name: "   "}))
		assertCode(t, err, connect.CodeInvalidArgument)
	})

	t.Run("list groups", func(t *testing.T) {
		resp, err := env.groups.ListGroups(ctx, as(token, &api.ListGroupsRequest{}))
		if err != nil {
			t.Fatalf("ListGroups failed: %v", err)
		}
		if len(resp.Msg.Groups) != 2 {
			t.Fatalf("expected 2 groups, got %d", len(resp.Msg.Groups))
		}
		for _, g := range resp.Msg.Groups {
			if len(g.Members) != 1 {
				t.Errorf("group %s: expected roster of 1, got %d", g.Name, len(g.Members))
			}
		}
	})
}

func TestGroupAccess(t *testing.T) {
	env := setupTestServer(t, ReceiptOptions{}, nil)
	ctx := context.Background()
	f := newFixture(t, env)
	outsider := env.register(t, "Eve", "eve@example.com")

	t.Run("outsider denied", func(t *testing.T) {
		_, err := env.groups.GetGroup(ctx, as(outsider, &api.GetGroupRequest{GroupId: f.groupID}))
		assertCode(t, err, connect.CodePermissionDenied)
	})

	t.Run("unknown group", func(t *testing.T) {
		_, err := env.groups.GetGroup(ctx, as(f.aliceToken, &api.GetGroupRequest{GroupId: "nope"}))
		assertCode(t, err, connect.CodeNotFound)
	})

	t.Run("missing group id", func(t *testing.T) {
		_, err := env.groups.GetGroup(ctx, as(f.aliceToken, &api.GetGroupRequest{}))
		assertCode(t, err, connect.CodeInvalidArgument)
	})

	t.Run("linked member sees group", func(t *testing.T) {
		resp, err := env.groups.GetGroup(ctx, as(f.bobToken, &api.GetGroupRequest{GroupId: f.groupID}))
		if err != nil {
			t.Fatalf("GetGroup failed: %v", err)
		}
		var names []string
		for _, m := range resp.Msg.Group.Members {
			names = append(names, m.DisplayName)
		}
		if !slices.Equal(names, []string{"Alice", "Bob", "Carol"}) {
			t.Errorf("expected roster in join order, got %v", names)
		}
	})
}

func TestAddMember(t *testing.T) {
	env := setupTestServer(t, ReceiptOptions{}, nil)
	ctx := context.Background()
	f := newFixture(t, env)
	env.register(t, "Dan", "dan@example.com")

	tests := []struct {
		name string
		req  *api.AddMemberRequest
		want connect.Code
	}{
		{"already a member", &api.AddMemberRequest{GroupId: f.groupID, Email: "bob@example.com"}, connect.CodeAlreadyExists},
		{"unknown email", &api.AddMemberRequest{GroupId: f.groupID, Email: "ghost@example.com"}, connect.CodeNotFound},
		{"no name", &api.AddMemberRequest{GroupId: f.groupID, DisplayName: "  "}, connect.CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.groups.AddMember(ctx, as(f.aliceToken, tt.req))
			assertCode(t, err, tt.want)
		})
	}

	t.Run("email with nickname", func(t *testing.T) {
		resp, err := env.groups.AddMember(ctx, as(f.bobToken, &api.AddMemberRequest{
			GroupId:     f.groupID,
			Email:       "dan@example.com",
			DisplayName: "Danny",
		}))
		if err != nil {
			t.Fatalf("AddMember failed: %v", err)
		}
		m := resp.Msg.Member
		if m.DisplayName != "Danny" || m.UserId == "" || m.IsPayer {
			t.Errorf("unexpected member: %+v", m)
		}
	})
}

func TestRemoveMember(t *testing.T) {
	env := setupTestServer(t, ReceiptOptions{}, nil)
	ctx := context.Background()
	f := newFixture(t, env)

	remove := func(token, memberID string) error {
		_, err := env.groups.RemoveMember(ctx, as(token, &api.RemoveMemberRequest{GroupId: f.groupID, MemberId: memberID}))
		return err
	}

	assertCode(t, remove(f.bobToken, f.carol), connect.CodePermissionDenied)
	assertCode(t, remove(f.aliceToken, f.alice), connect.CodeFailedPrecondition)
	assertCode(t, remove(f.aliceToken, "missing"), connect.CodeNotFound)

	// Bob becomes payer: he can no longer leave until someone else pays.
	if _, err := env.groups.SetPayer(ctx, as(f.aliceToken, &api.SetPayerRequest{GroupId: f.groupID, MemberId: f.bob})); err != nil {
		t.Fatalf("SetPayer failed: %v", err)
	}
	assertCode(t, remove(f.bobToken, f.bob), connect.CodeFailedPrecondition)

	resp, err := env.groups.SetPayer(ctx, as(f.aliceToken, &api.SetPayerRequest{GroupId: f.groupID, MemberId: f.alice}))
	if err != nil {
		t.Fatalf("SetPayer failed: %v", err)
	}
	payers := 0
	for _, m := range resp.Msg.Group.Members {
		if m.IsPayer {
			payers++
		}
	}
	if payers != 1 {
		t.Errorf("expected exactly one payer, got %d", payers)
	}

	if err := remove(f.bobToken, f.bob); err != nil {
		t.Fatalf("member leaving failed: %v", err)
	}
	if err := remove(f.aliceToken, f.carol); err != nil {
		t.Fatalf("creator removing placeholder failed: %v", err)
	}

	_, err = env.groups.GetGroup(ctx, as(f.bobToken, &api.GetGroupRequest{GroupId: f.groupID}))
	assertCode(t, err, connect.CodePermissionDenied)
}

func TestDeleteGroup(t *testing.T) {
	env := setupTestServer(t, ReceiptOptions{}, nil)
	ctx := context.Background()
	f := newFixture(t, env)

	_, err := env.groups.DeleteGroup(ctx, as(f.bobToken, &api.DeleteGroupRequest{GroupId: f.groupID}))
	assertCode(t, err, connect.CodePermissionDenied)

	if _, err := env.groups.DeleteGroup(ctx, as(f.aliceToken, &api.DeleteGroupRequest{GroupId: f.groupID})); err != nil {
		t.Fatalf("DeleteGroup failed: %v", err)
	}

	_, err = env.groups.GetGroup(ctx, as(f.aliceToken, &api.GetGroupRequest{GroupId: f.groupID}))
	assertCode(t, err, connect.CodeNotFound)

	if got := env.events.types(); got[len(got)-1] != events.GroupUpdated {
		t.Errorf("expected a trailing %s event, got %v", events.GroupUpdated, got)
	}
}

// createDinner records a receipt paid by the group payer: a 10.00 starter
// split three ways and a 4.50 drink for bob.
func createDinner(t *testing.T, env *testEnv, f fixture) *api.Receipt {
	t.Helper()
	resp, err := env.receipts.CreateReceipt(context.Background(), as(f.aliceToken, &api.CreateReceiptRequest{
		GroupId:   f.groupID,
		StoreName: "Bistro",
		Date:      "2024-03-01",
		Items: []*api.Item{
			{Id: "starter", Name: "Nachos", UnitPrice: "10.00", Quantity: 1},
			{Id: "drink", Name: "Lemonade", UnitPrice: "4.50", Quantity: 1},
		},
		Assignments: map[string]*api.Assignment{
			"starter": {Type: "split"},
			"drink":   {Type: "member", MemberId: f.bob},
		},
		Tax: "1.45",
	}))
	if err != nil {
		t.Fatalf("CreateReceipt failed: %v", err)
	}
	return resp.Msg.Receipt
}

func balancesByMember(t *testing.T, env *testEnv, token string, req *api.GetGroupBalancesRequest) (map[string]*api.Balance, *api.GetGroupBalancesResponse) {
	t.Helper()
	resp, err := env.groups.GetGroupBalances(context.Background(), as(token, req))
	if err != nil {
		t.Fatalf("GetGroupBalances failed: %v", err)
	}
	out := make(map[string]*api.Balance, len(resp.Msg.Balances))
	for _, b := range resp.Msg.Balances {
		out[b.MemberId] = b
	}
	return out, resp.Msg
}

func assertBalance(t *testing.T, b *api.Balance, owed, owes, net string) {
	t.Helper()
	if b == nil {
		t.Fatalf("expected a balance (owed %s, owes %s), got none", owed, owes)
	}
	if b.TotalOwed != owed || b.TotalOwes != owes || b.Net != net {
		t.Errorf("%s: expected owed=%s owes=%s net=%s, got owed=%s owes=%s net=%s",
			b.DisplayName, owed, owes, net, b.TotalOwed, b.TotalOwes, b.Net)
	}
}

func TestGetGroupBalances(t *testing.T) {
	env := setupTestServer(t, ReceiptOptions{}, nil)
	ctx := context.Background()
	f := newFixture(t, env)
	receipt := createDinner(t, env, f)

	balances, msg := balancesByMember(t, env, f.bobToken, &api.GetGroupBalancesRequest{GroupId: f.groupID})
	assertBalance(t, balances[f.alice], "11.16", "0.00", "11.16")
	assertBalance(t, balances[f.bob], "0.00", "7.83", "-7.83")
	assertBalance(t, balances[f.carol], "0.00", "3.33", "-3.33")
	if balances[f.carol].DisplayName != "Carol" {
		t.Errorf("expected display name Carol, got %q", balances[f.carol].DisplayName)
	}
	if len(msg.Warnings) != 0 {
		t.Errorf("expected no warnings, got %+v", msg.Warnings)
	}

	wantDebts := []api.Debt{
		{FromMemberId: f.bob, ToMemberId: f.alice, Amount: "7.83"},
		{FromMemberId: f.carol, ToMemberId: f.alice, Amount: "3.33"},
	}
	if len(msg.Debts) != len(wantDebts) {
		t.Fatalf("expected %d debts, got %d", len(wantDebts), len(msg.Debts))
	}
	for i, want := range wantDebts {
		if *msg.Debts[i] != want {
			t.Errorf("debt %d: expected %+v, got %+v", i, want, *msg.Debts[i])
		}
	}

	t.Run("payment settles bob", func(t *testing.T) {
		_, err := env.groups.RecordPayment(ctx, as(f.bobToken, &api.RecordPaymentRequest{
			GroupId:      f.groupID,
			FromMemberId: f.bob,
			ToMemberId:   f.alice,
			Amount:       "7.83",
			Note:         "venmo",
		}))
		if err != nil {
			t.Fatalf("RecordPayment failed: %v", err)
		}

		balances, msg := balancesByMember(t, env, f.aliceToken, &api.GetGroupBalancesRequest{GroupId: f.groupID})
		assertBalance(t, balances[f.alice], "11.16", "7.83", "3.33")
		assertBalance(t, balances[f.bob], "7.83", "7.83", "0.00")
		assertBalance(t, balances[f.carol], "0.00", "3.33", "-3.33")

		if len(msg.Debts) != 1 || msg.Debts[0].FromMemberId != f.carol || msg.Debts[0].Amount != "3.33" {
			t.Errorf("expected only carol -> alice 3.33, got %+v", msg.Debts)
		}

		payments, err := env.groups.ListPayments(ctx, as(f.aliceToken, &api.ListPaymentsRequest{GroupId: f.groupID}))
		if err != nil {
			t.Fatalf("ListPayments failed: %v", err)
		}
		if len(payments.Msg.Payments) != 1 || payments.Msg.Payments[0].Note != "venmo" {
			t.Errorf("unexpected payments: %+v", payments.Msg.Payments)
		}
	})

	t.Run("settled receipts excluded", func(t *testing.T) {
		_, err := env.receipts.SetReceiptStatus(ctx, as(f.aliceToken, &api.SetReceiptStatusRequest{
			ReceiptId: receipt.Id,
			Status:    string(models.ReceiptSettled),
		}))
		if err != nil {
			t.Fatalf("SetReceiptStatus failed: %v", err)
		}

		// Only the payment is left: bob is owed 7.83 by alice.
		balances, _ := balancesByMember(t, env, f.aliceToken, &api.GetGroupBalancesRequest{GroupId: f.groupID})
		assertBalance(t, balances[f.alice], "0.00", "7.83", "-7.83")
		assertBalance(t, balances[f.bob], "7.83", "0.00", "7.83")
		if _, ok := balances[f.carol]; ok {
			t.Errorf("expected carol to be omitted, got %+v", balances[f.carol])
		}

		balances, _ = balancesByMember(t, env, f.aliceToken, &api.GetGroupBalancesRequest{GroupId: f.groupID, IncludeSettled: true})
		assertBalance(t, balances[f.alice], "11.16", "7.83", "3.33")
	})
}

func TestGetGroupBalancesAnomalies(t *testing.T) {
	env := setupTestServer(t, ReceiptOptions{}, nil)
	ctx := context.Background()
	f := newFixture(t, env)

	_, err := env.receipts.CreateReceipt(ctx, as(f.aliceToken, &api.CreateReceiptRequest{
		GroupId: f.groupID,
		Items:   []*api.Item{{Id: "cake", Name: "Cake", UnitPrice: "6.00"}},
		Assignments: map[string]*api.Assignment{
			"cake": {Type: "member", MemberId: f.carol},
		},
	}))
	if err != nil {
		t.Fatalf("CreateReceipt failed: %v", err)
	}
	if _, err := env.groups.RemoveMember(ctx, as(f.aliceToken, &api.RemoveMemberRequest{GroupId: f.groupID, MemberId: f.carol})); err != nil {
		t.Fatalf("RemoveMember failed: %v", err)
	}

	balances, msg := balancesByMember(t, env, f.aliceToken, &api.GetGroupBalancesRequest{GroupId: f.groupID})
	if len(balances) != 0 {
		t.Errorf("expected no balances, got %+v", msg.Balances)
	}
	if len(msg.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %+v", msg.Warnings)
	}
	w := msg.Warnings[0]
	if w.Kind != "unknown_member" || w.ItemId != "cake" || w.MemberId != f.carol {
		t.Errorf("unexpected warning: %+v", w)
	}
	if n := env.observer.count(env.observer.anomalies, "unknown_member"); n != 1 {
		t.Errorf("expected 1 observed anomaly, got %d", n)
	}
}

// noPayerStore hides the payer flag, as if the roster had been corrupted.
type noPayerStore struct {
	storage.Store
}

func (s noPayerStore) ListMembers(ctx context.Context, groupID string) ([]models.Member, error) {
	roster, err := s.Store.ListMembers(ctx, groupID)
	for i := range roster {
		roster[i].IsPayer = false
	}
	return roster, err
}

func TestGetGroupBalancesWithoutPayer(t *testing.T) {
	env := setupTestServer(t, ReceiptOptions{}, func(s storage.Store) storage.Store {
		return noPayerStore{Store: s}
	})
	f := newFixture(t, env)

	_, err := env.groups.GetGroupBalances(context.Background(), as(f.aliceToken, &api.GetGroupBalancesRequest{GroupId: f.groupID}))
	assertCode(t, err, connect.CodeFailedPrecondition)
	if !strings.Contains(err.Error(), "balances unavailable") {
		t.Errorf("expected balances unavailable, got %v", err)
	}
}

func TestRecordPaymentValidation(t *testing.T) {
	env := setupTestServer(t, ReceiptOptions{}, nil)
	f := newFixture(t, env)

	tests := []struct {
		name     string
		from, to string
		amount   string
	}{
		{"zero amount", f.bob, f.alice, "0"},
		{"negative amount", f.bob, f.alice, "-5.00"},
		{"rounds to zero", f.bob, f.alice, "0.004"},
		{"not a number", f.bob, f.alice, "five"},
		{"same member", f.bob, f.bob, "5.00"},
		{"unknown member", f.bob, "ghost", "5.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.groups.RecordPayment(context.Background(), as(f.aliceToken, &api.RecordPaymentRequest{
				GroupId:      f.groupID,
				FromMemberId: tt.from,
				ToMemberId:   tt.to,
				Amount:       tt.amount,
			}))
			assertCode(t, err, connect.CodeInvalidArgument)
		})
	}

	t.Run("amount rounded to cents", func(t *testing.T) {
		resp, err := env.groups.RecordPayment(context.Background(), as(f.aliceToken, &api.RecordPaymentRequest{
			GroupId:      f.groupID,
			FromMemberId: f.carol,
			ToMemberId:   f.alice,
			Amount:       "2.005",
		}))
		if err != nil {
			t.Fatalf("RecordPayment failed: %v", err)
		}
		if resp.Msg.Payment.Amount != "2.01" {
			t.Errorf("expected 2.01, got %s", resp.Msg.Payment.Amount)
		}
		if got := env.events.types(); !slices.Contains(got, events.PaymentRecorded) {
			t.Errorf("expected %s event, got %v", events.PaymentRecorded, got)
		}

		_, msg := balancesByMember(t, env, f.aliceToken, &api.GetGroupBalancesRequest{GroupId: f.groupID})
		if len(msg.Warnings) != 0 {
			t.Errorf("expected no warnings for recorded payments, got %+v", msg.Warnings)
		}
	})
}
