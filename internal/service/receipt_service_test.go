package service

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/shopspring/decimal"

	"github.com/davidrmellors/receipt-splitter/internal/events"
	"github.com/davidrmellors/receipt-splitter/internal/models"
	"github.com/davidrmellors/receipt-splitter/internal/receiptparser"
	"github.com/davidrmellors/receipt-splitter/pkg/api"
)

func TestParseReceipt(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		images := &stubImages{}
		env := setupTestServer(t, ReceiptOptions{
			Parser: stubParser{result: &receiptparser.ParsedReceipt{
				StoreName: "Corner Deli",
				Date:      time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC),
				Items: []models.Item{
					{Name: "Bagel", UnitPrice: decimal.RequireFromString("2.5"), Quantity: 2, Category: "food"},
					{Name: "Coffee", UnitPrice: decimal.RequireFromString("3.25"), Quantity: 1, Category: "drink"},
				},
				Subtotal: decimal.RequireFromString("8.25"),
				Tax:      decimal.RequireFromString("0.66"),
				Total:    decimal.RequireFromString("8.91"),
			}},
			Images: images,
		}, nil)
		f := newFixture(t, env)

		resp, err := env.receipts.ParseReceipt(ctx, as(f.bobToken, &api.ParseReceiptRequest{
			GroupId:    f.groupID,
			Image:      jpegImage,
			StoreImage: true,
		}))
		if err != nil {
			t.Fatalf("ParseReceipt failed: %v", err)
		}
		msg := resp.Msg
		if msg.StoreName != "Corner Deli" || msg.Date != "2024-05-17" || msg.Total != "8.91" {
			t.Errorf("unexpected header: %+v", msg)
		}
		if len(msg.Items) != 2 {
			t.Fatalf("expected 2 items, got %d", len(msg.Items))
		}
		if msg.Items[0].Id == "" || msg.Items[0].Id == msg.Items[1].Id {
			t.Errorf("expected distinct item IDs, got %q and %q", msg.Items[0].Id, msg.Items[1].Id)
		}
		if msg.Items[0].UnitPrice != "2.50" || msg.Items[0].Quantity != 2 {
			t.Errorf("unexpected first item: %+v", msg.Items[0])
		}
		if msg.ImageUrl == "" {
			t.Error("expected an image URL")
		}
		if len(images.stored) != 1 || images.stored[0] != "image/jpeg" {
			t.Errorf("expected one jpeg stored, got %v", images.stored)
		}
		if n := env.observer.count(env.observer.parses, "ok"); n != 1 {
			t.Errorf("expected 1 ok parse, got %d", n)
		}
	})

	tests := []struct {
		name   string
		parser receiptparser.Parser
		image  string
		want   connect.Code
	}{
		{"parser disabled", nil, jpegImage, connect.CodeFailedPrecondition},
		{"bad image", stubParser{}, "%%% not base64", connect.CodeInvalidArgument},
		{"empty image", stubParser{}, "", connect.CodeInvalidArgument},
		{"unreadable", stubParser{err: receiptparser.ErrUnreadable}, jpegImage, connect.CodeInvalidArgument},
		{"upstream failure", stubParser{err: errors.New("connection reset")}, jpegImage, connect.CodeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestServer(t, ReceiptOptions{Parser: tt.parser}, nil)
			f := newFixture(t, env)
			_, err := env.receipts.ParseReceipt(ctx, as(f.aliceToken, &api.ParseReceiptRequest{
				GroupId: f.groupID,
				Image:   tt.image,
			}))
			assertCode(t, err, tt.want)
		})
	}
}

func TestCreateReceiptValidation(t *testing.T) {
	env := setupTestServer(t, ReceiptOptions{}, nil)
	f := newFixture(t, env)
	item := func() []*api.Item {
		return []*api.Item{{Id: "tea", Name: "Tea", UnitPrice: "4.00"}}
	}

	tests := []struct {
		name string
		req  *api.CreateReceiptRequest
	}{
		{"no items", &api.CreateReceiptRequest{}},
		{"unnamed item", &api.CreateReceiptRequest{Items: []*api.Item{{UnitPrice: "1.00"}}}},
		{"negative price", &api.CreateReceiptRequest{Items: []*api.Item{{Name: "Refund", UnitPrice: "-1.00"}}}},
		{"negative quantity", &api.CreateReceiptRequest{Items: []*api.Item{{Name: "Tea", UnitPrice: "1.00", Quantity: -2}}}},
		{"duplicate item ids", &api.CreateReceiptRequest{Items: []*api.Item{
			{Id: "x", Name: "A", UnitPrice: "1.00"},
			{Id: "x", Name: "B", UnitPrice: "1.00"},
		}}},
		{"bad date", &api.CreateReceiptRequest{Items: item(), Date: "17/05/2024"}},
		{"bad tax", &api.CreateReceiptRequest{Items: item(), Tax: "lots"}},
		{"unknown payer", &api.CreateReceiptRequest{Items: item(), PaidByMemberId: "ghost"}},
		{"assignment for missing item", &api.CreateReceiptRequest{Items: item(), Assignments: map[string]*api.Assignment{
			"coffee": {Type: "self"},
		}}},
		{"unknown assignment type", &api.CreateReceiptRequest{Items: item(), Assignments: map[string]*api.Assignment{
			"tea": {Type: "mine"},
		}}},
		{"member assignment to payer", &api.CreateReceiptRequest{Items: item(), Assignments: map[string]*api.Assignment{
			"tea": {Type: "member", MemberId: f.alice},
		}}},
		{"custom shares off by a cent", &api.CreateReceiptRequest{Items: item(), Assignments: map[string]*api.Assignment{
			"tea": {Type: "custom", Shares: []*api.Share{
				{MemberId: f.bob, Amount: "2.00"},
				{MemberId: f.carol, Amount: "1.99"},
			}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.GroupId = f.groupID
			_, err := env.receipts.CreateReceipt(context.Background(), as(f.aliceToken, tt.req))
			assertCode(t, err, connect.CodeInvalidArgument)
		})
	}

	t.Run("defaults", func(t *testing.T) {
		resp, err := env.receipts.CreateReceipt(context.Background(), as(f.bobToken, &api.CreateReceiptRequest{
			GroupId: f.groupID,
			Items:   []*api.Item{{Name: "Tea", UnitPrice: "4"}},
		}))
		if err != nil {
			t.Fatalf("CreateReceipt failed: %v", err)
		}
		r := resp.Msg.Receipt
		if r.StoreName != "Unknown Store" || r.Status != "pending" || r.Date == "" {
			t.Errorf("unexpected defaults: %+v", r)
		}
		if r.Items[0].Id == "" || r.Items[0].Quantity != 1 || r.Items[0].UnitPrice != "4.00" {
			t.Errorf("unexpected item: %+v", r.Items[0])
		}
		if got := env.events.types(); got[len(got)-1] != events.ReceiptCreated {
			t.Errorf("expected a trailing %s event, got %v", events.ReceiptCreated, got)
		}
	})
}

func TestGetReceipt(t *testing.T) {
	env := setupTestServer(t, ReceiptOptions{}, nil)
	ctx := context.Background()
	f := newFixture(t, env)

	created, err := env.receipts.CreateReceipt(ctx, as(f.aliceToken, &api.CreateReceiptRequest{
		GroupId: f.groupID,
		Date:    "2024-02-29",
		Items: []*api.Item{
			{Id: "pasta", Name: "Pasta", UnitPrice: "6.00"},
			{Id: "salad", Name: "Salad", UnitPrice: "4.00"},
			{Id: "bread", Name: "Bread", UnitPrice: "3.00"},
		},
		Assignments: map[string]*api.Assignment{
			"pasta": {Type: "self"},
			"salad": {Type: "member", MemberId: f.bob},
		},
		Subtotal: "13.00",
		Tax:      "1.00",
		Total:    "14.00",
	}))
	if err != nil {
		t.Fatalf("CreateReceipt failed: %v", err)
	}
	id := created.Msg.Receipt.Id

	resp, err := env.receipts.GetReceipt(ctx, as(f.bobToken, &api.GetReceiptRequest{ReceiptId: id}))
	if err != nil {
		t.Fatalf("GetReceipt failed: %v", err)
	}
	r := resp.Msg.Receipt
	if r.Date != "2024-02-29" || r.Tax != "1.00" || len(r.Items) != 3 || len(r.Assignments) != 2 {
		t.Errorf("unexpected receipt: %+v", r)
	}

	// Bread is unassigned, so tax spreads over the 10.00 that is.
	want := []api.MemberShare{
		{MemberId: f.alice, Subtotal: "6.00", Tax: "0.60", Total: "6.60"},
		{MemberId: f.bob, Subtotal: "4.00", Tax: "0.40", Total: "4.40"},
	}
	if len(resp.Msg.Breakdown) != len(want) {
		t.Fatalf("expected %d shares, got %+v", len(want), resp.Msg.Breakdown)
	}
	for i, w := range want {
		got := resp.Msg.Breakdown[i]
		if got.MemberId != w.MemberId || got.Subtotal != w.Subtotal || got.Tax != w.Tax || got.Total != w.Total {
			t.Errorf("share %d: expected %+v, got %+v", i, w, *got)
		}
		if len(got.Items) != 1 {
			t.Errorf("share %d: expected 1 line, got %d", i, len(got.Items))
		}
	}

	t.Run("outsider denied", func(t *testing.T) {
		outsider := env.register(t, "Eve", "eve@example.com")
		_, err := env.receipts.GetReceipt(ctx, as(outsider, &api.GetReceiptRequest{ReceiptId: id}))
		assertCode(t, err, connect.CodePermissionDenied)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := env.receipts.GetReceipt(ctx, as(f.aliceToken, &api.GetReceiptRequest{ReceiptId: "nope"}))
		assertCode(t, err, connect.CodeNotFound)
	})
}

func TestListReceipts(t *testing.T) {
	env := setupTestServer(t, ReceiptOptions{}, nil)
	ctx := context.Background()
	f := newFixture(t, env)

	first := createDinner(t, env, f)
	createDinner(t, env, f)
	if _, err := env.receipts.SetReceiptStatus(ctx, as(f.aliceToken, &api.SetReceiptStatusRequest{
		ReceiptId: first.Id,
		Status:    "settled",
	})); err != nil {
		t.Fatalf("SetReceiptStatus failed: %v", err)
	}

	tests := []struct {
		status string
		want   int
	}{
		{"", 2},
		{"pending", 1},
		{"settled", 1},
	}
	for _, tt := range tests {
		resp, err := env.receipts.ListReceipts(ctx, as(f.bobToken, &api.ListReceiptsRequest{GroupId: f.groupID, Status: tt.status}))
		if err != nil {
			t.Fatalf("ListReceipts(%q) failed: %v", tt.status, err)
		}
		if len(resp.Msg.Receipts) != tt.want {
			t.Errorf("ListReceipts(%q): expected %d, got %d", tt.status, tt.want, len(resp.Msg.Receipts))
		}
	}

	_, err := env.receipts.ListReceipts(ctx, as(f.aliceToken, &api.ListReceiptsRequest{GroupId: f.groupID, Status: "lost"}))
	assertCode(t, err, connect.CodeInvalidArgument)
}

func TestUpdateReceiptItems(t *testing.T) {
	env := setupTestServer(t, ReceiptOptions{}, nil)
	ctx := context.Background()
	f := newFixture(t, env)
	receipt := createDinner(t, env, f)

	resp, err := env.receipts.UpdateReceiptItems(ctx, as(f.bobToken, &api.UpdateReceiptItemsRequest{
		ReceiptId: receipt.Id,
		Items: []*api.Item{
			{Id: "starter", Name: "Nachos", UnitPrice: "12.00"},
			{Id: "dessert", Name: "Churros", UnitPrice: "5.00", Quantity: 2},
		},
	}))
	if err != nil {
		t.Fatalf("UpdateReceiptItems failed: %v", err)
	}
	r := resp.Msg.Receipt
	if len(r.Items) != 2 || r.Items[0].UnitPrice != "12.00" || r.Items[1].Quantity != 2 {
		t.Errorf("unexpected items: %+v", r.Items)
	}
	if _, ok := r.Assignments["starter"]; !ok {
		t.Error("expected starter to keep its assignment")
	}
	if _, ok := r.Assignments["drink"]; ok {
		t.Error("expected the removed drink to lose its assignment")
	}

	_, err = env.receipts.UpdateReceiptItems(ctx, as(f.bobToken, &api.UpdateReceiptItemsRequest{ReceiptId: receipt.Id}))
	assertCode(t, err, connect.CodeInvalidArgument)
}

func TestAssignItem(t *testing.T) {
	env := setupTestServer(t, ReceiptOptions{}, nil)
	ctx := context.Background()
	f := newFixture(t, env)

	created, err := env.receipts.CreateReceipt(ctx, as(f.aliceToken, &api.CreateReceiptRequest{
		GroupId: f.groupID,
		Items:   []*api.Item{{Id: "pizza", Name: "Pizza", UnitPrice: "12.00"}},
	}))
	if err != nil {
		t.Fatalf("CreateReceipt failed: %v", err)
	}
	id := created.Msg.Receipt.Id

	tests := []struct {
		name           string
		req            *api.AssignItemRequest
		wantIntent     string
		needsSelection bool
		want           *api.Assignment // nil means unassigned
	}{
		{
			name:       "short swipe does nothing",
			req:        &api.AssignItemRequest{OffsetX: 60, OffsetY: 20},
			wantIntent: "none",
		},
		{
			name:           "right swipe without a member",
			req:            &api.AssignItemRequest{OffsetX: 150},
			wantIntent:     "request_member_pick",
			needsSelection: true,
		},
		{
			name:       "left swipe keeps the item",
			req:        &api.AssignItemRequest{OffsetX: -150},
			wantIntent: "assign_self",
			want:       &api.Assignment{Type: "self"},
		},
		{
			name:       "down swipe splits evenly",
			req:        &api.AssignItemRequest{OffsetY: 150},
			wantIntent: "assign_split_even",
			want:       &api.Assignment{Type: "split"},
		},
		{
			name:       "right swipe with a member",
			req:        &api.AssignItemRequest{OffsetX: 150, MemberId: f.carol},
			wantIntent: "request_member_pick",
			want:       &api.Assignment{Type: "member", MemberId: f.carol},
		},
		{
			name:           "up swipe without shares keeps previous",
			req:            &api.AssignItemRequest{OffsetY: -150},
			wantIntent:     "request_custom_split",
			needsSelection: true,
			want:           &api.Assignment{Type: "member", MemberId: f.carol},
		},
		{
			name: "up swipe with shares",
			req: &api.AssignItemRequest{OffsetY: -150, Shares: []*api.Share{
				{MemberId: f.alice, Amount: "4.00"},
				{MemberId: f.bob, Amount: "8.00"},
				{MemberId: f.carol, Amount: "0"},
			}},
			wantIntent: "request_custom_split",
			want: &api.Assignment{Type: "custom", Shares: []*api.Share{
				{MemberId: f.alice, Amount: "4.00"},
				{MemberId: f.bob, Amount: "8.00"},
			}},
		},
		{
			name:       "flick projects past the threshold",
			req:        &api.AssignItemRequest{OffsetX: -95, VelocityX: -100},
			wantIntent: "assign_self",
			want:       &api.Assignment{Type: "self"},
		},
		{
			name:       "diagonal tie is horizontal",
			req:        &api.AssignItemRequest{OffsetX: 120, OffsetY: 120, MemberId: f.bob},
			wantIntent: "request_member_pick",
			want:       &api.Assignment{Type: "member", MemberId: f.bob},
		},
	}
	// Cases run in order; each starts from the previous case's assignment.
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.ReceiptId = id
			tt.req.ItemId = "pizza"
			resp, err := env.receipts.AssignItem(ctx, as(f.bobToken, tt.req))
			if err != nil {
				t.Fatalf("AssignItem failed: %v", err)
			}
			if resp.Msg.Intent != tt.wantIntent {
				t.Errorf("expected intent %s, got %s", tt.wantIntent, resp.Msg.Intent)
			}
			if resp.Msg.NeedsSelection != tt.needsSelection {
				t.Errorf("expected needsSelection=%v", tt.needsSelection)
			}
			got := resp.Msg.Receipt.Assignments["pizza"]
			assertAssignment(t, got, tt.want)
		})
	}

	errorTests := []struct {
		name string
		req  *api.AssignItemRequest
		want connect.Code
	}{
		{"payer picked", &api.AssignItemRequest{OffsetX: 150, MemberId: f.alice}, connect.CodeInvalidArgument},
		{"unknown member", &api.AssignItemRequest{OffsetX: 150, MemberId: "ghost"}, connect.CodeInvalidArgument},
		{"shares do not add up", &api.AssignItemRequest{OffsetY: -150, Shares: []*api.Share{
			{MemberId: f.bob, Amount: "5.00"},
		}}, connect.CodeInvalidArgument},
		{"unknown item", &api.AssignItemRequest{ItemId: "calzone", OffsetX: -150}, connect.CodeNotFound},
	}
	for _, tt := range errorTests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.ReceiptId = id
			if tt.req.ItemId == "" {
				tt.req.ItemId = "pizza"
			}
			_, err := env.receipts.AssignItem(ctx, as(f.bobToken, tt.req))
			assertCode(t, err, tt.want)
		})
	}
}

func TestAssignItemReceiptPayer(t *testing.T) {
	env := setupTestServer(t, ReceiptOptions{}, nil)
	ctx := context.Background()
	f := newFixture(t, env)

	// Bob fronted this one, so alice becomes a valid pick and bob does not.
	created, err := env.receipts.CreateReceipt(ctx, as(f.bobToken, &api.CreateReceiptRequest{
		GroupId:        f.groupID,
		PaidByMemberId: f.bob,
		Items:          []*api.Item{{Id: "wine", Name: "Wine", UnitPrice: "20.00"}},
	}))
	if err != nil {
		t.Fatalf("CreateReceipt failed: %v", err)
	}
	id := created.Msg.Receipt.Id

	_, err = env.receipts.AssignItem(ctx, as(f.aliceToken, &api.AssignItemRequest{
		ReceiptId: id, ItemId: "wine", OffsetX: 150, MemberId: f.bob,
	}))
	assertCode(t, err, connect.CodeInvalidArgument)

	resp, err := env.receipts.AssignItem(ctx, as(f.aliceToken, &api.AssignItemRequest{
		ReceiptId: id, ItemId: "wine", OffsetX: 150, MemberId: f.alice,
	}))
	if err != nil {
		t.Fatalf("AssignItem failed: %v", err)
	}
	assertAssignment(t, resp.Msg.Receipt.Assignments["wine"], &api.Assignment{Type: "member", MemberId: f.alice})

	balances, _ := balancesByMember(t, env, f.aliceToken, &api.GetGroupBalancesRequest{GroupId: f.groupID})
	assertBalance(t, balances[f.bob], "20.00", "0.00", "20.00")
	assertBalance(t, balances[f.alice], "0.00", "20.00", "-20.00")
}

func assertAssignment(t *testing.T, got, want *api.Assignment) {
	t.Helper()
	if want == nil {
		if got != nil {
			t.Errorf("expected unassigned, got %+v", got)
		}
		return
	}
	if got == nil {
		t.Fatalf("expected %+v, got unassigned", want)
	}
	if got.Type != want.Type || got.MemberId != want.MemberId {
		t.Errorf("expected %s/%s, got %s/%s", want.Type, want.MemberId, got.Type, got.MemberId)
	}
	eq := func(a, b *api.Share) bool { return *a == *b }
	if !slices.EqualFunc(got.Shares, want.Shares, eq) {
		t.Errorf("expected shares %v, got %v", want.Shares, got.Shares)
	}
}

func TestSetAndClearAssignment(t *testing.T) {
	env := setupTestServer(t, ReceiptOptions{}, nil)
	ctx := context.Background()
	f := newFixture(t, env)
	receipt := createDinner(t, env, f)

	resp, err := env.receipts.SetAssignment(ctx, as(f.bobToken, &api.SetAssignmentRequest{
		ReceiptId: receipt.Id,
		ItemId:    "drink",
		Assignment: &api.Assignment{Type: "custom", Shares: []*api.Share{
			{MemberId: f.bob, Amount: "2.25"},
			{MemberId: f.carol, Amount: "2.25"},
		}},
	}))
	if err != nil {
		t.Fatalf("SetAssignment failed: %v", err)
	}
	if got := resp.Msg.Receipt.Assignments["drink"]; got.Type != "custom" || len(got.Shares) != 2 {
		t.Errorf("unexpected assignment: %+v", got)
	}

	_, err = env.receipts.SetAssignment(ctx, as(f.bobToken, &api.SetAssignmentRequest{
		ReceiptId: receipt.Id, ItemId: "drink",
	}))
	assertCode(t, err, connect.CodeInvalidArgument)

	_, err = env.receipts.SetAssignment(ctx, as(f.bobToken, &api.SetAssignmentRequest{
		ReceiptId: receipt.Id, ItemId: "fries", Assignment: &api.Assignment{Type: "self"},
	}))
	assertCode(t, err, connect.CodeNotFound)

	cleared, err := env.receipts.ClearAssignment(ctx, as(f.bobToken, &api.ClearAssignmentRequest{
		ReceiptId: receipt.Id, ItemId: "drink",
	}))
	if err != nil {
		t.Fatalf("ClearAssignment failed: %v", err)
	}
	if _, ok := cleared.Msg.Receipt.Assignments["drink"]; ok {
		t.Error("expected drink to be unassigned")
	}
	if _, ok := cleared.Msg.Receipt.Assignments["starter"]; !ok {
		t.Error("expected starter to stay assigned")
	}

	if got := env.events.types(); got[len(got)-1] != events.ReceiptUpdated {
		t.Errorf("expected a trailing %s event, got %v", events.ReceiptUpdated, got)
	}
}

func TestSetReceiptStatus(t *testing.T) {
	env := setupTestServer(t, ReceiptOptions{}, nil)
	ctx := context.Background()
	f := newFixture(t, env)
	receipt := createDinner(t, env, f)

	for _, status := range []string{"", "paid"} {
		_, err := env.receipts.SetReceiptStatus(ctx, as(f.aliceToken, &api.SetReceiptStatusRequest{
			ReceiptId: receipt.Id, Status: status,
		}))
		assertCode(t, err, connect.CodeInvalidArgument)
	}

	resp, err := env.receipts.SetReceiptStatus(ctx, as(f.aliceToken, &api.SetReceiptStatusRequest{
		ReceiptId: receipt.Id, Status: "settled",
	}))
	if err != nil {
		t.Fatalf("SetReceiptStatus failed: %v", err)
	}
	if resp.Msg.Receipt.Status != "settled" {
		t.Errorf("expected settled, got %s", resp.Msg.Receipt.Status)
	}
}

func TestDeleteReceipt(t *testing.T) {
	env := setupTestServer(t, ReceiptOptions{}, nil)
	ctx := context.Background()
	f := newFixture(t, env)
	receipt := createDinner(t, env, f)

	outsider := env.register(t, "Eve", "eve@example.com")
	_, err := env.receipts.DeleteReceipt(ctx, as(outsider, &api.DeleteReceiptRequest{ReceiptId: receipt.Id}))
	assertCode(t, err, connect.CodePermissionDenied)

	if _, err := env.receipts.DeleteReceipt(ctx, as(f.bobToken, &api.DeleteReceiptRequest{ReceiptId: receipt.Id})); err != nil {
		t.Fatalf("DeleteReceipt failed: %v", err)
	}

	_, err = env.receipts.GetReceipt(ctx, as(f.aliceToken, &api.GetReceiptRequest{ReceiptId: receipt.Id}))
	assertCode(t, err, connect.CodeNotFound)

	if got := env.events.types(); got[len(got)-1] != events.ReceiptDeleted {
		t.Errorf("expected a trailing %s event, got %v", events.ReceiptDeleted, got)
	}
}
