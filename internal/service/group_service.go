package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/davidrmellors/receipt-splitter/internal/calculator"
	"github.com/davidrmellors/receipt-splitter/internal/events"
	"github.com/davidrmellors/receipt-splitter/internal/models"
	"github.com/davidrmellors/receipt-splitter/internal/storage"
	"github.com/davidrmellors/receipt-splitter/pkg/api"
	"github.com/davidrmellors/receipt-splitter/pkg/api/apiconnect"
)

// defaultCreatorName labels the group creator when neither the request nor
// the account supplies a name.
const defaultCreatorName = "You"

var _ apiconnect.GroupServiceHandler = (*GroupService)(nil)

// GroupService implements the Connect GroupService
type GroupService struct {
	store     storage.Store
	publisher events.Publisher
	observer  Observer
}

// NewGroupService creates a new GroupService with the given storage backend.
// A nil publisher or observer disables that side channel.
func NewGroupService(store storage.Store, publisher events.Publisher, observer Observer) *GroupService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &GroupService{store: store, publisher: publisher, observer: observer}
}

// CreateGroup creates a new group. The creator joins as its payer.
func (s *GroupService) CreateGroup(ctx context.Context, req *connect.Request[api.CreateGroupRequest]) (*connect.Response[api.CreateGroupResponse], error) {
	userID, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Msg.Name)
	slog.Info("CreateGroup request received", "name", name, "user_id", userID)

	if name == "" {
		return nil, invalidArgument("name required")
	}

	displayName := strings.TrimSpace(req.Msg.DisplayName)
	if displayName == "" {
		if user, err := s.store.GetUserByID(ctx, userID); err == nil && user != nil {
			displayName = user.DisplayName
		}
	}
	if displayName == "" {
		displayName = defaultCreatorName
	}

	group := &models.Group{
		Name:        name,
		Description: strings.TrimSpace(req.Msg.Description),
		CreatedBy:   userID,
	}
	creator := &models.Member{
		UserID:      userID,
		DisplayName: displayName,
		IsPayer:     true,
	}

	// Save to storage (generates IDs and timestamps)
	if err := s.store.CreateGroup(ctx, group, creator); err != nil {
		slog.Error("CreateGroup failed", "error", err)
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	slog.Info("Group created", "group_id", group.ID)

	return connect.NewResponse(&api.CreateGroupResponse{
		Group: toAPIGroup(group, []models.Member{*creator}),
	}), nil
}

// GetGroup retrieves a group with its roster.
func (s *GroupService) GetGroup(ctx context.Context, req *connect.Request[api.GetGroupRequest]) (*connect.Response[api.GetGroupResponse], error) {
	slog.Info("GetGroup request received", "group_id", req.Msg.GroupId)

	access, err := requireMember(ctx, s.store, req.Msg.GroupId)
	if err != nil {
		return nil, err
	}

	roster, err := s.store.ListMembers(ctx, access.group.ID)
	if err != nil {
		slog.Error("GetGroup failed", "group_id", access.group.ID, "error", err)
		return nil, storeError(err)
	}

	slog.Info("GetGroup successful", "group_id", access.group.ID, "members_count", len(roster))

	return connect.NewResponse(&api.GetGroupResponse{
		Group: toAPIGroup(access.group, roster),
	}), nil
}

// ListGroups retrieves the groups the caller belongs to.
func (s *GroupService) ListGroups(ctx context.Context, req *connect.Request[api.ListGroupsRequest]) (*connect.Response[api.ListGroupsResponse], error) {
	userID, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("ListGroups request received", "user_id", userID)

	groups, err := s.store.ListGroupsForUser(ctx, userID)
	if err != nil {
		slog.Error("ListGroups failed", "error", err)
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	// Rosters load in parallel; each goroutine owns one slot.
	out := make([]*api.Group, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, group := range groups {
		g.Go(func() error {
			roster, err := s.store.ListMembers(gctx, group.ID)
			if err != nil {
				return fmt.Errorf("members of %s: %w", group.ID, err)
			}
			out[i] = toAPIGroup(group, roster)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Error("ListGroups failed", "error", err)
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	slog.Info("ListGroups successful", "count", len(out))

	return connect.NewResponse(&api.ListGroupsResponse{Groups: out}), nil
}

// DeleteGroup removes a group. Only its creator may do this.
func (s *GroupService) DeleteGroup(ctx context.Context, req *connect.Request[api.DeleteGroupRequest]) (*connect.Response[emptypb.Empty], error) {
	slog.Info("DeleteGroup request received", "group_id", req.Msg.GroupId)

	access, err := requireMember(ctx, s.store, req.Msg.GroupId)
	if err != nil {
		return nil, err
	}
	if !access.isCreator() {
		return nil, connect.NewError(connect.CodePermissionDenied, errors.New("only the group creator can delete the group"))
	}

	if err := s.store.DeleteGroup(ctx, access.group.ID); err != nil {
		slog.Error("DeleteGroup failed", "error", err)
		return nil, storeError(err)
	}

	s.announce(ctx, events.GroupUpdated, access)
	slog.Info("Group deleted", "group_id", access.group.ID)

	return connect.NewResponse(&emptypb.Empty{}), nil
}

// AddMember adds a member to a group, optionally linked to a registered account.
func (s *GroupService) AddMember(ctx context.Context, req *connect.Request[api.AddMemberRequest]) (*connect.Response[api.AddMemberResponse], error) {
	slog.Info("AddMember request received", "group_id", req.Msg.GroupId)

	access, err := requireMember(ctx, s.store, req.Msg.GroupId)
	if err != nil {
		return nil, err
	}

	member := &models.Member{
		GroupID:     access.group.ID,
		DisplayName: strings.TrimSpace(req.Msg.DisplayName),
	}

	if email := strings.TrimSpace(req.Msg.Email); email != "" {
		user, err := s.store.GetUserByEmail(ctx, email)
		if err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		if user == nil {
			return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("no account registered for %s", email))
		}
		_, err = s.store.GetMemberByUser(ctx, access.group.ID, user.ID)
		if err == nil {
			return nil, connect.NewError(connect.CodeAlreadyExists, fmt.Errorf("%s is already a member", email))
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, storeError(err)
		}
		member.UserID = user.ID
		if member.DisplayName == "" {
			member.DisplayName = user.DisplayName
		}
	}

	if member.DisplayName == "" {
		return nil, invalidArgument("display name required")
	}

	if err := s.store.AddMember(ctx, member); err != nil {
		slog.Error("AddMember failed", "group_id", access.group.ID, "error", err)
		return nil, storeError(err)
	}

	s.announce(ctx, events.GroupUpdated, access)
	slog.Info("Member added", "group_id", access.group.ID, "member_id", member.ID)

	return connect.NewResponse(&api.AddMemberResponse{Member: toAPIMember(*member)}), nil
}

// RemoveMember removes a member. The creator may remove anyone else; other
// members may only remove themselves. The payer has to be reassigned first.
func (s *GroupService) RemoveMember(ctx context.Context, req *connect.Request[api.RemoveMemberRequest]) (*connect.Response[emptypb.Empty], error) {
	slog.Info("RemoveMember request received", "group_id", req.Msg.GroupId, "member_id", req.Msg.MemberId)

	access, err := requireMember(ctx, s.store, req.Msg.GroupId)
	if err != nil {
		return nil, err
	}

	roster, err := s.store.ListMembers(ctx, access.group.ID)
	if err != nil {
		return nil, storeError(err)
	}
	target, ok := models.FindMember(roster, req.Msg.MemberId)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("%w: member %s", storage.ErrNotFound, req.Msg.MemberId))
	}

	if !access.isCreator() && target.ID != access.member.ID {
		return nil, connect.NewError(connect.CodePermissionDenied, errors.New("only the group creator can remove other members"))
	}
	if target.UserID != "" && target.UserID == access.group.CreatedBy {
		return nil, connect.NewError(connect.CodeFailedPrecondition, errors.New("the group creator cannot leave; delete the group instead"))
	}
	if target.IsPayer {
		return nil, connect.NewError(connect.CodeFailedPrecondition, errors.New("choose another payer before removing this member"))
	}

	if err := s.store.RemoveMember(ctx, access.group.ID, target.ID); err != nil {
		slog.Error("RemoveMember failed", "group_id", access.group.ID, "error", err)
		return nil, storeError(err)
	}

	s.announce(ctx, events.GroupUpdated, access)
	slog.Info("Member removed", "group_id", access.group.ID, "member_id", target.ID)

	return connect.NewResponse(&emptypb.Empty{}), nil
}

// SetPayer makes one member the group's default payer.
func (s *GroupService) SetPayer(ctx context.Context, req *connect.Request[api.SetPayerRequest]) (*connect.Response[api.SetPayerResponse], error) {
	slog.Info("SetPayer request received", "group_id", req.Msg.GroupId, "member_id", req.Msg.MemberId)

	access, err := requireMember(ctx, s.store, req.Msg.GroupId)
	if err != nil {
		return nil, err
	}
	if req.Msg.MemberId == "" {
		return nil, invalidArgument("member_id required")
	}

	if err := s.store.SetPayer(ctx, access.group.ID, req.Msg.MemberId); err != nil {
		slog.Error("SetPayer failed", "group_id", access.group.ID, "error", err)
		return nil, storeError(err)
	}

	roster, err := s.store.ListMembers(ctx, access.group.ID)
	if err != nil {
		return nil, storeError(err)
	}

	s.announce(ctx, events.GroupUpdated, access)

	return connect.NewResponse(&api.SetPayerResponse{Group: toAPIGroup(access.group, roster)}), nil
}

// GetGroupBalances calculates balances across all receipts and payments in a group.
func (s *GroupService) GetGroupBalances(ctx context.Context, req *connect.Request[api.GetGroupBalancesRequest]) (*connect.Response[api.GetGroupBalancesResponse], error) {
	groupID := req.Msg.GroupId
	slog.Info("GetGroupBalances request received", "group_id", groupID, "include_settled", req.Msg.IncludeSettled)

	if _, err := requireMember(ctx, s.store, groupID); err != nil {
		return nil, err
	}

	// Roster, receipts and payments are independent reads of one snapshot.
	var (
		roster   []models.Member
		receipts []*models.Receipt
		payments []models.Payment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		roster, err = s.store.ListMembers(gctx, groupID)
		return err
	})
	g.Go(func() (err error) {
		receipts, err = s.store.ListReceiptsByGroup(gctx, groupID)
		return err
	})
	g.Go(func() (err error) {
		payments, err = s.store.ListPaymentsByGroup(gctx, groupID)
		return err
	})
	if err := g.Wait(); err != nil {
		slog.Error("GetGroupBalances failed - could not load group data", "group_id", groupID, "error", err)
		return nil, storeError(err)
	}

	included := make([]models.Receipt, 0, len(receipts))
	for _, r := range receipts {
		if r.Status == models.ReceiptSettled && !req.Msg.IncludeSettled {
			continue
		}
		included = append(included, *r)
	}

	result, err := calculator.ComputeBalancesWithPayments(roster, included, payments)
	if err != nil {
		slog.Error("GetGroupBalances failed - calculation error", "group_id", groupID, "error", err)
		var cfgErr *calculator.ConfigurationError
		if errors.As(err, &cfgErr) {
			return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("balances unavailable: %w", err))
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	for _, w := range result.Warnings {
		s.observer.ObserveAnomaly(string(w.Kind))
		slog.Warn("Balance anomaly",
			"group_id", groupID,
			"kind", w.Kind,
			"receipt_id", w.ReceiptID,
			"item_id", w.ItemID,
			"payment_id", w.PaymentID,
			"detail", w.Detail,
		)
	}

	debts := calculator.SimplifyDebts(result.Balances)

	slog.Info("GetGroupBalances successful",
		"group_id", groupID,
		"receipts_count", len(included),
		"payments_count", len(payments),
		"members_count", len(result.Balances),
		"debts_count", len(debts),
		"warnings_count", len(result.Warnings),
	)

	return connect.NewResponse(&api.GetGroupBalancesResponse{
		Balances: toAPIBalances(result.Balances, roster),
		Debts:    toAPIDebts(debts),
		Warnings: toAPIWarnings(result.Warnings),
	}), nil
}

// RecordPayment records money handed from one member to another.
func (s *GroupService) RecordPayment(ctx context.Context, req *connect.Request[api.RecordPaymentRequest]) (*connect.Response[api.RecordPaymentResponse], error) {
	slog.Info("RecordPayment request received",
		"group_id", req.Msg.GroupId,
		"from", req.Msg.FromMemberId,
		"to", req.Msg.ToMemberId,
	)

	access, err := requireMember(ctx, s.store, req.Msg.GroupId)
	if err != nil {
		return nil, err
	}

	amount, err := parseMoney("amount", req.Msg.Amount)
	if err != nil {
		return nil, err
	}
	// Stored in cents, so anything under half a cent is zero.
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, invalidArgument("amount must be at least 0.01")
	}
	if req.Msg.FromMemberId == req.Msg.ToMemberId {
		return nil, invalidArgument("a member cannot pay themselves")
	}

	roster, err := s.store.ListMembers(ctx, access.group.ID)
	if err != nil {
		return nil, storeError(err)
	}
	for _, id := range []string{req.Msg.FromMemberId, req.Msg.ToMemberId} {
		if _, ok := models.FindMember(roster, id); !ok {
			return nil, invalidArgument("member %q is not in this group", id)
		}
	}

	payment := &models.Payment{
		GroupID:      access.group.ID,
		FromMemberID: req.Msg.FromMemberId,
		ToMemberID:   req.Msg.ToMemberId,
		Amount:       amount,
		Note:         strings.TrimSpace(req.Msg.Note),
		CreatedBy:    access.userID,
		CreatedAt:    time.Now().Unix(),
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		slog.Error("RecordPayment failed", "group_id", access.group.ID, "error", err)
		return nil, storeError(err)
	}

	e := events.New(events.PaymentRecorded, access.group.ID)
	e.PaymentID = payment.ID
	e.ActorID = access.userID
	publish(ctx, s.publisher, e)

	slog.Info("Payment recorded", "group_id", access.group.ID, "payment_id", payment.ID, "amount", payment.Amount)

	return connect.NewResponse(&api.RecordPaymentResponse{Payment: toAPIPayment(*payment)}), nil
}

// ListPayments returns a group's payments, oldest first.
func (s *GroupService) ListPayments(ctx context.Context, req *connect.Request[api.ListPaymentsRequest]) (*connect.Response[api.ListPaymentsResponse], error) {
	slog.Info("ListPayments request received", "group_id", req.Msg.GroupId)

	access, err := requireMember(ctx, s.store, req.Msg.GroupId)
	if err != nil {
		return nil, err
	}

	payments, err := s.store.ListPaymentsByGroup(ctx, access.group.ID)
	if err != nil {
		return nil, storeError(err)
	}

	out := make([]*api.Payment, len(payments))
	for i, p := range payments {
		out[i] = toAPIPayment(p)
	}
	return connect.NewResponse(&api.ListPaymentsResponse{Payments: out}), nil
}

func (s *GroupService) announce(ctx context.Context, t events.Type, access membership) {
	e := events.New(t, access.group.ID)
	e.ActorID = access.userID
	publish(ctx, s.publisher, e)
}
