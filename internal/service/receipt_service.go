package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/davidrmellors/receipt-splitter/internal/calculator"
	"github.com/davidrmellors/receipt-splitter/internal/events"
	"github.com/davidrmellors/receipt-splitter/internal/gesture"
	"github.com/davidrmellors/receipt-splitter/internal/imagestore"
	"github.com/davidrmellors/receipt-splitter/internal/models"
	"github.com/davidrmellors/receipt-splitter/internal/receiptparser"
	"github.com/davidrmellors/receipt-splitter/internal/storage"
	"github.com/davidrmellors/receipt-splitter/pkg/api"
	"github.com/davidrmellors/receipt-splitter/pkg/api/apiconnect"
)

const unknownStore = "Unknown Store"

var _ apiconnect.ReceiptServiceHandler = (*ReceiptService)(nil)

// ReceiptOptions holds the optional collaborators of a ReceiptService.
// Zero values fall back to disabled implementations.
type ReceiptOptions struct {
	Parser     receiptparser.Parser
	Images     imagestore.Store
	Publisher  events.Publisher
	Classifier *gesture.Classifier
	Observer   Observer
}

// ReceiptService implements the Connect ReceiptService
type ReceiptService struct {
	store      storage.Store
	parser     receiptparser.Parser
	images     imagestore.Store
	publisher  events.Publisher
	classifier *gesture.Classifier
	observer   Observer
}

// NewReceiptService creates a new ReceiptService with the given storage backend.
func NewReceiptService(store storage.Store, opts ReceiptOptions) *ReceiptService {
	s := &ReceiptService{
		store:      store,
		parser:     opts.Parser,
		images:     opts.Images,
		publisher:  opts.Publisher,
		classifier: opts.Classifier,
		observer:   opts.Observer,
	}
	if s.parser == nil {
		s.parser = receiptparser.Disabled{}
	}
	if s.images == nil {
		s.images = imagestore.Discard{}
	}
	if s.publisher == nil {
		s.publisher = events.Nop{}
	}
	if s.classifier == nil {
		s.classifier = gesture.NewClassifier(gesture.DefaultThreshold)
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	return s
}

// ParseReceipt extracts items from a receipt photo. Nothing is saved; the
// client reviews the result and calls CreateReceipt. Items come back with
// fresh IDs so assignments can be keyed before the receipt exists.
func (s *ReceiptService) ParseReceipt(ctx context.Context, req *connect.Request[api.ParseReceiptRequest]) (*connect.Response[api.ParseReceiptResponse], error) {
	slog.Info("ParseReceipt request received", "group_id", req.Msg.GroupId, "store_image", req.Msg.StoreImage)

	access, err := requireMember(ctx, s.store, req.Msg.GroupId)
	if err != nil {
		return nil, err
	}

	img, err := receiptparser.DecodeImage(req.Msg.Image)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	parsed, err := s.parser.Parse(ctx, img)
	if err != nil {
		slog.Error("ParseReceipt failed", "group_id", access.group.ID, "error", err)
		switch {
		case errors.Is(err, receiptparser.ErrParserDisabled):
			s.observer.ObserveParse("disabled")
			return nil, connect.NewError(connect.CodeFailedPrecondition, err)
		case errors.Is(err, receiptparser.ErrUnreadable):
			s.observer.ObserveParse("unreadable")
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		s.observer.ObserveParse("error")
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	s.observer.ObserveParse("ok")

	resp := &api.ParseReceiptResponse{
		StoreName: parsed.StoreName,
		Date:      formatDate(parsed.Date),
		Subtotal:  formatMoney(parsed.Subtotal),
		Tax:       formatMoney(parsed.Tax),
		Total:     formatMoney(parsed.Total),
	}
	for _, item := range parsed.Items {
		item.ID = uuid.New().String()
		resp.Items = append(resp.Items, toAPIItem(item))
	}

	if req.Msg.StoreImage {
		url, err := s.images.Put(ctx, access.group.ID, img)
		if err != nil {
			// The scan itself succeeded; the receipt can live without its photo.
			slog.Warn("Failed to store receipt image", "group_id", access.group.ID, "error", err)
		}
		resp.ImageUrl = url
	}

	slog.Info("ParseReceipt successful", "group_id", access.group.ID, "items_count", len(resp.Items))

	return connect.NewResponse(resp), nil
}

// CreateReceipt saves a reviewed receipt with any assignments made so far.
func (s *ReceiptService) CreateReceipt(ctx context.Context, req *connect.Request[api.CreateReceiptRequest]) (*connect.Response[api.CreateReceiptResponse], error) {
	slog.Info("CreateReceipt request received",
		"group_id", req.Msg.GroupId,
		"items_count", len(req.Msg.Items),
		"assignments_count", len(req.Msg.Assignments),
	)

	access, err := requireMember(ctx, s.store, req.Msg.GroupId)
	if err != nil {
		return nil, err
	}
	roster, err := s.store.ListMembers(ctx, access.group.ID)
	if err != nil {
		return nil, storeError(err)
	}

	items, err := fromAPIItems(req.Msg.Items)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.New().String()
		}
	}
	date, err := parseDate(req.Msg.Date)
	if err != nil {
		return nil, err
	}

	receipt := &models.Receipt{
		GroupID:        access.group.ID,
		StoreName:      strings.TrimSpace(req.Msg.StoreName),
		Date:           date,
		Items:          items,
		Assignments:    make(map[string]models.Assignment, len(req.Msg.Assignments)),
		Status:         models.ReceiptPending,
		PaidByMemberID: req.Msg.PaidByMemberId,
		ImageURL:       req.Msg.ImageUrl,
		UploadedBy:     access.userID,
	}
	if receipt.StoreName == "" {
		receipt.StoreName = unknownStore
	}
	if receipt.PaidByMemberID != "" {
		if _, ok := models.FindMember(roster, receipt.PaidByMemberID); !ok {
			return nil, invalidArgument("paid_by_member_id %q is not in this group", receipt.PaidByMemberID)
		}
	}
	if receipt.Subtotal, err = parseMoney("subtotal", req.Msg.Subtotal); err != nil {
		return nil, err
	}
	if receipt.Tax, err = parseMoney("tax", req.Msg.Tax); err != nil {
		return nil, err
	}
	if receipt.Total, err = parseMoney("total", req.Msg.Total); err != nil {
		return nil, err
	}

	for itemID, in := range req.Msg.Assignments {
		item, ok := receipt.ItemByID(itemID)
		if !ok {
			return nil, invalidArgument("assignment for unknown item %q", itemID)
		}
		a, err := fromAPIAssignment(in)
		if err != nil {
			return nil, err
		}
		if a, err = checkAssignment(a, item, receipt, roster); err != nil {
			return nil, err
		}
		receipt.Assignments[itemID] = a
	}

	if err := s.store.CreateReceipt(ctx, receipt); err != nil {
		slog.Error("CreateReceipt failed", "group_id", access.group.ID, "error", err)
		return nil, storeError(err)
	}

	s.announce(ctx, events.ReceiptCreated, access, receipt.ID)
	slog.Info("Receipt created", "receipt_id", receipt.ID, "group_id", access.group.ID)

	return connect.NewResponse(&api.CreateReceiptResponse{Receipt: toAPIReceipt(receipt)}), nil
}

// GetReceipt returns a receipt with its per-member breakdown.
func (s *ReceiptService) GetReceipt(ctx context.Context, req *connect.Request[api.GetReceiptRequest]) (*connect.Response[api.GetReceiptResponse], error) {
	slog.Info("GetReceipt request received", "receipt_id", req.Msg.ReceiptId)

	receipt, _, roster, err := s.loadReceipt(ctx, req.Msg.ReceiptId)
	if err != nil {
		return nil, err
	}

	resp := &api.GetReceiptResponse{Receipt: toAPIReceipt(receipt)}
	breakdown, err := calculator.ReceiptBreakdown(roster, *receipt)
	if err != nil {
		// Without a payer there is no breakdown, but the receipt is still readable.
		slog.Warn("Receipt breakdown unavailable", "receipt_id", receipt.ID, "error", err)
	} else {
		resp.Breakdown = toAPIBreakdown(breakdown)
	}

	return connect.NewResponse(resp), nil
}

// ListReceipts returns a group's receipts, newest first.
func (s *ReceiptService) ListReceipts(ctx context.Context, req *connect.Request[api.ListReceiptsRequest]) (*connect.Response[api.ListReceiptsResponse], error) {
	slog.Info("ListReceipts request received", "group_id", req.Msg.GroupId, "status", req.Msg.Status)

	access, err := requireMember(ctx, s.store, req.Msg.GroupId)
	if err != nil {
		return nil, err
	}

	var status models.ReceiptStatus
	if req.Msg.Status != "" {
		if status, err = models.ParseReceiptStatus(req.Msg.Status); err != nil {
			return nil, invalidArgument("%v", err)
		}
	}

	receipts, err := s.store.ListReceiptsByGroup(ctx, access.group.ID)
	if err != nil {
		slog.Error("ListReceipts failed", "group_id", access.group.ID, "error", err)
		return nil, storeError(err)
	}

	out := make([]*api.Receipt, 0, len(receipts))
	for _, r := range receipts {
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, toAPIReceipt(r))
	}

	slog.Info("ListReceipts successful", "group_id", access.group.ID, "count", len(out))

	return connect.NewResponse(&api.ListReceiptsResponse{Receipts: out}), nil
}

// UpdateReceiptItems replaces the whole item list. Items keep their
// assignments when their IDs are resent; assignments of dropped items go.
func (s *ReceiptService) UpdateReceiptItems(ctx context.Context, req *connect.Request[api.UpdateReceiptItemsRequest]) (*connect.Response[api.UpdateReceiptItemsResponse], error) {
	slog.Info("UpdateReceiptItems request received", "receipt_id", req.Msg.ReceiptId, "items_count", len(req.Msg.Items))

	receipt, access, _, err := s.loadReceipt(ctx, req.Msg.ReceiptId)
	if err != nil {
		return nil, err
	}

	items, err := fromAPIItems(req.Msg.Items)
	if err != nil {
		return nil, err
	}
	if err := s.store.ReplaceItems(ctx, receipt.ID, items); err != nil {
		slog.Error("UpdateReceiptItems failed", "receipt_id", receipt.ID, "error", err)
		return nil, storeError(err)
	}

	updated, err := s.afterWrite(ctx, access, receipt.ID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&api.UpdateReceiptItemsResponse{Receipt: updated}), nil
}

// AssignItem classifies a swipe on an item card and applies the resulting
// assignment. A swipe below the threshold leaves the item as it was.
func (s *ReceiptService) AssignItem(ctx context.Context, req *connect.Request[api.AssignItemRequest]) (*connect.Response[api.AssignItemResponse], error) {
	receipt, access, roster, err := s.loadReceipt(ctx, req.Msg.ReceiptId)
	if err != nil {
		return nil, err
	}
	item, ok := receipt.ItemByID(req.Msg.ItemId)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("%w: item %s", storage.ErrNotFound, req.Msg.ItemId))
	}

	intent := s.classifier.Classify(
		gesture.Vector{X: req.Msg.OffsetX, Y: req.Msg.OffsetY},
		gesture.Vector{X: req.Msg.VelocityX, Y: req.Msg.VelocityY},
	)
	slog.Info("AssignItem request received", "receipt_id", receipt.ID, "item_id", item.ID, "intent", intent)

	resp := &api.AssignItemResponse{Intent: string(intent)}
	if intent == gesture.None {
		resp.Receipt = toAPIReceipt(receipt)
		return connect.NewResponse(resp), nil
	}

	shares, err := fromAPIShares(req.Msg.Shares)
	if err != nil {
		return nil, err
	}
	var current *models.Assignment
	if a, ok := receipt.Assignments[item.ID]; ok {
		current = &a
	}

	next, err := gesture.Apply(current, intent, item, receiptRoster(receipt, roster),
		gesture.Selection{MemberID: req.Msg.MemberId, Shares: shares})
	if errors.Is(err, gesture.ErrSelectionRequired) {
		resp.NeedsSelection = true
		resp.Receipt = toAPIReceipt(receipt)
		return connect.NewResponse(resp), nil
	}
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	if err := s.store.SetAssignment(ctx, receipt.ID, item.ID, *next); err != nil {
		slog.Error("AssignItem failed", "receipt_id", receipt.ID, "error", err)
		return nil, storeError(err)
	}

	if resp.Receipt, err = s.afterWrite(ctx, access, receipt.ID); err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

// SetAssignment stores an explicit assignment for one item.
func (s *ReceiptService) SetAssignment(ctx context.Context, req *connect.Request[api.SetAssignmentRequest]) (*connect.Response[api.SetAssignmentResponse], error) {
	slog.Info("SetAssignment request received", "receipt_id", req.Msg.ReceiptId, "item_id", req.Msg.ItemId)

	receipt, access, roster, err := s.loadReceipt(ctx, req.Msg.ReceiptId)
	if err != nil {
		return nil, err
	}
	item, ok := receipt.ItemByID(req.Msg.ItemId)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("%w: item %s", storage.ErrNotFound, req.Msg.ItemId))
	}

	a, err := fromAPIAssignment(req.Msg.Assignment)
	if err != nil {
		return nil, err
	}
	if a, err = checkAssignment(a, item, receipt, roster); err != nil {
		return nil, err
	}

	if err := s.store.SetAssignment(ctx, receipt.ID, item.ID, a); err != nil {
		slog.Error("SetAssignment failed", "receipt_id", receipt.ID, "error", err)
		return nil, storeError(err)
	}

	updated, err := s.afterWrite(ctx, access, receipt.ID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&api.SetAssignmentResponse{Receipt: updated}), nil
}

// ClearAssignment makes an item unassigned again.
func (s *ReceiptService) ClearAssignment(ctx context.Context, req *connect.Request[api.ClearAssignmentRequest]) (*connect.Response[api.ClearAssignmentResponse], error) {
	slog.Info("ClearAssignment request received", "receipt_id", req.Msg.ReceiptId, "item_id", req.Msg.ItemId)

	receipt, access, _, err := s.loadReceipt(ctx, req.Msg.ReceiptId)
	if err != nil {
		return nil, err
	}
	if err := s.store.ClearAssignment(ctx, receipt.ID, req.Msg.ItemId); err != nil {
		slog.Error("ClearAssignment failed", "receipt_id", receipt.ID, "error", err)
		return nil, storeError(err)
	}

	updated, err := s.afterWrite(ctx, access, receipt.ID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&api.ClearAssignmentResponse{Receipt: updated}), nil
}

// SetReceiptStatus marks a receipt pending or settled.
func (s *ReceiptService) SetReceiptStatus(ctx context.Context, req *connect.Request[api.SetReceiptStatusRequest]) (*connect.Response[api.SetReceiptStatusResponse], error) {
	slog.Info("SetReceiptStatus request received", "receipt_id", req.Msg.ReceiptId, "status", req.Msg.Status)

	if req.Msg.Status == "" {
		return nil, invalidArgument("status required")
	}
	status, err := models.ParseReceiptStatus(req.Msg.Status)
	if err != nil {
		return nil, invalidArgument("%v", err)
	}

	receipt, access, _, err := s.loadReceipt(ctx, req.Msg.ReceiptId)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetReceiptStatus(ctx, receipt.ID, status); err != nil {
		slog.Error("SetReceiptStatus failed", "receipt_id", receipt.ID, "error", err)
		return nil, storeError(err)
	}

	updated, err := s.afterWrite(ctx, access, receipt.ID)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&api.SetReceiptStatusResponse{Receipt: updated}), nil
}

// DeleteReceipt removes a receipt. Any group member may do this.
func (s *ReceiptService) DeleteReceipt(ctx context.Context, req *connect.Request[api.DeleteReceiptRequest]) (*connect.Response[emptypb.Empty], error) {
	slog.Info("DeleteReceipt request received", "receipt_id", req.Msg.ReceiptId)

	receipt, access, _, err := s.loadReceipt(ctx, req.Msg.ReceiptId)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteReceipt(ctx, receipt.ID); err != nil {
		slog.Error("DeleteReceipt failed", "receipt_id", receipt.ID, "error", err)
		return nil, storeError(err)
	}

	s.announce(ctx, events.ReceiptDeleted, access, receipt.ID)
	slog.Info("Receipt deleted", "receipt_id", receipt.ID)

	return connect.NewResponse(&emptypb.Empty{}), nil
}

// loadReceipt fetches a receipt and checks that the caller belongs to its group.
func (s *ReceiptService) loadReceipt(ctx context.Context, receiptID string) (*models.Receipt, membership, []models.Member, error) {
	if _, err := currentUser(ctx); err != nil {
		return nil, membership{}, nil, err
	}
	if receiptID == "" {
		return nil, membership{}, nil, invalidArgument("receipt_id required")
	}
	receipt, err := s.store.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, membership{}, nil, storeError(err)
	}
	access, err := requireMember(ctx, s.store, receipt.GroupID)
	if err != nil {
		return nil, membership{}, nil, err
	}
	roster, err := s.store.ListMembers(ctx, receipt.GroupID)
	if err != nil {
		return nil, membership{}, nil, storeError(err)
	}
	return receipt, access, roster, nil
}

// afterWrite reloads a receipt and announces the change.
func (s *ReceiptService) afterWrite(ctx context.Context, access membership, receiptID string) (*api.Receipt, error) {
	receipt, err := s.store.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, storeError(err)
	}
	s.announce(ctx, events.ReceiptUpdated, access, receiptID)
	return toAPIReceipt(receipt), nil
}

func (s *ReceiptService) announce(ctx context.Context, t events.Type, access membership, receiptID string) {
	e := events.New(t, access.group.ID)
	e.ReceiptID = receiptID
	e.ActorID = access.userID
	publish(ctx, s.publisher, e)
}

// receiptRoster returns a copy of the roster in which the receipt's payer
// carries the payer flag.
func receiptRoster(receipt *models.Receipt, roster []models.Member) []models.Member {
	if receipt.PaidByMemberID == "" {
		return roster
	}
	out := make([]models.Member, len(roster))
	for i, m := range roster {
		m.IsPayer = m.ID == receipt.PaidByMemberID
		out[i] = m
	}
	return out
}

// checkAssignment validates an assignment against the item and the people
// on the receipt, the same way a swipe would.
func checkAssignment(a models.Assignment, item models.Item, receipt *models.Receipt, roster []models.Member) (models.Assignment, error) {
	members := receiptRoster(receipt, roster)
	var err error
	switch a.Kind {
	case models.AssignMember:
		a, err = gesture.ResolveMemberPick(members, a.TargetMemberID)
	case models.AssignCustom:
		a, err = gesture.ResolveCustomSplit(item.Price(), members, a.Shares)
	}
	if err != nil {
		return models.Assignment{}, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("item %s: %w", item.ID, err))
	}
	return a, nil
}
