package apiconnect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/davidrmellors/receipt-splitter/pkg/api"
)

// ReceiptServiceName is the fully-qualified name of the ReceiptService service.
const ReceiptServiceName = "receipts.v1.ReceiptService"

const (
	ReceiptServiceParseReceiptProcedure       = "/receipts.v1.ReceiptService/ParseReceipt"
	ReceiptServiceCreateReceiptProcedure      = "/receipts.v1.ReceiptService/CreateReceipt"
	ReceiptServiceGetReceiptProcedure         = "/receipts.v1.ReceiptService/GetReceipt"
	ReceiptServiceListReceiptsProcedure       = "/receipts.v1.ReceiptService/ListReceipts"
	ReceiptServiceUpdateReceiptItemsProcedure = "/receipts.v1.ReceiptService/UpdateReceiptItems"
	ReceiptServiceAssignItemProcedure         = "/receipts.v1.ReceiptService/AssignItem"
	ReceiptServiceSetAssignmentProcedure      = "/receipts.v1.ReceiptService/SetAssignment"
	ReceiptServiceClearAssignmentProcedure    = "/receipts.v1.ReceiptService/ClearAssignment"
	ReceiptServiceSetReceiptStatusProcedure   = "/receipts.v1.ReceiptService/SetReceiptStatus"
	ReceiptServiceDeleteReceiptProcedure      = "/receipts.v1.ReceiptService/DeleteReceipt"
)

// ReceiptServiceHandler is implemented by the server side of ReceiptService.
type ReceiptServiceHandler interface {
	ParseReceipt(context.Context, *connect.Request[api.ParseReceiptRequest]) (*connect.Response[api.ParseReceiptResponse], error)
	CreateReceipt(context.Context, *connect.Request[api.CreateReceiptRequest]) (*connect.Response[api.CreateReceiptResponse], error)
	GetReceipt(context.Context, *connect.Request[api.GetReceiptRequest]) (*connect.Response[api.GetReceiptResponse], error)
	ListReceipts(context.Context, *connect.Request[api.ListReceiptsRequest]) (*connect.Response[api.ListReceiptsResponse], error)
	UpdateReceiptItems(context.Context, *connect.Request[api.UpdateReceiptItemsRequest]) (*connect.Response[api.UpdateReceiptItemsResponse], error)
	AssignItem(context.Context, *connect.Request[api.AssignItemRequest]) (*connect.Response[api.AssignItemResponse], error)
	SetAssignment(context.Context, *connect.Request[api.SetAssignmentRequest]) (*connect.Response[api.SetAssignmentResponse], error)
	ClearAssignment(context.Context, *connect.Request[api.ClearAssignmentRequest]) (*connect.Response[api.ClearAssignmentResponse], error)
	SetReceiptStatus(context.Context, *connect.Request[api.SetReceiptStatusRequest]) (*connect.Response[api.SetReceiptStatusResponse], error)
	DeleteReceipt(context.Context, *connect.Request[api.DeleteReceiptRequest]) (*connect.Response[emptypb.Empty], error)
}

// NewReceiptServiceHandler builds an HTTP handler from the service implementation.
// It returns the path on which to mount the handler and the handler itself.
func NewReceiptServiceHandler(svc ReceiptServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = handlerOptions(opts)
	routes := map[string]http.Handler{
		ReceiptServiceParseReceiptProcedure:       connect.NewUnaryHandler(ReceiptServiceParseReceiptProcedure, svc.ParseReceipt, opts...),
		ReceiptServiceCreateReceiptProcedure:      connect.NewUnaryHandler(ReceiptServiceCreateReceiptProcedure, svc.CreateReceipt, opts...),
		ReceiptServiceGetReceiptProcedure:         connect.NewUnaryHandler(ReceiptServiceGetReceiptProcedure, svc.GetReceipt, opts...),
		ReceiptServiceListReceiptsProcedure:       connect.NewUnaryHandler(ReceiptServiceListReceiptsProcedure, svc.ListReceipts, opts...),
		ReceiptServiceUpdateReceiptItemsProcedure: connect.NewUnaryHandler(ReceiptServiceUpdateReceiptItemsProcedure, svc.UpdateReceiptItems, opts...),
		ReceiptServiceAssignItemProcedure:         connect.NewUnaryHandler(ReceiptServiceAssignItemProcedure, svc.AssignItem, opts...),
		ReceiptServiceSetAssignmentProcedure:      connect.NewUnaryHandler(ReceiptServiceSetAssignmentProcedure, svc.SetAssignment, opts...),
		ReceiptServiceClearAssignmentProcedure:    connect.NewUnaryHandler(ReceiptServiceClearAssignmentProcedure, svc.ClearAssignment, opts...),
		ReceiptServiceSetReceiptStatusProcedure:   connect.NewUnaryHandler(ReceiptServiceSetReceiptStatusProcedure, svc.SetReceiptStatus, opts...),
		ReceiptServiceDeleteReceiptProcedure:      connect.NewUnaryHandler(ReceiptServiceDeleteReceiptProcedure, svc.DeleteReceipt, opts...),
	}
	return "/" + ReceiptServiceName + "/", route(routes)
}

// ReceiptServiceClient is a client for the ReceiptService service.
type ReceiptServiceClient interface {
	ParseReceipt(context.Context, *connect.Request[api.ParseReceiptRequest]) (*connect.Response[api.ParseReceiptResponse], error)
	CreateReceipt(context.Context, *connect.Request[api.CreateReceiptRequest]) (*connect.Response[api.CreateReceiptResponse], error)
	GetReceipt(context.Context, *connect.Request[api.GetReceiptRequest]) (*connect.Response[api.GetReceiptResponse], error)
	ListReceipts(context.Context, *connect.Request[api.ListReceiptsRequest]) (*connect.Response[api.ListReceiptsResponse], error)
	UpdateReceiptItems(context.Context, *connect.Request[api.UpdateReceiptItemsRequest]) (*connect.Response[api.UpdateReceiptItemsResponse], error)
	AssignItem(context.Context, *connect.Request[api.AssignItemRequest]) (*connect.Response[api.AssignItemResponse], error)
	SetAssignment(context.Context, *connect.Request[api.SetAssignmentRequest]) (*connect.Response[api.SetAssignmentResponse], error)
	ClearAssignment(context.Context, *connect.Request[api.ClearAssignmentRequest]) (*connect.Response[api.ClearAssignmentResponse], error)
	SetReceiptStatus(context.Context, *connect.Request[api.SetReceiptStatusRequest]) (*connect.Response[api.SetReceiptStatusResponse], error)
	DeleteReceipt(context.Context, *connect.Request[api.DeleteReceiptRequest]) (*connect.Response[emptypb.Empty], error)
}

// NewReceiptServiceClient constructs a client for the ReceiptService service.
func NewReceiptServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) ReceiptServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = clientOptions(opts)
	return &receiptServiceClient{
		parseReceipt:       connect.NewClient[api.ParseReceiptRequest, api.ParseReceiptResponse](httpClient, baseURL+ReceiptServiceParseReceiptProcedure, opts...),
		createReceipt:      connect.NewClient[api.CreateReceiptRequest, api.CreateReceiptResponse](httpClient, baseURL+ReceiptServiceCreateReceiptProcedure, opts...),
		getReceipt:         connect.NewClient[api.GetReceiptRequest, api.GetReceiptResponse](httpClient, baseURL+ReceiptServiceGetReceiptProcedure, opts...),
		listReceipts:       connect.NewClient[api.ListReceiptsRequest, api.ListReceiptsResponse](httpClient, baseURL+ReceiptServiceListReceiptsProcedure, opts...),
		updateReceiptItems: connect.NewClient[api.UpdateReceiptItemsRequest, api.UpdateReceiptItemsResponse](httpClient, baseURL+ReceiptServiceUpdateReceiptItemsProcedure, opts...),
		assignItem:         connect.NewClient[api.AssignItemRequest, api.AssignItemResponse](httpClient, baseURL+ReceiptServiceAssignItemProcedure, opts...),
		setAssignment:      connect.NewClient[api.SetAssignmentRequest, api.SetAssignmentResponse](httpClient, baseURL+ReceiptServiceSetAssignmentProcedure, opts...),
		clearAssignment:    connect.NewClient[api.ClearAssignmentRequest, api.ClearAssignmentResponse](httpClient, baseURL+ReceiptServiceClearAssignmentProcedure, opts...),
		setReceiptStatus:   connect.NewClient[api.SetReceiptStatusRequest, api.SetReceiptStatusResponse](httpClient, baseURL+ReceiptServiceSetReceiptStatusProcedure, opts...),
		deleteReceipt:      connect.NewClient[api.DeleteReceiptRequest, emptypb.Empty](httpClient, baseURL+ReceiptServiceDeleteReceiptProcedure, opts...),
	}
}

type receiptServiceClient struct {
	parseReceipt       *connect.Client[api.ParseReceiptRequest, api.ParseReceiptResponse]
	createReceipt      *connect.Client[api.CreateReceiptRequest, api.CreateReceiptResponse]
	getReceipt         *connect.Client[api.GetReceiptRequest, api.GetReceiptResponse]
	listReceipts       *connect.Client[api.ListReceiptsRequest, api.ListReceiptsResponse]
	updateReceiptItems *connect.Client[api.UpdateReceiptItemsRequest, api.UpdateReceiptItemsResponse]
	assignItem         *connect.Client[api.AssignItemRequest, api.AssignItemResponse]
	setAssignment      *connect.Client[api.SetAssignmentRequest, api.SetAssignmentResponse]
	clearAssignment    *connect.Client[api.ClearAssignmentRequest, api.ClearAssignmentResponse]
	setReceiptStatus   *connect.Client[api.SetReceiptStatusRequest, api.SetReceiptStatusResponse]
	deleteReceipt      *connect.Client[api.DeleteReceiptRequest, emptypb.Empty]
}

func (c *receiptServiceClient) ParseReceipt(ctx context.Context, req *connect.Request[api.ParseReceiptRequest]) (*connect.Response[api.ParseReceiptResponse], error) {
	return c.parseReceipt.CallUnary(ctx, req)
}

func (c *receiptServiceClient) CreateReceipt(ctx context.Context, req *connect.Request[api.CreateReceiptRequest]) (*connect.Response[api.CreateReceiptResponse], error) {
	return c.createReceipt.CallUnary(ctx, req)
}

func (c *receiptServiceClient) GetReceipt(ctx context.Context, req *connect.Request[api.GetReceiptRequest]) (*connect.Response[api.GetReceiptResponse], error) {
	return c.getReceipt.CallUnary(ctx, req)
}

func (c *receiptServiceClient) ListReceipts(ctx context.Context, req *connect.Request[api.ListReceiptsRequest]) (*connect.Response[api.ListReceiptsResponse], error) {
	return c.listReceipts.CallUnary(ctx, req)
}

func (c *receiptServiceClient) UpdateReceiptItems(ctx context.Context, req *connect.Request[api.UpdateReceiptItemsRequest]) (*connect.Response[api.UpdateReceiptItemsResponse], error) {
	return c.updateReceiptItems.CallUnary(ctx, req)
}

func (c *receiptServiceClient) AssignItem(ctx context.Context, req *connect.Request[api.AssignItemRequest]) (*connect.Response[api.AssignItemResponse], error) {
	return c.assignItem.CallUnary(ctx, req)
}

func (c *receiptServiceClient) SetAssignment(ctx context.Context, req *connect.Request[api.SetAssignmentRequest]) (*connect.Response[api.SetAssignmentResponse], error) {
	return c.setAssignment.CallUnary(ctx, req)
}

func (c *receiptServiceClient) ClearAssignment(ctx context.Context, req *connect.Request[api.ClearAssignmentRequest]) (*connect.Response[api.ClearAssignmentResponse], error) {
	return c.clearAssignment.CallUnary(ctx, req)
}

func (c *receiptServiceClient) SetReceiptStatus(ctx context.Context, req *connect.Request[api.SetReceiptStatusRequest]) (*connect.Response[api.SetReceiptStatusResponse], error) {
	return c.setReceiptStatus.CallUnary(ctx, req)
}

func (c *receiptServiceClient) DeleteReceipt(ctx context.Context, req *connect.Request[api.DeleteReceiptRequest]) (*connect.Response[emptypb.Empty], error) {
	return c.deleteReceipt.CallUnary(ctx, req)
}
