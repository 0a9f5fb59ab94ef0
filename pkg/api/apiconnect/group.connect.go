package apiconnect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/davidrmellors/receipt-splitter/pkg/api"
)

// GroupServiceName is the fully-qualified name of the GroupService service.
const GroupServiceName = "receipts.v1.GroupService"

const (
	GroupServiceCreateGroupProcedure      = "/receipts.v1.GroupService/CreateGroup"
	GroupServiceGetGroupProcedure         = "/receipts.v1.GroupService/GetGroup"
	GroupServiceListGroupsProcedure       = "/receipts.v1.GroupService/ListGroups"
	GroupServiceDeleteGroupProcedure      = "/receipts.v1.GroupService/DeleteGroup"
	GroupServiceAddMemberProcedure        = "/receipts.v1.GroupService/AddMember"
	GroupServiceRemoveMemberProcedure     = "/receipts.v1.GroupService/RemoveMember"
	GroupServiceSetPayerProcedure         = "/receipts.v1.GroupService/SetPayer"
	GroupServiceGetGroupBalancesProcedure = "/receipts.v1.GroupService/GetGroupBalances"
	GroupServiceRecordPaymentProcedure    = "/receipts.v1.GroupService/RecordPayment"
	GroupServiceListPaymentsProcedure     = "/receipts.v1.GroupService/ListPayments"
)

// GroupServiceHandler is implemented by the server side of GroupService.
type GroupServiceHandler interface {
	CreateGroup(context.Context, *connect.Request[api.CreateGroupRequest]) (*connect.Response[api.CreateGroupResponse], error)
	GetGroup(context.Context, *connect.Request[api.GetGroupRequest]) (*connect.Response[api.GetGroupResponse], error)
	ListGroups(context.Context, *connect.Request[api.ListGroupsRequest]) (*connect.Response[api.ListGroupsResponse], error)
	DeleteGroup(context.Context, *connect.Request[api.DeleteGroupRequest]) (*connect.Response[emptypb.Empty], error)
	AddMember(context.Context, *connect.Request[api.AddMemberRequest]) (*connect.Response[api.AddMemberResponse], error)
	RemoveMember(context.Context, *connect.Request[api.RemoveMemberRequest]) (*connect.Response[emptypb.Empty], error)
	SetPayer(context.Context, *connect.Request[api.SetPayerRequest]) (*connect.Response[api.SetPayerResponse], error)
	GetGroupBalances(context.Context, *connect.Request[api.GetGroupBalancesRequest]) (*connect.Response[api.GetGroupBalancesResponse], error)
	RecordPayment(context.Context, *connect.Request[api.RecordPaymentRequest]) (*connect.Response[api.RecordPaymentResponse], error)
	ListPayments(context.Context, *connect.Request[api.ListPaymentsRequest]) (*connect.Response[api.ListPaymentsResponse], error)
}

// NewGroupServiceHandler builds an HTTP handler from the service implementation.
// It returns the path on which to mount the handler and the handler itself.
func NewGroupServiceHandler(svc GroupServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = handlerOptions(opts)
	routes := map[string]http.Handler{
		GroupServiceCreateGroupProcedure:      connect.NewUnaryHandler(GroupServiceCreateGroupProcedure, svc.CreateGroup, opts...),
		GroupServiceGetGroupProcedure:         connect.NewUnaryHandler(GroupServiceGetGroupProcedure, svc.GetGroup, opts...),
		GroupServiceListGroupsProcedure:       connect.NewUnaryHandler(GroupServiceListGroupsProcedure, svc.ListGroups, opts...),
		GroupServiceDeleteGroupProcedure:      connect.NewUnaryHandler(GroupServiceDeleteGroupProcedure, svc.DeleteGroup, opts...),
		GroupServiceAddMemberProcedure:        connect.NewUnaryHandler(GroupServiceAddMemberProcedure, svc.AddMember, opts...),
		GroupServiceRemoveMemberProcedure:     connect.NewUnaryHandler(GroupServiceRemoveMemberProcedure, svc.RemoveMember, opts...),
		GroupServiceSetPayerProcedure:         connect.NewUnaryHandler(GroupServiceSetPayerProcedure, svc.SetPayer, opts...),
		GroupServiceGetGroupBalancesProcedure: connect.NewUnaryHandler(GroupServiceGetGroupBalancesProcedure, svc.GetGroupBalances, opts...),
		GroupServiceRecordPaymentProcedure:    connect.NewUnaryHandler(GroupServiceRecordPaymentProcedure, svc.RecordPayment, opts...),
		GroupServiceListPaymentsProcedure:     connect.NewUnaryHandler(GroupServiceListPaymentsProcedure, svc.ListPayments, opts...),
	}
	return "/" + GroupServiceName + "/", route(routes)
}

// GroupServiceClient is a client for the GroupService service.
type GroupServiceClient interface {
	CreateGroup(context.Context, *connect.Request[api.CreateGroupRequest]) (*connect.Response[api.CreateGroupResponse], error)
	GetGroup(context.Context, *connect.Request[api.GetGroupRequest]) (*connect.Response[api.GetGroupResponse], error)
	ListGroups(context.Context, *connect.Request[api.ListGroupsRequest]) (*connect.Response[api.ListGroupsResponse], error)
	DeleteGroup(context.Context, *connect.Request[api.DeleteGroupRequest]) (*connect.Response[emptypb.Empty], error)
	AddMember(context.Context, *connect.Request[api.AddMemberRequest]) (*connect.Response[api.AddMemberResponse], error)
	RemoveMember(context.Context, *connect.Request[api.RemoveMemberRequest]) (*connect.Response[emptypb.Empty], error)
	SetPayer(context.Context, *connect.Request[api.SetPayerRequest]) (*connect.Response[api.SetPayerResponse], error)
	GetGroupBalances(context.Context, *connect.Request[api.GetGroupBalancesRequest]) (*connect.Response[api.GetGroupBalancesResponse], error)
	RecordPayment(context.Context, *connect.Request[api.RecordPaymentRequest]) (*connect.Response[api.RecordPaymentResponse], error)
	ListPayments(context.Context, *connect.Request[api.ListPaymentsRequest]) (*connect.Response[api.ListPaymentsResponse], error)
}

// NewGroupServiceClient constructs a client for the GroupService service.
func NewGroupServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) GroupServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = clientOptions(opts)
	return &groupServiceClient{
		createGroup:      connect.NewClient[api.CreateGroupRequest, api.CreateGroupResponse](httpClient, baseURL+GroupServiceCreateGroupProcedure, opts...),
		getGroup:         connect.NewClient[api.GetGroupRequest, api.GetGroupResponse](httpClient, baseURL+GroupServiceGetGroupProcedure, opts...),
		listGroups:       connect.NewClient[api.ListGroupsRequest, api.ListGroupsResponse](httpClient, baseURL+GroupServiceListGroupsProcedure, opts...),
		deleteGroup:      connect.NewClient[api.DeleteGroupRequest, emptypb.Empty](httpClient, baseURL+GroupServiceDeleteGroupProcedure, opts...),
		addMember:        connect.NewClient[api.AddMemberRequest, api.AddMemberResponse](httpClient, baseURL+GroupServiceAddMemberProcedure, opts...),
		removeMember:     connect.NewClient[api.RemoveMemberRequest, emptypb.Empty](httpClient, baseURL+GroupServiceRemoveMemberProcedure, opts...),
		setPayer:         connect.NewClient[api.SetPayerRequest, api.SetPayerResponse](httpClient, baseURL+GroupServiceSetPayerProcedure, opts...),
		getGroupBalances: connect.NewClient[api.GetGroupBalancesRequest, api.GetGroupBalancesResponse](httpClient, baseURL+GroupServiceGetGroupBalancesProcedure, opts...),
		recordPayment:    connect.NewClient[api.RecordPaymentRequest, api.RecordPaymentResponse](httpClient, baseURL+GroupServiceRecordPaymentProcedure, opts...),
		listPayments:     connect.NewClient[api.ListPaymentsRequest, api.ListPaymentsResponse](httpClient, baseURL+GroupServiceListPaymentsProcedure, opts...),
	}
}

type groupServiceClient struct {
	createGroup      *connect.Client[api.CreateGroupRequest, api.CreateGroupResponse]
	getGroup         *connect.Client[api.GetGroupRequest, api.GetGroupResponse]
	listGroups       *connect.Client[api.ListGroupsRequest, api.ListGroupsResponse]
	deleteGroup      *connect.Client[api.DeleteGroupRequest, emptypb.Empty]
	addMember        *connect.Client[api.AddMemberRequest, api.AddMemberResponse]
	removeMember     *connect.Client[api.RemoveMemberRequest, emptypb.Empty]
	setPayer         *connect.Client[api.SetPayerRequest, api.SetPayerResponse]
	getGroupBalances *connect.Client[api.GetGroupBalancesRequest, api.GetGroupBalancesResponse]
	recordPayment    *connect.Client[api.RecordPaymentRequest, api.RecordPaymentResponse]
	listPayments     *connect.Client[api.ListPaymentsRequest, api.ListPaymentsResponse]
}

func (c *groupServiceClient) CreateGroup(ctx context.Context, req *connect.Request[api.CreateGroupRequest]) (*connect.Response[api.CreateGroupResponse], error) {
	return c.createGroup.CallUnary(ctx, req)
}

func (c *groupServiceClient) GetGroup(ctx context.Context, req *connect.Request[api.GetGroupRequest]) (*connect.Response[api.GetGroupResponse], error) {
	return c.getGroup.CallUnary(ctx, req)
}

func (c *groupServiceClient) ListGroups(ctx context.Context, req *connect.Request[api.ListGroupsRequest]) (*connect.Response[api.ListGroupsResponse], error) {
	return c.listGroups.CallUnary(ctx, req)
}

func (c *groupServiceClient) DeleteGroup(ctx context.Context, req *connect.Request[api.DeleteGroupRequest]) (*connect.Response[emptypb.Empty], error) {
	return c.deleteGroup.CallUnary(ctx, req)
}

func (c *groupServiceClient) AddMember(ctx context.Context, req *connect.Request[api.AddMemberRequest]) (*connect.Response[api.AddMemberResponse], error) {
	return c.addMember.CallUnary(ctx, req)
}

func (c *groupServiceClient) RemoveMember(ctx context.Context, req *connect.Request[api.RemoveMemberRequest]) (*connect.Response[emptypb.Empty], error) {
	return c.removeMember.CallUnary(ctx, req)
}

func (c *groupServiceClient) SetPayer(ctx context.Context, req *connect.Request[api.SetPayerRequest]) (*connect.Response[api.SetPayerResponse], error) {
	return c.setPayer.CallUnary(ctx, req)
}

func (c *groupServiceClient) GetGroupBalances(ctx context.Context, req *connect.Request[api.GetGroupBalancesRequest]) (*connect.Response[api.GetGroupBalancesResponse], error) {
	return c.getGroupBalances.CallUnary(ctx, req)
}

func (c *groupServiceClient) RecordPayment(ctx context.Context, req *connect.Request[api.RecordPaymentRequest]) (*connect.Response[api.RecordPaymentResponse], error) {
	return c.recordPayment.CallUnary(ctx, req)
}

func (c *groupServiceClient) ListPayments(ctx context.Context, req *connect.Request[api.ListPaymentsRequest]) (*connect.Response[api.ListPaymentsResponse], error) {
	return c.listPayments.CallUnary(ctx, req)
}
