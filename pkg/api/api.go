// Package api defines the messages exchanged with the receipt splitter RPC services.
//
// Money travels as decimal strings ("12.34") and dates as "YYYY-MM-DD".
// Field names follow the protobuf JSON mapping so browser clients can use
// the Connect protocol with plain JSON bodies.
package api

type User struct {
	Id          string `json:"id,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	CreatedAt   int64  `json:"createdAt,omitempty"`
}

type Member struct {
	Id          string `json:"id,omitempty"`
	UserId      string `json:"userId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	IsPayer     bool   `json:"isPayer,omitempty"`
	JoinedAt    int64  `json:"joinedAt,omitempty"`
}

type Group struct {
	Id          string    `json:"id,omitempty"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	CreatedAt   int64     `json:"createdAt,omitempty"`
	Members     []*Member `json:"members,omitempty"`
}

type Item struct {
	Id        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	UnitPrice string `json:"unitPrice,omitempty"`
	Quantity  int32  `json:"quantity,omitempty"`
	Category  string `json:"category,omitempty"`
}

type Share struct {
	MemberId string `json:"memberId,omitempty"`
	Amount   string `json:"amount,omitempty"`
}

// Assignment mirrors models.Assignment. Type is one of self, member, split, custom.
type Assignment struct {
	Type     string   `json:"type,omitempty"`
	MemberId string   `json:"memberId,omitempty"`
	Shares   []*Share `json:"shares,omitempty"`
}

type Receipt struct {
	Id             string                 `json:"id,omitempty"`
	GroupId        string                 `json:"groupId,omitempty"`
	StoreName      string                 `json:"storeName,omitempty"`
	Date           string                 `json:"date,omitempty"`
	Items          []*Item                `json:"items,omitempty"`
	Assignments    map[string]*Assignment `json:"assignments,omitempty"` // keyed by item ID
	Status         string                 `json:"status,omitempty"`
	PaidByMemberId string                 `json:"paidByMemberId,omitempty"`
	ImageUrl       string                 `json:"imageUrl,omitempty"`
	Subtotal       string                 `json:"subtotal,omitempty"`
	Tax            string                 `json:"tax,omitempty"`
	Total          string                 `json:"total,omitempty"`
	UploadedBy     string                 `json:"uploadedBy,omitempty"`
	CreatedAt      int64                  `json:"createdAt,omitempty"`
}

type Balance struct {
	MemberId    string `json:"memberId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	TotalOwed   string `json:"totalOwed,omitempty"`
	TotalOwes   string `json:"totalOwes,omitempty"`
	Net         string `json:"net,omitempty"`
}

// Debt is one suggested transfer in the settlement view.
type Debt struct {
	FromMemberId string `json:"fromMemberId,omitempty"`
	ToMemberId   string `json:"toMemberId,omitempty"`
	Amount       string `json:"amount,omitempty"`
}

// Warning reports a record skipped while computing balances.
type Warning struct {
	Kind      string `json:"kind,omitempty"`
	ReceiptId string `json:"receiptId,omitempty"`
	ItemId    string `json:"itemId,omitempty"`
	PaymentId string `json:"paymentId,omitempty"`
	MemberId  string `json:"memberId,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type Payment struct {
	Id           string `json:"id,omitempty"`
	GroupId      string `json:"groupId,omitempty"`
	FromMemberId string `json:"fromMemberId,omitempty"`
	ToMemberId   string `json:"toMemberId,omitempty"`
	Amount       string `json:"amount,omitempty"`
	Note         string `json:"note,omitempty"`
	CreatedBy    string `json:"createdBy,omitempty"`
	CreatedAt    int64  `json:"createdAt,omitempty"`
}

type ShareLine struct {
	ItemId string `json:"itemId,omitempty"`
	Name   string `json:"name,omitempty"`
	Amount string `json:"amount,omitempty"`
}

// MemberShare is one member's itemized portion of a receipt, tax included.
type MemberShare struct {
	MemberId string       `json:"memberId,omitempty"`
	Subtotal string       `json:"subtotal,omitempty"`
	Tax      string       `json:"tax,omitempty"`
	Total    string       `json:"total,omitempty"`
	Items    []*ShareLine `json:"items,omitempty"`
}

// AuthService

type RegisterRequest struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Password    string `json:"password,omitempty"`
}

type RegisterResponse struct {
	User  *User  `json:"user,omitempty"`
	Token string `json:"token,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

type LoginResponse struct {
	User  *User  `json:"user,omitempty"`
	Token string `json:"token,omitempty"`
}

type GetCurrentUserRequest struct{}

type GetCurrentUserResponse struct {
	User *User `json:"user,omitempty"`
}

// GroupService

type CreateGroupRequest struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	// DisplayName is the creator's name inside the group. Defaults to "You".
	DisplayName string `json:"displayName,omitempty"`
}

type CreateGroupResponse struct {
	Group *Group `json:"group,omitempty"`
}

type GetGroupRequest struct {
	GroupId string `json:"groupId,omitempty"`
}

type GetGroupResponse struct {
	Group *Group `json:"group,omitempty"`
}

type ListGroupsRequest struct{}

type ListGroupsResponse struct {
	Groups []*Group `json:"groups,omitempty"`
}

type DeleteGroupRequest struct {
	GroupId string `json:"groupId,omitempty"`
}

type AddMemberRequest struct {
	GroupId     string `json:"groupId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	// Email links the member to a registered account. Optional.
	Email string `json:"email,omitempty"`
}

type AddMemberResponse struct {
	Member *Member `json:"member,omitempty"`
}

type RemoveMemberRequest struct {
	GroupId  string `json:"groupId,omitempty"`
	MemberId string `json:"memberId,omitempty"`
}

type SetPayerRequest struct {
	GroupId  string `json:"groupId,omitempty"`
	MemberId string `json:"memberId,omitempty"`
}

type SetPayerResponse struct {
	Group *Group `json:"group,omitempty"`
}

type GetGroupBalancesRequest struct {
	GroupId        string `json:"groupId,omitempty"`
	IncludeSettled bool   `json:"includeSettled,omitempty"`
}

type GetGroupBalancesResponse struct {
	Balances []*Balance `json:"balances,omitempty"`
	Debts    []*Debt    `json:"debts,omitempty"`
	Warnings []*Warning `json:"warnings,omitempty"`
}

type RecordPaymentRequest struct {
	GroupId      string `json:"groupId,omitempty"`
	FromMemberId string `json:"fromMemberId,omitempty"`
	ToMemberId   string `json:"toMemberId,omitempty"`
	Amount       string `json:"amount,omitempty"`
	Note         string `json:"note,omitempty"`
}

type RecordPaymentResponse struct {
	Payment *Payment `json:"payment,omitempty"`
}

type ListPaymentsRequest struct {
	GroupId string `json:"groupId,omitempty"`
}

type ListPaymentsResponse struct {
	Payments []*Payment `json:"payments,omitempty"`
}

// ReceiptService

type ParseReceiptRequest struct {
	GroupId string `json:"groupId,omitempty"`
	// Image is base64 data or a data URL.
	Image string `json:"image,omitempty"`
	// StoreImage keeps a copy of the image for the receipt.
	StoreImage bool `json:"storeImage,omitempty"`
}

type ParseReceiptResponse struct {
	StoreName string  `json:"storeName,omitempty"`
	Date      string  `json:"date,omitempty"`
	Items     []*Item `json:"items,omitempty"`
	Subtotal  string  `json:"subtotal,omitempty"`
	Tax       string  `json:"tax,omitempty"`
	Total     string  `json:"total,omitempty"`
	ImageUrl  string  `json:"imageUrl,omitempty"`
}

type CreateReceiptRequest struct {
	GroupId        string                 `json:"groupId,omitempty"`
	StoreName      string                 `json:"storeName,omitempty"`
	Date           string                 `json:"date,omitempty"`
	Items          []*Item                `json:"items,omitempty"`
	Assignments    map[string]*Assignment `json:"assignments,omitempty"`
	PaidByMemberId string                 `json:"paidByMemberId,omitempty"`
	ImageUrl       string                 `json:"imageUrl,omitempty"`
	Subtotal       string                 `json:"subtotal,omitempty"`
	Tax            string                 `json:"tax,omitempty"`
	Total          string                 `json:"total,omitempty"`
}

type CreateReceiptResponse struct {
	Receipt *Receipt `json:"receipt,omitempty"`
}

type GetReceiptRequest struct {
	ReceiptId string `json:"receiptId,omitempty"`
}

type GetReceiptResponse struct {
	Receipt   *Receipt       `json:"receipt,omitempty"`
	Breakdown []*MemberShare `json:"breakdown,omitempty"`
}

type ListReceiptsRequest struct {
	GroupId string `json:"groupId,omitempty"`
	// Status filters by pending or settled. Empty lists all.
	Status string `json:"status,omitempty"`
}

type ListReceiptsResponse struct {
	Receipts []*Receipt `json:"receipts,omitempty"`
}

type UpdateReceiptItemsRequest struct {
	ReceiptId string  `json:"receiptId,omitempty"`
	Items     []*Item `json:"items,omitempty"`
}

type UpdateReceiptItemsResponse struct {
	Receipt *Receipt `json:"receipt,omitempty"`
}

// AssignItemRequest carries a swipe on an item card. The offset and release
// velocity are classified into an intent; MemberId or Shares complete the
// intents that need a second step.
type AssignItemRequest struct {
	ReceiptId string   `json:"receiptId,omitempty"`
	ItemId    string   `json:"itemId,omitempty"`
	OffsetX   float64  `json:"offsetX,omitempty"`
	OffsetY   float64  `json:"offsetY,omitempty"`
	VelocityX float64  `json:"velocityX,omitempty"`
	VelocityY float64  `json:"velocityY,omitempty"`
	MemberId  string   `json:"memberId,omitempty"`
	Shares    []*Share `json:"shares,omitempty"`
}

type AssignItemResponse struct {
	Intent string `json:"intent,omitempty"`
	// NeedsSelection is set when the intent needs a member or shares that
	// the request did not carry. The receipt is unchanged.
	NeedsSelection bool     `json:"needsSelection,omitempty"`
	Receipt        *Receipt `json:"receipt,omitempty"`
}

type SetAssignmentRequest struct {
	ReceiptId  string      `json:"receiptId,omitempty"`
	ItemId     string      `json:"itemId,omitempty"`
	Assignment *Assignment `json:"assignment,omitempty"`
}

type SetAssignmentResponse struct {
	Receipt *Receipt `json:"receipt,omitempty"`
}

type ClearAssignmentRequest struct {
	ReceiptId string `json:"receiptId,omitempty"`
	ItemId    string `json:"itemId,omitempty"`
}

type ClearAssignmentResponse struct {
	Receipt *Receipt `json:"receipt,omitempty"`
}

type SetReceiptStatusRequest struct {
	ReceiptId string `json:"receiptId,omitempty"`
	Status    string `json:"status,omitempty"`
}

type SetReceiptStatusResponse struct {
	Receipt *Receipt `json:"receipt,omitempty"`
}

type DeleteReceiptRequest struct {
	ReceiptId string `json:"receiptId,omitempty"`
}
