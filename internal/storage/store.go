// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/davidrmellors/receipt-splitter/internal/models"
)

// ErrNotFound is wrapped by every lookup that finds no row.
var ErrNotFound = errors.New("not found")

// Store defines the interface for receipt splitter storage operations.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL, etc.)
// without changing the service layer.
type Store interface {
	UserStore
	GroupStore
	ReceiptStore
	PaymentStore

	// Close releases any resources held by the store.
	Close() error
}

// UserStore persists registered accounts.
// Lookups return nil and no error when the user does not exist.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// GroupStore persists groups and their rosters.
type GroupStore interface {
	// CreateGroup persists a new group together with its first member.
	// IDs and timestamps are populated by the store.
	CreateGroup(ctx context.Context, group *models.Group, creator *models.Member) error

	GetGroup(ctx context.Context, groupID string) (*models.Group, error)

	// ListGroupsForUser returns groups where the user is a member, newest first.
	ListGroupsForUser(ctx context.Context, userID string) ([]*models.Group, error)

	// DeleteGroup removes a group with its members, receipts and payments.
	DeleteGroup(ctx context.Context, groupID string) error

	AddMember(ctx context.Context, member *models.Member) error

	// ListMembers returns the roster in join order.
	ListMembers(ctx context.Context, groupID string) ([]models.Member, error)

	// GetMemberByUser finds the member linked to a user account within a group.
	GetMemberByUser(ctx context.Context, groupID, userID string) (*models.Member, error)

	// RemoveMember deletes a member. Assignments and payments that name the
	// member are kept and surface as anomalies in balance computations.
	RemoveMember(ctx context.Context, groupID, memberID string) error

	// SetPayer flags memberID as the group's payer and clears the flag on
	// every other member.
	SetPayer(ctx context.Context, groupID, memberID string) error
}

// ReceiptStore persists receipts, their items and item assignments.
type ReceiptStore interface {
	// CreateReceipt persists a receipt with its items and assignments.
	// Missing receipt and item IDs are generated.
	CreateReceipt(ctx context.Context, receipt *models.Receipt) error

	GetReceipt(ctx context.Context, receiptID string) (*models.Receipt, error)

	// ListReceiptsByGroup returns full receipts for a group, newest first.
	ListReceiptsByGroup(ctx context.Context, groupID string) ([]*models.Receipt, error)

	// ReplaceItems swaps the item list of a receipt. Assignments whose item
	// is no longer present are dropped.
	ReplaceItems(ctx context.Context, receiptID string, items []models.Item) error

	// SetAssignment stores the assignment for one item, replacing any previous one.
	SetAssignment(ctx context.Context, receiptID, itemID string, assignment models.Assignment) error

	// ClearAssignment makes an item unassigned again.
	ClearAssignment(ctx context.Context, receiptID, itemID string) error

	SetReceiptStatus(ctx context.Context, receiptID string, status models.ReceiptStatus) error

	DeleteReceipt(ctx context.Context, receiptID string) error
}

// PaymentStore persists recorded settle-up payments.
type PaymentStore interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error

	// ListPaymentsByGroup returns payments oldest first.
	ListPaymentsByGroup(ctx context.Context, groupID string) ([]models.Payment, error)
}
