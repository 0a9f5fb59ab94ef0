// Package service implements the Connect RPC services.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/davidrmellors/receipt-splitter/internal/auth"
	"github.com/davidrmellors/receipt-splitter/internal/events"
	"github.com/davidrmellors/receipt-splitter/internal/middleware"
	"github.com/davidrmellors/receipt-splitter/internal/models"
	"github.com/davidrmellors/receipt-splitter/internal/storage"
)

var errNotMember = errors.New("not a member of this group")

// Observer receives counters for domain outcomes. *metrics.Metrics implements it.
type Observer interface {
	ObserveAnomaly(kind string)
	ObserveParse(outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveAnomaly(string) {}
func (nopObserver) ObserveParse(string)   {}

// storeError maps a storage failure to a Connect error.
func storeError(err error) *connect.Error {
	if errors.Is(err, storage.ErrNotFound) {
		return connect.NewError(connect.CodeNotFound, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

func invalidArgument(format string, args ...any) *connect.Error {
	return connect.NewError(connect.CodeInvalidArgument, fmt.Errorf(format, args...))
}

func currentUser(ctx context.Context) (string, error) {
	userID := middleware.GetUserID(ctx)
	if userID == "" {
		return "", connect.NewError(connect.CodeUnauthenticated, auth.ErrMissingToken)
	}
	return userID, nil
}

// membership is the caller's view of one group.
type membership struct {
	userID string
	group  *models.Group
	member *models.Member
}

func (m membership) isCreator() bool { return m.group.CreatedBy == m.userID }

// requireMember loads a group and checks that the caller belongs to it.
func requireMember(ctx context.Context, store storage.GroupStore, groupID string) (membership, error) {
	userID, err := currentUser(ctx)
	if err != nil {
		return membership{}, err
	}
	if groupID == "" {
		return membership{}, invalidArgument("group_id required")
	}

	group, err := store.GetGroup(ctx, groupID)
	if err != nil {
		return membership{}, storeError(err)
	}
	member, err := store.GetMemberByUser(ctx, groupID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return membership{}, connect.NewError(connect.CodePermissionDenied, errNotMember)
	}
	if err != nil {
		return membership{}, storeError(err)
	}
	return membership{userID: userID, group: group, member: member}, nil
}

// publish announces a change. Delivery problems are logged, never returned:
// the write they describe has already been committed.
func publish(ctx context.Context, publisher events.Publisher, e events.Event) {
	if err := publisher.Publish(ctx, e); err != nil {
		slog.Warn("Failed to publish event", "type", e.Type, "group_id", e.GroupID, "error", err)
	}
}
