package middleware

import (
	"context"
	"fmt"

	"github.com/davidrmellors/receipt-splitter/internal/auth"
	"github.com/davidrmellors/receipt-splitter/internal/models"
	"github.com/davidrmellors/receipt-splitter/internal/realtime"
)

// MemberLookup finds a user's membership in a group.
type MemberLookup interface {
	GetMemberByUser(ctx context.Context, groupID, userID string) (*models.Member, error)
}

// GroupAuthorizer admits WebSocket subscribers whose token belongs to a group member.
func GroupAuthorizer(jwtManager *auth.JWTManager, members MemberLookup) realtime.AuthorizerFunc {
	return func(ctx context.Context, token, groupID string) error {
		claims, err := jwtManager.Validate(token)
		if err != nil {
			return err
		}
		if _, err := members.GetMemberByUser(ctx, groupID, claims.UserID); err != nil {
			return fmt.Errorf("user %s is not a member of group %s: %w", claims.UserID, groupID, err)
		}
		return nil
	}
}
