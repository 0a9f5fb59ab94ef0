package realtime

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// Authorizer decides whether the bearer of token may watch a group.
type Authorizer interface {
	AuthorizeGroup(ctx context.Context, token, groupID string) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, token, groupID string) error

func (f AuthorizerFunc) AuthorizeGroup(ctx context.Context, token, groupID string) error {
	return f(ctx, token, groupID)
}

// Handler upgrades GET /ws?group_id=...&token=... to a WebSocket.
// Browsers cannot set headers on WebSocket requests, so the token travels
// in the query string.
func Handler(hub *Hub, authz Authorizer, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID := r.URL.Query().Get("group_id")
		token := r.URL.Query().Get("token")
		if groupID == "" || token == "" {
			http.Error(w, "group_id and token required", http.StatusBadRequest)
			return
		}
		if err := authz.AuthorizeGroup(r.Context(), token, groupID); err != nil {
			hub.logger.Warn("Rejected realtime subscription", "group_id", groupID, "error", err)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			hub.logger.Error("WebSocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		hub.logger.Debug("Realtime client connected", "group_id", groupID)
		newClient(hub, conn, groupID).Run(r.Context())
	}
}
