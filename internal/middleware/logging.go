package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"connectrpc.com/connect"
)

// LoggingInterceptor returns a Connect interceptor that logs every RPC call.
// It logs the procedure name, user ID, duration, and any error codes/messages.
// Server faults are logged at ERROR, caller mistakes at WARN.
func LoggingInterceptor(logger *slog.Logger) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			attrs := []any{
				"procedure", req.Spec().Procedure,
				"user_id", GetUserID(ctx), // empty if pre-auth
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err == nil {
				logger.Info("RPC ok", attrs...)
				return resp, nil
			}

			var connectErr *connect.Error
			if errors.As(err, &connectErr) {
				attrs = append(attrs, "code", connectErr.Code(), "error", connectErr.Message())
				switch connectErr.Code() {
				case connect.CodeInternal, connect.CodeUnknown, connect.CodeDataLoss, connect.CodeUnavailable:
					logger.Error("RPC error", attrs...)
				default:
					logger.Warn("RPC error", attrs...)
				}
			} else {
				logger.Error("RPC error", append(attrs, "error", err)...)
			}
			return resp, err
		}
	}
}
