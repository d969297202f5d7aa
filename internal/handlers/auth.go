package handlers

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/platform/httpx"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/platform/requestctx"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/platform/session"
	"github.com/TienDattttt/Retail-Chain-Management-sub000/internal/services"
)

// RequireOperator resolves the bearer token to an operator session and stores it on the context.
func RequireOperator(sessions services.OperatorSessions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if sessions == nil {
				httpx.WriteError(ctx, w, httpx.NewError("sessions_unavailable", "session store unavailable", http.StatusServiceUnavailable))
				return
			}
			token, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="pos"`)
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
				return
			}

			op, err := sessions.Lookup(ctx, token)
			if err != nil {
				switch {
				case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrInvalidSession):
					w.Header().Set("WWW-Authenticate", `Bearer realm="pos", error="invalid_token"`)
					httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "session not found", http.StatusUnauthorized))
				case errors.Is(err, session.ErrSessionExpired):
					w.Header().Set("WWW-Authenticate", `Bearer realm="pos", error="invalid_token"`)
					httpx.WriteError(ctx, w, httpx.NewError("session_expired", "session expired; sign in again", http.StatusUnauthorized))
				default:
					requestctx.Logger(ctx).Error("session lookup failed", zap.Error(err))
					httpx.WriteError(ctx, w, httpx.NewError("sessions_unavailable", "unable to verify session", http.StatusServiceUnavailable))
				}
				return
			}
			op.Token = token
			next.ServeHTTP(w, r.WithContext(requestctx.WithOperator(ctx, op)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
