package auth

import (
	"context"
	"net/http"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/transport"
	"github.com/frahmantamala/ssoflow/pkg/logger"
)

const CurrentRoleHeader = "X-Current-Role-ID"

type Authenticator interface {
	Authenticate(ctx context.Context, rawToken, roleHeader string) (*internal.Principal, error)
}

// Middleware requires a valid bearer token bound to a live session and stores the principal in the context.
func Middleware(authn Authenticator, base *transport.BaseHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := transport.ExtractTokenFromHeader(r)
			if token == "" {
				base.HandleError(w, internal.NewUnauthorizedError("Missing authorization token", internal.ErrCodeInvalidToken))
				return
			}
			p, err := authn.Authenticate(r.Context(), token, r.Header.Get(CurrentRoleHeader))
			if err != nil {
				base.HandleError(w, err)
				return
			}
			ctx := internal.ContextWithPrincipal(r.Context(), p)
			ctx = logger.With(ctx, "user_id", p.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalMiddleware attaches a principal when a valid token is presented and lets anonymous requests through.
func OptionalMiddleware(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := transport.ExtractTokenFromHeader(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			p, err := authn.Authenticate(r.Context(), token, r.Header.Get(CurrentRoleHeader))
			if err != nil {
				logger.From(r.Context()).Debug("ignoring invalid optional token", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			ctx := internal.ContextWithPrincipal(r.Context(), p)
			ctx = logger.With(ctx, "user_id", p.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientMetaFromRequest extracts the caller address and user agent for session bookkeeping.
func ClientMetaFromRequest(r *http.Request) ClientMeta {
	return ClientMeta{IPAddress: transport.ClientIP(r), UserAgent: r.UserAgent()}
}
