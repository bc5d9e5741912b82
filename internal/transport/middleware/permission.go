package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/rbac"
	"github.com/frahmantamala/ssoflow/internal/transport"
	"github.com/go-chi/chi"
)

type PermissionResolver interface {
	EffectivePermissions(ctx context.Context, userID int64, roleFilter *int64) ([]*rbac.Permission, error)
}

// RequireAPIPermission lets admins through and otherwise checks the route against the caller's
// effective permissions. It must run after routing, so mount it with r.With or inside a Group.
func RequireAPIPermission(resolver PermissionResolver, base *transport.BaseHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := internal.PrincipalFromContext(r.Context())
			if !ok {
				base.HandleError(w, internal.ErrInvalidToken)
				return
			}
			if p.IsAdmin {
				next.ServeHTTP(w, r)
				return
			}

			perms, err := resolver.EffectivePermissions(r.Context(), p.UserID, p.CurrentRoleID)
			if err != nil {
				base.HandleError(w, err)
				return
			}
			pattern := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				pattern = rctx.RoutePattern()
			}
			if !rbac.Allowed(perms, r.Method, pattern, r.URL.Path) {
				slog.Warn("access denied: missing api permission",
					"user_id", p.UserID,
					"method", r.Method,
					"path", r.URL.Path,
					"pattern", pattern)
				base.HandleError(w, internal.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin guards platform administration endpoints.
func RequireAdmin(base *transport.BaseHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := internal.PrincipalFromContext(r.Context())
			if !ok {
				base.HandleError(w, internal.ErrInvalidToken)
				return
			}
			if !p.IsAdmin {
				base.HandleError(w, internal.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
