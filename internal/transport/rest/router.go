package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/ssoflow/internal/auth"
	"github.com/frahmantamala/ssoflow/internal/flow"
	"github.com/frahmantamala/ssoflow/internal/form"
	"github.com/frahmantamala/ssoflow/internal/identity"
	"github.com/frahmantamala/ssoflow/internal/oidc"
	"github.com/frahmantamala/ssoflow/internal/rbac"
	"github.com/frahmantamala/ssoflow/internal/sysconfig"
	"github.com/frahmantamala/ssoflow/internal/ticket"
	"github.com/frahmantamala/ssoflow/internal/transport"
	"github.com/frahmantamala/ssoflow/internal/transport/middleware"
	"github.com/frahmantamala/ssoflow/internal/transport/swagger"
	"github.com/frahmantamala/ssoflow/pkg/metrics"
	"github.com/go-chi/chi"
)

type Handlers struct {
	Auth      *auth.Handler
	Identity  *identity.Handler
	OIDC      *oidc.Handler
	RBAC      *rbac.Handler
	Form      *form.Handler
	Flow      *flow.Handler
	Ticket    *ticket.Handler
	Sysconfig *sysconfig.Handler
}

type Options struct {
	AllowedOrigins string
	MetricsEnabled bool
	MetricsPath    string
	// OpenAPISpec is served at /openapi.yml for the swagger UI.
	OpenAPISpec []byte
	// LoginLimiter throttles credential and token endpoints per client IP. Nil disables it.
	LoginLimiter *middleware.IPRateLimiter
}

// RegisterAllRoutes mounts the whole HTTP surface. Everything except the public SSO endpoints requires a
// bearer token; administration endpoints additionally require a matching API permission.
func RegisterAllRoutes(router *chi.Mux, db *sql.DB, h Handlers, authn auth.Authenticator, perms middleware.PermissionResolver, opts Options, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)
	base := transport.NewBaseHandler(logger)

	router.Use(middleware.CORS(opts.AllowedOrigins))
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))
	if opts.MetricsEnabled {
		router.Use(metrics.Instrument)
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, metrics.Handler())
	}

	if len(opts.OpenAPISpec) > 0 {
		router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			_, _ = w.Write(opts.OpenAPISpec)
		})
		router.Handle("/swagger/*", swagger.Handler("/openapi.yml"))
	}

	requireAuth := auth.Middleware(authn, base)
	optionalAuth := auth.OptionalMiddleware(authn)
	requirePermission := middleware.RequireAPIPermission(perms, base)
	throttle := middleware.RateLimit(opts.LoginLimiter, base)

	if h.OIDC != nil {
		router.Get("/.well-known/openid-configuration", h.OIDC.Discovery)
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// public
		if h.Auth != nil {
			r.With(throttle).Post("/auth/login", h.Auth.Login)
			r.With(throttle).Post("/sso/auth/login", h.Auth.SSOLogin)
			r.Get("/server/info", h.Auth.ServerInfo)
			r.Get("/auth/oidc/callback", h.Auth.OIDCCallback)
		}
		if h.OIDC != nil {
			r.Get("/.well-known/openid-configuration", h.OIDC.Discovery)
			r.Get("/sso/jwks", h.OIDC.JWKS)
			r.With(throttle).Post("/sso/token", h.OIDC.Token)
			r.Get("/sso/userinfo", h.OIDC.UserInfo)
			r.Post("/sso/userinfo", h.OIDC.UserInfo)
			r.Group(func(or chi.Router) {
				or.Use(optionalAuth)
				or.Get("/sso/authorize", h.OIDC.Authorize)
				or.Post("/sso/authorize", h.OIDC.Authorize)
				or.Get("/sso/logout", h.OIDC.EndSession)
				or.Post("/sso/logout", h.OIDC.EndSession)
			})
		}

		// any signed-in user
		r.Group(func(pr chi.Router) {
			pr.Use(requireAuth)

			if h.Auth != nil {
				pr.Get("/auth/me", h.Auth.Me)
				pr.Post("/auth/logout", h.Auth.Logout)
				pr.Get("/auth/menus", h.Auth.Menus)
				pr.Get("/sso/account/sessions", h.Auth.ListSessions)
				pr.Delete("/sso/account/sessions/{id}", h.Auth.RevokeSession)
			}
			if h.Identity != nil {
				pr.Get("/sso/account/me", h.Identity.AccountMe)
				pr.Post("/sso/account/change-password", h.Identity.ChangePassword)
			}
			if h.OIDC != nil {
				pr.Post("/sso/authorize/confirm", h.OIDC.Confirm)
				pr.Get("/sso/account/authorized-apps", h.OIDC.AuthorizedApps)
				pr.Delete("/sso/account/authorized-apps/{client_id}", h.OIDC.RevokeAuthorizedApp)
			}
			if h.Ticket != nil {
				registerTicketRoutes(pr, h.Ticket)
			}
		})

		// administration
		r.Group(func(ar chi.Router) {
			ar.Use(requireAuth)
			ar.Use(requirePermission)

			if h.Identity != nil {
				registerIdentityRoutes(ar, h.Identity)
			}
			if h.OIDC != nil {
				ar.Get("/sso/clients", h.OIDC.ListClients)
				ar.Post("/sso/clients", h.OIDC.CreateClient)
				ar.Get("/sso/clients/{id}", h.OIDC.GetClient)
				ar.Put("/sso/clients/{id}", h.OIDC.UpdateClient)
				ar.Delete("/sso/clients/{id}", h.OIDC.DeleteClient)
				ar.Post("/sso/clients/{id}/secret", h.OIDC.RotateSecret)
			}
			if h.RBAC != nil {
				registerRBACRoutes(ar, h.RBAC)
			}
			if h.Form != nil {
				ar.Get("/form-templates", h.Form.ListTemplates)
				ar.Post("/form-templates", h.Form.CreateTemplate)
				ar.Get("/form-templates/{id}", h.Form.GetTemplate)
				ar.Put("/form-templates/{id}", h.Form.UpdateTemplate)
				ar.Delete("/form-templates/{id}", h.Form.DeleteTemplate)
				ar.Get("/form-templates/{id}/fields", h.Form.GetFields)
				ar.Put("/form-templates/{id}/fields", h.Form.ReplaceFields)
			}
			if h.Flow != nil {
				ar.Get("/approval-flows", h.Flow.ListFlows)
				ar.Post("/approval-flows", h.Flow.CreateFlow)
				ar.Get("/approval-flows/{id}", h.Flow.GetFlow)
				ar.Put("/approval-flows/{id}", h.Flow.UpdateFlow)
				ar.Delete("/approval-flows/{id}", h.Flow.DeleteFlow)
				ar.Get("/approval-flows/{id}/nodes", h.Flow.GetNodes)
				ar.Put("/approval-flows/{id}/nodes", h.Flow.SaveNodes)
				ar.Post("/approval-flows/{id}/publish", h.Flow.Publish)
			}
			if h.Ticket != nil {
				ar.Post("/ticket-types", h.Ticket.CreateType)
				ar.Put("/ticket-types/{id}", h.Ticket.UpdateType)
				ar.Delete("/ticket-types/{id}", h.Ticket.DeleteType)
			}
			if h.Sysconfig != nil {
				sc := h.Sysconfig
				ar.Get("/system-config", sc.List)
				for _, key := range []string{sysconfig.KeyOIDC, sysconfig.KeyEmail, sysconfig.KeyStorage, sysconfig.KeyNotify} {
					ar.Get("/system-config/"+key, sc.GetKey(key))
					ar.Put("/system-config/"+key, sc.PutKey(key))
				}
				ar.Post("/system-config/email/test", sc.TestEmail)
				ar.Get("/system-config/{key}", sc.Get)
				ar.Put("/system-config/{key}", sc.Put)
			}
		})
	})
}

func registerTicketRoutes(r chi.Router, t *ticket.Handler) {
	r.Get("/ticket-types", t.ListTypes)
	r.Get("/ticket-types/enabled", t.EnabledTypes)
	r.Get("/ticket-types/{id}", t.GetType)

	r.Get("/tickets", t.List)
	r.Post("/tickets", t.Create)
	r.Get("/tickets/pending", t.Pending)
	r.Get("/tickets/processed", t.Processed)
	r.Get("/tickets/cc", t.CopiedToMe)
	r.Get("/tickets/stats", t.Stats)
	r.Get("/tickets/{id}", t.Get)
	r.Put("/tickets/{id}", t.Edit)
	r.Delete("/tickets/{id}", t.Delete)
	r.Post("/tickets/{id}/submit", t.Submit)
	r.Post("/tickets/{id}/approve", t.Approve)
	r.Post("/tickets/{id}/process", t.Process)
	r.Post("/tickets/{id}/complete", t.Complete)
	r.Post("/tickets/{id}/cancel", t.Cancel)
	r.Get("/tickets/{id}/can-approve", t.CanApprove)
	r.Get("/tickets/{id}/comments", t.Comments)
	r.Post("/tickets/{id}/comments", t.AddComment)
	r.Get("/tickets/{id}/attachments", t.Attachments)
	r.Post("/tickets/{id}/attachments", t.Upload)
	r.Get("/tickets/{id}/attachments/{attachmentID}/download", t.Download)
	r.Delete("/tickets/{id}/attachments/{attachmentID}", t.DeleteAttachment)
}

func registerIdentityRoutes(r chi.Router, h *identity.Handler) {
	r.Get("/sso/tenants", h.ListTenants)
	r.Post("/sso/tenants", h.CreateTenant)
	r.Get("/sso/tenants/{id}", h.GetTenant)
	r.Put("/sso/tenants/{id}", h.UpdateTenant)
	r.Delete("/sso/tenants/{id}", h.DeleteTenant)

	r.Get("/sso/users", h.ListUsers)
	r.Post("/sso/users", h.CreateUser)
	r.Get("/sso/users/{id}", h.GetUser)
	r.Put("/sso/users/{id}", h.UpdateUser)
	r.Delete("/sso/users/{id}", h.DeleteUser)
	r.Post("/sso/users/{id}/reset-password", h.ResetPassword)
	r.Get("/sso/users/{id}/groups", h.GetUserGroups)
	r.Put("/sso/users/{id}/groups", h.SetUserGroups)

	r.Get("/sso/groups", h.ListGroups)
	r.Post("/sso/groups", h.CreateGroup)
	r.Get("/sso/groups/{id}", h.GetGroup)
	r.Put("/sso/groups/{id}", h.UpdateGroup)
	r.Delete("/sso/groups/{id}", h.DeleteGroup)
	r.Get("/sso/groups/{id}/members", h.ListGroupMembers)
}

func registerRBACRoutes(r chi.Router, h *rbac.Handler) {
	r.Get("/roles", h.ListRoles)
	r.Post("/roles", h.CreateRole)
	r.Get("/roles/{id}", h.GetRole)
	r.Put("/roles/{id}", h.UpdateRole)
	r.Delete("/roles/{id}", h.DeleteRole)
	r.Get("/roles/{id}/permissions", h.GetRolePermissions)
	r.Put("/roles/{id}/permissions", h.SetRolePermissions)
	r.Get("/roles/{id}/menus", h.GetRoleMenus)
	r.Put("/roles/{id}/menus", h.SetRoleMenus)

	// /api-definitions is the permission catalogue under the name the API editor uses.
	for _, prefix := range []string{"/permissions", "/api-definitions"} {
		r.Get(prefix, h.ListPermissions)
		r.Post(prefix, h.CreatePermission)
		r.Get(prefix+"/resources", h.PermissionResources)
		r.Get(prefix+"/{id}", h.GetPermission)
		r.Put(prefix+"/{id}", h.UpdatePermission)
		r.Delete(prefix+"/{id}", h.DeletePermission)
	}
	r.Get("/api-definitions/all", h.AllPermissions)

	r.Get("/menus", h.ListMenus)
	r.Post("/menus", h.CreateMenu)
	r.Get("/menus/tree", h.MenuTree)
	r.Get("/menus/{id}", h.GetMenu)
	r.Put("/menus/{id}", h.UpdateMenu)
	r.Delete("/menus/{id}", h.DeleteMenu)

	r.Get("/users", h.ListUsers)
	r.Get("/users/{id}/roles", h.GetUserRoles)
	r.Put("/users/{id}/roles", h.SetUserRoles)
}
