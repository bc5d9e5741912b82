package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/rbac"
	"github.com/frahmantamala/ssoflow/internal/transport"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestMiddleware(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Middleware Suite")
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

var _ = Describe("RequestID", func() {
	It("keeps an inbound id and exposes it to chi", func() {
		var seen string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = chiMiddleware.GetReqID(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		Expect(seen).To(Equal("abc-123"))
		Expect(rec.Header().Get(RequestIDHeader)).To(Equal("abc-123"))
	})

	It("mints an id when none is sent", func() {
		rec := httptest.NewRecorder()
		RequestID(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		Expect(rec.Header().Get(RequestIDHeader)).To(HaveLen(36))
	})
})

var _ = Describe("CORS", func() {
	It("answers preflight for an allowed origin", func() {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/tickets", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := httptest.NewRecorder()

		CORS("https://app.example.com, https://admin.example.com")(ok).ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusNoContent))
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("https://app.example.com"))
		Expect(rec.Header().Get("Access-Control-Allow-Credentials")).To(Equal("true"))
		Expect(rec.Header().Get("Access-Control-Allow-Headers")).To(ContainSubstring("X-Current-Role-ID"))
	})

	It("does not echo unknown origins", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()

		CORS("https://app.example.com")(ok).ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(BeEmpty())
	})

	It("uses the wildcard without credentials", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://any.example.com")
		rec := httptest.NewRecorder()

		CORS("*")(ok).ServeHTTP(rec, req)

		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
		Expect(rec.Header().Get("Access-Control-Allow-Credentials")).To(BeEmpty())
	})
})

var _ = Describe("RateLimit", func() {
	It("rejects a client past its burst and keeps others unaffected", func() {
		// Given
		limiter := NewIPRateLimiter(1, 2)
		now := time.Unix(1700000000, 0)
		limiter.now = func() time.Time { return now }
		h := RateLimit(limiter, transport.NewBaseHandler(quiet))(ok)

		call := func(ip string) int {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
			req.Header.Set("X-Forwarded-For", ip)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			return rec.Code
		}

		// When / Then
		Expect(call("10.0.0.1")).To(Equal(http.StatusOK))
		Expect(call("10.0.0.1")).To(Equal(http.StatusOK))
		Expect(call("10.0.0.1")).To(Equal(http.StatusTooManyRequests))
		Expect(call("10.0.0.2")).To(Equal(http.StatusOK))

		now = now.Add(time.Second)
		Expect(call("10.0.0.1")).To(Equal(http.StatusOK))
	})

	It("is a no-op without a limiter", func() {
		rec := httptest.NewRecorder()
		RateLimit(nil, transport.NewBaseHandler(quiet))(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		Expect(rec.Code).To(Equal(http.StatusOK))
	})
})

var _ = Describe("RecoveryMiddleware", func() {
	It("writes a 500 envelope without leaking the panic", func() {
		h := RecoveryMiddleware(quiet)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("db password is hunter2")
		}))
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		Expect(rec.Body.String()).NotTo(ContainSubstring("hunter2"))
		var body map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body).To(HaveKeyWithValue("code", BeNumerically("==", 500)))
	})
})

var _ = Describe("sensitive data filtering", func() {
	It("masks secrets in nested JSON", func() {
		out := filterSensitiveBody([]byte(`{"username":"alice","password":"x","client":{"client_secret":"s","name":"n"},"code":"abc","error_code":"E1"}`))

		var parsed map[string]any
		Expect(json.Unmarshal([]byte(out), &parsed)).To(Succeed())
		Expect(parsed).To(HaveKeyWithValue("username", "alice"))
		Expect(parsed).To(HaveKeyWithValue("password", "[FILTERED]"))
		Expect(parsed).To(HaveKeyWithValue("code", "[FILTERED]"))
		Expect(parsed).To(HaveKeyWithValue("error_code", "E1"))
		Expect(parsed["client"]).To(HaveKeyWithValue("client_secret", "[FILTERED]"))
	})

	It("masks authorization codes in the query string", func() {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/oidc/callback?code=abc&state=xyz", nil)

		Expect(filterSensitiveQuery(req)).To(Equal("code=FILTERED&state=xyz"))
	})

	It("filters credential headers", func() {
		h := http.Header{}
		h.Set("Authorization", "Bearer t")
		h.Set("Accept", "application/json")

		filtered := filterSensitiveHeaders(h)

		Expect(filtered).To(HaveKeyWithValue("Authorization", "[FILTERED]"))
		Expect(filtered).To(HaveKeyWithValue("Accept", "application/json"))
	})
})

type fixedPermissions []*rbac.Permission

func (f fixedPermissions) EffectivePermissions(context.Context, int64, *int64) ([]*rbac.Permission, error) {
	return f, nil
}

var _ = Describe("RequireAPIPermission", func() {
	serve := func(p *internal.Principal, perms fixedPermissions, method, path string) int {
		base := transport.NewBaseHandler(quiet)
		r := chi.NewRouter()
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if p != nil {
					req = req.WithContext(internal.ContextWithPrincipal(req.Context(), p))
				}
				next.ServeHTTP(w, req)
			})
		})
		r.Route("/api/v1", func(sr chi.Router) {
			sr.Group(func(g chi.Router) {
				g.Use(RequireAPIPermission(perms, base))
				g.Get("/roles/{id}", ok)
				g.Delete("/roles/{id}", ok)
			})
		})
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
		return rec.Code
	}

	It("lets admins through", func() {
		Expect(serve(&internal.Principal{UserID: 1, IsAdmin: true}, nil, http.MethodDelete, "/api/v1/roles/3")).To(Equal(http.StatusOK))
	})

	It("matches the full route pattern and method", func() {
		perms := fixedPermissions{{Method: "GET", Path: "/api/v1/roles/{id}"}}
		user := &internal.Principal{UserID: 2}

		Expect(serve(user, perms, http.MethodGet, "/api/v1/roles/3")).To(Equal(http.StatusOK))
		Expect(serve(user, perms, http.MethodDelete, "/api/v1/roles/3")).To(Equal(http.StatusForbidden))
	})

	It("requires a principal", func() {
		Expect(serve(nil, nil, http.MethodGet, "/api/v1/roles/3")).To(Equal(http.StatusUnauthorized))
	})
})
