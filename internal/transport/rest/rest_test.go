package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/auth"
	"github.com/frahmantamala/ssoflow/internal/rbac"
	"github.com/frahmantamala/ssoflow/internal/transport"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestRest(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Rest Suite")
}

type stubAuthenticator struct {
	principal *internal.Principal
}

func (s stubAuthenticator) Authenticate(_ context.Context, raw, _ string) (*internal.Principal, error) {
	if raw != "good" || s.principal == nil {
		return nil, internal.ErrInvalidToken
	}
	return s.principal, nil
}

type stubPermissions []*rbac.Permission

func (s stubPermissions) EffectivePermissions(context.Context, int64, *int64) ([]*rbac.Permission, error) {
	return s, nil
}

var _ = Describe("HealthHandler", func() {
	It("reports healthy when the database answers", func() {
		// Given
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(db.Close)
		mock.ExpectPing()

		// When
		rec := httptest.NewRecorder()
		NewHealthHandler(db).healthCheckHandler(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

		// Then
		Expect(rec.Code).To(Equal(http.StatusOK))
		var body HealthResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Status).To(Equal(HealthHealthy))
		Expect(body.Components).To(HaveKey("database"))
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("reports 503 when the ping fails", func() {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(db.Close)
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		rec := httptest.NewRecorder()
		NewHealthHandler(db).healthCheckHandler(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
		Expect(rec.Body.String()).To(ContainSubstring("connection refused"))
	})
})

var _ = Describe("RegisterAllRoutes", func() {
	var (
		router *chi.Mux
		authn  stubAuthenticator
		perms  stubPermissions
	)

	build := func() {
		router = chi.NewRouter()
		RegisterAllRoutes(router, nil, Handlers{}, authn, perms, Options{
			AllowedOrigins: "*",
			OpenAPISpec:    []byte("openapi: 3.0.3\n"),
		}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}

	BeforeEach(func() {
		authn = stubAuthenticator{}
		perms = nil
	})

	It("answers ping without a token", func() {
		build()
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("X-Request-ID")).NotTo(BeEmpty())
	})

	It("serves the OpenAPI document", func() {
		build()
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.yml", nil))

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(HavePrefix("openapi:"))
	})

	It("serves the swagger UI pointing at the document", func() {
		build()
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("/openapi.yml"))
	})

	It("rejects protected routes without a token", func() {
		router = chi.NewRouter()
		lg := slog.New(slog.NewTextHandler(io.Discard, nil))
		RegisterAllRoutes(router, nil, Handlers{Auth: auth.NewHandler(transport.NewBaseHandler(lg), nil)}, authn, perms, Options{}, lg)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil))

		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
	})

	It("reports an unhealthy database when none is wired", func() {
		build()
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
	})
})
