package cmd

import (
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/frahmantamala/ssoflow/internal/auth"
	"github.com/frahmantamala/ssoflow/internal/flow"
	"github.com/frahmantamala/ssoflow/internal/form"
	"github.com/frahmantamala/ssoflow/internal/identity"
	"github.com/frahmantamala/ssoflow/internal/oidc"
	"github.com/frahmantamala/ssoflow/internal/rbac"
	"github.com/frahmantamala/ssoflow/internal/sysconfig"
	"github.com/frahmantamala/ssoflow/internal/ticket"
	"github.com/frahmantamala/ssoflow/internal/transport"
	"github.com/frahmantamala/ssoflow/internal/transport/rest"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestCmd(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Cmd Suite")
}

var _ = Describe("permissionCatalog", func() {
	It("has one entry per method and path", func() {
		seen := map[string]bool{}
		for _, p := range permissionCatalog() {
			key := p.Method + " " + p.Path
			Expect(seen).NotTo(HaveKey(key))
			seen[key] = true
			Expect(p.Path).To(HavePrefix(apiPrefix + "/"))
			Expect(p.Name).NotTo(BeEmpty())
			Expect(p.Resource).NotTo(BeEmpty())
		}
	})

	It("names only routes the router registers", func() {
		lg := slog.New(slog.NewTextHandler(io.Discard, nil))
		base := transport.NewBaseHandler(lg)
		router := chi.NewRouter()
		rest.RegisterAllRoutes(router, nil, rest.Handlers{
			Auth:      auth.NewHandler(base, nil),
			Identity:  identity.NewHandler(base, nil),
			OIDC:      oidc.NewHandler(base, nil),
			RBAC:      rbac.NewHandler(base, nil),
			Form:      form.NewHandler(base, nil),
			Flow:      flow.NewHandler(base, nil),
			Ticket:    ticket.NewHandler(base, nil, 0),
			Sysconfig: sysconfig.NewHandler(base, nil, nil),
		}, nil, nil, rest.Options{}, lg)

		routes := map[string]bool{}
		Expect(chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
			routes[method+" "+route] = true
			return nil
		})).To(Succeed())

		for _, p := range permissionCatalog() {
			Expect(routes).To(HaveKey(p.Method+" "+p.Path), "permission without a route")
		}
	})
})
