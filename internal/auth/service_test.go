package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/auth"
	authPostgres "github.com/frahmantamala/ssoflow/internal/auth/postgres"
	"github.com/frahmantamala/ssoflow/internal/core/datamodel/sqlitetest"
	"github.com/frahmantamala/ssoflow/internal/identity"
	identityPostgres "github.com/frahmantamala/ssoflow/internal/identity/postgres"
	"github.com/frahmantamala/ssoflow/internal/rbac"
	rbacPostgres "github.com/frahmantamala/ssoflow/internal/rbac/postgres"
	"github.com/frahmantamala/ssoflow/internal/transport"
	"github.com/frahmantamala/ssoflow/pkg/hash"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func TestAuth(t *testing.T) {
	hash.Cost = bcrypt.MinCost
	RegisterFailHandler(Fail)
	RunSpecs(t, "Auth Module Suite")
}

const testSecret = "0123456789abcdef0123456789abcdef"

type fixture struct {
	db       *gorm.DB
	ids      *identity.Service
	rbac     *rbac.Service
	service  *auth.Service
	tenant   *identity.Tenant
	user     *identity.User
	meta     auth.ClientMeta
	slogger  *slog.Logger
	sessions *authPostgres.SessionRepository
}

func newFixture(opts auth.Options) *fixture {
	ctx := context.Background()
	db, err := sqlitetest.Open(GinkgoT().TempDir())
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() { _ = sqlitetest.Close(db) })

	f := &fixture{db: db, meta: auth.ClientMeta{IPAddress: "10.0.0.1", UserAgent: "ginkgo"}}
	f.slogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	f.ids = identity.NewService(identityPostgres.NewIdentityRepository(db), f.slogger)
	f.rbac = rbac.NewService(rbacPostgres.NewRBACRepository(db), f.ids, f.slogger)
	f.sessions = authPostgres.NewSessionRepository(db)

	f.tenant, err = f.ids.CreateTenant(ctx, identity.TenantDTO{Name: "Acme"})
	Expect(err).NotTo(HaveOccurred())
	f.user, err = f.ids.CreateUser(ctx, identity.CreateUserDTO{TenantID: f.tenant.ID, Username: "alice", Password: "secret123"})
	Expect(err).NotTo(HaveOccurred())

	opts.DefaultTenantID = f.tenant.ID
	if opts.Issuer == "" {
		opts.Issuer = "https://sso.acme.test"
	}
	f.service = auth.NewService(f.ids, f.sessions, auth.NewTokenSigner(testSecret, opts.Issuer), f.rbac.Resolver(), opts, f.slogger)
	return f
}

type failingDelete struct {
	auth.SessionRepository
}

func (failingDelete) Delete(context.Context, string) error {
	return errors.New("database is locked")
}

var _ = Describe("Auth Service", func() {
	var (
		ctx context.Context
		f   *fixture
	)

	BeforeEach(func() {
		ctx = context.Background()
		f = newFixture(auth.Options{ServerName: "ssoflow"})
	})

	Describe("Login", func() {
		It("issues a token bound to a new session", func() {
			// When
			res, err := f.service.Login(ctx, auth.LoginDTO{Username: "alice", Password: "secret123"}, f.meta)

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Token).NotTo(BeEmpty())
			Expect(res.User.ID).To(Equal(f.user.ID))

			p, err := f.service.Authenticate(ctx, res.Token, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(p.UserID).To(Equal(f.user.ID))
			Expect(p.TenantID).To(Equal(f.tenant.ID))
			Expect(p.SessionID).NotTo(BeEmpty())
		})

		It("rejects a wrong password", func() {
			_, err := f.service.Login(ctx, auth.LoginDTO{Username: "alice", Password: "nope"}, f.meta)

			Expect(err).To(MatchError(internal.ErrInvalidCredentials))
		})

		It("rejects a tampered token", func() {
			res, err := f.service.Login(ctx, auth.LoginDTO{Username: "alice", Password: "secret123"}, f.meta)
			Expect(err).NotTo(HaveOccurred())

			_, err = f.service.Authenticate(ctx, res.Token+"x", "")

			Expect(err).To(MatchError(internal.ErrInvalidToken))
		})
	})

	Describe("SSOLogin", func() {
		It("echoes a relative redirect", func() {
			res, err := f.service.SSOLogin(ctx, auth.LoginDTO{Username: "alice", Password: "secret123", Redirect: "/sso/authorize?client_id=x"}, f.meta)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.RedirectURL).To(Equal("/sso/authorize?client_id=x"))
			Expect(res.Token).NotTo(BeEmpty())
		})

		It("drops a redirect to a foreign origin", func() {
			res, err := f.service.SSOLogin(ctx, auth.LoginDTO{Username: "alice", Password: "secret123", Redirect: "https://evil.test/"}, f.meta)

			Expect(err).NotTo(HaveOccurred())
			Expect(res.RedirectURL).To(BeEmpty())
		})
	})

	Describe("Sessions", func() {
		expire := func() (string, string) {
			res, err := f.service.Login(ctx, auth.LoginDTO{Username: "alice", Password: "secret123"}, f.meta)
			Expect(err).NotTo(HaveOccurred())
			p, err := f.service.Authenticate(ctx, res.Token, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(f.db.Model(&auth.Session{}).Where("id = ?", p.SessionID).
				Update("expires_at", time.Now().Add(-time.Minute)).Error).To(Succeed())
			return res.Token, p.SessionID
		}

		It("rejects and removes an expired session", func() {
			token, sessionID := expire()

			_, err := f.service.Authenticate(ctx, token, "")

			Expect(err).To(MatchError(internal.ErrSessionRevoked))
			_, err = f.sessions.Get(ctx, sessionID)
			Expect(err).To(MatchError(auth.ErrSessionNotFound))
		})

		It("logs a failed cleanup of an expired session", func() {
			token, _ := expire()
			var logs bytes.Buffer
			svc := auth.NewService(f.ids, &failingDelete{SessionRepository: f.sessions},
				auth.NewTokenSigner(testSecret, "https://sso.acme.test"), f.rbac.Resolver(),
				auth.Options{DefaultTenantID: f.tenant.ID, Issuer: "https://sso.acme.test"},
				slog.New(slog.NewTextHandler(&logs, nil)))

			_, err := svc.Authenticate(ctx, token, "")

			Expect(err).To(MatchError(internal.ErrSessionRevoked))
			Expect(logs.String()).To(ContainSubstring("failed to delete expired session"))
			Expect(logs.String()).To(ContainSubstring("database is locked"))
		})

		It("invalidates the bearer token on the next request after revocation", func() {
			// Given
			first, err := f.service.Login(ctx, auth.LoginDTO{Username: "alice", Password: "secret123"}, f.meta)
			Expect(err).NotTo(HaveOccurred())
			second, err := f.service.Login(ctx, auth.LoginDTO{Username: "alice", Password: "secret123"}, f.meta)
			Expect(err).NotTo(HaveOccurred())
			p, err := f.service.Authenticate(ctx, second.Token, "")
			Expect(err).NotTo(HaveOccurred())
			victim, err := f.service.Authenticate(ctx, first.Token, "")
			Expect(err).NotTo(HaveOccurred())

			// When
			Expect(f.service.RevokeSession(ctx, p, victim.SessionID)).To(Succeed())

			// Then
			_, err = f.service.Authenticate(ctx, first.Token, "")
			Expect(err).To(MatchError(internal.ErrSessionRevoked))
			_, err = f.service.Authenticate(ctx, second.Token, "")
			Expect(err).NotTo(HaveOccurred())
		})

		It("marks the current session in the listing", func() {
			res, err := f.service.Login(ctx, auth.LoginDTO{Username: "alice", Password: "secret123"}, f.meta)
			Expect(err).NotTo(HaveOccurred())
			_, err = f.service.Login(ctx, auth.LoginDTO{Username: "alice", Password: "secret123"}, f.meta)
			Expect(err).NotTo(HaveOccurred())
			p, err := f.service.Authenticate(ctx, res.Token, "")
			Expect(err).NotTo(HaveOccurred())

			list, err := f.service.ListSessions(ctx, p)

			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(2))
			current := 0
			for _, s := range list {
				if s.Current {
					current++
					Expect(s.ID).To(Equal(p.SessionID))
					Expect(s.IPAddress).To(Equal("10.0.0.1"))
				}
			}
			Expect(current).To(Equal(1))
		})

		It("does not revoke sessions of other users", func() {
			_, err := f.ids.CreateUser(ctx, identity.CreateUserDTO{TenantID: f.tenant.ID, Username: "bob", Password: "secret123"})
			Expect(err).NotTo(HaveOccurred())
			alice, err := f.service.Login(ctx, auth.LoginDTO{Username: "alice", Password: "secret123"}, f.meta)
			Expect(err).NotTo(HaveOccurred())
			bob, err := f.service.Login(ctx, auth.LoginDTO{Username: "bob", Password: "secret123"}, f.meta)
			Expect(err).NotTo(HaveOccurred())
			pa, err := f.service.Authenticate(ctx, alice.Token, "")
			Expect(err).NotTo(HaveOccurred())
			pb, err := f.service.Authenticate(ctx, bob.Token, "")
			Expect(err).NotTo(HaveOccurred())

			Expect(f.service.RevokeSession(ctx, pa, pb.SessionID)).To(MatchError(auth.ErrSessionNotFound))
		})

		It("logs out the current session", func() {
			res, err := f.service.Login(ctx, auth.LoginDTO{Username: "alice", Password: "secret123"}, f.meta)
			Expect(err).NotTo(HaveOccurred())
			p, err := f.service.Authenticate(ctx, res.Token, "")
			Expect(err).NotTo(HaveOccurred())

			Expect(f.service.Logout(ctx, p)).To(Succeed())

			_, err = f.service.Authenticate(ctx, res.Token, "")
			Expect(err).To(MatchError(internal.ErrSessionRevoked))
		})

		It("refuses a disabled user holding a live token", func() {
			res, err := f.service.Login(ctx, auth.LoginDTO{Username: "alice", Password: "secret123"}, f.meta)
			Expect(err).NotTo(HaveOccurred())
			_, err = f.ids.UpdateUser(ctx, f.user.ID, identity.UpdateUserDTO{Status: identity.StatusDisabled})
			Expect(err).NotTo(HaveOccurred())

			_, err = f.service.Authenticate(ctx, res.Token, "")

			Expect(err).To(MatchError(internal.ErrUserInactive))
		})
	})

	Describe("Current role header", func() {
		It("is honoured only for a role the user holds", func() {
			// Given
			admin, err := f.rbac.CreateRole(ctx, rbac.RoleDTO{Code: rbac.AdminRoleCode, Name: "Admin"})
			Expect(err).NotTo(HaveOccurred())
			clerk, err := f.rbac.CreateRole(ctx, rbac.RoleDTO{Code: "clerk", Name: "Clerk"})
			Expect(err).NotTo(HaveOccurred())
			other, err := f.rbac.CreateRole(ctx, rbac.RoleDTO{Code: "other", Name: "Other"})
			Expect(err).NotTo(HaveOccurred())
			Expect(f.rbac.SetUserRoles(ctx, f.user.ID, []int64{admin.ID, clerk.ID})).To(Succeed())
			res, err := f.service.Login(ctx, auth.LoginDTO{Username: "alice", Password: "secret123"}, f.meta)
			Expect(err).NotTo(HaveOccurred())

			// When
			noHeader, err := f.service.Authenticate(ctx, res.Token, "")
			Expect(err).NotTo(HaveOccurred())
			asClerk, err := f.service.Authenticate(ctx, res.Token, strconv.FormatInt(clerk.ID, 10))
			Expect(err).NotTo(HaveOccurred())
			foreign, err := f.service.Authenticate(ctx, res.Token, strconv.FormatInt(other.ID, 10))
			Expect(err).NotTo(HaveOccurred())

			// Then
			Expect(noHeader.IsAdmin).To(BeTrue())
			Expect(*asClerk.CurrentRoleID).To(Equal(clerk.ID))
			Expect(asClerk.IsAdmin).To(BeFalse())
			Expect(foreign.CurrentRoleID).To(BeNil())
			Expect(foreign.IsAdmin).To(BeTrue())
		})
	})
})

var _ = DescribeTable("SafeRedirect",
	func(raw string, ok bool) {
		_, got := auth.SafeRedirect(raw, "https://sso.acme.test")
		Expect(got).To(Equal(ok))
	},
	Entry("relative path", "/dashboard", true),
	Entry("protocol relative", "//evil.test/x", false),
	Entry("same origin", "https://sso.acme.test/sso/authorize?x=1", true),
	Entry("other origin", "https://evil.test/", false),
	Entry("scheme downgrade", "http://sso.acme.test/", false),
	Entry("javascript", "javascript:alert(1)", false),
	Entry("backslash trick", "/\\evil.test", false),
)

var _ = Describe("Middleware", func() {
	var (
		ctx     context.Context
		f       *fixture
		handler http.Handler
	)

	BeforeEach(func() {
		ctx = context.Background()
		f = newFixture(auth.Options{})
		base := &transport.BaseHandler{Logger: f.slogger}
		handler = auth.Middleware(f.service, base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := internal.PrincipalFromContext(r.Context())
			Expect(ok).To(BeTrue())
			_ = json.NewEncoder(w).Encode(map[string]int64{"user_id": p.UserID})
		}))
	})

	It("answers 401 without a token", func() {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
	})

	It("answers 401 with AUTH_SESSION_REVOKED after logout", func() {
		res, err := f.service.Login(ctx, auth.LoginDTO{Username: "alice", Password: "secret123"}, f.meta)
		Expect(err).NotTo(HaveOccurred())
		p, err := f.service.Authenticate(ctx, res.Token, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(f.service.Logout(ctx, p)).To(Succeed())

		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.Header.Set("Authorization", "Bearer "+res.Token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		var body map[string]interface{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body["error"]).To(Equal(string(internal.ErrCodeSessionRevoked)))
	})

	It("passes the principal to the next handler", func() {
		res, err := f.service.Login(ctx, auth.LoginDTO{Username: "alice", Password: "secret123"}, f.meta)
		Expect(err).NotTo(HaveOccurred())

		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.Header.Set("Authorization", "Bearer "+res.Token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"user_id"`))
	})
})

var _ = Describe("OIDC callback", func() {
	var (
		ctx      context.Context
		f        *fixture
		provider *httptest.Server
	)

	BeforeEach(func() {
		ctx = context.Background()
		mux := http.NewServeMux()
		mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
			Expect(r.ParseForm()).To(Succeed())
			if r.PostForm.Get("code") != "good-code" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"at","token_type":"Bearer","expires_in":3600,"id_token":"idt"}`))
		})
		mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
			Expect(r.Header.Get("Authorization")).To(Equal("Bearer at"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"sub":"1","preferred_username":"alice"}`))
		})
		provider = httptest.NewServer(mux)
		DeferCleanup(provider.Close)

		f = newFixture(auth.Options{OIDCLogin: internal.OIDCLoginConfig{
			Enabled:      true,
			Issuer:       provider.URL,
			AuthURL:      provider.URL + "/authorize",
			TokenURL:     provider.URL + "/token",
			UserInfoURL:  provider.URL + "/userinfo",
			ClientID:     "local-app",
			ClientSecret: "s3cret",
			RedirectURL:  "http://localhost:8080/api/v1/auth/oidc/callback",
		}})
	})

	stateFromServerInfo := func() string {
		info, err := f.service.ServerInfo(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.OIDC.Enabled).To(BeTrue())
		u, err := url.Parse(info.OIDC.AuthURL)
		Expect(err).NotTo(HaveOccurred())
		Expect(u.Query().Get("client_id")).To(Equal("local-app"))
		return u.Query().Get("state")
	}

	It("exchanges the code and logs the matched user in", func() {
		state := stateFromServerInfo()

		res, err := f.service.OIDCCallback(ctx, "good-code", state, f.meta)

		Expect(err).NotTo(HaveOccurred())
		Expect(res.User.Username).To(Equal("alice"))
		Expect(res.IDToken).To(Equal("idt"))
		_, err = f.service.Authenticate(ctx, res.Token, "")
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects a forged state", func() {
		_, err := f.service.OIDCCallback(ctx, "good-code", "forged", f.meta)

		Expect(err).To(HaveOccurred())
	})

	It("surfaces a failed exchange", func() {
		_, err := f.service.OIDCCallback(ctx, "bad-code", stateFromServerInfo(), f.meta)

		appErr, ok := internal.IsAppError(err)
		Expect(ok).To(BeTrue())
		Expect(appErr.StatusCode).To(Equal(http.StatusBadGateway))
	})

	It("leaves the state valid only for a limited time", func() {
		signer := auth.NewTokenSigner(testSecret, "https://sso.acme.test")
		expired, err := signer.SignState("n", -time.Minute)
		Expect(err).NotTo(HaveOccurred())

		Expect(signer.VerifyState(expired)).NotTo(Succeed())
	})
})
