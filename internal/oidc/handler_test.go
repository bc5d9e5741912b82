package oidc_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/oidc"
	"github.com/frahmantamala/ssoflow/internal/transport"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("OIDC Handler", func() {
	var (
		e *env
		h *oidc.Handler
		p *internal.Principal
	)

	BeforeEach(func() {
		e = newEnv()
		slogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		h = oidc.NewHandler(transport.NewBaseHandler(slogger), e.service)
		p = e.login()
	})

	tokenRequest := func(form url.Values, user, pass string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sso/token", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if user != "" {
			req.SetBasicAuth(url.QueryEscape(user), url.QueryEscape(pass))
		}
		rec := httptest.NewRecorder()
		h.Token(rec, req)
		return rec
	}

	It("exchanges a code with client_secret_basic", func() {
		code := e.consentAndCode(p, "openid profile")
		rec := tokenRequest(url.Values{
			"grant_type":   {"authorization_code"},
			"code":         {code},
			"redirect_uri": {redirectURI},
		}, e.client.ClientID, e.client.ClientSecret)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Cache-Control")).To(Equal("no-store"))
		var body map[string]interface{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body["token_type"]).To(Equal("Bearer"))
		Expect(body["access_token"]).NotTo(BeEmpty())
		Expect(body["id_token"]).NotTo(BeEmpty())
		Expect(body["refresh_token"]).NotTo(BeEmpty())
	})

	It("exchanges a code with client_secret_post", func() {
		code := e.consentAndCode(p, "openid")
		rec := tokenRequest(url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {code},
			"redirect_uri":  {redirectURI},
			"client_id":     {e.client.ClientID},
			"client_secret": {e.client.ClientSecret},
		}, "", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
	})

	It("answers 401 with a challenge for a wrong secret", func() {
		rec := tokenRequest(url.Values{"grant_type": {"authorization_code"}, "code": {"x"}, "redirect_uri": {redirectURI}},
			e.client.ClientID, "wrong")
		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		Expect(rec.Header().Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		var body map[string]interface{}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body["error"]).To(Equal(oidc.ErrInvalidClient))
	})

	It("answers 400 invalid_grant for a spent code", func() {
		code := e.consentAndCode(p, "openid")
		form := url.Values{"grant_type": {"authorization_code"}, "code": {code}, "redirect_uri": {redirectURI}}
		Expect(tokenRequest(form, e.client.ClientID, e.client.ClientSecret).Code).To(Equal(http.StatusOK))

		rec := tokenRequest(form, e.client.ClientID, e.client.ClientSecret)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(rec.Body.String()).To(ContainSubstring(`"error":"invalid_grant"`))
	})

	It("redirects an anonymous browser to the login page", func() {
		q := url.Values{
			"response_type": {"code"},
			"client_id":     {e.client.ClientID},
			"redirect_uri":  {redirectURI},
			"scope":         {"openid"},
			"state":         {"abc"},
		}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/sso/authorize?"+q.Encode(), nil)
		req.Header.Set("Accept", "text/html")
		rec := httptest.NewRecorder()
		h.Authorize(rec, req)

		Expect(rec.Code).To(Equal(http.StatusFound))
		Expect(rec.Header().Get("Location")).To(HavePrefix("/sso/login?redirect="))
	})

	It("renders authorize errors as JSON for API callers", func() {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/sso/authorize?client_id=nobody&redirect_uri=x", nil)
		req.Header.Set("Accept", "application/json")
		rec := httptest.NewRecorder()
		h.Authorize(rec, req)

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(rec.Body.String()).To(ContainSubstring(`"error":"invalid_client"`))
	})

	It("serves userinfo for a bearer access token", func() {
		tokens, err := e.exchange(e.consentAndCode(p, "openid profile"))
		Expect(err).NotTo(HaveOccurred())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/sso/userinfo", nil)
		req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
		rec := httptest.NewRecorder()
		h.UserInfo(rec, req)
		Expect(rec.Code).To(Equal(http.StatusOK))

		var info oidc.UserInfo
		Expect(json.Unmarshal(rec.Body.Bytes(), &info)).To(Succeed())
		Expect(info.PreferredUsername).To(Equal("alice"))

		Expect(e.authn.Logout(context.Background(), p)).To(Succeed())
		rec = httptest.NewRecorder()
		h.UserInfo(rec, req)
		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		Expect(rec.Header().Get("WWW-Authenticate")).To(ContainSubstring("invalid_token"))
	})

	It("serves the discovery document and key set", func() {
		rec := httptest.NewRecorder()
		h.Discovery(rec, httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil))
		Expect(rec.Code).To(Equal(http.StatusOK))
		var d oidc.Discovery
		Expect(json.Unmarshal(rec.Body.Bytes(), &d)).To(Succeed())
		Expect(d.Issuer).To(Equal(issuer))

		rec = httptest.NewRecorder()
		h.JWKS(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sso/jwks", nil))
		var set oidc.JWKS
		Expect(json.Unmarshal(rec.Body.Bytes(), &set)).To(Succeed())
		Expect(set.Keys).To(HaveLen(1))
		Expect(set.Keys[0].Kid).To(Equal(e.signer.KeyID()))
	})
})
