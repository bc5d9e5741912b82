package oidc_test

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/frahmantamala/ssoflow/internal"
	oidcmodel "github.com/frahmantamala/ssoflow/internal/core/datamodel/oidc"
	"github.com/frahmantamala/ssoflow/internal/identity"
	"github.com/frahmantamala/ssoflow/internal/oidc"
	"github.com/frahmantamala/ssoflow/pkg/hash"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("OIDC Service", func() {
	var (
		ctx context.Context
		e   *env
	)

	BeforeEach(func() {
		ctx = context.Background()
		e = newEnv()
	})

	Describe("client registry", func() {
		It("stores only a hash of the generated secret", func() {
			stored, err := e.repo.GetClientByClientID(ctx, e.client.ClientID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.SecretHash).NotTo(Equal(e.client.ClientSecret))
			Expect(hash.Compare(stored.SecretHash, e.client.ClientSecret)).To(BeTrue())
			Expect(stored.GrantTypes).To(ConsistOf(oidc.GrantAuthorizationCode, oidc.GrantRefreshToken))
		})

		It("rejects scopes without openid", func() {
			_, err := e.service.CreateClient(ctx, oidc.ClientDTO{
				TenantID:      e.tenant.ID,
				Name:          "No OpenID",
				RedirectURIs:  []string{redirectURI},
				AllowedScopes: "profile email",
			})
			Expect(internal.IsAppError(err)).To(BeTrue())
		})

		It("rejects an unknown tenant", func() {
			_, err := e.service.CreateClient(ctx, oidc.ClientDTO{TenantID: 9999, Name: "Ghost", RedirectURIs: []string{redirectURI}})
			Expect(err).To(MatchError(oidc.ErrTenantNotFound))
		})

		It("rejects a duplicate client_id", func() {
			_, err := e.service.CreateClient(ctx, oidc.ClientDTO{
				TenantID:     e.tenant.ID,
				ClientID:     e.client.ClientID,
				Name:         "Twin",
				RedirectURIs: []string{redirectURI},
			})
			Expect(err).To(MatchError(oidc.ErrDuplicate))
		})

		It("invalidates the old secret on rotation", func() {
			rotated, err := e.service.RotateSecret(ctx, e.client.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rotated.ClientSecret).NotTo(Equal(e.client.ClientSecret))

			p := e.login()
			code := e.consentAndCode(p, "openid")
			_, err = e.exchange(code)
			protocolError(err, oidc.ErrInvalidClient)

			e.client.ClientSecret = rotated.ClientSecret
			code = e.consentAndCode(p, "openid")
			_, err = e.exchange(code)
			Expect(err).NotTo(HaveOccurred())
		})

		It("keeps the tenant immutable", func() {
			other, err := e.ids.CreateTenant(ctx, identity.TenantDTO{Name: "Globex"})
			Expect(err).NotTo(HaveOccurred())
			_, err = e.service.UpdateClient(ctx, e.client.ID, oidc.ClientDTO{
				TenantID:     other.ID,
				Name:         "Moved",
				RedirectURIs: []string{redirectURI},
			})
			Expect(internal.IsAppError(err)).To(BeTrue())
		})

		It("removes consents and tokens with the client", func() {
			p := e.login()
			_, err := e.exchange(e.consentAndCode(p, "openid"))
			Expect(err).NotTo(HaveOccurred())

			Expect(e.service.DeleteClient(ctx, e.client.ID)).To(Succeed())
			apps, err := e.service.AuthorizedApps(ctx, p.UserID)
			Expect(err).NotTo(HaveOccurred())
			Expect(apps).To(BeEmpty())
			var tokens int64
			Expect(e.db.Model(&oidcmodel.RefreshToken{}).Count(&tokens).Error).To(Succeed())
			Expect(tokens).To(BeZero())
		})
	})

	Describe("authorize", func() {
		It("does not redirect for an unknown client", func() {
			req := e.authorizeRequest("openid")
			req.ClientID = "nobody"
			_, err := e.service.Authorize(ctx, req, e.login())
			perr := protocolError(err, oidc.ErrInvalidClient)
			Expect(perr.RedirectURL()).To(BeEmpty())
		})

		It("does not redirect to an unregistered redirect_uri", func() {
			req := e.authorizeRequest("openid")
			req.RedirectURI = "https://evil.example.com/cb"
			_, err := e.service.Authorize(ctx, req, e.login())
			perr := protocolError(err, oidc.ErrInvalidRedirectURI)
			Expect(perr.RedirectURL()).To(BeEmpty())
		})

		It("redirects scope errors back to the client with the state", func() {
			c := e.createClient(oidc.ClientDTO{AllowedScopes: "openid"})
			req := e.authorizeRequest("openid email")
			req.ClientID = c.ClientID
			_, err := e.service.Authorize(ctx, req, e.login())
			perr := protocolError(err, oidc.ErrInvalidScope)

			u, perr2 := url.Parse(perr.RedirectURL())
			Expect(perr2).NotTo(HaveOccurred())
			Expect(u.Host).To(Equal("app.example.com"))
			Expect(u.Query().Get("error")).To(Equal(oidc.ErrInvalidScope))
			Expect(u.Query().Get("state")).To(Equal("xyz"))
		})

		It("rejects response types other than code", func() {
			req := e.authorizeRequest("openid")
			req.ResponseType = "token"
			_, err := e.service.Authorize(ctx, req, e.login())
			protocolError(err, oidc.ErrUnsupportedResponseType)
		})

		It("asks an anonymous caller to log in", func() {
			res, err := e.service.Authorize(ctx, e.authorizeRequest("openid"), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.LoginRequired).To(BeTrue())
			Expect(res.LoginURL).To(HavePrefix("/sso/login?redirect="))
			Expect(res.RedirectURL).To(BeEmpty())
		})

		It("answers login_required for prompt=none", func() {
			req := e.authorizeRequest("openid")
			req.Prompt = "none"
			_, err := e.service.Authorize(ctx, req, nil)
			perr := protocolError(err, "login_required")
			Expect(perr.RedirectURL()).To(ContainSubstring("error=login_required"))
		})

		It("denies users of another tenant", func() {
			other, err := e.ids.CreateTenant(ctx, identity.TenantDTO{Name: "Globex"})
			Expect(err).NotTo(HaveOccurred())
			p := e.login()
			p.TenantID = other.ID
			_, err = e.service.Authorize(ctx, e.authorizeRequest("openid"), p)
			protocolError(err, oidc.ErrAccessDenied)
		})

		It("requires consent the first time and remembers it", func() {
			p := e.login()
			res, err := e.service.Authorize(ctx, e.authorizeRequest("openid profile"), p)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.ConsentRequired).To(BeTrue())
			Expect(res.ConsentURL).To(ContainSubstring("client_id=" + e.client.ClientID))

			e.consentAndCode(p, "openid profile")

			res, err = e.service.Authorize(ctx, e.authorizeRequest("openid profile"), p)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.ConsentRequired).To(BeFalse())
			Expect(codeFrom(res.RedirectURL)).NotTo(BeEmpty())
			Expect(res.RedirectURL).To(ContainSubstring("state=xyz"))
		})

		It("asks again when more scopes are requested", func() {
			p := e.login()
			e.consentAndCode(p, "openid")
			res, err := e.service.Authorize(ctx, e.authorizeRequest("openid email"), p)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.ConsentRequired).To(BeTrue())
			Expect(res.GrantedScopes).To(ConsistOf("openid"))
		})

		It("always asks for force_consent clients and prompt=consent", func() {
			forced := e.createClient(oidc.ClientDTO{ForceConsent: true})
			p := e.login()

			req := e.authorizeRequest("openid")
			req.ClientID = forced.ClientID
			_, err := e.service.Confirm(ctx, oidc.ConfirmRequest{AuthorizeRequest: req, Approved: true}, p)
			Expect(err).NotTo(HaveOccurred())
			res, err := e.service.Authorize(ctx, req, p)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.ConsentRequired).To(BeTrue())

			e.consentAndCode(p, "openid")
			req = e.authorizeRequest("openid")
			req.Prompt = "consent"
			res, err = e.service.Authorize(ctx, req, p)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.ConsentRequired).To(BeTrue())
		})

		It("sends access_denied when the user declines", func() {
			p := e.login()
			res, err := e.service.Confirm(ctx, oidc.ConfirmRequest{AuthorizeRequest: e.authorizeRequest("openid")}, p)
			Expect(err).NotTo(HaveOccurred())
			u, err := url.Parse(res.RedirectURL)
			Expect(err).NotTo(HaveOccurred())
			Expect(u.Query().Get("error")).To(Equal(oidc.ErrAccessDenied))
			Expect(u.Query().Get("state")).To(Equal("xyz"))
			Expect(u.Query().Get("code")).To(BeEmpty())

			apps, err := e.service.AuthorizedApps(ctx, p.UserID)
			Expect(err).NotTo(HaveOccurred())
			Expect(apps).To(BeEmpty())
		})
	})

	Describe("code exchange", func() {
		var p *internal.Principal

		BeforeEach(func() {
			p = e.login()
		})

		It("issues access, id and refresh tokens", func() {
			res, err := e.exchange(e.consentAndCode(p, "openid profile email"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.TokenType).To(Equal("Bearer"))
			Expect(res.ExpiresIn).To(Equal(oidc.DefaultAccessTokenTTL))
			Expect(res.RefreshToken).NotTo(BeEmpty())
			Expect(res.Scope).To(Equal("openid profile email"))

			access, err := e.signer.ParseAccessToken(res.AccessToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(access.Subject).To(Equal(idString(e.user.ID)))
			Expect(access.TenantID).To(Equal(e.tenant.ID))
			Expect(access.SessionID).To(Equal(p.SessionID))
			Expect([]string(access.Audience)).To(ConsistOf(e.client.ClientID))

			id, err := e.signer.ParseIDTokenHint(res.IDToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(id.Nonce).To(Equal("n-0S6"))
			Expect(id.Issuer).To(Equal(issuer))
			Expect(id.SessionID).To(Equal(p.SessionID))
			Expect(id.PreferredUsername).To(Equal("alice"))
			Expect(id.Email).To(Equal("alice@acme.test"))
			Expect(id.AuthTime).To(BeNumerically(">", 0))
		})

		It("never accepts an id token as an access token", func() {
			res, err := e.exchange(e.consentAndCode(p, "openid"))
			Expect(err).NotTo(HaveOccurred())
			_, err = e.signer.ParseAccessToken(res.IDToken)
			Expect(err).To(HaveOccurred())
			_, err = e.service.UserInfo(ctx, res.IDToken)
			protocolError(err, oidc.ErrInvalidToken)
		})

		It("omits the refresh token for clients without the refresh grant", func() {
			c := e.createClient(oidc.ClientDTO{GrantTypes: []string{oidc.GrantAuthorizationCode}})
			req := e.authorizeRequest("openid")
			req.ClientID = c.ClientID
			res, err := e.service.Confirm(ctx, oidc.ConfirmRequest{AuthorizeRequest: req, Approved: true}, p)
			Expect(err).NotTo(HaveOccurred())
			tok, err := e.service.Token(ctx, oidc.TokenRequest{
				GrantType:    oidc.GrantAuthorizationCode,
				Code:         codeFrom(res.RedirectURL),
				RedirectURI:  redirectURI,
				ClientID:     c.ClientID,
				ClientSecret: c.ClientSecret,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(tok.RefreshToken).To(BeEmpty())
		})

		It("refuses a second use and revokes what the first one minted", func() {
			code := e.consentAndCode(p, "openid")
			first, err := e.exchange(code)
			Expect(err).NotTo(HaveOccurred())

			_, err = e.exchange(code)
			protocolError(err, oidc.ErrInvalidGrant)

			_, err = e.refresh(first.RefreshToken)
			protocolError(err, oidc.ErrInvalidGrant)
		})

		It("lets exactly one of two concurrent exchanges win", func() {
			code := e.consentAndCode(p, "openid")
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					if _, err := e.exchange(code); err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			Expect(wins).To(Equal(1))
		})

		It("burns the code on a redirect_uri mismatch", func() {
			code := e.consentAndCode(p, "openid")
			_, err := e.service.Token(ctx, oidc.TokenRequest{
				GrantType:    oidc.GrantAuthorizationCode,
				Code:         code,
				RedirectURI:  "https://app.example.com/other",
				ClientID:     e.client.ClientID,
				ClientSecret: e.client.ClientSecret,
			})
			protocolError(err, oidc.ErrInvalidGrant)

			_, err = e.exchange(code)
			protocolError(err, oidc.ErrInvalidGrant)
		})

		It("rejects a code issued to another client", func() {
			other := e.createClient(oidc.ClientDTO{})
			code := e.consentAndCode(p, "openid")
			_, err := e.service.Token(ctx, oidc.TokenRequest{
				GrantType:    oidc.GrantAuthorizationCode,
				Code:         code,
				RedirectURI:  redirectURI,
				ClientID:     other.ClientID,
				ClientSecret: other.ClientSecret,
			})
			protocolError(err, oidc.ErrInvalidGrant)

			// the owner can still redeem it
			resp, err := e.exchange(code)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.AccessToken).NotTo(BeEmpty())
		})

		It("rejects an expired code", func() {
			raw := "expired-code"
			Expect(e.repo.CreateCode(ctx, &oidc.AuthorizationCode{
				CodeHash:    hash.SHA256Hex(raw),
				ClientID:    e.client.ClientID,
				UserID:      e.user.ID,
				TenantID:    e.tenant.ID,
				SessionID:   p.SessionID,
				RedirectURI: redirectURI,
				Scope:       "openid",
				AuthTime:    time.Now().Add(-time.Hour),
				ExpiresAt:   time.Now().Add(-time.Minute),
			})).To(Succeed())

			_, err := e.exchange(raw)
			protocolError(err, oidc.ErrInvalidGrant)

			purged, err := e.service.PurgeExpiredCodes(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(purged).To(BeEquivalentTo(1))
		})

		It("rejects bad client credentials and unknown grants", func() {
			code := e.consentAndCode(p, "openid")
			_, err := e.service.Token(ctx, oidc.TokenRequest{
				GrantType:    oidc.GrantAuthorizationCode,
				Code:         code,
				RedirectURI:  redirectURI,
				ClientID:     e.client.ClientID,
				ClientSecret: "wrong",
			})
			Expect(protocolError(err, oidc.ErrInvalidClient).HTTPStatus()).To(Equal(401))

			_, err = e.service.Token(ctx, oidc.TokenRequest{GrantType: "password", ClientID: e.client.ClientID})
			protocolError(err, oidc.ErrUnsupportedGrantType)
		})

		It("fails once the login session is gone", func() {
			code := e.consentAndCode(p, "openid")
			Expect(e.authn.Logout(ctx, p)).To(Succeed())
			_, err := e.exchange(code)
			protocolError(err, oidc.ErrInvalidGrant)
		})
	})

	Describe("refresh", func() {
		var (
			p      *internal.Principal
			tokens *oidc.TokenResponse
		)

		BeforeEach(func() {
			var err error
			p = e.login()
			tokens, err = e.exchange(e.consentAndCode(p, "openid profile"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("rotates the refresh token", func() {
			next, err := e.refresh(tokens.RefreshToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(next.RefreshToken).NotTo(Equal(tokens.RefreshToken))
			Expect(next.AccessToken).NotTo(BeEmpty())

			_, err = e.refresh(tokens.RefreshToken)
			protocolError(err, oidc.ErrInvalidGrant)

			_, err = e.refresh(next.RefreshToken)
			Expect(err).NotTo(HaveOccurred())
		})

		It("allows narrowing but not widening the scope", func() {
			res, err := e.service.Token(ctx, oidc.TokenRequest{
				GrantType:    oidc.GrantRefreshToken,
				RefreshToken: tokens.RefreshToken,
				Scope:        "openid",
				ClientID:     e.client.ClientID,
				ClientSecret: e.client.ClientSecret,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Scope).To(Equal("openid"))

			_, err = e.service.Token(ctx, oidc.TokenRequest{
				GrantType:    oidc.GrantRefreshToken,
				RefreshToken: res.RefreshToken,
				Scope:        "openid email",
				ClientID:     e.client.ClientID,
				ClientSecret: e.client.ClientSecret,
			})
			protocolError(err, oidc.ErrInvalidScope)
		})

		It("stops working once the user revokes the app", func() {
			apps, err := e.service.AuthorizedApps(ctx, p.UserID)
			Expect(err).NotTo(HaveOccurred())
			Expect(apps).To(HaveLen(1))
			Expect(apps[0].ClientName).To(Equal("Expense Portal"))

			Expect(e.service.RevokeAuthorizedApp(ctx, p.UserID, e.client.ClientID)).To(Succeed())
			_, err = e.refresh(tokens.RefreshToken)
			protocolError(err, oidc.ErrInvalidGrant)

			Expect(e.service.RevokeAuthorizedApp(ctx, p.UserID, e.client.ClientID)).To(MatchError(oidc.ErrAuthorizedAppNotFound))
		})

		It("stops working for a disabled user", func() {
			_, err := e.ids.UpdateUser(ctx, e.user.ID, identity.UpdateUserDTO{Status: identity.StatusDisabled})
			Expect(err).NotTo(HaveOccurred())
			_, err = e.refresh(tokens.RefreshToken)
			protocolError(err, oidc.ErrInvalidGrant)
		})
	})

	Describe("userinfo", func() {
		var (
			p      *internal.Principal
			tokens *oidc.TokenResponse
		)

		BeforeEach(func() {
			var err error
			p = e.login()
			tokens, err = e.exchange(e.consentAndCode(p, "openid profile"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns claims allowed by the scope", func() {
			info, err := e.service.UserInfo(ctx, tokens.AccessToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Subject).To(Equal(idString(e.user.ID)))
			Expect(info.PreferredUsername).To(Equal("alice"))
			Expect(info.Name).To(Equal("Alice"))
			Expect(info.Email).To(BeEmpty())
			Expect(info.PhoneNumber).To(BeEmpty())
		})

		It("fails after the SSO session ends", func() {
			Expect(e.authn.Logout(ctx, p)).To(Succeed())
			_, err := e.service.UserInfo(ctx, tokens.AccessToken)
			protocolError(err, oidc.ErrInvalidToken)
		})

		It("rejects garbage", func() {
			_, err := e.service.UserInfo(ctx, "not-a-jwt")
			protocolError(err, oidc.ErrInvalidToken)
			_, err = e.service.UserInfo(ctx, "")
			protocolError(err, oidc.ErrInvalidToken)
		})
	})

	Describe("end session", func() {
		var (
			p      *internal.Principal
			tokens *oidc.TokenResponse
		)

		BeforeEach(func() {
			var err error
			p = e.login()
			tokens, err = e.exchange(e.consentAndCode(p, "openid"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("ends the hinted session and redirects to a registered uri", func() {
			redirect, err := e.service.EndSession(ctx, oidc.EndSessionRequest{
				IDTokenHint:           tokens.IDToken,
				PostLogoutRedirectURI: logoutURI,
				State:                 "bye",
			}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(redirect).To(Equal(logoutURI + "?state=bye"))

			_, err = e.sessions.Get(ctx, p.SessionID)
			Expect(err).To(HaveOccurred())
		})

		It("refuses an unregistered post logout uri", func() {
			_, err := e.service.EndSession(ctx, oidc.EndSessionRequest{
				ClientID:              e.client.ClientID,
				PostLogoutRedirectURI: "https://evil.example.com",
			}, p)
			protocolError(err, oidc.ErrInvalidRequest)

			_, err = e.sessions.Get(ctx, p.SessionID)
			Expect(err).NotTo(HaveOccurred())
		})

		It("refuses a hint issued to another client", func() {
			_, err := e.service.EndSession(ctx, oidc.EndSessionRequest{
				IDTokenHint: tokens.IDToken,
				ClientID:    "someone-else",
			}, nil)
			protocolError(err, oidc.ErrInvalidRequest)
		})

		It("logs the caller out without a redirect", func() {
			redirect, err := e.service.EndSession(ctx, oidc.EndSessionRequest{}, p)
			Expect(err).NotTo(HaveOccurred())
			Expect(redirect).To(BeEmpty())
			_, err = e.sessions.Get(ctx, p.SessionID)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("discovery", func() {
		It("points every endpoint under the issuer", func() {
			d := e.service.Discovery()
			Expect(d.Issuer).To(Equal(issuer))
			Expect(d.AuthorizationEndpoint).To(Equal(issuer + "/api/v1/sso/authorize"))
			Expect(d.TokenEndpoint).To(Equal(issuer + "/api/v1/sso/token"))
			Expect(d.JWKSURI).To(Equal(issuer + "/api/v1/sso/jwks"))
			Expect(d.IDTokenSigningAlgValuesSupported).To(ConsistOf("RS256"))
		})

		It("publishes the signing key under its thumbprint", func() {
			set := e.service.JWKS()
			Expect(set.Keys).To(HaveLen(1))
			Expect(set.Keys[0].Kid).To(Equal(oidc.Thumbprint(&signingKey.PublicKey)))
			Expect(set.Keys[0].Kty).To(Equal("RSA"))
			Expect(set.Keys[0].Alg).To(Equal("RS256"))
		})
	})
})
