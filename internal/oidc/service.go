package oidc

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/auth"
	"github.com/frahmantamala/ssoflow/internal/identity"
	"github.com/frahmantamala/ssoflow/pkg/hash"
	"github.com/frahmantamala/ssoflow/pkg/ids"
	"github.com/frahmantamala/ssoflow/pkg/logger"
)

const (
	minCodeTTL = time.Minute
	maxCodeTTL = 10 * time.Minute

	promptNone    = "none"
	promptConsent = "consent"

	errLoginRequired   = "login_required"
	errConsentRequired = "consent_required"
)

// Directory is the slice of the identity store the provider reads.
type Directory interface {
	IsActive(ctx context.Context, userID int64) (*identity.User, bool, error)
	GetTenant(ctx context.Context, id int64) (*identity.Tenant, error)
}

// SessionStore looks up and ends the SSO sessions tokens are bound to.
type SessionStore interface {
	Get(ctx context.Context, id string) (*auth.Session, error)
	Delete(ctx context.Context, id string) error
}

type Options struct {
	Issuer         string
	CodeTTL        time.Duration
	LoginPageURL   string
	ConsentPageURL string
}

func OptionsFromConfig(cfg *internal.Config) Options {
	return Options{
		Issuer:         cfg.SSO.Issuer,
		CodeTTL:        cfg.SSO.CodeTTL,
		LoginPageURL:   cfg.SSO.LoginPageURL,
		ConsentPageURL: cfg.SSO.ConsentPageURL,
	}
}

type Service struct {
	repo     Repository
	dir      Directory
	sessions SessionStore
	signer   *Signer
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(repo Repository, dir Directory, sessions SessionStore, signer *Signer, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CodeTTL < minCodeTTL {
		opts.CodeTTL = 5 * time.Minute
	}
	if opts.CodeTTL > maxCodeTTL {
		opts.CodeTTL = maxCodeTTL
	}
	if opts.LoginPageURL == "" {
		opts.LoginPageURL = "/sso/login"
	}
	if opts.ConsentPageURL == "" {
		opts.ConsentPageURL = "/sso/authorize"
	}
	if opts.Issuer == "" {
		opts.Issuer = signer.Issuer()
	}
	return &Service{
		repo:     repo,
		dir:      dir,
		sessions: sessions,
		signer:   signer,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// validateAuthorize checks the client and redirect_uri first; only once both are trusted are
// errors delivered through the redirect.
func (s *Service) validateAuthorize(ctx context.Context, req AuthorizeRequest) (*Client, Scopes, error) {
	if req.ClientID == "" {
		return nil, nil, protocolError(ErrInvalidRequest, "client_id is required")
	}
	client, err := s.repo.GetClientByClientID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			return nil, nil, protocolError(ErrInvalidClient, "unknown client")
		}
		return nil, nil, err
	}
	if client.Status != StatusEnabled {
		return nil, nil, protocolError(ErrInvalidClient, "client is disabled")
	}
	if req.RedirectURI == "" || !contains(client.RedirectURIs, req.RedirectURI) {
		return nil, nil, protocolError(ErrInvalidRedirectURI, "redirect_uri is not registered for this client")
	}
	if req.ResponseType != "" && req.ResponseType != "code" {
		return nil, nil, redirectError(ErrUnsupportedResponseType, "only response_type=code is supported", req.RedirectURI, req.State)
	}
	if !contains(client.GrantTypes, GrantAuthorizationCode) {
		return nil, nil, redirectError(ErrUnauthorizedClient, "client may not use the authorization code grant", req.RedirectURI, req.State)
	}
	scopes := ParseScopes(req.Scope)
	if len(scopes) == 0 {
		scopes = Scopes{ScopeOpenID}
	}
	if !scopes.SubsetOf(ParseScopes(client.AllowedScopes)) {
		return nil, nil, redirectError(ErrInvalidScope, "requested scope exceeds the client's allowed scopes", req.RedirectURI, req.State)
	}
	return client, scopes, nil
}

// Authorize validates an authorization request. Without a principal the caller is sent to the login
// page; with cached consent covering the requested scopes a code is issued right away.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest, p *internal.Principal) (*AuthorizeResult, error) {
	client, scopes, err := s.validateAuthorize(ctx, req)
	if err != nil {
		return nil, err
	}
	res := &AuthorizeResult{
		ClientID:   client.ClientID,
		ClientName: client.Name,
		LogoURL:    client.LogoURL,
		Scopes:     scopes,
		State:      req.State,
	}
	if p == nil {
		if req.Prompt == promptNone {
			return nil, redirectError(errLoginRequired, "user is not logged in", req.RedirectURI, req.State)
		}
		res.LoginRequired = true
		res.LoginURL = s.loginURL(req)
		return res, nil
	}
	if p.TenantID != client.TenantID {
		return nil, redirectError(ErrAccessDenied, "user does not belong to the client's tenant", req.RedirectURI, req.State)
	}

	app, err := s.repo.GetAuthorizedApp(ctx, p.UserID, client.ClientID)
	if err != nil && !errors.Is(err, ErrAuthorizedAppNotFound) {
		return nil, err
	}
	if app != nil {
		res.GrantedScopes = ParseScopes(app.Scope)
	}
	if consentRequired(client, req.Prompt, app, scopes) {
		if req.Prompt == promptNone {
			return nil, redirectError(errConsentRequired, "user consent is required", req.RedirectURI, req.State)
		}
		res.ConsentRequired = true
		res.ConsentURL = s.consentURL(req)
		return res, nil
	}

	redirect, err := s.issueCode(ctx, client, p, req, scopes)
	if err != nil {
		return nil, err
	}
	res.RedirectURL = redirect
	return res, nil
}

func consentRequired(client *Client, prompt string, app *AuthorizedApp, requested Scopes) bool {
	if client.ForceConsent || prompt == promptConsent || app == nil {
		return true
	}
	return !requested.SubsetOf(ParseScopes(app.Scope))
}

// Confirm records the user's decision on the consent page.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest, p *internal.Principal) (*AuthorizeResult, error) {
	if p == nil {
		return nil, internal.NewUnauthorizedError("Login required", internal.ErrCodeInvalidToken)
	}
	if !req.Approved {
		redirect, err := s.Deny(ctx, req.AuthorizeRequest, p)
		if err != nil {
			return nil, err
		}
		return &AuthorizeResult{RedirectURL: redirect, ClientID: req.ClientID, State: req.State}, nil
	}

	client, scopes, err := s.validateAuthorize(ctx, req.AuthorizeRequest)
	if err != nil {
		return nil, err
	}
	if p.TenantID != client.TenantID {
		return nil, redirectError(ErrAccessDenied, "user does not belong to the client's tenant", req.RedirectURI, req.State)
	}
	if err := s.grantConsent(ctx, p.UserID, client.ClientID, scopes); err != nil {
		return nil, err
	}
	redirect, err := s.issueCode(ctx, client, p, req.AuthorizeRequest, scopes)
	if err != nil {
		return nil, err
	}
	return &AuthorizeResult{
		RedirectURL: redirect,
		ClientID:    client.ClientID,
		ClientName:  client.Name,
		Scopes:      scopes,
		State:       req.State,
	}, nil
}

// Deny sends the user back to the client with error=access_denied.
func (s *Service) Deny(ctx context.Context, req AuthorizeRequest, p *internal.Principal) (string, error) {
	if _, _, err := s.validateAuthorize(ctx, req); err != nil {
		return "", err
	}
	var userID int64
	if p != nil {
		userID = p.UserID
	}
	logger.AuditFrom(ctx).Info("consent denied", "event", "consent_denied", "client_id", req.ClientID, "user_id", userID)
	return redirectError(ErrAccessDenied, "the user denied the request", req.RedirectURI, req.State).RedirectURL(), nil
}

// grantConsent unions the approved scopes into the stored consent.
func (s *Service) grantConsent(ctx context.Context, userID int64, clientID string, scopes Scopes) error {
	app, err := s.repo.GetAuthorizedApp(ctx, userID, clientID)
	if err != nil && !errors.Is(err, ErrAuthorizedAppNotFound) {
		return err
	}
	if app == nil {
		app = &AuthorizedApp{UserID: userID, ClientID: clientID, Scope: scopes.String(), AuthorizedAt: s.now()}
	} else {
		app.Scope = ParseScopes(app.Scope).Union(scopes).String()
		app.AuthorizedAt = s.now()
	}
	if err := s.repo.SaveAuthorizedApp(ctx, app); err != nil {
		return err
	}
	logger.AuditFrom(ctx).Info("consent granted", "event", "consent_granted", "client_id", clientID, "user_id", userID, "scope", app.Scope)
	return nil
}

func (s *Service) issueCode(ctx context.Context, client *Client, p *internal.Principal, req AuthorizeRequest, scopes Scopes) (string, error) {
	raw, err := ids.Token(32)
	if err != nil {
		return "", internal.NewInternalError("failed to generate authorization code", err)
	}
	now := s.now()
	authTime := now
	if p.SessionID != "" {
		if sess, err := s.sessions.Get(ctx, p.SessionID); err == nil {
			authTime = sess.CreatedAt
		}
	}
	code := &AuthorizationCode{
		CodeHash:    hash.SHA256Hex(raw),
		ClientID:    client.ClientID,
		UserID:      p.UserID,
		TenantID:    p.TenantID,
		SessionID:   p.SessionID,
		RedirectURI: req.RedirectURI,
		Scope:       scopes.String(),
		Nonce:       req.Nonce,
		State:       req.State,
		AuthTime:    authTime,
		ExpiresAt:   now.Add(s.opts.CodeTTL),
	}
	if err := s.repo.CreateCode(ctx, code); err != nil {
		return "", err
	}
	s.logger.Info("authorization code issued", "client_id", client.ClientID, "user_id", p.UserID, "scope", code.Scope)
	redirect, err := withQuery(req.RedirectURI, codeResponse{Code: raw, State: req.State})
	if err != nil {
		return "", internal.NewInternalError("failed to build redirect", err)
	}
	return redirect, nil
}

func (s *Service) consentURL(req AuthorizeRequest) string {
	u, err := withQuery(s.opts.ConsentPageURL, req)
	if err != nil {
		return s.opts.ConsentPageURL
	}
	return u
}

func (s *Service) loginURL(req AuthorizeRequest) string {
	u, err := withQuery(s.opts.LoginPageURL, struct {
		Redirect string `url:"redirect"`
	}{s.consentURL(req)})
	if err != nil {
		return s.opts.LoginPageURL
	}
	return u
}

// EndSession ends the SSO session (the caller's, or the one named by id_token_hint) and returns the
// post logout redirect when it is registered for the client.
func (s *Service) EndSession(ctx context.Context, req EndSessionRequest, p *internal.Principal) (string, error) {
	var hint *IDClaims
	if req.IDTokenHint != "" {
		claims, err := s.signer.ParseIDTokenHint(req.IDTokenHint)
		if err != nil {
			return "", protocolError(ErrInvalidRequest, "id_token_hint is invalid")
		}
		hint = claims
	}
	clientID := req.ClientID
	if hint != nil && len(hint.Audience) > 0 {
		if clientID != "" && clientID != hint.Audience[0] {
			return "", protocolError(ErrInvalidRequest, "client_id does not match id_token_hint")
		}
		clientID = hint.Audience[0]
	}

	var redirect string
	if req.PostLogoutRedirectURI != "" {
		if clientID == "" {
			return "", protocolError(ErrInvalidRequest, "client_id or id_token_hint is required with post_logout_redirect_uri")
		}
		client, err := s.repo.GetClientByClientID(ctx, clientID)
		if err != nil {
			if errors.Is(err, ErrClientNotFound) {
				return "", protocolError(ErrInvalidClient, "unknown client")
			}
			return "", err
		}
		if !contains(client.PostLogoutRedirectURIs, req.PostLogoutRedirectURI) {
			return "", protocolError(ErrInvalidRequest, "post_logout_redirect_uri is not registered for this client")
		}
		u, err := withQuery(req.PostLogoutRedirectURI, endSessionResponse{State: req.State})
		if err != nil {
			return "", internal.NewInternalError("failed to build redirect", err)
		}
		redirect = u
	}

	switch {
	case p != nil:
		if err := s.endSession(ctx, p.SessionID, p.UserID); err != nil {
			return "", err
		}
	case hint != nil && hint.SessionID != "":
		sess, err := s.sessions.Get(ctx, hint.SessionID)
		if err == nil && hint.Subject == idString(sess.UserID) {
			if err := s.endSession(ctx, sess.ID, sess.UserID); err != nil {
				return "", err
			}
		} else if err != nil && !errors.Is(err, auth.ErrSessionNotFound) {
			return "", err
		}
	}
	return redirect, nil
}

func (s *Service) endSession(ctx context.Context, sessionID string, userID int64) error {
	if err := s.sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, auth.ErrSessionNotFound) {
		return err
	}
	logger.AuditFrom(ctx).Info("session ended", "event", "end_session", "user_id", userID, "session_id", sessionID)
	return nil
}

func (s *Service) AuthorizedApps(ctx context.Context, userID int64) ([]*AuthorizedAppView, error) {
	apps, err := s.repo.ListAuthorizedApps(ctx, userID)
	if err != nil {
		return nil, err
	}
	if apps == nil {
		apps = []*AuthorizedAppView{}
	}
	return apps, nil
}

// RevokeAuthorizedApp removes the consent; refresh tokens issued under it stop working immediately.
func (s *Service) RevokeAuthorizedApp(ctx context.Context, userID int64, clientID string) error {
	found, err := s.repo.RevokeAuthorizedApp(ctx, userID, clientID, s.now())
	if err != nil {
		return err
	}
	if !found {
		return ErrAuthorizedAppNotFound
	}
	logger.AuditFrom(ctx).Info("authorized app revoked", "event", "app_revoked", "user_id", userID, "client_id", clientID)
	return nil
}

func (s *Service) Discovery() *Discovery {
	issuer := strings.TrimRight(s.opts.Issuer, "/")
	base := issuer + APIPrefix
	return &Discovery{
		Issuer:                            issuer,
		AuthorizationEndpoint:             base + "/sso/authorize",
		TokenEndpoint:                     base + "/sso/token",
		UserinfoEndpoint:                  base + "/sso/userinfo",
		JWKSURI:                           base + "/sso/jwks",
		EndSessionEndpoint:                base + "/sso/logout",
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{GrantAuthorizationCode, GrantRefreshToken},
		SubjectTypesSupported:             []string{"public"},
		IDTokenSigningAlgValuesSupported:  []string{"RS256"},
		ScopesSupported:                   []string{ScopeOpenID, ScopeProfile, ScopeEmail, ScopePhone},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post"},
		ClaimsSupported: []string{
			"sub", "iss", "aud", "exp", "iat", "auth_time", "nonce", "tid", "sid",
			"name", "preferred_username", "email", "phone_number", "updated_at",
		},
	}
}

func (s *Service) JWKS() JWKS {
	return s.signer.JWKS()
}

// PurgeExpiredCodes deletes codes that expired before now.
func (s *Service) PurgeExpiredCodes(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredCodes(ctx, s.now())
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
