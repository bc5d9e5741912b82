package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/pkg/logger"
	"golang.org/x/oauth2"
)

const stateTTL = 10 * time.Minute

type federatedLogin struct {
	oauth       *oauth2.Config
	userInfoURL string
}

func newFederatedLogin(cfg internal.OIDCLoginConfig) *federatedLogin {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile", "email"}
	}
	issuer := strings.TrimRight(cfg.Issuer, "/")
	authURL, tokenURL, userInfoURL := cfg.AuthURL, cfg.TokenURL, cfg.UserInfoURL
	if authURL == "" {
		authURL = issuer + "/sso/authorize"
	}
	if tokenURL == "" {
		tokenURL = issuer + "/sso/token"
	}
	if userInfoURL == "" {
		userInfoURL = issuer + "/sso/userinfo"
	}
	return &federatedLogin{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL},
		},
		userInfoURL: userInfoURL,
	}
}

type userInfoClaims struct {
	Subject           string `json:"sub"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	Name              string `json:"name"`
}

// OIDCCallback finishes the local application's SSO login: the code is exchanged with the
// configured provider and the returned identity is matched to a user of the default tenant.
func (s *Service) OIDCCallback(ctx context.Context, code, state string, meta ClientMeta) (*LoginResult, error) {
	if s.federate == nil {
		return nil, internal.NewNotFoundError("OIDC login is not enabled", internal.ErrCodeNotFound)
	}
	if code == "" {
		return nil, internal.NewValidationFieldError("code", "code is required", internal.ErrCodeValidationFailed)
	}
	if err := s.signer.VerifyState(state); err != nil {
		logger.AuditFrom(ctx).Warn("oidc login state rejected", "event", "oidc_login_failed", "error", err)
		return nil, internal.NewValidationFieldError("state", "state is invalid or expired", internal.ErrCodeInvalidToken)
	}

	token, err := s.federate.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, internal.NewExternalError("code exchange with identity provider failed", internal.ErrCodeInvalidCredentials, err)
	}
	info, err := s.federate.fetchUserInfo(ctx, token)
	if err != nil {
		return nil, internal.NewExternalError("userinfo lookup failed", internal.ErrCodeInvalidCredentials, err)
	}
	username := info.PreferredUsername
	if username == "" {
		username = info.Subject
	}
	user, err := s.dir.FindByUsername(ctx, s.opts.DefaultTenantID, username)
	if err != nil {
		logger.AuditFrom(ctx).Warn("oidc login for unknown user", "event", "oidc_login_failed", "username", username)
		return nil, internal.ErrInvalidCredentials
	}
	if _, active, err := s.dir.IsActive(ctx, user.ID); err != nil {
		return nil, err
	} else if !active {
		return nil, internal.ErrUserInactive
	}

	res, err := s.StartSession(ctx, user, meta)
	if err != nil {
		return nil, err
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		res.IDToken = idToken
	}
	return res, nil
}

func (f *federatedLogin) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*userInfoClaims, error) {
	client := f.oauth.Client(ctx, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("userinfo returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var info userInfoClaims
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	return &info, nil
}
