package oidc

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/auth"
	"github.com/frahmantamala/ssoflow/internal/identity"
	"github.com/frahmantamala/ssoflow/pkg/hash"
	"github.com/frahmantamala/ssoflow/pkg/ids"
	"github.com/frahmantamala/ssoflow/pkg/logger"
	"github.com/frahmantamala/ssoflow/pkg/metrics"
	"github.com/golang-jwt/jwt/v5"
)

// grant is what a successful code exchange or refresh hands to minting.
type grant struct {
	client    *Client
	user      *identity.User
	scopes    Scopes
	sessionID string
	authTime  time.Time
	nonce     string
	codeHash  string
}

// Token implements the token endpoint.
func (s *Service) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	res, err := s.token(ctx, req)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			metrics.OIDCGrantFailures.WithLabelValues(perr.Code).Inc()
			s.logger.Warn("token request rejected", "client_id", req.ClientID, "grant_type", req.GrantType, "error", perr.Code, "description", perr.Description)
		}
		return nil, err
	}
	metrics.OIDCTokensIssued.WithLabelValues(req.GrantType).Inc()
	return res, nil
}

func (s *Service) token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.GrantType != GrantAuthorizationCode && req.GrantType != GrantRefreshToken {
		return nil, protocolError(ErrUnsupportedGrantType, "grant_type must be authorization_code or refresh_token")
	}
	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !contains(client.GrantTypes, req.GrantType) {
		return nil, protocolError(ErrUnauthorizedClient, "grant type not allowed for this client")
	}
	if req.GrantType == GrantAuthorizationCode {
		return s.exchangeCode(ctx, client, req)
	}
	return s.refresh(ctx, client, req)
}

func (s *Service) authenticateClient(ctx context.Context, clientID, secret string) (*Client, error) {
	if clientID == "" {
		return nil, protocolError(ErrInvalidClient, "client authentication required")
	}
	client, err := s.repo.GetClientByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			return nil, protocolError(ErrInvalidClient, "client authentication failed")
		}
		return nil, err
	}
	if client.Status != StatusEnabled || !hash.Compare(client.SecretHash, secret) {
		return nil, protocolError(ErrInvalidClient, "client authentication failed")
	}
	return client, nil
}

func (s *Service) exchangeCode(ctx context.Context, client *Client, req TokenRequest) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, protocolError(ErrInvalidRequest, "code is required")
	}
	now := s.now()
	codeHash := hash.SHA256Hex(req.Code)
	code, err := s.repo.ConsumeCode(ctx, codeHash, client.ClientID, now)
	switch {
	case errors.Is(err, ErrCodeReplayed):
		revoked, rerr := s.repo.RevokeRefreshTokensByCode(ctx, codeHash, now)
		if rerr != nil {
			s.logger.Error("failed to revoke tokens of replayed code", "client_id", client.ClientID, "error", rerr)
		}
		var userID int64
		if code != nil {
			userID = code.UserID
		}
		logger.AuditFrom(ctx).Warn("authorization code replayed", "event", "code_replay", "client_id", client.ClientID, "user_id", userID, "revoked_refresh_tokens", revoked)
		return nil, protocolError(ErrInvalidGrant, "authorization code has already been used")
	case errors.Is(err, ErrCodeClient):
		logger.AuditFrom(ctx).Warn("authorization code presented by another client", "event", "code_client_mismatch", "client_id", client.ClientID)
		return nil, protocolError(ErrInvalidGrant, "authorization code was issued to another client")
	case errors.Is(err, ErrCodeNotFound), errors.Is(err, ErrCodeExpired):
		return nil, protocolError(ErrInvalidGrant, "authorization code is invalid or expired")
	case err != nil:
		return nil, err
	}

	if code.RedirectURI != req.RedirectURI {
		return nil, protocolError(ErrInvalidGrant, "redirect_uri does not match the authorization request")
	}
	user, err := s.activeUser(ctx, code.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.checkSession(ctx, code.SessionID); err != nil {
		return nil, err
	}
	if err := s.checkConsent(ctx, code.UserID, client.ClientID); err != nil {
		return nil, err
	}
	logger.AuditFrom(ctx).Info("authorization code exchanged", "event", "code_exchanged", "client_id", client.ClientID, "user_id", code.UserID)
	return s.mint(ctx, grant{
		client:    client,
		user:      user,
		scopes:    ParseScopes(code.Scope),
		sessionID: code.SessionID,
		authTime:  code.AuthTime,
		nonce:     code.Nonce,
		codeHash:  codeHash,
	}, nil)
}

func (s *Service) refresh(ctx context.Context, client *Client, req TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, protocolError(ErrInvalidRequest, "refresh_token is required")
	}
	rt, err := s.repo.GetRefreshToken(ctx, hash.SHA256Hex(req.RefreshToken))
	if err != nil {
		if errors.Is(err, ErrRefreshTokenNotFound) {
			return nil, protocolError(ErrInvalidGrant, "refresh token is invalid")
		}
		return nil, err
	}
	now := s.now()
	switch {
	case rt.ClientID != client.ClientID:
		return nil, protocolError(ErrInvalidGrant, "refresh token was issued to another client")
	case rt.RevokedAt != nil:
		logger.AuditFrom(ctx).Warn("revoked refresh token presented", "event", "refresh_reuse", "client_id", client.ClientID, "user_id", rt.UserID)
		return nil, protocolError(ErrInvalidGrant, "refresh token has been revoked")
	case now.After(rt.ExpiresAt):
		return nil, protocolError(ErrInvalidGrant, "refresh token has expired")
	}
	if err := s.checkConsent(ctx, rt.UserID, client.ClientID); err != nil {
		return nil, err
	}
	user, err := s.activeUser(ctx, rt.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.checkSession(ctx, rt.SessionID); err != nil {
		return nil, err
	}
	scopes := ParseScopes(rt.Scope)
	if req.Scope != "" {
		requested := ParseScopes(req.Scope)
		if !requested.SubsetOf(scopes) {
			return nil, protocolError(ErrInvalidScope, "requested scope exceeds the original grant")
		}
		scopes = requested
	}
	return s.mint(ctx, grant{
		client:    client,
		user:      user,
		scopes:    scopes,
		sessionID: rt.SessionID,
		authTime:  rt.AuthTime,
		codeHash:  rt.CodeHash,
	}, rt)
}

func (s *Service) activeUser(ctx context.Context, userID int64) (*identity.User, error) {
	user, active, err := s.dir.IsActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, protocolError(ErrInvalidGrant, "user is disabled or no longer exists")
	}
	return user, nil
}

func (s *Service) checkSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		if errors.Is(err, auth.ErrSessionNotFound) {
			return protocolError(ErrInvalidGrant, "the login session has ended")
		}
		return err
	}
	return nil
}

func (s *Service) checkConsent(ctx context.Context, userID int64, clientID string) error {
	if _, err := s.repo.GetAuthorizedApp(ctx, userID, clientID); err != nil {
		if errors.Is(err, ErrAuthorizedAppNotFound) {
			return protocolError(ErrInvalidGrant, "authorization has been revoked")
		}
		return err
	}
	return nil
}

// mint signs the access and ID tokens and stores a refresh token, rotating previous when set.
func (s *Service) mint(ctx context.Context, g grant, previous *RefreshToken) (*TokenResponse, error) {
	now := s.now()
	accessTTL := ttlOrDefault(g.client.AccessTokenTTL, DefaultAccessTokenTTL)
	subject := idString(g.user.ID)
	audience := jwt.ClaimStrings{g.client.ClientID}

	access, err := s.signer.SignAccessToken(&AccessClaims{
		Scope:     g.scopes.String(),
		TenantID:  g.user.TenantID,
		SessionID: g.sessionID,
		ClientID:  g.client.ClientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  audience,
			IssuedAt:  numericDate(now),
			ExpiresAt: numericDate(now.Add(time.Duration(accessTTL) * time.Second)),
			ID:        ids.UUID(),
		},
	})
	if err != nil {
		return nil, internal.NewInternalError("failed to sign access token", err)
	}
	res := &TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   accessTTL,
		Scope:       g.scopes.String(),
	}

	if g.scopes.Has(ScopeOpenID) {
		idc := &IDClaims{
			AuthTime:  g.authTime.Unix(),
			Nonce:     g.nonce,
			TenantID:  g.user.TenantID,
			SessionID: g.sessionID,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   subject,
				Audience:  audience,
				IssuedAt:  numericDate(now),
				ExpiresAt: numericDate(now.Add(time.Duration(accessTTL) * time.Second)),
			},
		}
		if g.scopes.Has(ScopeProfile) {
			idc.Name = g.user.DisplayName
			idc.PreferredUsername = g.user.Username
		}
		if g.scopes.Has(ScopeEmail) {
			idc.Email = g.user.Email
		}
		if res.IDToken, err = s.signer.SignIDToken(idc); err != nil {
			return nil, internal.NewInternalError("failed to sign id token", err)
		}
	}

	if contains(g.client.GrantTypes, GrantRefreshToken) {
		raw, err := ids.Token(32)
		if err != nil {
			return nil, internal.NewInternalError("failed to generate refresh token", err)
		}
		refreshTTL := ttlOrDefault(g.client.RefreshTokenTTL, DefaultRefreshTokenTTL)
		next := &RefreshToken{
			TokenHash: hash.SHA256Hex(raw),
			ClientID:  g.client.ClientID,
			UserID:    g.user.ID,
			TenantID:  g.user.TenantID,
			SessionID: g.sessionID,
			Scope:     g.scopes.String(),
			CodeHash:  g.codeHash,
			AuthTime:  g.authTime,
			ExpiresAt: now.Add(time.Duration(refreshTTL) * time.Second),
		}
		if previous == nil {
			err = s.repo.CreateRefreshToken(ctx, next)
		} else {
			err = s.repo.RotateRefreshToken(ctx, previous.ID, next, now)
			if errors.Is(err, ErrRefreshTokenRevoked) {
				return nil, protocolError(ErrInvalidGrant, "refresh token has already been used")
			}
		}
		if err != nil {
			return nil, err
		}
		res.RefreshToken = raw
	}
	return res, nil
}

// UserInfo returns the claims of the access token's subject. The token's session must still exist.
func (s *Service) UserInfo(ctx context.Context, rawAccessToken string) (*UserInfo, error) {
	if rawAccessToken == "" {
		return nil, protocolError(ErrInvalidToken, "access token required")
	}
	claims, err := s.signer.ParseAccessToken(rawAccessToken)
	if err != nil {
		return nil, protocolError(ErrInvalidToken, "access token is invalid or expired")
	}
	if claims.SessionID != "" {
		if _, err := s.sessions.Get(ctx, claims.SessionID); err != nil {
			if errors.Is(err, auth.ErrSessionNotFound) {
				return nil, protocolError(ErrInvalidToken, "the login session has ended")
			}
			return nil, err
		}
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, protocolError(ErrInvalidToken, "access token subject is malformed")
	}
	user, active, err := s.dir.IsActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, protocolError(ErrInvalidToken, "user is disabled or no longer exists")
	}

	scopes := ParseScopes(claims.Scope)
	info := &UserInfo{Subject: claims.Subject, TenantID: user.TenantID}
	if scopes.Has(ScopeProfile) {
		info.Name = user.DisplayName
		info.PreferredUsername = user.Username
		info.UpdatedAt = user.UpdatedAt.Unix()
	}
	if scopes.Has(ScopeEmail) {
		info.Email = user.Email
	}
	if scopes.Has(ScopePhone) {
		info.PhoneNumber = user.Phone
	}
	return info, nil
}

func ttlOrDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
