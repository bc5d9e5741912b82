package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/identity"
	"github.com/frahmantamala/ssoflow/internal/rbac"
	"github.com/frahmantamala/ssoflow/pkg/ids"
	"github.com/frahmantamala/ssoflow/pkg/logger"
)

// lastSeenResolution bounds how often a busy session writes last_seen_at.
const lastSeenResolution = time.Minute

type Options struct {
	ServerName      string
	Issuer          string
	DefaultTenantID int64
	SessionTTL      time.Duration
	OIDCLogin       internal.OIDCLoginConfig
}

// OptionsFromConfig picks the auth related settings out of the application config.
func OptionsFromConfig(cfg *internal.Config) Options {
	return Options{
		ServerName:      cfg.Server.Name,
		Issuer:          cfg.SSO.Issuer,
		DefaultTenantID: cfg.SSO.DefaultTenantID,
		SessionTTL:      cfg.Security.RefreshTokenDuration,
		OIDCLogin:       cfg.OIDCLogin,
	}
}

type Service struct {
	dir      Directory
	sessions SessionRepository
	signer   *TokenSigner
	roles    RoleResolver
	opts     Options
	logger   *slog.Logger
	federate *federatedLogin
	now      func() time.Time
}

func NewService(dir Directory, sessions SessionRepository, signer *TokenSigner, roles RoleResolver, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	s := &Service{
		dir:      dir,
		sessions: sessions,
		signer:   signer,
		roles:    roles,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
	if opts.OIDCLogin.Enabled {
		s.federate = newFederatedLogin(opts.OIDCLogin)
	}
	return s
}

func (s *Service) tenantOrDefault(id int64) int64 {
	if id > 0 {
		return id
	}
	return s.opts.DefaultTenantID
}

// Login authenticates a local user and opens a session.
func (s *Service) Login(ctx context.Context, dto LoginDTO, meta ClientMeta) (*LoginResult, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	tenantID := s.tenantOrDefault(dto.TenantID)
	user, err := s.dir.Authenticate(ctx, tenantID, dto.Username, dto.Password)
	if err != nil {
		logger.AuditFrom(ctx).Warn("login failed", "event", "login_failed", "tenant_id", tenantID, "username", dto.Username, "ip", meta.IPAddress, "error", err)
		return nil, err
	}
	return s.StartSession(ctx, user, meta)
}

// SSOLogin is Login for the identity provider pages; a safe redirect target is echoed back.
func (s *Service) SSOLogin(ctx context.Context, dto LoginDTO, meta ClientMeta) (*LoginResult, error) {
	res, err := s.Login(ctx, dto, meta)
	if err != nil {
		return nil, err
	}
	if dto.Redirect != "" {
		if safe, ok := SafeRedirect(dto.Redirect, s.opts.Issuer); ok {
			res.RedirectURL = safe
		} else {
			s.logger.Warn("ignored unsafe login redirect", "redirect", dto.Redirect, "user_id", res.User.ID)
		}
	}
	return res, nil
}

// StartSession opens a session for an already authenticated user.
func (s *Service) StartSession(ctx context.Context, user *identity.User, meta ClientMeta) (*LoginResult, error) {
	now := s.now()
	sess := &Session{
		ID:         ids.UUID(),
		UserID:     user.ID,
		TenantID:   user.TenantID,
		IPAddress:  truncate(meta.IPAddress, 64),
		UserAgent:  truncate(meta.UserAgent, 512),
		LastSeenAt: now,
		ExpiresAt:  now.Add(s.opts.SessionTTL),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	token, err := s.signer.Sign(sess)
	if err != nil {
		return nil, internal.NewInternalError("failed to sign session token", err)
	}
	logger.AuditFrom(ctx).Info("login succeeded", "event", "login", "user_id", user.ID, "tenant_id", user.TenantID, "session_id", sess.ID, "ip", meta.IPAddress)
	return &LoginResult{Token: token, ExpiresAt: sess.ExpiresAt, User: user}, nil
}

// Authenticate turns a bearer token into a principal. The session row must still exist, so a revoked
// session fails on the very next request.
func (s *Service) Authenticate(ctx context.Context, rawToken, roleHeader string) (*internal.Principal, error) {
	claims, err := s.signer.Parse(rawToken)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, internal.ErrSessionRevoked
		}
		return nil, err
	}
	now := s.now()
	if sess.UserID != claims.UserID {
		return nil, internal.ErrInvalidToken
	}
	if now.After(sess.ExpiresAt) {
		if err := s.sessions.Delete(ctx, sess.ID); err != nil && !errors.Is(err, ErrSessionNotFound) {
			s.logger.Warn("failed to delete expired session", "session_id", sess.ID, "error", err)
		}
		return nil, internal.ErrSessionRevoked
	}
	user, active, err := s.dir.IsActive(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, internal.ErrUserInactive
	}
	if now.Sub(sess.LastSeenAt) > lastSeenResolution {
		if err := s.sessions.Touch(ctx, sess.ID, now); err != nil {
			s.logger.Warn("failed to touch session", "session_id", sess.ID, "error", err)
		}
	}

	roles, err := s.roles.ActiveRoles(ctx, user.ID, nil)
	if err != nil {
		return nil, err
	}
	p := &internal.Principal{
		UserID:      user.ID,
		TenantID:    user.TenantID,
		SessionID:   sess.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
	}
	for _, r := range roles {
		p.RoleIDs = append(p.RoleIDs, r.ID)
	}
	if roleHeader != "" {
		if id, err := strconv.ParseInt(strings.TrimSpace(roleHeader), 10, 64); err == nil && p.HasRole(id) {
			p.CurrentRoleID = &id
		}
	}
	for _, r := range roles {
		if r.Code == rbac.AdminRoleCode && (p.CurrentRoleID == nil || *p.CurrentRoleID == r.ID) {
			p.IsAdmin = true
		}
	}
	return p, nil
}

func (s *Service) Logout(ctx context.Context, p *internal.Principal) error {
	if err := s.sessions.Delete(ctx, p.SessionID); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	logger.AuditFrom(ctx).Info("session ended", "event", "logout", "user_id", p.UserID, "session_id", p.SessionID)
	return nil
}

func (s *Service) ListSessions(ctx context.Context, p *internal.Principal) ([]*SessionView, error) {
	list, err := s.sessions.ListByUser(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]*SessionView, 0, len(list))
	for _, sess := range list {
		out = append(out, &SessionView{Session: sess, Current: sess.ID == p.SessionID})
	}
	return out, nil
}

// RevokeSession deletes one of the caller's own sessions, including the current one.
func (s *Service) RevokeSession(ctx context.Context, p *internal.Principal, sessionID string) error {
	found, err := s.sessions.DeleteForUser(ctx, p.UserID, sessionID)
	if err != nil {
		return err
	}
	if !found {
		return ErrSessionNotFound
	}
	logger.AuditFrom(ctx).Info("session revoked", "event", "session_revoked", "user_id", p.UserID, "session_id", sessionID, "current", sessionID == p.SessionID)
	return nil
}

func (s *Service) Me(ctx context.Context, p *internal.Principal) (*MeResponse, error) {
	user, active, err := s.dir.IsActive(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, internal.ErrUserInactive
	}
	roles, err := s.roles.ActiveRoles(ctx, p.UserID, nil)
	if err != nil {
		return nil, err
	}
	perms, err := s.roles.EffectivePermissions(ctx, p.UserID, p.CurrentRoleID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(perms))
	for _, perm := range perms {
		keys = append(keys, perm.Method+" "+perm.Path)
	}
	if roles == nil {
		roles = []*rbac.Role{}
	}
	return &MeResponse{User: user, Roles: roles, Permissions: keys, CurrentRoleID: p.CurrentRoleID, IsAdmin: p.IsAdmin}, nil
}

func (s *Service) Menus(ctx context.Context, p *internal.Principal) ([]*rbac.MenuNode, error) {
	return s.roles.EffectiveMenus(ctx, p.UserID, p.CurrentRoleID)
}

func (s *Service) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	info := &ServerInfo{Name: s.opts.ServerName, Version: internal.Version}
	if s.federate == nil {
		return info, nil
	}
	state, err := s.signer.SignState(ids.UUID(), stateTTL)
	if err != nil {
		return nil, internal.NewInternalError("failed to sign login state", err)
	}
	cfg := s.opts.OIDCLogin
	info.OIDC = OIDCServerInfo{
		Enabled:     true,
		Issuer:      cfg.Issuer,
		AuthURL:     s.federate.oauth.AuthCodeURL(state),
		ClientID:    cfg.ClientID,
		RedirectURL: cfg.RedirectURL,
		Scopes:      s.federate.oauth.Scopes,
	}
	return info, nil
}

// PurgeExpiredSessions deletes sessions past their expiry.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.sessions.DeleteExpired(ctx, s.now())
}

// SafeRedirect accepts a relative path or an absolute URL on the issuer's origin.
func SafeRedirect(raw, issuer string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.ContainsAny(raw, "\\\r\n") {
		return "", false
	}
	if strings.HasPrefix(raw, "/") {
		if strings.HasPrefix(raw, "//") {
			return "", false
		}
		return raw, true
	}
	target, err := url.Parse(raw)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return "", false
	}
	base, err := url.Parse(issuer)
	if err != nil || base.Host == "" {
		return "", false
	}
	if !strings.EqualFold(target.Scheme, base.Scheme) || !strings.EqualFold(target.Host, base.Host) {
		return "", false
	}
	return target.String(), true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
