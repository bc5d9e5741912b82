package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/frahmantamala/ssoflow/internal"
	identitymodel "github.com/frahmantamala/ssoflow/internal/core/datamodel/identity"
	"github.com/frahmantamala/ssoflow/internal/identity"
	"github.com/frahmantamala/ssoflow/internal/rbac"
	"github.com/golang-jwt/jwt/v5"
)

type Session = identitymodel.Session

var ErrSessionNotFound = internal.NewNotFoundError("Session not found", internal.ErrCodeNotFound)

// SessionRepository persists login sessions.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteForUser(ctx context.Context, userID int64, id string) (bool, error)
	ListByUser(ctx context.Context, userID int64) ([]*Session, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Directory is the slice of the identity store used for logins.
type Directory interface {
	Authenticate(ctx context.Context, tenantID int64, username, password string) (*identity.User, error)
	IsActive(ctx context.Context, userID int64) (*identity.User, bool, error)
	FindByUsername(ctx context.Context, tenantID int64, username string) (*identity.User, error)
}

// RoleResolver is the slice of the RBAC resolver used to build principals and menus.
type RoleResolver interface {
	ActiveRoles(ctx context.Context, userID int64, roleFilter *int64) ([]*rbac.Role, error)
	EffectivePermissions(ctx context.Context, userID int64, roleFilter *int64) ([]*rbac.Permission, error)
	EffectiveMenus(ctx context.Context, userID int64, roleFilter *int64) ([]*rbac.MenuNode, error)
}

// Claims of the local bearer token. The token is only as valid as the session it names.
type Claims struct {
	SessionID string `json:"sid"`
	UserID    int64  `json:"uid"`
	TenantID  int64  `json:"tid"`
	jwt.RegisteredClaims
}

// TokenSigner signs and verifies HS256 session tokens.
type TokenSigner struct {
	secret []byte
	issuer string
}

func NewTokenSigner(secret, issuer string) *TokenSigner {
	return &TokenSigner{secret: []byte(secret), issuer: issuer}
}

func (t *TokenSigner) Sign(s *Session) (string, error) {
	claims := &Claims{
		SessionID: s.ID,
		UserID:    s.UserID,
		TenantID:  s.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   fmt.Sprintf("%d", s.UserID),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

func (t *TokenSigner) Parse(raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, internal.ErrTokenExpired
		}
		return nil, internal.ErrInvalidToken.WithCause(err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return nil, internal.ErrInvalidToken
	}
	return claims, nil
}

// SignState issues the short lived state parameter of the local OIDC login round trip.
func (t *TokenSigner) SignState(nonce string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        nonce,
		Issuer:    t.issuer,
		Audience:  jwt.ClaimStrings{"oidc-login"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

func (t *TokenSigner) VerifyState(raw string) error {
	_, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithAudience("oidc-login"), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return err
}
