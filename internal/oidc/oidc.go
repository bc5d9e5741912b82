package oidc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/frahmantamala/ssoflow/internal"
	oidcmodel "github.com/frahmantamala/ssoflow/internal/core/datamodel/oidc"
	"github.com/google/go-querystring/query"
)

type (
	Client            = oidcmodel.Client
	AuthorizationCode = oidcmodel.AuthorizationCode
	AuthorizedApp     = oidcmodel.AuthorizedApp
	RefreshToken      = oidcmodel.RefreshToken
)

const (
	StatusEnabled  = "enabled"
	StatusDisabled = "disabled"

	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"

	ScopeOpenID  = "openid"
	ScopeProfile = "profile"
	ScopeEmail   = "email"
	ScopePhone   = "phone"

	DefaultAccessTokenTTL  = 3600
	DefaultRefreshTokenTTL = 30 * 24 * 3600
	DefaultScopes          = "openid profile email"

	// APIPrefix is where the router mounts the /sso endpoints.
	APIPrefix = "/api/v1"
)

// OAuth2 / OIDC error codes.
const (
	ErrInvalidRequest          = "invalid_request"
	ErrInvalidClient           = "invalid_client"
	ErrInvalidRedirectURI      = "invalid_redirect_uri"
	ErrInvalidScope            = "invalid_scope"
	ErrInvalidGrant            = "invalid_grant"
	ErrUnauthorizedClient      = "unauthorized_client"
	ErrUnsupportedGrantType    = "unsupported_grant_type"
	ErrUnsupportedResponseType = "unsupported_response_type"
	ErrAccessDenied            = "access_denied"
	ErrInvalidToken            = "invalid_token"
	ErrServerError             = "server_error"
)

var (
	ErrClientNotFound        = internal.NewNotFoundError("Client not found", internal.ErrCodeNotFound)
	ErrAuthorizedAppNotFound = internal.NewNotFoundError("Authorized application not found", internal.ErrCodeNotFound)
	ErrDuplicate             = internal.NewConflictError("A client with the same client_id already exists", internal.ErrCodeDuplicate)
	ErrTenantNotFound        = internal.NewValidationFieldError("tenant_id", "tenant does not exist", internal.ErrCodeValidationFailed)

	// repository outcomes of code consumption
	ErrCodeNotFound = internal.NewNotFoundError("Authorization code not found", internal.ErrCodeNotFound)
	ErrCodeExpired  = internal.NewValidationError("Authorization code expired", internal.ErrCodeTokenExpired)
	ErrCodeReplayed = internal.NewConflictError("Authorization code already used", internal.ErrCodeDuplicate)
	ErrCodeClient   = internal.NewValidationError("Authorization code was issued to another client", internal.ErrCodeInvalidToken)

	ErrRefreshTokenNotFound = internal.NewNotFoundError("Refresh token not found", internal.ErrCodeNotFound)
	ErrRefreshTokenRevoked  = internal.NewConflictError("Refresh token already used or revoked", internal.ErrCodeInvalidToken)
)

// ProtocolError is an OAuth2 error. When RedirectURI is set the error is delivered to the client
// through a redirect, otherwise it is rendered as a JSON body.
type ProtocolError struct {
	Code        string `json:"error" url:"error"`
	Description string `json:"error_description,omitempty" url:"error_description,omitempty"`
	State       string `json:"state,omitempty" url:"state,omitempty"`
	RedirectURI string `json:"-" url:"-"`
	Status      int    `json:"-" url:"-"`
}

func (e *ProtocolError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// HTTPStatus defaults to 400; invalid_client and invalid_token are 401.
func (e *ProtocolError) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Code {
	case ErrInvalidClient, ErrInvalidToken:
		return http.StatusUnauthorized
	case ErrServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// RedirectURL is empty when the error must not be sent to the client's redirect_uri.
func (e *ProtocolError) RedirectURL() string {
	if e.RedirectURI == "" {
		return ""
	}
	u, err := withQuery(e.RedirectURI, e)
	if err != nil {
		return ""
	}
	return u
}

func protocolError(code, description string) *ProtocolError {
	return &ProtocolError{Code: code, Description: description}
}

func redirectError(code, description, redirectURI, state string) *ProtocolError {
	return &ProtocolError{Code: code, Description: description, RedirectURI: redirectURI, State: state}
}

// withQuery appends the url-tagged fields of v to raw, keeping its existing query.
func withQuery(raw string, v interface{}) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse redirect uri: %w", err)
	}
	values, err := query.Values(v)
	if err != nil {
		return "", fmt.Errorf("encode redirect query: %w", err)
	}
	q := u.Query()
	for k, vs := range values {
		for _, val := range vs {
			q.Add(k, val)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Scopes is a space delimited scope set.
type Scopes []string

func ParseScopes(raw string) Scopes {
	seen := make(map[string]bool)
	var out Scopes
	for _, s := range strings.Fields(raw) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func (s Scopes) String() string { return strings.Join(s, " ") }

func (s Scopes) Has(scope string) bool {
	for _, v := range s {
		if v == scope {
			return true
		}
	}
	return false
}

// SubsetOf reports whether every scope of s is in other.
func (s Scopes) SubsetOf(other Scopes) bool {
	for _, v := range s {
		if !other.Has(v) {
			return false
		}
	}
	return true
}

// Union keeps the order of s and appends new scopes of other.
func (s Scopes) Union(other Scopes) Scopes {
	out := append(Scopes{}, s...)
	for _, v := range other {
		if !out.Has(v) {
			out = append(out, v)
		}
	}
	return out
}

type ClientFilter struct {
	internal.PageRequest
	TenantID int64
	Status   string
}

// AuthorizedAppView is a consent record joined with its client for the account pages.
type AuthorizedAppView struct {
	ClientID     string    `json:"client_id"`
	ClientName   string    `json:"client_name"`
	LogoURL      string    `json:"logo_url"`
	Scope        string    `json:"scope"`
	AuthorizedAt time.Time `json:"authorized_at"`
}

// Repository persists clients, codes, consents and refresh tokens.
type Repository interface {
	CreateClient(ctx context.Context, c *Client) error
	UpdateClient(ctx context.Context, c *Client) error
	UpdateClientSecret(ctx context.Context, id int64, secretHash string) error
	GetClient(ctx context.Context, id int64) (*Client, error)
	GetClientByClientID(ctx context.Context, clientID string) (*Client, error)
	ListClients(ctx context.Context, f ClientFilter) ([]*Client, int64, error)
	DeleteClient(ctx context.Context, id int64) error

	CreateCode(ctx context.Context, code *AuthorizationCode) error
	// ConsumeCode marks the code used if it belongs to clientID and is unused and unexpired. A code
	// presented by another client is left untouched (ErrCodeClient). On ErrCodeReplayed the stored
	// code is returned as well.
	ConsumeCode(ctx context.Context, codeHash, clientID string, now time.Time) (*AuthorizationCode, error)
	DeleteExpiredCodes(ctx context.Context, before time.Time) (int64, error)

	GetAuthorizedApp(ctx context.Context, userID int64, clientID string) (*AuthorizedApp, error)
	SaveAuthorizedApp(ctx context.Context, app *AuthorizedApp) error
	ListAuthorizedApps(ctx context.Context, userID int64) ([]*AuthorizedAppView, error)
	// RevokeAuthorizedApp deletes the consent and revokes its refresh tokens in one transaction.
	RevokeAuthorizedApp(ctx context.Context, userID int64, clientID string, now time.Time) (bool, error)

	CreateRefreshToken(ctx context.Context, t *RefreshToken) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error)
	// RotateRefreshToken revokes oldID if still active and stores next. ErrRefreshTokenRevoked when it lost the race.
	RotateRefreshToken(ctx context.Context, oldID int64, next *RefreshToken, now time.Time) error
	RevokeRefreshTokensByCode(ctx context.Context, codeHash string, now time.Time) (int64, error)
}
