package auth

import (
	"time"

	"github.com/frahmantamala/ssoflow/internal/core/common/validation"
	"github.com/frahmantamala/ssoflow/internal/identity"
	"github.com/frahmantamala/ssoflow/internal/rbac"
)

// LoginDTO is the body of both login endpoints. TenantID falls back to the configured default tenant.
type LoginDTO struct {
	TenantID int64  `json:"tenant_id"`
	Username string `json:"username"`
	Password string `json:"password"`
	Redirect string `json:"redirect,omitempty"`
}

func (d LoginDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("username", d.Username).Required().MaxLength(64)
	v.Field("password", d.Password).Required().MaxLength(72)
	v.Field("redirect", d.Redirect).MaxLength(2048)
	return v.Validate()
}

// ClientMeta describes where a login came from.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

type LoginResult struct {
	Token       string         `json:"token"`
	ExpiresAt   time.Time      `json:"expires_at"`
	User        *identity.User `json:"user"`
	RedirectURL string         `json:"redirect_url,omitempty"`
	IDToken     string         `json:"id_token,omitempty"`
}

type MeResponse struct {
	User          *identity.User `json:"user"`
	Roles         []*rbac.Role   `json:"roles"`
	Permissions   []string       `json:"permissions"`
	CurrentRoleID *int64         `json:"current_role_id,omitempty"`
	IsAdmin       bool           `json:"is_admin"`
}

type SessionView struct {
	*Session
	Current bool `json:"current"`
}

type ServerInfo struct {
	Name    string         `json:"name"`
	Version string         `json:"version"`
	OIDC    OIDCServerInfo `json:"oidc"`
}

type OIDCServerInfo struct {
	Enabled     bool     `json:"enabled"`
	Issuer      string   `json:"issuer,omitempty"`
	AuthURL     string   `json:"auth_url,omitempty"`
	ClientID    string   `json:"client_id,omitempty"`
	RedirectURL string   `json:"redirect_url,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`
}
