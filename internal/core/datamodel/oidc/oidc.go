package oidc

import (
	"time"

	"gorm.io/datatypes"
)

type Client struct {
	ID                     int64                       `gorm:"primaryKey" json:"id"`
	TenantID               int64                       `gorm:"column:tenant_id;not null;index" json:"tenant_id"`
	ClientID               string                      `gorm:"column:client_id;size:64;not null;uniqueIndex" json:"client_id"`
	SecretHash             string                      `gorm:"column:client_secret_hash;not null" json:"-"`
	Name                   string                      `gorm:"column:name;size:128;not null" json:"name"`
	Description            string                      `gorm:"column:description" json:"description"`
	LogoURL                string                      `gorm:"column:logo_url" json:"logo_url"`
	RedirectURIs           datatypes.JSONSlice[string] `gorm:"column:redirect_uris" json:"redirect_uris"`
	PostLogoutRedirectURIs datatypes.JSONSlice[string] `gorm:"column:post_logout_redirect_uris" json:"post_logout_redirect_uris"`
	AllowedScopes          string                      `gorm:"column:allowed_scopes;not null" json:"allowed_scopes"`
	GrantTypes             datatypes.JSONSlice[string] `gorm:"column:grant_types" json:"grant_types"`
	AccessTokenTTL         int                         `gorm:"column:access_token_ttl;not null" json:"access_token_ttl"`
	RefreshTokenTTL        int                         `gorm:"column:refresh_token_ttl;not null" json:"refresh_token_ttl"`
	ForceConsent           bool                        `gorm:"column:force_consent;not null;default:false" json:"force_consent"`
	Status                 string                      `gorm:"column:status;size:16;not null;default:enabled" json:"status"`
	CreatedAt              time.Time                   `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time                   `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Client) TableName() string { return "oidc_clients" }

// AuthorizationCode is stored under the SHA-256 of the code handed to the client.
type AuthorizationCode struct {
	CodeHash    string     `gorm:"column:code_hash;primaryKey;size:64"`
	ClientID    string     `gorm:"column:client_id;size:64;not null"`
	UserID      int64      `gorm:"column:user_id;not null"`
	TenantID    int64      `gorm:"column:tenant_id;not null"`
	SessionID   string     `gorm:"column:session_id;size:36"`
	RedirectURI string     `gorm:"column:redirect_uri;not null"`
	Scope       string     `gorm:"column:scope;not null"`
	Nonce       string     `gorm:"column:nonce"`
	State       string     `gorm:"column:state"`
	AuthTime    time.Time  `gorm:"column:auth_time"`
	ExpiresAt   time.Time  `gorm:"column:expires_at;not null"`
	ConsumedAt  *time.Time `gorm:"column:consumed_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (AuthorizationCode) TableName() string { return "oidc_authorization_codes" }

type AuthorizedApp struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	UserID       int64     `gorm:"column:user_id;not null;uniqueIndex:idx_authorized_apps_user_client" json:"user_id"`
	ClientID     string    `gorm:"column:client_id;size:64;not null;uniqueIndex:idx_authorized_apps_user_client" json:"client_id"`
	Scope        string    `gorm:"column:scope;not null" json:"scope"`
	AuthorizedAt time.Time `gorm:"column:authorized_at;not null" json:"authorized_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (AuthorizedApp) TableName() string { return "oidc_authorized_apps" }

type RefreshToken struct {
	ID        int64      `gorm:"primaryKey"`
	TokenHash string     `gorm:"column:token_hash;size:64;not null;uniqueIndex"`
	ClientID  string     `gorm:"column:client_id;size:64;not null;index:idx_refresh_user_client"`
	UserID    int64      `gorm:"column:user_id;not null;index:idx_refresh_user_client"`
	TenantID  int64      `gorm:"column:tenant_id;not null"`
	SessionID string     `gorm:"column:session_id;size:36"`
	Scope     string     `gorm:"column:scope;not null"`
	CodeHash  string     `gorm:"column:code_hash;size:64;index"`
	AuthTime  time.Time  `gorm:"column:auth_time"`
	ExpiresAt time.Time  `gorm:"column:expires_at;not null"`
	RevokedAt *time.Time `gorm:"column:revoked_at"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (RefreshToken) TableName() string { return "oidc_refresh_tokens" }
