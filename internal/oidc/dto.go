package oidc

import (
	"regexp"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/core/common/validation"
)

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{3,64}$`)

type ClientDTO struct {
	TenantID               int64    `json:"tenant_id"`
	ClientID               string   `json:"client_id"`
	Name                   string   `json:"name"`
	Description            string   `json:"description"`
	LogoURL                string   `json:"logo_url"`
	RedirectURIs           []string `json:"redirect_uris"`
	PostLogoutRedirectURIs []string `json:"post_logout_redirect_uris"`
	AllowedScopes          string   `json:"allowed_scopes"`
	GrantTypes             []string `json:"grant_types"`
	AccessTokenTTL         int      `json:"access_token_ttl"`
	RefreshTokenTTL        int      `json:"refresh_token_ttl"`
	ForceConsent           bool     `json:"force_consent"`
	Status                 string   `json:"status"`
}

func (d ClientDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("tenant_id", d.TenantID).Required()
	v.Field("client_id", d.ClientID).Matches(clientIDPattern, "must be 3-64 letters, digits, dot, dash or underscore")
	v.Field("name", d.Name).Required().MaxLength(128)
	v.Field("redirect_uris", d.RedirectURIs).Required().AbsoluteURLs()
	v.Field("post_logout_redirect_uris", d.PostLogoutRedirectURIs).AbsoluteURLs()
	v.Field("status", d.Status).OneOf(StatusEnabled, StatusDisabled)
	v.Field("allowed_scopes", d.AllowedScopes).Custom(func(value interface{}) *internal.ValidationError {
		raw, _ := value.(string)
		if raw != "" && !ParseScopes(raw).Has(ScopeOpenID) {
			return &internal.ValidationError{Field: "allowed_scopes", Message: "allowed_scopes must contain openid", Code: string(internal.ErrCodeValidationFailed)}
		}
		return nil
	})
	v.Field("grant_types", d.GrantTypes).Custom(func(value interface{}) *internal.ValidationError {
		list, _ := value.([]string)
		for _, g := range list {
			if g != GrantAuthorizationCode && g != GrantRefreshToken {
				return &internal.ValidationError{Field: "grant_types", Message: "unsupported grant type " + g, Code: string(internal.ErrCodeValidationFailed)}
			}
		}
		return nil
	})
	v.Field("access_token_ttl", d.AccessTokenTTL).Custom(nonNegative("access_token_ttl"))
	v.Field("refresh_token_ttl", d.RefreshTokenTTL).Custom(nonNegative("refresh_token_ttl"))
	return v.Validate()
}

func nonNegative(field string) func(interface{}) *internal.ValidationError {
	return func(value interface{}) *internal.ValidationError {
		if n, ok := value.(int); ok && n < 0 {
			return &internal.ValidationError{Field: field, Message: field + " must not be negative", Code: string(internal.ErrCodeValidationFailed)}
		}
		return nil
	}
}

// ClientWithSecret is returned by create and secret rotation; the plaintext secret is never stored.
type ClientWithSecret struct {
	*Client
	ClientSecret string `json:"client_secret"`
}

// AuthorizeRequest carries the authorization request parameters.
type AuthorizeRequest struct {
	ResponseType string `json:"response_type" url:"response_type,omitempty"`
	ClientID     string `json:"client_id" url:"client_id"`
	RedirectURI  string `json:"redirect_uri" url:"redirect_uri"`
	Scope        string `json:"scope" url:"scope,omitempty"`
	State        string `json:"state" url:"state,omitempty"`
	Nonce        string `json:"nonce" url:"nonce,omitempty"`
	Prompt       string `json:"prompt" url:"prompt,omitempty"`
}

type ConfirmRequest struct {
	AuthorizeRequest
	Approved bool `json:"approved"`
}

// AuthorizeResult is either a redirect back to the client or the data for the consent page.
type AuthorizeResult struct {
	RedirectURL     string   `json:"redirect_url,omitempty"`
	LoginRequired   bool     `json:"login_required"`
	LoginURL        string   `json:"login_url,omitempty"`
	ConsentRequired bool     `json:"consent_required"`
	ConsentURL      string   `json:"consent_url,omitempty"`
	ClientID        string   `json:"client_id"`
	ClientName      string   `json:"client_name"`
	LogoURL         string   `json:"logo_url,omitempty"`
	Scopes          []string `json:"scopes"`
	GrantedScopes   []string `json:"granted_scopes,omitempty"`
	State           string   `json:"state,omitempty"`
}

type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	RefreshToken string
	Scope        string
	ClientID     string
	ClientSecret string
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope"`
}

type EndSessionRequest struct {
	IDTokenHint           string
	ClientID              string
	PostLogoutRedirectURI string
	State                 string
}

type endSessionResponse struct {
	State string `url:"state,omitempty"`
}

type codeResponse struct {
	Code  string `url:"code"`
	State string `url:"state,omitempty"`
}

// Discovery is the OpenID provider metadata document.
type Discovery struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	EndSessionEndpoint                string   `json:"end_session_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ClaimsSupported                   []string `json:"claims_supported"`
}

// UserInfo is the claim set of the userinfo endpoint; optional claims depend on the token's scope.
type UserInfo struct {
	Subject           string `json:"sub"`
	TenantID          int64  `json:"tid"`
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	UpdatedAt         int64  `json:"updated_at,omitempty"`
	Email             string `json:"email,omitempty"`
	PhoneNumber       string `json:"phone_number,omitempty"`
}
