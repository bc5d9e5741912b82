// Package sysconfig stores runtime settings editable by administrators as JSON documents keyed by name.
package sysconfig

import (
	"context"
	"regexp"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/core/common/validation"
	"github.com/frahmantamala/ssoflow/internal/core/datamodel/workflow"
)

type Entry = workflow.SystemConfig

const (
	KeyOIDC    = "oidc"
	KeyEmail   = "email"
	KeyStorage = "storage"
	KeyNotify  = "notify"

	// Mask replaces secret values in responses. Writing it back keeps the stored secret.
	Mask = "******"
)

var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_.-]{0,63}$`)

var (
	ErrNotFound   = internal.NewNotFoundError("System config not found", internal.ErrCodeNotFound)
	ErrInvalidKey = internal.NewValidationFieldError("key", "key must be lowercase letters, digits, '_', '.' or '-'", internal.ErrCodeValidationFailed)
)

type Repository interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, e *Entry) error
	List(ctx context.Context) ([]*Entry, error)
}

// OIDCSettings overrides the identity provider defaults at runtime. Zero values keep the file config.
type OIDCSettings struct {
	AccessTokenTTL  int    `json:"access_token_ttl"`
	IDTokenTTL      int    `json:"id_token_ttl"`
	RefreshTokenTTL int    `json:"refresh_token_ttl"`
	CodeTTL         int    `json:"code_ttl"`
	ConsentPageURL  string `json:"consent_page_url"`
	LoginPageURL    string `json:"login_page_url"`
}

func (s *OIDCSettings) Validate() error {
	v := validation.NewValidator()
	v.Field("access_token_ttl", s.AccessTokenTTL).Between(0, 86400)
	v.Field("id_token_ttl", s.IDTokenTTL).Between(0, 86400)
	v.Field("refresh_token_ttl", s.RefreshTokenTTL).Between(0, 90*86400)
	v.Field("code_ttl", s.CodeTTL).Between(0, 600)
	v.Field("consent_page_url", optionalURL(s.ConsentPageURL)).AbsoluteURLs()
	v.Field("login_page_url", optionalURL(s.LoginPageURL)).AbsoluteURLs()
	return v.Validate()
}

type EmailSettings struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
	FromName string `json:"from_name"`
}

func (s *EmailSettings) Validate() error {
	v := validation.NewValidator()
	v.Field("port", s.Port).Between(0, 65535)
	v.Field("from", s.From).MaxLength(255)
	if s.Enabled {
		v.Field("host", s.Host).Required()
		v.Field("port", s.Port).Required()
		v.Field("from", s.From).Required()
	}
	return v.Validate()
}

type StorageSettings struct {
	Provider      string `json:"provider"`
	LocalDir      string `json:"local_dir"`
	PublicBaseURL string `json:"public_base_url"`
	MaxUploadSize int64  `json:"max_upload_size"`
}

func (s *StorageSettings) Validate() error {
	v := validation.NewValidator()
	v.Field("provider", s.Provider).OneOf("local")
	v.Field("public_base_url", optionalURL(s.PublicBaseURL)).AbsoluteURLs()
	v.Field("max_upload_size", s.MaxUploadSize).Custom(func(value interface{}) *internal.ValidationError {
		if n, _ := value.(int64); n < 0 {
			return &internal.ValidationError{Field: "max_upload_size", Message: "max_upload_size must not be negative", Code: string(internal.ErrCodeValidationFailed)}
		}
		return nil
	})
	return v.Validate()
}

type WebhookSettings struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
	Secret     string `json:"secret"`
}

type NotifySettings struct {
	Channels []string        `json:"channels"`
	DingTalk WebhookSettings `json:"dingtalk"`
	WeChat   WebhookSettings `json:"wechat"`
}

func (s *NotifySettings) Validate() error {
	v := validation.NewValidator()
	for _, c := range s.Channels {
		v.Field("channels", c).OneOf("email", "dingtalk", "wechat", "log")
	}
	v.Field("dingtalk.webhook_url", optionalURL(s.DingTalk.WebhookURL)).AbsoluteURLs()
	v.Field("wechat.webhook_url", optionalURL(s.WeChat.WebhookURL)).AbsoluteURLs()
	if s.DingTalk.Enabled {
		v.Field("dingtalk.webhook_url", s.DingTalk.WebhookURL).Required()
	}
	if s.WeChat.Enabled {
		v.Field("wechat.webhook_url", s.WeChat.WebhookURL).Required()
	}
	return v.Validate()
}

func optionalURL(raw string) []string {
	if raw == "" {
		return nil
	}
	return []string{raw}
}
