package internal

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Version is stamped at build time with -ldflags "-X github.com/frahmantamala/ssoflow/internal.Version=...".
var Version = "dev"

type Config struct {
	Env           string              `mapstructure:"env"`
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security" validate:"required"`
	SSO           SSOConfig           `mapstructure:"sso"`
	OIDCLogin     OIDCLoginConfig     `mapstructure:"oidc_login"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Notify        NotifyConfig        `mapstructure:"notify"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Name              string        `mapstructure:"name"`
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source"`
}

// SecurityConfig holds signing material. JWTPrivateKey/JWTPublicKey are base64 encoded PEM and sign
// ID tokens and OIDC access tokens; SessionSecret signs the local bearer tokens.
type SecurityConfig struct {
	JWTPrivateKey        string        `mapstructure:"jwt_private_key"`
	JWTPublicKey         string        `mapstructure:"jwt_public_key"`
	AccessTokenDuration  time.Duration `mapstructure:"access_token_duration" validate:"required,min=1m,max=1h"`
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration" validate:"required,min=1h"`
	BCryptCost           int           `mapstructure:"bcrypt_cost" validate:"required,min=10,max=15"`
	SessionSecret        string        `mapstructure:"session_secret" validate:"required,min=32"`
}

type SSOConfig struct {
	Issuer          string        `mapstructure:"issuer"`
	CodeTTL         time.Duration `mapstructure:"code_ttl"`
	DefaultTenantID int64         `mapstructure:"default_tenant_id"`
	LoginPageURL    string        `mapstructure:"login_page_url"`
	ConsentPageURL  string        `mapstructure:"consent_page_url"`
}

// OIDCLoginConfig configures this application as a relying party of an external (or its own) provider.
type OIDCLoginConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Issuer       string   `mapstructure:"issuer"`
	AuthURL      string   `mapstructure:"auth_url"`
	TokenURL     string   `mapstructure:"token_url"`
	UserInfoURL  string   `mapstructure:"userinfo_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`
}

type StorageConfig struct {
	LocalDir      string `mapstructure:"local_dir"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	MaxUploadSize int64  `mapstructure:"max_upload_size"`
}

type NotifyConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxWorkers  int           `mapstructure:"max_workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	MaxRetries  uint          `mapstructure:"max_retries"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	FrontendURL string        `mapstructure:"frontend_url"`
}

type RateLimitConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	PerSecond int  `mapstructure:"per_second"`
	Burst     int  `mapstructure:"burst"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// ----------------- ENV LOADING -----------------

// LoadConfigFromEnv builds the configuration for container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Env: getEnv("APP_ENV", "production"),
		Server: ServerConfig{
			Name:              getEnv("SERVER_NAME", "ssoflow"),
			Port:              getEnvAsInt("SERVER_PORT", 8080),
			BaseURL:           getEnv("SERVER_BASE_URL", "http://localhost:8080"),
			AllowedOrigins:    getEnv("SERVER_ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("SERVER_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Security: SecurityConfig{
			JWTPrivateKey:        getEnv("JWT_PRIVATE_KEY", ""),
			JWTPublicKey:         getEnv("JWT_PUBLIC_KEY", ""),
			AccessTokenDuration:  getEnvAsDuration("ACCESS_TOKEN_DURATION", time.Hour),
			RefreshTokenDuration: getEnvAsDuration("REFRESH_TOKEN_DURATION", 30*24*time.Hour),
			BCryptCost:           getEnvAsInt("BCRYPT_COST", 12),
			SessionSecret:        getEnv("SESSION_SECRET", ""),
		},
		SSO: SSOConfig{
			Issuer:          getEnv("SSO_ISSUER", ""),
			CodeTTL:         getEnvAsDuration("SSO_CODE_TTL", 5*time.Minute),
			DefaultTenantID: int64(getEnvAsInt("SSO_DEFAULT_TENANT_ID", 1)),
			LoginPageURL:    getEnv("SSO_LOGIN_PAGE_URL", "/sso/login"),
			ConsentPageURL:  getEnv("SSO_CONSENT_PAGE_URL", "/sso/authorize"),
		},
		OIDCLogin: OIDCLoginConfig{
			Enabled:      getEnv("OIDC_LOGIN_ENABLED", "false") == "true",
			Issuer:       getEnv("OIDC_LOGIN_ISSUER", ""),
			AuthURL:      getEnv("OIDC_LOGIN_AUTH_URL", ""),
			TokenURL:     getEnv("OIDC_LOGIN_TOKEN_URL", ""),
			UserInfoURL:  getEnv("OIDC_LOGIN_USERINFO_URL", ""),
			ClientID:     getEnv("OIDC_LOGIN_CLIENT_ID", ""),
			ClientSecret: getEnv("OIDC_LOGIN_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("OIDC_LOGIN_REDIRECT_URL", ""),
			Scopes:       strings.Fields(getEnv("OIDC_LOGIN_SCOPES", "openid profile email")),
		},
		Storage: StorageConfig{
			LocalDir:      getEnv("STORAGE_LOCAL_DIR", "./data/blobs"),
			PublicBaseURL: getEnv("STORAGE_PUBLIC_BASE_URL", ""),
			MaxUploadSize: int64(getEnvAsInt("STORAGE_MAX_UPLOAD_SIZE", 20<<20)),
		},
		Notify: NotifyConfig{
			Enabled:     getEnv("NOTIFY_ENABLED", "true") == "true",
			MaxWorkers:  getEnvAsInt("NOTIFY_MAX_WORKERS", 4),
			QueueSize:   getEnvAsInt("NOTIFY_QUEUE_SIZE", 256),
			MaxRetries:  uint(getEnvAsInt("NOTIFY_MAX_RETRIES", 3)),
			SendTimeout: getEnvAsDuration("NOTIFY_SEND_TIMEOUT", 10*time.Second),
			FrontendURL: getEnv("NOTIFY_FRONTEND_URL", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:   getEnv("RATE_LIMIT_ENABLED", "true") == "true",
			PerSecond: getEnvAsInt("RATE_LIMIT_PER_SECOND", 5),
			Burst:     getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: getEnv("METRICS_ENABLED", "true") == "true",
				Path:    getEnv("METRICS_PATH", "/metrics"),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values that have a sensible default.
func (c *Config) ApplyDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "ssoflow"
	}
	if c.SSO.Issuer == "" {
		c.SSO.Issuer = strings.TrimRight(c.Server.BaseURL, "/")
	}
	if c.SSO.CodeTTL <= 0 {
		c.SSO.CodeTTL = 5 * time.Minute
	}
	if c.SSO.DefaultTenantID <= 0 {
		c.SSO.DefaultTenantID = 1
	}
	if c.Security.AccessTokenDuration <= 0 {
		c.Security.AccessTokenDuration = time.Hour
	}
	if c.Security.RefreshTokenDuration <= 0 {
		c.Security.RefreshTokenDuration = 30 * 24 * time.Hour
	}
	if c.Security.BCryptCost == 0 {
		c.Security.BCryptCost = 12
	}
	if c.Storage.MaxUploadSize <= 0 {
		c.Storage.MaxUploadSize = 20 << 20
	}
	if c.Observability.Metrics.Path == "" {
		c.Observability.Metrics.Path = "/metrics"
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.SSO.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("sso config: %v", err))
	}

	if err := c.OIDCLogin.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("oidc_login config: %v", err))
	}

	if err := c.Notify.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("notify config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *SecurityConfig) Validate() error {
	if c.JWTPrivateKey != "" {
		if _, err := c.GetPrivateKey(); err != nil {
			return fmt.Errorf("invalid JWT private key: %w", err)
		}
	}
	if c.JWTPublicKey != "" {
		if _, err := c.GetPublicKey(); err != nil {
			return fmt.Errorf("invalid JWT public key: %w", err)
		}
	}
	if len(c.SessionSecret) < 32 {
		return errors.New("session secret must be at least 32 characters")
	}
	return nil
}

// GetPrivateKey accepts PKCS#1 and PKCS#8 encoded RSA keys.
func (c *SecurityConfig) GetPrivateKey() (*rsa.PrivateKey, error) {
	keyData, err := base64.StdEncoding.DecodeString(c.JWTPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, errors.New("failed to parse PEM block")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA private key")
	}
	return key, nil
}

func (c *SecurityConfig) GetPublicKey() (*rsa.PublicKey, error) {
	keyData, err := base64.StdEncoding.DecodeString(c.JWTPublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, errors.New("failed to parse PEM block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return rsaPub, nil
}

func (c *SSOConfig) Validate() error {
	if c.Issuer != "" {
		u, err := url.Parse(c.Issuer)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("issuer must be an absolute URL: %q", c.Issuer)
		}
	}
	if c.CodeTTL != 0 && (c.CodeTTL < time.Minute || c.CodeTTL > 10*time.Minute) {
		return errors.New("code_ttl must be between 1m and 10m")
	}
	return nil
}

func (c *OIDCLoginConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if c.AuthURL == "" {
		missing = append(missing, "auth_url")
	}
	if c.TokenURL == "" {
		missing = append(missing, "token_url")
	}
	if c.UserInfoURL == "" {
		missing = append(missing, "userinfo_url")
	}
	if c.RedirectURL == "" {
		missing = append(missing, "redirect_url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *NotifyConfig) Validate() error {
	if c.MaxWorkers < 0 || c.QueueSize < 0 {
		return errors.New("max_workers and queue_size must not be negative")
	}
	return nil
}
