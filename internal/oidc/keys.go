package oidc

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/golang-jwt/jwt/v5"
)

const (
	keyBits         = 2048
	accessTokenType = "at+jwt"
)

// AccessClaims are carried by RS256 access tokens.
type AccessClaims struct {
	Scope     string `json:"scope"`
	TenantID  int64  `json:"tid"`
	SessionID string `json:"sid,omitempty"`
	ClientID  string `json:"client_id"`
	jwt.RegisteredClaims
}

type IDClaims struct {
	AuthTime          int64  `json:"auth_time"`
	Nonce             string `json:"nonce,omitempty"`
	TenantID          int64  `json:"tid"`
	SessionID         string `json:"sid,omitempty"`
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Email             string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type JWKS struct {
	Keys []JWK `json:"keys"`
}

// Signer issues and verifies the provider's RS256 tokens.
type Signer struct {
	key    *rsa.PrivateKey
	kid    string
	issuer string
}

func NewSigner(key *rsa.PrivateKey, issuer string) *Signer {
	return &Signer{key: key, kid: Thumbprint(&key.PublicKey), issuer: issuer}
}

// GenerateKey creates a fresh RSA signing key.
func GenerateKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, keyBits)
}

// LoadKey reads the configured private key or generates an ephemeral one. generated reports the latter;
// tokens signed with an ephemeral key do not survive a restart.
func LoadKey(sec internal.SecurityConfig) (key *rsa.PrivateKey, generated bool, err error) {
	if sec.JWTPrivateKey != "" {
		key, err = sec.GetPrivateKey()
		return key, false, err
	}
	key, err = GenerateKey()
	return key, true, err
}

// EncodeKeyPair returns base64 encoded PEM blocks in the format the security config expects.
func EncodeKeyPair(key *rsa.PrivateKey) (private, public string, err error) {
	privDER := x509.MarshalPKCS1PrivateKey(key)
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", err
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privDER})
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return base64.StdEncoding.EncodeToString(privPEM), base64.StdEncoding.EncodeToString(pubPEM), nil
}

// Thumbprint is the RFC 7638 SHA-256 JWK thumbprint of an RSA public key.
func Thumbprint(pub *rsa.PublicKey) string {
	n := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
	e := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())
	canonical := fmt.Sprintf(`{"e":"%s","kty":"RSA","n":"%s"}`, e, n)
	sum := sha256.Sum256([]byte(canonical))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func (s *Signer) KeyID() string  { return s.kid }
func (s *Signer) Issuer() string { return s.issuer }

func (s *Signer) JWKS() JWKS {
	pub := s.key.PublicKey
	return JWKS{Keys: []JWK{{
		Kty: "RSA",
		Use: "sig",
		Alg: jwt.SigningMethodRS256.Alg(),
		Kid: s.kid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
}

func (s *Signer) SignAccessToken(c *AccessClaims) (string, error) {
	c.Issuer = s.issuer
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, c)
	t.Header["kid"] = s.kid
	t.Header["typ"] = accessTokenType
	return t.SignedString(s.key)
}

func (s *Signer) SignIDToken(c *IDClaims) (string, error) {
	c.Issuer = s.issuer
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, c)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

func (s *Signer) keyFunc(t *jwt.Token) (interface{}, error) {
	if kid, _ := t.Header["kid"].(string); kid != "" && kid != s.kid {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return &s.key.PublicKey, nil
}

// ParseAccessToken verifies signature, issuer, expiry and the at+jwt type header.
func (s *Signer) ParseAccessToken(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	t, err := jwt.ParseWithClaims(raw, claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if typ, _ := t.Header["typ"].(string); typ != accessTokenType {
		return nil, errors.New("not an access token")
	}
	return claims, nil
}

// ParseIDTokenHint verifies signature and issuer of an ID token but accepts it after expiry, as
// end-session requests commonly present old ID tokens.
func (s *Signer) ParseIDTokenHint(raw string) (*IDClaims, error) {
	claims := &IDClaims{}
	t, err := jwt.ParseWithClaims(raw, claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, err
	}
	if typ, _ := t.Header["typ"].(string); typ == accessTokenType {
		return nil, errors.New("access token given as id_token_hint")
	}
	if claims.Issuer != s.issuer {
		return nil, fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	return claims, nil
}

func numericDate(t time.Time) *jwt.NumericDate { return jwt.NewNumericDate(t) }
