package oidc

import (
	"context"
	"errors"
	"strings"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/identity"
	"github.com/frahmantamala/ssoflow/pkg/hash"
	"github.com/frahmantamala/ssoflow/pkg/ids"
	"github.com/frahmantamala/ssoflow/pkg/logger"
)

const (
	generatedClientIDBytes = 12
	clientSecretBytes      = 24
)

// CreateClient registers a relying party. The generated secret is only ever returned here and by RotateSecret.
func (s *Service) CreateClient(ctx context.Context, dto ClientDTO) (*ClientWithSecret, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.dir.GetTenant(ctx, dto.TenantID); err != nil {
		if errors.Is(err, identity.ErrTenantNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	clientID := strings.TrimSpace(dto.ClientID)
	if clientID == "" {
		generated, err := ids.Token(generatedClientIDBytes)
		if err != nil {
			return nil, internal.NewInternalError("failed to generate client id", err)
		}
		clientID = generated
	}
	secret, secretHash, err := newClientSecret()
	if err != nil {
		return nil, err
	}
	c := &Client{TenantID: dto.TenantID, ClientID: clientID, SecretHash: secretHash}
	applyClientDTO(c, dto)
	if err := s.repo.CreateClient(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("oidc client created", "client_id", c.ClientID, "tenant_id", c.TenantID)
	return &ClientWithSecret{Client: c, ClientSecret: secret}, nil
}

// UpdateClient changes everything but the tenant, the client_id and the secret.
func (s *Service) UpdateClient(ctx context.Context, id int64, dto ClientDTO) (*Client, error) {
	c, err := s.repo.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	if dto.TenantID == 0 {
		dto.TenantID = c.TenantID
	}
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	if dto.TenantID != c.TenantID {
		return nil, internal.NewValidationFieldError("tenant_id", "tenant of a client cannot be changed", internal.ErrCodeValidationFailed)
	}
	if dto.ClientID != "" && dto.ClientID != c.ClientID {
		return nil, internal.NewValidationFieldError("client_id", "client_id cannot be changed", internal.ErrCodeValidationFailed)
	}
	applyClientDTO(c, dto)
	if err := s.repo.UpdateClient(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("oidc client updated", "client_id", c.ClientID)
	return c, nil
}

func (s *Service) GetClient(ctx context.Context, id int64) (*Client, error) {
	return s.repo.GetClient(ctx, id)
}

func (s *Service) ListClients(ctx context.Context, f ClientFilter) ([]*Client, int64, error) {
	return s.repo.ListClients(ctx, f)
}

// DeleteClient removes the client together with its consents, codes and refresh tokens.
func (s *Service) DeleteClient(ctx context.Context, id int64) error {
	c, err := s.repo.GetClient(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteClient(ctx, id); err != nil {
		return err
	}
	logger.AuditFrom(ctx).Info("oidc client deleted", "event", "client_deleted", "client_id", c.ClientID)
	return nil
}

func (s *Service) RotateSecret(ctx context.Context, id int64) (*ClientWithSecret, error) {
	c, err := s.repo.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	secret, secretHash, err := newClientSecret()
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateClientSecret(ctx, id, secretHash); err != nil {
		return nil, err
	}
	c.SecretHash = secretHash
	logger.AuditFrom(ctx).Info("oidc client secret rotated", "event", "client_secret_rotated", "client_id", c.ClientID)
	return &ClientWithSecret{Client: c, ClientSecret: secret}, nil
}

func newClientSecret() (secret, secretHash string, err error) {
	secret, err = ids.Token(clientSecretBytes)
	if err != nil {
		return "", "", internal.NewInternalError("failed to generate client secret", err)
	}
	secretHash, err = hash.Password(secret)
	if err != nil {
		return "", "", internal.NewInternalError("failed to hash client secret", err)
	}
	return secret, secretHash, nil
}

func applyClientDTO(c *Client, dto ClientDTO) {
	c.Name = strings.TrimSpace(dto.Name)
	c.Description = dto.Description
	c.LogoURL = dto.LogoURL
	c.RedirectURIs = dto.RedirectURIs
	c.PostLogoutRedirectURIs = dto.PostLogoutRedirectURIs
	if c.PostLogoutRedirectURIs == nil {
		c.PostLogoutRedirectURIs = []string{}
	}
	c.AllowedScopes = DefaultScopes
	if dto.AllowedScopes != "" {
		c.AllowedScopes = ParseScopes(dto.AllowedScopes).String()
	}
	c.GrantTypes = dto.GrantTypes
	if len(c.GrantTypes) == 0 {
		c.GrantTypes = []string{GrantAuthorizationCode, GrantRefreshToken}
	}
	c.AccessTokenTTL = ttlOrDefault(dto.AccessTokenTTL, DefaultAccessTokenTTL)
	c.RefreshTokenTTL = ttlOrDefault(dto.RefreshTokenTTL, DefaultRefreshTokenTTL)
	c.ForceConsent = dto.ForceConsent
	c.Status = StatusEnabled
	if dto.Status != "" {
		c.Status = dto.Status
	}
}
