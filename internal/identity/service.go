package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/pkg/hash"
)

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

func (s *Service) CreateTenant(ctx context.Context, dto TenantDTO) (*Tenant, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	t := &Tenant{Name: strings.TrimSpace(dto.Name), Domain: normaliseDomain(dto.Domain), Status: defaultStatus(dto.Status)}
	if err := s.repo.CreateTenant(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info("tenant created", "tenant_id", t.ID, "name", t.Name)
	return t, nil
}

func (s *Service) UpdateTenant(ctx context.Context, id int64, dto TenantDTO) (*Tenant, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	t, err := s.repo.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Name = strings.TrimSpace(dto.Name)
	t.Domain = normaliseDomain(dto.Domain)
	t.Status = defaultStatus(dto.Status)
	if err := s.repo.UpdateTenant(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) GetTenant(ctx context.Context, id int64) (*Tenant, error) {
	return s.repo.GetTenant(ctx, id)
}

func (s *Service) ListTenants(ctx context.Context, f TenantFilter) ([]*Tenant, int64, error) {
	return s.repo.ListTenants(ctx, f)
}

// DeleteTenant refuses while users or OIDC clients reference the tenant.
func (s *Service) DeleteTenant(ctx context.Context, id int64) error {
	if _, err := s.repo.GetTenant(ctx, id); err != nil {
		return err
	}
	n, err := s.repo.CountTenantDependents(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrTenantInUse
	}
	if err := s.repo.DeleteTenant(ctx, id); err != nil {
		return err
	}
	s.logger.Info("tenant deleted", "tenant_id", id)
	return nil
}

func (s *Service) CreateUser(ctx context.Context, dto CreateUserDTO) (*User, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetTenant(ctx, dto.TenantID); err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return nil, internal.NewValidationFieldError("tenant_id", "tenant does not exist", internal.ErrCodeNotFound)
		}
		return nil, err
	}
	hashed, err := hash.Password(dto.Password)
	if err != nil {
		return nil, internal.NewInternalError("failed to hash password", err)
	}
	u := &User{
		TenantID:     dto.TenantID,
		Username:     strings.TrimSpace(dto.Username),
		PasswordHash: hashed,
		Email:        strings.TrimSpace(dto.Email),
		DisplayName:  strings.TrimSpace(dto.DisplayName),
		Phone:        strings.TrimSpace(dto.Phone),
		Status:       defaultStatus(dto.Status),
	}
	if u.DisplayName == "" {
		u.DisplayName = u.Username
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info("user created", "user_id", u.ID, "tenant_id", u.TenantID, "username", u.Username)
	return u, nil
}

// UpdateUser edits profile fields; the tenant of an existing user never changes.
func (s *Service) UpdateUser(ctx context.Context, id int64, dto UpdateUserDTO) (*User, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if dto.TenantID != nil && *dto.TenantID != u.TenantID {
		return nil, internal.NewValidationFieldError("tenant_id", "tenant of a user cannot be changed", internal.ErrCodeValidationFailed)
	}
	u.Email = strings.TrimSpace(dto.Email)
	u.DisplayName = strings.TrimSpace(dto.DisplayName)
	u.Phone = strings.TrimSpace(dto.Phone)
	if dto.Status != "" {
		u.Status = dto.Status
	}
	if err := s.repo.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id int64) (*UserView, error) {
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	groups, err := s.repo.ListUserGroups(ctx, id)
	if err != nil {
		return nil, err
	}
	return &UserView{User: u, Groups: groups}, nil
}

func (s *Service) GetUsersByIDs(ctx context.Context, ids []int64) ([]*User, error) {
	return s.repo.GetUsersByIDs(ctx, ids)
}

func (s *Service) ListUsers(ctx context.Context, f UserFilter) ([]*User, int64, error) {
	return s.repo.ListUsers(ctx, f)
}

func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.logger.Info("user deleted", "user_id", id)
	return nil
}

func (s *Service) ResetPassword(ctx context.Context, id int64, dto ResetPasswordDTO) error {
	if err := dto.Validate(); err != nil {
		return err
	}
	hashed, err := hash.Password(dto.Password)
	if err != nil {
		return internal.NewInternalError("failed to hash password", err)
	}
	if err := s.repo.UpdatePasswordHash(ctx, id, hashed); err != nil {
		return err
	}
	s.logger.Info("password reset", "user_id", id, "by", internal.UserIDFromContext(ctx))
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, userID int64, dto ChangePasswordDTO) error {
	if err := dto.Validate(); err != nil {
		return err
	}
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if !hash.Compare(u.PasswordHash, dto.OldPassword) {
		return ErrWrongPassword
	}
	hashed, err := hash.Password(dto.NewPassword)
	if err != nil {
		return internal.NewInternalError("failed to hash password", err)
	}
	return s.repo.UpdatePasswordHash(ctx, userID, hashed)
}

// SetUserGroups replaces the memberships of a user. Every group must live in the user's tenant.
func (s *Service) SetUserGroups(ctx context.Context, userID int64, groupIDs []int64) error {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	ids := uniqueIDs(groupIDs)
	for _, gid := range ids {
		g, err := s.repo.GetGroup(ctx, gid)
		if err != nil {
			if errors.Is(err, ErrGroupNotFound) {
				return internal.NewValidationFieldError("group_ids", "group does not exist", internal.ErrCodeNotFound)
			}
			return err
		}
		if g.TenantID != u.TenantID {
			return internal.NewValidationFieldError("group_ids", "group belongs to another tenant", internal.ErrCodeValidationFailed)
		}
	}
	return s.repo.ReplaceUserGroups(ctx, userID, ids)
}

func (s *Service) GetUserGroups(ctx context.Context, userID int64) ([]*Group, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.repo.ListUserGroups(ctx, userID)
}

func (s *Service) CreateGroup(ctx context.Context, dto GroupDTO) (*Group, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetTenant(ctx, dto.TenantID); err != nil {
		return nil, err
	}
	g := &Group{TenantID: dto.TenantID, Name: strings.TrimSpace(dto.Name), Description: dto.Description, Status: defaultStatus(dto.Status)}
	if err := s.repo.CreateGroup(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Service) UpdateGroup(ctx context.Context, id int64, dto GroupDTO) (*Group, error) {
	g, err := s.repo.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	dto.TenantID = g.TenantID
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	g.Name = strings.TrimSpace(dto.Name)
	g.Description = dto.Description
	g.Status = defaultStatus(dto.Status)
	if err := s.repo.UpdateGroup(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Service) GetGroup(ctx context.Context, id int64) (*Group, error) {
	return s.repo.GetGroup(ctx, id)
}

func (s *Service) ListGroups(ctx context.Context, f GroupFilter) ([]*Group, int64, error) {
	return s.repo.ListGroups(ctx, f)
}

func (s *Service) DeleteGroup(ctx context.Context, id int64) error {
	return s.repo.DeleteGroup(ctx, id)
}

func (s *Service) ListGroupMembers(ctx context.Context, groupID int64, page internal.PageRequest) ([]*User, int64, error) {
	g, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return nil, 0, err
	}
	return s.repo.ListUsers(ctx, UserFilter{PageRequest: page, TenantID: g.TenantID, GroupID: groupID})
}

// Authenticate checks a username and password inside a tenant. Unknown users and bad passwords
// produce the same error.
func (s *Service) Authenticate(ctx context.Context, tenantID int64, username, password string) (*User, error) {
	tenant, err := s.repo.GetTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return nil, internal.ErrInvalidCredentials
		}
		return nil, err
	}
	u, err := s.repo.GetUserByUsername(ctx, tenantID, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, internal.ErrInvalidCredentials
		}
		return nil, err
	}
	if !hash.Compare(u.PasswordHash, password) {
		return nil, internal.ErrInvalidCredentials
	}
	if tenant.Status != StatusEnabled {
		return nil, ErrTenantDisabled
	}
	if !u.Enabled() {
		return nil, internal.ErrUserInactive
	}
	if err := s.repo.TouchLastLogin(ctx, u.ID); err != nil {
		s.logger.Warn("failed to record last login", "user_id", u.ID, "error", err)
	}
	return u, nil
}

// FindByUsername is used by federated logins that have already verified the user elsewhere.
func (s *Service) FindByUsername(ctx context.Context, tenantID int64, username string) (*User, error) {
	return s.repo.GetUserByUsername(ctx, tenantID, strings.TrimSpace(username))
}

// IsActive reports whether the user and its tenant may still hold sessions and tokens.
func (s *Service) IsActive(ctx context.Context, userID int64) (*User, bool, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if !u.Enabled() {
		return u, false, nil
	}
	t, err := s.repo.GetTenant(ctx, u.TenantID)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return u, false, nil
		}
		return nil, false, err
	}
	return u, t.Status == StatusEnabled, nil
}

func defaultStatus(s string) string {
	if s == "" {
		return StatusEnabled
	}
	return s
}

func normaliseDomain(d *string) *string {
	if d == nil {
		return nil
	}
	v := strings.ToLower(strings.TrimSpace(*d))
	if v == "" {
		return nil
	}
	return &v
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id <= 0 {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
