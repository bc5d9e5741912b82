package rbac

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/identity"
)

// UserDirectory is the part of the identity store the /users screens need.
type UserDirectory interface {
	ListUsers(ctx context.Context, f identity.UserFilter) ([]*identity.User, int64, error)
	GetUser(ctx context.Context, id int64) (*identity.UserView, error)
}

type Service struct {
	repo     Repository
	users    UserDirectory
	resolver *Resolver
	logger   *slog.Logger
}

func NewService(repo Repository, users UserDirectory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, users: users, resolver: NewResolver(repo), logger: logger}
}

func (s *Service) Resolver() *Resolver { return s.resolver }

func (s *Service) CreateRole(ctx context.Context, dto RoleDTO) (*Role, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	role := &Role{Code: dto.Code, Name: strings.TrimSpace(dto.Name), Description: dto.Description, Status: statusOrEnabled(dto.Status)}
	if err := s.repo.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	s.logger.Info("role created", "role_id", role.ID, "code", role.Code)
	return role, nil
}

func (s *Service) UpdateRole(ctx context.Context, id int64, dto RoleDTO) (*Role, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	role.Code = dto.Code
	role.Name = strings.TrimSpace(dto.Name)
	role.Description = dto.Description
	role.Status = statusOrEnabled(dto.Status)
	if err := s.repo.UpdateRole(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

func (s *Service) GetRole(ctx context.Context, id int64) (*Role, error) {
	return s.repo.GetRole(ctx, id)
}

func (s *Service) ListRoles(ctx context.Context, page internal.PageRequest) ([]*Role, int64, error) {
	return s.repo.ListRoles(ctx, page)
}

func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.logger.Info("role deleted", "role_id", id)
	return nil
}

func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, ids []int64) error {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return err
	}
	ids = dedupe(ids)
	for _, id := range ids {
		if _, err := s.repo.GetPermission(ctx, id); err != nil {
			if errors.Is(err, ErrPermissionNotFound) {
				return internal.NewValidationFieldError("ids", "permission does not exist", internal.ErrCodeNotFound)
			}
			return err
		}
	}
	return s.repo.ReplaceRolePermissions(ctx, roleID, ids)
}

func (s *Service) GetRolePermissions(ctx context.Context, roleID int64) ([]int64, error) {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return s.repo.ListRolePermissionIDs(ctx, roleID)
}

func (s *Service) SetRoleMenus(ctx context.Context, roleID int64, ids []int64) error {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return err
	}
	ids = dedupe(ids)
	for _, id := range ids {
		if _, err := s.repo.GetMenu(ctx, id); err != nil {
			if errors.Is(err, ErrMenuNotFound) {
				return internal.NewValidationFieldError("ids", "menu does not exist", internal.ErrCodeNotFound)
			}
			return err
		}
	}
	return s.repo.ReplaceRoleMenus(ctx, roleID, ids)
}

func (s *Service) GetRoleMenus(ctx context.Context, roleID int64) ([]int64, error) {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return s.repo.ListRoleMenuIDs(ctx, roleID)
}

func (s *Service) CreatePermission(ctx context.Context, dto PermissionDTO) (*Permission, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	p := &Permission{
		Name:        strings.TrimSpace(dto.Name),
		Method:      strings.ToUpper(dto.Method),
		Path:        dto.Path,
		Resource:    resourceOf(dto),
		Description: dto.Description,
	}
	if err := s.repo.CreatePermission(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) UpdatePermission(ctx context.Context, id int64, dto PermissionDTO) (*Permission, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	p, err := s.repo.GetPermission(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Name = strings.TrimSpace(dto.Name)
	p.Method = strings.ToUpper(dto.Method)
	p.Path = dto.Path
	p.Resource = resourceOf(dto)
	p.Description = dto.Description
	if err := s.repo.UpdatePermission(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) GetPermission(ctx context.Context, id int64) (*Permission, error) {
	return s.repo.GetPermission(ctx, id)
}

func (s *Service) ListPermissions(ctx context.Context, f PermissionFilter) ([]*Permission, int64, error) {
	return s.repo.ListPermissions(ctx, f)
}

func (s *Service) AllPermissions(ctx context.Context) ([]*Permission, error) {
	return s.repo.AllPermissions(ctx)
}

func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	return s.repo.DeletePermission(ctx, id)
}

func (s *Service) PermissionResources(ctx context.Context) ([]string, error) {
	return s.repo.ListPermissionResources(ctx)
}

func (s *Service) CreateMenu(ctx context.Context, dto MenuDTO) (*Menu, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	if dto.ParentID != 0 {
		if _, err := s.repo.GetMenu(ctx, dto.ParentID); err != nil {
			return nil, err
		}
	}
	m := menuFromDTO(dto)
	if err := s.repo.CreateMenu(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateMenu refuses a parent that would make the menu its own ancestor.
func (s *Service) UpdateMenu(ctx context.Context, id int64, dto MenuDTO) (*Menu, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetMenu(ctx, id); err != nil {
		return nil, err
	}
	if dto.ParentID != 0 {
		all, err := s.repo.AllMenus(ctx)
		if err != nil {
			return nil, err
		}
		parents := make(map[int64]int64, len(all))
		for _, m := range all {
			parents[m.ID] = m.ParentID
		}
		if _, ok := parents[dto.ParentID]; !ok {
			return nil, ErrMenuNotFound
		}
		for cur, steps := dto.ParentID, 0; cur != 0 && steps <= len(all); cur, steps = parents[cur], steps+1 {
			if cur == id {
				return nil, internal.NewValidationFieldError("parent_id", "menu cannot be nested under itself", internal.ErrCodeValidationFailed)
			}
		}
	}
	m := menuFromDTO(dto)
	m.ID = id
	if err := s.repo.UpdateMenu(ctx, m); err != nil {
		return nil, err
	}
	return s.repo.GetMenu(ctx, id)
}

func (s *Service) GetMenu(ctx context.Context, id int64) (*Menu, error) {
	return s.repo.GetMenu(ctx, id)
}

func (s *Service) ListMenus(ctx context.Context) ([]*Menu, error) {
	return s.repo.AllMenus(ctx)
}

func (s *Service) MenuTree(ctx context.Context) ([]*MenuNode, error) {
	all, err := s.repo.AllMenus(ctx)
	if err != nil {
		return nil, err
	}
	return BuildMenuTree(all, nil), nil
}

func (s *Service) DeleteMenu(ctx context.Context, id int64) error {
	n, err := s.repo.CountMenuChildren(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return internal.NewConflictError("Menu still has children", internal.ErrCodeDuplicate)
	}
	return s.repo.DeleteMenu(ctx, id)
}

func (s *Service) ListUsersWithRoles(ctx context.Context, f identity.UserFilter) ([]*UserWithRoles, int64, error) {
	users, total, err := s.users.ListUsers(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	roles, err := s.repo.ListRolesForUsers(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*UserWithRoles, 0, len(users))
	for _, u := range users {
		rs := roles[u.ID]
		if rs == nil {
			rs = []*Role{}
		}
		out = append(out, &UserWithRoles{User: u, Roles: rs})
	}
	return out, total, nil
}

func (s *Service) SetUserRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return err
	}
	roleIDs = dedupe(roleIDs)
	for _, id := range roleIDs {
		if _, err := s.repo.GetRole(ctx, id); err != nil {
			if errors.Is(err, ErrRoleNotFound) {
				return internal.NewValidationFieldError("role_ids", "role does not exist", internal.ErrCodeNotFound)
			}
			return err
		}
	}
	if err := s.repo.ReplaceUserRoles(ctx, userID, roleIDs); err != nil {
		return err
	}
	s.logger.Info("user roles replaced", "user_id", userID, "role_ids", roleIDs)
	return nil
}

func (s *Service) GetUserRoles(ctx context.Context, userID int64) ([]*Role, error) {
	return s.repo.ListUserRoles(ctx, userID)
}

func menuFromDTO(dto MenuDTO) *Menu {
	return &Menu{
		ParentID:  dto.ParentID,
		Name:      dto.Name,
		Title:     dto.Title,
		Path:      dto.Path,
		Component: dto.Component,
		Icon:      dto.Icon,
		SortOrder: dto.SortOrder,
		Hidden:    dto.Hidden,
		Status:    statusOrEnabled(dto.Status),
	}
}

// resourceOf defaults the resource to the first path segment after /api/v1.
func resourceOf(dto PermissionDTO) string {
	if dto.Resource != "" {
		return dto.Resource
	}
	segs := splitPath(strings.TrimPrefix(dto.Path, "/api/v1"))
	if len(segs) == 0 {
		return ""
	}
	return segs[0]
}

func statusOrEnabled(s string) string {
	if s == "" {
		return identity.StatusEnabled
	}
	return s
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id > 0 && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
