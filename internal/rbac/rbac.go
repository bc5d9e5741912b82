package rbac

import (
	"context"

	"github.com/frahmantamala/ssoflow/internal"
	rbacmodel "github.com/frahmantamala/ssoflow/internal/core/datamodel/rbac"
)

type (
	Role       = rbacmodel.Role
	Permission = rbacmodel.Permission
	Menu       = rbacmodel.Menu
)

const AdminRoleCode = rbacmodel.AdminRoleCode

var (
	ErrRoleNotFound       = internal.NewNotFoundError("Role not found", internal.ErrCodeNotFound)
	ErrPermissionNotFound = internal.NewNotFoundError("Permission not found", internal.ErrCodeNotFound)
	ErrMenuNotFound       = internal.NewNotFoundError("Menu not found", internal.ErrCodeNotFound)
	ErrDuplicate          = internal.NewConflictError("A record with the same unique key already exists", internal.ErrCodeDuplicate)
)

type PermissionFilter struct {
	internal.PageRequest
	Resource string
	Method   string
}

type Repository interface {
	CreateRole(ctx context.Context, role *Role) error
	UpdateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, id int64) (*Role, error)
	ListRoles(ctx context.Context, page internal.PageRequest) ([]*Role, int64, error)
	DeleteRole(ctx context.Context, id int64) error

	CreatePermission(ctx context.Context, p *Permission) error
	UpdatePermission(ctx context.Context, p *Permission) error
	GetPermission(ctx context.Context, id int64) (*Permission, error)
	ListPermissions(ctx context.Context, f PermissionFilter) ([]*Permission, int64, error)
	AllPermissions(ctx context.Context) ([]*Permission, error)
	DeletePermission(ctx context.Context, id int64) error
	ListPermissionResources(ctx context.Context) ([]string, error)

	CreateMenu(ctx context.Context, m *Menu) error
	UpdateMenu(ctx context.Context, m *Menu) error
	GetMenu(ctx context.Context, id int64) (*Menu, error)
	AllMenus(ctx context.Context) ([]*Menu, error)
	DeleteMenu(ctx context.Context, id int64) error
	CountMenuChildren(ctx context.Context, id int64) (int64, error)

	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	ListRolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error)
	ReplaceRoleMenus(ctx context.Context, roleID int64, menuIDs []int64) error
	ListRoleMenuIDs(ctx context.Context, roleID int64) ([]int64, error)
	ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64) error
	ListUserRoles(ctx context.Context, userID int64) ([]*Role, error)
	ListRolesForUsers(ctx context.Context, userIDs []int64) (map[int64][]*Role, error)

	PermissionsForRoles(ctx context.Context, roleIDs []int64) ([]*Permission, error)
	MenuIDsForRoles(ctx context.Context, roleIDs []int64) ([]int64, error)
	UserIDsWithRole(ctx context.Context, roleID int64) ([]int64, error)
}
