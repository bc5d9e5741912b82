package postgres

import (
	"context"

	"github.com/frahmantamala/ssoflow/internal"
	rbacmodel "github.com/frahmantamala/ssoflow/internal/core/datamodel/rbac"
	"github.com/frahmantamala/ssoflow/internal/core/dbutil"
	"github.com/frahmantamala/ssoflow/internal/rbac"
	"gorm.io/gorm"
)

type RBACRepository struct {
	db *gorm.DB
}

func NewRBACRepository(db *gorm.DB) *RBACRepository {
	return &RBACRepository{db: db}
}

var _ rbac.Repository = (*RBACRepository)(nil)

func (r *RBACRepository) CreateRole(ctx context.Context, role *rbac.Role) error {
	return dbutil.MapWriteError(r.db.WithContext(ctx).Create(role).Error, rbac.ErrDuplicate)
}

func (r *RBACRepository) UpdateRole(ctx context.Context, role *rbac.Role) error {
	err := r.db.WithContext(ctx).Model(&rbac.Role{}).Where("id = ?", role.ID).
		Updates(map[string]interface{}{
			"code":        role.Code,
			"name":        role.Name,
			"description": role.Description,
			"status":      role.Status,
		}).Error
	return dbutil.MapWriteError(err, rbac.ErrDuplicate)
}

func (r *RBACRepository) GetRole(ctx context.Context, id int64) (*rbac.Role, error) {
	var role rbac.Role
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&role).Error; err != nil {
		return nil, dbutil.MapNotFound(err, rbac.ErrRoleNotFound)
	}
	return &role, nil
}

func (r *RBACRepository) ListRoles(ctx context.Context, page internal.PageRequest) ([]*rbac.Role, int64, error) {
	q := r.db.WithContext(ctx).Model(&rbac.Role{})
	if page.Keyword != "" {
		like := dbutil.Like(page.Keyword)
		q = q.Where("LOWER(name) LIKE ? OR LOWER(code) LIKE ?", like, like)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []*rbac.Role
	err := q.Order("id ASC").Scopes(dbutil.Paginate(page)).Find(&out).Error
	return out, total, err
}

func (r *RBACRepository) DeleteRole(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&rbac.Role{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return rbac.ErrRoleNotFound
		}
		for _, join := range []interface{}{&rbacmodel.RolePermission{}, &rbacmodel.RoleMenu{}, &rbacmodel.UserRole{}} {
			if err := tx.Where("role_id = ?", id).Delete(join).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *RBACRepository) CreatePermission(ctx context.Context, p *rbac.Permission) error {
	return dbutil.MapWriteError(r.db.WithContext(ctx).Create(p).Error, rbac.ErrDuplicate)
}

func (r *RBACRepository) UpdatePermission(ctx context.Context, p *rbac.Permission) error {
	err := r.db.WithContext(ctx).Model(&rbac.Permission{}).Where("id = ?", p.ID).
		Updates(map[string]interface{}{
			"name":        p.Name,
			"method":      p.Method,
			"path":        p.Path,
			"resource":    p.Resource,
			"description": p.Description,
		}).Error
	return dbutil.MapWriteError(err, rbac.ErrDuplicate)
}

func (r *RBACRepository) GetPermission(ctx context.Context, id int64) (*rbac.Permission, error) {
	var p rbac.Permission
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, dbutil.MapNotFound(err, rbac.ErrPermissionNotFound)
	}
	return &p, nil
}

func (r *RBACRepository) ListPermissions(ctx context.Context, f rbac.PermissionFilter) ([]*rbac.Permission, int64, error) {
	q := r.db.WithContext(ctx).Model(&rbac.Permission{})
	if f.Resource != "" {
		q = q.Where("resource = ?", f.Resource)
	}
	if f.Method != "" {
		q = q.Where("method = ?", f.Method)
	}
	if f.Keyword != "" {
		like := dbutil.Like(f.Keyword)
		q = q.Where("LOWER(name) LIKE ? OR LOWER(path) LIKE ?", like, like)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []*rbac.Permission
	err := q.Order("resource ASC, path ASC, id ASC").Scopes(dbutil.Paginate(f.PageRequest)).Find(&out).Error
	return out, total, err
}

func (r *RBACRepository) AllPermissions(ctx context.Context) ([]*rbac.Permission, error) {
	var out []*rbac.Permission
	err := r.db.WithContext(ctx).Order("resource ASC, path ASC, id ASC").Find(&out).Error
	return out, err
}

func (r *RBACRepository) DeletePermission(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&rbac.Permission{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return rbac.ErrPermissionNotFound
		}
		return tx.Where("permission_id = ?", id).Delete(&rbacmodel.RolePermission{}).Error
	})
}

func (r *RBACRepository) ListPermissionResources(ctx context.Context) ([]string, error) {
	var out []string
	err := r.db.WithContext(ctx).Model(&rbac.Permission{}).
		Where("resource <> ''").Distinct().Order("resource ASC").Pluck("resource", &out).Error
	return out, err
}

func (r *RBACRepository) CreateMenu(ctx context.Context, m *rbac.Menu) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *RBACRepository) UpdateMenu(ctx context.Context, m *rbac.Menu) error {
	return r.db.WithContext(ctx).Model(&rbac.Menu{}).Where("id = ?", m.ID).
		Updates(map[string]interface{}{
			"parent_id":  m.ParentID,
			"name":       m.Name,
			"title":      m.Title,
			"path":       m.Path,
			"component":  m.Component,
			"icon":       m.Icon,
			"sort_order": m.SortOrder,
			"hidden":     m.Hidden,
			"status":     m.Status,
		}).Error
}

func (r *RBACRepository) GetMenu(ctx context.Context, id int64) (*rbac.Menu, error) {
	var m rbac.Menu
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, dbutil.MapNotFound(err, rbac.ErrMenuNotFound)
	}
	return &m, nil
}

func (r *RBACRepository) AllMenus(ctx context.Context) ([]*rbac.Menu, error) {
	var out []*rbac.Menu
	err := r.db.WithContext(ctx).Order("sort_order ASC, id ASC").Find(&out).Error
	return out, err
}

func (r *RBACRepository) DeleteMenu(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&rbac.Menu{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return rbac.ErrMenuNotFound
		}
		return tx.Where("menu_id = ?", id).Delete(&rbacmodel.RoleMenu{}).Error
	})
}

func (r *RBACRepository) CountMenuChildren(ctx context.Context, id int64) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&rbac.Menu{}).Where("parent_id = ?", id).Count(&n).Error
	return n, err
}

func (r *RBACRepository) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("role_id = ?", roleID).Delete(&rbacmodel.RolePermission{}).Error; err != nil {
			return err
		}
		if len(permissionIDs) == 0 {
			return nil
		}
		rows := make([]rbacmodel.RolePermission, 0, len(permissionIDs))
		for _, id := range permissionIDs {
			rows = append(rows, rbacmodel.RolePermission{RoleID: roleID, PermissionID: id})
		}
		return tx.Create(&rows).Error
	})
}

func (r *RBACRepository) ListRolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	var out []int64
	err := r.db.WithContext(ctx).Model(&rbacmodel.RolePermission{}).
		Where("role_id = ?", roleID).Order("permission_id ASC").Pluck("permission_id", &out).Error
	return out, err
}

func (r *RBACRepository) ReplaceRoleMenus(ctx context.Context, roleID int64, menuIDs []int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("role_id = ?", roleID).Delete(&rbacmodel.RoleMenu{}).Error; err != nil {
			return err
		}
		if len(menuIDs) == 0 {
			return nil
		}
		rows := make([]rbacmodel.RoleMenu, 0, len(menuIDs))
		for _, id := range menuIDs {
			rows = append(rows, rbacmodel.RoleMenu{RoleID: roleID, MenuID: id})
		}
		return tx.Create(&rows).Error
	})
}

func (r *RBACRepository) ListRoleMenuIDs(ctx context.Context, roleID int64) ([]int64, error) {
	var out []int64
	err := r.db.WithContext(ctx).Model(&rbacmodel.RoleMenu{}).
		Where("role_id = ?", roleID).Order("menu_id ASC").Pluck("menu_id", &out).Error
	return out, err
}

func (r *RBACRepository) ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&rbacmodel.UserRole{}).Error; err != nil {
			return err
		}
		if len(roleIDs) == 0 {
			return nil
		}
		rows := make([]rbacmodel.UserRole, 0, len(roleIDs))
		for _, id := range roleIDs {
			rows = append(rows, rbacmodel.UserRole{UserID: userID, RoleID: id})
		}
		return tx.Create(&rows).Error
	})
}

func (r *RBACRepository) ListUserRoles(ctx context.Context, userID int64) ([]*rbac.Role, error) {
	var out []*rbac.Role
	err := r.db.WithContext(ctx).
		Where("id IN (?)", r.db.Model(&rbacmodel.UserRole{}).Select("role_id").Where("user_id = ?", userID)).
		Order("id ASC").Find(&out).Error
	return out, err
}

type userRoleRow struct {
	UserID int64
	rbac.Role
}

func (r *RBACRepository) ListRolesForUsers(ctx context.Context, userIDs []int64) (map[int64][]*rbac.Role, error) {
	out := make(map[int64][]*rbac.Role, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var rows []userRoleRow
	err := r.db.WithContext(ctx).Table("user_roles").
		Select("user_roles.user_id, roles.*").
		Joins("JOIN roles ON roles.id = user_roles.role_id").
		Where("user_roles.user_id IN ?", userIDs).
		Order("user_roles.user_id ASC, roles.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		role := rows[i].Role
		out[rows[i].UserID] = append(out[rows[i].UserID], &role)
	}
	return out, nil
}

func (r *RBACRepository) PermissionsForRoles(ctx context.Context, roleIDs []int64) ([]*rbac.Permission, error) {
	var out []*rbac.Permission
	if len(roleIDs) == 0 {
		return out, nil
	}
	err := r.db.WithContext(ctx).
		Where("id IN (?)", r.db.Model(&rbacmodel.RolePermission{}).Select("permission_id").Where("role_id IN ?", roleIDs)).
		Order("id ASC").Find(&out).Error
	return out, err
}

func (r *RBACRepository) MenuIDsForRoles(ctx context.Context, roleIDs []int64) ([]int64, error) {
	var out []int64
	if len(roleIDs) == 0 {
		return out, nil
	}
	err := r.db.WithContext(ctx).Model(&rbacmodel.RoleMenu{}).
		Where("role_id IN ?", roleIDs).Distinct().Order("menu_id ASC").Pluck("menu_id", &out).Error
	return out, err
}

func (r *RBACRepository) UserIDsWithRole(ctx context.Context, roleID int64) ([]int64, error) {
	var out []int64
	err := r.db.WithContext(ctx).Model(&rbacmodel.UserRole{}).
		Where("role_id = ?", roleID).Order("user_id ASC").Pluck("user_id", &out).Error
	return out, err
}
