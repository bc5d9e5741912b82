package postgres

import (
	"context"
	"time"

	"github.com/frahmantamala/ssoflow/internal/core/datamodel/identity"
	oidcmodel "github.com/frahmantamala/ssoflow/internal/core/datamodel/oidc"
	rbacmodel "github.com/frahmantamala/ssoflow/internal/core/datamodel/rbac"
	"github.com/frahmantamala/ssoflow/internal/core/dbutil"
	identitysvc "github.com/frahmantamala/ssoflow/internal/identity"
	"gorm.io/gorm"
)

type IdentityRepository struct {
	db *gorm.DB
}

func NewIdentityRepository(db *gorm.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

var _ identitysvc.Repository = (*IdentityRepository)(nil)

func (r *IdentityRepository) CreateTenant(ctx context.Context, t *identity.Tenant) error {
	return dbutil.MapWriteError(r.db.WithContext(ctx).Create(t).Error, identitysvc.ErrDuplicate)
}

func (r *IdentityRepository) UpdateTenant(ctx context.Context, t *identity.Tenant) error {
	err := r.db.WithContext(ctx).Model(&identity.Tenant{}).Where("id = ?", t.ID).
		Updates(map[string]interface{}{"name": t.Name, "domain": t.Domain, "status": t.Status}).Error
	return dbutil.MapWriteError(err, identitysvc.ErrDuplicate)
}

func (r *IdentityRepository) GetTenant(ctx context.Context, id int64) (*identity.Tenant, error) {
	var t identity.Tenant
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, dbutil.MapNotFound(err, identitysvc.ErrTenantNotFound)
	}
	return &t, nil
}

func (r *IdentityRepository) ListTenants(ctx context.Context, f identitysvc.TenantFilter) ([]*identity.Tenant, int64, error) {
	q := r.db.WithContext(ctx).Model(&identity.Tenant{})
	if f.Keyword != "" {
		q = q.Where("LOWER(name) LIKE ?", dbutil.Like(f.Keyword))
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []*identity.Tenant
	err := q.Order("id ASC").Scopes(dbutil.Paginate(f.PageRequest)).Find(&out).Error
	return out, total, err
}

func (r *IdentityRepository) DeleteTenant(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&identity.Tenant{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return identitysvc.ErrTenantNotFound
	}
	return nil
}

// CountTenantDependents counts users and OIDC clients still bound to the tenant.
func (r *IdentityRepository) CountTenantDependents(ctx context.Context, tenantID int64) (int64, error) {
	var users, clients int64
	db := r.db.WithContext(ctx)
	if err := db.Model(&identity.User{}).Where("tenant_id = ?", tenantID).Count(&users).Error; err != nil {
		return 0, err
	}
	if err := db.Model(&oidcmodel.Client{}).Where("tenant_id = ?", tenantID).Count(&clients).Error; err != nil {
		return 0, err
	}
	return users + clients, nil
}

func (r *IdentityRepository) CreateUser(ctx context.Context, u *identity.User) error {
	return dbutil.MapWriteError(r.db.WithContext(ctx).Create(u).Error, identitysvc.ErrDuplicate)
}

func (r *IdentityRepository) UpdateUser(ctx context.Context, u *identity.User) error {
	err := r.db.WithContext(ctx).Model(&identity.User{}).Where("id = ?", u.ID).
		Updates(map[string]interface{}{
			"email":        u.Email,
			"display_name": u.DisplayName,
			"phone":        u.Phone,
			"status":       u.Status,
		}).Error
	return dbutil.MapWriteError(err, identitysvc.ErrDuplicate)
}

func (r *IdentityRepository) GetUser(ctx context.Context, id int64) (*identity.User, error) {
	var u identity.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, dbutil.MapNotFound(err, identitysvc.ErrUserNotFound)
	}
	return &u, nil
}

func (r *IdentityRepository) GetUserByUsername(ctx context.Context, tenantID int64, username string) (*identity.User, error) {
	var u identity.User
	err := r.db.WithContext(ctx).Where("tenant_id = ? AND username = ?", tenantID, username).First(&u).Error
	if err != nil {
		return nil, dbutil.MapNotFound(err, identitysvc.ErrUserNotFound)
	}
	return &u, nil
}

func (r *IdentityRepository) GetUsersByIDs(ctx context.Context, ids []int64) ([]*identity.User, error) {
	var out []*identity.User
	if len(ids) == 0 {
		return out, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&out).Error
	return out, err
}

func (r *IdentityRepository) ListUsers(ctx context.Context, f identitysvc.UserFilter) ([]*identity.User, int64, error) {
	q := r.db.WithContext(ctx).Model(&identity.User{})
	if f.TenantID > 0 {
		q = q.Where("tenant_id = ?", f.TenantID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.GroupID > 0 {
		q = q.Where("id IN (?)", r.db.Model(&identity.UserGroup{}).Select("user_id").Where("group_id = ?", f.GroupID))
	}
	if f.Keyword != "" {
		like := dbutil.Like(f.Keyword)
		q = q.Where("LOWER(username) LIKE ? OR LOWER(display_name) LIKE ? OR LOWER(email) LIKE ?", like, like, like)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []*identity.User
	err := q.Order("id ASC").Scopes(dbutil.Paginate(f.PageRequest)).Find(&out).Error
	return out, total, err
}

// DeleteUser removes the user with its memberships, role bindings and sessions.
func (r *IdentityRepository) DeleteUser(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&identity.User{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return identitysvc.ErrUserNotFound
		}
		if err := tx.Where("user_id = ?", id).Delete(&identity.UserGroup{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&rbacmodel.UserRole{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&oidcmodel.AuthorizedApp{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", id).Delete(&identity.Session{}).Error
	})
}

func (r *IdentityRepository) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	res := r.db.WithContext(ctx).Model(&identity.User{}).Where("id = ?", id).Update("password_hash", hash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return identitysvc.ErrUserNotFound
	}
	return nil
}

func (r *IdentityRepository) TouchLastLogin(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&identity.User{}).Where("id = ?", id).
		UpdateColumn("last_login_at", time.Now()).Error
}

func (r *IdentityRepository) CreateGroup(ctx context.Context, g *identity.Group) error {
	return dbutil.MapWriteError(r.db.WithContext(ctx).Create(g).Error, identitysvc.ErrDuplicate)
}

func (r *IdentityRepository) UpdateGroup(ctx context.Context, g *identity.Group) error {
	return r.db.WithContext(ctx).Model(&identity.Group{}).Where("id = ?", g.ID).
		Updates(map[string]interface{}{"name": g.Name, "description": g.Description, "status": g.Status}).Error
}

func (r *IdentityRepository) GetGroup(ctx context.Context, id int64) (*identity.Group, error) {
	var g identity.Group
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&g).Error; err != nil {
		return nil, dbutil.MapNotFound(err, identitysvc.ErrGroupNotFound)
	}
	return &g, nil
}

func (r *IdentityRepository) ListGroups(ctx context.Context, f identitysvc.GroupFilter) ([]*identity.Group, int64, error) {
	q := r.db.WithContext(ctx).Model(&identity.Group{})
	if f.TenantID > 0 {
		q = q.Where("tenant_id = ?", f.TenantID)
	}
	if f.Keyword != "" {
		q = q.Where("LOWER(name) LIKE ?", dbutil.Like(f.Keyword))
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []*identity.Group
	err := q.Order("id ASC").Scopes(dbutil.Paginate(f.PageRequest)).Find(&out).Error
	return out, total, err
}

func (r *IdentityRepository) DeleteGroup(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&identity.Group{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return identitysvc.ErrGroupNotFound
		}
		return tx.Where("group_id = ?", id).Delete(&identity.UserGroup{}).Error
	})
}

// ReplaceUserGroups swaps the whole membership set of a user in one transaction.
func (r *IdentityRepository) ReplaceUserGroups(ctx context.Context, userID int64, groupIDs []int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&identity.UserGroup{}).Error; err != nil {
			return err
		}
		if len(groupIDs) == 0 {
			return nil
		}
		rows := make([]identity.UserGroup, 0, len(groupIDs))
		for _, gid := range groupIDs {
			rows = append(rows, identity.UserGroup{UserID: userID, GroupID: gid})
		}
		return tx.Create(&rows).Error
	})
}

func (r *IdentityRepository) ListUserGroups(ctx context.Context, userID int64) ([]*identity.Group, error) {
	var out []*identity.Group
	err := r.db.WithContext(ctx).
		Where("id IN (?)", r.db.Model(&identity.UserGroup{}).Select("group_id").Where("user_id = ?", userID)).
		Order("id ASC").Find(&out).Error
	return out, err
}
