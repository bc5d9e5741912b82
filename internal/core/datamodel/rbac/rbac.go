package rbac

import "time"

const AdminRoleCode = "admin"

type Role struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	Code        string    `gorm:"column:code;size:64;not null;uniqueIndex" json:"code"`
	Name        string    `gorm:"column:name;size:128;not null" json:"name"`
	Description string    `gorm:"column:description" json:"description"`
	Status      string    `gorm:"column:status;size:16;not null;default:enabled" json:"status"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Role) TableName() string { return "roles" }

// Permission identifies one API by method and path pattern.
type Permission struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"column:name;size:128;not null" json:"name"`
	Method      string    `gorm:"column:method;size:16;not null;uniqueIndex:idx_permissions_method_path" json:"method"`
	Path        string    `gorm:"column:path;size:255;not null;uniqueIndex:idx_permissions_method_path" json:"path"`
	Resource    string    `gorm:"column:resource;size:64;index" json:"resource"`
	Description string    `gorm:"column:description" json:"description"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Permission) TableName() string { return "permissions" }

type Menu struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	ParentID  int64     `gorm:"column:parent_id;not null;default:0;index" json:"parent_id"`
	Name      string    `gorm:"column:name;size:64;not null" json:"name"`
	Title     string    `gorm:"column:title;size:128;not null" json:"title"`
	Path      string    `gorm:"column:path;size:255" json:"path"`
	Component string    `gorm:"column:component;size:255" json:"component"`
	Icon      string    `gorm:"column:icon;size:64" json:"icon"`
	SortOrder int       `gorm:"column:sort_order;not null;default:0" json:"sort_order"`
	Hidden    bool      `gorm:"column:hidden;not null;default:false" json:"hidden"`
	Status    string    `gorm:"column:status;size:16;not null;default:enabled" json:"status"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Menu) TableName() string { return "menus" }

type RolePermission struct {
	RoleID       int64 `gorm:"column:role_id;primaryKey"`
	PermissionID int64 `gorm:"column:permission_id;primaryKey"`
}

func (RolePermission) TableName() string { return "role_permissions" }

type RoleMenu struct {
	RoleID int64 `gorm:"column:role_id;primaryKey"`
	MenuID int64 `gorm:"column:menu_id;primaryKey"`
}

func (RoleMenu) TableName() string { return "role_menus" }

type UserRole struct {
	UserID int64 `gorm:"column:user_id;primaryKey"`
	RoleID int64 `gorm:"column:role_id;primaryKey;index"`
}

func (UserRole) TableName() string { return "user_roles" }
