package identity

import (
	"context"

	"github.com/frahmantamala/ssoflow/internal"
	identitymodel "github.com/frahmantamala/ssoflow/internal/core/datamodel/identity"
)

type (
	Tenant    = identitymodel.Tenant
	User      = identitymodel.User
	Group     = identitymodel.Group
	UserGroup = identitymodel.UserGroup
)

const (
	StatusEnabled  = identitymodel.StatusEnabled
	StatusDisabled = identitymodel.StatusDisabled

	MinPasswordLength = 6
)

var (
	ErrTenantNotFound = internal.NewNotFoundError("Tenant not found", internal.ErrCodeNotFound)
	ErrUserNotFound   = internal.NewNotFoundError("User not found", internal.ErrCodeNotFound)
	ErrGroupNotFound  = internal.NewNotFoundError("Group not found", internal.ErrCodeNotFound)
	ErrTenantInUse    = internal.NewConflictError("Tenant still owns users or clients", internal.ErrCodeTenantInUse)
	ErrTenantDisabled = internal.NewUnauthorizedError("Tenant is disabled", internal.ErrCodeTenantDisabled)
	ErrDuplicate      = internal.NewConflictError("A record with the same unique key already exists", internal.ErrCodeDuplicate)
	ErrWrongPassword  = internal.NewValidationFieldError("old_password", "old password is incorrect", internal.ErrCodeInvalidCredentials)
)

// TenantFilter narrows tenant listings.
type TenantFilter struct {
	internal.PageRequest
	Status string
}

type UserFilter struct {
	internal.PageRequest
	TenantID int64
	GroupID  int64
	Status   string
}

type GroupFilter struct {
	internal.PageRequest
	TenantID int64
}

// Repository is the persistence contract of the identity store.
type Repository interface {
	CreateTenant(ctx context.Context, t *Tenant) error
	UpdateTenant(ctx context.Context, t *Tenant) error
	GetTenant(ctx context.Context, id int64) (*Tenant, error)
	ListTenants(ctx context.Context, f TenantFilter) ([]*Tenant, int64, error)
	DeleteTenant(ctx context.Context, id int64) error
	CountTenantDependents(ctx context.Context, tenantID int64) (int64, error)

	CreateUser(ctx context.Context, u *User) error
	UpdateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, tenantID int64, username string) (*User, error)
	GetUsersByIDs(ctx context.Context, ids []int64) ([]*User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]*User, int64, error)
	DeleteUser(ctx context.Context, id int64) error
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	TouchLastLogin(ctx context.Context, id int64) error

	CreateGroup(ctx context.Context, g *Group) error
	UpdateGroup(ctx context.Context, g *Group) error
	GetGroup(ctx context.Context, id int64) (*Group, error)
	ListGroups(ctx context.Context, f GroupFilter) ([]*Group, int64, error)
	DeleteGroup(ctx context.Context, id int64) error
	ReplaceUserGroups(ctx context.Context, userID int64, groupIDs []int64) error
	ListUserGroups(ctx context.Context, userID int64) ([]*Group, error)
}
