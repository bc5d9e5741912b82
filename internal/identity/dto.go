package identity

import (
	"regexp"

	"github.com/frahmantamala/ssoflow/internal/core/common/validation"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.@-]+$`)

type TenantDTO struct {
	Name   string  `json:"name"`
	Domain *string `json:"domain"`
	Status string  `json:"status"`
}

func (d TenantDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("name", d.Name).Required().MaxLength(128)
	v.Field("status", d.Status).OneOf(StatusEnabled, StatusDisabled)
	if d.Domain != nil {
		v.Field("domain", *d.Domain).MaxLength(255)
	}
	return v.Validate()
}

type CreateUserDTO struct {
	TenantID    int64  `json:"tenant_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Phone       string `json:"phone"`
	Status      string `json:"status"`
}

func (d CreateUserDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("tenant_id", d.TenantID).Required()
	v.Field("username", d.Username).Required().MaxLength(64).Matches(usernamePattern, "may only contain letters, digits and _ . @ -")
	v.Field("password", d.Password).Required().MinLength(MinPasswordLength).MaxLength(72)
	v.Field("email", d.Email).MaxLength(255)
	v.Field("display_name", d.DisplayName).MaxLength(128)
	v.Field("phone", d.Phone).MaxLength(32)
	v.Field("status", d.Status).OneOf(StatusEnabled, StatusDisabled)
	return v.Validate()
}

// UpdateUserDTO deliberately has no username; TenantID is accepted only to reject a change of tenant.
type UpdateUserDTO struct {
	TenantID    *int64 `json:"tenant_id,omitempty"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Phone       string `json:"phone"`
	Status      string `json:"status"`
}

func (d UpdateUserDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("email", d.Email).MaxLength(255)
	v.Field("display_name", d.DisplayName).MaxLength(128)
	v.Field("phone", d.Phone).MaxLength(32)
	v.Field("status", d.Status).OneOf(StatusEnabled, StatusDisabled)
	return v.Validate()
}

type ResetPasswordDTO struct {
	Password string `json:"password"`
}

func (d ResetPasswordDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("password", d.Password).Required().MinLength(MinPasswordLength).MaxLength(72)
	return v.Validate()
}

type ChangePasswordDTO struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (d ChangePasswordDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("old_password", d.OldPassword).Required()
	v.Field("new_password", d.NewPassword).Required().MinLength(MinPasswordLength).MaxLength(72)
	return v.Validate()
}

type GroupDTO struct {
	TenantID    int64  `json:"tenant_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

func (d GroupDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("tenant_id", d.TenantID).Required()
	v.Field("name", d.Name).Required().MaxLength(128)
	v.Field("status", d.Status).OneOf(StatusEnabled, StatusDisabled)
	return v.Validate()
}

type UserGroupsDTO struct {
	GroupIDs []int64 `json:"group_ids"`
}

// UserView is a user together with its groups, returned by detail endpoints.
type UserView struct {
	*User
	Groups []*Group `json:"groups"`
}
