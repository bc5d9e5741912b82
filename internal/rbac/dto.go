package rbac

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/frahmantamala/ssoflow/internal/core/common/validation"
	"github.com/frahmantamala/ssoflow/internal/identity"
)

var (
	roleCodePattern = regexp.MustCompile(`^[a-z][a-z0-9_:-]*$`)
	apiPathPattern  = regexp.MustCompile(`^/`)
)

type RoleDTO struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

func (d RoleDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("code", d.Code).Required().MaxLength(64).Matches(roleCodePattern, "must be lower case letters, digits, _ : or -")
	v.Field("name", d.Name).Required().MaxLength(128)
	v.Field("status", d.Status).OneOf(identity.StatusEnabled, identity.StatusDisabled)
	return v.Validate()
}

type PermissionDTO struct {
	Name        string `json:"name"`
	Method      string `json:"method"`
	Path        string `json:"path"`
	Resource    string `json:"resource"`
	Description string `json:"description"`
}

func (d PermissionDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("name", d.Name).Required().MaxLength(128)
	v.Field("method", strings.ToUpper(d.Method)).Required().OneOf(
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, "*")
	v.Field("path", d.Path).Required().MaxLength(255).Matches(apiPathPattern, "must start with /")
	v.Field("resource", d.Resource).MaxLength(64)
	return v.Validate()
}

type MenuDTO struct {
	ParentID  int64  `json:"parent_id"`
	Name      string `json:"name"`
	Title     string `json:"title"`
	Path      string `json:"path"`
	Component string `json:"component"`
	Icon      string `json:"icon"`
	SortOrder int    `json:"sort_order"`
	Hidden    bool   `json:"hidden"`
	Status    string `json:"status"`
}

func (d MenuDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("name", d.Name).Required().MaxLength(64)
	v.Field("title", d.Title).Required().MaxLength(128)
	v.Field("path", d.Path).MaxLength(255)
	v.Field("status", d.Status).OneOf(identity.StatusEnabled, identity.StatusDisabled)
	return v.Validate()
}

type IDsDTO struct {
	IDs []int64 `json:"ids"`
}

type RoleIDsDTO struct {
	RoleIDs []int64 `json:"role_ids"`
}

// MenuNode is one entry of a menu tree.
type MenuNode struct {
	*Menu
	Children []*MenuNode `json:"children"`
}

// UserWithRoles is the row shape of the /users listing.
type UserWithRoles struct {
	*identity.User
	Roles []*Role `json:"roles"`
}
