package rbac

import (
	"context"
	"net/http"
	"strings"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/identity"
	"github.com/frahmantamala/ssoflow/internal/transport"
)

type ServiceAPI interface {
	CreateRole(ctx context.Context, dto RoleDTO) (*Role, error)
	UpdateRole(ctx context.Context, id int64, dto RoleDTO) (*Role, error)
	GetRole(ctx context.Context, id int64) (*Role, error)
	ListRoles(ctx context.Context, page internal.PageRequest) ([]*Role, int64, error)
	DeleteRole(ctx context.Context, id int64) error
	SetRolePermissions(ctx context.Context, roleID int64, ids []int64) error
	GetRolePermissions(ctx context.Context, roleID int64) ([]int64, error)
	SetRoleMenus(ctx context.Context, roleID int64, ids []int64) error
	GetRoleMenus(ctx context.Context, roleID int64) ([]int64, error)

	CreatePermission(ctx context.Context, dto PermissionDTO) (*Permission, error)
	UpdatePermission(ctx context.Context, id int64, dto PermissionDTO) (*Permission, error)
	GetPermission(ctx context.Context, id int64) (*Permission, error)
	ListPermissions(ctx context.Context, f PermissionFilter) ([]*Permission, int64, error)
	AllPermissions(ctx context.Context) ([]*Permission, error)
	DeletePermission(ctx context.Context, id int64) error
	PermissionResources(ctx context.Context) ([]string, error)

	CreateMenu(ctx context.Context, dto MenuDTO) (*Menu, error)
	UpdateMenu(ctx context.Context, id int64, dto MenuDTO) (*Menu, error)
	GetMenu(ctx context.Context, id int64) (*Menu, error)
	ListMenus(ctx context.Context) ([]*Menu, error)
	MenuTree(ctx context.Context) ([]*MenuNode, error)
	DeleteMenu(ctx context.Context, id int64) error

	ListUsersWithRoles(ctx context.Context, f identity.UserFilter) ([]*UserWithRoles, int64, error)
	SetUserRoles(ctx context.Context, userID int64, roleIDs []int64) error
	GetUserRoles(ctx context.Context, userID int64) ([]*Role, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{BaseHandler: baseHandler, Service: service}
}

func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	q := transport.ParseListQuery(r)
	list, total, err := h.Service.ListRoles(r.Context(), q)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WritePage(w, q, list, total)
}

func (h *Handler) GetRole(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	role, err := h.Service.GetRole(r.Context(), id)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, role)
}

func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var dto RoleDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	role, err := h.Service.CreateRole(r.Context(), dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, role)
}

func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	var dto RoleDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	role, err := h.Service.UpdateRole(r.Context(), id, dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, role)
}

func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	if err := h.Service.DeleteRole(r.Context(), id); err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, nil)
}

func (h *Handler) GetRolePermissions(w http.ResponseWriter, r *http.Request) {
	h.getIDs(w, r, h.Service.GetRolePermissions)
}

func (h *Handler) SetRolePermissions(w http.ResponseWriter, r *http.Request) {
	h.setIDs(w, r, h.Service.SetRolePermissions)
}

func (h *Handler) GetRoleMenus(w http.ResponseWriter, r *http.Request) {
	h.getIDs(w, r, h.Service.GetRoleMenus)
}

func (h *Handler) SetRoleMenus(w http.ResponseWriter, r *http.Request) {
	h.setIDs(w, r, h.Service.SetRoleMenus)
}

func (h *Handler) getIDs(w http.ResponseWriter, r *http.Request, get func(context.Context, int64) ([]int64, error)) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	ids, err := get(r.Context(), id)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	h.WriteSuccess(w, ids)
}

func (h *Handler) setIDs(w http.ResponseWriter, r *http.Request, set func(context.Context, int64, []int64) error) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	var dto IDsDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	if err := set(r.Context(), id, dto.IDs); err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, nil)
}

func (h *Handler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	q := transport.ParseListQuery(r)
	f := PermissionFilter{
		PageRequest: q,
		Resource:    r.URL.Query().Get("resource"),
		Method:      strings.ToUpper(r.URL.Query().Get("method")),
	}
	list, total, err := h.Service.ListPermissions(r.Context(), f)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WritePage(w, q, list, total)
}

func (h *Handler) AllPermissions(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.AllPermissions(r.Context())
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, list)
}

func (h *Handler) PermissionResources(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.PermissionResources(r.Context())
	if err != nil {
		h.HandleError(w, err)
		return
	}
	if list == nil {
		list = []string{}
	}
	h.WriteSuccess(w, list)
}

func (h *Handler) GetPermission(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	p, err := h.Service.GetPermission(r.Context(), id)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, p)
}

func (h *Handler) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var dto PermissionDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	p, err := h.Service.CreatePermission(r.Context(), dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, p)
}

func (h *Handler) UpdatePermission(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	var dto PermissionDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	p, err := h.Service.UpdatePermission(r.Context(), id, dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, p)
}

func (h *Handler) DeletePermission(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	if err := h.Service.DeletePermission(r.Context(), id); err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, nil)
}

func (h *Handler) ListMenus(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListMenus(r.Context())
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, list)
}

func (h *Handler) MenuTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.Service.MenuTree(r.Context())
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, tree)
}

func (h *Handler) GetMenu(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	m, err := h.Service.GetMenu(r.Context(), id)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, m)
}

func (h *Handler) CreateMenu(w http.ResponseWriter, r *http.Request) {
	var dto MenuDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	m, err := h.Service.CreateMenu(r.Context(), dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, m)
}

func (h *Handler) UpdateMenu(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	var dto MenuDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	m, err := h.Service.UpdateMenu(r.Context(), id, dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, m)
}

func (h *Handler) DeleteMenu(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	if err := h.Service.DeleteMenu(r.Context(), id); err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, nil)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := transport.ParseListQuery(r)
	f := identity.UserFilter{PageRequest: q, TenantID: transport.QueryInt64(r, "tenant_id"), Status: r.URL.Query().Get("status")}
	list, total, err := h.Service.ListUsersWithRoles(r.Context(), f)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WritePage(w, q, list, total)
}

func (h *Handler) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	roles, err := h.Service.GetUserRoles(r.Context(), id)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, roles)
}

func (h *Handler) SetUserRoles(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	var dto RoleIDsDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	if err := h.Service.SetUserRoles(r.Context(), id, dto.RoleIDs); err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, nil)
}
