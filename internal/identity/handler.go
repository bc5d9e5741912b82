package identity

import (
	"context"
	"net/http"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/transport"
)

type ServiceAPI interface {
	CreateTenant(ctx context.Context, dto TenantDTO) (*Tenant, error)
	UpdateTenant(ctx context.Context, id int64, dto TenantDTO) (*Tenant, error)
	GetTenant(ctx context.Context, id int64) (*Tenant, error)
	ListTenants(ctx context.Context, f TenantFilter) ([]*Tenant, int64, error)
	DeleteTenant(ctx context.Context, id int64) error

	CreateUser(ctx context.Context, dto CreateUserDTO) (*User, error)
	UpdateUser(ctx context.Context, id int64, dto UpdateUserDTO) (*User, error)
	GetUser(ctx context.Context, id int64) (*UserView, error)
	ListUsers(ctx context.Context, f UserFilter) ([]*User, int64, error)
	DeleteUser(ctx context.Context, id int64) error
	ResetPassword(ctx context.Context, id int64, dto ResetPasswordDTO) error
	ChangePassword(ctx context.Context, userID int64, dto ChangePasswordDTO) error
	SetUserGroups(ctx context.Context, userID int64, groupIDs []int64) error
	GetUserGroups(ctx context.Context, userID int64) ([]*Group, error)

	CreateGroup(ctx context.Context, dto GroupDTO) (*Group, error)
	UpdateGroup(ctx context.Context, id int64, dto GroupDTO) (*Group, error)
	GetGroup(ctx context.Context, id int64) (*Group, error)
	ListGroups(ctx context.Context, f GroupFilter) ([]*Group, int64, error)
	DeleteGroup(ctx context.Context, id int64) error
	ListGroupMembers(ctx context.Context, groupID int64, page internal.PageRequest) ([]*User, int64, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{BaseHandler: baseHandler, Service: service}
}

func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	q := transport.ParseListQuery(r)
	list, total, err := h.Service.ListTenants(r.Context(), TenantFilter{PageRequest: q, Status: r.URL.Query().Get("status")})
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WritePage(w, q, list, total)
}

func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	t, err := h.Service.GetTenant(r.Context(), id)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, t)
}

func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var dto TenantDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	t, err := h.Service.CreateTenant(r.Context(), dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, t)
}

func (h *Handler) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	var dto TenantDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	t, err := h.Service.UpdateTenant(r.Context(), id, dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, t)
}

func (h *Handler) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	if err := h.Service.DeleteTenant(r.Context(), id); err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, nil)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := transport.ParseListQuery(r)
	f := UserFilter{
		PageRequest: q,
		TenantID:    transport.QueryInt64(r, "tenant_id"),
		GroupID:     transport.QueryInt64(r, "group_id"),
		Status:      r.URL.Query().Get("status"),
	}
	list, total, err := h.Service.ListUsers(r.Context(), f)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WritePage(w, q, list, total)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	u, err := h.Service.GetUser(r.Context(), id)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, u)
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var dto CreateUserDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	u, err := h.Service.CreateUser(r.Context(), dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, u)
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	var dto UpdateUserDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	u, err := h.Service.UpdateUser(r.Context(), id, dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, u)
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	if err := h.Service.DeleteUser(r.Context(), id); err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, nil)
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	var dto ResetPasswordDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	if err := h.Service.ResetPassword(r.Context(), id, dto); err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, nil)
}

func (h *Handler) GetUserGroups(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	groups, err := h.Service.GetUserGroups(r.Context(), id)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, groups)
}

func (h *Handler) SetUserGroups(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	var dto UserGroupsDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	if err := h.Service.SetUserGroups(r.Context(), id, dto.GroupIDs); err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, nil)
}

func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	q := transport.ParseListQuery(r)
	list, total, err := h.Service.ListGroups(r.Context(), GroupFilter{PageRequest: q, TenantID: transport.QueryInt64(r, "tenant_id")})
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WritePage(w, q, list, total)
}

func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	g, err := h.Service.GetGroup(r.Context(), id)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, g)
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var dto GroupDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	g, err := h.Service.CreateGroup(r.Context(), dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, g)
}

func (h *Handler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	var dto GroupDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	g, err := h.Service.UpdateGroup(r.Context(), id, dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, g)
}

func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	if err := h.Service.DeleteGroup(r.Context(), id); err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, nil)
}

func (h *Handler) ListGroupMembers(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	q := transport.ParseListQuery(r)
	list, total, err := h.Service.ListGroupMembers(r.Context(), id, q)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WritePage(w, q, list, total)
}

// AccountMe returns the caller's own profile.
func (h *Handler) AccountMe(w http.ResponseWriter, r *http.Request) {
	p, ok := h.Principal(w, r)
	if !ok {
		return
	}
	u, err := h.Service.GetUser(r.Context(), p.UserID)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, u)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := h.Principal(w, r)
	if !ok {
		return
	}
	var dto ChangePasswordDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	if err := h.Service.ChangePassword(r.Context(), p.UserID, dto); err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, nil)
}
