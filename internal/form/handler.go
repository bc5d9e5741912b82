package form

import (
	"context"
	"net/http"
	"strconv"

	"github.com/frahmantamala/ssoflow/internal/transport"
)

type ServiceAPI interface {
	CreateTemplate(ctx context.Context, dto TemplateDTO) (*Template, error)
	UpdateTemplate(ctx context.Context, id int64, dto TemplateDTO) (*Template, error)
	GetTemplate(ctx context.Context, id int64) (*TemplateDetail, error)
	ListTemplates(ctx context.Context, f TemplateFilter) ([]*Template, int64, error)
	DeleteTemplate(ctx context.Context, id int64) error
	GetFields(ctx context.Context, templateID int64) ([]*Field, error)
	ReplaceFields(ctx context.Context, templateID int64, dto FieldsDTO) ([]*Field, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{BaseHandler: baseHandler, Service: service}
}

func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	q := transport.ParseListQuery(r)
	f := TemplateFilter{PageRequest: q}
	if raw := r.URL.Query().Get("enabled"); raw != "" {
		if enabled, err := strconv.ParseBool(raw); err == nil {
			f.Enabled = &enabled
		}
	}
	list, total, err := h.Service.ListTemplates(r.Context(), f)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WritePage(w, q, list, total)
}

func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	t, err := h.Service.GetTemplate(r.Context(), id)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, t)
}

func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var dto TemplateDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	t, err := h.Service.CreateTemplate(r.Context(), dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, t)
}

func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	var dto TemplateDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	t, err := h.Service.UpdateTemplate(r.Context(), id, dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, t)
}

func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	if err := h.Service.DeleteTemplate(r.Context(), id); err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, nil)
}

func (h *Handler) GetFields(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	fields, err := h.Service.GetFields(r.Context(), id)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, fields)
}

func (h *Handler) ReplaceFields(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	var dto FieldsDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	fields, err := h.Service.ReplaceFields(r.Context(), id, dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, fields)
}
