package flow

import (
	"context"
	"net/http"
	"strconv"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/transport"
)

type ServiceAPI interface {
	CreateFlow(ctx context.Context, dto FlowDTO) (*Flow, error)
	UpdateFlow(ctx context.Context, id int64, dto FlowDTO) (*Flow, error)
	GetFlow(ctx context.Context, id int64) (*Flow, error)
	ListFlows(ctx context.Context, f FlowFilter) ([]*Flow, int64, error)
	DeleteFlow(ctx context.Context, id int64) error
	GetNodes(ctx context.Context, flowID int64, version int) (*GraphView, error)
	SaveNodes(ctx context.Context, flowID int64, dto SaveNodesDTO) (*GraphView, error)
	Publish(ctx context.Context, flowID int64) (*Flow, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{BaseHandler: baseHandler, Service: service}
}

func (h *Handler) ListFlows(w http.ResponseWriter, r *http.Request) {
	q := transport.ParseListQuery(r)
	f := FlowFilter{PageRequest: q}
	if raw := r.URL.Query().Get("enabled"); raw != "" {
		if enabled, err := strconv.ParseBool(raw); err == nil {
			f.Enabled = &enabled
		}
	}
	list, total, err := h.Service.ListFlows(r.Context(), f)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WritePage(w, q, list, total)
}

func (h *Handler) GetFlow(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	f, err := h.Service.GetFlow(r.Context(), id)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, f)
}

func (h *Handler) CreateFlow(w http.ResponseWriter, r *http.Request) {
	var dto FlowDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	f, err := h.Service.CreateFlow(r.Context(), dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, f)
}

func (h *Handler) UpdateFlow(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	var dto FlowDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	f, err := h.Service.UpdateFlow(r.Context(), id, dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, f)
}

func (h *Handler) DeleteFlow(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	if err := h.Service.DeleteFlow(r.Context(), id); err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, nil)
}

// GetNodes accepts ?version=N to view a historical published version.
func (h *Handler) GetNodes(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	version := 0
	if raw := r.URL.Query().Get("version"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			h.HandleError(w, internal.NewValidationFieldError("version", "version must be a positive integer", internal.ErrCodeValidationFailed))
			return
		}
		version = v
	}
	view, err := h.Service.GetNodes(r.Context(), id, version)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, view)
}

func (h *Handler) SaveNodes(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	var dto SaveNodesDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	view, err := h.Service.SaveNodes(r.Context(), id, dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, view)
}

func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	f, err := h.Service.Publish(r.Context(), id)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, f)
}
