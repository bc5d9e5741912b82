package sysconfig

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/core/common/validation"
	"github.com/frahmantamala/ssoflow/internal/transport"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	Get(ctx context.Context, key string) (map[string]any, error)
	List(ctx context.Context) (map[string]any, error)
	Put(ctx context.Context, key string, raw json.RawMessage, userID int64) (map[string]any, error)
}

// EmailTester sends one message synchronously with the stored email settings.
type EmailTester interface {
	TestEmail(ctx context.Context, to string) error
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
	Tester  EmailTester
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI, tester EmailTester) *Handler {
	return &Handler{BaseHandler: baseHandler, Service: service, Tester: tester}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.Service.List(r.Context())
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, all)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	h.GetKey(chi.URLParam(r, "key"))(w, r)
}

func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	h.PutKey(chi.URLParam(r, "key"))(w, r)
}

// GetKey serves a fixed key, for the named routes.
func (h *Handler) GetKey(key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := h.Service.Get(r.Context(), key)
		if err != nil {
			h.HandleError(w, err)
			return
		}
		h.WriteSuccess(w, doc)
	}
}

func (h *Handler) PutKey(key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := h.Principal(w, r)
		if !ok {
			return
		}
		var raw json.RawMessage
		if err := h.DecodeJSON(r, &raw); err != nil {
			h.HandleError(w, err)
			return
		}
		doc, err := h.Service.Put(r.Context(), key, raw, p.UserID)
		if err != nil {
			h.HandleError(w, err)
			return
		}
		h.WriteSuccess(w, doc)
	}
}

type testEmailRequest struct {
	To string `json:"to"`
}

func (h *Handler) TestEmail(w http.ResponseWriter, r *http.Request) {
	var req testEmailRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.HandleError(w, err)
		return
	}
	v := validation.NewValidator()
	v.Field("to", req.To).Required().MaxLength(255)
	if err := v.Validate(); err != nil {
		h.HandleError(w, err)
		return
	}
	if err := h.Tester.TestEmail(r.Context(), req.To); err != nil {
		if _, ok := internal.IsAppError(err); ok {
			h.HandleError(w, err)
			return
		}
		h.HandleError(w, internal.NewExternalError("Test email failed: "+err.Error(), internal.ErrCodeNotificationFailed, err))
		return
	}
	h.WriteSuccess(w, map[string]any{"sent": true, "to": req.To})
}
