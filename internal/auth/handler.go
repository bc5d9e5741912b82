package auth

import (
	"context"
	"net/http"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/rbac"
	"github.com/frahmantamala/ssoflow/internal/transport"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	Login(ctx context.Context, dto LoginDTO, meta ClientMeta) (*LoginResult, error)
	SSOLogin(ctx context.Context, dto LoginDTO, meta ClientMeta) (*LoginResult, error)
	Logout(ctx context.Context, p *internal.Principal) error
	Me(ctx context.Context, p *internal.Principal) (*MeResponse, error)
	Menus(ctx context.Context, p *internal.Principal) ([]*rbac.MenuNode, error)
	ListSessions(ctx context.Context, p *internal.Principal) ([]*SessionView, error)
	RevokeSession(ctx context.Context, p *internal.Principal, sessionID string) error
	ServerInfo(ctx context.Context) (*ServerInfo, error)
	OIDCCallback(ctx context.Context, code, state string, meta ClientMeta) (*LoginResult, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, svc ServiceAPI) *Handler {
	return &Handler{BaseHandler: baseHandler, Service: svc}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var dto LoginDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	res, err := h.Service.Login(r.Context(), dto, ClientMetaFromRequest(r))
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, res)
}

func (h *Handler) SSOLogin(w http.ResponseWriter, r *http.Request) {
	var dto LoginDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	res, err := h.Service.SSOLogin(r.Context(), dto, ClientMetaFromRequest(r))
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, res)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := h.Principal(w, r)
	if !ok {
		return
	}
	if err := h.Service.Logout(r.Context(), p); err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, nil)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := h.Principal(w, r)
	if !ok {
		return
	}
	me, err := h.Service.Me(r.Context(), p)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, me)
}

func (h *Handler) Menus(w http.ResponseWriter, r *http.Request) {
	p, ok := h.Principal(w, r)
	if !ok {
		return
	}
	tree, err := h.Service.Menus(r.Context(), p)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, tree)
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := h.Principal(w, r)
	if !ok {
		return
	}
	list, err := h.Service.ListSessions(r.Context(), p)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, list)
}

func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	p, ok := h.Principal(w, r)
	if !ok {
		return
	}
	if err := h.Service.RevokeSession(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, nil)
}

func (h *Handler) ServerInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.Service.ServerInfo(r.Context())
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, info)
}

func (h *Handler) OIDCCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		h.HandleError(w, internal.NewUnauthorizedError("identity provider returned "+errCode, internal.ErrCodeInvalidCredentials).
			WithDetails(map[string]string{"error": errCode, "error_description": q.Get("error_description")}))
		return
	}
	res, err := h.Service.OIDCCallback(r.Context(), q.Get("code"), q.Get("state"), ClientMetaFromRequest(r))
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, res)
}
