package oidc

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/transport"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	Authorize(ctx context.Context, req AuthorizeRequest, p *internal.Principal) (*AuthorizeResult, error)
	Confirm(ctx context.Context, req ConfirmRequest, p *internal.Principal) (*AuthorizeResult, error)
	Token(ctx context.Context, req TokenRequest) (*TokenResponse, error)
	UserInfo(ctx context.Context, rawAccessToken string) (*UserInfo, error)
	EndSession(ctx context.Context, req EndSessionRequest, p *internal.Principal) (string, error)
	AuthorizedApps(ctx context.Context, userID int64) ([]*AuthorizedAppView, error)
	RevokeAuthorizedApp(ctx context.Context, userID int64, clientID string) error
	Discovery() *Discovery
	JWKS() JWKS

	CreateClient(ctx context.Context, dto ClientDTO) (*ClientWithSecret, error)
	UpdateClient(ctx context.Context, id int64, dto ClientDTO) (*Client, error)
	GetClient(ctx context.Context, id int64) (*Client, error)
	ListClients(ctx context.Context, f ClientFilter) ([]*Client, int64, error)
	DeleteClient(ctx context.Context, id int64) error
	RotateSecret(ctx context.Context, id int64) (*ClientWithSecret, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, svc ServiceAPI) *Handler {
	return &Handler{BaseHandler: baseHandler, Service: svc}
}

// wantsRedirect is true for top level browser navigations; the SPA calls the same endpoints with
// Accept: application/json and follows redirect_url itself.
func wantsRedirect(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// writeProtocolError redirects to the client when the error is redirectable and the request came
// from a browser, otherwise renders {error, error_description}.
func (h *Handler) writeProtocolError(w http.ResponseWriter, r *http.Request, err error) {
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		h.HandleError(w, err)
		return
	}
	redirect := perr.RedirectURL()
	if redirect != "" && wantsRedirect(r) {
		http.Redirect(w, r, redirect, http.StatusFound)
		return
	}
	if perr.Code == ErrInvalidClient {
		w.Header().Set("WWW-Authenticate", `Basic realm="sso"`)
	}
	if perr.Code == ErrInvalidToken {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	body := struct {
		*ProtocolError
		RedirectURL string `json:"redirect_url,omitempty"`
	}{perr, redirect}
	h.writeNoStore(w, perr.HTTPStatus(), body)
}

func (h *Handler) writeNoStore(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	h.WriteJSON(w, status, v)
}

func authorizeRequestFrom(values url.Values) AuthorizeRequest {
	return AuthorizeRequest{
		ResponseType: values.Get("response_type"),
		ClientID:     values.Get("client_id"),
		RedirectURI:  values.Get("redirect_uri"),
		Scope:        values.Get("scope"),
		State:        values.Get("state"),
		Nonce:        values.Get("nonce"),
		Prompt:       values.Get("prompt"),
	}
}

// Authorize serves GET and POST /sso/authorize. POST accepts a form or a JSON body.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	req := authorizeRequestFrom(r.URL.Query())
	if r.Method == http.MethodPost {
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			if err := h.DecodeJSON(r, &req); err != nil {
				h.HandleError(w, err)
				return
			}
		} else {
			if err := r.ParseForm(); err != nil {
				h.writeProtocolError(w, r, protocolError(ErrInvalidRequest, "malformed form body"))
				return
			}
			req = authorizeRequestFrom(r.Form)
		}
	}
	p, _ := internal.PrincipalFromContext(r.Context())
	res, err := h.Service.Authorize(r.Context(), req, p)
	if err != nil {
		h.writeProtocolError(w, r, err)
		return
	}
	if wantsRedirect(r) {
		switch {
		case res.RedirectURL != "":
			http.Redirect(w, r, res.RedirectURL, http.StatusFound)
			return
		case res.LoginRequired:
			http.Redirect(w, r, res.LoginURL, http.StatusFound)
			return
		}
	}
	h.WriteSuccess(w, res)
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	p, ok := h.Principal(w, r)
	if !ok {
		return
	}
	var req ConfirmRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.HandleError(w, err)
		return
	}
	res, err := h.Service.Confirm(r.Context(), req, p)
	if err != nil {
		h.writeProtocolError(w, r, err)
		return
	}
	h.WriteSuccess(w, res)
}

// Token accepts client_secret_basic and client_secret_post authentication.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeProtocolError(w, r, protocolError(ErrInvalidRequest, "malformed form body"))
		return
	}
	req := TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		RefreshToken: r.PostForm.Get("refresh_token"),
		Scope:        r.PostForm.Get("scope"),
		ClientID:     r.PostForm.Get("client_id"),
		ClientSecret: r.PostForm.Get("client_secret"),
	}
	if id, secret, ok := r.BasicAuth(); ok {
		if req.ClientID != "" && req.ClientID != unescape(id) {
			h.writeProtocolError(w, r, protocolError(ErrInvalidRequest, "client_id does not match the authorization header"))
			return
		}
		req.ClientID, req.ClientSecret = unescape(id), unescape(secret)
	}
	res, err := h.Service.Token(r.Context(), req)
	if err != nil {
		h.writeProtocolError(w, r, err)
		return
	}
	h.writeNoStore(w, http.StatusOK, res)
}

// unescape reverses the form encoding RFC 6749 applies to basic auth credentials.
func unescape(v string) string {
	if out, err := url.QueryUnescape(v); err == nil {
		return out
	}
	return v
}

func (h *Handler) UserInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.Service.UserInfo(r.Context(), transport.ExtractTokenFromHeader(r))
	if err != nil {
		h.writeProtocolError(w, r, err)
		return
	}
	h.writeNoStore(w, http.StatusOK, info)
}

func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, http.StatusOK, h.Service.JWKS())
}

func (h *Handler) Discovery(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, http.StatusOK, h.Service.Discovery())
}

// EndSession serves GET and POST /sso/logout.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeProtocolError(w, r, protocolError(ErrInvalidRequest, "malformed form body"))
		return
	}
	req := EndSessionRequest{
		IDTokenHint:           r.Form.Get("id_token_hint"),
		ClientID:              r.Form.Get("client_id"),
		PostLogoutRedirectURI: r.Form.Get("post_logout_redirect_uri"),
		State:                 r.Form.Get("state"),
	}
	p, _ := internal.PrincipalFromContext(r.Context())
	redirect, err := h.Service.EndSession(r.Context(), req, p)
	if err != nil {
		h.writeProtocolError(w, r, err)
		return
	}
	if redirect != "" && wantsRedirect(r) {
		http.Redirect(w, r, redirect, http.StatusFound)
		return
	}
	h.WriteSuccess(w, map[string]interface{}{"logged_out": true, "redirect_url": redirect})
}

func (h *Handler) AuthorizedApps(w http.ResponseWriter, r *http.Request) {
	p, ok := h.Principal(w, r)
	if !ok {
		return
	}
	apps, err := h.Service.AuthorizedApps(r.Context(), p.UserID)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, apps)
}

func (h *Handler) RevokeAuthorizedApp(w http.ResponseWriter, r *http.Request) {
	p, ok := h.Principal(w, r)
	if !ok {
		return
	}
	if err := h.Service.RevokeAuthorizedApp(r.Context(), p.UserID, chi.URLParam(r, "client_id")); err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, nil)
}

func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	q := transport.ParseListQuery(r)
	f := ClientFilter{PageRequest: q, TenantID: transport.QueryInt64(r, "tenant_id"), Status: r.URL.Query().Get("status")}
	list, total, err := h.Service.ListClients(r.Context(), f)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WritePage(w, q, list, total)
}

func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	c, err := h.Service.GetClient(r.Context(), id)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, c)
}

func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var dto ClientDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	c, err := h.Service.CreateClient(r.Context(), dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, c)
}

func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	var dto ClientDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	c, err := h.Service.UpdateClient(r.Context(), id, dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, c)
}

func (h *Handler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	if err := h.Service.DeleteClient(r.Context(), id); err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, nil)
}

func (h *Handler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	c, err := h.Service.RotateSecret(r.Context(), id)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, c)
}
