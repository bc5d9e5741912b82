package ticket

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/transport"
)

type ServiceAPI interface {
	CreateType(ctx context.Context, dto TypeDTO) (*Type, error)
	UpdateType(ctx context.Context, id int64, dto TypeDTO) (*Type, error)
	GetType(ctx context.Context, id int64) (*Type, error)
	ListTypes(ctx context.Context, f TypeFilter) ([]*Type, int64, error)
	EnabledTypes(ctx context.Context) ([]*Type, error)
	DeleteType(ctx context.Context, id int64) error

	Create(ctx context.Context, p *internal.Principal, dto CreateTicketDTO) (*Ticket, error)
	Get(ctx context.Context, p *internal.Principal, id int64) (*Detail, error)
	Edit(ctx context.Context, p *internal.Principal, id int64, dto UpdateTicketDTO) (*Ticket, error)
	Delete(ctx context.Context, p *internal.Principal, id int64) error
	Submit(ctx context.Context, p *internal.Principal, id int64) (*Ticket, error)
	Approve(ctx context.Context, p *internal.Principal, id int64, dto ApproveDTO) (*Ticket, error)
	Process(ctx context.Context, p *internal.Principal, id int64) (*Ticket, error)
	Complete(ctx context.Context, p *internal.Principal, id int64) (*Ticket, error)
	Cancel(ctx context.Context, p *internal.Principal, id int64) (*Ticket, error)
	CanApprove(ctx context.Context, p *internal.Principal, id int64) (*CanApproveView, error)

	List(ctx context.Context, p *internal.Principal, f Filter, all bool) ([]*Ticket, int64, error)
	Pending(ctx context.Context, p *internal.Principal, page internal.PageRequest) ([]*Ticket, int64, error)
	Processed(ctx context.Context, p *internal.Principal, page internal.PageRequest) ([]*Ticket, int64, error)
	CopiedToMe(ctx context.Context, p *internal.Principal, page internal.PageRequest) ([]*Ticket, int64, error)
	Stats(ctx context.Context, p *internal.Principal) (*Stats, error)

	AddComment(ctx context.Context, p *internal.Principal, id int64, dto CommentDTO) (*Comment, error)
	Comments(ctx context.Context, p *internal.Principal, id int64) ([]*Comment, error)

	Upload(ctx context.Context, p *internal.Principal, id int64, u Upload, r io.Reader) (*AttachmentView, error)
	Attachments(ctx context.Context, p *internal.Principal, id int64) ([]*AttachmentView, error)
	Download(ctx context.Context, p *internal.Principal, id, attachmentID int64) (io.ReadCloser, *Download, error)
	DeleteAttachment(ctx context.Context, p *internal.Principal, id, attachmentID int64) error
}

type Handler struct {
	*transport.BaseHandler
	Service       ServiceAPI
	MaxUploadSize int64
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI, maxUploadSize int64) *Handler {
	return &Handler{BaseHandler: baseHandler, Service: service, MaxUploadSize: maxUploadSize}
}

// Ticket types

func (h *Handler) ListTypes(w http.ResponseWriter, r *http.Request) {
	q := transport.ParseListQuery(r)
	f := TypeFilter{PageRequest: q}
	if raw := r.URL.Query().Get("enabled"); raw != "" {
		if enabled, err := strconv.ParseBool(raw); err == nil {
			f.Enabled = &enabled
		}
	}
	list, total, err := h.Service.ListTypes(r.Context(), f)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WritePage(w, q, list, total)
}

func (h *Handler) EnabledTypes(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.EnabledTypes(r.Context())
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, list)
}

func (h *Handler) GetType(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	t, err := h.Service.GetType(r.Context(), id)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, t)
}

func (h *Handler) CreateType(w http.ResponseWriter, r *http.Request) {
	var dto TypeDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	t, err := h.Service.CreateType(r.Context(), dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, t)
}

func (h *Handler) UpdateType(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	var dto TypeDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	t, err := h.Service.UpdateType(r.Context(), id, dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, t)
}

func (h *Handler) DeleteType(w http.ResponseWriter, r *http.Request) {
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	if err := h.Service.DeleteType(r.Context(), id); err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, nil)
}

// Tickets

// List serves the caller's tickets. scope=all widens the list to every ticket for admins.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := h.Principal(w, r)
	if !ok {
		return
	}
	q := transport.ParseListQuery(r)
	f := Filter{
		PageRequest: q,
		Status:      r.URL.Query().Get("status"),
		TypeID:      transport.QueryInt64(r, "type_id"),
	}
	list, total, err := h.Service.List(r.Context(), p, f, r.URL.Query().Get("scope") == "all")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WritePage(w, q, list, total)
}

func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	h.writeInbox(w, r, h.Service.Pending)
}

func (h *Handler) Processed(w http.ResponseWriter, r *http.Request) {
	h.writeInbox(w, r, h.Service.Processed)
}

func (h *Handler) CopiedToMe(w http.ResponseWriter, r *http.Request) {
	h.writeInbox(w, r, h.Service.CopiedToMe)
}

type inboxFunc func(ctx context.Context, p *internal.Principal, page internal.PageRequest) ([]*Ticket, int64, error)

func (h *Handler) writeInbox(w http.ResponseWriter, r *http.Request, fetch inboxFunc) {
	p, ok := h.Principal(w, r)
	if !ok {
		return
	}
	q := transport.ParseListQuery(r)
	list, total, err := fetch(r.Context(), p, q)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WritePage(w, q, list, total)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	p, ok := h.Principal(w, r)
	if !ok {
		return
	}
	stats, err := h.Service.Stats(r.Context(), p)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, stats)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := h.Principal(w, r)
	if !ok {
		return
	}
	var dto CreateTicketDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	t, err := h.Service.Create(r.Context(), p, dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, t)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	d, err := h.Service.Get(r.Context(), p, id)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, d)
}

func (h *Handler) Edit(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	var dto UpdateTicketDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	t, err := h.Service.Edit(r.Context(), p, id, dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, t)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	if err := h.Service.Delete(r.Context(), p, id); err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, nil)
}

type actionFunc func(ctx context.Context, p *internal.Principal, id int64) (*Ticket, error)

func (h *Handler) action(fn actionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, id, ok := h.principalAndID(w, r)
		if !ok {
			return
		}
		t, err := fn(r.Context(), p, id)
		if err != nil {
			h.HandleError(w, err)
			return
		}
		h.WriteSuccess(w, t)
	}
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	h.action(h.Service.Submit)(w, r)
}

func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	h.action(h.Service.Process)(w, r)
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	h.action(h.Service.Complete)(w, r)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.action(h.Service.Cancel)(w, r)
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	var dto ApproveDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	t, err := h.Service.Approve(r.Context(), p, id, dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, t)
}

func (h *Handler) CanApprove(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	v, err := h.Service.CanApprove(r.Context(), p, id)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, v)
}

func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	var dto CommentDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleError(w, err)
		return
	}
	c, err := h.Service.AddComment(r.Context(), p, id, dto)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, c)
}

func (h *Handler) Comments(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	list, err := h.Service.Comments(r.Context(), p, id)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, list)
}

// Attachments

// Upload takes a multipart form with a single "file" part.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	// headroom for the multipart envelope around the file
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadSize+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.HandleError(w, ErrUploadTooLarge)
			return
		}
		h.HandleError(w, internal.NewValidationError("invalid multipart body", internal.ErrCodeInvalidBody).WithCause(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.HandleError(w, internal.NewValidationFieldError("file", "file is required", internal.ErrCodeValidationFailed))
		return
	}
	defer file.Close()

	u := Upload{FileName: header.Filename, Size: header.Size, ContentType: header.Header.Get("Content-Type")}
	view, err := h.Service.Upload(r.Context(), p, id, u, file)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, view)
}

func (h *Handler) Attachments(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	list, err := h.Service.Attachments(r.Context(), p, id)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, list)
}

func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	attID, err := h.ParseIDParam(r, "attachmentID")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	rc, d, err := h.Service.Download(r.Context(), p, id, attID)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", d.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(d.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.FileName}))
	w.Header().Set("Last-Modified", d.ModTime.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.Logger.Warn("attachment download interrupted", "ticket_id", id, "attachment_id", attID, "error", err)
	}
}

func (h *Handler) DeleteAttachment(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	attID, err := h.ParseIDParam(r, "attachmentID")
	if err != nil {
		h.HandleError(w, err)
		return
	}
	if err := h.Service.DeleteAttachment(r.Context(), p, id, attID); err != nil {
		h.HandleError(w, err)
		return
	}
	h.WriteSuccess(w, nil)
}

func (h *Handler) principalAndID(w http.ResponseWriter, r *http.Request) (*internal.Principal, int64, bool) {
	p, ok := h.Principal(w, r)
	if !ok {
		return nil, 0, false
	}
	id, err := h.ParseIDParam(r, "id")
	if err != nil {
		h.HandleError(w, err)
		return nil, 0, false
	}
	return p, id, true
}
