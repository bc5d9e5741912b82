package ticket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/blob"
	"github.com/frahmantamala/ssoflow/internal/core/events"
	"github.com/frahmantamala/ssoflow/internal/flow"
	"github.com/frahmantamala/ssoflow/internal/form"
	"github.com/frahmantamala/ssoflow/internal/identity"
	"github.com/frahmantamala/ssoflow/pkg/ids"
	"github.com/frahmantamala/ssoflow/pkg/metrics"
)

type Forms interface {
	GetTemplate(ctx context.Context, id int64) (*form.TemplateDetail, error)
	ValidateSubmission(ctx context.Context, templateID int64, values map[string]any) (*form.Submission, error)
	ValidateDraft(ctx context.Context, templateID int64, values map[string]any) (*form.Submission, error)
}

type Flows interface {
	GetFlow(ctx context.Context, id int64) (*flow.Flow, error)
	Compile(ctx context.Context, flowID int64, version int) (*flow.Compiled, error)
	CompileLatest(ctx context.Context, flowID int64) (*flow.Compiled, error)
}

type Roles interface {
	UserIDsWithRole(ctx context.Context, roleID int64) ([]int64, error)
}

type Users interface {
	IsActive(ctx context.Context, userID int64) (*identity.User, bool, error)
}

type Dependencies struct {
	Repo   Repository
	Stats  StatsRepository
	Forms  Forms
	Flows  Flows
	Roles  Roles
	Users  Users
	Blobs  blob.Store
	Events events.Publisher
}

type Options struct {
	MaxUploadSize int64
	// DecisionAttempts bounds how often a decision is recomputed after losing a concurrent update.
	DecisionAttempts int
}

type Service struct {
	repo   Repository
	stats  StatsRepository
	forms  Forms
	flows  Flows
	roles  Roles
	users  Users
	blobs  blob.Store
	events events.Publisher
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

func NewService(deps Dependencies, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 20 << 20
	}
	if opts.DecisionAttempts <= 0 {
		opts.DecisionAttempts = 3
	}
	return &Service{
		repo:   deps.Repo,
		stats:  deps.Stats,
		forms:  deps.Forms,
		flows:  deps.Flows,
		roles:  deps.Roles,
		users:  deps.Users,
		blobs:  deps.Blobs,
		events: deps.Events,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Ticket types

func (s *Service) CreateType(ctx context.Context, dto TypeDTO) (*Type, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkBindings(ctx, dto); err != nil {
		return nil, err
	}
	t := &Type{
		Name:        strings.TrimSpace(dto.Name),
		Description: dto.Description,
		Icon:        dto.Icon,
		TemplateID:  dto.TemplateID,
		FlowID:      dto.FlowID,
		Enabled:     true,
	}
	if dto.Enabled != nil {
		t.Enabled = *dto.Enabled
	}
	if err := s.repo.CreateType(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info("ticket type created", "type_id", t.ID, "name", t.Name)
	return t, nil
}

func (s *Service) UpdateType(ctx context.Context, id int64, dto TypeDTO) (*Type, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	t, err := s.repo.GetType(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkBindings(ctx, dto); err != nil {
		return nil, err
	}
	t.Name = strings.TrimSpace(dto.Name)
	t.Description = dto.Description
	t.Icon = dto.Icon
	t.TemplateID = dto.TemplateID
	t.FlowID = dto.FlowID
	if dto.Enabled != nil {
		t.Enabled = *dto.Enabled
	}
	if err := s.repo.UpdateType(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) checkBindings(ctx context.Context, dto TypeDTO) error {
	var errs internal.ValidationErrors
	if dto.TemplateID != nil {
		if _, err := s.forms.GetTemplate(ctx, *dto.TemplateID); err != nil {
			if !isNotFound(err) {
				return err
			}
			errs.Add("template_id", "form template does not exist", string(internal.ErrCodeNotFound))
		}
	}
	if dto.FlowID != nil {
		if _, err := s.flows.GetFlow(ctx, *dto.FlowID); err != nil {
			if !isNotFound(err) {
				return err
			}
			errs.Add("flow_id", "approval flow does not exist", string(internal.ErrCodeNotFound))
		}
	}
	return errs.AsError()
}

func (s *Service) GetType(ctx context.Context, id int64) (*Type, error) {
	return s.repo.GetType(ctx, id)
}

func (s *Service) ListTypes(ctx context.Context, f TypeFilter) ([]*Type, int64, error) {
	return s.repo.ListTypes(ctx, f)
}

// EnabledTypes is the catalogue offered when creating a ticket.
func (s *Service) EnabledTypes(ctx context.Context) ([]*Type, error) {
	enabled := true
	list, _, err := s.repo.ListTypes(ctx, TypeFilter{PageRequest: internal.PageRequest{PageSize: 500}, Enabled: &enabled})
	return list, err
}

func (s *Service) DeleteType(ctx context.Context, id int64) error {
	if _, err := s.repo.GetType(ctx, id); err != nil {
		return err
	}
	n, err := s.repo.CountTypeUsage(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrTypeInUse
	}
	return s.repo.DeleteType(ctx, id)
}

// Tickets

func (s *Service) Create(ctx context.Context, p *internal.Principal, dto CreateTicketDTO) (*Ticket, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	typ, err := s.repo.GetType(ctx, dto.TypeID)
	if err != nil {
		if isNotFound(err) {
			return nil, internal.NewValidationFieldError("type_id", "ticket type does not exist", internal.ErrCodeNotFound)
		}
		return nil, err
	}
	if !typ.Enabled {
		return nil, ErrTypeDisabled
	}

	var data []*FieldData
	if typ.TemplateID != nil {
		sub, err := s.forms.ValidateDraft(ctx, *typ.TemplateID, dto.FormData)
		if err != nil {
			return nil, err
		}
		data = snapshot(0, sub)
	}

	t := &Ticket{
		TicketNo:    "TK" + ids.New(),
		Title:       strings.TrimSpace(dto.Title),
		Description: dto.Description,
		TypeID:      typ.ID,
		TemplateID:  typ.TemplateID,
		Priority:    priorityOrDefault(dto.Priority),
		Status:      StatusDraft,
		CreatorID:   p.UserID,
		AssigneeID:  dto.AssigneeID,
		FlowID:      typ.FlowID,
	}
	if err := s.repo.CreateTicket(ctx, t, data); err != nil {
		return nil, err
	}
	s.logger.Info("ticket created", "ticket_id", t.ID, "ticket_no", t.TicketNo, "user_id", p.UserID, "type_id", typ.ID)
	return t, nil
}

func priorityOrDefault(p int) int {
	if p < PriorityLow || p > PriorityUrgent {
		return PriorityNormal
	}
	return p
}

func (s *Service) Get(ctx context.Context, p *internal.Principal, id int64) (*Detail, error) {
	t, err := s.repo.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canView(ctx, p, t); err != nil {
		return nil, err
	}
	d := &Detail{Ticket: t}
	if typ, err := s.repo.GetType(ctx, t.TypeID); err == nil {
		d.TypeName = typ.Name
	}
	if d.Fields, err = s.repo.ListFieldData(ctx, t.ID); err != nil {
		return nil, err
	}
	d.FormData = values(d.Fields)
	if d.Records, err = s.repo.ListRecords(ctx, t.ID); err != nil {
		return nil, err
	}
	if d.Attachments, err = s.repo.ListAttachments(ctx, t.ID); err != nil {
		return nil, err
	}
	if t.Status == StatusPending && t.CurrentNodeID != nil && t.FlowID != nil {
		view, err := s.currentNode(ctx, t, d.Records)
		if err != nil {
			return nil, err
		}
		d.CurrentNode = view
		d.CanApprove = !contains(view.Decided, p.UserID) && (p.IsAdmin || contains(view.Approvers, p.UserID))
	}
	return d, nil
}

func (s *Service) currentNode(ctx context.Context, t *Ticket, records []*Record) (*NodeView, error) {
	c, err := s.flows.Compile(ctx, *t.FlowID, t.FlowVersion)
	if err != nil {
		return nil, err
	}
	n, ok := c.Node(*t.CurrentNodeID)
	if !ok {
		return nil, internal.NewInternalError("ticket points at a node outside its flow version", nil)
	}
	approvers, err := s.repo.ListApprovers(ctx, t.ID, n.ID, t.NodeVisit)
	if err != nil {
		return nil, err
	}
	view := &NodeView{ID: n.ID, Key: n.Key, Name: n.Name, NodeType: n.Type, Visit: t.NodeVisit, Approvers: approvers, Decided: []int64{}}
	for _, r := range records {
		if r.NodeID == n.ID && r.Visit == t.NodeVisit {
			view.Decided = append(view.Decided, r.ApproverID)
		}
	}
	return view, nil
}

func (s *Service) Edit(ctx context.Context, p *internal.Principal, id int64, dto UpdateTicketDTO) (*Ticket, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	t, err := s.repo.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ownerOrAdmin(p, t); err != nil {
		return nil, err
	}
	if t.Status != StatusDraft {
		return nil, ErrInvalidTransition.WithMessage("Only draft tickets can be edited")
	}

	next := *t
	next.Title = strings.TrimSpace(dto.Title)
	next.Description = dto.Description
	next.Priority = priorityOrDefault(dto.Priority)
	next.AssigneeID = dto.AssigneeID
	tr := &Transition{Ticket: &next}
	if dto.FormData != nil && t.TemplateID != nil {
		sub, err := s.forms.ValidateDraft(ctx, *t.TemplateID, dto.FormData)
		if err != nil {
			return nil, err
		}
		tr.FieldData = snapshot(t.ID, sub)
		tr.ReplaceFieldData = true
	}
	if err := s.repo.Apply(ctx, tr); err != nil {
		return nil, err
	}
	return &next, nil
}

func (s *Service) Delete(ctx context.Context, p *internal.Principal, id int64) error {
	t, err := s.repo.GetTicket(ctx, id)
	if err != nil {
		return err
	}
	if err := ownerOrAdmin(p, t); err != nil {
		return err
	}
	if t.Status != StatusDraft {
		return ErrInvalidTransition.WithMessage("Only draft tickets can be deleted")
	}
	attachments, err := s.repo.ListAttachments(ctx, t.ID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteDraft(ctx, t.ID); err != nil {
		return err
	}
	for _, a := range attachments {
		if err := s.blobs.Delete(ctx, a.StoragePath); err != nil {
			s.logger.Warn("failed to delete attachment blob", "ticket_id", t.ID, "key", a.StoragePath, "error", err)
		}
	}
	s.logger.Info("draft ticket deleted", "ticket_id", t.ID, "user_id", p.UserID)
	return nil
}

// Submit moves a draft into approval. A ticket type without a flow completes immediately.
func (s *Service) Submit(ctx context.Context, p *internal.Principal, id int64) (*Ticket, error) {
	t, err := s.repo.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ownerOrAdmin(p, t); err != nil {
		return nil, err
	}
	if t.Status != StatusDraft {
		return nil, ErrInvalidTransition.WithMessage(fmt.Sprintf("Cannot submit a %s ticket", t.Status))
	}
	typ, err := s.repo.GetType(ctx, t.TypeID)
	if err != nil {
		return nil, err
	}
	if !typ.Enabled {
		return nil, ErrTypeDisabled
	}

	stored, err := s.repo.ListFieldData(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	vals := values(stored)
	tr := &Transition{}
	if t.TemplateID != nil {
		sub, err := s.forms.ValidateSubmission(ctx, *t.TemplateID, vals)
		if err != nil {
			s.logger.Warn("ticket submit rejected by form validation", "ticket_id", t.ID, "error", err)
			return nil, err
		}
		vals = sub.Values
		tr.FieldData = snapshot(t.ID, sub)
		tr.ReplaceFieldData = true
	}

	now := s.now()
	next := *t
	next.SubmittedAt = &now
	tr.Ticket = &next

	var pl *plan
	if t.FlowID == nil {
		next.Status = StatusCompleted
		next.CompletedAt = &now
	} else {
		c, err := s.flows.CompileLatest(ctx, *t.FlowID)
		if err != nil {
			return nil, err
		}
		next.FlowVersion = c.Version
		entry := c.Entry
		if pl, err = s.advance(ctx, c, &entry, vals); err != nil {
			return nil, err
		}
		s.applyPlan(&next, tr, pl)
	}

	if err := s.apply(ctx, t.Status, tr); err != nil {
		return nil, err
	}
	s.logger.Info("ticket submitted", "ticket_id", t.ID, "user_id", p.UserID, "status", next.Status, "flow_version", next.FlowVersion)
	s.publish(ctx, events.EventTypeTicketSubmitted, &next, p.UserID, nil, nil, "")
	if next.Status == StatusCompleted {
		s.publish(ctx, events.EventTypeTicketCompleted, &next, p.UserID, nil, []int64{next.CreatorID}, "")
	} else {
		s.publishPlan(ctx, &next, p.UserID, pl)
	}
	return &next, nil
}

type position struct {
	status string
	node   int64
	visit  int
}

func positionOf(t *Ticket) position {
	pos := position{status: t.Status, visit: t.NodeVisit}
	if t.CurrentNodeID != nil {
		pos.node = *t.CurrentNodeID
	}
	return pos
}

// Approve records a decision on the current node and advances the ticket when the node resolves. A decision
// that loses a concurrent update is recomputed; if the node resolved meanwhile the caller gets
// ErrNodeAlreadyResolved.
func (s *Service) Approve(ctx context.Context, p *internal.Principal, id int64, dto ApproveDTO) (*Ticket, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	var seen *position
	for attempt := 0; attempt < s.opts.DecisionAttempts; attempt++ {
		t, err := s.repo.GetTicket(ctx, id)
		if err != nil {
			return nil, err
		}
		pos := positionOf(t)
		if seen != nil && pos != *seen {
			return nil, ErrNodeAlreadyResolved
		}
		if t.Status != StatusPending || t.CurrentNodeID == nil || t.FlowID == nil {
			return nil, ErrInvalidTransition.WithMessage(fmt.Sprintf("Cannot approve a %s ticket", t.Status))
		}
		seen = &pos

		next, err := s.decide(ctx, p, t, dto)
		if errors.Is(err, ErrConcurrentUpdate) {
			s.logger.Debug("approval lost a concurrent update, retrying", "ticket_id", id, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		return next, nil
	}
	return nil, ErrConcurrentUpdate
}

func (s *Service) decide(ctx context.Context, p *internal.Principal, t *Ticket, dto ApproveDTO) (*Ticket, error) {
	c, err := s.flows.Compile(ctx, *t.FlowID, t.FlowVersion)
	if err != nil {
		return nil, err
	}
	node, ok := c.Node(*t.CurrentNodeID)
	if !ok {
		return nil, internal.NewInternalError("ticket points at a node outside its flow version", nil)
	}
	approvers, err := s.repo.ListApprovers(ctx, t.ID, node.ID, t.NodeVisit)
	if err != nil {
		return nil, err
	}
	records, err := s.repo.ListRecords(ctx, t.ID)
	if err != nil {
		return nil, err
	}

	var decisions []flow.Decision
	for _, r := range records {
		if r.NodeID != node.ID || r.Visit != t.NodeVisit {
			continue
		}
		if r.ApproverID == p.UserID {
			return nil, ErrAlreadyDecided
		}
		decisions = append(decisions, flow.Decision{
			UserID:   r.ApproverID,
			Approved: r.Result == ResultApproved,
			Override: !contains(approvers, r.ApproverID),
		})
	}
	isApprover := contains(approvers, p.UserID)
	if !isApprover && !p.IsAdmin {
		s.logger.Warn("approval denied", "ticket_id", t.ID, "user_id", p.UserID, "node_id", node.ID)
		return nil, ErrCannotApprove
	}
	decisions = append(decisions, flow.Decision{UserID: p.UserID, Approved: dto.Approved, Override: !isApprover})
	outcome := flow.Resolve(node.Type, approvers, decisions)

	result, commentType := ResultRejected, CommentReject
	if dto.Approved {
		result, commentType = ResultApproved, CommentApprove
	}
	next := *t
	tr := &Transition{
		Ticket: &next,
		Record: &Record{
			TicketID:   t.ID,
			NodeID:     node.ID,
			Visit:      t.NodeVisit,
			ApproverID: p.UserID,
			NodeName:   node.Name,
			Result:     result,
			Comment:    strings.TrimSpace(dto.Comment),
		},
	}
	if tr.Record.Comment != "" {
		tr.Comments = append(tr.Comments, &Comment{TicketID: t.ID, UserID: p.UserID, Content: tr.Record.Comment, CommentType: commentType})
	}

	var pl *plan
	switch outcome {
	case flow.OutcomeRejected:
		next.Status = StatusRejected
		next.CurrentNodeID = nil
	case flow.OutcomeApproved:
		data, err := s.repo.ListFieldData(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		if pl, err = s.advance(ctx, c, node.Next, values(data)); err != nil {
			return nil, err
		}
		s.applyPlan(&next, tr, pl)
	}

	if err := s.apply(ctx, t.Status, tr); err != nil {
		return nil, err
	}
	s.logger.Info("approval recorded",
		"ticket_id", t.ID,
		"user_id", p.UserID,
		"node_id", node.ID,
		"result", result,
		"override", !isApprover,
		"outcome", outcome.String(),
		"status", next.Status)

	switch outcome {
	case flow.OutcomeRejected:
		s.publish(ctx, events.EventTypeTicketRejected, &next, p.UserID, node, []int64{next.CreatorID}, tr.Record.Comment)
	case flow.OutcomeApproved:
		s.publishPlan(ctx, &next, p.UserID, pl)
	}
	return &next, nil
}

// applyPlan moves the ticket to the plan's node and records who must act there and who was copied.
func (s *Service) applyPlan(t *Ticket, tr *Transition, pl *plan) {
	t.Status = pl.status
	t.CurrentNodeID = nil
	if pl.node != nil {
		nodeID := pl.node.ID
		t.CurrentNodeID = &nodeID
		t.NodeVisit++
		for _, u := range pl.approvers {
			tr.Approvers = append(tr.Approvers, &NodeApprover{TicketID: t.ID, NodeID: nodeID, Visit: t.NodeVisit, UserID: u})
		}
	}
	for _, cc := range pl.copied {
		for _, u := range cc.users {
			tr.CC = append(tr.CC, &CC{TicketID: t.ID, NodeID: cc.node.ID, UserID: u})
		}
	}
}

// Process starts fulfilment of an approved ticket. The caller becomes the assignee when there is none.
func (s *Service) Process(ctx context.Context, p *internal.Principal, id int64) (*Ticket, error) {
	t, err := s.repo.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusApproved {
		return nil, ErrInvalidTransition.WithMessage(fmt.Sprintf("Cannot process a %s ticket", t.Status))
	}
	if err := assigneeOrAdmin(p, t); err != nil {
		return nil, err
	}
	next := *t
	next.Status = StatusProcessing
	if next.AssigneeID == nil {
		uid := p.UserID
		next.AssigneeID = &uid
	}
	if err := s.apply(ctx, t.Status, &Transition{Ticket: &next}); err != nil {
		return nil, err
	}
	s.logger.Info("ticket processing", "ticket_id", t.ID, "user_id", p.UserID)
	s.publish(ctx, events.EventTypeTicketProcessing, &next, p.UserID, nil, []int64{next.CreatorID}, "")
	return &next, nil
}

func (s *Service) Complete(ctx context.Context, p *internal.Principal, id int64) (*Ticket, error) {
	t, err := s.repo.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusApproved && t.Status != StatusProcessing {
		return nil, ErrInvalidTransition.WithMessage(fmt.Sprintf("Cannot complete a %s ticket", t.Status))
	}
	if err := assigneeOrAdmin(p, t); err != nil {
		return nil, err
	}
	now := s.now()
	next := *t
	next.Status = StatusCompleted
	next.CompletedAt = &now
	if err := s.apply(ctx, t.Status, &Transition{Ticket: &next}); err != nil {
		return nil, err
	}
	s.logger.Info("ticket completed", "ticket_id", t.ID, "user_id", p.UserID)
	s.publish(ctx, events.EventTypeTicketCompleted, &next, p.UserID, nil, []int64{next.CreatorID}, "")
	return &next, nil
}

func (s *Service) Cancel(ctx context.Context, p *internal.Principal, id int64) (*Ticket, error) {
	t, err := s.repo.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ownerOrAdmin(p, t); err != nil {
		return nil, err
	}
	if t.Status != StatusDraft && t.Status != StatusPending {
		return nil, ErrInvalidTransition.WithMessage(fmt.Sprintf("Cannot cancel a %s ticket", t.Status))
	}
	next := *t
	next.Status = StatusCancelled
	next.CurrentNodeID = nil
	tr := &Transition{
		Ticket:   &next,
		Comments: []*Comment{{TicketID: t.ID, UserID: p.UserID, Content: "Ticket cancelled", CommentType: CommentSystem}},
	}
	if err := s.apply(ctx, t.Status, tr); err != nil {
		return nil, err
	}
	s.logger.Info("ticket cancelled", "ticket_id", t.ID, "user_id", p.UserID, "from", t.Status)
	if t.Status == StatusPending {
		recipients, err := s.repo.ListApprovers(ctx, t.ID, derefID(t.CurrentNodeID), t.NodeVisit)
		if err != nil {
			s.logger.Warn("failed to load approvers for cancel notice", "ticket_id", t.ID, "error", err)
		}
		s.publish(ctx, events.EventTypeTicketCancelled, &next, p.UserID, nil, recipients, "")
	}
	return &next, nil
}

// CanApprove reports whether the principal may decide on the ticket's current node right now.
func (s *Service) CanApprove(ctx context.Context, p *internal.Principal, id int64) (*CanApproveView, error) {
	t, err := s.repo.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusPending || t.CurrentNodeID == nil || t.FlowID == nil {
		return &CanApproveView{Reason: "ticket is not waiting for approval"}, nil
	}
	records, err := s.repo.ListRecords(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	view, err := s.currentNode(ctx, t, records)
	if err != nil {
		return nil, err
	}
	switch {
	case contains(view.Decided, p.UserID):
		return &CanApproveView{Reason: "already decided on this node"}, nil
	case contains(view.Approvers, p.UserID), p.IsAdmin:
		return &CanApproveView{CanApprove: true}, nil
	}
	return &CanApproveView{Reason: "not an approver of the current node"}, nil
}

// Lists

// List returns the caller's tickets; admins may ask for every ticket.
func (s *Service) List(ctx context.Context, p *internal.Principal, f Filter, all bool) ([]*Ticket, int64, error) {
	if !(all && p.IsAdmin) {
		uid := p.UserID
		f.CreatorID = &uid
	}
	return s.repo.ListTickets(ctx, f)
}

func (s *Service) Pending(ctx context.Context, p *internal.Principal, page internal.PageRequest) ([]*Ticket, int64, error) {
	return s.repo.ListPending(ctx, p.UserID, page)
}

func (s *Service) Processed(ctx context.Context, p *internal.Principal, page internal.PageRequest) ([]*Ticket, int64, error) {
	return s.repo.ListProcessed(ctx, p.UserID, page)
}

func (s *Service) CopiedToMe(ctx context.Context, p *internal.Principal, page internal.PageRequest) ([]*Ticket, int64, error) {
	return s.repo.ListCC(ctx, p.UserID, page)
}

func (s *Service) Stats(ctx context.Context, p *internal.Principal) (*Stats, error) {
	return s.stats.UserStats(ctx, p.UserID)
}

// Comments

func (s *Service) AddComment(ctx context.Context, p *internal.Principal, id int64, dto CommentDTO) (*Comment, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	t, err := s.repo.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canView(ctx, p, t); err != nil {
		return nil, err
	}
	c := &Comment{TicketID: t.ID, UserID: p.UserID, Content: strings.TrimSpace(dto.Content), CommentType: CommentComment}
	if err := s.repo.CreateComment(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) Comments(ctx context.Context, p *internal.Principal, id int64) ([]*Comment, error) {
	t, err := s.repo.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canView(ctx, p, t); err != nil {
		return nil, err
	}
	return s.repo.ListComments(ctx, t.ID)
}

// Attachments

func (s *Service) Upload(ctx context.Context, p *internal.Principal, id int64, u Upload, r io.Reader) (*AttachmentView, error) {
	t, err := s.repo.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canView(ctx, p, t); err != nil {
		return nil, err
	}
	if t.Status == StatusCancelled || t.Status == StatusCompleted {
		return nil, ErrInvalidTransition.WithMessage(fmt.Sprintf("Cannot attach files to a %s ticket", t.Status))
	}
	if u.Size > s.opts.MaxUploadSize {
		return nil, ErrUploadTooLarge
	}
	key, err := blob.TicketKey(t.ID, u.FileName)
	if err != nil {
		return nil, internal.NewValidationFieldError("file", "file name is invalid", internal.ErrCodeValidationFailed)
	}
	obj, err := s.blobs.Put(ctx, key, r, s.opts.MaxUploadSize, u.ContentType)
	if err != nil {
		if errors.Is(err, blob.ErrTooLarge) {
			return nil, ErrUploadTooLarge
		}
		s.logger.Error("attachment upload failed", "ticket_id", t.ID, "key", key, "error", err)
		return nil, ErrStorageFailed.WithCause(err)
	}
	name, _ := blob.CleanFilename(u.FileName)
	a := &Attachment{
		TicketID:    t.ID,
		FileName:    name,
		FileSize:    obj.Size,
		MimeType:    obj.ContentType,
		StoragePath: key,
		UploaderID:  p.UserID,
	}
	if err := s.repo.CreateAttachment(ctx, a); err != nil {
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			s.logger.Warn("failed to remove orphaned blob", "key", key, "error", delErr)
		}
		return nil, err
	}
	s.logger.Info("attachment uploaded", "ticket_id", t.ID, "attachment_id", a.ID, "size", a.FileSize)
	return &AttachmentView{Attachment: a, URL: s.blobs.URL(key)}, nil
}

func (s *Service) Attachments(ctx context.Context, p *internal.Principal, id int64) ([]*AttachmentView, error) {
	t, err := s.repo.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canView(ctx, p, t); err != nil {
		return nil, err
	}
	list, err := s.repo.ListAttachments(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	out := make([]*AttachmentView, 0, len(list))
	for _, a := range list {
		out = append(out, &AttachmentView{Attachment: a, URL: s.blobs.URL(a.StoragePath)})
	}
	return out, nil
}

// Download opens an attachment. The caller closes the reader.
func (s *Service) Download(ctx context.Context, p *internal.Principal, id, attachmentID int64) (io.ReadCloser, *Download, error) {
	t, err := s.repo.GetTicket(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := s.canView(ctx, p, t); err != nil {
		return nil, nil, err
	}
	a, err := s.repo.GetAttachment(ctx, t.ID, attachmentID)
	if err != nil {
		return nil, nil, err
	}
	rc, obj, err := s.blobs.Get(ctx, a.StoragePath)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, nil, ErrAttachmentNotFound
		}
		return nil, nil, ErrStorageFailed.WithCause(err)
	}
	d := &Download{FileName: a.FileName, ContentType: a.MimeType, Size: obj.Size, ModTime: obj.ModTime}
	if d.ContentType == "" {
		d.ContentType = obj.ContentType
	}
	return rc, d, nil
}

func (s *Service) DeleteAttachment(ctx context.Context, p *internal.Principal, id, attachmentID int64) error {
	a, err := s.repo.GetAttachment(ctx, id, attachmentID)
	if err != nil {
		return err
	}
	if a.UploaderID != p.UserID && !p.IsAdmin {
		return internal.ErrForbidden
	}
	if err := s.repo.DeleteAttachment(ctx, a.ID); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, a.StoragePath); err != nil {
		s.logger.Warn("failed to delete attachment blob", "attachment_id", a.ID, "key", a.StoragePath, "error", err)
	}
	return nil
}

// helpers

func (s *Service) apply(ctx context.Context, from string, tr *Transition) error {
	if err := s.repo.Apply(ctx, tr); err != nil {
		return err
	}
	if to := tr.Ticket.Status; to != from {
		metrics.TicketTransitions.WithLabelValues(from, to).Inc()
	}
	return nil
}

func (s *Service) canView(ctx context.Context, p *internal.Principal, t *Ticket) error {
	if p.IsAdmin || t.CreatorID == p.UserID || (t.AssigneeID != nil && *t.AssigneeID == p.UserID) {
		return nil
	}
	ok, err := s.repo.IsParticipant(ctx, t.ID, p.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return internal.ErrForbidden
	}
	return nil
}

func ownerOrAdmin(p *internal.Principal, t *Ticket) error {
	if p.IsAdmin || t.CreatorID == p.UserID {
		return nil
	}
	return internal.ErrForbidden
}

func assigneeOrAdmin(p *internal.Principal, t *Ticket) error {
	if p.IsAdmin || (t.AssigneeID != nil && *t.AssigneeID == p.UserID) {
		return nil
	}
	return internal.ErrForbidden
}

func isNotFound(err error) bool {
	appErr, ok := internal.IsAppError(err)
	return ok && appErr.Type == internal.ErrorTypeNotFound
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

// publishPlan announces where an advanced ticket landed.
func (s *Service) publishPlan(ctx context.Context, t *Ticket, actorID int64, pl *plan) {
	if pl == nil {
		return
	}
	for _, cc := range pl.copied {
		if len(cc.users) > 0 {
			s.publish(ctx, events.EventTypeTicketCC, t, actorID, cc.node, cc.users, "")
		}
	}
	if pl.node != nil {
		s.publish(ctx, events.EventTypeTicketNodeEntered, t, actorID, pl.node, pl.approvers, "")
		return
	}
	s.publish(ctx, events.EventTypeTicketApproved, t, actorID, nil, []int64{t.CreatorID}, "")
}

// publish is best effort: the transition is already committed.
func (s *Service) publish(ctx context.Context, eventType string, t *Ticket, actorID int64, node *flow.CompiledNode, recipients []int64, comment string) {
	if s.events == nil {
		return
	}
	ev := events.TicketEvent{
		TicketID:   t.ID,
		TicketNo:   t.TicketNo,
		Title:      t.Title,
		CreatorID:  t.CreatorID,
		ActorID:    actorID,
		Status:     t.Status,
		Recipients: recipients,
		Comment:    comment,
	}
	if node != nil {
		ev.NodeID = node.ID
		ev.NodeName = node.Name
	}
	if err := s.events.Publish(ctx, events.NewTicketEvent(eventType, ev)); err != nil {
		s.logger.Error("failed to publish ticket event", "event_type", eventType, "ticket_id", t.ID, "error", err)
	}
}
