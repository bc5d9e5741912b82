package ticket

import (
	"context"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/core/datamodel/workflow"
)

type (
	Type         = workflow.TicketType
	Ticket       = workflow.Ticket
	FieldData    = workflow.TicketFieldData
	Attachment   = workflow.Attachment
	Comment      = workflow.TicketComment
	Record       = workflow.ApprovalRecord
	NodeApprover = workflow.TicketNodeApprover
	CC           = workflow.TicketCC
)

const (
	StatusDraft      = "draft"
	StatusPending    = "pending"
	StatusApproved   = "approved"
	StatusRejected   = "rejected"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"

	ResultApproved = "approved"
	ResultRejected = "rejected"

	CommentComment = "comment"
	CommentApprove = "approve"
	CommentReject  = "reject"
	CommentSystem  = "system"

	PriorityLow    = 1
	PriorityNormal = 2
	PriorityHigh   = 3
	PriorityUrgent = 4
)

var Statuses = []string{
	StatusDraft, StatusPending, StatusApproved, StatusRejected, StatusProcessing, StatusCompleted, StatusCancelled,
}

var (
	ErrTypeNotFound         = internal.NewNotFoundError("Ticket type not found", internal.ErrCodeNotFound)
	ErrTypeInUse            = internal.NewConflictError("Ticket type has tickets", internal.ErrCodeInUse)
	ErrTypeDisabled         = internal.NewWorkflowError("Ticket type is disabled", internal.ErrCodeTypeDisabled)
	ErrTicketNotFound       = internal.NewNotFoundError("Ticket not found", internal.ErrCodeNotFound)
	ErrAttachmentNotFound   = internal.NewNotFoundError("Attachment not found", internal.ErrCodeNotFound)
	ErrInvalidTransition    = internal.NewWorkflowError("Ticket cannot make this transition from its current status", internal.ErrCodeInvalidTransition)
	ErrApproverUnresolvable = internal.NewWorkflowError("No approver could be resolved for the approval node", internal.ErrCodeApproverUnresolvable)
	ErrNodeAlreadyResolved  = internal.NewConflictError("The approval node was already resolved", internal.ErrCodeNodeAlreadyResolved)
	ErrAlreadyDecided       = internal.NewConflictError("You already made a decision on this approval node", internal.ErrCodeCannotApprove)
	ErrCannotApprove        = internal.NewForbiddenError("You are not an approver of the current node", internal.ErrCodeCannotApprove)
	ErrConcurrentUpdate     = internal.ErrConcurrentUpdate
	ErrDuplicate            = internal.NewConflictError("A record with the same key already exists", internal.ErrCodeDuplicate)
	ErrUploadTooLarge       = internal.NewValidationFieldError("file", "File exceeds the upload size limit", internal.ErrCodeValidationFailed)
	ErrStorageFailed        = internal.NewExternalError("Attachment storage failed", internal.ErrCodeStorageFailed, nil)
)

type TypeFilter struct {
	internal.PageRequest
	Enabled *bool
}

// Filter selects tickets for list views. CreatorID nil means every creator.
type Filter struct {
	internal.PageRequest
	CreatorID *int64
	Status    string
	TypeID    int64
}

// Transition is everything one state change writes. Ticket carries the new state and the lock version that
// was read; the update only applies if that version is still current.
type Transition struct {
	Ticket    *Ticket
	FieldData []*FieldData
	Record    *Record
	Comments  []*Comment
	Approvers []*NodeApprover
	CC        []*CC
	// ReplaceFieldData rewrites the snapshot with FieldData.
	ReplaceFieldData bool
}

type Repository interface {
	CreateType(ctx context.Context, t *Type) error
	UpdateType(ctx context.Context, t *Type) error
	GetType(ctx context.Context, id int64) (*Type, error)
	ListTypes(ctx context.Context, f TypeFilter) ([]*Type, int64, error)
	DeleteType(ctx context.Context, id int64) error
	CountTypeUsage(ctx context.Context, id int64) (int64, error)

	CreateTicket(ctx context.Context, t *Ticket, data []*FieldData) error
	GetTicket(ctx context.Context, id int64) (*Ticket, error)
	// Apply writes a transition atomically. ErrConcurrentUpdate when the lock version moved.
	Apply(ctx context.Context, tr *Transition) error
	// DeleteDraft removes a never-submitted ticket and everything it owns.
	DeleteDraft(ctx context.Context, id int64) error

	ListTickets(ctx context.Context, f Filter) ([]*Ticket, int64, error)
	ListPending(ctx context.Context, userID int64, page internal.PageRequest) ([]*Ticket, int64, error)
	ListProcessed(ctx context.Context, userID int64, page internal.PageRequest) ([]*Ticket, int64, error)
	ListCC(ctx context.Context, userID int64, page internal.PageRequest) ([]*Ticket, int64, error)

	ListFieldData(ctx context.Context, ticketID int64) ([]*FieldData, error)
	ListRecords(ctx context.Context, ticketID int64) ([]*Record, error)
	ListApprovers(ctx context.Context, ticketID, nodeID int64, visit int) ([]int64, error)
	// IsParticipant is true for anyone who was an approver, decided, or was copied on the ticket.
	IsParticipant(ctx context.Context, ticketID, userID int64) (bool, error)

	CreateComment(ctx context.Context, c *Comment) error
	ListComments(ctx context.Context, ticketID int64) ([]*Comment, error)

	CreateAttachment(ctx context.Context, a *Attachment) error
	GetAttachment(ctx context.Context, ticketID, id int64) (*Attachment, error)
	ListAttachments(ctx context.Context, ticketID int64) ([]*Attachment, error)
	DeleteAttachment(ctx context.Context, id int64) error
}

// Stats is the dashboard summary of one user.
type Stats struct {
	Total           int64            `json:"total"`
	ByStatus        map[string]int64 `json:"by_status"`
	PendingApproval int64            `json:"pending_approval"`
}

type StatsRepository interface {
	UserStats(ctx context.Context, userID int64) (*Stats, error)
}
