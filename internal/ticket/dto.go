package ticket

import (
	"time"

	"github.com/frahmantamala/ssoflow/internal/core/common/validation"
)

type TypeDTO struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	TemplateID  *int64 `json:"template_id"`
	FlowID      *int64 `json:"flow_id"`
	Enabled     *bool  `json:"enabled"`
}

func (d TypeDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("name", d.Name).Required().MaxLength(128)
	v.Field("icon", d.Icon).MaxLength(64)
	return v.Validate()
}

type CreateTicketDTO struct {
	TypeID      int64          `json:"type_id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Priority    int            `json:"priority"`
	AssigneeID  *int64         `json:"assignee_id"`
	FormData    map[string]any `json:"form_data"`
}

func (d CreateTicketDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("type_id", d.TypeID).Required()
	v.Field("title", d.Title).Required().MaxLength(255)
	v.Field("priority", d.Priority).Between(0, PriorityUrgent)
	return v.Validate()
}

// UpdateTicketDTO edits a draft. A nil FormData leaves the stored values alone.
type UpdateTicketDTO struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Priority    int            `json:"priority"`
	AssigneeID  *int64         `json:"assignee_id"`
	FormData    map[string]any `json:"form_data"`
}

func (d UpdateTicketDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("title", d.Title).Required().MaxLength(255)
	v.Field("priority", d.Priority).Between(0, PriorityUrgent)
	return v.Validate()
}

type ApproveDTO struct {
	Approved bool   `json:"approved"`
	Comment  string `json:"comment"`
}

func (d ApproveDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("comment", d.Comment).MaxLength(2000)
	return v.Validate()
}

type CommentDTO struct {
	Content string `json:"content"`
}

func (d CommentDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("content", d.Content).Required().MaxLength(4000)
	return v.Validate()
}

// NodeView describes the node a pending ticket waits on.
type NodeView struct {
	ID        int64   `json:"id"`
	Key       string  `json:"key"`
	Name      string  `json:"name"`
	NodeType  string  `json:"node_type"`
	Visit     int     `json:"visit"`
	Approvers []int64 `json:"approvers"`
	Decided   []int64 `json:"decided"`
}

type Detail struct {
	*Ticket
	TypeName    string         `json:"type_name"`
	FormData    map[string]any `json:"form_data"`
	Fields      []*FieldData   `json:"fields"`
	Records     []*Record      `json:"approval_records"`
	Attachments []*Attachment  `json:"attachments"`
	CurrentNode *NodeView      `json:"current_node,omitempty"`
	CanApprove  bool           `json:"can_approve"`
}

type CanApproveView struct {
	CanApprove bool   `json:"can_approve"`
	Reason     string `json:"reason,omitempty"`
}

type AttachmentView struct {
	*Attachment
	URL string `json:"url,omitempty"`
}

// Upload is a file received from a multipart request.
type Upload struct {
	FileName    string
	Size        int64
	ContentType string
}

type Download struct {
	FileName    string
	ContentType string
	Size        int64
	ModTime     time.Time
}
