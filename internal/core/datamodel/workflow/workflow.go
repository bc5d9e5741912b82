package workflow

import (
	"time"

	"gorm.io/datatypes"
)

type FormTemplate struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"column:name;size:128;not null" json:"name"`
	Description string    `gorm:"column:description" json:"description"`
	Enabled     bool      `gorm:"column:enabled;not null" json:"enabled"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (FormTemplate) TableName() string { return "form_templates" }

type FormField struct {
	ID            int64          `gorm:"primaryKey" json:"id"`
	TemplateID    int64          `gorm:"column:template_id;not null;uniqueIndex:idx_form_fields_template_name" json:"template_id"`
	Name          string         `gorm:"column:name;size:64;not null;uniqueIndex:idx_form_fields_template_name" json:"name"`
	Label         string         `gorm:"column:label;size:128;not null" json:"label"`
	FieldType     string         `gorm:"column:field_type;size:16;not null" json:"field_type"`
	Required      bool           `gorm:"column:required;not null;default:false" json:"required"`
	SortOrder     int            `gorm:"column:sort_order;not null;default:0" json:"sort_order"`
	Options       string         `gorm:"column:options" json:"options"`
	DefaultValue  string         `gorm:"column:default_value" json:"default_value"`
	Placeholder   string         `gorm:"column:placeholder" json:"placeholder"`
	ShowCondition datatypes.JSON `gorm:"column:show_condition" json:"show_condition,omitempty"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (FormField) TableName() string { return "form_fields" }

// ApprovalFlow.Version is the latest published version; node rows for Version+1 form the editable draft.
type ApprovalFlow struct {
	ID          int64      `gorm:"primaryKey" json:"id"`
	Name        string     `gorm:"column:name;size:128;not null" json:"name"`
	Description string     `gorm:"column:description" json:"description"`
	Enabled     bool       `gorm:"column:enabled;not null" json:"enabled"`
	Version     int        `gorm:"column:version;not null;default:0" json:"version"`
	PublishedAt *time.Time `gorm:"column:published_at" json:"published_at,omitempty"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (ApprovalFlow) TableName() string { return "approval_flows" }

type FlowNode struct {
	ID            int64          `gorm:"primaryKey" json:"id"`
	FlowID        int64          `gorm:"column:flow_id;not null;index:idx_flow_nodes_flow_version" json:"flow_id"`
	Version       int            `gorm:"column:version;not null;index:idx_flow_nodes_flow_version" json:"version"`
	NodeKey       string         `gorm:"column:node_key;size:64;not null" json:"key"`
	Name          string         `gorm:"column:name;size:128;not null" json:"name"`
	NodeType      string         `gorm:"column:node_type;size:16;not null" json:"node_type"`
	ApproverType  string         `gorm:"column:approver_type;size:16" json:"approver_type"`
	ApproverValue string         `gorm:"column:approver_value;size:128" json:"approver_value"`
	Condition     datatypes.JSON `gorm:"column:condition" json:"condition,omitempty"`
	SortOrder     int            `gorm:"column:sort_order;not null;default:0" json:"sort_order"`
	PositionX     float64        `gorm:"column:position_x" json:"position_x"`
	PositionY     float64        `gorm:"column:position_y" json:"position_y"`
	NextNodeID    *int64         `gorm:"column:next_node_id" json:"next_node_id"`
	TrueBranchID  *int64         `gorm:"column:true_branch_id" json:"true_branch_id"`
	FalseBranchID *int64         `gorm:"column:false_branch_id" json:"false_branch_id"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (FlowNode) TableName() string { return "flow_nodes" }

type TicketType struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"column:name;size:128;not null" json:"name"`
	Description string    `gorm:"column:description" json:"description"`
	Icon        string    `gorm:"column:icon;size:64" json:"icon"`
	TemplateID  *int64    `gorm:"column:template_id" json:"template_id"`
	FlowID      *int64    `gorm:"column:flow_id" json:"flow_id"`
	Enabled     bool      `gorm:"column:enabled;not null" json:"enabled"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (TicketType) TableName() string { return "ticket_types" }

type Ticket struct {
	ID            int64      `gorm:"primaryKey" json:"id"`
	TicketNo      string     `gorm:"column:ticket_no;size:32;not null;uniqueIndex" json:"ticket_no"`
	Title         string     `gorm:"column:title;size:255;not null" json:"title"`
	Description   string     `gorm:"column:description" json:"description"`
	TypeID        int64      `gorm:"column:type_id;not null;index" json:"type_id"`
	TemplateID    *int64     `gorm:"column:template_id" json:"template_id"`
	Priority      int        `gorm:"column:priority;not null;default:2" json:"priority"`
	Status        string     `gorm:"column:status;size:16;not null;index" json:"status"`
	CreatorID     int64      `gorm:"column:creator_id;not null;index" json:"creator_id"`
	AssigneeID    *int64     `gorm:"column:assignee_id" json:"assignee_id"`
	CurrentNodeID *int64     `gorm:"column:current_node_id" json:"current_node_id"`
	FlowID        *int64     `gorm:"column:flow_id" json:"flow_id"`
	FlowVersion   int        `gorm:"column:flow_version;not null;default:0" json:"flow_version"`
	NodeVisit     int        `gorm:"column:node_visit;not null;default:0" json:"node_visit"`
	LockVersion   int        `gorm:"column:lock_version;not null;default:0" json:"-"`
	SubmittedAt   *time.Time `gorm:"column:submitted_at" json:"submitted_at"`
	CompletedAt   *time.Time `gorm:"column:completed_at" json:"completed_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Ticket) TableName() string { return "tickets" }

// TicketFieldData is the snapshot of one submitted form value together with the field definition at submit time.
type TicketFieldData struct {
	ID         int64  `gorm:"primaryKey" json:"id"`
	TicketID   int64  `gorm:"column:ticket_id;not null;index" json:"ticket_id"`
	FieldID    int64  `gorm:"column:field_id;not null" json:"field_id"`
	FieldName  string `gorm:"column:field_name;size:64;not null" json:"field_name"`
	FieldLabel string `gorm:"column:field_label;size:128" json:"field_label"`
	FieldType  string `gorm:"column:field_type;size:16" json:"field_type"`
	Required   bool   `gorm:"column:required" json:"required"`
	SortOrder  int    `gorm:"column:sort_order" json:"sort_order"`
	Value      string `gorm:"column:value" json:"value"`
}

func (TicketFieldData) TableName() string { return "ticket_field_data" }

type Attachment struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	TicketID    int64     `gorm:"column:ticket_id;not null;index" json:"ticket_id"`
	FileName    string    `gorm:"column:file_name;size:255;not null" json:"file_name"`
	FileSize    int64     `gorm:"column:file_size;not null" json:"file_size"`
	MimeType    string    `gorm:"column:mime_type;size:128" json:"mime_type"`
	StoragePath string    `gorm:"column:storage_path;size:512;not null" json:"-"`
	UploaderID  int64     `gorm:"column:uploader_id;not null" json:"uploader_id"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Attachment) TableName() string { return "ticket_attachments" }

type TicketComment struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	TicketID    int64     `gorm:"column:ticket_id;not null;index" json:"ticket_id"`
	UserID      int64     `gorm:"column:user_id;not null" json:"user_id"`
	Content     string    `gorm:"column:content;not null" json:"content"`
	CommentType string    `gorm:"column:comment_type;size:16;not null;default:comment" json:"comment_type"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (TicketComment) TableName() string { return "ticket_comments" }

// ApprovalRecord is unique per (ticket, node, visit, approver): one decision per person per node visit.
type ApprovalRecord struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	TicketID   int64     `gorm:"column:ticket_id;not null;uniqueIndex:idx_approval_records_once" json:"ticket_id"`
	NodeID     int64     `gorm:"column:node_id;not null;uniqueIndex:idx_approval_records_once" json:"node_id"`
	Visit      int       `gorm:"column:visit;not null;uniqueIndex:idx_approval_records_once" json:"visit"`
	ApproverID int64     `gorm:"column:approver_id;not null;uniqueIndex:idx_approval_records_once" json:"approver_id"`
	NodeName   string    `gorm:"column:node_name;size:128" json:"node_name"`
	Result     string    `gorm:"column:result;size:16;not null" json:"result"`
	Comment    string    `gorm:"column:comment" json:"comment"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (ApprovalRecord) TableName() string { return "approval_records" }

// TicketNodeApprover is the approver set resolved when the ticket entered a node.
type TicketNodeApprover struct {
	TicketID int64 `gorm:"column:ticket_id;primaryKey"`
	NodeID   int64 `gorm:"column:node_id;primaryKey"`
	Visit    int   `gorm:"column:visit;primaryKey"`
	UserID   int64 `gorm:"column:user_id;primaryKey;index"`
}

func (TicketNodeApprover) TableName() string { return "ticket_node_approvers" }

type TicketCC struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	TicketID  int64     `gorm:"column:ticket_id;not null;uniqueIndex:idx_ticket_cc_once" json:"ticket_id"`
	NodeID    int64     `gorm:"column:node_id;not null;uniqueIndex:idx_ticket_cc_once" json:"node_id"`
	UserID    int64     `gorm:"column:user_id;not null;uniqueIndex:idx_ticket_cc_once;index" json:"user_id"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (TicketCC) TableName() string { return "ticket_cc" }

type SystemConfig struct {
	Key       string         `gorm:"column:config_key;primaryKey;size:64" json:"key"`
	Value     datatypes.JSON `gorm:"column:value;not null" json:"value"`
	UpdatedBy int64          `gorm:"column:updated_by" json:"updated_by"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (SystemConfig) TableName() string { return "system_configs" }
