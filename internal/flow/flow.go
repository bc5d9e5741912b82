package flow

import (
	"context"
	"time"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/core/datamodel/workflow"
)

type (
	Flow = workflow.ApprovalFlow
	Node = workflow.FlowNode
)

const (
	NodeApprove     = "approve"
	NodeCountersign = "countersign"
	NodeOr          = "or"
	NodeCondition   = "condition"
	NodeCC          = "cc"

	ApproverRole      = "role"
	ApproverUser      = "user"
	ApproverFormField = "form_field"

	EdgeNext  = "next"
	EdgeTrue  = "true"
	EdgeFalse = "false"
)

var NodeTypes = []string{NodeApprove, NodeCountersign, NodeOr, NodeCondition, NodeCC}

var (
	ErrFlowNotFound      = internal.NewNotFoundError("Approval flow not found", internal.ErrCodeNotFound)
	ErrFlowInUse         = internal.NewConflictError("Approval flow is bound to a ticket type or has tickets in approval", internal.ErrCodeInUse)
	ErrFlowNotPublished  = internal.NewWorkflowError("Approval flow has no published version", internal.ErrCodeFlowNotPublished)
	ErrFlowDisabled      = internal.NewWorkflowError("Approval flow is disabled", internal.ErrCodeFlowNotPublished)
	ErrNothingToPublish  = internal.NewValidationError("Approval flow has no draft to publish", internal.ErrCodeFlowGraphInvalid)
	ErrVersionNotFound   = internal.NewNotFoundError("Approval flow version not found", internal.ErrCodeNotFound)
	ErrConcurrentPublish = internal.NewConflictError("Approval flow was published by another request", internal.ErrCodeConcurrentUpdate)
	ErrDuplicate         = internal.NewConflictError("An approval flow with the same key already exists", internal.ErrCodeDuplicate)
)

type FlowFilter struct {
	internal.PageRequest
	Enabled *bool
}

// NodeDraft is a node row plus its outgoing edges by node key; ids are only known after insert.
type NodeDraft struct {
	Node  *Node
	Next  string
	True  string
	False string
}

type Repository interface {
	CreateFlow(ctx context.Context, f *Flow) error
	UpdateFlow(ctx context.Context, f *Flow) error
	GetFlow(ctx context.Context, id int64) (*Flow, error)
	ListFlows(ctx context.Context, f FlowFilter) ([]*Flow, int64, error)
	DeleteFlow(ctx context.Context, id int64) error
	CountFlowUsage(ctx context.Context, id int64) (int64, error)

	ListNodes(ctx context.Context, flowID int64, version int) ([]*Node, error)
	ReplaceNodes(ctx context.Context, flowID int64, version int, drafts []NodeDraft) ([]*Node, error)
	Publish(ctx context.Context, flowID int64, from, to int, at time.Time) error
}
