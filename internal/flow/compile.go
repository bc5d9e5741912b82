package flow

import (
	"fmt"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/core/predicate"
)

// CompiledNode is an executable node: edges are node ids, the condition is parsed once.
type CompiledNode struct {
	ID            int64
	Key           string
	Name          string
	Type          string
	ApproverType  string
	ApproverValue string
	Condition     *predicate.Predicate
	Next          *int64
	True          *int64
	False         *int64
}

// Human reports whether the node waits for approver decisions.
func (n *CompiledNode) Human() bool {
	switch n.Type {
	case NodeApprove, NodeCountersign, NodeOr:
		return true
	}
	return false
}

// Compiled is one immutable version of a flow.
type Compiled struct {
	FlowID  int64
	Version int
	Entry   int64
	Nodes   map[int64]*CompiledNode
}

// Compile builds the executable form of a version's node rows. The rows must already form a valid graph.
func Compile(flowID int64, version int, rows []*Node) (*Compiled, error) {
	if len(rows) == 0 {
		return nil, ErrVersionNotFound
	}
	c := &Compiled{FlowID: flowID, Version: version, Nodes: make(map[int64]*CompiledNode, len(rows))}
	incoming := make(map[int64]bool, len(rows))
	for _, r := range rows {
		n := &CompiledNode{
			ID:            r.ID,
			Key:           r.NodeKey,
			Name:          r.Name,
			Type:          r.NodeType,
			ApproverType:  r.ApproverType,
			ApproverValue: r.ApproverValue,
			Next:          r.NextNodeID,
			True:          r.TrueBranchID,
			False:         r.FalseBranchID,
		}
		if r.NodeType == NodeCondition {
			cond, err := predicate.Parse(r.Condition)
			if err != nil || cond == nil {
				return nil, internal.NewWorkflowError(fmt.Sprintf("condition %q cannot be evaluated", r.NodeKey), internal.ErrCodeFlowGraphInvalid)
			}
			n.Condition = cond
		}
		c.Nodes[r.ID] = n
		for _, e := range []*int64{r.NextNodeID, r.TrueBranchID, r.FalseBranchID} {
			if e != nil {
				incoming[*e] = true
			}
		}
	}
	for _, r := range rows {
		if !incoming[r.ID] {
			if c.Entry != 0 {
				return nil, internal.NewWorkflowError("flow has more than one entry node", internal.ErrCodeFlowGraphInvalid)
			}
			c.Entry = r.ID
		}
	}
	if c.Entry == 0 {
		return nil, internal.NewWorkflowError("flow has no entry node", internal.ErrCodeFlowGraphInvalid)
	}
	return c, nil
}

func (c *Compiled) Node(id int64) (*CompiledNode, bool) {
	n, ok := c.Nodes[id]
	return n, ok
}

// Step is the result of walking the automatic part of a flow.
type Step struct {
	// Stop is the first human node reached, nil when the walk ran off the end of the graph.
	Stop *CompiledNode
	// Passed lists every automatic node visited on the way, in order.
	Passed []*CompiledNode
}

// Walk starts at from (nil means the flow is finished) and follows condition and cc nodes until a node that
// needs approvers. Condition routing is deterministic for identical values.
func (c *Compiled) Walk(from *int64, values map[string]any) (*Step, error) {
	step := &Step{}
	seen := map[int64]bool{}
	for cur := from; cur != nil; {
		n, ok := c.Nodes[*cur]
		if !ok {
			return nil, internal.NewWorkflowError(fmt.Sprintf("flow node %d does not exist in version %d", *cur, c.Version), internal.ErrCodeFlowGraphInvalid)
		}
		if n.Human() {
			step.Stop = n
			return step, nil
		}
		if seen[n.ID] {
			return nil, internal.NewWorkflowError(fmt.Sprintf("flow loops through %q without reaching an approval", n.Key), internal.ErrCodeFlowGraphInvalid)
		}
		seen[n.ID] = true
		step.Passed = append(step.Passed, n)
		cur = c.route(n, values)
	}
	return step, nil
}

func (c *Compiled) route(n *CompiledNode, values map[string]any) *int64 {
	if n.Type != NodeCondition {
		return n.Next
	}
	if n.Condition.Evaluate(values) {
		return n.True
	}
	return n.False
}

// Outcome is the state of a human node for the current visit.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeApproved
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApproved:
		return "approved"
	case OutcomeRejected:
		return "rejected"
	}
	return "pending"
}

// Decision is one recorded approval or rejection. Override marks an admin who is not a resolved approver.
type Decision struct {
	UserID   int64
	Approved bool
	Override bool
}

// Resolve applies the completion rule of a node type to the decisions of the current visit, in the order
// they were recorded.
func Resolve(nodeType string, approvers []int64, decisions []Decision) Outcome {
	for _, d := range decisions {
		if d.Override {
			return outcomeOf(d)
		}
	}
	switch nodeType {
	case NodeApprove, NodeOr:
		if len(decisions) == 0 {
			return OutcomePending
		}
		return outcomeOf(decisions[0])
	case NodeCountersign:
		approved := make(map[int64]bool, len(decisions))
		for _, d := range decisions {
			if !d.Approved {
				return OutcomeRejected
			}
			approved[d.UserID] = true
		}
		for _, id := range approvers {
			if !approved[id] {
				return OutcomePending
			}
		}
		return OutcomeApproved
	}
	return OutcomePending
}

func outcomeOf(d Decision) Outcome {
	if d.Approved {
		return OutcomeApproved
	}
	return OutcomeRejected
}
