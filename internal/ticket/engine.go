package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/frahmantamala/ssoflow/internal/flow"
	"github.com/frahmantamala/ssoflow/internal/form"
)

// plan is where a ticket lands after walking the automatic part of its flow.
type plan struct {
	status    string
	node      *flow.CompiledNode
	approvers []int64
	copied    []ccDelivery
}

type ccDelivery struct {
	node  *flow.CompiledNode
	users []int64
}

// advance walks from a node and resolves who must act next. An approval or configured cc node that resolves
// to nobody is an error: the ticket never skips a node silently. A cc node without an approver type is a
// plain pass-through.
func (s *Service) advance(ctx context.Context, c *flow.Compiled, from *int64, values map[string]any) (*plan, error) {
	step, err := c.Walk(from, values)
	if err != nil {
		return nil, err
	}
	p := &plan{status: StatusApproved}
	for _, n := range step.Passed {
		if n.Type != flow.NodeCC || n.ApproverType == "" {
			continue
		}
		users, err := s.resolveApprovers(ctx, n, values)
		if err != nil {
			return nil, err
		}
		if len(users) == 0 {
			return nil, ErrApproverUnresolvable.WithMessage(fmt.Sprintf("No recipient could be resolved for cc node %q", n.Name))
		}
		p.copied = append(p.copied, ccDelivery{node: n, users: users})
	}
	if step.Stop == nil {
		return p, nil
	}
	approvers, err := s.resolveApprovers(ctx, step.Stop, values)
	if err != nil {
		return nil, err
	}
	if len(approvers) == 0 {
		return nil, ErrApproverUnresolvable.WithMessage(fmt.Sprintf("No approver could be resolved for node %q", step.Stop.Name))
	}
	p.status = StatusPending
	p.node = step.Stop
	p.approvers = approvers
	return p, nil
}

// resolveApprovers returns the active users named by a node, sorted and unique.
func (s *Service) resolveApprovers(ctx context.Context, n *flow.CompiledNode, values map[string]any) ([]int64, error) {
	var candidates []int64
	switch n.ApproverType {
	case flow.ApproverRole:
		roleID, err := strconv.ParseInt(n.ApproverValue, 10, 64)
		if err != nil {
			return nil, nil
		}
		ids, err := s.roles.UserIDsWithRole(ctx, roleID)
		if err != nil {
			if isNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		candidates = ids
	case flow.ApproverUser:
		if id, err := strconv.ParseInt(n.ApproverValue, 10, 64); err == nil {
			candidates = []int64{id}
		}
	case flow.ApproverFormField:
		if id, ok := userIDValue(values[n.ApproverValue]); ok {
			candidates = []int64{id}
		}
	}

	seen := make(map[int64]bool, len(candidates))
	out := make([]int64, 0, len(candidates))
	for _, id := range candidates {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		_, active, err := s.users.IsActive(ctx, id)
		if err != nil {
			return nil, err
		}
		if active {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func userIDValue(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, t > 0
	case int:
		return int64(t), t > 0
	case float64:
		if t > 0 && t == math.Trunc(t) {
			return int64(t), true
		}
	case json.Number:
		n, err := t.Int64()
		return n, err == nil && n > 0
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil && n > 0
	}
	return 0, false
}

// snapshot turns a validated submission into field data rows in render order.
func snapshot(ticketID int64, sub *form.Submission) []*FieldData {
	out := make([]*FieldData, 0, len(sub.Fields))
	for _, f := range sub.Fields {
		out = append(out, &FieldData{
			TicketID:   ticketID,
			FieldID:    f.ID,
			FieldName:  f.Name,
			FieldLabel: f.Label,
			FieldType:  f.FieldType,
			Required:   f.Required,
			SortOrder:  f.SortOrder,
			Value:      sub.Encode(f.Name),
		})
	}
	return out
}

// values rebuilds typed form values from a snapshot.
func values(data []*FieldData) map[string]any {
	out := make(map[string]any, len(data))
	for _, d := range data {
		if d.Value == "" {
			continue
		}
		out[d.FieldName] = form.DecodeValue(d.FieldType, d.Value)
	}
	return out
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
