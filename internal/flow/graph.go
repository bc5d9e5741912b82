package flow

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/core/predicate"
)

// GraphNode is a node addressed by key with its outgoing edges as keys.
type GraphNode struct {
	Key           string
	Type          string
	ApproverType  string
	ApproverValue string
	Condition     json.RawMessage
	Next          string
	True          string
	False         string
}

func (n GraphNode) edges() []string {
	var out []string
	for _, e := range []string{n.Next, n.True, n.False} {
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

// ValidateGraph returns nil or a FLOW_GRAPH_INVALID workflow error listing every problem found.
func ValidateGraph(nodes []GraphNode) error {
	problems := graphProblems(nodes)
	if len(problems) == 0 {
		return nil
	}
	return internal.NewWorkflowError("Approval flow graph is invalid", internal.ErrCodeFlowGraphInvalid).
		WithDetails(map[string][]string{"problems": problems})
}

func graphProblems(nodes []GraphNode) []string {
	if len(nodes) == 0 {
		return []string{"flow must contain at least one node"}
	}
	var problems []string
	byKey := make(map[string]GraphNode, len(nodes))
	for _, n := range nodes {
		byKey[n.Key] = n
	}

	for _, n := range nodes {
		problems = append(problems, nodeProblems(n)...)
		for _, target := range n.edges() {
			if _, ok := byKey[target]; !ok {
				problems = append(problems, fmt.Sprintf("node %q points at unknown node %q", n.Key, target))
			}
		}
	}
	if len(problems) > 0 {
		return problems
	}

	incoming := make(map[string]int, len(nodes))
	for _, n := range nodes {
		for _, target := range n.edges() {
			incoming[target]++
		}
	}
	var entries []string
	for _, n := range nodes {
		if incoming[n.Key] == 0 {
			entries = append(entries, n.Key)
		}
	}
	if len(entries) != 1 {
		sort.Strings(entries)
		return append(problems, fmt.Sprintf("flow must have exactly one entry node, found %d %v", len(entries), entries))
	}

	reached := reachable(byKey, entries[0])
	for _, n := range nodes {
		if !reached[n.Key] {
			problems = append(problems, fmt.Sprintf("node %q is not reachable from the entry node", n.Key))
		}
	}

	for _, scc := range stronglyConnected(nodes, byKey) {
		if !isCycle(scc, byKey) {
			continue
		}
		members := make(map[string]bool, len(scc))
		for _, k := range scc {
			members[k] = true
		}
		sort.Strings(scc)
		gated := false
		for _, k := range scc {
			n := byKey[k]
			if n.Type != NodeCondition {
				continue
			}
			gated = true
			if members[n.True] && members[n.False] {
				problems = append(problems, fmt.Sprintf("condition %q has no branch leaving the cycle %v", k, scc))
			}
		}
		if !gated {
			problems = append(problems, fmt.Sprintf("nodes %v form a cycle without a condition node", scc))
		}
	}
	return problems
}

func nodeProblems(n GraphNode) []string {
	var problems []string
	switch n.Type {
	case NodeCondition:
		if n.True == "" || n.False == "" {
			problems = append(problems, fmt.Sprintf("condition %q needs both a true and a false branch", n.Key))
		}
		if n.Next != "" {
			problems = append(problems, fmt.Sprintf("condition %q cannot have a next edge", n.Key))
		}
		cond, err := predicate.Parse(n.Condition)
		if err != nil {
			problems = append(problems, fmt.Sprintf("condition %q: %v", n.Key, err))
		} else if cond == nil {
			problems = append(problems, fmt.Sprintf("condition %q has no predicate", n.Key))
		}
	case NodeApprove, NodeCountersign, NodeOr, NodeCC:
		if n.True != "" || n.False != "" {
			problems = append(problems, fmt.Sprintf("node %q only supports a next edge", n.Key))
		}
		if n.Type == NodeCC && n.ApproverType == "" {
			break
		}
		if p := approverProblem(n); p != "" {
			problems = append(problems, p)
		}
	default:
		problems = append(problems, fmt.Sprintf("node %q has unknown type %q", n.Key, n.Type))
	}
	return problems
}

func approverProblem(n GraphNode) string {
	switch n.ApproverType {
	case ApproverRole, ApproverUser:
		if id, err := strconv.ParseInt(n.ApproverValue, 10, 64); err != nil || id <= 0 {
			return fmt.Sprintf("node %q: approver_value must be a %s id", n.Key, n.ApproverType)
		}
	case ApproverFormField:
		if n.ApproverValue == "" {
			return fmt.Sprintf("node %q: approver_value must name a form field", n.Key)
		}
	default:
		return fmt.Sprintf("node %q: approver_type must be one of role, user, form_field", n.Key)
	}
	return ""
}

func reachable(byKey map[string]GraphNode, from string) map[string]bool {
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		k := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range byKey[k].edges() {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return seen
}

func isCycle(scc []string, byKey map[string]GraphNode) bool {
	if len(scc) > 1 {
		return true
	}
	for _, e := range byKey[scc[0]].edges() {
		if e == scc[0] {
			return true
		}
	}
	return false
}

// stronglyConnected is Tarjan's algorithm over node keys.
func stronglyConnected(nodes []GraphNode, byKey map[string]GraphNode) [][]string {
	var (
		index   int
		stack   []string
		onStack = map[string]bool{}
		indices = map[string]int{}
		lowlink = map[string]int{}
		out     [][]string
	)
	var visit func(k string)
	visit = func(k string) {
		indices[k] = index
		lowlink[k] = index
		index++
		stack = append(stack, k)
		onStack[k] = true

		for _, next := range byKey[k].edges() {
			if _, seen := indices[next]; !seen {
				visit(next)
				lowlink[k] = min(lowlink[k], lowlink[next])
			} else if onStack[next] {
				lowlink[k] = min(lowlink[k], indices[next])
			}
		}

		if lowlink[k] == indices[k] {
			var scc []string
			for {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[top] = false
				scc = append(scc, top)
				if top == k {
					break
				}
			}
			out = append(out, scc)
		}
	}
	for _, n := range nodes {
		if _, seen := indices[n.Key]; !seen {
			visit(n.Key)
		}
	}
	return out
}
