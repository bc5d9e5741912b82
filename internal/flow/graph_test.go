package flow_test

import (
	"encoding/json"
	"testing"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/flow"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestFlow(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Flow Suite")
}

func problems(err error) []string {
	appErr, ok := internal.IsAppError(err)
	ExpectWithOffset(1, ok).To(BeTrue(), "expected an AppError, got %v", err)
	ExpectWithOffset(1, appErr.Code).To(Equal(internal.ErrCodeFlowGraphInvalid))
	details, ok := appErr.Details.(map[string][]string)
	ExpectWithOffset(1, ok).To(BeTrue())
	return details["problems"]
}

func approve(key, next string) flow.GraphNode {
	return flow.GraphNode{Key: key, Type: flow.NodeApprove, ApproverType: flow.ApproverRole, ApproverValue: "1", Next: next}
}

func condition(key, field, op string, value any, t, f string) flow.GraphNode {
	raw, _ := json.Marshal(map[string]any{"field": field, "operator": op, "value": value})
	return flow.GraphNode{Key: key, Type: flow.NodeCondition, Condition: raw, True: t, False: f}
}

var _ = Describe("ValidateGraph", func() {
	It("accepts a linear chain", func() {
		Expect(flow.ValidateGraph([]flow.GraphNode{approve("a", "b"), approve("b", "")})).To(Succeed())
	})

	It("accepts a condition with a cc branch that carries no approver", func() {
		nodes := []flow.GraphNode{
			approve("entry", "cond"),
			condition("cond", "amount", ">", 1000, "big", "notify"),
			approve("big", ""),
			{Key: "notify", Type: flow.NodeCC},
		}
		Expect(flow.ValidateGraph(nodes)).To(Succeed())
	})

	It("rejects an empty graph", func() {
		Expect(problems(flow.ValidateGraph(nil))).To(ConsistOf(ContainSubstring("at least one node")))
	})

	It("rejects edges to unknown nodes", func() {
		Expect(problems(flow.ValidateGraph([]flow.GraphNode{approve("a", "ghost")}))).
			To(ContainElement(ContainSubstring(`unknown node "ghost"`)))
	})

	It("rejects two entry nodes", func() {
		err := flow.ValidateGraph([]flow.GraphNode{approve("a", "c"), approve("b", "c"), approve("c", "")})
		Expect(problems(err)).To(ContainElement(ContainSubstring("exactly one entry node, found 2")))
	})

	It("rejects a graph where every node has an incoming edge", func() {
		err := flow.ValidateGraph([]flow.GraphNode{approve("a", "b"), approve("b", "a")})
		Expect(problems(err)).To(ContainElement(ContainSubstring("found 0")))
	})

	It("rejects a next-only cycle behind the entry", func() {
		// Given entry -> a -> b -> a
		nodes := []flow.GraphNode{approve("entry", "a"), approve("a", "b"), approve("b", "a")}

		// Then
		Expect(problems(flow.ValidateGraph(nodes))).
			To(ContainElement(ContainSubstring("cycle without a condition node")))
	})

	It("rejects a self loop", func() {
		nodes := []flow.GraphNode{approve("entry", "loop"), approve("loop", "loop")}
		Expect(problems(flow.ValidateGraph(nodes))).To(ContainElement(ContainSubstring("[loop]")))
	})

	It("accepts a cycle gated by a condition with an exit branch", func() {
		// entry -> review -> check; check true -> review (rework), false -> done
		nodes := []flow.GraphNode{
			approve("entry", "review"),
			approve("review", "check"),
			condition("check", "rework", "==", true, "review", "done"),
			approve("done", ""),
		}
		Expect(flow.ValidateGraph(nodes)).To(Succeed())
	})

	It("rejects a condition whose branches both stay inside the cycle", func() {
		nodes := []flow.GraphNode{
			approve("entry", "a"),
			approve("a", "check"),
			condition("check", "x", "==", 1, "a", "b"),
			approve("b", "a"),
		}
		Expect(problems(flow.ValidateGraph(nodes))).
			To(ContainElement(ContainSubstring(`condition "check" has no branch leaving the cycle`)))
	})

	It("reports unreachable nodes", func() {
		nodes := []flow.GraphNode{
			approve("entry", ""),
			approve("island", "island2"),
			approve("island2", "island"),
		}
		// island has an incoming edge from island2 so entry is still the only entry
		Expect(problems(flow.ValidateGraph(nodes))).To(ContainElements(
			ContainSubstring(`"island" is not reachable`),
			ContainSubstring(`"island2" is not reachable`),
		))
	})

	DescribeTable("node rules",
		func(node flow.GraphNode, want string) {
			Expect(problems(flow.ValidateGraph([]flow.GraphNode{node}))).To(ContainElement(ContainSubstring(want)))
		},
		Entry("condition without branches",
			flow.GraphNode{Key: "c", Type: flow.NodeCondition, Condition: json.RawMessage(`{"field":"a","operator":"==","value":1}`)},
			"needs both a true and a false branch"),
		Entry("condition without predicate",
			flow.GraphNode{Key: "c", Type: flow.NodeCondition},
			"has no predicate"),
		Entry("condition with a bad operator",
			flow.GraphNode{Key: "c", Type: flow.NodeCondition, Condition: json.RawMessage(`{"field":"a","operator":"~","value":1}`)},
			"unsupported operator"),
		Entry("approve node with a branch",
			flow.GraphNode{Key: "a", Type: flow.NodeApprove, ApproverType: flow.ApproverUser, ApproverValue: "1", True: "a"},
			"only supports a next edge"),
		Entry("approve node without approver",
			flow.GraphNode{Key: "a", Type: flow.NodeCountersign},
			"approver_type must be one of"),
		Entry("role approver that is not an id",
			flow.GraphNode{Key: "a", Type: flow.NodeOr, ApproverType: flow.ApproverRole, ApproverValue: "finance"},
			"approver_value must be a role id"),
		Entry("form field approver without a name",
			flow.GraphNode{Key: "a", Type: flow.NodeApprove, ApproverType: flow.ApproverFormField},
			"must name a form field"),
		Entry("unknown type",
			flow.GraphNode{Key: "a", Type: "parallel"},
			`unknown type "parallel"`),
	)
})
