package flow_test

import (
	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/flow"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/datatypes"
)

func ref(id int64) *int64 { return &id }

// scenarioRows is entry(approve) -> amount > 1000 ? manager(approve) : notify(cc).
func scenarioRows() []*flow.Node {
	return []*flow.Node{
		{ID: 1, NodeKey: "entry", Name: "Lead", NodeType: flow.NodeApprove, ApproverType: flow.ApproverRole, ApproverValue: "1", NextNodeID: ref(2)},
		{ID: 2, NodeKey: "cond", Name: "Amount check", NodeType: flow.NodeCondition,
			Condition: datatypes.JSON(`{"field":"amount","operator":">","value":1000}`), TrueBranchID: ref(3), FalseBranchID: ref(4)},
		{ID: 3, NodeKey: "manager", Name: "Manager", NodeType: flow.NodeApprove, ApproverType: flow.ApproverRole, ApproverValue: "2"},
		{ID: 4, NodeKey: "notify", Name: "Finance CC", NodeType: flow.NodeCC, ApproverType: flow.ApproverRole, ApproverValue: "3"},
	}
}

var _ = Describe("Compile", func() {
	It("finds the entry node and parses conditions", func() {
		c, err := flow.Compile(7, 2, scenarioRows())
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Entry).To(Equal(int64(1)))
		Expect(c.Version).To(Equal(2))
		cond, ok := c.Node(2)
		Expect(ok).To(BeTrue())
		Expect(cond.Condition).NotTo(BeNil())
		Expect(cond.Human()).To(BeFalse())
	})

	It("refuses an empty version", func() {
		_, err := flow.Compile(7, 1, nil)
		Expect(err).To(MatchError(flow.ErrVersionNotFound))
	})

	Describe("Walk", func() {
		var c *flow.Compiled

		BeforeEach(func() {
			var err error
			c, err = flow.Compile(7, 1, scenarioRows())
			Expect(err).NotTo(HaveOccurred())
		})

		It("stops at the entry when it needs approvers", func() {
			step, err := c.Walk(ref(c.Entry), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(step.Stop.Key).To(Equal("entry"))
			Expect(step.Passed).To(BeEmpty())
		})

		It("routes large amounts to the manager", func() {
			step, err := c.Walk(ref(2), map[string]any{"amount": 2500.0})
			Expect(err).NotTo(HaveOccurred())
			Expect(step.Stop.Key).To(Equal("manager"))
			Expect(step.Passed).To(HaveLen(1))
		})

		It("routes small amounts through cc to the end of the flow", func() {
			step, err := c.Walk(ref(2), map[string]any{"amount": 500.0})
			Expect(err).NotTo(HaveOccurred())
			Expect(step.Stop).To(BeNil())
			keys := []string{}
			for _, n := range step.Passed {
				keys = append(keys, n.Key)
			}
			Expect(keys).To(Equal([]string{"cond", "notify"}))
		})

		It("routes identically for identical values", func() {
			values := map[string]any{"amount": 1000.0}
			first, err := c.Walk(ref(2), values)
			Expect(err).NotTo(HaveOccurred())
			for i := 0; i < 5; i++ {
				again, err := c.Walk(ref(2), values)
				Expect(err).NotTo(HaveOccurred())
				Expect(again.Stop).To(Equal(first.Stop))
			}
		})

		It("returns an empty step for a nil start", func() {
			step, err := c.Walk(nil, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(step.Stop).To(BeNil())
		})

		It("fails on an automatic loop", func() {
			rows := []*flow.Node{
				{ID: 1, NodeKey: "entry", NodeType: flow.NodeApprove, ApproverType: flow.ApproverUser, ApproverValue: "1", NextNodeID: ref(2)},
				{ID: 2, NodeKey: "a", NodeType: flow.NodeCC, NextNodeID: ref(3)},
				{ID: 3, NodeKey: "b", NodeType: flow.NodeCC, NextNodeID: ref(2)},
			}
			loop, err := flow.Compile(1, 1, rows)
			Expect(err).NotTo(HaveOccurred())

			_, err = loop.Walk(ref(2), nil)
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeFlowGraphInvalid))
		})
	})
})

var _ = Describe("Resolve", func() {
	yes := func(id int64) flow.Decision { return flow.Decision{UserID: id, Approved: true} }
	no := func(id int64) flow.Decision { return flow.Decision{UserID: id} }

	It("resolves an approve node on the first decision", func() {
		Expect(flow.Resolve(flow.NodeApprove, []int64{1, 2}, nil)).To(Equal(flow.OutcomePending))
		Expect(flow.Resolve(flow.NodeApprove, []int64{1, 2}, []flow.Decision{yes(2)})).To(Equal(flow.OutcomeApproved))
		Expect(flow.Resolve(flow.NodeApprove, []int64{1, 2}, []flow.Decision{no(1)})).To(Equal(flow.OutcomeRejected))
	})

	It("lets the first responder win an or node", func() {
		Expect(flow.Resolve(flow.NodeOr, []int64{1, 2}, []flow.Decision{no(2), yes(1)})).To(Equal(flow.OutcomeRejected))
		Expect(flow.Resolve(flow.NodeOr, []int64{1, 2}, []flow.Decision{yes(1), no(2)})).To(Equal(flow.OutcomeApproved))
	})

	It("advances a countersign node only with every approval", func() {
		approvers := []int64{1, 2, 3}
		decisions := []flow.Decision{}
		for i, id := range approvers {
			decisions = append(decisions, yes(id))
			want := flow.OutcomePending
			if i == len(approvers)-1 {
				want = flow.OutcomeApproved
			}
			Expect(flow.Resolve(flow.NodeCountersign, approvers, decisions)).To(Equal(want))
		}
	})

	It("rejects a countersign node on the first rejection", func() {
		Expect(flow.Resolve(flow.NodeCountersign, []int64{1, 2, 3}, []flow.Decision{yes(1), no(3)})).To(Equal(flow.OutcomeRejected))
	})

	It("lets an override decide any node", func() {
		d := flow.Decision{UserID: 99, Approved: true, Override: true}
		Expect(flow.Resolve(flow.NodeCountersign, []int64{1, 2}, []flow.Decision{d})).To(Equal(flow.OutcomeApproved))
	})
})
