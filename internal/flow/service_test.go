package flow_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/core/datamodel/sqlitetest"
	"github.com/frahmantamala/ssoflow/internal/core/datamodel/workflow"
	"github.com/frahmantamala/ssoflow/internal/flow"
	flowPostgres "github.com/frahmantamala/ssoflow/internal/flow/postgres"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

func scenarioGraph() flow.SaveNodesDTO {
	return flow.SaveNodesDTO{
		Nodes: []flow.NodeDTO{
			{Key: "entry", Name: "Lead", NodeType: flow.NodeApprove, ApproverType: flow.ApproverRole, ApproverValue: "1", SortOrder: 1},
			{Key: "cond", Name: "Amount check", NodeType: flow.NodeCondition, SortOrder: 2,
				Condition: json.RawMessage(`{"field":"amount","operator":">","value":1000}`)},
			{Key: "manager", Name: "Manager", NodeType: flow.NodeApprove, ApproverType: flow.ApproverRole, ApproverValue: "2", SortOrder: 3},
			{Key: "notify", Name: "Finance CC", NodeType: flow.NodeCC, ApproverType: flow.ApproverRole, ApproverValue: "3", SortOrder: 4},
		},
		Connections: []flow.ConnectionDTO{
			{Source: "entry", Target: "cond"},
			{Source: "cond", Target: "manager", Type: flow.EdgeTrue},
			{Source: "cond", Target: "notify", Type: flow.EdgeFalse},
		},
	}
}

// publishBeforeReplace runs publish right before delegating ReplaceNodes.
type publishBeforeReplace struct {
	flow.Repository
	publish func()
}

func (p *publishBeforeReplace) ReplaceNodes(ctx context.Context, flowID int64, version int, drafts []flow.NodeDraft) ([]*flow.Node, error) {
	p.publish()
	return p.Repository.ReplaceNodes(ctx, flowID, version, drafts)
}

var _ = Describe("Flow Service", func() {
	var (
		ctx     context.Context
		db      *gorm.DB
		repo    *flowPostgres.FlowRepository
		service *flow.Service
		f       *flow.Flow
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		db, err = sqlitetest.Open(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = sqlitetest.Close(db) })

		slogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		repo = flowPostgres.NewFlowRepository(db)
		service = flow.NewService(repo, slogger)

		f, err = service.CreateFlow(ctx, flow.FlowDTO{Name: "Expense approval"})
		Expect(err).NotTo(HaveOccurred())
		Expect(f.Version).To(Equal(0))
	})

	It("saves a draft and links edges by id", func() {
		// When
		view, err := service.SaveNodes(ctx, f.ID, scenarioGraph())

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(view.Version).To(Equal(1))
		Expect(view.Published).To(BeFalse())
		Expect(view.Nodes).To(HaveLen(4))
		Expect(view.Connections).To(ConsistOf(
			flow.ConnectionDTO{Source: "entry", Target: "cond", Type: flow.EdgeNext},
			flow.ConnectionDTO{Source: "cond", Target: "manager", Type: flow.EdgeTrue},
			flow.ConnectionDTO{Source: "cond", Target: "notify", Type: flow.EdgeFalse},
		))

		loaded, err := service.GetNodes(ctx, f.ID, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Version).To(Equal(1))
		Expect(loaded.Connections).To(HaveLen(3))
	})

	It("rejects an invalid graph without touching the draft", func() {
		_, err := service.SaveNodes(ctx, f.ID, scenarioGraph())
		Expect(err).NotTo(HaveOccurred())

		bad := scenarioGraph()
		bad.Connections = append(bad.Connections, flow.ConnectionDTO{Source: "manager", Target: "entry"})
		_, err = service.SaveNodes(ctx, f.ID, bad)
		appErr, ok := internal.IsAppError(err)
		Expect(ok).To(BeTrue())
		Expect(appErr.Code).To(Equal(internal.ErrCodeFlowGraphInvalid))

		view, err := service.GetNodes(ctx, f.ID, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(view.Connections).To(HaveLen(3))
	})

	It("rejects duplicate edges from one node", func() {
		g := scenarioGraph()
		g.Connections = append(g.Connections, flow.ConnectionDTO{Source: "entry", Target: "manager"})
		_, err := service.SaveNodes(ctx, f.ID, g)
		appErr, ok := internal.IsAppError(err)
		Expect(ok).To(BeTrue())
		Expect(appErr.Type).To(Equal(internal.ErrorTypeValidation))
	})

	It("refuses to publish without a draft", func() {
		_, err := service.Publish(ctx, f.ID)
		Expect(err).To(MatchError(flow.ErrNothingToPublish))
	})

	It("refuses to compile an unpublished flow", func() {
		_, err := service.CompileLatest(ctx, f.ID)
		Expect(err).To(MatchError(flow.ErrFlowNotPublished))
	})

	It("publishes the draft and compiles it", func() {
		// Given
		_, err := service.SaveNodes(ctx, f.ID, scenarioGraph())
		Expect(err).NotTo(HaveOccurred())

		// When
		published, err := service.Publish(ctx, f.ID)

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(published.Version).To(Equal(1))
		Expect(published.PublishedAt).NotTo(BeNil())

		c, err := service.CompileLatest(ctx, f.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Version).To(Equal(1))
		Expect(c.Nodes[c.Entry].Key).To(Equal("entry"))

		view, err := service.GetNodes(ctx, f.ID, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(view.Published).To(BeTrue())
		Expect(view.Version).To(Equal(1))
	})

	It("keeps published versions immutable when a new draft is saved and published", func() {
		// Given version 1 is published
		_, err := service.SaveNodes(ctx, f.ID, scenarioGraph())
		Expect(err).NotTo(HaveOccurred())
		_, err = service.Publish(ctx, f.ID)
		Expect(err).NotTo(HaveOccurred())
		v1, err := service.Compile(ctx, f.ID, 1)
		Expect(err).NotTo(HaveOccurred())

		// When a single-node draft is saved and published as version 2
		_, err = service.SaveNodes(ctx, f.ID, flow.SaveNodesDTO{Nodes: []flow.NodeDTO{
			{Key: "only", Name: "Director", NodeType: flow.NodeApprove, ApproverType: flow.ApproverUser, ApproverValue: "9"},
		}})
		Expect(err).NotTo(HaveOccurred())
		_, err = service.Publish(ctx, f.ID)
		Expect(err).NotTo(HaveOccurred())

		// Then version 1 still compiles to the same nodes
		again, err := service.Compile(ctx, f.ID, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(again.Entry).To(Equal(v1.Entry))
		Expect(again.Nodes).To(HaveLen(4))

		latest, err := service.CompileLatest(ctx, f.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(latest.Version).To(Equal(2))
		Expect(latest.Nodes).To(HaveLen(1))

		old, err := service.GetNodes(ctx, f.ID, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(old.Published).To(BeTrue())
		Expect(old.Nodes).To(HaveLen(4))
	})

	It("detects a concurrent publish", func() {
		_, err := service.SaveNodes(ctx, f.ID, scenarioGraph())
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.Publish(ctx, f.ID, 0, 1, time.Now())).To(Succeed())

		Expect(repo.Publish(ctx, f.ID, 0, 1, time.Now())).To(MatchError(flow.ErrConcurrentPublish))
	})

	It("does not overwrite a version published while a draft save was in flight", func() {
		// Given version 1 is published and version 2 is drafted
		_, err := service.SaveNodes(ctx, f.ID, scenarioGraph())
		Expect(err).NotTo(HaveOccurred())
		_, err = service.Publish(ctx, f.ID)
		Expect(err).NotTo(HaveOccurred())
		_, err = service.SaveNodes(ctx, f.ID, scenarioGraph())
		Expect(err).NotTo(HaveOccurred())

		// When version 2 is published between the save's read and its write
		racing := flow.NewService(&publishBeforeReplace{Repository: repo, publish: func() {
			_, err := service.Publish(ctx, f.ID)
			Expect(err).NotTo(HaveOccurred())
		}}, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))

		_, err = racing.SaveNodes(ctx, f.ID, flow.SaveNodesDTO{Nodes: []flow.NodeDTO{
			{Key: "only", Name: "Director", NodeType: flow.NodeApprove, ApproverType: flow.ApproverUser, ApproverValue: "9"},
		}})

		// Then the save is refused and version 2 keeps its nodes
		Expect(err).To(MatchError(flow.ErrConcurrentPublish))
		v2, err := service.Compile(ctx, f.ID, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(v2.Nodes).To(HaveLen(4))
	})

	It("refuses a disabled flow at submission time", func() {
		_, err := service.SaveNodes(ctx, f.ID, scenarioGraph())
		Expect(err).NotTo(HaveOccurred())
		_, err = service.Publish(ctx, f.ID)
		Expect(err).NotTo(HaveOccurred())
		disabled := false
		_, err = service.UpdateFlow(ctx, f.ID, flow.FlowDTO{Name: f.Name, Enabled: &disabled})
		Expect(err).NotTo(HaveOccurred())

		_, err = service.CompileLatest(ctx, f.ID)
		Expect(err).To(MatchError(flow.ErrFlowDisabled))
	})

	It("refuses to delete a flow bound to a ticket type", func() {
		Expect(db.Create(&workflow.TicketType{Name: "Expense", FlowID: &f.ID, Enabled: true}).Error).To(Succeed())

		Expect(service.DeleteFlow(ctx, f.ID)).To(MatchError(flow.ErrFlowInUse))
	})

	It("deletes an unused flow with its nodes", func() {
		_, err := service.SaveNodes(ctx, f.ID, scenarioGraph())
		Expect(err).NotTo(HaveOccurred())

		Expect(service.DeleteFlow(ctx, f.ID)).To(Succeed())

		_, err = service.GetFlow(ctx, f.ID)
		Expect(err).To(MatchError(flow.ErrFlowNotFound))
		var n int64
		Expect(db.Model(&workflow.FlowNode{}).Where("flow_id = ?", f.ID).Count(&n).Error).To(Succeed())
		Expect(n).To(BeZero())
	})

	It("filters the list by keyword", func() {
		_, err := service.CreateFlow(ctx, flow.FlowDTO{Name: "Leave request"})
		Expect(err).NotTo(HaveOccurred())

		list, total, err := service.ListFlows(ctx, flow.FlowFilter{PageRequest: internal.PageRequest{Keyword: "leave"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(int64(1)))
		Expect(list[0].Name).To(Equal("Leave request"))
	})
})
