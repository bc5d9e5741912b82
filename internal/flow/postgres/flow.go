package postgres

import (
	"context"
	"time"

	"github.com/frahmantamala/ssoflow/internal/core/datamodel/workflow"
	"github.com/frahmantamala/ssoflow/internal/core/dbutil"
	"github.com/frahmantamala/ssoflow/internal/flow"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type FlowRepository struct {
	db *gorm.DB
}

func NewFlowRepository(db *gorm.DB) *FlowRepository {
	return &FlowRepository{db: db}
}

var _ flow.Repository = (*FlowRepository)(nil)

func (r *FlowRepository) CreateFlow(ctx context.Context, f *workflow.ApprovalFlow) error {
	return dbutil.MapWriteError(r.db.WithContext(ctx).Create(f).Error, flow.ErrDuplicate)
}

func (r *FlowRepository) UpdateFlow(ctx context.Context, f *workflow.ApprovalFlow) error {
	err := r.db.WithContext(ctx).Model(&workflow.ApprovalFlow{}).Where("id = ?", f.ID).
		Updates(map[string]interface{}{"name": f.Name, "description": f.Description, "enabled": f.Enabled}).Error
	return dbutil.MapWriteError(err, flow.ErrDuplicate)
}

func (r *FlowRepository) GetFlow(ctx context.Context, id int64) (*workflow.ApprovalFlow, error) {
	var f workflow.ApprovalFlow
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&f).Error; err != nil {
		return nil, dbutil.MapNotFound(err, flow.ErrFlowNotFound)
	}
	return &f, nil
}

func (r *FlowRepository) ListFlows(ctx context.Context, f flow.FlowFilter) ([]*workflow.ApprovalFlow, int64, error) {
	q := r.db.WithContext(ctx).Model(&workflow.ApprovalFlow{})
	if f.Keyword != "" {
		q = q.Where("LOWER(name) LIKE ?", dbutil.Like(f.Keyword))
	}
	if f.Enabled != nil {
		q = q.Where("enabled = ?", *f.Enabled)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []*workflow.ApprovalFlow
	err := q.Order("id ASC").Scopes(dbutil.Paginate(f.PageRequest)).Find(&out).Error
	return out, total, err
}

func (r *FlowRepository) DeleteFlow(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("flow_id = ?", id).Delete(&workflow.FlowNode{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&workflow.ApprovalFlow{}).Error
	})
}

// CountFlowUsage counts ticket types bound to the flow plus tickets still in approval on any of its versions.
func (r *FlowRepository) CountFlowUsage(ctx context.Context, id int64) (int64, error) {
	var types, tickets int64
	db := r.db.WithContext(ctx)
	if err := db.Model(&workflow.TicketType{}).Where("flow_id = ?", id).Count(&types).Error; err != nil {
		return 0, err
	}
	if err := db.Model(&workflow.Ticket{}).Where("flow_id = ? AND status = ?", id, "pending").Count(&tickets).Error; err != nil {
		return 0, err
	}
	return types + tickets, nil
}

func (r *FlowRepository) ListNodes(ctx context.Context, flowID int64, version int) ([]*workflow.FlowNode, error) {
	var out []*workflow.FlowNode
	err := r.db.WithContext(ctx).Where("flow_id = ? AND version = ?", flowID, version).
		Order("sort_order ASC, id ASC").Find(&out).Error
	return out, err
}

// ReplaceNodes rewrites the draft version's rows. The flow row is locked and must still be one version
// behind the draft, so a publish that landed after the caller read the flow is never overwritten.
// Edges are linked in a second pass once the new ids are known.
func (r *FlowRepository) ReplaceNodes(ctx context.Context, flowID int64, version int, drafts []flow.NodeDraft) ([]*workflow.FlowNode, error) {
	rows := make([]*workflow.FlowNode, 0, len(drafts))
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current workflow.ApprovalFlow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id", "version").
			Where("id = ?", flowID).First(&current).Error
		if err != nil {
			return dbutil.MapNotFound(err, flow.ErrFlowNotFound)
		}
		if current.Version != version-1 {
			return flow.ErrConcurrentPublish
		}

		if err := tx.Where("flow_id = ? AND version = ?", flowID, version).Delete(&workflow.FlowNode{}).Error; err != nil {
			return err
		}
		ids := make(map[string]int64, len(drafts))
		for _, d := range drafts {
			n := d.Node
			n.ID = 0
			n.FlowID = flowID
			n.Version = version
			n.NextNodeID, n.TrueBranchID, n.FalseBranchID = nil, nil, nil
			if err := tx.Create(n).Error; err != nil {
				return err
			}
			ids[n.NodeKey] = n.ID
			rows = append(rows, n)
		}
		ref := func(key string) *int64 {
			if id, ok := ids[key]; ok && key != "" {
				return &id
			}
			return nil
		}
		for _, d := range drafts {
			n := d.Node
			n.NextNodeID, n.TrueBranchID, n.FalseBranchID = ref(d.Next), ref(d.True), ref(d.False)
			if n.NextNodeID == nil && n.TrueBranchID == nil && n.FalseBranchID == nil {
				continue
			}
			err := tx.Model(&workflow.FlowNode{}).Where("id = ?", n.ID).Updates(map[string]interface{}{
				"next_node_id":    n.NextNodeID,
				"true_branch_id":  n.TrueBranchID,
				"false_branch_id": n.FalseBranchID,
			}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Publish bumps the flow version only if nobody published since from was read.
func (r *FlowRepository) Publish(ctx context.Context, flowID int64, from, to int, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&workflow.ApprovalFlow{}).
		Where("id = ? AND version = ?", flowID, from).
		Updates(map[string]interface{}{"version": to, "published_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return flow.ErrConcurrentPublish
	}
	return nil
}
