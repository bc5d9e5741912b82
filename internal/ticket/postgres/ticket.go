package postgres

import (
	"context"
	"time"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/core/datamodel/workflow"
	"github.com/frahmantamala/ssoflow/internal/core/dbutil"
	"github.com/frahmantamala/ssoflow/internal/ticket"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TicketRepository struct {
	db *gorm.DB
}

func NewTicketRepository(db *gorm.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

var _ ticket.Repository = (*TicketRepository)(nil)

const (
	pendingForUser = `EXISTS (SELECT 1 FROM ticket_node_approvers a WHERE a.ticket_id = tickets.id
		AND a.node_id = tickets.current_node_id AND a.visit = tickets.node_visit AND a.user_id = ?)
		AND NOT EXISTS (SELECT 1 FROM approval_records ar WHERE ar.ticket_id = tickets.id
		AND ar.node_id = tickets.current_node_id AND ar.visit = tickets.node_visit AND ar.approver_id = ?)`
	decidedByUser = `EXISTS (SELECT 1 FROM approval_records ar WHERE ar.ticket_id = tickets.id AND ar.approver_id = ?)`
	copiedToUser  = `EXISTS (SELECT 1 FROM ticket_cc c WHERE c.ticket_id = tickets.id AND c.user_id = ?)`
)

// Ticket types

func (r *TicketRepository) CreateType(ctx context.Context, t *workflow.TicketType) error {
	return dbutil.MapWriteError(r.db.WithContext(ctx).Create(t).Error, ticket.ErrDuplicate)
}

func (r *TicketRepository) UpdateType(ctx context.Context, t *workflow.TicketType) error {
	err := r.db.WithContext(ctx).Model(&workflow.TicketType{}).Where("id = ?", t.ID).
		Updates(map[string]interface{}{
			"name":        t.Name,
			"description": t.Description,
			"icon":        t.Icon,
			"template_id": t.TemplateID,
			"flow_id":     t.FlowID,
			"enabled":     t.Enabled,
		}).Error
	return dbutil.MapWriteError(err, ticket.ErrDuplicate)
}

func (r *TicketRepository) GetType(ctx context.Context, id int64) (*workflow.TicketType, error) {
	var t workflow.TicketType
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, dbutil.MapNotFound(err, ticket.ErrTypeNotFound)
	}
	return &t, nil
}

func (r *TicketRepository) ListTypes(ctx context.Context, f ticket.TypeFilter) ([]*workflow.TicketType, int64, error) {
	q := r.db.WithContext(ctx).Model(&workflow.TicketType{})
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
	var out []*workflow.TicketType
	err := q.Order("id ASC").Scopes(dbutil.Paginate(f.PageRequest)).Find(&out).Error
	return out, total, err
}

func (r *TicketRepository) DeleteType(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&workflow.TicketType{}).Error
}

func (r *TicketRepository) CountTypeUsage(ctx context.Context, id int64) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&workflow.Ticket{}).Where("type_id = ?", id).Count(&n).Error
	return n, err
}

// Tickets

func (r *TicketRepository) CreateTicket(ctx context.Context, t *workflow.Ticket, data []*workflow.TicketFieldData) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(t).Error; err != nil {
			return dbutil.MapWriteError(err, ticket.ErrDuplicate)
		}
		if len(data) == 0 {
			return nil
		}
		for _, d := range data {
			d.ID = 0
			d.TicketID = t.ID
		}
		return tx.Create(&data).Error
	})
}

func (r *TicketRepository) GetTicket(ctx context.Context, id int64) (*workflow.Ticket, error) {
	var t workflow.Ticket
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, dbutil.MapNotFound(err, ticket.ErrTicketNotFound)
	}
	return &t, nil
}

// Apply guards the write with the lock version that was read. On success tr.Ticket carries the new version.
func (r *TicketRepository) Apply(ctx context.Context, tr *ticket.Transition) error {
	t := tr.Ticket
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&workflow.Ticket{}).
			Where("id = ? AND lock_version = ?", t.ID, t.LockVersion).
			Updates(map[string]interface{}{
				"title":           t.Title,
				"description":     t.Description,
				"priority":        t.Priority,
				"status":          t.Status,
				"assignee_id":     t.AssigneeID,
				"current_node_id": t.CurrentNodeID,
				"flow_id":         t.FlowID,
				"flow_version":    t.FlowVersion,
				"node_visit":      t.NodeVisit,
				"submitted_at":    t.SubmittedAt,
				"completed_at":    t.CompletedAt,
				"lock_version":    t.LockVersion + 1,
				"updated_at":      time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ticket.ErrConcurrentUpdate
		}

		if tr.ReplaceFieldData {
			if err := tx.Where("ticket_id = ?", t.ID).Delete(&workflow.TicketFieldData{}).Error; err != nil {
				return err
			}
			if len(tr.FieldData) > 0 {
				for _, d := range tr.FieldData {
					d.ID = 0
					d.TicketID = t.ID
				}
				if err := tx.Create(&tr.FieldData).Error; err != nil {
					return err
				}
			}
		}
		if tr.Record != nil {
			if err := tx.Create(tr.Record).Error; err != nil {
				return dbutil.MapWriteError(err, ticket.ErrAlreadyDecided)
			}
		}
		if len(tr.Comments) > 0 {
			if err := tx.Create(&tr.Comments).Error; err != nil {
				return err
			}
		}
		if len(tr.Approvers) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&tr.Approvers).Error; err != nil {
				return err
			}
		}
		if len(tr.CC) > 0 {
			// a loop through a cc node copies each user once
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&tr.CC).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	t.LockVersion++
	return nil
}

func (r *TicketRepository) DeleteDraft(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND status = ?", id, ticket.StatusDraft).Delete(&workflow.Ticket{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ticket.ErrConcurrentUpdate
		}
		for _, model := range []interface{}{&workflow.TicketFieldData{}, &workflow.TicketComment{}, &workflow.Attachment{}} {
			if err := tx.Where("ticket_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *TicketRepository) ListTickets(ctx context.Context, f ticket.Filter) ([]*workflow.Ticket, int64, error) {
	q := r.db.WithContext(ctx).Model(&workflow.Ticket{})
	if f.CreatorID != nil {
		q = q.Where("creator_id = ?", *f.CreatorID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.TypeID > 0 {
		q = q.Where("type_id = ?", f.TypeID)
	}
	if f.Keyword != "" {
		kw := dbutil.Like(f.Keyword)
		q = q.Where("(LOWER(title) LIKE ? OR LOWER(ticket_no) LIKE ?)", kw, kw)
	}
	return r.page(q, f.PageRequest)
}

func (r *TicketRepository) ListPending(ctx context.Context, userID int64, page internal.PageRequest) ([]*workflow.Ticket, int64, error) {
	q := r.db.WithContext(ctx).Model(&workflow.Ticket{}).
		Where("status = ?", ticket.StatusPending).
		Where(pendingForUser, userID, userID)
	return r.page(q, page)
}

func (r *TicketRepository) ListProcessed(ctx context.Context, userID int64, page internal.PageRequest) ([]*workflow.Ticket, int64, error) {
	q := r.db.WithContext(ctx).Model(&workflow.Ticket{}).Where(decidedByUser, userID)
	return r.page(q, page)
}

func (r *TicketRepository) ListCC(ctx context.Context, userID int64, page internal.PageRequest) ([]*workflow.Ticket, int64, error) {
	q := r.db.WithContext(ctx).Model(&workflow.Ticket{}).Where(copiedToUser, userID)
	return r.page(q, page)
}

func (r *TicketRepository) page(q *gorm.DB, page internal.PageRequest) ([]*workflow.Ticket, int64, error) {
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []*workflow.Ticket
	err := q.Order("id DESC").Scopes(dbutil.Paginate(page)).Find(&out).Error
	return out, total, err
}

func (r *TicketRepository) ListFieldData(ctx context.Context, ticketID int64) ([]*workflow.TicketFieldData, error) {
	var out []*workflow.TicketFieldData
	err := r.db.WithContext(ctx).Where("ticket_id = ?", ticketID).Order("sort_order ASC, id ASC").Find(&out).Error
	return out, err
}

func (r *TicketRepository) ListRecords(ctx context.Context, ticketID int64) ([]*workflow.ApprovalRecord, error) {
	var out []*workflow.ApprovalRecord
	err := r.db.WithContext(ctx).Where("ticket_id = ?", ticketID).Order("id ASC").Find(&out).Error
	return out, err
}

func (r *TicketRepository) ListApprovers(ctx context.Context, ticketID, nodeID int64, visit int) ([]int64, error) {
	var out []int64
	err := r.db.WithContext(ctx).Model(&workflow.TicketNodeApprover{}).
		Where("ticket_id = ? AND node_id = ? AND visit = ?", ticketID, nodeID, visit).
		Order("user_id ASC").Pluck("user_id", &out).Error
	return out, err
}

func (r *TicketRepository) IsParticipant(ctx context.Context, ticketID, userID int64) (bool, error) {
	db := r.db.WithContext(ctx)
	checks := []*gorm.DB{
		db.Model(&workflow.TicketNodeApprover{}).Where("ticket_id = ? AND user_id = ?", ticketID, userID),
		db.Model(&workflow.ApprovalRecord{}).Where("ticket_id = ? AND approver_id = ?", ticketID, userID),
		db.Model(&workflow.TicketCC{}).Where("ticket_id = ? AND user_id = ?", ticketID, userID),
	}
	for _, q := range checks {
		var n int64
		if err := q.Count(&n).Error; err != nil {
			return false, err
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (r *TicketRepository) CreateComment(ctx context.Context, c *workflow.TicketComment) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *TicketRepository) ListComments(ctx context.Context, ticketID int64) ([]*workflow.TicketComment, error) {
	var out []*workflow.TicketComment
	err := r.db.WithContext(ctx).Where("ticket_id = ?", ticketID).Order("id ASC").Find(&out).Error
	return out, err
}

func (r *TicketRepository) CreateAttachment(ctx context.Context, a *workflow.Attachment) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *TicketRepository) GetAttachment(ctx context.Context, ticketID, id int64) (*workflow.Attachment, error) {
	var a workflow.Attachment
	if err := r.db.WithContext(ctx).Where("id = ? AND ticket_id = ?", id, ticketID).First(&a).Error; err != nil {
		return nil, dbutil.MapNotFound(err, ticket.ErrAttachmentNotFound)
	}
	return &a, nil
}

func (r *TicketRepository) ListAttachments(ctx context.Context, ticketID int64) ([]*workflow.Attachment, error) {
	var out []*workflow.Attachment
	err := r.db.WithContext(ctx).Where("ticket_id = ?", ticketID).Order("id ASC").Find(&out).Error
	return out, err
}

func (r *TicketRepository) DeleteAttachment(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&workflow.Attachment{}).Error
}
