package postgres

import (
	"context"

	"github.com/frahmantamala/ssoflow/internal/core/datamodel/workflow"
	"github.com/frahmantamala/ssoflow/internal/core/dbutil"
	"github.com/frahmantamala/ssoflow/internal/form"
	"gorm.io/gorm"
)

type FormRepository struct {
	db *gorm.DB
}

func NewFormRepository(db *gorm.DB) *FormRepository {
	return &FormRepository{db: db}
}

var _ form.Repository = (*FormRepository)(nil)

func (r *FormRepository) CreateTemplate(ctx context.Context, t *workflow.FormTemplate) error {
	return dbutil.MapWriteError(r.db.WithContext(ctx).Create(t).Error, form.ErrDuplicate)
}

func (r *FormRepository) UpdateTemplate(ctx context.Context, t *workflow.FormTemplate) error {
	err := r.db.WithContext(ctx).Model(&workflow.FormTemplate{}).Where("id = ?", t.ID).
		Updates(map[string]interface{}{"name": t.Name, "description": t.Description, "enabled": t.Enabled}).Error
	return dbutil.MapWriteError(err, form.ErrDuplicate)
}

func (r *FormRepository) GetTemplate(ctx context.Context, id int64) (*workflow.FormTemplate, error) {
	var t workflow.FormTemplate
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, dbutil.MapNotFound(err, form.ErrTemplateNotFound)
	}
	return &t, nil
}

func (r *FormRepository) ListTemplates(ctx context.Context, f form.TemplateFilter) ([]*workflow.FormTemplate, int64, error) {
	q := r.db.WithContext(ctx).Model(&workflow.FormTemplate{})
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
	var out []*workflow.FormTemplate
	err := q.Order("id ASC").Scopes(dbutil.Paginate(f.PageRequest)).Find(&out).Error
	return out, total, err
}

func (r *FormRepository) DeleteTemplate(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("template_id = ?", id).Delete(&workflow.FormField{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&workflow.FormTemplate{}).Error
	})
}

func (r *FormRepository) CountTemplateUsage(ctx context.Context, id int64) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&workflow.TicketType{}).Where("template_id = ?", id).Count(&n).Error
	return n, err
}

func (r *FormRepository) ListFields(ctx context.Context, templateID int64) ([]*workflow.FormField, error) {
	var out []*workflow.FormField
	err := r.db.WithContext(ctx).Where("template_id = ?", templateID).Order("sort_order ASC, id ASC").Find(&out).Error
	return out, err
}

func (r *FormRepository) ReplaceFields(ctx context.Context, templateID int64, fields []*workflow.FormField) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("template_id = ?", templateID).Delete(&workflow.FormField{}).Error; err != nil {
			return err
		}
		if len(fields) == 0 {
			return nil
		}
		return dbutil.MapWriteError(tx.Create(&fields).Error, form.ErrDuplicate)
	})
}
