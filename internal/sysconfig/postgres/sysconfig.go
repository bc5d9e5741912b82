package postgres

import (
	"context"

	"github.com/frahmantamala/ssoflow/internal/core/datamodel/workflow"
	"github.com/frahmantamala/ssoflow/internal/core/dbutil"
	"github.com/frahmantamala/ssoflow/internal/sysconfig"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ConfigRepository struct {
	db *gorm.DB
}

func NewConfigRepository(db *gorm.DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

var _ sysconfig.Repository = (*ConfigRepository)(nil)

func (r *ConfigRepository) Get(ctx context.Context, key string) (*workflow.SystemConfig, error) {
	var e workflow.SystemConfig
	if err := r.db.WithContext(ctx).Where("config_key = ?", key).First(&e).Error; err != nil {
		return nil, dbutil.MapNotFound(err, sysconfig.ErrNotFound)
	}
	return &e, nil
}

// Put upserts by key.
func (r *ConfigRepository) Put(ctx context.Context, e *workflow.SystemConfig) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "config_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_by", "updated_at"}),
	}).Create(e).Error
}

func (r *ConfigRepository) List(ctx context.Context) ([]*workflow.SystemConfig, error) {
	var out []*workflow.SystemConfig
	err := r.db.WithContext(ctx).Order("config_key ASC").Find(&out).Error
	return out, err
}
