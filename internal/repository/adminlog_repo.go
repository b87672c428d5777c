package repository

import (
	"context"

	"settlement/internal/model"

	"gorm.io/gorm"
)

type AdminLogRepository struct {
	db *gorm.DB
}

func NewAdminLogRepository(db *gorm.DB) *AdminLogRepository {
	return &AdminLogRepository{db: db}
}

// Create 审计日志写入，调用方尽力而为，失败不回滚业务
func (r *AdminLogRepository) Create(ctx context.Context, entry *model.AdminLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *AdminLogRepository) ListByTarget(ctx context.Context, targetType, targetID string, limit int) ([]*model.AdminLog, error) {
	var entries []*model.AdminLog
	err := r.db.WithContext(ctx).
		Where("target_type = ? AND target_id = ?", targetType, targetID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
