package repository

import (
	"context"
	"errors"
	"time"

	"settlement/internal/model"

	"gorm.io/gorm"
)

var (
	ErrPayoutNotFound = errors.New("打款记录不存在")
)

type PayoutRepository struct {
	db *gorm.DB
}

func NewPayoutRepository(db *gorm.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

func (r *PayoutRepository) Create(ctx context.Context, record *model.PayoutRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *PayoutRepository) GetByID(ctx context.Context, id int64) (*model.PayoutRecord, error) {
	var record model.PayoutRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	return &record, nil
}

// GetDue 查询到期待打款的记录
// 只取重试次数未达上限的，按计划日期和创建顺序排序，批量上限由调用方给定
func (r *PayoutRepository) GetDue(ctx context.Context, before time.Time, maxRetry, limit int) ([]*model.PayoutRecord, error) {
	var records []*model.PayoutRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_date <= ? AND retry_count < ?",
			model.PayoutStatusPending, before, maxRetry).
		Order("scheduled_date ASC, id ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// GetStaleProcessing 查询滞留在 PROCESSING 的记录
// 上一轮处理中进程崩溃会留下这种状态，后续轮次按批次号查网关重新断定结果
func (r *PayoutRepository) GetStaleProcessing(ctx context.Context, before time.Time, limit int) ([]*model.PayoutRecord, error) {
	var records []*model.PayoutRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.PayoutStatusProcessing, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// Claim 认领打款记录：PENDING -> PROCESSING
//
// 【关键点】先认领再干活。两轮监控重叠时条件更新只会成功一次，
// 返回 false 表示已被其他轮次认领，调用方直接跳过
func (r *PayoutRepository) Claim(ctx context.Context, id int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.PayoutRecord{}).
		Where("id = ? AND status = ?", id, model.PayoutStatusPending).
		Update("status", model.PayoutStatusProcessing)

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

// MarkCompleted 打款完成：PROCESSING -> COMPLETED
func (r *PayoutRepository) MarkCompleted(ctx context.Context, tx *gorm.DB, id int64) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.PayoutRecord{}).
		Where("id = ? AND status = ?", id, model.PayoutStatusProcessing).
		Update("status", model.PayoutStatusCompleted)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrStorageConflict
	}

	return nil
}

// ReleaseForRetry 打款失败回退：PROCESSING -> PENDING，重试次数加一
func (r *PayoutRepository) ReleaseForRetry(ctx context.Context, id int64, reason string) error {
	return r.db.WithContext(ctx).
		Model(&model.PayoutRecord{}).
		Where("id = ? AND status = ?", id, model.PayoutStatusProcessing).
		Updates(map[string]interface{}{
			"status":         model.PayoutStatusPending,
			"retry_count":    gorm.Expr("retry_count + 1"),
			"failure_reason": reason,
		}).Error
}

// MarkFailed 重试耗尽：PROCESSING -> FAILED（终态，需人工介入）
func (r *PayoutRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	return r.db.WithContext(ctx).
		Model(&model.PayoutRecord{}).
		Where("id = ? AND status = ?", id, model.PayoutStatusProcessing).
		Updates(map[string]interface{}{
			"status":         model.PayoutStatusFailed,
			"retry_count":    gorm.Expr("retry_count + 1"),
			"failure_reason": reason,
		}).Error
}
