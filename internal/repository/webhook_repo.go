package repository

import (
	"context"
	"errors"
	"time"

	"settlement/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrWebhookNotFound = errors.New("通知不存在")
)

type WebhookRepository struct {
	db *gorm.DB
}

func NewWebhookRepository(db *gorm.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

// Insert 落库通知，按 notification_id 去重
// 返回 false 表示同一通知已经收到过（网关重复投递）
func (r *WebhookRepository) Insert(ctx context.Context, event *model.WebhookEvent) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "notification_id"}},
			DoNothing: true,
		}).
		Create(event)

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

func (r *WebhookRepository) GetByNotificationID(ctx context.Context, notificationID string) (*model.WebhookEvent, error) {
	var event model.WebhookEvent
	err := r.db.WithContext(ctx).Where("notification_id = ?", notificationID).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWebhookNotFound
		}
		return nil, err
	}
	return &event, nil
}

func (r *WebhookRepository) MarkProcessed(ctx context.Context, notificationID string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("notification_id = ?", notificationID).
		Updates(map[string]interface{}{
			"status":       model.WebhookStatusProcessed,
			"processed_at": &now,
		}).Error
}

// MarkFailed 标记通知处理失败，原文保留等待人工回放
func (r *WebhookRepository) MarkFailed(ctx context.Context, notificationID, processError string) error {
	return r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("notification_id = ?", notificationID).
		Updates(map[string]interface{}{
			"status":        model.WebhookStatusFailed,
			"process_error": processError,
		}).Error
}

// GetFailed 查询待人工回放的通知
func (r *WebhookRepository) GetFailed(ctx context.Context, limit int) ([]*model.WebhookEvent, error) {
	var events []*model.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("status = ?", model.WebhookStatusFailed).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
