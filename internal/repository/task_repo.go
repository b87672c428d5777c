package repository

import (
	"context"
	"errors"
	"time"

	"settlement/internal/model"

	"gorm.io/gorm"
)

var (
	ErrTaskNotFound = errors.New("任务不存在")
)

type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.MonitoredTask) error {
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *TaskRepository) GetByID(ctx context.Context, id int64) (*model.MonitoredTask, error) {
	var task model.MonitoredTask
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

func (r *TaskRepository) GetRunning(ctx context.Context, limit int) ([]*model.MonitoredTask, error) {
	var tasks []*model.MonitoredTask
	err := r.db.WithContext(ctx).
		Where("status = ?", model.TaskStatusRunning).
		Order("created_at ASC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}

// MarkCompleted 任务完成：RUNNING -> COMPLETED
//
// 【关键点】条件更新保证终态只到达一次，返回 false 表示任务
// 已被并发轮次流转，调用方不得重复发通知
func (r *TaskRepository) MarkCompleted(ctx context.Context, tx *gorm.DB, id int64, output string) (bool, error) {
	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.MonitoredTask{}).
		Where("id = ? AND status = ?", id, model.TaskStatusRunning).
		Updates(map[string]interface{}{
			"status":      model.TaskStatusCompleted,
			"output":      output,
			"finished_at": &now,
		})

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

// MarkTimeout 任务超时：RUNNING -> TIMEOUT
func (r *TaskRepository) MarkTimeout(ctx context.Context, tx *gorm.DB, id int64) (bool, error) {
	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.MonitoredTask{}).
		Where("id = ? AND status = ?", id, model.TaskStatusRunning).
		Updates(map[string]interface{}{
			"status":         model.TaskStatusTimeout,
			"failure_reason": "任务执行超时",
			"finished_at":    &now,
		})

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

// MarkFailed 任务失败：RUNNING -> FAILED，记录失败原因
func (r *TaskRepository) MarkFailed(ctx context.Context, tx *gorm.DB, id int64, reason string) (bool, error) {
	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.MonitoredTask{}).
		Where("id = ? AND status = ?", id, model.TaskStatusRunning).
		Updates(map[string]interface{}{
			"status":         model.TaskStatusFailed,
			"failure_reason": reason,
			"finished_at":    &now,
		})

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}
