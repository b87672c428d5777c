package model

import (
	"time"
)

const (
	TaskStatusRunning   = "RUNNING"
	TaskStatusCompleted = "COMPLETED"
	TaskStatusFailed    = "FAILED"
	TaskStatusTimeout   = "TIMEOUT"
)

// MonitoredTask 外部长任务表
// 工作流提交接口创建，TaskMonitor 轮询第三方任务接口直到终态。
// 状态单调流转：RUNNING -> COMPLETED/FAILED/TIMEOUT，终态不再变更
type MonitoredTask struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        int64      `gorm:"index;not null" json:"user_id"`
	ExternalJobID string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"external_job_id"`
	Status        string     `gorm:"type:varchar(20);index;not null;default:RUNNING" json:"status"`
	Output        string     `gorm:"type:text" json:"output"` // 任务产物（如结果文件地址）
	FailureReason string     `gorm:"type:varchar(256)" json:"failure_reason"`
	FinishedAt    *time.Time `json:"finished_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (MonitoredTask) TableName() string {
	return "monitored_task"
}
