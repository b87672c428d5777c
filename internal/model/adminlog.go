package model

import (
	"time"
)

// AdminLog 后台审计日志表
// 入账/打款/任务流转后尽力写入，写入失败不回滚业务事务
type AdminLog struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Operation  string    `gorm:"type:varchar(64);not null" json:"operation"`
	TargetType string    `gorm:"type:varchar(32);index;not null" json:"target_type"`
	TargetID   string    `gorm:"type:varchar(64);index;not null" json:"target_id"`
	Payload    string    `gorm:"type:text" json:"payload"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AdminLog) TableName() string {
	return "admin_log"
}
