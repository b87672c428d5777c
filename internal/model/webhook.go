package model

import (
	"time"
)

const (
	WebhookStatusReceived  = "RECEIVED"  // 已落库，未处理
	WebhookStatusProcessed = "PROCESSED" // 已成功转为入账事件
	WebhookStatusFailed    = "FAILED"    // 解密/处理失败，等待人工回放
)

// WebhookEvent 网关异步通知表
// NotificationID 唯一索引实现通知级去重（网关会重复投递）。
// 解密失败的通知保留原文，供人工审查后回放，绝不从密文里猜字段
type WebhookEvent struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	NotificationID string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"notification_id"`
	EventType      string     `gorm:"type:varchar(64);not null" json:"event_type"`
	Payload        string     `gorm:"type:text;not null" json:"payload"` // 原始通知报文（含密文）
	Status         string     `gorm:"type:varchar(20);index;not null;default:RECEIVED" json:"status"`
	ProcessError   string     `gorm:"type:varchar(512)" json:"process_error"`
	ProcessedAt    *time.Time `json:"processed_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_event"
}
