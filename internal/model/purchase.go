package model

import (
	"time"
)

// WorkflowPurchase 工作流购买关系表
// 工作流购买订单入账时创建，(user_id, workflow_id) 唯一
type WorkflowPurchase struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     int64     `gorm:"not null;uniqueIndex:uk_user_workflow,priority:1" json:"user_id"`
	WorkflowID string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_user_workflow,priority:2" json:"workflow_id"`
	OrderNo    string    `gorm:"type:varchar(64);index;not null" json:"order_no"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (WorkflowPurchase) TableName() string {
	return "workflow_purchase"
}
