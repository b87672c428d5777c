package model

import (
	"fmt"
	"time"
)

const (
	PayoutStatusPending    = "PENDING"    // 待打款
	PayoutStatusProcessing = "PROCESSING" // 已被监控任务认领，打款中
	PayoutStatusCompleted  = "COMPLETED"  // 打款完成（终态）
	PayoutStatusFailed     = "FAILED"     // 重试耗尽（终态，需人工介入）
)

// PayoutRecord 佣金打款计划表
// 上游分佣任务创建，状态流转由 PayoutMonitor 负责：
// PENDING -> PROCESSING -> COMPLETED / 回退 PENDING（重试）/ FAILED（重试耗尽）
type PayoutRecord struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	BeneficiaryID int64     `gorm:"index;not null" json:"beneficiary_id"`
	OpenID        string    `gorm:"type:varchar(64);not null" json:"open_id"` // 网关侧收款人标识
	Amount        int64     `gorm:"not null" json:"amount"`                   // 金额（分）
	ScheduledDate time.Time `gorm:"index;not null" json:"scheduled_date"`
	Status        string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount    int       `gorm:"not null;default:0" json:"retry_count"`
	FailureReason string    `gorm:"type:varchar(256)" json:"failure_reason"`
	Remark        string    `gorm:"type:varchar(128)" json:"remark"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PayoutRecord) TableName() string {
	return "payout_record"
}

// BatchNo 网关转账批次号
// 由记录ID确定性派生，重复发起同一笔打款不会在网关侧产生重复转账
func (r *PayoutRecord) BatchNo() string {
	return fmt.Sprintf("PB%012d", r.ID)
}

// DetailNo 批次内明细单号，单笔打款固定一条明细
func (r *PayoutRecord) DetailNo() string {
	return fmt.Sprintf("PD%012d", r.ID)
}
