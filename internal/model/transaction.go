package model

import (
	"time"
)

// ============================================================================
// 交易类型常量
// ============================================================================

const (
	TransactionKindRecharge   = "RECHARGE"   // 充值/会员购买入账
	TransactionKindPurchase   = "PURCHASE"   // 工作流购买
	TransactionKindCommission = "COMMISSION" // 佣金结算
	TransactionKindPayout     = "PAYOUT"     // 提现打款
)

const (
	TransactionStatusCompleted = "COMPLETED"
	TransactionStatusFailed    = "FAILED"
)

// ============================================================================
// 账户流水实体
// ============================================================================

// AccountTransaction 账户流水表
// 记录每一笔资金变动，是对账的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. (user_id, external_reference) 唯一 —— 同一外部凭证最多入账一次，
//    这是整个入账链路的幂等键
// 3. 记录交易前后余额 —— 便于校验余额一致性
type AccountTransaction struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"` // 流水号（全局唯一）
	UserID            int64     `gorm:"not null;uniqueIndex:uk_user_external_ref,priority:1" json:"user_id"`
	ExternalReference string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_user_external_ref,priority:2" json:"external_reference"` // 网关交易号 / 打款批次号
	OrderNo           string    `gorm:"type:varchar(64);index" json:"order_no"`
	Amount            int64     `gorm:"not null" json:"amount"` // 金额（正数入账，负数出账）
	Kind              string    `gorm:"type:varchar(20);not null" json:"kind"`
	Status            string    `gorm:"type:varchar(20);not null" json:"status"`
	BalanceBefore     int64     `gorm:"not null" json:"balance_before"` // 交易前余额
	BalanceAfter      int64     `gorm:"not null" json:"balance_after"`  // 交易后余额
	Remark            string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AccountTransaction) TableName() string {
	return "account_transaction"
}
