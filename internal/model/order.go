package model

import (
	"time"
)

const (
	OrderStatusCreated = "CREATED" // 已创建，等待支付
	OrderStatusPaid    = "PAID"    // 网关已确认支付，等待入账
	OrderStatusSettled = "SETTLED" // 已入账（终态，最多到达一次）
	OrderStatusFailed  = "FAILED"  // 支付失败（终态）
	OrderStatusClosed  = "CLOSED"  // 超时关闭（终态）
)

// ValidStatusTransitions 订单状态机
// SETTLED/FAILED/CLOSED 为终态，不允许再流转
var ValidStatusTransitions = map[string][]string{
	OrderStatusCreated: {OrderStatusPaid, OrderStatusSettled, OrderStatusFailed, OrderStatusClosed},
	OrderStatusPaid:    {OrderStatusSettled, OrderStatusFailed},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// 订单类型：会员购买 / 硬币充值 / 工作流购买
const (
	OrderKindMembership       = "MEMBERSHIP"
	OrderKindCoinRecharge     = "COIN_RECHARGE"
	OrderKindWorkflowPurchase = "WORKFLOW_PURCHASE"
)

// Order 支付订单表
// OrderNo 即网关侧的 out_trade_no，商户生成、全局唯一，
// 同一订单重复发起下单请求在网关侧天然幂等
type Order struct {
	ID                    int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo               string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	UserID                int64      `gorm:"index;not null" json:"user_id"`
	Kind                  string     `gorm:"type:varchar(32);not null" json:"kind"`
	ProductID             string     `gorm:"type:varchar(64);not null" json:"product_id"` // 套餐编码 / 充值档位 / 工作流ID
	Amount                int64      `gorm:"not null" json:"amount"`                      // 金额，最小货币单位（分）
	Currency              string     `gorm:"type:varchar(8);not null;default:CNY" json:"currency"`
	Status                string     `gorm:"type:varchar(20);index;not null" json:"status"`
	ExternalTransactionID string     `gorm:"type:varchar(64);index" json:"external_transaction_id"` // 网关交易号，写入后不再变更
	ExpiredAt             time.Time  `gorm:"not null" json:"expired_at"`
	SettledAt             *time.Time `json:"settled_at"`
	CreatedAt             time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "pay_order"
}
