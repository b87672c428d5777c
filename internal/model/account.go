package model

import (
	"time"
)

// Account 用户账户表
// 余额只允许由入账服务在事务内变更，必须与对应流水同时落库
type Account struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          int64      `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance         int64      `gorm:"not null;default:0" json:"balance"`                  // 货币余额（分），佣金打款入账
	Coins           int64      `gorm:"column:wh_coins;not null;default:0" json:"wh_coins"` // 硬币余额，充值/会员赠送入账
	MembershipEndAt *time.Time `json:"membership_end_at"`                                  // 会员到期时间，续费在当前到期时间基础上顺延
	Version         int        `gorm:"not null;default:0" json:"version"`                  // 乐观锁版本号
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
