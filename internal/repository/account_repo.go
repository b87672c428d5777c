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
	ErrAccountNotFound = errors.New("账户不存在")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetByUserID 读取账户，tx 传 nil 时走独立连接
// 事务内读到的 version 是后续条件更新的判定依据
func (r *AccountRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID int64) (*model.Account, error) {
	if tx == nil {
		tx = r.db
	}

	var account model.Account
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetOrCreate(ctx context.Context, userID int64) (*model.Account, error) {
	account, err := r.GetByUserID(ctx, nil, userID)
	if err == nil {
		return account, nil
	}

	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	newAccount := &model.Account{
		UserID: userID,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newAccount).Error

	if err != nil {
		return nil, err
	}

	return r.GetByUserID(ctx, nil, userID)
}

// 账户更新一律带 version 条件：调用方先在事务内读出账户，
// 更新以读到的 version 为前提。并发事务改过账户行时条件落空，
// RowsAffected 为 0，返回 ErrStorageConflict 让调用方重读重试。
// 没有这个条件，两条并发入账会基于同一份快照互相覆盖
// （续期时间是绝对值写入，丢一次更新就丢一个付费周期）。

// AddBalance 增加货币余额（佣金入账）
func (r *AccountRepository) AddBalance(ctx context.Context, tx *gorm.DB, userID int64, amount int64, expectVersion int) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND version = ?", userID, expectVersion).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrStorageConflict
	}

	return nil
}

// AddCoins 增加硬币余额（充值/赠送入账）
func (r *AccountRepository) AddCoins(ctx context.Context, tx *gorm.DB, userID int64, coins int64, expectVersion int) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND version = ?", userID, expectVersion).
		Updates(map[string]interface{}{
			"wh_coins": gorm.Expr("wh_coins + ?", coins),
			"version":  gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrStorageConflict
	}

	return nil
}

// ExtendMembership 会员续期并发放赠送硬币，单条语句完成
func (r *AccountRepository) ExtendMembership(ctx context.Context, tx *gorm.DB, userID int64, endAt time.Time, bonusCoins int64, expectVersion int) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND version = ?", userID, expectVersion).
		Updates(map[string]interface{}{
			"membership_end_at": &endAt,
			"wh_coins":          gorm.Expr("wh_coins + ?", bonusCoins),
			"version":           gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrStorageConflict
	}

	return nil
}
