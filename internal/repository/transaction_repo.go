package repository

import (
	"context"
	"errors"

	"settlement/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.AccountTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

// GetByUserIDAndExternalRef 按幂等键查流水
// (user_id, external_reference) 上有唯一索引，最多命中一条
func (r *TransactionRepository) GetByUserIDAndExternalRef(ctx context.Context, tx *gorm.DB, userID int64, externalRef string) (*model.AccountTransaction, error) {
	if tx == nil {
		tx = r.db
	}

	var trans model.AccountTransaction
	err := tx.WithContext(ctx).
		Where("user_id = ? AND external_reference = ?", userID, externalRef).
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.AccountTransaction, error) {
	var trans model.AccountTransaction
	err := r.db.WithContext(ctx).Where("order_no = ?", orderNo).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.AccountTransaction, int64, error) {
	var transactions []*model.AccountTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.AccountTransaction{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// SumCompletedByUserID 按用户汇总已完成流水金额，对账用
func (r *TransactionRepository) SumCompletedByUserID(ctx context.Context, userID int64, kinds []string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.AccountTransaction{}).
		Where("user_id = ? AND status = ? AND kind IN ?", userID, model.TransactionStatusCompleted, kinds).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}
