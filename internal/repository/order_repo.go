package repository

import (
	"context"
	"errors"
	"time"

	"settlement/internal/model"

	"gorm.io/gorm"
)

var (
	ErrOrderNotFound      = errors.New("订单不存在")
	ErrOrderStatusInvalid = errors.New("订单状态不合法")
	ErrStorageConflict    = errors.New("并发冲突，请重试")
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(order).Error
}

func (r *OrderRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Where("order_no = ?", orderNo).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// MarkSettled 入账认领
//
// 【关键点】条件更新充当互斥：只有 CREATED/PAID 状态的订单能流转到 SETTLED，
// RowsAffected == 0 说明订单已被并发入账或状态不合法，由调用方区分处理。
// 网关交易号一经写入不再变更
func (r *OrderRepository) MarkSettled(ctx context.Context, tx *gorm.DB, orderNo, externalTxID string) error {
	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.Order{}).
		Where("order_no = ? AND status IN ?", orderNo, []string{model.OrderStatusCreated, model.OrderStatusPaid}).
		Updates(map[string]interface{}{
			"status":                  model.OrderStatusSettled,
			"external_transaction_id": externalTxID,
			"settled_at":              &now,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrStorageConflict
	}

	return nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, orderNo string, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrOrderStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Order{}).
		Where("order_no = ? AND status = ?", orderNo, fromStatus).
		Update("status", toStatus)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrOrderStatusInvalid
	}

	return nil
}

func (r *OrderRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Order, int64, error) {
	var orders []*model.Order
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Order{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error

	return orders, total, err
}
