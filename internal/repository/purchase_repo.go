package repository

import (
	"context"
	"errors"

	"settlement/internal/model"

	"gorm.io/gorm"
)

type PurchaseRepository struct {
	db *gorm.DB
}

func NewPurchaseRepository(db *gorm.DB) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

func (r *PurchaseRepository) Create(ctx context.Context, tx *gorm.DB, purchase *model.WorkflowPurchase) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(purchase).Error
}

func (r *PurchaseRepository) GetByUserAndWorkflow(ctx context.Context, userID int64, workflowID string) (*model.WorkflowPurchase, error) {
	var purchase model.WorkflowPurchase
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND workflow_id = ?", userID, workflowID).
		First(&purchase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &purchase, nil
}
