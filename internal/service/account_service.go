package service

import (
	"context"

	"settlement/internal/model"
	"settlement/internal/repository"

	"gorm.io/gorm"
)

// AccountService 账户查询
// 余额变更一律走入账服务，这里只读
type AccountService struct {
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
}

func NewAccountService(db *gorm.DB) *AccountService {
	return &AccountService{
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

func (s *AccountService) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	return s.accountRepo.GetOrCreate(ctx, userID)
}

func (s *AccountService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.AccountTransaction, int64, error) {
	return s.transactionRepo.ListByUserID(ctx, userID, page, pageSize)
}

// ReconcileReport 余额对账结果
// 货币余额只由佣金/提现两类流水驱动，账面值必须等于两类已完成流水的带符号和
type ReconcileReport struct {
	UserID          int64 `json:"user_id"`
	Balance         int64 `json:"balance"`
	ExpectedBalance int64 `json:"expected_balance"`
	Consistent      bool  `json:"consistent"`
}

// ReconcileBalance 按流水汇总核对账面余额
func (s *AccountService) ReconcileBalance(ctx context.Context, userID int64) (*ReconcileReport, error) {
	account, err := s.accountRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}

	expected, err := s.transactionRepo.SumCompletedByUserID(ctx, userID,
		[]string{model.TransactionKindCommission, model.TransactionKindPayout})
	if err != nil {
		return nil, err
	}

	return &ReconcileReport{
		UserID:          userID,
		Balance:         account.Balance,
		ExpectedBalance: expected,
		Consistent:      account.Balance == expected,
	}, nil
}
