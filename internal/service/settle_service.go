package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"settlement/internal/config"
	"settlement/internal/model"
	"settlement/internal/repository"
	"settlement/pkg/idgen"

	"gorm.io/gorm"
)

// SettleResult 入账结果
type SettleResult string

const (
	ResultSettled          SettleResult = "SETTLED"
	ResultAlreadyProcessed SettleResult = "ALREADY_PROCESSED" // 幂等命中，视为成功而非错误
)

var (
	ErrAmountMismatch      = errors.New("通知金额与订单金额不一致")
	ErrUnknownOrderKind    = errors.New("未知的订单类型")
	ErrRewardNotConfigured = errors.New("奖励配置缺失")

	// 事务内部信号：幂等键已存在，外层转成 ResultAlreadyProcessed
	errAlreadyProcessed = errors.New("already processed")

	// 事务内部信号：账户行被并发事务改过，整个事务回滚后重试
	errAccountContention = errors.New("账户并发更新冲突")
)

// 同一账户的并发入账靠 version 条件更新串行化，冲突方回滚重试。
// 一次入账窗口内撞上两次以上属于异常热点，放弃并向上抛冲突
const accountRetryLimit = 3

// SettlementEvent 归一化的入账事件
// Webhook 路径和轮询路径都汇聚到这里，共用同一套幂等入账契约
type SettlementEvent struct {
	OutTradeNo            string
	ExternalTransactionID string
	Amount                int64
	EventType             string
}

// SettleService 入账服务
//
// 【关键点】订单入账要保证：
// 1. 幂等性：同一网关交易号最多入账一次（网关会重复投递通知）
// 2. 原子性：订单状态、流水、余额三者同时成功或同时失败
// 3. 并发安全：订单状态的条件更新充当互斥，两条并发路径只有一条能入账；
//    账户行的更新另带 version 条件，同一用户不同订单的并发入账不会互相覆盖
type SettleService struct {
	db              *gorm.DB
	cfg             *config.Config
	orderRepo       *repository.OrderRepository
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	purchaseRepo    *repository.PurchaseRepository
	payoutRepo      *repository.PayoutRepository
	adminLogRepo    *repository.AdminLogRepository
	notifier        *Notifier
}

func NewSettleService(db *gorm.DB, cfg *config.Config) *SettleService {
	return &SettleService{
		db:              db,
		cfg:             cfg,
		orderRepo:       repository.NewOrderRepository(db),
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		purchaseRepo:    repository.NewPurchaseRepository(db),
		payoutRepo:      repository.NewPayoutRepository(db),
		adminLogRepo:    repository.NewAdminLogRepository(db),
		notifier:        NewNotifier(db),
	}
}

// Settle 应用一个入账事件
//
// 已入账订单直接返回 ResultAlreadyProcessed，重复投递和
// "轮询撞上回调"的竞态都落在这条路径上，无害
func (s *SettleService) Settle(ctx context.Context, event *SettlementEvent) (SettleResult, error) {
	order, err := s.orderRepo.GetByOrderNo(ctx, event.OutTradeNo)
	if err != nil {
		return "", err
	}

	if order.Status == model.OrderStatusSettled {
		return ResultAlreadyProcessed, nil
	}

	if event.Amount > 0 && event.Amount != order.Amount {
		return "", fmt.Errorf("%w: 订单=%d, 通知=%d", ErrAmountMismatch, order.Amount, event.Amount)
	}

	// 账户行提前补建，事务内只做条件更新
	if _, err := s.accountRepo.GetOrCreate(ctx, order.UserID); err != nil {
		return "", fmt.Errorf("获取账户失败: %w", err)
	}

	// 续期基准和余额快照都取事务内读到的账户，更新带 version 条件；
	// 同一账户两笔不同订单并发入账时冲突方回滚重试，不会互相覆盖
	for attempt := 0; ; attempt++ {
		err = s.db.Transaction(func(tx *gorm.DB) error {
			// 入账认领：条件更新失败说明已被并发入账
			if err := s.orderRepo.MarkSettled(ctx, tx, order.OrderNo, event.ExternalTransactionID); err != nil {
				return err
			}

			// 幂等键兜底校验
			existing, err := s.transactionRepo.GetByUserIDAndExternalRef(ctx, tx, order.UserID, event.ExternalTransactionID)
			if err != nil {
				return fmt.Errorf("查询流水失败: %w", err)
			}
			if existing != nil {
				return errAlreadyProcessed
			}

			account, err := s.accountRepo.GetByUserID(ctx, tx, order.UserID)
			if err != nil {
				return fmt.Errorf("获取账户失败: %w", err)
			}

			kind, coinsDelta, err := s.applyOrderEffect(ctx, tx, order, account)
			if err != nil {
				return err
			}

			transaction := &model.AccountTransaction{
				TransactionNo:     idgen.GenerateTransactionNo(),
				UserID:            order.UserID,
				ExternalReference: event.ExternalTransactionID,
				OrderNo:           order.OrderNo,
				Amount:            order.Amount,
				Kind:              kind,
				Status:            model.TransactionStatusCompleted,
				BalanceBefore:     account.Coins,
				BalanceAfter:      account.Coins + coinsDelta,
				Remark:            fmt.Sprintf("入账-%s-%s", order.Kind, order.ProductID),
			}
			if err := s.transactionRepo.Create(ctx, tx, transaction); err != nil {
				return fmt.Errorf("记录流水失败: %w", err)
			}

			return s.notifier.Notify(ctx, tx, s.cfg.Kafka.Topic.SettleResult, order.OrderNo, map[string]interface{}{
				"order_no":                order.OrderNo,
				"user_id":                 order.UserID,
				"kind":                    order.Kind,
				"amount":                  order.Amount,
				"external_transaction_id": event.ExternalTransactionID,
				"settled_at":              time.Now().Format(time.RFC3339),
			})
		})
		if errors.Is(err, errAccountContention) && attempt+1 < accountRetryLimit {
			continue
		}
		break
	}

	if err != nil {
		if errors.Is(err, errAlreadyProcessed) {
			return ResultAlreadyProcessed, nil
		}
		if errors.Is(err, errAccountContention) {
			// 重试耗尽，让调用方稍后再来
			return "", repository.ErrStorageConflict
		}
		if errors.Is(err, repository.ErrStorageConflict) {
			// 认领失败，重新判定：并发入账成功则幂等返回，否则让调用方重试
			latest, qerr := s.orderRepo.GetByOrderNo(ctx, event.OutTradeNo)
			if qerr == nil && latest.Status == model.OrderStatusSettled {
				return ResultAlreadyProcessed, nil
			}
			return "", repository.ErrStorageConflict
		}
		return "", err
	}

	s.writeAdminLog(ctx, "ORDER_SETTLED", "order", order.OrderNo, map[string]interface{}{
		"user_id":                 order.UserID,
		"kind":                    order.Kind,
		"amount":                  order.Amount,
		"external_transaction_id": event.ExternalTransactionID,
	})

	log.Printf("[SettleService] 订单入账成功: orderNo=%s, userID=%d, amount=%d, txID=%s",
		order.OrderNo, order.UserID, order.Amount, event.ExternalTransactionID)

	return ResultSettled, nil
}

// applyOrderEffect 按订单类型应用余额效果，返回流水类型和硬币变动
// 类型到效果的映射收敛在这一处，新增订单类型编译期就会暴露遗漏
func (s *SettleService) applyOrderEffect(ctx context.Context, tx *gorm.DB, order *model.Order, account *model.Account) (string, int64, error) {
	switch order.Kind {
	case model.OrderKindMembership:
		plan, ok := s.cfg.Reward.MembershipPlans[order.ProductID]
		if !ok {
			return "", 0, fmt.Errorf("%w: 套餐=%s", ErrRewardNotConfigured, order.ProductID)
		}
		// 续期基准取当前到期时间和现在的较晚者
		base := time.Now()
		if account.MembershipEndAt != nil && account.MembershipEndAt.After(base) {
			base = *account.MembershipEndAt
		}
		endAt := base.AddDate(0, plan.Months, 0)
		if err := s.accountRepo.ExtendMembership(ctx, tx, order.UserID, endAt, plan.BonusCoins, account.Version); err != nil {
			if errors.Is(err, repository.ErrStorageConflict) {
				return "", 0, errAccountContention
			}
			return "", 0, fmt.Errorf("会员续期失败: %w", err)
		}
		return model.TransactionKindRecharge, plan.BonusCoins, nil

	case model.OrderKindCoinRecharge:
		coins := s.rechargeCoins(order.Amount)
		if err := s.accountRepo.AddCoins(ctx, tx, order.UserID, coins, account.Version); err != nil {
			if errors.Is(err, repository.ErrStorageConflict) {
				return "", 0, errAccountContention
			}
			return "", 0, fmt.Errorf("硬币入账失败: %w", err)
		}
		return model.TransactionKindRecharge, coins, nil

	case model.OrderKindWorkflowPurchase:
		purchase := &model.WorkflowPurchase{
			UserID:     order.UserID,
			WorkflowID: order.ProductID,
			OrderNo:    order.OrderNo,
		}
		if err := s.purchaseRepo.Create(ctx, tx, purchase); err != nil {
			return "", 0, fmt.Errorf("创建购买关系失败: %w", err)
		}
		return model.TransactionKindPurchase, 0, nil

	default:
		return "", 0, fmt.Errorf("%w: %s", ErrUnknownOrderKind, order.Kind)
	}
}

// rechargeCoins 充值兑换硬币：按 MinAmount 从大到小命中第一个档位，
// 无匹配档位按兜底比例兑换，不送奖励
func (s *SettleService) rechargeCoins(amount int64) int64 {
	var best *config.RechargeTier
	for i := range s.cfg.Reward.RechargeTiers {
		tier := &s.cfg.Reward.RechargeTiers[i]
		if amount >= tier.MinAmount && (best == nil || tier.MinAmount > best.MinAmount) {
			best = tier
		}
	}
	if best != nil {
		return best.Coins + best.BonusCoins
	}
	return amount * s.cfg.Reward.CoinsPerCent
}

// ProcessPayout 佣金打款入账
// 记录必须已被监控任务认领（PROCESSING），批次号充当幂等键
func (s *SettleService) ProcessPayout(ctx context.Context, record *model.PayoutRecord) (SettleResult, error) {
	batchNo := record.BatchNo()

	existing, err := s.transactionRepo.GetByUserIDAndExternalRef(ctx, nil, record.BeneficiaryID, batchNo)
	if err != nil {
		return "", fmt.Errorf("查询流水失败: %w", err)
	}
	if existing != nil {
		return ResultAlreadyProcessed, nil
	}

	if _, err := s.accountRepo.GetOrCreate(ctx, record.BeneficiaryID); err != nil {
		return "", fmt.Errorf("获取账户失败: %w", err)
	}

	for attempt := 0; ; attempt++ {
		err = s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.payoutRepo.MarkCompleted(ctx, tx, record.ID); err != nil {
				return err
			}

			existing, err := s.transactionRepo.GetByUserIDAndExternalRef(ctx, tx, record.BeneficiaryID, batchNo)
			if err != nil {
				return fmt.Errorf("查询流水失败: %w", err)
			}
			if existing != nil {
				return errAlreadyProcessed
			}

			account, err := s.accountRepo.GetByUserID(ctx, tx, record.BeneficiaryID)
			if err != nil {
				return fmt.Errorf("获取账户失败: %w", err)
			}

			if err := s.accountRepo.AddBalance(ctx, tx, record.BeneficiaryID, record.Amount, account.Version); err != nil {
				if errors.Is(err, repository.ErrStorageConflict) {
					return errAccountContention
				}
				return fmt.Errorf("佣金入账失败: %w", err)
			}

			transaction := &model.AccountTransaction{
				TransactionNo:     idgen.GenerateTransactionNo(),
				UserID:            record.BeneficiaryID,
				ExternalReference: batchNo,
				Amount:            record.Amount,
				Kind:              model.TransactionKindCommission,
				Status:            model.TransactionStatusCompleted,
				BalanceBefore:     account.Balance,
				BalanceAfter:      account.Balance + record.Amount,
				Remark:            fmt.Sprintf("佣金结算-%s", batchNo),
			}
			if err := s.transactionRepo.Create(ctx, tx, transaction); err != nil {
				return fmt.Errorf("记录流水失败: %w", err)
			}

			return s.notifier.Notify(ctx, tx, s.cfg.Kafka.Topic.PayoutResult, batchNo, map[string]interface{}{
				"payout_id":      record.ID,
				"beneficiary_id": record.BeneficiaryID,
				"amount":         record.Amount,
				"status":         model.PayoutStatusCompleted,
				"completed_at":   time.Now().Format(time.RFC3339),
			})
		})
		if errors.Is(err, errAccountContention) && attempt+1 < accountRetryLimit {
			continue
		}
		break
	}

	if err != nil {
		if errors.Is(err, errAlreadyProcessed) {
			return ResultAlreadyProcessed, nil
		}
		if errors.Is(err, errAccountContention) {
			return "", repository.ErrStorageConflict
		}
		return "", err
	}

	s.writeAdminLog(ctx, "PAYOUT_COMPLETED", "payout", strconv.FormatInt(record.ID, 10), map[string]interface{}{
		"beneficiary_id": record.BeneficiaryID,
		"amount":         record.Amount,
		"batch_no":       batchNo,
	})

	log.Printf("[SettleService] 打款入账成功: payoutID=%d, beneficiaryID=%d, amount=%d",
		record.ID, record.BeneficiaryID, record.Amount)

	return ResultSettled, nil
}

// writeAdminLog 审计日志尽力写入，失败只记日志不影响业务
func (s *SettleService) writeAdminLog(ctx context.Context, operation, targetType, targetID string, payload map[string]interface{}) {
	payloadBytes, _ := json.Marshal(payload)
	entry := &model.AdminLog{
		Operation:  operation,
		TargetType: targetType,
		TargetID:   targetID,
		Payload:    string(payloadBytes),
	}
	if err := s.adminLogRepo.Create(ctx, entry); err != nil {
		log.Printf("[SettleService] 写入审计日志失败: operation=%s, targetID=%s, err=%v", operation, targetID, err)
	}
}
