package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"settlement/internal/config"
	"settlement/internal/gateway"
	"settlement/internal/infrastructure/lock"
	"settlement/internal/model"
	"settlement/internal/repository"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

var (
	ErrOrderNotPayable = errors.New("订单状态不允许发起支付")
)

// PaymentService 支付发起与状态同步
// 订单由店面侧创建，这里只负责向网关下单和把网关状态同步回本地
type PaymentService struct {
	db            *gorm.DB
	redisClient   *redis.Client
	cfg           *config.Config
	orderRepo     *repository.OrderRepository
	gatewayClient *gateway.Client
	settleSvc     *SettleService
}

func NewPaymentService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, gatewayClient *gateway.Client, settleSvc *SettleService) *PaymentService {
	return &PaymentService{
		db:            db,
		redisClient:   redisClient,
		cfg:           cfg,
		orderRepo:     repository.NewOrderRepository(db),
		gatewayClient: gatewayClient,
		settleSvc:     settleSvc,
	}
}

// CreateCharge 向网关发起下单
//
// 渠道由调用方显式给出（H5 跳转 / 扫码），不嗅探 UA。
// 按用户维度加分布式锁，防止同一用户重复提交触发并发下单
func (s *PaymentService) CreateCharge(ctx context.Context, orderNo string, channel gateway.ChargeChannel, payerIP string) (*gateway.ChargeResult, error) {
	order, err := s.orderRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}

	if order.Status != model.OrderStatusCreated {
		return nil, fmt.Errorf("%w: 当前状态 %s", ErrOrderNotPayable, order.Status)
	}

	chargeLock := lock.NewChargeLock(s.redisClient, order.UserID, orderNo)
	if err := chargeLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer chargeLock.Unlock(ctx)

	result, err := s.gatewayClient.CreateCharge(ctx, order, channel, payerIP)
	if err != nil {
		return nil, err
	}

	log.Printf("[PaymentService] 网关下单成功: orderNo=%s, channel=%s", orderNo, channel)
	return result, nil
}

// PayStatusResponse 订单支付状态
type PayStatusResponse struct {
	OrderNo               string `json:"order_no"`
	Status                string `json:"status"`
	Amount                int64  `json:"amount"`
	ExternalTransactionID string `json:"external_transaction_id,omitempty"`
}

// SyncOrderStatus 主动查询网关并同步订单状态
// 网关确认支付成功时走与回调完全相同的入账契约，两条路径的竞态无害
func (s *PaymentService) SyncOrderStatus(ctx context.Context, orderNo string) (*PayStatusResponse, error) {
	order, err := s.orderRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}

	if order.Status == model.OrderStatusSettled {
		return s.statusResponse(order), nil
	}

	status, err := s.gatewayClient.QueryOrder(ctx, orderNo)
	if err != nil {
		return nil, err
	}

	switch status.TradeState {
	case gateway.TradeStateSuccess:
		event := &SettlementEvent{
			OutTradeNo:            orderNo,
			ExternalTransactionID: status.TransactionID,
			Amount:                status.Amount.Total,
			EventType:             EventTypeTransactionSuccess,
		}
		if _, err := s.settleSvc.Settle(ctx, event); err != nil {
			return nil, err
		}
	case gateway.TradeStateClosed:
		if err := s.orderRepo.UpdateStatus(ctx, nil, orderNo, model.OrderStatusCreated, model.OrderStatusClosed); err != nil &&
			!errors.Is(err, repository.ErrOrderStatusInvalid) {
			return nil, err
		}
	case gateway.TradeStateError:
		if err := s.orderRepo.UpdateStatus(ctx, nil, orderNo, order.Status, model.OrderStatusFailed); err != nil &&
			!errors.Is(err, repository.ErrOrderStatusInvalid) {
			return nil, err
		}
	}

	order, err = s.orderRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	return s.statusResponse(order), nil
}

func (s *PaymentService) statusResponse(order *model.Order) *PayStatusResponse {
	return &PayStatusResponse{
		OrderNo:               order.OrderNo,
		Status:                order.Status,
		Amount:                order.Amount,
		ExternalTransactionID: order.ExternalTransactionID,
	}
}
