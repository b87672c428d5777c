package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"settlement/internal/config"
	"settlement/internal/gateway"
	"settlement/internal/model"
	"settlement/internal/repository"

	"gorm.io/gorm"
)

// 网关事件类型
const (
	EventTypeTransactionSuccess = "TRANSACTION.SUCCESS"
)

// gatewayNotification 网关异步通知信封
type gatewayNotification struct {
	ID           string               `json:"id"`
	CreateTime   string               `json:"create_time"`
	EventType    string               `json:"event_type"`
	ResourceType string               `json:"resource_type"`
	Resource     notificationResource `json:"resource"`
}

type notificationResource struct {
	Algorithm      string `json:"algorithm"`
	Ciphertext     string `json:"ciphertext"`
	AssociatedData string `json:"associated_data"`
	Nonce          string `json:"nonce"`
	OriginalType   string `json:"original_type"`
}

// transactionResource 解密后的交易明文
type transactionResource struct {
	OutTradeNo    string `json:"out_trade_no"`
	TransactionID string `json:"transaction_id"`
	TradeState    string `json:"trade_state"`
	Amount        struct {
		Total int64 `json:"total"`
	} `json:"amount"`
}

// WebhookService 网关通知处理
//
// 【安全】通知必须解密成功后才能信任任何字段。解密失败按安全事件处理：
// 通知落库标记 FAILED 等待人工回放，传输层照常应答（避免网关无限重投），
// 但绝不做"从密文里扒字段"之类的降级恢复
type WebhookService struct {
	cfg         *config.Config
	webhookRepo *repository.WebhookRepository
	settleSvc   *SettleService
}

func NewWebhookService(db *gorm.DB, cfg *config.Config, settleSvc *SettleService) *WebhookService {
	return &WebhookService{
		cfg:         cfg,
		webhookRepo: repository.NewWebhookRepository(db),
		settleSvc:   settleSvc,
	}
}

// HandleNotification 处理一条原始通知报文
// 返回错误时通知已落库（标记 FAILED），调用方仍需按网关协议应答
func (s *WebhookService) HandleNotification(ctx context.Context, raw []byte) error {
	var notif gatewayNotification
	if err := json.Unmarshal(raw, &notif); err != nil {
		return fmt.Errorf("解析通知信封失败: %w", err)
	}
	if notif.ID == "" {
		return errors.New("通知缺少 id 字段")
	}

	event := &model.WebhookEvent{
		NotificationID: notif.ID,
		EventType:      notif.EventType,
		Payload:        string(raw),
		Status:         model.WebhookStatusReceived,
	}

	inserted, err := s.webhookRepo.Insert(ctx, event)
	if err != nil {
		return fmt.Errorf("通知落库失败: %w", err)
	}

	if !inserted {
		// 重复投递：已处理成功的直接幂等返回，失败/未处理的继续走一遍（回放）
		existing, err := s.webhookRepo.GetByNotificationID(ctx, notif.ID)
		if err != nil {
			return err
		}
		if existing.Status == model.WebhookStatusProcessed {
			log.Printf("[WebhookService] 重复通知，已处理过: notificationID=%s", notif.ID)
			return nil
		}
	}

	plaintext, err := gateway.DecryptAEAD(
		s.cfg.Gateway.APIv3Key,
		notif.Resource.AssociatedData,
		notif.Resource.Nonce,
		notif.Resource.Ciphertext,
	)
	if err != nil {
		log.Printf("[WebhookService] 通知解密失败: notificationID=%s, err=%v", notif.ID, err)
		if markErr := s.webhookRepo.MarkFailed(ctx, notif.ID, err.Error()); markErr != nil {
			log.Printf("[WebhookService] 标记通知失败状态失败: notificationID=%s, err=%v", notif.ID, markErr)
		}
		return err
	}

	var resource transactionResource
	if err := json.Unmarshal(plaintext, &resource); err != nil {
		err = fmt.Errorf("解析交易明文失败: %w", err)
		_ = s.webhookRepo.MarkFailed(ctx, notif.ID, err.Error())
		return err
	}

	// 只有支付成功事件触发入账，其余事件落库即止
	if notif.EventType != EventTypeTransactionSuccess || resource.TradeState != gateway.TradeStateSuccess {
		log.Printf("[WebhookService] 非入账事件，跳过: notificationID=%s, eventType=%s, tradeState=%s",
			notif.ID, notif.EventType, resource.TradeState)
		return s.webhookRepo.MarkProcessed(ctx, notif.ID)
	}

	settleEvent := &SettlementEvent{
		OutTradeNo:            resource.OutTradeNo,
		ExternalTransactionID: resource.TransactionID,
		Amount:                resource.Amount.Total,
		EventType:             notif.EventType,
	}

	result, err := s.settleSvc.Settle(ctx, settleEvent)
	if err != nil {
		_ = s.webhookRepo.MarkFailed(ctx, notif.ID, err.Error())
		return fmt.Errorf("入账失败: %w", err)
	}

	if result == ResultAlreadyProcessed {
		log.Printf("[WebhookService] 订单已入账，幂等返回: outTradeNo=%s", resource.OutTradeNo)
	}

	return s.webhookRepo.MarkProcessed(ctx, notif.ID)
}

// ReplayFailed 回放处理失败的通知，返回回放成功的条数
// 解密失败的通知原文不会自愈，回放针对的是入账阶段的临时性失败
func (s *WebhookService) ReplayFailed(ctx context.Context, limit int) (int, error) {
	events, err := s.webhookRepo.GetFailed(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("查询失败通知失败: %w", err)
	}

	replayed := 0
	for _, event := range events {
		if err := s.HandleNotification(ctx, []byte(event.Payload)); err != nil {
			log.Printf("[WebhookService] 通知回放仍失败: notificationID=%s, err=%v", event.NotificationID, err)
			continue
		}
		replayed++
	}

	log.Printf("[WebhookService] 通知回放完成: total=%d, replayed=%d", len(events), replayed)
	return replayed, nil
}
