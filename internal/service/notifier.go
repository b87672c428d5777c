package service

import (
	"context"
	"encoding/json"
	"fmt"

	"settlement/internal/model"
	"settlement/internal/repository"

	"gorm.io/gorm"
)

// Notifier 用户通知
//
// 【关键点】通知不直接发 Kafka，而是作为发件箱消息与业务变更同一事务落库，
// 由 OutboxSender 异步投递。终态流转的条件更新只会成功一次，
// 所以每次终态流转最多产生一条通知，后续轮次不会重发
type Notifier struct {
	outboxRepo *repository.OutboxRepository
}

func NewNotifier(db *gorm.DB) *Notifier {
	return &Notifier{
		outboxRepo: repository.NewOutboxRepository(db),
	}
}

// Notify 写入一条通知消息，tx 为 nil 时独立落库
func (n *Notifier) Notify(ctx context.Context, tx *gorm.DB, topic, key string, payload map[string]interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化通知失败: %w", err)
	}

	msg := &model.OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	return n.outboxRepo.Create(ctx, tx, msg)
}
