package job

import (
	"context"
	"log"
	"time"

	"settlement/internal/config"
	"settlement/internal/infrastructure/mq"
	"settlement/internal/model"
	"settlement/internal/repository"

	"gorm.io/gorm"
)

// OutboxSender 通知投递任务
// 扫描发件箱把入账/打款/任务通知投到 Kafka，投递失败按条重试，
// 超过上限标记 FAILED 等人工处理
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	cfg        *config.Config
	sched      *Scheduler
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, cfg *config.Config) *OutboxSender {
	s := &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		cfg:        cfg,
		batchSize:  100,
	}
	s.sched = NewScheduler(
		"OutboxSender",
		100*time.Millisecond,
		time.Duration(cfg.Monitor.TickTimeoutSeconds)*time.Second,
		s.Tick,
	)
	return s
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.sched.Start(ctx)
}

func (s *OutboxSender) Stop() {
	s.sched.Stop()
}

func (s *OutboxSender) IsRunning() bool {
	return s.sched.IsRunning()
}

func (s *OutboxSender) Tick(ctx context.Context) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		log.Printf("[OutboxSender] 查询消息失败: %v", err)
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	err := mq.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)

	if err == nil {
		if updateErr := s.outboxRepo.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); updateErr != nil {
			log.Printf("[OutboxSender] 更新消息状态失败: id=%d, err=%v", msg.ID, updateErr)
		}
		return
	}

	log.Printf("[OutboxSender] 消息投递失败: id=%d, topic=%s, err=%v", msg.ID, msg.Topic, err)

	if msg.RetryCount+1 >= s.cfg.Business.MaxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			log.Printf("[OutboxSender] 标记消息失败状态失败: id=%d, err=%v", msg.ID, err)
		} else {
			log.Printf("[OutboxSender] 消息超过最大重试次数，标记为失败: id=%d", msg.ID)
		}
		return
	}

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		log.Printf("[OutboxSender] 增加重试次数失败: id=%d, err=%v", msg.ID, err)
	}
}
