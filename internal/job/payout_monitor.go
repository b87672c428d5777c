package job

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"settlement/internal/config"
	"settlement/internal/gateway"
	"settlement/internal/model"
	"settlement/internal/repository"
	"settlement/internal/service"

	"gorm.io/gorm"
)

// 滞留 PROCESSING 超过该时长的记录按崩溃遗留处理，查网关重新断定
const payoutStaleAfter = 10 * time.Minute

// TransferAPI 打款监控依赖的网关操作
type TransferAPI interface {
	CreateTransfer(ctx context.Context, record *model.PayoutRecord, remark string) (*gateway.TransferBatch, error)
	QueryTransferBatch(ctx context.Context, outBatchNo string) (*gateway.TransferBatch, error)
}

// PayoutMonitor 佣金打款监控
//
// 每轮取到期的 PENDING 记录并发处理，每条先认领（PENDING -> PROCESSING）
// 再干活，两轮重叠也不会重复打款。失败按条计数，达到上限转终态 FAILED
type PayoutMonitor struct {
	cfg        *config.Config
	payoutRepo *repository.PayoutRepository
	settleSvc  *service.SettleService
	notifier   *service.Notifier
	transfer   TransferAPI
	sched      *Scheduler
}

func NewPayoutMonitor(db *gorm.DB, transfer TransferAPI, settleSvc *service.SettleService, cfg *config.Config) *PayoutMonitor {
	m := &PayoutMonitor{
		cfg:        cfg,
		payoutRepo: repository.NewPayoutRepository(db),
		settleSvc:  settleSvc,
		notifier:   service.NewNotifier(db),
		transfer:   transfer,
	}
	m.sched = NewScheduler(
		"PayoutMonitor",
		time.Duration(cfg.Monitor.PayoutIntervalSeconds)*time.Second,
		time.Duration(cfg.Monitor.TickTimeoutSeconds)*time.Second,
		m.Tick,
	)
	return m
}

func (m *PayoutMonitor) Start(ctx context.Context) {
	m.sched.Start(ctx)
}

func (m *PayoutMonitor) Stop() {
	m.sched.Stop()
}

func (m *PayoutMonitor) IsRunning() bool {
	return m.sched.IsRunning()
}

// Tick 一轮打款处理
func (m *PayoutMonitor) Tick(ctx context.Context) {
	m.recoverStaleProcessing(ctx)

	records, err := m.payoutRepo.GetDue(ctx, time.Now(), m.cfg.Monitor.PayoutMaxRetry, m.cfg.Monitor.PayoutBatchSize)
	if err != nil {
		log.Printf("[PayoutMonitor] 查询待打款记录失败: %v", err)
		return
	}

	if len(records) == 0 {
		return
	}

	log.Printf("[PayoutMonitor] 本轮待打款 %d 条", len(records))

	// 批内并发，单条失败不影响其他条目
	var wg sync.WaitGroup
	for _, record := range records {
		wg.Add(1)
		go func(r *model.PayoutRecord) {
			defer wg.Done()
			m.processOne(ctx, r)
		}(record)
	}
	wg.Wait()
}

func (m *PayoutMonitor) processOne(ctx context.Context, record *model.PayoutRecord) {
	claimed, err := m.payoutRepo.Claim(ctx, record.ID)
	if err != nil {
		log.Printf("[PayoutMonitor] 认领失败: payoutID=%d, err=%v", record.ID, err)
		return
	}
	if !claimed {
		// 已被并发轮次认领
		return
	}

	remark := fmt.Sprintf("佣金结算-%s", record.ScheduledDate.Format("20060102"))
	batch, err := m.transfer.CreateTransfer(ctx, record, remark)
	if err != nil {
		m.handleFailure(ctx, record, fmt.Sprintf("发起转账失败: %v", err))
		return
	}

	if batch.BatchStatus == gateway.TransferStateClosed {
		m.handleFailure(ctx, record, "转账批次被网关关闭")
		return
	}

	if _, err := m.settleSvc.ProcessPayout(ctx, record); err != nil {
		m.handleFailure(ctx, record, fmt.Sprintf("打款入账失败: %v", err))
		return
	}

	log.Printf("[PayoutMonitor] 打款完成: payoutID=%d, batchNo=%s, amount=%d",
		record.ID, record.BatchNo(), record.Amount)
}

// handleFailure 失败处理：重试次数加一，未达上限回退 PENDING 等下一轮，
// 达到上限转终态 FAILED 并通知人工介入
func (m *PayoutMonitor) handleFailure(ctx context.Context, record *model.PayoutRecord, reason string) {
	log.Printf("[PayoutMonitor] 打款失败: payoutID=%d, retryCount=%d, reason=%s",
		record.ID, record.RetryCount, reason)

	if record.RetryCount+1 >= m.cfg.Monitor.PayoutMaxRetry {
		if err := m.payoutRepo.MarkFailed(ctx, record.ID, reason); err != nil {
			log.Printf("[PayoutMonitor] 标记终态失败: payoutID=%d, err=%v", record.ID, err)
			return
		}
		log.Printf("[PayoutMonitor] 打款重试耗尽，转终态 FAILED: payoutID=%d", record.ID)

		if err := m.notifier.Notify(ctx, nil, m.cfg.Kafka.Topic.PayoutResult, record.BatchNo(), map[string]interface{}{
			"payout_id":      record.ID,
			"beneficiary_id": record.BeneficiaryID,
			"amount":         record.Amount,
			"status":         model.PayoutStatusFailed,
			"failure_reason": reason,
		}); err != nil {
			log.Printf("[PayoutMonitor] 写入失败通知失败: payoutID=%d, err=%v", record.ID, err)
		}
		return
	}

	if err := m.payoutRepo.ReleaseForRetry(ctx, record.ID, reason); err != nil {
		log.Printf("[PayoutMonitor] 回退重试失败: payoutID=%d, err=%v", record.ID, err)
	}
}

// recoverStaleProcessing 处理崩溃遗留的 PROCESSING 记录
// 按批次号查网关断定真实结果：已成功则补入账，已关闭则走失败路径，
// 仍在处理中保持现状等下一轮
func (m *PayoutMonitor) recoverStaleProcessing(ctx context.Context) {
	records, err := m.payoutRepo.GetStaleProcessing(ctx, time.Now().Add(-payoutStaleAfter), m.cfg.Monitor.PayoutBatchSize)
	if err != nil {
		log.Printf("[PayoutMonitor] 查询滞留记录失败: %v", err)
		return
	}

	for _, record := range records {
		batch, err := m.transfer.QueryTransferBatch(ctx, record.BatchNo())
		if err != nil {
			log.Printf("[PayoutMonitor] 查询批次状态失败: payoutID=%d, err=%v", record.ID, err)
			continue
		}

		switch batch.BatchStatus {
		case gateway.TransferStateFinished:
			if _, err := m.settleSvc.ProcessPayout(ctx, record); err != nil {
				log.Printf("[PayoutMonitor] 滞留记录补入账失败: payoutID=%d, err=%v", record.ID, err)
			} else {
				log.Printf("[PayoutMonitor] 滞留记录补入账成功: payoutID=%d", record.ID)
			}
		case gateway.TransferStateClosed:
			m.handleFailure(ctx, record, "转账批次被网关关闭")
		default:
			// 仍在处理中，留待下一轮
		}
	}
}
