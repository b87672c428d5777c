package job

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"settlement/internal/config"
	"settlement/internal/model"
	"settlement/internal/repository"
	"settlement/internal/service"
	"settlement/internal/taskapi"

	"gorm.io/gorm"
)

// JobStatusAPI 任务监控依赖的第三方任务查询操作
type JobStatusAPI interface {
	QueryJob(ctx context.Context, jobID string) (*taskapi.JobStatus, error)
}

// TaskMonitor 外部长任务监控
//
// 每轮取 RUNNING 状态的任务并发查询第三方接口：
//   - 成功：校验产物后流转 COMPLETED，产物落库
//   - 失败：流转 FAILED，记录原因
//   - 仍在执行：保持现状，下一轮再查
//
// 终态流转走条件更新，只会成功一次，通知随流转同事务写入发件箱，
// 后续轮次不会重发
type TaskMonitor struct {
	db           *gorm.DB
	cfg          *config.Config
	taskRepo     *repository.TaskRepository
	adminLogRepo *repository.AdminLogRepository
	notifier     *service.Notifier
	api          JobStatusAPI
	sched        *Scheduler
}

func NewTaskMonitor(db *gorm.DB, api JobStatusAPI, cfg *config.Config) *TaskMonitor {
	m := &TaskMonitor{
		db:           db,
		cfg:          cfg,
		taskRepo:     repository.NewTaskRepository(db),
		adminLogRepo: repository.NewAdminLogRepository(db),
		notifier:     service.NewNotifier(db),
		api:          api,
	}
	m.sched = NewScheduler(
		"TaskMonitor",
		time.Duration(cfg.Monitor.TaskIntervalSeconds)*time.Second,
		time.Duration(cfg.Monitor.TickTimeoutSeconds)*time.Second,
		m.Tick,
	)
	return m
}

func (m *TaskMonitor) Start(ctx context.Context) {
	m.sched.Start(ctx)
}

func (m *TaskMonitor) Stop() {
	m.sched.Stop()
}

func (m *TaskMonitor) IsRunning() bool {
	return m.sched.IsRunning()
}

// Tick 一轮任务状态同步
func (m *TaskMonitor) Tick(ctx context.Context) {
	tasks, err := m.taskRepo.GetRunning(ctx, m.cfg.Monitor.TaskBatchSize)
	if err != nil {
		log.Printf("[TaskMonitor] 查询运行中任务失败: %v", err)
		return
	}

	if len(tasks) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(t *model.MonitoredTask) {
			defer wg.Done()
			m.processOne(ctx, t)
		}(task)
	}
	wg.Wait()
}

func (m *TaskMonitor) processOne(ctx context.Context, task *model.MonitoredTask) {
	// 运行过久的任务直接判超时，不再查第三方
	timeout := time.Duration(m.cfg.Monitor.TaskTimeoutMinutes) * time.Minute
	if timeout > 0 && time.Since(task.CreatedAt) > timeout {
		m.markTimeout(ctx, task)
		return
	}

	status, err := m.api.QueryJob(ctx, task.ExternalJobID)
	if err != nil {
		// 查询失败不改状态，下一轮重试
		log.Printf("[TaskMonitor] 查询任务状态失败: taskID=%d, jobID=%s, err=%v",
			task.ID, task.ExternalJobID, err)
		return
	}

	switch status.State {
	case taskapi.JobStateSuccess:
		if status.OutputURL == "" {
			m.markFailed(ctx, task, "任务成功但缺少产物地址")
			return
		}
		m.markCompleted(ctx, task, status.OutputURL)
	case taskapi.JobStateFailed:
		reason := status.Error
		if reason == "" {
			reason = "第三方未给出失败原因"
		}
		m.markFailed(ctx, task, reason)
	default:
		// 仍在排队或执行，保持现状
	}
}

func (m *TaskMonitor) markCompleted(ctx context.Context, task *model.MonitoredTask, output string) {
	err := m.db.Transaction(func(tx *gorm.DB) error {
		claimed, err := m.taskRepo.MarkCompleted(ctx, tx, task.ID, output)
		if err != nil {
			return err
		}
		if !claimed {
			// 已被并发轮次流转，不发通知
			return nil
		}
		return m.notifier.Notify(ctx, tx, m.cfg.Kafka.Topic.TaskResult, task.ExternalJobID, map[string]interface{}{
			"task_id": task.ID,
			"user_id": task.UserID,
			"status":  model.TaskStatusCompleted,
			"output":  output,
		})
	})
	if err != nil {
		log.Printf("[TaskMonitor] 任务完成流转失败: taskID=%d, err=%v", task.ID, err)
		return
	}
	log.Printf("[TaskMonitor] 任务完成: taskID=%d, jobID=%s", task.ID, task.ExternalJobID)
	m.writeAdminLog(ctx, "TASK_COMPLETED", task, output)
}

func (m *TaskMonitor) markFailed(ctx context.Context, task *model.MonitoredTask, reason string) {
	err := m.db.Transaction(func(tx *gorm.DB) error {
		claimed, err := m.taskRepo.MarkFailed(ctx, tx, task.ID, reason)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}
		return m.notifier.Notify(ctx, tx, m.cfg.Kafka.Topic.TaskResult, task.ExternalJobID, map[string]interface{}{
			"task_id":        task.ID,
			"user_id":        task.UserID,
			"status":         model.TaskStatusFailed,
			"failure_reason": reason,
		})
	})
	if err != nil {
		log.Printf("[TaskMonitor] 任务失败流转失败: taskID=%d, err=%v", task.ID, err)
		return
	}
	log.Printf("[TaskMonitor] 任务失败: taskID=%d, jobID=%s, reason=%s", task.ID, task.ExternalJobID, reason)
	m.writeAdminLog(ctx, "TASK_FAILED", task, reason)
}

func (m *TaskMonitor) markTimeout(ctx context.Context, task *model.MonitoredTask) {
	err := m.db.Transaction(func(tx *gorm.DB) error {
		claimed, err := m.taskRepo.MarkTimeout(ctx, tx, task.ID)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}
		return m.notifier.Notify(ctx, tx, m.cfg.Kafka.Topic.TaskResult, task.ExternalJobID, map[string]interface{}{
			"task_id": task.ID,
			"user_id": task.UserID,
			"status":  model.TaskStatusTimeout,
		})
	})
	if err != nil {
		log.Printf("[TaskMonitor] 任务超时流转失败: taskID=%d, err=%v", task.ID, err)
		return
	}
	log.Printf("[TaskMonitor] 任务超时: taskID=%d, jobID=%s", task.ID, task.ExternalJobID)
	m.writeAdminLog(ctx, "TASK_TIMEOUT", task, "")
}

func (m *TaskMonitor) writeAdminLog(ctx context.Context, operation string, task *model.MonitoredTask, detail string) {
	payload, _ := json.Marshal(map[string]interface{}{
		"external_job_id": task.ExternalJobID,
		"user_id":         task.UserID,
		"detail":          detail,
	})
	entry := &model.AdminLog{
		Operation:  operation,
		TargetType: "task",
		TargetID:   task.ExternalJobID,
		Payload:    string(payload),
	}
	if err := m.adminLogRepo.Create(ctx, entry); err != nil {
		log.Printf("[TaskMonitor] 写入审计日志失败: taskID=%d, err=%v", task.ID, err)
	}
}
