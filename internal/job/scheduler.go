package job

import (
	"context"
	"log"
	"sync"
	"time"
)

// ============================================================================
// 周期任务调度器
// ============================================================================
//
// 所有后台监控共用这一个调度抽象，生命周期显式持有，没有包级定时器：
//   - Start 幂等：重复调用不会起两个竞争的定时循环
//   - 单飞：tick 在同一个 goroutine 里顺序执行，上一轮没排空不会开下一轮
//   - 每轮 tick 带总体超时，超时的轮次放弃，已认领条目留待下一轮重新断定
//   - Stop 停止接收新 tick，等在途 tick 排空后才返回；tick 的上下文只受
//     自身超时约束，停止信号不会把执行到一半的网关调用拦腰掐断
// ============================================================================

// TickFunc 一轮调度的执行体，必须自行消化内部错误
type TickFunc func(ctx context.Context)

type Scheduler struct {
	name        string
	interval    time.Duration
	tickTimeout time.Duration
	tick        TickFunc

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func NewScheduler(name string, interval, tickTimeout time.Duration, tick TickFunc) *Scheduler {
	return &Scheduler{
		name:        name,
		interval:    interval,
		tickTimeout: tickTimeout,
		tick:        tick,
	}
}

// Start 启动调度循环，幂等
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		log.Printf("[%s] 调度器已在运行，忽略重复启动", s.name)
		return
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	go s.loop(ctx, s.stop)
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}) {
	log.Printf("[%s] 调度器启动, interval=%v", s.name, s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[%s] 父上下文取消，调度器退出", s.name)
			return
		case <-stop:
			log.Printf("[%s] 收到停止信号，调度器退出", s.name)
			return
		case <-ticker.C:
			s.runTick()
		}
	}
}

// tick 上下文脱离父上下文派生：停止流程只拦截新 tick，
// 在途的一轮在自身超时内跑完，靠条件更新落下的认领不留半截状态
func (s *Scheduler) runTick() {
	tickCtx, cancel := context.WithTimeout(context.Background(), s.tickTimeout)
	defer cancel()
	s.tick(tickCtx)
}

// Stop 停止调度并等待在途 tick 排空
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stop := s.stop
	done := s.done
	s.running = false
	s.mu.Unlock()

	close(stop)
	<-done
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
