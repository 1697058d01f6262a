package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"cloudflare-waf-sync/internal/config"
	"cloudflare-waf-sync/internal/logging"
)

// Job 每次触发时执行的任务
type Job func(ctx context.Context)

// Scheduler 定时调度器，daemon 模式下替代外部 crontab
type Scheduler struct {
	config     config.SchedulerConfig
	job        Job
	stopCh     chan struct{}
	stopOnce   sync.Once
	ctx        context.Context
	cancelFunc context.CancelFunc
	cron       *cron.Cron

	mu      sync.Mutex
	running bool
	runs    int
	lastRun time.Time
}

// NewScheduler 创建新的调度器，ctx 中的 logger 用于记录调度日志
func NewScheduler(ctx context.Context, cfg config.SchedulerConfig, job Job) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)

	return &Scheduler{
		config:     cfg,
		job:        job,
		stopCh:     make(chan struct{}),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start 启动调度器，阻塞直到 Stop 或 ctx 取消
func (s *Scheduler) Start() error {
	logger := logging.FromContext(s.ctx)

	// 如果启用了立即执行，先执行一次
	if s.config.RunOnStart {
		logger.Info(s.ctx, "执行初始同步任务...")
		s.execute()
	}

	// 优先使用cron表达式
	if s.config.Cron != "" {
		return s.startWithCron()
	}

	// 否则使用传统的间隔调度
	return s.startWithInterval()
}

// startWithCron 使用cron表达式启动调度器
func (s *Scheduler) startWithCron() error {
	logger := logging.FromContext(s.ctx)
	logger.Infof(s.ctx, "启动cron调度器，cron表达式: %s", s.config.Cron)

	cl := &cronLogger{ctx: s.ctx, logger: logger}
	s.mu.Lock()
	s.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl)))
	s.mu.Unlock()

	_, err := s.cron.AddFunc(s.config.Cron, func() {
		logger.Info(s.ctx, "开始执行定时同步任务...")
		s.execute()
	})
	if err != nil {
		return fmt.Errorf("添加cron任务失败: %w", err)
	}

	s.cron.Start()
	logger.Info(s.ctx, "cron调度器已启动")

	select {
	case <-s.ctx.Done():
		logger.Info(s.ctx, "调度器收到停止信号")
	case <-s.stopCh:
		logger.Info(s.ctx, "调度器已停止")
	}
	<-s.cron.Stop().Done()
	return nil
}

// startWithInterval 使用传统间隔启动调度器
func (s *Scheduler) startWithInterval() error {
	logger := logging.FromContext(s.ctx)
	logger.Infof(s.ctx, "启动间隔调度器，执行间隔：%s", s.config.Interval)

	interval, err := time.ParseDuration(s.config.Interval)
	if err != nil {
		return fmt.Errorf("解析执行间隔失败: %w", err)
	}
	if interval <= 0 {
		return fmt.Errorf("执行间隔必须大于0: %s", s.config.Interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Infof(s.ctx, "调度器已启动，下次执行时间：%s", time.Now().Add(interval).Format(logging.TimeLayout))

	for {
		select {
		case <-ticker.C:
			logger.Info(s.ctx, "开始执行定时同步任务...")
			s.execute()
			logger.Infof(s.ctx, "下次执行时间：%s", time.Now().Add(interval).Format(logging.TimeLayout))

		case <-s.ctx.Done():
			logger.Info(s.ctx, "调度器收到停止信号")
			return nil

		case <-s.stopCh:
			logger.Info(s.ctx, "调度器已停止")
			return nil
		}
	}
}

// Stop 停止调度器，可重复调用
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		logging.FromContext(s.ctx).Info(s.ctx, "正在停止调度器...")
		close(s.stopCh)
		s.cancelFunc()
	})
}

// RunOnce 立即执行一次同步任务
func (s *Scheduler) RunOnce() {
	logging.FromContext(s.ctx).Info(s.ctx, "手动执行同步任务...")
	s.execute()
}

func (s *Scheduler) execute() {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.runs++
		s.lastRun = time.Now()
		s.mu.Unlock()
	}()

	s.job(s.ctx)
}

// GetStatus 获取调度器状态
func (s *Scheduler) GetStatus() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := map[string]interface{}{
		"active":  s.ctx.Err() == nil,
		"running": s.running,
		"runs":    s.runs,
		"config":  s.config,
	}
	if !s.lastRun.IsZero() {
		status["last_run"] = s.lastRun.Format(logging.TimeLayout)
	}
	if s.cron != nil {
		if entries := s.cron.Entries(); len(entries) > 0 {
			status["next_run"] = entries[0].Next.Format(logging.TimeLayout)
		}
	}
	return status
}

// cronLogger 将 cron 内部日志写入 logging.Logger
type cronLogger struct {
	ctx    context.Context
	logger logging.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(l.ctx, "cron: "+msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(l.ctx, fmt.Sprintf("cron: %s: %v", msg, err), keysAndValues...)
}
