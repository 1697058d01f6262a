package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cloudflare-waf-sync/internal/config"
	"cloudflare-waf-sync/internal/logging"
	"cloudflare-waf-sync/internal/metrics"
	"cloudflare-waf-sync/internal/scheduler"
	"cloudflare-waf-sync/internal/syncer"
)

// newCmdDaemon 常驻运行，按 scheduler 配置周期同步并提供 /metrics
func newCmdDaemon() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "常驻运行并周期同步（替代 crontab）",
		Long: "常驻运行并按 scheduler.cron 周期同步。\n" +
			"收到 SIGHUP 时立即执行一次同步，SIGINT/SIGTERM 退出。\n" +
			"metrics.listen 非 none 时在该地址提供 /metrics 与 /healthz。",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				logToFile(cmd, config.DefaultLogPath(path), err)
				return err
			}
			if err := cfg.ValidateForSync(); err != nil {
				logToFile(cmd, cfg.Logging.FilePath, err)
				return err
			}
			ctx, closeLog, err := withConfigLogger(cmd, cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)

			return runDaemon(ctx, cfg, path, hup)
		},
	}
}

// runDaemon 阻塞直到 ctx 取消；每次触发都重新读取配置文件，trigger 收到信号时立即同步一次
func runDaemon(ctx context.Context, cfg *config.Config, path string, trigger <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := logging.FromContext(ctx)
	m := metrics.New()
	if cfg.Metrics.Textfile != "" {
		if err := m.Restore(cfg.Metrics.Textfile); err != nil {
			logger.Warnf(ctx, "读取上次的指标文件失败，计数从零开始: %v", err)
		}
	}

	job := func(ctx context.Context) {
		logger := logging.FromContext(ctx)
		cur, err := config.LoadConfig(path)
		if err != nil {
			logger.Errorf(ctx, "加载配置文件失败: %v", err)
			return
		}
		if err := cur.ValidateForSync(); err != nil {
			logger.Errorf(ctx, "配置无效，跳过本次同步: %v", err)
			return
		}
		s, err := syncer.NewFromConfig(ctx, cur)
		if err != nil {
			logger.Errorf(ctx, "%v", err)
			return
		}
		s.WithObserver(m).Run(ctx)
		if cur.Metrics.Textfile != "" {
			if err := m.WriteTextfile(cur.Metrics.Textfile); err != nil {
				logger.Warnf(ctx, "写入指标文件失败: %v", err)
			}
		}
	}

	sched := scheduler.NewScheduler(ctx, cfg.Scheduler, job)

	var srv *http.Server
	if cfg.Scheduler.Listen != "" && cfg.Scheduler.Listen != "none" {
		srv = &http.Server{
			Addr:              cfg.Scheduler.Listen,
			Handler:           m.Handler(sched.GetStatus),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf(ctx, "指标服务启动失败: %v", err)
			}
		}()
		logger.Infof(ctx, "指标服务监听 %s (/metrics, /healthz)", cfg.Scheduler.Listen)
	}

	go func() {
		for {
			select {
			case <-trigger:
				logger.Info(ctx, "收到 SIGHUP，立即执行同步")
				sched.RunOnce()
			case <-ctx.Done():
				return
			}
		}
	}()

	err := sched.Start()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	logger.Info(ctx, "程序已退出")
	return err
}
