package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"cloudflare-waf-sync/internal/config"
	"cloudflare-waf-sync/internal/logging"
	"cloudflare-waf-sync/internal/metrics"
	"cloudflare-waf-sync/internal/syncer"
)

// newCmdSync 执行一次同步
func newCmdSync() *cobra.Command {
	var asJSON bool
	c := &cobra.Command{
		Use:   "sync",
		Short: "执行一次同步",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, asJSON)
		},
	}
	c.Flags().BoolVar(&asJSON, "json", false, "同步结束后输出 JSON 格式的任务记录")
	return c
}

// runSync 只有配置错误会返回 error，远端失败记录日志后正常退出
func runSync(cmd *cobra.Command, asJSON bool) error {
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

	s, err := syncer.NewFromConfig(ctx, cfg)
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Textfile != "" {
		m = metrics.New()
		if err := m.Restore(cfg.Metrics.Textfile); err != nil {
			logging.FromContext(ctx).Warnf(ctx, "读取上次的指标文件失败，计数从零开始: %v", err)
		}
		s.WithObserver(m)
	}

	task := s.Run(ctx)

	if m != nil {
		if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logging.FromContext(ctx).Warnf(ctx, "写入指标文件失败: %v", err)
		}
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(task)
	}
	return nil
}
