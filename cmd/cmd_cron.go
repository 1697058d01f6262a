package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"cloudflare-waf-sync/internal/config"
	"cloudflare-waf-sync/internal/crontab"
)

// newTrigger 按配置创建周期触发器，测试中替换
var newTrigger = func(cfg *config.Config, cfgPath string) (crontab.Trigger, error) {
	if cfg.Scheduler.Cron == "" {
		return nil, errors.New("scheduler.cron 为空，无法安装定时任务")
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("获取程序路径失败: %w", err)
	}
	if abs, err := filepath.Abs(cfgPath); err == nil {
		cfgPath = abs
	}
	return crontab.New(cfg.Scheduler.Cron, crontab.Command(exe, cfgPath))
}

// newCmdCron 管理 crontab 定时任务
func newCmdCron() *cobra.Command {
	c := &cobra.Command{
		Use:   "cron",
		Short: "管理 crontab 定时任务",
	}
	c.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "安装定时任务",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, t, err := cronTrigger(cmd)
			if err != nil {
				return err
			}
			if err := t.Install(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ 定时任务已添加（%s）。\n", cfg.Scheduler.Cron)
			return nil
		},
	})
	c.AddCommand(&cobra.Command{
		Use:     "remove",
		Aliases: []string{"stop"},
		Short:   "删除定时任务",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, t, err := cronTrigger(cmd)
			if err != nil {
				return err
			}
			if err := t.Remove(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✅ 定时任务已删除。")
			return nil
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "查看定时任务是否已安装",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, t, err := cronTrigger(cmd)
			if err != nil {
				return err
			}
			ok, err := t.Installed(cmd.Context())
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(cmd.OutOrStdout(), "已安装（%s）\n", cfg.Scheduler.Cron)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "未安装")
			}
			return nil
		},
	})
	return c
}

func cronTrigger(cmd *cobra.Command) (*config.Config, crontab.Trigger, error) {
	path := configPath(cmd)
	cfg, err := config.LoadOrCreate(path)
	if err != nil {
		return nil, nil, err
	}
	t, err := newTrigger(cfg, path)
	return cfg, t, err
}

// removeTrigger 删除定时任务；配置不可读时按默认计划生成触发器
func removeTrigger(ctx context.Context, cfg *config.Config, path string) error {
	if cfg == nil {
		cfg = config.Default()
	}
	t, err := newTrigger(cfg, path)
	if err != nil {
		return err
	}
	return t.Remove(ctx)
}
