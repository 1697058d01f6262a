package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"cloudflare-waf-sync/internal/config"
	"cloudflare-waf-sync/internal/logging"
)

// newCmdUninstall 删除定时任务与配置
func newCmdUninstall() *cobra.Command {
	var yes bool
	c := &cobra.Command{
		Use:   "uninstall",
		Short: "删除定时任务、配置文件、锁文件与日志",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				fmt.Fprint(cmd.OutOrStdout(), "确认要卸载定时任务和全部配置吗？(yes/no): ")
				line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if strings.ToLower(strings.TrimSpace(line)) != "yes" {
					fmt.Fprintln(cmd.OutOrStdout(), "取消卸载。")
					return nil
				}
			}
			if err := uninstall(cmd.Context(), cmd.OutOrStdout(), configPath(cmd)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✅ 卸载完成，系统已清理干净。")
			return nil
		},
	}
	c.Flags().BoolVarP(&yes, "yes", "y", false, "跳过确认")
	return c
}

// uninstall 删除定时任务以及配置目录中由本程序创建的文件，目录为空时一并删除
func uninstall(ctx context.Context, out io.Writer, path string) error {
	logger := logging.FromContext(ctx)

	cfg, err := config.LoadConfig(path)
	if err != nil {
		logger.Warnf(ctx, "读取配置失败，按默认值清理: %v", err)
		cfg = nil
	}

	if err := removeTrigger(ctx, cfg, path); err != nil {
		logger.Warnf(ctx, "删除定时任务失败: %v", err)
	} else {
		fmt.Fprintln(out, "✅ 定时任务已删除。")
	}

	dir := filepath.Dir(path)
	files := []string{path, filepath.Join(dir, "sync.lock"), config.DefaultLogPath(path)}
	if cfg != nil {
		files = append(files, cfg.LockFile, cfg.Logging.FilePath)
	}
	for _, f := range files {
		if f == "" || filepath.Dir(f) != dir {
			continue
		}
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("删除 %s 失败: %w", f, err)
		}
	}

	if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Infof(ctx, "目录 %s 中仍有其他文件，保留目录", dir)
		return nil
	}
	fmt.Fprintf(out, "已删除目录 %s\n", dir)
	return nil
}
