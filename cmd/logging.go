package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"cloudflare-waf-sync/internal/config"
	"cloudflare-waf-sync/internal/logging"
)

// logFormat 按 参数 > 环境变量 > 配置文件 的顺序确定日志格式
func logFormat(cmd *cobra.Command, fromConfig string) string {
	if f, _ := cmd.Flags().GetString("log-format"); f != "" {
		return f
	}
	if env := os.Getenv(LogFormatEnv); env != "" {
		return env
	}
	return fromConfig
}

// configPath 当前命令使用的配置文件路径
func configPath(cmd *cobra.Command) string {
	flag, _ := cmd.Flags().GetString("config")
	return config.ResolvePath(flag)
}

// loadConfig 读取运行时配置；文件不存在时返回带提示的 ErrNotFound
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path := configPath(cmd)
	cfg, err := config.LoadConfig(path)
	if errors.Is(err, config.ErrNotFound) {
		return nil, path, fmt.Errorf("配置文件未找到，无法运行！(%w)", err)
	}
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// withConfigLogger 按配置重建 logger：写入日志文件并镜像到标准输出
//
// 返回的 cleanup 关闭日志文件。
func withConfigLogger(cmd *cobra.Command, cfg *config.Config) (context.Context, func(), error) {
	lf, err := logging.OpenLogFile(cfg.Logging.FilePath, cmd.OutOrStdout())
	if err != nil {
		return cmd.Context(), func() {}, err
	}
	l, err := logging.NewWithWriter(logFormat(cmd, cfg.Logging.Format), logging.ParseLevel(cfg.Logging.Level), lf.Writer())
	if err != nil {
		_ = lf.Close()
		return cmd.Context(), func() {}, err
	}
	ctx := logging.WithLogger(cmd.Context(), l)
	cmd.SetContext(ctx)
	return ctx, func() { _ = lf.Close() }, nil
}

// logToFile 日志尚未按配置建立时，把错误追加到日志文件；所在目录不存在时跳过
func logToFile(cmd *cobra.Command, path string, err error) {
	if path == "" || path == "none" {
		return
	}
	if st, statErr := os.Stat(filepath.Dir(path)); statErr != nil || !st.IsDir() {
		return
	}
	lf, openErr := logging.OpenLogFile(path, nil)
	if openErr != nil {
		return
	}
	defer lf.Close()
	l, lerr := logging.NewWithWriter(logFormat(cmd, ""), slog.LevelInfo, lf.Writer())
	if lerr != nil {
		return
	}
	l.Errorf(cmd.Context(), "❌ %s", err)
}
