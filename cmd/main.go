package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"cloudflare-waf-sync/internal/config"
	"cloudflare-waf-sync/internal/logging"
)

// LogFormatEnv 覆盖 --log-format 的环境变量
const LogFormatEnv = "CF_WAF_SYNC_LOG_FORMAT"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cf-waf-sync",
		Short: "Cloudflare WAF 白名单同步",
		Long: `解析配置中的域名，生成 Cloudflare 拦截表达式并更新防火墙规则：
访问目标主机且来源 IP 不在解析结果中的请求会被拦截。

不带子命令运行时执行一次同步，适合由 crontab 周期调用。`,
		Version: version,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, false)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "配置文件路径 (env "+config.PathEnv+", 默认 "+config.DefaultPath+")")
	cmd.PersistentFlags().String("log-format", "", "日志格式 (human|text|json) (env "+LogFormatEnv+")")

	cmd.PersistentPreRunE = func(c *cobra.Command, _ []string) error {
		l, err := logging.NewWithWriter(logFormat(c, ""), slog.LevelInfo, c.OutOrStdout())
		if err != nil {
			return err
		}
		c.SetContext(logging.WithLogger(c.Context(), l))
		return nil
	}

	cmd.AddCommand(newCmdSync())
	cmd.AddCommand(newCmdConfig())
	cmd.AddCommand(newCmdDomain())
	cmd.AddCommand(newCmdCron())
	cmd.AddCommand(newCmdCheckToken())
	cmd.AddCommand(newCmdDaemon())
	cmd.AddCommand(newCmdMenu())
	cmd.AddCommand(newCmdUninstall())
	cmd.AddCommand(newCmdVersion())
	return cmd
}

// execute 运行命令并返回进程退出码
func execute(ctx context.Context, args []string, in io.Reader, out io.Writer) int {
	// 参数解析失败时 PersistentPreRunE 不会执行，先放一个默认 logger
	if l, err := logging.NewWithWriter("", slog.LevelInfo, out); err == nil {
		ctx = logging.WithLogger(ctx, l)
	}

	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(out)
	root.SetContext(ctx)

	executed, err := root.ExecuteC()
	if err != nil {
		if executed != nil && executed.Context() != nil {
			ctx = executed.Context()
		}
		logging.FromContext(ctx).Errorf(ctx, "❌ %s", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdin, os.Stdout))
}
