package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"cloudflare-waf-sync/internal/config"
)

// newCmdConfig 配置文件管理
func newCmdConfig() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "查看与修改配置文件",
	}
	c.AddCommand(newCmdConfigInit())
	c.AddCommand(newCmdConfigShow())
	c.AddCommand(newCmdConfigSet())
	c.AddCommand(newCmdConfigPath())
	return c
}

func newCmdConfigInit() *cobra.Command {
	var force bool
	c := &cobra.Command{
		Use:   "init",
		Short: "生成示例配置文件",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(cmd)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("配置文件已存在: %s (使用 --force 覆盖)", path)
			}
			if err := generateSampleConfig(path); err != nil {
				return fmt.Errorf("生成示例配置文件失败: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "示例配置文件已生成: %s\n", path)
			fmt.Fprintf(cmd.OutOrStdout(), "请编辑配置文件 %s 后重新运行程序\n", path)
			return nil
		},
	}
	c.Flags().BoolVar(&force, "force", false, "覆盖已存在的配置文件")
	return c
}

func newCmdConfigShow() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "显示当前配置（隐藏密钥）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg.Masked())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func newCmdConfigSet() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "修改单个配置项",
		Long:  "修改单个配置项并整体重写配置文件。支持的配置项:\n  " + strings.Join(config.Keys(), "\n  "),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(cmd)
			cfg, err := config.LoadOrCreate(path)
			if err != nil {
				return err
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				if errors.Is(err, config.ErrUnknownKey) {
					return fmt.Errorf("%w (可用: %s)", err, strings.Join(config.Keys(), ", "))
				}
				return err
			}
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已更新 %s\n", args[0])
			return nil
		},
	}
}

func newCmdConfigPath() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "显示配置文件路径",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), configPath(cmd))
		},
	}
}

// generateSampleConfig 生成示例配置文件
func generateSampleConfig(filePath string) error {
	sampleConfig := `# Cloudflare WAF Sync Configuration

cloudflare:
  # 推荐：使用环境变量 CF_API_TOKEN / CF_ZONE_ID
  # Token 需要 Zone:Firewall Services:Edit 权限
  api_token: ""
  zone_id: ""
  # Filter + Firewall Rule 模型：填写规则 ID
  rule_id: ""
  # 规则集模型：填写规则集 ID 与其中的规则 ID（优先于 rule_id）
  # 注意：每次同步都会用单条规则整体替换该规则集，其中的其他规则会被删除，请使用专用规则集
  # ruleset_id: ""
  # ruleset_rule_id: ""
  timeout: "15s"

sync:
  hostname: "app.example.com"   # 受保护的主机名
  domains:                      # 解析后允许访问的域名
    - "office.example.net"
  ipv6_mode: "address"          # address: 保留原地址, prefix64: 扩展为 /64
  ipv6_encoding: "set"          # set: 与 IPv4 写入同一集合, split: 逐条子句
  allow_empty: false            # 解析结果为空时是否仍然下发（会拦截全部访问）
  action: "block"

resolver:
  nameservers: []               # 为空时使用系统解析器，例如 ["1.1.1.1", "8.8.8.8:53"]
  timeout: "5s"

telegram:
  # 推荐：使用环境变量 TELEGRAM_BOT_TOKEN / TELEGRAM_CHAT_ID
  bot_token: ""
  chat_id: ""
  parse_mode: "HTML"

scheduler:
  cron: "*/5 * * * *"           # crontab 与 daemon 共用
  # interval: "5m"              # daemon 模式下 cron 为空时使用
  run_on_start: true
  listen: "127.0.0.1:9310"      # daemon 的 /metrics 与 /healthz

logging:
  level: "info"                 # debug, info, warn, error
  format: "human"               # human, text, json
  # file_path: "/etc/cf-waf-sync/sync.log"

metrics:
  # textfile: "/var/lib/node_exporter/textfile_collector/cf_waf_sync.prom"
`

	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}
	if err := os.WriteFile(filePath, []byte(sampleConfig), 0600); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	return nil
}
