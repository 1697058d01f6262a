package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultPath 默认配置文件路径，可通过 --config 或 CF_WAF_SYNC_CONFIG 覆盖
const DefaultPath = "/etc/cf-waf-sync/config.yaml"

// PathEnv 指定配置文件路径的环境变量
const PathEnv = "CF_WAF_SYNC_CONFIG"

var (
	// ErrNotFound 配置文件不存在
	ErrNotFound = errors.New("configuration not found")
	// ErrInvalid 配置内容不满足同步前置条件
	ErrInvalid = errors.New("invalid configuration")
)

// IPv6 处理策略
const (
	IPv6Address  = "address"  // 保留原始地址
	IPv6Prefix64 = "prefix64" // 扩展为所在 /64 网段
)

// IPv6 在表达式中的编码方式
const (
	EncodingSet   = "set"   // IPv4/IPv6 混合写入同一个 ip.src in {...}
	EncodingSplit = "split" // IPv6 逐条 ip.src eq / in 子句，以 or 连接
)

// Config 应用配置
type Config struct {
	Cloudflare CloudflareConfig `yaml:"cloudflare"`
	Sync       SyncConfig       `yaml:"sync"`
	Resolver   ResolverConfig   `yaml:"resolver"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Logging    LogConfig        `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	LockFile   string           `yaml:"lock_file"`
}

// CloudflareConfig Cloudflare 凭证与规则标识
type CloudflareConfig struct {
	APIToken      string `yaml:"api_token"`
	ZoneID        string `yaml:"zone_id"`
	RuleID        string `yaml:"rule_id"`         // Filter + Firewall Rule 模型
	RulesetID     string `yaml:"ruleset_id"`      // 规则集模型；同步时整个规则集被替换为单条规则，需使用专用规则集
	RulesetRuleID string `yaml:"ruleset_rule_id"` // 规则集中被替换的规则
	APIBaseURL    string `yaml:"api_base_url"`
	Timeout       string `yaml:"timeout"`
}

// SyncConfig 同步配置
type SyncConfig struct {
	Hostname     string   `yaml:"hostname"` // 表达式中 http.host 的目标
	Domains      []string `yaml:"domains"`  // 需要解析的域名，有序且不重复
	IPv6Mode     string   `yaml:"ipv6_mode"`
	IPv6Encoding string   `yaml:"ipv6_encoding"`
	AllowEmpty   bool     `yaml:"allow_empty"` // 解析结果为空时是否仍然下发
	Action       string   `yaml:"action"`
	Ref          string   `yaml:"ref"`
}

// ResolverConfig DNS 解析配置
type ResolverConfig struct {
	Nameservers []string `yaml:"nameservers"` // 为空时使用系统解析器
	Timeout     string   `yaml:"timeout"`
}

// TelegramConfig 通知配置
type TelegramConfig struct {
	BotToken   string `yaml:"bot_token"`
	ChatID     string `yaml:"chat_id"`
	ParseMode  string `yaml:"parse_mode"`
	APIBaseURL string `yaml:"api_base_url"`
}

// SchedulerConfig 调度配置
type SchedulerConfig struct {
	Cron       string `yaml:"cron"`         // crontab 与 daemon 共用的表达式
	Interval   string `yaml:"interval"`     // daemon 模式下 cron 为空时使用
	RunOnStart bool   `yaml:"run_on_start"` // daemon 启动时是否立即执行
	Listen     string `yaml:"listen"`       // daemon 的 /metrics 监听地址
}

// LogConfig 日志配置
type LogConfig struct {
	Level    string `yaml:"level"`     // debug, info, warn, error
	Format   string `yaml:"format"`    // human, text, json
	FilePath string `yaml:"file_path"` // 日志文件路径，为空时写入配置目录下的 sync.log，"none" 不写文件
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Textfile string `yaml:"textfile"` // node_exporter textfile collector 路径
}

// Default 首次运行时创建的空配置
func Default() *Config {
	cfg := &Config{}
	cfg.Sync.Domains = []string{}
	setDefaults(cfg)
	return cfg
}

// ResolvePath 按 参数 > 环境变量 > 默认值 的顺序确定配置文件路径
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return GetEnvOrDefault(PathEnv, DefaultPath)
}

// DefaultLogPath 配置文件所在目录下的默认日志文件
func DefaultLogPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "sync.log")
}

// LoadConfig 从文件加载运行时配置（含环境变量覆盖）
func LoadConfig(filePath string) (*Config, error) {
	if filePath == "" {
		filePath = DefaultPath
	}

	config, err := readConfig(filePath)
	if err != nil {
		return nil, err
	}

	applyEnv(config)
	if config.LockFile == "" {
		config.LockFile = filepath.Join(filepath.Dir(filePath), "sync.lock")
	}
	if config.Logging.FilePath == "" {
		config.Logging.FilePath = DefaultLogPath(filePath)
	}
	return config, nil
}

// LoadOrCreate 加载文件中的配置用于编辑，不存在时写入默认配置
//
// 返回值不含环境变量覆盖，保存时不会把环境中的凭证写入文件。
func LoadOrCreate(filePath string) (*Config, error) {
	cfg, err := readConfig(filePath)
	if errors.Is(err, ErrNotFound) {
		cfg = Default()
		if err := Save(filePath, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return cfg, err
}

func readConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filePath)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 设置默认值
	setDefaults(&config)

	// 验证配置
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	if config.Sync.Domains == nil {
		config.Sync.Domains = []string{}
	}
	return &config, nil
}

// Save 整体重写配置文件
func Save(filePath string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("设置配置文件权限失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("替换配置文件失败: %w", err)
	}
	return nil
}

// setDefaults 设置默认配置值
func setDefaults(config *Config) {
	if config.Cloudflare.APIBaseURL == "" {
		config.Cloudflare.APIBaseURL = "https://api.cloudflare.com/client/v4"
	}
	if config.Cloudflare.Timeout == "" {
		config.Cloudflare.Timeout = "15s"
	}
	if config.Sync.IPv6Mode == "" {
		config.Sync.IPv6Mode = IPv6Address
	}
	if config.Sync.IPv6Encoding == "" {
		config.Sync.IPv6Encoding = EncodingSet
	}
	if config.Sync.Action == "" {
		config.Sync.Action = "block"
	}
	if config.Sync.Ref == "" {
		config.Sync.Ref = "auto-sync-script"
	}
	if config.Resolver.Timeout == "" {
		config.Resolver.Timeout = "5s"
	}
	if config.Telegram.ParseMode == "" {
		config.Telegram.ParseMode = "HTML"
	}
	if config.Telegram.APIBaseURL == "" {
		config.Telegram.APIBaseURL = "https://api.telegram.org"
	}
	if config.Scheduler.Cron == "" && config.Scheduler.Interval == "" {
		config.Scheduler.Cron = "*/5 * * * *"
	}
	if config.Scheduler.Listen == "" {
		config.Scheduler.Listen = "127.0.0.1:9310"
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "human"
	}
}

// applyEnv 环境变量优先于配置文件中的凭证
func applyEnv(config *Config) {
	config.Cloudflare.APIToken = GetEnvOrDefault("CF_API_TOKEN", config.Cloudflare.APIToken)
	config.Cloudflare.ZoneID = GetEnvOrDefault("CF_ZONE_ID", config.Cloudflare.ZoneID)
	config.Telegram.BotToken = GetEnvOrDefault("TELEGRAM_BOT_TOKEN", config.Telegram.BotToken)
	config.Telegram.ChatID = GetEnvOrDefault("TELEGRAM_CHAT_ID", config.Telegram.ChatID)
}

// validateConfig 验证配置格式；凭证是否为空由 ValidateForSync 检查
func validateConfig(config *Config) error {
	switch config.Sync.IPv6Mode {
	case IPv6Address, IPv6Prefix64:
	default:
		return fmt.Errorf("未知的 ipv6_mode: %q", config.Sync.IPv6Mode)
	}
	switch config.Sync.IPv6Encoding {
	case EncodingSet, EncodingSplit:
	default:
		return fmt.Errorf("未知的 ipv6_encoding: %q", config.Sync.IPv6Encoding)
	}
	for _, d := range []struct{ name, value string }{
		{"cloudflare.timeout", config.Cloudflare.Timeout},
		{"resolver.timeout", config.Resolver.Timeout},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%s 无效: %w", d.name, err)
		}
	}
	if config.Scheduler.Interval != "" {
		if _, err := time.ParseDuration(config.Scheduler.Interval); err != nil {
			return fmt.Errorf("scheduler.interval 无效: %w", err)
		}
	}
	seen := make(map[string]string, len(config.Sync.Domains))
	for _, d := range config.Sync.Domains {
		key, err := NormalizeDomain(d)
		if err != nil {
			key = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(d), "."))
		}
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("域名重复: %s 与 %s", prev, d)
		}
		seen[key] = d
	}
	return nil
}

// ValidateForSync 同步前检查必填凭证
func (c *Config) ValidateForSync() error {
	if c.Cloudflare.APIToken == "" {
		return fmt.Errorf("%w: cloudflare.api_token 为空", ErrInvalid)
	}
	if c.Cloudflare.ZoneID == "" {
		return fmt.Errorf("%w: cloudflare.zone_id 为空", ErrInvalid)
	}
	if c.Sync.Hostname == "" {
		return fmt.Errorf("%w: sync.hostname 为空", ErrInvalid)
	}
	return nil
}

// RequestTimeout 单次 Cloudflare 调用超时
func (c *CloudflareConfig) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// ResolverTimeout 单个域名解析超时
func (c *Config) ResolverTimeout() time.Duration {
	d, err := time.ParseDuration(c.Resolver.Timeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// GetEnvOrDefault 获取环境变量值，如果不存在则返回默认值
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
