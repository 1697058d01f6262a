package config

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

var (
	// ErrDomainExists 域名已存在
	ErrDomainExists = errors.New("域名已存在")
	// ErrDomainNotFound 域名未找到
	ErrDomainNotFound = errors.New("域名未找到")
	// ErrUnknownKey 不支持编辑的配置项
	ErrUnknownKey = errors.New("未知的配置项")
)

// NormalizeDomain 规范化域名: 小写、去掉末尾的点、转换为 punycode
func NormalizeDomain(domain string) (string, error) {
	d := strings.TrimSuffix(strings.TrimSpace(domain), ".")
	if d == "" {
		return "", fmt.Errorf("域名为空")
	}
	ascii, err := idna.Lookup.ToASCII(d)
	if err != nil {
		return "", fmt.Errorf("域名 %q 无效: %w", domain, err)
	}
	return ascii, nil
}

// AddDomain 添加需要解析的域名
func (c *Config) AddDomain(domain string) (string, error) {
	d, err := NormalizeDomain(domain)
	if err != nil {
		return "", err
	}
	if slices.Contains(c.Sync.Domains, d) {
		return d, fmt.Errorf("%w: %s", ErrDomainExists, d)
	}
	c.Sync.Domains = append(c.Sync.Domains, d)
	return d, nil
}

// RemoveDomain 删除域名，保持其余域名顺序
func (c *Config) RemoveDomain(domain string) (string, error) {
	d, err := NormalizeDomain(domain)
	if err != nil {
		return "", err
	}
	i := slices.Index(c.Sync.Domains, d)
	if i < 0 {
		return d, fmt.Errorf("%w: %s", ErrDomainNotFound, d)
	}
	c.Sync.Domains = slices.Delete(c.Sync.Domains, i, i+1)
	return d, nil
}

// setters 可通过 config set 修改的配置项
var setters = map[string]func(c *Config, v string) error{
	"cloudflare.api_token":       func(c *Config, v string) error { c.Cloudflare.APIToken = v; return nil },
	"cloudflare.zone_id":         func(c *Config, v string) error { c.Cloudflare.ZoneID = v; return nil },
	"cloudflare.rule_id":         func(c *Config, v string) error { c.Cloudflare.RuleID = v; return nil },
	"cloudflare.ruleset_id":      func(c *Config, v string) error { c.Cloudflare.RulesetID = v; return nil },
	"cloudflare.ruleset_rule_id": func(c *Config, v string) error { c.Cloudflare.RulesetRuleID = v; return nil },
	"cloudflare.api_base_url":    func(c *Config, v string) error { c.Cloudflare.APIBaseURL = v; return nil },
	"cloudflare.timeout":         func(c *Config, v string) error { c.Cloudflare.Timeout = v; return nil },
	"sync.hostname":              func(c *Config, v string) error { c.Sync.Hostname = v; return nil },
	"sync.ipv6_mode":             func(c *Config, v string) error { c.Sync.IPv6Mode = v; return nil },
	"sync.ipv6_encoding":         func(c *Config, v string) error { c.Sync.IPv6Encoding = v; return nil },
	"sync.action":                func(c *Config, v string) error { c.Sync.Action = v; return nil },
	"sync.ref":                   func(c *Config, v string) error { c.Sync.Ref = v; return nil },
	"sync.allow_empty": func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.Sync.AllowEmpty = b
		return nil
	},
	"resolver.nameservers": func(c *Config, v string) error {
		c.Resolver.Nameservers = splitList(v)
		return nil
	},
	"resolver.timeout":      func(c *Config, v string) error { c.Resolver.Timeout = v; return nil },
	"telegram.bot_token":    func(c *Config, v string) error { c.Telegram.BotToken = v; return nil },
	"telegram.chat_id":      func(c *Config, v string) error { c.Telegram.ChatID = v; return nil },
	"telegram.parse_mode":   func(c *Config, v string) error { c.Telegram.ParseMode = v; return nil },
	"telegram.api_base_url": func(c *Config, v string) error { c.Telegram.APIBaseURL = v; return nil },
	"scheduler.cron":        func(c *Config, v string) error { c.Scheduler.Cron = v; return nil },
	"scheduler.interval":    func(c *Config, v string) error { c.Scheduler.Interval = v; return nil },
	"scheduler.listen":      func(c *Config, v string) error { c.Scheduler.Listen = v; return nil },
	"scheduler.run_on_start": func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.Scheduler.RunOnStart = b
		return nil
	},
	"logging.level":     func(c *Config, v string) error { c.Logging.Level = v; return nil },
	"logging.format":    func(c *Config, v string) error { c.Logging.Format = v; return nil },
	"logging.file_path": func(c *Config, v string) error { c.Logging.FilePath = v; return nil },
	"metrics.textfile":  func(c *Config, v string) error { c.Metrics.Textfile = v; return nil },
	"lock_file":         func(c *Config, v string) error { c.LockFile = v; return nil },
}

// Keys 返回支持编辑的配置项，按字母排序
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Set 按点分路径修改配置项，修改后重新校验
func (c *Config) Set(key, value string) error {
	set, ok := setters[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	next := *c
	next.Resolver.Nameservers = slices.Clone(c.Resolver.Nameservers)
	if err := set(&next, strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := validateConfig(&next); err != nil {
		return err
	}
	*c = next
	return nil
}

// Masked 返回隐藏了密钥的副本，用于展示
func (c *Config) Masked() *Config {
	m := *c
	m.Sync.Domains = slices.Clone(c.Sync.Domains)
	m.Cloudflare.APIToken = mask(c.Cloudflare.APIToken)
	m.Telegram.BotToken = mask(c.Telegram.BotToken)
	return &m
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + strings.Repeat("*", 8) + s[len(s)-4:]
}

func splitList(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
