// Package syncer 执行一次完整的同步：解析域名，生成表达式，写入 Cloudflare 规则，发送通知。
package syncer

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"

	"cloudflare-waf-sync/internal/client"
	"cloudflare-waf-sync/internal/config"
	"cloudflare-waf-sync/internal/expression"
	"cloudflare-waf-sync/internal/lock"
	"cloudflare-waf-sync/internal/logging"
	"cloudflare-waf-sync/internal/resolver"
	"cloudflare-waf-sync/pkg/models"
)

// Resolver 域名解析接口
type Resolver interface {
	Resolve(ctx context.Context, domains []string) resolver.Result
}

// Notifier 通知接口，发送失败由实现自行记录
type Notifier interface {
	Notify(ctx context.Context, text string)
	ParseMode() string
}

// Observer 接收每次同步的结果
type Observer interface {
	Observe(task *models.SyncTask)
}

// Syncer 同步任务执行器
type Syncer struct {
	config   *config.Config
	resolver Resolver
	client   RuleClient
	notifier Notifier
	observer Observer
	now      func() time.Time
}

// New 创建同步执行器，notifier 可以为 nil
func New(cfg *config.Config, r Resolver, c RuleClient, n Notifier) *Syncer {
	return &Syncer{
		config:   cfg,
		resolver: r,
		client:   c,
		notifier: n,
		now:      time.Now,
	}
}

// NewFromConfig 按配置创建解析器与客户端
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Syncer, error) {
	lookuper, err := resolver.NewLookuper(cfg.Resolver.Nameservers, cfg.ResolverTimeout())
	if err != nil {
		return nil, fmt.Errorf("创建DNS解析器失败: %w", err)
	}
	if d, ok := lookuper.(*resolver.DNSLookuper); ok {
		logging.FromContext(ctx).Infof(ctx, "使用 DNS 服务器: %s", strings.Join(d.Servers(), ", "))
	}
	r := resolver.New(lookuper, resolver.Options{
		IPv6Mode: cfg.Sync.IPv6Mode,
		Timeout:  cfg.ResolverTimeout(),
	})
	return New(cfg, r, client.NewFirewallClient(&cfg.Cloudflare), client.NewTelegramClient(&cfg.Telegram)), nil
}

// WithObserver 设置结果观察者（指标）
func (s *Syncer) WithObserver(o Observer) *Syncer {
	s.observer = o
	return s
}

// Run 执行一次同步；远端失败不会返回错误，结果记录在返回的任务中
func (s *Syncer) Run(ctx context.Context) *models.SyncTask {
	startTime := s.now()
	task := &models.SyncTask{
		TaskId:    uuid.NewString(),
		StartTime: startTime,
		Hostname:  s.config.Sync.Hostname,
		IPv4:      []string{},
		IPv6:      []string{},
	}

	logger := logging.FromContext(ctx).With("runId", task.TaskId)
	ctx = logging.WithLogger(ctx, logger)
	logger.Infof(ctx, "=== 开始执行同步任务 [%s] ===", startTime.Format(logging.TimeLayout))

	defer func() {
		task.EndTime = s.now()
		logger.Infof(ctx, "=== 同步任务完成 [%s] 耗时: %s 状态: %s ===",
			task.EndTime.Format(logging.TimeLayout),
			task.Duration().Round(time.Millisecond),
			task.Outcome)
		if s.observer != nil {
			s.observer.Observe(task)
		}
	}()

	lk, err := lock.Acquire(s.config.LockFile)
	switch {
	case errors.Is(err, lock.ErrLocked):
		task.Outcome = models.OutcomeLocked
		task.ErrorMsg = err.Error()
		logger.Warnf(ctx, "另一个同步任务正在运行，本次跳过 (%s)", s.config.LockFile)
		return task
	case err != nil:
		logger.Warnf(ctx, "获取锁文件失败，继续执行: %v", err)
	default:
		if lk.Path() != "" {
			logger.Debugf(ctx, "已持有锁文件 %s", lk.Path())
		}
		defer func() { _ = lk.Release() }()
	}

	s.run(ctx, task)
	return task
}

func (s *Syncer) run(ctx context.Context, task *models.SyncTask) {
	logger := logging.FromContext(ctx)
	host := s.config.Sync.Hostname

	s.notify(ctx, "ℹ️ Cloudflare WAF 同步开始运行，目标主机: %s", host)

	strategy := SelectStrategy(s.config, s.client)
	if strategy == nil {
		s.finish(ctx, task, models.OutcomeMissingRuleID, nil)
		return
	}
	task.Strategy = strategy.Name()
	logger.Infof(ctx, "更新方式: %s，目标: %s", strategy.Name(), strategy.Target())

	logger.Infof(ctx, "步骤1: 解析 %d 个域名...", len(s.config.Sync.Domains))
	res := s.resolver.Resolve(ctx, s.config.Sync.Domains)
	task.IPv4 = resolver.Strings(res.IPv4)
	task.IPv6 = resolver.Strings(res.IPv6)
	task.FailedHosts = res.Failed
	logger.Infof(ctx, "解析完成：IPv4 %d 个，IPv6 %d 个", len(res.IPv4), len(res.IPv6))
	if len(res.Failed) > 0 {
		logger.Warnf(ctx, "解析失败的域名: %s", strings.Join(res.Failed, ", "))
	}

	if res.Empty() {
		if !s.config.Sync.AllowEmpty {
			s.finish(ctx, task, models.OutcomeEmptyResolution, nil)
			return
		}
		logger.Warnf(ctx, "⚠️ 没有解析到任何 IP 地址，规则将拦截 %s 的全部访问。", host)
		s.notify(ctx, "⚠️ Cloudflare WAF 同步：未解析到任何 IP 地址，规则将拦截 %s 的全部访问。", host)
	}

	logger.Info(ctx, "步骤2: 生成表达式...")
	expr := expression.Build(host, res.All(), s.config.Sync.IPv6Encoding)
	task.Expression = expr.Text
	logger.Debugf(ctx, "生成的表达式: %s", expr.Text)
	if expr.TooLong() {
		logger.Warnf(ctx, "表达式长度 %d 超过 Cloudflare 限制 %d，更新可能被拒绝", len(expr.Text), expression.MaxLength)
	}

	if err := strategy.Apply(ctx, task, expr); err != nil {
		outcome := models.OutcomeUpdateFailed
		var se *stepError
		if errors.As(err, &se) {
			outcome = se.outcome
		}
		s.finish(ctx, task, outcome, err)
		return
	}
	s.finish(ctx, task, models.OutcomeSuccess, nil)
}

// finish 记录终态，每个终态对应不同的日志与通知
func (s *Syncer) finish(ctx context.Context, task *models.SyncTask, outcome models.Outcome, err error) {
	logger := logging.FromContext(ctx)
	host := s.config.Sync.Hostname
	task.Outcome = outcome
	if err != nil {
		task.ErrorMsg = err.Error()
	}

	switch outcome {
	case models.OutcomeSuccess:
		logger.Info(ctx, "✅ Cloudflare规则已成功更新！")
		msg := fmt.Sprintf("✅ Cloudflare 防火墙规则 '%s' 已成功更新！\nIPv4s: %d, IPv6s: %d",
			host, len(task.IPv4), len(task.IPv6))
		if len(task.FailedHosts) > 0 {
			msg += "\n解析失败: " + strings.Join(task.FailedHosts, ", ")
		}
		s.send(ctx, msg)

	case models.OutcomeMissingRuleID:
		task.ErrorMsg = "未配置 rule_id 或 ruleset_id"
		logger.Error(ctx, "❌ 未配置 rule_id 或 ruleset_id，规则未更新。")
		s.notify(ctx, "❌ Cloudflare WAF 同步失败：未配置规则 ID，规则 '%s' 未更新。", host)

	case models.OutcomeEmptyResolution:
		task.ErrorMsg = "未解析到任何 IP 地址"
		logger.Warn(ctx, "⚠️ 没有解析到任何 IP 地址，规则未更新。")
		s.notify(ctx, "⚠️ Cloudflare WAF 同步：未解析到任何 IP 地址，规则 %s 未更新。", host)

	case models.OutcomeUnauthorized:
		logger.Errorf(ctx, "❌ Cloudflare API Token 无效！请检查 api_token 是否正确: %v", err)
		s.notify(ctx, "❌ Cloudflare API Token 无效（认证失败），规则 '%s' 未更新。", host)

	case models.OutcomeForbidden:
		logger.Errorf(ctx, "❌ 权限不足！请检查 Token 是否具备 %s 权限", client.PermissionHint)
		s.notify(ctx, "❌ Cloudflare API 权限不足！请检查 Token 是否具备 %s 权限。", client.PermissionHint)

	case models.OutcomeNetworkError:
		logger.Warnf(ctx, "⚠️ %v", err)
		s.notify(ctx, "⚠️ Cloudflare WAF 同步网络请求异常 (规则: %s): %v", host, err)

	case models.OutcomeFetchFailed:
		logger.Errorf(ctx, "❌ %v", err)
		logger.Error(ctx, "❌ 无法获取filter.id，规则未更新。")
		s.notify(ctx, "❌ Cloudflare WAF 同步失败：无法获取 filter.id，规则 '%s' 未更新。\n%v", host, err)

	default:
		logger.Errorf(ctx, "❌ %v", err)
		s.notify(ctx, "❌ 更新 Cloudflare 规则失败 (规则: %s): %v", host, err)
	}
}

// notify 格式化后发送
func (s *Syncer) notify(ctx context.Context, format string, args ...any) {
	s.send(ctx, fmt.Sprintf(format, args...))
}

// send 消息不含格式标记，整条按 parse_mode 转义
func (s *Syncer) send(ctx context.Context, text string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, EscapeText(s.notifier.ParseMode(), text))
}

var (
	markdownEscaper   = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")
	markdownV2Escaper = strings.NewReplacer(
		"\\", "\\\\", "_", "\\_", "*", "\\*", "[", "\\[", "]", "\\]", "(", "\\(", ")", "\\)",
		"~", "\\~", "`", "\\`", ">", "\\>", "#", "\\#", "+", "\\+", "-", "\\-", "=", "\\=",
		"|", "\\|", "{", "\\{", "}", "\\}", ".", "\\.", "!", "\\!",
	)
)

// EscapeText 按 Telegram parse_mode 转义插入消息的文本，未知模式原样返回
func EscapeText(parseMode, v string) string {
	switch strings.ToLower(parseMode) {
	case "html":
		return html.EscapeString(v)
	case "markdown":
		return markdownEscaper.Replace(v)
	case "markdownv2":
		return markdownV2Escaper.Replace(v)
	}
	return v
}
