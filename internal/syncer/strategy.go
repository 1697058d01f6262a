package syncer

import (
	"context"
	"errors"
	"fmt"

	"cloudflare-waf-sync/internal/client"
	"cloudflare-waf-sync/internal/config"
	"cloudflare-waf-sync/internal/expression"
	"cloudflare-waf-sync/internal/logging"
	"cloudflare-waf-sync/pkg/models"
)

// 更新策略名称
const (
	StrategyFilterRule = "filter_rule"
	StrategyRuleset    = "ruleset"
)

// RuleClient 远端规则接口，由 client.FirewallClient 实现
type RuleClient interface {
	GetFirewallRule(ctx context.Context, ruleID string) (*models.FirewallRule, error)
	UpdateFilter(ctx context.Context, filter models.Filter) error
	UpdateFirewallRule(ctx context.Context, rule models.FirewallRule) error
	UpdateRulesetRule(ctx context.Context, rulesetID string, rule models.RulesetRule) error
}

// Strategy 把表达式写入远端规则的方式
type Strategy interface {
	Name() string
	Target() string
	Apply(ctx context.Context, task *models.SyncTask, expr expression.Expression) error
}

// stepError 记录失败发生的阶段与对应的终态
type stepError struct {
	outcome models.Outcome
	err     error
}

func (e *stepError) Error() string { return e.err.Error() }

func (e *stepError) Unwrap() error { return e.err }

// classify 将客户端错误映射为终态，未识别的错误使用 fallback
func classify(err error, fallback models.Outcome) *stepError {
	outcome := fallback
	switch {
	case errors.Is(err, client.ErrUnauthorized):
		outcome = models.OutcomeUnauthorized
	case errors.Is(err, client.ErrForbidden):
		outcome = models.OutcomeForbidden
	case errors.Is(err, client.ErrTransport):
		outcome = models.OutcomeNetworkError
	}
	return &stepError{outcome: outcome, err: err}
}

// SelectStrategy 按已配置的标识选择策略：ruleset_id 优先，其次 rule_id；都没有时返回 nil
func SelectStrategy(cfg *config.Config, c RuleClient) Strategy {
	switch {
	case cfg.Cloudflare.RulesetID != "":
		return &rulesetStrategy{
			client:    c,
			rulesetID: cfg.Cloudflare.RulesetID,
			ruleID:    cfg.Cloudflare.RulesetRuleID,
			action:    cfg.Sync.Action,
		}
	case cfg.Cloudflare.RuleID != "":
		return &filterRuleStrategy{
			client: c,
			ruleID: cfg.Cloudflare.RuleID,
			action: cfg.Sync.Action,
			ref:    cfg.Sync.Ref,
		}
	}
	return nil
}

// filterRuleStrategy 旧版模型：查询规则拿到 filter.id，更新 filter，再更新规则
type filterRuleStrategy struct {
	client RuleClient
	ruleID string
	action string
	ref    string
}

func (s *filterRuleStrategy) Name() string { return StrategyFilterRule }

func (s *filterRuleStrategy) Target() string { return s.ruleID }

func (s *filterRuleStrategy) Apply(ctx context.Context, task *models.SyncTask, expr expression.Expression) error {
	logger := logging.FromContext(ctx)

	logger.Info(ctx, "步骤3: 查询防火墙规则获取filter.id...")
	rule, err := s.client.GetFirewallRule(ctx, s.ruleID)
	if err != nil {
		return classify(err, models.OutcomeFetchFailed)
	}
	task.FilterId = rule.Filter.ID
	logger.Infof(ctx, "✅ 获取filter.id成功：%s", rule.Filter.ID)

	logger.Info(ctx, "步骤4: 更新filter表达式...")
	err = s.client.UpdateFilter(ctx, models.Filter{
		ID:          rule.Filter.ID,
		Expression:  expr.Text,
		Paused:      false,
		Description: fmt.Sprintf("同步更新：允许解析IP访问 %s，其余拦截", expr.Hostname),
		Ref:         s.ref,
	})
	if err != nil {
		return classify(err, models.OutcomeUpdateFailed)
	}

	logger.Info(ctx, "步骤5: 更新防火墙规则...")
	err = s.client.UpdateFirewallRule(ctx, models.FirewallRule{
		ID:          s.ruleID,
		Filter:      models.FilterRef{ID: rule.Filter.ID},
		Action:      s.action,
		Description: fmt.Sprintf("自动同步更新规则：%s", expr.Hostname),
	})
	if err != nil {
		return classify(err, models.OutcomeUpdateFailed)
	}
	return nil
}

// rulesetStrategy 规则集模型：一次 PUT 用单条规则替换整个规则集
type rulesetStrategy struct {
	client    RuleClient
	rulesetID string
	ruleID    string
	action    string
}

func (s *rulesetStrategy) Name() string { return StrategyRuleset }

func (s *rulesetStrategy) Target() string { return s.rulesetID }

func (s *rulesetStrategy) Apply(ctx context.Context, _ *models.SyncTask, expr expression.Expression) error {
	logger := logging.FromContext(ctx)
	logger.Info(ctx, "步骤3: 更新规则集...")
	logger.Infof(ctx, "注意：规则集 %s 会被整体替换，其中的其他规则将被删除", s.rulesetID)
	err := s.client.UpdateRulesetRule(ctx, s.rulesetID, models.RulesetRule{
		ID:          s.ruleID,
		Expression:  expr.Text,
		Action:      s.action,
		Description: fmt.Sprintf("自动同步更新规则：%s", expr.Hostname),
	})
	if err != nil {
		return classify(err, models.OutcomeUpdateFailed)
	}
	return nil
}
