package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FilterRef 防火墙规则引用的过滤器
type FilterRef struct {
	ID string `json:"id"`
}

// Filter Cloudflare 过滤器（旧版 Filter + Firewall Rule 模型）
type Filter struct {
	ID          string `json:"id"`
	Expression  string `json:"expression"`
	Paused      bool   `json:"paused"`
	Description string `json:"description"`
	Ref         string `json:"ref,omitempty"`
}

// FirewallRule Cloudflare 防火墙规则
type FirewallRule struct {
	ID          string    `json:"id,omitempty"`
	Filter      FilterRef `json:"filter"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
}

// RulesetRule 规则集中的单条规则
type RulesetRule struct {
	ID          string `json:"id,omitempty"`
	Expression  string `json:"expression"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

// RulesetUpdate PUT 规则集的请求体
type RulesetUpdate struct {
	Rules []RulesetRule `json:"rules"`
}

// Zone 区域信息
type Zone struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// APIMessage Cloudflare 返回的错误或提示
type APIMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// APIResponse Cloudflare v4 API 统一响应外壳
type APIResponse struct {
	Success  bool            `json:"success"`
	Errors   []APIMessage    `json:"errors"`
	Messages []APIMessage    `json:"messages"`
	Result   json.RawMessage `json:"result"`
}

// ErrorSummary 将错误列表拼接为一行
func (r *APIResponse) ErrorSummary() string {
	if r == nil || len(r.Errors) == 0 {
		return ""
	}
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, fmt.Sprintf("%d: %s", e.Code, e.Message))
	}
	return strings.Join(parts, "; ")
}
