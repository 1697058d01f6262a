package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	cleanhttp "github.com/hashicorp/go-cleanhttp"

	"cloudflare-waf-sync/internal/config"
	"cloudflare-waf-sync/pkg/models"
)

// PermissionHint 更新规则所需的 Token 权限
const PermissionHint = "Zone:Firewall Services:Edit"

var (
	// ErrUnauthorized Token 无效（HTTP 401）
	ErrUnauthorized = errors.New("Cloudflare API Token 无效（认证失败）")
	// ErrForbidden Token 权限不足（HTTP 403）
	ErrForbidden = errors.New("Cloudflare API 权限不足，请检查 Token 是否具备 " + PermissionHint + " 权限")
	// ErrTransport 请求未到达或未得到应答
	ErrTransport = errors.New("网络请求异常")
)

// maxBodySize 读取响应体的上限
const maxBodySize = 1 << 20

// APIError 远端拒绝了请求（非 2xx 或 success=false）
type APIError struct {
	Op     string
	Status int
	Body   string
	Errors []models.APIMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s失败: %d - %s", e.Op, e.Status, strings.TrimSpace(e.Body))
}

// Is 401/403 分别匹配 ErrUnauthorized/ErrForbidden
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	}
	return false
}

// RequestError 网络层失败（超时、连接被拒绝、无法解析 API 域名）
type RequestError struct {
	Op  string
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s时网络请求异常: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

func (e *RequestError) Is(target error) bool { return target == ErrTransport }

// FirewallClient Cloudflare 防火墙规则客户端
type FirewallClient struct {
	baseURL string
	zoneID  string
	token   string
	client  *http.Client
}

// NewFirewallClient 创建新的 Cloudflare 防火墙客户端，每次调用都受 cfg.Timeout 限制
func NewFirewallClient(cfg *config.CloudflareConfig) *FirewallClient {
	httpc := cleanhttp.DefaultClient()
	httpc.Timeout = cfg.RequestTimeout()

	return &FirewallClient{
		baseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		zoneID:  cfg.ZoneID,
		token:   cfg.APIToken,
		client:  httpc,
	}
}

// GetZone 查询区域信息，用于校验 Token
func (c *FirewallClient) GetZone(ctx context.Context) (*models.Zone, error) {
	var zone models.Zone
	if err := c.do(ctx, "查询区域", http.MethodGet, c.zonePath(), nil, &zone); err != nil {
		return nil, err
	}
	return &zone, nil
}

// GetFirewallRule 查询防火墙规则及其关联的过滤器 ID
func (c *FirewallClient) GetFirewallRule(ctx context.Context, ruleID string) (*models.FirewallRule, error) {
	var rule models.FirewallRule
	path := c.zonePath() + "/firewall/rules/" + url.PathEscape(ruleID)
	if err := c.do(ctx, "查询规则", http.MethodGet, path, nil, &rule); err != nil {
		return nil, err
	}
	if rule.Filter.ID == "" {
		return nil, fmt.Errorf("规则 %s 未关联过滤器", ruleID)
	}
	return &rule, nil
}

// UpdateFilter 替换过滤器表达式
func (c *FirewallClient) UpdateFilter(ctx context.Context, filter models.Filter) error {
	path := c.zonePath() + "/filters/" + url.PathEscape(filter.ID)
	return c.do(ctx, "更新filter表达式", http.MethodPut, path, filter, nil)
}

// UpdateFirewallRule 更新规则的动作与描述，过滤器引用保持不变
func (c *FirewallClient) UpdateFirewallRule(ctx context.Context, rule models.FirewallRule) error {
	body := struct {
		Filter      models.FilterRef `json:"filter"`
		Action      string           `json:"action"`
		Description string           `json:"description"`
	}{
		Filter:      rule.Filter,
		Action:      rule.Action,
		Description: rule.Description,
	}
	path := c.zonePath() + "/firewall/rules/" + url.PathEscape(rule.ID)
	return c.do(ctx, "更新规则", http.MethodPut, path, body, nil)
}

// UpdateRulesetRule 一次 PUT 替换规则集中的规则
func (c *FirewallClient) UpdateRulesetRule(ctx context.Context, rulesetID string, rule models.RulesetRule) error {
	body := models.RulesetUpdate{Rules: []models.RulesetRule{rule}}
	path := c.zonePath() + "/rulesets/" + url.PathEscape(rulesetID)
	return c.do(ctx, "更新规则集", http.MethodPut, path, body, nil)
}

func (c *FirewallClient) zonePath() string {
	return "/zones/" + url.PathEscape(c.zoneID)
}

// do 发送请求并解析 Cloudflare 响应外壳，result 写入 out
func (c *FirewallClient) do(ctx context.Context, op, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		byt, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal: %w", op, err)
		}
		rdr = bytes.NewReader(byt)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("%s: new request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	rsp, err := c.client.Do(req)
	if err != nil {
		return &RequestError{Op: op, Err: err}
	}
	defer func() { _ = rsp.Body.Close() }()

	byt, err := io.ReadAll(io.LimitReader(rsp.Body, maxBodySize))
	if err != nil {
		return &RequestError{Op: op, Err: err}
	}

	var env models.APIResponse
	decodeErr := json.Unmarshal(byt, &env)

	if rsp.StatusCode < 200 || rsp.StatusCode > 299 {
		return &APIError{Op: op, Status: rsp.StatusCode, Body: string(byt), Errors: env.Errors}
	}
	if decodeErr != nil {
		return &APIError{Op: op, Status: rsp.StatusCode, Body: "decode: " + decodeErr.Error()}
	}
	if !env.Success {
		return &APIError{Op: op, Status: rsp.StatusCode, Body: env.ErrorSummary(), Errors: env.Errors}
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return &APIError{Op: op, Status: rsp.StatusCode, Body: "decode result: " + err.Error()}
		}
	}
	return nil
}
