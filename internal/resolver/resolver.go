// Package resolver 将域名列表解析为去重、排序后的 IPv4/IPv6 地址集合。
package resolver

import (
	"cmp"
	"context"
	"net"
	"net/netip"
	"slices"
	"time"

	"cloudflare-waf-sync/internal/config"
	"cloudflare-waf-sync/internal/logging"
)

// Lookuper 查询单个域名的全部地址（A 与 AAAA）
type Lookuper interface {
	LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error)
}

// SystemLookuper 使用系统解析器
type SystemLookuper struct {
	Resolver *net.Resolver
}

func (s SystemLookuper) LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error) {
	r := s.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	return r.LookupNetIP(ctx, "ip", host)
}

// Options 解析参数
type Options struct {
	IPv6Mode string        // config.IPv6Address 或 config.IPv6Prefix64
	Timeout  time.Duration // 单个域名的解析超时
}

// Resolver 顺序解析域名，单个域名失败不影响其余域名
type Resolver struct {
	lookup Lookuper
	opts   Options
}

// New 创建解析器
func New(l Lookuper, opts Options) *Resolver {
	if opts.IPv6Mode == "" {
		opts.IPv6Mode = config.IPv6Address
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Resolver{lookup: l, opts: opts}
}

// Result 解析结果，IPv4 与 IPv6 各自去重并按数值排序
type Result struct {
	IPv4   []netip.Prefix
	IPv6   []netip.Prefix
	Failed []string
}

// All 返回全部地址，IPv4 在前
func (r Result) All() []netip.Prefix {
	out := make([]netip.Prefix, 0, len(r.IPv4)+len(r.IPv6))
	out = append(out, r.IPv4...)
	return append(out, r.IPv6...)
}

// Empty 没有解析到任何地址
func (r Result) Empty() bool {
	return len(r.IPv4) == 0 && len(r.IPv6) == 0
}

// Resolve 逐个解析域名
func (r *Resolver) Resolve(ctx context.Context, domains []string) Result {
	logger := logging.FromContext(ctx)
	v4 := make(map[netip.Prefix]struct{})
	v6 := make(map[netip.Prefix]struct{})
	var failed []string

	for _, domain := range domains {
		addrs, err := r.lookupOne(ctx, domain)
		if err != nil {
			logger.Warnf(ctx, "解析 %s 出错: %v", domain, err)
			failed = append(failed, domain)
			continue
		}
		for _, addr := range addrs {
			addr = addr.Unmap().WithZone("")
			switch {
			case addr.Is4():
				v4[netip.PrefixFrom(addr, 32)] = struct{}{}
			case addr.Is6():
				v6[r.widen(addr)] = struct{}{}
			}
		}
		logger.Debug(ctx, "域名解析完成", "domain", domain, "addresses", len(addrs))
	}

	return Result{
		IPv4:   sortedKeys(v4),
		IPv6:   sortedKeys(v6),
		Failed: failed,
	}
}

func (r *Resolver) lookupOne(ctx context.Context, domain string) ([]netip.Addr, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()
	return r.lookup.LookupNetIP(ctx, domain)
}

func (r *Resolver) widen(addr netip.Addr) netip.Prefix {
	if r.opts.IPv6Mode == config.IPv6Prefix64 {
		p, err := addr.Prefix(64)
		if err == nil {
			return p
		}
	}
	return netip.PrefixFrom(addr, 128)
}

// Compare 规范排序: 按地址数值（IPv4 在 IPv6 之前），再按前缀长度
func Compare(a, b netip.Prefix) int {
	if c := a.Addr().Compare(b.Addr()); c != 0 {
		return c
	}
	return cmp.Compare(a.Bits(), b.Bits())
}

// Sort 原地规范排序
func Sort(ps []netip.Prefix) {
	slices.SortFunc(ps, Compare)
}

// Format 单个地址输出为地址字面量，网段输出为 CIDR
func Format(p netip.Prefix) string {
	if p.IsSingleIP() {
		return p.Addr().String()
	}
	return p.String()
}

// Strings 批量格式化
func Strings(ps []netip.Prefix) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, Format(p))
	}
	return out
}

func sortedKeys(m map[netip.Prefix]struct{}) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	Sort(out)
	return out
}
