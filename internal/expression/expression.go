// Package expression 生成 Cloudflare 规则语言的拦截表达式：
// 访问目标主机且来源地址不在允许集合内的请求被拦截。
package expression

import (
	"net/netip"
	"slices"
	"strings"

	"cloudflare-waf-sync/internal/config"
	"cloudflare-waf-sync/internal/resolver"
)

// MaxLength Cloudflare 对单条表达式的长度限制
const MaxLength = 4096

// Expression 生成的表达式及其元信息
type Expression struct {
	Text      string
	Hostname  string
	Addresses int
	Empty     bool // 允许集合为空，表达式会拦截该主机的全部流量
}

func (e Expression) String() string {
	return e.Text
}

// TooLong 超过远端长度限制
func (e Expression) TooLong() bool {
	return len(e.Text) > MaxLength
}

// Build 生成表达式；输入先规范排序并去重，因此相同集合总是得到相同文本
//
// encoding 为 config.EncodingSet 时 IPv4 与 IPv6 写入同一个集合；
// 为 config.EncodingSplit 时 IPv6 逐条生成子句并以 or 连接。
func Build(hostname string, prefixes []netip.Prefix, encoding string) Expression {
	ps := slices.Clone(prefixes)
	resolver.Sort(ps)
	ps = slices.Compact(ps)

	hostClause := "http.host eq " + Quote(hostname)
	expr := Expression{Hostname: hostname, Addresses: len(ps)}

	if len(ps) == 0 {
		expr.Empty = true
		expr.Text = "(" + hostClause + ")"
		return expr
	}

	var allow string
	if encoding == config.EncodingSplit {
		allow = splitClause(ps)
	} else {
		allow = "ip.src in " + set(ps)
	}
	expr.Text = "(" + hostClause + " and not " + allow + ")"
	return expr
}

func splitClause(ps []netip.Prefix) string {
	var v4 []netip.Prefix
	var clauses []string
	for _, p := range ps {
		if p.Addr().Is4() {
			v4 = append(v4, p)
		}
	}
	if len(v4) > 0 {
		clauses = append(clauses, "ip.src in "+set(v4))
	}
	for _, p := range ps {
		if p.Addr().Is4() {
			continue
		}
		if p.IsSingleIP() {
			clauses = append(clauses, "ip.src eq "+p.Addr().String())
		} else {
			clauses = append(clauses, "ip.src in {"+p.String()+"}")
		}
	}
	if len(clauses) == 1 {
		return clauses[0]
	}
	return "(" + strings.Join(clauses, " or ") + ")"
}

func set(ps []netip.Prefix) string {
	return "{" + strings.Join(resolver.Strings(ps), " ") + "}"
}

// Quote 输出带双引号的字符串字面量，转义反斜杠与双引号
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\', '"':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}
