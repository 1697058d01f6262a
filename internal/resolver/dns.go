package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
)

// ResolvConf 未指定上游时读取的系统配置
const ResolvConf = "/etc/resolv.conf"

// ErrNoAddress 域名存在但没有 A/AAAA 记录
var ErrNoAddress = errors.New("no addresses")

// DNSLookuper 直接向指定的 DNS 服务器查询 A 与 AAAA
type DNSLookuper struct {
	servers []string
	client  *mdns.Client
}

// NewDNSLookuper 创建查询器；servers 为空时使用 /etc/resolv.conf 中的服务器
func NewDNSLookuper(servers []string, timeout time.Duration) (*DNSLookuper, error) {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	var addrs []string
	if len(servers) == 0 {
		cfg, err := mdns.ClientConfigFromFile(ResolvConf)
		if err != nil {
			return nil, fmt.Errorf("读取 %s 失败: %w", ResolvConf, err)
		}
		for _, s := range cfg.Servers {
			addrs = append(addrs, net.JoinHostPort(s, cfg.Port))
		}
	} else {
		for _, s := range servers {
			addrs = append(addrs, withPort(s))
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("没有可用的 DNS 服务器")
	}
	return &DNSLookuper{
		servers: addrs,
		client:  &mdns.Client{Net: "udp", Timeout: timeout},
	}, nil
}

// Servers 实际使用的服务器地址
func (d *DNSLookuper) Servers() []string {
	return append([]string(nil), d.servers...)
}

func (d *DNSLookuper) LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error) {
	var (
		out  []netip.Addr
		errs []error
	)
	for _, qtype := range []uint16{mdns.TypeA, mdns.TypeAAAA} {
		addrs, err := d.query(ctx, host, qtype)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", mdns.TypeToString[qtype], err))
			continue
		}
		out = append(out, addrs...)
	}
	if len(errs) == 2 {
		return nil, errors.Join(errs...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", host, ErrNoAddress)
	}
	return out, nil
}

// query 依次尝试各个服务器，返回第一个成功的应答
func (d *DNSLookuper) query(ctx context.Context, host string, qtype uint16) ([]netip.Addr, error) {
	m := new(mdns.Msg)
	m.SetQuestion(mdns.Fqdn(host), qtype)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range d.servers {
		resp, _, err := d.client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Truncated {
			tcp := &mdns.Client{Net: "tcp", Timeout: d.client.Timeout}
			if r, _, terr := tcp.ExchangeContext(ctx, m, server); terr == nil {
				resp = r
			}
		}
		switch resp.Rcode {
		case mdns.RcodeSuccess:
			return answers(resp, qtype), nil
		case mdns.RcodeNameError:
			return nil, fmt.Errorf("%s: NXDOMAIN", host)
		default:
			lastErr = fmt.Errorf("%s: %s", server, mdns.RcodeToString[resp.Rcode])
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no upstream")
	}
	return nil, lastErr
}

func answers(resp *mdns.Msg, qtype uint16) []netip.Addr {
	var out []netip.Addr
	for _, rr := range resp.Answer {
		var ip net.IP
		switch v := rr.(type) {
		case *mdns.A:
			if qtype == mdns.TypeA {
				ip = v.A
			}
		case *mdns.AAAA:
			if qtype == mdns.TypeAAAA {
				ip = v.AAAA
			}
		}
		if ip == nil {
			continue
		}
		if addr, ok := netip.AddrFromSlice(ip); ok {
			out = append(out, addr.Unmap())
		}
	}
	return out
}

func withPort(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(strings.Trim(server, "[]"), "53")
}

// NewLookuper 配置了 nameservers 时直接查询上游，否则使用系统解析器
func NewLookuper(nameservers []string, timeout time.Duration) (Lookuper, error) {
	if len(nameservers) == 0 {
		return SystemLookuper{}, nil
	}
	return NewDNSLookuper(nameservers, timeout)
}
