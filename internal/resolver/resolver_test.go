package resolver

import (
	"context"
	"errors"
	"net/netip"
	"reflect"
	"testing"

	"cloudflare-waf-sync/internal/config"
)

type fakeLookuper struct {
	answers map[string][]string
	calls   []string
}

func (f *fakeLookuper) LookupNetIP(_ context.Context, host string) ([]netip.Addr, error) {
	f.calls = append(f.calls, host)
	raw, ok := f.answers[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	out := make([]netip.Addr, 0, len(raw))
	for _, s := range raw {
		out = append(out, netip.MustParseAddr(s))
	}
	return out, nil
}

func TestResolve(t *testing.T) {
	lookup := &fakeLookuper{answers: map[string][]string{
		"a.example": {"10.0.0.2", "2001:db8::2", "10.0.0.1"},
		"b.example": {"10.0.0.1", "2001:db8::1", "2001:db8:0:1::5"},
		"c.example": {"::ffff:192.0.2.7", "fe80::1%eth0"},
	}}

	tests := []struct {
		name     string
		mode     string
		domains  []string
		wantV4   []string
		wantV6   []string
		wantFail []string
	}{
		{
			name:    "address_mode_dedup_sorted",
			mode:    config.IPv6Address,
			domains: []string{"a.example", "b.example"},
			wantV4:  []string{"10.0.0.1", "10.0.0.2"},
			wantV6:  []string{"2001:db8::1", "2001:db8::2", "2001:db8:0:1::5"},
		},
		{
			name:    "prefix64_mode_collapses_same_network",
			mode:    config.IPv6Prefix64,
			domains: []string{"a.example", "b.example"},
			wantV4:  []string{"10.0.0.1", "10.0.0.2"},
			wantV6:  []string{"2001:db8::/64", "2001:db8:0:1::/64"},
		},
		{
			name:     "unresolvable_host_is_skipped",
			mode:     config.IPv6Address,
			domains:  []string{"missing.example", "a.example"},
			wantV4:   []string{"10.0.0.1", "10.0.0.2"},
			wantV6:   []string{"2001:db8::2"},
			wantFail: []string{"missing.example"},
		},
		{
			name:    "mapped_and_zoned_addresses",
			mode:    config.IPv6Address,
			domains: []string{"c.example"},
			wantV4:  []string{"192.0.2.7"},
			wantV6:  []string{"fe80::1"},
		},
		{
			name:     "nothing_resolves",
			mode:     config.IPv6Address,
			domains:  []string{"missing.example"},
			wantV4:   []string{},
			wantV6:   []string{},
			wantFail: []string{"missing.example"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(lookup, Options{IPv6Mode: tt.mode})
			res := r.Resolve(context.Background(), tt.domains)

			if got := Strings(res.IPv4); !reflect.DeepEqual(got, tt.wantV4) {
				t.Errorf("IPv4 = %v, want %v", got, tt.wantV4)
			}
			if got := Strings(res.IPv6); !reflect.DeepEqual(got, tt.wantV6) {
				t.Errorf("IPv6 = %v, want %v", got, tt.wantV6)
			}
			if !reflect.DeepEqual(res.Failed, tt.wantFail) {
				t.Errorf("Failed = %v, want %v", res.Failed, tt.wantFail)
			}
			if res.Empty() != (len(tt.wantV4)+len(tt.wantV6) == 0) {
				t.Errorf("Empty() = %v", res.Empty())
			}
		})
	}
}

func TestResolve_SequentialOncePerHost(t *testing.T) {
	lookup := &fakeLookuper{answers: map[string][]string{
		"a.example": {"1.2.3.4"},
		"b.example": {"1.2.3.4"},
	}}
	r := New(lookup, Options{})
	res := r.Resolve(context.Background(), []string{"a.example", "b.example"})

	if want := []string{"a.example", "b.example"}; !reflect.DeepEqual(lookup.calls, want) {
		t.Errorf("lookup calls = %v, want %v", lookup.calls, want)
	}
	if got := Strings(res.All()); !reflect.DeepEqual(got, []string{"1.2.3.4"}) {
		t.Errorf("All() = %v", got)
	}
}

func TestResolve_StableAcrossRuns(t *testing.T) {
	lookup := &fakeLookuper{answers: map[string][]string{
		"a.example": {"203.0.113.9", "198.51.100.1", "2001:db8::9", "192.0.2.1"},
	}}
	r := New(lookup, Options{})
	first := Strings(r.Resolve(context.Background(), []string{"a.example"}).All())
	for i := 0; i < 20; i++ {
		got := Strings(r.Resolve(context.Background(), []string{"a.example"}).All())
		if !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d = %v, want %v", i, got, first)
		}
	}
	want := []string{"192.0.2.1", "198.51.100.1", "203.0.113.9", "2001:db8::9"}
	if !reflect.DeepEqual(first, want) {
		t.Errorf("order = %v, want %v", first, want)
	}
}

func TestCompare(t *testing.T) {
	ps := []netip.Prefix{
		netip.MustParsePrefix("2001:db8::/64"),
		netip.MustParsePrefix("10.0.0.10/32"),
		netip.MustParsePrefix("2001:db8::/128"),
		netip.MustParsePrefix("10.0.0.9/32"),
	}
	Sort(ps)
	want := []string{"10.0.0.9", "10.0.0.10", "2001:db8::/64", "2001:db8::"}
	if got := Strings(ps); !reflect.DeepEqual(got, want) {
		t.Errorf("sorted = %v, want %v", got, want)
	}
}
