package config

import (
	"errors"
	"reflect"
	"testing"
)

func TestAddRemoveDomain(t *testing.T) {
	cfg := Default()

	if d, err := cfg.AddDomain(" A.Example. "); err != nil || d != "a.example" {
		t.Fatalf("AddDomain() = %q, %v", d, err)
	}
	if _, err := cfg.AddDomain("a.example"); !errors.Is(err, ErrDomainExists) {
		t.Errorf("duplicate AddDomain() error = %v, want ErrDomainExists", err)
	}
	if d, err := cfg.AddDomain("bücher.example"); err != nil || d != "xn--bcher-kva.example" {
		t.Errorf("AddDomain(idn) = %q, %v", d, err)
	}
	if _, err := cfg.AddDomain("   "); err == nil {
		t.Error("empty domain should be rejected")
	}
	if _, err := cfg.AddDomain("c.example"); err != nil {
		t.Fatalf("AddDomain() error = %v", err)
	}

	if _, err := cfg.RemoveDomain("xn--bcher-kva.example"); err != nil {
		t.Fatalf("RemoveDomain() error = %v", err)
	}
	if _, err := cfg.RemoveDomain("missing.example"); !errors.Is(err, ErrDomainNotFound) {
		t.Errorf("RemoveDomain(missing) error = %v, want ErrDomainNotFound", err)
	}

	want := []string{"a.example", "c.example"}
	if !reflect.DeepEqual(cfg.Sync.Domains, want) {
		t.Errorf("Domains = %v, want %v", cfg.Sync.Domains, want)
	}
}

func TestSet(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		check   func(*Config) bool
		wantErr error
	}{
		{
			name:  "token",
			key:   "cloudflare.api_token",
			value: " abc ",
			check: func(c *Config) bool { return c.Cloudflare.APIToken == "abc" },
		},
		{
			name:  "allow_empty",
			key:   "sync.allow_empty",
			value: "true",
			check: func(c *Config) bool { return c.Sync.AllowEmpty },
		},
		{
			name:  "nameservers",
			key:   "resolver.nameservers",
			value: "1.1.1.1, 8.8.8.8:53",
			check: func(c *Config) bool {
				return reflect.DeepEqual(c.Resolver.Nameservers, []string{"1.1.1.1", "8.8.8.8:53"})
			},
		},
		{
			name:    "unknown",
			key:     "cloudflare.secret",
			value:   "x",
			wantErr: ErrUnknownKey,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			err := cfg.Set(tt.key, tt.value)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Set() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			if !tt.check(cfg) {
				t.Errorf("Set(%q, %q) not applied: %+v", tt.key, tt.value, cfg)
			}
		})
	}
}

func TestSet_InvalidValueLeavesConfigUnchanged(t *testing.T) {
	cfg := Default()
	if err := cfg.Set("sync.ipv6_mode", "wide"); err == nil {
		t.Fatal("expected validation error")
	}
	if cfg.Sync.IPv6Mode != IPv6Address {
		t.Errorf("IPv6Mode = %q, want unchanged %q", cfg.Sync.IPv6Mode, IPv6Address)
	}
	if err := cfg.Set("sync.allow_empty", "maybe"); err == nil {
		t.Error("expected bool parse error")
	}
}

func TestMasked(t *testing.T) {
	cfg := Default()
	cfg.Cloudflare.APIToken = "abcdefghijklmnop"
	cfg.Telegram.BotToken = "short"

	m := cfg.Masked()
	if m.Cloudflare.APIToken != "abcd********mnop" {
		t.Errorf("masked token = %q", m.Cloudflare.APIToken)
	}
	if m.Telegram.BotToken != "****" {
		t.Errorf("masked bot token = %q", m.Telegram.BotToken)
	}
	if cfg.Cloudflare.APIToken != "abcdefghijklmnop" {
		t.Error("Masked() must not modify the original")
	}
}

func TestKeysSorted(t *testing.T) {
	keys := Keys()
	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			t.Fatalf("keys not sorted at %d: %q > %q", i, keys[i-1], keys[i])
		}
	}
}
