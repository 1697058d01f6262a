package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	mdns "github.com/miekg/dns"

	"cloudflare-waf-sync/internal/config"
	"cloudflare-waf-sync/internal/crontab"
	"cloudflare-waf-sync/internal/logging"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"CF_API_TOKEN", "CF_ZONE_ID", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", config.PathEnv, LogFormatEnv} {
		t.Setenv(k, "")
	}
}

func run(t *testing.T, stdin string, args ...string) (int, string) {
	t.Helper()
	var out bytes.Buffer
	code := execute(context.Background(), args, strings.NewReader(stdin), &out)
	return code, out.String()
}

// startDNS 本地 DNS 服务器，对 a.example 返回 1.2.3.4
func startDNS(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	handler := mdns.HandlerFunc(func(w mdns.ResponseWriter, r *mdns.Msg) {
		m := new(mdns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		if q.Name != "a.example." {
			m.Rcode = mdns.RcodeNameError
		} else if q.Qtype == mdns.TypeA {
			rr, _ := mdns.NewRR("a.example. 60 IN A 1.2.3.4")
			m.Answer = append(m.Answer, rr)
		}
		_ = w.WriteMsg(m)
	})
	started := make(chan struct{})
	srv := &mdns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("dns server did not start")
	}
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

type cloudflare struct {
	mu     sync.Mutex
	status int
	calls  []string
	bodies map[string]string
}

func startCloudflare(t *testing.T, status int) (*cloudflare, string) {
	t.Helper()
	cf := &cloudflare{status: status, bodies: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cf.mu.Lock()
		defer cf.mu.Unlock()
		body, _ := io.ReadAll(r.Body)
		key := r.Method + " " + r.URL.Path
		cf.calls = append(cf.calls, key)
		cf.bodies[key] = string(body)
		if cf.status != http.StatusOK {
			w.WriteHeader(cf.status)
			_, _ = io.WriteString(w, `{"success":false,"errors":[{"code":10000,"message":"Authentication error"}]}`)
			return
		}
		switch key {
		case "GET /zones/zone1/firewall/rules/rule1":
			_, _ = io.WriteString(w, `{"success":true,"result":{"id":"rule1","filter":{"id":"f1"}}}`)
		case "GET /zones/zone1":
			_, _ = io.WriteString(w, `{"success":true,"result":{"id":"zone1","name":"example.com","status":"active"}}`)
		default:
			_, _ = io.WriteString(w, `{"success":true,"result":{}}`)
		}
	}))
	t.Cleanup(srv.Close)
	return cf, srv.URL
}

func writeConfig(t *testing.T, apiURL, dnsAddr string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "etc", "config.yaml")
	cfg := config.Default()
	cfg.Cloudflare.APIToken = "tok"
	cfg.Cloudflare.ZoneID = "zone1"
	cfg.Cloudflare.RuleID = "rule1"
	cfg.Cloudflare.APIBaseURL = apiURL
	cfg.Sync.Hostname = "app.example.com"
	cfg.Sync.Domains = []string{"a.example", "missing.example"}
	cfg.Resolver.Nameservers = []string{dnsAddr}
	cfg.Resolver.Timeout = "1s"
	if err := config.Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecute_MissingConfig(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nope", "config.yaml")

	code, out := run(t, "", "--config", path)

	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(out, "configuration not found") {
		t.Errorf("output = %q", out)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("sync must not bootstrap a config file")
	}
}

func TestExecute_MissingConfigIsLoggedToFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	code, out := run(t, "", "--config", path)
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if strings.Count(out, "configuration not found") != 1 {
		t.Errorf("stdout = %q", out)
	}

	logFile, err := os.ReadFile(filepath.Join(dir, "sync.log"))
	if err != nil {
		t.Fatalf("log file: %v", err)
	}
	if !strings.HasPrefix(string(logFile), "[") || !strings.Contains(string(logFile), "❌ 配置文件未找到，无法运行！") {
		t.Errorf("log file = %q", logFile)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("sync must not bootstrap a config file")
	}
}

func TestExecute_SyncScenario(t *testing.T) {
	clearEnv(t)
	cf, url := startCloudflare(t, http.StatusOK)
	path := writeConfig(t, url, startDNS(t))

	code, out := run(t, "", "--config", path)

	if code != 0 {
		t.Fatalf("exit code = %d\n%s", code, out)
	}
	var puts []string
	for _, c := range cf.calls {
		if strings.HasPrefix(c, "PUT ") {
			puts = append(puts, c)
		}
	}
	want := []string{"PUT /zones/zone1/filters/f1", "PUT /zones/zone1/firewall/rules/rule1"}
	if strings.Join(puts, ",") != strings.Join(want, ",") {
		t.Errorf("PUT calls = %v, want %v", puts, want)
	}
	var filter map[string]any
	_ = json.Unmarshal([]byte(cf.bodies[want[0]]), &filter)
	if filter["expression"] != `(http.host eq "app.example.com" and not ip.src in {1.2.3.4})` {
		t.Errorf("expression = %v", filter["expression"])
	}
	if !strings.Contains(out, "✅ Cloudflare规则已成功更新！") {
		t.Errorf("success line missing:\n%s", out)
	}
	if !strings.Contains(out, "解析 missing.example 出错") {
		t.Errorf("resolution failure not logged:\n%s", out)
	}

	logFile, err := os.ReadFile(filepath.Join(filepath.Dir(path), "sync.log"))
	if err != nil {
		t.Fatalf("log file: %v", err)
	}
	if !strings.HasPrefix(string(logFile), "[") || !strings.Contains(string(logFile), "✅ Cloudflare规则已成功更新！") {
		t.Errorf("log file = %s", logFile)
	}
}

func TestExecute_SyncJSON(t *testing.T) {
	clearEnv(t)
	_, url := startCloudflare(t, http.StatusOK)
	path := writeConfig(t, url, startDNS(t))

	code, out := run(t, "", "--config", path, "--log-format", "json", "sync", "--json")
	if code != 0 {
		t.Fatalf("exit code = %d\n%s", code, out)
	}
	if !strings.Contains(out, `"outcome": "success"`) || !strings.Contains(out, `"filter_id": "f1"`) {
		t.Errorf("output = %s", out)
	}
}

func TestExecute_RemoteFailureExitsZero(t *testing.T) {
	clearEnv(t)
	cf, url := startCloudflare(t, http.StatusForbidden)
	path := writeConfig(t, url, startDNS(t))

	code, out := run(t, "", "--config", path, "sync")

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if len(cf.calls) != 1 {
		t.Errorf("calls = %v, want only the rule lookup", cf.calls)
	}
	if !strings.Contains(out, "Zone:Firewall Services:Edit") {
		t.Errorf("output = %s", out)
	}
}

func TestExecute_InvalidConfigExitsOne(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("cloudflare:\n  zone_id: z\n"), 0600); err != nil {
		t.Fatal(err)
	}
	code, out := run(t, "", "--config", path)
	if code != 1 || !strings.Contains(out, "api_token") {
		t.Errorf("code = %d, output = %s", code, out)
	}
	if logFile, _ := os.ReadFile(filepath.Join(filepath.Dir(path), "sync.log")); !strings.Contains(string(logFile), "api_token") {
		t.Errorf("validation error not in log file: %q", logFile)
	}

	if err := os.WriteFile(path, []byte("sync: [broken"), 0600); err != nil {
		t.Fatal(err)
	}
	if code, _ := run(t, "", "--config", path); code != 1 {
		t.Errorf("malformed config exit code = %d, want 1", code)
	}
}

func TestExecute_ConfigAndDomainCommands(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	steps := [][]string{
		{"config", "set", "cloudflare.api_token", "abcdefghijklmnop"},
		{"config", "set", "sync.hostname", "app.example.com"},
		{"domain", "add", "B.example."},
		{"domain", "add", "a.example"},
	}
	for _, args := range steps {
		if code, out := run(t, "", append([]string{"--config", path}, args...)...); code != 0 {
			t.Fatalf("%v: exit %d\n%s", args, code, out)
		}
	}

	if code, _ := run(t, "", "--config", path, "domain", "add", "a.example"); code != 1 {
		t.Error("duplicate domain should fail")
	}
	if code, _ := run(t, "", "--config", path, "config", "set", "no.such.key", "x"); code != 1 {
		t.Error("unknown key should fail")
	}

	_, out := run(t, "", "--config", path, "domain", "list")
	if out != "b.example\na.example\n" {
		t.Errorf("domain list = %q", out)
	}

	if code, _ := run(t, "", "--config", path, "domain", "remove", "b.example"); code != 0 {
		t.Error("remove failed")
	}

	_, out = run(t, "", "--config", path, "config", "show")
	if strings.Contains(out, "abcdefghijklmnop") || !strings.Contains(out, "abcd********mnop") {
		t.Errorf("config show = %s", out)
	}
	if !strings.Contains(out, "- a.example") || strings.Contains(out, "b.example") {
		t.Errorf("config show domains = %s", out)
	}
}

func TestExecute_ConfigInit(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "cf", "config.yaml")

	if code, out := run(t, "", "--config", path, "config", "init"); code != 0 {
		t.Fatalf("init exit %d\n%s", code, out)
	}
	if code, _ := run(t, "", "--config", path, "config", "init"); code != 1 {
		t.Error("init over existing file without --force should fail")
	}
	if code, _ := run(t, "", "--config", path, "config", "init", "--force"); code != 0 {
		t.Error("init --force failed")
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
	if cfg.Sync.Hostname != "app.example.com" || cfg.Scheduler.Cron != "*/5 * * * *" {
		t.Errorf("sample config = %+v", cfg)
	}
}

func TestExecute_CheckToken(t *testing.T) {
	clearEnv(t)

	_, url := startCloudflare(t, http.StatusOK)
	path := writeConfig(t, url, "127.0.0.1:53")
	code, out := run(t, "", "--config", path, "check-token")
	if code != 0 || !strings.Contains(out, "✅ Token有效，且具有Zone访问权限：example.com") {
		t.Errorf("code = %d, output = %s", code, out)
	}

	_, url = startCloudflare(t, http.StatusUnauthorized)
	path = writeConfig(t, url, "127.0.0.1:53")
	code, out = run(t, "", "--config", path, "check-token")
	if code != 1 || !strings.Contains(out, "❌ Token无效（认证失败）") {
		t.Errorf("code = %d, output = %s", code, out)
	}

	_, url = startCloudflare(t, http.StatusForbidden)
	path = writeConfig(t, url, "127.0.0.1:53")
	_, out = run(t, "", "--config", path, "check-token")
	if !strings.Contains(out, "权限不足") {
		t.Errorf("output = %s", out)
	}
}

type fakeTrigger struct{ installed bool }

func (f *fakeTrigger) Install(context.Context) error { f.installed = true; return nil }

func (f *fakeTrigger) Remove(context.Context) error { f.installed = false; return nil }

func (f *fakeTrigger) Installed(context.Context) (bool, error) { return f.installed, nil }

func withFakeTrigger(t *testing.T) *fakeTrigger {
	t.Helper()
	ft := &fakeTrigger{}
	orig := newTrigger
	newTrigger = func(*config.Config, string) (crontab.Trigger, error) { return ft, nil }
	t.Cleanup(func() { newTrigger = orig })
	return ft
}

func TestExecute_Cron(t *testing.T) {
	clearEnv(t)
	ft := withFakeTrigger(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	if code, out := run(t, "", "--config", path, "cron", "install"); code != 0 || !ft.installed {
		t.Fatalf("install: code %d\n%s", code, out)
	}
	if _, out := run(t, "", "--config", path, "cron", "status"); !strings.Contains(out, "已安装（*/5 * * * *）") {
		t.Errorf("status = %s", out)
	}
	if code, _ := run(t, "", "--config", path, "cron", "remove"); code != 0 || ft.installed {
		t.Error("remove failed")
	}
	if _, out := run(t, "", "--config", path, "cron", "status"); !strings.Contains(out, "未安装") {
		t.Errorf("status = %s", out)
	}
}

func TestExecute_Uninstall(t *testing.T) {
	clearEnv(t)
	ft := withFakeTrigger(t)
	ft.installed = true
	path := writeConfig(t, "http://127.0.0.1:1", "127.0.0.1:53")
	dir := filepath.Dir(path)
	if err := os.WriteFile(filepath.Join(dir, "sync.log"), []byte("[x] old\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, out := run(t, "no\n", "--config", path, "uninstall"); !strings.Contains(out, "取消卸载。") {
		t.Errorf("output = %s", out)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("config removed despite cancel")
	}

	code, out := run(t, "", "--config", path, "uninstall", "--yes")
	if code != 0 {
		t.Fatalf("exit %d\n%s", code, out)
	}
	if ft.installed {
		t.Error("trigger not removed")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("config dir still present: %v", err)
	}
}

func TestExecute_Menu(t *testing.T) {
	clearEnv(t)
	withFakeTrigger(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	code, out := run(t, "2\na.example\n9\n", "--config", path, "menu")
	if code != 0 || !strings.Contains(out, "域名已添加。") {
		t.Fatalf("code = %d\n%s", code, out)
	}
	cfg, err := config.LoadOrCreate(path)
	if err != nil || len(cfg.Sync.Domains) != 1 {
		t.Errorf("domains = %v, err = %v", cfg.Sync.Domains, err)
	}
}

func TestExecute_Version(t *testing.T) {
	code, out := run(t, "", "version")
	if code != 0 || !strings.HasPrefix(out, "cf-waf-sync dev") {
		t.Errorf("code = %d, output = %q", code, out)
	}
}

func TestExecute_UnknownCommand(t *testing.T) {
	code, out := run(t, "", "frobnicate")
	if code != 1 || out == "" {
		t.Errorf("code = %d, output = %q", code, out)
	}
}

func TestRunDaemon_SignalTriggersSync(t *testing.T) {
	clearEnv(t)
	cf, url := startCloudflare(t, http.StatusOK)
	path := writeConfig(t, url, startDNS(t))
	textfile := filepath.Join(filepath.Dir(path), "metrics", "cf.prom")
	if code, out := run(t, "", "--config", path, "config", "set", "metrics.textfile", textfile); code != 0 {
		t.Fatalf("config set: %s", out)
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Scheduler.Cron = "0 0 1 1 *"
	cfg.Scheduler.RunOnStart = false
	cfg.Scheduler.Listen = "none"

	var logs bytes.Buffer
	l, _ := logging.NewWithWriter("human", slog.LevelInfo, &syncWriter{w: &logs})
	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), l))
	defer cancel()

	trigger := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() { done <- runDaemon(ctx, cfg, path, trigger) }()

	trigger <- syscall.SIGHUP

	deadline := time.After(5 * time.Second)
	for cf.puts() < 2 {
		select {
		case <-deadline:
			t.Fatalf("no sync after signal, calls = %v", cf.snapshot())
		case <-time.After(10 * time.Millisecond):
		}
	}

	// 指标文件在同步结束后写入
	for {
		byt, _ := os.ReadFile(textfile)
		if strings.Contains(string(byt), `cf_waf_sync_runs_total{outcome="success"} 1`) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("textfile = %s", byt)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("runDaemon() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runDaemon did not return after cancel")
	}
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (cf *cloudflare) snapshot() []string {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	return append([]string(nil), cf.calls...)
}

func (cf *cloudflare) puts() int {
	n := 0
	for _, c := range cf.snapshot() {
		if strings.HasPrefix(c, "PUT ") {
			n++
		}
	}
	return n
}
