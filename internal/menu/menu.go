// Package menu 交互式管理菜单
package menu

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
	"gopkg.in/yaml.v2"

	"cloudflare-waf-sync/internal/config"
	"cloudflare-waf-sync/internal/crontab"
)

const banner = `
Cloudflare WAF自动同步 - 管理菜单
1) 修改API和配置信息
2) 添加同步域名
3) 删除同步域名
4) 安装定时任务
5) 删除定时任务
6) 手动执行同步
7) 停止同步任务
8) 卸载全部文件
9) 退出
`

// Options 菜单依赖
type Options struct {
	In         io.Reader
	Out        io.Writer
	ConfigPath string
	// Trigger 按当前配置创建周期触发器
	Trigger func(cfg *config.Config) (crontab.Trigger, error)
	// Sync 立即执行一次同步
	Sync func(ctx context.Context) error
	// Uninstall 删除触发器与配置
	Uninstall func(ctx context.Context) error
}

// Menu 交互式菜单
type Menu struct {
	opts   Options
	in     *bufio.Reader
	out    io.Writer
	secret func() (string, error)
}

// New 创建菜单；In 为终端时 Token 输入不回显
func New(opts Options) *Menu {
	m := &Menu{
		opts: opts,
		in:   bufio.NewReader(opts.In),
		out:  opts.Out,
	}
	if f, ok := opts.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		m.secret = func() (string, error) {
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(m.out)
			return strings.TrimSpace(string(b)), err
		}
	} else {
		m.secret = m.readLine
	}
	return m
}

// Run 循环读取选项，直到选择退出、卸载完成或输入结束
func (m *Menu) Run(ctx context.Context) error {
	for {
		fmt.Fprint(m.out, banner)
		choice, err := m.prompt("请输入选项: ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		switch choice {
		case "1":
			err = m.editConfig()
		case "2":
			err = m.addDomain()
		case "3":
			err = m.removeDomain()
		case "4":
			err = m.installCron(ctx)
		case "5":
			err = m.removeCron(ctx, "✅ 定时任务已删除。")
		case "6":
			err = m.opts.Sync(ctx)
		case "7":
			err = m.removeCron(ctx, "✅ 已停止定时同步任务。")
		case "8":
			done, uerr := m.uninstall(ctx)
			if done || uerr != nil {
				return uerr
			}
		case "9":
			return nil
		default:
			fmt.Fprintln(m.out, "无效输入，请重新选择。")
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(m.out, "❌ %v\n", err)
		}
	}
}

func (m *Menu) editConfig() error {
	cfg, err := config.LoadOrCreate(m.opts.ConfigPath)
	if err != nil {
		return err
	}

	current, err := yaml.Marshal(cfg.Masked())
	if err != nil {
		return err
	}
	fmt.Fprintf(m.out, "当前配置:\n%s\n", current)
	fmt.Fprintln(m.out, "直接回车保留当前值。")

	fields := []struct {
		label  string
		key    string
		secret bool
	}{
		{"CF API Token", "cloudflare.api_token", true},
		{"Zone ID", "cloudflare.zone_id", false},
		{"规则 ID (rule_id)", "cloudflare.rule_id", false},
		{"目标主机名 (hostname)", "sync.hostname", false},
		{"Telegram Bot Token", "telegram.bot_token", true},
		{"Telegram Chat ID", "telegram.chat_id", false},
	}
	for _, f := range fields {
		var v string
		if f.secret {
			fmt.Fprintf(m.out, "请输入新的%s: ", f.label)
			v, err = m.secret()
		} else {
			v, err = m.prompt(fmt.Sprintf("请输入新的%s: ", f.label))
		}
		if err != nil {
			return err
		}
		if v == "" {
			continue
		}
		if err := cfg.Set(f.key, v); err != nil {
			return err
		}
	}

	if err := config.Save(m.opts.ConfigPath, cfg); err != nil {
		return err
	}
	fmt.Fprintln(m.out, "配置已保存。")
	return nil
}

func (m *Menu) addDomain() error {
	cfg, err := config.LoadOrCreate(m.opts.ConfigPath)
	if err != nil {
		return err
	}
	domain, err := m.prompt("请输入要添加的域名: ")
	if err != nil {
		return err
	}
	if _, err := cfg.AddDomain(domain); err != nil {
		fmt.Fprintln(m.out, "域名已存在或输入无效。")
		return nil
	}
	if err := config.Save(m.opts.ConfigPath, cfg); err != nil {
		return err
	}
	fmt.Fprintln(m.out, "域名已添加。")
	return nil
}

func (m *Menu) removeDomain() error {
	cfg, err := config.LoadOrCreate(m.opts.ConfigPath)
	if err != nil {
		return err
	}
	domain, err := m.prompt("请输入要删除的域名: ")
	if err != nil {
		return err
	}
	if _, err := cfg.RemoveDomain(domain); err != nil {
		fmt.Fprintln(m.out, "域名未找到。")
		return nil
	}
	if err := config.Save(m.opts.ConfigPath, cfg); err != nil {
		return err
	}
	fmt.Fprintln(m.out, "域名已删除。")
	return nil
}

func (m *Menu) trigger() (crontab.Trigger, *config.Config, error) {
	cfg, err := config.LoadOrCreate(m.opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	t, err := m.opts.Trigger(cfg)
	return t, cfg, err
}

func (m *Menu) installCron(ctx context.Context) error {
	t, cfg, err := m.trigger()
	if err != nil {
		return err
	}
	if err := t.Install(ctx); err != nil {
		return err
	}
	fmt.Fprintf(m.out, "✅ 定时任务已添加（%s）。\n", cfg.Scheduler.Cron)
	return nil
}

func (m *Menu) removeCron(ctx context.Context, done string) error {
	t, _, err := m.trigger()
	if err != nil {
		return err
	}
	if err := t.Remove(ctx); err != nil {
		return err
	}
	fmt.Fprintln(m.out, done)
	return nil
}

// uninstall 返回 true 表示已卸载，菜单应退出
func (m *Menu) uninstall(ctx context.Context) (bool, error) {
	confirm, err := m.prompt("确认要卸载定时任务和全部配置吗？(yes/no): ")
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	if strings.ToLower(confirm) != "yes" {
		fmt.Fprintln(m.out, "取消卸载。")
		return errors.Is(err, io.EOF), nil
	}
	if err := m.opts.Uninstall(ctx); err != nil {
		return false, err
	}
	fmt.Fprintln(m.out, "✅ 卸载完成，系统已清理干净。")
	return true, nil
}

func (m *Menu) prompt(label string) (string, error) {
	fmt.Fprint(m.out, label)
	return m.readLine()
}

// readLine 读取一行；最后一行没有换行时同样返回内容
func (m *Menu) readLine() (string, error) {
	line, err := m.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return strings.TrimSpace(line), err
	}
	return strings.TrimSpace(line), nil
}
