// Package crontab 通过用户 crontab 安装或移除周期触发
package crontab

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/robfig/cron/v3"
)

// Marker 标记由本工具写入的 crontab 行
const Marker = "# cf-waf-sync"

// Trigger 周期触发器
type Trigger interface {
	Install(ctx context.Context) error
	Remove(ctx context.Context) error
	Installed(ctx context.Context) (bool, error)
}

// RunFunc 执行外部命令，stdin 可以为 nil，返回标准输出
type RunFunc func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)

// Crontab 基于 crontab(1) 的触发器
type Crontab struct {
	schedule string
	command  string
	run      RunFunc
}

var _ Trigger = (*Crontab)(nil)

// New 创建触发器，schedule 为标准 5 段 cron 表达式
func New(schedule, command string) (*Crontab, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("无效的cron表达式 %q: %w", schedule, err)
	}
	if strings.ContainsAny(command, "\n%") {
		return nil, fmt.Errorf("命令中不能包含换行或 %%: %q", command)
	}
	return &Crontab{schedule: schedule, command: command, run: execRun}, nil
}

// WithRunner 替换命令执行方式
func (c *Crontab) WithRunner(run RunFunc) *Crontab {
	c.run = run
	return c
}

// Entry 写入 crontab 的完整行
func (c *Crontab) Entry() string {
	return fmt.Sprintf("%s %s %s", c.schedule, c.command, Marker)
}

// Install 写入触发行，已存在的旧行会被替换
func (c *Crontab) Install(ctx context.Context) error {
	lines, err := c.read(ctx)
	if err != nil {
		return err
	}
	lines = append(without(lines), c.Entry())
	return c.write(ctx, lines)
}

// Remove 删除触发行，不存在时不做任何修改
func (c *Crontab) Remove(ctx context.Context) error {
	lines, err := c.read(ctx)
	if err != nil {
		return err
	}
	kept := without(lines)
	if len(kept) == len(lines) {
		return nil
	}
	return c.write(ctx, kept)
}

// Installed 是否存在触发行
func (c *Crontab) Installed(ctx context.Context) (bool, error) {
	lines, err := c.read(ctx)
	if err != nil {
		return false, err
	}
	return len(without(lines)) != len(lines), nil
}

func (c *Crontab) read(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, nil, "crontab", "-l")
	if err != nil {
		// 用户还没有 crontab
		if strings.Contains(err.Error(), "no crontab for") {
			return nil, nil
		}
		return nil, fmt.Errorf("读取crontab失败: %w", err)
	}
	var lines []string
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (c *Crontab) write(ctx context.Context, lines []string) error {
	var content string
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	if _, err := c.run(ctx, []byte(content), "crontab", "-"); err != nil {
		return fmt.Errorf("写入crontab失败: %w", err)
	}
	return nil
}

func without(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasSuffix(strings.TrimSpace(line), Marker) {
			continue
		}
		out = append(out, line)
	}
	return out
}

// Command 生成触发时执行的命令行
func Command(binary, configPath string) string {
	cmd := quote(binary) + " sync"
	if configPath != "" {
		cmd += " --config " + quote(configPath)
	}
	return cmd + " >/dev/null 2>&1"
}

func quote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t'\"\\$`;&|<>()*?[]#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func execRun(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, err
		}
		return nil, errors.Join(err, errors.New(msg))
	}
	return stdout.Bytes(), nil
}
