package main

import (
	"context"

	"github.com/spf13/cobra"

	"cloudflare-waf-sync/internal/config"
	"cloudflare-waf-sync/internal/crontab"
	"cloudflare-waf-sync/internal/menu"
)

// newCmdMenu 交互式管理菜单
func newCmdMenu() *cobra.Command {
	return &cobra.Command{
		Use:   "menu",
		Short: "交互式管理菜单",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(cmd)
			base := cmd.Context()

			m := menu.New(menu.Options{
				In:         cmd.InOrStdin(),
				Out:        cmd.OutOrStdout(),
				ConfigPath: path,
				Trigger: func(cfg *config.Config) (crontab.Trigger, error) {
					return newTrigger(cfg, path)
				},
				Sync: func(context.Context) error {
					// runSync 会替换命令的 logger，结束后恢复
					defer cmd.SetContext(base)
					return runSync(cmd, false)
				},
				Uninstall: func(ctx context.Context) error {
					return uninstall(ctx, cmd.OutOrStdout(), path)
				},
			})
			return m.Run(base)
		},
	}
}
