package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cloudflare-waf-sync/internal/config"
)

// newCmdDomain 管理需要解析的域名
func newCmdDomain() *cobra.Command {
	c := &cobra.Command{
		Use:   "domain",
		Short: "管理同步域名",
	}
	c.AddCommand(&cobra.Command{
		Use:   "add DOMAIN",
		Short: "添加同步域名",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editDomains(cmd, func(cfg *config.Config) (string, error) { return cfg.AddDomain(args[0]) }, "域名已添加")
		},
	})
	c.AddCommand(&cobra.Command{
		Use:     "remove DOMAIN",
		Aliases: []string{"rm"},
		Short:   "删除同步域名",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editDomains(cmd, func(cfg *config.Config) (string, error) { return cfg.RemoveDomain(args[0]) }, "域名已删除")
		},
	})
	c.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "列出同步域名",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			for _, d := range cfg.Sync.Domains {
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}
			return nil
		},
	})
	return c
}

func editDomains(cmd *cobra.Command, edit func(cfg *config.Config) (string, error), done string) error {
	path := configPath(cmd)
	cfg, err := config.LoadOrCreate(path)
	if err != nil {
		return err
	}
	domain, err := edit(cfg)
	if err != nil {
		return err
	}
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", done, domain)
	return nil
}
