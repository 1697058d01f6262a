package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newCmdVersion 显示版本信息
func newCmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本信息",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cf-waf-sync %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
