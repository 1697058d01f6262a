package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"cloudflare-waf-sync/internal/client"
	"cloudflare-waf-sync/internal/config"
)

var errTokenCheck = errors.New("Cloudflare API Token 检查未通过")

// newCmdCheckToken 校验 Token 是否可以访问配置的 Zone
func newCmdCheckToken() *cobra.Command {
	return &cobra.Command{
		Use:   "check-token",
		Short: "检查 Cloudflare API Token 与 Zone 权限",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Cloudflare.APIToken == "" || cfg.Cloudflare.ZoneID == "" {
				return fmt.Errorf("%w: cloudflare.api_token 与 cloudflare.zone_id 不能为空", config.ErrInvalid)
			}

			out := cmd.OutOrStdout()
			zone, err := client.NewFirewallClient(&cfg.Cloudflare).GetZone(cmd.Context())
			var apiErr *client.APIError
			switch {
			case err == nil:
				fmt.Fprintf(out, "✅ Token有效，且具有Zone访问权限：%s\n", zone.Name)
				return nil
			case errors.Is(err, client.ErrUnauthorized):
				fmt.Fprintln(out, "❌ Token无效（认证失败）")
			case errors.Is(err, client.ErrForbidden):
				fmt.Fprintln(out, "❌ Token无权限访问这个Zone（权限不足）")
			case errors.Is(err, client.ErrTransport):
				fmt.Fprintf(out, "⚠️ 请求失败：%v\n", err)
			case errors.As(err, &apiErr) && apiErr.Status/100 == 2:
				fmt.Fprintf(out, "❌ Token存在，但查询失败：%s\n", apiErr.Body)
			case errors.As(err, &apiErr):
				fmt.Fprintf(out, "⚠️ 未知错误：HTTP %d，返回：%s\n", apiErr.Status, apiErr.Body)
			default:
				fmt.Fprintf(out, "⚠️ 请求失败：%v\n", err)
			}
			return errTokenCheck
		},
	}
}
