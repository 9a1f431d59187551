package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pivotaltoshortcut/api"
	"pivotaltoshortcut/utils"
)

func main() {
	utils.Exit(newRootCmd().Execute())
}

func newRootCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "auth_check",
		Short: "Shortcut認証確認ツール",
		Long: `このツールはShortcut APIの認証情報が正しく設定されているかを確認します。
認証が成功すれば、他のツールも正常に動作する可能性が高いです。

環境変数:
  SHORTCUT_API_TOKEN  Shortcut APIトークン (必須)
  SHORTCUT_API_URL    APIのURL (デフォルト: https://api.app.shortcut.com/api/v3)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := utils.Bootstrap(debug)
			if err != nil {
				return err
			}
			if err := utils.RequireToken(cfg); err != nil {
				return err
			}

			client, err := api.NewShortcutClient(cfg, utils.Component("shortcut_api"))
			if err != nil {
				return utils.WithCode(utils.ExitValidation, err)
			}

			utils.LogInfo("Shortcut APIの認証を確認しています...")
			member, err := client.CheckAuth(cmd.Context())
			if err != nil {
				utils.LogError("認証情報を確認してください。")
				return api.WithExitCode(err)
			}

			utils.LogInfo("Shortcut認証成功！ 接続先: %s", cfg.APIURL)
			fmt.Fprintf(cmd.OutOrStdout(), "%s (@%s) として認証されました\n", member.Name, member.MentionName)
			return nil
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "デバッグログを出力する")
	return cmd
}
