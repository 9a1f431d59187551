package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"pivotaltoshortcut/api"
	"pivotaltoshortcut/services"
	"pivotaltoshortcut/utils"
)

func main() {
	utils.Exit(newRootCmd().Execute())
}

type commentOptions struct {
	apply bool
	debug bool
}

func newRootCmd() *cobra.Command {
	opts := &commentOptions{}
	cmd := &cobra.Command{
		Use:   "external_id_comment",
		Short: "インポート済みストーリーへの Pivotal Tracker Id コメントの追加・削除",
		Long: `SHORTCUT_GROUP_ID のストーリーに "Pivotal Tracker Id <id>" コメントを追加、または削除します。
進捗は DATA_DIR/story_external_ids.csv に記録され、再実行しても成功済みの行は処理されません。`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVar(&opts.apply, "apply", false, "実際にコメントを追加・削除する（既定はドライラン）")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "デバッグログを出力する")

	cmd.AddCommand(newAddCmd(opts))
	cmd.AddCommand(newDeleteCmd(opts))
	return cmd
}

func newAddCmd(opts *commentOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add",
		Short: "外部IDコメントを追加する",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommenter(cmd.Context(), opts, "追加", (*services.ExternalIDCommenter).Add)
		},
	}
}

func newDeleteCmd(opts *commentOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "追加した外部IDコメントを削除する",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommenter(cmd.Context(), opts, "削除", (*services.ExternalIDCommenter).Delete)
		},
	}
}

type commenterFunc func(*services.ExternalIDCommenter, context.Context, bool) (*services.ExternalIDSummary, error)

func runCommenter(ctx context.Context, opts *commentOptions, action string, run commenterFunc) error {
	cfg, err := utils.Bootstrap(opts.debug)
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

	log := utils.Component("external_id_comment")
	commenter := services.NewExternalIDCommenter(client, cfg.GroupID, cfg.DataDir, log)
	sum, err := run(commenter, ctx, opts.apply)
	if errors.Is(err, services.ErrConfiguration) {
		return utils.WithCode(utils.ExitValidation, err)
	}
	if err != nil {
		return api.WithExitCode(err)
	}

	log.Infof("コメントの%sが完了しました: 対象=%d, 成功=%d, 失敗=%d (全 %d 件)",
		action, sum.Processed, sum.Succeeded, sum.Failed, sum.Total)
	if !opts.apply {
		log.Info("ドライランです。実際に実行するには --apply を指定してください")
	} else {
		log.Infof("進捗は %s に記録されています", commenter.Path())
	}
	return nil
}
