package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pivotaltoshortcut/api"
	"pivotaltoshortcut/models"
	"pivotaltoshortcut/services"
	"pivotaltoshortcut/utils"
)

func main() {
	utils.Exit(newRootCmd().Execute())
}

func newRootCmd() *cobra.Command {
	var (
		apply bool
		debug bool
		delay time.Duration
	)

	cmd := &cobra.Command{
		Use:   "delete_imported",
		Short: "インポートしたShortcutエンティティの削除ツール",
		Long: `IMPORTED_ENTITIES_CSV に記録されたエンティティを
ファイル → ストーリー → イテレーション → エピック → ラベル の順に削除します。
既に存在しないエンティティは削除済みとして扱います。削除できたものだけを台帳から取り除きます。`,
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
			if cmd.Flags().Changed("delay") {
				if delay < 0 {
					return utils.WithCode(utils.ExitUsage, fmt.Errorf("--delay は0以上を指定してください: %s", delay))
				}
				cfg.DeleteDelay = delay
			}

			client, err := api.NewShortcutClient(cfg, utils.Component("shortcut_api"))
			if err != nil {
				return utils.WithCode(utils.ExitValidation, err)
			}
			log := utils.Component("delete_imported")
			svc := services.NewDeletionService(client, api.IsNotFound, services.NewLedger(cfg.ImportedEntitiesCSV), cfg.DeleteDelay, log)

			report, err := svc.Run(cmd.Context(), apply)
			if errors.Is(err, services.ErrLedgerNotFound) {
				return utils.WithCode(utils.ExitValidation, err)
			}
			if report != nil {
				for _, t := range []models.EntityType{models.EntityFile, models.EntityStory, models.EntityIteration, models.EntityEpic, models.EntityLabel} {
					log.WithField("type", t).Infof("対象=%d, 削除=%d, 失敗=%d", report.Planned[t], report.Deleted[t], report.Failed[t])
				}
				log.Infof("台帳に残っているエンティティ: %d 件", report.Remaining)
			}
			if err != nil {
				return fmt.Errorf("削除処理に失敗しました: %w", err)
			}
			if err := utils.WriteMetricsFile(cfg.MetricsFile); err != nil {
				log.WithError(err).Warn("メトリクスの書き込みに失敗しました")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "実際に削除する（既定はドライラン）")
	cmd.Flags().BoolVar(&debug, "debug", false, "デバッグログを出力する")
	cmd.Flags().DurationVar(&delay, "delay", 500*time.Millisecond, "削除リクエスト間の待機時間")
	return cmd
}
