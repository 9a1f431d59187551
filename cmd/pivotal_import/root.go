package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pivotaltoshortcut/api"
	"pivotaltoshortcut/services"
	"pivotaltoshortcut/utils"
)

func newRootCmd() *cobra.Command {
	var (
		apply     bool
		debug     bool
		batchSize int
		report    string
	)

	cmd := &cobra.Command{
		Use:   "pivotal_import",
		Short: "Pivotal Tracker → Shortcut 移行ツール",
		Long: `Pivotal TrackerのCSVエクスポートからShortcutにラベル、エピック、イテレーション、ストーリーを作成します。

既定はドライランです。--apply を指定したときだけShortcutに書き込みます。
作成したエンティティは IMPORTED_ENTITIES_CSV に記録され、delete_imported で削除できます。

環境変数:
  SHORTCUT_API_TOKEN   Shortcut APIトークン (必須)
  SHORTCUT_GROUP_ID    ストーリーとエピックを割り当てるチームID
  PT_CSV_FILE          Pivotal TrackerのCSV (デフォルト: data/pivotal_export.csv)
  USERS_CSV_FILE       ユーザーマッピング (デフォルト: data/users.csv)
  STATES_CSV_FILE      ステータスマッピング (デフォルト: data/states.csv)
  PRIORITIES_CSV_FILE  優先度マッピング (デフォルト: data/priorities.csv)
  PIVOTAL_DUMP_DB      コメント添付ファイル情報のDB (デフォルト: pivotal_dump.db)`,
		Example: `  # ドライラン
  pivotal_import

  # 実際にインポート
  pivotal_import --apply --report data/report.yaml`,
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
			if cmd.Flags().Changed("batch-size") {
				if batchSize <= 0 {
					return utils.WithCode(utils.ExitUsage, fmt.Errorf("--batch-size は1以上を指定してください: %d", batchSize))
				}
				cfg.BatchSize = batchSize
			}
			if report != "" {
				cfg.ReportFile = report
			}

			log := utils.Component("pivotal_import")
			if apply {
				log.Info("Pivotal → Shortcut インポートを実行します")
			} else {
				log.Info("Pivotal → Shortcut インポートをドライランで実行します")
			}

			client, err := api.NewShortcutClient(cfg, utils.Component("shortcut_api"))
			if err != nil {
				return utils.WithCode(utils.ExitValidation, err)
			}
			csvProc := services.NewCSVProcessor(cfg, utils.Component("csv"))
			migration := services.NewMigrationService(cfg, client, csvProc, log)

			start := time.Now()
			res, err := migration.RunImport(cmd.Context(), apply)
			if err != nil {
				return api.WithExitCode(fmt.Errorf("インポートに失敗しました: %w", err))
			}
			if !apply {
				log.Info("ドライランが完了しました。実際にインポートするには --apply を指定してください")
			}
			log.Infof("インポートが完了しました。合計実行時間: %s (失敗 %d 件)", time.Since(start), res.TotalFailed())
			return nil
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "Shortcutに実際に書き込む（既定はドライラン）")
	cmd.Flags().BoolVar(&debug, "debug", false, "デバッグログを出力する")
	cmd.Flags().IntVar(&batchSize, "batch-size", services.DefaultBatchSize, "ストーリー一括作成の件数")
	cmd.Flags().StringVar(&report, "report", "", "実行レポートをYAMLで書き出すパス")
	return cmd
}
