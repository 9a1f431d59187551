package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pivotaltoshortcut/config"
	"pivotaltoshortcut/models"
	"pivotaltoshortcut/services"
	"pivotaltoshortcut/utils"
)

type previewEntity struct {
	Type         models.EntityType `json:"type" yaml:"type"`
	PivotalID    string            `json:"pivotal_id" yaml:"pivotal_id"`
	IterationKey string            `json:"iteration_key,omitempty" yaml:"iteration_key,omitempty"`
	Payload      map[string]any    `json:"payload,omitempty" yaml:"payload,omitempty"`
	Error        string            `json:"error,omitempty" yaml:"error,omitempty"`
}

type preview struct {
	RunLabel string          `json:"run_label" yaml:"run_label"`
	Entities []previewEntity `json:"entities" yaml:"entities"`
}

func main() {
	utils.Exit(newRootCmd().Execute())
}

func newRootCmd() *cobra.Command {
	var (
		input  string
		output string
		format string
		debug  bool
	)

	cmd := &cobra.Command{
		Use:   "csv_convert",
		Short: "Pivotal CSV → Shortcut ペイロード変換プレビュー",
		Long: `Pivotal TrackerのCSVを読み込み、Shortcutに送信するペイロードをJSONまたはYAMLで出力します。
Shortcut APIは呼び出しません。そのためユーザー名はIDに解決されません。`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "yaml" {
				return utils.WithCode(utils.ExitUsage, fmt.Errorf("--format は json か yaml を指定してください: %s", format))
			}
			cfg, err := utils.Bootstrap(debug)
			if err != nil {
				return err
			}
			// 標準出力はプレビュー専用
			utils.Logger.SetOutput(os.Stderr)
			if input != "" {
				cfg.PivotalCSV = input
				utils.LogInfo("入力ファイルを指定: %s", cfg.PivotalCSV)
			}

			start := time.Now()
			p, err := buildPreview(cmd.Context(), cfg, start)
			if err != nil {
				return utils.WithCode(utils.ExitValidation, err)
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("出力ファイル作成エラー: %w", err)
				}
				defer f.Close()
				w = f
			}
			if err := writePreview(w, format, p); err != nil {
				return err
			}
			utils.TrackTime(start, "CSV変換プレビュー")
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Pivotal Tracker CSVファイルのパス（指定しない場合は環境変数から取得）")
	cmd.Flags().StringVar(&output, "output", "", "出力先（指定しない場合は標準出力）")
	cmd.Flags().StringVar(&format, "format", "json", "出力形式 (json|yaml)")
	cmd.Flags().BoolVar(&debug, "debug", false, "デバッグログを出力する")
	return cmd
}

func buildPreview(ctx context.Context, cfg *config.Config, now time.Time) (*preview, error) {
	log := utils.Component("csv_convert")
	csvProc := services.NewCSVProcessor(cfg, utils.Component("csv"))

	states, err := csvProc.LoadStates()
	if err != nil {
		return nil, fmt.Errorf("ステータスマッピング読み込みエラー: %w", err)
	}
	priorities, err := csvProc.LoadPriorities()
	if err != nil {
		return nil, fmt.Errorf("優先度マッピング読み込みエラー: %w", err)
	}
	bctx := &services.BuildContext{
		GroupID:               cfg.GroupID,
		RunLabel:              services.RunLabel(now),
		PriorityCustomFieldID: cfg.PriorityCustomFieldID,
		Users:                 models.UserMapping{},
		States:                states,
		Priorities:            priorities,
	}

	rows, err := csvProc.ReadPivotalCSV()
	if err != nil {
		return nil, err
	}
	services.EnrichRows(ctx, cfg.PivotalDumpDB, rows, log)

	p := &preview{RunLabel: bctx.RunLabel}
	for _, row := range rows {
		rec, err := services.BuildEntity(bctx, row)
		if err != nil {
			p.Entities = append(p.Entities, previewEntity{PivotalID: row.ID, Error: err.Error()})
			continue
		}
		payload, err := payloadMap(rec.Entity)
		if err != nil {
			return nil, err
		}
		p.Entities = append(p.Entities, previewEntity{
			Type:         rec.Type,
			PivotalID:    row.ID,
			IterationKey: rec.IterationKey,
			Payload:      payload,
		})
	}
	return p, nil
}

// payloadMap はAPIに送るJSONと同じキーでYAMLを出力するためにマップへ変換します
func payloadMap(p models.Payload) (map[string]any, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("ペイロード変換エラー: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("ペイロード変換エラー: %w", err)
	}
	return m, nil
}

func writePreview(w io.Writer, format string, p *preview) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("YAML出力エラー: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("JSON出力エラー: %w", err)
	}
	return nil
}
