package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"pivotaltoshortcut/models"
)

var reportTypes = []models.EntityType{
	models.EntityLabel,
	models.EntityEpic,
	models.EntityIteration,
	models.EntityStory,
	models.EntityFile,
}

// RunReport はインポート1回分の集計です
type RunReport struct {
	RunID       string                    `yaml:"run_id"`
	RunLabel    string                    `yaml:"run_label"`
	RunLabelURL string                    `yaml:"run_label_url,omitempty"`
	Mode        string                    `yaml:"mode"`
	Collected   map[models.EntityType]int `yaml:"collected"`
	Created     map[models.EntityType]int `yaml:"created"`
	Failed      map[models.EntityType]int `yaml:"failed"`
	StartedAt   time.Time                 `yaml:"started_at"`
	FinishedAt  time.Time                 `yaml:"finished_at"`
}

// NewRunReport は新しいレポートを作成します
func NewRunReport(runLabel string, apply bool, startedAt time.Time) *RunReport {
	mode := "dry-run"
	if apply {
		mode = "apply"
	}
	return &RunReport{
		RunID:     uuid.NewString(),
		RunLabel:  runLabel,
		Mode:      mode,
		Collected: make(map[models.EntityType]int),
		Created:   make(map[models.EntityType]int),
		Failed:    make(map[models.EntityType]int),
		StartedAt: startedAt,
	}
}

// AddCommit は Commit の結果をレポートに加算します
func (r *RunReport) AddCommit(res *CommitResult) {
	if res == nil {
		return
	}
	if res.RunLabelURL != "" {
		r.RunLabelURL = res.RunLabelURL
	}
	for t, n := range res.CreatedByType {
		r.Created[t] += n
	}
	for t, n := range res.FailedByType {
		r.Failed[t] += n
	}
}

// TotalFailed は失敗件数の合計です
func (r *RunReport) TotalFailed() int {
	total := 0
	for _, n := range r.Failed {
		total += n
	}
	return total
}

// Table は種別ごとの件数を表形式の文字列で返します
func (r *RunReport) Table() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %10s %10s %10s\n", "type", "collected", "created", "failed")
	for _, t := range reportTypes {
		fmt.Fprintf(&b, "%-10s %10d %10d %10d\n", t, r.Collected[t], r.Created[t], r.Failed[t])
	}
	return strings.TrimRight(b.String(), "\n")
}

// Log はレポートをログに出力します
func (r *RunReport) Log(log *logrus.Entry) {
	log.WithFields(logrus.Fields{
		"run_id":    r.RunID,
		"run_label": r.RunLabel,
		"mode":      r.Mode,
	}).Infof("インポート結果:\n%s", r.Table())
	if r.RunLabelURL != "" {
		log.Infof("インポートしたエンティティの一覧: %s", r.RunLabelURL)
	}
}

// WriteFile はレポートをYAMLで書き出します。path が空なら何もしません
func (r *RunReport) WriteFile(path string) error {
	if path == "" {
		return nil
	}
	out, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("レポートのYAML変換エラー: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ディレクトリ作成エラー: %w", err)
		}
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("レポート書き込みエラー: %w", err)
	}
	return nil
}
