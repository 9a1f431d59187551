package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pivotaltoshortcut/config"
	"pivotaltoshortcut/models"
	"pivotaltoshortcut/utils"
)

// ImportAPI はインポートに必要なShortcut APIの操作です
type ImportAPI interface {
	ShortcutAPI
	FileUploader
	ListMembers(ctx context.Context) ([]models.Member, error)
}

// MigrationService はPivotal TrackerからShortcutへの移行処理を担当します
type MigrationService struct {
	config  *config.Config
	api     ImportAPI
	csvProc *CSVProcessor
	log     *logrus.Entry
	now     func() time.Time
}

// NewMigrationService は新しい移行サービスを作成します
func NewMigrationService(cfg *config.Config, api ImportAPI, csvProc *CSVProcessor, log *logrus.Entry) *MigrationService {
	return &MigrationService{
		config:  cfg,
		api:     api,
		csvProc: csvProc,
		log:     log,
		now:     time.Now,
	}
}

// BuildContext はマッピングCSVを読み込み、実行単位の変換コンテキストを作成します
func (m *MigrationService) BuildContext(ctx context.Context, runLabel string) (*BuildContext, error) {
	members, err := m.api.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	users, err := m.csvProc.LoadUsers(members)
	if err != nil {
		return nil, fmt.Errorf("ユーザーマッピング読み込みエラー: %w", err)
	}
	states, err := m.csvProc.LoadStates()
	if err != nil {
		return nil, fmt.Errorf("ステータスマッピング読み込みエラー: %w", err)
	}
	priorities, err := m.csvProc.LoadPriorities()
	if err != nil {
		return nil, fmt.Errorf("優先度マッピング読み込みエラー: %w", err)
	}
	return &BuildContext{
		GroupID:               m.config.GroupID,
		RunLabel:              runLabel,
		PriorityCustomFieldID: m.config.PriorityCustomFieldID,
		Users:                 users,
		States:                states,
		Priorities:            priorities,
	}, nil
}

// ReadRows はPivotal CSVを読み込み、ダンプDBがあればコメントを補完します
func (m *MigrationService) ReadRows(ctx context.Context) ([]*models.SourceRow, error) {
	rows, err := m.csvProc.ReadPivotalCSV()
	if err != nil {
		return nil, fmt.Errorf("Pivotal CSV読み込みエラー: %w", err)
	}

	EnrichRows(ctx, m.config.PivotalDumpDB, rows, m.log)
	return rows, nil
}

// RunImport は移行処理全体を実行します。apply が false の場合はドライランです
func (m *MigrationService) RunImport(ctx context.Context, apply bool) (*RunReport, error) {
	startTime := m.now()
	defer func() {
		m.log.WithField("elapsed", m.now().Sub(startTime).String()).Info("インポート 完了")
	}()

	runLabel := RunLabel(startTime)
	report := NewRunReport(runLabel, apply, startTime)

	bctx, err := m.BuildContext(ctx, runLabel)
	if err != nil {
		return nil, err
	}
	rows, err := m.ReadRows(ctx)
	if err != nil {
		return nil, err
	}

	var (
		ledger   *Ledger
		failures *FailureLog
		emitter  Emitter
	)
	if apply {
		ledger = NewLedger(m.config.ImportedEntitiesCSV)
		failures = NewFailureLog(m.config.DataDir)
		files := NewFileProcessor(m.config.DataDir, m.api, ledger, failures, m.log.WithField("stage", "files"))
		emitter = NewLiveEmitter(m.api, files, failures, m.log.WithField("stage", "emit"))
	} else {
		files := NewFileProcessor(m.config.DataDir, nil, nil, nil, m.log.WithField("stage", "files"))
		emitter = NewSimulatedEmitter(files, m.log.WithField("stage", "emit"))
	}

	collector := NewEntityCollector(emitter, ledger, failures, bctx, m.config.BatchSize, m.log.WithField("stage", "commit"))
	invalid := m.collectRows(bctx, collector, rows, failures)
	for t, n := range collector.Counts() {
		report.Collected[t] = n
	}
	for t, recs := range invalid {
		report.Failed[t] += len(recs)
		report.Collected[t] += len(recs)
	}

	m.log.Infof("エンティティを収集しました: ラベル=%d, エピック=%d, イテレーション=%d, ストーリー=%d",
		report.Collected[models.EntityLabel], report.Collected[models.EntityEpic],
		report.Collected[models.EntityIteration], report.Collected[models.EntityStory])

	report.AddCommit(collector.Commit(ctx))
	report.FinishedAt = m.now()
	report.Log(m.log)

	if err := report.WriteFile(m.config.ReportFile); err != nil {
		m.log.WithError(err).Error("レポートの書き込みに失敗しました")
	}
	if err := utils.WriteMetricsFile(m.config.MetricsFile); err != nil {
		m.log.WithError(err).Error("メトリクスの書き込みに失敗しました")
	}
	if apply && ledger != nil {
		m.log.Infof("作成したエンティティは %s に記録されています", ledger.Path())
	}
	return report, nil
}

// collectRows は各行を変換して Collector に渡し、変換できなかった行を種別ごとに返します
func (m *MigrationService) collectRows(bctx *BuildContext, collector *EntityCollector, rows []*models.SourceRow, failures *FailureLog) map[models.EntityType][]*models.EntityRecord {
	invalid := make(map[models.EntityType][]*models.EntityRecord)
	for _, row := range rows {
		rec, err := BuildEntity(bctx, row)
		if err == nil {
			err = collector.Collect(rec)
		}
		if err == nil {
			continue
		}

		log := m.log.WithField("pivotal_id", row.ID)
		if errors.Is(err, ErrConfiguration) {
			log.WithError(err).Error("行を変換できません。マッピングCSVを確認してください")
		} else {
			log.WithError(err).Error("行の処理に失敗しました")
		}
		failed := invalidRecord(row, err)
		invalid[failed.Type] = append(invalid[failed.Type], failed)
		utils.Metrics().EntitiesFailed.WithLabelValues(string(failed.Type)).Inc()
	}

	if failures != nil {
		for t, recs := range invalid {
			if err := failures.WriteFailedEntities(t, recs); err != nil {
				m.log.WithError(err).Error("失敗CSVの書き込みに失敗しました")
			}
		}
	}
	return invalid
}

func invalidRecord(row *models.SourceRow, err error) *models.EntityRecord {
	rec := &models.EntityRecord{ParsedRow: row, ErrorMessage: err.Error()}
	if strings.EqualFold(strings.TrimSpace(row.StoryType), string(models.EntityEpic)) {
		rec.Type = models.EntityEpic
		rec.Entity = &models.EpicPayload{Name: row.Name, ExternalID: row.ID}
	} else {
		rec.Type = models.EntityStory
		rec.Entity = &models.StoryPayload{Name: row.Name, ExternalID: row.ID}
	}
	return rec
}
