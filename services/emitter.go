package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"pivotaltoshortcut/models"
)

// BatchResult は作成処理の結果です。Succeeded と Failed は互いに素です
type BatchResult struct {
	Succeeded []*models.EntityRecord
	Failed    []*models.EntityRecord
	Files     []*models.UploadedFile
}

// Emitter はエンティティの作成方法を切り替えるための抽象です
type Emitter interface {
	// Emit はストーリー以外のエンティティを1件ずつ作成します
	Emit(ctx context.Context, records []*models.EntityRecord) BatchResult
	// EmitStories はストーリーのバッチを添付ファイル処理込みで作成します
	EmitStories(ctx context.Context, batch []*models.EntityRecord) BatchResult
	DryRun() bool
}

// SimulatedEmitter はネットワークを使わず連番のIDを割り当てるドライラン用の実装です
type SimulatedEmitter struct {
	nextID int64
	files  *FileProcessor
	log    *logrus.Entry
}

// NewSimulatedEmitter はドライラン用の Emitter を作成します。files は nil でも構いません
func NewSimulatedEmitter(files *FileProcessor, log *logrus.Entry) *SimulatedEmitter {
	return &SimulatedEmitter{files: files, log: log}
}

func (e *SimulatedEmitter) DryRun() bool { return true }

func (e *SimulatedEmitter) Emit(_ context.Context, records []*models.EntityRecord) BatchResult {
	for _, rec := range records {
		e.assign(rec)
	}
	return BatchResult{Succeeded: records}
}

func (e *SimulatedEmitter) EmitStories(ctx context.Context, batch []*models.EntityRecord) BatchResult {
	var res BatchResult
	ready := batch
	if e.files != nil {
		fr := e.files.Process(ctx, batch)
		ready, res.Failed, res.Files = fr.Ready, fr.Failed, fr.Uploaded
	}
	for _, rec := range ready {
		e.assign(rec)
	}
	res.Succeeded = ready
	return res
}

func (e *SimulatedEmitter) assign(rec *models.EntityRecord) {
	id := e.nextID
	e.nextID++

	created := &models.CreatedEntity{
		ID:         id,
		EntityType: string(rec.Type),
		Name:       rec.Name(),
		AppURL:     fmt.Sprintf("https://example.com/entity/%d", id),
		ExternalID: payloadExternalID(rec),
		Labels:     payloadLabels(rec.Entity),
	}
	rec.Imported = created
	e.log.WithFields(logrus.Fields{"type": rec.Type, "id": id}).Infof("[DRY RUN] %s を作成します %q", rec.Type, rec.Name())
}

// ShortcutAPI はエンティティ作成に必要なAPI操作です
type ShortcutAPI interface {
	Create(ctx context.Context, payload models.Payload) (*models.CreatedEntity, error)
	CreateStories(ctx context.Context, stories []*models.StoryPayload) ([]models.CreatedEntity, error)
}

// LiveEmitter はShortcut APIを呼び出してエンティティを作成します
type LiveEmitter struct {
	api      ShortcutAPI
	files    *FileProcessor
	failures *FailureLog
	log      *logrus.Entry
}

// NewLiveEmitter は実際に作成を行う Emitter を作成します
func NewLiveEmitter(api ShortcutAPI, files *FileProcessor, failures *FailureLog, log *logrus.Entry) *LiveEmitter {
	return &LiveEmitter{api: api, files: files, failures: failures, log: log}
}

func (e *LiveEmitter) DryRun() bool { return false }

// Emit はエンティティを1件ずつ作成します。失敗は種別ごとの失敗CSVに書き出します
func (e *LiveEmitter) Emit(ctx context.Context, records []*models.EntityRecord) BatchResult {
	var res BatchResult
	for _, rec := range records {
		created, err := e.api.Create(ctx, rec.Entity)
		if err != nil {
			rec.ErrorMessage = err.Error()
			res.Failed = append(res.Failed, rec)
			e.log.WithError(err).WithField("type", rec.Type).Errorf("%s の作成に失敗しました: %s", rec.Type, rec.Name())
			continue
		}
		rec.Imported = created
		res.Succeeded = append(res.Succeeded, rec)
	}
	e.writeFailures(res.Failed)
	return res
}

// EmitStories は添付ファイルを処理してからストーリーを一括作成します
func (e *LiveEmitter) EmitStories(ctx context.Context, batch []*models.EntityRecord) BatchResult {
	ready := batch
	var res BatchResult
	if e.files != nil {
		fr := e.files.Process(ctx, batch)
		ready, res.Files = fr.Ready, fr.Uploaded
		res.Failed = append(res.Failed, fr.Failed...)
	}

	created := CreateStoriesWithFallback(ctx, e.api, ready, e.log)
	res.Succeeded = created.Succeeded
	res.Failed = append(res.Failed, created.Failed...)

	e.writeFailures(res.Failed)
	return res
}

func (e *LiveEmitter) writeFailures(failed []*models.EntityRecord) {
	if e.failures == nil || len(failed) == 0 {
		return
	}
	byType := make(map[models.EntityType][]*models.EntityRecord)
	for _, rec := range failed {
		byType[rec.Type] = append(byType[rec.Type], rec)
	}
	for t, recs := range byType {
		if err := e.failures.WriteFailedEntities(t, recs); err != nil {
			e.log.WithError(err).Error("失敗CSVの書き込みに失敗しました")
			continue
		}
		e.log.Infof("失敗した %s %d 件を %s に追記しました", t, len(recs), e.failures.FailedEntitiesPath(t))
	}
}

// CreateStoriesWithFallback はバッチを一括作成し、一括作成が失敗した場合は
// 1件ずつ作成し直します。結果は成功と失敗に分割されます。
func CreateStoriesWithFallback(ctx context.Context, api ShortcutAPI, batch []*models.EntityRecord, log *logrus.Entry) BatchResult {
	var res BatchResult
	if len(batch) == 0 {
		return res
	}

	payloads := make([]*models.StoryPayload, 0, len(batch))
	for _, rec := range batch {
		payloads = append(payloads, rec.Story())
	}

	created, err := api.CreateStories(ctx, payloads)
	if err == nil {
		for i, rec := range batch {
			if i >= len(created) {
				rec.ErrorMessage = "一括作成の応答にストーリーが含まれていません"
				res.Failed = append(res.Failed, rec)
				continue
			}
			c := created[i]
			rec.Imported = &c
			res.Succeeded = append(res.Succeeded, rec)
		}
		return res
	}

	log.WithError(err).Warn("一括作成に失敗しました。1件ずつ作成します")
	for _, rec := range batch {
		c, err := api.Create(ctx, rec.Entity)
		if err != nil {
			rec.ErrorMessage = err.Error()
			res.Failed = append(res.Failed, rec)
			log.WithError(err).Errorf("ストーリーの作成に失敗しました: %s", rec.Name())
			continue
		}
		rec.Imported = c
		res.Succeeded = append(res.Succeeded, rec)
	}
	return res
}

func payloadExternalID(rec *models.EntityRecord) string {
	if id := rec.ExternalID(); id != "Unknown" {
		return id
	}
	return ""
}

func payloadLabels(p models.Payload) []models.Label {
	switch v := p.(type) {
	case *models.StoryPayload:
		return v.Labels
	case *models.EpicPayload:
		return v.Labels
	}
	return nil
}
