package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"pivotaltoshortcut/models"
	"pivotaltoshortcut/utils"
)

// DefaultBatchSize はストーリー一括作成の既定件数です
const DefaultBatchSize = 100

// CommitResult は Commit の結果です
type CommitResult struct {
	Created       []*models.CreatedEntity
	CreatedByType map[models.EntityType]int
	FailedByType  map[models.EntityType]int
	RunLabelURL   string
}

// EntityCollector は作成対象のエンティティを種別ごとに保持し、
// 依存順（ラベル→エピック→イテレーション→ストーリー）で作成します。
type EntityCollector struct {
	emitter   Emitter
	ledger    *Ledger
	failures  *FailureLog
	bctx      *BuildContext
	batchSize int
	log       *logrus.Entry

	runLabel      *models.EntityRecord
	labels        []*models.EntityRecord
	epics         []*models.EntityRecord
	stories       []*models.EntityRecord
	iterationKeys []string
	seenKeys      map[string]struct{}

	written map[models.LedgerEntry]struct{}
}

// NewEntityCollector は Collector を作成します。
// ドライランでは ledger と failures に nil を渡します。
func NewEntityCollector(emitter Emitter, ledger *Ledger, failures *FailureLog, bctx *BuildContext, batchSize int, log *logrus.Entry) *EntityCollector {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &EntityCollector{
		emitter:   emitter,
		ledger:    ledger,
		failures:  failures,
		bctx:      bctx,
		batchSize: batchSize,
		log:       log,
		runLabel:  BuildRunLabelRecord(bctx.RunLabel),
		seenKeys:  make(map[string]struct{}),
		written:   make(map[models.LedgerEntry]struct{}),
	}
}

// Collect はレコードを種別ごとのバケットに振り分けます
func (c *EntityCollector) Collect(rec *models.EntityRecord) error {
	switch rec.Type {
	case models.EntityStory:
		c.stories = append(c.stories, rec)
		if rec.IterationKey != "" {
			if _, ok := c.seenKeys[rec.IterationKey]; !ok {
				c.seenKeys[rec.IterationKey] = struct{}{}
				c.iterationKeys = append(c.iterationKeys, rec.IterationKey)
			}
		}
	case models.EntityEpic:
		c.epics = append(c.epics, rec)
	case models.EntityLabel:
		// 実行ラベルは常に先頭で作成する
		if rec.Name() == c.bctx.RunLabel {
			return nil
		}
		c.labels = append(c.labels, rec)
	default:
		return fmt.Errorf("不明なエンティティ種別です: %s", rec.Type)
	}
	return nil
}

// Counts は収集済みのエンティティ数を種別ごとに返します（実行ラベル含む）
func (c *EntityCollector) Counts() map[models.EntityType]int {
	return map[models.EntityType]int{
		models.EntityLabel:     len(c.labels) + 1,
		models.EntityEpic:      len(c.epics),
		models.EntityIteration: len(c.iterationKeys),
		models.EntityStory:     len(c.stories),
	}
}

// Commit は依存順にエンティティを作成し、成功したものを台帳に記録します。
// 個々の失敗は失敗CSVに書き出され、処理全体は中断しません。
func (c *EntityCollector) Commit(ctx context.Context) *CommitResult {
	res := &CommitResult{
		CreatedByType: make(map[models.EntityType]int),
		FailedByType:  make(map[models.EntityType]int),
	}

	c.log.Info("ラベルを作成しています...")
	labels := c.commitPhase(ctx, res, append([]*models.EntityRecord{c.runLabel}, c.labels...))
	for _, l := range labels {
		if l == c.runLabel {
			res.RunLabelURL = l.Imported.AppURL
			c.log.WithField("run_label", c.bctx.RunLabel).
				Infof("インポートを開始しました\n\n==> 進捗はこちらで確認できます: %s", res.RunLabelURL)
		}
	}
	if res.RunLabelURL == "" {
		c.log.WithField("run_label", c.bctx.RunLabel).Warn("実行ラベルを作成できませんでした")
	}

	c.log.Info("エピックを作成しています...")
	epics := c.commitPhase(ctx, res, c.epics)
	c.log.Infof("エピックの作成が完了しました: %d 件", len(epics))

	c.log.Info("イテレーションを作成しています...")
	iterations := c.commitPhase(ctx, res, c.iterationRecords())
	iterationIDs := make(map[string]int64, len(iterations))
	for _, it := range iterations {
		iterationIDs[it.SourceIterationID] = it.Imported.ID
	}
	c.log.Infof("イテレーションの作成が完了しました: %d 件", len(iterations))

	epicByLabel := EpicLabelMapping(epics, c.bctx)
	total := (len(c.stories) + c.batchSize - 1) / c.batchSize
	created := 0
	for i := 0; i < len(c.stories); i += c.batchSize {
		end := min(i+c.batchSize, len(c.stories))
		batch := c.stories[i:end]
		log := c.log.WithField("batch", fmt.Sprintf("%d/%d", i/c.batchSize+1, total))
		log.Info("ストーリーのバッチを処理しています")

		AssignStoriesToEpics(batch, epicByLabel)
		ready, unlinked := AssignStoriesToIterations(batch, iterationIDs)
		if len(unlinked) > 0 {
			c.fail(res, models.EntityStory, unlinked)
			if c.failures != nil {
				if err := c.failures.WriteFailedEntities(models.EntityStory, unlinked); err != nil {
					log.WithError(err).Error("失敗CSVの書き込みに失敗しました")
				}
			}
		}

		br := c.emitter.EmitStories(ctx, ready)
		c.succeed(res, br.Succeeded)
		c.fail(res, models.EntityStory, br.Failed)
		if n := len(br.Files); n > 0 {
			res.CreatedByType[models.EntityFile] += n
		}
		created += len(br.Succeeded)

		// バッチごとに台帳へ書き込む
		c.record(br.Succeeded)
		log.Infof("%sバッチの作成が完了しました: 成功=%d, 失敗=%d", dryRunPrefix(c.emitter), len(br.Succeeded), len(br.Failed)+len(unlinked))
	}
	c.log.Infof("ストーリーの作成が完了しました: %d 件", created)

	return res
}

func (c *EntityCollector) commitPhase(ctx context.Context, res *CommitResult, records []*models.EntityRecord) []*models.EntityRecord {
	if len(records) == 0 {
		return nil
	}
	br := c.emitter.Emit(ctx, records)
	c.succeed(res, br.Succeeded)
	for _, rec := range br.Failed {
		c.fail(res, rec.Type, []*models.EntityRecord{rec})
	}
	c.record(br.Succeeded)
	return br.Succeeded
}

func (c *EntityCollector) succeed(res *CommitResult, recs []*models.EntityRecord) {
	for _, rec := range recs {
		res.Created = append(res.Created, rec.Imported)
		res.CreatedByType[rec.Type]++
		utils.Metrics().EntitiesCreated.WithLabelValues(string(rec.Type)).Inc()
	}
}

func (c *EntityCollector) fail(res *CommitResult, t models.EntityType, recs []*models.EntityRecord) {
	if len(recs) == 0 {
		return
	}
	res.FailedByType[t] += len(recs)
	utils.Metrics().EntitiesFailed.WithLabelValues(string(t)).Add(float64(len(recs)))
}

// record は作成が確認されたエンティティだけを台帳に追記します。
// 書き込みエラーは記録して処理を続けます。
func (c *EntityCollector) record(recs []*models.EntityRecord) {
	if c.ledger == nil || c.emitter.DryRun() {
		return
	}
	entries := make([]models.LedgerEntry, 0, len(recs))
	for _, rec := range recs {
		if rec.Imported == nil {
			continue
		}
		e := models.LedgerEntry{Type: rec.Type, ID: rec.Imported.IDString()}
		if _, ok := c.written[e]; ok {
			continue
		}
		c.written[e] = struct{}{}
		entries = append(entries, e)
	}
	if err := c.ledger.Append(entries...); err != nil {
		c.log.WithError(err).Error("台帳への書き込みに失敗しました。これらのエンティティは削除ツールで追跡できません")
	}
}

func (c *EntityCollector) iterationRecords() []*models.EntityRecord {
	records := make([]*models.EntityRecord, 0, len(c.iterationKeys))
	for _, key := range c.iterationKeys {
		id, start, end, err := ParseIterationKey(key)
		if err != nil {
			c.log.WithError(err).Error("イテレーションキーを解析できません")
			continue
		}
		records = append(records, &models.EntityRecord{
			Type:              models.EntityIteration,
			Entity:            &models.IterationPayload{Name: "PT " + id, StartDate: start, EndDate: end},
			IterationKey:      key,
			SourceIterationID: id,
		})
	}
	return records
}

// EpicLabelMapping は作成済みエピックのラベル名→エピックIDを返します。
// マーカーラベルは除外し、同じラベルを持つエピックが複数あれば後のものが優先されます。
func EpicLabelMapping(epics []*models.EntityRecord, bctx *BuildContext) map[string]int64 {
	m := make(map[string]int64)
	for _, epic := range epics {
		p := epic.Epic()
		if p == nil || epic.Imported == nil {
			continue
		}
		for _, l := range p.Labels {
			if bctx.IsMarkerLabel(l.Name) {
				continue
			}
			m[l.Name] = epic.Imported.ID
		}
	}
	return m
}

// AssignStoriesToEpics はラベルが一致するエピックをストーリーに設定します。
// 複数一致した場合は最後に一致したものになります。
func AssignStoriesToEpics(stories []*models.EntityRecord, epicByLabel map[string]int64) {
	for _, rec := range stories {
		story := rec.Story()
		if story == nil {
			continue
		}
		for _, l := range story.Labels {
			if id, ok := epicByLabel[l.Name]; ok {
				story.EpicID = &id
			}
		}
	}
}

// AssignStoriesToIterations は作成済みイテレーションのIDをストーリーに設定します。
// イテレーションが作成されていないストーリーは unlinked として返します。
func AssignStoriesToIterations(stories []*models.EntityRecord, iterationIDs map[string]int64) (ready, unlinked []*models.EntityRecord) {
	for _, rec := range stories {
		story := rec.Story()
		if story == nil || rec.SourceIterationID == "" {
			ready = append(ready, rec)
			continue
		}
		id, ok := iterationIDs[rec.SourceIterationID]
		if !ok {
			rec.ErrorMessage = fmt.Sprintf("イテレーション %s が作成されていません", rec.SourceIterationID)
			unlinked = append(unlinked, rec)
			continue
		}
		story.IterationID = &id
		ready = append(ready, rec)
	}
	return ready, unlinked
}

func dryRunPrefix(e Emitter) string {
	if e.DryRun() {
		return "[DRY RUN] "
	}
	return ""
}
