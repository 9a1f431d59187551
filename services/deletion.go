package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"pivotaltoshortcut/models"
	"pivotaltoshortcut/utils"
)

// deletionOrder は作成の逆順です。未知の種別は0で先頭に来ます
var deletionOrder = map[models.EntityType]int{
	models.EntityFile:      1,
	models.EntityStory:     2,
	models.EntityIteration: 3,
	models.EntityEpic:      4,
	models.EntityLabel:     5,
}

// ErrLedgerNotFound は台帳ファイルが存在しないことを表します
var ErrLedgerNotFound = errors.New("台帳ファイルが見つかりません")

// EntityDeleter はエンティティを削除します
type EntityDeleter interface {
	Delete(ctx context.Context, entityType models.EntityType, id string) error
}

// DeletionReport は削除処理の結果です
type DeletionReport struct {
	Planned   map[models.EntityType]int `yaml:"planned"`
	Deleted   map[models.EntityType]int `yaml:"deleted"`
	Failed    map[models.EntityType]int `yaml:"failed"`
	Remaining int                       `yaml:"remaining"`
}

// DeletionService は台帳に記録されたエンティティを削除します
type DeletionService struct {
	api      EntityDeleter
	notFound func(error) bool
	ledger   *Ledger
	delay    time.Duration
	sleep    func(context.Context, time.Duration) error
	log      *logrus.Entry
}

// NewDeletionService は削除サービスを作成します
func NewDeletionService(api EntityDeleter, notFound func(error) bool, ledger *Ledger, delay time.Duration, log *logrus.Entry) *DeletionService {
	return &DeletionService{
		api:      api,
		notFound: notFound,
		ledger:   ledger,
		delay:    delay,
		sleep:    utils.SleepContext,
		log:      log,
	}
}

// PlanDeletion は台帳の行を重複排除し、削除順に並べます
func PlanDeletion(entries []models.LedgerEntry) []models.LedgerEntry {
	seen := make(map[models.LedgerEntry]struct{}, len(entries))
	plan := make([]models.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		plan = append(plan, e)
	}
	sort.SliceStable(plan, func(i, j int) bool {
		return deletionOrder[plan[i].Type] < deletionOrder[plan[j].Type]
	})
	return plan
}

// Run は台帳のエンティティを削除し、削除を確認できたものを台帳から取り除きます。
// apply が false の場合は件数を数えるだけです。
func (s *DeletionService) Run(ctx context.Context, apply bool) (*DeletionReport, error) {
	if !s.ledger.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrLedgerNotFound, s.ledger.Path())
	}
	entries, err := s.ledger.ReadAll()
	if err != nil {
		return nil, err
	}

	plan := PlanDeletion(entries)
	report := &DeletionReport{
		Planned: countByType(plan),
		Deleted: make(map[models.EntityType]int),
		Failed:  make(map[models.EntityType]int),
	}
	s.log.Infof("削除対象のエンティティ: %d 件", len(plan))

	if !apply {
		report.Remaining = len(entries)
		s.log.Info("ドライランです。実際に削除するには --apply を指定してください")
		return report, nil
	}

	deleted := make(map[models.LedgerEntry]struct{})
	var runErr error
	for i, e := range plan {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if i > 0 {
			if err := s.sleep(ctx, s.delay); err != nil {
				runErr = err
				break
			}
		}

		log := s.log.WithFields(logrus.Fields{"type": e.Type, "id": e.ID})
		ok := s.deleteOne(ctx, e, log)
		m := utils.Metrics().EntitiesDeleted
		if ok {
			deleted[e] = struct{}{}
			report.Deleted[e.Type]++
			m.WithLabelValues(string(e.Type), "deleted").Inc()
		} else {
			report.Failed[e.Type]++
			m.WithLabelValues(string(e.Type), "failed").Inc()
		}
	}

	remaining, err := s.ledger.Remove(deleted)
	if err != nil {
		return report, err
	}
	if len(deleted) == 0 {
		remaining = len(entries)
	}
	report.Remaining = remaining
	s.log.Infof("%s を更新しました: %d 件を削除", s.ledger.Path(), len(deleted))
	return report, runErr
}

func (s *DeletionService) deleteOne(ctx context.Context, e models.LedgerEntry, log *logrus.Entry) bool {
	if _, known := deletionOrder[e.Type]; !known {
		log.Error("不明なエンティティ種別です")
		return false
	}
	log.Info("削除リクエストを送信します")
	err := s.api.Delete(ctx, e.Type, e.ID)
	if err == nil {
		log.Info("削除しました")
		return true
	}
	if s.notFound != nil && s.notFound(err) {
		log.Info("見つかりません（削除済みの可能性があります）")
		return true
	}
	log.WithError(err).Error("削除に失敗しました")
	return false
}

func countByType(entries []models.LedgerEntry) map[models.EntityType]int {
	m := make(map[models.EntityType]int)
	for _, e := range entries {
		m[e.Type]++
	}
	return m
}
