package services

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"pivotaltoshortcut/models"
)

const failureTimeFormat = "2006-01-02 15:04:05"

var (
	failedEntityHeader = []string{"story_name", "external_id", "error_message", "story_payload", "timestamp"}
	failedFileHeader   = []string{"story_id", "filename", "error", "timestamp"}
)

// FailureLog は作成に失敗したエンティティやファイルを運用者向けのCSVに追記します
type FailureLog struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// NewFailureLog は dir 配下にCSVを書き出す FailureLog を作成します
func NewFailureLog(dir string) *FailureLog {
	return &FailureLog{dir: dir, now: time.Now}
}

var failedFileNames = map[models.EntityType]string{
	models.EntityStory:     "failed_stories.csv",
	models.EntityEpic:      "failed_epics.csv",
	models.EntityIteration: "failed_iterations.csv",
	models.EntityLabel:     "failed_labels.csv",
}

// FailedEntitiesPath は種別ごとの失敗CSVのパスを返します
func (f *FailureLog) FailedEntitiesPath(t models.EntityType) string {
	name, ok := failedFileNames[t]
	if !ok {
		name = fmt.Sprintf("failed_%s.csv", t)
	}
	return filepath.Join(f.dir, name)
}

// FailedFilesPath は添付ファイル失敗CSVのパスを返します
func (f *FailureLog) FailedFilesPath() string {
	return filepath.Join(f.dir, "failed_files.csv")
}

// WriteFailedEntities は失敗したレコードを追記します
func (f *FailureLog) WriteFailedEntities(t models.EntityType, records []*models.EntityRecord) error {
	if len(records) == 0 {
		return nil
	}
	ts := f.now().Format(failureTimeFormat)
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		payload, err := json.Marshal(rec.Entity)
		if err != nil {
			payload = []byte("{}")
		}
		msg := rec.ErrorMessage
		if msg == "" {
			msg = "Unknown error"
		}
		rows = append(rows, []string{rec.Name(), rec.ExternalID(), msg, string(payload), ts})
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return appendCSV(f.FailedEntitiesPath(t), failedEntityHeader, rows)
}

// WriteFailedFiles はアップロードに失敗したファイルを追記します
func (f *FailureLog) WriteFailedFiles(files []models.FailedFile) error {
	if len(files) == 0 {
		return nil
	}
	ts := f.now().Format(failureTimeFormat)
	rows := make([][]string, 0, len(files))
	for _, ff := range files {
		rows = append(rows, []string{ff.StoryID, ff.Filename, ff.Error, ts})
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return appendCSV(f.FailedFilesPath(), failedFileHeader, rows)
}
