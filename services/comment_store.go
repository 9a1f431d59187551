package services

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pivotaltoshortcut/models"
)

// dumpComment は pivotal_dump.db の comment テーブルです
type dumpComment struct {
	ID      int64  `gorm:"column:id;primaryKey"`
	StoryID int64  `gorm:"column:story_id;index"`
	Text    string `gorm:"column:text"`
}

func (dumpComment) TableName() string { return "comment" }

// dumpFileAttachment は pivotal_dump.db の file_attachment テーブルです
type dumpFileAttachment struct {
	ID          int64  `gorm:"column:id;primaryKey"`
	CommentID   int64  `gorm:"column:comment_id;index"`
	Filename    string `gorm:"column:filename"`
	ContentType string `gorm:"column:content_type"`
}

func (dumpFileAttachment) TableName() string { return "file_attachment" }

type commentRow struct {
	ID          int64   `gorm:"column:id"`
	Text        *string `gorm:"column:text"`
	Filename    *string `gorm:"column:filename"`
	ContentType *string `gorm:"column:content_type"`
}

// CommentStore はPivotal APIのダンプからコメント本文と添付ファイル情報を取得します
type CommentStore struct {
	db *gorm.DB
}

// NewCommentStore は新しい CommentStore を作成します
func NewCommentStore(db *gorm.DB) *CommentStore {
	return &CommentStore{db: db}
}

// OpenCommentStore はダンプDBを開きます。ファイルが無ければ nil を返します
func OpenCommentStore(path string) (*CommentStore, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ダンプDB確認エラー: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("ダンプDBオープンエラー: %w", err)
	}
	return NewCommentStore(db), nil
}

// AutoMigrate はダンプと同じ形のテーブルを作成します
func (s *CommentStore) AutoMigrate() error {
	return s.db.AutoMigrate(&dumpComment{}, &dumpFileAttachment{})
}

// Close はDB接続を閉じます
func (s *CommentStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// StoryComments はストーリーのコメントをID順に、添付ファイルをファイル名順に返します
func (s *CommentStore) StoryComments(ctx context.Context, storyID string) ([]models.SourceComment, error) {
	var key any = storyID
	if n, err := strconv.ParseInt(storyID, 10, 64); err == nil {
		key = n
	}

	var rows []commentRow
	err := s.db.WithContext(ctx).
		Table("comment AS c").
		Select("c.id, c.text, fa.filename, fa.content_type").
		Joins("LEFT JOIN file_attachment AS fa ON c.id = fa.comment_id").
		Where("c.story_id = ?", key).
		Order("c.id, fa.filename").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("コメント取得エラー (story %s): %w", storyID, err)
	}

	var comments []models.SourceComment
	index := make(map[int64]int)
	for _, r := range rows {
		i, ok := index[r.ID]
		if !ok {
			text := ""
			if r.Text != nil {
				text = *r.Text
			}
			comments = append(comments, models.SourceComment{Text: text})
			i = len(comments) - 1
			index[r.ID] = i
		}
		if r.Filename != nil && *r.Filename != "" {
			att := models.CommentAttachment{Filename: *r.Filename}
			if r.ContentType != nil {
				att.ContentType = *r.ContentType
			}
			comments[i].Attachments = append(comments[i].Attachments, att)
		}
	}
	return comments, nil
}

// EnrichRows は path のダンプDBがあれば全行のコメントを補完します。
// DBが無い、または開けない場合は行をそのまま残します
func EnrichRows(ctx context.Context, path string, rows []*models.SourceRow, log *logrus.Entry) {
	store, err := OpenCommentStore(path)
	if err != nil {
		log.WithError(err).Warn("ダンプDBを開けません。CSVのコメントをそのまま使います")
		return
	}
	if store == nil {
		log.Debugf("ダンプDB %s がありません。添付ファイル情報なしで続行します", path)
		return
	}
	defer store.Close()

	for _, row := range rows {
		if err := store.Enrich(ctx, row); err != nil {
			log.WithField("pivotal_id", row.ID).WithError(err).Warn("コメントの補完に失敗しました")
		}
	}
}

// Enrich はCSVのコメントをダンプのコメントで補完します。
// i番目のCSVコメントにi番目のダンプコメントの本文と添付ファイルを設定します。
func (s *CommentStore) Enrich(ctx context.Context, row *models.SourceRow) error {
	if row.ID == "" || len(row.Comments) == 0 {
		return nil
	}
	dbComments, err := s.StoryComments(ctx, row.ID)
	if err != nil {
		return err
	}
	for i := range row.Comments {
		if i >= len(dbComments) {
			break
		}
		row.Comments[i].Text = dbComments[i].Text
		row.Comments[i].Attachments = dbComments[i].Attachments
	}
	return nil
}
