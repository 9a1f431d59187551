package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"pivotaltoshortcut/models"
)

// ExternalIDCommentsFile は外部IDコメントの進捗を記録するファイル名です
const ExternalIDCommentsFile = "story_external_ids.csv"

var externalIDHeader = []string{"id", "external_id", "comment_created_at", "comment_id", "success", "error"}

// StoryCommentAPI は外部IDコメントの追加・削除に使うAPIです
type StoryCommentAPI interface {
	ListGroupStories(ctx context.Context, groupID string) ([]models.StorySummary, error)
	CreateStoryComment(ctx context.Context, storyID, text string) (*models.Comment, error)
	DeleteStoryComment(ctx context.Context, storyID, commentID string) error
}

// ExternalIDRow は story_external_ids.csv の1行です
type ExternalIDRow struct {
	ID               string
	ExternalID       string
	CommentCreatedAt string
	CommentID        string
	Success          string
	Error            string
}

func (r *ExternalIDRow) succeeded() bool { return r.Success == "True" }

func (r *ExternalIDRow) reset() {
	r.CommentCreatedAt, r.CommentID, r.Success, r.Error = "", "", "", ""
}

// ExternalIDSummary は処理結果の件数です
type ExternalIDSummary struct {
	Total     int
	Processed int
	Succeeded int
	Failed    int
}

// ExternalIDCommenter はインポート済みストーリーに "Pivotal Tracker Id <id>" コメントを付け外しします
type ExternalIDCommenter struct {
	api     StoryCommentAPI
	groupID string
	path    string
	log     *logrus.Entry
}

// NewExternalIDCommenter は dataDir 配下の進捗CSVを使う ExternalIDCommenter を作成します
func NewExternalIDCommenter(api StoryCommentAPI, groupID, dataDir string, log *logrus.Entry) *ExternalIDCommenter {
	return &ExternalIDCommenter{
		api:     api,
		groupID: groupID,
		path:    filepath.Join(dataDir, ExternalIDCommentsFile),
		log:     log,
	}
}

// Path は進捗CSVのパスを返します
func (c *ExternalIDCommenter) Path() string {
	return c.path
}

// ExternalIDComment はコメント本文を返します
func ExternalIDComment(externalID string) string {
	return "Pivotal Tracker Id " + externalID
}

// Add は外部IDを持ち、まだ成功していないストーリーにコメントを追加します。
// 進捗CSVが無い場合はチームのストーリー一覧から作成します。
func (c *ExternalIDCommenter) Add(ctx context.Context, apply bool) (*ExternalIDSummary, error) {
	if _, err := os.Stat(c.path); os.IsNotExist(err) {
		if c.groupID == "" {
			return nil, fmt.Errorf("%w: SHORTCUT_GROUP_ID が設定されていません", ErrConfiguration)
		}
		c.log.WithField("group_id", c.groupID).Info("チームのストーリーを取得しています...")
		stories, err := c.api.ListGroupStories(ctx, c.groupID)
		if err != nil {
			return nil, err
		}
		if len(stories) == 0 {
			return nil, fmt.Errorf("チーム %s にストーリーがありません", c.groupID)
		}
		rows := make([]*ExternalIDRow, 0, len(stories))
		for _, s := range stories {
			rows = append(rows, &ExternalIDRow{ID: strconv.FormatInt(s.ID, 10), ExternalID: s.ExternalID})
		}
		if err := c.write(rows); err != nil {
			return nil, err
		}
		c.log.Infof("進捗CSVを作成しました: %d 件", len(rows))
	}

	rows, err := c.read()
	if err != nil {
		return nil, err
	}

	sum := &ExternalIDSummary{Total: len(rows)}
	for _, row := range rows {
		if row.ExternalID == "" || row.succeeded() {
			continue
		}
		sum.Processed++
		log := c.log.WithFields(logrus.Fields{"story_id": row.ID, "external_id": row.ExternalID})
		if !apply {
			log.Info("[DRY RUN] コメントを追加します")
			continue
		}

		comment, err := c.api.CreateStoryComment(ctx, row.ID, ExternalIDComment(row.ExternalID))
		if err != nil {
			log.WithError(err).Error("コメントの追加に失敗しました")
			row.CommentCreatedAt, row.CommentID, row.Success, row.Error = "", "", "False", err.Error()
			sum.Failed++
			continue
		}
		row.CommentCreatedAt = comment.CreatedAt
		row.CommentID = strconv.FormatInt(comment.ID, 10)
		row.Success, row.Error = "True", ""
		sum.Succeeded++
		log.Info("コメントを追加しました")
	}

	if apply {
		if err := c.write(rows); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

// Delete は追加に成功したコメントを削除し、該当行をリセットします
func (c *ExternalIDCommenter) Delete(ctx context.Context, apply bool) (*ExternalIDSummary, error) {
	rows, err := c.read()
	if err != nil {
		return nil, err
	}

	sum := &ExternalIDSummary{Total: len(rows)}
	for _, row := range rows {
		if !row.succeeded() || row.CommentID == "" {
			continue
		}
		sum.Processed++
		log := c.log.WithFields(logrus.Fields{"story_id": row.ID, "comment_id": row.CommentID})
		if !apply {
			log.Info("[DRY RUN] コメントを削除します")
			continue
		}

		if err := c.api.DeleteStoryComment(ctx, row.ID, row.CommentID); err != nil {
			log.WithError(err).Error("コメントの削除に失敗しました")
			row.Error = "Error deleting comment: " + err.Error()
			sum.Failed++
			continue
		}
		row.reset()
		sum.Succeeded++
		log.Info("コメントを削除しました")
	}

	if apply {
		if err := c.write(rows); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

func (c *ExternalIDCommenter) read() ([]*ExternalIDRow, error) {
	r, closeFn, err := openCSV(c.path)
	if err != nil {
		return nil, fmt.Errorf("進捗CSVオープンエラー: %w", err)
	}
	defer closeFn()

	header, err := readHeader(r)
	if err != nil {
		return nil, fmt.Errorf("進捗CSVヘッダー読み込みエラー: %w", err)
	}
	if err := requireHeader(header, "id", "external_id"); err != nil {
		return nil, err
	}
	idx := headerIndex(header)

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("進捗CSV読み込みエラー: %w", err)
	}
	rows := make([]*ExternalIDRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, &ExternalIDRow{
			ID:               field(rec, idx, "id"),
			ExternalID:       field(rec, idx, "external_id"),
			CommentCreatedAt: field(rec, idx, "comment_created_at"),
			CommentID:        field(rec, idx, "comment_id"),
			Success:          field(rec, idx, "success"),
			Error:            field(rec, idx, "error"),
		})
	}
	return rows, nil
}

func (c *ExternalIDCommenter) write(rows []*ExternalIDRow) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("ディレクトリ作成エラー: %w", err)
	}
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{r.ID, r.ExternalID, r.CommentCreatedAt, r.CommentID, r.Success, r.Error})
	}
	if err := rewriteCSV(c.path, externalIDHeader, out); err != nil {
		return fmt.Errorf("進捗CSV書き込みエラー: %w", err)
	}
	return nil
}
