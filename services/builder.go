package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"pivotaltoshortcut/models"
)

const (
	// MigrationLabel はこのツールで作成した全ストーリー・エピックに付くラベルです
	MigrationLabel = "pivotal->shortcut"
	// ReleaseLabel はPivotalのreleaseから変換したchoreに付くラベルです
	ReleaseLabel = "pivotal-release"
	// HadReviewLabel はPivotalでレビューが付いていたストーリーに付くラベルです
	HadReviewLabel = "pivotal-had-review"

	runLabelTimeFormat = "2006-01-02 15:04"
	iterationKeySep    = "|"
)

// ErrConfiguration はマッピング不足など設定起因で行を変換できないことを表します
var ErrConfiguration = errors.New("設定エラー")

const reviewCommentPrefix = `\[Pivotal Importer\] Reviewers have been added as followers on this Shortcut Story.

The following table describes the state of their reviews when they were imported into Shortcut from Pivotal Tracker:

| Reviewer | Review Type | Review Status |
|---|---|---|`

// RunLabel は実行ごとに一意なラベル名を生成します
func RunLabel(now time.Time) string {
	return MigrationLabel + " " + now.Format(runLabelTimeFormat)
}

// BuildContext はエンティティ変換に必要な実行単位の情報です
type BuildContext struct {
	GroupID               string
	RunLabel              string
	PriorityCustomFieldID string
	Users                 models.UserMapping
	States                models.StateMapping
	Priorities            models.PriorityMapping
}

// IsMarkerLabel は移行マーカーラベル（固定ラベル・実行ラベル）かを判定します
func (b *BuildContext) IsMarkerLabel(name string) bool {
	return name == MigrationLabel || name == b.RunLabel
}

// BuildRunLabelRecord は実行ラベルを作成するレコードを返します
func BuildRunLabelRecord(runLabel string) *models.EntityRecord {
	return &models.EntityRecord{
		Type:   models.EntityLabel,
		Entity: &models.LabelPayload{Name: runLabel},
	}
}

// IterationKey はイテレーションを一意に識別する "id|start|end" を返します
func IterationKey(id, start, end string) string {
	return strings.Join([]string{id, start, end}, iterationKeySep)
}

// ParseIterationKey は IterationKey の逆変換です
func ParseIterationKey(key string) (id, start, end string, err error) {
	parts := strings.Split(key, iterationKeySep)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("イテレーションキーが不正です: %q", key)
	}
	return parts[0], parts[1], parts[2], nil
}

// EscapeMarkdownTable はMarkdownの表を壊す文字をエスケープします
func EscapeMarkdownTable(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// BuildEntity はPivotalの1行からShortcutのエンティティレコードを作成します
func BuildEntity(bctx *BuildContext, row *models.SourceRow) (*models.EntityRecord, error) {
	storyType := strings.ToLower(strings.TrimSpace(row.StoryType))
	if storyType == "" {
		return nil, fmt.Errorf("%w: 行 %s に story_type がありません", ErrConfiguration, row.ID)
	}

	labels := make([]models.Label, 0, len(row.Labels)+4)
	for _, name := range row.Labels {
		labels = append(labels, models.Label{Name: name})
	}
	labels = append(labels, models.Label{Name: MigrationLabel}, models.Label{Name: bctx.RunLabel})

	if storyType == string(models.EntityEpic) {
		return buildEpic(bctx, row, labels), nil
	}
	return buildStory(bctx, row, storyType, labels)
}

func buildEpic(bctx *BuildContext, row *models.SourceRow, labels []models.Label) *models.EntityRecord {
	// Pivotalのエピックには担当者がないため、チームの割り当てだけ行う
	groupIDs := []string{}
	if bctx.GroupID != "" {
		groupIDs = append(groupIDs, bctx.GroupID)
	}

	return &models.EntityRecord{
		Type: models.EntityEpic,
		Entity: &models.EpicPayload{
			CreatedAt:   row.CreatedAt,
			Description: row.Description,
			ExternalID:  row.ID,
			GroupIDs:    groupIDs,
			Labels:      labels,
			Name:        row.Name,
		},
		ParsedRow: row,
	}
}

func buildStory(bctx *BuildContext, row *models.SourceRow, storyType string, labels []models.Label) (*models.EntityRecord, error) {
	// releaseはchoreとして作成する
	if storyType == "release" {
		storyType = "chore"
		labels = append(labels, models.Label{Name: ReleaseLabel})
	}

	story := &models.StoryPayload{
		CreatedAt:     row.CreatedAt,
		Deadline:      row.Deadline,
		Description:   row.Description,
		Estimate:      row.Estimate,
		ExternalID:    row.ID,
		ExternalLinks: row.ExternalLinks,
		GroupID:       bctx.GroupID,
		Name:          row.Name,
		StoryType:     storyType,
	}

	if row.State != "" {
		stateID, ok := bctx.States[row.State]
		if !ok {
			return nil, fmt.Errorf("%w: ステータス %q のマッピングがありません (行 %s)", ErrConfiguration, row.State, row.ID)
		}
		story.WorkflowStateID = &stateID
	}

	n := min(len(row.TaskTitles), len(row.TaskStates))
	for i := 0; i < n; i++ {
		story.Tasks = append(story.Tasks, models.Task{
			Description: row.TaskTitles[i],
			Complete:    row.TaskStates[i] == "completed",
		})
	}

	// 見つからない依頼者は省略し、APIトークンの所有者を依頼者とする
	if row.Requester != "" {
		if id, ok := bctx.Users[row.Requester]; ok && id != "" {
			story.RequestedByID = id
		}
	}
	story.OwnerIDs = resolveUsers(bctx.Users, row.Owners)

	comments := make([]models.StoryComment, 0, len(row.Comments)+1)
	for _, c := range row.Comments {
		comments = append(comments, models.StoryComment{
			Text:        c.Text,
			AuthorID:    bctx.Users[c.Author],
			CreatedAt:   c.CreatedAt,
			Attachments: c.Attachments,
		})
	}

	if len(row.Reviewers) > 0 {
		story.FollowerIDs = resolveUsers(bctx.Users, row.Reviewers)
		labels = append(labels, models.Label{Name: HadReviewLabel})
		comments = append(comments, models.StoryComment{
			Text:     reviewComment(row),
			AuthorID: story.RequestedByID,
		})
	}
	if len(comments) > 0 {
		story.Comments = comments
	}

	if row.Priority != "" {
		valueID, ok := bctx.Priorities[row.Priority]
		if !ok || valueID == "" {
			return nil, fmt.Errorf("%w: 優先度 %q のマッピングがありません (行 %s)", ErrConfiguration, row.Priority, row.ID)
		}
		story.CustomFields = append(story.CustomFields, models.CustomFieldValue{
			FieldID: bctx.PriorityCustomFieldID,
			ValueID: valueID,
		})
	}

	story.Labels = labels

	rec := &models.EntityRecord{
		Type:      models.EntityStory,
		Entity:    story,
		ParsedRow: row,
	}
	if row.IterationID != "" {
		rec.SourceIterationID = row.IterationID
		rec.IterationKey = IterationKey(row.IterationID, row.IterationStart, row.IterationEnd)
	}
	return rec, nil
}

// マッピングにないユーザーは黙って除外する
func resolveUsers(users models.UserMapping, names []string) []string {
	var ids []string
	for _, name := range names {
		if id, ok := users[name]; ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func reviewComment(row *models.SourceRow) string {
	var sb strings.Builder
	sb.WriteString(reviewCommentPrefix)
	n := min(len(row.Reviewers), len(row.ReviewTypes), len(row.ReviewStates))
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "\n|%s|%s|%s|",
			EscapeMarkdownTable(row.Reviewers[i]),
			EscapeMarkdownTable(row.ReviewTypes[i]),
			EscapeMarkdownTable(row.ReviewStates[i]))
	}
	return sb.String()
}
