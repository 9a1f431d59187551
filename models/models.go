package models

// EntityType はShortcut側で作成されるエンティティの種別です
type EntityType string

const (
	EntityStory     EntityType = "story"
	EntityEpic      EntityType = "epic"
	EntityIteration EntityType = "iteration"
	EntityLabel     EntityType = "label"
	EntityFile      EntityType = "file"
)

// CommentAttachment はPivotalのコメントに添付されたファイルを表します
type CommentAttachment struct {
	Filename    string
	ContentType string
}

// SourceComment はPivotal CSVのコメント1件を表します
type SourceComment struct {
	Author      string
	Text        string
	CreatedAt   string
	Attachments []CommentAttachment
}

// SourceRow はPivotal CSVエクスポートの1行を正規化したものです
type SourceRow struct {
	ID          string
	Name        string
	Description string
	StoryType   string
	State       string
	Priority    string
	Estimate    *int
	CreatedAt   string
	Deadline    string
	Requester   string
	Labels      []string

	// 繰り返し列（同名の列が複数並ぶ）
	Owners        []string
	Reviewers     []string
	ReviewTypes   []string
	ReviewStates  []string
	TaskTitles    []string
	TaskStates    []string
	Comments      []SourceComment
	ExternalLinks []string

	IterationID    string
	IterationStart string
	IterationEnd   string
}

// EntityRecord はビルド後、作成完了までパイプラインを流れる単位です
type EntityRecord struct {
	Type   EntityType
	Entity Payload

	// IterationKey は "id|start|end" 形式。イテレーションに属するストーリーのみ
	IterationKey      string
	SourceIterationID string

	ParsedRow *SourceRow

	Imported     *CreatedEntity
	ErrorMessage string
}

// Name はログやCSVに使うエンティティ名を返します
func (r *EntityRecord) Name() string {
	if r.Entity == nil {
		return "Unknown"
	}
	return r.Entity.DisplayName()
}

// ExternalID はPivotal IDを返します（無ければ "Unknown"）
func (r *EntityRecord) ExternalID() string {
	switch p := r.Entity.(type) {
	case *StoryPayload:
		if p.ExternalID != "" {
			return p.ExternalID
		}
	case *EpicPayload:
		if p.ExternalID != "" {
			return p.ExternalID
		}
	}
	return "Unknown"
}

// Story はストーリーのペイロードを返します。ストーリー以外ではnil
func (r *EntityRecord) Story() *StoryPayload {
	p, _ := r.Entity.(*StoryPayload)
	return p
}

// Epic はエピックのペイロードを返します。エピック以外ではnil
func (r *EntityRecord) Epic() *EpicPayload {
	p, _ := r.Entity.(*EpicPayload)
	return p
}

// LedgerEntry は台帳CSVの1行 (type,id) です
type LedgerEntry struct {
	Type EntityType
	ID   string
}

// FailedFile はアップロードに失敗した添付ファイルを表します
type FailedFile struct {
	StoryID  string
	Filename string
	Error    string
}

// UserMapping はPivotalユーザー名からShortcutメンバーIDへのマッピングです
type UserMapping map[string]string

// StateMapping はPivotalステータスからShortcutワークフローステートIDへのマッピングです
type StateMapping map[string]int64

// PriorityMapping はPivotal優先度からカスタムフィールド値IDへのマッピングです
type PriorityMapping map[string]string
