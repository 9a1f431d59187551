package models

// Payload はShortcutへ送信するエンティティ本体です。
// 種別ごとに固定のフィールドを持つ型だけが実装します。
type Payload interface {
	Kind() EntityType
	DisplayName() string
	isPayload()
}

type Label struct {
	Name string `json:"name"`
}

type Task struct {
	Description string `json:"description"`
	Complete    bool   `json:"complete"`
}

type CustomFieldValue struct {
	FieldID string `json:"field_id"`
	ValueID string `json:"value_id"`
}

// StoryComment はストーリー作成時に一緒に登録されるコメントです。
// Attachments は送信前にアップロード処理で消費され、JSONには含まれません。
type StoryComment struct {
	Text      string `json:"text"`
	AuthorID  string `json:"author_id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`

	Attachments []CommentAttachment `json:"-"`
}

// StoryPayload は POST /stories で送信可能な属性だけを持ちます
type StoryPayload struct {
	Comments        []StoryComment     `json:"comments,omitempty"`
	CreatedAt       string             `json:"created_at,omitempty"`
	CustomFields    []CustomFieldValue `json:"custom_fields,omitempty"`
	Deadline        string             `json:"deadline,omitempty"`
	Description     string             `json:"description,omitempty"`
	EpicID          *int64             `json:"epic_id,omitempty"`
	Estimate        *int               `json:"estimate,omitempty"`
	ExternalID      string             `json:"external_id,omitempty"`
	ExternalLinks   []string           `json:"external_links,omitempty"`
	FollowerIDs     []string           `json:"follower_ids,omitempty"`
	GroupID         string             `json:"group_id,omitempty"`
	IterationID     *int64             `json:"iteration_id,omitempty"`
	Labels          []Label            `json:"labels,omitempty"`
	Name            string             `json:"name"`
	OwnerIDs        []string           `json:"owner_ids,omitempty"`
	RequestedByID   string             `json:"requested_by_id,omitempty"`
	StoryType       string             `json:"story_type,omitempty"`
	Tasks           []Task             `json:"tasks,omitempty"`
	WorkflowStateID *int64             `json:"workflow_state_id,omitempty"`
}

func (*StoryPayload) Kind() EntityType      { return EntityStory }
func (p *StoryPayload) DisplayName() string { return p.Name }
func (*StoryPayload) isPayload()            {}

// EpicPayload は POST /epics で送信可能な属性だけを持ちます。
// GroupIDs は空でも常に配列として送信します。
type EpicPayload struct {
	CreatedAt   string   `json:"created_at,omitempty"`
	Description string   `json:"description,omitempty"`
	ExternalID  string   `json:"external_id,omitempty"`
	GroupIDs    []string `json:"group_ids"`
	Labels      []Label  `json:"labels,omitempty"`
	Name        string   `json:"name"`
}

func (*EpicPayload) Kind() EntityType      { return EntityEpic }
func (p *EpicPayload) DisplayName() string { return p.Name }
func (*EpicPayload) isPayload()            {}

type IterationPayload struct {
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func (*IterationPayload) Kind() EntityType      { return EntityIteration }
func (p *IterationPayload) DisplayName() string { return p.Name }
func (*IterationPayload) isPayload()            {}

type LabelPayload struct {
	Name string `json:"name"`
}

func (*LabelPayload) Kind() EntityType      { return EntityLabel }
func (p *LabelPayload) DisplayName() string { return p.Name }
func (*LabelPayload) isPayload()            {}
