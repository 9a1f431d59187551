package models

import "strconv"

// CreatedEntity はShortcut APIが返す作成済みエンティティの共通部分です
type CreatedEntity struct {
	ID         int64   `json:"id"`
	EntityType string  `json:"entity_type"`
	Name       string  `json:"name"`
	AppURL     string  `json:"app_url"`
	ExternalID string  `json:"external_id,omitempty"`
	Labels     []Label `json:"labels,omitempty"`
}

// IDString は台帳に書き込むID文字列を返します
func (e *CreatedEntity) IDString() string {
	return strconv.FormatInt(e.ID, 10)
}

// UploadedFile は POST /files のレスポンス要素です
type UploadedFile struct {
	ID          int64  `json:"id"`
	EntityType  string `json:"entity_type"`
	Name        string `json:"name"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
}

// Member は GET /members のレスポンス要素です
type Member struct {
	ID       string `json:"id"`
	Disabled bool   `json:"disabled"`
	Profile  struct {
		Name         string `json:"name"`
		MentionName  string `json:"mention_name"`
		EmailAddress string `json:"email_address"`
	} `json:"profile"`
}

// StorySummary は GET /groups/{id}/stories のレスポンス要素です
type StorySummary struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	ExternalID string `json:"external_id"`
	AppURL     string `json:"app_url"`
}

// Comment はストーリーコメント作成のレスポンスです
type Comment struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}
