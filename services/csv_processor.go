package services

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pivotaltoshortcut/config"
	"pivotaltoshortcut/models"
)

// commentPattern は Pivotal のコメント列 "本文 (作成者 - 日付)" に一致します
var commentPattern = regexp.MustCompile(`(?s)^(.*) \(([^()]+) - ([^()]+)\)$`)

// 入力として受け付ける日付形式
var dateFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"Jan 2, 2006 3:04PM",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006",
	"1/2/06 3:04 PM",
	"01/Jan/06 3:04 PM",
}

// CSVProcessor はPivotal CSVとマッピングCSVの読み込みを担当します
type CSVProcessor struct {
	config *config.Config
	log    *logrus.Entry
}

// NewCSVProcessor は新しいCSVプロセッサーを作成します
func NewCSVProcessor(cfg *config.Config, log *logrus.Entry) *CSVProcessor {
	return &CSVProcessor{
		config: cfg,
		log:    log,
	}
}

// ReadPivotalCSV はPivotalのCSVエクスポートを読み込み、行ごとに正規化します
func (p *CSVProcessor) ReadPivotalCSV() ([]*models.SourceRow, error) {
	p.log.Infof("Pivotal CSVファイル '%s' を読み込みます", p.config.PivotalCSV)

	r, closeFn, err := openCSV(p.config.PivotalCSV)
	if err != nil {
		return nil, fmt.Errorf("CSVオープンエラー: %w", err)
	}
	defer closeFn()

	header, err := readHeader(r)
	if err != nil {
		return nil, fmt.Errorf("CSVヘッダー読み込みエラー: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(header[i])
	}
	if err := requireHeader(header, "id", "title", "type"); err != nil {
		return nil, err
	}

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("CSV読み込みエラー: %w", err)
	}

	rows := make([]*models.SourceRow, 0, len(records))
	for i, record := range records {
		rows = append(rows, p.parseRow(header, record))
		if i > 0 && i%100 == 0 {
			p.log.Infof("処理中... %d/%d 行完了", i, len(records))
		}
	}

	p.log.Infof("Pivotal CSVを読み込みました: %d 行", len(rows))
	return rows, nil
}

// parseRow は1行を SourceRow に変換します。同名の列は出現順にリストとして集めます
func (p *CSVProcessor) parseRow(header, record []string) *models.SourceRow {
	single := make(map[string]string)
	multi := make(map[string][]string)
	for i, name := range header {
		value := ""
		if i < len(record) {
			value = strings.TrimSpace(record[i])
		}
		multi[name] = append(multi[name], value)
		if _, ok := single[name]; !ok {
			single[name] = value
		}
	}

	row := &models.SourceRow{
		ID:             single["id"],
		Name:           single["title"],
		Description:    single["description"],
		StoryType:      strings.ToLower(single["type"]),
		State:          single["current state"],
		Priority:       single["priority"],
		CreatedAt:      p.convertDateFormat(single["created at"], time.RFC3339),
		Deadline:       p.convertDateFormat(single["deadline"], time.RFC3339),
		Requester:      single["requested by"],
		Labels:         splitLabels(single["labels"]),
		Owners:         nonEmpty(multi["owned by"]),
		IterationID:    single["iteration"],
		IterationStart: p.convertDateOrRaw(single["iteration start"]),
		IterationEnd:   p.convertDateOrRaw(single["iteration end"]),
	}

	if est := single["estimate"]; est != "" {
		if n, err := strconv.Atoi(est); err == nil {
			row.Estimate = &n
		} else {
			p.log.WithField("id", row.ID).Warnf("見積もりを数値に変換できません: %q", est)
		}
	}

	tasks := zipColumns(multi["task"], multi["task status"])
	for _, t := range tasks {
		row.TaskTitles = append(row.TaskTitles, t[0])
		row.TaskStates = append(row.TaskStates, t[1])
	}

	reviews := zipColumns(multi["reviewer"], multi["review type"], multi["review status"])
	for _, rv := range reviews {
		row.Reviewers = append(row.Reviewers, rv[0])
		row.ReviewTypes = append(row.ReviewTypes, rv[1])
		row.ReviewStates = append(row.ReviewStates, rv[2])
	}

	for _, c := range nonEmpty(multi["comment"]) {
		row.Comments = append(row.Comments, p.parseComment(c))
	}

	for _, col := range []string{"url", "pull request", "git branch"} {
		row.ExternalLinks = append(row.ExternalLinks, nonEmpty(multi[col])...)
	}
	return row
}

func (p *CSVProcessor) parseComment(raw string) models.SourceComment {
	m := commentPattern.FindStringSubmatch(raw)
	if m == nil {
		return models.SourceComment{Text: raw}
	}
	return models.SourceComment{
		Text:      m[1],
		Author:    strings.TrimSpace(m[2]),
		CreatedAt: p.convertDateFormat(strings.TrimSpace(m[3]), time.RFC3339),
	}
}

// LoadUsers は users.csv を読み込み、メールアドレス経由でPivotalユーザー名をメンバーIDに解決します
func (p *CSVProcessor) LoadUsers(members []models.Member) (models.UserMapping, error) {
	p.log.Debugf("ユーザーマッピングを読み込みます: %s", p.config.UsersCSV)
	userToEmail, err := loadMappingCSV(p.config.UsersCSV, "pt_user_name", "shortcut_user_email")
	if err != nil {
		return nil, err
	}

	emailToID := make(map[string]string, len(members))
	for _, m := range members {
		emailToID[strings.ToLower(m.Profile.EmailAddress)] = m.ID
	}

	users := make(models.UserMapping, len(userToEmail))
	for ptUser, email := range userToEmail {
		if email == "" {
			continue
		}
		id, ok := emailToID[strings.ToLower(email)]
		if !ok {
			p.log.WithField("user", ptUser).Warnf("メールアドレス %s のメンバーが見つかりません", email)
			continue
		}
		users[ptUser] = id
	}
	return users, nil
}

// LoadStates は states.csv を読み込みます
func (p *CSVProcessor) LoadStates() (models.StateMapping, error) {
	p.log.Debugf("ワークフローステートを読み込みます: %s", p.config.StatesCSV)
	raw, err := loadMappingCSV(p.config.StatesCSV, "pt_state", "shortcut_state_id")
	if err != nil {
		return nil, err
	}
	states := make(models.StateMapping, len(raw))
	for ptState, v := range raw {
		if v == "" {
			continue
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ステータス %q のIDが数値ではありません: %w", ptState, err)
		}
		states[ptState] = id
	}
	return states, nil
}

// LoadPriorities は priorities.csv を読み込みます
func (p *CSVProcessor) LoadPriorities() (models.PriorityMapping, error) {
	p.log.Debugf("優先度を読み込みます: %s", p.config.PrioritiesCSV)
	raw, err := loadMappingCSV(p.config.PrioritiesCSV, "pt_priority", "shortcut_custom_field_value_id")
	if err != nil {
		return nil, err
	}
	return models.PriorityMapping(raw), nil
}

// loadMappingCSV は2列のマッピングCSVを読み込みます
func loadMappingCSV(path, fromKey, toKey string) (map[string]string, error) {
	r, closeFn, err := openCSV(path)
	if err != nil {
		return nil, fmt.Errorf("マッピングCSVオープンエラー: %w", err)
	}
	defer closeFn()

	header, err := readHeader(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := requireHeader(header, fromKey, toKey); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	idx := headerIndex(header)

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("マッピングCSV読み込みエラー: %w", err)
	}
	m := make(map[string]string, len(records))
	for _, rec := range records {
		from := field(rec, idx, fromKey)
		if from == "" {
			continue
		}
		m[from] = field(rec, idx, toKey)
	}
	return m, nil
}

// 日付文字列を変換。解析できなければ空文字
func (p *CSVProcessor) convertDateFormat(dateStr, layout string) string {
	if dateStr == "" {
		return ""
	}
	for _, format := range dateFormats {
		t, err := time.Parse(format, dateStr)
		if err == nil {
			return t.UTC().Format(layout)
		}
	}
	p.log.Warnf("日付変換エラー: '%s'", dateStr)
	return ""
}

// イテレーションの日付はキーに使うので、解析できなければ元の文字列を残す
func (p *CSVProcessor) convertDateOrRaw(dateStr string) string {
	if d := p.convertDateFormat(dateStr, "2006-01-02"); d != "" {
		return d
	}
	return dateStr
}

func splitLabels(s string) []string {
	var labels []string
	for _, l := range strings.Split(s, ",") {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, l)
		}
	}
	return labels
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// zipColumns は同名の繰り返し列を組にします。すべて空の組は除外します
func zipColumns(cols ...[]string) [][]string {
	n := 0
	for _, c := range cols {
		n = max(n, len(c))
	}
	var out [][]string
	for i := 0; i < n; i++ {
		tuple := make([]string, len(cols))
		empty := true
		for j, c := range cols {
			if i < len(c) {
				tuple[j] = c[i]
			}
			if tuple[j] != "" {
				empty = false
			}
		}
		if !empty {
			out = append(out, tuple)
		}
	}
	return out
}
