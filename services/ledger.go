package services

import (
	"fmt"
	"os"
	"sync"

	"pivotaltoshortcut/models"
)

var ledgerHeader = []string{"type", "id"}

// Ledger は作成済みエンティティ (type,id) を記録する追記専用のCSVです。
// 削除ツールの唯一の入力になります。
type Ledger struct {
	path string
	mu   sync.Mutex
}

// NewLedger は新しい台帳を作成します
func NewLedger(path string) *Ledger {
	return &Ledger{path: path}
}

// Path は台帳ファイルのパスを返します
func (l *Ledger) Path() string {
	return l.path
}

// Append はエンティティを台帳に追記します。書き込みのたびにファイルを開いて閉じます
func (l *Ledger) Append(entries ...models.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{string(e.Type), e.ID})
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := appendCSV(l.path, ledgerHeader, rows); err != nil {
		return fmt.Errorf("台帳書き込みエラー: %w", err)
	}
	return nil
}

// ReadAll は台帳の全行を読み込みます
func (l *Ledger) ReadAll() ([]models.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readAll()
}

func (l *Ledger) readAll() ([]models.LedgerEntry, error) {
	r, closeFn, err := openCSV(l.path)
	if err != nil {
		return nil, fmt.Errorf("台帳オープンエラー: %w", err)
	}
	defer closeFn()

	header, err := readHeader(r)
	if err != nil {
		return nil, fmt.Errorf("台帳ヘッダー読み込みエラー: %w", err)
	}
	if err := requireHeader(header, ledgerHeader...); err != nil {
		return nil, err
	}
	idx := headerIndex(header)

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("台帳読み込みエラー: %w", err)
	}
	entries := make([]models.LedgerEntry, 0, len(records))
	for _, rec := range records {
		t, id := field(rec, idx, "type"), field(rec, idx, "id")
		if t == "" && id == "" {
			continue
		}
		entries = append(entries, models.LedgerEntry{Type: models.EntityType(t), ID: id})
	}
	return entries, nil
}

// Remove は削除済みのエンティティを台帳から取り除き、残りの行数を返します
func (l *Ledger) Remove(deleted map[models.LedgerEntry]struct{}) (int, error) {
	if len(deleted) == 0 {
		return 0, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readAll()
	if err != nil {
		return 0, err
	}
	remaining := make([][]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := deleted[e]; ok {
			continue
		}
		remaining = append(remaining, []string{string(e.Type), e.ID})
	}
	if err := rewriteCSV(l.path, ledgerHeader, remaining); err != nil {
		return 0, fmt.Errorf("台帳更新エラー: %w", err)
	}
	return len(remaining), nil
}

// Exists は台帳ファイルが存在するかを返します
func (l *Ledger) Exists() bool {
	_, err := os.Stat(l.path)
	return err == nil
}
