package services

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pivotaltoshortcut/models"
)

func TestLedger_AppendAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.csv")
	l := NewLedger(path)
	assert.False(t, l.Exists())

	require.NoError(t, l.Append(models.LedgerEntry{Type: models.EntityLabel, ID: "1"}))
	require.NoError(t, l.Append())
	// 2回目の実行でもヘッダーは1回だけ
	require.NoError(t, NewLedger(path).Append(
		models.LedgerEntry{Type: models.EntityStory, ID: "2"},
		models.LedgerEntry{Type: models.EntityFile, ID: "3"},
	))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "type,id\nlabel,1\nstory,2\nfile,3\n", string(raw))

	entries, err := l.ReadAll()
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestLedger_Remove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	require.NoError(t, os.WriteFile(path, []byte("type,id\nlabel,1\nstory,2\nstory,2\nepic,3\n"), 0o644))
	l := NewLedger(path)

	remaining, err := l.Remove(map[models.LedgerEntry]struct{}{
		{Type: models.EntityStory, ID: "2"}: {},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "type,id\nlabel,1\nepic,3\n", string(raw))
}

func TestLedger_ReadAllRequiresHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	require.NoError(t, os.WriteFile(path, []byte("kind,identifier\nlabel,1\n"), 0o644))
	_, err := NewLedger(path).ReadAll()
	assert.Error(t, err)
}

func TestFailureLog_WriteFailedEntities(t *testing.T) {
	dir := t.TempDir()
	f := NewFailureLog(dir)
	f.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }

	recs := []*models.EntityRecord{
		{Type: models.EntityEpic, Entity: &models.EpicPayload{Name: "Epic", ExternalID: "77", GroupIDs: []string{}}, ErrorMessage: "boom"},
		{Type: models.EntityEpic},
	}
	require.NoError(t, f.WriteFailedEntities(models.EntityEpic, recs))
	require.NoError(t, f.WriteFailedEntities(models.EntityEpic, nil))

	assert.Equal(t, filepath.Join(dir, "failed_epics.csv"), f.FailedEntitiesPath(models.EntityEpic))
	raw, err := os.ReadFile(f.FailedEntitiesPath(models.EntityEpic))
	require.NoError(t, err)
	assert.Equal(t,
		"story_name,external_id,error_message,story_payload,timestamp\n"+
			`Epic,77,boom,"{""external_id"":""77"",""group_ids"":[],""name"":""Epic""}",2024-05-06 07:08:09`+"\n"+
			"Unknown,Unknown,Unknown error,null,2024-05-06 07:08:09\n",
		string(raw))
}

func TestFailureLog_WriteFailedFiles(t *testing.T) {
	dir := t.TempDir()
	f := NewFailureLog(dir)
	f.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }

	require.NoError(t, f.WriteFailedFiles([]models.FailedFile{{StoryID: "1", Filename: "a.png", Error: "timeout"}}))
	require.NoError(t, f.WriteFailedFiles([]models.FailedFile{{StoryID: "2", Filename: "b.png", Error: "413"}}))

	raw, err := os.ReadFile(f.FailedFilesPath())
	require.NoError(t, err)
	assert.Equal(t,
		"story_id,filename,error,timestamp\n1,a.png,timeout,2024-05-06 07:08:09\n2,b.png,413,2024-05-06 07:08:09\n",
		string(raw))
}

func TestAppendCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, appendCSV(path, []string{"a", "b"}, [][]string{{"1", "2"}}))
	require.NoError(t, appendCSV(path, []string{"a", "b"}, [][]string{{"3", "4"}}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n3,4\n", string(raw))

	// 親がディレクトリでない場合はエラーを返す
	err = appendCSV(filepath.Join(path, "child.csv"), []string{"a"}, [][]string{{"1"}})
	assert.Error(t, err)
}
