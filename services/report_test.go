package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"pivotaltoshortcut/models"
)

func TestRunReport_AddCommit(t *testing.T) {
	r := NewRunReport("run", false, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "dry-run", r.Mode)

	r.AddCommit(nil)
	r.AddCommit(&CommitResult{
		CreatedByType: map[models.EntityType]int{models.EntityStory: 2, models.EntityLabel: 1},
		FailedByType:  map[models.EntityType]int{models.EntityStory: 1},
		RunLabelURL:   "https://example.com/entity/0",
	})
	r.AddCommit(&CommitResult{
		FailedByType: map[models.EntityType]int{models.EntityFile: 2},
	})

	assert.Equal(t, 2, r.Created[models.EntityStory])
	assert.Equal(t, 3, r.TotalFailed())
	assert.Equal(t, "https://example.com/entity/0", r.RunLabelURL)
}

func TestRunReport_Table(t *testing.T) {
	r := NewRunReport("run", true, time.Now())
	r.Collected[models.EntityStory] = 3
	r.Created[models.EntityStory] = 2
	r.Failed[models.EntityStory] = 1

	lines := strings.Split(r.Table(), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, []string{"type", "collected", "created", "failed"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"label", "0", "0", "0"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"story", "3", "2", "1"}, strings.Fields(lines[4]))
	assert.Equal(t, []string{"file", "0", "0", "0"}, strings.Fields(lines[5]))
}

func TestRunReport_WriteFile(t *testing.T) {
	r := NewRunReport("pivotal->shortcut 2024-07-01 12:00", true, time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC))
	r.Created[models.EntityEpic] = 4

	path := filepath.Join(t.TempDir(), "nested", "report.yaml")
	require.NoError(t, r.WriteFile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded RunReport
	require.NoError(t, yaml.Unmarshal(raw, &decoded))
	assert.Equal(t, r.RunID, decoded.RunID)
	assert.Equal(t, r.RunLabel, decoded.RunLabel)
	assert.Equal(t, 4, decoded.Created[models.EntityEpic])
	assert.True(t, r.StartedAt.Equal(decoded.StartedAt))

	assert.NoError(t, r.WriteFile(""))
}
