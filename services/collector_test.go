package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pivotaltoshortcut/models"
	"pivotaltoshortcut/utils"
)

func buildRecords(t *testing.T, bctx *BuildContext, rows ...*models.SourceRow) []*models.EntityRecord {
	t.Helper()
	recs := make([]*models.EntityRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := BuildEntity(bctx, row)
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	return recs
}

func iterationRow(id, name, iteration string, labels ...string) *models.SourceRow {
	return &models.SourceRow{
		ID:             id,
		Name:           name,
		StoryType:      "feature",
		Labels:         labels,
		IterationID:    iteration,
		IterationStart: "2024-01-01",
		IterationEnd:   "2024-01-14",
	}
}

func TestEntityCollector_DryRun(t *testing.T) {
	bctx := testBuildContext()
	c := NewEntityCollector(NewSimulatedEmitter(nil, utils.NopEntry()), nil, nil, bctx, 100, utils.NopEntry())

	recs := buildRecords(t, bctx,
		&models.SourceRow{ID: "1", Name: "Auth epic", StoryType: "epic", Labels: []string{"auth"}},
		iterationRow("2", "first", "42", "auth"),
		iterationRow("3", "second", "42"),
	)
	require.NoError(t, c.Collect(&models.EntityRecord{Type: models.EntityLabel, Entity: &models.LabelPayload{Name: "auth"}}))
	for _, rec := range recs {
		require.NoError(t, c.Collect(rec))
	}

	assert.Equal(t, map[models.EntityType]int{
		models.EntityLabel:     2,
		models.EntityEpic:      1,
		models.EntityIteration: 1,
		models.EntityStory:     2,
	}, c.Counts())

	res := c.Commit(context.Background())

	require.Len(t, res.Created, 6)
	ids := make([]int64, 0, len(res.Created))
	types := make([]string, 0, len(res.Created))
	for _, e := range res.Created {
		ids = append(ids, e.ID)
		types = append(types, e.EntityType)
	}
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5}, ids)
	assert.Equal(t, []string{"label", "label", "epic", "iteration", "story", "story"}, types)
	assert.Equal(t, "https://example.com/entity/0", res.RunLabelURL)
	assert.Equal(t, bctx.RunLabel, res.Created[0].Name)
	assert.Equal(t, "PT 42", res.Created[3].Name)

	first, second := recs[1].Story(), recs[2].Story()
	require.NotNil(t, first.IterationID)
	require.NotNil(t, second.IterationID)
	assert.Equal(t, int64(3), *first.IterationID)
	assert.Equal(t, *first.IterationID, *second.IterationID)
	require.NotNil(t, first.EpicID)
	assert.Equal(t, int64(2), *first.EpicID)
	assert.Nil(t, second.EpicID)
	assert.Empty(t, res.FailedByType)
}

func TestEntityCollector_RunLabelCreatedWhenEmpty(t *testing.T) {
	bctx := testBuildContext()
	api := &fakeAPI{}
	ledger := NewLedger(filepath.Join(t.TempDir(), "ledger.csv"))
	c := NewEntityCollector(NewLiveEmitter(api, nil, nil, utils.NopEntry()), ledger, nil, bctx, 100, utils.NopEntry())

	// 実行ラベルを重複して渡しても1件しか作成しない
	require.NoError(t, c.Collect(BuildRunLabelRecord(bctx.RunLabel)))
	res := c.Commit(context.Background())

	assert.Equal(t, []string{bctx.RunLabel}, api.createdNames())
	assert.Equal(t, 1, res.CreatedByType[models.EntityLabel])
	assert.NotEmpty(t, res.RunLabelURL)

	entries, err := ledger.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []models.LedgerEntry{{Type: models.EntityLabel, ID: "1001"}}, entries)
}

func TestEntityCollector_CollectUnknownType(t *testing.T) {
	c := NewEntityCollector(NewSimulatedEmitter(nil, utils.NopEntry()), nil, nil, testBuildContext(), 0, utils.NopEntry())
	err := c.Collect(&models.EntityRecord{Type: models.EntityFile})
	assert.Error(t, err)
}

func TestEntityCollector_LiveSharedIterationAndLedger(t *testing.T) {
	bctx := testBuildContext()
	dir := t.TempDir()
	api := &fakeAPI{}
	ledger := NewLedger(filepath.Join(dir, "ledger.csv"))
	failures := NewFailureLog(dir)
	c := NewEntityCollector(NewLiveEmitter(api, nil, failures, utils.NopEntry()), ledger, failures, bctx, 100, utils.NopEntry())

	recs := buildRecords(t, bctx,
		iterationRow("10", "a", "42"),
		iterationRow("11", "b", "42"),
		iterationRow("12", "c", "43"),
	)
	for _, rec := range recs {
		require.NoError(t, c.Collect(rec))
	}
	res := c.Commit(context.Background())

	assert.Equal(t, 2, res.CreatedByType[models.EntityIteration])
	assert.Equal(t, 3, res.CreatedByType[models.EntityStory])
	assert.Equal(t, 1, api.bulkCalls)
	assert.Equal(t, *recs[0].Story().IterationID, *recs[1].Story().IterationID)
	assert.NotEqual(t, *recs[0].Story().IterationID, *recs[2].Story().IterationID)

	entries, err := ledger.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 6)
	assert.Equal(t, models.EntityLabel, entries[0].Type)
	assert.Equal(t, models.EntityIteration, entries[1].Type)
	assert.Equal(t, models.EntityIteration, entries[2].Type)
	for _, e := range entries[3:] {
		assert.Equal(t, models.EntityStory, e.Type)
	}
}

func TestEntityCollector_Batches(t *testing.T) {
	bctx := testBuildContext()
	api := &fakeAPI{}
	c := NewEntityCollector(NewLiveEmitter(api, nil, nil, utils.NopEntry()), nil, nil, bctx, 2, utils.NopEntry())
	for _, rec := range buildRecords(t, bctx,
		iterationRow("1", "a", ""), iterationRow("2", "b", ""),
		iterationRow("3", "c", ""), iterationRow("4", "d", ""),
		iterationRow("5", "e", ""),
	) {
		require.NoError(t, c.Collect(rec))
	}
	res := c.Commit(context.Background())
	assert.Equal(t, 3, api.bulkCalls)
	assert.Equal(t, 5, res.CreatedByType[models.EntityStory])
}

func TestEntityCollector_BulkFallback(t *testing.T) {
	bctx := testBuildContext()
	dir := t.TempDir()
	api := &fakeAPI{}
	api.createStoriesFn = func([]*models.StoryPayload) ([]models.CreatedEntity, error) {
		return nil, errFake
	}
	next := int64(0)
	api.createFn = func(p models.Payload) (*models.CreatedEntity, error) {
		if p.DisplayName() == "broken" {
			return nil, errFake
		}
		next++
		return &models.CreatedEntity{ID: next, EntityType: string(p.Kind()), Name: p.DisplayName()}, nil
	}
	ledger := NewLedger(filepath.Join(dir, "ledger.csv"))
	failures := NewFailureLog(dir)
	c := NewEntityCollector(NewLiveEmitter(api, nil, failures, utils.NopEntry()), ledger, failures, bctx, 100, utils.NopEntry())

	for _, rec := range buildRecords(t, bctx,
		iterationRow("1", "ok-1", ""),
		iterationRow("2", "broken", ""),
		iterationRow("3", "ok-2", ""),
	) {
		require.NoError(t, c.Collect(rec))
	}
	res := c.Commit(context.Background())

	assert.Equal(t, 2, res.CreatedByType[models.EntityStory])
	assert.Equal(t, 1, res.FailedByType[models.EntityStory])

	raw, err := os.ReadFile(failures.FailedEntitiesPath(models.EntityStory))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "story_name,external_id,error_message,story_payload,timestamp", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "broken,2,fake api error,"))

	entries, err := ledger.ReadAll()
	require.NoError(t, err)
	var stories int
	for _, e := range entries {
		if e.Type == models.EntityStory {
			stories++
		}
	}
	assert.Equal(t, 2, stories)
}

func TestEntityCollector_FailedIterationFailsStories(t *testing.T) {
	bctx := testBuildContext()
	dir := t.TempDir()
	api := &fakeAPI{}
	api.createFn = func(p models.Payload) (*models.CreatedEntity, error) {
		if p.Kind() == models.EntityIteration {
			return nil, errFake
		}
		return &models.CreatedEntity{ID: 1, EntityType: string(p.Kind()), Name: p.DisplayName()}, nil
	}
	failures := NewFailureLog(dir)
	c := NewEntityCollector(NewLiveEmitter(api, nil, failures, utils.NopEntry()), nil, failures, bctx, 100, utils.NopEntry())
	for _, rec := range buildRecords(t, bctx, iterationRow("1", "a", "42"), iterationRow("2", "b", "")) {
		require.NoError(t, c.Collect(rec))
	}

	res := c.Commit(context.Background())
	assert.Equal(t, 1, res.FailedByType[models.EntityIteration])
	assert.Equal(t, 1, res.FailedByType[models.EntityStory])
	assert.Equal(t, 1, res.CreatedByType[models.EntityStory])
	assert.FileExists(t, failures.FailedEntitiesPath(models.EntityIteration))
	assert.FileExists(t, failures.FailedEntitiesPath(models.EntityStory))
}

func TestAssignStoriesToEpics_LastMatchWins(t *testing.T) {
	bctx := testBuildContext()
	epics := buildRecords(t, bctx,
		&models.SourceRow{ID: "e1", Name: "Epic A", StoryType: "epic", Labels: []string{"alpha"}},
		&models.SourceRow{ID: "e2", Name: "Epic B", StoryType: "epic", Labels: []string{"beta"}},
	)
	epics[0].Imported = &models.CreatedEntity{ID: 11}
	epics[1].Imported = &models.CreatedEntity{ID: 22}

	mapping := EpicLabelMapping(epics, bctx)
	assert.Equal(t, map[string]int64{"alpha": 11, "beta": 22}, mapping)

	stories := buildRecords(t, bctx,
		iterationRow("1", "both", "", "beta", "alpha"),
		iterationRow("2", "none", "", "gamma"),
		iterationRow("3", "markers only", ""),
	)
	AssignStoriesToEpics(stories, mapping)

	require.NotNil(t, stories[0].Story().EpicID)
	assert.Equal(t, int64(11), *stories[0].Story().EpicID)
	assert.Nil(t, stories[1].Story().EpicID)
	assert.Nil(t, stories[2].Story().EpicID)
}

func TestAssignStoriesToIterations(t *testing.T) {
	bctx := testBuildContext()
	stories := buildRecords(t, bctx,
		iterationRow("1", "linked", "42"),
		iterationRow("2", "missing", "99"),
		iterationRow("3", "no iteration", ""),
	)
	ready, unlinked := AssignStoriesToIterations(stories, map[string]int64{"42": 7})

	require.Len(t, ready, 2)
	require.Len(t, unlinked, 1)
	assert.Equal(t, int64(7), *ready[0].Story().IterationID)
	assert.Nil(t, ready[1].Story().IterationID)
	assert.Equal(t, "missing", unlinked[0].Name())
	assert.NotEmpty(t, unlinked[0].ErrorMessage)
}

func TestEntityCollector_NoFilesNoFileCount(t *testing.T) {
	bctx := testBuildContext()
	files := NewFileProcessor(t.TempDir(), nil, nil, nil, utils.NopEntry())
	c := NewEntityCollector(NewSimulatedEmitter(files, utils.NopEntry()), nil, nil, bctx, 100, utils.NopEntry())
	for _, rec := range buildRecords(t, bctx, &models.SourceRow{ID: "1", Name: "plain", StoryType: "feature"}) {
		require.NoError(t, c.Collect(rec))
	}

	res := c.Commit(context.Background())

	assert.Equal(t, map[models.EntityType]int{models.EntityLabel: 1, models.EntityStory: 1}, res.CreatedByType)
	assert.NotContains(t, res.CreatedByType, models.EntityFile)
}

func TestEntityCollector_LedgerWriteErrorDoesNotStopRun(t *testing.T) {
	bctx := testBuildContext()
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	ledger := NewLedger(filepath.Join(blocker, "ledger.csv"))

	api := &fakeAPI{}
	c := NewEntityCollector(NewLiveEmitter(api, nil, nil, utils.NopEntry()), ledger, nil, bctx, 100, utils.NopEntry())
	recs := buildRecords(t, bctx,
		&models.SourceRow{ID: "1", Name: "a", StoryType: "feature"},
		&models.SourceRow{ID: "2", Name: "b", StoryType: "bug"},
	)
	for _, rec := range recs {
		require.NoError(t, c.Collect(rec))
	}

	res := c.Commit(context.Background())

	assert.Equal(t, map[models.EntityType]int{models.EntityLabel: 1, models.EntityStory: 2}, res.CreatedByType)
	assert.Empty(t, res.FailedByType)
	assert.Len(t, res.Created, 3)
	assert.False(t, ledger.Exists())
}
