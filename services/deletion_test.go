package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pivotaltoshortcut/models"
	"pivotaltoshortcut/utils"
)

func newTestDeletion(t *testing.T, api *fakeAPI, ledgerCSV string) (*DeletionService, *Ledger, *[]time.Duration) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.csv")
	require.NoError(t, os.WriteFile(path, []byte(ledgerCSV), 0o644))
	ledger := NewLedger(path)

	svc := NewDeletionService(api, isFakeNotFound, ledger, 250*time.Millisecond, utils.NopEntry())
	var sleeps []time.Duration
	svc.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return svc, ledger, &sleeps
}

func TestPlanDeletion(t *testing.T) {
	entries := []models.LedgerEntry{
		{Type: models.EntityLabel, ID: "1"},
		{Type: models.EntityStory, ID: "5"},
		{Type: models.EntityEpic, ID: "2"},
		{Type: "widget", ID: "9"},
		{Type: models.EntityFile, ID: "7"},
		{Type: models.EntityStory, ID: "4"},
		{Type: models.EntityIteration, ID: "3"},
		{Type: models.EntityStory, ID: "5"},
	}

	assert.Equal(t, []models.LedgerEntry{
		{Type: "widget", ID: "9"},
		{Type: models.EntityFile, ID: "7"},
		{Type: models.EntityStory, ID: "5"},
		{Type: models.EntityStory, ID: "4"},
		{Type: models.EntityIteration, ID: "3"},
		{Type: models.EntityEpic, ID: "2"},
		{Type: models.EntityLabel, ID: "1"},
	}, PlanDeletion(entries))
}

func TestDeletionService_Run(t *testing.T) {
	api := &fakeAPI{}
	api.deleteFn = func(typ models.EntityType, id string) error {
		switch id {
		case "2":
			return errNotFound
		case "3":
			return errFake
		}
		return nil
	}
	svc, ledger, sleeps := newTestDeletion(t, api, "type,id\nlabel,1\nstory,2\nepic,3\nfile,4\nstory,2\nwidget,5\n")

	report, err := svc.Run(context.Background(), true)
	require.NoError(t, err)

	// 未知の種別はAPIを呼ばずに失敗として残る
	assert.Equal(t, []models.LedgerEntry{
		{Type: models.EntityFile, ID: "4"},
		{Type: models.EntityStory, ID: "2"},
		{Type: models.EntityEpic, ID: "3"},
		{Type: models.EntityLabel, ID: "1"},
	}, api.deleted)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond, 250 * time.Millisecond, 250 * time.Millisecond}, *sleeps)

	assert.Equal(t, map[models.EntityType]int{models.EntityFile: 1, models.EntityStory: 1, models.EntityLabel: 1}, report.Deleted)
	assert.Equal(t, map[models.EntityType]int{models.EntityEpic: 1, "widget": 1}, report.Failed)
	assert.Equal(t, 2, report.Remaining)

	entries, err := ledger.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []models.LedgerEntry{{Type: models.EntityEpic, ID: "3"}, {Type: "widget", ID: "5"}}, entries)

	// 2回目は残ったものだけが対象になる
	api.deleted = nil
	api.deleteFn = nil
	report, err = svc.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, []models.LedgerEntry{{Type: models.EntityEpic, ID: "3"}}, api.deleted)
	assert.Equal(t, 1, report.Remaining)
}

func TestDeletionService_DryRun(t *testing.T) {
	api := &fakeAPI{}
	svc, ledger, _ := newTestDeletion(t, api, "type,id\nlabel,1\nstory,2\n")

	report, err := svc.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, api.deleted)
	assert.Equal(t, map[models.EntityType]int{models.EntityLabel: 1, models.EntityStory: 1}, report.Planned)
	assert.Equal(t, 2, report.Remaining)

	entries, err := ledger.ReadAll()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestDeletionService_MissingLedger(t *testing.T) {
	svc := NewDeletionService(&fakeAPI{}, isFakeNotFound, NewLedger(filepath.Join(t.TempDir(), "none.csv")), 0, utils.NopEntry())
	_, err := svc.Run(context.Background(), true)
	assert.ErrorIs(t, err, ErrLedgerNotFound)
}

func TestDeletionService_CancelKeepsConfirmedDeletions(t *testing.T) {
	api := &fakeAPI{}
	svc, ledger, _ := newTestDeletion(t, api, "type,id\nstory,1\nstory,2\nlabel,3\n")
	ctx, cancel := context.WithCancel(context.Background())
	svc.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	report, err := svc.Run(ctx, true)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Deleted[models.EntityStory])

	entries, err := ledger.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []models.LedgerEntry{{Type: models.EntityStory, ID: "2"}, {Type: models.EntityLabel, ID: "3"}}, entries)
}
