package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"pivotaltoshortcut/models"
)

var errFake = errors.New("fake api error")

// fakeAPI は関数フィールドで振る舞いを差し替えられるShortcut APIの偽物です
type fakeAPI struct {
	mu     sync.Mutex
	nextID int64

	createFn        func(p models.Payload) (*models.CreatedEntity, error)
	createStoriesFn func(stories []*models.StoryPayload) ([]models.CreatedEntity, error)
	uploadFn        func(path string) (*models.UploadedFile, error)
	deleteFn        func(t models.EntityType, id string) error
	members         []models.Member

	created   []models.Payload
	bulkCalls int
	uploads   []string
	deleted   []models.LedgerEntry
}

func (f *fakeAPI) id() int64 {
	f.nextID++
	return 1000 + f.nextID
}

func (f *fakeAPI) Create(_ context.Context, p models.Payload) (*models.CreatedEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createFn != nil {
		c, err := f.createFn(p)
		if err == nil {
			f.created = append(f.created, p)
		}
		return c, err
	}
	f.created = append(f.created, p)
	id := f.id()
	return &models.CreatedEntity{
		ID:         id,
		EntityType: string(p.Kind()),
		Name:       p.DisplayName(),
		AppURL:     fmt.Sprintf("https://app.shortcut.com/test/%s/%d", p.Kind(), id),
	}, nil
}

func (f *fakeAPI) CreateStories(_ context.Context, stories []*models.StoryPayload) ([]models.CreatedEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkCalls++
	if f.createStoriesFn != nil {
		return f.createStoriesFn(stories)
	}
	out := make([]models.CreatedEntity, 0, len(stories))
	for _, s := range stories {
		f.created = append(f.created, s)
		out = append(out, models.CreatedEntity{ID: f.id(), EntityType: "story", Name: s.Name, ExternalID: s.ExternalID})
	}
	return out, nil
}

func (f *fakeAPI) UploadFile(_ context.Context, path string) (*models.UploadedFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, filepath.Base(path))
	if f.uploadFn != nil {
		return f.uploadFn(path)
	}
	id := f.id()
	name := filepath.Base(path)
	return &models.UploadedFile{
		ID:         id,
		EntityType: "file",
		Name:       name,
		Filename:   name,
		URL:        fmt.Sprintf("https://files.shortcut.test/%d/%s", id, name),
	}, nil
}

func (f *fakeAPI) ListMembers(_ context.Context) ([]models.Member, error) {
	return f.members, nil
}

func (f *fakeAPI) Delete(_ context.Context, t models.EntityType, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, models.LedgerEntry{Type: t, ID: id})
	if f.deleteFn != nil {
		return f.deleteFn(t, id)
	}
	return nil
}

func (f *fakeAPI) createdNames() []string {
	names := make([]string, 0, len(f.created))
	for _, p := range f.created {
		names = append(names, p.DisplayName())
	}
	return names
}

var errNotFound = errors.New("not found")

func isFakeNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}
