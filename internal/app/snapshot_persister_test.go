package app

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/media-fetch-go/internal/domain"
)

type failingRepo struct {
	*mockRepo
	mu    sync.Mutex
	saves int
}

func (r *failingRepo) Save(job *domain.Job) error {
	r.mu.Lock()
	r.saves++
	r.mu.Unlock()
	return errors.New("disk full")
}

func TestSnapshotPersister_SavesLatestState(t *testing.T) {
	repo := newMockRepo()
	job := domain.NewJob("https://example.com/a")
	var mu sync.Mutex
	snapshot := func(id string) *domain.Job {
		mu.Lock()
		defer mu.Unlock()
		if id != job.ID {
			return nil
		}
		return job.Clone()
	}

	p := newSnapshotPersister(repo, snapshot, zap.NewNop(), nil)
	p.mark(job.ID)
	mu.Lock()
	job.SetMessage("downloading")
	mu.Unlock()
	p.mark(job.ID)
	p.mark("unknown")
	p.Close()

	stored, err := repo.Load(job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "downloading", stored.Message)

	missing, err := repo.Load("unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSnapshotPersister_RemoveDropsPendingSave(t *testing.T) {
	repo := newMockRepo()
	job := domain.NewJob("https://example.com/a")
	require.NoError(t, repo.Save(job))

	p := newSnapshotPersister(repo, func(string) *domain.Job { return nil }, zap.NewNop(), nil)
	defer p.Close()

	p.mark(job.ID)
	p.remove(job.ID)
	p.Flush()

	stored, err := repo.Load(job.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestSnapshotPersister_SaveErrorsAreSwallowed(t *testing.T) {
	repo := &failingRepo{mockRepo: newMockRepo()}
	job := domain.NewJob("https://example.com/a")

	p := newSnapshotPersister(repo, func(string) *domain.Job { return job.Clone() }, zap.NewNop(), nil)
	p.mark(job.ID)
	assert.NotPanics(t, p.Close)
	p.Close()

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.GreaterOrEqual(t, repo.saves, 1)
}
