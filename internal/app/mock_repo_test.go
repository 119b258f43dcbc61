package app

import (
	"sync"

	"github.com/yourusername/media-fetch-go/internal/domain"
)

// mockRepo implements domain.JobRepository for testing
type mockRepo struct {
	mu    sync.Mutex
	jobs  map[string]*domain.Job
	order []string
}

func newMockRepo() *mockRepo {
	return &mockRepo{jobs: make(map[string]*domain.Job)}
}

func (r *mockRepo) Save(job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		r.order = append(r.order, job.ID)
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *mockRepo) Load(id string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		return job.Clone(), nil
	}
	return nil, nil
}

func (r *mockRepo) LoadAll() ([]*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Job
	for _, id := range r.order {
		if job, ok := r.jobs[id]; ok {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

func (r *mockRepo) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
	return nil
}
