package app

import (
	"sync"

	"go.uber.org/zap"

	"github.com/yourusername/media-fetch-go/internal/domain"
	"github.com/yourusername/media-fetch-go/pkg/logger"
)

// snapshotPersister writes job snapshots in the background. Callers mark a
// job dirty without blocking; the loop coalesces marks and saves the latest
// snapshot. A job whose snapshot func returns nil is no longer saved.
type snapshotPersister struct {
	repo     domain.JobRepository
	snapshot func(id string) *domain.Job
	logger   *zap.Logger
	events   *logger.MultiLogger

	mu     sync.Mutex
	dirty  map[string]struct{}
	notify chan struct{}

	// held while a batch is written or a snapshot deleted
	writeMu sync.Mutex

	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newSnapshotPersister(repo domain.JobRepository, snapshot func(id string) *domain.Job, log *zap.Logger, events *logger.MultiLogger) *snapshotPersister {
	p := &snapshotPersister{
		repo:     repo,
		snapshot: snapshot,
		logger:   log,
		events:   events,
		dirty:    make(map[string]struct{}),
		notify:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go p.loop()
	return p
}

// mark schedules a save of the job's current state
func (p *snapshotPersister) mark(id string) {
	p.mu.Lock()
	p.dirty[id] = struct{}{}
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *snapshotPersister) loop() {
	defer close(p.stopped)
	for {
		select {
		case <-p.notify:
			p.Flush()
		case <-p.stop:
			p.Flush()
			return
		}
	}
}

// Flush writes every pending snapshot before returning
func (p *snapshotPersister) Flush() {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	ids := make([]string, 0, len(p.dirty))
	for id := range p.dirty {
		ids = append(ids, id)
	}
	p.dirty = make(map[string]struct{})
	p.mu.Unlock()

	for _, id := range ids {
		job := p.snapshot(id)
		if job == nil {
			continue
		}
		if err := p.repo.Save(job); err != nil {
			p.logger.Error("Failed to persist job", zap.String("job_id", id), zap.Error(err))
			p.events.LogAppError("Failed to persist job", zap.String("job_id", id), zap.Error(err))
		}
	}
}

// remove drops any pending save and deletes the stored snapshot. The caller
// must already have removed the job so snapshot(id) returns nil.
func (p *snapshotPersister) remove(id string) {
	p.mu.Lock()
	delete(p.dirty, id)
	p.mu.Unlock()

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.repo.Delete(id); err != nil {
		p.logger.Error("Failed to delete job snapshot", zap.String("job_id", id), zap.Error(err))
		p.events.LogAppError("Failed to delete job snapshot", zap.String("job_id", id), zap.Error(err))
	}
}

// Close flushes pending snapshots and stops the loop
func (p *snapshotPersister) Close() {
	p.once.Do(func() { close(p.stop) })
	<-p.stopped
}
