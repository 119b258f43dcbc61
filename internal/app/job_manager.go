package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/media-fetch-go/internal/domain"
	"github.com/yourusername/media-fetch-go/internal/infrastructure"
	"github.com/yourusername/media-fetch-go/pkg/logger"
)

const restartMessage = "interrupted by server restart"

// Deps are the collaborators of a JobManager. History, Notifier, Metrics and
// Events are optional.
type Deps struct {
	Repo       domain.JobRepository
	Metadata   domain.MetadataProvider
	Commands   domain.CommandBuilder
	History    domain.DownloadHistory
	Supervisor *infrastructure.ProcessSupervisor
	Packager   *infrastructure.Packager
	Notifier   *infrastructure.NotificationService
	Metrics    *Metrics
	Config     *domain.Config
	Logger     *zap.Logger
	Events     *logger.MultiLogger
}

// jobRuntime tracks the background execution of one job
type jobRuntime struct {
	canceled   chan struct{}
	cancelOnce sync.Once
	done       chan struct{}

	// pause generations, guarded by JobManager.mu
	jobPauses  uint64
	itemPauses map[int]uint64
}

func newJobRuntime() *jobRuntime {
	return &jobRuntime{
		canceled:   make(chan struct{}),
		done:       make(chan struct{}),
		itemPauses: make(map[int]uint64),
	}
}

func (rt *jobRuntime) signalCancel() {
	rt.cancelOnce.Do(func() { close(rt.canceled) })
}

// JobManager is the registry of jobs and their public control surface.
// All job state sits behind one mutex that is never held across a
// subprocess wait or filesystem walk.
type JobManager struct {
	repo       domain.JobRepository
	metadata   domain.MetadataProvider
	commands   domain.CommandBuilder
	history    domain.DownloadHistory
	supervisor *infrastructure.ProcessSupervisor
	packager   *infrastructure.Packager
	notifier   *infrastructure.NotificationService
	metrics    *Metrics
	config     *domain.Config
	logger     *zap.Logger
	events     *logger.MultiLogger

	mu       sync.Mutex
	jobs     map[string]*domain.Job
	runtimes map[string]*jobRuntime
	closed   bool

	slots     chan struct{}
	persister *snapshotPersister

	ctx    context.Context
	cancel context.CancelFunc
	runWG  sync.WaitGroup
}

// NewJobManager creates a job manager. Call Init before serving requests.
func NewJobManager(deps Deps) *JobManager {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = domain.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &JobManager{
		repo:       deps.Repo,
		metadata:   deps.Metadata,
		commands:   deps.Commands,
		history:    deps.History,
		supervisor: deps.Supervisor,
		packager:   deps.Packager,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		config:     cfg,
		logger:     log,
		events:     deps.Events,
		jobs:       make(map[string]*domain.Job),
		runtimes:   make(map[string]*jobRuntime),
		ctx:        ctx,
		cancel:     cancel,
	}
	if n := cfg.Worker.MaxConcurrentJobs; n > 0 {
		m.slots = make(chan struct{}, n)
	}
	m.persister = newSnapshotPersister(deps.Repo, m.snapshot, log, deps.Events)
	return m
}

// Init restores persisted jobs. Jobs that were still active when the
// previous process stopped are reclassified as canceled, since their
// subprocesses cannot have survived. Undecodable snapshots are skipped and
// reported through the returned error.
func (m *JobManager) Init() error {
	jobs, loadErr := m.repo.LoadAll()
	if loadErr != nil {
		m.logger.Error("Failed to load some jobs", zap.Error(loadErr))
		m.events.LogAppError("Failed to load some jobs", zap.Error(loadErr))
	}

	var interrupted []string
	m.mu.Lock()
	for _, job := range jobs {
		if job.IsActive() {
			job.CancelRequested = true
			job.Paused = false
			for i := range job.Items {
				if job.Items[i].Status == domain.ItemDownloading {
					job.Items[i].Status = domain.ItemPaused
				}
			}
			job.MarkCanceled(restartMessage)
			interrupted = append(interrupted, job.ID)
		}
		m.jobs[job.ID] = job
	}
	m.mu.Unlock()

	for _, id := range interrupted {
		m.persister.mark(id)
		m.events.LogJobEvent("job_interrupted", zap.String("job_id", id))
	}

	m.logger.Info("Jobs restored",
		zap.Int("count", len(jobs)),
		zap.Int("interrupted", len(interrupted)))

	if loadErr != nil {
		return fmt.Errorf("failed to restore jobs: %w", loadErr)
	}
	return nil
}

// CreateJob queues a whole-collection (or single item) download of url
func (m *JobManager) CreateJob(url string) (string, error) {
	if err := domain.ValidateSourceURL(url); err != nil {
		return "", err
	}
	return m.submit(domain.NewJob(url))
}

// CreateJobWithItems queues a download of an explicit list of item URLs.
// Titles and thumbnails are optional and matched by position.
func (m *JobManager) CreateJobWithItems(collectionURL string, itemURLs, titles, thumbnails []string) (string, error) {
	if err := domain.ValidateSourceURL(collectionURL); err != nil {
		return "", err
	}
	job, err := domain.NewJobWithItems(collectionURL, itemURLs, titles, thumbnails)
	if err != nil {
		return "", err
	}
	return m.submit(job)
}

func (m *JobManager) submit(job *domain.Job) (string, error) {
	rt := newJobRuntime()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", domain.ErrShuttingDown
	}
	m.jobs[job.ID] = job
	m.runtimes[job.ID] = rt
	m.runWG.Add(1)
	m.mu.Unlock()

	m.persister.mark(job.ID)
	m.metrics.jobCreated(job.IsSelective())
	m.events.LogJobEvent("job_created",
		zap.String("job_id", job.ID),
		zap.String("url", job.SourceURL),
		zap.Int("items", len(job.Items)))

	go m.runJob(job.ID, rt)
	return job.ID, nil
}

// GetJob returns a snapshot of a job
func (m *JobManager) GetJob(id string) (*domain.Job, error) {
	if job := m.snapshot(id); job != nil {
		return job, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
}

// ListJobs returns summaries of all jobs, newest first
func (m *JobManager) ListJobs() []domain.JobSummary {
	m.mu.Lock()
	summaries := make([]domain.JobSummary, 0, len(m.jobs))
	for _, job := range m.jobs {
		summaries = append(summaries, job.Summary())
	}
	m.mu.Unlock()

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries
}

// JobStats counts jobs by status
type JobStats struct {
	Total         int                      `json:"total"`
	Active        int                      `json:"active"`
	ByStatus      map[domain.JobStatus]int `json:"by_status"`
	LiveProcesses int                      `json:"live_processes"`
	Accepting     bool                     `json:"accepting"`
}

// Stats reports job counts and whether new jobs are accepted
func (m *JobManager) Stats() JobStats {
	m.mu.Lock()
	stats := JobStats{
		Total:     len(m.jobs),
		ByStatus:  make(map[domain.JobStatus]int),
		Accepting: !m.closed,
	}
	for _, job := range m.jobs {
		stats.ByStatus[job.Status]++
		if job.IsActive() {
			stats.Active++
		}
	}
	m.mu.Unlock()

	stats.LiveProcesses = m.supervisor.TotalLive()
	return stats
}

// CancelJob requests cancellation. A queued job is canceled at once; a
// running one moves to canceling while its processes are terminated.
// Calling it again, or on a finished job, changes nothing.
func (m *JobManager) CancelJob(id string) bool {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	changed := job.IsActive() && !job.CancelRequested
	if changed {
		job.RequestCancel()
	}
	status := job.Status
	rt := m.runtimes[id]
	m.mu.Unlock()

	if changed {
		m.persister.mark(id)
		m.events.LogJobEvent("job_cancel_requested", zap.String("job_id", id), zap.String("status", string(status)))
		if status == domain.JobCanceled {
			m.metrics.jobFinished(status, 0)
		}
	}
	if rt != nil {
		rt.signalCancel()
	}
	go m.supervisor.TerminateJob(id)
	return true
}

// PauseJob pauses a job: in-flight items are demoted to paused and the
// job's processes are terminated so workers observe the pause promptly
func (m *JobManager) PauseJob(id string) bool {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.IsTerminal() {
		m.mu.Unlock()
		return false
	}
	job.Pause()
	if rt := m.runtimes[id]; rt != nil {
		rt.jobPauses++
	}
	m.mu.Unlock()

	m.persister.mark(id)
	m.events.LogJobEvent("job_paused", zap.String("job_id", id))
	go m.supervisor.TerminateJob(id)
	return true
}

// ResumeJob clears the pause flag; waiting workers pick the work back up
func (m *JobManager) ResumeJob(id string) bool {
	if !m.update(id, func(job *domain.Job) bool {
		if job.IsTerminal() {
			return false
		}
		job.Resume()
		return true
	}) {
		return false
	}
	m.events.LogJobEvent("job_resumed", zap.String("job_id", id))
	return true
}

// PauseItem pauses one item of a selective job. Only that item's process
// is terminated.
func (m *JobManager) PauseItem(id string, index int) bool {
	var wasDownloading bool
	ok := m.update(id, func(job *domain.Job) bool {
		item := job.Item(index)
		if item == nil {
			return false
		}
		wasDownloading = item.Status == domain.ItemDownloading
		job.PauseItem(index)
		if rt := m.runtimes[id]; rt != nil {
			rt.itemPauses[index]++
		}
		if wasDownloading {
			item.Status = domain.ItemPaused
			job.RecomputeProgressFromItems()
		}
		return true
	})
	if !ok {
		return false
	}
	if wasDownloading {
		go m.supervisor.TerminateItem(id, index)
	}
	return true
}

// ResumeItem returns a paused item to pending
func (m *JobManager) ResumeItem(id string, index int) bool {
	return m.update(id, func(job *domain.Job) bool {
		return job.ResumeItem(index)
	})
}

// DeleteJob cancels an active job, waits briefly for it to stop, then
// removes the job from memory, storage and disk. Filesystem errors are
// logged and ignored.
func (m *JobManager) DeleteJob(id string) bool {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	active := job.IsActive()
	if active && !job.CancelRequested {
		job.RequestCancel()
	}
	outputDir := job.OutputDirectory
	rt := m.runtimes[id]
	m.mu.Unlock()

	if active {
		if rt != nil {
			rt.signalCancel()
		}
		m.supervisor.TerminateJob(id)
		if rt != nil {
			select {
			case <-rt.done:
			case <-time.After(m.config.Worker.DeleteWait):
				m.logger.Warn("Job still running after delete wait", zap.String("job_id", id))
			}
		}
	}

	m.mu.Lock()
	delete(m.jobs, id)
	delete(m.runtimes, id)
	m.mu.Unlock()

	m.persister.remove(id)
	m.removeJobFiles(id, outputDir)

	m.events.LogJobEvent("job_deleted", zap.String("job_id", id))
	return true
}

func (m *JobManager) removeJobFiles(id, outputDir string) {
	if outputDir == "" {
		outputDir = m.outputDir(id)
	}
	for _, dir := range []string{m.packager.JobDir(id), outputDir} {
		if err := os.RemoveAll(dir); err != nil {
			m.logger.Warn("Failed to remove job directory",
				zap.String("job_id", id),
				zap.String("path", dir),
				zap.Error(err))
		}
	}
}

// InvalidateArchive clears the archive of a job whose files changed and,
// for a finished job, rebuilds it in the background
func (m *JobManager) InvalidateArchive(id string) bool {
	var rebuild bool
	var outputDir string
	ok := m.update(id, func(job *domain.Job) bool {
		job.ArchivePath = ""
		job.Touch()
		outputDir = job.OutputDirectory
		rebuild = outputDir != "" && (job.Status == domain.JobDone || job.Status == domain.JobCanceled)
		return true
	})
	if !ok {
		return false
	}

	if rebuild {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return true
		}
		m.runWG.Add(1)
		m.mu.Unlock()
		go m.rebuildArchive(id, outputDir)
	}
	return true
}

func (m *JobManager) rebuildArchive(id, outputDir string) {
	defer m.runWG.Done()

	path, err := m.packager.Package(id, outputDir)
	if err != nil {
		m.logger.Error("Failed to rebuild archive", zap.String("job_id", id), zap.Error(err))
		m.events.LogAppError("Failed to rebuild archive", zap.String("job_id", id), zap.Error(err))
		return
	}
	m.update(id, func(job *domain.Job) bool {
		if job.ArchivePath != "" {
			return false
		}
		job.ArchivePath = path
		job.Touch()
		return true
	})
}

// ArchiveFile returns the path of a job's archive once it may be downloaded
func (m *JobManager) ArchiveFile(id string) (string, error) {
	job := m.snapshot(id)
	if job == nil {
		return "", fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	if !job.ArchiveReady() {
		return "", domain.ErrArchiveNotReady
	}
	if _, err := os.Stat(job.ArchivePath); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrArchiveNotReady, err)
	}
	return job.ArchivePath, nil
}

// Shutdown cancels every active job, terminates their processes, waits for
// the runners (bounded by ctx) and flushes snapshots
func (m *JobManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	var canceled []string
	for id, job := range m.jobs {
		if job.IsActive() && !job.CancelRequested {
			job.RequestCancel()
			canceled = append(canceled, id)
		}
	}
	for _, rt := range m.runtimes {
		rt.signalCancel()
	}
	m.mu.Unlock()

	for _, id := range canceled {
		m.persister.mark(id)
	}
	m.cancel()
	m.supervisor.TerminateAll()

	done := make(chan struct{})
	go func() {
		m.runWG.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("jobs still running at shutdown: %w", ctx.Err())
	}

	m.persister.Close()
	return err
}

// snapshot returns a deep copy of a job, or nil when it does not exist
func (m *JobManager) snapshot(id string) *domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		return job.Clone()
	}
	return nil
}

// update applies fn to a job under the state lock and schedules a save when
// fn reports a change. Returns false for unknown ids or when fn does.
func (m *JobManager) update(id string, fn func(job *domain.Job) bool) bool {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if ok {
		ok = fn(job)
	}
	m.mu.Unlock()
	if ok {
		m.persister.mark(id)
	}
	return ok
}

// flags reads the coordination flags of a job
func (m *JobManager) flags(id string) (canceled, paused, exists bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return false, false, false
	}
	return job.CancelRequested, job.Paused, true
}

// pauseCount returns the pause generation seen by one process of a job:
// job pauses plus, for index > 0, pauses of that item alone
func (m *JobManager) pauseCount(id string, index int) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt := m.runtimes[id]
	if rt == nil {
		return 0
	}
	n := rt.jobPauses
	if index > 0 {
		n += rt.itemPauses[index]
	}
	return n
}

func (m *JobManager) outputDir(id string) string {
	return filepath.Join(m.config.Download.OutputDir(), id)
}

// Flush blocks until all pending snapshots are written
func (m *JobManager) Flush() {
	m.persister.Flush()
}

// sleepCtx waits for d or until ctx is done; reports whether d elapsed
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
