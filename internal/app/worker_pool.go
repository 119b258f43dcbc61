package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/media-fetch-go/internal/domain"
	"github.com/yourusername/media-fetch-go/internal/infrastructure"
)

// itemQueue is the FIFO of item indices shared by a job's workers. It has
// its own lock so dispatch never waits on the job-state lock.
type itemQueue struct {
	mu      sync.Mutex
	indices []int
}

func newItemQueue(indices []int) *itemQueue {
	return &itemQueue{indices: append([]int(nil), indices...)}
}

func (q *itemQueue) pop() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.indices) == 0 {
		return 0, false
	}
	idx := q.indices[0]
	q.indices = q.indices[1:]
	return idx, true
}

func (q *itemQueue) push(idx int) {
	q.mu.Lock()
	q.indices = append(q.indices, idx)
	q.mu.Unlock()
}

func (q *itemQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.indices)
}

type claimResult int

const (
	claimRun claimResult = iota
	claimSkip
	claimRequeue
	claimStop
)

// workerPool runs the selected items of one job with bounded concurrency
type workerPool struct {
	m       *JobManager
	jobID   string
	folder  string
	queue   *itemQueue
	workers int
	poll    time.Duration
}

func (m *JobManager) newWorkerPool(jobID, folder string, indices []int) *workerPool {
	workers := m.config.Worker.EffectiveConcurrency()
	if workers > len(indices) {
		workers = len(indices)
	}
	poll := m.config.Worker.PausePollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &workerPool{
		m:       m,
		jobID:   jobID,
		folder:  folder,
		queue:   newItemQueue(indices),
		workers: workers,
		poll:    poll,
	}
}

// run blocks until every worker has exited
func (p *workerPool) run(ctx context.Context) {
	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx)
		}()
	}
	wg.Wait()

	p.m.logger.Debug("Workers joined",
		zap.String("job_id", p.jobID),
		zap.Int("workers", p.workers),
		zap.Int("left_in_queue", p.queue.len()))
}

func (p *workerPool) work(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		canceled, paused, exists := p.m.flags(p.jobID)
		if canceled || !exists {
			return
		}
		if paused {
			if !sleepCtx(ctx, p.poll) {
				return
			}
			continue
		}

		idx, ok := p.queue.pop()
		if !ok {
			return
		}

		result, url := p.claim(idx)
		switch result {
		case claimStop:
			return
		case claimSkip:
			continue
		case claimRequeue:
			p.queue.push(idx)
			if !sleepCtx(ctx, p.poll) {
				return
			}
			continue
		}

		p.download(ctx, idx, url)
	}
}

// claim decides what to do with a popped index and, when it is to run,
// marks the item downloading
func (p *workerPool) claim(idx int) (claimResult, string) {
	p.m.mu.Lock()
	job, ok := p.m.jobs[p.jobID]
	if !ok || job.CancelRequested {
		p.m.mu.Unlock()
		return claimStop, ""
	}
	item := job.Item(idx)
	if item == nil || item.IsFinished() {
		p.m.mu.Unlock()
		return claimSkip, ""
	}
	if job.IsItemPaused(idx) {
		changed := item.Status != domain.ItemPaused
		if changed {
			item.Status = domain.ItemPaused
			job.Touch()
		}
		p.m.mu.Unlock()
		if changed {
			p.m.persister.mark(p.jobID)
		}
		return claimRequeue, ""
	}
	if job.Paused {
		p.m.mu.Unlock()
		return claimRequeue, ""
	}

	item.MarkDownloading()
	job.RecomputeProgressFromItems()
	job.Touch()
	url := item.SourceURL
	p.m.mu.Unlock()

	p.m.persister.mark(p.jobID)
	return claimRun, url
}

func (p *workerPool) download(ctx context.Context, idx int, url string) {
	command := p.m.commands.ItemCommand(url, p.folder)
	pausesBefore := p.m.pauseCount(p.jobID, idx)

	code, err := p.m.supervisor.Run(ctx, infrastructure.RunOptions{
		JobID:     p.jobID,
		ItemIndex: idx,
		Dir:       p.folder,
		Abort:     func() bool { return p.m.interrupted(p.jobID, idx) },
	}, command, func(line string, isErr bool) {
		p.handleLine(idx, line, isErr)
	})

	pausedDuring := p.m.pauseCount(p.jobID, idx) != pausesBefore
	p.finish(idx, code, err, pausedDuring)
}

// handleLine logs one output line and updates only this item's progress
func (p *workerPool) handleLine(idx int, line string, isErr bool) {
	p.m.update(p.jobID, func(job *domain.Job) bool {
		job.AppendLog(line, isErr)
		if pct, ok := infrastructure.ParseDownloadPercent(line); ok {
			if item := job.Item(idx); item != nil && item.Status == domain.ItemDownloading {
				item.SetProgress(pct)
				job.RecomputeProgressFromItems()
			}
		}
		return true
	})
}

// finish records the outcome of one item attempt
func (p *workerPool) finish(idx, code int, runErr error, pausedDuring bool) {
	var status domain.ItemStatus
	requeue := false

	p.m.mu.Lock()
	job, ok := p.m.jobs[p.jobID]
	if !ok {
		p.m.mu.Unlock()
		return
	}
	item := job.Item(idx)
	if item == nil {
		p.m.mu.Unlock()
		return
	}

	switch {
	case runErr == nil && code == 0:
		item.MarkDone()
	case job.CancelRequested:
		item.Status = domain.ItemSkipped
	case job.Paused || job.IsItemPaused(idx):
		item.Status = domain.ItemPaused
		requeue = true
	case pausedDuring:
		// paused and resumed while the process was dying
		item.Status = domain.ItemPending
		requeue = true
	case runErr != nil:
		msg := fmt.Sprintf("failed to start download: %v", runErr)
		item.MarkError(msg)
		job.AppendLog(msg, true)
	default:
		item.MarkError(fmt.Sprintf("download failed (exit code %d)", code))
	}
	status = item.Status
	job.RecomputeProgressFromItems()
	job.Touch()
	p.m.mu.Unlock()

	p.m.persister.mark(p.jobID)

	if requeue {
		p.queue.push(idx)
		return
	}

	if runErr != nil {
		p.m.events.LogAppError("Failed to start item download",
			zap.String("job_id", p.jobID),
			zap.Int("item_index", idx),
			zap.Error(runErr))
	}
	p.m.metrics.itemFinished(status)
	p.m.events.LogJobEvent("item_finished",
		zap.String("job_id", p.jobID),
		zap.Int("item_index", idx),
		zap.String("status", string(status)),
		zap.Int("exit_code", code))
}
