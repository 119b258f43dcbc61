package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/media-fetch-go/internal/domain"
	"github.com/yourusername/media-fetch-go/internal/infrastructure"
)

// runJob is the background execution of one job, from slot wait to finalize
func (m *JobManager) runJob(id string, rt *jobRuntime) {
	defer m.runWG.Done()
	defer close(rt.done)

	if !m.acquireSlot(rt) {
		return
	}
	defer m.releaseSlot()

	if !m.beginJob(id) {
		return
	}
	started := time.Now()
	m.metrics.jobStarted()
	defer m.metrics.jobStopped()
	m.events.LogJobEvent("job_started", zap.String("job_id", id))

	ctx, cancel := context.WithCancel(m.ctx)
	defer cancel()
	go func() {
		select {
		case <-rt.canceled:
			cancel()
		case <-ctx.Done():
		}
	}()

	failMsg := m.execute(ctx, id)
	m.finalize(id, failMsg, started)
}

func (m *JobManager) acquireSlot(rt *jobRuntime) bool {
	if m.slots == nil {
		return true
	}
	select {
	case m.slots <- struct{}{}:
		return true
	case <-rt.canceled:
		return false
	case <-m.ctx.Done():
		return false
	}
}

func (m *JobManager) releaseSlot() {
	if m.slots != nil {
		<-m.slots
	}
}

// beginJob moves a queued job to running; false when it was canceled first
func (m *JobManager) beginJob(id string) bool {
	return m.update(id, func(job *domain.Job) bool {
		if job.CancelRequested || job.Status != domain.JobQueued {
			return false
		}
		job.MarkRunning()
		return true
	})
}

// execute prepares the output tree, fetches metadata and runs the download.
// Returns a failure message, or "" when the job ended normally or was canceled.
func (m *JobManager) execute(ctx context.Context, id string) string {
	if err := m.commands.Validate(); err != nil {
		m.logger.Error("Downloader unavailable", zap.String("job_id", id), zap.Error(err))
		m.events.LogAppError("Downloader unavailable", zap.String("job_id", id), zap.Error(err))
		return fmt.Sprintf("downloader unavailable: %v", err)
	}

	outputDir := m.outputDir(id)
	for _, dir := range []string{outputDir, m.packager.JobDir(id)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Sprintf("failed to create output directory: %v", err)
		}
	}

	var sourceURL string
	var selective bool
	if !m.update(id, func(job *domain.Job) bool {
		job.OutputDirectory = outputDir
		job.SetMessage("fetching metadata")
		sourceURL = job.SourceURL
		selective = job.IsSelective()
		return true
	}) {
		return ""
	}

	m.loadMetadata(ctx, id, sourceURL, selective, outputDir)

	if canceled, _, exists := m.flags(id); canceled || !exists {
		return ""
	}
	if selective {
		return m.runSelected(ctx, id, outputDir)
	}
	return m.runCollection(ctx, id, sourceURL, outputDir)
}

// loadMetadata fills title, artwork and item count. Failures only cost
// cosmetics, so they are logged and the download proceeds.
func (m *JobManager) loadMetadata(ctx context.Context, id, sourceURL string, selective bool, outputDir string) {
	if m.metadata == nil {
		return
	}

	var title, thumb string
	if selective || m.metadata.IsCollectionURL(sourceURL) {
		meta, err := m.metadata.FetchCollectionMetadata(ctx, sourceURL)
		if err != nil {
			m.logger.Warn("Failed to fetch collection metadata", zap.String("job_id", id), zap.Error(err))
			return
		}
		if meta == nil {
			return
		}
		title = meta.Title
		thumb = domain.SelectBestThumbnail(meta.Thumbnails, meta.Thumbnail)
		if thumb == "" && len(meta.Entries) > 0 {
			first := meta.Entries[0]
			thumb = domain.SelectBestThumbnail(first.Thumbnails, first.Thumbnail)
		}
		m.update(id, func(job *domain.Job) bool {
			if title != "" {
				job.CollectionTitle = title
			}
			job.ThumbnailURL = thumb
			if !job.IsSelective() && meta.ItemCount > 0 {
				job.TotalItemCount = meta.ItemCount
			}
			backfillThumbnails(job, meta.Entries)
			job.Touch()
			return true
		})
	} else {
		meta, err := m.metadata.FetchSingleMetadata(ctx, sourceURL)
		if err != nil {
			m.logger.Warn("Failed to fetch metadata", zap.String("job_id", id), zap.Error(err))
			return
		}
		if meta == nil {
			return
		}
		title = meta.Title
		thumb = domain.SelectBestThumbnail(meta.Thumbnails, meta.Thumbnail)
		m.update(id, func(job *domain.Job) bool {
			job.CollectionTitle = title
			job.ThumbnailURL = thumb
			job.SetItemPosition(1, 1)
			return true
		})
	}

	if title == "" && thumb == "" {
		return
	}
	if err := infrastructure.WriteJobMeta(outputDir, title, thumb); err != nil {
		m.logger.Warn("Failed to write job meta", zap.String("job_id", id), zap.Error(err))
	}
}

// backfillThumbnails gives items without artwork the thumbnail of the
// matching collection entry, matched by URL or media id
func backfillThumbnails(job *domain.Job, entries []domain.CollectionEntry) {
	if len(entries) == 0 || len(job.Items) == 0 {
		return
	}

	byKey := make(map[string]string, len(entries)*2)
	for _, e := range entries {
		thumb := domain.SelectBestThumbnail(e.Thumbnails, e.Thumbnail)
		if thumb == "" {
			continue
		}
		if e.URL != "" {
			byKey[e.URL] = thumb
		}
		if id := infrastructure.MediaID(e.URL); id != "" {
			byKey[id] = thumb
		}
		if e.ID != "" {
			byKey[e.ID] = thumb
		}
	}

	for i := range job.Items {
		item := &job.Items[i]
		if item.Thumbnail != "" {
			continue
		}
		if thumb, ok := byKey[item.SourceURL]; ok {
			item.Thumbnail = thumb
			continue
		}
		if id := infrastructure.MediaID(item.SourceURL); id != "" {
			item.Thumbnail = byKey[id]
		}
	}
}

// runCollection downloads the whole source with one process. A run killed by
// a pause is started again after resume; the download archive makes the
// rerun skip what already finished.
func (m *JobManager) runCollection(ctx context.Context, id, sourceURL, outputDir string) string {
	collection := m.metadata != nil && m.metadata.IsCollectionURL(sourceURL)
	poll := m.config.Worker.PausePollInterval

	for {
		if ctx.Err() != nil {
			return ""
		}
		canceled, paused, exists := m.flags(id)
		if canceled || !exists {
			return ""
		}
		if paused {
			if !sleepCtx(ctx, poll) {
				return ""
			}
			continue
		}

		m.update(id, func(job *domain.Job) bool {
			if job.CancelRequested || job.Paused {
				return false
			}
			job.SetMessage("downloading")
			return true
		})

		command := m.commands.CollectionCommand(sourceURL, outputDir, collection)
		pausesBefore := m.pauseCount(id, 0)
		code, err := m.supervisor.Run(ctx, infrastructure.RunOptions{
			JobID: id,
			Dir:   outputDir,
			Abort: func() bool { return m.interrupted(id, 0) },
		}, command, func(line string, isErr bool) {
			m.handleCollectionLine(id, line, isErr)
		})

		canceled, paused, _ = m.flags(id)
		switch {
		case canceled || ctx.Err() != nil:
			return ""
		case err != nil:
			msg := fmt.Sprintf("failed to start download: %v", err)
			m.update(id, func(job *domain.Job) bool {
				job.AppendLog(msg, true)
				return true
			})
			m.events.LogAppError("Failed to start download", zap.String("job_id", id), zap.Error(err))
			return msg
		case code == 0:
			return ""
		case paused || m.pauseCount(id, 0) != pausesBefore:
			continue
		default:
			return fmt.Sprintf("download failed (exit code %d)", code)
		}
	}
}

func (m *JobManager) handleCollectionLine(id, line string, isErr bool) {
	m.update(id, func(job *domain.Job) bool {
		job.AppendLog(line, isErr)
		if index, total, ok := infrastructure.ParseItemPosition(line); ok {
			job.SetItemPosition(index, total)
		} else if pct, ok := infrastructure.ParseDownloadPercent(line); ok {
			job.SetCurrentItemProgress(pct)
		}
		return true
	})
}

// interrupted reports whether a process of the job (or of one item, when
// index > 0) should stop: the job is gone, canceled or paused
func (m *JobManager) interrupted(id string, index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return true
	}
	if job.CancelRequested || job.Paused {
		return true
	}
	return index > 0 && job.IsItemPaused(index)
}

// runSelected downloads the job's explicit item list through the worker pool
func (m *JobManager) runSelected(ctx context.Context, id, outputDir string) string {
	var title string
	var urls []string
	var indices []int
	if !m.update(id, func(job *domain.Job) bool {
		title = job.CollectionTitle
		for _, item := range job.Items {
			urls = append(urls, item.SourceURL)
			indices = append(indices, item.Index)
		}
		job.SetMessage(fmt.Sprintf("downloading %d items", len(job.Items)))
		return true
	}) {
		return ""
	}

	folder := filepath.Join(outputDir, infrastructure.SanitizeFolderName(title))
	if err := os.MkdirAll(folder, 0755); err != nil {
		return fmt.Sprintf("failed to create output folder: %v", err)
	}

	if m.history != nil {
		seen := m.history.Seen(urls)
		m.update(id, func(job *domain.Job) bool {
			changed := false
			for i, ok := range seen {
				if !ok || i >= len(job.Items) || job.Items[i].Status != domain.ItemPending {
					continue
				}
				job.Items[i].MarkDone()
				job.AppendLog(fmt.Sprintf("already downloaded: %s", job.Items[i].Title), false)
				changed = true
			}
			if changed {
				job.RecomputeProgressFromItems()
			}
			return changed
		})
	}

	pool := m.newWorkerPool(id, folder, indices)
	pool.run(ctx)

	m.writeTrackThumbnails(id, folder)
	return ""
}

func (m *JobManager) writeTrackThumbnails(id, folder string) {
	thumbnails := make(map[string]string)
	m.mu.Lock()
	if job, ok := m.jobs[id]; ok {
		for _, item := range job.Items {
			if item.Thumbnail != "" && item.Status == domain.ItemDone {
				thumbnails[item.Title] = item.Thumbnail
			}
		}
	}
	m.mu.Unlock()

	if len(thumbnails) == 0 {
		return
	}
	if err := infrastructure.WriteTrackThumbnails(folder, thumbnails); err != nil {
		m.logger.Warn("Failed to write track thumbnails", zap.String("job_id", id), zap.Error(err))
	}
}

// finalize packages the output and moves the job into its terminal state
func (m *JobManager) finalize(id, failMsg string, started time.Time) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	var outputDir string
	if ok {
		outputDir = job.OutputDirectory
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	var archivePath string
	var packErr error
	if outputDir != "" {
		archivePath, packErr = m.packager.Package(id, outputDir)
		if packErr != nil {
			m.logger.Error("Failed to package job", zap.String("job_id", id), zap.Error(packErr))
			m.events.LogAppError("Failed to package job", zap.String("job_id", id), zap.Error(packErr))
		}
	}

	m.mu.Lock()
	job, ok = m.jobs[id]
	if !ok {
		m.mu.Unlock()
		// deleted while packaging
		_ = os.RemoveAll(m.packager.JobDir(id))
		return
	}
	switch {
	case job.CancelRequested:
		if packErr == nil {
			job.ArchivePath = archivePath
		}
		job.MarkCanceled("canceled")
	case failMsg != "":
		if packErr == nil {
			job.ArchivePath = archivePath
		}
		job.MarkError(failMsg)
	case packErr != nil:
		job.MarkError("packaging failed")
	default:
		job.MarkDone(archivePath)
	}
	final := job.Clone()
	m.mu.Unlock()

	m.persister.mark(id)
	m.metrics.jobFinished(final.Status, time.Since(started).Seconds())
	m.events.LogJobEvent("job_finalized",
		zap.String("job_id", id),
		zap.String("status", string(final.Status)),
		zap.String("message", final.Message),
		zap.Float64("progress", final.ProgressPercent))
	m.logger.Info("Job finished",
		zap.String("job_id", id),
		zap.String("status", string(final.Status)),
		zap.Duration("elapsed", time.Since(started)))

	if m.notifier == nil {
		return
	}
	switch final.Status {
	case domain.JobDone:
		m.notifier.NotifyJobCompleted(final)
	case domain.JobError:
		m.notifier.NotifyJobFailed(final)
	}
}
