//go:build !windows

package app

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/media-fetch-go/internal/domain"
	"github.com/yourusername/media-fetch-go/internal/infrastructure"
)

const (
	collectionURL = "https://www.youtube.com/playlist?list=PLtest"
	itemURL1      = "https://www.youtube.com/watch?v=aaaaaaaaaa1"
	itemURL2      = "https://www.youtube.com/watch?v=bbbbbbbbbb2"
	itemURL3      = "https://www.youtube.com/watch?v=cccccccccc3"
	singleURL     = "https://www.youtube.com/watch?v=sssssssss01"
	waitTimeout   = 10 * time.Second
	waitTick      = 10 * time.Millisecond
)

// fakeMetadata implements domain.MetadataProvider without a network
type fakeMetadata struct {
	collection *domain.CollectionMetadata
	single     *domain.MediaMetadata
}

func (f *fakeMetadata) IsCollectionURL(url string) bool {
	return infrastructure.IsCollectionURL(url)
}

func (f *fakeMetadata) FetchCollectionMetadata(ctx context.Context, url string) (*domain.CollectionMetadata, error) {
	return f.collection, nil
}

func (f *fakeMetadata) FetchSingleMetadata(ctx context.Context, url string) (*domain.MediaMetadata, error) {
	return f.single, nil
}

// scriptCommands implements domain.CommandBuilder with one shell script per
// URL. The script receives the target directory as $1.
type scriptCommands struct {
	mu      sync.Mutex
	scripts map[string]string
	calls   map[string]int
}

func newScriptCommands(scripts map[string]string) *scriptCommands {
	return &scriptCommands{scripts: scripts, calls: make(map[string]int)}
}

func (c *scriptCommands) command(url, dir string) domain.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[url]++
	script, ok := c.scripts[url]
	if !ok {
		script = "exit 0"
	}
	return domain.Command{Binary: "/bin/sh", Args: []string{"-c", script, "sh", dir}}
}

func (c *scriptCommands) CollectionCommand(url, outputDir string, collection bool) domain.Command {
	return c.command(url, outputDir)
}

func (c *scriptCommands) ItemCommand(url, folderDir string) domain.Command {
	return c.command(url, folderDir)
}

func (c *scriptCommands) Validate() error { return nil }

func (c *scriptCommands) callCount(url string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[url]
}

// fakeHistory reports a fixed set of URLs as already downloaded
type fakeHistory map[string]bool

func (h fakeHistory) Seen(urls []string) []bool {
	out := make([]bool, len(urls))
	for i, u := range urls {
		out[i] = h[u]
	}
	return out
}

type testManager struct {
	*JobManager
	repo     *mockRepo
	commands *scriptCommands
	registry *prometheus.Registry
}

type managerOption func(cfg *domain.Config, deps *Deps)

func withHistory(h domain.DownloadHistory) managerOption {
	return func(_ *domain.Config, deps *Deps) { deps.History = h }
}

func withMaxConcurrentJobs(n int) managerOption {
	return func(cfg *domain.Config, _ *Deps) { cfg.Worker.MaxConcurrentJobs = n }
}

func withRepo(repo *mockRepo) managerOption {
	return func(_ *domain.Config, deps *Deps) { deps.Repo = repo }
}

func defaultMetadata() *fakeMetadata {
	return &fakeMetadata{
		collection: &domain.CollectionMetadata{
			Title:     "Mix",
			ItemCount: 3,
			Thumbnails: []domain.Thumbnail{
				{URL: "https://img.example/small.jpg", Width: 120, Height: 90},
				{URL: "https://img.example/large.jpg", Width: 1280, Height: 720},
			},
			Entries: []domain.CollectionEntry{
				{ID: "aaaaaaaaaa1", Title: "One", URL: itemURL1, Thumbnail: "https://img.example/1.jpg"},
			},
		},
		single: &domain.MediaMetadata{Title: "Single"},
	}
}

func newTestManager(t *testing.T, scripts map[string]string, opts ...managerOption) *testManager {
	t.Helper()

	cfg := domain.DefaultConfig()
	cfg.Download.BaseDir = t.TempDir()
	cfg.Worker.Concurrency = 2
	cfg.Worker.PausePollInterval = 20 * time.Millisecond
	cfg.Worker.TerminateGrace = time.Second
	cfg.Worker.DeleteWait = 3 * time.Second

	registry := prometheus.NewRegistry()
	commands := newScriptCommands(scripts)
	deps := Deps{
		Repo:       newMockRepo(),
		Metadata:   defaultMetadata(),
		Commands:   commands,
		Supervisor: infrastructure.NewProcessSupervisor(time.Second, zap.NewNop()),
		Packager:   infrastructure.NewPackager(cfg.Download.JobsDir(), cfg.Download.ResultExtensions),
		Metrics:    NewMetrics(registry),
		Config:     cfg,
		Logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}

	m := NewJobManager(deps)
	require.NoError(t, m.Init())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = m.Shutdown(ctx)
	})

	return &testManager{
		JobManager: m,
		repo:       deps.Repo.(*mockRepo),
		commands:   commands,
		registry:   registry,
	}
}

func (tm *testManager) waitFor(t *testing.T, id string, cond func(job *domain.Job) bool) *domain.Job {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := tm.GetJob(id)
		return err == nil && cond(job)
	}, waitTimeout, waitTick)
	job, err := tm.GetJob(id)
	require.NoError(t, err)
	return job
}

func (tm *testManager) counter(t *testing.T, name, label string) float64 {
	t.Helper()
	families, err := tm.registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if pair.GetValue() == label {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func hasStatus(status domain.JobStatus) func(job *domain.Job) bool {
	return func(job *domain.Job) bool { return job.Status == status }
}

func itemsHave(status domain.ItemStatus, indices ...int) func(job *domain.Job) bool {
	return func(job *domain.Job) bool {
		for _, idx := range indices {
			item := job.Item(idx)
			if item == nil || item.Status != status {
				return false
			}
		}
		return true
	}
}

func successScript(name string) string {
	return fmt.Sprintf(`echo '[download]  10%%'; echo '[download]  55.0%% of 3.20MiB'; echo '[download] 100%% of 3.20MiB'; touch "$1/%s.mp3"`, name)
}

// blockOnceScript blocks on its first run and succeeds on the next
func blockOnceScript(name string) string {
	return fmt.Sprintf(`if [ -f "$1/.%[1]s-started" ]; then touch "$1/%[1]s.mp3"; echo '[download] 100%%'; exit 0; fi
touch "$1/.%[1]s-started"; echo '[download]   5.0%%'; sleep 30`, name)
}

func zipNames(t *testing.T, path string) []string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func TestSelectiveJob_AllItemsSucceed(t *testing.T) {
	m := newTestManager(t, map[string]string{
		itemURL1: successScript("one"),
		itemURL2: successScript("two"),
		itemURL3: successScript("three"),
	})

	id, err := m.CreateJobWithItems(collectionURL, []string{itemURL1, itemURL2, itemURL3}, []string{"One", "", "Three"}, nil)
	require.NoError(t, err)

	last := 0.0
	deadline := time.Now().Add(waitTimeout)
	var job *domain.Job
	for {
		job, err = m.GetJob(id)
		require.NoError(t, err)
		require.GreaterOrEqual(t, job.ProgressPercent, last, "progress regressed")
		last = job.ProgressPercent
		if job.IsTerminal() {
			break
		}
		require.True(t, time.Now().Before(deadline), "job did not finish")
		time.Sleep(2 * time.Millisecond)
	}

	assert.Equal(t, domain.JobDone, job.Status)
	assert.Equal(t, 100.0, job.ProgressPercent)
	assert.Equal(t, "done", job.Message)
	assert.Equal(t, "Mix", job.CollectionTitle)
	assert.Equal(t, "https://img.example/large.jpg", job.ThumbnailURL)
	assert.Equal(t, 3, job.TotalItemCount)
	for _, item := range job.Items {
		assert.Equal(t, domain.ItemDone, item.Status, "item %d", item.Index)
		assert.Equal(t, 100.0, item.Progress)
	}
	assert.Equal(t, "Track 2", job.Items[1].Title)
	assert.Equal(t, "https://img.example/1.jpg", job.Items[0].Thumbnail)
	assert.Contains(t, job.LogBuffer, "[download]  55.0% of 3.20MiB")

	path, err := m.ArchiveFile(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"Mix/one.mp3", "Mix/three.mp3", "Mix/two.mp3"}, zipNames(t, path))

	assert.FileExists(t, filepath.Join(job.OutputDirectory, infrastructure.MetaFileName))
	assert.FileExists(t, filepath.Join(job.OutputDirectory, "Mix", infrastructure.TrackThumbnailsFileName))

	assert.Equal(t, 1.0, m.counter(t, "mediafetch_jobs_finished_total", "done"))
	assert.Equal(t, 3.0, m.counter(t, "mediafetch_items_finished_total", "done"))

	m.Flush()
	stored, err := m.repo.Load(id)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.JobDone, stored.Status)
}

func TestSelectiveJob_FailedItemDoesNotStopOthers(t *testing.T) {
	m := newTestManager(t, map[string]string{
		itemURL1: successScript("one"),
		itemURL2: `echo 'ERROR: video unavailable' >&2; exit 1`,
		itemURL3: successScript("three"),
	})

	id, err := m.CreateJobWithItems(collectionURL, []string{itemURL1, itemURL2, itemURL3}, nil, nil)
	require.NoError(t, err)

	job := m.waitFor(t, id, func(job *domain.Job) bool { return job.IsTerminal() })

	assert.Equal(t, domain.JobDone, job.Status)
	assert.Equal(t, domain.ItemDone, job.Items[0].Status)
	assert.Equal(t, domain.ItemError, job.Items[1].Status)
	assert.Equal(t, "download failed (exit code 1)", job.Items[1].ErrorMessage)
	assert.Equal(t, domain.ItemDone, job.Items[2].Status)
	assert.Contains(t, job.LogBuffer, "[err] ERROR: video unavailable")
	assert.Equal(t, 1.0, m.counter(t, "mediafetch_items_finished_total", "error"))
}

func TestSelectiveJob_SkipsItemsInDownloadArchive(t *testing.T) {
	m := newTestManager(t, map[string]string{
		itemURL1: `exit 1`,
		itemURL2: successScript("two"),
	}, withHistory(fakeHistory{itemURL1: true}))

	id, err := m.CreateJobWithItems(collectionURL, []string{itemURL1, itemURL2}, nil, nil)
	require.NoError(t, err)

	job := m.waitFor(t, id, hasStatus(domain.JobDone))

	assert.Equal(t, domain.ItemDone, job.Items[0].Status)
	assert.Equal(t, domain.ItemDone, job.Items[1].Status)
	assert.Equal(t, 0, m.commands.callCount(itemURL1))
	assert.Equal(t, 1, m.commands.callCount(itemURL2))
}

func TestCancelJob_QueuedJobNeverStarts(t *testing.T) {
	m := newTestManager(t, map[string]string{
		singleURL: `sleep 30`,
		itemURL2:  successScript("never"),
	}, withMaxConcurrentJobs(1))

	first, err := m.CreateJob(singleURL)
	require.NoError(t, err)
	m.waitFor(t, first, func(job *domain.Job) bool {
		return job.Status == domain.JobRunning && m.supervisor.LiveCount(first) == 1
	})

	second, err := m.CreateJob(itemURL2)
	require.NoError(t, err)
	job, err := m.GetJob(second)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, job.Status)

	assert.True(t, m.CancelJob(second))

	job, err = m.GetJob(second)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCanceled, job.Status)
	assert.True(t, job.CancelRequested)

	assert.True(t, m.CancelJob(first))
	m.waitFor(t, first, hasStatus(domain.JobCanceled))

	assert.Equal(t, 0, m.commands.callCount(itemURL2))
	assert.Equal(t, 0, m.supervisor.LiveCount(second))
	job, err = m.GetJob(second)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCanceled, job.Status)
}

func TestCancelJob_RunningJob(t *testing.T) {
	m := newTestManager(t, map[string]string{
		itemURL1: `echo '[download]   1.0%'; sleep 30`,
		itemURL2: `echo '[download]   1.0%'; sleep 30`,
	})

	id, err := m.CreateJobWithItems(collectionURL, []string{itemURL1, itemURL2}, nil, nil)
	require.NoError(t, err)
	m.waitFor(t, id, func(job *domain.Job) bool {
		return itemsHave(domain.ItemDownloading, 1, 2)(job) && m.supervisor.LiveCount(id) == 2
	})

	assert.True(t, m.CancelJob(id))
	job, err := m.GetJob(id)
	require.NoError(t, err)
	assert.True(t, job.Status == domain.JobCanceling || job.Status == domain.JobCanceled)

	job = m.waitFor(t, id, hasStatus(domain.JobCanceled))
	assert.Equal(t, 0, m.supervisor.LiveCount(id))
	assert.Equal(t, domain.ItemSkipped, job.Items[0].Status)
	assert.Equal(t, domain.ItemSkipped, job.Items[1].Status)

	// sticky and idempotent
	assert.True(t, m.CancelJob(id))
	job, err = m.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCanceled, job.Status)

	assert.False(t, m.CancelJob("missing"))
}

func TestPauseJob_StopsProcessesAndResumes(t *testing.T) {
	m := newTestManager(t, map[string]string{
		itemURL1: blockOnceScript("one"),
		itemURL2: blockOnceScript("two"),
	})

	id, err := m.CreateJobWithItems(collectionURL, []string{itemURL1, itemURL2}, nil, nil)
	require.NoError(t, err)
	m.waitFor(t, id, func(job *domain.Job) bool {
		return itemsHave(domain.ItemDownloading, 1, 2)(job) && m.supervisor.LiveCount(id) == 2
	})

	assert.True(t, m.PauseJob(id))
	job, err := m.GetJob(id)
	require.NoError(t, err)
	assert.True(t, job.Paused)
	assert.Equal(t, domain.ItemPaused, job.Items[0].Status)
	assert.Equal(t, domain.ItemPaused, job.Items[1].Status)

	require.Eventually(t, func() bool {
		return m.supervisor.LiveCount(id) == 0
	}, 2*time.Second, waitTick)

	// nothing restarts while paused
	time.Sleep(100 * time.Millisecond)
	job, err = m.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobRunning, job.Status)
	assert.Equal(t, 0, m.supervisor.LiveCount(id))
	assert.Equal(t, 1, m.commands.callCount(itemURL1))

	assert.True(t, m.ResumeJob(id))
	job = m.waitFor(t, id, hasStatus(domain.JobDone))
	assert.False(t, job.Paused)
	assert.Equal(t, domain.ItemDone, job.Items[0].Status)
	assert.Equal(t, domain.ItemDone, job.Items[1].Status)
	assert.Equal(t, 2, m.commands.callCount(itemURL1))

	assert.False(t, m.PauseJob(id), "finished jobs cannot be paused")
	assert.False(t, m.ResumeJob("missing"))
}

func TestPauseItem_OnlyStopsThatItem(t *testing.T) {
	m := newTestManager(t, map[string]string{
		itemURL1: blockOnceScript("one"),
		itemURL2: `echo '[download]   2.0%'; while [ ! -f "$1/release" ]; do sleep 0.05; done; touch "$1/two.mp3"`,
	})

	id, err := m.CreateJobWithItems(collectionURL, []string{itemURL1, itemURL2}, nil, nil)
	require.NoError(t, err)
	job := m.waitFor(t, id, func(job *domain.Job) bool {
		return itemsHave(domain.ItemDownloading, 1, 2)(job) && m.supervisor.LiveCount(id) == 2
	})
	folder := filepath.Join(job.OutputDirectory, "Mix")

	assert.False(t, m.PauseItem(id, 0))
	assert.False(t, m.PauseItem(id, 3))
	assert.False(t, m.PauseItem("missing", 1))

	assert.True(t, m.PauseItem(id, 1))
	job, err = m.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, job.PausedItemIndices)
	assert.Equal(t, domain.ItemPaused, job.Items[0].Status)

	require.Eventually(t, func() bool {
		return m.supervisor.LiveCount(id) == 1
	}, 2*time.Second, waitTick)
	job, err = m.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemPaused, job.Items[0].Status)
	assert.Equal(t, domain.ItemDownloading, job.Items[1].Status)

	assert.True(t, m.ResumeItem(id, 1))
	m.waitFor(t, id, itemsHave(domain.ItemDone, 1))

	require.NoError(t, os.WriteFile(filepath.Join(folder, "release"), nil, 0644))
	job = m.waitFor(t, id, hasStatus(domain.JobDone))
	assert.Empty(t, job.PausedItemIndices)
	assert.Equal(t, domain.ItemDone, job.Items[1].Status)
}

func TestPauseItem_DoesNotMaskFailureOfAnotherItem(t *testing.T) {
	m := newTestManager(t, map[string]string{
		itemURL1: `echo '[download]   3.0%'; while [ ! -f "$1/fail" ]; do sleep 0.05; done; echo 'ERROR: gone' >&2; exit 1`,
		itemURL2: `echo '[download]   1.0%'; sleep 30`,
	})

	id, err := m.CreateJobWithItems(collectionURL, []string{itemURL1, itemURL2}, nil, nil)
	require.NoError(t, err)
	job := m.waitFor(t, id, func(job *domain.Job) bool {
		return itemsHave(domain.ItemDownloading, 1, 2)(job) && m.supervisor.LiveCount(id) == 2
	})
	folder := filepath.Join(job.OutputDirectory, "Mix")

	assert.True(t, m.PauseItem(id, 2))
	require.Eventually(t, func() bool {
		return m.supervisor.LiveCount(id) == 1
	}, 2*time.Second, waitTick)

	require.NoError(t, os.WriteFile(filepath.Join(folder, "fail"), nil, 0644))
	job = m.waitFor(t, id, itemsHave(domain.ItemError, 1))
	assert.Equal(t, "download failed (exit code 1)", job.Items[0].ErrorMessage)
	assert.Equal(t, domain.ItemPaused, job.Items[1].Status)

	// give a wrongly requeued item time to start again
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, m.commands.callCount(itemURL1))
	job, err = m.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemError, job.Items[0].Status)
}

func TestCollectionJob_TracksItemPositions(t *testing.T) {
	script := `mkdir -p "$1/List"
echo '[download] Downloading item 1 of 2'
echo '[download]  50.0% of 1MiB'
touch "$1/List/001 - a.mp3"
echo '[download] Downloading item 2 of 2'
echo '[download] 100% of 1MiB'
touch "$1/List/002 - b.mp3"`
	m := newTestManager(t, map[string]string{collectionURL: script})

	id, err := m.CreateJob(collectionURL)
	require.NoError(t, err)

	job := m.waitFor(t, id, func(job *domain.Job) bool { return job.IsTerminal() })
	assert.Equal(t, domain.JobDone, job.Status)
	assert.Equal(t, 100.0, job.ProgressPercent)
	assert.Equal(t, 2, job.TotalItemCount)
	assert.Equal(t, 2, job.CurrentItemIndex)
	assert.Empty(t, job.Items)

	path, err := m.ArchiveFile(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"List/001 - a.mp3", "List/002 - b.mp3"}, zipNames(t, path))
}

func TestCollectionJob_NonZeroExitIsError(t *testing.T) {
	m := newTestManager(t, map[string]string{singleURL: `echo 'ERROR: unsupported' >&2; exit 3`})

	id, err := m.CreateJob(singleURL)
	require.NoError(t, err)

	job := m.waitFor(t, id, func(job *domain.Job) bool { return job.IsTerminal() })
	assert.Equal(t, domain.JobError, job.Status)
	assert.Equal(t, "download failed (exit code 3)", job.Message)
	assert.Equal(t, "Single", job.CollectionTitle)

	_, err = m.ArchiveFile(id)
	assert.ErrorIs(t, err, domain.ErrArchiveNotReady)
}

func TestCollectionJob_PauseRerunsAfterResume(t *testing.T) {
	m := newTestManager(t, map[string]string{singleURL: blockOnceScript("single")})

	id, err := m.CreateJob(singleURL)
	require.NoError(t, err)
	m.waitFor(t, id, func(job *domain.Job) bool { return m.supervisor.LiveCount(id) == 1 })

	assert.True(t, m.PauseJob(id))
	require.Eventually(t, func() bool {
		return m.supervisor.LiveCount(id) == 0
	}, 2*time.Second, waitTick)
	job, err := m.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobRunning, job.Status)

	assert.True(t, m.ResumeJob(id))
	job = m.waitFor(t, id, hasStatus(domain.JobDone))
	assert.Equal(t, 2, m.commands.callCount(singleURL))
	assert.FileExists(t, filepath.Join(job.OutputDirectory, "single.mp3"))
}

func TestInit_ReclassifiesInterruptedJobs(t *testing.T) {
	repo := newMockRepo()
	running := domain.NewJob(singleURL)
	running.MarkRunning()
	queued := domain.NewJob(itemURL1)
	finished := domain.NewJob(itemURL2)
	finished.MarkDone("/tmp/archive.zip")
	for _, job := range []*domain.Job{running, queued, finished} {
		require.NoError(t, repo.Save(job))
	}

	m := newTestManager(t, nil, withRepo(repo))

	for _, id := range []string{running.ID, queued.ID} {
		job, err := m.GetJob(id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobCanceled, job.Status)
		assert.Equal(t, restartMessage, job.Message)
		assert.True(t, job.CancelRequested)
	}
	job, err := m.GetJob(finished.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobDone, job.Status)

	m.Flush()
	stored, err := repo.Load(running.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCanceled, stored.Status)
	assert.Len(t, m.ListJobs(), 3)
}

func TestDeleteJob_RemovesEverything(t *testing.T) {
	m := newTestManager(t, map[string]string{singleURL: successScript("single")})

	id, err := m.CreateJob(singleURL)
	require.NoError(t, err)
	job := m.waitFor(t, id, hasStatus(domain.JobDone))
	require.DirExists(t, job.OutputDirectory)
	require.FileExists(t, job.ArchivePath)

	assert.True(t, m.DeleteJob(id))

	_, err = m.GetJob(id)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	stored, err := m.repo.Load(id)
	require.NoError(t, err)
	assert.Nil(t, stored)
	assert.NoDirExists(t, job.OutputDirectory)
	assert.NoDirExists(t, filepath.Dir(job.ArchivePath))

	m.Flush()
	stored, err = m.repo.Load(id)
	require.NoError(t, err)
	assert.Nil(t, stored, "deleted job must not be written back")

	assert.False(t, m.DeleteJob(id))
}

func TestDeleteJob_ActiveJob(t *testing.T) {
	m := newTestManager(t, map[string]string{singleURL: `sleep 30`})

	id, err := m.CreateJob(singleURL)
	require.NoError(t, err)
	m.waitFor(t, id, func(job *domain.Job) bool { return m.supervisor.LiveCount(id) == 1 })

	assert.True(t, m.DeleteJob(id))
	assert.Equal(t, 0, m.supervisor.LiveCount(id))
	_, err = m.GetJob(id)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	for _, summary := range m.ListJobs() {
		assert.NotEqual(t, id, summary.ID)
	}
}

func TestInvalidateArchive_Repackages(t *testing.T) {
	m := newTestManager(t, map[string]string{singleURL: successScript("single")})

	id, err := m.CreateJob(singleURL)
	require.NoError(t, err)
	job := m.waitFor(t, id, hasStatus(domain.JobDone))
	require.NoError(t, os.Remove(filepath.Join(job.OutputDirectory, "single.mp3")))

	assert.True(t, m.InvalidateArchive(id))
	m.waitFor(t, id, func(job *domain.Job) bool { return job.ArchivePath != "" })

	path, err := m.ArchiveFile(id)
	require.NoError(t, err)
	assert.Empty(t, zipNames(t, path))

	assert.False(t, m.InvalidateArchive("missing"))
	_, err = m.ArchiveFile("missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestCleanup_OlderThanAndAllTerminal(t *testing.T) {
	m := newTestManager(t, map[string]string{
		singleURL: successScript("single"),
		itemURL1:  successScript("other"),
	})

	oldID, err := m.CreateJob(singleURL)
	require.NoError(t, err)
	newID, err := m.CreateJob(itemURL1)
	require.NoError(t, err)
	m.waitFor(t, oldID, hasStatus(domain.JobDone))
	m.waitFor(t, newID, hasStatus(domain.JobDone))

	usage := m.DiskUsage()
	assert.Equal(t, 2, usage.JobCount)
	assert.Greater(t, usage.TotalBytes, int64(0))

	m.mu.Lock()
	m.jobs[oldID].UpdatedAt = time.Now().AddDate(0, 0, -10)
	m.mu.Unlock()

	result := m.CleanupOlderThan(7)
	assert.Equal(t, 1, result.DeletedCount)
	assert.Greater(t, result.FreedBytes, int64(0))
	_, err = m.GetJob(oldID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	_, err = m.GetJob(newID)
	assert.NoError(t, err)

	result = m.CleanupAllTerminal()
	assert.Equal(t, 1, result.DeletedCount)
	assert.Equal(t, 0, m.DiskUsage().JobCount)
}

func TestCreateJob_Validation(t *testing.T) {
	m := newTestManager(t, nil)

	_, err := m.CreateJob("not a url")
	assert.ErrorIs(t, err, domain.ErrInvalidURL)

	_, err = m.CreateJobWithItems(collectionURL, nil, nil, nil)
	assert.ErrorIs(t, err, domain.ErrNoItems)

	_, err = m.CreateJobWithItems(collectionURL, []string{"ftp://x"}, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidURL)

	_, err = m.GetJob("missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	_, err = m.CreateJob(singleURL)
	assert.ErrorIs(t, err, domain.ErrShuttingDown)
}

func TestListJobs_NewestFirst(t *testing.T) {
	m := newTestManager(t, nil)

	first, err := m.CreateJob(singleURL)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := m.CreateJob(itemURL1)
	require.NoError(t, err)

	summaries := m.ListJobs()
	require.Len(t, summaries, 2)
	assert.Equal(t, second, summaries[0].ID)
	assert.Equal(t, first, summaries[1].ID)
	assert.True(t, strings.HasPrefix(summaries[1].SourceURL, "https://"))
}

func TestShutdown_CancelsActiveJobs(t *testing.T) {
	m := newTestManager(t, map[string]string{singleURL: `sleep 30`})

	id, err := m.CreateJob(singleURL)
	require.NoError(t, err)
	m.waitFor(t, id, func(job *domain.Job) bool { return m.supervisor.LiveCount(id) == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	assert.Equal(t, 0, m.supervisor.TotalLive())
	job, err := m.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCanceled, job.Status)
	stored, err := m.repo.Load(id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCanceled, stored.Status)
}
