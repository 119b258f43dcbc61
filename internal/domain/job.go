package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// JobStatus represents the current status of a job
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCanceling JobStatus = "canceling"
	JobCanceled  JobStatus = "canceled"
	JobDone      JobStatus = "done"
	JobError     JobStatus = "error"
)

const (
	// MaxLogLines is the number of output lines retained per job
	MaxLogLines = 400
	// MaxLogLineLength is the per-line cap, in characters
	MaxLogLineLength = 2000

	errorLinePrefix = "[err] "
)

// Job is one end-to-end download request, possibly spanning many items.
// Mutating methods are not synchronized; the owner serializes access.
type Job struct {
	ID                  string         `json:"id"`
	SourceURL           string         `json:"url"`
	Status              JobStatus      `json:"status"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	ProgressPercent     float64        `json:"progress"`
	Message             string         `json:"message"`
	LogBuffer           []string       `json:"logs"`
	OutputDirectory     string         `json:"output_dir,omitempty"`
	ArchivePath         string         `json:"archive_path,omitempty"`
	CollectionTitle     string         `json:"title,omitempty"`
	ThumbnailURL        string         `json:"thumbnail_url,omitempty"`
	TotalItemCount      int            `json:"total_items"`
	CurrentItemIndex    int            `json:"current_item"`
	CurrentItemProgress float64        `json:"current_item_progress"`
	CancelRequested     bool           `json:"cancel_requested"`
	Paused              bool           `json:"paused"`
	PausedItemIndices   []int          `json:"paused_items"`
	Items               []DownloadItem `json:"items"`
}

// JobSummary is the list view of a job
type JobSummary struct {
	ID           string    `json:"id"`
	SourceURL    string    `json:"url"`
	Status       JobStatus `json:"status"`
	Progress     float64   `json:"progress"`
	Message      string    `json:"message"`
	Title        string    `json:"title,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	TotalItems   int       `json:"total_items"`
	CurrentItem  int       `json:"current_item"`
	Paused       bool      `json:"paused"`
	ArchiveReady bool      `json:"archive_ready"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewJobID returns a fresh opaque job identifier
func NewJobID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// ValidateSourceURL checks that a link is an absolute http(s) URL
func ValidateSourceURL(url string) error {
	url = strings.TrimSpace(url)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("%w: %q", ErrInvalidURL, url)
	}
	return nil
}

// NewJob creates a whole-collection job
func NewJob(sourceURL string) *Job {
	now := time.Now()
	return &Job{
		ID:        NewJobID(),
		SourceURL: strings.TrimSpace(sourceURL),
		Status:    JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
		Message:   "queued",
		LogBuffer: []string{},
		Items:     []DownloadItem{},
	}
}

// NewJobWithItems creates a selective job over an explicit list of item URLs.
// Titles and thumbnails are optional and matched by position.
func NewJobWithItems(collectionURL string, itemURLs, titles, thumbnails []string) (*Job, error) {
	if len(itemURLs) == 0 {
		return nil, ErrNoItems
	}

	job := NewJob(collectionURL)
	job.Items = make([]DownloadItem, 0, len(itemURLs))
	for i, raw := range itemURLs {
		url := strings.TrimSpace(raw)
		if err := ValidateSourceURL(url); err != nil {
			return nil, err
		}

		title := ""
		if i < len(titles) {
			title = strings.TrimSpace(titles[i])
		}
		if title == "" {
			title = fmt.Sprintf("Track %d", i+1)
		}

		thumb := ""
		if i < len(thumbnails) {
			thumb = strings.TrimSpace(thumbnails[i])
		}

		job.Items = append(job.Items, DownloadItem{
			Index:     i + 1,
			Title:     title,
			SourceURL: url,
			Thumbnail: thumb,
			Status:    ItemPending,
		})
	}
	job.TotalItemCount = len(job.Items)
	job.Message = fmt.Sprintf("queued (%d selected)", len(job.Items))

	return job, nil
}

// Touch refreshes UpdatedAt, never moving it backwards
func (j *Job) Touch() {
	now := time.Now()
	if now.After(j.UpdatedAt) {
		j.UpdatedAt = now
	}
}

// SetMessage replaces the human-readable status line
func (j *Job) SetMessage(msg string) {
	j.Message = msg
	j.Touch()
}

// AppendLog stores one subprocess output line in the bounded log buffer
func (j *Job) AppendLog(line string, isError bool) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	if isError {
		line = errorLinePrefix + line
	}
	if utf8.RuneCountInString(line) > MaxLogLineLength {
		runes := []rune(line)
		line = string(runes[:MaxLogLineLength]) + "…"
	}

	j.LogBuffer = append(j.LogBuffer, line)
	if overflow := len(j.LogBuffer) - MaxLogLines; overflow > 0 {
		j.LogBuffer = append([]string(nil), j.LogBuffer[overflow:]...)
	}
	j.Touch()
}

// IsTerminal reports whether the job reached done, error or canceled
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobDone, JobError, JobCanceled:
		return true
	}
	return false
}

// IsActive reports whether the job may still own running work
func (j *Job) IsActive() bool {
	return !j.IsTerminal()
}

// IsSelective reports whether the job downloads an explicit item list
func (j *Job) IsSelective() bool {
	return len(j.Items) > 0
}

// ArchiveReady reports whether the packaged archive may be handed out
func (j *Job) ArchiveReady() bool {
	return j.ArchivePath != "" && (j.Status == JobDone || j.Status == JobCanceled)
}

// MarkRunning moves a queued job into execution
func (j *Job) MarkRunning() {
	j.Status = JobRunning
	j.Message = "starting"
	j.Touch()
}

// RequestCancel sets the sticky cancel flag. A queued job is canceled
// immediately; a running job moves to canceling.
func (j *Job) RequestCancel() {
	j.CancelRequested = true
	switch j.Status {
	case JobQueued:
		j.Status = JobCanceled
		j.Message = "canceled"
	case JobRunning:
		j.Status = JobCanceling
		j.Message = "canceling..."
	}
	j.Touch()
}

// MarkCanceled moves the job into the canceled terminal state
func (j *Job) MarkCanceled(msg string) {
	j.Status = JobCanceled
	j.Message = msg
	j.Touch()
}

// MarkDone records a successful finish with its archive
func (j *Job) MarkDone(archivePath string) {
	j.Status = JobDone
	j.ArchivePath = archivePath
	j.ProgressPercent = 100
	j.Message = "done"
	j.Touch()
}

// MarkError moves the job into the error terminal state
func (j *Job) MarkError(msg string) {
	j.Status = JobError
	j.Message = msg
	j.Touch()
}

// Pause sets the whole-job pause flag and demotes in-flight items
func (j *Job) Pause() {
	j.Paused = true
	for i := range j.Items {
		if j.Items[i].Status == ItemDownloading {
			j.Items[i].Status = ItemPaused
		}
	}
	j.RecomputeProgressFromItems()
	j.Message = "paused"
	j.Touch()
}

// Resume clears the whole-job pause flag. Items the pause interrupted return
// to pending; individually paused items stay paused.
func (j *Job) Resume() {
	j.Paused = false
	for i := range j.Items {
		item := &j.Items[i]
		if item.Status == ItemPaused && !j.IsItemPaused(item.Index) {
			item.Status = ItemPending
		}
	}
	j.Message = "resuming"
	j.Touch()
}

// Item returns the item at a 1-based index, or nil
func (j *Job) Item(index int) *DownloadItem {
	if index < 1 || index > len(j.Items) {
		return nil
	}
	return &j.Items[index-1]
}

// IsItemPaused reports whether an item index is individually paused
func (j *Job) IsItemPaused(index int) bool {
	pos := sort.SearchInts(j.PausedItemIndices, index)
	return pos < len(j.PausedItemIndices) && j.PausedItemIndices[pos] == index
}

// PauseItem adds an item to the paused set; a pending item shows as paused
func (j *Job) PauseItem(index int) bool {
	item := j.Item(index)
	if item == nil {
		return false
	}
	if !j.IsItemPaused(index) {
		j.PausedItemIndices = append(j.PausedItemIndices, index)
		sort.Ints(j.PausedItemIndices)
	}
	if item.Status == ItemPending {
		item.Status = ItemPaused
	}
	j.Touch()
	return true
}

// ResumeItem removes an item from the paused set; a paused item returns to pending
func (j *Job) ResumeItem(index int) bool {
	item := j.Item(index)
	if item == nil {
		return false
	}
	pos := sort.SearchInts(j.PausedItemIndices, index)
	if pos < len(j.PausedItemIndices) && j.PausedItemIndices[pos] == index {
		j.PausedItemIndices = append(j.PausedItemIndices[:pos], j.PausedItemIndices[pos+1:]...)
	}
	if item.Status == ItemPaused {
		item.Status = ItemPending
	}
	j.Touch()
	return true
}

// RecomputeProgressFromItems derives the aggregate percentage from item states.
// The aggregate never decreases.
func (j *Job) RecomputeProgressFromItems() {
	total := j.TotalItemCount
	if total <= 0 {
		total = len(j.Items)
	}
	if total == 0 {
		return
	}

	var sum, active float64
	finished := 0
	for i := range j.Items {
		item := &j.Items[i]
		switch item.Status {
		case ItemDone, ItemSkipped:
			sum += 100
			finished++
		case ItemDownloading:
			p := clampPercent(item.Progress)
			sum += p
			if p > active {
				active = p
			}
		default:
			sum += clampPercent(item.Progress)
		}
	}

	j.raiseProgress(sum / float64(total))
	j.CurrentItemIndex = finished
	if active > 0 {
		j.CurrentItemIndex++
	}
	j.CurrentItemProgress = active
}

// SetItemPosition records "item X of Y" for whole-collection downloads
func (j *Job) SetItemPosition(index, total int) {
	if total > 0 {
		j.TotalItemCount = total
	}
	if index != j.CurrentItemIndex {
		j.CurrentItemProgress = 0
	}
	j.CurrentItemIndex = index
	j.updateCollectionProgress()
	j.Touch()
}

// SetCurrentItemProgress records the percentage of the item being fetched in
// whole-collection mode. Without a prior position it assumes item 1 of 1.
func (j *Job) SetCurrentItemProgress(pct float64) {
	if j.TotalItemCount <= 0 {
		j.TotalItemCount = 1
	}
	if j.CurrentItemIndex <= 0 {
		j.CurrentItemIndex = 1
	}
	j.CurrentItemProgress = clampPercent(pct)
	j.updateCollectionProgress()
	j.Touch()
}

func (j *Job) updateCollectionProgress() {
	if j.TotalItemCount <= 0 || j.CurrentItemIndex <= 0 {
		return
	}
	overall := (float64(j.CurrentItemIndex-1) + j.CurrentItemProgress/100) / float64(j.TotalItemCount) * 100
	j.raiseProgress(overall)
}

func (j *Job) raiseProgress(p float64) {
	p = clampPercent(p)
	if p > j.ProgressPercent {
		j.ProgressPercent = p
	}
}

// Clone returns a deep copy safe to hand out after the lock is released
func (j *Job) Clone() *Job {
	c := *j
	c.LogBuffer = append([]string(nil), j.LogBuffer...)
	c.PausedItemIndices = append([]int(nil), j.PausedItemIndices...)
	c.Items = append([]DownloadItem(nil), j.Items...)
	return &c
}

// Summary returns the list view of the job
func (j *Job) Summary() JobSummary {
	return JobSummary{
		ID:           j.ID,
		SourceURL:    j.SourceURL,
		Status:       j.Status,
		Progress:     j.ProgressPercent,
		Message:      j.Message,
		Title:        j.CollectionTitle,
		ThumbnailURL: j.ThumbnailURL,
		TotalItems:   j.TotalItemCount,
		CurrentItem:  j.CurrentItemIndex,
		Paused:       j.Paused,
		ArchiveReady: j.ArchiveReady(),
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
}
