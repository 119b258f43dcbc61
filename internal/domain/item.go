package domain

// ItemStatus represents the state of a single item within a selective job
type ItemStatus string

const (
	ItemPending     ItemStatus = "pending"
	ItemDownloading ItemStatus = "downloading"
	ItemDone        ItemStatus = "done"
	ItemError       ItemStatus = "error"
	ItemSkipped     ItemStatus = "skipped"
	ItemPaused      ItemStatus = "paused"
)

// DownloadItem is one unit of work (one media file) within a job
type DownloadItem struct {
	Index        int        `json:"index"`
	Title        string     `json:"title"`
	SourceURL    string     `json:"url"`
	Thumbnail    string     `json:"thumbnail,omitempty"`
	Status       ItemStatus `json:"status"`
	Progress     float64    `json:"progress"`
	ErrorMessage string     `json:"error,omitempty"`
}

// IsFinished reports whether the item counts as complete for aggregate progress
func (i *DownloadItem) IsFinished() bool {
	return i.Status == ItemDone || i.Status == ItemSkipped
}

// MarkDownloading starts a fresh download attempt
func (i *DownloadItem) MarkDownloading() {
	i.Status = ItemDownloading
	i.Progress = 0
	i.ErrorMessage = ""
}

// MarkDone marks the item as fully downloaded
func (i *DownloadItem) MarkDone() {
	i.Status = ItemDone
	i.Progress = 100
	i.ErrorMessage = ""
}

// MarkError records a failed attempt
func (i *DownloadItem) MarkError(msg string) {
	i.Status = ItemError
	i.ErrorMessage = msg
}

// SetProgress updates the in-flight percentage, clamped to 0..100
func (i *DownloadItem) SetProgress(pct float64) {
	i.Progress = clampPercent(pct)
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
