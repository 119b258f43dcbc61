package infrastructure

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/yourusername/media-fetch-go/internal/domain"
)

// jobSchemaVersion is bumped whenever the stored snapshot layout changes
const jobSchemaVersion = 1

// jobRecord is the stored form of a job snapshot
type jobRecord struct {
	ID                  string  `gorm:"primaryKey"`
	SchemaVersion       int     `gorm:"not null"`
	SourceURL           string  `gorm:"not null"`
	Status              string  `gorm:"not null;index"`
	CreatedAtNanos      int64   `gorm:"not null;index"`
	UpdatedAtNanos      int64   `gorm:"not null"`
	ProgressPercent     float64 `gorm:"not null"`
	Message             string
	LogBuffer           string `gorm:"type:text"` // JSON array of lines
	OutputDirectory     string
	ArchivePath         string
	CollectionTitle     string
	ThumbnailURL        string
	TotalItemCount      int
	CurrentItemIndex    int
	CurrentItemProgress float64
	CancelRequested     bool
	Paused              bool
	PausedItemIndices   string `gorm:"type:text"` // JSON array of indices
	Items               string `gorm:"type:text"` // JSON array of itemRecord
}

// TableName pins the table name
func (jobRecord) TableName() string {
	return "jobs"
}

// itemRecord is the stored form of one DownloadItem
type itemRecord struct {
	Index        int     `json:"index"`
	Title        string  `json:"title"`
	SourceURL    string  `json:"url"`
	Thumbnail    string  `json:"thumbnail,omitempty"`
	Status       string  `json:"status"`
	Progress     float64 `json:"progress"`
	ErrorMessage string  `json:"error,omitempty"`
}

// SQLiteJobRepository implements domain.JobRepository using SQLite
type SQLiteJobRepository struct {
	db *gorm.DB
}

// NewSQLiteJobRepository opens (and migrates) the snapshot database
func NewSQLiteJobRepository(dbPath string) (*SQLiteJobRepository, error) {
	dsn := dbPath + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows one writer; serialize at the pool instead of retrying on SQLITE_BUSY
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&jobRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteJobRepository{db: db}, nil
}

// Save inserts or replaces the snapshot of a job
func (r *SQLiteJobRepository) Save(job *domain.Job) error {
	rec, err := encodeJob(job)
	if err != nil {
		return err
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(rec).Error
}

// Load returns the snapshot for an id, or nil when none is stored
func (r *SQLiteJobRepository) Load(id string) (*domain.Job, error) {
	var rec jobRecord
	err := r.db.Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return decodeJob(&rec)
}

// LoadAll returns every decodable snapshot, oldest first. Rows that fail to
// decode are skipped and reported through the joined error.
func (r *SQLiteJobRepository) LoadAll() ([]*domain.Job, error) {
	var recs []jobRecord
	if err := r.db.Order("created_at_nanos ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(recs))
	var errs []error
	for i := range recs {
		job, err := decodeJob(&recs[i])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, errors.Join(errs...)
}

// Delete removes the snapshot for an id
func (r *SQLiteJobRepository) Delete(id string) error {
	return r.db.Delete(&jobRecord{}, "id = ?", id).Error
}

// Close closes the database connection
func (r *SQLiteJobRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func encodeJob(job *domain.Job) (*jobRecord, error) {
	logs, err := json.Marshal(nonNilStrings(job.LogBuffer))
	if err != nil {
		return nil, fmt.Errorf("failed to encode logs of job %s: %w", job.ID, err)
	}
	paused, err := json.Marshal(nonNilInts(job.PausedItemIndices))
	if err != nil {
		return nil, fmt.Errorf("failed to encode paused items of job %s: %w", job.ID, err)
	}

	items := make([]itemRecord, len(job.Items))
	for i, it := range job.Items {
		items[i] = itemRecord{
			Index:        it.Index,
			Title:        it.Title,
			SourceURL:    it.SourceURL,
			Thumbnail:    it.Thumbnail,
			Status:       string(it.Status),
			Progress:     it.Progress,
			ErrorMessage: it.ErrorMessage,
		}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode items of job %s: %w", job.ID, err)
	}

	return &jobRecord{
		ID:                  job.ID,
		SchemaVersion:       jobSchemaVersion,
		SourceURL:           job.SourceURL,
		Status:              string(job.Status),
		CreatedAtNanos:      job.CreatedAt.UnixNano(),
		UpdatedAtNanos:      job.UpdatedAt.UnixNano(),
		ProgressPercent:     job.ProgressPercent,
		Message:             job.Message,
		LogBuffer:           string(logs),
		OutputDirectory:     job.OutputDirectory,
		ArchivePath:         job.ArchivePath,
		CollectionTitle:     job.CollectionTitle,
		ThumbnailURL:        job.ThumbnailURL,
		TotalItemCount:      job.TotalItemCount,
		CurrentItemIndex:    job.CurrentItemIndex,
		CurrentItemProgress: job.CurrentItemProgress,
		CancelRequested:     job.CancelRequested,
		Paused:              job.Paused,
		PausedItemIndices:   string(paused),
		Items:               string(itemsJSON),
	}, nil
}

func decodeJob(rec *jobRecord) (*domain.Job, error) {
	if rec.SchemaVersion > jobSchemaVersion {
		return nil, fmt.Errorf("job %s: %w (%d)", rec.ID, domain.ErrUnsupportedSchema, rec.SchemaVersion)
	}

	job := &domain.Job{
		ID:                  rec.ID,
		SourceURL:           rec.SourceURL,
		Status:              domain.JobStatus(rec.Status),
		CreatedAt:           time.Unix(0, rec.CreatedAtNanos),
		UpdatedAt:           time.Unix(0, rec.UpdatedAtNanos),
		ProgressPercent:     rec.ProgressPercent,
		Message:             rec.Message,
		LogBuffer:           []string{},
		OutputDirectory:     rec.OutputDirectory,
		ArchivePath:         rec.ArchivePath,
		CollectionTitle:     rec.CollectionTitle,
		ThumbnailURL:        rec.ThumbnailURL,
		TotalItemCount:      rec.TotalItemCount,
		CurrentItemIndex:    rec.CurrentItemIndex,
		CurrentItemProgress: rec.CurrentItemProgress,
		CancelRequested:     rec.CancelRequested,
		Paused:              rec.Paused,
		PausedItemIndices:   []int{},
		Items:               []domain.DownloadItem{},
	}

	if rec.LogBuffer != "" {
		if err := json.Unmarshal([]byte(rec.LogBuffer), &job.LogBuffer); err != nil {
			return nil, fmt.Errorf("failed to decode logs of job %s: %w", rec.ID, err)
		}
	}
	if rec.PausedItemIndices != "" {
		if err := json.Unmarshal([]byte(rec.PausedItemIndices), &job.PausedItemIndices); err != nil {
			return nil, fmt.Errorf("failed to decode paused items of job %s: %w", rec.ID, err)
		}
	}
	if rec.Items != "" {
		var items []itemRecord
		if err := json.Unmarshal([]byte(rec.Items), &items); err != nil {
			return nil, fmt.Errorf("failed to decode items of job %s: %w", rec.ID, err)
		}
		for _, it := range items {
			job.Items = append(job.Items, domain.DownloadItem{
				Index:        it.Index,
				Title:        it.Title,
				SourceURL:    it.SourceURL,
				Thumbnail:    it.Thumbnail,
				Status:       domain.ItemStatus(it.Status),
				Progress:     it.Progress,
				ErrorMessage: it.ErrorMessage,
			})
		}
	}

	return job, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilInts(s []int) []int {
	if s == nil {
		return []int{}
	}
	return s
}
