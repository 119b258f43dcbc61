package domain

// JobRepository defines the interface for job snapshot persistence
type JobRepository interface {
	// Save inserts or replaces the snapshot of a job
	Save(job *Job) error

	// Load returns the snapshot for an id, or nil when none is stored
	Load(id string) (*Job, error)

	// LoadAll returns every stored snapshot, oldest first
	LoadAll() ([]*Job, error)

	// Delete removes the snapshot for an id
	Delete(id string) error
}
