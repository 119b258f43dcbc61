package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job id is unknown
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidURL is returned for links that are not absolute http(s) URLs
	ErrInvalidURL = errors.New("invalid url")
	// ErrNoItems is returned when a selective job is created without items
	ErrNoItems = errors.New("no items selected")
	// ErrUnsupportedSchema is returned when a stored snapshot is newer than this build
	ErrUnsupportedSchema = errors.New("unsupported snapshot schema version")
	// ErrArchiveNotReady is returned when a job has no downloadable archive yet
	ErrArchiveNotReady = errors.New("archive not ready")
	// ErrShuttingDown is returned when a job is created after shutdown began
	ErrShuttingDown = errors.New("job manager is shutting down")
)
