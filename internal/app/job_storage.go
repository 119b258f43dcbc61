package app

import (
	"io/fs"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// CleanupResult reports what a cleanup removed
type CleanupResult struct {
	DeletedCount int   `json:"deleted_count"`
	FreedBytes   int64 `json:"freed_bytes"`
}

// DiskUsage reports the storage held by all known jobs
type DiskUsage struct {
	JobCount   int   `json:"job_count"`
	TotalBytes int64 `json:"total_bytes"`
}

type jobPaths struct {
	id        string
	jobDir    string
	outputDir string
}

// CleanupOlderThan deletes terminal jobs last updated more than days ago
func (m *JobManager) CleanupOlderThan(days int) CleanupResult {
	cutoff := time.Now().AddDate(0, 0, -days)
	result := m.cleanup(func(updatedAt time.Time) bool {
		return updatedAt.Before(cutoff)
	})
	m.logger.Info("Old jobs cleaned up",
		zap.Int("days", days),
		zap.Int("deleted", result.DeletedCount),
		zap.Int64("freed_bytes", result.FreedBytes))
	return result
}

// CleanupAllTerminal deletes every job in done, error or canceled
func (m *JobManager) CleanupAllTerminal() CleanupResult {
	result := m.cleanup(func(time.Time) bool { return true })
	m.logger.Info("Finished jobs cleaned up",
		zap.Int("deleted", result.DeletedCount),
		zap.Int64("freed_bytes", result.FreedBytes))
	return result
}

func (m *JobManager) cleanup(match func(updatedAt time.Time) bool) CleanupResult {
	var targets []jobPaths
	m.mu.Lock()
	for id, job := range m.jobs {
		if job.IsTerminal() && match(job.UpdatedAt) {
			targets = append(targets, m.pathsLocked(id, job.OutputDirectory))
		}
	}
	m.mu.Unlock()

	var result CleanupResult
	for _, t := range targets {
		size := dirSize(t.jobDir) + dirSize(t.outputDir)
		if m.DeleteJob(t.id) {
			result.DeletedCount++
			result.FreedBytes += size
		}
	}

	m.metrics.swept(result)
	if result.DeletedCount > 0 {
		m.events.LogJobEvent("jobs_swept",
			zap.Int("deleted", result.DeletedCount),
			zap.Int64("freed_bytes", result.FreedBytes))
	}
	return result
}

// DiskUsage sums the working and output directories of every job
func (m *JobManager) DiskUsage() DiskUsage {
	var paths []jobPaths
	m.mu.Lock()
	for id, job := range m.jobs {
		paths = append(paths, m.pathsLocked(id, job.OutputDirectory))
	}
	m.mu.Unlock()

	usage := DiskUsage{JobCount: len(paths)}
	for _, p := range paths {
		usage.TotalBytes += dirSize(p.jobDir) + dirSize(p.outputDir)
	}
	return usage
}

func (m *JobManager) pathsLocked(id, outputDir string) jobPaths {
	if outputDir == "" {
		outputDir = m.outputDir(id)
	}
	return jobPaths{id: id, jobDir: m.packager.JobDir(id), outputDir: outputDir}
}

// dirSize returns the total size of regular files under root; missing is 0
func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
