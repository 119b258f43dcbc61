package infrastructure

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// MetaFileName holds the collection title and artwork next to the downloads
	MetaFileName = "__meta.json"
	// TrackThumbnailsFileName maps item titles to their artwork URLs
	TrackThumbnailsFileName = "__track_thumbnails.json"
)

// JobMeta is the content of MetaFileName
type JobMeta struct {
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// WriteJobMeta stores the collection title and artwork in outputDir
func WriteJobMeta(outputDir, title, thumbnailURL string) error {
	return writeJSONAtomic(filepath.Join(outputDir, MetaFileName), JobMeta{
		Title:        title,
		ThumbnailURL: thumbnailURL,
	})
}

// WriteTrackThumbnails stores the title to artwork map of a selective job
func WriteTrackThumbnails(outputDir string, thumbnails map[string]string) error {
	return writeJSONAtomic(filepath.Join(outputDir, TrackThumbnailsFileName), thumbnails)
}

// writeJSONAtomic writes v through a temp file in the same directory and renames it into place
func writeJSONAtomic(filename string, v any) error {
	if filename == "" {
		return errors.New("empty filename")
	}

	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tempFile.Name()

	encoder := json.NewEncoder(tempFile)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		tempFile.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(filename), err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(filename), err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", filepath.Base(filename), err)
	}

	if err := os.Rename(tmpName, filename); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move %s into place: %w", filepath.Base(filename), err)
	}
	return nil
}
