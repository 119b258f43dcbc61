package infrastructure

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const archiveFileName = "archive.zip"

// Packager bundles a job's result files into a single zip archive
type Packager struct {
	jobsDir    string
	extensions map[string]struct{}
}

// NewPackager creates a packager that writes archives under jobsDir and
// includes files with the given extensions (case-insensitive, leading dot optional)
func NewPackager(jobsDir string, extensions []string) *Packager {
	exts := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = struct{}{}
	}
	return &Packager{jobsDir: jobsDir, extensions: exts}
}

// JobDir returns the working directory of a job
func (p *Packager) JobDir(jobID string) string {
	return filepath.Join(p.jobsDir, jobID)
}

// ArchivePath returns the deterministic archive location for a job
func (p *Packager) ArchivePath(jobID string) string {
	return filepath.Join(p.JobDir(jobID), archiveFileName)
}

// Package scans outputDir for result files and writes them into the job's
// archive, replacing any previous one. When outputDir holds exactly one
// subdirectory, that subdirectory becomes the payload root so the archive
// has no redundant wrapper folder.
func (p *Packager) Package(jobID, outputDir string) (string, error) {
	archivePath := p.ArchivePath(jobID)
	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create job directory: %w", err)
	}
	if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to remove stale archive: %w", err)
	}

	payloadRoot, err := payloadRoot(outputDir)
	if err != nil {
		return "", err
	}
	files, err := p.collectFiles(payloadRoot)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(archivePath), ".archive-*.zip")
	if err != nil {
		return "", fmt.Errorf("failed to create temp archive: %w", err)
	}
	tmpName := tmp.Name()

	if err := writeZip(tmp, filepath.Dir(payloadRoot), files); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close archive: %w", err)
	}
	if err := os.Rename(tmpName, archivePath); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to move archive into place: %w", err)
	}

	return archivePath, nil
}

// payloadRoot returns the only subdirectory of outputDir, or outputDir itself
func payloadRoot(outputDir string) (string, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return outputDir, nil
		}
		return "", fmt.Errorf("failed to read output directory: %w", err)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 1 {
		return filepath.Join(outputDir, dirs[0]), nil
	}
	return outputDir, nil
}

func (p *Packager) collectFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := p.extensions[strings.ToLower(filepath.Ext(path))]; ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan output directory: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// writeZip stores files deflated, named relative to base with forward slashes
func writeZip(w io.Writer, base string, files []string) error {
	zw := zip.NewWriter(w)
	for _, path := range files {
		rel, err := filepath.Rel(base, path)
		if err != nil {
			zw.Close()
			return fmt.Errorf("failed to name archive entry for %s: %w", path, err)
		}
		if err := addZipEntry(zw, path, filepath.ToSlash(rel)); err != nil {
			zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}

func addZipEntry(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to build header for %s: %w", path, err)
	}
	header.Name = name
	header.Method = zip.Deflate

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create archive entry %s: %w", name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to write archive entry %s: %w", name, err)
	}
	return nil
}
