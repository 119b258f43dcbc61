package infrastructure

import (
	"bufio"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var mediaIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:v=|/v/|youtu\.be/)([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`(?:embed/|shorts/)([a-zA-Z0-9_-]{11})`),
}

// MediaID extracts the 11-character media id from a video link, or ""
func MediaID(url string) string {
	for _, re := range mediaIDPatterns {
		if m := re.FindStringSubmatch(url); m != nil {
			return m[1]
		}
	}
	return ""
}

// ArchiveHistory implements domain.DownloadHistory over a yt-dlp download
// archive file, whose lines read "<extractor> <id>".
type ArchiveHistory struct {
	path   string
	logger *zap.Logger
}

// NewArchiveHistory creates a history backed by the archive file at path
func NewArchiveHistory(path string, logger *zap.Logger) *ArchiveHistory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveHistory{path: path, logger: logger}
}

// Seen reports, per url, whether its media id is listed in the archive.
// A missing or unreadable archive means nothing was seen.
func (h *ArchiveHistory) Seen(urls []string) []bool {
	seen := make([]bool, len(urls))
	ids := h.loadIDs()
	if len(ids) == 0 {
		return seen
	}
	for i, url := range urls {
		if id := MediaID(url); id != "" {
			_, seen[i] = ids[id]
		}
	}
	return seen
}

func (h *ArchiveHistory) loadIDs() map[string]struct{} {
	f, err := os.Open(h.path)
	if err != nil {
		if !os.IsNotExist(err) {
			h.logger.Warn("Failed to open download archive", zap.String("path", h.path), zap.Error(err))
		}
		return nil
	}
	defer f.Close()

	ids := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			ids[fields[1]] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		h.logger.Warn("Failed to read download archive", zap.String("path", h.path), zap.Error(err))
	}
	return ids
}
