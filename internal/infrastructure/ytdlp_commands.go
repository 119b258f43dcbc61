package infrastructure

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/yourusername/media-fetch-go/internal/domain"
)

const (
	collectionOutputTemplate = "%(playlist_title)s/%(playlist_index)03d - %(title)s.%(ext)s"
	singleOutputTemplate     = "%(title)s.%(ext)s"

	// DefaultSelectionFolder names the folder of a selective job without a title
	DefaultSelectionFolder = "Selected"
)

// YTDLPCommandBuilder implements domain.CommandBuilder for yt-dlp audio extraction
type YTDLPCommandBuilder struct {
	config      *domain.DownloadConfig
	archiveFile string
}

// NewYTDLPCommandBuilder creates a command builder from the download configuration
func NewYTDLPCommandBuilder(config *domain.DownloadConfig) *YTDLPCommandBuilder {
	return &YTDLPCommandBuilder{
		config:      config,
		archiveFile: config.ArchiveFilePath(),
	}
}

// Validate checks that the yt-dlp binary can be found
func (b *YTDLPCommandBuilder) Validate() error {
	if _, err := exec.LookPath(b.config.YTDLPBinary); err != nil {
		return fmt.Errorf("yt-dlp not found: %s: %w", b.config.YTDLPBinary, err)
	}
	return nil
}

// CollectionCommand downloads a whole collection, or a single item when collection is false
func (b *YTDLPCommandBuilder) CollectionCommand(url, outputDir string, collection bool) domain.Command {
	playlistFlag := "--no-playlist"
	template := singleOutputTemplate
	if collection {
		playlistFlag = "--yes-playlist"
		template = collectionOutputTemplate
	}

	args := append([]string{playlistFlag}, b.commonArgs()...)
	args = append(args, "--output", filepath.Join(outputDir, template), url)
	return domain.Command{Binary: b.config.YTDLPBinary, Args: args}
}

// ItemCommand downloads one selected item into folderDir
func (b *YTDLPCommandBuilder) ItemCommand(url, folderDir string) domain.Command {
	args := append([]string{"--no-playlist"}, b.commonArgs()...)
	args = append(args, "--output", filepath.Join(folderDir, singleOutputTemplate), url)
	return domain.Command{Binary: b.config.YTDLPBinary, Args: args}
}

func (b *YTDLPCommandBuilder) commonArgs() []string {
	format := b.config.AudioFormat
	if format == "" {
		format = "mp3"
	}
	quality := b.config.AudioQuality
	if quality == "" {
		quality = "0"
	}

	args := []string{
		"--download-archive", b.archiveFile,
		"--no-overwrites",
		"--extract-audio",
		"--audio-format", format,
		"--audio-quality", quality,
		"--newline",
		"--no-mtime",
	}
	if b.config.FFmpegLocation != "" {
		args = append(args, "--ffmpeg-location", b.config.FFmpegLocation)
	}
	if b.config.Proxy != "" {
		args = append(args, "--proxy", b.config.Proxy)
	}
	return args
}

// SanitizeFolderName strips characters that are not allowed in folder names
// and falls back to DefaultSelectionFolder when nothing is left
func SanitizeFolderName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`\/:*?"<>|`, r) || r < 0x20 {
			return -1
		}
		return r
	}, name)
	cleaned = strings.Trim(strings.TrimSpace(cleaned), ".")
	if cleaned == "" {
		return DefaultSelectionFolder
	}
	return cleaned
}
