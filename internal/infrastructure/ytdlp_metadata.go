package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/media-fetch-go/internal/domain"
)

var collectionURLPattern = regexp.MustCompile(`(?i)(^|[?&])list=`)

// ytdlpInfo is the subset of yt-dlp --dump-single-json output we read
type ytdlpInfo struct {
	Title      string           `json:"title"`
	Thumbnail  string           `json:"thumbnail"`
	Thumbnails []ytdlpThumbnail `json:"thumbnails"`
	Entries    []*ytdlpEntry    `json:"entries"`
}

type ytdlpEntry struct {
	ID         string           `json:"id"`
	Title      string           `json:"title"`
	URL        string           `json:"url"`
	WebpageURL string           `json:"webpage_url"`
	Duration   float64          `json:"duration"`
	Thumbnail  string           `json:"thumbnail"`
	Thumbnails []ytdlpThumbnail `json:"thumbnails"`
}

// ytdlpThumbnail tolerates dimensions reported as numbers or strings
type ytdlpThumbnail struct {
	URL    string          `json:"url"`
	Width  json.RawMessage `json:"width"`
	Height json.RawMessage `json:"height"`
}

// YTDLPMetadataProvider implements domain.MetadataProvider by running
// yt-dlp in metadata-only mode
type YTDLPMetadataProvider struct {
	downloadConfig *domain.DownloadConfig
	config         *domain.MetadataConfig
	logger         *zap.Logger
}

// NewYTDLPMetadataProvider creates a metadata provider
func NewYTDLPMetadataProvider(downloadConfig *domain.DownloadConfig, config *domain.MetadataConfig, logger *zap.Logger) *YTDLPMetadataProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &YTDLPMetadataProvider{
		downloadConfig: downloadConfig,
		config:         config,
		logger:         logger,
	}
}

// IsCollectionURL reports whether the link names a playlist
func (p *YTDLPMetadataProvider) IsCollectionURL(url string) bool {
	return IsCollectionURL(url)
}

// IsCollectionURL reports whether the link carries a list= parameter or a /playlist path
func IsCollectionURL(url string) bool {
	if url == "" {
		return false
	}
	return collectionURLPattern.MatchString(url) || strings.Contains(url, "/playlist")
}

// FetchCollectionMetadata lists the entries of a collection without downloading
func (p *YTDLPMetadataProvider) FetchCollectionMetadata(ctx context.Context, url string) (*domain.CollectionMetadata, error) {
	raw, err := p.dump(ctx, url, "--flat-playlist")
	if err != nil || raw == nil {
		return nil, err
	}
	return ParseCollectionMetadata(raw)
}

// FetchSingleMetadata reads title and artwork of one item
func (p *YTDLPMetadataProvider) FetchSingleMetadata(ctx context.Context, url string) (*domain.MediaMetadata, error) {
	raw, err := p.dump(ctx, url, "--no-playlist")
	if err != nil || raw == nil {
		return nil, err
	}
	return ParseSingleMetadata(raw)
}

// dump runs yt-dlp --dump-single-json. A non-zero exit or empty output
// yields (nil, nil); only a failure to run the tool is an error.
func (p *YTDLPMetadataProvider) dump(ctx context.Context, url, modeFlag string) ([]byte, error) {
	timeout := p.config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"--dump-single-json",
		"--skip-download",
		modeFlag,
		"--no-warnings",
	}
	if p.config.SocketTimeout > 0 {
		args = append(args, "--socket-timeout", strconv.Itoa(int(p.config.SocketTimeout.Seconds())))
	}
	if p.downloadConfig.Proxy != "" {
		args = append(args, "--proxy", p.downloadConfig.Proxy)
	}
	args = append(args, url)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.downloadConfig.YTDLPBinary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	p.logger.Debug("Fetching metadata", zap.String("command", FormatCommand(p.downloadConfig.YTDLPBinary, args...)))

	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok || ctx.Err() != nil {
			p.logger.Warn("Metadata fetch failed",
				zap.String("url", url),
				zap.String("stderr", strings.TrimSpace(stderr.String())),
				zap.Error(err))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to run %s: %w", p.downloadConfig.YTDLPBinary, err)
	}

	raw := bytes.TrimSpace(stdout.Bytes())
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}

// ParseCollectionMetadata decodes flat-playlist JSON. Entries without a
// link get a watch URL built from their id; untitled entries are named
// "Track N". ItemCount is the number of entries actually listed.
func ParseCollectionMetadata(raw []byte) (*domain.CollectionMetadata, error) {
	var info ytdlpInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("failed to decode collection metadata: %w", err)
	}

	meta := &domain.CollectionMetadata{
		Title:      info.Title,
		Thumbnail:  info.Thumbnail,
		Thumbnails: convertThumbnails(info.Thumbnails),
		Entries:    []domain.CollectionEntry{},
	}

	for i, e := range info.Entries {
		if e == nil {
			continue
		}
		title := e.Title
		if title == "" {
			title = fmt.Sprintf("Track %d", i+1)
		}
		url := e.URL
		if url == "" {
			url = e.WebpageURL
		}
		if url == "" && e.ID != "" {
			url = "https://www.youtube.com/watch?v=" + e.ID
		}
		meta.Entries = append(meta.Entries, domain.CollectionEntry{
			ID:         e.ID,
			Title:      title,
			URL:        url,
			Duration:   e.Duration,
			Thumbnail:  e.Thumbnail,
			Thumbnails: convertThumbnails(e.Thumbnails),
		})
	}
	meta.ItemCount = len(meta.Entries)

	return meta, nil
}

// ParseSingleMetadata decodes single-item JSON
func ParseSingleMetadata(raw []byte) (*domain.MediaMetadata, error) {
	var info ytdlpInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &domain.MediaMetadata{
		Title:      info.Title,
		Thumbnail:  info.Thumbnail,
		Thumbnails: convertThumbnails(info.Thumbnails),
	}, nil
}

func convertThumbnails(in []ytdlpThumbnail) []domain.Thumbnail {
	out := make([]domain.Thumbnail, 0, len(in))
	for _, t := range in {
		out = append(out, domain.Thumbnail{
			URL:    t.URL,
			Width:  dimension(t.Width),
			Height: dimension(t.Height),
		})
	}
	return out
}

// dimension reads a width/height that may be a number, a numeric string or null
func dimension(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n
		}
	}
	return 0
}
