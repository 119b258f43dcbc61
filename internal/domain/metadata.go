package domain

import (
	"context"
	"strings"
)

// placeholderThumbnailMarker identifies stand-in images served for missing artwork
const placeholderThumbnailMarker = "no_thumbnail"

// Thumbnail is one artwork candidate reported by the metadata source
type Thumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// CollectionEntry is one entry of a collection listing
type CollectionEntry struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	URL        string      `json:"url"`
	Duration   float64     `json:"duration,omitempty"`
	Thumbnail  string      `json:"thumbnail,omitempty"`
	Thumbnails []Thumbnail `json:"thumbnails,omitempty"`
}

// CollectionMetadata describes a playlist, channel or similar multi-item source
type CollectionMetadata struct {
	Title      string            `json:"title"`
	ItemCount  int               `json:"item_count"`
	Thumbnail  string            `json:"thumbnail,omitempty"`
	Thumbnails []Thumbnail       `json:"thumbnails,omitempty"`
	Entries    []CollectionEntry `json:"entries"`
}

// MediaMetadata describes a single item
type MediaMetadata struct {
	Title      string      `json:"title"`
	Thumbnail  string      `json:"thumbnail,omitempty"`
	Thumbnails []Thumbnail `json:"thumbnails,omitempty"`
}

// MetadataProvider classifies source URLs and fetches their metadata.
// Fetch methods return (nil, nil) when the source reports nothing usable.
type MetadataProvider interface {
	// IsCollectionURL reports whether the link points at a multi-item source
	IsCollectionURL(url string) bool

	// FetchCollectionMetadata returns title, count, artwork and entries of a collection
	FetchCollectionMetadata(ctx context.Context, url string) (*CollectionMetadata, error)

	// FetchSingleMetadata returns title and artwork of a single item
	FetchSingleMetadata(ctx context.Context, url string) (*MediaMetadata, error)
}

// SelectBestThumbnail picks the candidate with the largest area, skipping
// placeholders. Ties go to the later candidate. Falls back to fallback.
func SelectBestThumbnail(candidates []Thumbnail, fallback string) string {
	best := ""
	bestArea := -1
	for _, t := range candidates {
		if t.URL == "" || strings.Contains(t.URL, placeholderThumbnailMarker) {
			continue
		}
		area := t.Width * t.Height
		if area >= bestArea {
			bestArea = area
			best = t.URL
		}
	}
	if best != "" {
		return best
	}
	return fallback
}
