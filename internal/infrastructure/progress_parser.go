package infrastructure

import (
	"regexp"
	"strconv"
)

var (
	// "[download]  42.3% of 3.20MiB at 1.1MiB/s ETA 00:02"
	downloadPercentRegex = regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%`)
	// "[download] Downloading item 3 of 12" (older builds say "video")
	downloadItemRegex = regexp.MustCompile(`(?i)\[download\]\s+Downloading\s+(?:item|video)\s+(\d+)\s+of\s+(\d+)`)
)

// ParseDownloadPercent extracts the percentage from a yt-dlp progress line
func ParseDownloadPercent(line string) (float64, bool) {
	match := downloadPercentRegex.FindStringSubmatch(line)
	if match == nil {
		return 0, false
	}
	percent, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	return percent, true
}

// ParseItemPosition extracts "item X of Y" from a yt-dlp playlist line
func ParseItemPosition(line string) (index, total int, ok bool) {
	match := downloadItemRegex.FindStringSubmatch(line)
	if match == nil {
		return 0, 0, false
	}
	index, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, 0, false
	}
	total, err = strconv.Atoi(match[2])
	if err != nil {
		return 0, 0, false
	}
	return index, total, true
}
