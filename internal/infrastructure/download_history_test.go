package infrastructure

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PL1", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/v/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/embed/abcdefghijk", "abcdefghijk"},
		{"https://www.youtube.com/shorts/A_b-C_d-E_f", "A_b-C_d-E_f"},
		{"https://example.com/track/42", ""},
		{"https://www.youtube.com/watch?v=short", ""},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, MediaID(tt.url))
		})
	}
}

func TestArchiveHistory_Seen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "downloaded.txt")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nyoutube dQw4w9WgXcQ\n\nyoutube abcdefghijk\nbroken\n"), 0644))

	h := NewArchiveHistory(path, nil)
	seen := h.Seen([]string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtu.be/zzzzzzzzzzz",
		"https://www.youtube.com/shorts/abcdefghijk",
		"https://example.com/no-id",
	})

	assert.Equal(t, []bool{true, false, true, false}, seen)
}

func TestArchiveHistory_MissingFile(t *testing.T) {
	h := NewArchiveHistory(filepath.Join(t.TempDir(), "absent.txt"), nil)
	assert.Equal(t, []bool{false, false}, h.Seen([]string{
		"https://youtu.be/dQw4w9WgXcQ",
		"https://youtu.be/abcdefghijk",
	}))
}
