package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/media-fetch-go/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_FromFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := writeConfig(t, `
server:
  port: 9100
download:
  base_dir: ~/media
  audio_format: m4a
worker:
  concurrency: 20
  pause_poll_interval: 750ms
retention:
  days: 3
  sweep_schedule: "0 4 * * *"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, filepath.Join(home, "media"), cfg.Download.BaseDir)
	assert.Equal(t, "m4a", cfg.Download.AudioFormat)
	assert.Equal(t, "yt-dlp", cfg.Download.YTDLPBinary)
	assert.Equal(t, domain.MaxWorkerConcurrency, cfg.Worker.EffectiveConcurrency())
	assert.Equal(t, 750*time.Millisecond, cfg.Worker.PausePollInterval)
	assert.Equal(t, 5*time.Second, cfg.Worker.TerminateGrace)
	assert.Equal(t, 3, cfg.Retention.Days)
	assert.Equal(t, filepath.Join(home, "Music/media-fetch/config/jobs.db"), cfg.Persistence.DatabasePath)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("MEDIAFETCH_SERVER_PORT", "9999")
	t.Setenv("MEDIAFETCH_WORKER_MAX_CONCURRENT_JOBS", "5")
	t.Setenv("MEDIAFETCH_DOWNLOAD_BASE_DIR", "/srv/media")

	cfg, err := LoadConfig(writeConfig(t, "server:\n  port: 9100\n"))
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Worker.MaxConcurrentJobs)
	assert.Equal(t, "/srv/media", cfg.Download.BaseDir)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad port", "server:\n  port: 70000\n"},
		{"negative retention", "retention:\n  days: -1\n"},
		{"bad schedule", "retention:\n  sweep_schedule: \"whenever\"\n"},
		{"negative concurrency", "worker:\n  concurrency: -2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.Download.BaseDir = "/data/media"
	cfg.Worker.DeleteWait = 4 * time.Second
	cfg.Notification.Enabled = true
	cfg.Persistence.DatabasePath = "/data/media/config/jobs.db"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/media", loaded.Download.BaseDir)
	assert.Equal(t, 4*time.Second, loaded.Worker.DeleteWait)
	assert.True(t, loaded.Notification.Enabled)
	assert.Equal(t, []string{".mp3"}, loaded.Download.ResultExtensions)
}
