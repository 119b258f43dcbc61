package domain

import (
	"path/filepath"
	"time"
)

const (
	// MaxWorkerConcurrency is the hard cap on workers per selective job
	MaxWorkerConcurrency = 12
	// DefaultWorkerConcurrency is used when no worker count is configured
	DefaultWorkerConcurrency = 4
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Download     DownloadConfig     `mapstructure:"download"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Metadata     MetadataConfig     `mapstructure:"metadata"`
	Retention    RetentionConfig    `mapstructure:"retention"`
	Persistence  PersistenceConfig  `mapstructure:"persistence"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DownloadConfig contains download-related configuration
type DownloadConfig struct {
	BaseDir          string   `mapstructure:"base_dir"`
	YTDLPBinary      string   `mapstructure:"ytdlp_binary"`
	FFmpegLocation   string   `mapstructure:"ffmpeg_location"`
	Proxy            string   `mapstructure:"proxy"`
	AudioFormat      string   `mapstructure:"audio_format"`
	AudioQuality     string   `mapstructure:"audio_quality"`
	ArchiveFile      string   `mapstructure:"archive_file"` // yt-dlp --download-archive; empty means <base>/config/downloaded.txt
	ResultExtensions []string `mapstructure:"result_extensions"`
}

// JobsDir holds per-job working files and archives
func (c DownloadConfig) JobsDir() string {
	return filepath.Join(c.BaseDir, "jobs")
}

// OutputDir holds downloaded media, one subdirectory per job
func (c DownloadConfig) OutputDir() string {
	return filepath.Join(c.BaseDir, "output")
}

// LogsDir holds the category log files
func (c DownloadConfig) LogsDir() string {
	return filepath.Join(c.BaseDir, "logs")
}

// ConfigDir holds the database and download archive
func (c DownloadConfig) ConfigDir() string {
	return filepath.Join(c.BaseDir, "config")
}

// ArchiveFilePath resolves the yt-dlp download archive location
func (c DownloadConfig) ArchiveFilePath() string {
	if c.ArchiveFile != "" {
		return c.ArchiveFile
	}
	return filepath.Join(c.ConfigDir(), "downloaded.txt")
}

// WorkerConfig controls job execution concurrency and process handling
type WorkerConfig struct {
	Concurrency       int           `mapstructure:"concurrency"`
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	PausePollInterval time.Duration `mapstructure:"pause_poll_interval"`
	TerminateGrace    time.Duration `mapstructure:"terminate_grace"`
	DeleteWait        time.Duration `mapstructure:"delete_wait"`
}

// EffectiveConcurrency clamps the configured worker count to 1..MaxWorkerConcurrency
func (c WorkerConfig) EffectiveConcurrency() int {
	n := c.Concurrency
	if n <= 0 {
		n = DefaultWorkerConcurrency
	}
	if n > MaxWorkerConcurrency {
		n = MaxWorkerConcurrency
	}
	return n
}

// MetadataConfig contains metadata fetch timeouts
type MetadataConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	SocketTimeout time.Duration `mapstructure:"socket_timeout"`
}

// RetentionConfig controls cleanup of finished jobs
type RetentionConfig struct {
	Days           int    `mapstructure:"days"`
	SweepSchedule  string `mapstructure:"sweep_schedule"` // cron spec, empty disables periodic sweeps
	SweepOnStartup bool   `mapstructure:"sweep_on_startup"`
}

// PersistenceConfig contains snapshot store settings
type PersistenceConfig struct {
	DatabasePath string `mapstructure:"database_path"`
}

// NotificationConfig contains notification-related configuration
type NotificationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Sound   bool   `mapstructure:"sound"`
	Method  string `mapstructure:"method"` // osascript, notify-send
}

// LoggingConfig contains logging-related configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8090,
		},
		Download: DownloadConfig{
			BaseDir:          "$HOME/Music/media-fetch",
			YTDLPBinary:      "yt-dlp",
			AudioFormat:      "mp3",
			AudioQuality:     "0",
			ResultExtensions: []string{".mp3"},
		},
		Worker: WorkerConfig{
			Concurrency:       DefaultWorkerConcurrency,
			MaxConcurrentJobs: 2,
			PausePollInterval: 500 * time.Millisecond,
			TerminateGrace:    5 * time.Second,
			DeleteWait:        3 * time.Second,
		},
		Metadata: MetadataConfig{
			Timeout:       30 * time.Second,
			SocketTimeout: 15 * time.Second,
		},
		Retention: RetentionConfig{
			Days:           7,
			SweepSchedule:  "@every 6h",
			SweepOnStartup: true,
		},
		Persistence: PersistenceConfig{
			DatabasePath: "$HOME/Music/media-fetch/config/jobs.db",
		},
		Notification: NotificationConfig{
			Enabled: false,
			Sound:   false,
			Method:  "notify-send",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stdout",
		},
	}
}
