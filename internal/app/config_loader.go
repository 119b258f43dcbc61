package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/yourusername/media-fetch-go/internal/domain"
)

// EnvPrefix prefixes environment overrides, e.g. MEDIAFETCH_SERVER_PORT
const EnvPrefix = "MEDIAFETCH"

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*domain.Config, error) {
	config := domain.DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.media-fetch")
		v.AddConfigPath("/etc/media-fetch")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only resolves keys viper already knows
	configKeys(v.SetDefault, config)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config = expandPaths(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// configKeys hands every configuration key and its value to set
func configKeys(set func(key string, value interface{}), config *domain.Config) {
	set("server.host", config.Server.Host)
	set("server.port", config.Server.Port)

	set("download.base_dir", config.Download.BaseDir)
	set("download.ytdlp_binary", config.Download.YTDLPBinary)
	set("download.ffmpeg_location", config.Download.FFmpegLocation)
	set("download.proxy", config.Download.Proxy)
	set("download.audio_format", config.Download.AudioFormat)
	set("download.audio_quality", config.Download.AudioQuality)
	set("download.archive_file", config.Download.ArchiveFile)
	set("download.result_extensions", config.Download.ResultExtensions)

	set("worker.concurrency", config.Worker.Concurrency)
	set("worker.max_concurrent_jobs", config.Worker.MaxConcurrentJobs)
	set("worker.pause_poll_interval", config.Worker.PausePollInterval)
	set("worker.terminate_grace", config.Worker.TerminateGrace)
	set("worker.delete_wait", config.Worker.DeleteWait)

	set("metadata.timeout", config.Metadata.Timeout)
	set("metadata.socket_timeout", config.Metadata.SocketTimeout)

	set("retention.days", config.Retention.Days)
	set("retention.sweep_schedule", config.Retention.SweepSchedule)
	set("retention.sweep_on_startup", config.Retention.SweepOnStartup)

	set("persistence.database_path", config.Persistence.DatabasePath)

	set("notification.enabled", config.Notification.Enabled)
	set("notification.sound", config.Notification.Sound)
	set("notification.method", config.Notification.Method)

	set("logging.level", config.Logging.Level)
	set("logging.format", config.Logging.Format)
	set("logging.output_path", config.Logging.OutputPath)
}

// expandPaths expands environment variables in path configurations
func expandPaths(config *domain.Config) *domain.Config {
	config.Download.BaseDir = expandPath(config.Download.BaseDir)
	config.Download.ArchiveFile = expandPath(config.Download.ArchiveFile)
	config.Download.FFmpegLocation = expandPath(config.Download.FFmpegLocation)
	config.Persistence.DatabasePath = expandPath(config.Persistence.DatabasePath)

	if config.Logging.OutputPath != "stdout" && config.Logging.OutputPath != "stderr" {
		config.Logging.OutputPath = expandPath(config.Logging.OutputPath)
	}

	return config
}

// expandPath expands environment variables and ~ in paths
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	if strings.Contains(path, "$HOME") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = strings.ReplaceAll(path, "$HOME", home)
		}
	}

	return os.ExpandEnv(path)
}

// validateConfig validates the configuration
func validateConfig(config *domain.Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Download.BaseDir == "" {
		return fmt.Errorf("download base directory not configured")
	}

	if config.Download.YTDLPBinary == "" {
		return fmt.Errorf("yt-dlp binary not configured")
	}

	if config.Worker.Concurrency < 0 {
		return fmt.Errorf("worker concurrency cannot be negative")
	}

	if config.Worker.MaxConcurrentJobs < 0 {
		return fmt.Errorf("max concurrent jobs cannot be negative")
	}

	if config.Retention.Days < 0 {
		return fmt.Errorf("retention days cannot be negative")
	}

	if config.Retention.SweepSchedule != "" {
		if _, err := scheduleParser.Parse(config.Retention.SweepSchedule); err != nil {
			return fmt.Errorf("invalid retention sweep schedule: %w", err)
		}
	}

	if config.Persistence.DatabasePath == "" {
		config.Persistence.DatabasePath = filepath.Join(config.Download.ConfigDir(), "jobs.db")
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	return nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *domain.Config, path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	configKeys(v.Set, config)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
