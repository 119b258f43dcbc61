package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogCategory represents different log categories
type LogCategory string

const (
	CategoryJobs  LogCategory = "jobs"  // Job lifecycle events (JSON)
	CategoryError LogCategory = "error" // Application errors (JSON)
)

// Categories lists every category written by MultiLogger
var Categories = []LogCategory{CategoryJobs, CategoryError}

// ValidCategory reports whether c names a known category
func ValidCategory(c LogCategory) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// categoryFile is one category logger and the dated file behind it
type categoryFile struct {
	logger *zap.Logger
	out    *dailyFile
}

// MultiLogger writes structured events into dated per-category files.
// Subprocess output is kept in each job's log buffer, not here.
// All methods are safe on a nil receiver, which discards events.
type MultiLogger struct {
	config MultiLoggerConfig
	level  zapcore.Level
	mu     sync.Mutex
	files  map[LogCategory]*categoryFile

	clockMu sync.Mutex
	now     func() time.Time
}

// MultiLoggerConfig contains configuration for multi-output logging
type MultiLoggerConfig struct {
	Level   string // debug, info, warn, error
	LogsDir string // Directory for log files
}

// NewMultiLogger creates a new multi-output logger
func NewMultiLogger(config MultiLoggerConfig) (*MultiLogger, error) {
	if config.LogsDir == "" {
		return nil, fmt.Errorf("logs_dir must be specified")
	}

	if err := os.MkdirAll(config.LogsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	ml := &MultiLogger{
		config: config,
		level:  level,
		files:  make(map[LogCategory]*categoryFile),
		now:    time.Now,
	}

	ml.mu.Lock()
	defer ml.mu.Unlock()
	for _, category := range Categories {
		catLevel := level
		if category == CategoryError {
			catLevel = zapcore.ErrorLevel
		}
		cf, err := ml.createStructuredLogger(category, catLevel)
		if err != nil {
			ml.closeAll()
			return nil, fmt.Errorf("failed to create %s logger: %w", category, err)
		}
		ml.files[category] = cf
	}
	return ml, nil
}

func (ml *MultiLogger) clock() time.Time {
	ml.clockMu.Lock()
	defer ml.clockMu.Unlock()
	return ml.now()
}

func (ml *MultiLogger) setClock(now func() time.Time) {
	ml.clockMu.Lock()
	defer ml.clockMu.Unlock()
	ml.now = now
}

// closeAll syncs and closes every open file. Caller holds mu.
func (ml *MultiLogger) closeAll() error {
	var lastErr error
	for category, cf := range ml.files {
		if err := cf.out.Close(); err != nil {
			lastErr = err
		}
		delete(ml.files, category)
	}
	return lastErr
}

// createStructuredLogger creates a JSON-formatted logger for a category
func (ml *MultiLogger) createStructuredLogger(category LogCategory, level zapcore.Level) (*categoryFile, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "msg"
	encoderConfig.LevelKey = "level"
	encoderConfig.CallerKey = ""

	out := &dailyFile{dir: ml.config.LogsDir, category: category, now: ml.clock}
	if err := out.open(ml.clock()); err != nil {
		return nil, err
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), out, level)
	return &categoryFile{logger: zap.New(core), out: out}, nil
}

// dailyFile is a WriteSyncer that moves to a new file when the date
// changes. Rotation and writes share one lock, so no entry is ever written
// to a file that is being closed.
type dailyFile struct {
	dir      string
	category LogCategory
	now      func() time.Time

	mu     sync.Mutex
	date   string
	file   *os.File
	closed bool
}

// open switches to the file for t. Caller holds mu or owns d exclusively.
func (d *dailyFile) open(t time.Time) error {
	file, err := os.OpenFile(CategoryLogPath(d.dir, d.category, t), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if d.file != nil {
		_ = d.file.Close()
	}
	d.file = file
	d.date = t.Format("20060102")
	return nil
}

func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return len(p), nil
	}
	if t := d.now(); t.Format("20060102") != d.date {
		if err := d.open(t); err != nil {
			return 0, fmt.Errorf("failed to rotate %s log: %w", d.category, err)
		}
	}
	return d.file.Write(p)
}

func (d *dailyFile) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.file == nil {
		return nil
	}
	return d.file.Sync()
}

func (d *dailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.file == nil {
		return nil
	}
	d.file.Sync()
	return d.file.Close()
}

// CategoryLogPath returns the file for a category on a given day
func CategoryLogPath(logsDir string, category LogCategory, date time.Time) string {
	filename := fmt.Sprintf("%s-%s.log", category, date.Format("20060102"))
	return filepath.Join(logsDir, filename)
}

// GetLogsDir returns the logs directory path
func (ml *MultiLogger) GetLogsDir() string {
	if ml == nil {
		return ""
	}
	return ml.config.LogsDir
}

// GetLogger returns the logger for a category. Its file follows the date,
// so the logger stays valid across midnight.
func (ml *MultiLogger) GetLogger(category LogCategory) *zap.Logger {
	if ml == nil {
		return zap.NewNop()
	}

	ml.mu.Lock()
	defer ml.mu.Unlock()

	if cf, ok := ml.files[category]; ok {
		return cf.logger
	}
	if cf, ok := ml.files[CategoryError]; ok {
		return cf.logger
	}
	return zap.NewNop()
}

// Jobs returns the job event logger
func (ml *MultiLogger) Jobs() *zap.Logger {
	return ml.GetLogger(CategoryJobs)
}

// Error returns the application error logger
func (ml *MultiLogger) Error() *zap.Logger {
	return ml.GetLogger(CategoryError)
}

// LogAppError logs an application-level error
func (ml *MultiLogger) LogAppError(msg string, fields ...zap.Field) {
	ml.Error().Error(msg, fields...)
}

// LogJobEvent logs a job lifecycle event with structured data
func (ml *MultiLogger) LogJobEvent(event string, fields ...zap.Field) {
	ml.Jobs().Info(event, fields...)
}

// Sync flushes all loggers
func (ml *MultiLogger) Sync() error {
	if ml == nil {
		return nil
	}
	ml.mu.Lock()
	defer ml.mu.Unlock()

	var lastErr error
	for _, cf := range ml.files {
		if err := cf.logger.Sync(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Close flushes and closes all category files
func (ml *MultiLogger) Close() error {
	if ml == nil {
		return nil
	}
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return ml.closeAll()
}
