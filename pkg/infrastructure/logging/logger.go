// Package logging provides the structured, component-scoped logger used
// throughout the filter-stack engine. Filter blob payloads and attribute
// values are opaque, potentially sensitive binary data supplied by search
// clients. When sanitizing is enabled, this logger prints "[REDACTED]" in
// place of any field whose name marks it as a blob, attribute value,
// session variable or credential; message text and other fields are
// printed as given.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogLevel represents different logging levels.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel parses a string into a LogLevel.
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

// LogFormat represents different log output formats.
type LogFormat int

const (
	TextFormat LogFormat = iota
	JSONFormat
)

// LogEntry represents a single log entry.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
}

// Logger provides structured logging for one component of the engine.
type Logger struct {
	mu               sync.RWMutex
	level            LogLevel
	format           LogFormat
	output           io.Writer
	showCaller       bool
	component        string
	enableSanitizing bool
}

// Config holds logger configuration.
type Config struct {
	Level            LogLevel
	Format           LogFormat
	Output           io.Writer
	ShowCaller       bool
	Component        string
	EnableSanitizing bool
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:            InfoLevel,
		Format:           TextFormat,
		Output:           os.Stdout,
		ShowCaller:       false,
		Component:        "",
		EnableSanitizing: true,
	}
}

// sensitiveFieldPattern flags field names that the engine must never log
// verbatim: filter blob payloads, attribute values, and session variable
// snapshots, all of which may carry caller-supplied binary data.
var sensitiveFieldPattern = regexp.MustCompile(`(?i)(blob|attr(ibute)?[-_]?value|session[-_]?var(iable)?s?|password|secret|token|credential)`)

// NewLogger creates a new logger with the given configuration.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	return &Logger{
		level:            config.Level,
		format:           config.Format,
		output:           config.Output,
		showCaller:       config.ShowCaller,
		component:        config.Component,
		enableSanitizing: config.EnableSanitizing,
	}
}

// WithComponent returns a new logger tagging every entry with component,
// e.g. the name of the filter a FilterRunner is driving.
func (l *Logger) WithComponent(component string) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return &Logger{
		level:            l.level,
		format:           l.format,
		output:           l.output,
		showCaller:       l.showCaller,
		component:        component,
		enableSanitizing: l.enableSanitizing,
	}
}

// SetLevel sets the logging level.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetOutput sets the output writer.
func (l *Logger) SetOutput(output io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = output
}

// IsEnabled checks if a log level is enabled.
func (l *Logger) IsEnabled(level LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

// SetSanitizing enables or disables field-name-based redaction.
func (l *Logger) SetSanitizing(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enableSanitizing = enabled
}

func (l *Logger) sanitizeFields(fields map[string]interface{}) map[string]interface{} {
	if !l.enableSanitizing || fields == nil {
		return fields
	}
	sanitized := make(map[string]interface{}, len(fields))
	for key, value := range fields {
		if sensitiveFieldPattern.MatchString(key) {
			sanitized[key] = "[REDACTED]"
		} else {
			sanitized[key] = value
		}
	}
	return sanitized
}

// log writes a log entry.
func (l *Logger) log(level LogLevel, message string, fields map[string]interface{}) {
	if !l.IsEnabled(level) {
		return
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   message,
		Fields:    l.sanitizeFields(fields),
	}

	if l.component != "" {
		if entry.Fields == nil {
			entry.Fields = make(map[string]interface{})
		}
		entry.Fields["component"] = l.component
	}

	if l.showCaller {
		if _, file, line, ok := runtime.Caller(3); ok {
			entry.Caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
		}
	}

	var output string
	switch l.format {
	case JSONFormat:
		data, _ := json.Marshal(entry)
		output = string(data) + "\n"
	default:
		output = l.formatText(entry)
	}

	l.output.Write([]byte(output))
}

func (l *Logger) formatText(entry LogEntry) string {
	timestamp := entry.Timestamp.Format("2006-01-02 15:04:05")

	parts := []string{timestamp, fmt.Sprintf("[%s]", entry.Level)}
	if entry.Caller != "" {
		parts = append(parts, fmt.Sprintf("(%s)", entry.Caller))
	}
	parts = append(parts, entry.Message)

	result := strings.Join(parts, " ")

	if len(entry.Fields) > 0 {
		var fieldParts []string
		for key, value := range entry.Fields {
			fieldParts = append(fieldParts, fmt.Sprintf("%s=%v", key, value))
		}
		result += fmt.Sprintf(" [%s]", strings.Join(fieldParts, " "))
	}

	return result + "\n"
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields ...map[string]interface{}) {
	l.log(DebugLevel, message, firstOrNil(fields))
}

// Info logs an info message.
func (l *Logger) Info(message string, fields ...map[string]interface{}) {
	l.log(InfoLevel, message, firstOrNil(fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields ...map[string]interface{}) {
	l.log(WarnLevel, message, firstOrNil(fields))
}

// Error logs an error message.
func (l *Logger) Error(message string, fields ...map[string]interface{}) {
	l.log(ErrorLevel, message, firstOrNil(fields))
}

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DebugLevel, fmt.Sprintf(format, args...), nil)
}

// Infof logs a formatted info message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(InfoLevel, fmt.Sprintf(format, args...), nil)
}

// Warnf logs a formatted warning message.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WarnLevel, fmt.Sprintf(format, args...), nil)
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ErrorLevel, fmt.Sprintf(format, args...), nil)
}

func firstOrNil(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Global logger instance.
var (
	defaultLogger   *Logger
	defaultLoggerMu sync.RWMutex
)

// InitGlobalLogger initializes the global logger.
func InitGlobalLogger(config *Config) {
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	defaultLogger = NewLogger(config)
}

// GetGlobalLogger returns the global logger, creating a default one on
// first use.
func GetGlobalLogger() *Logger {
	defaultLoggerMu.RLock()
	logger := defaultLogger
	defaultLoggerMu.RUnlock()
	if logger != nil {
		return logger
	}

	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(DefaultConfig())
	}
	return defaultLogger
}

// CreateFileOutput creates a file writer for logging.
func CreateFileOutput(filename string) (io.Writer, error) {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}
