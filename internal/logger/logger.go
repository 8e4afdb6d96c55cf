package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the severity level of a log message.
type LogLevel string

const (
	Debug LogLevel = "DEBUG"
	Info  LogLevel = "INFO"
	Warn  LogLevel = "WARN"
	Error LogLevel = "ERROR"
)

// LogFileName is the name of the rotating log file inside the log directory.
const LogFileName = "infinity-status.log"

// minLevel is the minimum log level to output. Messages below this level are filtered.
var minLevel LogLevel = Info

// levelPriority returns the numeric priority of a log level (higher = more severe)
func levelPriority(level LogLevel) int {
	switch level {
	case Debug:
		return 0
	case Info:
		return 1
	case Warn:
		return 2
	case Error:
		return 3
	default:
		return 1
	}
}

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" to a level.
// Anything else yields Info and false.
func ParseLevel(level string) (LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return Debug, true
	case "info":
		return Info, true
	case "warn", "warning":
		return Warn, true
	case "error":
		return Error, true
	default:
		return Info, false
	}
}

// SetLevel sets the minimum log level. Valid values: "debug", "info", "warn", "error"
func SetLevel(level string) {
	lvl, _ := ParseLevel(level)
	mu.Lock()
	minLevel = lvl
	mu.Unlock()
	log.Printf("Log level set to: %s", lvl)
}

// GetLevel returns the current minimum level.
func GetLevel() LogLevel {
	mu.Lock()
	defer mu.Unlock()
	return minLevel
}

// LogEntry represents a single log message with metadata for streaming to clients.
type LogEntry struct {
	Timestamp string   `json:"timestamp"`
	Level     LogLevel `json:"level"`
	Message   string   `json:"message"`
}

// Rotation controls the lumberjack log file rotation.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultRotation keeps three compressed 20MB files for two weeks.
var DefaultRotation = Rotation{MaxSizeMB: 20, MaxBackups: 3, MaxAgeDays: 14}

var (
	listeners  []chan LogEntry
	mu         sync.Mutex
	fileLogger *lumberjack.Logger
)

func init() {
	listeners = make([]chan LogEntry, 0)
	// Default to stdout only until Init() is called with proper config
	log.SetOutput(os.Stdout)
	log.SetFlags(0) // Disable standard flags (date/time) so we can control format
}

// Init writes logs to logDir with the default rotation.
// Should be called after config is loaded.
func Init(logDir string) {
	InitWithRotation(logDir, DefaultRotation)
}

// InitWithRotation writes logs to stdout and to a rotating file in logDir.
func InitWithRotation(logDir string, r Rotation) {
	if err := os.MkdirAll(logDir, 0700); err != nil {
		log.Printf("Failed to create log directory: %v", err)
		return
	}

	mu.Lock()
	defer mu.Unlock()
	if fileLogger != nil {
		_ = fileLogger.Close()
	}
	fileLogger = &lumberjack.Logger{
		Filename:   filepath.Join(logDir, LogFileName),
		MaxSize:    r.MaxSizeMB,
		MaxBackups: r.MaxBackups,
		MaxAge:     r.MaxAgeDays,
		Compress:   true,
	}

	log.SetOutput(io.MultiWriter(os.Stdout, fileLogger))
}

// Close flushes and closes the log file, falling back to stdout only.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if fileLogger == nil {
		return nil
	}
	err := fileLogger.Close()
	fileLogger = nil
	log.SetOutput(os.Stdout)
	return err
}

// GetLogDir returns the directory where log files are stored
func GetLogDir() string {
	mu.Lock()
	defer mu.Unlock()
	if fileLogger != nil {
		return filepath.Dir(fileLogger.Filename)
	}
	return ""
}

// Subscribe returns a channel that receives all log entries for real-time streaming.
func Subscribe() chan LogEntry {
	mu.Lock()
	defer mu.Unlock()
	ch := make(chan LogEntry, 100)
	listeners = append(listeners, ch)
	return ch
}

// Unsubscribe removes a log listener channel and closes it.
func Unsubscribe(ch chan LogEntry) {
	mu.Lock()
	defer mu.Unlock()
	for i, l := range listeners {
		if l == ch {
			listeners = append(listeners[:i], listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

func broadcast(entry LogEntry) {
	mu.Lock()
	defer mu.Unlock()
	for _, ch := range listeners {
		select {
		case ch <- entry:
		default:
			// Drop message if channel is full to prevent blocking
		}
	}
}

// Log writes a formatted message at the specified level to stdout, file, and subscribers.
func Log(level LogLevel, format string, v ...interface{}) {
	if levelPriority(level) < levelPriority(GetLevel()) {
		return
	}

	msg := fmt.Sprintf(format, v...)
	timestamp := time.Now().Format(time.RFC3339)

	// Format: timestamp [LEVEL] message
	log.Printf("%s [%s] %s", timestamp, level, msg)

	broadcast(LogEntry{
		Timestamp: timestamp,
		Level:     level,
		Message:   msg,
	})
}

// Infof logs a formatted message at INFO level.
func Infof(format string, v ...interface{}) {
	Log(Info, format, v...)
}

// Errorf logs a formatted message at ERROR level.
func Errorf(format string, v ...interface{}) {
	Log(Error, format, v...)
}

// Debugf logs a formatted message at DEBUG level.
func Debugf(format string, v ...interface{}) {
	Log(Debug, format, v...)
}

// Warnf logs a formatted message at WARN level.
func Warnf(format string, v ...interface{}) {
	Log(Warn, format, v...)
}
