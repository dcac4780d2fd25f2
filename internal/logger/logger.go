package logger

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

func (lvl LogLevel) zerologLevel() zerolog.Level {
	switch lvl {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger writes levelled key/value logs and redacts identifiers unless
// running in development at DEBUG level.
type Logger struct {
	mu    sync.RWMutex
	level LogLevel
	zl    zerolog.Logger
	isDev bool
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Initialize sets up the default logger instance
func Initialize(level LogLevel, isDev bool) {
	once.Do(func() {
		defaultLogger = New(os.Stdout, level, isDev)
	})
}

// New builds a logger writing to w. Development output is human readable,
// everything else is one JSON object per line.
func New(w io.Writer, level LogLevel, isDev bool) *Logger {
	out := w
	if isDev {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	}
	return &Logger{
		level: level,
		zl:    zerolog.New(out).Level(level.zerologLevel()).With().Timestamp().Logger(),
		isDev: isDev,
	}
}

// GetLogger returns the default logger instance
func GetLogger() *Logger {
	if defaultLogger == nil {
		Initialize(INFO, false)
	}
	return defaultLogger
}

// SetLevel updates the log level
func SetLevel(level LogLevel) {
	if defaultLogger != nil {
		defaultLogger.mu.Lock()
		defaultLogger.level = level
		defaultLogger.zl = defaultLogger.zl.Level(level.zerologLevel())
		defaultLogger.mu.Unlock()
	}
}

// hashUserID creates a consistent hash for user IDs
func hashUserID(userID interface{}) string {
	str := fmt.Sprintf("%v", userID)
	hash := sha256.Sum256([]byte(str))
	return fmt.Sprintf("user_%x", hash[:4])
}

// truncateID truncates IDs like session or deck IDs
func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:4] + "****"
}

// redactValue redacts sensitive values based on the key name
func redactValue(key string, value interface{}) interface{} {
	keyLower := strings.ToLower(key)
	valueStr := fmt.Sprintf("%v", value)

	if strings.Contains(keyLower, "password") {
		return "[REDACTED]"
	}

	if strings.Contains(keyLower, "userid") || strings.Contains(keyLower, "user_id") || strings.Contains(keyLower, "owner_id") {
		return hashUserID(value)
	}

	if strings.Contains(keyLower, "session") || strings.Contains(keyLower, "token") {
		return truncateID(valueStr)
	}

	if strings.Contains(keyLower, "deckid") || strings.Contains(keyLower, "deck_id") {
		return truncateID(valueStr)
	}

	if keyLower == "username" && len(valueStr) > 2 {
		return valueStr[:1] + "****" + valueStr[len(valueStr)-1:]
	}

	return value
}

// event starts a zerolog event; zerolog returns a disabled event when
// level is below the configured one.
func (l *Logger) event(level zerolog.Level) *zerolog.Event {
	l.mu.RLock()
	zl := l.zl
	l.mu.RUnlock()
	return zl.WithLevel(level)
}

func (l *Logger) redacting() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !l.isDev || l.level > DEBUG
}

func (l *Logger) write(e *zerolog.Event, msg string, keysAndValues []interface{}) {
	if !e.Enabled() {
		return
	}
	redact := l.redacting()
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		var value interface{}
		if i+1 < len(keysAndValues) {
			value = keysAndValues[i+1]
		}

		if err, ok := value.(error); ok {
			e = e.AnErr(key, err)
			continue
		}
		if redact {
			value = redactValue(key, value)
		}
		e = e.Interface(key, value)
	}
	e.Msg(msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.write(l.event(zerolog.DebugLevel), msg, keysAndValues)
}

// Info logs an info message
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.write(l.event(zerolog.InfoLevel), msg, keysAndValues)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.write(l.event(zerolog.WarnLevel), msg, keysAndValues)
}

// Error logs an error message
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.write(l.event(zerolog.ErrorLevel), msg, keysAndValues)
}

// Debug logs a debug message using the default logger
func Debug(msg string, keysAndValues ...interface{}) {
	GetLogger().Debug(msg, keysAndValues...)
}

// Info logs an info message using the default logger
func Info(msg string, keysAndValues ...interface{}) {
	GetLogger().Info(msg, keysAndValues...)
}

// Warn logs a warning message using the default logger
func Warn(msg string, keysAndValues ...interface{}) {
	GetLogger().Warn(msg, keysAndValues...)
}

// Error logs an error message using the default logger
func Error(msg string, keysAndValues ...interface{}) {
	GetLogger().Error(msg, keysAndValues...)
}

// ParseLevel converts a string to a LogLevel
func ParseLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}
