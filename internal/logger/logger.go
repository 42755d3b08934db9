// Package logger provides leveled logging for the migrator.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// Logger writes leveled messages to the console and, optionally, a log file.
type Logger struct {
	infoLog    *log.Logger
	successLog *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	debugLog   *log.Logger
	debug      bool
	logFile    *os.File
}

// New creates a Logger writing to stderr.
func New(debug bool) *Logger {
	return NewWithWriter(os.Stderr, debug)
}

// NewWithWriter creates a Logger writing to w.
func NewWithWriter(w io.Writer, debug bool) *Logger {
	flags := log.Ldate | log.Ltime
	return &Logger{
		infoLog:    log.New(w, "[INFO] ", flags),
		successLog: log.New(w, "[DONE] ", flags),
		warningLog: log.New(w, "[WARNING] ", flags),
		errorLog:   log.New(w, "[ERROR] ", flags),
		debugLog:   log.New(w, "[DEBUG] ", flags),
		debug:      debug,
	}
}

// NewWithFile creates a Logger that writes to both stderr and a file.
func NewWithFile(debug bool, logFilePath string) (*Logger, error) {
	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	l := NewWithWriter(io.MultiWriter(os.Stderr, logFile), debug)
	l.logFile = logFile
	return l, nil
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return NewWithWriter(io.Discard, false)
}

// Close closes the log file if one is open.
func (l *Logger) Close() error {
	if l.logFile != nil {
		return l.logFile.Close()
	}
	return nil
}

// Info logs an informational message.
func (l *Logger) Info(msg string) {
	l.infoLog.Println(msg)
}

// Infof logs a formatted informational message.
func (l *Logger) Infof(format string, args ...any) {
	l.infoLog.Printf(format, args...)
}

// Success logs a success message.
func (l *Logger) Success(msg string) {
	l.successLog.Println(msg)
}

// Successf logs a formatted success message.
func (l *Logger) Successf(format string, args ...any) {
	l.successLog.Printf(format, args...)
}

// Warning logs a warning message.
func (l *Logger) Warning(msg string) {
	l.warningLog.Println(msg)
}

// Warningf logs a formatted warning message.
func (l *Logger) Warningf(format string, args ...any) {
	l.warningLog.Printf(format, args...)
}

// Error logs an error message.
func (l *Logger) Error(msg string) {
	l.errorLog.Println(msg)
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...any) {
	l.errorLog.Printf(format, args...)
}

// Debug logs a debug message when debug mode is enabled.
func (l *Logger) Debug(msg string) {
	if l.debug {
		l.debugLog.Println(msg)
	}
}

// Debugf logs a formatted debug message when debug mode is enabled.
func (l *Logger) Debugf(format string, args ...any) {
	if l.debug {
		l.debugLog.Printf(format, args...)
	}
}

// IsDebug reports whether debug output is enabled.
func (l *Logger) IsDebug() bool {
	return l.debug
}

const banner = "========================================="

// Stage logs a header for stage n of total.
func (l *Logger) Stage(n, total int, title string) {
	l.Info("")
	l.Info(banner)
	l.Infof("Stage %d/%d: %s", n, total, title)
	l.Info(banner)
}

// Banner logs lines framed by separators.
func (l *Logger) Banner(lines ...string) {
	l.Info(banner)
	for _, line := range lines {
		l.Info(line)
	}
	l.Info(banner)
}

// KeyValues logs aligned "key: value" pairs, skipping empty values.
func (l *Logger) KeyValues(pairs ...string) {
	width := 0
	for i := 0; i+1 < len(pairs); i += 2 {
		width = max(width, len(pairs[i]))
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		l.Infof("%s:%s %s", pairs[i], strings.Repeat(" ", width-len(pairs[i])), pairs[i+1])
	}
}

// GetTimestamp returns a timestamp string in the format YYYYMMDD-HHMMSS.
func GetTimestamp() string {
	return time.Now().Format("20060102-150405")
}
