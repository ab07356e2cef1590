package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger writes leveled, component-tagged lines for portalcap.
// File loggers share one file per process under ~/.portalcap/logs/.
//
// There is no level filtering: every method writes unconditionally.
type Logger struct {
	processID string
	component string
	file      *os.File
	logger    *log.Logger
	mu        sync.Mutex
	logPath   string
	closeOnce sync.Once
}

var (
	processID     string
	processIDOnce sync.Once

	logDir   string
	initOnce sync.Once
	initErr  error

	// tee, when set, receives a copy of every line written by file loggers.
	tee   io.Writer
	teeMu sync.RWMutex
)

func getProcessID() string {
	processIDOnce.Do(func() {
		processID = uuid.New().String()
	})
	return processID
}

func initLogDirectory() error {
	initOnce.Do(func() {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			initErr = fmt.Errorf("failed to get home directory: %w", err)
			return
		}

		logDir = filepath.Join(homeDir, ".portalcap", "logs")
		if err := os.MkdirAll(logDir, 0750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}
	})
	return initErr
}

// SetTee mirrors all subsequent file-logger output to w. Pass nil to stop.
func SetTee(w io.Writer) {
	teeMu.Lock()
	defer teeMu.Unlock()
	tee = w
}

type teeWriter struct {
	file io.Writer
}

func (t teeWriter) Write(p []byte) (int, error) {
	teeMu.RLock()
	w := tee
	teeMu.RUnlock()
	if w != nil {
		_, _ = w.Write(p)
	}
	return t.file.Write(p)
}

// NewLogger creates a logger for a component.
// It appends to ~/.portalcap/logs/<process-id>-portalcap.log.
//
// If the file cannot be opened, a stderr logger is returned together with
// the error so the caller can decide whether to warn.
func NewLogger(component string) (*Logger, error) {
	if err := initLogDirectory(); err != nil {
		return newFallbackLogger(component, err), err
	}

	procID := getProcessID()
	logPath := filepath.Join(logDir, fmt.Sprintf("%s-portalcap.log", procID))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return newFallbackLogger(component, fmt.Errorf("failed to open log file: %w", err)), err
	}

	return &Logger{
		processID: procID,
		component: component,
		file:      file,
		logger:    log.New(teeWriter{file: file}, "", 0),
		logPath:   logPath,
	}, nil
}

// NewWriterLogger returns a logger writing to w. It owns no file.
func NewWriterLogger(component string, w io.Writer) *Logger {
	return &Logger{
		processID: getProcessID(),
		component: component,
		logger:    log.New(w, "", 0),
	}
}

// Discard returns a logger that drops everything.
func Discard(component string) *Logger {
	return NewWriterLogger(component, io.Discard)
}

func newFallbackLogger(component string, err error) *Logger {
	logger := log.New(os.Stderr, fmt.Sprintf("[%s] ", component), log.LstdFlags|log.Lshortfile)
	logger.Printf("WARNING: Failed to initialize file logging: %v", err)
	logger.Printf("Falling back to stderr logging")

	return &Logger{
		processID: getProcessID(),
		component: component,
		logger:    logger,
	}
}

// With returns a logger for another component sharing the same output.
func (l *Logger) With(component string) *Logger {
	return &Logger{
		processID: l.processID,
		component: component,
		logger:    l.logger,
		logPath:   l.logPath,
	}
}

func (l *Logger) write(level, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	message := fmt.Sprintf(format, v...)
	l.logger.Println(fmt.Sprintf("[%s] [%s] [%s] %s", timestamp, l.component, level, message))
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) { l.write("DEBUG", format, v...) }

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) { l.write("INFO", format, v...) }

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) { l.write("WARN", format, v...) }

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) { l.write("ERROR", format, v...) }

// ProcessID returns the identifier shared by all loggers in this process.
func (l *Logger) ProcessID() string {
	return l.processID
}

// LogPath returns the path to the log file, or "" for non-file loggers.
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file. Safe to call multiple times.
// Loggers derived with With never close the shared file.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}

// GetLogDirectory returns the directory where logs are stored
func GetLogDirectory() (string, error) {
	if err := initLogDirectory(); err != nil {
		return "", err
	}
	return logDir, nil
}
