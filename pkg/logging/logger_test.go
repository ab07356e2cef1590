package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// setupTestDir points the package at a temporary log directory and resets
// the process-wide state.
func setupTestDir(t *testing.T) {
	t.Helper()

	tempDir := t.TempDir()

	origLogDir := logDir
	origInitErr := initErr
	origProcessID := processID

	logDir = tempDir
	initErr = nil
	initOnce = sync.Once{}
	initOnce.Do(func() {})
	processID = ""
	processIDOnce = sync.Once{}

	t.Cleanup(func() {
		logDir = origLogDir
		initErr = origInitErr
		processID = origProcessID
		processIDOnce = sync.Once{}
		SetTee(nil)
	})
}

func TestNewLogger(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("test-component")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	if logger.component != "test-component" {
		t.Errorf("Expected component 'test-component', got %q", logger.component)
	}
	if logger.ProcessID() == "" {
		t.Error("Expected non-empty process ID")
	}
	if _, err := os.Stat(logger.LogPath()); os.IsNotExist(err) {
		t.Errorf("Log file does not exist at %s", logger.LogPath())
	}
}

func TestLoggerFormatting(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	logger.Debugf("Debug message")
	logger.Infof("Info message %d", 123)
	logger.Warnf("Warning message")
	logger.Errorf("Error message")

	content, err := os.ReadFile(logger.LogPath())
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	for _, pattern := range []string{
		"[test] [DEBUG] Debug message",
		"[test] [INFO] Info message 123",
		"[test] [WARN] Warning message",
		"[test] [ERROR] Error message",
	} {
		if !strings.Contains(string(content), pattern) {
			t.Errorf("Log content missing expected pattern: %q\nContent:\n%s", pattern, content)
		}
	}
}

func TestMultipleComponentsShareFile(t *testing.T) {
	setupTestDir(t)

	orchestratorLog, err := NewLogger("orchestrator")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer orchestratorLog.Close()

	notifyLog, err := NewLogger("notify")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer notifyLog.Close()

	if orchestratorLog.LogPath() != notifyLog.LogPath() {
		t.Errorf("Expected same log path, got %q and %q", orchestratorLog.LogPath(), notifyLog.LogPath())
	}

	orchestratorLog.Infof("run started")
	notifyLog.Infof("message sent")

	content, err := os.ReadFile(orchestratorLog.LogPath())
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "[orchestrator]") || !strings.Contains(string(content), "[notify]") {
		t.Errorf("Log missing component entries:\n%s", content)
	}
}

func TestWithSharesOutput(t *testing.T) {
	var buf bytes.Buffer
	root := NewWriterLogger("root", &buf)
	child := root.With("bot")

	child.Infof("polling")

	if !strings.Contains(buf.String(), "[bot] [INFO] polling") {
		t.Errorf("unexpected output: %q", buf.String())
	}
	if child.ProcessID() != root.ProcessID() {
		t.Error("derived logger should keep the process ID")
	}
}

func TestTeeMirrorsFileOutput(t *testing.T) {
	setupTestDir(t)

	var buf bytes.Buffer
	SetTee(&buf)

	logger, err := NewLogger("tee")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	logger.Warnf("mirrored")

	if !strings.Contains(buf.String(), "[tee] [WARN] mirrored") {
		t.Errorf("tee did not receive line: %q", buf.String())
	}
}

func TestLoggerCloseTwice(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	if err := logger.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestLogPathFormat(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	fileName := filepath.Base(logger.LogPath())
	if !strings.HasSuffix(fileName, "-portalcap.log") {
		t.Errorf("Expected log file to end with '-portalcap.log', got %q", fileName)
	}
	if idPart := strings.TrimSuffix(fileName, "-portalcap.log"); !strings.Contains(idPart, "-") {
		t.Errorf("Expected UUID-like process ID, got %q", idPart)
	}
}

func TestGetLogDirectory(t *testing.T) {
	setupTestDir(t)

	dir, err := GetLogDirectory()
	if err != nil {
		t.Fatalf("Failed to get log directory: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("Log directory does not exist or is not a directory: %s", dir)
	}
}
