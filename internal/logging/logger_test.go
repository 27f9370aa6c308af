// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

// TestInit verifies logger initialization.
func TestInit(t *testing.T) {
	var buf bytes.Buffer
	global = nil
	once = *new(sync.Once)
	Init(&buf, LevelInfo)

	logger := Get()
	if logger == nil {
		t.Fatal("Get() returned nil after Init()")
	}
	if logger.out != &buf {
		t.Error("Init() did not set output writer correctly")
	}
	if logger.minLevel != LevelInfo {
		t.Errorf("minLevel = %v, want LevelInfo", logger.minLevel)
	}
}

// TestInit_idempotent verifies Init is idempotent.
func TestInit_idempotent(t *testing.T) {
	global = nil
	once = *new(sync.Once)

	var buf1 bytes.Buffer
	Init(&buf1, LevelInfo)
	firstLogger := Get()

	var buf2 bytes.Buffer
	Init(&buf2, LevelDebug)

	logger := Get()
	if logger != firstLogger {
		t.Error("Second Init() should be ignored, different logger returned")
	}
	if logger.out != &buf1 {
		t.Error("Second Init() should be ignored, output writer changed")
	}
}

// TestGet_default verifies default logger creation.
func TestGet_default(t *testing.T) {
	global = nil
	once = *new(sync.Once)

	logger := Get()
	if logger == nil {
		t.Fatal("Get() returned nil without Init()")
	}
	if logger.out != os.Stdout {
		t.Error("Get() should default to os.Stdout")
	}
	if logger.minLevel != LevelInfo {
		t.Errorf("minLevel = %v, want LevelInfo", logger.minLevel)
	}
}

// TestLogLevel_shouldLog verifies log level filtering.
func TestLogLevel_shouldLog(t *testing.T) {
	tests := []struct {
		name     string
		minLevel LogLevel
		logLevel LogLevel
		expected bool
	}{
		{"debug logs at debug", LevelDebug, LevelDebug, true},
		{"debug logs at info", LevelInfo, LevelDebug, false},
		{"info logs at info", LevelInfo, LevelInfo, true},
		{"info logs at warn", LevelWarn, LevelInfo, false},
		{"warn logs at error", LevelError, LevelWarn, false},
		{"error logs at error", LevelError, LevelError, true},
		{"error logs at debug", LevelDebug, LevelError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &Logger{minLevel: tt.minLevel}
			result := logger.shouldLog(tt.logLevel)
			if result != tt.expected {
				t.Errorf("shouldLog(%v) at minLevel %v = %v, want %v",
					tt.logLevel, tt.minLevel, result, tt.expected)
			}
		})
	}
}

// TestLogger_Info verifies info logging output shape.
func TestLogger_Info(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{out: &buf, minLevel: LevelInfo}

	logger.Info("queue drained", map[string]interface{}{"items": 3})

	output := strings.TrimSpace(buf.String())
	var entry LogEntry
	if err := json.Unmarshal([]byte(output), &entry); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}

	if entry.Level != "INFO" {
		t.Errorf("Level = %q, want 'INFO'", entry.Level)
	}
	if entry.Message != "queue drained" {
		t.Errorf("Message = %q, want 'queue drained'", entry.Message)
	}
	if entry.Context["items"] != float64(3) {
		t.Errorf("Context['items'] = %v, want 3", entry.Context["items"])
	}
	if _, err := time.Parse(time.RFC3339, entry.Timestamp); err != nil {
		t.Errorf("Timestamp is not valid RFC3339: %v", err)
	}
}

// TestLogger_Error verifies error logging.
func TestLogger_Error(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{out: &buf, minLevel: LevelInfo}

	testErr := io.ErrUnexpectedEOF
	logger.Error("push failed", testErr)

	output := strings.TrimSpace(buf.String())
	var entry LogEntry
	if err := json.Unmarshal([]byte(output), &entry); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}

	if entry.Level != "ERROR" {
		t.Errorf("Level = %q, want 'ERROR'", entry.Level)
	}
	if !strings.Contains(entry.Error, testErr.Error()) {
		t.Errorf("Error field should contain error details, got: %s", entry.Error)
	}
}

// TestLogger_ErrorWithCode verifies the code lands in its own field.
func TestLogger_ErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{out: &buf, minLevel: LevelInfo}

	logger.ErrorWithCode("push failed", "REMOTE_FAILED", io.ErrUnexpectedEOF,
		map[string]interface{}{"table": "bookings"})

	output := strings.TrimSpace(buf.String())
	var entry LogEntry
	if err := json.Unmarshal([]byte(output), &entry); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}

	if entry.Code != "REMOTE_FAILED" {
		t.Errorf("Code = %q, want 'REMOTE_FAILED'", entry.Code)
	}
	if entry.Context["table"] != "bookings" {
		t.Errorf("Context['table'] = %v, want 'bookings'", entry.Context["table"])
	}
}

// TestLogger_filtering verifies minimum level filtering.
func TestLogger_filtering(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{out: &buf, minLevel: LevelWarn}

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 log lines, got %d", len(lines))
	}

	var entry LogEntry
	json.Unmarshal([]byte(lines[0]), &entry)
	if entry.Level != "WARN" {
		t.Errorf("First log level = %q, want 'WARN'", entry.Level)
	}
	json.Unmarshal([]byte(lines[1]), &entry)
	if entry.Level != "ERROR" {
		t.Errorf("Second log level = %q, want 'ERROR'", entry.Level)
	}
}

// TestLogger_getContext_multiple verifies context merging.
func TestLogger_getContext_multiple(t *testing.T) {
	logger := &Logger{}

	ctx := logger.getContext(
		map[string]interface{}{"key1": "value1"},
		map[string]interface{}{"key2": "value2"},
		map[string]interface{}{"key1": "overridden"},
	)

	if ctx["key1"] != "overridden" {
		t.Errorf("ctx['key1'] = %v, want 'overridden'", ctx["key1"])
	}
	if ctx["key2"] != "value2" {
		t.Errorf("ctx['key2'] = %v, want 'value2'", ctx["key2"])
	}
}

// TestLogger_getContext_none verifies no context returns nil.
func TestLogger_getContext_none(t *testing.T) {
	logger := &Logger{}
	if ctx := logger.getContext(); ctx != nil {
		t.Errorf("getContext() with no arguments should return nil, got %v", ctx)
	}
}

// TestLogger_nilContext verifies the context field is omitted when nil.
func TestLogger_nilContext(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{out: &buf, minLevel: LevelInfo}

	logger.Info("message")

	var entry LogEntry
	output := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(output), &entry); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	if entry.Context != nil {
		t.Error("Context should be omitted when nil")
	}
}

// TestLogger_concurrentLogging verifies concurrent logging is safe.
func TestLogger_concurrentLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{out: &buf, minLevel: LevelInfo}

	var wg sync.WaitGroup
	iterations := 100

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				logger.Info("message", map[string]interface{}{"goroutine": id})
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 10*iterations {
		t.Errorf("Expected %d log lines, got %d", 10*iterations, len(lines))
	}
	for i, line := range lines {
		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Errorf("Line %d is not valid JSON: %v", i, err)
		}
	}
}

// failingWriter is a test helper that always fails to write.
type failingWriter struct{}

func (w *failingWriter) Write(p []byte) (n int, err error) {
	return 0, io.ErrClosedPipe
}

// TestLogger_writeError verifies write errors are handled gracefully.
func TestLogger_writeError(t *testing.T) {
	logger := &Logger{out: &failingWriter{}, minLevel: LevelInfo}
	logger.Info("test message")
}
