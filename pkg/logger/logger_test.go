package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
)

// ========================================
// defaultLogger 并发读写
// ========================================

func TestDefaultLoggerConcurrentAccess(t *testing.T) {
	Init("production")

	var wg sync.WaitGroup
	const goroutines = 100

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Info("concurrent log message", "key", "value")
			_ = Get()
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		Init("development")
	}()

	wg.Wait()
	Init("production")
}

func TestGetReturnsCurrentLogger(t *testing.T) {
	Init("production")
	if Get() == nil {
		t.Fatal("Get() returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" DEBUG ", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetLevelAffectsSharedHandlers(t *testing.T) {
	defer SetLevel("info")
	SetLevel("error")
	if Get().Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be disabled at error level")
	}
	SetLevel("debug")
	if !Get().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be enabled at debug level")
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	custom := slog.New(slog.NewTextHandler(&buf, nil))
	ctx := WithContext(context.Background(), custom)

	if FromContext(ctx) != custom {
		t.Error("FromContext should return injected logger")
	}
	if FromContext(context.Background()) != Get() {
		t.Error("FromContext without logger should return default")
	}
}

// ─── MultiHandler ───

func TestMultiHandlerFansOut(t *testing.T) {
	var a, b bytes.Buffer
	h := NewMultiHandler(
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	l := slog.New(h).With(FieldComponent, "transcript")

	l.Info("only text")
	l.Warn("both")

	if !strings.Contains(a.String(), "only text") || !strings.Contains(a.String(), "both") {
		t.Errorf("text handler output = %q", a.String())
	}
	if strings.Contains(b.String(), "only text") {
		t.Errorf("json handler should skip info: %q", b.String())
	}
	if !strings.Contains(b.String(), `"component":"transcript"`) {
		t.Errorf("json handler missing attrs: %q", b.String())
	}
}

// ========================================
// InitWithFile 重复调用应关闭旧文件
// ========================================

func TestInitWithFile_ClosesOldFile(t *testing.T) {
	dir := t.TempDir()

	if err := InitWithFile("production", dir); err != nil {
		t.Fatalf("first InitWithFile: %v", err)
	}
	logFileMu.Lock()
	oldFile := logFile
	logFileMu.Unlock()
	if oldFile == nil {
		t.Fatal("logFile should not be nil after InitWithFile")
	}

	if err := InitWithFile("production", dir); err != nil {
		t.Fatalf("second InitWithFile: %v", err)
	}
	if _, err := oldFile.Stat(); err == nil {
		t.Error("old logFile should be closed after second InitWithFile, but Stat succeeded")
	}

	ShutdownFileHandler()
	Init("production")

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("log dir entries = %v, err = %v", entries, err)
	}
	if !strings.HasPrefix(entries[0].Name(), "agent-shell-") {
		t.Errorf("log file name = %q", entries[0].Name())
	}
}

func TestShutdownFileHandlerSafety(t *testing.T) {
	// 未初始化文件时调用应为 no-op
	ShutdownFileHandler()
	ShutdownFileHandler()
}
