package core

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// captureLogger records messages for assertions.
type captureLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *captureLogger) add(level, msg string, fields []Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var b strings.Builder
	b.WriteString(level + " " + msg)
	for _, f := range fields {
		b.WriteString(" " + f.Key)
	}
	l.entries = append(l.entries, b.String())
}

func (l *captureLogger) Debug(msg string, fields ...Field) { l.add("DEBUG", msg, fields) }
func (l *captureLogger) Info(msg string, fields ...Field)  { l.add("INFO", msg, fields) }
func (l *captureLogger) Warn(msg string, fields ...Field)  { l.add("WARN", msg, fields) }
func (l *captureLogger) Error(msg string, fields ...Field) { l.add("ERROR", msg, fields) }

func (l *captureLogger) contains(s string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if strings.Contains(e, s) {
			return true
		}
	}
	return false
}

// TestSlogLogger verifies fields are forwarded as slog attributes and that
// levels below the handler's are dropped
func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	l.Debug("hidden", F("k", 1))
	l.Info("visible", F("scheduler", "main"), F("count", 3))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug message logged at info level: %q", out)
	}
	if !strings.Contains(out, "msg=visible") || !strings.Contains(out, "scheduler=main") || !strings.Contains(out, "count=3") {
		t.Errorf("output = %q, want message and fields", out)
	}
}

func TestNewSlogLogger_NilUsesDefault(t *testing.T) {
	if NewSlogLogger(nil).logger != slog.Default() {
		t.Error("NewSlogLogger(nil) did not use slog.Default()")
	}
}

// TestDefaultPanicHandler verifies the default handler logs the panic
func TestDefaultPanicHandler(t *testing.T) {
	logger := &captureLogger{}
	h := &DefaultPanicHandler{Logger: logger}

	h.HandlePanic(context.Background(), "main", 2, &PanicError{TaskID: 9, Name: "job", Value: "boom"})

	if !logger.contains("ERROR task panicked scheduler worker task_id task panic stack") {
		t.Errorf("entries = %v", logger.entries)
	}
}

// TestDefaultRejectedTaskHandler verifies the default handler logs a warning
func TestDefaultRejectedTaskHandler(t *testing.T) {
	logger := &captureLogger{}
	h := &DefaultRejectedTaskHandler{Logger: logger}

	h.HandleRejectedTask("main", NewTask(nil, TaskTraits{Name: "late"}), ErrSchedulerClosed)

	if !logger.contains("WARN task rejected") {
		t.Errorf("entries = %v", logger.entries)
	}
}

// TestTaskSchedulerConfig_Defaults verifies nil fields are filled in
func TestTaskSchedulerConfig_Defaults(t *testing.T) {
	var nilConfig *TaskSchedulerConfig
	cfg := nilConfig.withDefaults()

	if cfg.Name != "scheduler" {
		t.Errorf("Name = %q, want scheduler", cfg.Name)
	}
	if cfg.Logger == nil || cfg.PanicHandler == nil || cfg.Metrics == nil || cfg.RejectedTaskHandler == nil {
		t.Errorf("withDefaults left nil handlers: %+v", cfg)
	}
	if cfg.HistoryCapacity != defaultTaskHistoryCapacity {
		t.Errorf("HistoryCapacity = %d, want %d", cfg.HistoryCapacity, defaultTaskHistoryCapacity)
	}
}

// TestTaskSchedulerConfig_PartialConfig verifies custom handlers survive and
// defaults share the configured logger
func TestTaskSchedulerConfig_PartialConfig(t *testing.T) {
	logger := &captureLogger{}
	metrics := newRecordingMetrics()
	cfg := (&TaskSchedulerConfig{Name: "custom", Logger: logger, Metrics: metrics}).withDefaults()

	if cfg.Name != "custom" || cfg.Metrics != metrics {
		t.Errorf("custom fields not kept: %+v", cfg)
	}
	ph, ok := cfg.PanicHandler.(*DefaultPanicHandler)
	if !ok || ph.Logger != logger {
		t.Errorf("PanicHandler = %#v, want default handler with configured logger", cfg.PanicHandler)
	}
}

// TestTaskScheduler_LogsShutdown verifies lifecycle logging goes through the
// configured logger
func TestTaskScheduler_LogsShutdown(t *testing.T) {
	logger := &captureLogger{}
	s := NewTaskSchedulerWithConfig(1, &TaskSchedulerConfig{Name: "logged", Logger: logger})

	s.Shutdown()

	if !logger.contains("INFO task scheduler shut down") {
		t.Errorf("entries = %v", logger.entries)
	}
}

// TestPanicError_Unwrap verifies error panic values are reachable
func TestPanicError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	pe := &PanicError{TaskID: 1, Name: "x", Value: cause}

	if !errors.Is(pe, cause) {
		t.Error("errors.Is(PanicError, cause) = false")
	}
	if (&PanicError{Value: "text"}).Unwrap() != nil {
		t.Error("Unwrap of non-error panic value != nil")
	}
}

// TestSetFatalHandler_ReturnsPrevious verifies handler swapping
func TestSetFatalHandler_ReturnsPrevious(t *testing.T) {
	var first []error
	h := func(err error) { first = append(first, err) }

	prev := SetFatalHandler(h)
	defer SetFatalHandler(prev)

	if got := SetFatalHandler(nil); got == nil {
		t.Fatal("SetFatalHandler(nil) returned nil, want the installed handler")
	} else {
		got(ErrDoubleDestroy)
	}
	if len(first) != 1 {
		t.Errorf("handler calls = %d, want 1", len(first))
	}
}

// TestExecutionHistory_Capacity verifies the ring buffer keeps the newest
func TestExecutionHistory_Capacity(t *testing.T) {
	h := newExecutionHistory(3)
	if _, ok := h.Last(); ok {
		t.Error("Last() on empty history ok = true")
	}

	for i := 1; i <= 5; i++ {
		h.Add(TaskExecutionRecord{TaskID: uint32(i)})
	}

	recent := h.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("Recent(0) len = %d, want 3", len(recent))
	}
	for i, want := range []uint32{5, 4, 3} {
		if recent[i].TaskID != want {
			t.Errorf("Recent[%d].TaskID = %d, want %d", i, recent[i].TaskID, want)
		}
	}
	if got := h.Recent(1); len(got) != 1 || got[0].TaskID != 5 {
		t.Errorf("Recent(1) = %+v", got)
	}
}
