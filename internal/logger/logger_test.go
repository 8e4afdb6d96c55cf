package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// withLevel sets the minimum level for the duration of a test.
func withLevel(t *testing.T, level LogLevel) {
	t.Helper()
	original := GetLevel()
	mu.Lock()
	minLevel = level
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		minLevel = original
		mu.Unlock()
	})
}

// withListeners isolates the subscriber list for a test.
func withListeners(t *testing.T) {
	t.Helper()
	mu.Lock()
	original := listeners
	listeners = make([]chan LogEntry, 0)
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		listeners = original
		mu.Unlock()
	})
}

// =============================================================================
// Levels
// =============================================================================

func TestLevelPriority_Ordering(t *testing.T) {
	if !(levelPriority(Debug) < levelPriority(Info) &&
		levelPriority(Info) < levelPriority(Warn) &&
		levelPriority(Warn) < levelPriority(Error)) {
		t.Error("levels must be ordered DEBUG < INFO < WARN < ERROR")
	}
	if levelPriority(LogLevel("bogus")) != levelPriority(Info) {
		t.Error("unknown levels should rank as INFO")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in     string
		want   LogLevel
		wantOK bool
	}{
		{"debug", Debug, true},
		{"INFO", Info, true},
		{" warn ", Warn, true},
		{"warning", Warn, true},
		{"error", Error, true},
		{"verbose", Info, false},
		{"", Info, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLevel(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseLevel(%q) = %s, %v; want %s, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestSetLevel(t *testing.T) {
	withLevel(t, Info)

	SetLevel("debug")
	if GetLevel() != Debug {
		t.Errorf("GetLevel() = %s, want DEBUG", GetLevel())
	}
	SetLevel("nonsense")
	if GetLevel() != Info {
		t.Errorf("GetLevel() = %s, want INFO fallback", GetLevel())
	}
}

// =============================================================================
// Subscribers
// =============================================================================

func TestSubscribeUnsubscribe(t *testing.T) {
	withListeners(t)

	ch1 := Subscribe()
	ch2 := Subscribe()
	if ch1 == ch2 {
		t.Fatal("each subscriber should get its own channel")
	}

	Unsubscribe(ch1)
	if _, ok := <-ch1; ok {
		t.Error("unsubscribed channel should be closed")
	}
	mu.Lock()
	n := len(listeners)
	mu.Unlock()
	if n != 1 {
		t.Errorf("expected 1 listener left, got %d", n)
	}

	// Unknown channels are ignored.
	Unsubscribe(make(chan LogEntry))
}

func TestLog_BroadcastsAboveLevel(t *testing.T) {
	withListeners(t)
	withLevel(t, Warn)

	ch := Subscribe()
	Infof("filtered %d", 1)
	Warnf("timer %s finished", "frame")

	select {
	case entry := <-ch:
		if entry.Level != Warn || entry.Message != "timer frame finished" {
			t.Errorf("unexpected entry %+v", entry)
		}
		if _, err := time.Parse(time.RFC3339, entry.Timestamp); err != nil {
			t.Errorf("timestamp %q is not RFC3339", entry.Timestamp)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("did not receive log entry")
	}

	select {
	case entry := <-ch:
		t.Errorf("unexpected extra entry %+v", entry)
	default:
	}
}

func TestBroadcast_DropsWhenFull(t *testing.T) {
	withListeners(t)
	withLevel(t, Debug)

	ch := Subscribe()
	for i := 0; i < 150; i++ {
		Debugf("message %d", i)
	}
	if len(ch) != cap(ch) {
		t.Errorf("expected full buffer of %d, got %d", cap(ch), len(ch))
	}
}

// =============================================================================
// File output
// =============================================================================

func TestInitWithRotation_WritesFile(t *testing.T) {
	withLevel(t, Debug)
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	t.Cleanup(func() { Close() })

	InitWithRotation(dir, Rotation{MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
	if GetLogDir() != dir {
		t.Errorf("GetLogDir() = %q, want %q", GetLogDir(), dir)
	}

	Errorf("unique-%s", "7f3a")
	if err := Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "[ERROR] unique-7f3a") {
		t.Errorf("log file missing entry, got %q", content)
	}
	if GetLogDir() != "" {
		t.Error("GetLogDir() should be empty after Close()")
	}
}
