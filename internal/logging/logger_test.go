package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// capture points the default logger at a buffer for one test.
func capture(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	orig := defaultLogger.sink
	var buf bytes.Buffer
	defaultLogger.sink = &sink{level: level, console: &buf}
	t.Cleanup(func() { defaultLogger.sink = orig })
	return &buf
}

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLevel_Color(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{DEBUG, "\033[36m"},
		{INFO, "\033[32m"},
		{WARN, "\033[33m"},
		{ERROR, "\033[31m"},
		{Level(99), "\033[0m"},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			if got := tt.level.Color(); got != tt.want {
				t.Errorf("Level.Color() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"", INFO, false},
		{"warning", WARN, false},
		{" error ", ERROR, false},
		{"loud", INFO, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetLevel(t *testing.T) {
	capture(t, INFO)

	SetLevel(DEBUG)
	if GetLevel() != DEBUG {
		t.Error("SetLevel did not change level")
	}
	SetLevel(ERROR)
	if GetLevel() != ERROR {
		t.Error("SetLevel did not change level")
	}
}

func TestSetOutput_NoColorForBuffers(t *testing.T) {
	capture(t, INFO)

	var buf bytes.Buffer
	SetOutput(&buf)
	Info("plain")

	if strings.Contains(buf.String(), "\033[") {
		t.Errorf("buffer output should carry no escape codes: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "[INFO] plain") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestWithFields_DoNotLeak(t *testing.T) {
	capture(t, INFO)

	base := WithField("existing", "value")
	derived := base.WithFields(map[string]interface{}{"new1": 1, "new2": 2})

	if len(derived.fields) != 3 {
		t.Errorf("got %d fields, want 3", len(derived.fields))
	}
	if _, ok := base.fields["new1"]; ok {
		t.Error("base logger was modified")
	}
	if len(defaultLogger.fields) != 0 {
		t.Error("default logger was modified")
	}
}

func TestDerivedLoggersFollowLevel(t *testing.T) {
	buf := capture(t, INFO)
	l := WithField("session", "p1")

	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("DEBUG written at INFO: %q", buf.String())
	}

	SetLevel(DEBUG)
	l.Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Error("derived logger should follow SetLevel")
	}
	if !l.Enabled(DEBUG) {
		t.Error("Enabled(DEBUG) = false after SetLevel(DEBUG)")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	buf := capture(t, WARN)

	Debug("debug message")
	Info("info message")
	if buf.Len() > 0 {
		t.Errorf("DEBUG and INFO should be filtered at WARN: %q", buf.String())
	}

	Warn("warn message")
	Error("error message")
	out := buf.String()
	if !strings.Contains(out, "[WARN] warn message") || !strings.Contains(out, "[ERROR] error message") {
		t.Errorf("WARN and ERROR should pass: %q", out)
	}
}

func TestLogger_Format(t *testing.T) {
	buf := capture(t, DEBUG)

	WithFields(map[string]interface{}{"b": 2, "a": "x"}).Info("value: %d", 42)

	out := buf.String()
	if !strings.Contains(out, "value: 42") {
		t.Errorf("output should contain formatted value: %s", out)
	}
	if !strings.HasSuffix(strings.TrimSpace(out), "| a=x b=2") {
		t.Errorf("fields should be sorted: %s", out)
	}
}

func TestConfigure_File(t *testing.T) {
	capture(t, INFO)
	path := filepath.Join(t.TempDir(), "personachat.log")

	closer, err := Configure(Config{Level: "debug", File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	Debug("to file")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "[DEBUG] to file") {
		t.Errorf("file content = %q", data)
	}
	if strings.Contains(string(data), "\033[") {
		t.Error("file should not contain colour codes")
	}
}

func TestConfigure_BadLevel(t *testing.T) {
	capture(t, INFO)
	if _, err := Configure(Config{Level: "chatty"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestLogger_ConcurrentAccess(t *testing.T) {
	buf := capture(t, DEBUG)
	logger := WithField("worker", "n")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.Info("message %d", n)
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 10 {
		t.Errorf("expected 10 log lines, got %d", len(lines))
	}
}
