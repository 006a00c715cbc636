package eventlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevelTagUppercases(t *testing.T) {
	if got := levelTag("info"); got != "INFO" {
		t.Fatalf("levelTag(info) = %q, want INFO", got)
	}
	if got := levelTag("warning"); got != "WARNING" {
		t.Fatalf("levelTag(warning) = %q, want WARNING", got)
	}
}

func TestParseLevelKnownAndUnknown(t *testing.T) {
	cases := map[string]string{
		"debug":   "debug",
		"info":    "info",
		"warn":    "warning",
		"error":   "error",
		"fatal":   "fatal",
		"panic":   "panic",
		"bogus":   "debug",
	}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewWritesCanonicalLineToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")

	logger, err := New(RoleSeed, 6000, "info", path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(data)

	if !strings.Contains(line, "[SEED:6000]") {
		t.Fatalf("expected role:port segment in line, got %q", line)
	}
	if !strings.Contains(line, "INFO") {
		t.Fatalf("expected upper-cased level in line, got %q", line)
	}
	if !strings.Contains(line, "hello") {
		t.Fatalf("expected message in line, got %q", line)
	}
}

func TestNewRejectsUnwritablePath(t *testing.T) {
	_, err := New(RolePeer, 6001, "info", "/nonexistent-dir/events.log")
	if err == nil {
		t.Fatalf("expected an error for an unwritable event log path")
	}
}
