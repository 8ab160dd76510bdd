package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriter_Rotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	rw, err := NewRotatingWriter(path, 16)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer rw.Close()

	rw.Write([]byte("0123456789abcdef-overflow\n"))
	rw.Write([]byte("fresh\n"))

	backup, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("expected backup file: %v", err)
	}
	if !strings.Contains(string(backup), "overflow") {
		t.Fatalf("backup missing rotated content: %q", backup)
	}
	current, _ := os.ReadFile(path)
	if string(current) != "fresh\n" {
		t.Fatalf("expected fresh file, got %q", current)
	}
}

func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, "warn", "json", false))
	logger.Info("hidden")
	logger.Warn("shown", "url", "http://x")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"url":"http://x"`) {
		t.Fatalf("expected structured attribute, got %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug || ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("unexpected level mapping")
	}
}
