package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriterDisabledWhenUnconfigured(t *testing.T) {
	var c Config
	if w := c.Writer("pdx", "build"); w != nil {
		t.Fatalf("empty config should disable file logging")
	}
}

func TestWriterDerivesPathFromDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	c := Config{Dir: dir}
	w := c.Writer("pdx", "serve")
	if w == nil {
		t.Fatalf("writer not created")
	}
	if _, err := w.Write([]byte("Grizzly server running.\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "pdx.serve.log"))
	if err != nil {
		t.Fatalf("log file missing: %v", err)
	}
	if !strings.Contains(string(data), "Grizzly") {
		t.Fatalf("log content wrong: %q", string(data))
	}
}

func TestWriterExplicitPathWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.log")
	c := Config{Dir: "/nonexistent", Path: path}
	w := c.Writer("pdx", "build")
	if w == nil {
		t.Fatalf("writer not created")
	}
	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("explicit path not used: %v", err)
	}
}
