package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigureWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "podstash.log")
	Configure(path, "debug")
	t.Cleanup(func() { Logger = nil })

	Info("queue updated", "task", "t1")
	Debug("progress", "task", "t1", "progress", 0.5)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "queue updated") || !strings.Contains(out, "task=t1") {
		t.Fatalf("log output missing entry: %s", out)
	}
	if !strings.Contains(out, "progress") {
		t.Fatalf("debug entry missing at debug level: %s", out)
	}
}

func TestHelpersWithoutLogger(t *testing.T) {
	Logger = nil
	Info("ignored")
	Warn("ignored")
	Error("ignored")
}

func TestSetLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "podstash.log")
	Configure(path, "info")
	t.Cleanup(func() { Logger = nil })

	Debug("hidden entry")
	SetLevel("debug")
	Debug("visible entry")
	SetLevel("bogus")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "hidden entry") {
		t.Fatalf("debug entry logged at info level: %s", out)
	}
	if !strings.Contains(out, "visible entry") {
		t.Fatalf("debug entry missing after SetLevel: %s", out)
	}
}
