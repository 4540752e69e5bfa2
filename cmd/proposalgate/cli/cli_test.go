package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestVersionJSON(t *testing.T) {
	cmd := newVersionCmd("1.2.3", "abc123", "2026-05-04")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--json"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("invalid JSON %q: %v", out.String(), err)
	}
	if info["version"] != "1.2.3" || info["commit"] != "abc123" {
		t.Errorf("info = %v", info)
	}
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proposalgate.yaml")

	run := func(args ...string) error {
		cmd := newConfigInitCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetArgs(append([]string{"--path", path}, args...))
		return cmd.Execute()
	}

	if err := run(); err != nil {
		t.Fatalf("first init: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "max_extensions: 5") {
		t.Errorf("default config missing session settings:\n%s", data)
	}

	err = run()
	if err == nil || !strings.Contains(err.Error(), "--force") {
		t.Errorf("second init should refuse, got %v", err)
	}
	if err := run("--force"); err != nil {
		t.Errorf("forced init: %v", err)
	}
}

func TestRemaining(t *testing.T) {
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	if got := remaining(now.Add(90*time.Second+500*time.Millisecond), now); got != "1m30s" {
		t.Errorf("remaining = %q", got)
	}
	if got := remaining(now.Add(-time.Second), now); got != "-" {
		t.Errorf("past remaining = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("a-very-long-identifier", 8); got != "a-very-…" {
		t.Errorf("truncate = %q", got)
	}
}
