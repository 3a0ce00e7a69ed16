package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out.String(), "lynxed") {
		t.Fatalf("version output = %q, expected lynxed banner", out.String())
	}
}

func TestBindConfigReadsFlagOverrides(t *testing.T) {
	cmd := newRootCommand()
	if err := cmd.Flags().Set("listen", "127.0.0.1:9999"); err != nil {
		t.Fatalf("setting flag: %v", err)
	}
	if err := cmd.Flags().Set("pending-threshold", "7"); err != nil {
		t.Fatalf("setting flag: %v", err)
	}

	cfg := bindConfig()
	if cfg.Listen != "127.0.0.1:9999" {
		t.Fatalf("Listen = %q, expected flag override", cfg.Listen)
	}
	if cfg.PendingThreshold != 7 {
		t.Fatalf("PendingThreshold = %d, expected 7", cfg.PendingThreshold)
	}
	if cfg.Servers != "mcp-servers.json" {
		t.Fatalf("Servers = %q, expected default", cfg.Servers)
	}
}

func TestConfigFileFillsUnsetFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lynxed.yaml")
	if err := os.WriteFile(path, []byte("listen: 127.0.0.1:7777\nlog-level: warn\n"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cmd := newRootCommand()
	if err := cmd.Flags().Set("config", path); err != nil {
		t.Fatalf("setting flag: %v", err)
	}
	if err := cmd.Flags().Set("log-level", "debug"); err != nil {
		t.Fatalf("setting flag: %v", err)
	}
	if err := loadConfigFile(); err != nil {
		t.Fatalf("loadConfigFile: %v", err)
	}

	cfg := bindConfig()
	if cfg.Listen != "127.0.0.1:7777" {
		t.Fatalf("Listen = %q, expected config file value", cfg.Listen)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q, expected explicit flag to win over the file", cfg.LogLevel)
	}
}

func TestLoadConfigFileMissing(t *testing.T) {
	cmd := newRootCommand()
	if err := cmd.Flags().Set("config", filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("setting flag: %v", err)
	}
	if err := loadConfigFile(); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestBuildLogger(t *testing.T) {
	if _, err := buildLogger("nope", "json"); err == nil {
		t.Fatalf("expected error for bogus level")
	}
	for _, format := range []string{"json", "console"} {
		logger, err := buildLogger("debug", format)
		if err != nil {
			t.Fatalf("buildLogger(%s): %v", format, err)
		}
		logger.Debug("probe")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := bindConfig()
	cfg.Servers = filepath.Join(t.TempDir(), "servers.json")
	cfg.Listen = "127.0.0.1:0"
	cfg.LogLevel = "error"
	cfg.LogFormat = "console"
	cfg.WatchDebounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v on clean shutdown", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}
}
