package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T) (path, sessions string) {
	t.Helper()
	dir := t.TempDir()
	sessions = filepath.Join(dir, "sessions")
	path = filepath.Join(dir, "config.yaml")
	body := "sessions:\n  dir: " + sessions + "\nhistory:\n  enabled: false\nlogging:\n  level: error\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, sessions
}

func TestDryRunPrintsCommand(t *testing.T) {
	cfgPath, sessions := writeConfig(t)

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", cfgPath, "--dry-run", "--max-turns", "5", "open", "safari"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := out.String()
	if !strings.HasPrefix(got, "[dry-run] claude -p 'open safari' --output-format stream-json --verbose") {
		t.Errorf("output = %.120q", got)
	}
	if !strings.Contains(got, "--max-turns 5") {
		t.Errorf("max turns flag not applied: %.200q", got)
	}
	if _, err := os.Stat(sessions); !os.IsNotExist(err) {
		t.Errorf("dry run touched the session directory: %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if out.String() != "desktop-assist dev\n" {
		t.Errorf("version output = %q", out.String())
	}
}

func TestToolsSnippet(t *testing.T) {
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"tools", "snippet", "actions.click", "y=20", "x=10"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	want := "from desktop_assist.actions import click\nresult = click(x=10, y=20)\nprint(repr(result))\n"
	if out.String() != want {
		t.Errorf("snippet = %q", out.String())
	}

	cmd = rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"tools", "snippet", "actions.click", "oops"})
	if err := cmd.Execute(); !errors.Is(err, errUsage) {
		t.Errorf("bad kwarg: %v", err)
	}
}

func TestSessionsListEmpty(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"sessions", "list", "--log-dir", dir})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "No sessions in ") {
		t.Errorf("output = %q", out.String())
	}
}

func TestIsLoopback(t *testing.T) {
	tests := map[string]bool{
		"127.0.0.1:8765": true,
		"localhost:80":   true,
		"[::1]:9000":     true,
		"0.0.0.0:8765":   false,
		":8765":          false,
		"10.0.0.4:80":    false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := isLoopback(addr); got != want {
			t.Errorf("isLoopback(%q) = %v, want %v", addr, got, want)
		}
	}
}
