package deps

import (
	"os"
	"path/filepath"
	"testing"

	"mediaminer/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[0].Path != present {
		t.Fatalf("expected resolved path %q, got %q", present, results[0].Path)
	}
	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("expected blank command detail, got %q", results[2].Detail)
	}
}

func TestRequirementsFromConfig(t *testing.T) {
	ls := config.LocalServer{
		AutoStart:    true,
		StartCommand: []string{"lms", "server", "start"},
		LoadCommand:  []string{"lms", "load", "{model}"},
	}
	reqs := RequirementsFromConfig(ls)
	if len(reqs) != 1 {
		t.Fatalf("expected shared binary listed once, got %#v", reqs)
	}
	if reqs[0].Command != "lms" || !reqs[0].Optional {
		t.Fatalf("unexpected requirement %#v", reqs[0])
	}

	ls.LoadCommand = []string{"ollama", "pull", "{model}"}
	if got := len(RequirementsFromConfig(ls)); got != 2 {
		t.Fatalf("expected two requirements, got %d", got)
	}

	ls.AutoStart = false
	if got := RequirementsFromConfig(ls); got != nil {
		t.Fatalf("expected no requirements without auto start, got %#v", got)
	}
}
