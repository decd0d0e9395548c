package deps

import (
	"os"
	"path/filepath"
	"testing"
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
	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for absolute path dependency: %s", results[0].Detail)
	}

	if results[1].Available {
		t.Fatalf("expected missing binary to be unavailable")
	}
	if results[1].Detail == "" {
		t.Fatalf("expected detail message for missing binary")
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}

	if results[2].Available || results[2].Detail != "command not configured" {
		t.Fatalf("expected blank command to be reported as not configured, got %#v", results[2])
	}
}

func TestCheckBinariesResolvesFromPath(t *testing.T) {
	binDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(binDir, "realesrgan"), []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	t.Setenv("PATH", binDir)

	results := CheckBinaries([]Requirement{{Name: "Enhancer", Command: "realesrgan"}})
	if !results[0].Available {
		t.Fatalf("expected PATH lookup to succeed, got %#v", results[0])
	}
	if results[0].Detail != filepath.Join(binDir, "realesrgan") {
		t.Fatalf("expected resolved path in detail, got %q", results[0].Detail)
	}
}

func TestMissingRequired(t *testing.T) {
	statuses := []Status{
		{Name: "ok", Available: true},
		{Name: "optional", Optional: true},
		{Name: "required"},
	}
	missing := MissingRequired(statuses)
	if len(missing) != 1 || missing[0].Name != "required" {
		t.Fatalf("expected only the required entry, got %#v", missing)
	}
	if MissingRequired(statuses[:2]) != nil {
		t.Fatal("expected nil when nothing required is missing")
	}
}
