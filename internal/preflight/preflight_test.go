package preflight

import (
	"context"
	"math"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"imagepipe/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckFreeSpace("capacity", dir, 1); !result.Passed {
		t.Fatalf("expected pass with a one byte floor, got: %s", result.Detail)
	}
	result := CheckFreeSpace("capacity", dir, math.MaxUint64)
	if result.Passed {
		t.Fatal("expected failure with an unreachable floor")
	}
	if !strings.Contains(result.Detail, "free, need") {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}
	if result := CheckFreeSpace("capacity", filepath.Join(dir, "missing"), 1); result.Passed {
		t.Fatal("expected failure for missing path")
	}
}

func TestCheckFile(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.pth")
	if err := os.WriteFile(model, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := CheckFile("model", model); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if result := CheckFile("model", dir); result.Passed {
		t.Fatal("expected failure for directory")
	}
	if result := CheckFile("model", ""); result.Passed || result.Detail != "path not configured" {
		t.Fatalf("unexpected result for empty path: %#v", result)
	}
}

func TestCheckTransferReachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	result := CheckTransferReachable(context.Background(), host, port)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckTransferReachable_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	_ = ln.Close()

	result := CheckTransferReachable(context.Background(), host, port)
	if result.Passed {
		t.Fatal("expected failure for closed port")
	}
}

func TestCheckTransferFromConfig_Unconfigured(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutTransfer())
	result := CheckTransferFromConfig(context.Background(), cfg)
	if result.Passed || result.Detail != "Missing host" {
		t.Fatalf("unexpected result: %#v", result)
	}
	if result := CheckTransferFromConfig(context.Background(), nil); result.Detail != "Unknown" {
		t.Fatalf("unexpected nil config result: %#v", result)
	}
}

func TestCheckSystemDeps(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	statuses := CheckSystemDeps(context.Background(), cfg)
	if len(statuses) != 1 {
		t.Fatalf("expected only the enhancer requirement, got %d", len(statuses))
	}
	if !statuses[0].Available {
		t.Fatalf("expected stubbed enhancer to be available: %#v", statuses[0])
	}

	cfg.Captioner.Enabled = true
	cfg.Captioner.Binary = "clearly-not-present-captioner"
	statuses = CheckSystemDeps(context.Background(), cfg)
	if len(statuses) != 2 {
		t.Fatalf("expected captioner requirement when enabled, got %d", len(statuses))
	}
	if statuses[1].Available {
		t.Fatal("expected missing captioner binary")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutTransfer())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	results := RunAll(context.Background(), cfg)
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
	}
	want := []string{"Upload directory", "Output directory", "Log directory", "Output capacity", "SFTP destination"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected checks: %v", names)
	}
	for _, r := range results[:3] {
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
	failed := Failed(results)
	if len(failed) == 0 || failed[len(failed)-1].Name != "SFTP destination" {
		t.Fatalf("expected unconfigured transfer to fail, got %#v", failed)
	}
}

func TestRunAll_IncludesOptionalChecksWhenEnabled(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithCaptioner(), testsupport.WithoutTransfer())
	cfg.Inbox.Enabled = true
	cfg.Enhancer.ModelPath = filepath.Join(testsupport.BaseDir(cfg), "model.pth")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	results := RunAll(context.Background(), cfg)
	seen := map[string]Result{}
	for _, r := range results {
		seen[r.Name] = r
	}
	for _, name := range []string{"Inbox directory", "Enhancer model", "Caption annotations"} {
		if _, ok := seen[name]; !ok {
			t.Fatalf("expected %q check, got %v", name, results)
		}
	}
	if seen["Enhancer model"].Passed {
		t.Fatal("expected missing model file to fail")
	}
	if !seen["Inbox directory"].Passed {
		t.Fatalf("inbox check failed: %s", seen["Inbox directory"].Detail)
	}
}

