package enhancer_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"imagepipe/internal/services"
	"imagepipe/internal/services/enhancer"
)

type stubExecutor struct {
	lines  []string
	err    error
	create bool
	block  bool
	dir    string
	binary string
	args   []string
}

func (s *stubExecutor) Run(ctx context.Context, dir, binary string, args []string, onLine func(string)) error {
	s.dir = dir
	s.binary = binary
	s.args = append([]string(nil), args...)
	for _, line := range s.lines {
		onLine(line)
	}
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.create {
		input, output := argValue(args, "--input"), argValue(args, "--output")
		if err := os.WriteFile(enhancer.OutputPath(input, output), []byte("enhanced"), 0o644); err != nil {
			return err
		}
	}
	return s.err
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func newClient(t *testing.T, exec enhancer.Executor, mutate func(*enhancer.Settings)) (*enhancer.Client, string) {
	t.Helper()
	outDir := filepath.Join(t.TempDir(), "out")
	settings := enhancer.Settings{
		Binary:    "realesrgan",
		ModelPath: "/models/x4.pth",
		Tile:      256,
		Timeout:   5 * time.Second,
		OutputDir: outDir,
	}
	if mutate != nil {
		mutate(&settings)
	}
	client, err := enhancer.New(settings, enhancer.WithExecutor(exec))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return client, outDir
}

func TestOutputPathAppendsSuffix(t *testing.T) {
	if got := enhancer.OutputPath("/uploads/photo.jpg", "/out"); got != "/out/photo_out.jpg" {
		t.Fatalf("OutputPath = %q", got)
	}
	if got := enhancer.OutputPath("/uploads/archive.tar.png", "/out"); got != "/out/archive.tar_out.png" {
		t.Fatalf("OutputPath = %q", got)
	}
}

func TestEnhanceReturnsOutputPath(t *testing.T) {
	exec := &stubExecutor{create: true}
	client, outDir := newClient(t, exec, func(s *enhancer.Settings) {
		s.Script = "inference_realesrgan.py"
		s.WorkDir = "/opt/esrgan"
	})

	path, err := client.Enhance(context.Background(), "/uploads/photo.jpg")
	if err != nil {
		t.Fatalf("Enhance returned error: %v", err)
	}
	if path != filepath.Join(outDir, "photo_out.jpg") {
		t.Fatalf("unexpected output path %q", path)
	}
	want := []string{"inference_realesrgan.py", "--input", "/uploads/photo.jpg", "--output", outDir, "--model_path", "/models/x4.pth", "--tile", "256"}
	if strings.Join(exec.args, " ") != strings.Join(want, " ") {
		t.Fatalf("args = %v, want %v", exec.args, want)
	}
	if exec.dir != "/opt/esrgan" || exec.binary != "realesrgan" {
		t.Fatalf("unexpected invocation dir=%q binary=%q", exec.dir, exec.binary)
	}
}

func TestEnhanceErrorsWhenNoOutputProduced(t *testing.T) {
	client, _ := newClient(t, &stubExecutor{}, nil)
	_, err := client.Enhance(context.Background(), "/uploads/photo.jpg")
	if err == nil {
		t.Fatal("expected error when enhancer produces no output")
	}
	if !errors.Is(err, services.ErrStageExecution) {
		t.Fatalf("expected stage execution error, got %v", err)
	}
	if !strings.Contains(err.Error(), "no output file") {
		t.Fatalf("expected 'no output file' error, got: %v", err)
	}
}

func TestEnhanceFailureCarriesOutputTail(t *testing.T) {
	lines := make([]string, 30)
	for i := range lines {
		lines[i] = "line-" + string(rune('A'+i%26))
	}
	lines[29] = "CUDA out of memory"
	client, _ := newClient(t, &stubExecutor{lines: lines, err: errors.New("exit status 1")}, nil)

	_, err := client.Enhance(context.Background(), "/uploads/photo.jpg")
	if !errors.Is(err, services.ErrStageExecution) {
		t.Fatalf("expected stage execution error, got %v", err)
	}
	if errors.Is(err, services.ErrTimeout) {
		t.Fatalf("plain failure must not be classified as timeout: %v", err)
	}
	if !strings.Contains(err.Error(), "CUDA out of memory") {
		t.Fatalf("expected output tail in error, got %v", err)
	}
	if got := strings.Count(err.Error(), " | "); got != 19 {
		t.Fatalf("expected 20 tail lines (19 separators), got %d in %v", got, err)
	}
}

func TestEnhanceTimeoutIsMarked(t *testing.T) {
	client, _ := newClient(t, &stubExecutor{block: true}, func(s *enhancer.Settings) {
		s.Timeout = 20 * time.Millisecond
	})
	_, err := client.Enhance(context.Background(), "/uploads/photo.jpg")
	if !errors.Is(err, services.ErrTimeout) || !errors.Is(err, services.ErrStageExecution) {
		t.Fatalf("expected timeout stage error, got %v", err)
	}
	if services.Kind(err) != "timeout" {
		t.Fatalf("Kind = %q", services.Kind(err))
	}
}

func TestNewRequiresBinaryAndOutputDir(t *testing.T) {
	if _, err := enhancer.New(enhancer.Settings{OutputDir: "/out"}); err == nil {
		t.Fatal("expected error without binary")
	}
	if _, err := enhancer.New(enhancer.Settings{Binary: "realesrgan"}); err == nil {
		t.Fatal("expected error without output dir")
	}
}

func TestHealthCheckReportsMissingBinary(t *testing.T) {
	client, _ := newClient(t, &stubExecutor{}, func(s *enhancer.Settings) {
		s.Binary = "imagepipe-definitely-missing-binary"
	})
	health := client.HealthCheck(context.Background())
	if health.Ready {
		t.Fatal("expected unhealthy result for missing binary")
	}
}
