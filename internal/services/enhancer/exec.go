package enhancer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, dir, binary string, args []string, onLine func(string)) error
}

// maxLineBytes bounds a single captured output line.
const maxLineBytes = 1024 * 1024

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, dir, binary string, args []string, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	cmd.Dir = dir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	emit := func(line string) {
		if onLine == nil {
			return
		}
		mu.Lock()
		onLine(line)
		mu.Unlock()
	}
	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		for scanner.Scan() {
			emit(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			// Keep the pipe flowing so the child never blocks on a full buffer.
			emit(fmt.Sprintf("output truncated: %v", err))
			_, _ = io.Copy(io.Discard, r)
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}

// tail keeps the most recent lines of command output.
type tail struct {
	lines []string
	next  int
	full  bool
}

func newTail(size int) *tail {
	if size <= 0 {
		size = 1
	}
	return &tail{lines: make([]string, size)}
}

func (t *tail) add(line string) {
	t.lines[t.next] = line
	t.next = (t.next + 1) % len(t.lines)
	if t.next == 0 {
		t.full = true
	}
}

func (t *tail) snapshot() []string {
	if !t.full {
		return append([]string(nil), t.lines[:t.next]...)
	}
	out := make([]string, 0, len(t.lines))
	out = append(out, t.lines[t.next:]...)
	return append(out, t.lines[:t.next]...)
}
