package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile fills the target path with the requested number of bytes. The
// content depends on the offset, so misplaced chunks change the bytes. A size
// <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, Pattern(size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// Pattern returns the bytes WriteFile writes for a file of the given size.
func Pattern(size int64) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	return buf
}
