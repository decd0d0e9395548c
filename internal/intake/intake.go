// Package intake names and stores incoming image files before they join a batch.
package intake

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"imagepipe/internal/fileutil"
	"imagepipe/internal/pipeline"
)

var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".webp": {}, ".bmp": {}, ".tif": {}, ".tiff": {}, ".gif": {},
}

// IsImage reports whether name carries a supported image extension.
func IsImage(name string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// DisplayName returns the NFC-normalized base name of an uploaded file.
// Client-supplied directory components are discarded.
func DisplayName(original string) string {
	name := norm.NFC.String(strings.TrimSpace(original))
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

// StoredName returns a collision-free on-disk name for display.
func StoredName(display string) string {
	return uuid.NewString() + "-" + sanitize(display)
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			b.WriteByte('-')
		case unicode.IsControl(r):
		case unicode.IsSpace(r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), ".-_")
	if out == "" {
		return "upload"
	}
	return out
}

// Save copies r into dir under a stored name and returns the batch item for it.
func Save(dir, original string, r io.Reader) (pipeline.Item, error) {
	display := DisplayName(original)
	if display == "" {
		return pipeline.Item{}, errors.New("file name required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return pipeline.Item{}, fmt.Errorf("create upload directory: %w", err)
	}
	target := filepath.Join(dir, StoredName(display))
	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return pipeline.Item{}, fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(target)
		return pipeline.Item{}, fmt.Errorf("write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(target)
		return pipeline.Item{}, fmt.Errorf("close upload file: %w", err)
	}
	return pipeline.Item{Name: display, SourcePath: target}, nil
}

// Adopt moves an existing file into dir under a stored name.
func Adopt(dir, path string) (pipeline.Item, error) {
	display := DisplayName(filepath.Base(path))
	if display == "" {
		return pipeline.Item{}, errors.New("file name required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return pipeline.Item{}, fmt.Errorf("create upload directory: %w", err)
	}
	target := filepath.Join(dir, StoredName(display))
	if err := fileutil.Move(path, target); err != nil {
		return pipeline.Item{}, fmt.Errorf("adopt inbox file: %w", err)
	}
	return pipeline.Item{Name: display, SourcePath: target}, nil
}
