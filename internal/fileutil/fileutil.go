// Package fileutil moves files between directories that may sit on different
// filesystems.
package fileutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
)

// Move renames src to dst, falling back to a verified copy followed by removal
// of src when the two paths are on different devices. dst must not exist.
func Move(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("move %s: destination %s exists", src, dst)
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if err := CopyVerified(src, dst, 0o644); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("remove source after copy: %w", err)
	}
	return nil
}

// CopyVerified streams src into a new file dst and checks size and SHA-256
// of what was written. dst is removed on any failure.
func CopyVerified(src, dst string, mode os.FileMode) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(dst)
		}
	}()

	srcHash := sha256.New()
	written, err := io.Copy(out, io.TeeReader(in, srcHash))
	if err != nil {
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	if written != info.Size() {
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", info.Size(), written)
	}

	dstHash, err := hashFile(dst)
	if err != nil {
		return err
	}
	if !bytes.Equal(srcHash.Sum(nil), dstHash) {
		return errors.New("copy hash mismatch: file corrupted during copy")
	}
	return nil
}

func hashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
