// Package filex holds small filesystem helpers used by the media cache.
package filex

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// EnsureSubDir creates root/name (and parents) and returns its path.
func EnsureSubDir(root, name string) (string, error) {
	dir := filepath.Join(root, name)

	if err := os.MkdirAll(dir, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	return dir, nil
}

// WriteAtomic streams r into a temp file under tmpDir, syncs it and renames it
// to dst. dst is either absent or complete; it never holds a partial write.
func WriteAtomic(tmpDir, dst string, r io.Reader) (int64, error) {
	f, err := os.CreateTemp(tmpDir, "put-*")
	if err != nil {
		return 0, fmt.Errorf("create temp: %w", err)
	}
	tmp := f.Name()

	n, err := io.Copy(f, r)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("write %s: %w", dst, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o770); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("mkdir %s: %w", filepath.Dir(dst), err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("rename %s: %w", dst, err)
	}
	return n, nil
}
