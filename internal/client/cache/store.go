package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dmitrijs2005/mediasync/internal/common"
	"github.com/dmitrijs2005/mediasync/internal/filex"
)

// ErrInvalidKey is returned for keys that would escape the cache root.
var ErrInvalidKey = errors.New("invalid cache key")

// Store is the content cache of media files.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Open(ctx context.Context, key string) (*os.File, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	PurgeTemp(ctx context.Context) (int, error)

	Path(key string) string
	KeyOf(path string) (string, bool)
	Root() string
}

// FileSystemStore is a Store rooted at a local directory. Thumbnail reads
// are served from an in-memory LRU when possible.
type FileSystemStore struct {
	root   string
	tmp    string
	thumbs *lru.Cache[string, []byte]
}

var _ Store = (*FileSystemStore)(nil)

// DefaultThumbnailEntries bounds the in-memory thumbnail cache.
const DefaultThumbnailEntries = 256

// NewFileSystemStore creates the root (and its temp dir) if needed. A
// non-positive thumbEntries disables the in-memory thumbnail cache.
func NewFileSystemStore(root string, thumbEntries int) (*FileSystemStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve cache root: %w", common.ErrIO, err)
	}
	tmp, err := filex.EnsureSubDir(abs, tempDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrIO, err)
	}

	s := &FileSystemStore{root: abs, tmp: tmp}
	if thumbEntries > 0 {
		// lru.New only errors on non-positive size.
		s.thumbs, _ = lru.New[string, []byte](thumbEntries)
	}
	return s, nil
}

func (s *FileSystemStore) Root() string { return s.root }

func (s *FileSystemStore) Path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// KeyOf maps an absolute path under the root back to its key.
func (s *FileSystemStore) KeyOf(p string) (string, bool) {
	if p == "" {
		return "", false
	}
	rel, err := filepath.Rel(s.root, p)
	if err != nil {
		return "", false
	}
	key := filepath.ToSlash(rel)
	if !validKey(key) {
		return "", false
	}
	return key, true
}

func (s *FileSystemStore) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !validKey(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	dst := s.Path(key)
	if _, err := filex.WriteAtomic(s.tmp, dst, r); err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrIO, err)
	}
	s.forget(key)
	return dst, nil
}

func (s *FileSystemStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validKey(key) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	if s.thumbs != nil && IsThumbnailKey(key) {
		if data, ok := s.thumbs.Get(key); ok {
			return bytes.Clone(data), nil
		}
	}

	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("cache key %s: %w", key, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", common.ErrIO, key, err)
	}

	if s.thumbs != nil && IsThumbnailKey(key) {
		s.thumbs.Add(key, bytes.Clone(data))
	}
	return data, nil
}

func (s *FileSystemStore) Open(ctx context.Context, key string) (*os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validKey(key) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	f, err := os.Open(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("cache key %s: %w", key, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", common.ErrIO, key, err)
	}
	return f, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *FileSystemStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	s.forget(key)
	if err := os.Remove(s.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: delete %s: %w", common.ErrIO, key, err)
	}
	return nil
}

// Keys lists every stored key in lexical order. In-progress writes are not
// listed.
func (s *FileSystemStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			if p == s.tmp {
				return filepath.SkipDir
			}
			return nil
		}
		if key, ok := s.KeyOf(p); ok {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: list cache: %w", common.ErrIO, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// PurgeTemp removes leftovers of interrupted writes. It must not run while
// a Put is in progress.
func (s *FileSystemStore) PurgeTemp(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.tmp)
	if err != nil {
		return 0, fmt.Errorf("%w: read temp dir: %w", common.ErrIO, err)
	}

	n := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := os.RemoveAll(filepath.Join(s.tmp, e.Name())); err != nil {
			return n, fmt.Errorf("%w: purge %s: %w", common.ErrIO, e.Name(), err)
		}
		n++
	}
	return n, nil
}

func (s *FileSystemStore) forget(key string) {
	if s.thumbs != nil && strings.HasPrefix(key, thumbnailsDir) {
		s.thumbs.Remove(key)
	}
}
