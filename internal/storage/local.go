package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cityflow/internal/types"
)

// LocalStore implements ObjectStore on a directory. Keys map to paths
// relative to the root.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	// Walk from the deepest directory the prefix names, then filter on the
	// full prefix so partial file names match like they do on S3.
	dir := prefix
	if !strings.HasSuffix(dir, "/") {
		dir = dir[:strings.LastIndex(dir, "/")+1]
	}
	start := s.path(dir)

	var keys []string
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamObjectStore, fmt.Sprintf("failed to list %s", prefix), err)
	}
	return sortedUnique(keys), nil
}

func (s *LocalStore) ListDirs(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.path(dirPrefix(prefix)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamObjectStore, fmt.Sprintf("failed to list %s", prefix), err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return sortedUnique(names), nil
}

func (s *LocalStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, types.NewAppError(types.ErrCodeNotFoundObject, fmt.Sprintf("object %s not found", key), err)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamObjectStore, fmt.Sprintf("failed to get %s", key), err)
	}
	return f, nil
}

func (s *LocalStore) Put(_ context.Context, key string, body []byte, _ string) error {
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamObjectStore, fmt.Sprintf("failed to put %s", key), err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamObjectStore, fmt.Sprintf("failed to put %s", key), err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamObjectStore, fmt.Sprintf("failed to put %s", key), err)
	}
	return nil
}

// ReadAll reads an object fully.
func ReadAll(ctx context.Context, store ObjectStore, key string) ([]byte, error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamObjectStore, fmt.Sprintf("failed to read %s", key), err)
	}
	return buf.Bytes(), nil
}
