package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/attachkeeper/internal/filex"
)

const tmpDir = ".tmp"

// LocalStore keeps payloads in a directory tree. Writes go to a temp file
// first and are renamed into place, so readers never see partial payloads.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory when needed and verifies that it
// is writable.
func NewLocalStore(root string) (*LocalStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("local storage root is required")
	}

	abs, err := filex.EnsureWritableDir(root)
	if err != nil {
		return nil, err
	}
	if _, err := filex.EnsureWritableDir(filepath.Join(abs, tmpDir)); err != nil {
		return nil, err
	}

	return &LocalStore{root: abs}, nil
}

// Root returns the absolute storage root.
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) path(key Key) string {
	return filepath.Join(s.root, filepath.FromSlash(key.Path()))
}

func (s *LocalStore) Put(ctx context.Context, key Key, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "put-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := io.Copy(tmp, &countingReader{r: r, limit: size}); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}

	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o770); err != nil {
		cleanup()
		return fmt.Errorf("mkdir: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		cleanup()
		return fmt.Errorf("rename: %w", err)
	}

	return nil
}

func (s *LocalStore) Open(ctx context.Context, key Key) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	f, err := os.Open(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, 0, err
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}

	return f, fi.Size(), nil
}

func (s *LocalStore) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *LocalStore) Check(ctx context.Context) error {
	_, err := filex.EnsureWritableDir(s.root)
	return err
}
