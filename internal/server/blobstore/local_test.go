package blobstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "storage"))
	require.NoError(t, err)
	return s
}

func TestNewLocalStore_RequiresRoot(t *testing.T) {
	_, err := NewLocalStore("  ")
	require.Error(t, err)
}

func TestNewLocalStore_FailsWhenRootIsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	_, err := NewLocalStore(path)
	require.Error(t, err)
}

func TestLocalStore_PutOpenDelete(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()
	key := Key{Owner: "alice@example.com", Handle: "h1"}

	require.NoError(t, s.Put(ctx, key, strings.NewReader("payload"), 7))

	onDisk := filepath.Join(s.Root(), "alice_40example_2ecom", "h1")
	b, err := os.ReadFile(onDisk)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b))

	rc, size, err := s.Open(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(7), size)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "payload", string(got))

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key), "delete must be idempotent")

	_, _, err = s.Open(ctx, key)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalStore_EmptyPayload(t *testing.T) {
	s := newLocal(t)
	key := Key{Owner: "a@example.com", Handle: "empty"}

	require.NoError(t, s.Put(context.Background(), key, strings.NewReader(""), 0))

	_, size, err := s.Open(context.Background(), key)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestLocalStore_SizeMismatchLeavesNothing(t *testing.T) {
	s := newLocal(t)
	key := Key{Owner: "a@example.com", Handle: "short"}

	err := s.Put(context.Background(), key, strings.NewReader("abc"), 10)
	require.ErrorIs(t, err, ErrSizeMismatch)

	_, _, err = s.Open(context.Background(), key)
	assert.ErrorIs(t, err, ErrNotFound)

	tmp, err := os.ReadDir(filepath.Join(s.Root(), tmpDir))
	require.NoError(t, err)
	assert.Empty(t, tmp, "temp files must be cleaned up")
}

func TestLocalStore_CanceledContext(t *testing.T) {
	s := newLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	key := Key{Owner: "a@example.com", Handle: "h"}
	assert.ErrorIs(t, s.Put(ctx, key, strings.NewReader("x"), 1), context.Canceled)
	_, _, err := s.Open(ctx, key)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Delete(ctx, key), context.Canceled)
}

func TestLocalStore_Check(t *testing.T) {
	s := newLocal(t)
	require.NoError(t, s.Check(context.Background()))
}
