package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	key := "uploads/t1/doc1.pdf"

	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, key, []byte("%PDF-1.4 fake")))

	ok, err = s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 fake"), data)

	// overwrite replaces content atomically
	require.NoError(t, s.Put(ctx, key, []byte("v2")))
	data, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting again is not an error
	require.NoError(t, s.Delete(ctx, key))
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	secret := filepath.Join(root, "..", "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("x"), 0o600))
	t.Cleanup(func() { _ = os.Remove(secret) })

	for _, key := range []string{"", "/abs/path", "..", "../secret.txt", "a/../../secret.txt"} {
		_, err := s.Get(ctx, key)
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
		assert.ErrorIs(t, s.Put(ctx, key, []byte("x")), ErrInvalidKey, "key %q", key)
	}
}

func TestFileStoreLeavesNoTempOnSuccess(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "u/t/doc.pdf", []byte("data")))

	entries, err := os.ReadDir(filepath.Join(root, "u", "t"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "doc.pdf", entries[0].Name())
}
