package storage

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_SaveAndRead(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	path, size, err := store.Save("col-1", "doc-1", ".md", strings.NewReader("# hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), size)
	assert.Equal(t, filepath.Join(store.Root(), "col-1", "doc-1.md"), path)

	data, err := store.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "# hello", string(data))
}

func TestFileStore_SaveRejectsUnsafeNames(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	cases := []struct {
		name string
		dir  string
		id   string
		ext  string
	}{
		{"traversal dir", "../evil", "doc", ".md"},
		{"empty dir", "", "doc", ".md"},
		{"slash in id", "col", "a/b", ".md"},
		{"dotted ext", "col", "doc", ".tar.gz"},
		{"ext without dot", "col", "doc", "md"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := store.Save(tc.dir, tc.id, tc.ext, strings.NewReader("x"))
			assert.Error(t, err)
		})
	}
}

func TestFileStore_SaveAllowsEmptyExtension(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	path, _, err := store.Save("col", "doc", "", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Root(), "col", "doc"), path)
}

func TestFileStore_RemoveMissingIsNotAnError(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	path, _, err := store.Save("col", "doc", ".txt", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, store.Remove(path))
	require.NoError(t, store.Remove(path))
}

func TestFileStore_RefusesPathsOutsideRoot(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Read("/etc/passwd")
	assert.Error(t, err)

	err = store.Remove(filepath.Join(store.Root(), "..", "elsewhere"))
	assert.Error(t, err)
}
