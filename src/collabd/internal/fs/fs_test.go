package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspaceFS(t *testing.T) {
	f := New()
	root := t.TempDir()
	dir := filepath.Join(root, "nested", "workspace")

	require.NoError(t, f.MkdirAll(dir))
	exists, err := f.DirExists(dir)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = f.DirExists(filepath.Join(root, "missing"))
	require.NoError(t, err)
	assert.False(t, exists)

	file := filepath.Join(dir, "code.py")
	require.NoError(t, f.WriteFile(file, "print(1)"))
	contents, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "print(1)", string(contents))

	entries, err := f.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, f.Remove(file))
	require.NoError(t, f.RemoveAll(dir))
	exists, err = f.DirExists(dir)
	require.NoError(t, err)
	assert.False(t, exists)
}
