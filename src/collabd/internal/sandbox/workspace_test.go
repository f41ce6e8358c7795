package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/collabcode/collabd/src/collabd/internal/clock"
	"github.com/collabcode/collabd/src/collabd/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInsideRoot(t *testing.T) {
	s := &sandbox{root: filepath.FromSlash("/srv/collabd/workspaces")}

	assert.True(t, s.insideRoot(filepath.FromSlash("/srv/collabd/workspaces/run-1-aa")))
	assert.True(t, s.insideRoot(filepath.FromSlash("/srv/collabd/workspaces/run-1-aa/nested")))

	assert.False(t, s.insideRoot(filepath.FromSlash("/srv/collabd/workspaces")))
	assert.False(t, s.insideRoot(filepath.FromSlash("/srv/collabd")))
	assert.False(t, s.insideRoot(filepath.FromSlash("/etc/passwd")))
	assert.False(t, s.insideRoot(filepath.FromSlash("/srv/collabd/workspaces-evil/run")))
}

// stubbornFS refuses recursive deletes, forcing cleanup onto its per-entry
// fallback, while single-entry removals pass through to the real filesystem.
type stubbornFS struct {
	fs.WorkspaceFS
	removeAllCalls int
	removeCalls    int
}

func (f *stubbornFS) RemoveAll(path string) error {
	f.removeAllCalls++
	return errors.New("directory busy")
}

func (f *stubbornFS) Remove(name string) error {
	f.removeCalls++
	return f.WorkspaceFS.Remove(name)
}

func TestCleanupWorkspaceFallsBackToPerEntryRemoval(t *testing.T) {
	root := t.TempDir()
	stubborn := &stubbornFS{WorkspaceFS: fs.New()}
	s := &sandbox{root: root, logger: zap.NewNop().Sugar(), fs: stubborn, clock: clock.New()}

	dir, err := s.createWorkspace()
	require.NoError(t, err)
	require.NoError(t, s.fs.WriteFile(filepath.Join(dir, "code.py"), "print(1)"))
	require.NoError(t, s.fs.WriteFile(filepath.Join(dir, _inputFileName), ""))

	s.cleanupWorkspace(dir)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, _cleanupAttempts, stubborn.removeAllCalls)
	// Both files plus the emptied directory itself.
	assert.Equal(t, 3, stubborn.removeCalls)
}

func TestCleanupWorkspaceSkipsMissingDirectory(t *testing.T) {
	root := t.TempDir()
	stubborn := &stubbornFS{WorkspaceFS: fs.New()}
	s := &sandbox{root: root, logger: zap.NewNop().Sugar(), fs: stubborn, clock: clock.New()}

	s.cleanupWorkspace(filepath.Join(root, "run-gone"))

	assert.Zero(t, stubborn.removeAllCalls)
	assert.Zero(t, stubborn.removeCalls)
}
