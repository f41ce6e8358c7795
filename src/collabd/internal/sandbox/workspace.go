package sandbox

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/collabcode/collabd/src/collabd/entity"
	"go.uber.org/multierr"
)

const (
	_cleanupAttempts = 3
	_cleanupBackoff  = 100 * time.Millisecond
	_sourceFileStem  = "code"
	_inputFileName   = "input.txt"
)

// resolveRoot makes the configured workspace root absolute so that later
// containment checks compare like with like.
func resolveRoot(root string) (string, error) {
	return filepath.Abs(root)
}

// createWorkspace allocates a fresh scratch directory under the controlled
// root. The name combines a time component with a cryptographically random
// suffix so concurrent runs can never collide.
func (s *sandbox) createWorkspace() (string, error) {
	suffix := make([]byte, 6)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("generating workspace suffix: %w", err)
	}
	name := fmt.Sprintf("run-%d-%s", s.clock.Now().UnixNano(), hex.EncodeToString(suffix))
	dir := filepath.Join(s.root, name)
	if err := s.fs.MkdirAll(dir); err != nil {
		return "", fmt.Errorf("creating workspace %s: %w", dir, err)
	}
	return dir, nil
}

// materialize writes the source file, an empty input file for programs that
// read stdin, and any profile-specified setup files into the workspace.
func (s *sandbox) materialize(dir string, profile entity.RuntimeProfile, code string) error {
	if err := s.fs.WriteFile(filepath.Join(dir, _sourceFileStem+profile.Extension), code); err != nil {
		return fmt.Errorf("writing source file: %w", err)
	}
	if err := s.fs.WriteFile(filepath.Join(dir, _inputFileName), ""); err != nil {
		return fmt.Errorf("writing input file: %w", err)
	}
	for name, contents := range profile.SetupFiles {
		if err := s.fs.WriteFile(filepath.Join(dir, name), contents); err != nil {
			return fmt.Errorf("writing setup file %s: %w", name, err)
		}
	}
	return nil
}

// cleanupWorkspace removes the run directory in every outcome. Failure to
// clean up is logged and never surfaced to the caller; the execution result
// has already been produced by the time this runs.
func (s *sandbox) cleanupWorkspace(dir string) {
	resolved, err := filepath.Abs(dir)
	if err != nil {
		s.logger.Warnw("skipping workspace cleanup, cannot resolve path", "dir", dir, "error", err)
		return
	}
	if !s.insideRoot(resolved) {
		s.logger.Warnw("refusing to delete directory outside workspace root", "dir", resolved)
		return
	}
	if exists, err := s.fs.DirExists(resolved); err == nil && !exists {
		return
	}

	var removeErr error
	for attempt := 0; attempt < _cleanupAttempts; attempt++ {
		if removeErr = s.fs.RemoveAll(resolved); removeErr == nil {
			return
		}
		s.clock.Sleep(_cleanupBackoff)
	}

	// Best-effort per-file fallback: empty the directory entry by entry, then
	// remove the emptied directory itself.
	var errs error
	entries, readErr := s.fs.ReadDir(resolved)
	if readErr != nil {
		errs = multierr.Append(errs, readErr)
	}
	for _, entry := range entries {
		target := filepath.Join(resolved, entry.Name())
		var entryErr error
		if entry.IsDir() {
			entryErr = s.fs.RemoveAll(target)
		} else {
			entryErr = s.fs.Remove(target)
		}
		if entryErr != nil {
			errs = multierr.Append(errs, entryErr)
		}
	}
	if err := s.fs.Remove(resolved); err != nil {
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		s.logger.Warnw("workspace cleanup failed", "dir", resolved, "error", multierr.Append(removeErr, errs))
	}
}

// insideRoot reports whether the resolved path is contained in the workspace
// root, guarding the delete against path confusion.
func (s *sandbox) insideRoot(resolved string) bool {
	rel, err := filepath.Rel(s.root, resolved)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
