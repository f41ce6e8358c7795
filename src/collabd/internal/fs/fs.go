package fs

import (
	"io/fs"
	"os"

	"go.uber.org/fx"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// WorkspaceFS wraps the filesystem operations used by the execution sandbox.
type WorkspaceFS interface {
	MkdirAll(path string) error
	DirExists(path string) (bool, error)
	WriteFile(name string, data string) error
	ReadDir(name string) ([]fs.DirEntry, error)
	Remove(name string) error
	RemoveAll(path string) error
}

type fsImpl struct{}

// New creates a new WorkspaceFS.
func New() WorkspaceFS {
	return fsImpl{}
}

// MkdirAll creates a directory and all its parents.
func (fsImpl) MkdirAll(path string) error { return os.MkdirAll(path, os.ModePerm) }

func (fsImpl) DirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (fsImpl) WriteFile(name string, data string) error {
	return os.WriteFile(name, []byte(data), 0644)
}

// ReadDir reads all the items in a directory (non-recursive)
func (fsImpl) ReadDir(name string) ([]fs.DirEntry, error) {
	return os.ReadDir(name)
}

func (fsImpl) Remove(name string) error {
	return os.Remove(name)
}

func (fsImpl) RemoveAll(path string) error {
	return os.RemoveAll(path)
}
