// Package fsutil implements fileops.FileOps against the local filesystem.
package fsutil

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/kestrelfs/blockstored/internal/blockerr"
	"github.com/kestrelfs/blockstored/internal/fileops"
)

// Local is a fileops.FileOps backed by the local filesystem. Rename is a
// true atomic os.Rename within the same volume, which is what the store
// façade's temp-to-commit lifecycle relies on.
type Local struct{}

// New constructs a Local file-ops implementation.
func New() *Local {
	return &Local{}
}

func (l *Local) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, blockerr.IOErrorf(err, "stat %s", path)
}

func (l *Local) Size(_ context.Context, path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, blockerr.NotFoundf("no file at %s", path)
		}
		return 0, blockerr.IOErrorf(err, "stat %s", path)
	}
	return info.Size(), nil
}

func (l *Local) CreateWriter(_ context.Context, path string) (fileops.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, blockerr.IOErrorf(err, "creating parent dir for %s", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, blockerr.IOErrorf(err, "opening %s for write", path)
	}
	return f, nil
}

func (l *Local) Rename(_ context.Context, oldPath, newPath string) error {
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return blockerr.IOErrorf(err, "creating parent dir for %s", newPath)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return blockerr.IOErrorf(err, "renaming %s to %s", oldPath, newPath)
	}
	return nil
}

func (l *Local) Delete(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return blockerr.IOErrorf(err, "removing %s", path)
	}
	return nil
}

// List implements fileops.Lister by reading the directory at dirPath.
// Absent directories yield an empty list, not an error, so the startup
// scan can probe dirs that have never been written to.
func (l *Local) List(_ context.Context, dirPath string) ([]fileops.Entry, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, blockerr.IOErrorf(err, "reading dir %s", dirPath)
	}
	out := make([]fileops.Entry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, blockerr.IOErrorf(err, "stat %s/%s", dirPath, e.Name())
		}
		out = append(out, fileops.Entry{Name: e.Name(), Size: info.Size()})
	}
	return out, nil
}

var _ io.WriteCloser = (*os.File)(nil)
var _ fileops.Lister = (*Local)(nil)
