package meta

import (
	"fmt"
	"path/filepath"
)

// CommitPath returns the on-disk path of a committed block within dir:
// <dirRoot>/<blockId>.
func CommitPath(dir *StorageDir, blockID uint64) string {
	return filepath.Join(dir.RootPath, fmt.Sprintf("%d", blockID))
}

// TempPath returns the on-disk path of a temp block owned by sessionID
// within dir: <dirRoot>/tmp/<sessionId>/<blockId>.
func TempPath(dir *StorageDir, sessionID, blockID uint64) string {
	return filepath.Join(dir.RootPath, "tmp", fmt.Sprintf("%d", sessionID), fmt.Sprintf("%d", blockID))
}

// TempSessionDir returns the temp root within dir, <dirRoot>/tmp, which
// holds one subdirectory per session; used by startup scan to sweep
// leftover temp state from prior sessions.
func TempSessionDir(dir *StorageDir) string {
	return filepath.Join(dir.RootPath, "tmp")
}
