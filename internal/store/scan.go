package store

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/kestrelfs/blockstored/internal/blockerr"
	"github.com/kestrelfs/blockstored/internal/fileops"
	"github.com/kestrelfs/blockstored/internal/meta"
)

// ScanDisk walks every configured dir's committed path and inserts a
// BlockMeta for each file found, sized by the file's actual length; temp
// paths left behind by a prior process are swept away entirely, since no
// session survives a restart to claim them. Dirs whose FileOps does not
// implement fileops.Lister are skipped with a warning rather than failing
// startup outright.
func (s *Store) ScanDisk(ctx context.Context) error {
	s.metadataLock.Lock()
	defer s.metadataLock.Unlock()

	for _, tier := range s.meta.Tiers() {
		for _, dir := range tier.Dirs() {
			if err := s.scanDir(ctx, dir); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) scanDir(ctx context.Context, dir *meta.StorageDir) error {
	ops := s.fileOps(dir)
	lister, ok := ops.(fileops.Lister)
	if !ok {
		s.log.Warn("skipping startup scan for dir with no Lister support", zap.Stringer("location", dir.Location()))
		return nil
	}

	entries, err := lister.List(ctx, dir.RootPath)
	if err != nil {
		return blockerr.IOErrorf(err, "scanning dir %s", dir.Location())
	}
	for _, e := range entries {
		blockID, err := strconv.ParseUint(e.Name, 10, 64)
		if err != nil {
			continue // not a block file (e.g. "tmp")
		}
		if err := dir.AddBlockMeta(&meta.BlockMeta{BlockID: blockID, Size: e.Size, Dir: dir}); err != nil {
			s.log.Warn("startup scan: failed to register block", zap.Uint64("blockId", blockID), zap.Error(err))
			continue
		}
		s.meta.IndexCommitted(blockID, dir)
	}

	if err := s.sweepTemp(ctx, dir, lister); err != nil {
		return err
	}
	return nil
}

// sweepTemp deletes every leftover temp path under dir/tmp, grouped by the
// prior session's ID.
func (s *Store) sweepTemp(ctx context.Context, dir *meta.StorageDir, lister fileops.Lister) error {
	sessionDir := meta.TempSessionDir(dir)
	sessionEntries, err := lister.List(ctx, sessionDir)
	if err != nil {
		return blockerr.IOErrorf(err, "scanning temp dir %s", sessionDir)
	}
	ops := s.fileOps(dir)
	for _, se := range sessionEntries {
		sessionID, err := strconv.ParseUint(se.Name, 10, 64)
		if err != nil {
			continue
		}
		blockEntries, err := lister.List(ctx, sessionDir+"/"+se.Name)
		if err != nil {
			s.log.Warn("startup scan: failed to list session temp dir", zap.Uint64("sessionId", sessionID), zap.Error(err))
			continue
		}
		for _, be := range blockEntries {
			blockID, err := strconv.ParseUint(be.Name, 10, 64)
			if err != nil {
				continue
			}
			if err := ops.Delete(ctx, meta.TempPath(dir, sessionID, blockID)); err != nil {
				s.log.Warn("startup scan: failed to delete leftover temp file",
					zap.Uint64("sessionId", sessionID), zap.Uint64("blockId", blockID), zap.Error(err))
			}
		}
	}
	return nil
}
