// Package store implements the TieredBlockStore façade: the single entry
// point client sessions use to create, write, commit, move, and evict
// blocks across the configured tier hierarchy.
package store

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/kestrelfs/blockstored/internal/blockerr"
	"github.com/kestrelfs/blockstored/internal/evict"
	"github.com/kestrelfs/blockstored/internal/fileops"
	"github.com/kestrelfs/blockstored/internal/lock"
	"github.com/kestrelfs/blockstored/internal/meta"
	"github.com/kestrelfs/blockstored/internal/metrics"
	"github.com/kestrelfs/blockstored/internal/notify"
)

// Store is the TieredBlockStore façade. It owns no mutable state of its
// own beyond the metadataLock; BlockMetadataManager, LockManager, and the
// evictor hold the actual data. Per the concurrency discipline, Store
// never acquires a per-block lock while holding metadataLock: it always
// acquires LockManager locks first, then metadataLock.
type Store struct {
	metadataLock sync.RWMutex

	meta    *meta.Manager
	locks   *lock.Manager
	evictor evict.Evictor
	dirOps  map[*meta.StorageDir]fileops.FileOps

	listenersMu sync.Mutex
	listeners   notify.Multi

	log *zap.Logger
}

// New constructs a Store over an already-built metadata manager and
// per-dir file-ops table. dirOps must have an entry for every StorageDir
// reachable from metaManager.Tiers().
func New(metaManager *meta.Manager, locks *lock.Manager, evictor evict.Evictor, dirOps map[*meta.StorageDir]fileops.FileOps, log *zap.Logger) *Store {
	return &Store{
		meta:    metaManager,
		locks:   locks,
		evictor: evictor,
		dirOps:  dirOps,
		log:     log,
	}
}

// AddListener registers l to receive future commit/abort/move/remove
// events. Safe to call concurrently with normal store operations.
func (s *Store) AddListener(l notify.Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) fileOps(dir *meta.StorageDir) fileops.FileOps {
	return s.dirOps[dir]
}

// HasBlockMeta reports whether blockID is committed anywhere, under a
// shared metadataLock hold.
func (s *Store) HasBlockMeta(blockID uint64) bool {
	s.metadataLock.RLock()
	defer s.metadataLock.RUnlock()
	return s.meta.HasBlockMeta(blockID)
}

// GetBlockMeta returns the committed block's metadata under a shared
// metadataLock hold.
func (s *Store) GetBlockMeta(blockID uint64) (*meta.BlockMeta, error) {
	s.metadataLock.RLock()
	defer s.metadataLock.RUnlock()
	return s.meta.GetBlockMeta(blockID)
}

// HasTempBlockMeta reports whether blockID is a temp block anywhere, under
// a shared metadataLock hold.
func (s *Store) HasTempBlockMeta(blockID uint64) bool {
	s.metadataLock.RLock()
	defer s.metadataLock.RUnlock()
	return s.meta.HasTempBlockMeta(blockID)
}

// GetBlockStoreMeta returns a snapshot of per-dir capacities and block
// lists, under a shared metadataLock hold.
func (s *Store) GetBlockStoreMeta() meta.StoreSnapshot {
	s.metadataLock.RLock()
	defer s.metadataLock.RUnlock()
	return s.meta.GetBlockStoreMeta()
}

// Stats returns the same snapshot as GetBlockStoreMeta, additionally
// publishing its per-tier block counts and available capacity into the
// internal/metrics gauges. Callers that only need the Prometheus side
// effect (a periodic poller, for instance) can discard the return value.
func (s *Store) Stats() meta.StoreSnapshot {
	snap := s.GetBlockStoreMeta()
	for _, t := range snap.Tiers {
		label := t.Alias.String()
		var available int64
		var count int
		for _, d := range t.Dirs {
			available += d.AvailableBytes
			count += len(d.Committed)
		}
		metrics.TierBlockCount.WithLabelValues(label).Set(float64(count))
		metrics.TierAvailableBytes.WithLabelValues(label).Set(float64(available))
	}
	return snap
}

// CreateBlockMeta reserves a new temp block of initialSize in location,
// running space admission if no dir currently has room.
func (s *Store) CreateBlockMeta(ctx context.Context, sessionID, blockID uint64, location meta.Location, initialSize int64) (*meta.TempBlockMeta, error) {
	s.metadataLock.Lock()
	defer s.metadataLock.Unlock()

	if s.meta.HasBlockMeta(blockID) || s.meta.HasTempBlockMeta(blockID) {
		return nil, blockerr.AlreadyExistsf("blockId %d already exists", blockID).WithBlockID(blockID)
	}

	dir, err := s.meta.GetEligibleDir(location, initialSize)
	if err != nil {
		if err := s.runAdmission(ctx, initialSize, location, 0); err != nil {
			return nil, err
		}
		dir, err = s.meta.GetEligibleDir(location, initialSize)
		if err != nil {
			return nil, blockerr.OutOfSpacef("no eligible dir in %s after admission", location)
		}
	}

	temp := &meta.TempBlockMeta{BlockID: blockID, OwnerSessionID: sessionID, Size: initialSize, Dir: dir}
	if err := s.meta.AddTempBlockMeta(temp); err != nil {
		return nil, err
	}
	return temp, nil
}

// GetBlockWriter returns an append writer on blockID's temp path. The
// writer does not itself reserve space; callers use RequestSpace first.
func (s *Store) GetBlockWriter(ctx context.Context, sessionID, blockID uint64) (fileops.WriteCloser, error) {
	s.metadataLock.RLock()
	temp, err := s.meta.GetTempBlockMeta(blockID)
	s.metadataLock.RUnlock()
	if err != nil {
		return nil, err
	}
	if temp.OwnerSessionID != sessionID {
		return nil, blockerr.InvalidStatef("session %d does not own temp blockId %d", sessionID, blockID).WithBlockID(blockID)
	}
	path := meta.TempPath(temp.Dir, sessionID, blockID)
	return s.fileOps(temp.Dir).CreateWriter(ctx, path)
}

// RequestSpace grows blockID's temp reservation by additionalBytes,
// running space admission restricted to the owning dir if needed.
func (s *Store) RequestSpace(ctx context.Context, sessionID, blockID uint64, additionalBytes int64) error {
	s.metadataLock.Lock()
	defer s.metadataLock.Unlock()

	temp, err := s.meta.GetTempBlockMeta(blockID)
	if err != nil {
		return err
	}
	if temp.OwnerSessionID != sessionID {
		return blockerr.InvalidStatef("session %d does not own temp blockId %d", sessionID, blockID).WithBlockID(blockID)
	}

	if temp.Dir.AvailableBytes() >= additionalBytes {
		return temp.Dir.ResizeTempBlockMeta(blockID, temp.Size+additionalBytes)
	}

	dirLoc := meta.InDir(temp.Dir.Tier, temp.Dir.Index)
	if err := s.runAdmission(ctx, additionalBytes, dirLoc, 0); err != nil {
		return err
	}
	if temp.Dir.AvailableBytes() < additionalBytes {
		return blockerr.OutOfSpacef("dir %s still lacks %d bytes after admission", dirLoc, additionalBytes)
	}
	return temp.Dir.ResizeTempBlockMeta(blockID, temp.Size+additionalBytes)
}

// CommitBlock renames blockID's temp file to its commit path and records
// it as committed. Metadata is left untouched if the rename fails.
func (s *Store) CommitBlock(ctx context.Context, sessionID, blockID uint64) error {
	s.metadataLock.Lock()
	defer s.metadataLock.Unlock()

	if s.meta.HasBlockMeta(blockID) {
		return blockerr.AlreadyExistsf("blockId %d is already committed", blockID).WithBlockID(blockID)
	}
	temp, err := s.meta.GetTempBlockMeta(blockID)
	if err != nil {
		return err
	}
	if temp.OwnerSessionID != sessionID {
		return blockerr.InvalidStatef("session %d does not own temp blockId %d", sessionID, blockID).WithBlockID(blockID)
	}

	oldPath := meta.TempPath(temp.Dir, sessionID, blockID)
	newPath := meta.CommitPath(temp.Dir, blockID)
	if err := s.fileOps(temp.Dir).Rename(ctx, oldPath, newPath); err != nil {
		return err
	}
	if err := s.meta.CommitTempBlock(temp); err != nil {
		return err
	}

	s.evictor.RecordAccess(blockID)
	metrics.BlocksCommitted.WithLabelValues(temp.Dir.Tier.String()).Inc()
	s.dispatchCommit(sessionID, blockID, temp.Dir.Location())
	return nil
}

// AbortBlock discards blockID's temp reservation and deletes its temp
// file.
func (s *Store) AbortBlock(ctx context.Context, sessionID, blockID uint64) error {
	s.metadataLock.Lock()
	defer s.metadataLock.Unlock()

	if s.meta.HasBlockMeta(blockID) {
		return blockerr.AlreadyExistsf("blockId %d is already committed", blockID).WithBlockID(blockID)
	}
	temp, err := s.meta.GetTempBlockMeta(blockID)
	if err != nil {
		return err
	}
	if temp.OwnerSessionID != sessionID {
		return blockerr.InvalidStatef("session %d does not own temp blockId %d", sessionID, blockID).WithBlockID(blockID)
	}

	path := meta.TempPath(temp.Dir, sessionID, blockID)
	if err := s.fileOps(temp.Dir).Delete(ctx, path); err != nil {
		return err
	}
	if err := s.meta.AbortTempBlock(temp); err != nil {
		return err
	}

	metrics.BlocksAborted.WithLabelValues().Inc()
	s.dispatchAbort(sessionID, blockID)
	return nil
}

// MoveBlock relocates a committed block to newLocation, blocking on a
// write lock until any current readers drain.
func (s *Store) MoveBlock(ctx context.Context, sessionID, blockID uint64, newLocation meta.Location) error {
	lockID, err := s.locks.LockBlock(ctx, sessionID, blockID, lock.Write)
	if err != nil {
		return err
	}
	defer s.locks.UnlockBlock(lockID)

	s.metadataLock.Lock()
	defer s.metadataLock.Unlock()

	b, err := s.meta.GetBlockMeta(blockID)
	if err != nil {
		return err
	}
	oldLocation := b.Dir.Location()

	dir, err := s.meta.GetEligibleDir(newLocation, b.Size)
	if err != nil {
		if err := s.runAdmission(ctx, b.Size, newLocation, blockID); err != nil {
			return err
		}
		dir, err = s.meta.GetEligibleDir(newLocation, b.Size)
		if err != nil {
			return blockerr.OutOfSpacef("no eligible dir in %s after admission", newLocation)
		}
	}

	oldPath := meta.CommitPath(b.Dir, blockID)
	newPath := meta.CommitPath(dir, blockID)
	if err := s.relocate(ctx, b.Dir, dir, oldPath, newPath); err != nil {
		return err
	}
	if err := s.meta.MoveBlockMeta(b, dir); err != nil {
		return err
	}

	metrics.BlocksMoved.WithLabelValues(oldLocation.Tier.String(), dir.Tier.String()).Inc()
	s.dispatchMove(blockID, oldLocation, dir.Location())
	return nil
}

// relocate moves bytes between two dirs that may be backed by different
// media: same FileOps instance, use its Rename; otherwise, copy via a
// read/write roundtrip is not available on this narrow interface, so
// cross-medium moves are rejected as IOError until a medium-specific
// mover is wired in.
func (s *Store) relocate(ctx context.Context, srcDir, dstDir *meta.StorageDir, oldPath, newPath string) error {
	srcOps, dstOps := s.fileOps(srcDir), s.fileOps(dstDir)
	if srcOps == dstOps {
		return srcOps.Rename(ctx, oldPath, newPath)
	}
	return blockerr.IOErrorf(nil, "cross-medium move from %s to %s is not supported", oldPath, newPath)
}

// RemoveBlock deletes a committed block's file and metadata, blocking on
// a write lock first.
func (s *Store) RemoveBlock(ctx context.Context, sessionID, blockID uint64) error {
	s.metadataLock.RLock()
	isTemp := s.meta.HasTempBlockMeta(blockID)
	isCommitted := s.meta.HasBlockMeta(blockID)
	s.metadataLock.RUnlock()

	if isTemp {
		return blockerr.InvalidStatef("blockId %d is a temp block, not committed", blockID).WithBlockID(blockID)
	}
	if !isCommitted {
		return blockerr.NotFoundf("no blockId %d found", blockID).WithBlockID(blockID)
	}

	lockID, err := s.locks.LockBlock(ctx, sessionID, blockID, lock.Write)
	if err != nil {
		return err
	}
	defer s.locks.UnlockBlock(lockID)

	s.metadataLock.Lock()
	defer s.metadataLock.Unlock()

	b, err := s.meta.GetBlockMeta(blockID)
	if err != nil {
		return err
	}
	path := meta.CommitPath(b.Dir, blockID)
	if err := s.fileOps(b.Dir).Delete(ctx, path); err != nil {
		return err
	}
	if err := s.meta.RemoveBlockMeta(b); err != nil {
		return err
	}

	s.dispatchRemove(sessionID, blockID)
	return nil
}

// FreeSpace runs space admission in location without an accompanying
// create/grow, for callers that want to pre-warm capacity.
func (s *Store) FreeSpace(ctx context.Context, sessionID uint64, bytes int64, location meta.Location) error {
	s.metadataLock.Lock()
	defer s.metadataLock.Unlock()
	return s.runAdmission(ctx, bytes, location, 0)
}

// LockBlock delegates to the LockManager.
func (s *Store) LockBlock(ctx context.Context, sessionID, blockID uint64, mode lock.Mode) (uint64, error) {
	lockID, err := s.locks.LockBlock(ctx, sessionID, blockID, mode)
	if err == nil && mode == lock.Read {
		s.evictor.RecordAccess(blockID)
	}
	return lockID, err
}

// UnlockBlock delegates to the LockManager.
func (s *Store) UnlockBlock(lockID uint64) error {
	return s.locks.UnlockBlock(lockID)
}

// CleanupSession releases every lock held by sessionID and aborts every
// temp block it owns. Best-effort: individual failures are logged, not
// returned, matching the façade's idempotent-cleanup error policy.
func (s *Store) CleanupSession(ctx context.Context, sessionID uint64) {
	s.locks.CleanupSession(sessionID)

	s.metadataLock.Lock()
	var owned []*meta.TempBlockMeta
	for _, blockID := range s.meta.AllTempBlockIDsForSession(sessionID) {
		if t, err := s.meta.GetTempBlockMeta(blockID); err == nil {
			owned = append(owned, t)
		}
	}
	s.metadataLock.Unlock()

	for _, temp := range owned {
		path := meta.TempPath(temp.Dir, sessionID, temp.BlockID)
		if err := s.fileOps(temp.Dir).Delete(ctx, path); err != nil {
			s.log.Warn("cleanup session: failed to delete temp file",
				zap.Uint64("sessionId", sessionID), zap.Uint64("blockId", temp.BlockID), zap.Error(err))
			continue
		}
		s.metadataLock.Lock()
		err := s.meta.AbortTempBlock(temp)
		s.metadataLock.Unlock()
		if err != nil {
			s.log.Warn("cleanup session: failed to abort temp block",
				zap.Uint64("sessionId", sessionID), zap.Uint64("blockId", temp.BlockID), zap.Error(err))
		}
	}
}

func (s *Store) dispatchCommit(sessionID, blockID uint64, location meta.Location) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners.OnCommitBlock(sessionID, blockID, location)
}

func (s *Store) dispatchAbort(sessionID, blockID uint64) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners.OnAbortBlock(sessionID, blockID)
}

func (s *Store) dispatchMove(blockID uint64, oldLocation, newLocation meta.Location) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners.OnMoveBlock(blockID, oldLocation, newLocation)
}

func (s *Store) dispatchRemove(sessionID, blockID uint64) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners.OnRemoveBlock(sessionID, blockID)
}
