package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelfs/blockstored/internal/blockerr"
	"github.com/kestrelfs/blockstored/internal/evict"
	"github.com/kestrelfs/blockstored/internal/meta"
	"github.com/kestrelfs/blockstored/internal/metrics"
)

// runAdmission implements the space-admission algorithm: build a pin set
// from currently locked blocks (excluding excludeBlockID, for moves that
// relocate a block the caller itself holds the write lock on), ask the
// evictor for a plan, and execute it. Callers must already hold
// metadataLock exclusively.
func (s *Store) runAdmission(ctx context.Context, requiredBytes int64, location meta.Location, excludeBlockID uint64) error {
	start := time.Now()
	tierLabel := location.Tier.String()
	defer func() {
		metrics.AdmissionDuration.WithLabelValues(tierLabel).Observe(time.Since(start).Seconds())
	}()

	pinned := s.locks.GetLockedBlocks()
	if excludeBlockID != 0 {
		delete(pinned, excludeBlockID)
	}

	view := evict.View{Snapshot: s.meta.GetBlockStoreMeta(), Pinned: pinned}
	plan, ok := s.evictor.FreeSpaceWithView(requiredBytes, location, view)
	if !ok {
		metrics.OutOfSpaceErrors.WithLabelValues(tierLabel).Inc()
		return blockerr.OutOfSpacef("no eviction plan by evictor")
	}

	if err := s.executePlan(ctx, plan); err != nil {
		return err
	}

	if _, err := s.meta.GetEligibleDir(location, requiredBytes); err != nil {
		metrics.OutOfSpaceErrors.WithLabelValues(tierLabel).Inc()
		return blockerr.OutOfSpacef("no eligible dir in %s after executing eviction plan", location)
	}
	return nil
}

// completedMove records a move step executePlan has already applied, so a
// later step's failure can undo it.
type completedMove struct {
	blockID uint64
	srcDir  *meta.StorageDir
	dstDir  *meta.StorageDir
}

// executePlan applies the plan's steps in order: a cascading move into a
// tier that first had to evict one of its own residents depends on that
// eviction's step running first, so steps are never reordered or batched
// by kind. Per the partial-failure rule, a later step's failure rolls back
// every move step already applied in this pass, moving each block back to
// where it started (best-effort: an undo that itself fails is logged, not
// returned, since there is nothing further to roll back to). Deletions are
// never undone since the underlying file is genuinely gone.
func (s *Store) executePlan(ctx context.Context, plan *evict.Plan) error {
	var applied []completedMove
	for _, step := range plan.Steps {
		if step.Evict {
			if err := s.executeEvict(ctx, step.BlockID); err != nil {
				s.rollbackMoves(ctx, applied)
				return err
			}
			continue
		}
		move, err := s.executeMove(ctx, step.BlockID, step.TargetTier)
		if err != nil {
			s.rollbackMoves(ctx, applied)
			return err
		}
		if move.srcDir != nil {
			applied = append(applied, move)
		}
	}
	return nil
}

// rollbackMoves undoes already-applied move steps in reverse order, so a
// block that was relocated into room another move step just vacated is
// moved back before that earlier step's own undo runs.
func (s *Store) rollbackMoves(ctx context.Context, applied []completedMove) {
	for i := len(applied) - 1; i >= 0; i-- {
		m := applied[i]
		if err := s.undoMove(ctx, m); err != nil {
			s.log.Warn("eviction plan rollback: failed to undo move, metadata and files may be inconsistent",
				zap.Uint64("blockId", m.blockID), zap.Error(err))
		}
	}
}

func (s *Store) undoMove(ctx context.Context, m completedMove) error {
	b, err := s.meta.GetBlockMeta(m.blockID)
	if err != nil {
		return err
	}
	oldPath := meta.CommitPath(m.dstDir, m.blockID)
	newPath := meta.CommitPath(m.srcDir, m.blockID)
	if err := s.relocate(ctx, m.dstDir, m.srcDir, oldPath, newPath); err != nil {
		return err
	}
	if err := s.meta.MoveBlockMeta(b, m.srcDir); err != nil {
		return err
	}
	s.dispatchMove(m.blockID, m.dstDir.Location(), m.srcDir.Location())
	return nil
}

func (s *Store) executeMove(ctx context.Context, blockID uint64, targetTier meta.TierAlias) (completedMove, error) {
	b, err := s.meta.GetBlockMeta(blockID)
	if err != nil {
		return completedMove{}, nil // already gone, nothing to move
	}
	targetLoc := meta.AnyDirIn(targetTier)
	dst, err := s.meta.GetEligibleDir(targetLoc, b.Size)
	if err != nil {
		return completedMove{}, blockerr.OutOfSpacef("eviction plan named tier %s with no eligible dir for blockId %d", targetTier, blockID)
	}

	srcDir := b.Dir
	oldLocation := srcDir.Location()
	oldPath := meta.CommitPath(srcDir, blockID)
	newPath := meta.CommitPath(dst, blockID)
	if err := s.relocate(ctx, srcDir, dst, oldPath, newPath); err != nil {
		return completedMove{}, err
	}
	if err := s.meta.MoveBlockMeta(b, dst); err != nil {
		return completedMove{}, err
	}
	metrics.BlocksMoved.WithLabelValues(srcDir.Tier.String(), dst.Tier.String()).Inc()
	s.dispatchMove(blockID, oldLocation, dst.Location())
	return completedMove{blockID: blockID, srcDir: srcDir, dstDir: dst}, nil
}

func (s *Store) executeEvict(ctx context.Context, blockID uint64) error {
	b, err := s.meta.GetBlockMeta(blockID)
	if err != nil {
		return nil
	}
	path := meta.CommitPath(b.Dir, blockID)
	if err := s.fileOps(b.Dir).Delete(ctx, path); err != nil {
		return err
	}
	if err := s.meta.RemoveBlockMeta(b); err != nil {
		return err
	}
	metrics.BlocksEvicted.WithLabelValues(b.Dir.Tier.String()).Inc()
	s.dispatchRemove(0, blockID)
	return nil
}
