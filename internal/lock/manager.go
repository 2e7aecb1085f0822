// Package lock implements per-block read/write locking independent of the
// block metadata lock held by the store façade. A LockManager hands out
// opaque lockId handles backed by a per-block sync.RWMutex; it never takes
// the façade's metadataLock itself.
package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelfs/blockstored/internal/blockerr"
	"github.com/kestrelfs/blockstored/internal/metrics"
)

// Mode is the kind of hold a lock record represents.
type Mode int

const (
	Read Mode = iota
	Write
)

func (m Mode) String() string {
	if m == Write {
		return "WRITE"
	}
	return "READ"
}

// Record is the bookkeeping kept for a live lock handle.
type Record struct {
	LockID    uint64
	SessionID uint64
	BlockID   uint64
	Mode      Mode
}

type blockLock struct {
	mu       sync.RWMutex
	refcount int // live lockIds referencing this blockLock, for GC of the map entry
}

// Exister is the subset of BlockMetadataManager that LockManager needs to
// validate a blockId before granting a lock.
type Exister interface {
	HasBlockMeta(blockID uint64) bool
}

// Manager grants and tracks read/write locks on committed block IDs.
// Internally synchronized; callers never hold metadataLock while blocking
// in LockBlock, and Manager never calls back into the façade.
type Manager struct {
	log *zap.Logger

	meta Exister

	// acquireTimeout bounds how long LockBlock blocks when the caller's
	// ctx carries no deadline of its own. Zero means block indefinitely,
	// deferring entirely to the caller's context.
	acquireTimeout time.Duration

	mu       sync.Mutex
	nextID   uint64
	blocks   map[uint64]*blockLock     // blockID -> per-block RWMutex
	records  map[uint64]*Record        // lockID -> record
	perBlock map[uint64]map[uint64]bool // blockID -> set of live lockIDs, for getLockedBlocks
}

// New constructs a Manager backed by meta for existence checks.
func New(meta Exister, log *zap.Logger) *Manager {
	return &Manager{
		meta:     meta,
		log:      log,
		blocks:   make(map[uint64]*blockLock),
		records:  make(map[uint64]*Record),
		perBlock: make(map[uint64]map[uint64]bool),
	}
}

// SetAcquireTimeout sets the default bound LockBlock applies to a caller's
// ctx when that ctx has no deadline already. Passing 0 restores
// indefinite blocking bounded only by the caller's own ctx.
func (m *Manager) SetAcquireTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquireTimeout = d
}

// LockBlock validates that blockID is committed, then blocks (interruptibly
// via ctx) until the requested mode can be acquired, and returns a fresh
// lockId recording the hold. If ctx has no deadline of its own and an
// acquireTimeout is configured, LockBlock applies it so a caller cannot
// block forever just by forgetting to set one.
func (m *Manager) LockBlock(ctx context.Context, sessionID, blockID uint64, mode Mode) (uint64, error) {
	m.mu.Lock()
	timeout := m.acquireTimeout
	m.mu.Unlock()
	if timeout > 0 {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
	}

	m.mu.Lock()
	if !m.meta.HasBlockMeta(blockID) {
		m.mu.Unlock()
		return 0, blockerr.NotFoundf("Failed to lockBlock: no blockId %d found", blockID).WithBlockID(blockID)
	}
	bl, ok := m.blocks[blockID]
	if !ok {
		bl = &blockLock{}
		m.blocks[blockID] = bl
	}
	bl.refcount++
	m.mu.Unlock()

	waitStart := time.Now()
	if err := acquire(ctx, &bl.mu, mode); err != nil {
		m.mu.Lock()
		bl.refcount--
		if bl.refcount == 0 {
			delete(m.blocks, blockID)
		}
		m.mu.Unlock()
		return 0, err
	}
	metrics.LockWaitDuration.WithLabelValues(mode.String()).Observe(time.Since(waitStart).Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	lockID := atomic.AddUint64(&m.nextID, 1)
	m.records[lockID] = &Record{LockID: lockID, SessionID: sessionID, BlockID: blockID, Mode: mode}
	if m.perBlock[blockID] == nil {
		m.perBlock[blockID] = make(map[uint64]bool)
	}
	m.perBlock[blockID][lockID] = true
	metrics.LocksHeld.WithLabelValues().Set(float64(len(m.perBlock)))
	return lockID, nil
}

func acquire(ctx context.Context, mu *sync.RWMutex, mode Mode) error {
	done := make(chan struct{})
	go func() {
		if mode == Write {
			mu.Lock()
		} else {
			mu.RLock()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// An in-flight Lock/RLock call cannot be canceled, so the goroutine
		// above may still acquire the mutex after this call has given up.
		// Release that hold as soon as it is granted so it never blocks
		// later lockers.
		go func() {
			<-done
			if mode == Write {
				mu.Unlock()
			} else {
				mu.RUnlock()
			}
		}()
		return blockerr.Timeoutf("Failed to lockBlock: context canceled waiting for %s lock", mode)
	}
}

// UnlockBlock releases the hold identified by lockID and erases its record.
func (m *Manager) UnlockBlock(lockID uint64) error {
	m.mu.Lock()
	rec, ok := m.records[lockID]
	if !ok {
		m.mu.Unlock()
		return blockerr.NotFoundf("Failed to unlockBlock: lockId %d has no lock record", lockID)
	}
	delete(m.records, lockID)
	if set := m.perBlock[rec.BlockID]; set != nil {
		delete(set, lockID)
		if len(set) == 0 {
			delete(m.perBlock, rec.BlockID)
		}
	}
	bl := m.blocks[rec.BlockID]
	bl.refcount--
	if bl.refcount == 0 {
		delete(m.blocks, rec.BlockID)
	}
	metrics.LocksHeld.WithLabelValues().Set(float64(len(m.perBlock)))
	m.mu.Unlock()

	if rec.Mode == Write {
		bl.mu.Unlock()
	} else {
		bl.mu.RUnlock()
	}
	return nil
}

// UnlockBlockForSession releases one lock held by sessionID on blockID;
// when the session holds several, which one is not defined. Used by
// session cleanup paths that track their own lockIds
// loosely or not at all.
func (m *Manager) UnlockBlockForSession(sessionID, blockID uint64) error {
	m.mu.Lock()
	var target uint64
	found := false
	if set := m.perBlock[blockID]; set != nil {
		for lockID := range set {
			if rec := m.records[lockID]; rec != nil && rec.SessionID == sessionID {
				target = lockID
				found = true
				break
			}
		}
	}
	m.mu.Unlock()
	if !found {
		return blockerr.NotFoundf("Failed to unlockBlock: no lock held by session %d on blockId %d", sessionID, blockID).WithBlockID(blockID)
	}
	return m.UnlockBlock(target)
}

// CleanupSession releases every lock held by sessionID, logging failures
// instead of returning them: cleanup is best-effort per the façade's error
// propagation rules.
func (m *Manager) CleanupSession(sessionID uint64) {
	m.mu.Lock()
	var toRelease []uint64
	for lockID, rec := range m.records {
		if rec.SessionID == sessionID {
			toRelease = append(toRelease, lockID)
		}
	}
	m.mu.Unlock()

	for _, lockID := range toRelease {
		if err := m.UnlockBlock(lockID); err != nil {
			m.log.Warn("cleanup session: failed to release lock",
				zap.Uint64("sessionId", sessionID), zap.Uint64("lockId", lockID), zap.Error(err))
		}
	}
}

// GetLockedBlocks returns the set of blockIDs with at least one live lock.
func (m *Manager) GetLockedBlocks() map[uint64]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uint64]struct{}, len(m.perBlock))
	for blockID := range m.perBlock {
		out[blockID] = struct{}{}
	}
	return out
}

// IsLocked reports whether blockID currently has any live lock.
func (m *Manager) IsLocked(blockID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.perBlock[blockID]) > 0
}
