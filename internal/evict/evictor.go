// Package evict implements the eviction-plan contract used by the store
// façade under space pressure. Implementations must be pure functions of a
// metadata snapshot and a pin set: no I/O, no blocking, no mutation of the
// inputs, so they stay unit-testable in isolation from the façade.
package evict

import "github.com/kestrelfs/blockstored/internal/meta"

// View is the immutable input an Evictor reasons over: a snapshot of every
// tier/dir's capacity and committed blocks, plus the set of blockIDs that
// are currently locked and therefore off-limits.
type View struct {
	Snapshot meta.StoreSnapshot
	Pinned   map[uint64]struct{}
}

func (v View) isPinned(blockID uint64) bool {
	_, ok := v.Pinned[blockID]
	return ok
}

// MoveEntry is one relocation in an EvictionPlan: move blockID to a dir in
// targetTier (the eligible dir is chosen by the caller at execution time).
type MoveEntry struct {
	BlockID    uint64
	TargetTier meta.TierAlias
}

// PlanStep is one action in an eviction plan. Steps execute in slice order:
// an earlier step may free space a later one depends on, as happens when
// relocating a block into a tier that must first evict one of its own
// residents to make room.
type PlanStep struct {
	BlockID uint64
	// Evict, if true, deletes BlockID outright. Otherwise it is relocated
	// to TargetTier.
	Evict      bool
	TargetTier meta.TierAlias
}

// Plan is the evictor's proposed set of actions, in execution order.
// No step may reference a pinned blockID.
type Plan struct {
	Steps []PlanStep
}

func (p *Plan) isEmpty() bool {
	return p == nil || len(p.Steps) == 0
}

// ToEvict returns the blockIDs this plan deletes outright.
func (p *Plan) ToEvict() []uint64 {
	var ids []uint64
	for _, s := range p.Steps {
		if s.Evict {
			ids = append(ids, s.BlockID)
		}
	}
	return ids
}

// ToMove returns the relocations this plan performs, in order.
func (p *Plan) ToMove() []MoveEntry {
	var entries []MoveEntry
	for _, s := range p.Steps {
		if !s.Evict {
			entries = append(entries, MoveEntry{BlockID: s.BlockID, TargetTier: s.TargetTier})
		}
	}
	return entries
}

// Evictor produces a plan to free bytesToFree in location, or reports that
// no feasible plan exists (ok == false), signalling OutOfSpace upward.
type Evictor interface {
	FreeSpaceWithView(bytesToFree int64, location meta.Location, view View) (*Plan, bool)

	// RecordAccess notes a successful read-lock grant or commit against
	// blockID, feeding the default LRU policy's access-order list. Other
	// policies may ignore it.
	RecordAccess(blockID uint64)
}
