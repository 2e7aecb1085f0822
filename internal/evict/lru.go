package evict

import (
	"sort"
	"sync"

	"github.com/kestrelfs/blockstored/internal/meta"
)

// LRU is the default Evictor: victims are chosen oldest-access-first,
// ties broken by lowest blockId. Access order is a logical clock bumped on
// every RecordAccess call, not wall time, so it stays deterministic in
// tests.
type LRU struct {
	mu      sync.Mutex
	clock   uint64
	lastUse map[uint64]uint64
}

// NewLRU constructs an empty LRU evictor.
func NewLRU() *LRU {
	return &LRU{lastUse: make(map[uint64]uint64)}
}

// RecordAccess bumps blockID's logical access timestamp.
func (l *LRU) RecordAccess(blockID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock++
	l.lastUse[blockID] = l.clock
}

func (l *LRU) accessTime(blockID uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastUse[blockID]
}

// FreeSpaceWithView implements the default LRU admission policy described
// for the default evictor: per-dir, evict or relocate oldest-accessed
// unpinned blocks until one dir in location has bytesToFree available.
// Relocating a block to the next tier down is itself planned recursively:
// if that tier lacks static room, freeSpace is asked to cascade its own
// moves/evictions first, so a full tier never short-circuits straight to
// an outright eviction while a lower tier still has evictable residents.
func (l *LRU) FreeSpaceWithView(bytesToFree int64, location meta.Location, view View) (*Plan, bool) {
	return l.freeSpace(bytesToFree, location, view.Pinned, cloneSnapshot(view.Snapshot))
}

// freeSpace is the recursive core shared by a top-level FreeSpaceWithView
// call and by the cascading lookup into a lower tier. snap is a working
// copy that earlier steps planned in this same pass may already have
// mutated, so nested calls see accurate availability instead of the
// original, now-stale snapshot.
func (l *LRU) freeSpace(bytesToFree int64, location meta.Location, pinned map[uint64]struct{}, snap meta.StoreSnapshot) (*Plan, bool) {
	tierIdx, ok := findTierIndex(snap, location.Tier)
	if !ok {
		return nil, false
	}
	dirs := snap.Tiers[tierIdx].Dirs
	if location.Dir != meta.AnyDir {
		dirs = filterDir(dirs, location.Dir)
	}

	for _, dir := range dirs {
		if dir.AvailableBytes >= bytesToFree {
			return &Plan{}, true
		}
	}

	for _, dir := range dirs {
		if plan, ok := l.planForDir(bytesToFree, dir, pinned, snap, tierIdx); ok {
			return plan, true
		}
	}
	return nil, false
}

func (l *LRU) planForDir(bytesToFree int64, dir meta.DirSnapshot, pinned map[uint64]struct{}, snap meta.StoreSnapshot, tierIdx int) (*Plan, bool) {
	candidates := make([]meta.BlockMeta, 0, len(dir.Committed))
	for _, b := range dir.Committed {
		if _, isPinned := pinned[b.BlockID]; isPinned {
			continue
		}
		candidates = append(candidates, b)
	}
	sort.Slice(candidates, func(i, j int) bool {
		ti, tj := l.accessTime(candidates[i].BlockID), l.accessTime(candidates[j].BlockID)
		if ti != tj {
			return ti < tj
		}
		return candidates[i].BlockID < candidates[j].BlockID
	})

	nextIdx := tierIdx + 1
	hasNext := nextIdx < len(snap.Tiers)
	working := cloneSnapshot(snap)

	plan := &Plan{}
	freed := dir.AvailableBytes
	for _, b := range candidates {
		if freed >= bytesToFree {
			break
		}

		if hasNext {
			nextAlias := working.Tiers[nextIdx].Alias
			if subPlan, ok := l.freeSpace(b.Size, meta.AnyDirIn(nextAlias), pinned, working); ok {
				plan.Steps = append(plan.Steps, subPlan.Steps...)
				applyPlan(&working, subPlan)
				plan.Steps = append(plan.Steps, PlanStep{BlockID: b.BlockID, TargetTier: nextAlias})
				freed += b.Size
				continue
			}
		}

		plan.Steps = append(plan.Steps, PlanStep{BlockID: b.BlockID, Evict: true})
		freed += b.Size
	}
	if freed < bytesToFree {
		return nil, false
	}
	return plan, true
}

// cloneSnapshot deep-copies the mutable pieces of a StoreSnapshot (per-dir
// AvailableBytes and Committed lists) so recursive planning can simulate
// applying a sub-plan without corrupting the caller's view.
func cloneSnapshot(snap meta.StoreSnapshot) meta.StoreSnapshot {
	out := meta.StoreSnapshot{Tiers: make([]meta.TierSnapshot, len(snap.Tiers))}
	for i, t := range snap.Tiers {
		dirs := make([]meta.DirSnapshot, len(t.Dirs))
		for j, d := range t.Dirs {
			committed := make([]meta.BlockMeta, len(d.Committed))
			copy(committed, d.Committed)
			dirs[j] = meta.DirSnapshot{
				Location:       d.Location,
				CapacityBytes:  d.CapacityBytes,
				AvailableBytes: d.AvailableBytes,
				Committed:      committed,
			}
		}
		out.Tiers[i] = meta.TierSnapshot{Alias: t.Alias, Dirs: dirs}
	}
	return out
}

// applyPlan mutates snap in place to reflect plan's steps, in order, so a
// caller that goes on to plan further steps against the same snap sees
// up-to-date capacities and committed sets.
func applyPlan(snap *meta.StoreSnapshot, plan *Plan) {
	for _, step := range plan.Steps {
		applyStep(snap, step)
	}
}

func applyStep(snap *meta.StoreSnapshot, step PlanStep) {
	b, srcTier, srcDir := findCommitted(*snap, step.BlockID)
	if srcDir < 0 {
		return
	}
	removeCommitted(snap, srcTier, srcDir, step.BlockID)
	snap.Tiers[srcTier].Dirs[srcDir].AvailableBytes += b.Size

	if step.Evict {
		return
	}

	dstTier, ok := findTierIndex(*snap, step.TargetTier)
	if !ok {
		return
	}
	dstDir := bestDirIndex(snap.Tiers[dstTier].Dirs, b.Size)
	if dstDir < 0 {
		return
	}
	snap.Tiers[dstTier].Dirs[dstDir].AvailableBytes -= b.Size
	snap.Tiers[dstTier].Dirs[dstDir].Committed = append(snap.Tiers[dstTier].Dirs[dstDir].Committed, b)
}

func findCommitted(snap meta.StoreSnapshot, blockID uint64) (meta.BlockMeta, int, int) {
	for ti, t := range snap.Tiers {
		for di, d := range t.Dirs {
			for _, b := range d.Committed {
				if b.BlockID == blockID {
					return b, ti, di
				}
			}
		}
	}
	return meta.BlockMeta{}, -1, -1
}

func removeCommitted(snap *meta.StoreSnapshot, tierIdx, dirIdx int, blockID uint64) {
	committed := snap.Tiers[tierIdx].Dirs[dirIdx].Committed
	for i, b := range committed {
		if b.BlockID == blockID {
			snap.Tiers[tierIdx].Dirs[dirIdx].Committed = append(committed[:i], committed[i+1:]...)
			return
		}
	}
}

// bestDirIndex picks the dir with the most available room, tie-broken by
// lowest index, mirroring BlockMetadataManager.GetEligibleDir's selection.
func bestDirIndex(dirs []meta.DirSnapshot, bytes int64) int {
	best := -1
	for i, d := range dirs {
		if d.AvailableBytes < bytes {
			continue
		}
		if best < 0 ||
			d.AvailableBytes > dirs[best].AvailableBytes ||
			(d.AvailableBytes == dirs[best].AvailableBytes && d.Location.Dir < dirs[best].Location.Dir) {
			best = i
		}
	}
	return best
}

func findTierIndex(snap meta.StoreSnapshot, alias meta.TierAlias) (int, bool) {
	for i, t := range snap.Tiers {
		if t.Alias == alias {
			return i, true
		}
	}
	return 0, false
}

func filterDir(dirs []meta.DirSnapshot, index int) []meta.DirSnapshot {
	for _, d := range dirs {
		if d.Location.Dir == index {
			return []meta.DirSnapshot{d}
		}
	}
	return nil
}
