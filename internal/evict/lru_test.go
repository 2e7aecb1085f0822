package evict

import (
	"testing"

	"github.com/kestrelfs/blockstored/internal/meta"
)

func snapshotWith(blocks ...meta.BlockMeta) meta.DirSnapshot {
	var used int64
	for _, b := range blocks {
		used += b.Size
	}
	return meta.DirSnapshot{
		Location:       meta.InDir(0, 0),
		CapacityBytes:  1000,
		AvailableBytes: 1000 - used,
		Committed:      blocks,
	}
}

func TestFreeSpaceWithView_AlreadyEnoughRoom(t *testing.T) {
	l := NewLRU()
	view := View{
		Snapshot: meta.StoreSnapshot{Tiers: []meta.TierSnapshot{
			{Alias: 0, Dirs: []meta.DirSnapshot{snapshotWith()}},
		}},
	}
	plan, ok := l.FreeSpaceWithView(10, meta.AnyDirIn(0), view)
	if !ok {
		t.Fatal("expected a plan when capacity is already sufficient")
	}
	if len(plan.ToEvict()) != 0 || len(plan.ToMove()) != 0 {
		t.Fatal("expected an empty plan")
	}
}

func TestFreeSpaceWithView_EvictsOldestFirst(t *testing.T) {
	l := NewLRU()
	l.RecordAccess(1)
	l.RecordAccess(2)
	l.RecordAccess(3) // block 3 is most recently used

	blocks := []meta.BlockMeta{
		{BlockID: 1, Size: 300},
		{BlockID: 2, Size: 300},
		{BlockID: 3, Size: 300},
	}
	view := View{
		Snapshot: meta.StoreSnapshot{Tiers: []meta.TierSnapshot{
			{Alias: 0, Dirs: []meta.DirSnapshot{snapshotWith(blocks...)}},
		}},
	}

	// dir has 100 bytes free (1000 - 900); need 350 free in total.
	plan, ok := l.FreeSpaceWithView(350, meta.AnyDirIn(0), view)
	if !ok {
		t.Fatal("expected a feasible plan")
	}
	if len(plan.ToMove()) != 0 {
		t.Fatal("expected no next tier, so only evictions")
	}
	toEvict := plan.ToEvict()
	if len(toEvict) != 1 || toEvict[0] != 1 {
		t.Fatalf("expected to evict block 1 first (oldest), got %v", toEvict)
	}
}

func TestFreeSpaceWithView_SkipsPinnedBlocks(t *testing.T) {
	l := NewLRU()
	l.RecordAccess(1)
	l.RecordAccess(2)

	blocks := []meta.BlockMeta{
		{BlockID: 1, Size: 300},
		{BlockID: 2, Size: 300},
	}
	view := View{
		Snapshot: meta.StoreSnapshot{Tiers: []meta.TierSnapshot{
			{Alias: 0, Dirs: []meta.DirSnapshot{snapshotWith(blocks...)}},
		}},
		Pinned: map[uint64]struct{}{1: {}},
	}

	// dir has 400 bytes free (1000 - 600); 600 needs one block evicted.
	plan, ok := l.FreeSpaceWithView(600, meta.AnyDirIn(0), view)
	if !ok {
		t.Fatal("expected a feasible plan by evicting the unpinned block")
	}
	toEvict := plan.ToEvict()
	if len(toEvict) != 1 || toEvict[0] != 2 {
		t.Fatalf("expected to evict block 2 (block 1 is pinned), got %v", toEvict)
	}
}

func TestFreeSpaceWithView_InfeasibleWhenAllPinned(t *testing.T) {
	l := NewLRU()
	l.RecordAccess(1)

	blocks := []meta.BlockMeta{{BlockID: 1, Size: 900}}
	view := View{
		Snapshot: meta.StoreSnapshot{Tiers: []meta.TierSnapshot{
			{Alias: 0, Dirs: []meta.DirSnapshot{snapshotWith(blocks...)}},
		}},
		Pinned: map[uint64]struct{}{1: {}},
	}

	_, ok := l.FreeSpaceWithView(200, meta.AnyDirIn(0), view)
	if ok {
		t.Fatal("expected no feasible plan when the only candidate is pinned")
	}
}

func TestFreeSpaceWithView_MovesToNextTierWhenRoomExists(t *testing.T) {
	l := NewLRU()
	l.RecordAccess(1)

	hotBlocks := []meta.BlockMeta{{BlockID: 1, Size: 900}}
	view := View{
		Snapshot: meta.StoreSnapshot{Tiers: []meta.TierSnapshot{
			{Alias: 0, Dirs: []meta.DirSnapshot{snapshotWith(hotBlocks...)}},
			{Alias: 1, Dirs: []meta.DirSnapshot{{
				Location:       meta.InDir(1, 0),
				CapacityBytes:  1000,
				AvailableBytes: 1000,
			}}},
		}},
	}

	plan, ok := l.FreeSpaceWithView(200, meta.AnyDirIn(0), view)
	if !ok {
		t.Fatal("expected a feasible plan")
	}
	if len(plan.ToEvict()) != 0 {
		t.Fatal("expected no outright evictions when the next tier has room")
	}
	toMove := plan.ToMove()
	if len(toMove) != 1 || toMove[0].BlockID != 1 || toMove[0].TargetTier != 1 {
		t.Fatalf("expected block 1 moved to tier 1, got %v", toMove)
	}
}

func TestFreeSpaceWithView_NoSuchTier(t *testing.T) {
	l := NewLRU()
	view := View{Snapshot: meta.StoreSnapshot{}}
	_, ok := l.FreeSpaceWithView(10, meta.AnyDirIn(5), view)
	if ok {
		t.Fatal("expected no plan for an unknown tier")
	}
}

func TestFreeSpaceWithView_SpecificDirFilter(t *testing.T) {
	l := NewLRU()
	l.RecordAccess(1)
	l.RecordAccess(2)

	dir0 := snapshotWith(meta.BlockMeta{BlockID: 1, Size: 900})
	dir1 := meta.DirSnapshot{
		Location:       meta.InDir(0, 1),
		CapacityBytes:  1000,
		AvailableBytes: 100,
		Committed:      []meta.BlockMeta{{BlockID: 2, Size: 900}},
	}
	view := View{
		Snapshot: meta.StoreSnapshot{Tiers: []meta.TierSnapshot{
			{Alias: 0, Dirs: []meta.DirSnapshot{dir0, dir1}},
		}},
	}

	plan, ok := l.FreeSpaceWithView(50, meta.InDir(0, 1), view)
	if !ok {
		t.Fatal("expected a feasible plan scoped to dir 1")
	}
	if len(plan.ToEvict()) != 0 || len(plan.ToMove()) != 0 {
		t.Fatal("dir 1 already has enough room, expected an empty plan")
	}
}

// TestFreeSpaceWithView_CascadesThroughFullMiddleTier exercises a 3-tier
// config where tier 1 (the victim's next tier down) is itself full of
// unpinned, evictable blocks. Freeing space for the tier-0 victim must
// cascade: recursively free room in tier 1 first (by relocating its own
// resident into tier 2, the bottommost tier, whose own resident is evicted
// outright to make room since there is nowhere lower to move it), then move the
// tier-0 victim down into tier 1 — never giving up on relocation and
// evicting the tier-0 victim outright just because tier 1 was full.
func TestFreeSpaceWithView_CascadesThroughFullMiddleTier(t *testing.T) {
	l := NewLRU()
	l.RecordAccess(10) // tier-0 victim, oldest overall
	l.RecordAccess(20) // tier-1 resident, blocking the cascade
	l.RecordAccess(30) // tier-2 (bottommost) resident

	tier0 := meta.TierSnapshot{Alias: 0, Dirs: []meta.DirSnapshot{{
		Location:       meta.InDir(0, 0),
		CapacityBytes:  1000,
		AvailableBytes: 100,
		Committed:      []meta.BlockMeta{{BlockID: 10, Size: 900}},
	}}}
	tier1 := meta.TierSnapshot{Alias: 1, Dirs: []meta.DirSnapshot{{
		Location:       meta.InDir(1, 0),
		CapacityBytes:  900,
		AvailableBytes: 0,
		Committed:      []meta.BlockMeta{{BlockID: 20, Size: 900}},
	}}}
	tier2 := meta.TierSnapshot{Alias: 2, Dirs: []meta.DirSnapshot{{
		Location:       meta.InDir(2, 0),
		CapacityBytes:  1000,
		AvailableBytes: 100,
		Committed:      []meta.BlockMeta{{BlockID: 30, Size: 900}},
	}}}
	view := View{Snapshot: meta.StoreSnapshot{Tiers: []meta.TierSnapshot{tier0, tier1, tier2}}}

	plan, ok := l.FreeSpaceWithView(200, meta.AnyDirIn(0), view)
	if !ok {
		t.Fatal("expected a feasible cascading plan")
	}

	toEvict := plan.ToEvict()
	if len(toEvict) != 1 || toEvict[0] != 30 {
		t.Fatalf("expected the bottommost tier's resident (block 30) evicted to make room for the cascade, got %v", toEvict)
	}
	toMove := plan.ToMove()
	if len(toMove) != 2 ||
		toMove[0].BlockID != 20 || toMove[0].TargetTier != 2 ||
		toMove[1].BlockID != 10 || toMove[1].TargetTier != 1 {
		t.Fatalf("expected block 20 cascaded into tier 2 and block 10 moved into the room it left in tier 1, got %v", toMove)
	}

	// Dependencies must be ordered correctly: evicting 30 (which makes room
	// in tier 2) before moving 20 there, and moving 20 out of tier 1
	// (which makes room in tier 1) before moving 10 into it.
	indexOf := func(blockID uint64) int {
		for i, step := range plan.Steps {
			if step.BlockID == blockID {
				return i
			}
		}
		return -1
	}
	evict30, move20, move10 := indexOf(30), indexOf(20), indexOf(10)
	if evict30 < 0 || move20 < 0 || move10 < 0 || evict30 > move20 || move20 > move10 {
		t.Fatalf("expected step order evict(30) < move(20) < move(10), got steps %v", plan.Steps)
	}
}
