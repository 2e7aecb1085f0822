package meta

import (
	"sort"

	"github.com/kestrelfs/blockstored/internal/blockerr"
)

// Manager is the global index of committed and temp blocks across every
// tier/dir this worker knows about. It owns every StorageDir instance;
// BlockMeta/TempBlockMeta are in turn owned by their StorageDir. Every
// mutating method here must be called with the façade's exclusive
// metadataLock held; Manager performs no locking of its own (see
// TieredBlockStore's concurrency discipline).
type Manager struct {
	tiersByAlias map[TierAlias]*StorageTier
	tierOrder    []TierAlias

	// Flat indexes for O(1) lookup by blockID, independent of which dir a
	// block happens to live in.
	committedIndex map[uint64]*StorageDir
	tempIndex      map[uint64]*StorageDir
}

// NewManager builds a Manager over an already-constructed, ordered set of
// tiers. Tier order defines precedence: tiers[0] is the fastest/hottest.
func NewManager(tiers []*StorageTier) *Manager {
	m := &Manager{
		tiersByAlias:   make(map[TierAlias]*StorageTier, len(tiers)),
		tierOrder:      make([]TierAlias, 0, len(tiers)),
		committedIndex: make(map[uint64]*StorageDir),
		tempIndex:      make(map[uint64]*StorageDir),
	}
	for _, t := range tiers {
		m.tiersByAlias[t.Alias] = t
		m.tierOrder = append(m.tierOrder, t.Alias)
	}
	return m
}

// Tiers returns every tier in precedence order (fastest first).
func (m *Manager) Tiers() []*StorageTier {
	out := make([]*StorageTier, 0, len(m.tierOrder))
	for _, alias := range m.tierOrder {
		out = append(out, m.tiersByAlias[alias])
	}
	return out
}

// GetTier looks up a tier by alias.
func (m *Manager) GetTier(alias TierAlias) (*StorageTier, error) {
	t, ok := m.tiersByAlias[alias]
	if !ok {
		return nil, blockerr.NotFoundf("no tier %s found", alias)
	}
	return t, nil
}

// NextTier returns the tier immediately below alias in precedence (i.e.
// slower/colder), or NotFound if alias is already the bottom tier.
func (m *Manager) NextTier(alias TierAlias) (*StorageTier, error) {
	for i, a := range m.tierOrder {
		if a == alias {
			if i+1 >= len(m.tierOrder) {
				return nil, blockerr.NotFoundf("tier %s has no lower tier", alias)
			}
			return m.tiersByAlias[m.tierOrder[i+1]], nil
		}
	}
	return nil, blockerr.NotFoundf("no tier %s found", alias)
}

// IsBottomTier reports whether alias is the last (coldest) configured tier.
func (m *Manager) IsBottomTier(alias TierAlias) bool {
	return len(m.tierOrder) > 0 && m.tierOrder[len(m.tierOrder)-1] == alias
}

// HasBlockMeta reports whether blockID is committed anywhere.
func (m *Manager) HasBlockMeta(blockID uint64) bool {
	_, ok := m.committedIndex[blockID]
	return ok
}

// HasTempBlockMeta reports whether blockID is a temp block anywhere.
func (m *Manager) HasTempBlockMeta(blockID uint64) bool {
	_, ok := m.tempIndex[blockID]
	return ok
}

// GetBlockMeta returns the committed block's metadata, or NotFound.
func (m *Manager) GetBlockMeta(blockID uint64) (*BlockMeta, error) {
	dir, ok := m.committedIndex[blockID]
	if !ok {
		return nil, blockerr.NotFoundf("no blockId %d found", blockID).WithBlockID(blockID)
	}
	return dir.GetBlockMeta(blockID)
}

// GetTempBlockMeta returns the temp block's metadata, or NotFound.
func (m *Manager) GetTempBlockMeta(blockID uint64) (*TempBlockMeta, error) {
	dir, ok := m.tempIndex[blockID]
	if !ok {
		return nil, blockerr.NotFoundf("temp blockId %d not found", blockID).WithBlockID(blockID)
	}
	return dir.GetTempBlockMeta(blockID)
}

// AddTempBlockMeta records a new temp block and updates the flat index.
// Fails AlreadyExists if blockID is already known anywhere.
func (m *Manager) AddTempBlockMeta(t *TempBlockMeta) error {
	if m.HasBlockMeta(t.BlockID) || m.HasTempBlockMeta(t.BlockID) {
		return blockerr.AlreadyExistsf("blockId %d already exists", t.BlockID).WithBlockID(t.BlockID)
	}
	if err := t.Dir.AddTempBlockMeta(t); err != nil {
		return err
	}
	m.tempIndex[t.BlockID] = t.Dir
	return nil
}

// CommitTempBlock removes the temp record for t.BlockID and inserts a
// BlockMeta of the same final size in the same dir. Fails AlreadyExists if
// blockID is already committed.
func (m *Manager) CommitTempBlock(t *TempBlockMeta) error {
	if m.HasBlockMeta(t.BlockID) {
		return blockerr.AlreadyExistsf("blockId %d is committed", t.BlockID).WithBlockID(t.BlockID)
	}
	if err := t.Dir.RemoveTempBlockMeta(t.BlockID); err != nil {
		return err
	}
	committed := t.toBlockMeta()
	if err := t.Dir.AddBlockMeta(committed); err != nil {
		// best-effort rollback: put the temp reservation back
		_ = t.Dir.AddTempBlockMeta(t)
		return err
	}
	delete(m.tempIndex, t.BlockID)
	m.committedIndex[t.BlockID] = t.Dir
	return nil
}

// AbortTempBlock removes the temp record for t.BlockID.
func (m *Manager) AbortTempBlock(t *TempBlockMeta) error {
	if err := t.Dir.RemoveTempBlockMeta(t.BlockID); err != nil {
		return err
	}
	delete(m.tempIndex, t.BlockID)
	return nil
}

// RemoveBlockMeta deletes a committed block's metadata entirely.
func (m *Manager) RemoveBlockMeta(b *BlockMeta) error {
	if err := b.Dir.RemoveBlockMeta(b.BlockID); err != nil {
		return err
	}
	delete(m.committedIndex, b.BlockID)
	return nil
}

// MoveBlockMeta removes b from its current dir and inserts it into newDir.
// Both steps must succeed for the move to commit; if the insert fails, the
// removal is rolled back.
func (m *Manager) MoveBlockMeta(b *BlockMeta, newDir *StorageDir) error {
	oldDir := b.Dir
	if err := oldDir.RemoveBlockMeta(b.BlockID); err != nil {
		return err
	}
	moved := &BlockMeta{BlockID: b.BlockID, Size: b.Size, Dir: newDir}
	if err := newDir.AddBlockMeta(moved); err != nil {
		_ = oldDir.AddBlockMeta(b)
		return err
	}
	m.committedIndex[b.BlockID] = newDir
	b.Dir = newDir
	return nil
}

// GetAvailableBytes sums available capacity across every dir in loc.
func (m *Manager) GetAvailableBytes(loc Location) (int64, error) {
	dirs, err := m.dirsIn(loc)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, d := range dirs {
		total += d.AvailableBytes()
	}
	return total, nil
}

// GetEligibleDir returns a dir in loc with at least bytes available, or
// NotFound if none qualifies. Among multiple eligible dirs, the one with
// the most available capacity is preferred, then lowest index, for a
// deterministic choice.
func (m *Manager) GetEligibleDir(loc Location, bytes int64) (*StorageDir, error) {
	dirs, err := m.dirsIn(loc)
	if err != nil {
		return nil, err
	}
	var best *StorageDir
	for _, d := range dirs {
		if d.AvailableBytes() < bytes {
			continue
		}
		if best == nil ||
			d.AvailableBytes() > best.AvailableBytes() ||
			(d.AvailableBytes() == best.AvailableBytes() && d.Index < best.Index) {
			best = d
		}
	}
	if best == nil {
		return nil, blockerr.NotFoundf("no dir in %s has %d bytes available", loc, bytes)
	}
	return best, nil
}

func (m *Manager) dirsIn(loc Location) ([]*StorageDir, error) {
	tier, err := m.GetTier(loc.Tier)
	if err != nil {
		return nil, err
	}
	return tier.DirsIn(loc)
}

// StoreSnapshot is the pure view of the whole store's metadata handed to
// the evictor and exposed upward as GetBlockStoreMeta().
type StoreSnapshot struct {
	Tiers []TierSnapshot
}

// TierSnapshot is the per-tier portion of a StoreSnapshot.
type TierSnapshot struct {
	Alias TierAlias
	Dirs  []DirSnapshot
}

// GetBlockStoreMeta returns a snapshot of per-dir capacities and block
// lists, in tier precedence order, for evictor consumption and upward
// diagnostics.
func (m *Manager) GetBlockStoreMeta() StoreSnapshot {
	snap := StoreSnapshot{}
	for _, alias := range m.tierOrder {
		tier := m.tiersByAlias[alias]
		ts := TierSnapshot{Alias: alias}
		for _, d := range tier.Dirs() {
			ts.Dirs = append(ts.Dirs, d.snapshot())
		}
		snap.Tiers = append(snap.Tiers, ts)
	}
	return snap
}

// IndexCommitted registers blockID in the flat committed index, pointing
// at dir. Used by the startup disk scan, which populates StorageDir maps
// directly (it already has the file size in hand) and then needs the
// manager's O(1) lookup index to catch up.
func (m *Manager) IndexCommitted(blockID uint64, dir *StorageDir) {
	m.committedIndex[blockID] = dir
}

// AllTempBlockIDsForSession returns every temp blockID owned by sessionID,
// across all dirs. Used by session cleanup.
func (m *Manager) AllTempBlockIDsForSession(sessionID uint64) []uint64 {
	var ids []uint64
	for blockID, dir := range m.tempIndex {
		t, err := dir.GetTempBlockMeta(blockID)
		if err == nil && t.OwnerSessionID == sessionID {
			ids = append(ids, blockID)
		}
	}
	return ids
}

// AllBlockIDs returns every committed blockID known to the manager, sorted
// ascending. Used by cleanup/diagnostic paths; not on any hot path.
func (m *Manager) AllBlockIDs() []uint64 {
	ids := make([]uint64, 0, len(m.committedIndex))
	for id := range m.committedIndex {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
