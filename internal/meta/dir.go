package meta

import (
	"github.com/kestrelfs/blockstored/internal/blockerr"
)

// StorageDir is one filesystem directory with a fixed capacity. It tracks
// the committed and temp blocks residing in it and enforces capacity
// accounting: AvailableBytes == CapacityBytes - sum(committed sizes) -
// sum(temp reservations), always >= 0.
//
// StorageDir carries no lock of its own: per the façade's concurrency
// model, it is mutated only while the caller holds the exclusive
// metadataLock (by BlockMetadataManager, and directly by the façade's
// RequestSpace and startup scan), which is what makes every method here
// safe despite the lack of internal synchronization.
type StorageDir struct {
	Tier          TierAlias
	Index         int
	RootPath      string
	CapacityBytes int64

	availableBytes int64
	committed      map[uint64]*BlockMeta
	temp           map[uint64]*TempBlockMeta
}

// NewStorageDir constructs an empty dir with the given capacity.
func NewStorageDir(tier TierAlias, index int, rootPath string, capacityBytes int64) *StorageDir {
	return &StorageDir{
		Tier:           tier,
		Index:          index,
		RootPath:       rootPath,
		CapacityBytes:  capacityBytes,
		availableBytes: capacityBytes,
		committed:      make(map[uint64]*BlockMeta),
		temp:           make(map[uint64]*TempBlockMeta),
	}
}

// Location returns the BlockStoreLocation naming exactly this dir.
func (d *StorageDir) Location() Location {
	return Location{Tier: d.Tier, Dir: d.Index}
}

// AvailableBytes returns the dir's current free capacity.
func (d *StorageDir) AvailableBytes() int64 {
	return d.availableBytes
}

// HasBlockMeta reports whether blockID is committed in this dir.
func (d *StorageDir) HasBlockMeta(blockID uint64) bool {
	_, ok := d.committed[blockID]
	return ok
}

// HasTempBlockMeta reports whether blockID is a temp block in this dir.
func (d *StorageDir) HasTempBlockMeta(blockID uint64) bool {
	_, ok := d.temp[blockID]
	return ok
}

// GetBlockMeta returns the committed block's metadata, or NotFound.
func (d *StorageDir) GetBlockMeta(blockID uint64) (*BlockMeta, error) {
	m, ok := d.committed[blockID]
	if !ok {
		return nil, blockerr.NotFoundf("no committed blockId %d found in dir %s", blockID, d.Location()).WithBlockID(blockID)
	}
	return m, nil
}

// GetTempBlockMeta returns the temp block's metadata, or NotFound.
func (d *StorageDir) GetTempBlockMeta(blockID uint64) (*TempBlockMeta, error) {
	m, ok := d.temp[blockID]
	if !ok {
		return nil, blockerr.NotFoundf("no temp blockId %d found in dir %s", blockID, d.Location()).WithBlockID(blockID)
	}
	return m, nil
}

// AddBlockMeta records a newly committed block, decrementing available
// capacity by its size. Fails AlreadyExists if blockID is already
// committed here.
func (d *StorageDir) AddBlockMeta(m *BlockMeta) error {
	if _, ok := d.committed[m.BlockID]; ok {
		return blockerr.AlreadyExistsf("blockId %d already committed in dir %s", m.BlockID, d.Location()).WithBlockID(m.BlockID)
	}
	d.committed[m.BlockID] = m
	d.availableBytes -= m.Size
	return nil
}

// RemoveBlockMeta deletes a committed block's metadata, restoring its size
// to available capacity. Fails NotFound if absent.
func (d *StorageDir) RemoveBlockMeta(blockID uint64) error {
	m, ok := d.committed[blockID]
	if !ok {
		return blockerr.NotFoundf("no committed blockId %d found in dir %s", blockID, d.Location()).WithBlockID(blockID)
	}
	delete(d.committed, blockID)
	d.availableBytes += m.Size
	return nil
}

// AddTempBlockMeta records a new temp block reservation, decrementing
// available capacity by its current size. Fails AlreadyExists if blockID
// is already known (temp or committed) here.
func (d *StorageDir) AddTempBlockMeta(m *TempBlockMeta) error {
	if _, ok := d.temp[m.BlockID]; ok {
		return blockerr.AlreadyExistsf("temp blockId %d already exists in dir %s", m.BlockID, d.Location()).WithBlockID(m.BlockID)
	}
	if _, ok := d.committed[m.BlockID]; ok {
		return blockerr.AlreadyExistsf("blockId %d is committed in dir %s", m.BlockID, d.Location()).WithBlockID(m.BlockID)
	}
	d.temp[m.BlockID] = m
	d.availableBytes -= m.Size
	return nil
}

// RemoveTempBlockMeta deletes a temp block's reservation, restoring its
// current size to available capacity. Fails NotFound if absent.
func (d *StorageDir) RemoveTempBlockMeta(blockID uint64) error {
	m, ok := d.temp[blockID]
	if !ok {
		return blockerr.NotFoundf("no temp blockId %d found in dir %s", blockID, d.Location()).WithBlockID(blockID)
	}
	delete(d.temp, blockID)
	d.availableBytes += m.Size
	return nil
}

// ResizeTempBlockMeta grows a temp block's reservation to newSize, which
// must be >= its current size. Fails OutOfSpace if the delta exceeds
// available capacity, NotFound if the temp block is unknown.
func (d *StorageDir) ResizeTempBlockMeta(blockID uint64, newSize int64) error {
	m, ok := d.temp[blockID]
	if !ok {
		return blockerr.NotFoundf("no temp blockId %d found in dir %s", blockID, d.Location()).WithBlockID(blockID)
	}
	delta := newSize - m.Size
	if delta < 0 {
		return blockerr.InvalidStatef("newSize %d is smaller than current size %d for temp blockId %d", newSize, m.Size, blockID).WithBlockID(blockID)
	}
	if delta > d.availableBytes {
		return blockerr.OutOfSpacef("dir %s has %d bytes available, needs %d more for temp blockId %d", d.Location(), d.availableBytes, delta, blockID).WithBlockID(blockID)
	}
	m.Size = newSize
	d.availableBytes -= delta
	return nil
}

// snapshot returns an immutable-enough view of this dir's contents for the
// evictor: no pointers into the live maps are retained by the caller beyond
// reading slice contents.
func (d *StorageDir) snapshot() DirSnapshot {
	committed := make([]BlockMeta, 0, len(d.committed))
	for _, m := range d.committed {
		committed = append(committed, *m)
	}
	return DirSnapshot{
		Location:       d.Location(),
		CapacityBytes:  d.CapacityBytes,
		AvailableBytes: d.availableBytes,
		Committed:      committed,
	}
}

// DirSnapshot is the pure, I/O-free view of a dir's contents passed to the
// evictor. It must never be mutated by evictor code; it is a value copy.
type DirSnapshot struct {
	Location       Location
	CapacityBytes  int64
	AvailableBytes int64
	Committed      []BlockMeta
}
