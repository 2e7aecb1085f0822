package meta

// BlockMeta identifies a committed block: immutable once written, fixed
// size, owned by exactly one StorageDir.
type BlockMeta struct {
	BlockID uint64
	Size    int64
	Dir     *StorageDir
}

// TempBlockMeta identifies an uncommitted block. Size grows monotonically
// via StorageDir.ResizeTempBlockMeta until the owning session commits or
// aborts it. OwnerSessionID never changes once set.
type TempBlockMeta struct {
	BlockID        uint64
	OwnerSessionID uint64
	Size           int64
	Dir            *StorageDir
}

// toBlockMeta converts a committed temp block reservation into the
// BlockMeta recorded for the same blockID and dir once a commit lands.
func (t *TempBlockMeta) toBlockMeta() *BlockMeta {
	return &BlockMeta{BlockID: t.BlockID, Size: t.Size, Dir: t.Dir}
}
