package meta

import "github.com/kestrelfs/blockstored/internal/blockerr"

// StorageTier is an ordered collection of dirs at one tier level.
type StorageTier struct {
	Alias TierAlias
	dirs  []*StorageDir
}

// NewStorageTier constructs a tier from already-built dirs, in order.
func NewStorageTier(alias TierAlias, dirs []*StorageDir) *StorageTier {
	return &StorageTier{Alias: alias, dirs: dirs}
}

// Dirs returns the tier's dirs in order.
func (t *StorageTier) Dirs() []*StorageDir {
	return t.dirs
}

// Dir looks up a dir by index. Fails NotFound if out of range.
func (t *StorageTier) Dir(index int) (*StorageDir, error) {
	if index < 0 || index >= len(t.dirs) {
		return nil, blockerr.NotFoundf("no dir at index %d in tier %s", index, t.Alias)
	}
	return t.dirs[index], nil
}

// DirsIn resolves a Location against this tier: AnyDir yields every dir,
// otherwise the single named dir.
func (t *StorageTier) DirsIn(loc Location) ([]*StorageDir, error) {
	if loc.Tier != t.Alias {
		return nil, blockerr.InvalidStatef("location %s does not name tier %s", loc, t.Alias)
	}
	if loc.Dir == AnyDir {
		return t.dirs, nil
	}
	d, err := t.Dir(loc.Dir)
	if err != nil {
		return nil, err
	}
	return []*StorageDir{d}, nil
}
