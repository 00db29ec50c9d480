package acfs

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// clusterBitmap owns the in-memory free-cluster bitmap: bit i set iff
// cluster i is in use (spec §4.D). It is built on
// github.com/bits-and-blooms/bitset — the same library the teacher uses
// for its ext4 block/inode bitmaps — rather than a hand-rolled byte
// array.
type clusterBitmap struct {
	bits *bitset.BitSet
	n    uint16 // total clusters, i.e. the bitmap's logical length
}

func newClusterBitmap(n uint16) *clusterBitmap {
	return &clusterBitmap{bits: bitset.New(uint(n)), n: n}
}

// rebuild zeroes the bitmap, marks the reserved clusters [0, r) used, and
// marks every cluster referenced by a live entry's cluster list. It
// establishes invariant 3 (every live cluster_list index lies in [R, N)
// and all live lists are pairwise disjoint) at mount time; a duplicate or
// out-of-range cluster reference is reported as filesystem corruption.
func (c *clusterBitmap) rebuild(r uint16, entries []*directoryEntry) error {
	c.bits.ClearAll()
	for i := uint16(0); i < r; i++ {
		c.bits.Set(uint(i))
	}
	for _, e := range entries {
		if !e.isValid {
			continue
		}
		for _, cl := range e.clusterList {
			if cl < r || cl >= c.n {
				return fmt.Errorf("%w: entry %q references out-of-range cluster %d", ErrInvalidFilesystem, e.dataID, cl)
			}
			if c.bits.Test(uint(cl)) {
				return fmt.Errorf("%w: cluster %d claimed by more than one entry", ErrInvalidFilesystem, cl)
			}
			c.bits.Set(uint(cl))
		}
	}
	return nil
}

// allocate scans forward from cluster r (the first non-reserved cluster)
// and returns the first k clear cluster indices in ascending order,
// marking them used. If fewer than k are free, it rolls back anything it
// set and returns ErrNoSpace; the bitmap is left unchanged on failure.
func (c *clusterBitmap) allocate(r uint16, k int) ([]uint16, error) {
	if k == 0 {
		return nil, nil
	}
	list := make([]uint16, 0, k)
	for i := uint(r); i < uint(c.n) && len(list) < k; i++ {
		if !c.bits.Test(i) {
			list = append(list, uint16(i))
		}
	}
	if len(list) < k {
		return nil, ErrNoSpace
	}
	for _, cl := range list {
		c.bits.Set(uint(cl))
	}
	return list, nil
}

// free clears every bit in list. Every bit is expected to already be set;
// callers must not pass a cluster twice in overlapping free() calls.
func (c *clusterBitmap) free(list []uint16) {
	for _, cl := range list {
		c.bits.Clear(uint(cl))
	}
}

// freeCount returns the number of clear bits, i.e. spec's F.
func (c *clusterBitmap) freeCount() uint16 {
	return c.n - uint16(c.bits.Count())
}
