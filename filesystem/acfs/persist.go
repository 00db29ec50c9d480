package acfs

import "fmt"

// eraseRange erases [addr, addr+n) on media that require it (spec §4.A /
// §6.1: "the core must therefore erase before rewriting on such media"),
// rounding out to the device's erase block granularity since Erase
// itself rejects a misaligned range. It is a no-op on media where
// Device().NeedErase is false.
func (fs *FileSystem) eraseRange(addr, n uint32) error {
	if !fs.device.NeedErase {
		return nil
	}
	ebs := fs.device.EraseBlockSize
	if ebs == 0 {
		return fmt.Errorf("%w: erase-required medium has EraseBlockSize 0", ErrInvalidParam)
	}
	alignedAddr := addr - addr%ebs
	end := addr + n
	if rem := end % ebs; rem != 0 {
		end += ebs - rem
	}
	if err := fs.med.Erase(alignedAddr, end-alignedAddr); err != nil {
		return fmt.Errorf("%w: erasing before write at %d: %v", ErrIO, addr, err)
	}
	return nil
}

// persistSuperblock writes the current in-memory superblock to the start
// of the reserved region, recomputing its CRC (spec invariant 8). On
// erase-required media it first erases the entire reserved region (the
// superblock plus every directory record and cluster-list slot): the
// superblock and directory are always rewritten together by
// persistDirectory, so a single bulk erase here covers persistEntry's
// writes too without each one needing (and possibly misaligning) its own.
func (fs *FileSystem) persistSuperblock() error {
	reservedBytes := uint32(fs.sb.sysClusters) * uint32(fs.sb.clusterSize)
	if err := fs.eraseRange(fs.device.StartAddr, reservedBytes); err != nil {
		return err
	}
	if err := fs.med.WriteAt(fs.device.StartAddr, fs.sb.toBytes()); err != nil {
		return fmt.Errorf("%w: writing superblock: %v", ErrIO, err)
	}
	return nil
}

// persistEntry writes one directory entry's record and cluster-list slot
// at index i. It relies on persistSuperblock having already erased the
// reserved region earlier in the same persistDirectory call; it does not
// erase on its own.
func (fs *FileSystem) persistEntry(i int, e *directoryEntry) error {
	record, err := e.toBytes()
	if err != nil {
		return err
	}
	if err := fs.med.WriteAt(fs.device.StartAddr+entryRecordOffset(i), record); err != nil {
		return fmt.Errorf("%w: writing entry record %d: %v", ErrIO, i, err)
	}
	slot, err := clusterListToBytes(e.clusterList)
	if err != nil {
		return err
	}
	if err := fs.med.WriteAt(fs.device.StartAddr+clusterListSlotOffset(fs.capacity, i), slot); err != nil {
		return fmt.Errorf("%w: writing cluster-list slot %d: %v", ErrIO, i, err)
	}
	return nil
}

// zeroEntrySlot blanks the directory record and cluster-list slot at
// index i, the slot vacated by a delete (spec §4.E Delete). It relies on
// the bulk erase already performed by the persistDirectory call that
// preceded it, the same as persistEntry.
func (fs *FileSystem) zeroEntrySlot(i int) error {
	if i >= fs.capacity {
		return nil
	}
	if err := fs.med.WriteAt(fs.device.StartAddr+entryRecordOffset(i), make([]byte, entryRecordSize)); err != nil {
		return fmt.Errorf("%w: zeroing vacated entry slot %d: %v", ErrIO, i, err)
	}
	if err := fs.med.WriteAt(fs.device.StartAddr+clusterListSlotOffset(fs.capacity, i), make([]byte, clusterListSlotSize)); err != nil {
		return fmt.Errorf("%w: zeroing vacated cluster-list slot %d: %v", ErrIO, i, err)
	}
	return nil
}

// persistDirectory writes the superblock and every live entry. It is
// invoked after Write/Delete/Rename mutate the directory; there is no
// incremental persistence below this granularity (spec §4.E treats the
// superblock and directory as updated together on every mutation).
func (fs *FileSystem) persistDirectory() error {
	fs.sb.dataEntries = uint16(len(fs.entries))
	fs.sb.freeClusters = fs.bitmap.freeCount()
	if err := fs.persistSuperblock(); err != nil {
		return err
	}
	for i, e := range fs.entries {
		if err := fs.persistEntry(i, e); err != nil {
			return err
		}
	}
	return nil
}

// readClusters reads the k clusters of list into dst, which must already
// be sized to exactly len(list)*S bytes.
func (fs *FileSystem) readClusters(list []uint16, dst []byte) error {
	s := int(fs.cfg.ClusterSize)
	for i, cl := range list {
		off := fs.device.StartAddr + uint32(cl)*uint32(s)
		if err := fs.med.ReadAt(off, dst[i*s:(i+1)*s]); err != nil {
			return fmt.Errorf("%w: reading cluster %d: %v", ErrIO, cl, err)
		}
	}
	return nil
}

// writeClusters writes src, whose length must equal len(list)*S, across
// list's clusters in order, erasing each cluster first on media that
// require it.
func (fs *FileSystem) writeClusters(list []uint16, src []byte) error {
	s := int(fs.cfg.ClusterSize)
	for i, cl := range list {
		off := fs.device.StartAddr + uint32(cl)*uint32(s)
		if err := fs.eraseRange(off, uint32(s)); err != nil {
			return err
		}
		if err := fs.med.WriteAt(off, src[i*s:(i+1)*s]); err != nil {
			return fmt.Errorf("%w: writing cluster %d: %v", ErrIO, cl, err)
		}
	}
	return nil
}
