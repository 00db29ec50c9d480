package acfs

// Stats is a point-in-time snapshot of filesystem geometry and
// occupancy, as returned by GetStats.
type Stats struct {
	ClusterSize       uint16
	TotalClusters     uint16
	SysClusters       uint16
	FreeClusters      uint16
	LiveEntries       uint16
	DirectoryCapacity int
}

// GetStats snapshots the current superblock counters and directory size.
func (fs *FileSystem) GetStats() (Stats, error) {
	if err := fs.requireMounted(); err != nil {
		return Stats{}, err
	}
	return Stats{
		ClusterSize:       fs.cfg.ClusterSize,
		TotalClusters:      fs.sb.totalClusters,
		SysClusters:       fs.sb.sysClusters,
		FreeClusters:      fs.bitmap.freeCount(),
		LiveEntries:       uint16(len(fs.entries)),
		DirectoryCapacity: fs.capacity,
	}, nil
}

// EntryInfo describes one live entry, as returned by List.
type EntryInfo struct {
	ID           string
	Size         uint32
	ClusterCount int
}

// List returns every live entry's id, size, and cluster count, in
// directory order.
func (fs *FileSystem) List() ([]EntryInfo, error) {
	if err := fs.requireMounted(); err != nil {
		return nil, err
	}
	out := make([]EntryInfo, len(fs.entries))
	for i, e := range fs.entries {
		out[i] = EntryInfo{ID: e.dataID, Size: e.dataSize, ClusterCount: len(e.clusterList)}
	}
	return out, nil
}

// Fragmentation reports the fraction of allocated clusters that sit in a
// cluster list discontinuous from its predecessor: 0 means every live
// entry's clusters are contiguous, higher values mean more entries are
// split across non-adjacent runs. It is a diagnostic for deciding whether
// to call Defragment, not a value the engine acts on itself.
func (fs *FileSystem) Fragmentation() (float64, error) {
	if err := fs.requireMounted(); err != nil {
		return 0, err
	}
	var used, extents, liveWithData int
	for _, e := range fs.entries {
		if len(e.clusterList) == 0 {
			continue
		}
		liveWithData++
		used += len(e.clusterList)
		extents++
		for i := 1; i < len(e.clusterList); i++ {
			if e.clusterList[i] != e.clusterList[i-1]+1 {
				extents++
			}
		}
	}
	if used == 0 {
		return 0, nil
	}
	return float64(extents-liveWithData) / float64(used), nil
}
