package acfs

import "fmt"

// Defragment repacks every live entry's data into a single contiguous
// run of clusters starting at the first non-reserved cluster, in
// directory order, closing every gap left by deletions and every
// mid-file split left by a rewrite that changed cluster count. Crash
// safety during defragmentation is out of scope (spec's Non-goals
// exclude crash-atomic journaling); a power loss mid-defragment can
// leave the directory referencing data that has already moved.
func (fs *FileSystem) Defragment() error {
	if err := fs.requireMounted(); err != nil {
		return err
	}

	type pending struct {
		entry *directoryEntry
		data  []byte
	}
	staged := make([]pending, 0, len(fs.entries))
	for _, e := range fs.entries {
		buf := make([]byte, len(e.clusterList)*int(fs.cfg.ClusterSize))
		if err := fs.readClusters(e.clusterList, buf); err != nil {
			return err
		}
		staged = append(staged, pending{entry: e, data: buf})
	}

	fresh := newClusterBitmap(fs.sb.totalClusters)
	if err := fresh.rebuild(fs.sb.sysClusters, nil); err != nil {
		return err
	}

	for _, p := range staged {
		list, err := fresh.allocate(fs.sb.sysClusters, len(p.entry.clusterList))
		if err != nil {
			return fmt.Errorf("%w: defragment could not reallocate %q", err, p.entry.dataID)
		}
		if err := fs.writeClusters(list, p.data); err != nil {
			return err
		}
		p.entry.clusterList = list
	}

	fs.bitmap = fresh
	if err := fs.persistDirectory(); err != nil {
		return err
	}
	fs.cfg.Logger.Debug("acfs: defragmented filesystem")
	return nil
}
