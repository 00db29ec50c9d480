package acfs

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Write stores data under id, creating a new entry or overwriting an
// existing one (spec §4.E "Write"). If id already names a live entry
// whose current cluster count differs from the new data's, Write
// allocates the replacement cluster list before freeing the old one
// (spec §9 Open Question 1): a failed allocation leaves the existing
// entry, and its data, completely untouched.
func (fs *FileSystem) Write(id string, data []byte) error {
	if err := fs.requireMounted(); err != nil {
		return err
	}
	if err := validateID(id); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty data", ErrInvalidParam)
	}
	k := clustersNeeded(len(data), fs.cfg.ClusterSize)
	if k > kMax {
		return fmt.Errorf("%w: data requires %d clusters, exceeds maximum %d", ErrInvalidParam, k, kMax)
	}
	checksum := crc32Checksum(data)

	if idx := fs.indexOf(id); idx >= 0 {
		existing := fs.entries[idx]
		list := existing.clusterList
		if len(list) != k {
			newList, err := fs.bitmap.allocate(fs.sb.sysClusters, k)
			if err != nil {
				return err
			}
			if err := fs.writeData(newList, data); err != nil {
				fs.bitmap.free(newList)
				return err
			}
			fs.bitmap.free(list)
			list = newList
		} else if err := fs.writeData(list, data); err != nil {
			return err
		}
		existing.dataSize = uint32(len(data))
		existing.clusterList = list
		existing.crc32 = checksum
		existing.isValid = true
		if err := fs.persistDirectory(); err != nil {
			return err
		}
		fs.cfg.Logger.WithFields(logrus.Fields{"id": id, "size": len(data), "clusters": k}).Debug("acfs: overwrote entry")
		return nil
	}

	if len(fs.entries) >= fs.capacity {
		return ErrClusterFull
	}
	list, err := fs.bitmap.allocate(fs.sb.sysClusters, k)
	if err != nil {
		return err
	}
	if err := fs.writeData(list, data); err != nil {
		fs.bitmap.free(list)
		return err
	}
	fs.entries = append(fs.entries, &directoryEntry{
		dataID:      id,
		dataSize:    uint32(len(data)),
		clusterList: list,
		crc32:       checksum,
		isValid:     true,
	})
	if err := fs.persistDirectory(); err != nil {
		return err
	}
	fs.cfg.Logger.WithFields(logrus.Fields{"id": id, "size": len(data), "clusters": k}).Debug("acfs: wrote new entry")
	return nil
}

// writeData pads data to a whole number of clusters and writes it across
// list. The padding bytes beyond len(data) are zero; spec §9 treats them
// as don't-care, and zero is the simplest value that satisfies that.
func (fs *FileSystem) writeData(list []uint16, data []byte) error {
	s := int(fs.cfg.ClusterSize)
	buf := make([]byte, len(list)*s)
	copy(buf, data)
	return fs.writeClusters(list, buf)
}

// Read copies id's stored blob into buf and returns its length. buf must
// be at least as long as the stored size, which the caller can learn
// from GetSize or from a returned *ErrShortBuffer's Required field (spec
// §9 Open Question 2: the advertised contract is buf_len >= data_size,
// not buf_len >= K*S). Read stages the final, possibly partial cluster
// through a one-cluster scratch buffer so the caller's buffer never needs
// to be cluster-aligned.
func (fs *FileSystem) Read(id string, buf []byte) (int, error) {
	if err := fs.requireMounted(); err != nil {
		return 0, err
	}
	idx := fs.indexOf(id)
	if idx < 0 {
		return 0, ErrDataNotFound
	}
	e := fs.entries[idx]
	if len(buf) < int(e.dataSize) {
		return 0, &ErrShortBuffer{Required: int(e.dataSize)}
	}

	s := int(fs.cfg.ClusterSize)
	k := len(e.clusterList)
	full := k - 1
	if full > 0 {
		if err := fs.readClusters(e.clusterList[:full], buf[:full*s]); err != nil {
			return 0, err
		}
	}
	if k > 0 {
		last := e.clusterList[k-1]
		if err := fs.readClusters([]uint16{last}, fs.scratch); err != nil {
			return 0, err
		}
		remaining := int(e.dataSize) - full*s
		copy(buf[full*s:int(e.dataSize)], fs.scratch[:remaining])
	}

	if crc32Checksum(buf[:e.dataSize]) != e.crc32 {
		return 0, fmt.Errorf("%w: id %q", ErrCrcMismatch, id)
	}
	return int(e.dataSize), nil
}

// Delete removes id's entry and returns its clusters to the free pool.
func (fs *FileSystem) Delete(id string) error {
	if err := fs.requireMounted(); err != nil {
		return err
	}
	idx := fs.indexOf(id)
	if idx < 0 {
		return ErrDataNotFound
	}
	fs.bitmap.free(fs.entries[idx].clusterList)
	fs.entries = append(fs.entries[:idx], fs.entries[idx+1:]...)
	if err := fs.persistDirectory(); err != nil {
		return err
	}
	if err := fs.zeroEntrySlot(len(fs.entries)); err != nil {
		return err
	}
	fs.cfg.Logger.WithField("id", id).Debug("acfs: deleted entry")
	return nil
}

// Rename changes a live entry's id in place, without touching its data
// or cluster list.
func (fs *FileSystem) Rename(oldID, newID string) error {
	if err := fs.requireMounted(); err != nil {
		return err
	}
	if err := validateID(newID); err != nil {
		return err
	}
	if fs.indexOf(oldID) < 0 {
		return ErrDataNotFound
	}
	if fs.indexOf(newID) >= 0 {
		return fmt.Errorf("%w: data_id %q already exists", ErrInvalidParam, newID)
	}
	fs.entries[fs.indexOf(oldID)].dataID = newID
	if err := fs.persistDirectory(); err != nil {
		return err
	}
	fs.cfg.Logger.WithFields(logrus.Fields{"old_id": oldID, "new_id": newID}).Debug("acfs: renamed entry")
	return nil
}

// Exists reports whether id names a live entry. It returns false, never
// an error, when the filesystem is not mounted.
func (fs *FileSystem) Exists(id string) bool {
	if !fs.mounted {
		return false
	}
	return fs.indexOf(id) >= 0
}

// GetSize returns id's stored blob length.
func (fs *FileSystem) GetSize(id string) (uint32, error) {
	if err := fs.requireMounted(); err != nil {
		return 0, err
	}
	idx := fs.indexOf(id)
	if idx < 0 {
		return 0, ErrDataNotFound
	}
	return fs.entries[idx].dataSize, nil
}

// GetFreeSpace returns the number of bytes available across all free
// clusters.
func (fs *FileSystem) GetFreeSpace() (uint32, error) {
	if err := fs.requireMounted(); err != nil {
		return 0, err
	}
	return uint32(fs.bitmap.freeCount()) * uint32(fs.cfg.ClusterSize), nil
}

// CheckIntegrity reads every live entry and verifies its CRC, returning
// ErrDataCorrupted (wrapped with the offending id) on the first mismatch.
// It does not repair or invalidate the entry; that decision is left to
// the caller.
func (fs *FileSystem) CheckIntegrity() error {
	if err := fs.requireMounted(); err != nil {
		return err
	}
	for _, e := range fs.entries {
		buf := make([]byte, e.dataSize)
		_, err := fs.Read(e.dataID, buf)
		if errors.Is(err, ErrCrcMismatch) {
			fs.cfg.Logger.WithField("id", e.dataID).Warn("acfs: integrity check failed")
			return fmt.Errorf("%w: id %q", ErrDataCorrupted, e.dataID)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
