// Package acfs implements the cluster-based storage engine: a named,
// variable-size blob store laid out over a raw medium.Medium, with
// integrity checks on both the filesystem metadata and each stored blob.
//
// A FileSystem is not safe for concurrent use. The engine is strictly
// single-threaded and every operation is synchronous; the only
// collaborator it blocks on is the underlying medium.Medium.
package acfs

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ivarsson/acfs/medium"
)

// FileSystem is the mounted engine: in-memory superblock, dense
// directory, free-cluster bitmap, and a scratch buffer sized to one
// cluster. It is the component E "Engine" of the design.
type FileSystem struct {
	med    medium.Medium
	device medium.Device
	cfg    Config

	sb      *superblock
	entries []*directoryEntry // dense, length == live entry count E
	bitmap  *clusterBitmap
	scratch []byte // one cluster's worth, reused across reads/writes

	capacity int // M, directory capacity
	mounted  bool
}

// Format lays out a fresh, empty filesystem on med and returns it
// mounted. clusterSize must be a power of two in [64, 4096] or
// ErrInvalidParam is returned.
func Format(med medium.Medium, clusterSize uint16, opts ...Option) (*FileSystem, error) {
	cfg := newConfig(clusterSize, opts...)
	fs := &FileSystem{med: med, device: med.Device(), cfg: cfg}
	if err := fs.format(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Mount reads an existing filesystem off med. If the on-medium
// superblock is missing, fails its CRC, or its stored cluster_size
// disagrees with clusterSize, Mount fails with ErrInvalidFilesystem
// unless WithFormatIfInvalid(true) was supplied, in which case it
// formats med with clusterSize and returns the fresh filesystem instead
// (spec §4.E "Mount (open)").
func Mount(med medium.Medium, clusterSize uint16, opts ...Option) (*FileSystem, error) {
	cfg := newConfig(clusterSize, opts...)
	fs := &FileSystem{med: med, device: med.Device(), cfg: cfg}
	if err := fs.mount(); err != nil {
		return nil, err
	}
	return fs, nil
}

func validateClusterSize(s uint16) error {
	if s < minClusterSize || s > maxClusterSize || !isPowerOfTwo(s) {
		return fmt.Errorf("%w: cluster size %d must be a power of two in [%d, %d]", ErrInvalidParam, s, minClusterSize, maxClusterSize)
	}
	return nil
}

func (fs *FileSystem) format() error {
	if fs.mounted {
		return ErrAlreadyInitialized
	}
	if err := validateClusterSize(fs.cfg.ClusterSize); err != nil {
		return err
	}
	s := fs.cfg.ClusterSize
	totalClusters := uint32(fs.device.Size) / uint32(s)
	if totalClusters > 0xFFFF {
		return fmt.Errorf("%w: medium holds %d clusters of size %d, exceeds 16-bit cluster index space", ErrInvalidParam, totalClusters, s)
	}
	n := uint16(totalClusters)

	r := fs.cfg.ReservedClusters
	if r == 0 {
		r = uint16(superblockSize+uint32(s)-1) / s
		if r < 2 {
			r = 2
		}
	}
	if r >= n {
		return fmt.Errorf("%w: reserved clusters %d must be less than total clusters %d", ErrInvalidParam, r, n)
	}

	m := directoryCapacity(uint32(r) * uint32(s))

	fs.sb = &superblock{
		magic:         magic,
		version:       version,
		clusterSize:   s,
		totalClusters: n,
		sysClusters:   r,
		dataEntries:   0,
		freeClusters:  n - r,
	}
	fs.entries = nil
	fs.bitmap = newClusterBitmap(n)
	fs.bitmap.rebuild(r, nil) // #nosec - rebuild of an empty directory cannot fail
	fs.scratch = make([]byte, s)
	fs.capacity = m
	fs.mounted = true

	// persistSuperblock erases the whole reserved region on media that
	// require it before writing the superblock record. The zero-fill
	// below only ever touches bytes that erase just freed and the
	// superblock record itself does not occupy, so it never needs its
	// own erase.
	if err := fs.persistSuperblock(); err != nil {
		return err
	}
	zero := make([]byte, s)
	for c := uint16(0); c < r; c++ {
		addr := fs.device.StartAddr + uint32(c)*uint32(s)
		start, length := addr, uint32(s)
		if c == 0 {
			start = addr + superblockSize
			length = uint32(s) - superblockSize
		}
		if err := fs.med.WriteAt(start, zero[:length]); err != nil {
			return fmt.Errorf("%w: zeroing reserved cluster %d: %v", ErrIO, c, err)
		}
	}

	fs.cfg.Logger.WithFields(logrus.Fields{
		"cluster_size":   s,
		"total_clusters": n,
		"sys_clusters":   r,
		"directory_cap":  m,
	}).Debug("acfs: formatted filesystem")
	return nil
}

func (fs *FileSystem) mount() error {
	if fs.mounted {
		return ErrAlreadyInitialized
	}
	if err := validateClusterSize(fs.cfg.ClusterSize); err != nil {
		return err
	}

	b := make([]byte, superblockSize)
	if err := fs.med.ReadAt(fs.device.StartAddr, b); err != nil {
		return fmt.Errorf("%w: reading superblock: %v", ErrIO, err)
	}

	sb, sbErr := superblockFromBytes(b, fs.cfg.EnableCRCCheck)
	geometryMismatch := sbErr == nil && sb.clusterSize != fs.cfg.ClusterSize
	if sbErr != nil || geometryMismatch {
		if !fs.cfg.FormatIfInvalid {
			if sbErr != nil {
				return sbErr
			}
			return fmt.Errorf("%w: on-medium cluster size %d does not match configured %d", ErrInvalidFilesystem, sb.clusterSize, fs.cfg.ClusterSize)
		}
		return fs.format()
	}

	r, s, n, e := sb.sysClusters, sb.clusterSize, sb.totalClusters, sb.dataEntries
	m := directoryCapacity(uint32(r) * uint32(s))
	if int(e) > m {
		return fmt.Errorf("%w: superblock claims %d entries but directory capacity is only %d", ErrInvalidFilesystem, e, m)
	}

	entries := make([]*directoryEntry, 0, e)
	recordBuf := make([]byte, entryRecordSize)
	slotBuf := make([]byte, clusterListSlotSize)
	for i := uint16(0); i < e; i++ {
		if err := fs.med.ReadAt(fs.device.StartAddr+entryRecordOffset(int(i)), recordBuf); err != nil {
			return fmt.Errorf("%w: reading entry record %d: %v", ErrIO, i, err)
		}
		entry, err := entryFromBytes(recordBuf)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidFilesystem, err)
		}
		if err := fs.med.ReadAt(fs.device.StartAddr+clusterListSlotOffset(m, int(i)), slotBuf); err != nil {
			return fmt.Errorf("%w: reading cluster-list slot %d: %v", ErrIO, i, err)
		}
		list, err := clusterListFromBytes(slotBuf, uint16(len(entry.clusterList)))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidFilesystem, err)
		}
		entry.clusterList = list
		entries = append(entries, entry)
	}

	bitmap := newClusterBitmap(n)
	if err := bitmap.rebuild(r, entries); err != nil {
		return err
	}

	fs.sb = sb
	fs.entries = entries
	fs.bitmap = bitmap
	fs.scratch = make([]byte, s)
	fs.capacity = m
	fs.mounted = true

	fs.cfg.Logger.WithFields(logrus.Fields{
		"cluster_size":   s,
		"total_clusters": n,
		"sys_clusters":   r,
		"live_entries":   e,
	}).Debug("acfs: mounted filesystem")
	return nil
}

// Unmount releases the in-memory directory and bitmap. The FileSystem
// value may be reused afterwards only via its Format method (an explicit
// reformat, spec §4.E's state machine).
func (fs *FileSystem) Unmount() error {
	if !fs.mounted {
		return ErrNotInitialized
	}
	fs.mounted = false
	fs.entries = nil
	fs.bitmap = nil
	fs.sb = nil
	return nil
}

// Format reformats the medium this FileSystem was last mounted from. It
// requires the filesystem to already be unmounted (spec §4.E: "Format
// may be invoked either from Uninitialized ... or from Mounted (explicit
// reformat; ... spec prescribes the latter [requiring prior deinit])").
func (fs *FileSystem) Format(opts ...Option) error {
	if fs.mounted {
		return ErrAlreadyInitialized
	}
	for _, opt := range opts {
		opt(&fs.cfg)
	}
	return fs.format()
}

func (fs *FileSystem) requireMounted() error {
	if !fs.mounted {
		return ErrNotInitialized
	}
	return nil
}

func (fs *FileSystem) indexOf(id string) int {
	for i, e := range fs.entries {
		if e.dataID == id {
			return i
		}
	}
	return -1
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty data_id", ErrInvalidParam)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%w: data_id %q longer than %d characters", ErrInvalidParam, id, maxIDLen)
	}
	return nil
}

func clustersNeeded(n int, clusterSize uint16) int {
	return (n + int(clusterSize) - 1) / int(clusterSize)
}
