package acfs

import (
	"encoding/binary"
	"fmt"
)

// superblock is the single top-of-medium record describing filesystem
// geometry and liveness counters (spec §3). Field widths and order match
// the on-medium layout exactly; there is no padding between fields.
type superblock struct {
	magic         uint32
	version       uint16
	clusterSize   uint16 // S
	totalClusters uint16 // N
	sysClusters   uint16 // R
	dataEntries   uint16 // E
	freeClusters  uint16 // F
	crc32         uint32
}

// superblockFromBytes decodes and validates a superblock record. It
// returns an error if b is the wrong length, the magic does not match,
// or (when checkCRC is true) the trailing CRC does not match a recompute
// over the preceding bytes (spec invariant 8).
func superblockFromBytes(b []byte, checkCRC bool) (*superblock, error) {
	if len(b) != superblockSize {
		return nil, fmt.Errorf("acfs: superblock record is %d bytes, want %d", len(b), superblockSize)
	}

	sb := &superblock{
		magic:         binary.LittleEndian.Uint32(b[offMagic : offMagic+4]),
		version:       binary.LittleEndian.Uint16(b[offVersion : offVersion+2]),
		clusterSize:   binary.LittleEndian.Uint16(b[offClusterSize : offClusterSize+2]),
		totalClusters: binary.LittleEndian.Uint16(b[offTotalClusters : offTotalClusters+2]),
		sysClusters:   binary.LittleEndian.Uint16(b[offSysClusters : offSysClusters+2]),
		dataEntries:   binary.LittleEndian.Uint16(b[offDataEntries : offDataEntries+2]),
		freeClusters:  binary.LittleEndian.Uint16(b[offFreeClusters : offFreeClusters+2]),
		crc32:         binary.LittleEndian.Uint32(b[offSuperblockCRC : offSuperblockCRC+4]),
	}

	if sb.magic != magic {
		return nil, fmt.Errorf("%w: bad magic %#x, want %#x", ErrInvalidFilesystem, sb.magic, magic)
	}
	if checkCRC {
		actual := crc32Checksum(b[:offSuperblockCRC])
		if actual != sb.crc32 {
			return nil, fmt.Errorf("%w: superblock crc mismatch: got %#x, want %#x", ErrInvalidFilesystem, sb.crc32, actual)
		}
	}
	return sb, nil
}

// toBytes serializes the superblock, recomputing its trailing CRC over
// the preceding bytes.
func (sb *superblock) toBytes() []byte {
	b := make([]byte, superblockSize)
	binary.LittleEndian.PutUint32(b[offMagic:offMagic+4], sb.magic)
	binary.LittleEndian.PutUint16(b[offVersion:offVersion+2], sb.version)
	binary.LittleEndian.PutUint16(b[offClusterSize:offClusterSize+2], sb.clusterSize)
	binary.LittleEndian.PutUint16(b[offTotalClusters:offTotalClusters+2], sb.totalClusters)
	binary.LittleEndian.PutUint16(b[offSysClusters:offSysClusters+2], sb.sysClusters)
	binary.LittleEndian.PutUint16(b[offDataEntries:offDataEntries+2], sb.dataEntries)
	binary.LittleEndian.PutUint16(b[offFreeClusters:offFreeClusters+2], sb.freeClusters)

	sb.crc32 = crc32Checksum(b[:offSuperblockCRC])
	binary.LittleEndian.PutUint32(b[offSuperblockCRC:offSuperblockCRC+4], sb.crc32)
	return b
}

func (sb *superblock) equal(o *superblock) bool {
	if sb == nil || o == nil {
		return sb == o
	}
	return *sb == *o
}
