package acfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// directoryEntry is one live blob's metadata: id, size, CRC, and the
// ordered list of clusters holding its data (spec §3 "Directory entry").
//
// The cluster list is a Go slice here, not a fixed [kMax]uint16 array:
// spec §9 explicitly allows "a separately owned variable-length
// sequence" as an alternative to an inline fixed-length array, and a
// slice is the idiomatic Go shape for it. Only the on-medium
// serialization is fixed-width.
type directoryEntry struct {
	dataID      string
	dataSize    uint32
	clusterList []uint16 // length == cluster_count
	crc32       uint32
	isValid     bool
}

// entryFromBytes decodes a fixed-width entry record. The reserved
// pointer-slot field (spec §9: "the on-medium record is the in-memory
// record with the cluster_list pointer field zeroed") is skipped, not
// decoded; it carries no information here.
func entryFromBytes(b []byte) (*directoryEntry, error) {
	if len(b) != entryRecordSize {
		return nil, fmt.Errorf("acfs: entry record is %d bytes, want %d", len(b), entryRecordSize)
	}
	idField := b[offDataID : offDataID+idFieldLen]
	nul := bytes.IndexByte(idField, 0)
	if nul < 0 {
		nul = len(idField)
	}
	e := &directoryEntry{
		dataID:   string(idField[:nul]),
		dataSize: binary.LittleEndian.Uint32(b[offDataSize : offDataSize+4]),
		isValid:  b[offIsValid] != 0,
		crc32:    binary.LittleEndian.Uint32(b[offEntryCRC32 : offEntryCRC32+4]),
	}
	clusterCount := binary.LittleEndian.Uint16(b[offClusterCount : offClusterCount+2])
	e.clusterList = make([]uint16, clusterCount)
	return e, nil
}

// toBytes serializes the fixed-width entry record (not the cluster-list
// slot, which is serialized separately by clusterListToBytes).
func (e *directoryEntry) toBytes() ([]byte, error) {
	if len(e.dataID) > maxIDLen {
		return nil, fmt.Errorf("%w: data_id %q longer than %d characters", ErrInvalidParam, e.dataID, maxIDLen)
	}
	if len(e.clusterList) > kMax {
		return nil, fmt.Errorf("%w: cluster list of length %d exceeds maximum %d", ErrInvalidParam, len(e.clusterList), kMax)
	}
	b := make([]byte, entryRecordSize)
	copy(b[offDataID:offDataID+idFieldLen], e.dataID)
	binary.LittleEndian.PutUint32(b[offDataSize:offDataSize+4], e.dataSize)
	binary.LittleEndian.PutUint16(b[offClusterCount:offClusterCount+2], uint16(len(e.clusterList)))
	binary.LittleEndian.PutUint32(b[offEntryCRC32:offEntryCRC32+4], e.crc32)
	if e.isValid {
		b[offIsValid] = 1
	}
	return b, nil
}

// clusterListFromBytes decodes a fixed-width kMax-slot cluster list,
// keeping only the first count entries (the rest of the slot is
// reserved padding, spec §6.2: "the first cluster_count of its K_MAX
// entries are meaningful").
func clusterListFromBytes(b []byte, count uint16) ([]uint16, error) {
	if len(b) != clusterListSlotSize {
		return nil, fmt.Errorf("acfs: cluster-list slot is %d bytes, want %d", len(b), clusterListSlotSize)
	}
	if int(count) > kMax {
		return nil, fmt.Errorf("acfs: cluster count %d exceeds maximum %d", count, kMax)
	}
	list := make([]uint16, count)
	for i := range list {
		list[i] = binary.LittleEndian.Uint16(b[i*2 : i*2+2])
	}
	return list, nil
}

// clusterListToBytes serializes a cluster list into a fixed kMax-slot
// width, zero-padding beyond len(list).
func clusterListToBytes(list []uint16) ([]byte, error) {
	if len(list) > kMax {
		return nil, fmt.Errorf("%w: cluster list of length %d exceeds maximum %d", ErrInvalidParam, len(list), kMax)
	}
	b := make([]byte, clusterListSlotSize)
	for i, c := range list {
		binary.LittleEndian.PutUint16(b[i*2:i*2+2], c)
	}
	return b, nil
}
