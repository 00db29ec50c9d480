// Package medium defines the contract the storage engine uses to talk to
// the underlying byte-addressable device: EEPROM, NOR/NAND flash,
// battery-backed SDRAM, or anything else that can read, write, and
// (optionally) erase a byte range.
//
// Concrete drivers for real devices are not part of this package; only
// the contract and a couple of reference mediums used by tests and
// example programs live here.
package medium

import "fmt"

// Type identifies the kind of device backing a Medium.
type Type int

const (
	// EEPROM is a byte-writable device requiring no erase before write.
	EEPROM Type = iota
	// Flash is a block-erase device: a write to a byte that is not the
	// erased sentinel (0xFF) fails until the containing erase block is
	// erased.
	Flash
	// SDRAM is battery-backed volatile memory behaving like EEPROM.
	SDRAM
	// Custom covers any medium that does not fit the other three tags.
	Custom
)

func (t Type) String() string {
	switch t {
	case EEPROM:
		return "EEPROM"
	case Flash:
		return "Flash"
	case SDRAM:
		return "SDRAM"
	case Custom:
		return "Custom"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Device describes the geometry of a medium: where the filesystem region
// starts, how big it is, and whether writes require a prior erase.
type Device struct {
	StartAddr      uint32
	Size           uint32
	Type           Type
	NeedErase      bool
	EraseBlockSize uint32
}

// ErasedSentinel is the byte value erase leaves behind on media that
// require it.
const ErasedSentinel byte = 0xFF

// Medium is the contract the engine requires of the backing device: read
// and write arbitrary byte ranges, and erase a byte range back to the
// erased sentinel on media where NeedErase is true.
//
// Implementations carry all of their state instance-local; no
// implementation in this module relies on package-level mutable state,
// which would forbid more than one device of a given kind from being
// open at once.
type Medium interface {
	// Device returns the geometry this medium was constructed with.
	Device() Device
	// ReadAt copies len(buf) bytes from medium offset addr into buf.
	ReadAt(addr uint32, buf []byte) error
	// WriteAt copies len(buf) bytes from buf to medium offset addr. On
	// erase-required media, every target byte must already be at the
	// erased sentinel; callers must Erase first.
	WriteAt(addr uint32, buf []byte) error
	// Erase resets [addr, addr+n) to the erased sentinel. addr and n
	// must be multiples of Device().EraseBlockSize. Implementations of
	// media where Device().NeedErase is false may treat this as a no-op.
	Erase(addr uint32, n uint32) error
}

// ErrOutOfRange is returned when an operation would read or write
// outside the medium's declared [StartAddr, StartAddr+Size) region.
var ErrOutOfRange = fmt.Errorf("medium: address range out of bounds")

// ErrNotErased is returned by WriteAt on erase-required media when the
// target range is not entirely at the erased sentinel.
var ErrNotErased = fmt.Errorf("medium: write target not erased")

// ErrMisalignedErase is returned by Erase when addr or n is not a
// multiple of the device's erase block size.
var ErrMisalignedErase = fmt.Errorf("medium: erase range misaligned")

func checkRange(d Device, addr, n uint32) error {
	if n == 0 {
		return nil
	}
	end := uint64(addr) + uint64(n)
	if uint64(addr) < uint64(d.StartAddr) || end > uint64(d.StartAddr)+uint64(d.Size) {
		return ErrOutOfRange
	}
	return nil
}
