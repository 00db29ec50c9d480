package medium

import (
	"fmt"
	"os"

	"github.com/bits-and-blooms/bitset"
)

// File is a medium backed by an *os.File, mirroring the way the teacher
// repo mounts a filesystem onto an os.File-backed handle at an arbitrary
// start offset rather than requiring the whole file to be the filesystem.
//
// Real EEPROM/flash/SDRAM adapters live outside this module; File exists
// so example programs and integration tests can exercise the engine
// against a real file on disk without writing a hardware driver.
type File struct {
	device Device
	f      *os.File
	erased *bitset.BitSet // present only when device.NeedErase
}

// NewFile wraps f as a Medium with the given geometry. f must already be
// at least device.StartAddr+device.Size bytes long; callers are
// responsible for truncating/extending it first.
func NewFile(f *os.File, device Device) (*File, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("medium: stat backing file: %w", err)
	}
	need := int64(device.StartAddr) + int64(device.Size)
	if info.Size() < need {
		return nil, fmt.Errorf("medium: backing file is %d bytes, need at least %d", info.Size(), need)
	}
	fm := &File{device: device, f: f}
	if device.NeedErase {
		fm.erased = bitset.New(uint(device.Size))
	}
	return fm, nil
}

func (fm *File) Device() Device { return fm.device }

func (fm *File) off(addr uint32) int64 { return int64(addr) }

func (fm *File) ReadAt(addr uint32, buf []byte) error {
	if err := checkRange(fm.device, addr, uint32(len(buf))); err != nil {
		return err
	}
	n, err := fm.f.ReadAt(buf, fm.off(addr))
	if err != nil {
		return fmt.Errorf("medium: read at %d: %w", addr, err)
	}
	if n != len(buf) {
		return fmt.Errorf("medium: short read at %d: got %d of %d bytes", addr, n, len(buf))
	}
	return nil
}

func (fm *File) WriteAt(addr uint32, buf []byte) error {
	if err := checkRange(fm.device, addr, uint32(len(buf))); err != nil {
		return err
	}
	start := fm.off(addr)
	bit := uint(addr - fm.device.StartAddr)
	if fm.device.NeedErase {
		for i := range buf {
			if !fm.erased.Test(bit + uint(i)) {
				return ErrNotErased
			}
		}
	}
	n, err := fm.f.WriteAt(buf, start)
	if err != nil {
		return fmt.Errorf("medium: write at %d: %w", addr, err)
	}
	if n != len(buf) {
		return fmt.Errorf("medium: short write at %d: wrote %d of %d bytes", addr, n, len(buf))
	}
	if fm.device.NeedErase {
		for i := range buf {
			fm.erased.Clear(bit + uint(i))
		}
	}
	return nil
}

func (fm *File) Erase(addr uint32, n uint32) error {
	if !fm.device.NeedErase {
		return nil
	}
	if fm.device.EraseBlockSize == 0 || addr%fm.device.EraseBlockSize != 0 || n%fm.device.EraseBlockSize != 0 {
		return ErrMisalignedErase
	}
	if err := checkRange(fm.device, addr, n); err != nil {
		return err
	}
	block := make([]byte, n)
	for i := range block {
		block[i] = ErasedSentinel
	}
	start := fm.off(addr)
	if _, err := fm.f.WriteAt(block, start); err != nil {
		return fmt.Errorf("medium: erase at %d: %w", addr, err)
	}
	startBit := uint(addr - fm.device.StartAddr)
	for i := uint32(0); i < n; i++ {
		fm.erased.Set(startBit + uint(i))
	}
	return nil
}
