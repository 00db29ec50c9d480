package medium

import "github.com/bits-and-blooms/bitset"

// RAM is an in-memory medium backed by a plain byte slice. It is the
// medium most of the engine's test suite mounts against: no erase
// requirement, no I/O errors, trivial to inspect and corrupt byte-for-byte
// for integrity tests.
//
// When constructed with a Device whose NeedErase is true, RAM emulates a
// Flash-style erase requirement: WriteAt fails on any byte not currently
// at the erased sentinel, and Erase must be called first. Erased state is
// tracked in a shadow bitset rather than by re-scanning the backing bytes,
// since a write can legitimately write the sentinel value itself.
type RAM struct {
	device  Device
	data    []byte
	erased  *bitset.BitSet // bit i set iff data[i] is in the erased state
}

// NewRAM allocates a RAM medium of exactly Device.Size bytes, addressed
// starting at Device.StartAddr. The backing buffer starts zeroed unless
// NeedErase is set, in which case it starts at the erased sentinel.
func NewRAM(device Device) *RAM {
	data := make([]byte, device.Size)
	r := &RAM{device: device, data: data}
	if device.NeedErase {
		r.erased = bitset.New(uint(device.Size))
		for i := range data {
			data[i] = ErasedSentinel
			r.erased.Set(uint(i))
		}
	}
	return r
}

func (r *RAM) Device() Device { return r.device }

func (r *RAM) off(addr uint32) uint32 { return addr - r.device.StartAddr }

func (r *RAM) ReadAt(addr uint32, buf []byte) error {
	if err := checkRange(r.device, addr, uint32(len(buf))); err != nil {
		return err
	}
	copy(buf, r.data[r.off(addr):])
	return nil
}

func (r *RAM) WriteAt(addr uint32, buf []byte) error {
	if err := checkRange(r.device, addr, uint32(len(buf))); err != nil {
		return err
	}
	start := r.off(addr)
	if r.device.NeedErase {
		for i := range buf {
			if !r.erased.Test(uint(start) + uint(i)) {
				return ErrNotErased
			}
		}
	}
	copy(r.data[start:], buf)
	if r.device.NeedErase {
		for i := range buf {
			r.erased.Clear(uint(start) + uint(i))
		}
	}
	return nil
}

func (r *RAM) Erase(addr uint32, n uint32) error {
	if !r.device.NeedErase {
		return nil
	}
	if r.device.EraseBlockSize == 0 || addr%r.device.EraseBlockSize != 0 || n%r.device.EraseBlockSize != 0 {
		return ErrMisalignedErase
	}
	if err := checkRange(r.device, addr, n); err != nil {
		return err
	}
	start := r.off(addr)
	for i := uint32(0); i < n; i++ {
		r.data[start+i] = ErasedSentinel
		r.erased.Set(uint(start + i))
	}
	return nil
}

// Corrupt flips the byte at the given medium address, bypassing the
// normal write path. It exists purely for integrity-check tests (spec
// scenario S2) and is not part of the Medium interface.
func (r *RAM) Corrupt(addr uint32) {
	off := r.off(addr)
	r.data[off] ^= 0xFF
}
