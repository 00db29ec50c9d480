package acfs

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ivarsson/acfs/medium"
)

func testDevice(size uint32) medium.Device {
	return medium.Device{StartAddr: 0, Size: size, Type: medium.SDRAM}
}

func mustFormat(t *testing.T, size uint32, clusterSize uint16, opts ...Option) (*FileSystem, medium.Medium) {
	t.Helper()
	m := medium.NewRAM(testDevice(size))
	fs, err := Format(m, clusterSize, opts...)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	return fs, m
}

func TestFormatThenMount(t *testing.T) {
	fs, m := mustFormat(t, 64*1024, 256)
	if err := fs.Unmount(); err != nil {
		t.Fatalf("Unmount: %v", err)
	}

	mounted, err := Mount(m, 256)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	stats, err := mounted.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.LiveEntries != 0 {
		t.Fatalf("fresh mount has %d live entries, want 0", stats.LiveEntries)
	}
}

func TestMountWithoutFormatIfInvalidFails(t *testing.T) {
	m := medium.NewRAM(testDevice(16 * 1024))
	_, err := Mount(m, 256)
	if !errors.Is(err, ErrInvalidFilesystem) {
		t.Fatalf("Mount on blank medium: got %v, want ErrInvalidFilesystem", err)
	}
}

func TestMountFormatIfInvalid(t *testing.T) {
	m := medium.NewRAM(testDevice(16 * 1024))
	fs, err := Mount(m, 256, WithFormatIfInvalid(true))
	if err != nil {
		t.Fatalf("Mount with WithFormatIfInvalid: %v", err)
	}
	if !fs.mounted {
		t.Fatalf("filesystem not mounted after format-on-invalid")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	fs, _ := mustFormat(t, 64*1024, 256)
	payload := bytes.Repeat([]byte("acfs-round-trip-"), 20) // not a multiple of 256

	if err := fs.Write("key-1", payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, len(payload))
	n, err := fs.Read("key-1", buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("Read returned %d bytes, want %d", n, len(payload))
	}
	if !bytes.Equal(buf, payload) {
		t.Fatalf("round-tripped data does not match")
	}
}

func TestReadShortBuffer(t *testing.T) {
	fs, _ := mustFormat(t, 64*1024, 256)
	payload := []byte("hello, acfs")
	if err := fs.Write("short", payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 2)
	_, err := fs.Read("short", buf)
	var short *ErrShortBuffer
	if !errors.As(err, &short) {
		t.Fatalf("Read with short buffer: got %v, want *ErrShortBuffer", err)
	}
	if short.Required != len(payload) {
		t.Fatalf("ErrShortBuffer.Required = %d, want %d", short.Required, len(payload))
	}
	if !errors.Is(err, ErrInvalidParam) {
		t.Fatalf("ErrShortBuffer should unwrap to ErrInvalidParam")
	}
}

func TestReadMissingReturnsNotFound(t *testing.T) {
	fs, _ := mustFormat(t, 64*1024, 256)
	if _, err := fs.Read("nope", make([]byte, 16)); !errors.Is(err, ErrDataNotFound) {
		t.Fatalf("Read missing id: got %v, want ErrDataNotFound", err)
	}
}

func TestOverwriteSameSizeClassReusesClusters(t *testing.T) {
	fs, _ := mustFormat(t, 64*1024, 256)
	if err := fs.Write("k", bytes.Repeat([]byte{1}, 100)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	idx := fs.indexOf("k")
	before := append([]uint16(nil), fs.entries[idx].clusterList...)

	if err := fs.Write("k", bytes.Repeat([]byte{2}, 100)); err != nil {
		t.Fatalf("overwrite Write: %v", err)
	}
	after := fs.entries[fs.indexOf("k")].clusterList
	if len(before) != len(after) {
		t.Fatalf("cluster count changed on same-size-class overwrite: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("cluster list changed on same-size-class overwrite")
		}
	}
}

func TestOverwriteLargerSizeClassReallocates(t *testing.T) {
	fs, _ := mustFormat(t, 64*1024, 256)
	if err := fs.Write("k", bytes.Repeat([]byte{1}, 10)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	smallLen := len(fs.entries[fs.indexOf("k")].clusterList)

	if err := fs.Write("k", bytes.Repeat([]byte{2}, 1000)); err != nil {
		t.Fatalf("overwrite Write: %v", err)
	}
	bigLen := len(fs.entries[fs.indexOf("k")].clusterList)
	if bigLen <= smallLen {
		t.Fatalf("cluster count did not grow on larger overwrite: %d -> %d", smallLen, bigLen)
	}

	buf := make([]byte, 1000)
	if _, err := fs.Read("k", buf); err != nil {
		t.Fatalf("Read after realloc: %v", err)
	}
	if !bytes.Equal(buf, bytes.Repeat([]byte{2}, 1000)) {
		t.Fatalf("data mismatch after realloc overwrite")
	}
}

func TestWriteRewriteFailsWithoutTouchingOldEntry(t *testing.T) {
	// Tiny medium: once a filler entry takes every remaining cluster,
	// there is no room left to grow the first entry past its original
	// size class. The failed rewrite
	// must leave the entry exactly as it was (spec §9 Open Question 1).
	fs, _ := mustFormat(t, 2048, 256, WithReservedClusters(3))
	original := bytes.Repeat([]byte{9}, 256)
	if err := fs.Write("fixed", original); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// Consume the rest of free space with another entry.
	stats, _ := fs.GetStats()
	filler := bytes.Repeat([]byte{7}, int(stats.FreeClusters)*256)
	if err := fs.Write("filler", filler); err != nil {
		t.Fatalf("Write filler: %v", err)
	}

	err := fs.Write("fixed", bytes.Repeat([]byte{5}, 1000))
	if !errors.Is(err, ErrNoSpace) {
		t.Fatalf("expected ErrNoSpace growing an entry with no free clusters, got %v", err)
	}

	buf := make([]byte, len(original))
	n, rerr := fs.Read("fixed", buf)
	if rerr != nil {
		t.Fatalf("Read after failed rewrite: %v", rerr)
	}
	if n != len(original) || !bytes.Equal(buf, original) {
		t.Fatalf("entry was modified by a failed rewrite")
	}
}

func TestDeleteFreesClusters(t *testing.T) {
	fs, _ := mustFormat(t, 64*1024, 256)
	if err := fs.Write("a", bytes.Repeat([]byte{1}, 500)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	before, _ := fs.GetFreeSpace()

	if err := fs.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	after, _ := fs.GetFreeSpace()
	if after <= before {
		t.Fatalf("free space did not grow after delete: before=%d after=%d", before, after)
	}
	if fs.Exists("a") {
		t.Fatalf("entry still exists after delete")
	}
	if _, err := fs.Read("a", make([]byte, 1)); !errors.Is(err, ErrDataNotFound) {
		t.Fatalf("Read after delete: got %v, want ErrDataNotFound", err)
	}
}

func TestDeleteMissingReturnsNotFound(t *testing.T) {
	fs, _ := mustFormat(t, 64*1024, 256)
	if err := fs.Delete("nope"); !errors.Is(err, ErrDataNotFound) {
		t.Fatalf("Delete missing id: got %v, want ErrDataNotFound", err)
	}
}

func TestDirectoryStaysDenseAfterMiddleDelete(t *testing.T) {
	fs, _ := mustFormat(t, 64*1024, 256, WithReservedClusters(6))
	for _, id := range []string{"a", "b", "c"} {
		if err := fs.Write(id, []byte(id)); err != nil {
			t.Fatalf("Write %s: %v", id, err)
		}
	}
	if err := fs.Delete("b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(fs.entries) != 2 {
		t.Fatalf("directory has %d entries after delete, want 2 (dense)", len(fs.entries))
	}
	for i, e := range fs.entries {
		if e == nil {
			t.Fatalf("nil entry at dense index %d", i)
		}
	}
}

func TestRename(t *testing.T) {
	fs, _ := mustFormat(t, 64*1024, 256)
	if err := fs.Write("old", []byte("payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := fs.Rename("old", "new"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if fs.Exists("old") {
		t.Fatalf("old id still exists after rename")
	}
	buf := make([]byte, 7)
	if _, err := fs.Read("new", buf); err != nil {
		t.Fatalf("Read renamed entry: %v", err)
	}
	if string(buf) != "payload" {
		t.Fatalf("renamed entry has wrong data: %q", buf)
	}
}

func TestRenameCollision(t *testing.T) {
	fs, _ := mustFormat(t, 64*1024, 256, WithReservedClusters(6))
	if err := fs.Write("a", []byte("1")); err != nil {
		t.Fatalf("Write a: %v", err)
	}
	if err := fs.Write("b", []byte("2")); err != nil {
		t.Fatalf("Write b: %v", err)
	}
	if err := fs.Rename("a", "b"); !errors.Is(err, ErrInvalidParam) {
		t.Fatalf("Rename onto existing id: got %v, want ErrInvalidParam", err)
	}
}

func TestDirectoryFullRejectsNewEntry(t *testing.T) {
	fs, _ := mustFormat(t, 256*1024, 256, WithReservedClusters(200))
	for i := 0; i < fs.capacity; i++ {
		id := string(rune('a' + i%26))
		// ensure unique ids even past 26 iterations
		id = id + string(rune('A'+i/26))
		if err := fs.Write(id, []byte{byte(i)}); err != nil {
			t.Fatalf("Write entry %d (%s): %v", i, id, err)
		}
	}
	if err := fs.Write("overflow", []byte{0}); !errors.Is(err, ErrClusterFull) {
		t.Fatalf("Write past directory capacity: got %v, want ErrClusterFull", err)
	}
}

func TestCrcMismatchOnRead(t *testing.T) {
	fs, m := mustFormat(t, 64*1024, 256)
	payload := bytes.Repeat([]byte{3}, 300)
	if err := fs.Write("x", payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	cluster := fs.entries[fs.indexOf("x")].clusterList[0]
	ram := m.(*medium.RAM)
	ram.Corrupt(uint32(cluster) * uint32(fs.cfg.ClusterSize))

	_, err := fs.Read("x", make([]byte, len(payload)))
	if !errors.Is(err, ErrCrcMismatch) {
		t.Fatalf("Read of corrupted data: got %v, want ErrCrcMismatch", err)
	}
}

func TestCheckIntegrityDetectsCorruption(t *testing.T) {
	fs, m := mustFormat(t, 64*1024, 256)
	if err := fs.Write("x", bytes.Repeat([]byte{3}, 300)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := fs.CheckIntegrity(); err != nil {
		t.Fatalf("CheckIntegrity on healthy filesystem: %v", err)
	}

	cluster := fs.entries[fs.indexOf("x")].clusterList[0]
	ram := m.(*medium.RAM)
	ram.Corrupt(uint32(cluster) * uint32(fs.cfg.ClusterSize))

	if err := fs.CheckIntegrity(); !errors.Is(err, ErrDataCorrupted) {
		t.Fatalf("CheckIntegrity on corrupted filesystem: got %v, want ErrDataCorrupted", err)
	}
}

func TestOperationsBeforeMountFail(t *testing.T) {
	fs := &FileSystem{}
	if _, err := fs.Read("x", nil); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Read before mount: got %v, want ErrNotInitialized", err)
	}
	if err := fs.Write("x", []byte{1}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Write before mount: got %v, want ErrNotInitialized", err)
	}
	if err := fs.Delete("x"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Delete before mount: got %v, want ErrNotInitialized", err)
	}
	if fs.Exists("x") {
		t.Fatalf("Exists before mount should be false, not panic or true")
	}
}

func TestDefragmentPacksClusters(t *testing.T) {
	fs, _ := mustFormat(t, 32*1024, 256, WithReservedClusters(6))
	for _, id := range []string{"a", "b", "c", "d"} {
		if err := fs.Write(id, bytes.Repeat([]byte(id), 300)); err != nil {
			t.Fatalf("Write %s: %v", id, err)
		}
	}
	if err := fs.Delete("b"); err != nil {
		t.Fatalf("Delete b: %v", err)
	}
	if err := fs.Delete("d"); err != nil {
		t.Fatalf("Delete d: %v", err)
	}
	// Re-add a fragmented entry: three clusters, split across the
	// two-cluster gap left by b.
	if err := fs.Write("e", bytes.Repeat([]byte("e"), 600)); err != nil {
		t.Fatalf("Write e: %v", err)
	}

	if err := fs.Defragment(); err != nil {
		t.Fatalf("Defragment: %v", err)
	}
	frag, err := fs.Fragmentation()
	if err != nil {
		t.Fatalf("Fragmentation: %v", err)
	}
	if frag != 0 {
		t.Fatalf("fragmentation after Defragment = %f, want 0", frag)
	}

	// Data must still read back correctly post-defragment.
	for _, id := range []string{"a", "c", "e"} {
		size, err := fs.GetSize(id)
		if err != nil {
			t.Fatalf("GetSize %s: %v", id, err)
		}
		buf := make([]byte, size)
		if _, err := fs.Read(id, buf); err != nil {
			t.Fatalf("Read %s after defragment: %v", id, err)
		}
	}
}

func TestListReportsLiveEntries(t *testing.T) {
	fs, _ := mustFormat(t, 64*1024, 256, WithReservedClusters(6))
	if err := fs.Write("one", []byte("1234")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := fs.Write("two", []byte("56")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	list, err := fs.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(list))
	}
}

func TestFormatWriteOverwriteOnEraseRequiredMedium(t *testing.T) {
	device := medium.Device{
		StartAddr:      0,
		Size:           16 * 1024,
		Type:           medium.Flash,
		NeedErase:      true,
		EraseBlockSize: 256,
	}
	m := medium.NewRAM(device)

	fs, err := Format(m, 256, WithReservedClusters(6))
	if err != nil {
		t.Fatalf("Format on erase-required medium: %v", err)
	}

	first := bytes.Repeat([]byte{0xAA}, 300)
	if err := fs.Write("k", first); err != nil {
		t.Fatalf("first Write on erase-required medium: %v", err)
	}
	buf := make([]byte, len(first))
	if _, err := fs.Read("k", buf); err != nil {
		t.Fatalf("Read after first write: %v", err)
	}
	if !bytes.Equal(buf, first) {
		t.Fatalf("data mismatch after first write on erase-required medium")
	}

	// Overwrite the same id, same size class: rewrites the same
	// clusters in place, which only succeeds if they are re-erased
	// first.
	second := bytes.Repeat([]byte{0xBB}, 300)
	if err := fs.Write("k", second); err != nil {
		t.Fatalf("same-size-class overwrite on erase-required medium: %v", err)
	}
	buf2 := make([]byte, len(second))
	if _, err := fs.Read("k", buf2); err != nil {
		t.Fatalf("Read after overwrite: %v", err)
	}
	if !bytes.Equal(buf2, second) {
		t.Fatalf("data mismatch after overwrite on erase-required medium")
	}

	// A second entry exercises the superblock/directory rewrite path a
	// second time (persistDirectory runs on every Write).
	if err := fs.Write("other", []byte("second entry")); err != nil {
		t.Fatalf("Write second entry on erase-required medium: %v", err)
	}
	if err := fs.Delete("k"); err != nil {
		t.Fatalf("Delete on erase-required medium: %v", err)
	}
	if fs.Exists("k") {
		t.Fatalf("deleted entry still exists")
	}

	// Unmount and remount to confirm the persisted superblock/directory
	// survive the erase-before-write cycle intact.
	if err := fs.Unmount(); err != nil {
		t.Fatalf("Unmount: %v", err)
	}
	remounted, err := Mount(m, 256)
	if err != nil {
		t.Fatalf("Mount after erase-required writes: %v", err)
	}
	size, err := remounted.GetSize("other")
	if err != nil {
		t.Fatalf("GetSize after remount: %v", err)
	}
	if size != uint32(len("second entry")) {
		t.Fatalf("GetSize after remount = %d, want %d", size, len("second entry"))
	}
}

func TestInvalidClusterSizeRejected(t *testing.T) {
	m := medium.NewRAM(testDevice(4096))
	if _, err := Format(m, 100); !errors.Is(err, ErrInvalidParam) {
		t.Fatalf("Format with non-power-of-two cluster size: got %v, want ErrInvalidParam", err)
	}
}
