package flash_test

import (
	"path/filepath"
	"testing"

	"github.com/wolfssl/wolfboot-core/flash"
	"github.com/wolfssl/wolfboot-core/simflash"
)

const (
	sectorSize    = 0x400
	partitionSize = 0x8000
)

func newManager(t *testing.T) (*flash.Manager, *simflash.Device) {
	t.Helper()
	dev, err := simflash.New(filepath.Join(t.TempDir(), "flash.bin"), partitionSize*2, sectorSize, true)
	if err != nil {
		t.Fatalf("simflash.New: %v", err)
	}
	t.Cleanup(func() { dev.Close() })

	fm := flash.NewManager([]flash.Device{dev})
	fm.Register(flash.Partition{Tag: flash.TagBoot, Device: 0, Offset: 0, Size: partitionSize})
	fm.Register(flash.Partition{Tag: flash.TagUpdate, Device: 0, Offset: partitionSize, Size: partitionSize})
	return fm, dev
}

func TestReadWriteRoundTrip(t *testing.T) {
	fm, _ := newManager(t)
	want := []byte("hello wolfboot")
	if err := fm.Write(flash.TagBoot, 0, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := make([]byte, len(want))
	if err := fm.Read(flash.TagBoot, 0, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWriteOutOfRangeRejected(t *testing.T) {
	fm, _ := newManager(t)
	buf := make([]byte, partitionSize+1)
	if err := fm.Write(flash.TagBoot, 0, buf); err == nil {
		t.Fatal("expected an out-of-range write to fail")
	}
}

func TestPartitionsDoNotOverlap(t *testing.T) {
	fm, _ := newManager(t)
	boot, _ := fm.Partition(flash.TagBoot)
	update, _ := fm.Partition(flash.TagUpdate)
	overlaps := flash.DetectOverlaps([]flash.Partition{boot, update})
	if len(overlaps) != 0 {
		t.Fatalf("unexpected overlaps: %v", overlaps)
	}
}

func TestDetectOverlapsFindsCollision(t *testing.T) {
	a := flash.Partition{Device: 0, Offset: 0, Size: 0x1000}
	b := flash.Partition{Device: 0, Offset: 0x800, Size: 0x1000}
	overlaps := flash.DetectOverlaps([]flash.Partition{a, b})
	if len(overlaps) != 1 {
		t.Fatalf("expected one overlap, got %d", len(overlaps))
	}
}

func TestWriteOnceForbidsBitFlipToOne(t *testing.T) {
	fm, _ := newManager(t)
	if err := fm.Erase(flash.TagBoot, 0, sectorSize); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if err := fm.Write(flash.TagBoot, 0, []byte{0x00}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := fm.Write(flash.TagBoot, 0, []byte{0xFF}); err == nil {
		t.Fatal("expected rewriting 0->1 without an erase to fail")
	}
}

func TestEraseResetsToErasedValue(t *testing.T) {
	fm, _ := newManager(t)
	if err := fm.Write(flash.TagBoot, 0, []byte{0x00, 0x00}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := fm.Erase(flash.TagBoot, 0, sectorSize); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	got := make([]byte, 2)
	if err := fm.Read(flash.TagBoot, 0, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got[0] != 0xFF || got[1] != 0xFF {
		t.Fatalf("expected erased bytes, got %v", got)
	}
}

func TestSimulatedCrash(t *testing.T) {
	fm, dev := newManager(t)
	dev.CrashAfter = 0
	err := fm.Write(flash.TagBoot, 0, []byte{0x01})
	if err == nil {
		t.Fatal("expected the simulated crash to surface as an error")
	}
	// The write still landed before the crash fired.
	got := make([]byte, 1)
	if err := fm.Read(flash.TagBoot, 0, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got[0] != 0x01 {
		t.Fatalf("write should have applied before the simulated crash, got %v", got)
	}
}

func TestSortByDeviceOffset(t *testing.T) {
	parts := []flash.Partition{
		{Device: 0, Offset: 0x2000},
		{Device: 0, Offset: 0x1000},
		{Device: 1, Offset: 0},
	}
	sorted := flash.SortByDeviceOffset(parts)
	if sorted[0].Offset != 0x1000 || sorted[1].Offset != 0x2000 || sorted[2].Device != 1 {
		t.Fatalf("unexpected order: %+v", sorted)
	}
	// Input slice must be untouched.
	if parts[0].Offset != 0x2000 {
		t.Fatal("SortByDeviceOffset must not mutate its input")
	}
}
