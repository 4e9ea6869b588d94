package buddy

import (
	"nucleus/kernel/bootinfo"
	"nucleus/kernel/hhdm"
	"nucleus/kernel/mem/pmm"
	"testing"
	"unsafe"
)

func withHHDM(t *testing.T) {
	t.Helper()
	hhdm.SetOffset(0xFFFF800000000000)
	t.Cleanup(func() { hhdm.SetOffset(0) })
}

func testRegions() []bootinfo.MemoryRegion {
	return []bootinfo.MemoryRegion{
		{PhysAddress: 0x0, Length: 0x100000, Kind: bootinfo.Reserved},
		{PhysAddress: 0x100000, Length: 0x7F00000, Kind: bootinfo.Available},
	}
}

func TestInitWithoutHHDM(t *testing.T) {
	a := New()
	if err := a.Init(testRegions()); err != errNotInitialized {
		t.Fatalf("expected errNotInitialized, got %v", err)
	}
}

func TestInitAndAllocFirstPage(t *testing.T) {
	withHHDM(t)

	a := New()
	if err := a.Init(testRegions()); err != nil {
		t.Fatalf("unexpected init error: %v", err)
	}

	f, err := a.AllocFrame()
	if err != nil {
		t.Fatalf("unexpected alloc error: %v", err)
	}

	addr := f.Address()
	if addr < 0x100000 || addr >= 0x8000000 {
		t.Fatalf("expected address inside [0x100000, 0x8000000), got %x", addr)
	}
	if addr%0x1000 != 0 {
		t.Fatalf("expected page-aligned address, got %x", addr)
	}

	stats := a.Stats()
	if stats.AllocatedFrames != 1 {
		t.Fatalf("expected 1 allocated frame, got %d", stats.AllocatedFrames)
	}
}

func TestBuddyMergeOnFree(t *testing.T) {
	withHHDM(t)

	a := New()
	if err := a.Init(testRegions()); err != nil {
		t.Fatalf("unexpected init error: %v", err)
	}

	f1, err := a.AllocOrder(0)
	if err != nil {
		t.Fatalf("alloc 1: %v", err)
	}
	f2, err := a.AllocOrder(0)
	if err != nil {
		t.Fatalf("alloc 2: %v", err)
	}
	if f2 != f1+1 {
		t.Fatalf("expected adjacent frames from the lazy pool, got %d and %d", f1, f2)
	}

	a.FreeOrder(f1, 0)
	a.FreeOrder(f2, 0)

	min := f1
	if f2 < f1 {
		min = f2
	}

	if head := a.freeList[1]; head != min {
		t.Fatalf("expected order-1 free list to contain %d, got %d", min, head)
	}
	if head := a.freeList[0]; head != pmm.InvalidFrame {
		t.Fatalf("expected order-0 free list to be empty, got %d", head)
	}
}

func TestAllocOrderMaxOrderExhausted(t *testing.T) {
	withHHDM(t)

	a := New()
	regions := []bootinfo.MemoryRegion{
		{PhysAddress: 0x0, Length: 0x4000, Kind: bootinfo.Available},
	}
	if err := a.Init(regions); err != nil {
		t.Fatalf("unexpected init error: %v", err)
	}

	if _, err := a.AllocOrder(MaxOrder); err != errOutOfMemory {
		t.Fatalf("expected errOutOfMemory, got %v", err)
	}
}

func TestFreeOrderIgnoresNeverInitializedFrame(t *testing.T) {
	withHHDM(t)

	a := New()
	if err := a.Init(testRegions()); err != nil {
		t.Fatalf("unexpected init error: %v", err)
	}

	before := a.Stats()
	a.FreeOrder(pmm.Frame(0x4000), 0)
	after := a.Stats()

	if before != after {
		t.Fatalf("expected stats unchanged when freeing a never-initialized frame: %+v vs %+v", before, after)
	}
}

func TestFrameMetaSize(t *testing.T) {
	// Sanity check that frameMeta stays a small, fixed-size record so the
	// metadata array's size computation in Init matches what unsafe.Slice
	// actually walks.
	if sz := unsafe.Sizeof(frameMeta{}); sz == 0 || sz > 32 {
		t.Fatalf("unexpected frameMeta size: %d", sz)
	}
}
