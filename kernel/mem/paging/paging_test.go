package paging

import (
	"nucleus/kernel"
	"nucleus/kernel/hhdm"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/pmm"
	"testing"
	"unsafe"
)

// fakePhysPool hands out page-aligned chunks of host memory and pretends
// their host address is a physical address. Tests run with hhdm offset 0,
// so PhysToVirt/VirtToPhys are the identity function and the fake "physical"
// memory is directly addressable.
type fakePhysPool struct {
	backing []byte
	next    uintptr
}

func newFakePhysPool(pages int) *fakePhysPool {
	// Overallocate so we can carve out a page-aligned window.
	raw := make([]byte, (pages+1)*int(mem.PageSize))
	base := uintptr(unsafe.Pointer(&raw[0]))
	aligned := (base + uintptr(mem.PageSize) - 1) &^ uintptr(mem.PageSize-1)
	return &fakePhysPool{backing: raw, next: aligned}
}

func (p *fakePhysPool) allocFrame() pmm.Frame {
	addr := p.next
	p.next += uintptr(mem.PageSize)
	return pmm.Frame(addr >> mem.PageShift)
}

func (p *fakePhysPool) allocFn() pmm.AllocFn {
	return func() (pmm.Frame, *kernel.Error) {
		return p.allocFrame(), nil
	}
}

func withPaging(t *testing.T) *fakePhysPool {
	t.Helper()
	hhdm.SetOffset(0)
	pool := newFakePhysPool(64)
	return pool
}

func TestMapTranslateUnmapRoundTrip(t *testing.T) {
	pool := withPaging(t)
	m, err := New(pool.allocFn())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	dataFrame := pool.allocFrame()
	v := mem.VirtAddr(0xFFFFFFFF90000000)
	p := mem.PhysAddr(dataFrame.Address())

	if err := m.MapPage(v, p, FlagPresent|FlagWrite, pool.allocFn()); err != nil {
		t.Fatalf("MapPage: %v", err)
	}

	got, err := m.Translate(v)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != p {
		t.Fatalf("expected translate to return %x, got %x", p, got)
	}

	gotOffset, err := m.Translate(v + 0x10)
	if err != nil {
		t.Fatalf("Translate with offset: %v", err)
	}
	if gotOffset != p+0x10 {
		t.Fatalf("expected offset to be preserved: got %x want %x", gotOffset, p+0x10)
	}

	freed, err := m.UnmapPage(v)
	if err != nil {
		t.Fatalf("UnmapPage: %v", err)
	}
	if freed != p {
		t.Fatalf("expected unmap to return %x, got %x", p, freed)
	}

	if _, err := m.Translate(v); err != ErrNotMapped {
		t.Fatalf("expected ErrNotMapped after unmap, got %v", err)
	}
}

func TestMapPageAlreadyMapped(t *testing.T) {
	pool := withPaging(t)
	m, err := New(pool.allocFn())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	f := pool.allocFrame()
	v := mem.VirtAddr(0xFFFFFFFF90001000)
	p := mem.PhysAddr(f.Address())

	if err := m.MapPage(v, p, FlagPresent|FlagWrite, pool.allocFn()); err != nil {
		t.Fatalf("first MapPage: %v", err)
	}
	if err := m.MapPage(v, p, FlagPresent|FlagWrite, pool.allocFn()); err != ErrAlreadyMapped {
		t.Fatalf("expected ErrAlreadyMapped, got %v", err)
	}
}

func TestMapPageBadAlignment(t *testing.T) {
	pool := withPaging(t)
	m, err := New(pool.allocFn())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := m.MapPage(0x1001, 0x2000, FlagPresent, pool.allocFn()); err != ErrBadAlignment {
		t.Fatalf("expected ErrBadAlignment, got %v", err)
	}
}

func TestSetPageFlagsPreservesAddress(t *testing.T) {
	pool := withPaging(t)
	m, err := New(pool.allocFn())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	f := pool.allocFrame()
	v := mem.VirtAddr(0xFFFFFFFF90002000)
	p := mem.PhysAddr(f.Address())

	if err := m.MapPage(v, p, FlagPresent|FlagWrite, pool.allocFn()); err != nil {
		t.Fatalf("MapPage: %v", err)
	}
	if err := m.SetPageFlags(v, FlagPresent); err != nil {
		t.Fatalf("SetPageFlags: %v", err)
	}

	got, err := m.Translate(v)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != p {
		t.Fatalf("SetPageFlags must not change the physical address: got %x want %x", got, p)
	}
}
