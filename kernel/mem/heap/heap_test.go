package heap

import (
	"nucleus/kernel"
	"nucleus/kernel/hhdm"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/paging"
	"nucleus/kernel/mem/pmm"
	"nucleus/kernel/mem/vmm"
	"testing"
	"unsafe"
)

type fakePhysPool struct {
	next uintptr
}

func newFakePhysPool(pages int) *fakePhysPool {
	raw := make([]byte, (pages+1)*int(mem.PageSize))
	base := uintptr(unsafe.Pointer(&raw[0]))
	aligned := (base + uintptr(mem.PageSize) - 1) &^ uintptr(mem.PageSize-1)
	return &fakePhysPool{next: aligned}
}

func (p *fakePhysPool) allocFn() pmm.AllocFn {
	return func() (pmm.Frame, *kernel.Error) {
		addr := p.next
		p.next += uintptr(mem.PageSize)
		return pmm.Frame(addr >> mem.PageShift), nil
	}
}

func newTestHeap(t *testing.T) *Heap {
	t.Helper()
	hhdm.SetOffset(0)
	t.Cleanup(func() { hhdm.SetOffset(0) })

	pool := newFakePhysPool(256)
	pt, err := paging.New(pool.allocFn())
	if err != nil {
		t.Fatalf("paging.New: %v", err)
	}
	vmmMgr := vmm.New(pt, pool.allocFn())
	return New(vmmMgr)
}

func TestAllocateZeroIsInvalidSize(t *testing.T) {
	h := newTestHeap(t)
	if _, err := h.Allocate(0); err != errInvalidSize {
		t.Fatalf("expected errInvalidSize, got %v", err)
	}
}

func TestAllocateDeallocateRestoresUsage(t *testing.T) {
	h := newTestHeap(t)

	before := h.Stats().Usage

	p, err := h.Allocate(128)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if p == 0 {
		t.Fatal("expected non-nil pointer")
	}

	if err := h.Deallocate(p); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}

	if after := h.Stats().Usage; after != before {
		t.Fatalf("expected usage to return to %d, got %d", before, after)
	}
}

func TestDeallocateNilIsNoop(t *testing.T) {
	h := newTestHeap(t)
	if err := h.Deallocate(0); err != nil {
		t.Fatalf("expected nil error for kfree(null), got %v", err)
	}
}

func TestDoubleFreeDetected(t *testing.T) {
	h := newTestHeap(t)

	p, err := h.Allocate(64)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := h.Deallocate(p); err != nil {
		t.Fatalf("first Deallocate: %v", err)
	}
	if err := h.Deallocate(p); err != errDoubleFree {
		t.Fatalf("expected errDoubleFree on second Deallocate, got %v", err)
	}
}

func TestDeallocateRejectsPointerOutsideHeap(t *testing.T) {
	h := newTestHeap(t)

	if _, err := h.Allocate(64); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	var stray uint64
	if err := h.Deallocate(uintptr(unsafe.Pointer(&stray))); err != errInvalidPointer {
		t.Fatalf("expected errInvalidPointer for a pointer never handed out by this heap, got %v", err)
	}
}

func TestLIFOAllocDeallocReturnsSamePointer(t *testing.T) {
	h := newTestHeap(t)

	first, err := h.Allocate(96)
	if err != nil {
		t.Fatalf("initial Allocate: %v", err)
	}
	if err := h.Deallocate(first); err != nil {
		t.Fatalf("initial Deallocate: %v", err)
	}

	for i := 0; i < 4; i++ {
		p, err := h.Allocate(96)
		if err != nil {
			t.Fatalf("Allocate iteration %d: %v", i, err)
		}
		if p != first {
			t.Fatalf("iteration %d: expected LIFO reuse to hand back %x, got %x", i, first, p)
		}
		if err := h.Deallocate(p); err != nil {
			t.Fatalf("Deallocate iteration %d: %v", i, err)
		}
	}
}
