// Package heap implements the kernel's free-list byte allocator atop the
// virtual-region manager: a singly-linked list of blocks threaded through
// memory via embedded headers, first-fit with splitting and coalescing.
package heap

import (
	"nucleus/kernel"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/vmm"
	"nucleus/kernel/sync"
	"unsafe"
)

const (
	minPayload  = 8
	alignment   = 8
	extentChunk = 4096
)

// blockHeader sits immediately before every allocation's payload.
type blockHeader struct {
	size uint64
	free bool
	next *blockHeader
}

var headerSize = uint64(unsafe.Sizeof(blockHeader{}))

var (
	errInvalidSize    = &kernel.Error{Module: "heap", Message: "invalid allocation size"}
	errInvalidPointer = &kernel.Error{Module: "heap", Message: "pointer outside managed heap range"}
	errDoubleFree     = &kernel.Error{Module: "heap", Message: "double free"}
)

// extent records the bounds of one VMM-backed chunk the heap has grown
// into, so Deallocate can reject a pointer that never came from this heap.
type extent struct {
	start uintptr
	end   uintptr
}

// Stats reports the heap's lifetime and current usage counters.
type Stats struct {
	TotalAllocated uint64
	TotalFreed     uint64
	Usage          uint64
	AllocCount     uint64
	FreeCount      uint64
}

// Heap is a free-list kernel byte allocator. It requests its backing extents
// from a vmm.Manager as needed.
type Heap struct {
	lock sync.Spinlock

	vmmMgr  *vmm.Manager
	head    *blockHeader
	extents []extent

	stats Stats
}

// New returns a Heap that grows by asking vmmMgr for additional extents.
func New(vmmMgr *vmm.Manager) *Heap {
	return &Heap{vmmMgr: vmmMgr}
}

func alignSize(size uint64) uint64 {
	return (size + alignment - 1) &^ (alignment - 1)
}

func headerAt(addr uintptr) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(addr))
}

func payloadOf(h *blockHeader) uintptr {
	return uintptr(unsafe.Pointer(h)) + uintptr(headerSize)
}

// Allocate returns a pointer to a newly allocated block of at least size
// bytes, per spec §4.E.
func (h *Heap) Allocate(size uint64) (uintptr, *kernel.Error) {
	if size == 0 {
		return 0, errInvalidSize
	}

	h.lock.Acquire()
	defer h.lock.Release()

	size = alignSize(size)
	if size < minPayload {
		size = minPayload
	}

	block := h.findFit(size)
	if block == nil {
		var err *kernel.Error
		block, err = h.growAndPrepend(size)
		if err != nil {
			return 0, err
		}
	}

	block.free = false
	h.maybeSplit(block, size)

	h.stats.TotalAllocated += size
	h.stats.Usage += block.size
	h.stats.AllocCount++

	return payloadOf(block), nil
}

func (h *Heap) findFit(size uint64) *blockHeader {
	for b := h.head; b != nil; b = b.next {
		if b.free && b.size >= size {
			return b
		}
	}
	return nil
}

// maybeSplit carves a free tail block out of block if the remainder after
// fitting size is at least header+16B, per spec §4.E step 2.
func (h *Heap) maybeSplit(block *blockHeader, size uint64) {
	remainder := block.size - size
	if remainder < headerSize+16 {
		return
	}

	tailAddr := payloadOf(block) + uintptr(size)
	tail := headerAt(tailAddr)
	tail.size = remainder - headerSize
	tail.free = true
	tail.next = block.next

	block.size = size
	block.next = tail
}

// growAndPrepend requests a fresh extent from the VMM sized to satisfy
// size (rounded up to at least a page), links it at the head of the block
// list as one large non-free block, and returns it for maybeSplit to carve.
func (h *Heap) growAndPrepend(size uint64) (*blockHeader, *kernel.Error) {
	want := size + headerSize
	extentSize := uint64(extentChunk)
	if want > extentSize {
		extentSize = (want + uint64(mem.PageSize) - 1) &^ (uint64(mem.PageSize) - 1)
	}

	flags := vmm.RegionFlags{Writable: true, User: false, Executable: false}
	va, err := h.vmmMgr.AllocateAndMap(mem.Size(extentSize), flags)
	if err != nil {
		return nil, err
	}

	base := uintptr(va)
	h.extents = append(h.extents, extent{start: base, end: base + uintptr(extentSize)})

	block := headerAt(base)
	block.size = extentSize - headerSize
	block.free = false
	block.next = h.head
	h.head = block

	return block, nil
}

// owns reports whether p falls inside an extent this heap obtained from its
// vmm.Manager, i.e. it could possibly be a payload address this heap handed
// out.
func (h *Heap) owns(p uintptr) bool {
	for _, e := range h.extents {
		if p >= e.start && p < e.end {
			return true
		}
	}
	return false
}

// Deallocate frees the block at p, coalescing with an immediately following
// free block and, if the predecessor in list order is also free, with it.
// Only blocks that adjoin each other in memory are merged.
func (h *Heap) Deallocate(p uintptr) *kernel.Error {
	if p == 0 {
		return nil
	}

	h.lock.Acquire()
	defer h.lock.Release()

	if !h.owns(p) {
		return errInvalidPointer
	}

	block := headerAt(p - uintptr(headerSize))
	if block.free {
		return errDoubleFree
	}

	freedSize := block.size
	block.free = true

	if block.next != nil && block.next.free &&
		payloadOf(block)+uintptr(block.size) == uintptr(unsafe.Pointer(block.next)) {
		block.size += headerSize + block.next.size
		block.next = block.next.next
	}

	for b := h.head; b != nil; b = b.next {
		if b.next == block && b.free &&
			payloadOf(b)+uintptr(b.size) == uintptr(unsafe.Pointer(block)) {
			b.size += headerSize + block.size
			b.next = block.next
			break
		}
	}

	h.stats.TotalFreed += freedSize
	h.stats.Usage -= freedSize
	h.stats.FreeCount++

	return nil
}

// Stats returns a snapshot of the heap's counters.
func (h *Heap) Stats() Stats {
	h.lock.Acquire()
	defer h.lock.Release()
	return h.stats
}
