// Package buddy implements a lazy-initialized binary buddy allocator over
// physical memory frames. Frame metadata is stored as a single contiguous
// array placed inside the first Available boot region large enough to hold
// it; regions that have not yet been touched by the buddy path are served
// from a lazy bump pointer instead of being pre-initialized one free-list
// entry at a time.
package buddy

import (
	"nucleus/kernel"
	"nucleus/kernel/bootinfo"
	"nucleus/kernel/hhdm"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/pmm"
	"nucleus/kernel/sync"
	"unsafe"
)

// MaxOrder is the highest supported buddy order: 2^9 frames == 2 MiB.
const MaxOrder = 9

var (
	errNotInitialized = &kernel.Error{Module: "buddy", Message: "allocator not initialized"}
	errOutOfMemory    = &kernel.Error{Module: "buddy", Message: "out of memory"}
	errInvalidOrder   = &kernel.Error{Module: "buddy", Message: "invalid order"}
	errNoRegion       = &kernel.Error{Module: "buddy", Message: "no available region large enough for frame metadata"}
)

// frameMeta is the per-frame bookkeeping record described in spec §3.
type frameMeta struct {
	order       uint8
	free        bool
	initialized bool
	nextFree    pmm.Frame
}

// lazyRegion is an uninitialized sub-region of frame indices not yet
// touched by the buddy path, served by the lazy bump pointer.
type lazyRegion struct {
	start, end pmm.Frame // half-open [start, end)
}

// Stats reports allocator-wide counters, exposed via rust_memory_summary and
// the hostsim pprof wiring.
type Stats struct {
	TotalFrames       uint64
	AllocatedFrames   uint64
	FreeFrames        uint64
	InitializedFrames uint64
	OrdersInUse       [MaxOrder + 1]uint32
}

// Allocator is the lazy buddy allocator. The zero value is not usable; call
// Init with the boot-supplied memory map.
type Allocator struct {
	lock sync.Spinlock

	frames      []frameMeta
	totalFrames uint64

	freeList [MaxOrder + 1]pmm.Frame

	lazyRegions  [bootinfo.MaxRegions]lazyRegion
	lazyCount    int
	currentIndex int
	currentFrame pmm.Frame

	allocated   uint64
	initialized uint64
}

// New returns an unitialized Allocator.
func New() *Allocator {
	a := &Allocator{}
	for i := range a.freeList {
		a.freeList[i] = pmm.InvalidFrame
	}
	return a
}

// Init computes the total tracked frame count from the Available regions in
// the supplied memory map, places the frame metadata array inside the first
// Available region with enough room for it, and records the remaining
// uninitialized sub-regions for lazy allocation. HHDM must already be
// initialized.
func (a *Allocator) Init(regions []bootinfo.MemoryRegion) *kernel.Error {
	if !hhdm.Initialized() {
		return errNotInitialized
	}

	var maxEnd uint64
	for _, r := range regions {
		if r.Kind != bootinfo.Available {
			continue
		}
		base := alignUp(r.PhysAddress)
		end := alignDown(r.End())
		if end <= base {
			continue
		}
		if end > maxEnd {
			maxEnd = end
		}
	}
	if maxEnd == 0 {
		return errNoRegion
	}

	totalFrames := maxEnd >> mem.PageShift
	metaSize := totalFrames * uint64(unsafe.Sizeof(frameMeta{}))

	var metaBase uint64
	found := false
	for _, r := range regions {
		if r.Kind != bootinfo.Available {
			continue
		}
		base := alignUp(r.PhysAddress)
		end := alignDown(r.End())
		if end <= base {
			continue
		}
		if end-base >= metaSize {
			metaBase = base
			found = true
			break
		}
	}
	if !found {
		return errNoRegion
	}

	metaVirt := hhdm.PhysToVirt(mem.PhysAddr(metaBase))
	a.frames = unsafe.Slice((*frameMeta)(unsafe.Pointer(uintptr(metaVirt))), totalFrames)
	for i := range a.frames {
		a.frames[i] = frameMeta{}
	}
	a.totalFrames = totalFrames
	metaFrames := (metaSize + uint64(mem.PageSize) - 1) >> mem.PageShift

	a.lazyCount = 0
	for _, r := range regions {
		if r.Kind != bootinfo.Available {
			continue
		}
		base := alignUp(r.PhysAddress)
		end := alignDown(r.End())
		if end <= base {
			continue
		}
		start := base >> mem.PageShift
		stop := end >> mem.PageShift
		if base == metaBase {
			start += metaFrames
		}
		if start >= stop {
			continue
		}
		if a.lazyCount >= bootinfo.MaxRegions {
			break
		}
		a.lazyRegions[a.lazyCount] = lazyRegion{start: pmm.Frame(start), end: pmm.Frame(stop)}
		a.lazyCount++
	}

	a.currentIndex = 0
	if a.lazyCount > 0 {
		a.currentFrame = a.lazyRegions[0].start
	}

	for i := range a.freeList {
		a.freeList[i] = pmm.InvalidFrame
	}
	a.allocated = 0
	a.initialized = 0

	return nil
}

func alignUp(v uint64) uint64 {
	return (v + uint64(mem.PageSize) - 1) &^ (uint64(mem.PageSize) - 1)
}

func alignDown(v uint64) uint64 {
	return v &^ (uint64(mem.PageSize) - 1)
}

// AllocFrame allocates a single (order 0) frame.
func (a *Allocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	return a.AllocOrder(0)
}

// AllocOrder allocates 2^order contiguous frames. The first frame is not
// necessarily aligned to 2^order: blocks carved from the lazy pool start
// wherever the pool pointer stands.
func (a *Allocator) AllocOrder(order uint8) (pmm.Frame, *kernel.Error) {
	if order > MaxOrder {
		return pmm.InvalidFrame, errInvalidOrder
	}
	if a.frames == nil {
		return pmm.InvalidFrame, errNotInitialized
	}

	a.lock.Acquire()
	defer a.lock.Release()

	for j := int(order); j <= MaxOrder; j++ {
		head := a.freeList[j]
		if !head.Valid() {
			continue
		}

		a.popFree(j, head)
		a.frames[head].free = false

		for j > int(order) {
			j--
			buddy := head + pmm.Frame(1<<uint(j))
			if uint64(buddy) < a.totalFrames {
				a.pushFree(j, buddy)
			}
		}

		a.frames[head].order = order
		a.allocated += uint64(1) << order
		return head, nil
	}

	frame, err := a.allocFromLazyPool(order)
	if err != nil {
		return pmm.InvalidFrame, err
	}
	a.allocated += uint64(1) << order
	return frame, nil
}

// allocFromLazyPool slices 2^order frames off the lazy bump pointer,
// advancing to the next uninitialized sub-region as each one is exhausted.
func (a *Allocator) allocFromLazyPool(order uint8) (pmm.Frame, *kernel.Error) {
	span := pmm.Frame(1 << order)

	for a.currentIndex < a.lazyCount {
		region := a.lazyRegions[a.currentIndex]
		if a.currentFrame < region.start {
			a.currentFrame = region.start
		}
		if region.end-a.currentFrame >= span {
			first := a.currentFrame
			for i := pmm.Frame(0); i < span; i++ {
				idx := first + i
				a.frames[idx] = frameMeta{order: order, free: false, initialized: true}
			}
			a.initialized += uint64(span)
			a.currentFrame += span
			return first, nil
		}
		a.currentIndex++
		if a.currentIndex < a.lazyCount {
			a.currentFrame = a.lazyRegions[a.currentIndex].start
		}
	}

	return pmm.InvalidFrame, errOutOfMemory
}

// FreeFrame releases a single (order 0) frame.
func (a *Allocator) FreeFrame(f pmm.Frame) {
	a.FreeOrder(f, 0)
}

// FreeOrder releases a 2^order run of frames previously returned by
// AllocOrder, merging with its buddy repeatedly while possible.
func (a *Allocator) FreeOrder(i pmm.Frame, order uint8) {
	if a.frames == nil || uint64(i) >= a.totalFrames {
		return
	}

	a.lock.Acquire()
	defer a.lock.Release()

	if !a.frames[i].initialized {
		return
	}

	k := order
	for k < MaxOrder {
		b := i ^ pmm.Frame(1<<k)
		if uint64(b) >= a.totalFrames {
			break
		}
		if !(a.frames[b].initialized && a.frames[b].free && a.frames[b].order == k) {
			break
		}
		a.removeFree(k, b)
		if b < i {
			i = b
		}
		k++
	}

	a.frames[i] = frameMeta{order: k, free: true, initialized: true}
	a.pushFree(k, i)
	a.allocated -= uint64(1) << order
}

func (a *Allocator) pushFree(order int, f pmm.Frame) {
	a.frames[f].order = uint8(order)
	a.frames[f].free = true
	a.frames[f].initialized = true
	a.frames[f].nextFree = a.freeList[order]
	a.freeList[order] = f
}

func (a *Allocator) popFree(order int, f pmm.Frame) {
	a.removeFree(order, f)
}

// removeFree splices f out of the order-th free list via a linear scan, as
// spec §4.B step 2 of deallocate_order requires.
func (a *Allocator) removeFree(order int, f pmm.Frame) {
	head := a.freeList[order]
	if head == f {
		a.freeList[order] = a.frames[f].nextFree
		return
	}
	for cur := head; cur.Valid(); cur = a.frames[cur].nextFree {
		if a.frames[cur].nextFree == f {
			a.frames[cur].nextFree = a.frames[f].nextFree
			return
		}
	}
}

// Stats returns a snapshot of the allocator's counters.
func (a *Allocator) Stats() Stats {
	a.lock.Acquire()
	defer a.lock.Release()

	s := Stats{
		TotalFrames:       a.totalFrames,
		AllocatedFrames:   a.allocated,
		InitializedFrames: a.initialized,
	}
	s.FreeFrames = s.TotalFrames - s.AllocatedFrames
	for order, head := range a.freeList {
		for cur := head; cur.Valid(); cur = a.frames[cur].nextFree {
			s.OrdersInUse[order]++
		}
	}
	return s
}
