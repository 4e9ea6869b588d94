// Package pmm contains code that manages physical memory frame allocations.
package pmm

import (
	"math"
	"nucleus/kernel"
	"nucleus/kernel/mem"
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns a pointer to the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << mem.PageShift)
}

// FromAddress returns the Frame containing the given physical address.
func FromAddress(addr mem.PhysAddr) Frame {
	return Frame(uintptr(addr) >> mem.PageShift)
}

// AllocFn allocates a single physical frame. It is the seam every higher
// layer (paging, vmm, heap, proc) uses to pull frames from whatever
// allocator singleton is active, without importing buddy directly.
type AllocFn func() (Frame, *kernel.Error)

// AllocOrderFn allocates 2^order contiguous physical frames, returning the
// first frame in the run.
type AllocOrderFn func(order uint8) (Frame, *kernel.Error)
