package buddy

import (
	"nucleus/kernel"
	"nucleus/kernel/bootinfo"
	"nucleus/kernel/mem/pmm"
)

// defaultAllocator is the process-wide physical allocator singleton (spec
// §5 "global memory manager"). Every in-kernel caller goes through the
// package-level functions below rather than holding their own *Allocator,
// mirroring the teacher's package-level allocator.AllocFrame convention.
var defaultAllocator = New()

// Init initializes the default allocator from the boot memory map.
func Init(regions []bootinfo.MemoryRegion) *kernel.Error {
	return defaultAllocator.Init(regions)
}

// AllocFrame allocates a single frame from the default allocator.
func AllocFrame() (pmm.Frame, *kernel.Error) {
	return defaultAllocator.AllocFrame()
}

// AllocOrder allocates 2^order frames from the default allocator.
func AllocOrder(order uint8) (pmm.Frame, *kernel.Error) {
	return defaultAllocator.AllocOrder(order)
}

// FreeFrame releases a single frame to the default allocator.
func FreeFrame(f pmm.Frame) {
	defaultAllocator.FreeFrame(f)
}

// FreeOrder releases 2^order frames to the default allocator.
func FreeOrder(f pmm.Frame, order uint8) {
	defaultAllocator.FreeOrder(f, order)
}

// GetStats returns a snapshot of the default allocator's counters.
func GetStats() Stats {
	return defaultAllocator.Stats()
}

// Default returns the process-wide allocator singleton, for components
// (paging, vmm) that need to pass its AllocFrame method as a capability.
func Default() *Allocator {
	return defaultAllocator
}
