package vmm

import (
	"nucleus/kernel"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/paging"
	"nucleus/kernel/mem/pmm"
)

var (
	defaultManager *Manager

	errNotInitialized = &kernel.Error{Module: "vmm", Message: "vmm not initialized"}
)

// Init installs the process-wide VMM singleton (spec §5 "global memory
// manager"), used both by in-kernel callers that don't hold their own
// *Manager and by kernel/goruntime's sysReserve/sysMap/sysAlloc hooks.
func Init(pt *paging.Manager, allocFrame pmm.AllocFn) {
	defaultManager = New(pt, allocFrame)
}

// Default returns the process-wide VMM singleton.
func Default() *Manager {
	return defaultManager
}

// Page is a page-aligned virtual address expressed as a page index,
// matching pmm.Frame's index-based convention.
type Page uintptr

// PageFromAddress returns the Page containing addr.
func PageFromAddress(addr uintptr) Page {
	return Page(addr >> mem.PageShift)
}

// Address returns the page-aligned virtual address this Page represents.
func (p Page) Address() uintptr {
	return uintptr(p) << mem.PageShift
}

// EarlyReserveRegion reserves regionSize bytes of kernel-heap virtual
// address space from the default manager without mapping it, for use by
// kernel/goruntime's sysReserve/sysAlloc hooks before the Go allocator's
// own bookkeeping is available.
func EarlyReserveRegion(regionSize mem.Size) (mem.VirtAddr, *kernel.Error) {
	if defaultManager == nil {
		return 0, errNotInitialized
	}
	return defaultManager.AllocateKernelHeap(regionSize)
}

// Map installs a single page mapping through the default manager's paging
// manager and frame allocator.
func Map(page Page, frame pmm.Frame, flags paging.Flag) *kernel.Error {
	if defaultManager == nil {
		return errNotInitialized
	}
	return defaultManager.pt.MapPage(mem.VirtAddr(page.Address()), mem.PhysAddr(frame.Address()), flags, defaultManager.allocFrame)
}
