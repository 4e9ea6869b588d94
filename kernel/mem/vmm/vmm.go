// Package vmm is the virtual-region manager: it tracks reserved virtual
// ranges, bump-allocates kernel-heap virtual addresses, and maps regions to
// physical frames through a paging.Manager.
package vmm

import (
	"nucleus/kernel"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/paging"
	"nucleus/kernel/mem/pmm"
	"nucleus/kernel/sync"
)

// RegionKind classifies a virtual region.
type RegionKind uint8

const (
	KernelCode RegionKind = iota
	KernelData
	KernelHeap
	KernelStack
	UserCode
	UserData
	UserHeap
	UserStack
)

// RegionFlags describes the access permissions of a Region.
type RegionFlags struct {
	Writable   bool
	User       bool
	Executable bool
}

// translate converts RegionFlags into page-table Flag bits: P is always
// set, writable maps to W, user maps to U, and !executable maps to NX
// (spec §4.D "Flag translation").
func (f RegionFlags) translate() paging.Flag {
	flags := paging.FlagPresent
	if f.Writable {
		flags |= paging.FlagWrite
	}
	if f.User {
		flags |= paging.FlagUser
	}
	if !f.Executable {
		flags |= paging.FlagNoExecute
	}
	return flags
}

// Region is a non-overlapping span of virtual address space.
type Region struct {
	Start, End mem.VirtAddr
	Kind       RegionKind
	Flags      RegionFlags
}

func (r Region) overlaps(o Region) bool {
	return r.Start < o.End && o.Start < r.End
}

// maxRegions bounds the region list, matching the teacher's recurring
// fixed-capacity-array convention.
const maxRegions = 32

// KernelHeapStart and KernelHeapEnd define the 256 MiB kernel-heap virtual
// window (spec §4.D).
const (
	KernelHeapStart mem.VirtAddr = 0xFFFFFFFF90000000
	KernelHeapEnd    mem.VirtAddr = 0xFFFFFFFFA0000000
)

var (
	errRegionOverlap  = &kernel.Error{Module: "vmm", Message: "region overlap"}
	errHeapExhausted  = &kernel.Error{Module: "vmm", Message: "kernel heap exhausted"}
	errTooManyRegions = &kernel.Error{Module: "vmm", Message: "region table full"}
)

// Manager is the virtual-region manager for the kernel's single shared
// address space.
type Manager struct {
	lock sync.Spinlock

	regions     [maxRegions]Region
	regionCount int

	heapStart, heapCurrent, heapEnd mem.VirtAddr

	pt         *paging.Manager
	allocFrame pmm.AllocFn
}

// New returns a Manager backed by pt for mapping and allocFrame as its
// frame source, with the kernel-heap bump pointer reset to the start of
// the heap window.
func New(pt *paging.Manager, allocFrame pmm.AllocFn) *Manager {
	return &Manager{
		heapStart:   KernelHeapStart,
		heapCurrent: KernelHeapStart,
		heapEnd:     KernelHeapEnd,
		pt:          pt,
		allocFrame:  allocFrame,
	}
}

// AddRegion registers r, rejecting any overlap with an existing region.
func (m *Manager) AddRegion(r Region) *kernel.Error {
	m.lock.Acquire()
	defer m.lock.Release()

	if m.regionCount >= maxRegions {
		return errTooManyRegions
	}
	for i := 0; i < m.regionCount; i++ {
		if m.regions[i].overlaps(r) {
			return errRegionOverlap
		}
	}
	m.regions[m.regionCount] = r
	m.regionCount++
	return nil
}

// FindRegion returns the region containing v, if any.
func (m *Manager) FindRegion(v mem.VirtAddr) (Region, bool) {
	m.lock.Acquire()
	defer m.lock.Release()

	for i := 0; i < m.regionCount; i++ {
		if v >= m.regions[i].Start && v < m.regions[i].End {
			return m.regions[i], true
		}
	}
	return Region{}, false
}

// AllocateKernelHeap rounds size up to a page and bump-allocates that much
// virtual address space from the kernel-heap window.
func (m *Manager) AllocateKernelHeap(size mem.Size) (mem.VirtAddr, *kernel.Error) {
	m.lock.Acquire()
	defer m.lock.Release()

	aligned := size.AlignUp()
	start := m.heapCurrent
	next := start + mem.VirtAddr(aligned)
	if next > m.heapEnd {
		return 0, errHeapExhausted
	}
	m.heapCurrent = next
	return start, nil
}

// MapRegion walks the page-aligned VAs in [r.Start, r.End), allocating a
// fresh frame for each and mapping it with r.Flags translated to PTE bits.
func (m *Manager) MapRegion(r Region) *kernel.Error {
	flags := r.Flags.translate()
	for v := r.Start; v < r.End; v += mem.VirtAddr(mem.PageSize) {
		f, err := m.allocFrame()
		if err != nil {
			return err
		}
		if err := m.pt.MapPage(v, mem.PhysAddr(f.Address()), flags, m.allocFrame); err != nil {
			return err
		}
	}
	return nil
}

// AllocateAndMap reserves size bytes of kernel-heap VA space, registers it
// as a KernelHeap region, maps it, and returns the VA.
func (m *Manager) AllocateAndMap(size mem.Size, flags RegionFlags) (mem.VirtAddr, *kernel.Error) {
	va, err := m.AllocateKernelHeap(size)
	if err != nil {
		return 0, err
	}

	r := Region{Start: va, End: va + mem.VirtAddr(size.AlignUp()), Kind: KernelHeap, Flags: flags}
	if err := m.AddRegion(r); err != nil {
		return 0, err
	}
	if err := m.MapRegion(r); err != nil {
		return 0, err
	}
	return va, nil
}

// UnmapRegion tears down the page-table mappings covering [start, start+size),
// without reclaiming the virtual address range itself (the bump allocator
// never frees VA space, matching the page-table manager's policy of never
// freeing intermediate tables).
func (m *Manager) UnmapRegion(start mem.VirtAddr, size mem.Size) {
	aligned := size.AlignUp()
	n := int(uint64(aligned) / uint64(mem.PageSize))
	m.pt.UnmapRange(start, n)
}

// HeapUsage reports how much of the kernel-heap virtual window has been
// reserved so far and how much remains.
func (m *Manager) HeapUsage() (used, free mem.Size) {
	m.lock.Acquire()
	defer m.lock.Release()

	used = mem.Size(m.heapCurrent - m.heapStart)
	free = mem.Size(m.heapEnd - m.heapCurrent)
	return
}
