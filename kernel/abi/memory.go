//go:build cgo_abi

package abi

/*
#include <stdint.h>
#include <stdbool.h>
*/
import "C"

import (
	"nucleus/kernel"
	"nucleus/kernel/bootinfo"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/heap"
	"nucleus/kernel/mem/paging"
	"nucleus/kernel/mem/pmm"
	"nucleus/kernel/mem/pmm/buddy"
	"nucleus/kernel/mem/protect"
	"nucleus/kernel/mem/vmm"
	"unsafe"
)

func errCode(err *kernel.Error) C.int32_t {
	if err != nil {
		return -1
	}
	return 0
}

//export rust_memory_init
func rust_memory_init(regions *C.CMemoryRegion, count C.size_t) C.int32_t {
	n := int(count)
	slice := unsafe.Slice(regions, n)

	converted := make([]bootinfo.MemoryRegion, n)
	for i, r := range slice {
		converted[i] = bootinfo.MemoryRegion{
			PhysAddress: uint64(r.base),
			Length:      uint64(r.length),
			Kind:        bootinfo.RegionKind(r.kind),
		}
	}

	if err := buddy.Init(converted); err != nil {
		return -1
	}

	pt := paging.FromCurrent()
	vmm.Init(pt, buddy.AllocFrame)
	vmmMgr := vmm.Default()
	heap.Init(vmmMgr)

	kstate.lock.Acquire()
	kstate.pt = pt
	kstate.vmmMgr = vmmMgr
	kstate.lock.Release()

	return 0
}

//export rust_kmalloc
func rust_kmalloc(size C.size_t) *C.uint8_t {
	p, err := heap.Allocate(uint64(size))
	if err != nil {
		return nil
	}
	return (*C.uint8_t)(unsafe.Pointer(p))
}

//export rust_kfree
func rust_kfree(ptr *C.uint8_t) {
	heap.Deallocate(uintptr(unsafe.Pointer(ptr)))
}

//export rust_alloc_page
func rust_alloc_page() C.uint64_t {
	f, err := buddy.AllocFrame()
	if err != nil {
		return 0
	}
	return C.uint64_t(f.Address())
}

//export rust_free_page
func rust_free_page(addr C.uint64_t) {
	buddy.FreeFrame(pmm.FromAddress(mem.PhysAddr(addr)))
}

//export rust_alloc_pages
func rust_alloc_pages(count C.size_t) C.uint64_t {
	order := orderForCount(uint64(count))
	f, err := buddy.AllocOrder(order)
	if err != nil {
		return 0
	}
	return C.uint64_t(f.Address())
}

//export rust_free_pages
func rust_free_pages(addr C.uint64_t, count C.size_t) {
	order := orderForCount(uint64(count))
	buddy.FreeOrder(pmm.FromAddress(mem.PhysAddr(addr)), order)
}

// orderForCount returns the smallest order whose 2^order page run covers
// count pages.
func orderForCount(count uint64) uint8 {
	var order uint8
	for (uint64(1) << order) < count {
		order++
	}
	return order
}

//export rust_map_page
func rust_map_page(virt, phys C.uint64_t, flags C.uint64_t) C.int32_t {
	pt := currentPT()
	if pt == nil {
		return -1
	}
	err := pt.MapPage(mem.VirtAddr(virt), mem.PhysAddr(phys), paging.Flag(flags), buddy.AllocFrame)
	return errCode(err)
}

//export rust_unmap_page
func rust_unmap_page(virt C.uint64_t) C.uint64_t {
	pt := currentPT()
	if pt == nil {
		return 0
	}
	p, err := pt.UnmapPage(mem.VirtAddr(virt))
	if err != nil {
		return 0
	}
	return C.uint64_t(p)
}

//export rust_virt_to_phys
func rust_virt_to_phys(virt C.uint64_t) C.uint64_t {
	pt := currentPT()
	if pt == nil {
		return 0
	}
	p, err := pt.Translate(mem.VirtAddr(virt))
	if err != nil {
		return 0
	}
	return C.uint64_t(p)
}

//export rust_vmm_allocate
func rust_vmm_allocate(size C.uint64_t) C.uint64_t {
	vmmMgr := currentVMM()
	if vmmMgr == nil {
		return 0
	}
	va, err := vmmMgr.AllocateKernelHeap(mem.Size(size))
	if err != nil {
		return 0
	}
	return C.uint64_t(va)
}

//export rust_vmm_map_and_allocate
func rust_vmm_map_and_allocate(size C.uint64_t, outAddr *C.uint64_t) C.int32_t {
	vmmMgr := currentVMM()
	if vmmMgr == nil {
		return -1
	}
	va, err := vmmMgr.AllocateAndMap(mem.Size(size), vmm.RegionFlags{Writable: true})
	if err != nil {
		return -1
	}
	if outAddr != nil {
		*outAddr = C.uint64_t(va)
	}
	return 0
}

//export rust_vmm_get_heap_usage
func rust_vmm_get_heap_usage(outUsed, outFree *C.uint64_t) {
	vmmMgr := currentVMM()
	if vmmMgr == nil {
		return
	}
	used, free := vmmMgr.HeapUsage()
	if outUsed != nil {
		*outUsed = C.uint64_t(used)
	}
	if outFree != nil {
		*outFree = C.uint64_t(free)
	}
}

//export rust_set_page_readonly
func rust_set_page_readonly(virt C.uint64_t) C.int32_t {
	pt := currentPT()
	if pt == nil {
		return -1
	}
	return errCode(protect.KernelReadOnly(pt, mem.VirtAddr(virt)))
}

//export rust_set_page_readwrite
func rust_set_page_readwrite(virt C.uint64_t) C.int32_t {
	pt := currentPT()
	if pt == nil {
		return -1
	}
	return errCode(protect.KernelReadWrite(pt, mem.VirtAddr(virt)))
}

//export rust_set_page_no_execute
func rust_set_page_no_execute(virt C.uint64_t) C.int32_t {
	pt := currentPT()
	if pt == nil {
		return -1
	}
	f, err := protect.Get(pt, mem.VirtAddr(virt))
	if err != nil {
		return -1
	}
	f.Executable = false
	return errCode(protect.Set(pt, mem.VirtAddr(virt), f))
}

//export rust_get_page_flags
func rust_get_page_flags(virt C.uint64_t, present, writable, user, executable *C.bool) C.int32_t {
	pt := currentPT()
	if pt == nil {
		return -1
	}
	f, err := protect.Get(pt, mem.VirtAddr(virt))
	if err != nil {
		return -1
	}
	if present != nil {
		*present = C.bool(f.Present)
	}
	if writable != nil {
		*writable = C.bool(f.Writable)
	}
	if user != nil {
		*user = C.bool(f.User)
	}
	if executable != nil {
		*executable = C.bool(f.Executable)
	}
	return 0
}

//export rust_memory_summary
func rust_memory_summary(out *C.CMemorySummary) C.int32_t {
	if out == nil {
		return -1
	}
	vmmMgr := currentVMM()
	pt := currentPT()
	if vmmMgr == nil || pt == nil {
		return -1
	}

	stats := buddy.GetStats()
	used, free := vmmMgr.HeapUsage()

	const mb = 1 << 20
	totalBytes := stats.TotalFrames * uint64(mem.PageSize)
	usedBytes := stats.AllocatedFrames * uint64(mem.PageSize)
	freeBytes := stats.FreeFrames * uint64(mem.PageSize)

	out.total_mb = C.uint64_t(totalBytes / mb)
	out.used_mb = C.uint64_t(usedBytes / mb)
	out.free_mb = C.uint64_t(freeBytes / mb)
	out.heap_used_kb = C.uint64_t(uint64(used) / 1024)
	out.heap_free_kb = C.uint64_t(uint64(free) / 1024)

	out.page_tables = C.uint64_t(pt.TableFrameCount())

	if totalBytes > 0 {
		out.usage_percent = C.double(float64(usedBytes) / float64(totalBytes) * 100)
	}
	return 0
}

//export rust_heap_stats
func rust_heap_stats(outTotalAllocated, outTotalFreed, outUsage, outAllocCount, outFreeCount *C.size_t) {
	stats, err := heap.GetStats()
	if err != nil {
		return
	}
	if outTotalAllocated != nil {
		*outTotalAllocated = C.size_t(stats.TotalAllocated)
	}
	if outTotalFreed != nil {
		*outTotalFreed = C.size_t(stats.TotalFreed)
	}
	if outUsage != nil {
		*outUsage = C.size_t(stats.Usage)
	}
	if outAllocCount != nil {
		*outAllocCount = C.size_t(stats.AllocCount)
	}
	if outFreeCount != nil {
		*outFreeCount = C.size_t(stats.FreeCount)
	}
}
