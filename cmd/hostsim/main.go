// Command hostsim runs the kernel's memory and scheduling components
// against a fake HHDM/CR3 backing (plain Go byte slices standing in for
// physical RAM), so their logic can be exercised and profiled without a
// boot loader. It is a developer convenience, not part of the kernel
// core's scope.
//
//go:build hostsim

package main

import (
	"flag"
	"fmt"
	"os"
	"unsafe"

	"nucleus/kernel/bootinfo"
	"nucleus/kernel/hhdm"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/paging"
	"nucleus/kernel/mem/pmm/buddy"
	"nucleus/kernel/mem/vmm"
)

var profilePath = flag.String("profile", "", "write a pprof profile of allocator/heap stats to this path")

func main() {
	flag.Parse()

	ram := make([]byte, 128<<20)
	hhdm.SetOffset(uint64(fakeBackingAddr(ram)))

	regions := []bootinfo.MemoryRegion{
		{PhysAddress: 0, Length: mem.PageSize, Kind: bootinfo.Reserved},
		{PhysAddress: uint64(mem.PageSize), Length: uint64(len(ram)) - uint64(mem.PageSize), Kind: bootinfo.Available},
	}
	if err := buddy.Init(regions); err != nil {
		fmt.Fprintln(os.Stderr, "buddy.Init:", err)
		os.Exit(1)
	}

	pt, err := paging.New(buddy.AllocFrame)
	if err != nil {
		fmt.Fprintln(os.Stderr, "paging.New:", err)
		os.Exit(1)
	}
	vmm.Init(pt, buddy.AllocFrame)

	fmt.Println("hostsim: buddy + paging + vmm initialized against fake RAM")

	if *profilePath != "" {
		if err := writeStatsProfile(*profilePath); err != nil {
			fmt.Fprintln(os.Stderr, "writeStatsProfile:", err)
			os.Exit(1)
		}
		fmt.Println("hostsim: wrote stats profile to", *profilePath)
	}
}

// fakeBackingAddr treats ram's first byte as physical address zero, so the
// HHDM offset aliases physical address p at &ram[0]+p, exactly as a real
// direct map would.
func fakeBackingAddr(ram []byte) uintptr {
	return uintptr(unsafe.Pointer(&ram[0]))
}
