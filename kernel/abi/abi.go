// Package abi is the external C-ABI shim: it exports the exact C symbol
// names the boot loader and assembly glue call, translating between the
// kernel's Go-native components and the C calling convention. The boot
// loader links this package's object code directly; no dynamic loader is
// involved, so every entry point lives behind the cgo_abi build tag and
// keeps its own process-wide state rather than depending on goroutine
// initialization order.
//
//go:build cgo_abi

package abi

/*
#include <stdint.h>
#include <stdbool.h>

typedef struct {
	uint64_t base;
	uint64_t length;
	uint32_t kind;
} CMemoryRegion;

typedef struct {
	uint64_t total_mb;
	uint64_t used_mb;
	uint64_t free_mb;
	uint64_t heap_used_kb;
	uint64_t heap_free_kb;
	uint64_t page_tables;
	double   usage_percent;
} CMemorySummary;

typedef struct {
	uint32_t pid;
	uint32_t parent_pid;
	uint8_t  state;
	uint8_t  priority;
	uint64_t cpu_time_ticks;
	uint64_t created_tsc;
} CProcessInfo;

typedef struct {
	uint64_t total_schedules;
	uint64_t context_switches;
	uint64_t preemptions;
	uint64_t idle_time;
	uint64_t priority_schedules[5];
} CSchedulerStats;
*/
import "C"

import (
	"nucleus/kernel/hhdm"
	"nucleus/kernel/mem/paging"
	"nucleus/kernel/mem/vmm"
	"nucleus/kernel/proc"
	"nucleus/kernel/sched"
	"nucleus/kernel/sync"
)

// kernelState bundles the process-wide singletons the shim dispatches to,
// guarded the same way the teacher's default-manager accessors are: a
// spinlock around pointer reads, never held across the dispatched call.
type kernelState struct {
	lock sync.Spinlock

	pt     *paging.Manager
	vmmMgr *vmm.Manager
	table  *proc.Table
	sched  *sched.Scheduler
}

var kstate kernelState

// currentVMM, currentPT, currentTable, and currentScheduler are the
// global-instance accessors spec §7 names: an unpopulated kstate field
// reaching one of them means an FFI entry point was called before
// rust_memory_init/rust_process_init, which is an implementation bug, not an
// expected runtime condition, so each one faults rather than handing the
// caller a nil to sentinel around.
func currentVMM() *vmm.Manager {
	kstate.lock.Acquire()
	defer kstate.lock.Release()
	if kstate.vmmMgr == nil {
		triggerDoubleFaultFn()
	}
	return kstate.vmmMgr
}

func currentPT() *paging.Manager {
	kstate.lock.Acquire()
	defer kstate.lock.Release()
	if kstate.pt == nil {
		triggerDoubleFaultFn()
	}
	return kstate.pt
}

func currentTable() *proc.Table {
	kstate.lock.Acquire()
	defer kstate.lock.Release()
	if kstate.table == nil {
		triggerDoubleFaultFn()
	}
	return kstate.table
}

func currentScheduler() *sched.Scheduler {
	kstate.lock.Acquire()
	defer kstate.lock.Release()
	if kstate.sched == nil {
		triggerDoubleFaultFn()
	}
	return kstate.sched
}

//export rust_set_hhdm_offset
func rust_set_hhdm_offset(offset C.uint64_t) {
	hhdm.SetOffset(uint64(offset))
}
