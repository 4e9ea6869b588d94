//go:build cgo_abi

package abi

/*
#include <stdint.h>
*/
import "C"

import (
	"nucleus/kernel"
	"nucleus/kernel/hhdm"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/paging"
	"nucleus/kernel/mem/pmm"
	"nucleus/kernel/mem/vmm"
	"nucleus/kernel/proc"
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

// resetKState clears kstate's singleton pointers for the duration of a test,
// restoring them on cleanup, so tests don't leak state into one another
// without copying the spinlock embedded in kernelState.
func resetKState(t *testing.T) {
	t.Helper()
	savedPT, savedVMM, savedTable, savedSched := kstate.pt, kstate.vmmMgr, kstate.table, kstate.sched
	kstate.pt, kstate.vmmMgr, kstate.table, kstate.sched = nil, nil, nil, nil
	t.Cleanup(func() {
		kstate.pt, kstate.vmmMgr, kstate.table, kstate.sched = savedPT, savedVMM, savedTable, savedSched
	})
}

// withMockedDoubleFault substitutes a non-halting stand-in for
// trigger_double_fault and returns a pointer the test can inspect to see
// whether a fatal condition fired.
func withMockedDoubleFault(t *testing.T) *bool {
	t.Helper()
	faulted := false
	saved := triggerDoubleFaultFn
	triggerDoubleFaultFn = func() { faulted = true }
	t.Cleanup(func() { triggerDoubleFaultFn = saved })
	return &faulted
}

func newTestTableAndVMM(t *testing.T) (*proc.Table, *vmm.Manager) {
	t.Helper()
	hhdm.SetOffset(0)
	t.Cleanup(func() { hhdm.SetOffset(0) })

	pool := newFakePhysPool(64)
	pt, err := paging.New(pool.allocFn())
	if err != nil {
		t.Fatalf("paging.New: %v", err)
	}
	vmmMgr := vmm.New(pt, pool.allocFn())

	table := proc.NewTable()
	table.Install(&proc.PCB{PID: proc.KernelPID, State: proc.Running, Priority: proc.Realtime})
	table.Install(&proc.PCB{PID: proc.IdlePID, State: proc.Ready, Priority: proc.Idle})

	return table, vmmMgr
}

func TestDestroyCriticalProcessFaults(t *testing.T) {
	resetKState(t)
	table, vmmMgr := newTestTableAndVMM(t)
	kstate.table = table
	kstate.vmmMgr = vmmMgr

	faulted := withMockedDoubleFault(t)

	ret := rust_destroy_process(C.uint32_t(proc.IdlePID))
	if !*faulted {
		t.Fatal("expected rust_destroy_process(1) to invoke trigger_double_fault")
	}
	if ret != -1 {
		t.Fatalf("expected -1, got %d", ret)
	}
}

func TestDestroyKernelProcessFaults(t *testing.T) {
	resetKState(t)
	table, vmmMgr := newTestTableAndVMM(t)
	kstate.table = table
	kstate.vmmMgr = vmmMgr

	faulted := withMockedDoubleFault(t)

	if ret := rust_destroy_process(C.uint32_t(proc.KernelPID)); ret != -1 {
		t.Fatalf("expected -1, got %d", ret)
	}
	if !*faulted {
		t.Fatal("expected rust_destroy_process(0) to invoke trigger_double_fault")
	}
}

func TestDestroyOrdinaryProcessDoesNotFault(t *testing.T) {
	resetKState(t)
	table, vmmMgr := newTestTableAndVMM(t)
	kstate.table = table
	kstate.vmmMgr = vmmMgr

	pcb, err := table.Create(proc.KernelPID, "transient")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	faulted := withMockedDoubleFault(t)

	if ret := rust_destroy_process(C.uint32_t(pcb.PID)); ret != 0 {
		t.Fatalf("expected 0, got %d", ret)
	}
	if *faulted {
		t.Fatal("did not expect trigger_double_fault for an ordinary process")
	}
}

func TestAccessorsFaultWhenUnpopulated(t *testing.T) {
	resetKState(t)
	faulted := withMockedDoubleFault(t)

	currentVMM()
	if !*faulted {
		t.Fatal("expected currentVMM to fault when kstate.vmmMgr is nil")
	}
	*faulted = false

	currentPT()
	if !*faulted {
		t.Fatal("expected currentPT to fault when kstate.pt is nil")
	}
	*faulted = false

	currentTable()
	if !*faulted {
		t.Fatal("expected currentTable to fault when kstate.table is nil")
	}
	*faulted = false

	currentScheduler()
	if !*faulted {
		t.Fatal("expected currentScheduler to fault when kstate.sched is nil")
	}
}

func TestAccessorsDoNotFaultOncePopulated(t *testing.T) {
	resetKState(t)
	_, vmmMgr := newTestTableAndVMM(t)
	kstate.vmmMgr = vmmMgr

	faulted := withMockedDoubleFault(t)

	if currentVMM() == nil {
		t.Fatal("expected currentVMM to return the installed manager")
	}
	if *faulted {
		t.Fatal("did not expect trigger_double_fault once kstate is populated")
	}
}
