package proc

import (
	"nucleus/kernel"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/vmm"
	"nucleus/kernel/sync"
)

var (
	// ErrPidExhausted is returned when the process table has no free slot.
	ErrPidExhausted = &kernel.Error{Module: "proc", Message: "process table full"}
	// ErrCriticalTerminated is returned (and is fatal, per spec §7) when the
	// caller attempts to destroy PID 0, 1, or 2.
	ErrCriticalTerminated = &kernel.Error{Module: "proc", Message: "attempt to destroy a critical process"}
	// ErrNoSuchProcess is returned when a PID names an empty slot.
	ErrNoSuchProcess = &kernel.Error{Module: "proc", Message: "no such process"}
)

// Table is the fixed-size, PID-indexed process table. Slot 0 and 1 are the
// permanent kernel and idle processes; slots 2..255 are recycled by linear
// scan with wraparound.
type Table struct {
	lock sync.Spinlock

	slots    [MaxProcesses]*PCB
	nextScan PID
}

// NewTable returns an empty process table.
func NewTable() *Table {
	return &Table{nextScan: 2}
}

// Install places pcb into the table at its own PID, used for the two
// permanent slots during process_init.
func (t *Table) Install(pcb *PCB) {
	t.lock.Acquire()
	defer t.lock.Release()
	t.slots[pcb.PID] = pcb
}

// Create allocates the next free PID ≥ 2 and installs a new PCB, returning
// ErrPidExhausted if every slot is occupied.
func (t *Table) Create(parent PID, name string) (*PCB, *kernel.Error) {
	t.lock.Acquire()
	defer t.lock.Release()

	start := t.nextScan
	if start < 2 {
		start = 2
	}

	for i := PID(0); i < MaxProcesses-2; i++ {
		candidate := 2 + (start-2+i)%(MaxProcesses-2)
		if t.slots[candidate] == nil {
			pcb := newPCB(candidate, parent, name)
			t.slots[candidate] = pcb
			t.nextScan = candidate + 1
			if t.nextScan >= MaxProcesses {
				t.nextScan = 2
			}
			return pcb, nil
		}
	}
	return nil, ErrPidExhausted
}

// Get returns the PCB at pid, or nil if the slot is empty.
func (t *Table) Get(pid PID) *PCB {
	t.lock.Acquire()
	defer t.lock.Release()
	if pid >= MaxProcesses {
		return nil
	}
	return t.slots[pid]
}

// Destroy releases pid's stacks and clears its slot. Destroying PID 0, 1, or
// 2 is forbidden and reported via ErrCriticalTerminated; the caller (the ABI
// shim) is expected to treat this as fatal per spec §7.
func (t *Table) Destroy(pid PID, vmmMgr *vmm.Manager) *kernel.Error {
	if pid <= 2 {
		return ErrCriticalTerminated
	}

	t.lock.Acquire()
	defer t.lock.Release()

	if pid >= MaxProcesses || t.slots[pid] == nil {
		return ErrNoSuchProcess
	}

	pcb := t.slots[pid]
	if pcb.KStackBase != 0 {
		vmmMgr.UnmapRegion(mem.VirtAddr(pcb.KStackBase), mem.Size(KernelStackSize))
	}
	if pcb.UStackBase != 0 {
		vmmMgr.UnmapRegion(mem.VirtAddr(pcb.UStackBase), mem.Size(UserStackSize))
	}

	t.slots[pid] = nil
	return nil
}
