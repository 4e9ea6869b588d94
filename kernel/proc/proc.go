// Package proc implements the process control block: per-process state,
// saved execution context, stacks, and the fixed-size process table.
package proc

import (
	"nucleus/kernel"
	"nucleus/kernel/cpu"
	"nucleus/kernel/irq"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/vmm"
)

// PID identifies a process table slot.
type PID uint32

const (
	// KernelPID is the permanent sentinel representing the kernel itself.
	// It is marked Running at boot but never enqueued or scheduled.
	KernelPID PID = 0
	// IdlePID is the permanent idle process, selected whenever the ready
	// queue is empty.
	IdlePID PID = 1

	// MaxProcesses bounds the process table (spec §3 "PCBs: slots in a
	// fixed-size (256) process table").
	MaxProcesses = 256

	nameSize = 32

	// KernelStackSize and UserStackSize are the per-process stack sizes
	// requested from the VMM/paging layers; the spec names only the
	// rounding rule (ceil to pages), not a concrete size.
	KernelStackSize = 16 * 1024
	UserStackSize   = 64 * 1024
)

// State is a PCB's lifecycle state.
type State uint8

const (
	Created State = iota
	Ready
	Running
	Blocked
	Zombie
	Terminated
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Zombie:
		return "zombie"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Priority orders scheduling eligibility; numerically smaller runs first.
type Priority uint8

const (
	Realtime Priority = iota
	High
	Normal
	Low
	Idle

	numPriorities = 5
)

// DefaultTimeSlices gives the scheduler tick budget per priority, indexed by
// Priority (spec §4.H: "{20, 15, 10, 5, 1}").
var DefaultTimeSlices = [numPriorities]uint32{20, 15, 10, 5, 1}

// BlockReason records why a process was moved to Blocked.
type BlockReason uint8

const (
	BlockNone BlockReason = iota
	BlockOnSemaphore
	BlockOnMutex
	BlockOnMessageQueue
	BlockOnSleep
)

// Context is the saved execution state of a process, laid out to match the
// CPU's interrupt-return frame exactly, so the external switch_context
// primitive can treat a *Context like the frame the CPU already produces
// on interrupt entry.
type Context struct {
	Regs            irq.Regs
	InterruptNumber uint64
	ErrorCode       uint64
	Frame           irq.Frame
}

// Ring selector pairs used by InitKernelContext/InitUserContext.
const (
	kernelCS = 0x08
	kernelSS = 0x10
	userCS   = 0x1B
	userSS   = 0x23

	rflagsIF       = 1 << 9
	rflagsReserved = 0x2
)

// InitKernelContext fills ctx with the register state of a freshly created
// kernel-ring process about to start executing at entry on stackTop.
func (c *Context) InitKernelContext(entry, stackTop uintptr) {
	*c = Context{}
	c.Frame.RIP = uint64(entry)
	c.Frame.RSP = uint64(stackTop)
	c.Frame.CS = kernelCS
	c.Frame.SS = kernelSS
	c.Frame.RFlags = rflagsIF | rflagsReserved
}

// InitUserContext fills ctx with the register state of a freshly created
// user-ring process.
func (c *Context) InitUserContext(entry, stackTop uintptr) {
	*c = Context{}
	c.Frame.RIP = uint64(entry)
	c.Frame.RSP = uint64(stackTop)
	c.Frame.CS = userCS
	c.Frame.SS = userSS
	c.Frame.RFlags = rflagsIF | rflagsReserved
}

// PCB is a single process control block.
type PCB struct {
	PID       PID
	ParentPID PID
	name      [nameSize]byte

	State       State
	BlockReason BlockReason
	Priority    Priority

	Context Context

	KStackBase, KStackTop uintptr
	UStackBase, UStackTop uintptr

	EntryPoint  uintptr
	ExitCode    int32
	HasExitCode bool

	TimeSliceLeft uint32
	CPUTimeTicks  uint64
	CreatedTSC    uint64
}

// newPCB constructs a PCB in state Created, priority Normal, with a
// null-truncated copy of name.
func newPCB(pid, parent PID, name string) *PCB {
	p := &PCB{
		PID:        pid,
		ParentPID:  parent,
		State:      Created,
		Priority:   Normal,
		CreatedTSC: cpu.ReadTSC(),
	}
	n := copy(p.name[:], name)
	if n < nameSize {
		p.name[n] = 0
	}
	return p
}

// Name returns the process's null-truncated name.
func (p *PCB) Name() string {
	n := 0
	for n < nameSize && p.name[n] != 0 {
		n++
	}
	return string(p.name[:n])
}

// AllocateKernelStack reserves and maps a kernel stack of KernelStackSize
// bytes via vmmMgr, recording (base, top) in the PCB.
func (p *PCB) AllocateKernelStack(vmmMgr *vmm.Manager) *kernel.Error {
	base, err := vmmMgr.AllocateAndMap(mem.Size(KernelStackSize), vmm.RegionFlags{Writable: true})
	if err != nil {
		return err
	}
	p.KStackBase = uintptr(base)
	p.KStackTop = uintptr(base) + KernelStackSize
	return nil
}

// AllocateUserStack reserves and maps a user stack of UserStackSize bytes.
func (p *PCB) AllocateUserStack(vmmMgr *vmm.Manager) *kernel.Error {
	base, err := vmmMgr.AllocateAndMap(mem.Size(UserStackSize), vmm.RegionFlags{Writable: true, User: true})
	if err != nil {
		return err
	}
	p.UStackBase = uintptr(base)
	p.UStackTop = uintptr(base) + UserStackSize
	return nil
}
