package proc

import (
	"nucleus/kernel"
	"nucleus/kernel/hhdm"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/paging"
	"nucleus/kernel/mem/pmm"
	"nucleus/kernel/mem/vmm"
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

func newTestVMM(t *testing.T) *vmm.Manager {
	t.Helper()
	hhdm.SetOffset(0)
	t.Cleanup(func() { hhdm.SetOffset(0) })

	pool := newFakePhysPool(256)
	pt, err := paging.New(pool.allocFn())
	if err != nil {
		t.Fatalf("paging.New: %v", err)
	}
	return vmm.New(pt, pool.allocFn())
}

func TestNewPCBDefaults(t *testing.T) {
	p := newPCB(5, KernelPID, "worker")

	if p.State != Created {
		t.Fatalf("expected state Created, got %v", p.State)
	}
	if p.Priority != Normal {
		t.Fatalf("expected priority Normal, got %v", p.Priority)
	}
	if p.Name() != "worker" {
		t.Fatalf("expected name %q, got %q", "worker", p.Name())
	}
	if p.CreatedTSC == 0 {
		t.Fatal("expected created_tsc to be seeded from RDTSC")
	}
}

func TestNameTruncation(t *testing.T) {
	long := "this-name-is-definitely-longer-than-32-bytes"
	p := newPCB(5, KernelPID, long)
	if got := p.Name(); got != long[:nameSize] {
		t.Fatalf("expected truncated name %q, got %q", long[:nameSize], got)
	}
}

func TestInitKernelContext(t *testing.T) {
	var c Context
	c.InitKernelContext(0xDEADBEEF, 0xCAFEBABE)

	if c.Frame.RIP != 0xDEADBEEF {
		t.Fatalf("expected RIP 0xDEADBEEF, got %x", c.Frame.RIP)
	}
	if c.Frame.RSP != 0xCAFEBABE {
		t.Fatalf("expected RSP 0xCAFEBABE, got %x", c.Frame.RSP)
	}
	if c.Frame.CS != kernelCS || c.Frame.SS != kernelSS {
		t.Fatalf("expected kernel ring selectors, got CS=%x SS=%x", c.Frame.CS, c.Frame.SS)
	}
	if c.Frame.RFlags&rflagsIF == 0 {
		t.Fatal("expected IF set in RFLAGS")
	}
}

func TestInitUserContext(t *testing.T) {
	var c Context
	c.InitUserContext(0x1000, 0x2000)

	if c.Frame.CS != userCS || c.Frame.SS != userSS {
		t.Fatalf("expected user ring selectors, got CS=%x SS=%x", c.Frame.CS, c.Frame.SS)
	}
}

func TestAllocateKernelStack(t *testing.T) {
	vmmMgr := newTestVMM(t)
	p := newPCB(5, KernelPID, "worker")

	if err := p.AllocateKernelStack(vmmMgr); err != nil {
		t.Fatalf("AllocateKernelStack: %v", err)
	}
	if p.KStackTop-p.KStackBase != KernelStackSize {
		t.Fatalf("expected stack size %d, got %d", KernelStackSize, p.KStackTop-p.KStackBase)
	}
}

func TestTableCreateRecyclesPIDsStartingAtTwo(t *testing.T) {
	tbl := NewTable()

	first, err := tbl.Create(KernelPID, "a")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if first.PID != 2 {
		t.Fatalf("expected first recycled PID to be 2, got %d", first.PID)
	}

	second, err := tbl.Create(KernelPID, "b")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if second.PID != 3 {
		t.Fatalf("expected second recycled PID to be 3, got %d", second.PID)
	}
}

func TestTableDestroyCriticalProcessFails(t *testing.T) {
	tbl := NewTable()
	vmmMgr := newTestVMM(t)

	for pid := PID(0); pid <= 2; pid++ {
		if pid < 2 {
			tbl.Install(newPCB(pid, KernelPID, "critical"))
		} else {
			p, err := tbl.Create(KernelPID, "critical")
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if p.PID != 2 {
				t.Fatalf("expected PID 2, got %d", p.PID)
			}
		}
		if err := tbl.Destroy(pid, vmmMgr); err != ErrCriticalTerminated {
			t.Fatalf("expected ErrCriticalTerminated for PID %d, got %v", pid, err)
		}
	}
}

func TestTableDestroyFreesSlotForReuse(t *testing.T) {
	tbl := NewTable()
	vmmMgr := newTestVMM(t)

	p, err := tbl.Create(KernelPID, "transient")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := tbl.Destroy(p.PID, vmmMgr); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if tbl.Get(p.PID) != nil {
		t.Fatalf("expected slot %d to be cleared after Destroy", p.PID)
	}
}

func TestTablePidExhausted(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < MaxProcesses-2; i++ {
		if _, err := tbl.Create(KernelPID, "p"); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}
	if _, err := tbl.Create(KernelPID, "overflow"); err != ErrPidExhausted {
		t.Fatalf("expected ErrPidExhausted, got %v", err)
	}
}
