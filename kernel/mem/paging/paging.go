// Package paging implements the four-level x86_64 page-table manager
// (PML4/PDPT/PD/PT). Unlike a recursive self-mapping design, every level is
// reached by dereferencing its physical address through the HHDM, which
// this package assumes is already initialized.
package paging

import (
	"nucleus/kernel"
	"nucleus/kernel/cpu"
	"nucleus/kernel/hhdm"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/pmm"
	"unsafe"
)

// Flag is a bitmask of page-table entry flags, matching the x86_64 PTE
// layout bit-for-bit so Manager can store them directly.
type Flag uint64

const (
	FlagPresent Flag = 1 << 0
	FlagWrite   Flag = 1 << 1
	FlagUser    Flag = 1 << 2
	FlagPWT     Flag = 1 << 3
	FlagPCD     Flag = 1 << 4
	FlagAccessed Flag = 1 << 5
	FlagDirty   Flag = 1 << 6
	FlagHuge    Flag = 1 << 7
	FlagGlobal  Flag = 1 << 8
	FlagNoExecute Flag = 1 << 63
)

const (
	addrMask    = uint64(0x000FFFFFFFFFF000)
	flagMask    = ^addrMask &^ uint64(FlagNoExecute)
	entriesPerTable = 512
)

var (
	ErrBadAlignment  = &kernel.Error{Module: "paging", Message: "address is not page aligned"}
	ErrAlreadyMapped = &kernel.Error{Module: "paging", Message: "page already mapped"}
	ErrNotMapped     = &kernel.Error{Module: "paging", Message: "page not mapped"}
)

// pageTableEntry is one 64-bit slot of a page table.
type pageTableEntry uint64

func (e pageTableEntry) present() bool { return Flag(e)&FlagPresent != 0 }
func (e pageTableEntry) addr() mem.PhysAddr {
	return mem.PhysAddr(uint64(e) & addrMask)
}
func makeEntry(addr mem.PhysAddr, flags Flag) pageTableEntry {
	return pageTableEntry(uint64(addr)&addrMask | uint64(flags))
}

// table is a 4 KiB page of 512 entries, accessed through its HHDM virtual
// address.
type table = *[entriesPerTable]pageTableEntry

func tableAt(phys mem.PhysAddr) table {
	return (table)(unsafe.Pointer(uintptr(hhdm.PhysToVirt(phys))))
}

// split returns the four page-table indices for a canonical virtual
// address, per spec §4.C.
func split(v mem.VirtAddr) (pml4, pdpt, pd, pt int) {
	u := uint64(v)
	pml4 = int((u >> 39) & 0x1FF)
	pdpt = int((u >> 30) & 0x1FF)
	pd = int((u >> 21) & 0x1FF)
	pt = int((u >> 12) & 0x1FF)
	return
}

// Manager owns a single PML4 root and is the page-table manager for the
// kernel's single shared address space.
type Manager struct {
	pml4Phys mem.PhysAddr

	// tableFrames counts the intermediate PML4/PDPT/PD/PT frames this
	// Manager has allocated itself. A Manager built over an already-live
	// CR3 via FromCurrent has no way to learn how many frames its
	// predecessor allocated, so it starts at zero; the count only ever
	// reflects growth observed through this *Manager.
	tableFrames uint64
}

// FromCurrent constructs a Manager over the currently active CR3, as
// reported by cpu.ActivePDT.
func FromCurrent() *Manager {
	return &Manager{pml4Phys: mem.PhysAddr(cpu.ActivePDT())}
}

// New allocates and zeroes a fresh PML4 via allocFrame, returning a Manager
// rooted at it.
func New(allocFrame pmm.AllocFn) (*Manager, *kernel.Error) {
	f, err := allocFrame()
	if err != nil {
		return nil, err
	}
	zeroTable(tableAt(mem.PhysAddr(f.Address())))
	return &Manager{pml4Phys: mem.PhysAddr(f.Address()), tableFrames: 1}, nil
}

// TableFrameCount returns the number of page-table frames (PML4 included)
// this Manager has allocated, for reporting in a memory summary.
func (m *Manager) TableFrameCount() uint64 {
	return m.tableFrames
}

func zeroTable(t table) {
	for i := range t {
		t[i] = 0
	}
}

// Root returns the manager's root PML4 physical address, suitable for
// loading into CR3 via cpu.SwitchPDT.
func (m *Manager) Root() mem.PhysAddr {
	return m.pml4Phys
}

// walkOrAlloc descends from the PML4 to the PD level, allocating and
// zeroing any missing intermediate table. Intermediate entries are always
// installed PRESENT|WRITE (spec §4.C, §9): the effective permission is
// clamped at the leaf, not at intermediate levels. The USER bit is
// propagated from leafFlags so a user leaf's walk succeeds.
func (m *Manager) walkOrAlloc(v mem.VirtAddr, leafFlags Flag, allocFrame pmm.AllocFn) (table, int, *kernel.Error) {
	pml4i, pdpti, pdi, pti := split(v)

	pml4 := tableAt(m.pml4Phys)
	pdpt, err := m.descendOrAlloc(pml4, pml4i, leafFlags, allocFrame)
	if err != nil {
		return nil, 0, err
	}
	pd, err := m.descendOrAlloc(pdpt, pdpti, leafFlags, allocFrame)
	if err != nil {
		return nil, 0, err
	}
	pt, err := m.descendOrAlloc(pd, pdi, leafFlags, allocFrame)
	if err != nil {
		return nil, 0, err
	}
	return pt, pti, nil
}

func (m *Manager) descendOrAlloc(t table, index int, leafFlags Flag, allocFrame pmm.AllocFn) (table, *kernel.Error) {
	e := t[index]
	if e.present() {
		return tableAt(e.addr()), nil
	}

	f, err := allocFrame()
	if err != nil {
		return nil, err
	}
	child := tableAt(mem.PhysAddr(f.Address()))
	zeroTable(child)
	m.tableFrames++

	flags := FlagPresent | FlagWrite
	if leafFlags&FlagUser != 0 {
		flags |= FlagUser
	}
	t[index] = makeEntry(mem.PhysAddr(f.Address()), flags)
	return child, nil
}

// walkReadOnly descends without allocating, returning ErrNotMapped if any
// intermediate level is absent.
func (m *Manager) walkReadOnly(v mem.VirtAddr) (table, int, *kernel.Error) {
	pml4i, pdpti, pdi, pti := split(v)

	pml4 := tableAt(m.pml4Phys)
	e := pml4[pml4i]
	if !e.present() {
		return nil, 0, ErrNotMapped
	}
	pdpt := tableAt(e.addr())

	e = pdpt[pdpti]
	if !e.present() {
		return nil, 0, ErrNotMapped
	}
	pd := tableAt(e.addr())

	e = pd[pdi]
	if !e.present() {
		return nil, 0, ErrNotMapped
	}
	pt := tableAt(e.addr())

	return pt, pti, nil
}

func aligned(a uint64) bool {
	return a&uint64(mem.PageSize-1) == 0
}

// MapPage maps virtual page v to physical frame p with the given flags,
// per spec §4.C.
func (m *Manager) MapPage(v mem.VirtAddr, p mem.PhysAddr, flags Flag, allocFrame pmm.AllocFn) *kernel.Error {
	if !aligned(uint64(v)) || !aligned(uint64(p)) {
		return ErrBadAlignment
	}

	pt, pti, err := m.walkOrAlloc(v, flags, allocFrame)
	if err != nil {
		return err
	}

	if pt[pti].present() {
		return ErrAlreadyMapped
	}

	pt[pti] = makeEntry(p, flags|FlagPresent)
	cpu.FlushTLBEntry(uintptr(v))
	return nil
}

// UnmapPage removes the mapping for v, returning the physical frame that
// was mapped there. Intermediate tables are never freed.
func (m *Manager) UnmapPage(v mem.VirtAddr) (mem.PhysAddr, *kernel.Error) {
	pt, pti, err := m.walkReadOnly(v)
	if err != nil {
		return 0, err
	}
	if !pt[pti].present() {
		return 0, ErrNotMapped
	}

	p := pt[pti].addr()
	pt[pti] = 0
	cpu.FlushTLBEntry(uintptr(v))
	return p, nil
}

// Translate resolves v to a physical address, preserving the intra-page
// offset. v need not be page-aligned.
func (m *Manager) Translate(v mem.VirtAddr) (mem.PhysAddr, *kernel.Error) {
	aligned := mem.VirtAddr(uintptr(v) &^ uintptr(mem.PageSize-1))
	pt, pti, err := m.walkReadOnly(aligned)
	if err != nil {
		return 0, err
	}
	if !pt[pti].present() {
		return 0, ErrNotMapped
	}
	offset := uint64(v) & uint64(mem.PageSize-1)
	return mem.PhysAddr(uint64(pt[pti].addr()) | offset), nil
}

// PageFlags returns the flags currently installed on the leaf entry for v.
func (m *Manager) PageFlags(v mem.VirtAddr) (Flag, *kernel.Error) {
	pt, pti, err := m.walkReadOnly(v)
	if err != nil {
		return 0, err
	}
	if !pt[pti].present() {
		return 0, ErrNotMapped
	}
	return Flag(pt[pti]) &^ Flag(addrMask), nil
}

// SetPageFlags replaces the flags of an existing mapping, preserving its
// physical address.
func (m *Manager) SetPageFlags(v mem.VirtAddr, flags Flag) *kernel.Error {
	pt, pti, err := m.walkReadOnly(v)
	if err != nil {
		return err
	}
	if !pt[pti].present() {
		return ErrNotMapped
	}

	addr := pt[pti].addr()
	pt[pti] = makeEntry(addr, flags|FlagPresent)
	cpu.FlushTLBEntry(uintptr(v))
	return nil
}

// MapRange maps n consecutive pages starting at v to n consecutive frames
// starting at p, stopping at the first failure.
func (m *Manager) MapRange(v mem.VirtAddr, p mem.PhysAddr, n int, flags Flag, allocFrame pmm.AllocFn) *kernel.Error {
	for i := 0; i < n; i++ {
		off := mem.VirtAddr(uint64(i) * uint64(mem.PageSize))
		poff := mem.PhysAddr(uint64(i) * uint64(mem.PageSize))
		if err := m.MapPage(v+off, p+poff, flags, allocFrame); err != nil {
			return err
		}
	}
	return nil
}

// UnmapRange unmaps n consecutive pages starting at v, continuing past
// individual failures and returning the physical frames actually released.
func (m *Manager) UnmapRange(v mem.VirtAddr, n int) []mem.PhysAddr {
	released := make([]mem.PhysAddr, 0, n)
	for i := 0; i < n; i++ {
		off := mem.VirtAddr(uint64(i) * uint64(mem.PageSize))
		if p, err := m.UnmapPage(v + off); err == nil {
			released = append(released, p)
		}
	}
	return released
}

// CloneCurrentHighHalf copies the kernel-half PML4 entries (index 256..512)
// from the current manager into a fresh PML4, leaving the low half (user
// space) empty. Invocation is out of scope for this core; the operation is
// specified for a future per-process address-space extension.
func (m *Manager) CloneCurrentHighHalf(allocFrame pmm.AllocFn) (*Manager, *kernel.Error) {
	dst, err := New(allocFrame)
	if err != nil {
		return nil, err
	}

	src := tableAt(m.pml4Phys)
	dstTable := tableAt(dst.pml4Phys)
	for i := entriesPerTable / 2; i < entriesPerTable; i++ {
		dstTable[i] = src[i]
	}
	return dst, nil
}
