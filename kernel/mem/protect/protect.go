// Package protect is the protection manager: a thin layer over the
// page-table manager's flag mutation entry point that reads, synthesizes,
// and writes back PTE permission bits.
package protect

import (
	"nucleus/kernel"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/paging"
)

// Flags mirrors the page-table entry's permission bits in a
// hardware-independent shape.
type Flags struct {
	Present    bool
	Writable   bool
	User       bool
	Executable bool
}

func fromPTE(f paging.Flag) Flags {
	return Flags{
		Present:    f&paging.FlagPresent != 0,
		Writable:   f&paging.FlagWrite != 0,
		User:       f&paging.FlagUser != 0,
		Executable: f&paging.FlagNoExecute == 0,
	}
}

func (f Flags) toPTE() paging.Flag {
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

// Get reads the current protection flags for the mapping at v.
func Get(pt *paging.Manager, v mem.VirtAddr) (Flags, *kernel.Error) {
	f, err := pt.PageFlags(v)
	if err != nil {
		return Flags{}, err
	}
	return fromPTE(f), nil
}

// Set writes new protection flags for the mapping at v without changing its
// physical address (spec §4.F: "set_page_protection must not change the
// target's physical address").
func Set(pt *paging.Manager, v mem.VirtAddr, flags Flags) *kernel.Error {
	return pt.SetPageFlags(v, flags.toPTE())
}

// KernelReadOnly applies the kernel read-only preset.
func KernelReadOnly(pt *paging.Manager, v mem.VirtAddr) *kernel.Error {
	return Set(pt, v, Flags{Present: true, Writable: false, User: false, Executable: false})
}

// KernelReadWrite applies the kernel read-write preset.
func KernelReadWrite(pt *paging.Manager, v mem.VirtAddr) *kernel.Error {
	return Set(pt, v, Flags{Present: true, Writable: true, User: false, Executable: false})
}

// KernelExecutable applies the kernel read-execute preset.
func KernelExecutable(pt *paging.Manager, v mem.VirtAddr) *kernel.Error {
	return Set(pt, v, Flags{Present: true, Writable: false, User: false, Executable: true})
}

// UserReadOnly applies the user read-only preset.
func UserReadOnly(pt *paging.Manager, v mem.VirtAddr) *kernel.Error {
	return Set(pt, v, Flags{Present: true, Writable: false, User: true, Executable: false})
}

// UserReadWrite applies the user read-write preset.
func UserReadWrite(pt *paging.Manager, v mem.VirtAddr) *kernel.Error {
	return Set(pt, v, Flags{Present: true, Writable: true, User: true, Executable: false})
}

// UserExecutable applies the user read-execute preset.
func UserExecutable(pt *paging.Manager, v mem.VirtAddr) *kernel.Error {
	return Set(pt, v, Flags{Present: true, Writable: false, User: true, Executable: true})
}

// IsWritable reports whether v is currently mapped writable, short-circuiting
// to false on NotMapped.
func IsWritable(pt *paging.Manager, v mem.VirtAddr) bool {
	f, err := Get(pt, v)
	if err != nil {
		return false
	}
	return f.Writable
}

// IsExecutable reports whether v is currently mapped executable,
// short-circuiting to false on NotMapped.
func IsExecutable(pt *paging.Manager, v mem.VirtAddr) bool {
	f, err := Get(pt, v)
	if err != nil {
		return false
	}
	return f.Executable
}
