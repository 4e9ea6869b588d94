package heap

import (
	"nucleus/kernel"
	"nucleus/kernel/mem/vmm"
)

var (
	defaultHeap *Heap

	errNotInitialized = &kernel.Error{Module: "heap", Message: "heap not initialized"}
)

// Init installs the process-wide kernel heap singleton, backed by vmmMgr.
func Init(vmmMgr *vmm.Manager) {
	defaultHeap = New(vmmMgr)
}

// Allocate allocates size bytes from the default heap.
func Allocate(size uint64) (uintptr, *kernel.Error) {
	if defaultHeap == nil {
		return 0, errNotInitialized
	}
	return defaultHeap.Allocate(size)
}

// Deallocate frees a pointer previously returned by Allocate. A nil pointer
// is a no-op (spec §8 "kfree(null) is a no-op").
func Deallocate(p uintptr) *kernel.Error {
	if defaultHeap == nil {
		return errNotInitialized
	}
	return defaultHeap.Deallocate(p)
}

// GetStats returns a snapshot of the default heap's counters.
func GetStats() (Stats, *kernel.Error) {
	if defaultHeap == nil {
		return Stats{}, errNotInitialized
	}
	return defaultHeap.Stats(), nil
}
