package ipc

import (
	"nucleus/kernel"
	"nucleus/kernel/proc"
	"nucleus/kernel/sched/queue"
	"nucleus/kernel/sync"
)

// ErrAlreadyOwned is returned when the current owner attempts to lock again.
var ErrAlreadyOwned = &kernel.Error{Module: "ipc", Message: "mutex already owned by caller"}

// ErrNotOwner is returned when a non-owner attempts to unlock.
var ErrNotOwner = &kernel.Error{Module: "ipc", Message: "unlock attempted by non-owner"}

// Mutex is a strictly binary lock with a bounded wait list and ownership
// transfer on unlock.
type Mutex struct {
	lock sync.Spinlock

	owner   proc.PID
	held    bool
	waiters queue.FIFO
}

// NewMutex returns an unheld Mutex.
func NewMutex() *Mutex {
	return &Mutex{}
}

// Lock attempts to acquire the mutex for pid. If unheld, it is acquired
// immediately (true, nil). If held by pid itself, ErrAlreadyOwned is
// returned. Otherwise pid is enqueued as a waiter and Lock returns
// (false, nil): the caller must block itself.
func (m *Mutex) Lock(pid proc.PID) (acquired bool, err *kernel.Error) {
	m.lock.Acquire()
	defer m.lock.Release()

	if !m.held {
		m.held = true
		m.owner = pid
		return true, nil
	}
	if m.owner == pid {
		return false, ErrAlreadyOwned
	}
	if m.waiters.Len() >= maxWaiters {
		return false, ErrTooManyWaiters
	}
	m.waiters.Enqueue(pid)
	return false, nil
}

// Unlock releases the mutex, which must currently be held by pid. If a
// waiter is queued, ownership transfers directly to it (the returned PID,
// true) and the caller is responsible for waking it; otherwise the mutex
// becomes unheld and (0, false) is returned.
func (m *Mutex) Unlock(pid proc.PID) (nextOwner proc.PID, transferred bool, err *kernel.Error) {
	m.lock.Acquire()
	defer m.lock.Release()

	if !m.held || m.owner != pid {
		return 0, false, ErrNotOwner
	}

	if next, ok := m.waiters.Dequeue(); ok {
		m.owner = next
		return next, true, nil
	}
	m.held = false
	m.owner = 0
	return 0, false, nil
}

// Owner reports the current owner and whether the mutex is held.
func (m *Mutex) Owner() (proc.PID, bool) {
	m.lock.Acquire()
	defer m.lock.Release()
	return m.owner, m.held
}
