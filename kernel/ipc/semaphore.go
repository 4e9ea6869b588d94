package ipc

import (
	"nucleus/kernel"
	"nucleus/kernel/proc"
	"nucleus/kernel/sched/queue"
	"nucleus/kernel/sync"
)

// ErrTooManyWaiters is returned when a semaphore's or mutex's wait list has
// reached its bound (spec §4.J / §7: "bounded wait list (≤32 PIDs)").
var ErrTooManyWaiters = &kernel.Error{Module: "ipc", Message: "too many waiters"}

// maxWaiters bounds a semaphore's or mutex's wait list at 32 PIDs, tighter
// than queue.FIFO's own 256-slot capacity (which sizes the scheduler's
// process-wide ready/blocked sets, not a single IPC object's waiters).
const maxWaiters = 32

// Semaphore is a signed counting semaphore with a bounded wait list. The
// caller is responsible for actually blocking/waking the PID that Wait/Signal
// name; the semaphore only tracks who should do so.
type Semaphore struct {
	lock sync.Spinlock

	count int32
	wait  queue.FIFO
}

// NewSemaphore returns a Semaphore initialized to count.
func NewSemaphore(count int32) *Semaphore {
	return &Semaphore{count: count}
}

// Wait attempts to acquire the semaphore for pid. If the count is positive it
// decrements and returns (true, nil): the caller may proceed. Otherwise pid
// is pushed onto the wait list and Wait returns (false, nil): the caller
// must block itself. ErrTooManyWaiters is returned if the wait list is full.
func (s *Semaphore) Wait(pid proc.PID) (acquired bool, err *kernel.Error) {
	s.lock.Acquire()
	defer s.lock.Release()

	if s.count > 0 {
		s.count--
		return true, nil
	}
	if s.wait.Len() >= maxWaiters {
		return false, ErrTooManyWaiters
	}
	s.wait.Enqueue(pid)
	return false, nil
}

// Signal wakes the first waiter if any, returning its PID and true. If no
// one is waiting, it increments the count and returns (0, false).
func (s *Semaphore) Signal() (proc.PID, bool) {
	s.lock.Acquire()
	defer s.lock.Release()

	if pid, ok := s.wait.Dequeue(); ok {
		return pid, true
	}
	s.count++
	return 0, false
}

// Count returns the current signed counter value.
func (s *Semaphore) Count() int32 {
	s.lock.Acquire()
	defer s.lock.Release()
	return s.count
}
