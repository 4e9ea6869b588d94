// Package sched implements the preemptive priority scheduler: time-slice
// accounting, pick-next selection, and context-switch bookkeeping, atop
// kernel/proc's process table and kernel/sched/queue's bounded FIFOs.
package sched

import (
	"nucleus/kernel"
	"nucleus/kernel/proc"
	"nucleus/kernel/sched/queue"
	"nucleus/kernel/sync"
)

const numPriorities = 5

// Stats tallies scheduler activity across the kernel's lifetime.
type Stats struct {
	TotalSchedules    uint64
	ContextSwitches   uint64
	Preemptions       uint64
	IdleTime          uint64
	PrioritySchedules [numPriorities]uint64
}

// Scheduler owns the process table, the ready queue, and the currently
// running process. It assumes a single CPU with interrupts gated by the
// caller (IF=0) around any critical section, per spec §4.H's model.
type Scheduler struct {
	lock sync.Spinlock

	table *proc.Table
	ready *queue.FIFO

	current   proc.PID
	hasPrev   bool
	enabled   bool

	stats Stats
}

// New returns a Scheduler bound to table, with the kernel process (PID 0)
// set as the current running process and nothing enqueued yet.
func New(table *proc.Table) *Scheduler {
	return &Scheduler{
		table:   table,
		ready:   queue.New(),
		current: proc.KernelPID,
		enabled: true,
	}
}

// Enable turns on preemption; Disable makes Tick a no-op, running the
// kernel as if uniprogrammed.
func (s *Scheduler) Enable()  { s.lock.Acquire(); s.enabled = true; s.lock.Release() }
func (s *Scheduler) Disable() { s.lock.Acquire(); s.enabled = false; s.lock.Release() }

// CurrentPID returns the PID of the process currently marked Running.
func (s *Scheduler) CurrentPID() proc.PID {
	s.lock.Acquire()
	defer s.lock.Release()
	return s.current
}

// Tick decrements the current process's time-slice counter and reports
// whether it has just reached zero (reschedule now), recording one
// preemption on that transition. Disabled schedulers always report false.
func (s *Scheduler) Tick() bool {
	s.lock.Acquire()
	defer s.lock.Release()

	if !s.enabled {
		return false
	}

	pcb := s.table.Get(s.current)
	if pcb == nil || pcb.TimeSliceLeft == 0 {
		return true
	}

	pcb.TimeSliceLeft--
	pcb.CPUTimeTicks++
	if pcb.TimeSliceLeft == 0 {
		s.stats.Preemptions++
		return true
	}
	return false
}

// Enqueue adds pid to the ready queue.
func (s *Scheduler) Enqueue(pid proc.PID) *kernel.Error {
	s.lock.Acquire()
	defer s.lock.Release()
	return s.ready.Enqueue(pid)
}

// PickNext implements the pick-next algorithm of spec §4.H: drain the ready
// queue, discard stale (non-Ready) entries, select the numerically smallest
// priority with FIFO tie-break, re-enqueue the rest, and transition the
// previous Running process and the chosen one.
func (s *Scheduler) PickNext() proc.PID {
	s.lock.Acquire()
	defer s.lock.Release()

	type candidate struct {
		pid      proc.PID
		priority proc.Priority
	}

	var scratch []candidate
	for {
		pid, ok := s.ready.Dequeue()
		if !ok {
			break
		}
		pcb := s.table.Get(pid)
		if pcb == nil || pcb.State != proc.Ready {
			continue
		}
		scratch = append(scratch, candidate{pid, pcb.Priority})
	}

	s.stats.TotalSchedules++

	var chosen proc.PID
	if len(scratch) == 0 {
		chosen = proc.IdlePID
		s.stats.IdleTime++
	} else {
		best := 0
		for i := 1; i < len(scratch); i++ {
			if scratch[i].priority < scratch[best].priority {
				best = i
			}
		}
		chosen = scratch[best].pid
		s.stats.PrioritySchedules[scratch[best].priority]++

		for i, c := range scratch {
			if i != best {
				s.ready.Enqueue(c.pid)
			}
		}
	}

	if s.current != chosen {
		if prev := s.table.Get(s.current); prev != nil && prev.State == proc.Running {
			prev.State = proc.Ready
			// IdlePID is the scratch-empty fallback, not a schedulable
			// entity: it never sits in the ready queue, or it would
			// eventually be drawn as an ordinary priority candidate and
			// stop being counted as idle time. KernelPID is a sentinel
			// that is never enqueued either.
			if s.current != proc.IdlePID && s.current != proc.KernelPID {
				s.ready.Enqueue(s.current)
			}
		}
		s.stats.ContextSwitches++
	}

	if next := s.table.Get(chosen); next != nil {
		next.State = proc.Running
		next.TimeSliceLeft = proc.DefaultTimeSlices[next.Priority]
	}
	s.current = chosen

	return chosen
}

// YieldCPU forces the current process's time slice to expire and picks the
// next process.
func (s *Scheduler) YieldCPU() proc.PID {
	s.lock.Acquire()
	if pcb := s.table.Get(s.current); pcb != nil {
		pcb.TimeSliceLeft = 0
	}
	s.lock.Release()
	return s.PickNext()
}

// BlockCurrent moves the current process to Blocked with the given reason
// and reschedules.
func (s *Scheduler) BlockCurrent(reason proc.BlockReason) proc.PID {
	s.lock.Acquire()
	if pcb := s.table.Get(s.current); pcb != nil {
		pcb.State = proc.Blocked
		pcb.BlockReason = reason
	}
	s.current = proc.IdlePID
	s.lock.Release()
	return s.PickNext()
}

// Wakeup moves pid from Blocked to Ready and enqueues it.
func (s *Scheduler) Wakeup(pid proc.PID) {
	s.lock.Acquire()
	defer s.lock.Release()

	pcb := s.table.Get(pid)
	if pcb == nil || pcb.State != proc.Blocked {
		return
	}
	pcb.State = proc.Ready
	pcb.BlockReason = proc.BlockNone
	s.ready.Enqueue(pid)
}

// Stats returns a snapshot of the scheduler's counters.
func (s *Scheduler) Stats() Stats {
	s.lock.Acquire()
	defer s.lock.Release()
	return s.stats
}
