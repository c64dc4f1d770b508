package schedule

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrSchedulerInvariant reports corrupted ordering state: an entry that is
// missing when it must be present, or present when it must not be. It is a
// programming-error class and fatal to the run; the queue cannot be safely
// continued once its bookkeeping disagrees with itself.
var ErrSchedulerInvariant = errors.New("scheduler invariant violation")

// Scheduler is a min-priority queue of scheduled consolidators ordered by
// ScanPriority.
//
// Every registered entry appears in the queue exactly once between driver
// steps; PopDue removes a batch and Requeue reinserts each member after
// its scan. A single driver goroutine performs those two calls; ingestion
// goroutines feeding disjoint consolidators may call Resort concurrently,
// so all mutations are serialized by an internal mutex and the pop/compare
// path is linearizable.
type Scheduler struct {
	mu      sync.Mutex
	entries scanHeap
	byID    map[int64]*entry
}

// entry is a heap slot. index is -1 while the entry is registered but
// popped out for scanning.
type entry struct {
	sc    *ScheduledConsolidator
	index int
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{byID: make(map[int64]*entry)}
}

// Register inserts a newly wrapped consolidator. Registering an identity
// twice is an invariant violation.
func (s *Scheduler) Register(sc *ScheduledConsolidator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := sc.Identity()
	if _, ok := s.byID[id]; ok {
		return fmt.Errorf("%w: identity %d registered twice", ErrSchedulerInvariant, id)
	}

	e := &entry{sc: sc}
	s.byID[id] = e
	heap.Push(&s.entries, e)
	return nil
}

// Deregister removes the identity from the scheduler. It is safe to call
// with a pending due instant and reports whether the identity was known.
func (s *Scheduler) Deregister(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	if e.index >= 0 {
		heap.Remove(&s.entries, e.index)
	}
	return true
}

// PopDue removes and returns every entry whose due instant is at or before
// now, in ascending (due, identity) order. Entries stay registered; the
// driver scans them and hands them back through Requeue.
func (s *Scheduler) PopDue(now time.Time) []*ScheduledConsolidator {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*ScheduledConsolidator
	for s.entries.Len() > 0 {
		min := s.entries[0]
		if min.sc.DueUTC().After(now) {
			break
		}
		heap.Pop(&s.entries)
		min.index = -1
		due = append(due, min.sc)
	}
	return due
}

// Requeue reinserts an entry previously returned by PopDue. Requeueing an
// entry that was deregistered mid-scan is a silent no-op; requeueing one
// that is still in the heap is an invariant violation.
func (s *Scheduler) Requeue(sc *ScheduledConsolidator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[sc.Identity()]
	if !ok {
		return nil
	}
	if e.index >= 0 {
		return fmt.Errorf("%w: identity %d requeued while still queued (due %s)",
			ErrSchedulerInvariant, sc.Identity(), sc.DueUTC().Format(time.RFC3339Nano))
	}
	heap.Push(&s.entries, e)
	return nil
}

// Resort restores heap order for one identity after a feed-path due
// recompute. Unknown identities are an invariant violation: the caller
// routed a point to a consolidator the scheduler does not own.
func (s *Scheduler) Resort(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: resort of unknown identity %d", ErrSchedulerInvariant, id)
	}
	if e.index >= 0 {
		heap.Fix(&s.entries, e.index)
	}
	return nil
}

// PeekMinDue returns the earliest due instant without removing anything,
// so a live driver can sleep until the next scan instead of polling. The
// second return is false when nothing is queued.
func (s *Scheduler) PeekMinDue() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries.Len() == 0 {
		return time.Time{}, false
	}
	return s.entries[0].sc.DueUTC(), true
}

// Len returns the number of registered identities.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// scanHeap implements container/heap over ScanPriority order.
type scanHeap []*entry

func (h scanHeap) Len() int { return len(h) }

func (h scanHeap) Less(i, j int) bool {
	return Compare(h[i].sc.Priority(), h[j].sc.Priority()) < 0
}

func (h scanHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *scanHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *scanHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
