package reconcile

import "container/heap"

// Scheduler is a priority queue of (fire-at, callback) pairs advanced by
// the engine's own tick. Scheduling under an existing name replaces the
// previous entry, which is how a block cancels the attack keyframes that
// are still in flight.
type Scheduler struct {
	tasks taskHeap
	named map[string]*task
}

type task struct {
	name     string
	at       float64
	fn       func()
	index    int
	canceled bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{named: make(map[string]*task)}
}

// Schedule registers fn to fire once the scheduler has advanced to at.
func (s *Scheduler) Schedule(name string, at float64, fn func()) {
	s.Cancel(name)
	t := &task{name: name, at: at, fn: fn}
	s.named[name] = t
	heap.Push(&s.tasks, t)
}

// Cancel drops a pending entry; unknown names are a no-op.
func (s *Scheduler) Cancel(name string) {
	if t, ok := s.named[name]; ok {
		t.canceled = true
		delete(s.named, name)
	}
}

// Advance fires every due callback in fire-at order.
func (s *Scheduler) Advance(now float64) {
	for s.tasks.Len() > 0 {
		next := s.tasks[0]
		if next.canceled {
			heap.Pop(&s.tasks)
			continue
		}
		if next.at > now {
			return
		}
		heap.Pop(&s.tasks)
		delete(s.named, next.name)
		next.fn()
	}
}

// Pending reports whether an entry with this name is still scheduled.
func (s *Scheduler) Pending(name string) bool {
	_, ok := s.named[name]
	return ok
}

type taskHeap []*task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].at < h[j].at }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *taskHeap) Push(x interface{}) { t := x.(*task); t.index = len(*h); *h = append(*h, t) }
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
