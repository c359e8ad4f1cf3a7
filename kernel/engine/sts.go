package engine

import (
	"container/heap"
	"sync"
	"time"

	"github.com/rewindlabs/rewind/kernel/model"
	"github.com/rewindlabs/rewind/kernel/observability"
)

// queueItem is one entry in a priority class heap. Urgency is computed at
// enqueue time; seq keeps FIFO order among equally urgent tasks.
type queueItem struct {
	task    *model.Task
	urgency float64
	seq     int
}

// classHeap is a heap keyed on negative deadline urgency, so Pop yields
// the most urgent task first.
type classHeap []*queueItem

func (h classHeap) Len() int { return len(h) }

func (h classHeap) Less(i, j int) bool {
	if h[i].urgency != h[j].urgency {
		return h[i].urgency > h[j].urgency
	}
	return h[i].seq < h[j].seq
}

func (h classHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *classHeap) Push(x interface{}) {
	*h = append(*h, x.(*queueItem))
}

func (h *classHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[0 : n-1]
	return item
}

// STS is the short-term scheduler: a multi-level feedback queue over the
// four priority classes with an energy gate on dequeue. Safe for
// concurrent use; the orchestrator is the only writer in practice.
type STS struct {
	mu          sync.Mutex
	queues      [4]classHeap
	current     *model.Task
	delegations []*model.Task
	now         func() time.Time
	seq         int
}

func NewSTS() *STS {
	return &STS{now: time.Now}
}

// NewSTSWithClock pins the clock for deterministic tests.
func NewSTSWithClock(now func() time.Time) *STS {
	return &STS{now: now}
}

// ClassifyPriority resolves the effective priority class. Explicitly set
// non-default priorities are respected; default P2 tasks are promoted on
// deadline proximity and demoted when trivially light.
func ClassifyPriority(t *model.Task, now time.Time) model.Priority {
	if t.Priority != model.PriorityP2 {
		return t.Priority
	}
	if hours, ok := t.HoursToDeadline(now); ok {
		if hours <= 2 {
			return model.PriorityP0
		}
		if hours <= 24 {
			return model.PriorityP1
		}
	}
	if t.CognitiveLoad <= 1 && t.EnergyCost <= 1 {
		return model.PriorityP3
	}
	return model.PriorityP2
}

func (s *STS) push(t *model.Task, class model.Priority) {
	s.seq++
	heap.Push(&s.queues[class], &queueItem{
		task:    t,
		urgency: t.DeadlineUrgency(s.now()),
		seq:     s.seq,
	})
}

// Enqueue classifies the task and pushes it onto its class heap.
func (s *STS) Enqueue(t *model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.push(t, ClassifyPriority(t, s.now()))
	s.updateDepthMetrics()
}

// EnqueueBatch enqueues all tasks.
func (s *STS) EnqueueBatch(tasks []*model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, t := range tasks {
		s.push(t, ClassifyPriority(t, now))
	}
	s.updateDepthMetrics()
}

// Dequeue returns the most urgent task whose energy cost fits the current
// level, scanning classes P0 to P3. Skipped entries are restored. Returns
// nil when nothing fits.
func (s *STS) Dequeue(energyLevel int) *model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.updateDepthMetrics()

	for class := range s.queues {
		var skipped []*queueItem
		for s.queues[class].Len() > 0 {
			item := heap.Pop(&s.queues[class]).(*queueItem)
			if item.task.EnergyCost <= energyLevel {
				for _, sk := range skipped {
					heap.Push(&s.queues[class], sk)
				}
				return item.task
			}
			skipped = append(skipped, item)
		}
		for _, sk := range skipped {
			heap.Push(&s.queues[class], sk)
		}
	}
	return nil
}

// Preempt interrupts the current task when the urgent one outranks it.
// The preempted task is re-enqueued with its progress notes intact.
// Returns the preempted task, or nil if nothing was interrupted.
func (s *STS) Preempt(urgent *model.Task, energyLevel int) *model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.updateDepthMetrics()

	now := s.now()
	if s.current != nil && ClassifyPriority(urgent, now) < ClassifyPriority(s.current, now) {
		preempted := s.current
		preempted.Status = model.StatusActive
		s.push(preempted, ClassifyPriority(preempted, now))
		s.current = urgent
		return preempted
	}
	s.push(urgent, ClassifyPriority(urgent, now))
	return nil
}

// AutoDelegateP3 drains the background class when energy is depleted.
// Drained tasks are marked delegated and queued for the ghost worker.
func (s *STS) AutoDelegateP3(energyLevel int) []*model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.updateDepthMetrics()

	if energyLevel > 2 {
		return nil
	}
	var drained []*model.Task
	for s.queues[model.PriorityP3].Len() > 0 {
		item := heap.Pop(&s.queues[model.PriorityP3]).(*queueItem)
		item.task.Status = model.StatusDelegated
		drained = append(drained, item.task)
	}
	s.delegations = append(s.delegations, drained...)
	return drained
}

// DrainDelegations hands the accumulated delegation queue to the caller
// and resets it.
func (s *STS) DrainDelegations() []*model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.delegations
	s.delegations = nil
	return out
}

// OrderedSchedule flattens all classes non-destructively. Tasks that
// exceed the energy level are deferred to the end, keeping their
// relative order.
func (s *STS) OrderedSchedule(energyLevel int) []*model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var eligible, deferred []*model.Task
	for class := range s.queues {
		// Sorted copy so the heaps stay untouched
		items := make(classHeap, len(s.queues[class]))
		copy(items, s.queues[class])
		ordered := make([]*queueItem, 0, len(items))
		for items.Len() > 0 {
			ordered = append(ordered, heap.Pop(&items).(*queueItem))
		}
		for _, item := range ordered {
			if item.task.EnergyCost > energyLevel {
				deferred = append(deferred, item.task)
			} else {
				eligible = append(eligible, item.task)
			}
		}
	}
	return append(eligible, deferred...)
}

// Reorder clears every class and enqueues the given tasks fresh.
func (s *STS) Reorder(tasks []*model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for class := range s.queues {
		s.queues[class] = nil
	}
	now := s.now()
	for _, t := range tasks {
		s.push(t, ClassifyPriority(t, now))
	}
	s.updateDepthMetrics()
}

// QueueCounts returns per-class sizes keyed P0..P3.
func (s *STS) QueueCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int, 4)
	for class := range s.queues {
		counts[model.Priority(class).String()] = s.queues[class].Len()
	}
	return counts
}

// SetCurrent marks the task the user is executing right now.
func (s *STS) SetCurrent(t *model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = t
}

// Current returns the in-progress task, or nil.
func (s *STS) Current() *model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// ClearCurrent drops the in-progress marker if it matches the id.
func (s *STS) ClearCurrent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.ID == id {
		s.current = nil
	}
}

// caller holds s.mu
func (s *STS) updateDepthMetrics() {
	for class := range s.queues {
		observability.QueueDepth.WithLabelValues(model.Priority(class).String()).Set(float64(s.queues[class].Len()))
	}
}
