package scheduler

import (
	"container/heap"
	"time"
)

// QueueItem is a task waiting for a slot.
type QueueItem struct {
	TaskID      string
	Priority    int
	EnqueueTime time.Time
	seq         uint64
}

// PriorityFunc assigns a queue priority to a ready task. Higher runs sooner.
type PriorityFunc func(Task) int

// ConstantPriority gives every task priority 1, so the queue is FIFO.
func ConstantPriority(Task) int { return 1 }

// TaskPriority uses the priority declared in the task definition.
func TaskPriority(t Task) int { return t.Priority }

// Queue orders ready tasks by priority, highest first, then by enqueue
// time, earliest first. Items enqueued at the same instant keep insertion
// order.
type Queue struct {
	items   itemHeap
	members map[string]bool
	seq     uint64
}

func NewQueue() *Queue {
	return &Queue{members: make(map[string]bool)}
}

// Push enqueues a task. It reports false if the task is already queued.
func (q *Queue) Push(id string, priority int, now time.Time) bool {
	if q.members[id] {
		return false
	}
	q.seq++
	heap.Push(&q.items, QueueItem{TaskID: id, Priority: priority, EnqueueTime: now, seq: q.seq})
	q.members[id] = true
	return true
}

// Pop removes the item that should run next.
func (q *Queue) Pop() (QueueItem, bool) {
	if len(q.items) == 0 {
		return QueueItem{}, false
	}
	item := heap.Pop(&q.items).(QueueItem)
	delete(q.members, item.TaskID)
	return item, true
}

// restore puts back an item taken with Pop, keeping its original position.
func (q *Queue) restore(item QueueItem) {
	heap.Push(&q.items, item)
	q.members[item.TaskID] = true
}

// Contains reports whether the task is queued.
func (q *Queue) Contains(id string) bool {
	return q.members[id]
}

func (q *Queue) Len() int {
	return len(q.items)
}

type itemHeap []QueueItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	if !h[i].EnqueueTime.Equal(h[j].EnqueueTime) {
		return h[i].EnqueueTime.Before(h[j].EnqueueTime)
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(QueueItem)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
