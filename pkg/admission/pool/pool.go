package pool

import (
	"container/heap"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/ganymede/pkg/clock"
)

// Status describes where a task is in its lifecycle.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
)

// Task is one unit of admitted work occupying (or waiting for) a pool
// slot. Task IDs are prefixed with the owning subject so per-subject
// occupancy can be counted by prefix scan.
type Task struct {
	ID         string
	Subject    string
	Priority   int
	EnqueuedAt time.Time
	StartedAt  time.Time
	Status     Status

	seq uint64
}

// Metrics is a point-in-time snapshot of pool health.
type Metrics struct {
	Running     int
	QueueDepth  int
	Capacity    int
	Utilization float64
	AvgWait     time.Duration
	AvgExec     time.Duration
	Completed   int64
}

// Pool bounds the number of concurrently running tasks. Submissions
// beyond capacity queue ordered by priority (descending), with FIFO
// order within a priority level. Completion atomically promotes the
// best queued task so a freed slot is never observable as idle while
// work is waiting.
type Pool struct {
	mu        sync.Mutex
	capacity  int
	running   map[string]*Task
	queue     taskQueue
	nextSeq   uint64
	totalWait time.Duration
	totalExec time.Duration
	started   int64
	completed int64

	clk    clock.Clock
	logger *slog.Logger
}

// New creates a pool with the given concurrency capacity.
func New(capacity int, clk clock.Clock, logger *slog.Logger) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	if clk == nil {
		clk = clock.System
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		capacity: capacity,
		running:  make(map[string]*Task),
		logger:   logger.With("component", "admission.pool"),
		clk:      clk,
	}
}

// Capacity returns the pool's concurrency limit.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Submit registers a task for the subject. It starts immediately when
// a slot is free, otherwise it queues. The returned started flag tells
// the caller whether the task holds a slot right now; queued tasks are
// promoted later by Complete. Submit never blocks.
func (p *Pool) Submit(subject string, priority int) (id string, started bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clk.Now()
	task := &Task{
		ID:         subject + ":" + uuid.New().String(),
		Subject:    subject,
		Priority:   priority,
		EnqueuedAt: now,
		seq:        p.nextSeq,
	}
	p.nextSeq++

	if len(p.running) < p.capacity {
		p.startLocked(task, now)
		return task.ID, true
	}

	task.Status = StatusQueued
	heap.Push(&p.queue, task)
	return task.ID, false
}

// Complete releases the task's slot (or removes it from the queue)
// and, if a slot freed up, promotes the highest-priority queued task
// in the same critical section.
func (p *Pool) Complete(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clk.Now()

	task, ok := p.running[id]
	if !ok {
		if p.queue.remove(id) {
			return nil
		}
		return fmt.Errorf("unknown task %q", id)
	}

	delete(p.running, id)
	task.Status = StatusDone
	p.completed++
	p.totalExec += now.Sub(task.StartedAt)

	if p.queue.Len() > 0 && len(p.running) < p.capacity {
		next := heap.Pop(&p.queue).(*Task)
		p.startLocked(next, now)
	}
	return nil
}

// IsRunning reports whether the task currently holds a slot.
func (p *Pool) IsRunning(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.running[id]
	return ok
}

// ActiveTasks returns copies of all running tasks.
func (p *Pool) ActiveTasks() []Task {
	p.mu.Lock()
	defer p.mu.Unlock()

	tasks := make([]Task, 0, len(p.running))
	for _, t := range p.running {
		tasks = append(tasks, *t)
	}
	return tasks
}

// CountForSubject counts running tasks owned by the subject, matched
// by task-id prefix.
func (p *Pool) CountForSubject(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	prefix := subject + ":"
	n := 0
	for id := range p.running {
		if strings.HasPrefix(id, prefix) {
			n++
		}
	}
	return n
}

// Metrics returns a snapshot of pool occupancy and latency averages.
func (p *Pool) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := Metrics{
		Running:    len(p.running),
		QueueDepth: p.queue.Len(),
		Capacity:   p.capacity,
		Completed:  p.completed,
	}
	m.Utilization = float64(m.Running) / float64(p.capacity)
	if p.started > 0 {
		m.AvgWait = p.totalWait / time.Duration(p.started)
	}
	if p.completed > 0 {
		m.AvgExec = p.totalExec / time.Duration(p.completed)
	}
	return m
}

func (p *Pool) startLocked(task *Task, now time.Time) {
	task.Status = StatusRunning
	task.StartedAt = now
	p.running[task.ID] = task
	p.started++
	p.totalWait += now.Sub(task.EnqueuedAt)
}

// taskQueue orders queued tasks by priority descending, then enqueue
// time ascending. The seq field breaks exact-timestamp ties so order
// stays deterministic under a frozen clock.
type taskQueue []*Task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority > q[j].Priority
	}
	if !q[i].EnqueuedAt.Equal(q[j].EnqueuedAt) {
		return q[i].EnqueuedAt.Before(q[j].EnqueuedAt)
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x any) { *q = append(*q, x.(*Task)) }

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return task
}

func (q *taskQueue) remove(id string) bool {
	for i, t := range *q {
		if t.ID == id {
			heap.Remove(q, i)
			return true
		}
	}
	return false
}
