package router

import (
	"context"
	"sync"
)

// task is one unit of engine work. ctx is the engine's Run context.
type task func(ctx context.Context)

// taskQueue is an unbounded FIFO. push never blocks, so the packet-in
// receiver cannot stall behind a slow device call on the engine.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []task
	signal chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{signal: make(chan struct{}, 1)}
}

func (q *taskQueue) push(t task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *taskQueue) pop() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, false
	}
	t := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return t, true
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
