package queuexmemory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/transloadr/transloader/pkg/errx"
	"github.com/transloadr/transloader/pkg/queuex"
)

var memErrors = errx.NewRegistry("QUEUEX_MEMORY")

var errNotFound = memErrors.Register("NOT_FOUND", errx.TypeNotFound, 404, "Task not found")

type scheduledTask struct {
	id        string
	queue     string
	releaseAt time.Time
}

// MemoryQueue implements queuex.Queue in process memory. Used in tests and
// single-node development runs; it keeps the same at-least-once contract
// as the Redis backend.
type MemoryQueue struct {
	mu        sync.Mutex
	ready     map[string][]string
	scheduled []scheduledTask
	tasks     map[string]*queuex.TaskInfo
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		ready: make(map[string][]string),
		tasks: make(map[string]*queuex.TaskInfo),
	}
}

// Enqueue adds a task to the ready queue.
func (q *MemoryQueue) Enqueue(ctx context.Context, task queuex.Task) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	info := q.storeTask(task)
	q.ready[task.Queue] = append(q.ready[task.Queue], info.ID)
	return info.ID, nil
}

// EnqueueDelayed schedules a task for future release.
func (q *MemoryQueue) EnqueueDelayed(ctx context.Context, task queuex.Task, delay time.Duration) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	info := q.storeTask(task)
	q.scheduled = append(q.scheduled, scheduledTask{
		id:        info.ID,
		queue:     task.Queue,
		releaseAt: time.Now().Add(delay),
	})
	return info.ID, nil
}

func (q *MemoryQueue) storeTask(task queuex.Task) *queuex.TaskInfo {
	now := time.Now().UTC()
	info := &queuex.TaskInfo{
		ID:            uuid.New().String(),
		Type:          task.Type,
		Queue:         task.Queue,
		Payload:       task.Payload,
		Status:        queuex.TaskStatusPending,
		MaxDeliveries: task.MaxDeliveries,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	q.tasks[info.ID] = info
	return info
}

// GetTask returns a copy of the stored task info.
func (q *MemoryQueue) GetTask(ctx context.Context, taskID string) (*queuex.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	info, ok := q.tasks[taskID]
	if !ok {
		return nil, memErrors.New(errNotFound).WithDetail("task_id", taskID)
	}
	cp := *info
	return &cp, nil
}

// Dequeue pops the oldest ready task from any of the given queues, waiting
// up to timeout for one to appear.
func (q *MemoryQueue) Dequeue(ctx context.Context, queues []string, timeout time.Duration) (*queuex.TaskInfo, error) {
	deadline := time.Now().Add(timeout)
	for {
		if info := q.tryDequeue(queues); info != nil {
			return info, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (q *MemoryQueue) tryDequeue(queues []string) *queuex.TaskInfo {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, name := range queues {
		ids := q.ready[name]
		if len(ids) == 0 {
			continue
		}
		id := ids[0]
		q.ready[name] = ids[1:]

		info := q.tasks[id]
		if info == nil {
			continue
		}
		info.Status = queuex.TaskStatusActive
		info.Deliveries++
		info.UpdatedAt = time.Now().UTC()
		cp := *info
		return &cp
	}
	return nil
}

// Complete marks a task completed.
func (q *MemoryQueue) Complete(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	info, ok := q.tasks[taskID]
	if !ok {
		return memErrors.New(errNotFound).WithDetail("task_id", taskID)
	}
	info.Status = queuex.TaskStatusCompleted
	info.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail records a handler error and reports whether deliveries remain.
func (q *MemoryQueue) Fail(ctx context.Context, taskID string, errMsg string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	info, ok := q.tasks[taskID]
	if !ok {
		return false, memErrors.New(errNotFound).WithDetail("task_id", taskID)
	}

	redeliver := info.Deliveries < info.MaxDeliveries
	if redeliver {
		info.Status = queuex.TaskStatusRetrying
	} else {
		info.Status = queuex.TaskStatusFailed
	}
	info.Error = errMsg
	info.UpdatedAt = time.Now().UTC()
	return redeliver, nil
}

// Redeliver schedules another delivery after delay.
func (q *MemoryQueue) Redeliver(ctx context.Context, taskID string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	info, ok := q.tasks[taskID]
	if !ok {
		return memErrors.New(errNotFound).WithDetail("task_id", taskID)
	}
	q.scheduled = append(q.scheduled, scheduledTask{
		id:        taskID,
		queue:     info.Queue,
		releaseAt: time.Now().Add(delay),
	})
	return nil
}

// PromoteScheduled releases all due tasks.
func (q *MemoryQueue) PromoteScheduled(ctx context.Context, queues []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	remaining := q.scheduled[:0]
	for _, s := range q.scheduled {
		if s.releaseAt.After(now) {
			remaining = append(remaining, s)
			continue
		}
		q.ready[s.queue] = append(q.ready[s.queue], s.id)
	}
	q.scheduled = remaining
	return nil
}
