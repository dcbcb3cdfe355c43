package queuex

import (
	"context"
	"sync"
	"time"

	"github.com/transloadr/transloader/pkg/logx"
)

// HandlerFunc processes a delivered task. Returning nil acknowledges the
// delivery. Returning an error makes the queue redeliver the task until
// MaxDeliveries is exhausted; handlers that manage their own retries
// should absorb domain failures and only propagate infrastructure errors.
type HandlerFunc func(ctx context.Context, task *TaskInfo) error

// TaskEnqueuer enqueues tasks for processing.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, task Task) (string, error)
	EnqueueDelayed(ctx context.Context, task Task, delay time.Duration) (string, error)
}

// TaskStatusReader reads queue-side task state.
type TaskStatusReader interface {
	GetTask(ctx context.Context, taskID string) (*TaskInfo, error)
}

// TaskProcessor provides backend operations for the worker loop.
type TaskProcessor interface {
	// Dequeue blocks until a task is available or the timeout passes.
	// Delivery is at-least-once: a task claimed by a crashed worker may be
	// handed out again.
	Dequeue(ctx context.Context, queues []string, timeout time.Duration) (*TaskInfo, error)
	Complete(ctx context.Context, taskID string) error
	// Fail records a handler error and reports whether the task has
	// deliveries left.
	Fail(ctx context.Context, taskID string, errMsg string) (redeliver bool, err error)
	Redeliver(ctx context.Context, taskID string, delay time.Duration) error
	PromoteScheduled(ctx context.Context, queues []string) error
}

// Queue combines all backend operations.
type Queue interface {
	TaskEnqueuer
	TaskStatusReader
	TaskProcessor
}

// Client runs a pool of workers consuming tasks from a Queue.
type Client struct {
	queue    Queue
	opts     WorkerOptions
	handlers map[string]HandlerFunc
	mu       sync.RWMutex
	running  bool
}

// NewClient creates a worker client over the given queue backend.
func NewClient(queue Queue, options ...WorkerOption) *Client {
	opts := defaultWorkerOptions()
	for _, o := range options {
		o(&opts)
	}
	return &Client{
		queue:    queue,
		opts:     opts,
		handlers: make(map[string]HandlerFunc),
	}
}

// Register adds a handler for a task type.
func (c *Client) Register(taskType string, handler HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[taskType] = handler
}

// Enqueue enqueues a task for immediate processing.
func (c *Client) Enqueue(ctx context.Context, task Task) (string, error) {
	applyTaskDefaults(&task)
	return c.queue.Enqueue(ctx, task)
}

// EnqueueDelayed enqueues a task that becomes available after delay.
func (c *Client) EnqueueDelayed(ctx context.Context, task Task, delay time.Duration) (string, error) {
	applyTaskDefaults(&task)
	return c.queue.EnqueueDelayed(ctx, task, delay)
}

// GetTask returns the queue-side state of a task.
func (c *Client) GetTask(ctx context.Context, taskID string) (*TaskInfo, error) {
	return c.queue.GetTask(ctx, taskID)
}

func applyTaskDefaults(task *Task) {
	if task.Queue == "" {
		task.Queue = "default"
	}
	if task.MaxDeliveries == 0 {
		task.MaxDeliveries = 3
	}
}

// Start runs the scheduler and worker goroutines until ctx is cancelled,
// then drains in-flight tasks within the shutdown timeout.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return queuexErrors.New(ErrAlreadyRunning)
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	logx.Infof("queuex: starting %d workers on queues %v", c.opts.Concurrency, c.opts.Queues)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.schedulerLoop(ctx)
	}()

	for i := range c.opts.Concurrency {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.workerLoop(ctx, id)
		}(i)
	}

	<-ctx.Done()
	logx.Info("queuex: shutting down workers...")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logx.Info("queuex: all workers stopped")
	case <-time.After(c.opts.ShutdownTimeout):
		logx.Warn("queuex: shutdown timed out, some tasks may be redelivered")
	}

	return nil
}

// schedulerLoop promotes delayed tasks to the ready queue.
func (c *Client) schedulerLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.queue.PromoteScheduled(ctx, c.opts.Queues); err != nil {
				if ctx.Err() != nil {
					return
				}
				logx.WithError(err).Warn("queuex: failed to promote scheduled tasks")
			}
		}
	}
}

func (c *Client) workerLoop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := c.queue.Dequeue(ctx, c.opts.Queues, c.opts.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logx.WithError(err).Warnf("queuex: worker %d dequeue error", id)
			time.Sleep(c.opts.PollInterval)
			continue
		}
		if task == nil {
			continue
		}

		c.processTask(ctx, task)
	}
}

func (c *Client) processTask(ctx context.Context, task *TaskInfo) {
	c.mu.RLock()
	handler, ok := c.handlers[task.Type]
	c.mu.RUnlock()

	if !ok {
		logx.Warnf("queuex: no handler for task type %q (id=%s)", task.Type, task.ID)
		_, _ = c.queue.Fail(ctx, task.ID, "no handler registered for task type")
		return
	}

	if err := handler(ctx, task); err != nil {
		logx.WithError(err).Warnf("queuex: task %s (type=%s) failed", task.ID, task.Type)

		redeliver, failErr := c.queue.Fail(ctx, task.ID, err.Error())
		if failErr != nil {
			logx.WithError(failErr).Errorf("queuex: failed to mark task %s as failed", task.ID)
			return
		}

		if redeliver {
			if rErr := c.queue.Redeliver(ctx, task.ID, c.opts.RedeliveryDelay); rErr != nil {
				logx.WithError(rErr).Errorf("queuex: failed to redeliver task %s", task.ID)
			}
		}
		return
	}

	if err := c.queue.Complete(ctx, task.ID); err != nil {
		logx.WithError(err).Errorf("queuex: failed to complete task %s", task.ID)
	}
}
