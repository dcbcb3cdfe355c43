package queuexredis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/transloadr/transloader/pkg/queuex"
)

// RedisQueue implements queuex.Queue backed by Redis. Ready tasks live in
// a list consumed with BRPOP; delayed tasks wait in a sorted set scored by
// their release time and are promoted by a Lua script.
type RedisQueue struct {
	rdb *redis.Client
}

// NewRedisQueue creates a Redis-backed queue.
func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

func readyKey(name string) string     { return fmt.Sprintf("queuex:ready:%s", name) }
func scheduledKey(name string) string { return fmt.Sprintf("queuex:scheduled:%s", name) }
func taskKey(id string) string        { return fmt.Sprintf("queuex:task:%s", id) }

// terminalTaskTTL bounds how long finished task records stay around for
// inspection. Records the queue still owns must not expire.
const terminalTaskTTL = 24 * time.Hour

func taskTTL(status queuex.TaskStatus) time.Duration {
	switch status {
	case queuex.TaskStatusCompleted, queuex.TaskStatusFailed:
		return terminalTaskTTL
	default:
		return 0
	}
}

// Enqueue adds a task to the ready list immediately.
func (q *RedisQueue) Enqueue(ctx context.Context, task queuex.Task) (string, error) {
	info := newTaskInfo(task)

	data, err := json.Marshal(info)
	if err != nil {
		return "", redisErrors.NewWithCause(ErrMarshal, err)
	}

	pipe := q.rdb.Pipeline()
	pipe.Set(ctx, taskKey(info.ID), data, 0)
	pipe.LPush(ctx, readyKey(task.Queue), info.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", redisErrors.NewWithCause(ErrEnqueue, err).WithDetail("queue", task.Queue)
	}

	return info.ID, nil
}

// EnqueueDelayed adds a task to the scheduled set with a future release time.
func (q *RedisQueue) EnqueueDelayed(ctx context.Context, task queuex.Task, delay time.Duration) (string, error) {
	info := newTaskInfo(task)

	data, err := json.Marshal(info)
	if err != nil {
		return "", redisErrors.NewWithCause(ErrMarshal, err)
	}

	score := float64(time.Now().UTC().Add(delay).Unix())

	pipe := q.rdb.Pipeline()
	pipe.Set(ctx, taskKey(info.ID), data, 0)
	pipe.ZAdd(ctx, scheduledKey(task.Queue), redis.Z{Score: score, Member: info.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", redisErrors.NewWithCause(ErrEnqueue, err).
			WithDetail("queue", task.Queue).
			WithDetail("delay", delay.String())
	}

	return info.ID, nil
}

func newTaskInfo(task queuex.Task) queuex.TaskInfo {
	now := time.Now().UTC()
	return queuex.TaskInfo{
		ID:            uuid.New().String(),
		Type:          task.Type,
		Queue:         task.Queue,
		Payload:       task.Payload,
		Status:        queuex.TaskStatusPending,
		MaxDeliveries: task.MaxDeliveries,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// GetTask retrieves task info by ID.
func (q *RedisQueue) GetTask(ctx context.Context, taskID string) (*queuex.TaskInfo, error) {
	data, err := q.rdb.Get(ctx, taskKey(taskID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, redisErrors.New(ErrNotFound).WithDetail("task_id", taskID)
		}
		return nil, redisErrors.NewWithCause(ErrGetTask, err).WithDetail("task_id", taskID)
	}

	var info queuex.TaskInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, redisErrors.NewWithCause(ErrUnmarshal, err).WithDetail("task_id", taskID)
	}

	return &info, nil
}

// Dequeue blocks until a task is available or the timeout expires.
func (q *RedisQueue) Dequeue(ctx context.Context, queues []string, timeout time.Duration) (*queuex.TaskInfo, error) {
	keys := make([]string, len(queues))
	for i, name := range queues {
		keys[i] = readyKey(name)
	}

	result, err := q.rdb.BRPop(ctx, timeout, keys...).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // timeout, nothing ready
		}
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, redisErrors.NewWithCause(ErrDequeue, err)
	}

	// result[0] = key, result[1] = task ID
	taskID := result[1]

	info, err := q.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	info.Status = queuex.TaskStatusActive
	info.Deliveries++
	info.UpdatedAt = time.Now().UTC()

	if err := q.putTask(ctx, info); err != nil {
		return nil, redisErrors.NewWithCause(ErrDequeue, err).WithDetail("task_id", taskID)
	}

	return info, nil
}

// Complete marks a task as successfully processed.
func (q *RedisQueue) Complete(ctx context.Context, taskID string) error {
	info, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	info.Status = queuex.TaskStatusCompleted
	info.UpdatedAt = time.Now().UTC()

	if err := q.putTask(ctx, info); err != nil {
		return redisErrors.NewWithCause(ErrComplete, err).WithDetail("task_id", taskID)
	}
	return nil
}

// Fail records a handler error. Returns true if the task should be redelivered.
func (q *RedisQueue) Fail(ctx context.Context, taskID string, errMsg string) (bool, error) {
	info, err := q.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}

	redeliver := info.Deliveries < info.MaxDeliveries

	if redeliver {
		info.Status = queuex.TaskStatusRetrying
	} else {
		info.Status = queuex.TaskStatusFailed
	}
	info.Error = errMsg
	info.UpdatedAt = time.Now().UTC()

	if err := q.putTask(ctx, info); err != nil {
		return false, redisErrors.NewWithCause(ErrFail, err).WithDetail("task_id", taskID)
	}

	return redeliver, nil
}

// Redeliver schedules a failed task for another delivery after delay.
func (q *RedisQueue) Redeliver(ctx context.Context, taskID string, delay time.Duration) error {
	info, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	score := float64(time.Now().UTC().Add(delay).Unix())

	if err := q.rdb.ZAdd(ctx, scheduledKey(info.Queue), redis.Z{
		Score:  score,
		Member: taskID,
	}).Err(); err != nil {
		return redisErrors.NewWithCause(ErrRedeliver, err).WithDetail("task_id", taskID)
	}

	return nil
}

func (q *RedisQueue) putTask(ctx context.Context, info *queuex.TaskInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return redisErrors.NewWithCause(ErrMarshal, err)
	}
	return q.rdb.Set(ctx, taskKey(info.ID), data, taskTTL(info.Status)).Err()
}

// promoteScript moves due tasks from the scheduled set to the ready list
// atomically.
var promoteScript = redis.NewScript(`
local scheduled_key = KEYS[1]
local ready_key = KEYS[2]
local now = tonumber(ARGV[1])
local ids = redis.call('ZRANGEBYSCORE', scheduled_key, '-inf', now)
if #ids > 0 then
    for _, id in ipairs(ids) do
        redis.call('LPUSH', ready_key, id)
    end
    redis.call('ZREMRANGEBYSCORE', scheduled_key, '-inf', now)
end
return #ids
`)

// PromoteScheduled releases all due tasks on the given queues.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, queues []string) error {
	now := strconv.FormatInt(time.Now().UTC().Unix(), 10)

	for _, name := range queues {
		err := promoteScript.Run(ctx, q.rdb,
			[]string{scheduledKey(name), readyKey(name)},
			now,
		).Err()

		if err != nil && err != redis.Nil {
			return redisErrors.NewWithCause(ErrPromote, err).WithDetail("queue", name)
		}
	}

	return nil
}
