package queuex

import (
	"encoding/json"
	"time"
)

// TaskStatus is the queue's own bookkeeping state for a delivery. Domain
// state lives with the consumer; the queue only tracks whether a task has
// been handed out and what the handler returned.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusActive    TaskStatus = "active"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusRetrying  TaskStatus = "retrying"
)

// Task is a unit of work to be enqueued.
type Task struct {
	Type    string          `json:"type"`
	Queue   string          `json:"queue"`
	Payload json.RawMessage `json:"payload"`

	// MaxDeliveries caps how many times the task is handed to a worker
	// before the queue gives up. Default is 3.
	MaxDeliveries int `json:"max_deliveries"`
}

// TaskInfo is the stored representation of an enqueued task.
type TaskInfo struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Queue         string          `json:"queue"`
	Payload       json.RawMessage `json:"payload"`
	Status        TaskStatus      `json:"status"`
	Error         string          `json:"error,omitempty"`
	MaxDeliveries int             `json:"max_deliveries"`
	Deliveries    int             `json:"deliveries"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
