package queuex

import "github.com/transloadr/transloader/pkg/errx"

var queuexErrors = errx.NewRegistry("QUEUEX")

var (
	ErrTaskNotFound   = queuexErrors.Register("TASK_NOT_FOUND", errx.TypeNotFound, 404, "Task not found")
	ErrEnqueueFailed  = queuexErrors.Register("ENQUEUE_FAILED", errx.TypeExternal, 500, "Failed to enqueue task")
	ErrDequeueFailed  = queuexErrors.Register("DEQUEUE_FAILED", errx.TypeExternal, 500, "Failed to dequeue task")
	ErrNoHandler      = queuexErrors.Register("NO_HANDLER", errx.TypeValidation, 400, "No handler registered for task type")
	ErrAlreadyRunning = queuexErrors.Register("ALREADY_RUNNING", errx.TypeConflict, 409, "Worker pool is already running")
)
