// Package notify delivers terminal-transition notifications for transfer
// jobs. Delivery is best-effort: a failed notification never affects the
// job outcome.
package notify

import "context"

// Event describes a job that just reached a terminal state.
type Event struct {
	JobID      string
	Status     string
	Source     string
	TargetName string
	Error      string
}

// Notifier delivers one terminal-transition event.
type Notifier interface {
	JobFinished(ctx context.Context, event Event) error
}
