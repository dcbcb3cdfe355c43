// Package notifyconsole logs notifications instead of sending them.
// It is the default provider for local development.
package notifyconsole

import (
	"context"

	"github.com/transloadr/transloader/pkg/logx"
	"github.com/transloadr/transloader/pkg/notify"
)

type Notifier struct{}

// New creates the console notifier.
func New() *Notifier { return &Notifier{} }

func (n *Notifier) JobFinished(ctx context.Context, event notify.Event) error {
	entry := logx.WithFields(logx.Fields{
		"job_id":      event.JobID,
		"status":      event.Status,
		"target_name": event.TargetName,
	})
	if event.Error != "" {
		entry = entry.WithField("error_detail", event.Error)
	}
	entry.Info("notify: job finished")
	return nil
}
