package notifyses

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/transloadr/transloader/pkg/notify"
)

// SESNotifier emails terminal-transition events through AWS SES.
type SESNotifier struct {
	client      *ses.Client
	fromAddress string
	toAddress   string
}

// New creates the SES notifier.
func New(client *ses.Client, fromAddress, toAddress string) *SESNotifier {
	return &SESNotifier{
		client:      client,
		fromAddress: fromAddress,
		toAddress:   toAddress,
	}
}

// JobFinished sends a plain-text summary of the finished job.
func (n *SESNotifier) JobFinished(ctx context.Context, event notify.Event) error {
	subject := fmt.Sprintf("Transfer %s: %s", event.Status, event.TargetName)
	body := fmt.Sprintf("Job %s finished with status %s.\n\nSource: %s\nTarget: %s\n",
		event.JobID, event.Status, event.Source, event.TargetName)
	if event.Error != "" {
		body += fmt.Sprintf("\nError: %s\n", event.Error)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{n.toAddress},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	if _, err := n.client.SendEmail(ctx, input); err != nil {
		return sesErrors.NewWithCause(ErrSendFailed, err).
			WithDetail("job_id", event.JobID).
			WithDetail("to", n.toAddress)
	}
	return nil
}
