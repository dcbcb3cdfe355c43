package notifyses

import "github.com/transloadr/transloader/pkg/errx"

var sesErrors = errx.NewRegistry("NOTIFY_SES")

var (
	ErrSendFailed = sesErrors.Register("SEND_FAILED", errx.TypeExternal, 500, "SES send email failed")
)
