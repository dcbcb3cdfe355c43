package httpstream

import "github.com/transloadr/transloader/pkg/errx"

var streamErrors = errx.NewRegistry("HTTPSTREAM")

var (
	ErrRequestFailed = streamErrors.Register("REQUEST_FAILED", errx.TypeExternal, 502, "Fetching the source failed")
	ErrBadStatus     = streamErrors.Register("BAD_STATUS", errx.TypeExternal, 502, "Source responded with a non-success status")
	ErrTooLarge      = streamErrors.Register("TOO_LARGE", errx.TypeBusiness, 413, "Source exceeds the maximum allowed size")
	ErrStaging       = streamErrors.Register("STAGING", errx.TypeInternal, 500, "Could not write to staging storage")
)
