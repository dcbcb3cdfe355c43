package transfer

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/transloadr/transloader/pkg/errx"
	"github.com/transloadr/transloader/pkg/transfer/engine"
	"github.com/transloadr/transloader/pkg/transfer/engine/aria2"
	"github.com/transloadr/transloader/pkg/transfer/engine/httpstream"
)

// Class decides what the pipeline does with a failure.
type Class int

const (
	// ClassPermanent fails the job immediately. Unknown errors land here.
	ClassPermanent Class = iota
	// ClassTransient consumes one attempt and may be retried.
	ClassTransient
	// ClassCancelled means the job was cancelled, not failed.
	ClassCancelled
	// ClassEngineUnavailable does not consume an attempt; the selector
	// re-picks a strategy on the next attempt.
	ClassEngineUnavailable
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassCancelled:
		return "cancelled"
	case ClassEngineUnavailable:
		return "engine_unavailable"
	default:
		return "permanent"
	}
}

// Classify maps an error to its retry class. Every error crossing a
// pipeline stage boundary goes through here before it touches job state.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}

	// Worker shutdown cancels the handler context. That is an
	// infrastructure interruption, not a user cancellation; the delivery
	// is retried and the job resumes.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	switch {
	case errx.IsCode(err, ErrCancelRequested):
		return ClassCancelled

	// Validation and business rejections never improve on retry.
	case errx.IsCode(err, engine.ErrUnsupportedSource),
		errx.IsCode(err, engine.ErrPrimaryRequired),
		errx.IsCode(err, httpstream.ErrTooLarge),
		errx.IsCode(err, ErrSchemeBlocked),
		errx.IsCode(err, ErrAddressBlocked),
		errx.IsCode(err, ErrSourceTooLarge),
		errx.IsCode(err, ErrInvalidSource),
		errx.IsCode(err, ErrUploadRejected),
		errx.IsCode(err, ErrStagingMissing):
		return ClassPermanent

	case errx.IsCode(err, aria2.ErrUnavailable):
		return ClassEngineUnavailable

	// Remote-side trouble is worth another attempt.
	case errx.IsCode(err, aria2.ErrRPC),
		errx.IsCode(err, aria2.ErrBadResponse),
		errx.IsCode(err, httpstream.ErrRequestFailed),
		errx.IsCode(err, httpstream.ErrBadStatus),
		errx.IsCode(err, httpstream.ErrStaging),
		errx.IsCode(err, ErrFetchFailed),
		errx.IsCode(err, ErrFetchTimeout),
		errx.IsCode(err, ErrUploadFailed),
		errx.IsCode(err, ErrStoreUnavailable):
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}
	if errx.TypeOf(err) == errx.TypeExternal {
		return ClassTransient
	}

	// Fail closed.
	return ClassPermanent
}

// RetryPolicy produces bounded exponential backoff between fetch attempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay returns how long to wait before the given attempt (1-based).
// The first attempt waits nothing.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 2; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
