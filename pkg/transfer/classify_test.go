package transfer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/transloadr/transloader/pkg/transfer"
	"github.com/transloadr/transloader/pkg/transfer/engine"
)

func TestClassifyDefaultsToPermanent(t *testing.T) {
	if got := transfer.Classify(errors.New("something nobody registered")); got != transfer.ClassPermanent {
		t.Fatalf("unknown errors must classify permanent, got %v", got)
	}
}

func TestClassifyValidationIsPermanent(t *testing.T) {
	err := transfer.Errors().New(transfer.ErrAddressBlocked)
	if got := transfer.Classify(err); got != transfer.ClassPermanent {
		t.Fatalf("blocked address should be permanent, got %v", got)
	}
}

func TestClassifyPrimaryRequiredIsPermanent(t *testing.T) {
	err := engine.Errors().New(engine.ErrPrimaryRequired)
	if got := transfer.Classify(err); got != transfer.ClassPermanent {
		t.Fatalf("primary-required should be permanent, got %v", got)
	}
}

func TestClassifyFetchFailureIsTransient(t *testing.T) {
	err := transfer.Errors().New(transfer.ErrFetchFailed)
	if got := transfer.Classify(err); got != transfer.ClassTransient {
		t.Fatalf("fetch failure should be transient, got %v", got)
	}
}

func TestClassifyCancelRequested(t *testing.T) {
	err := transfer.Errors().New(transfer.ErrCancelRequested)
	if got := transfer.Classify(err); got != transfer.ClassCancelled {
		t.Fatalf("cancel request should classify cancelled, got %v", got)
	}
}

func TestClassifyContextErrorsAreTransient(t *testing.T) {
	// Worker shutdown must lead to redelivery, never to a CANCELLED job.
	if got := transfer.Classify(context.Canceled); got != transfer.ClassTransient {
		t.Fatalf("context.Canceled should be transient, got %v", got)
	}
	if got := transfer.Classify(context.DeadlineExceeded); got != transfer.ClassTransient {
		t.Fatalf("context.DeadlineExceeded should be transient, got %v", got)
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := transfer.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 5 * time.Second}

	if d := p.Delay(1); d != 0 {
		t.Fatalf("first attempt should not wait, got %v", d)
	}
	if d := p.Delay(2); d != time.Second {
		t.Fatalf("second attempt should wait base delay, got %v", d)
	}
	if d := p.Delay(3); d != 2*time.Second {
		t.Fatalf("third attempt should wait 2x base, got %v", d)
	}
	if d := p.Delay(10); d != 5*time.Second {
		t.Fatalf("delay must cap at MaxDelay, got %v", d)
	}
}
