package transfer_test

import (
	"testing"

	"github.com/transloadr/transloader/pkg/transfer"
	"github.com/transloadr/transloader/pkg/transfer/engine"
)

func TestNormalizerPercent(t *testing.T) {
	n := transfer.NewNormalizer()

	p := n.Observe(engine.Status{State: engine.StateActive, CompletedBytes: 250, TotalBytes: 1000})
	if p.Percent != 25 {
		t.Fatalf("expected 25%%, got %v", p.Percent)
	}
}

func TestNormalizerMonotonicWithinAttempt(t *testing.T) {
	n := transfer.NewNormalizer()

	n.Observe(engine.Status{State: engine.StateActive, CompletedBytes: 500, TotalBytes: 1000})
	// Total shrinks mid-transfer; exposed percent must not move backwards.
	p := n.Observe(engine.Status{State: engine.StateActive, CompletedBytes: 100, TotalBytes: 1000})
	if p.Percent != 50 {
		t.Fatalf("percent went backwards: got %v, want 50", p.Percent)
	}
}

func TestNormalizerResetOnNewAttempt(t *testing.T) {
	n := transfer.NewNormalizer()

	n.Observe(engine.Status{State: engine.StateActive, CompletedBytes: 900, TotalBytes: 1000})
	n.Reset()
	p := n.Observe(engine.Status{State: engine.StateActive, CompletedBytes: 100, TotalBytes: 1000})
	if p.Percent != 10 {
		t.Fatalf("reset should drop the monotonic floor, got %v", p.Percent)
	}
}

func TestNormalizerUnknownRateAndETA(t *testing.T) {
	n := transfer.NewNormalizer()

	p := n.Observe(engine.Status{State: engine.StateActive, CompletedBytes: 10, TotalBytes: 0, Rate: 0})
	if p.Rate != nil || p.ETASeconds != nil {
		t.Fatal("unknown rate and eta must be nil, not zero")
	}
	if p.Percent != 0 {
		t.Fatalf("unsized resource reports 0%%, got %v", p.Percent)
	}
}

func TestNormalizerRateAndETA(t *testing.T) {
	n := transfer.NewNormalizer()

	p := n.Observe(engine.Status{State: engine.StateActive, CompletedBytes: 400, TotalBytes: 1000, Rate: 100})
	if p.Rate == nil || *p.Rate != 100 {
		t.Fatalf("expected rate 100, got %v", p.Rate)
	}
	if p.ETASeconds == nil || *p.ETASeconds != 6 {
		t.Fatalf("expected eta 6s, got %v", p.ETASeconds)
	}
}

func TestNormalizerCompleteIsHundred(t *testing.T) {
	n := transfer.NewNormalizer()

	p := n.Observe(engine.Status{State: engine.StateComplete, CompletedBytes: 5, TotalBytes: 0})
	if p.Percent != 100 {
		t.Fatalf("complete state must report 100%%, got %v", p.Percent)
	}
}
