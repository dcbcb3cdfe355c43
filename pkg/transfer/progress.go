package transfer

import "github.com/transloadr/transloader/pkg/transfer/engine"

// Normalizer turns raw engine telemetry into the uniform Progress view.
// Percent is clamped to be non-decreasing within one attempt; Reset
// starts a fresh attempt so the clamp does not carry over.
type Normalizer struct {
	high float64
}

// NewNormalizer creates a normalizer for a single attempt.
func NewNormalizer() *Normalizer { return &Normalizer{} }

// Reset clears the monotonic floor at an attempt boundary.
func (n *Normalizer) Reset() { n.high = 0 }

// Observe maps one engine status sample to Progress.
func (n *Normalizer) Observe(s engine.Status) Progress {
	var percent float64
	switch {
	case s.State == engine.StateComplete:
		percent = 100
	case s.TotalBytes > 0:
		percent = float64(s.CompletedBytes) / float64(s.TotalBytes) * 100
		if percent > 100 {
			percent = 100
		}
	}

	// Engines occasionally report a shrinking total mid-transfer (magnet
	// metadata phase, chunked responses). The exposed percent never moves
	// backwards within an attempt.
	if percent < n.high {
		percent = n.high
	}
	n.high = percent

	p := Progress{Percent: percent}
	if s.Rate > 0 {
		rate := s.Rate
		p.Rate = &rate
		if s.TotalBytes > 0 && s.CompletedBytes <= s.TotalBytes {
			eta := (s.TotalBytes - s.CompletedBytes) / rate
			p.ETASeconds = &eta
		}
	}
	return p
}
