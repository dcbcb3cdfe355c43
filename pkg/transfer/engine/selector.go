package engine

import (
	"context"
	"time"

	"github.com/transloadr/transloader/pkg/logx"
)

// Selector picks a strategy for each fetch attempt. The primary engine is
// probed before every attempt; an unavailable primary is never a job
// failure on its own, it only changes which engine runs the attempt.
type Selector struct {
	primary      Engine
	fallback     Engine
	probeTimeout time.Duration
}

// NewSelector creates a selector over a primary and a fallback engine.
func NewSelector(primary, fallback Engine, probeTimeout time.Duration) *Selector {
	return &Selector{
		primary:      primary,
		fallback:     fallback,
		probeTimeout: probeTimeout,
	}
}

// Select returns the engine to use for the next attempt at fetching source.
func (s *Selector) Select(ctx context.Context, source string) (Engine, error) {
	primaryCan := s.primary != nil && s.primary.Supports(source)

	if primaryCan {
		if err := s.PrimaryAvailable(ctx); err == nil {
			return s.primary, nil
		} else {
			logx.WithError(err).WithField("engine", string(s.primary.Kind())).
				Warn("engine: primary unavailable, considering fallback")
		}
	}

	if s.fallback != nil && s.fallback.Supports(source) {
		return s.fallback, nil
	}

	if primaryCan {
		// Only the primary could have serviced this reference.
		return nil, engineErrors.New(ErrPrimaryRequired).WithDetail("source", source)
	}
	return nil, engineErrors.New(ErrUnsupportedSource).WithDetail("source", source)
}

// PrimaryAvailable probes the primary engine within the probe timeout.
func (s *Selector) PrimaryAvailable(ctx context.Context) error {
	if s.primary == nil {
		return engineErrors.New(ErrPrimaryRequired)
	}
	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()
	return s.primary.Probe(probeCtx)
}
