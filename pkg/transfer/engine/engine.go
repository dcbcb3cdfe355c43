package engine

import (
	"context"
	"strings"
)

// Kind identifies a download strategy.
type Kind string

const (
	// KindAria2 is the multi-connection, resumable, BitTorrent-capable
	// engine driven over its out-of-process RPC interface.
	KindAria2 Kind = "aria2"
	// KindHTTPStream is the sequential streaming fetch fallback.
	KindHTTPStream Kind = "http"
)

// Handle identifies one in-flight fetch within an engine.
type Handle string

// State is the engine-side lifecycle of a fetch.
type State string

const (
	StateActive   State = "active"
	StateComplete State = "complete"
	StateErrored  State = "errored"
	StateRemoved  State = "removed"
)

// Terminal reports whether no further progress will be made.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateErrored || s == StateRemoved
}

// Status is raw engine telemetry for one fetch. Byte counters may be zero
// while the engine has not sized the resource yet; Rate is bytes/sec and
// zero when the engine cannot estimate it.
type Status struct {
	State          State
	CompletedBytes int64
	TotalBytes     int64
	Rate           int64
	ErrMessage     string
}

// Engine is the shared capability contract of the download strategies.
// All instances are job-scoped at the handle level; no handle is ever
// shared between jobs.
type Engine interface {
	Kind() Kind

	// Supports reports whether this engine can service the given source
	// reference at all.
	Supports(source string) bool

	// Probe is a lightweight liveness check.
	Probe(ctx context.Context) error

	// Begin starts fetching source into dir/filename and returns a handle
	// for polling.
	Begin(ctx context.Context, source, dir, filename string) (Handle, error)

	// Poll reports the current status of a fetch.
	Poll(ctx context.Context, h Handle) (Status, error)

	// Cancel aborts a fetch. Best-effort; the transfer may take a bounded
	// grace period to stop.
	Cancel(ctx context.Context, h Handle) error

	// Cleanup releases engine-side resources for a finished or aborted
	// fetch. Idempotent.
	Cleanup(ctx context.Context, h Handle) error
}

// IsMagnet reports whether source is a magnet link.
func IsMagnet(source string) bool {
	return strings.HasPrefix(strings.ToLower(source), "magnet:")
}
