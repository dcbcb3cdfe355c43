package httpstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/transloadr/transloader/pkg/transfer/engine"
)

// Engine is the fallback strategy: a single sequential GET streamed
// straight into the staging directory. It runs in-process, so Probe
// never fails and fetches survive only as long as the process does.
type Engine struct {
	httpClient  *http.Client
	maxFileSize int64

	mu      sync.Mutex
	fetches map[engine.Handle]*fetch
}

type fetch struct {
	cancel context.CancelFunc

	mu        sync.Mutex
	state     engine.State
	completed int64
	total     int64
	errMsg    string

	// rate window
	lastBytes int64
	lastAt    time.Time
	rate      int64
}

// New creates the streaming engine. maxFileSize <= 0 disables the size
// guard.
func New(httpClient *http.Client, maxFileSize int64) *Engine {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Engine{
		httpClient:  httpClient,
		maxFileSize: maxFileSize,
		fetches:     make(map[engine.Handle]*fetch),
	}
}

func (e *Engine) Kind() engine.Kind { return engine.KindHTTPStream }

// Supports accepts plain web URLs only; magnet links need the primary.
func (e *Engine) Supports(source string) bool {
	lower := strings.ToLower(source)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Probe always succeeds: the engine has no external dependency.
func (e *Engine) Probe(ctx context.Context) error { return nil }

// Begin opens the response stream and starts copying it to
// dir/filename in the background.
func (e *Engine) Begin(ctx context.Context, source, dir, filename string) (engine.Handle, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", streamErrors.NewWithCause(ErrStaging, err).WithDetail("dir", dir)
	}

	// The fetch outlives the Begin call; it is stopped through Cancel,
	// not through the caller's context.
	fetchCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, source, nil)
	if err != nil {
		cancel()
		return "", streamErrors.NewWithCause(ErrRequestFailed, err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		cancel()
		return "", streamErrors.NewWithCause(ErrRequestFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return "", streamErrors.New(ErrBadStatus).
			WithDetail("status", resp.StatusCode).
			WithDetail("source", source)
	}
	if e.maxFileSize > 0 && resp.ContentLength > e.maxFileSize {
		resp.Body.Close()
		cancel()
		return "", streamErrors.New(ErrTooLarge).
			WithDetail("content_length", resp.ContentLength).
			WithDetail("limit", e.maxFileSize)
	}

	dest, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		resp.Body.Close()
		cancel()
		return "", streamErrors.NewWithCause(ErrStaging, err)
	}

	f := &fetch{
		cancel: cancel,
		state:  engine.StateActive,
		total:  max64(resp.ContentLength, 0),
		lastAt: time.Now(),
	}

	h := engine.Handle(uuid.New().String())
	e.mu.Lock()
	e.fetches[h] = f
	e.mu.Unlock()

	go e.stream(fetchCtx, f, resp.Body, dest)
	return h, nil
}

// stream copies the body to disk, updating the fetch counters as it goes.
func (e *Engine) stream(ctx context.Context, f *fetch, body io.ReadCloser, dest *os.File) {
	defer body.Close()
	defer dest.Close()

	buf := make([]byte, 256<<10)
	var written int64
	var streamErr error

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, werr := dest.Write(buf[:n]); werr != nil {
				streamErr = streamErrors.NewWithCause(ErrStaging, werr)
				break
			}
			written += int64(n)
			f.record(written)
			if e.maxFileSize > 0 && written > e.maxFileSize {
				streamErr = streamErrors.New(ErrTooLarge).WithDetail("limit", e.maxFileSize)
				break
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				f.finish(engine.StateRemoved, "")
				return
			}
			streamErr = streamErrors.NewWithCause(ErrRequestFailed, readErr)
			break
		}
	}

	if streamErr != nil {
		f.finish(engine.StateErrored, streamErr.Error())
		return
	}
	if f.shortRead(written) {
		f.finish(engine.StateErrored, fmt.Sprintf("truncated stream: got %d bytes", written))
		return
	}
	f.finish(engine.StateComplete, "")
}

// Poll reports the current counters for the fetch.
func (e *Engine) Poll(ctx context.Context, h engine.Handle) (engine.Status, error) {
	f, ok := e.lookup(h)
	if !ok {
		return engine.Status{}, engine.Errors().New(engine.ErrHandleNotFound).WithDetail("handle", string(h))
	}
	return f.snapshot(), nil
}

// Cancel stops the stream. The copy goroutine observes the context
// cancellation within one read.
func (e *Engine) Cancel(ctx context.Context, h engine.Handle) error {
	f, ok := e.lookup(h)
	if !ok {
		return nil
	}
	f.cancel()
	return nil
}

// Cleanup drops the handle. The staged file is removed by the
// job-level cleanup, not here. Safe to call repeatedly.
func (e *Engine) Cleanup(ctx context.Context, h engine.Handle) error {
	e.mu.Lock()
	f, ok := e.fetches[h]
	delete(e.fetches, h)
	e.mu.Unlock()
	if ok {
		f.cancel()
	}
	return nil
}

func (e *Engine) lookup(h engine.Handle) (*fetch, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.fetches[h]
	return f, ok
}

// record updates the byte counter and refreshes the rate estimate once
// per second.
func (f *fetch) record(written int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = written
	now := time.Now()
	if elapsed := now.Sub(f.lastAt); elapsed >= time.Second {
		f.rate = int64(float64(written-f.lastBytes) / elapsed.Seconds())
		f.lastBytes = written
		f.lastAt = now
	}
}

func (f *fetch) finish(state engine.State, errMsg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
	f.errMsg = errMsg
	if state == engine.StateComplete && f.total == 0 {
		f.total = f.completed
	}
	f.rate = 0
}

func (f *fetch) shortRead(written int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total > 0 && written < f.total
}

func (f *fetch) snapshot() engine.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return engine.Status{
		State:          f.state,
		CompletedBytes: f.completed,
		TotalBytes:     f.total,
		Rate:           f.rate,
		ErrMessage:     f.errMsg,
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
