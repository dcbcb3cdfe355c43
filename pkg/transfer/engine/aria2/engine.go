package aria2

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/transloadr/transloader/pkg/logx"
	"github.com/transloadr/transloader/pkg/transfer/engine"
)

// Options tune how aria2 performs each fetch.
type Options struct {
	// MaxConnections is max-connection-per-server.
	MaxConnections int
	// Split is the number of segments a single download is split into.
	Split int
}

// Engine drives downloads through an external aria2 daemon. A magnet
// fetch produces a metadata GID first; once that completes, aria2 spawns
// the payload download and the engine follows it transparently, so the
// caller keeps polling one handle for the whole fetch.
type Engine struct {
	client *Client
	opts   Options

	mu sync.Mutex
	// current maps the handle issued at Begin to the GID being polled
	// now, and history keeps every GID the fetch went through so
	// Cleanup can purge all of them.
	current map[engine.Handle]string
	history map[engine.Handle][]string
}

// New creates an aria2-backed engine.
func New(client *Client, opts Options) *Engine {
	return &Engine{
		client:  client,
		opts:    opts,
		current: make(map[engine.Handle]string),
		history: make(map[engine.Handle][]string),
	}
}

func (e *Engine) Kind() engine.Kind { return engine.KindAria2 }

// Supports accepts http, https and magnet references.
func (e *Engine) Supports(source string) bool {
	lower := strings.ToLower(source)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		engine.IsMagnet(source)
}

// Probe checks the RPC endpoint is answering.
func (e *Engine) Probe(ctx context.Context) error {
	return e.client.GetVersion(ctx)
}

// Begin submits the download and returns its handle.
func (e *Engine) Begin(ctx context.Context, source, dir, filename string) (engine.Handle, error) {
	options := map[string]string{
		"dir":                       dir,
		"max-connection-per-server": strconv.Itoa(e.opts.MaxConnections),
		"split":                     strconv.Itoa(e.opts.Split),
		"continue":                  "true",
		// The job is a relay, never a seeder.
		"seed-time": "0",
	}
	// A magnet's payload name comes from the torrent metadata; forcing
	// "out" there corrupts multi-file torrents.
	if !engine.IsMagnet(source) && filename != "" {
		options["out"] = filename
	}

	gid, err := e.client.AddURI(ctx, []string{source}, options)
	if err != nil {
		return "", err
	}

	h := engine.Handle(gid)
	e.mu.Lock()
	e.current[h] = gid
	e.history[h] = []string{gid}
	e.mu.Unlock()
	return h, nil
}

// Poll reports raw telemetry for the fetch, following any download the
// current GID spawned.
func (e *Engine) Poll(ctx context.Context, h engine.Handle) (engine.Status, error) {
	gid, ok := e.lookup(h)
	if !ok {
		return engine.Status{}, engine.Errors().New(engine.ErrHandleNotFound).WithDetail("handle", string(h))
	}

	status, err := e.client.TellStatus(ctx, gid)
	if err != nil {
		return engine.Status{}, err
	}

	if status.Status == "complete" && len(status.FollowedBy) > 0 {
		// Metadata phase finished; keep polling the spawned download.
		next := status.FollowedBy[0]
		e.follow(h, next)
		logx.WithFields(logx.Fields{"gid": gid, "followed_by": next}).
			Debug("aria2: following spawned download")
		return engine.Status{State: engine.StateActive}, nil
	}

	return engine.Status{
		State:          mapState(status.Status),
		CompletedBytes: status.CompletedBytes(),
		TotalBytes:     status.TotalBytes(),
		Rate:           status.Speed(),
		ErrMessage:     status.ErrorMessage,
	}, nil
}

// Cancel aborts the fetch. aria2 rejects remove on already-finished
// downloads; that outcome still counts as cancelled.
func (e *Engine) Cancel(ctx context.Context, h engine.Handle) error {
	gid, ok := e.lookup(h)
	if !ok {
		return nil
	}
	if err := e.client.Remove(ctx, gid); err != nil {
		if IsUnavailable(err) {
			return err
		}
		logx.WithError(err).WithField("gid", gid).Debug("aria2: remove rejected, treating as stopped")
	}
	return nil
}

// Cleanup purges every GID the fetch produced from the daemon and drops
// the handle. Safe to call repeatedly.
func (e *Engine) Cleanup(ctx context.Context, h engine.Handle) error {
	e.mu.Lock()
	gids := e.history[h]
	delete(e.current, h)
	delete(e.history, h)
	e.mu.Unlock()

	for _, gid := range gids {
		if err := e.client.RemoveDownloadResult(ctx, gid); err != nil {
			logx.WithError(err).WithField("gid", gid).Debug("aria2: purge failed")
		}
	}
	return nil
}

func (e *Engine) lookup(h engine.Handle) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	gid, ok := e.current[h]
	return gid, ok
}

func (e *Engine) follow(h engine.Handle, gid string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current[h] = gid
	e.history[h] = append(e.history[h], gid)
}

func mapState(s string) engine.State {
	switch s {
	case "active", "waiting", "paused":
		return engine.StateActive
	case "complete":
		return engine.StateComplete
	case "error":
		return engine.StateErrored
	case "removed":
		return engine.StateRemoved
	default:
		return engine.StateActive
	}
}
