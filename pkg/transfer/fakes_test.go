package transfer_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/transloadr/transloader/pkg/notify"
	"github.com/transloadr/transloader/pkg/transfer"
	"github.com/transloadr/transloader/pkg/transfer/engine"
)

// --- in-memory record store ---

type memStore struct {
	mu      sync.Mutex
	jobs    map[string]*transfer.Job
	order   []string
	flags   map[string]bool
	history map[string][]transfer.Status
}

func newMemStore() *memStore {
	return &memStore{
		jobs:    make(map[string]*transfer.Job),
		flags:   make(map[string]bool),
		history: make(map[string][]transfer.Status),
	}
}

func (s *memStore) Create(ctx context.Context, job *transfer.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return transfer.Errors().New(transfer.ErrJobExists)
	}
	clone := *job
	s.jobs[job.ID] = &clone
	s.order = append([]string{job.ID}, s.order...)
	s.history[job.ID] = append(s.history[job.ID], job.Status)
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*transfer.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, transfer.Errors().New(transfer.ErrJobNotFound)
	}
	clone := *job
	return &clone, nil
}

func (s *memStore) Update(ctx context.Context, id string, mutate func(*transfer.Job)) (*transfer.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, transfer.Errors().New(transfer.ErrJobNotFound)
	}
	prev := job.Status
	mutate(job)
	if job.Status != prev {
		s.history[id] = append(s.history[id], job.Status)
	}
	clone := *job
	return &clone, nil
}

// statusHistory returns every status the record has passed through, in
// write order.
func (s *memStore) statusHistory(id string) []transfer.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transfer.Status(nil), s.history[id]...)
}

func (s *memStore) Touch(ctx context.Context, id string) error { return nil }

func (s *memStore) List(ctx context.Context, filter transfer.ListFilter) (*transfer.ListResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := &transfer.ListResult{Jobs: []*transfer.Job{}}
	for _, id := range s.order {
		job := s.jobs[id]
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		result.Total++
		if filter.Limit <= 0 || len(result.Jobs) < filter.Limit {
			clone := *job
			result.Jobs = append(result.Jobs, &clone)
		}
	}
	return result, nil
}

func (s *memStore) RequestCancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[id] = true
	return nil
}

func (s *memStore) CancelRequested(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[id], nil
}

// --- fake download engine ---

type fakeEngine struct {
	kind     engine.Kind
	magnetOK bool
	probeErr error
	beginErr error

	mu         sync.Mutex
	beginCalls int
	cancels    int
	cleanups   int
	pollCalls  int
	statuses   []engine.Status
	onPoll     func(pollCall int)
	payload    []byte
}

func (f *fakeEngine) Kind() engine.Kind { return f.kind }

func (f *fakeEngine) Supports(source string) bool {
	if engine.IsMagnet(source) {
		return f.magnetOK
	}
	return true
}

func (f *fakeEngine) Probe(ctx context.Context) error { return f.probeErr }

func (f *fakeEngine) Begin(ctx context.Context, source, dir, filename string) (engine.Handle, error) {
	f.mu.Lock()
	f.beginCalls++
	f.mu.Unlock()
	if f.beginErr != nil {
		return "", f.beginErr
	}
	payload := f.payload
	if payload == nil {
		payload = []byte("staged-bytes")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, filename), payload, 0o644); err != nil {
		return "", err
	}
	return "h1", nil
}

func (f *fakeEngine) Poll(ctx context.Context, h engine.Handle) (engine.Status, error) {
	f.mu.Lock()
	f.pollCalls++
	call := f.pollCalls
	var status engine.Status
	if len(f.statuses) > 0 {
		status = f.statuses[0]
		if len(f.statuses) > 1 {
			f.statuses = f.statuses[1:]
		}
	} else {
		status = engine.Status{State: engine.StateComplete}
	}
	hook := f.onPoll
	f.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	return status, nil
}

func (f *fakeEngine) Cancel(ctx context.Context, h engine.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return nil
}

func (f *fakeEngine) Cleanup(ctx context.Context, h engine.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	return nil
}

// --- fake uploader ---

type fakeUploader struct {
	mu    sync.Mutex
	calls []string
	errs  []error
}

func (u *fakeUploader) Put(ctx context.Context, localPath, remoteName string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, remoteName)
	if len(u.errs) > 0 {
		err := u.errs[0]
		u.errs = u.errs[1:]
		return err
	}
	return nil
}

func (u *fakeUploader) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.calls)
}

// --- fake notifier ---

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *fakeNotifier) JobFinished(ctx context.Context, event notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

// --- fake resolver ---

type fakeResolver struct {
	ips map[string][]net.IP
	err error
}

func (r *fakeResolver) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	if r.err != nil {
		return nil, r.err
	}
	if ips, ok := r.ips[host]; ok {
		return ips, nil
	}
	return []net.IP{net.ParseIP("93.184.216.34")}, nil
}
