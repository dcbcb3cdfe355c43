package transfer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/transloadr/transloader/pkg/logx"
	"github.com/transloadr/transloader/pkg/queuex"
)

// TaskTypeProcess is the queue task type carrying a job id to a worker.
const TaskTypeProcess = "transfer:process"

// ProcessPayload is the queue task payload.
type ProcessPayload struct {
	JobID string `json:"job_id"`
}

// ServiceConfig tunes the API-side service.
type ServiceConfig struct {
	Queue             string
	MaxDeliveries     int
	CancelGracePeriod time.Duration
	CancelPollEvery   time.Duration
}

// Service is the API-facing surface: submission, lookup, listing and
// cancellation. Submission does no network I/O beyond the record store
// and the queue; all fetch work happens on a worker.
type Service struct {
	store    RecordStore
	enqueuer queuex.TaskEnqueuer
	cleaner  *Cleaner
	cfg      ServiceConfig
}

// NewService wires the service.
func NewService(store RecordStore, enqueuer queuex.TaskEnqueuer, cleaner *Cleaner, cfg ServiceConfig) *Service {
	if cfg.CancelPollEvery <= 0 {
		cfg.CancelPollEvery = 200 * time.Millisecond
	}
	return &Service{store: store, enqueuer: enqueuer, cleaner: cleaner, cfg: cfg}
}

// SubmitRequest is the submission input.
type SubmitRequest struct {
	Source     string `json:"source"`
	TargetName string `json:"target_name"`
}

// Submit registers a PENDING job and enqueues its processing task. The
// source is only syntax-checked here; full validation runs on the worker.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if req.Source == "" {
		return nil, transferErrors.New(ErrInvalidSource).WithDetail("reason", "source is required")
	}
	job := NewJob(req.Source, req.TargetName)

	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(ProcessPayload{JobID: job.ID})
	if err != nil {
		return nil, transferErrors.NewWithCause(ErrStoreUnavailable, err)
	}
	task := queuex.Task{
		Type:          TaskTypeProcess,
		Queue:         s.cfg.Queue,
		Payload:       payload,
		MaxDeliveries: s.cfg.MaxDeliveries,
	}
	if _, err := s.enqueuer.Enqueue(ctx, task); err != nil {
		// The record stays PENDING and expires with its TTL; the client
		// sees the submission fail.
		return nil, err
	}

	logx.WithFields(logx.Fields{"job_id": job.ID, "target_name": job.TargetName}).
		Info("transfer: job submitted")
	return job, nil
}

// Get returns the job record.
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.store.Get(ctx, id)
}

// List returns jobs newest-first, optionally filtered by status.
func (s *Service) List(ctx context.Context, statusFilter string, limit int) (*ListResult, error) {
	filter := ListFilter{Limit: limit}
	if statusFilter != "" {
		status := Status(statusFilter)
		if !status.Valid() {
			return nil, transferErrors.New(ErrInvalidStatus).WithDetail("status", statusFilter)
		}
		filter.Status = status
	}
	return s.store.List(ctx, filter)
}

// Cancel requests cancellation. Terminal jobs are left as they are and
// reported back; PENDING jobs flip directly. Active jobs get the
// cooperative flag, and if the owning worker does not acknowledge within
// the grace period the record is forced to CANCELLED.
func (s *Service) Cancel(ctx context.Context, id string) (*Job, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	if job.Status == StatusPending {
		return s.forceCancel(ctx, id)
	}

	if err := s.store.RequestCancel(ctx, id); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(s.cfg.CancelGracePeriod)
	for time.Now().Before(deadline) {
		if err := sleepCtx(ctx, s.cfg.CancelPollEvery); err != nil {
			return nil, err
		}
		job, err = s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
	}

	logx.WithField("job_id", id).Warn("transfer: cancel not acknowledged in time, forcing")
	return s.forceCancel(ctx, id)
}

// forceCancel writes the CANCELLED terminal state directly. The owning
// worker, if any, observes it on its next record write and stands down.
// No worker may ever touch the record again, so staging storage is
// released here rather than left to a delivery that may never come.
func (s *Service) forceCancel(ctx context.Context, id string) (*Job, error) {
	job, err := s.store.Update(ctx, id, func(j *Job) {
		if j.Status.Terminal() {
			return
		}
		j.Finish(StatusCancelled)
	})
	if err != nil {
		return nil, err
	}
	s.cleaner.Cleanup(id)
	return job, nil
}
