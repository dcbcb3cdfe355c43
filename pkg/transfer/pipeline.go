package transfer

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/transloadr/transloader/pkg/errx"
	"github.com/transloadr/transloader/pkg/logx"
	"github.com/transloadr/transloader/pkg/notify"
	"github.com/transloadr/transloader/pkg/transfer/engine"
)

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	Retry           RetryPolicy
	DownloadTimeout time.Duration
	JobTimeout      time.Duration
	PollInterval    time.Duration
}

// Pipeline drives one job from VALIDATING to a terminal state. It is the
// single writer of job status while it owns a delivery; the API only
// raises the cancel flag and forces CANCELLED after the grace period.
type Pipeline struct {
	store     RecordStore
	validator *Validator
	selector  *engine.Selector
	uploader  Uploader
	cleaner   *Cleaner
	notifier  notify.Notifier
	cfg       PipelineConfig
}

// NewPipeline wires the orchestrator.
func NewPipeline(
	store RecordStore,
	validator *Validator,
	selector *engine.Selector,
	uploader Uploader,
	cleaner *Cleaner,
	notifier notify.Notifier,
	cfg PipelineConfig,
) *Pipeline {
	return &Pipeline{
		store:     store,
		validator: validator,
		selector:  selector,
		uploader:  uploader,
		cleaner:   cleaner,
		notifier:  notifier,
		cfg:       cfg,
	}
}

// Process handles one queue delivery for jobID. Deliveries are
// at-least-once, so the pipeline resumes from whatever state the record
// is in and no-ops on terminal records. A non-nil return means a failure
// worth redelivering; every other outcome, success or failure, is
// absorbed after being written to the record. finalDelivery marks the
// queue's last delivery for this job: a job timeout on it settles the
// record instead of handing the task back.
func (p *Pipeline) Process(ctx context.Context, jobID string, finalDelivery bool) error {
	// The terminal write and cleanup must outlive the job timeout, so the
	// deadline bounds run() only.
	runCtx := ctx
	if p.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.cfg.JobTimeout)
		defer cancel()
	}

	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		if errx.IsCode(err, ErrJobNotFound) {
			// Record expired before the delivery arrived. Nothing to do.
			logx.WithField("job_id", jobID).Warn("transfer: delivery for expired job")
			return nil
		}
		return transferErrors.NewWithCause(ErrStoreUnavailable, err).WithDetail("job_id", jobID)
	}
	if job.Status.Terminal() {
		logx.WithFields(logx.Fields{"job_id": jobID, "status": string(job.Status)}).
			Debug("transfer: delivery for finished job, skipping")
		// The job may have been force-cancelled while no worker owned it,
		// leaving staged bytes behind. Cleanup is idempotent.
		p.cleaner.Cleanup(jobID)
		return nil
	}

	log := logx.WithFields(logx.Fields{"job_id": job.ID, "resume_from": string(job.Status)})
	log.Info("transfer: processing job")

	if err := p.run(runCtx, job); err != nil {
		if p.jobTimedOut(ctx, runCtx, err) {
			terr := transferErrors.NewWithCause(ErrFetchTimeout, err).WithDetail("job_id", job.ID)
			if finalDelivery {
				return p.finish(ctx, job, StatusFailed, terr)
			}
			// Deliveries remain; record the timeout and hand the task back.
			if _, uerr := p.advance(ctx, job, func(j *Job) { j.Error = terr.Error() }); uerr != nil {
				return p.settle(ctx, job, uerr)
			}
			return terr
		}
		return p.settle(ctx, job, err)
	}
	return p.finish(ctx, job, StatusCompleted, nil)
}

// jobTimedOut reports whether err is the pipeline's own JobTimeout
// firing, as opposed to the worker shutting down or an engine deadline.
func (p *Pipeline) jobTimedOut(parent, runCtx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) &&
		runCtx.Err() == context.DeadlineExceeded &&
		parent.Err() == nil
}

// run executes the remaining phases for the job's current state and
// returns once the staged file has been relayed.
func (p *Pipeline) run(ctx context.Context, job *Job) error {
	switch job.Status {
	case StatusPending, StatusValidating:
		if err := p.validate(ctx, job); err != nil {
			return err
		}
	case StatusUploading:
		// A previous delivery died between fetch and relay. If the staged
		// file survived, skip straight to the upload; otherwise fetch again.
		if path, err := p.stagedFile(job); err == nil {
			return p.relay(ctx, job, path)
		}
		logx.WithField("job_id", job.ID).Warn("transfer: staged file missing on resume, refetching")
	case StatusDownloading, StatusFailed:
		// Fetch resumes below from the recorded attempt count.
	}

	path, err := p.fetch(ctx, job)
	if err != nil {
		return err
	}
	return p.relay(ctx, job, path)
}

// validate runs the once-per-job admission checks.
func (p *Pipeline) validate(ctx context.Context, job *Job) error {
	if _, err := p.advance(ctx, job, func(j *Job) { j.Status = StatusValidating }); err != nil {
		return err
	}
	if err := p.validator.Validate(ctx, job.Source); err != nil {
		return err
	}
	return nil
}

// fetch runs the attempt loop until a fetch succeeds, attempts are
// exhausted, a permanent error occurs, or cancellation is observed.
// It returns the path of the staged file.
func (p *Pipeline) fetch(ctx context.Context, job *Job) (string, error) {
	attempt := job.AttemptCount
	norm := NewNormalizer()
	dir := p.cleaner.JobDir(job.ID)
	var lastErr error

	for attempt < p.cfg.Retry.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := sleepCtx(ctx, p.cfg.Retry.Delay(attempt+1)); err != nil {
			return "", err
		}
		// Checked after the backoff sleep: the grace period may have elapsed
		// and the record force-cancelled while this worker slept.
		if requested := p.cancelRequested(ctx, job.ID); requested {
			return "", transferErrors.New(ErrCancelRequested).WithDetail("job_id", job.ID)
		}

		eng, err := p.selector.Select(ctx, job.Source)
		if err != nil {
			return "", err
		}

		handle, err := eng.Begin(ctx, job.Source, dir, job.TargetName)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return "", cerr
			}
			switch Classify(err) {
			case ClassCancelled, ClassPermanent:
				return "", err
			case ClassEngineUnavailable:
				// The engine went away between probe and start. The
				// attempt was never consumed; re-select after a pause.
				lastErr = err
				if serr := sleepCtx(ctx, p.cfg.Retry.BaseDelay); serr != nil {
					return "", serr
				}
				continue
			default:
				attempt++
				lastErr = err
				if _, uerr := p.advance(ctx, job, func(j *Job) {
					j.Status = StatusDownloading
					j.AttemptCount = attempt
					j.EngineUsed = eng.Kind()
					j.Error = err.Error()
				}); uerr != nil {
					return "", uerr
				}
				continue
			}
		}

		attempt++
		norm.Reset()
		attemptNo := attempt
		if _, err := p.advance(ctx, job, func(j *Job) {
			j.Status = StatusDownloading
			j.AttemptCount = attemptNo
			j.EngineUsed = eng.Kind()
			j.Progress = Progress{}
			j.Error = ""
		}); err != nil {
			abortFetch(eng, handle)
			return "", err
		}

		logx.WithFields(logx.Fields{
			"job_id":  job.ID,
			"engine":  string(eng.Kind()),
			"attempt": attempt,
		}).Info("transfer: fetch attempt started")

		err = p.poll(ctx, job, eng, handle, norm)
		if err == nil {
			_ = eng.Cleanup(ctx, handle)
			return p.stagedFile(job)
		}

		abortFetch(eng, handle)
		if cerr := ctx.Err(); cerr != nil {
			return "", cerr
		}
		switch Classify(err) {
		case ClassCancelled:
			return "", err
		case ClassPermanent:
			return "", err
		default:
			lastErr = err
			logx.WithError(err).WithFields(logx.Fields{"job_id": job.ID, "attempt": attempt}).
				Warn("transfer: fetch attempt failed")
			if _, uerr := p.advance(ctx, job, func(j *Job) { j.Error = err.Error() }); uerr != nil {
				return "", uerr
			}
		}
	}

	return "", transferErrors.NewWithCause(ErrRetriesExhausted, lastErr).
		WithDetail("attempts", attempt)
}

// poll watches one fetch attempt until the engine reports a terminal
// state, the per-attempt timeout fires, or cancellation is observed.
func (p *Pipeline) poll(ctx context.Context, job *Job, eng engine.Engine, handle engine.Handle, norm *Normalizer) error {
	attemptCtx := ctx
	if p.cfg.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, p.cfg.DownloadTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-attemptCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return transferErrors.New(ErrFetchTimeout).WithDetail("job_id", job.ID)
		case <-ticker.C:
		}

		if p.cancelRequested(ctx, job.ID) {
			return transferErrors.New(ErrCancelRequested).WithDetail("job_id", job.ID)
		}

		status, err := eng.Poll(attemptCtx, handle)
		if err != nil {
			return err
		}

		progress := norm.Observe(status)
		if _, err := p.advance(ctx, job, func(j *Job) { j.Progress = progress }); err != nil {
			return err
		}

		switch status.State {
		case engine.StateComplete:
			return nil
		case engine.StateErrored:
			if status.ErrMessage != "" {
				return transferErrors.NewWithMessage(ErrFetchFailed, status.ErrMessage).
					WithDetail("engine", string(eng.Kind()))
			}
			return transferErrors.New(ErrFetchFailed).WithDetail("engine", string(eng.Kind()))
		case engine.StateRemoved:
			return transferErrors.New(ErrCancelRequested).WithDetail("job_id", job.ID)
		}
	}
}

// relay uploads the staged file, retrying transient failures with the
// same ceiling and backoff as fetches. Upload retries do not touch
// AttemptCount; that counter records fetch attempts only.
func (p *Pipeline) relay(ctx context.Context, job *Job, localPath string) error {
	if _, err := p.advance(ctx, job, func(j *Job) { j.Status = StatusUploading }); err != nil {
		return err
	}

	var lastErr error
	for tryNo := 1; tryNo <= p.cfg.Retry.MaxAttempts; tryNo++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.cancelRequested(ctx, job.ID) {
			return transferErrors.New(ErrCancelRequested).WithDetail("job_id", job.ID)
		}
		if err := sleepCtx(ctx, p.cfg.Retry.Delay(tryNo)); err != nil {
			return err
		}

		err := p.uploader.Put(ctx, localPath, job.TargetName)
		if err == nil {
			return nil
		}
		switch Classify(err) {
		case ClassCancelled, ClassPermanent:
			return err
		default:
			lastErr = err
			logx.WithError(err).WithFields(logx.Fields{"job_id": job.ID, "try": tryNo}).
				Warn("transfer: relay attempt failed")
		}
	}

	return transferErrors.NewWithCause(ErrUploadFailed, lastErr).WithDetail("job_id", job.ID)
}

// settle maps a pipeline error to the job's fate. Infrastructure errors
// propagate so the delivery is retried; everything else becomes a
// terminal record.
func (p *Pipeline) settle(ctx context.Context, job *Job, cause error) error {
	if errx.IsCode(cause, ErrStoreUnavailable) ||
		errors.Is(cause, context.Canceled) ||
		errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}
	if Classify(cause) == ClassCancelled {
		return p.finish(ctx, job, StatusCancelled, nil)
	}
	return p.finish(ctx, job, StatusFailed, cause)
}

// finish writes the terminal transition, releases staging storage and
// notifies. The record keeps the final say: if the API forced CANCELLED
// during the grace period, the terminal state already there wins.
func (p *Pipeline) finish(ctx context.Context, job *Job, status Status, cause error) error {
	updated, err := p.update(ctx, job, func(j *Job) {
		if j.Status.Terminal() {
			return
		}
		if cause != nil {
			j.Error = cause.Error()
		}
		if status == StatusCompleted {
			j.Progress = Progress{Percent: 100}
		}
		j.Finish(status)
	})
	if err != nil {
		return err
	}

	p.cleaner.Cleanup(job.ID)

	logx.WithFields(logx.Fields{
		"job_id":   updated.ID,
		"status":   string(updated.Status),
		"attempts": updated.AttemptCount,
	}).Info("transfer: job finished")

	if p.notifier != nil {
		event := notify.Event{
			JobID:      updated.ID,
			Status:     string(updated.Status),
			Source:     updated.Source,
			TargetName: updated.TargetName,
			Error:      updated.Error,
		}
		if nerr := p.notifier.JobFinished(ctx, event); nerr != nil {
			logx.WithError(nerr).WithField("job_id", updated.ID).Warn("transfer: notification failed")
		}
	}
	return nil
}

// advance applies a mid-flight write through the transition table. A
// record that went terminal underneath the pipeline, which happens when
// the API forces CANCELLED after the grace period, is left untouched and
// the write is refused; the caller unwinds and the terminal state wins.
func (p *Pipeline) advance(ctx context.Context, job *Job, mutate func(*Job)) (*Job, error) {
	var refused error
	updated, err := p.update(ctx, job, func(j *Job) {
		if j.Status.Terminal() {
			if j.Status == StatusCancelled {
				refused = transferErrors.New(ErrCancelRequested).WithDetail("job_id", j.ID)
			} else {
				refused = transferErrors.New(ErrIllegalTransition).
					WithDetail("job_id", j.ID).
					WithDetail("from", string(j.Status))
			}
			return
		}
		prev := j.Status
		mutate(j)
		if next := j.Status; next != prev && !prev.CanTransition(next) {
			j.Status = prev
			refused = transferErrors.New(ErrIllegalTransition).
				WithDetail("job_id", j.ID).
				WithDetail("from", string(prev)).
				WithDetail("to", string(next))
		}
	})
	if err != nil {
		return nil, err
	}
	if refused != nil {
		return updated, refused
	}
	return updated, nil
}

// update wraps RecordStore.Update, converting store failures into the
// infrastructure error that triggers redelivery.
func (p *Pipeline) update(ctx context.Context, job *Job, mutate func(*Job)) (*Job, error) {
	updated, err := p.store.Update(ctx, job.ID, mutate)
	if err != nil {
		return nil, transferErrors.NewWithCause(ErrStoreUnavailable, err).WithDetail("job_id", job.ID)
	}
	*job = *updated
	return updated, nil
}

// cancelRequested checks the cooperative cancel flag. A store hiccup here
// is not fatal; the flag is rechecked every poll tick.
func (p *Pipeline) cancelRequested(ctx context.Context, jobID string) bool {
	requested, err := p.store.CancelRequested(ctx, jobID)
	if err != nil {
		logx.WithError(err).WithField("job_id", jobID).Debug("transfer: cancel flag check failed")
		return false
	}
	return requested
}

// stagedFile locates the fetched payload under the job's staging
// directory. The exact target name is preferred; a torrent payload whose
// name came from metadata falls back to the largest staged file.
func (p *Pipeline) stagedFile(job *Job) (string, error) {
	dir := p.cleaner.JobDir(job.ID)

	exact := filepath.Join(dir, job.TargetName)
	if info, err := os.Stat(exact); err == nil && info.Mode().IsRegular() {
		return exact, nil
	}

	var best string
	var bestSize int64 = -1
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		if info.Size() > bestSize {
			best, bestSize = path, info.Size()
		}
		return nil
	})
	if err != nil || best == "" {
		return "", transferErrors.New(ErrStagingMissing).WithDetail("job_id", job.ID)
	}
	return best, nil
}

// abortFetch stops and releases an attempt that will not be resumed.
func abortFetch(eng engine.Engine, handle engine.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = eng.Cancel(ctx, handle)
	_ = eng.Cleanup(ctx, handle)
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
