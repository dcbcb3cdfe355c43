package transfer_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/transloadr/transloader/pkg/errx"
	"github.com/transloadr/transloader/pkg/notify"
	"github.com/transloadr/transloader/pkg/transfer"
	"github.com/transloadr/transloader/pkg/transfer/engine"
)

type pipelineFixture struct {
	store    *memStore
	primary  *fakeEngine
	fallback *fakeEngine
	uploader *fakeUploader
	notifier *fakeNotifier
	cleaner  *transfer.Cleaner
	pipeline *transfer.Pipeline
	resolver *fakeResolver
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	return newPipelineFixtureConfig(t, transfer.PipelineConfig{
		Retry:           transfer.RetryPolicy{MaxAttempts: 3},
		DownloadTimeout: 2 * time.Second,
		JobTimeout:      5 * time.Second,
		PollInterval:    2 * time.Millisecond,
	})
}

func newPipelineFixtureConfig(t *testing.T, cfg transfer.PipelineConfig) *pipelineFixture {
	t.Helper()

	f := &pipelineFixture{
		store:    newMemStore(),
		primary:  &fakeEngine{kind: engine.KindAria2, magnetOK: true},
		fallback: &fakeEngine{kind: engine.KindHTTPStream},
		uploader: &fakeUploader{},
		notifier: &fakeNotifier{},
		resolver: &fakeResolver{},
	}

	selector := engine.NewSelector(f.primary, f.fallback, 50*time.Millisecond)
	validator := transfer.NewValidator(f.resolver, selector, nil, 0)
	f.cleaner = transfer.NewCleaner(t.TempDir())

	f.pipeline = transfer.NewPipeline(
		f.store, validator, selector, f.uploader, f.cleaner, f.notifier, cfg,
	)
	return f
}

func (f *pipelineFixture) submit(t *testing.T, source string) *transfer.Job {
	t.Helper()
	job := transfer.NewJob(source, "")
	if err := f.store.Create(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func (f *pipelineFixture) job(t *testing.T, id string) *transfer.Job {
	t.Helper()
	job, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return job
}

func TestPipelineHappyPath(t *testing.T) {
	f := newPipelineFixture(t)
	job := f.submit(t, "https://example.com/data/archive.tar.gz")

	if err := f.pipeline.Process(context.Background(), job.ID, false); err != nil {
		t.Fatalf("process: %v", err)
	}

	got := f.job(t, job.ID)
	if got.Status != transfer.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (error=%q)", got.Status, got.Error)
	}
	if got.AttemptCount != 1 {
		t.Fatalf("expected 1 attempt, got %d", got.AttemptCount)
	}
	if got.EngineUsed != engine.KindAria2 {
		t.Fatalf("expected primary engine, got %s", got.EngineUsed)
	}
	if got.Progress.Percent != 100 {
		t.Fatalf("completed job must report 100%%, got %v", got.Progress.Percent)
	}
	if got.CompletedAt == nil {
		t.Fatal("completed job must carry CompletedAt")
	}
	if got.Error != "" {
		t.Fatalf("completed job must not carry an error, got %q", got.Error)
	}
	if f.uploader.callCount() != 1 {
		t.Fatalf("expected exactly one upload, got %d", f.uploader.callCount())
	}
	if _, err := os.Stat(f.cleaner.JobDir(job.ID)); !os.IsNotExist(err) {
		t.Fatal("staging directory should be removed after completion")
	}
	if len(f.notifier.events) != 1 || f.notifier.events[0].Status != string(transfer.StatusCompleted) {
		t.Fatalf("expected one COMPLETED notification, got %+v", f.notifier.events)
	}
}

func TestPipelineBlockedAddressFailsWithoutEngine(t *testing.T) {
	f := newPipelineFixture(t)
	f.resolver.ips = map[string][]net.IP{
		"internal.example.com": {net.ParseIP("10.0.0.8")},
	}
	job := f.submit(t, "https://internal.example.com/secrets.txt")

	if err := f.pipeline.Process(context.Background(), job.ID, false); err != nil {
		t.Fatalf("process: %v", err)
	}

	got := f.job(t, job.ID)
	if got.Status != transfer.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
	if got.AttemptCount != 0 {
		t.Fatalf("validation failure must leave attempt_count at 0, got %d", got.AttemptCount)
	}
	if got.Error == "" {
		t.Fatal("FAILED job must carry an error")
	}
	if f.primary.beginCalls != 0 || f.fallback.beginCalls != 0 {
		t.Fatal("no engine may be invoked for a blocked source")
	}
}

func TestPipelineFallsBackWhenPrimaryProbeFails(t *testing.T) {
	f := newPipelineFixture(t)
	f.primary.probeErr = context.DeadlineExceeded
	job := f.submit(t, "https://example.com/file.bin")

	if err := f.pipeline.Process(context.Background(), job.ID, false); err != nil {
		t.Fatalf("process: %v", err)
	}

	got := f.job(t, job.ID)
	if got.Status != transfer.StatusCompleted {
		t.Fatalf("expected COMPLETED via fallback, got %s (error=%q)", got.Status, got.Error)
	}
	if got.EngineUsed != engine.KindHTTPStream {
		t.Fatalf("expected fallback engine, got %s", got.EngineUsed)
	}
	if f.primary.beginCalls != 0 {
		t.Fatal("primary must not begin when its probe fails")
	}
}

func TestPipelineExhaustsAttemptsOnTransientFailures(t *testing.T) {
	f := newPipelineFixture(t)
	f.primary.statuses = []engine.Status{
		{State: engine.StateErrored, ErrMessage: "connection reset"},
	}
	job := f.submit(t, "https://example.com/flaky.iso")

	if err := f.pipeline.Process(context.Background(), job.ID, false); err != nil {
		t.Fatalf("process: %v", err)
	}

	got := f.job(t, job.ID)
	if got.Status != transfer.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
	if got.AttemptCount != 3 {
		t.Fatalf("expected the full attempt ceiling (3), got %d", got.AttemptCount)
	}
	if got.Error == "" {
		t.Fatal("FAILED job must carry an error")
	}
	if f.primary.beginCalls != 3 {
		t.Fatalf("expected 3 fetch attempts, got %d", f.primary.beginCalls)
	}
	if f.uploader.callCount() != 0 {
		t.Fatal("no upload may happen when every fetch fails")
	}
}

func TestPipelineCancelDuringDownload(t *testing.T) {
	f := newPipelineFixture(t)
	// Keep the download active forever; raise the cancel flag from the
	// first poll tick, as the API would.
	f.primary.statuses = []engine.Status{
		{State: engine.StateActive, CompletedBytes: 10, TotalBytes: 1000},
	}
	var job *transfer.Job
	f.primary.onPoll = func(call int) {
		if call == 1 {
			_ = f.store.RequestCancel(context.Background(), job.ID)
		}
	}
	job = f.submit(t, "https://example.com/big.bin")

	if err := f.pipeline.Process(context.Background(), job.ID, false); err != nil {
		t.Fatalf("process: %v", err)
	}

	got := f.job(t, job.ID)
	if got.Status != transfer.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}
	if got.Error != "" {
		t.Fatalf("CANCELLED must not carry an error, got %q", got.Error)
	}
	if got.CompletedAt == nil {
		t.Fatal("cancelled job must carry CompletedAt")
	}
	if f.primary.cancels == 0 {
		t.Fatal("the engine fetch should be aborted on cancellation")
	}
	if f.uploader.callCount() != 0 {
		t.Fatal("cancelled job must not upload")
	}
}

func TestPipelineRedeliveryOfFinishedJobIsNoop(t *testing.T) {
	f := newPipelineFixture(t)
	job := f.submit(t, "https://example.com/done.bin")
	_, err := f.store.Update(context.Background(), job.ID, func(j *transfer.Job) {
		j.Finish(transfer.StatusCompleted)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := f.pipeline.Process(context.Background(), job.ID, false); err != nil {
		t.Fatalf("process: %v", err)
	}

	if f.uploader.callCount() != 0 {
		t.Fatal("redelivery of a finished job must not upload again")
	}
	if f.primary.beginCalls != 0 {
		t.Fatal("redelivery of a finished job must not fetch")
	}
}

func TestPipelineResumesUploadWhenStagedFileSurvives(t *testing.T) {
	f := newPipelineFixture(t)
	job := f.submit(t, "https://example.com/resume.bin")

	// Simulate a worker that crashed after the fetch: record says
	// UPLOADING and the staged file is on disk.
	dir := f.cleaner.JobDir(job.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, job.TargetName), []byte("bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := f.store.Update(context.Background(), job.ID, func(j *transfer.Job) {
		j.Status = transfer.StatusUploading
		j.AttemptCount = 1
		j.EngineUsed = engine.KindAria2
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := f.pipeline.Process(context.Background(), job.ID, false); err != nil {
		t.Fatalf("process: %v", err)
	}

	got := f.job(t, job.ID)
	if got.Status != transfer.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (error=%q)", got.Status, got.Error)
	}
	if f.primary.beginCalls != 0 {
		t.Fatal("resume with staged file must not refetch")
	}
	if f.uploader.callCount() != 1 {
		t.Fatalf("expected exactly one upload, got %d", f.uploader.callCount())
	}
	if got.AttemptCount != 1 {
		t.Fatalf("upload retries must not touch attempt_count, got %d", got.AttemptCount)
	}
}

func TestPipelineUploadRejectionIsPermanent(t *testing.T) {
	f := newPipelineFixture(t)
	f.uploader.errs = []error{transfer.Errors().New(transfer.ErrUploadRejected)}
	job := f.submit(t, "https://example.com/rejected.bin")

	if err := f.pipeline.Process(context.Background(), job.ID, false); err != nil {
		t.Fatalf("process: %v", err)
	}

	got := f.job(t, job.ID)
	if got.Status != transfer.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
	if f.uploader.callCount() != 1 {
		t.Fatalf("a permanent rejection must not be retried, got %d tries", f.uploader.callCount())
	}
}

func TestPipelineRetriesTransientUpload(t *testing.T) {
	f := newPipelineFixture(t)
	f.uploader.errs = []error{transfer.Errors().New(transfer.ErrUploadFailed)}
	job := f.submit(t, "https://example.com/retry-upload.bin")

	if err := f.pipeline.Process(context.Background(), job.ID, false); err != nil {
		t.Fatalf("process: %v", err)
	}

	got := f.job(t, job.ID)
	if got.Status != transfer.StatusCompleted {
		t.Fatalf("expected COMPLETED after upload retry, got %s (error=%q)", got.Status, got.Error)
	}
	if f.uploader.callCount() != 2 {
		t.Fatalf("expected 2 upload tries, got %d", f.uploader.callCount())
	}
	if got.AttemptCount != 1 {
		t.Fatalf("upload retries must not touch attempt_count, got %d", got.AttemptCount)
	}
}

func TestPipelineExpiredRecordIsAbsorbed(t *testing.T) {
	f := newPipelineFixture(t)
	if err := f.pipeline.Process(context.Background(), "gone", false); err != nil {
		t.Fatalf("a delivery for an expired record must be absorbed, got %v", err)
	}
}

func TestPipelineNotifiesOnFailure(t *testing.T) {
	f := newPipelineFixture(t)
	f.primary.statuses = []engine.Status{{State: engine.StateErrored, ErrMessage: "boom"}}
	job := f.submit(t, "https://example.com/fails.bin")

	if err := f.pipeline.Process(context.Background(), job.ID, false); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(f.notifier.events) != 1 {
		t.Fatalf("expected one notification, got %d", len(f.notifier.events))
	}
	event := f.notifier.events[0]
	if event.Status != string(transfer.StatusFailed) || event.Error == "" {
		t.Fatalf("failure notification should carry status and error, got %+v", event)
	}
}

func TestPipelineForcedCancelDuringDownloadIsFinal(t *testing.T) {
	f := newPipelineFixture(t)
	// The fetch stays active while the API, whose grace period expired
	// without the worker acknowledging, forces CANCELLED directly on the
	// record. The worker must stand down, not write over it.
	f.primary.statuses = []engine.Status{
		{State: engine.StateActive, CompletedBytes: 10, TotalBytes: 1000},
	}
	var job *transfer.Job
	f.primary.onPoll = func(call int) {
		if call == 1 {
			_, _ = f.store.Update(context.Background(), job.ID, func(j *transfer.Job) {
				j.Finish(transfer.StatusCancelled)
			})
		}
	}
	job = f.submit(t, "https://example.com/forced.bin")

	if err := f.pipeline.Process(context.Background(), job.ID, false); err != nil {
		t.Fatalf("process: %v", err)
	}

	got := f.job(t, job.ID)
	if got.Status != transfer.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}
	history := f.store.statusHistory(job.ID)
	for i, status := range history {
		if status == transfer.StatusCancelled && i != len(history)-1 {
			t.Fatalf("record revived after CANCELLED: %v", history)
		}
	}
	if f.primary.beginCalls != 1 {
		t.Fatalf("no new fetch may start after a forced cancel, got %d", f.primary.beginCalls)
	}
	if f.primary.cancels == 0 {
		t.Fatal("the in-flight fetch should be aborted")
	}
	if f.uploader.callCount() != 0 {
		t.Fatal("a force-cancelled job must not upload")
	}
}

func TestPipelineRedeliveryOfFinishedJobCleansStaging(t *testing.T) {
	f := newPipelineFixture(t)
	job := f.submit(t, "https://example.com/leftover.bin")
	_, err := f.store.Update(context.Background(), job.ID, func(j *transfer.Job) {
		j.Finish(transfer.StatusCancelled)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	// Bytes staged by a worker that died before the cancel landed.
	dir := f.cleaner.JobDir(job.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "partial.bin"), []byte("xx"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := f.pipeline.Process(context.Background(), job.ID, false); err != nil {
		t.Fatalf("process: %v", err)
	}

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("redelivery of a finished job must release its staging directory")
	}
	if f.primary.beginCalls != 0 {
		t.Fatal("redelivery of a finished job must not fetch")
	}
}

func TestPipelineJobTimeoutFailsOnFinalDelivery(t *testing.T) {
	f := newPipelineFixtureConfig(t, transfer.PipelineConfig{
		Retry:           transfer.RetryPolicy{MaxAttempts: 3},
		DownloadTimeout: time.Second,
		JobTimeout:      30 * time.Millisecond,
		PollInterval:    2 * time.Millisecond,
	})
	f.primary.statuses = []engine.Status{
		{State: engine.StateActive, CompletedBytes: 1, TotalBytes: 1000},
	}
	job := f.submit(t, "https://example.com/slow.bin")

	if err := f.pipeline.Process(context.Background(), job.ID, true); err != nil {
		t.Fatalf("the final delivery must settle the record, got %v", err)
	}

	got := f.job(t, job.ID)
	if got.Status != transfer.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
	if got.Error == "" {
		t.Fatal("FAILED job must carry an error")
	}
	if got.CompletedAt == nil {
		t.Fatal("failed job must carry CompletedAt")
	}
	if _, err := os.Stat(f.cleaner.JobDir(job.ID)); !os.IsNotExist(err) {
		t.Fatal("staging directory should be removed after the terminal write")
	}
}

func TestPipelineJobTimeoutHandsBackWhenDeliveriesRemain(t *testing.T) {
	f := newPipelineFixtureConfig(t, transfer.PipelineConfig{
		Retry:           transfer.RetryPolicy{MaxAttempts: 3},
		DownloadTimeout: time.Second,
		JobTimeout:      30 * time.Millisecond,
		PollInterval:    2 * time.Millisecond,
	})
	f.primary.statuses = []engine.Status{
		{State: engine.StateActive, CompletedBytes: 1, TotalBytes: 1000},
	}
	job := f.submit(t, "https://example.com/slow.bin")

	err := f.pipeline.Process(context.Background(), job.ID, false)
	if err == nil {
		t.Fatal("a timed-out non-final delivery must be handed back to the queue")
	}
	if !errx.IsCode(err, transfer.ErrFetchTimeout) {
		t.Fatalf("expected a fetch timeout, got %v", err)
	}

	got := f.job(t, job.ID)
	if got.Status.Terminal() {
		t.Fatalf("a non-final timeout must leave the record resumable, got %s", got.Status)
	}
	if got.Error == "" {
		t.Fatal("the timeout should be recorded on the job")
	}
}

var _ notify.Notifier = (*fakeNotifier)(nil)
var _ transfer.RecordStore = (*memStore)(nil)
var _ engine.Engine = (*fakeEngine)(nil)
