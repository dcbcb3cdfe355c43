package config

import "time"

// TransferConfig bounds the fetch-and-relay pipeline. All limits are
// explicit; the orchestrator receives this value at construction.
type TransferConfig struct {
	// StagingDir is the local directory holding per-job temporary areas.
	StagingDir string

	// MaxFileSize rejects oversized resources before any bytes move.
	MaxFileSize int64

	// MaxAttempts is the fetch retry ceiling.
	MaxAttempts int

	// RetryBaseDelay and RetryMaxDelay bound the per-attempt backoff.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// DownloadTimeout bounds a single fetch attempt; JobTimeout bounds the
	// whole pipeline run. Either firing is a transient failure.
	DownloadTimeout time.Duration
	JobTimeout      time.Duration

	// PollInterval is how often engine progress is sampled.
	PollInterval time.Duration

	// ProbeTimeout bounds the primary engine liveness check.
	ProbeTimeout time.Duration

	// CancelGracePeriod is how long a cancel request waits for the owning
	// worker before the job is forced to CANCELLED.
	CancelGracePeriod time.Duration

	// RecordTTL is the retention window of job records.
	RecordTTL time.Duration
}

func loadTransferConfig() TransferConfig {
	return TransferConfig{
		StagingDir:        getEnv("STAGING_DIR", "/tmp/transloader"),
		MaxFileSize:       getEnvInt64("MAX_FILE_SIZE_BYTES", 5<<30),
		MaxAttempts:       getEnvInt("MAX_RETRIES", 3),
		RetryBaseDelay:    getEnvDuration("RETRY_BASE_DELAY", 3*time.Second),
		RetryMaxDelay:     getEnvDuration("RETRY_MAX_DELAY", time.Minute),
		DownloadTimeout:   getEnvDuration("DOWNLOAD_TIMEOUT", time.Hour),
		JobTimeout:        getEnvDuration("JOB_TIMEOUT", 2*time.Hour),
		PollInterval:      getEnvDuration("PROGRESS_POLL_INTERVAL", time.Second),
		ProbeTimeout:      getEnvDuration("ENGINE_PROBE_TIMEOUT", 2*time.Second),
		CancelGracePeriod: getEnvDuration("CANCEL_GRACE_PERIOD", 10*time.Second),
		RecordTTL:         getEnvDuration("RECORD_TTL", 24*time.Hour),
	}
}
