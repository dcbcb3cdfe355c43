package transfer

import (
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/transloadr/transloader/pkg/transfer/engine"
)

// Status is the lifecycle state of a transfer job.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusValidating  Status = "VALIDATING"
	StatusDownloading Status = "DOWNLOADING"
	StatusUploading   Status = "UPLOADING"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusCancelled   Status = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// legalTransitions encodes the full state machine. CANCELLED is reachable
// from every non-terminal state; FAILED re-enters DOWNLOADING when a retry
// follows a failed attempt on the same job.
var legalTransitions = map[Status][]Status{
	StatusPending:     {StatusValidating, StatusCancelled},
	StatusValidating:  {StatusDownloading, StatusFailed, StatusCancelled},
	StatusDownloading: {StatusUploading, StatusFailed, StatusCancelled},
	StatusUploading:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusFailed:      {StatusDownloading},
	StatusCompleted:   {},
	StatusCancelled:   {},
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a member of the closed status enum.
func (s Status) Valid() bool {
	_, ok := legalTransitions[s]
	return ok
}

// Progress is the engine-agnostic progress view exposed to clients.
// Rate (bytes/sec) and ETASeconds are nil when the active engine cannot
// estimate them.
type Progress struct {
	Percent    float64 `json:"percent"`
	Rate       *int64  `json:"rate"`
	ETASeconds *int64  `json:"eta_seconds"`
}

// Job is the authoritative record of one transfer, stored as JSON in the
// record store for the retention period.
type Job struct {
	ID           string      `json:"id"`
	Status       Status      `json:"status"`
	Source       string      `json:"source"`
	TargetName   string      `json:"target_name"`
	CreatedAt    time.Time   `json:"created_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	Progress     Progress    `json:"progress"`
	Error        string      `json:"error,omitempty"`
	AttemptCount int         `json:"attempt_count"`
	EngineUsed   engine.Kind `json:"engine_used,omitempty"`
}

// NewJob creates a PENDING job for the given source. When targetName is
// empty it is derived from the source reference.
func NewJob(source, targetName string) *Job {
	if targetName == "" {
		targetName = DeriveTargetName(source)
	}
	return &Job{
		ID:         uuid.New().String(),
		Status:     StatusPending,
		Source:     source,
		TargetName: SanitizeName(targetName),
		CreatedAt:  time.Now().UTC(),
	}
}

// Finish marks the first terminal transition. CompletedAt is set exactly
// once; later calls leave it untouched.
func (j *Job) Finish(status Status) {
	j.Status = status
	if j.CompletedAt == nil {
		now := time.Now().UTC()
		j.CompletedAt = &now
	}
	if status == StatusCancelled {
		j.Error = ""
	}
}

// DeriveTargetName extracts a usable file name from a source reference.
func DeriveTargetName(source string) string {
	if engine.IsMagnet(source) {
		// Prefer the display name embedded in the magnet link.
		if u, err := url.Parse(source); err == nil {
			if dn := u.Query().Get("dn"); dn != "" {
				return dn
			}
		}
		return "magnet-download"
	}
	if u, err := url.Parse(source); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			return base
		}
	}
	return "download"
}

// SanitizeName strips path separators and traversal from a client-supplied
// target name so it can never escape the staging or remote prefix.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(path.Clean("/" + name))
	if name == "/" || name == "." || name == "" {
		return "download"
	}
	return name
}
