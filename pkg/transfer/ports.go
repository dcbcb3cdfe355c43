package transfer

import "context"

// ListFilter narrows a listing. Zero value means no filtering.
type ListFilter struct {
	Status Status
	Limit  int
}

// ListResult is a newest-first page of jobs plus the total count of
// records matching the filter.
type ListResult struct {
	Jobs  []*Job `json:"jobs"`
	Total int    `json:"total"`
}

// RecordStore is the TTL-bounded keyspace holding job records. Records
// are created once, mutated only by their owner, and expire on their own;
// the store never exposes deletion.
type RecordStore interface {
	// Create stores a new record, failing with ErrJobExists when the id
	// is already present.
	Create(ctx context.Context, job *Job) error

	// Get returns the record or ErrJobNotFound.
	Get(ctx context.Context, id string) (*Job, error)

	// Update applies mutate to the current record and writes it back,
	// refreshing the retention period.
	Update(ctx context.Context, id string, mutate func(*Job)) (*Job, error)

	// Touch refreshes the retention period without mutating the record.
	Touch(ctx context.Context, id string) error

	// List returns jobs newest-first.
	List(ctx context.Context, filter ListFilter) (*ListResult, error)

	// RequestCancel raises the cooperative cancel flag for the job.
	RequestCancel(ctx context.Context, id string) error

	// CancelRequested reports whether the cancel flag is raised.
	CancelRequested(ctx context.Context, id string) (bool, error)
}

// Uploader relays a staged local file to remote storage under the given
// remote name.
type Uploader interface {
	Put(ctx context.Context, localPath, remoteName string) error
}
