package transferinfra

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/transloadr/transloader/pkg/transfer"
)

// maxIndexed caps the newest-first index. Records past the cap are only
// reachable by id until their TTL expires.
const maxIndexed = 1000

// RedisStore implements transfer.RecordStore on a Redis keyspace. Every
// record carries a retention TTL refreshed on each write; an index list
// provides newest-first listing. Ids of records that expired out from
// under the index are skipped on read.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates the store with the given record retention.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func jobKey(id string) string    { return fmt.Sprintf("transfer:job:%s", id) }
func cancelKey(id string) string { return fmt.Sprintf("transfer:cancel:%s", id) }

const indexKey = "transfer:index"

// Create stores a fresh record, rejecting duplicate ids.
func (s *RedisStore) Create(ctx context.Context, job *transfer.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return infraErrors.NewWithCause(ErrMarshal, err)
	}

	created, err := s.rdb.SetNX(ctx, jobKey(job.ID), data, s.ttl).Result()
	if err != nil {
		return infraErrors.NewWithCause(ErrPut, err).WithDetail("job_id", job.ID)
	}
	if !created {
		return transfer.Errors().New(transfer.ErrJobExists).WithDetail("job_id", job.ID)
	}

	pipe := s.rdb.Pipeline()
	pipe.LPush(ctx, indexKey, job.ID)
	pipe.LTrim(ctx, indexKey, 0, maxIndexed-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return infraErrors.NewWithCause(ErrIndex, err).WithDetail("job_id", job.ID)
	}
	return nil
}

// Get returns the record or transfer.ErrJobNotFound.
func (s *RedisStore) Get(ctx context.Context, id string) (*transfer.Job, error) {
	data, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, transfer.Errors().New(transfer.ErrJobNotFound).WithDetail("job_id", id)
		}
		return nil, infraErrors.NewWithCause(ErrGet, err).WithDetail("job_id", id)
	}

	var job transfer.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, infraErrors.NewWithCause(ErrUnmarshal, err).WithDetail("job_id", id)
	}
	return &job, nil
}

// Update applies mutate under read-modify-write and refreshes the
// retention period. The pipeline is the only writer while it owns a
// delivery, so no optimistic locking is needed here.
func (s *RedisStore) Update(ctx context.Context, id string, mutate func(*transfer.Job)) (*transfer.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	mutate(job)

	data, err := json.Marshal(job)
	if err != nil {
		return nil, infraErrors.NewWithCause(ErrMarshal, err)
	}
	if err := s.rdb.Set(ctx, jobKey(id), data, s.ttl).Err(); err != nil {
		return nil, infraErrors.NewWithCause(ErrPut, err).WithDetail("job_id", id)
	}
	return job, nil
}

// Touch refreshes the retention period without changing the record.
func (s *RedisStore) Touch(ctx context.Context, id string) error {
	ok, err := s.rdb.Expire(ctx, jobKey(id), s.ttl).Result()
	if err != nil {
		return infraErrors.NewWithCause(ErrPut, err).WithDetail("job_id", id)
	}
	if !ok {
		return transfer.Errors().New(transfer.ErrJobNotFound).WithDetail("job_id", id)
	}
	return nil
}

// List walks the index newest-first, skipping expired ids.
func (s *RedisStore) List(ctx context.Context, filter transfer.ListFilter) (*transfer.ListResult, error) {
	ids, err := s.rdb.LRange(ctx, indexKey, 0, maxIndexed-1).Result()
	if err != nil {
		return nil, infraErrors.NewWithCause(ErrIndex, err)
	}

	result := &transfer.ListResult{Jobs: []*transfer.Job{}}
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if err != nil {
			if transfer.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		result.Total++
		if filter.Limit <= 0 || len(result.Jobs) < filter.Limit {
			result.Jobs = append(result.Jobs, job)
		}
	}
	return result, nil
}

// RequestCancel raises the cooperative cancel flag. The flag outlives the
// grace period by a wide margin so late pollers still observe it.
func (s *RedisStore) RequestCancel(ctx context.Context, id string) error {
	if err := s.rdb.Set(ctx, cancelKey(id), "1", time.Hour).Err(); err != nil {
		return infraErrors.NewWithCause(ErrFlag, err).WithDetail("job_id", id)
	}
	return nil
}

// CancelRequested reports whether the cancel flag is raised.
func (s *RedisStore) CancelRequested(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Exists(ctx, cancelKey(id)).Result()
	if err != nil {
		return false, infraErrors.NewWithCause(ErrFlag, err).WithDetail("job_id", id)
	}
	return n > 0, nil
}
