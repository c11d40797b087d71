package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
)

// JobQueue stores pending jobs in per-queue sorted sets scored by priority,
// with job records in hashes under a state-dependent TTL.
type JobQueue struct {
	store *Store
}

// NewJobQueue returns a JobQueue backed by the shared store.
func NewJobQueue(store *Store) *JobQueue {
	return &JobQueue{store: store}
}

var _ domain.JobQueue = (*JobQueue)(nil)

func jobTTL(status domain.JobStatus) time.Duration {
	switch status {
	case domain.JobRunning:
		return ttlRunning
	case domain.JobCompleted, domain.JobFailed, domain.JobCancelled:
		return ttlTerminal
	default:
		return ttlPending
	}
}

// Enqueue atomically adds (job id, priority) to the platform's ordered set and
// writes the job record with the pending TTL.
func (q *JobQueue) Enqueue(ctx context.Context, j domain.Job) error {
	if j.Platform == "" {
		return fmt.Errorf("op=redis.JobQueue.Enqueue: %w: platform required", domain.ErrInvalidArgument)
	}
	if j.ID == "" {
		return fmt.Errorf("op=redis.JobQueue.Enqueue: %w: job id required", domain.ErrInvalidArgument)
	}
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("op=redis.JobQueue.Enqueue: %w", err)
	}
	return q.store.retry(ctx, func() error {
		pipe := q.store.rdb.TxPipeline()
		pipe.ZAdd(ctx, queueKey(j.Platform), redis.Z{Score: float64(j.Priority), Member: j.ID})
		pipe.HSet(ctx, jobKey(j.ID), "data", data)
		pipe.Expire(ctx, jobKey(j.ID), jobTTL(j.Status))
		if _, err := pipe.Exec(ctx); err != nil {
			return transportErr("redis.JobQueue.Enqueue", err)
		}
		return nil
	})
}

// Dequeue removes and returns the best job from the queue: highest priority
// first, oldest id within a priority (ULIDs sort by creation time). The ZREM
// is the atomic claim; losing the race returns (nil, nil). Never blocks.
func (q *JobQueue) Dequeue(ctx context.Context, queue string) (*domain.Job, error) {
	top, err := q.store.rdb.ZRevRangeWithScores(ctx, queueKey(queue), 0, 0).Result()
	if err != nil {
		return nil, transportErr("redis.JobQueue.Dequeue", err)
	}
	if len(top) == 0 {
		return nil, nil
	}
	score := fmt.Sprintf("%v", top[0].Score)
	ids, err := q.store.rdb.ZRangeByScore(ctx, queueKey(queue), &redis.ZRangeBy{
		Min: score, Max: score, Offset: 0, Count: 1,
	}).Result()
	if err != nil {
		return nil, transportErr("redis.JobQueue.Dequeue", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	removed, err := q.store.rdb.ZRem(ctx, queueKey(queue), ids[0]).Result()
	if err != nil {
		return nil, transportErr("redis.JobQueue.Dequeue", err)
	}
	if removed == 0 {
		// Another worker claimed it first.
		return nil, nil
	}
	return q.Get(ctx, ids[0])
}

// Get fetches a job record; (nil, nil) when absent or expired.
func (q *JobQueue) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	var data string
	err := q.store.retry(ctx, func() error {
		res, err := q.store.rdb.HGet(ctx, jobKey(jobID), "data").Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return err
			}
			return transportErr("redis.JobQueue.Get", err)
		}
		data = res
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var j domain.Job
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("op=redis.JobQueue.Get: %w", err)
	}
	return &j, nil
}

// Update rewrites the job record and refreshes the TTL for its status.
func (q *JobQueue) Update(ctx context.Context, j domain.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("op=redis.JobQueue.Update: %w", err)
	}
	return q.store.retry(ctx, func() error {
		pipe := q.store.rdb.TxPipeline()
		pipe.HSet(ctx, jobKey(j.ID), "data", data)
		pipe.Expire(ctx, jobKey(j.ID), jobTTL(j.Status))
		if _, err := pipe.Exec(ctx); err != nil {
			return transportErr("redis.JobQueue.Update", err)
		}
		return nil
	})
}

// Delete removes the job from its platform queue and deletes the record.
func (q *JobQueue) Delete(ctx context.Context, jobID string) error {
	j, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}
	return q.store.retry(ctx, func() error {
		pipe := q.store.rdb.TxPipeline()
		if j != nil && j.Platform != "" {
			pipe.ZRem(ctx, queueKey(j.Platform), jobID)
		}
		pipe.Del(ctx, jobKey(jobID))
		if _, err := pipe.Exec(ctx); err != nil {
			return transportErr("redis.JobQueue.Delete", err)
		}
		return nil
	})
}

// QueueLength returns the number of queued jobs.
func (q *JobQueue) QueueLength(ctx context.Context, queue string) (int64, error) {
	var n int64
	err := q.store.retry(ctx, func() error {
		res, err := q.store.rdb.ZCard(ctx, queueKey(queue)).Result()
		if err != nil {
			return transportErr("redis.JobQueue.QueueLength", err)
		}
		n = res
		return nil
	})
	return n, err
}

// QueuedJobs returns up to limit queued jobs in dequeue order. Records that
// expired out from under their queue entry are skipped.
func (q *JobQueue) QueuedJobs(ctx context.Context, queue string, limit int64) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := q.store.rdb.ZRevRange(ctx, queueKey(queue), 0, limit-1).Result()
	if err != nil {
		return nil, transportErr("redis.JobQueue.QueuedJobs", err)
	}
	jobs := make([]domain.Job, 0, len(ids))
	for _, id := range ids {
		j, err := q.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if j != nil {
			jobs = append(jobs, *j)
		}
	}
	return jobs, nil
}

// ClearQueue removes all queued ids and their records, returning the count.
func (q *JobQueue) ClearQueue(ctx context.Context, queue string) (int64, error) {
	ids, err := q.store.rdb.ZRange(ctx, queueKey(queue), 0, -1).Result()
	if err != nil {
		return 0, transportErr("redis.JobQueue.ClearQueue", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	pipe := q.store.rdb.TxPipeline()
	pipe.Del(ctx, queueKey(queue))
	for _, id := range ids {
		pipe.Del(ctx, jobKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, transportErr("redis.JobQueue.ClearQueue", err)
	}
	return int64(len(ids)), nil
}
