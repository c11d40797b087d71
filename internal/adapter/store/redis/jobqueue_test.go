package redis

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStoreWithClient(rdb), mr
}

func pendingJob(platform string, priority int) domain.Job {
	return domain.Job{
		ID:         domain.NewJobID(),
		WorkflowID: platform + "-update-v2",
		Platform:   platform,
		Priority:   priority,
		Status:     domain.JobPending,
		CreatedAt:  time.Now(),
	}
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	q := NewJobQueue(store)
	ctx := t.Context()

	job := pendingJob("coupang", domain.PriorityDefault)
	job.Params = map[string]any{"limit": float64(500)}
	require.NoError(t, q.Enqueue(ctx, job))

	length, err := q.QueueLength(ctx, "coupang")
	require.NoError(t, err)
	require.EqualValues(t, 1, length)

	got, err := q.Dequeue(ctx, "coupang")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, job.ID, got.ID)
	require.Equal(t, job.Params, got.Params)

	// Queue entry is consumed.
	length, err = q.QueueLength(ctx, "coupang")
	require.NoError(t, err)
	require.Zero(t, length)

	// Record survives dequeue.
	rec, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestDequeueEmptyQueue(t *testing.T) {
	store, _ := newTestStore(t)
	q := NewJobQueue(store)

	got, err := q.Dequeue(t.Context(), "coupang")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDequeuePriorityThenFIFO(t *testing.T) {
	store, _ := newTestStore(t)
	q := NewJobQueue(store)
	ctx := t.Context()

	lowFirst := pendingJob("coupang", domain.PriorityLow)
	defOld := pendingJob("coupang", domain.PriorityDefault)
	defNew := pendingJob("coupang", domain.PriorityDefault)
	high := pendingJob("coupang", domain.PriorityHigh)

	for _, j := range []domain.Job{lowFirst, defOld, defNew, high} {
		require.NoError(t, q.Enqueue(ctx, j))
	}

	var order []string
	for {
		j, err := q.Dequeue(ctx, "coupang")
		require.NoError(t, err)
		if j == nil {
			break
		}
		order = append(order, j.ID)
	}
	// Highest priority first, then FIFO within equal priority (job ids are
	// ULIDs, so the older id sorts first).
	require.Equal(t, []string{high.ID, defOld.ID, defNew.ID, lowFirst.ID}, order)
}

func TestDequeueLostRaceReturnsNil(t *testing.T) {
	store, _ := newTestStore(t)
	q := NewJobQueue(store)
	ctx := t.Context()

	job := pendingJob("coupang", domain.PriorityDefault)
	require.NoError(t, q.Enqueue(ctx, job))

	// Another worker drains the queue out from under this one.
	require.NoError(t, store.rdb.ZRem(ctx, queueKey("coupang"), job.ID).Err())

	got, err := q.Dequeue(ctx, "coupang")
	require.NoError(t, err)
	require.Nil(t, got)

	// A second dequeue on the now-empty queue also reports none.
	got, err = q.Dequeue(ctx, "coupang")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestEnqueueValidation(t *testing.T) {
	store, _ := newTestStore(t)
	q := NewJobQueue(store)
	ctx := t.Context()

	err := q.Enqueue(ctx, domain.Job{ID: "x", Status: domain.JobPending})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	err = q.Enqueue(ctx, domain.Job{Platform: "coupang", Status: domain.JobPending})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestUpdateRefreshesTTLByStatus(t *testing.T) {
	store, mr := newTestStore(t)
	q := NewJobQueue(store)
	ctx := t.Context()

	job := pendingJob("coupang", domain.PriorityDefault)
	require.NoError(t, q.Enqueue(ctx, job))
	require.Equal(t, ttlPending, mr.TTL(jobKey(job.ID)))

	job.Status = domain.JobRunning
	require.NoError(t, q.Update(ctx, job))
	require.Equal(t, ttlRunning, mr.TTL(jobKey(job.ID)))

	job.Status = domain.JobCompleted
	require.NoError(t, q.Update(ctx, job))
	require.Equal(t, ttlTerminal, mr.TTL(jobKey(job.ID)))
}

func TestGetMissingJob(t *testing.T) {
	store, _ := newTestStore(t)
	q := NewJobQueue(store)

	got, err := q.Get(t.Context(), "nope")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDeleteRemovesQueueEntryAndRecord(t *testing.T) {
	store, _ := newTestStore(t)
	q := NewJobQueue(store)
	ctx := t.Context()

	job := pendingJob("coupang", domain.PriorityDefault)
	require.NoError(t, q.Enqueue(ctx, job))
	require.NoError(t, q.Delete(ctx, job.ID))

	length, err := q.QueueLength(ctx, "coupang")
	require.NoError(t, err)
	require.Zero(t, length)

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestQueuedJobsOrderAndLimit(t *testing.T) {
	store, _ := newTestStore(t)
	q := NewJobQueue(store)
	ctx := t.Context()

	low := pendingJob("coupang", domain.PriorityLow)
	high := pendingJob("coupang", domain.PriorityHigh)
	require.NoError(t, q.Enqueue(ctx, low))
	require.NoError(t, q.Enqueue(ctx, high))

	jobs, err := q.QueuedJobs(ctx, "coupang", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, high.ID, jobs[0].ID)

	jobs, err = q.QueuedJobs(ctx, "coupang", 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestClearQueue(t *testing.T) {
	store, _ := newTestStore(t)
	q := NewJobQueue(store)
	ctx := t.Context()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(ctx, pendingJob("coupang", domain.PriorityDefault)))
	}
	count, err := q.ClearQueue(ctx, "coupang")
	require.NoError(t, err)
	require.EqualValues(t, 3, count)

	count, err = q.ClearQueue(ctx, "coupang")
	require.NoError(t, err)
	require.Zero(t, count)
}
