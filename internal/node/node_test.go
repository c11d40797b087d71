package node

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
	"github.com/fairyhunter13/scan-orchestrator/internal/workflow"
)

// Shared fakes for the node strategy tests.

type fakeProductRepo struct {
	mu           sync.Mutex
	products     []domain.Product
	upserts      []domain.Product
	upsertErrFor map[string]error
	getErr       error
}

func (r *fakeProductRepo) Upsert(_ context.Context, p domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.upsertErrFor[p.URL]; ok {
		return err
	}
	r.upserts = append(r.upserts, p)
	return nil
}

func (r *fakeProductRepo) Get(_ context.Context, id int64) (*domain.Product, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	for _, p := range r.products {
		if p.ID == id {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeProductRepo) ListTracked(_ context.Context, platform string, _ domain.SaleStatus, limit, offset int) ([]domain.Product, error) {
	var tracked []domain.Product
	for _, p := range r.products {
		if p.Platform == platform {
			tracked = append(tracked, p)
		}
	}
	if offset >= len(tracked) {
		return nil, nil
	}
	tracked = tracked[offset:]
	if len(tracked) > limit {
		tracked = tracked[:limit]
	}
	return tracked, nil
}

// fakeScraper maps URL to a canned result; unknown URLs report not_found.
type fakeScraper struct {
	mu      sync.Mutex
	results map[string]domain.ScrapeResult
	errFor  map[string]error
	calls   []string
}

func (s *fakeScraper) Scrape(_ context.Context, _ string, url string) (domain.ScrapeResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, url)
	s.mu.Unlock()
	if err, ok := s.errFor[url]; ok {
		return domain.ScrapeResult{}, err
	}
	if res, ok := s.results[url]; ok {
		return res, nil
	}
	return domain.ScrapeResult{Status: domain.ScrapeNotFound}, nil
}

type fakeChecker struct {
	statuses map[string]domain.LinkStatus
	err      error
}

func (c *fakeChecker) Check(_ context.Context, url string) (domain.LinkStatus, error) {
	if c.err != nil {
		return domain.LinkStatus{}, c.err
	}
	if st, ok := c.statuses[url]; ok {
		return st, nil
	}
	return domain.LinkStatus{URL: url, StatusCode: 200, OK: true}, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	titles   []string
	messages []string
	err      error
}

func (n *fakeNotifier) Notify(_ context.Context, title, message string) error {
	if n.err != nil {
		return n.err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	n.messages = append(n.messages, message)
	return nil
}

type enqueueOnlyQueue struct {
	mu       sync.Mutex
	enqueued []domain.Job
	err      error
}

func (q *enqueueOnlyQueue) Enqueue(_ context.Context, j domain.Job) error {
	if q.err != nil {
		return q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, j)
	return nil
}

func (q *enqueueOnlyQueue) Dequeue(context.Context, string) (*domain.Job, error) { return nil, nil }
func (q *enqueueOnlyQueue) Get(context.Context, string) (*domain.Job, error)     { return nil, nil }
func (q *enqueueOnlyQueue) Update(context.Context, domain.Job) error             { return nil }
func (q *enqueueOnlyQueue) Delete(context.Context, string) error                 { return nil }
func (q *enqueueOnlyQueue) QueueLength(context.Context, string) (int64, error)   { return 0, nil }
func (q *enqueueOnlyQueue) QueuedJobs(context.Context, string, int64) ([]domain.Job, error) {
	return nil, nil
}
func (q *enqueueOnlyQueue) ClearQueue(context.Context, string) (int64, error) { return 0, nil }

// allowAll is a RateLimiter that admits everything and counts calls.
type allowAll struct {
	mu    sync.Mutex
	calls int
}

func (l *allowAll) Allow(context.Context, string, int64) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return true, 0, nil
}

func testNodeContext(t *testing.T, config, params map[string]any) *workflow.NodeContext {
	t.Helper()
	return &workflow.NodeContext{
		JobID:      domain.NewJobID(),
		WorkflowID: "coupang-update-v2",
		NodeID:     "n",
		Platform:   "coupang",
		Config:     config,
		Params:     params,
		Shared:     workflow.NewSharedState().ForJob("test"),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}
