// Package domain defines the core entities and ports of the scan orchestrator.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrTransport       = errors.New("transport error")
	ErrDeadlock        = errors.New("workflow deadlock")
	ErrKilled          = errors.New("worker restart requested")
	ErrInternal        = errors.New("internal error")
)

// JobStatus enumerates the job lifecycle states.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether s is a terminal lifecycle state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Job priorities. Higher runs first within a platform queue.
const (
	PriorityLow     = 1
	PriorityDefault = 5
	PriorityHigh    = 10
)

// SaleStatus selects which subset of products an update job refreshes.
type SaleStatus string

const (
	SaleStatusOn  SaleStatus = "on_sale"
	SaleStatusOff SaleStatus = "off_sale"
)

// JobError captures where and when a job failed.
type JobError struct {
	Message   string    `json:"message"`
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Job is a single scheduled unit of work bound to one platform and one workflow.
// While pending it is present in exactly one platform queue; once dequeued it
// appears in no queue. Its record TTL is refreshed by status on every write.
type Job struct {
	ID          string         `json:"job_id"`
	WorkflowID  string         `json:"workflow_id"`
	Platform    string         `json:"platform"`
	Priority    int            `json:"priority"`
	Status      JobStatus      `json:"status"`
	Params      map[string]any `json:"params"`
	CurrentNode string         `json:"current_node"`
	Progress    float64        `json:"progress"`
	Result      map[string]any `json:"result"`
	Error       *JobError      `json:"error"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at"`
	Metadata    map[string]any `json:"metadata"`
}

// RunningJob is the companion record to a held platform lock.
type RunningJob struct {
	JobID      string    `json:"job_id"`
	WorkflowID string    `json:"workflow_id"`
	StartedAt  time.Time `json:"started_at"`
}

// PlatformState is the per-platform slice of scheduler state.
type PlatformState struct {
	OnSaleCounter   int       `json:"on_sale_counter"`
	LastCompletedAt time.Time `json:"last_completed_at"`
}

// Product is the scraped product record written by the result-writer node.
type Product struct {
	ID           int64
	Platform     string
	URL          string
	Name         string
	Price        int64
	Currency     string
	Available    bool
	ThumbnailURL string
	SaleStatus   SaleStatus
	ScrapedAt    time.Time
}

// ScrapeStatus classifies a scrape outcome. not_found is a business outcome,
// not an error; the job continues.
type ScrapeStatus string

const (
	ScrapeOK       ScrapeStatus = "ok"
	ScrapeNotFound ScrapeStatus = "not_found"
)

// ScrapeResult is the typed output of the injected scraper capability.
type ScrapeResult struct {
	Status  ScrapeStatus
	Product *Product
}

// LinkStatus is the outcome of one curated-surface link check.
type LinkStatus struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
	OK         bool   `json:"ok"`
	Reason     string `json:"reason"`
}

// JobEvent is a lifecycle event published to the audit stream.
type JobEvent struct {
	Type       string    `json:"type"`
	JobID      string    `json:"job_id"`
	WorkflowID string    `json:"workflow_id"`
	Platform   string    `json:"platform"`
	Status     JobStatus `json:"status"`
	At         time.Time `json:"at"`
}

// Job event types.
const (
	EventJobCreated   = "job.created"
	EventJobStarted   = "job.started"
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
	EventJobCancelled = "job.cancelled"
)

// Context is an alias so ports read cleanly; adapters pass context.Context through.
type Context = context.Context
